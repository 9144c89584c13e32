package providers

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

const (
	OAuth1SignatureMethod = "HMAC-SHA1"
	OAuth1Version         = "1.0"
)

// PercentEncode applies RFC 3986 encoding; only A-Z a-z 0-9 - . _ ~ pass through.
func PercentEncode(value string) string {
	var builder strings.Builder
	builder.Grow(len(value))
	for i := 0; i < len(value); i++ {
		c := value[i]
		if isUnreserved(c) {
			builder.WriteByte(c)
			continue
		}
		builder.WriteByte('%')
		builder.WriteByte("0123456789ABCDEF"[c>>4])
		builder.WriteByte("0123456789ABCDEF"[c&15])
	}
	return builder.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'A' <= c && c <= 'Z', 'a' <= c && c <= 'z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '.', c == '_', c == '~':
		return true
	}
	return false
}

// NormalizeParameters encodes every pair, sorts by encoded key then encoded
// value and joins them as k=v&k=v.
func NormalizeParameters(params map[string]string) string {
	values := make(url.Values, len(params))
	for key, value := range params {
		values.Set(key, value)
	}
	return NormalizeValues(values)
}

// NormalizeValues is NormalizeParameters for repeated keys; every value of a
// key takes part.
func NormalizeValues(values url.Values) string {
	type pair struct{ key, value string }
	pairs := make([]pair, 0, len(values))
	for key, items := range values {
		encodedKey := PercentEncode(key)
		for _, item := range items {
			pairs = append(pairs, pair{key: encodedKey, value: PercentEncode(item)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].key != pairs[j].key {
			return pairs[i].key < pairs[j].key
		}
		return pairs[i].value < pairs[j].value
	})
	out := make([]string, len(pairs))
	for i, p := range pairs {
		out[i] = p.key + "=" + p.value
	}
	return strings.Join(out, "&")
}

// BaseEndpoint strips the query and fragment and lowercases scheme and host.
func BaseEndpoint(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.RawQuery = ""
	parsed.Fragment = ""
	parsed.RawFragment = ""
	return parsed.String(), nil
}

func SignatureBaseString(method string, endpoint string, params map[string]string) string {
	return baseString(method, endpoint, NormalizeParameters(params))
}

func SignatureBaseStringValues(method string, endpoint string, values url.Values) string {
	return baseString(method, endpoint, NormalizeValues(values))
}

func baseString(method string, endpoint string, normalized string) string {
	return strings.ToUpper(strings.TrimSpace(method)) +
		"&" + PercentEncode(endpoint) +
		"&" + PercentEncode(normalized)
}

func HMACSHA1Signature(baseString string, signingKey string) string {
	mac := hmac.New(sha1.New, []byte(signingKey))
	mac.Write([]byte(baseString))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SigningKey joins the encoded consumer and token secrets. An empty token
// secret still leaves the trailing separator.
func SigningKey(consumerSecret string, tokenSecret string) string {
	return PercentEncode(consumerSecret) + "&" + PercentEncode(tokenSecret)
}

// AuthorizationHeader renders the oauth_* parameters as an OAuth header value.
func AuthorizationHeader(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for key := range params {
		if strings.HasPrefix(key, "oauth_") {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, PercentEncode(key)+`="`+PercentEncode(params[key])+`"`)
	}
	return "OAuth " + strings.Join(parts, ", ")
}
