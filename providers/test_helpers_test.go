package providers

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

var fixedNow = time.Unix(1700000000, 0).UTC()

func fixedClock() time.Time { return fixedNow }

func fixedNonce() string { return "nonce-1" }

// parseOAuthHeader decodes an `OAuth k="v", ...` header into its parameters.
func parseOAuthHeader(t *testing.T, header string) map[string]string {
	t.Helper()
	if !strings.HasPrefix(header, "OAuth ") {
		t.Fatalf("expected an OAuth header, got %q", header)
	}
	out := map[string]string{}
	for _, part := range strings.Split(strings.TrimPrefix(header, "OAuth "), ", ") {
		key, raw, ok := strings.Cut(part, "=")
		if !ok {
			t.Fatalf("malformed header part %q", part)
		}
		value, err := url.PathUnescape(strings.Trim(raw, `"`))
		if err != nil {
			t.Fatalf("unescape %q: %v", raw, err)
		}
		out[key] = value
	}
	return out
}
