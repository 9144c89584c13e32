package providers

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-shims/core"
	"github.com/google/uuid"
)

// OAuth1State names the handshake steps; it is only used for log fields.
type OAuth1State string

const (
	OAuth1StateInit                 OAuth1State = "INIT"
	OAuth1StateRequestTokenObtained OAuth1State = "REQUEST_TOKEN_OBTAINED"
	OAuth1StateRedirectIssued       OAuth1State = "REDIRECT_ISSUED"
	OAuth1StateCallbackReceived     OAuth1State = "CALLBACK_RECEIVED"
	OAuth1StateTokenExchanged       OAuth1State = "TOKEN_EXCHANGED"
)

// SignaturePlacement selects where signed resource requests carry the oauth_* parameters.
type SignaturePlacement int

const (
	SignInHeader SignaturePlacement = iota
	SignInQuery
)

type OAuth1Config struct {
	Domain          string
	ConsumerKey     string
	ConsumerSecret  string
	RequestTokenURL string
	AuthorizeURL    string
	AccessTokenURL  string
	// CallbackExtras lists callback query parameters copied into the token extras.
	CallbackExtras []string
	Transport      core.TransportAdapter
	Timeout        time.Duration
	Now            func() time.Time
	Nonce          func() string
	Logger         core.Logger
}

type OAuth1Engine struct {
	cfg       OAuth1Config
	transport core.TransportAdapter
	logger    core.Logger
}

type oauth1PreAuthState struct {
	Token  string `json:"token"`
	Secret string `json:"secret"`
}

func NewOAuth1Engine(cfg OAuth1Config) (*OAuth1Engine, error) {
	cfg.Domain = strings.TrimSpace(cfg.Domain)
	if cfg.Domain == "" {
		return nil, core.NewValidationError("providers: oauth1 domain is required", "domain")
	}
	for field, value := range map[string]string{
		"request_token_url": cfg.RequestTokenURL,
		"authorize_url":     cfg.AuthorizeURL,
		"access_token_url":  cfg.AccessTokenURL,
	} {
		parsed, err := url.Parse(strings.TrimSpace(value))
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, core.NewValidationError("providers: oauth1 "+field+" is invalid", field)
		}
	}
	cfg.Timeout = resolveTimeout(cfg.Timeout)
	cfg.Now = resolveClock(cfg.Now)
	if cfg.Nonce == nil {
		cfg.Nonce = uuid.NewString
	}
	return &OAuth1Engine{
		cfg:       cfg,
		transport: ResolveTransport(cfg.Transport),
		logger:    resolveLogger(cfg.Logger),
	}, nil
}

func (e *OAuth1Engine) Domain() string {
	return e.cfg.Domain
}

// Begin obtains a request token and points the user at the provider's consent page.
func (e *OAuth1Engine) Begin(ctx context.Context, req core.BeginAuthorizationRequest) (core.AuthorizationInfo, error) {
	if err := e.requireCredentials(); err != nil {
		return core.AuthorizationInfo{}, err
	}
	e.logState(ctx, OAuth1StateInit, req.CorrelationID)

	params := e.protocolParams()
	params["oauth_callback"] = req.CallbackURL
	values, err := e.post(ctx, "request_token", e.cfg.RequestTokenURL, params, SigningKey(e.cfg.ConsumerSecret, ""))
	if err != nil {
		return core.AuthorizationInfo{}, err
	}
	token, secret := values.Get("oauth_token"), values.Get("oauth_token_secret")
	if token == "" || secret == "" {
		return core.AuthorizationInfo{}, providerError(e.cfg.Domain, "request token response is missing oauth_token or oauth_token_secret", nil)
	}
	e.logState(ctx, OAuth1StateRequestTokenObtained, req.CorrelationID)

	redirect, err := url.Parse(e.cfg.AuthorizeURL)
	if err != nil {
		return core.AuthorizationInfo{}, ConfigError(e.cfg.Domain, "authorize url is invalid")
	}
	query := redirect.Query()
	query.Set("oauth_token", token)
	redirect.RawQuery = query.Encode()

	state, err := core.NewOpaqueState(oauth1PreAuthState{Token: token, Secret: secret})
	if err != nil {
		return core.AuthorizationInfo{}, err
	}
	e.logState(ctx, OAuth1StateRedirectIssued, req.CorrelationID)
	return core.AuthorizationInfo{
		ProviderRedirectURL: redirect.String(),
		PreAuthState:        state,
		CreatedAt:           e.cfg.Now(),
	}, nil
}

// Exchange trades the authorized request token for a permanent access token.
func (e *OAuth1Engine) Exchange(ctx context.Context, callback core.CallbackParams, info core.AuthorizationInfo) (core.AuthorizationToken, error) {
	if err := e.requireCredentials(); err != nil {
		return core.AuthorizationToken{}, err
	}
	var pre oauth1PreAuthState
	if err := info.PreAuthState.Decode(&pre); err != nil {
		return core.AuthorizationToken{}, core.NewValidationError("authorization info carries an unreadable request token", "pre_auth_state")
	}
	if pre.Token == "" || pre.Secret == "" {
		return core.AuthorizationToken{}, core.NewValidationError("authorization info is missing the request token", "pre_auth_state")
	}
	if callback.OAuthToken != "" && callback.OAuthToken != pre.Token {
		return core.AuthorizationToken{}, core.NewValidationError("callback oauth_token does not match the request token", "oauth_token")
	}
	e.logState(ctx, OAuth1StateCallbackReceived, info.CorrelationID)

	params := e.protocolParams()
	params["oauth_token"] = pre.Token
	if callback.OAuthVerifier != "" {
		params["oauth_verifier"] = callback.OAuthVerifier
	}
	// The exchange is keyed by the request token secret alone.
	values, err := e.post(ctx, "access_token", e.cfg.AccessTokenURL, params, PercentEncode(pre.Secret)+"&")
	if err != nil {
		return core.AuthorizationToken{}, err
	}
	token, secret := values.Get("oauth_token"), values.Get("oauth_token_secret")
	if token == "" || secret == "" {
		return core.AuthorizationToken{}, providerError(e.cfg.Domain, "access token response is missing oauth_token or oauth_token_secret", nil)
	}

	extras := map[string]string{}
	for key := range values {
		if key == "oauth_token" || key == "oauth_token_secret" {
			continue
		}
		extras[key] = values.Get(key)
	}
	for _, name := range e.cfg.CallbackExtras {
		if value := callback.Get(name); value != "" {
			extras[name] = value
		}
	}
	var extrasState core.OpaqueState
	if len(extras) > 0 {
		extrasState, err = core.NewOpaqueState(extras)
		if err != nil {
			return core.AuthorizationToken{}, err
		}
	}
	e.logState(ctx, OAuth1StateTokenExchanged, info.CorrelationID)
	return core.AuthorizationToken{
		Username:          info.Username,
		Domain:            info.Domain,
		AccessToken:       token,
		AccessTokenSecret: secret,
		ExpiresAt:         core.NeverExpires,
		Extras:            extrasState,
		CreatedAt:         e.cfg.Now(),
	}, nil
}

func (e *OAuth1Engine) Refresh(context.Context, core.AuthorizationToken) (core.AuthorizationToken, error) {
	return core.AuthorizationToken{}, core.NewUnsupportedError("providers: " + e.cfg.Domain + ": oauth1 tokens cannot be refreshed")
}

// SignRequest signs a resource request with the user's access token. Query
// parameters already present on the request take part in the signature.
func (e *OAuth1Engine) SignRequest(req *core.TransportRequest, token core.AuthorizationToken, placement SignaturePlacement) error {
	if req == nil {
		return core.NewValidationError("providers: request to sign is required", "request")
	}
	if err := e.requireCredentials(); err != nil {
		return err
	}
	parsed, err := url.Parse(strings.TrimSpace(req.URL))
	if err != nil {
		return core.NewValidationError("providers: request url is invalid", "url")
	}
	endpoint, err := BaseEndpoint(req.URL)
	if err != nil {
		return core.NewValidationError("providers: request url is invalid", "url")
	}

	signed := parsed.Query()
	for key, value := range req.Query {
		signed.Set(key, value)
	}
	oauth := e.protocolParams()
	oauth["oauth_token"] = token.AccessToken
	for key, value := range oauth {
		signed.Set(key, value)
	}
	method := req.Method
	if strings.TrimSpace(method) == "" {
		method = http.MethodGet
	}
	oauth["oauth_signature"] = HMACSHA1Signature(
		SignatureBaseStringValues(method, endpoint, signed),
		SigningKey(e.cfg.ConsumerSecret, token.AccessTokenSecret),
	)

	switch placement {
	case SignInQuery:
		if req.Query == nil {
			req.Query = map[string]string{}
		}
		for key, value := range oauth {
			req.Query[key] = value
		}
	default:
		if req.Headers == nil {
			req.Headers = map[string]string{}
		}
		req.Headers["Authorization"] = AuthorizationHeader(oauth)
	}
	return nil
}

func (e *OAuth1Engine) protocolParams() map[string]string {
	return map[string]string{
		"oauth_consumer_key":     e.cfg.ConsumerKey,
		"oauth_nonce":            e.cfg.Nonce(),
		"oauth_signature_method": OAuth1SignatureMethod,
		"oauth_timestamp":        strconv.FormatInt(e.cfg.Now().Unix(), 10),
		"oauth_version":          OAuth1Version,
	}
}

func (e *OAuth1Engine) post(
	ctx context.Context,
	operation string,
	endpointURL string,
	params map[string]string,
	signingKey string,
) (url.Values, error) {
	endpoint, err := BaseEndpoint(endpointURL)
	if err != nil {
		return nil, ConfigError(e.cfg.Domain, operation+" url is invalid")
	}
	params["oauth_signature"] = HMACSHA1Signature(SignatureBaseString(http.MethodPost, endpoint, params), signingKey)

	res, err := e.transport.Do(ctx, core.TransportRequest{
		Method: http.MethodPost,
		URL:    endpointURL,
		Headers: map[string]string{
			"Authorization": AuthorizationHeader(params),
			"Content-Type":  "application/x-www-form-urlencoded",
		},
		Timeout: e.cfg.Timeout,
	})
	if err != nil {
		return nil, providerWrapError(err, e.cfg.Domain, operation+" request failed", map[string]any{"operation": operation})
	}
	if err := ExpectStatus(e.cfg.Domain, operation, res); err != nil {
		return nil, err
	}
	values, err := url.ParseQuery(strings.TrimSpace(string(res.Body)))
	if err != nil {
		return nil, providerWrapError(err, e.cfg.Domain, operation+" response is not form encoded", map[string]any{"operation": operation})
	}
	return values, nil
}

func (e *OAuth1Engine) requireCredentials() error {
	if strings.TrimSpace(e.cfg.ConsumerKey) == "" || strings.TrimSpace(e.cfg.ConsumerSecret) == "" {
		return ConfigError(e.cfg.Domain, "consumer key and secret are not configured")
	}
	return nil
}

func (e *OAuth1Engine) logState(ctx context.Context, state OAuth1State, correlationID string) {
	logDebug(ctx, e.logger, "oauth1 handshake step",
		"domain", e.cfg.Domain,
		"state", string(state),
		"correlation_id", correlationID,
	)
}
