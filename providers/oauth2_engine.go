package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-shims/core"
)

type OAuth2Config struct {
	Domain       string
	ClientID     string
	ClientSecret string
	AuthorizeURL string
	TokenURL     string
	// RefreshURL defaults to TokenURL.
	RefreshURL string
	Scope      string
	// ExtraFields lists token response fields kept in the token extras.
	ExtraFields []string
	Transport   core.TransportAdapter
	Timeout     time.Duration
	Now         func() time.Time
	Logger      core.Logger
}

type OAuth2Engine struct {
	cfg       OAuth2Config
	transport core.TransportAdapter
	logger    core.Logger
}

type tokenEndpointPayload struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	HasExpiresIn bool
	ErrorCode    string
	Extras       map[string]string
}

func NewOAuth2Engine(cfg OAuth2Config) (*OAuth2Engine, error) {
	cfg.Domain = strings.TrimSpace(cfg.Domain)
	if cfg.Domain == "" {
		return nil, core.NewValidationError("providers: oauth2 domain is required", "domain")
	}
	if strings.TrimSpace(cfg.RefreshURL) == "" {
		cfg.RefreshURL = cfg.TokenURL
	}
	for field, value := range map[string]string{
		"authorize_url": cfg.AuthorizeURL,
		"token_url":     cfg.TokenURL,
		"refresh_url":   cfg.RefreshURL,
	} {
		parsed, err := url.Parse(strings.TrimSpace(value))
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return nil, core.NewValidationError("providers: oauth2 "+field+" is invalid", field)
		}
	}
	cfg.Timeout = resolveTimeout(cfg.Timeout)
	cfg.Now = resolveClock(cfg.Now)
	return &OAuth2Engine{
		cfg:       cfg,
		transport: ResolveTransport(cfg.Transport),
		logger:    resolveLogger(cfg.Logger),
	}, nil
}

func (e *OAuth2Engine) Domain() string {
	return e.cfg.Domain
}

func (e *OAuth2Engine) Begin(_ context.Context, req core.BeginAuthorizationRequest) (core.AuthorizationInfo, error) {
	if err := e.requireCredentials(); err != nil {
		return core.AuthorizationInfo{}, err
	}
	authURL, err := url.Parse(e.cfg.AuthorizeURL)
	if err != nil {
		return core.AuthorizationInfo{}, ConfigError(e.cfg.Domain, "authorize url is invalid")
	}
	query := authURL.Query()
	query.Set("client_id", e.cfg.ClientID)
	query.Set("response_type", "code")
	query.Set("redirect_uri", req.CallbackURL)
	query.Set("state", req.CorrelationID)
	if scope := strings.TrimSpace(e.cfg.Scope); scope != "" {
		query.Set("scope", scope)
	}
	authURL.RawQuery = query.Encode()
	return core.AuthorizationInfo{
		ProviderRedirectURL: authURL.String(),
		CreatedAt:           e.cfg.Now(),
	}, nil
}

func (e *OAuth2Engine) Exchange(ctx context.Context, callback core.CallbackParams, info core.AuthorizationInfo) (core.AuthorizationToken, error) {
	if err := e.requireCredentials(); err != nil {
		return core.AuthorizationToken{}, err
	}
	if denied := callback.Get("error"); denied != "" {
		return core.AuthorizationToken{}, core.NewAuthorizationError("providers: "+e.cfg.Domain+": user did not grant access", map[string]any{
			"domain":         e.cfg.Domain,
			"provider_error": denied,
		})
	}
	code := strings.TrimSpace(callback.Code)
	if code == "" {
		return core.AuthorizationToken{}, core.NewValidationError("authorization code is required", "code")
	}
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", e.cfg.ClientID)

	payload, err := e.fetchToken(ctx, "token", e.cfg.TokenURL, form)
	if err != nil {
		return core.AuthorizationToken{}, err
	}
	logDebug(ctx, e.logger, "oauth2 code exchanged", "domain", e.cfg.Domain, "correlation_id", info.CorrelationID)
	return e.tokenFromPayload(info.Username, info.Domain, payload, nil)
}

// Refresh mints a new token from token's refresh token; token itself is left untouched.
func (e *OAuth2Engine) Refresh(ctx context.Context, token core.AuthorizationToken) (core.AuthorizationToken, error) {
	if err := e.requireCredentials(); err != nil {
		return core.AuthorizationToken{}, err
	}
	if strings.TrimSpace(token.RefreshToken) == "" {
		return core.AuthorizationToken{}, core.NewValidationError("authorization token has no refresh token", "refresh_token")
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", token.RefreshToken)

	payload, err := e.fetchToken(ctx, "refresh", e.cfg.RefreshURL, form)
	if err != nil {
		return core.AuthorizationToken{}, err
	}
	previous, _ := token.Extras.StringMap()
	logDebug(ctx, e.logger, "oauth2 token refreshed", "domain", e.cfg.Domain, "username", token.Username)
	return e.tokenFromPayload(token.Username, token.Domain, payload, previous)
}

// AuthorizeRequest attaches the bearer access token to a resource request.
func (e *OAuth2Engine) AuthorizeRequest(req *core.TransportRequest, token core.AuthorizationToken) error {
	if req == nil {
		return core.NewValidationError("providers: request to authorize is required", "request")
	}
	if req.Headers == nil {
		req.Headers = map[string]string{}
	}
	req.Headers["Authorization"] = "Bearer " + token.AccessToken
	return nil
}

func (e *OAuth2Engine) fetchToken(ctx context.Context, operation string, endpoint string, form url.Values) (tokenEndpointPayload, error) {
	res, err := e.transport.Do(ctx, core.TransportRequest{
		Method: http.MethodPost,
		URL:    endpoint,
		Headers: map[string]string{
			"Authorization": "Basic " + e.cfg.ClientSecret,
			"Content-Type":  "application/x-www-form-urlencoded",
			"Accept":        "application/json",
		},
		Body:    []byte(form.Encode()),
		Timeout: e.cfg.Timeout,
	})
	if err != nil {
		return tokenEndpointPayload{}, providerWrapError(err, e.cfg.Domain, operation+" request failed", map[string]any{"operation": operation})
	}
	payload, parseErr := parseTokenPayloadJSON(res.Body, e.cfg.ExtraFields)
	if res.StatusCode != http.StatusOK {
		metadata := map[string]any{"operation": operation, "status_code": res.StatusCode}
		if parseErr == nil && payload.ErrorCode != "" {
			metadata["provider_error"] = payload.ErrorCode
		}
		return tokenEndpointPayload{}, providerError(e.cfg.Domain, operation+" returned an unexpected status", metadata)
	}
	if parseErr != nil {
		return tokenEndpointPayload{}, providerWrapError(parseErr, e.cfg.Domain, operation+" response is not valid json", map[string]any{"operation": operation})
	}
	switch {
	case payload.AccessToken == "":
		return tokenEndpointPayload{}, providerError(e.cfg.Domain, operation+" response is missing access_token", nil)
	case payload.RefreshToken == "":
		return tokenEndpointPayload{}, providerError(e.cfg.Domain, operation+" response is missing refresh_token", nil)
	case !payload.HasExpiresIn:
		return tokenEndpointPayload{}, providerError(e.cfg.Domain, operation+" response is missing expires_in", nil)
	}
	return payload, nil
}

func (e *OAuth2Engine) tokenFromPayload(
	username string,
	domain string,
	payload tokenEndpointPayload,
	previousExtras map[string]string,
) (core.AuthorizationToken, error) {
	now := e.cfg.Now()
	merged := map[string]string{}
	for key, value := range previousExtras {
		merged[key] = value
	}
	for key, value := range payload.Extras {
		merged[key] = value
	}
	var extras core.OpaqueState
	if len(merged) > 0 {
		encoded, err := core.NewOpaqueState(merged)
		if err != nil {
			return core.AuthorizationToken{}, err
		}
		extras = encoded
	}
	// One second of slack so the token is treated as expired before the provider does.
	return core.AuthorizationToken{
		Username:     username,
		Domain:       domain,
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    now.Add(time.Duration(payload.ExpiresIn-1) * time.Second),
		Extras:       extras,
		CreatedAt:    now,
	}, nil
}

func (e *OAuth2Engine) requireCredentials() error {
	if strings.TrimSpace(e.cfg.ClientID) == "" || strings.TrimSpace(e.cfg.ClientSecret) == "" {
		return ConfigError(e.cfg.Domain, "client id and secret are not configured")
	}
	return nil
}

func parseTokenPayloadJSON(body []byte, extraFields []string) (tokenEndpointPayload, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return tokenEndpointPayload{}, fmt.Errorf("empty payload")
	}
	decoder := json.NewDecoder(strings.NewReader(trimmed))
	decoder.UseNumber()
	var decoded map[string]any
	if err := decoder.Decode(&decoded); err != nil {
		return tokenEndpointPayload{}, err
	}
	payload := tokenEndpointPayload{
		AccessToken:  readAnyString(decoded["access_token"]),
		RefreshToken: readAnyString(decoded["refresh_token"]),
		ErrorCode:    readAnyString(decoded["error"]),
		Extras:       map[string]string{},
	}
	if raw, ok := decoded["expires_in"]; ok {
		payload.ExpiresIn, payload.HasExpiresIn = readAnyInt64(raw)
	}
	for _, field := range extraFields {
		if value := readAnyString(decoded[field]); value != "" {
			payload.Extras[field] = value
		}
	}
	return payload, nil
}

func readAnyString(value any) string {
	switch typed := value.(type) {
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}

func readAnyInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case json.Number:
		if parsed, err := typed.Int64(); err == nil {
			return parsed, true
		}
		if parsed, err := typed.Float64(); err == nil && !math.IsNaN(parsed) {
			return int64(parsed), true
		}
	case string:
		if parsed, err := strconv.ParseInt(strings.TrimSpace(typed), 10, 64); err == nil {
			return parsed, true
		}
	case float64:
		return int64(typed), true
	}
	return 0, false
}
