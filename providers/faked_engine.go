package providers

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-shims/core"
)

// FakedAccessToken fills the token fields of partners that authenticate the
// server itself rather than the user.
const FakedAccessToken = "unused"

// PreAuthorizeFunc prepares partner-side state, such as registered user and
// device ids, before the user is sent back to the callback.
type PreAuthorizeFunc func(ctx context.Context, req core.BeginAuthorizationRequest) (map[string]string, error)

type FakedConfig struct {
	Domain       string
	PreAuthorize PreAuthorizeFunc
	Now          func() time.Time
	Logger       core.Logger
}

// FakedEngine completes the handshake without asking the user anything: the
// redirect points straight at the callback and the token carries the
// pre-authorization state as extras.
type FakedEngine struct {
	cfg    FakedConfig
	logger core.Logger
}

func NewFakedEngine(cfg FakedConfig) (*FakedEngine, error) {
	cfg.Domain = strings.TrimSpace(cfg.Domain)
	if cfg.Domain == "" {
		return nil, core.NewValidationError("providers: faked engine domain is required", "domain")
	}
	cfg.Now = resolveClock(cfg.Now)
	return &FakedEngine{cfg: cfg, logger: resolveLogger(cfg.Logger)}, nil
}

func (e *FakedEngine) Domain() string {
	return e.cfg.Domain
}

func (e *FakedEngine) Begin(ctx context.Context, req core.BeginAuthorizationRequest) (core.AuthorizationInfo, error) {
	info := core.AuthorizationInfo{
		ProviderRedirectURL: req.CallbackURL,
		CreatedAt:           e.cfg.Now(),
	}
	if e.cfg.PreAuthorize == nil {
		return info, nil
	}
	values, err := e.cfg.PreAuthorize(ctx, req)
	if err != nil {
		return core.AuthorizationInfo{}, err
	}
	state, err := core.NewOpaqueState(values)
	if err != nil {
		return core.AuthorizationInfo{}, err
	}
	info.PreAuthState = state
	logDebug(ctx, e.logger, "faked pre-authorization prepared",
		"domain", e.cfg.Domain,
		"correlation_id", req.CorrelationID,
		"entries", len(values),
	)
	return info, nil
}

func (e *FakedEngine) Exchange(_ context.Context, _ core.CallbackParams, info core.AuthorizationInfo) (core.AuthorizationToken, error) {
	return core.AuthorizationToken{
		Username:          info.Username,
		Domain:            info.Domain,
		AccessToken:       FakedAccessToken,
		AccessTokenSecret: FakedAccessToken,
		ExpiresAt:         core.NeverExpires,
		Extras:            info.PreAuthState.Clone(),
		CreatedAt:         e.cfg.Now(),
	}, nil
}

func (e *FakedEngine) Refresh(context.Context, core.AuthorizationToken) (core.AuthorizationToken, error) {
	return core.AuthorizationToken{}, core.NewUnsupportedError("providers: " + e.cfg.Domain + ": faked tokens cannot be refreshed")
}
