package core

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const replayKeyPrefix = "shims:authorize:"

// InitiateAuthorization starts a handshake unless the user already holds a live token.
func (s *Service) InitiateAuthorization(
	ctx context.Context,
	req InitiateAuthorizationRequest,
) (result InitiateAuthorizationResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"username": strings.TrimSpace(req.Username),
		"domain":   strings.TrimSpace(req.Domain),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "initiate_authorization", err, fields)
	}()

	username := strings.TrimSpace(req.Username)
	domain := strings.TrimSpace(req.Domain)
	if username == "" {
		return InitiateAuthorizationResult{}, s.mapError(NewValidationError("username is required", "username"))
	}
	if domain == "" {
		return InitiateAuthorizationResult{}, s.mapError(NewValidationError("domain is required", "domain"))
	}

	shim, err := s.registry.Get(domain)
	if err != nil {
		return InitiateAuthorizationResult{}, s.mapError(err)
	}

	latest, found, err := s.tokenStore.Latest(ctx, username, domain)
	if err != nil {
		return InitiateAuthorizationResult{}, s.mapError(err)
	}
	if found && !latest.IsExpired(s.now()) {
		fields["already_authorized"] = true
		return InitiateAuthorizationResult{AlreadyAuthorized: true}, nil
	}

	previouslyDenied, err := s.infoStore.Exists(ctx, username, domain)
	if err != nil {
		return InitiateAuthorizationResult{}, s.mapError(err)
	}

	correlationID := strings.TrimSpace(s.idGenerator())
	if correlationID == "" {
		return InitiateAuthorizationResult{}, s.mapError(
			newShimError("correlation id generator returned an empty id", goerrors.CategoryInternal, ShimErrorInternal, nil),
		)
	}
	fields["correlation_id"] = correlationID

	callbackURL, err := buildCallbackURL(s.config.CallbackURL, correlationID)
	if err != nil {
		return InitiateAuthorizationResult{}, s.mapError(err)
	}
	clientRedirect := strings.TrimSpace(req.ClientRedirectURL)
	if clientRedirect == "" {
		clientRedirect = strings.TrimSpace(s.config.DefaultClientRedirectURL)
	}

	info, err := shim.AuthorizationEngine().Begin(ctx, BeginAuthorizationRequest{
		CorrelationID:     correlationID,
		Username:          username,
		Domain:            domain,
		CallbackURL:       callbackURL,
		ClientRedirectURL: clientRedirect,
		PreviouslyDenied:  previouslyDenied,
	})
	if err != nil {
		return InitiateAuthorizationResult{}, s.mapError(err)
	}

	info.CorrelationID = correlationID
	info.Username = username
	info.Domain = domain
	info.ClientRedirectURL = clientRedirect
	info.PreviouslyDenied = previouslyDenied
	if info.CreatedAt.IsZero() {
		info.CreatedAt = s.now()
	}
	if err := s.infoStore.Save(ctx, info); err != nil {
		if errors.Is(err, ErrDuplicateCorrelationID) {
			return InitiateAuthorizationResult{}, s.mapError(wrapShimError(err, goerrors.CategoryConflict,
				"correlation id collision, retry the authorization",
				map[string]any{"correlation_id": correlationID},
			))
		}
		return InitiateAuthorizationResult{}, s.mapError(err)
	}
	return InitiateAuthorizationResult{Info: &info}, nil
}

// CompleteAuthorization handles the provider callback. The first invocation on
// a request does the work; later invocations replay its outcome.
func (s *Service) CompleteAuthorization(ctx context.Context, req *CallbackRequest) (CompletionResult, error) {
	if req == nil {
		return CompletionResult{}, s.mapError(NewValidationError("callback request is required", "state"))
	}
	req.once.Do(func() {
		req.result, req.err = s.completeAuthorization(ctx, req.Params)
		req.serviced.Store(true)
	})
	return req.result, req.err
}

func (s *Service) completeAuthorization(ctx context.Context, params CallbackParams) (completion CompletionResult, err error) {
	startedAt := time.Now().UTC()
	correlationID := strings.TrimSpace(params.State)
	fields := map[string]any{
		"correlation_id": correlationID,
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "complete_authorization", err, fields)
	}()

	if correlationID == "" {
		return CompletionResult{}, s.mapError(NewValidationError("state is required", "state"))
	}

	info, err := s.infoStore.Get(ctx, correlationID)
	if err != nil {
		if errors.Is(err, ErrAuthorizationInfoNotFound) {
			return CompletionResult{}, s.mapError(wrapShimError(err, goerrors.CategoryNotFound,
				"authorization request not found",
				map[string]any{"correlation_id": correlationID},
			))
		}
		return CompletionResult{}, s.mapError(err)
	}
	fields["username"] = info.Username
	fields["domain"] = info.Domain

	claimed, err := s.replayLedger.Claim(ctx, replayKeyPrefix+correlationID, s.config.Replay.TTL())
	if err != nil {
		return CompletionResult{}, s.mapError(err)
	}
	if !claimed {
		return CompletionResult{}, s.mapError(NewConflictError("authorization already completed", map[string]any{
			"correlation_id": correlationID,
		}))
	}
	// The ledger entry expires and may live in another process; the info
	// store mark is the durable record.
	consumed, err := s.infoStore.Consume(ctx, correlationID)
	if err != nil {
		return CompletionResult{}, s.mapError(err)
	}
	if !consumed {
		return CompletionResult{}, s.mapError(NewConflictError("authorization already completed", map[string]any{
			"correlation_id": correlationID,
		}))
	}

	shim, err := s.registry.Get(info.Domain)
	if err != nil {
		return CompletionResult{}, s.mapError(err)
	}
	token, err := shim.AuthorizationEngine().Exchange(ctx, params, info)
	if err != nil {
		return CompletionResult{}, s.mapError(err)
	}
	token.Username = info.Username
	token.Domain = info.Domain
	if err := token.Validate(); err != nil {
		return CompletionResult{}, s.mapError(err)
	}
	stored, err := s.tokenStore.Insert(ctx, token)
	if err != nil {
		return CompletionResult{}, s.mapError(err)
	}
	s.scheduleRefresh(ctx, stored)

	return CompletionResult{ClientRedirectURL: info.ClientRedirectURL, Token: stored}, nil
}

// RefreshToken mints a new token from the latest one for (username, domain).
func (s *Service) RefreshToken(ctx context.Context, req RefreshTokenRequest) (token AuthorizationToken, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"username": strings.TrimSpace(req.Username),
		"domain":   strings.TrimSpace(req.Domain),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "refresh_token", err, fields)
	}()

	username := strings.TrimSpace(req.Username)
	domain := strings.TrimSpace(req.Domain)
	if username == "" {
		return AuthorizationToken{}, s.mapError(NewValidationError("username is required", "username"))
	}
	if domain == "" {
		return AuthorizationToken{}, s.mapError(NewValidationError("domain is required", "domain"))
	}
	shim, err := s.registry.Get(domain)
	if err != nil {
		return AuthorizationToken{}, s.mapError(err)
	}
	current, found, err := s.tokenStore.Latest(ctx, username, domain)
	if err != nil {
		return AuthorizationToken{}, s.mapError(err)
	}
	if !found {
		return AuthorizationToken{}, s.mapError(NewAuthorizationError(
			"user has not yet authorized "+domain,
			map[string]any{"username": username, "domain": domain},
		))
	}

	refreshed, err := shim.AuthorizationEngine().Refresh(ctx, current)
	if err != nil {
		return AuthorizationToken{}, s.mapError(err)
	}
	refreshed.Username = username
	refreshed.Domain = domain
	if err := refreshed.Validate(); err != nil {
		return AuthorizationToken{}, s.mapError(err)
	}
	stored, err := s.tokenStore.Insert(ctx, refreshed)
	if err != nil {
		return AuthorizationToken{}, s.mapError(err)
	}
	s.scheduleRefresh(ctx, stored)
	return stored, nil
}

func (s *Service) scheduleRefresh(ctx context.Context, token AuthorizationToken) {
	if s.refreshScheduler == nil || strings.TrimSpace(token.RefreshToken) == "" || token.NeverExpires() {
		return
	}
	due := token.ExpiresAt.Add(-s.config.Refresh.Lead())
	err := s.refreshScheduler.ScheduleRefresh(ctx, RefreshTokenRequest{
		Username: token.Username,
		Domain:   token.Domain,
	}, due)
	if err != nil {
		s.logWarn(ctx, "refresh scheduling failed", map[string]any{
			"username": token.Username,
			"domain":   token.Domain,
			"error":    err.Error(),
		})
	}
}

func buildCallbackURL(base string, correlationID string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(base))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", NewValidationError("callback url is invalid", "callback_url")
	}
	query := parsed.Query()
	query.Set("state", correlationID)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
