package core

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

func TestInitiateAuthorization_UnknownDomain(t *testing.T) {
	svc, err := newTestService(nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.InitiateAuthorization(context.Background(), InitiateAuthorizationRequest{
		Username: "alice",
		Domain:   "nope",
	})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if !errors.Is(err, ErrShimNotFound) {
		t.Fatalf("expected ErrShimNotFound to remain matchable")
	}
}

func TestInitiateAuthorization_RequiresUsername(t *testing.T) {
	svc, err := newTestService([]Shim{newStubShim("fitbit", "steps")})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.InitiateAuthorization(context.Background(), InitiateAuthorizationRequest{Domain: "fitbit"})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != ShimErrorBadInput {
		t.Fatalf("expected bad input, got %v", err)
	}
}

func TestInitiateAuthorization_BuildsAndPersistsInfo(t *testing.T) {
	shim := newStubShim("fitbit", "steps")
	var seen BeginAuthorizationRequest
	shim.engine.begin = func(_ context.Context, req BeginAuthorizationRequest) (AuthorizationInfo, error) {
		seen = req
		return AuthorizationInfo{
			ProviderRedirectURL: "https://provider.example/authorize?oauth_token=RT",
			PreAuthState:        MustOpaqueState(map[string]string{"token": "RT", "secret": "RS"}),
		}, nil
	}
	infos := NewMemoryAuthorizationInfoStore()
	svc, err := newTestService([]Shim{shim},
		WithAuthorizationInfoStore(infos),
		WithCorrelationIDGenerator((&sequenceIDs{ids: []string{"abc"}}).generate),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	result, err := svc.InitiateAuthorization(context.Background(), InitiateAuthorizationRequest{
		Username:          "alice",
		Domain:            "fitbit",
		ClientRedirectURL: "https://app.example/done",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if result.AlreadyAuthorized || result.Info == nil {
		t.Fatalf("expected a pending authorization, got %#v", result)
	}
	if result.Info.CorrelationID != "abc" {
		t.Fatalf("expected correlation id abc, got %q", result.Info.CorrelationID)
	}
	if result.Info.PreviouslyDenied {
		t.Fatalf("first handshake must not be marked previously denied")
	}
	callback, err := url.Parse(seen.CallbackURL)
	if err != nil {
		t.Fatalf("parse callback: %v", err)
	}
	if callback.Query().Get("state") != "abc" {
		t.Fatalf("expected state=abc in callback url, got %q", seen.CallbackURL)
	}

	stored, err := infos.Get(context.Background(), "abc")
	if err != nil {
		t.Fatalf("load info: %v", err)
	}
	state, err := stored.PreAuthState.StringMap()
	if err != nil {
		t.Fatalf("decode pre auth state: %v", err)
	}
	if state["token"] != "RT" || state["secret"] != "RS" || len(state) != 2 {
		t.Fatalf("expected pre auth state round trip, got %#v", state)
	}
	if stored.ClientRedirectURL != "https://app.example/done" {
		t.Fatalf("expected client redirect url, got %q", stored.ClientRedirectURL)
	}

	second, err := svc.InitiateAuthorization(context.Background(), InitiateAuthorizationRequest{
		Username: "alice",
		Domain:   "fitbit",
	})
	if err != nil {
		t.Fatalf("second initiate: %v", err)
	}
	if !second.Info.PreviouslyDenied {
		t.Fatalf("expected abandoned handshake to mark previously denied")
	}
	if second.Info.ClientRedirectURL != DefaultConfig().DefaultClientRedirectURL {
		t.Fatalf("expected default client redirect, got %q", second.Info.ClientRedirectURL)
	}
}

func TestInitiateAuthorization_NoopWhenTokenIsLive(t *testing.T) {
	shim := newStubShim("fitbit", "steps")
	tokens := NewMemoryAuthorizationTokenStore()
	if _, err := tokens.Insert(context.Background(), AuthorizationToken{
		Username:          "alice",
		Domain:            "fitbit",
		AccessToken:       "a",
		AccessTokenSecret: "s",
		ExpiresAt:         NeverExpires,
	}); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	svc, err := newTestService([]Shim{shim}, WithAuthorizationTokenStore(tokens))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	result, err := svc.InitiateAuthorization(context.Background(), InitiateAuthorizationRequest{
		Username: "alice",
		Domain:   "fitbit",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if !result.AlreadyAuthorized || result.Info != nil {
		t.Fatalf("expected no-op, got %#v", result)
	}
	if begins, _ := shim.engine.calls(); begins != 0 {
		t.Fatalf("expected engine to stay untouched, got %d begin calls", begins)
	}
}

func TestInitiateAuthorization_RestartsWhenTokenExpired(t *testing.T) {
	shim := newStubShim("fitbit", "steps")
	tokens := NewMemoryAuthorizationTokenStore()
	if _, err := tokens.Insert(context.Background(), AuthorizationToken{
		Username:     "alice",
		Domain:       "fitbit",
		AccessToken:  "a",
		RefreshToken: "r",
		ExpiresAt:    fixedNow.Add(-time.Minute),
	}); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	svc, err := newTestService([]Shim{shim}, WithAuthorizationTokenStore(tokens))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	result, err := svc.InitiateAuthorization(context.Background(), InitiateAuthorizationRequest{
		Username: "alice",
		Domain:   "fitbit",
	})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if result.AlreadyAuthorized || result.Info == nil {
		t.Fatalf("expected a new handshake for an expired token")
	}
}

func TestInitiateAuthorization_UniqueCorrelationIDsUnderConcurrency(t *testing.T) {
	infos := NewMemoryAuthorizationInfoStore()
	svc, err := newTestService([]Shim{newStubShim("fitbit", "steps")}, WithAuthorizationInfoStore(infos))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	const workers = 64
	ids := make(chan string, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.InitiateAuthorization(context.Background(), InitiateAuthorizationRequest{
				Username: "alice",
				Domain:   "fitbit",
			})
			if err != nil {
				t.Errorf("initiate: %v", err)
				return
			}
			ids <- result.Info.CorrelationID
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]struct{}{}
	for id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate correlation id %q", id)
		}
		seen[id] = struct{}{}
	}
	if len(seen) != workers {
		t.Fatalf("expected %d ids, got %d", workers, len(seen))
	}
}

func TestInitiateAuthorization_DuplicateCorrelationIDIsConflict(t *testing.T) {
	svc, err := newTestService([]Shim{newStubShim("fitbit", "steps")},
		WithCorrelationIDGenerator(func() string { return "same" }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	req := InitiateAuthorizationRequest{Username: "alice", Domain: "fitbit"}
	if _, err := svc.InitiateAuthorization(context.Background(), req); err != nil {
		t.Fatalf("first initiate: %v", err)
	}
	_, err = svc.InitiateAuthorization(context.Background(), req)
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCompleteAuthorization_ExchangesAndPersists(t *testing.T) {
	shim := newStubShim("fitbit", "steps")
	var exchangedWith AuthorizationInfo
	shim.engine.exchange = func(_ context.Context, callback CallbackParams, info AuthorizationInfo) (AuthorizationToken, error) {
		exchangedWith = info
		if callback.OAuthVerifier != "v1" {
			t.Errorf("expected verifier to reach the engine, got %q", callback.OAuthVerifier)
		}
		return AuthorizationToken{AccessToken: "PT", AccessTokenSecret: "PS", ExpiresAt: NeverExpires}, nil
	}
	tokens := NewMemoryAuthorizationTokenStore()
	svc, err := newTestService([]Shim{shim},
		WithAuthorizationTokenStore(tokens),
		WithCorrelationIDGenerator(func() string { return "abc" }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.InitiateAuthorization(context.Background(), InitiateAuthorizationRequest{
		Username:          "alice",
		Domain:            "fitbit",
		ClientRedirectURL: "https://app.example/done",
	}); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	req := NewCallbackRequest(CallbackParamsFromQuery(url.Values{
		"state":          {"abc"},
		"oauth_token":    {"RT"},
		"oauth_verifier": {"v1"},
	}))
	completion, err := svc.CompleteAuthorization(context.Background(), req)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completion.ClientRedirectURL != "https://app.example/done" {
		t.Fatalf("expected stored client redirect, got %q", completion.ClientRedirectURL)
	}
	if !req.Serviced() {
		t.Fatalf("expected request to be marked serviced")
	}
	state, _ := exchangedWith.PreAuthState.StringMap()
	if state["token"] != "RT" {
		t.Fatalf("expected engine to receive pre auth state, got %#v", state)
	}
	latest, found, err := tokens.Latest(context.Background(), "alice", "fitbit")
	if err != nil || !found {
		t.Fatalf("expected stored token, found=%v err=%v", found, err)
	}
	if latest.AccessToken != "PT" || latest.Username != "alice" || latest.Domain != "fitbit" {
		t.Fatalf("unexpected stored token %#v", latest)
	}
}

func TestCompleteAuthorization_SameRequestIsIdempotent(t *testing.T) {
	shim := newStubShim("fitbit", "steps")
	svc, err := newTestService([]Shim{shim}, WithCorrelationIDGenerator(func() string { return "abc" }))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.InitiateAuthorization(context.Background(), InitiateAuthorizationRequest{
		Username: "alice",
		Domain:   "fitbit",
	}); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	req := NewCallbackRequest(CallbackParams{State: "abc"})
	first, err := svc.CompleteAuthorization(context.Background(), req)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	second, err := svc.CompleteAuthorization(context.Background(), req)
	if err != nil {
		t.Fatalf("re-invocation must not fail: %v", err)
	}
	if first.Token.ID != second.Token.ID {
		t.Fatalf("expected same outcome, got %q and %q", first.Token.ID, second.Token.ID)
	}
	if _, exchanges := shim.engine.calls(); exchanges != 1 {
		t.Fatalf("expected one exchange, got %d", exchanges)
	}
}

func TestCompleteAuthorization_ReplayedCallbackIsConflict(t *testing.T) {
	shim := newStubShim("fitbit", "steps")
	svc, err := newTestService([]Shim{shim}, WithCorrelationIDGenerator(func() string { return "abc" }))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.InitiateAuthorization(context.Background(), InitiateAuthorizationRequest{
		Username: "alice",
		Domain:   "fitbit",
	}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := svc.CompleteAuthorization(context.Background(), NewCallbackRequest(CallbackParams{State: "abc"})); err != nil {
		t.Fatalf("complete: %v", err)
	}

	_, err = svc.CompleteAuthorization(context.Background(), NewCallbackRequest(CallbackParams{State: "abc"}))
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != ShimErrorConflict {
		t.Fatalf("expected replay conflict, got %v", err)
	}
	if _, exchanges := shim.engine.calls(); exchanges != 1 {
		t.Fatalf("replay must not reach the engine, got %d exchanges", exchanges)
	}
}

func TestCompleteAuthorization_ReplayRejectedAcrossLedgers(t *testing.T) {
	shim := newStubShim("fitbit", "steps")
	infos := NewMemoryAuthorizationInfoStore()
	tokens := NewMemoryAuthorizationTokenStore()
	first, err := newTestService([]Shim{shim},
		WithAuthorizationInfoStore(infos),
		WithAuthorizationTokenStore(tokens),
		WithReplayLedger(NewMemoryReplayLedger(time.Hour)),
		WithCorrelationIDGenerator(func() string { return "abc" }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := first.InitiateAuthorization(context.Background(), InitiateAuthorizationRequest{
		Username: "alice",
		Domain:   "fitbit",
	}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := first.CompleteAuthorization(context.Background(), NewCallbackRequest(CallbackParams{State: "abc"})); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// A ledger that saw the claim, read 25 hours later.
	clock := time.Now()
	expired := NewMemoryReplayLedger(time.Hour)
	expired.Now = func() time.Time { return clock }
	if _, err := expired.Claim(context.Background(), replayKeyPrefix+"abc", time.Hour); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	clock = clock.Add(25 * time.Hour)

	cases := []struct {
		name   string
		ledger ReplayLedger
	}{
		{name: "restarted process", ledger: NewMemoryReplayLedger(time.Hour)},
		{name: "ledger entry expired", ledger: expired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			second, err := newTestService([]Shim{shim},
				WithAuthorizationInfoStore(infos),
				WithAuthorizationTokenStore(tokens),
				WithReplayLedger(tc.ledger),
			)
			if err != nil {
				t.Fatalf("new service: %v", err)
			}
			_, err = second.CompleteAuthorization(context.Background(), NewCallbackRequest(CallbackParams{State: "abc"}))
			var rich *goerrors.Error
			if !goerrors.As(err, &rich) || rich.TextCode != ShimErrorConflict {
				t.Fatalf("expected replay conflict, got %v", err)
			}
			if _, exchanges := shim.engine.calls(); exchanges != 1 {
				t.Fatalf("replay must not reach the engine, got %d exchanges", exchanges)
			}
		})
	}
}

func TestCompleteAuthorization_UnknownStateIsNotFound(t *testing.T) {
	svc, err := newTestService([]Shim{newStubShim("fitbit", "steps")})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.CompleteAuthorization(context.Background(), NewCallbackRequest(CallbackParams{State: "forged"}))
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
	if !errors.Is(err, ErrAuthorizationInfoNotFound) {
		t.Fatalf("expected ErrAuthorizationInfoNotFound to remain matchable")
	}
}

func TestCompleteAuthorization_MissingStateIsValidation(t *testing.T) {
	svc, err := newTestService(nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.CompleteAuthorization(context.Background(), NewCallbackRequest(CallbackParams{}))
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != ShimErrorBadInput {
		t.Fatalf("expected bad input, got %v", err)
	}
}

func TestCompleteAuthorization_FailedExchangePersistsNothing(t *testing.T) {
	shim := newStubShim("fitbit", "steps")
	shim.engine.exchange = func(context.Context, CallbackParams, AuthorizationInfo) (AuthorizationToken, error) {
		return AuthorizationToken{}, NewProviderError(nil, "token endpoint returned 500", nil)
	}
	tokens := NewMemoryAuthorizationTokenStore()
	svc, err := newTestService([]Shim{shim},
		WithAuthorizationTokenStore(tokens),
		WithCorrelationIDGenerator(func() string { return "abc" }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.InitiateAuthorization(context.Background(), InitiateAuthorizationRequest{
		Username: "alice",
		Domain:   "fitbit",
	}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	_, err = svc.CompleteAuthorization(context.Background(), NewCallbackRequest(CallbackParams{State: "abc"}))
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external failure, got %v", err)
	}
	if _, found, _ := tokens.Latest(context.Background(), "alice", "fitbit"); found {
		t.Fatalf("expected no token after a failed exchange")
	}
}

func TestCompleteAuthorization_InvalidTokenIsRejected(t *testing.T) {
	shim := newStubShim("fitbit", "steps")
	shim.engine.exchange = func(context.Context, CallbackParams, AuthorizationInfo) (AuthorizationToken, error) {
		return AuthorizationToken{AccessToken: "only-access", ExpiresAt: NeverExpires}, nil
	}
	svc, err := newTestService([]Shim{shim}, WithCorrelationIDGenerator(func() string { return "abc" }))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.InitiateAuthorization(context.Background(), InitiateAuthorizationRequest{
		Username: "alice",
		Domain:   "fitbit",
	}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	_, err = svc.CompleteAuthorization(context.Background(), NewCallbackRequest(CallbackParams{State: "abc"}))
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.TextCode != ShimErrorBadInput {
		t.Fatalf("expected token validation failure, got %v", err)
	}
}

func TestCompleteAuthorization_SchedulesRefreshForExpiringTokens(t *testing.T) {
	shim := newStubShim("fitbit", "steps")
	shim.engine.exchange = func(context.Context, CallbackParams, AuthorizationInfo) (AuthorizationToken, error) {
		return AuthorizationToken{AccessToken: "a", RefreshToken: "r", ExpiresAt: fixedNow.Add(time.Hour)}, nil
	}
	scheduler := &recordingScheduler{}
	svc, err := newTestService([]Shim{shim},
		WithRefreshScheduler(scheduler),
		WithCorrelationIDGenerator(func() string { return "abc" }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := svc.InitiateAuthorization(context.Background(), InitiateAuthorizationRequest{
		Username: "alice",
		Domain:   "fitbit",
	}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if _, err := svc.CompleteAuthorization(context.Background(), NewCallbackRequest(CallbackParams{State: "abc"})); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if len(scheduler.requests) != 1 || scheduler.requests[0].Username != "alice" {
		t.Fatalf("expected one refresh job for alice, got %#v", scheduler.requests)
	}
	if want := fixedNow.Add(55 * time.Minute); !scheduler.due[0].Equal(want) {
		t.Fatalf("expected refresh due five minutes before expiry %s, got %s", want, scheduler.due[0])
	}
}

func TestRefreshToken_UnsupportedForSignatureProviders(t *testing.T) {
	shim := newStubShim("withings", "weight_kg")
	tokens := NewMemoryAuthorizationTokenStore()
	if _, err := tokens.Insert(context.Background(), AuthorizationToken{
		Username:          "alice",
		Domain:            "withings",
		AccessToken:       "a",
		AccessTokenSecret: "s",
		ExpiresAt:         NeverExpires,
	}); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	svc, err := newTestService([]Shim{shim}, WithAuthorizationTokenStore(tokens))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	_, err = svc.RefreshToken(context.Background(), RefreshTokenRequest{Username: "alice", Domain: "withings"})
	if !IsUnsupported(err) {
		t.Fatalf("expected unsupported operation, got %v", err)
	}
}

func TestRefreshToken_AppendsNewToken(t *testing.T) {
	shim := newStubShim("fitbit", "steps")
	shim.engine.refresh = func(_ context.Context, token AuthorizationToken) (AuthorizationToken, error) {
		if token.RefreshToken != "r1" {
			t.Errorf("expected latest refresh token, got %q", token.RefreshToken)
		}
		return AuthorizationToken{AccessToken: "a2", RefreshToken: "r2", ExpiresAt: fixedNow.Add(2 * time.Hour)}, nil
	}
	tokens := NewMemoryAuthorizationTokenStore()
	if _, err := tokens.Insert(context.Background(), AuthorizationToken{
		Username:     "alice",
		Domain:       "fitbit",
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresAt:    fixedNow.Add(time.Minute),
	}); err != nil {
		t.Fatalf("seed token: %v", err)
	}
	svc, err := newTestService([]Shim{shim}, WithAuthorizationTokenStore(tokens))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	refreshed, err := svc.RefreshToken(context.Background(), RefreshTokenRequest{Username: "alice", Domain: "fitbit"})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed.AccessToken != "a2" {
		t.Fatalf("expected new access token, got %q", refreshed.AccessToken)
	}
	latest, _, _ := tokens.Latest(context.Background(), "alice", "fitbit")
	if latest.AccessToken != "a2" {
		t.Fatalf("expected refreshed token to win latest selection")
	}
}
