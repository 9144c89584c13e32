package core

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type stubEngine struct {
	begin    func(ctx context.Context, req BeginAuthorizationRequest) (AuthorizationInfo, error)
	exchange func(ctx context.Context, callback CallbackParams, info AuthorizationInfo) (AuthorizationToken, error)
	refresh  func(ctx context.Context, token AuthorizationToken) (AuthorizationToken, error)

	mu            sync.Mutex
	beginCalls    int
	exchangeCalls int
}

func (e *stubEngine) Begin(ctx context.Context, req BeginAuthorizationRequest) (AuthorizationInfo, error) {
	e.mu.Lock()
	e.beginCalls++
	e.mu.Unlock()
	if e.begin != nil {
		return e.begin(ctx, req)
	}
	return AuthorizationInfo{
		ProviderRedirectURL: "https://provider.example/authorize?oauth_token=RT",
		PreAuthState:        MustOpaqueState(map[string]string{"token": "RT", "secret": "RS"}),
	}, nil
}

func (e *stubEngine) Exchange(ctx context.Context, callback CallbackParams, info AuthorizationInfo) (AuthorizationToken, error) {
	e.mu.Lock()
	e.exchangeCalls++
	e.mu.Unlock()
	if e.exchange != nil {
		return e.exchange(ctx, callback, info)
	}
	return AuthorizationToken{
		AccessToken:       "access",
		AccessTokenSecret: "secret",
		ExpiresAt:         NeverExpires,
	}, nil
}

func (e *stubEngine) Refresh(ctx context.Context, token AuthorizationToken) (AuthorizationToken, error) {
	if e.refresh != nil {
		return e.refresh(ctx, token)
	}
	return AuthorizationToken{}, NewUnsupportedError("refresh is not supported")
}

func (e *stubEngine) calls() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.beginCalls, e.exchangeCalls
}

type stubShim struct {
	domain  string
	engine  *stubEngine
	catalog SchemaCatalog
	fetch   func(ctx context.Context, req FetchRequest) (FetchResult, error)

	mu       sync.Mutex
	requests []FetchRequest
}

func newStubShim(domain string, types ...string) *stubShim {
	schemas := make([]Schema, 0, len(types))
	for _, typ := range types {
		schemas = append(schemas, NewSingleValueSchema(NewSchemaID(domain, typ).String(), typ, typ))
	}
	return &stubShim{
		domain:  domain,
		engine:  &stubEngine{},
		catalog: NewSchemaCatalog(domain, schemas...),
	}
}

func (s *stubShim) Domain() string { return s.domain }

func (s *stubShim) AuthorizationEngine() AuthorizationEngine { return s.engine }

func (s *stubShim) SchemaIDs() []string { return s.catalog.IDs() }

func (s *stubShim) SchemaVersions(schemaID string) []int { return s.catalog.Versions(schemaID) }

func (s *stubShim) Schema(schemaID string, version int) (Schema, error) {
	return s.catalog.Schema(schemaID, version)
}

func (s *stubShim) FetchData(ctx context.Context, req FetchRequest) (FetchResult, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.fetch != nil {
		return s.fetch(ctx, req)
	}
	return FetchResult{Points: []DataPoint{{
		SchemaID:  req.SchemaID,
		Version:   req.Version,
		Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Data:      map[string]any{"steps": 100},
	}}}, nil
}

func (s *stubShim) fetchRequests() []FetchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]FetchRequest(nil), s.requests...)
}

type sequenceIDs struct {
	mu   sync.Mutex
	ids  []string
	next int
}

func (s *sequenceIDs) generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next < len(s.ids) {
		id := s.ids[s.next]
		s.next++
		return id
	}
	s.next++
	return fmt.Sprintf("generated-%d", s.next)
}

type recordingScheduler struct {
	mu       sync.Mutex
	requests []RefreshTokenRequest
	due      []time.Time
	err      error
}

func (s *recordingScheduler) ScheduleRefresh(_ context.Context, req RefreshTokenRequest, due time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	s.due = append(s.due, due)
	return s.err
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

var fixedNow = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func newTestService(shims []Shim, opts ...Option) (*Service, error) {
	registry, err := NewShimRegistry(shims...)
	if err != nil {
		return nil, err
	}
	base := []Option{
		WithShimRegistry(registry),
		WithClock(fixedClock),
	}
	return NewService(DefaultConfig(), append(base, opts...)...)
}
