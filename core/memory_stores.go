package core

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryAuthorizationInfoStore keeps pending handshakes in process memory.
type MemoryAuthorizationInfoStore struct {
	mu            sync.RWMutex
	byCorrelation map[string]AuthorizationInfo
	byOwner       map[string]int
}

func NewMemoryAuthorizationInfoStore() *MemoryAuthorizationInfoStore {
	return &MemoryAuthorizationInfoStore{
		byCorrelation: map[string]AuthorizationInfo{},
		byOwner:       map[string]int{},
	}
}

func (s *MemoryAuthorizationInfoStore) Save(_ context.Context, info AuthorizationInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byCorrelation[info.CorrelationID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateCorrelationID, info.CorrelationID)
	}
	info.PreAuthState = info.PreAuthState.Clone()
	if info.CreatedAt.IsZero() {
		info.CreatedAt = time.Now().UTC()
	}
	s.byCorrelation[info.CorrelationID] = info
	s.byOwner[ownerKey(info.Username, info.Domain)]++
	return nil
}

func (s *MemoryAuthorizationInfoStore) Get(_ context.Context, correlationID string) (AuthorizationInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.byCorrelation[strings.TrimSpace(correlationID)]
	if !ok {
		return AuthorizationInfo{}, ErrAuthorizationInfoNotFound
	}
	info.PreAuthState = info.PreAuthState.Clone()
	return info, nil
}

func (s *MemoryAuthorizationInfoStore) Consume(_ context.Context, correlationID string) (bool, error) {
	id := strings.TrimSpace(correlationID)
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.byCorrelation[id]
	if !ok {
		return false, ErrAuthorizationInfoNotFound
	}
	if !info.ConsumedAt.IsZero() {
		return false, nil
	}
	info.ConsumedAt = time.Now().UTC()
	s.byCorrelation[id] = info
	return true, nil
}

func (s *MemoryAuthorizationInfoStore) Exists(_ context.Context, username string, domain string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byOwner[ownerKey(username, domain)] > 0, nil
}

// MemoryAuthorizationTokenStore is an append-only token log.
type MemoryAuthorizationTokenStore struct {
	mu     sync.RWMutex
	tokens map[string][]AuthorizationToken
	Now    func() time.Time
}

func NewMemoryAuthorizationTokenStore() *MemoryAuthorizationTokenStore {
	return &MemoryAuthorizationTokenStore{tokens: map[string][]AuthorizationToken{}}
}

func (s *MemoryAuthorizationTokenStore) Insert(_ context.Context, token AuthorizationToken) (AuthorizationToken, error) {
	if err := token.Validate(); err != nil {
		return AuthorizationToken{}, err
	}
	if strings.TrimSpace(token.ID) == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = s.now()
	}
	token.Extras = token.Extras.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	key := ownerKey(token.Username, token.Domain)
	s.tokens[key] = append(s.tokens[key], token)
	return token, nil
}

func (s *MemoryAuthorizationTokenStore) Latest(_ context.Context, username string, domain string) (AuthorizationToken, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest AuthorizationToken
	found := false
	for _, token := range s.tokens[ownerKey(username, domain)] {
		if !found || token.Newer(latest) {
			latest = token
			found = true
		}
	}
	if found {
		latest.Extras = latest.Extras.Clone()
	}
	return latest, found, nil
}

func (s *MemoryAuthorizationTokenStore) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// MemoryDataStore serves first-party points registered up front.
type MemoryDataStore struct {
	mu      sync.RWMutex
	schemas map[string]map[int]struct{}
	points  map[string][]DataPoint
}

func NewMemoryDataStore() *MemoryDataStore {
	return &MemoryDataStore{
		schemas: map[string]map[int]struct{}{},
		points:  map[string][]DataPoint{},
	}
}

func (s *MemoryDataStore) RegisterSchema(schemaID string, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions, ok := s.schemas[schemaID]
	if !ok {
		versions = map[int]struct{}{}
		s.schemas[schemaID] = versions
	}
	versions[version] = struct{}{}
}

func (s *MemoryDataStore) Append(points ...DataPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, point := range points {
		key := dataKey(point.Owner, point.SchemaID, point.Version)
		s.points[key] = append(s.points[key], point)
		versions, ok := s.schemas[point.SchemaID]
		if !ok {
			versions = map[int]struct{}{}
			s.schemas[point.SchemaID] = versions
		}
		versions[point.Version] = struct{}{}
	}
}

func (s *MemoryDataStore) HasSchema(_ context.Context, schemaID string, version int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions, ok := s.schemas[strings.TrimSpace(schemaID)]
	if !ok {
		return false, nil
	}
	_, ok = versions[version]
	return ok, nil
}

func (s *MemoryDataStore) Read(_ context.Context, query DataQuery) (DataPage, error) {
	s.mu.RLock()
	source := s.points[dataKey(query.Owner, query.SchemaID, query.Version)]
	matched := make([]DataPoint, 0, len(source))
	for _, point := range source {
		if query.Start != nil && point.Timestamp.Before(*query.Start) {
			continue
		}
		if query.End != nil && point.Timestamp.After(*query.End) {
			continue
		}
		matched = append(matched, point)
	}
	s.mu.RUnlock()

	SortDataPoints(matched)
	page := PageDataPoints(matched, query.Skip, query.Limit)
	return DataPage{Points: ProjectColumns(page, query.Columns), Total: len(matched)}, nil
}

func ownerKey(username string, domain string) string {
	return strings.TrimSpace(username) + "\x00" + strings.TrimSpace(domain)
}

func dataKey(owner string, schemaID string, version int) string {
	return fmt.Sprintf("%s\x00%s\x00%d", strings.TrimSpace(owner), strings.TrimSpace(schemaID), version)
}
