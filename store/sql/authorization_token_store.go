package sqlstore

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-shims/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuthorizationTokenStore is an append-only token log. The newest record by
// expiration wins; nothing is ever updated in place.
type AuthorizationTokenStore struct {
	db      *bun.DB
	repo    repository.Repository[*authorizationTokenRecord]
	secrets core.SecretProvider
	now     func() time.Time
}

type TokenStoreOption func(*AuthorizationTokenStore)

// WithSecretProvider seals access tokens, secrets and refresh tokens at rest.
func WithSecretProvider(provider core.SecretProvider) TokenStoreOption {
	return func(s *AuthorizationTokenStore) {
		s.secrets = provider
	}
}

func WithTokenClock(now func() time.Time) TokenStoreOption {
	return func(s *AuthorizationTokenStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewAuthorizationTokenStore(db *bun.DB, opts ...TokenStoreOption) (*AuthorizationTokenStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*authorizationTokenRecord](db, authorizationTokenHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid authorization token repository wiring: %w", err)
		}
	}
	store := &AuthorizationTokenStore{
		db:   db,
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

func (s *AuthorizationTokenStore) Insert(ctx context.Context, token core.AuthorizationToken) (core.AuthorizationToken, error) {
	if s == nil || s.repo == nil {
		return core.AuthorizationToken{}, fmt.Errorf("sqlstore: authorization token store is not configured")
	}
	if err := token.Validate(); err != nil {
		return core.AuthorizationToken{}, err
	}
	token.Username = strings.TrimSpace(token.Username)
	token.Domain = strings.TrimSpace(token.Domain)
	if strings.TrimSpace(token.ID) == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = s.now()
	}
	token.CreatedAt = token.CreatedAt.UTC()
	token.ExpiresAt = token.ExpiresAt.UTC()
	token.Extras = token.Extras.Clone()

	record, err := s.toRecord(ctx, token)
	if err != nil {
		return core.AuthorizationToken{}, err
	}
	if _, err := s.repo.Create(ctx, record); err != nil {
		return core.AuthorizationToken{}, err
	}
	return token, nil
}

func (s *AuthorizationTokenStore) Latest(ctx context.Context, username string, domain string) (core.AuthorizationToken, bool, error) {
	if s == nil || s.repo == nil {
		return core.AuthorizationToken{}, false, fmt.Errorf("sqlstore: authorization token store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("username", "=", strings.TrimSpace(username)),
		repository.SelectBy("domain", "=", strings.TrimSpace(domain)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("expiration_time DESC", "created_at DESC", "id DESC")
		}),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.AuthorizationToken{}, false, err
	}
	if len(records) == 0 {
		return core.AuthorizationToken{}, false, nil
	}
	token, err := s.toDomain(ctx, records[0])
	if err != nil {
		return core.AuthorizationToken{}, false, err
	}
	return token, true, nil
}

func (s *AuthorizationTokenStore) toRecord(ctx context.Context, token core.AuthorizationToken) (*authorizationTokenRecord, error) {
	record := &authorizationTokenRecord{
		ID:                token.ID,
		Username:          token.Username,
		Domain:            token.Domain,
		AccessToken:       token.AccessToken,
		AccessTokenSecret: token.AccessTokenSecret,
		RefreshToken:      token.RefreshToken,
		ExpirationTime:    token.ExpiresAt,
		Extras:            token.Extras.String(),
		CreatedAt:         token.CreatedAt,
	}
	if s.secrets == nil {
		return record, nil
	}
	for _, field := range []*string{&record.AccessToken, &record.AccessTokenSecret, &record.RefreshToken} {
		if *field == "" {
			continue
		}
		sealed, err := s.secrets.Encrypt(ctx, []byte(*field))
		if err != nil {
			return nil, fmt.Errorf("sqlstore: seal token: %w", err)
		}
		*field = base64.StdEncoding.EncodeToString(sealed)
	}
	record.Sealed = true
	return record, nil
}

func (s *AuthorizationTokenStore) toDomain(ctx context.Context, record *authorizationTokenRecord) (core.AuthorizationToken, error) {
	token := core.AuthorizationToken{
		ID:                record.ID,
		Username:          record.Username,
		Domain:            record.Domain,
		AccessToken:       record.AccessToken,
		AccessTokenSecret: record.AccessTokenSecret,
		RefreshToken:      record.RefreshToken,
		ExpiresAt:         record.ExpirationTime.UTC(),
		CreatedAt:         record.CreatedAt.UTC(),
	}
	if trimmed := strings.TrimSpace(record.Extras); trimmed != "" {
		token.Extras = core.OpaqueState(trimmed)
	}
	if !record.Sealed {
		return token, nil
	}
	if s.secrets == nil {
		return core.AuthorizationToken{}, fmt.Errorf("sqlstore: token %s is sealed but no secret provider is configured", record.ID)
	}
	for _, field := range []*string{&token.AccessToken, &token.AccessTokenSecret, &token.RefreshToken} {
		if *field == "" {
			continue
		}
		sealed, err := base64.StdEncoding.DecodeString(*field)
		if err != nil {
			return core.AuthorizationToken{}, fmt.Errorf("sqlstore: decode sealed token: %w", err)
		}
		opened, err := s.secrets.Decrypt(ctx, sealed)
		if err != nil {
			return core.AuthorizationToken{}, fmt.Errorf("sqlstore: open token: %w", err)
		}
		*field = string(opened)
	}
	return token, nil
}

var _ core.AuthorizationTokenStore = (*AuthorizationTokenStore)(nil)
