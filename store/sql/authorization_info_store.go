package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-shims/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// AuthorizationInfoStore keeps pending handshakes keyed by correlation id.
// Records are kept after completion so later handshakes know the user was
// asked before.
type AuthorizationInfoStore struct {
	db   *bun.DB
	repo repository.Repository[*authorizationInfoRecord]
}

func NewAuthorizationInfoStore(db *bun.DB) (*AuthorizationInfoStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*authorizationInfoRecord](db, authorizationInfoHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid authorization info repository wiring: %w", err)
		}
	}
	return &AuthorizationInfoStore{db: db, repo: repo}, nil
}

func (s *AuthorizationInfoStore) Save(ctx context.Context, info core.AuthorizationInfo) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: authorization info store is not configured")
	}
	if err := info.Validate(); err != nil {
		return err
	}
	createdAt := info.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	record := &authorizationInfoRecord{
		ID:               uuid.NewString(),
		AuthorizeID:      strings.TrimSpace(info.CorrelationID),
		Username:         strings.TrimSpace(info.Username),
		Domain:           strings.TrimSpace(info.Domain),
		URL:              info.ProviderRedirectURL,
		ClientURL:        info.ClientRedirectURL,
		PreAuthState:     info.PreAuthState.String(),
		CreationDate:     createdAt.UTC(),
		PreviouslyDenied: info.PreviouslyDenied,
	}
	result, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (authorize_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrDuplicateCorrelationID
	}
	return nil
}

func (s *AuthorizationInfoStore) Get(ctx context.Context, correlationID string) (core.AuthorizationInfo, error) {
	if s == nil || s.repo == nil {
		return core.AuthorizationInfo{}, fmt.Errorf("sqlstore: authorization info store is not configured")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("authorize_id", "=", strings.TrimSpace(correlationID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.AuthorizationInfo{}, err
	}
	if len(records) == 0 {
		return core.AuthorizationInfo{}, core.ErrAuthorizationInfoNotFound
	}
	return records[0].toDomain(), nil
}

// Consume stamps consumed_at with a conditional update so concurrent
// callbacks and restarted processes agree on a single winner.
func (s *AuthorizationInfoStore) Consume(ctx context.Context, correlationID string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: authorization info store is not configured")
	}
	id := strings.TrimSpace(correlationID)
	result, err := s.db.NewUpdate().
		Model((*authorizationInfoRecord)(nil)).
		Set("consumed_at = ?", time.Now().UTC()).
		Where("authorize_id = ?", id).
		Where("consumed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected > 0 {
		return true, nil
	}
	exists, err := s.db.NewSelect().
		Model((*authorizationInfoRecord)(nil)).
		Where("?TableAlias.authorize_id = ?", id).
		Exists(ctx)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, core.ErrAuthorizationInfoNotFound
	}
	return false, nil
}

func (s *AuthorizationInfoStore) Exists(ctx context.Context, username string, domain string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: authorization info store is not configured")
	}
	return s.db.NewSelect().
		Model((*authorizationInfoRecord)(nil)).
		Where("?TableAlias.username = ?", strings.TrimSpace(username)).
		Where("?TableAlias.domain = ?", strings.TrimSpace(domain)).
		Exists(ctx)
}

func (r *authorizationInfoRecord) toDomain() core.AuthorizationInfo {
	if r == nil {
		return core.AuthorizationInfo{}
	}
	var state core.OpaqueState
	if trimmed := strings.TrimSpace(r.PreAuthState); trimmed != "" {
		state = core.OpaqueState(trimmed)
	}
	return core.AuthorizationInfo{
		CorrelationID:       r.AuthorizeID,
		Username:            r.Username,
		Domain:              r.Domain,
		ProviderRedirectURL: r.URL,
		ClientRedirectURL:   r.ClientURL,
		PreAuthState:        state,
		CreatedAt:           r.CreationDate.UTC(),
		PreviouslyDenied:    r.PreviouslyDenied,
		ConsumedAt:          consumedAt(r.ConsumedAt),
	}
}

func consumedAt(value time.Time) time.Time {
	if value.IsZero() {
		return time.Time{}
	}
	return value.UTC()
}

var _ core.AuthorizationInfoStore = (*AuthorizationInfoStore)(nil)
