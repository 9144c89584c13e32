package sqlstore

import (
	"errors"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-shims/core"
	"github.com/uptrace/bun"
)

// RepositoryFactory opens the three shim stores over one bun database. The
// token store options (sealing) apply only to the token table.
type RepositoryFactory struct {
	db     *bun.DB
	infos  *AuthorizationInfoStore
	tokens *AuthorizationTokenStore
	data   *DataStore
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...TokenStoreOption) (*RepositoryFactory, error) {
	if client == nil {
		return nil, errors.New("sqlstore: persistence client is required")
	}
	return NewRepositoryFactoryFromDB(client.DB(), opts...)
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...TokenStoreOption) (*RepositoryFactory, error) {
	if db == nil {
		return nil, errors.New("sqlstore: bun db is required")
	}
	infos, err := NewAuthorizationInfoStore(db)
	if err != nil {
		return nil, err
	}
	tokens, err := NewAuthorizationTokenStore(db, opts...)
	if err != nil {
		return nil, err
	}
	data, err := NewDataStore(db)
	if err != nil {
		return nil, err
	}
	return &RepositoryFactory{db: db, infos: infos, tokens: tokens, data: data}, nil
}

func (f *RepositoryFactory) DB() *bun.DB { return f.db }

func (f *RepositoryFactory) AuthorizationInfoStore() core.AuthorizationInfoStore { return f.infos }

func (f *RepositoryFactory) AuthorizationTokenStore() *AuthorizationTokenStore { return f.tokens }

func (f *RepositoryFactory) DataStore() *DataStore { return f.data }
