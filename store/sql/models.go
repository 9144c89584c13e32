package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type authorizationInfoRecord struct {
	bun.BaseModel `bun:"table:shim_authorization_infos,alias:sai"`

	ID               string    `bun:"id,pk"`
	AuthorizeID      string    `bun:"authorize_id,notnull"`
	Username         string    `bun:"username,notnull"`
	Domain           string    `bun:"domain,notnull"`
	URL              string    `bun:"url,notnull"`
	ClientURL        string    `bun:"client_url,notnull"`
	PreAuthState     string    `bun:"pre_auth_state,notnull"`
	CreationDate     time.Time `bun:"creation_date,nullzero,notnull"`
	PreviouslyDenied bool      `bun:"previously_denied,notnull"`
	ConsumedAt       time.Time `bun:"consumed_at,nullzero"`
}

// authorizationTokenRecord rows are never updated. Secret columns hold
// base64 ciphertext when Sealed is set.
type authorizationTokenRecord struct {
	bun.BaseModel `bun:"table:shim_authorization_tokens,alias:sat"`

	ID                string    `bun:"id,pk"`
	Username          string    `bun:"username,notnull"`
	Domain            string    `bun:"domain,notnull"`
	AccessToken       string    `bun:"access_token,notnull"`
	AccessTokenSecret string    `bun:"access_token_secret,notnull"`
	RefreshToken      string    `bun:"refresh_token,notnull"`
	ExpirationTime    time.Time `bun:"expiration_time,notnull"`
	Extras            string    `bun:"extras,notnull"`
	Sealed            bool      `bun:"sealed,notnull"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type schemaRecord struct {
	bun.BaseModel `bun:"table:shim_schemas,alias:ss"`

	ID         string         `bun:"id,pk"`
	SchemaID   string         `bun:"schema_id,notnull"`
	Version    int            `bun:"version,notnull"`
	Definition map[string]any `bun:"definition,type:jsonb,notnull"`
	CreatedAt  time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

type dataPointRecord struct {
	bun.BaseModel `bun:"table:shim_data_points,alias:sdp"`

	ID        string         `bun:"id,pk"`
	Owner     string         `bun:"owner,notnull"`
	SchemaID  string         `bun:"schema_id,notnull"`
	Version   int            `bun:"version,notnull"`
	Timestamp time.Time      `bun:"timestamp,notnull"`
	Data      map[string]any `bun:"data,type:jsonb,notnull"`
	CreatedAt time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}
