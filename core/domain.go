package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// NeverExpires marks tokens issued by providers without an expiration.
var NeverExpires = time.Date(9999, time.December, 31, 23, 59, 59, 0, time.UTC)

// OpaqueState is a provider-defined JSON document. Core never inspects its shape;
// engines decode it with typed accessors of their own.
type OpaqueState []byte

func NewOpaqueState(values any) (OpaqueState, error) {
	if values == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("core: encode opaque state: %w", err)
	}
	if bytes.Equal(encoded, []byte("null")) {
		return nil, nil
	}
	return OpaqueState(encoded), nil
}

// MustOpaqueState panics on encoding failures; only use it with literal maps.
func MustOpaqueState(values any) OpaqueState {
	state, err := NewOpaqueState(values)
	if err != nil {
		panic(err)
	}
	return state
}

func (s OpaqueState) IsEmpty() bool {
	trimmed := bytes.TrimSpace(s)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}"))
}

func (s OpaqueState) Decode(target any) error {
	if s.IsEmpty() {
		return nil
	}
	if err := json.Unmarshal(s, target); err != nil {
		return fmt.Errorf("core: decode opaque state: %w", err)
	}
	return nil
}

// StringMap decodes a flat string map; non-string values are rendered with fmt.
func (s OpaqueState) StringMap() (map[string]string, error) {
	raw := map[string]any{}
	if err := s.Decode(&raw); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for key, value := range raw {
		switch typed := value.(type) {
		case string:
			out[key] = typed
		case nil:
			out[key] = ""
		default:
			out[key] = fmt.Sprint(typed)
		}
	}
	return out, nil
}

func (s OpaqueState) Clone() OpaqueState {
	if s == nil {
		return nil
	}
	return append(OpaqueState(nil), s...)
}

func (s OpaqueState) String() string {
	return string(s)
}

// AuthorizationInfo is the pending state of one handshake, keyed by CorrelationID.
type AuthorizationInfo struct {
	CorrelationID       string
	Username            string
	Domain              string
	ProviderRedirectURL string
	ClientRedirectURL   string
	PreAuthState        OpaqueState
	CreatedAt           time.Time
	PreviouslyDenied    bool
	ConsumedAt          time.Time
}

func (i AuthorizationInfo) Validate() error {
	switch {
	case strings.TrimSpace(i.CorrelationID) == "":
		return NewValidationError("authorization info correlation id is required", "authorize_id")
	case strings.TrimSpace(i.Username) == "":
		return NewValidationError("authorization info username is required", "username")
	case strings.TrimSpace(i.Domain) == "":
		return NewValidationError("authorization info domain is required", "domain")
	case strings.TrimSpace(i.ProviderRedirectURL) == "":
		return NewValidationError("authorization info provider redirect url is required", "url")
	}
	return nil
}

// AuthorizationToken is append-only. A newer record supersedes an older one
// through the latest-by-expiration rule, never through update.
type AuthorizationToken struct {
	ID                string
	Username          string
	Domain            string
	AccessToken       string
	AccessTokenSecret string
	RefreshToken      string
	ExpiresAt         time.Time
	Extras            OpaqueState
	CreatedAt         time.Time
}

func (t AuthorizationToken) Validate() error {
	switch {
	case strings.TrimSpace(t.Username) == "":
		return NewValidationError("authorization token username is required", "username")
	case strings.TrimSpace(t.Domain) == "":
		return NewValidationError("authorization token domain is required", "domain")
	case strings.TrimSpace(t.AccessToken) == "":
		return NewValidationError("authorization token access token is required", "access_token")
	case strings.TrimSpace(t.AccessTokenSecret) == "" && strings.TrimSpace(t.RefreshToken) == "":
		return NewValidationError("authorization token requires an access token secret or a refresh token", "refresh_token")
	case t.ExpiresAt.IsZero():
		return NewValidationError("authorization token expiration is required", "expiration_time")
	}
	return nil
}

func (t AuthorizationToken) NeverExpires() bool {
	return !t.ExpiresAt.Before(NeverExpires)
}

func (t AuthorizationToken) IsExpired(now time.Time) bool {
	if t.NeverExpires() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// Newer orders tokens by expiration, then creation time, then id.
func (t AuthorizationToken) Newer(other AuthorizationToken) bool {
	if !t.ExpiresAt.Equal(other.ExpiresAt) {
		return t.ExpiresAt.After(other.ExpiresAt)
	}
	if !t.CreatedAt.Equal(other.CreatedAt) {
		return t.CreatedAt.After(other.CreatedAt)
	}
	return t.ID > other.ID
}

type DataPoint struct {
	Owner     string         `json:"owner,omitempty"`
	SchemaID  string         `json:"schema_id"`
	Version   int            `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

type Schema struct {
	ID         string         `json:"id"`
	Version    int            `json:"version"`
	Definition map[string]any `json:"schema"`
}

// NewSingleValueSchema builds the one-numeric-field schema most shim types share.
func NewSingleValueSchema(id string, fieldName string, doc string) Schema {
	return Schema{
		ID:      id,
		Version: 1,
		Definition: map[string]any{
			"type": "object",
			"fields": []any{
				map[string]any{
					"type": "number",
					"name": fieldName,
					"doc":  doc,
				},
			},
		},
	}
}

// ProjectColumns keeps only the named keys of every point's data. An empty
// column list returns the points untouched.
func ProjectColumns(points []DataPoint, columns []string) []DataPoint {
	if len(columns) == 0 || len(points) == 0 {
		return points
	}
	keep := make(map[string]struct{}, len(columns))
	for _, column := range columns {
		if column = strings.TrimSpace(column); column != "" {
			keep[column] = struct{}{}
		}
	}
	if len(keep) == 0 {
		return points
	}
	out := make([]DataPoint, len(points))
	for index, point := range points {
		projected := make(map[string]any, len(keep))
		for key, value := range point.Data {
			if _, ok := keep[key]; ok {
				projected[key] = value
			}
		}
		point.Data = projected
		out[index] = point
	}
	return out
}

// SortDataPoints orders points by ascending timestamp, breaking ties by schema
// id and the encoded data so pagination windows stay stable.
func SortDataPoints(points []DataPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		left, right := points[i], points[j]
		if !left.Timestamp.Equal(right.Timestamp) {
			return left.Timestamp.Before(right.Timestamp)
		}
		if left.SchemaID != right.SchemaID {
			return left.SchemaID < right.SchemaID
		}
		return stableDataKey(left.Data) < stableDataKey(right.Data)
	})
}

// PageDataPoints applies skip/limit over an already ordered slice.
func PageDataPoints(points []DataPoint, skip int, limit int) []DataPoint {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(points) {
		return []DataPoint{}
	}
	end := len(points)
	if limit >= 0 && skip+limit < end {
		end = skip + limit
	}
	return append([]DataPoint(nil), points[skip:end]...)
}

func stableDataKey(data map[string]any) string {
	encoded, err := json.Marshal(data)
	if err != nil {
		return ""
	}
	return string(encoded)
}

type AuthenticationCredential struct {
	Subject   string
	ExpiresAt time.Time
}

func (c AuthenticationCredential) Expired(now time.Time) bool {
	return c.ExpiresAt.IsZero() || !now.Before(c.ExpiresAt)
}

type AuthorizationCredential struct {
	Subject   string
	ExpiresAt time.Time
	Scopes    []string
}

func (c AuthorizationCredential) Expired(now time.Time) bool {
	return c.ExpiresAt.IsZero() || !now.Before(c.ExpiresAt)
}

func (c AuthorizationCredential) Covers(schemaID string) bool {
	schemaID = strings.TrimSpace(schemaID)
	for _, scope := range c.Scopes {
		if strings.TrimSpace(scope) == schemaID {
			return true
		}
	}
	return false
}
