package core

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// Shim adapts one third-party provider to the uniform authorization and data contract.
type Shim interface {
	Domain() string
	AuthorizationEngine() AuthorizationEngine
	SchemaIDs() []string
	SchemaVersions(schemaID string) []int
	Schema(schemaID string, version int) (Schema, error)
	FetchData(ctx context.Context, req FetchRequest) (FetchResult, error)
}

type FetchRequest struct {
	SchemaID string
	Version  int
	Token    AuthorizationToken
	Start    *time.Time
	End      *time.Time
	Columns  []string
	Skip     int
	Limit    int
}

// FetchResult carries the page plus a token minted during the call, if any.
// Callers persist RefreshedToken as a new record.
type FetchResult struct {
	Points         []DataPoint
	RefreshedToken *AuthorizationToken
}

// AuthorizationEngine runs the handshake for one provider family.
type AuthorizationEngine interface {
	Begin(ctx context.Context, req BeginAuthorizationRequest) (AuthorizationInfo, error)
	Exchange(ctx context.Context, callback CallbackParams, info AuthorizationInfo) (AuthorizationToken, error)
	Refresh(ctx context.Context, token AuthorizationToken) (AuthorizationToken, error)
}

type BeginAuthorizationRequest struct {
	CorrelationID     string
	Username          string
	Domain            string
	CallbackURL       string
	ClientRedirectURL string
	PreviouslyDenied  bool
}

// CallbackParams is what the provider echoes back on its redirect.
type CallbackParams struct {
	State         string
	Code          string
	OAuthToken    string
	OAuthVerifier string
	Query         url.Values
}

func CallbackParamsFromQuery(values url.Values) CallbackParams {
	params := CallbackParams{Query: url.Values{}}
	for key, items := range values {
		params.Query[key] = append([]string(nil), items...)
	}
	params.State = strings.TrimSpace(values.Get("state"))
	params.Code = strings.TrimSpace(values.Get("code"))
	params.OAuthToken = strings.TrimSpace(values.Get("oauth_token"))
	params.OAuthVerifier = strings.TrimSpace(values.Get("oauth_verifier"))
	return params
}

// Get returns a raw callback query parameter.
func (p CallbackParams) Get(key string) string {
	if p.Query == nil {
		return ""
	}
	return strings.TrimSpace(p.Query.Get(key))
}

// CallbackRequest wraps one delivery of the provider callback. It is serviced at
// most once; later calls on the same instance observe the first outcome.
type CallbackRequest struct {
	Params CallbackParams

	once     sync.Once
	serviced atomic.Bool
	result   CompletionResult
	err      error
}

func NewCallbackRequest(params CallbackParams) *CallbackRequest {
	return &CallbackRequest{Params: params}
}

func (r *CallbackRequest) Serviced() bool {
	if r == nil {
		return false
	}
	return r.serviced.Load()
}

type InitiateAuthorizationRequest struct {
	Username          string
	Domain            string
	ClientRedirectURL string
}

type InitiateAuthorizationResult struct {
	Info              *AuthorizationInfo
	AlreadyAuthorized bool
}

type CompletionResult struct {
	ClientRedirectURL string
	Token             AuthorizationToken
}

type ReadRequest struct {
	SchemaID       string
	Version        int
	Owner          string
	Authentication *AuthenticationCredential
	Authorization  *AuthorizationCredential
	Start          *time.Time
	End            *time.Time
	Columns        []string
	Skip           int
	Limit          int
}

type ReadResult struct {
	Points   []DataPoint
	Count    int
	Metadata map[string]any
}

type RefreshTokenRequest struct {
	Username string
	Domain   string
}

type AuthorizationInfoStore interface {
	// Save persists a new record; an existing correlation id yields ErrDuplicateCorrelationID.
	Save(ctx context.Context, info AuthorizationInfo) error
	Get(ctx context.Context, correlationID string) (AuthorizationInfo, error)
	Exists(ctx context.Context, username string, domain string) (bool, error)
	// Consume marks the record as completed. Only the first call for a
	// correlation id reports true; the mark never expires.
	Consume(ctx context.Context, correlationID string) (bool, error)
}

type AuthorizationTokenStore interface {
	Insert(ctx context.Context, token AuthorizationToken) (AuthorizationToken, error)
	Latest(ctx context.Context, username string, domain string) (AuthorizationToken, bool, error)
}

type DataQuery struct {
	Owner    string
	SchemaID string
	Version  int
	Start    *time.Time
	End      *time.Time
	Columns  []string
	Skip     int
	Limit    int
}

type DataPage struct {
	Points []DataPoint
	Total  int
}

// DataStore serves first-party schemas that no shim owns.
type DataStore interface {
	HasSchema(ctx context.Context, schemaID string, version int) (bool, error)
	Read(ctx context.Context, query DataQuery) (DataPage, error)
}

type ReplayLedger interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RefreshScheduler queues a token refresh that should not run before due.
type RefreshScheduler interface {
	ScheduleRefresh(ctx context.Context, req RefreshTokenRequest, due time.Time) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type TransportRequest struct {
	Method               string
	URL                  string
	Headers              map[string]string
	Query                map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type JobExecutionMessage struct {
	JobID          string
	Parameters     map[string]any
	IdempotencyKey string
	// NotBefore holds the job back until then when the queue supports it.
	NotBefore time.Time
}

// JobEnqueuer hands background jobs to a queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, msg *JobExecutionMessage) error
}

// AuthorizationService is the orchestration surface consumed by commands, queries and handlers.
type AuthorizationService interface {
	InitiateAuthorization(ctx context.Context, req InitiateAuthorizationRequest) (InitiateAuthorizationResult, error)
	CompleteAuthorization(ctx context.Context, req *CallbackRequest) (CompletionResult, error)
	RefreshToken(ctx context.Context, req RefreshTokenRequest) (AuthorizationToken, error)
}

type DataReader interface {
	ReadData(ctx context.Context, req ReadRequest) (ReadResult, error)
}
