// Package api exposes the shim service over HTTP: the authorization
// handshake endpoints, the provider callback and the data read.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocmd "github.com/goliatone/go-command"
	glog "github.com/goliatone/go-logger/glog"
	shims "github.com/goliatone/go-shims"
	"github.com/goliatone/go-shims/auth"
	shimscommand "github.com/goliatone/go-shims/command"
	"github.com/goliatone/go-shims/core"
	shimsquery "github.com/goliatone/go-shims/query"
)

// AuthorizationHeader carries the delegated authorization credential. The
// Authorization header carries the caller's own authentication credential.
const AuthorizationHeader = "X-OMH-Authorization"

// CredentialVerifier turns bearer tokens into credentials.
type CredentialVerifier interface {
	VerifyAuthentication(token string) (core.AuthenticationCredential, error)
	VerifyAuthorization(token string) (core.AuthorizationCredential, error)
}

type Config struct {
	Facade   *shims.Facade
	Verifier CredentialVerifier
	Logger   core.Logger
	Timeout  time.Duration
	Now      func() time.Time
}

// Handler serves the shim endpoints.
type Handler struct {
	commands shims.Commands
	queries  shims.Queries
	verifier CredentialVerifier
	logger   core.Logger
	timeout  time.Duration
	now      func() time.Time
}

func New(cfg Config) (*Handler, error) {
	if cfg.Facade == nil {
		return nil, core.NewInternalError("api: facade is required")
	}
	if cfg.Verifier == nil {
		return nil, core.NewInternalError("api: credential verifier is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Handler{
		commands: cfg.Facade.Commands(),
		queries:  cfg.Facade.Queries(),
		verifier: cfg.Verifier,
		logger:   glog.Ensure(cfg.Logger),
		timeout:  timeout,
		now:      now,
	}, nil
}

// Register mounts the shim routes on r.
func (h *Handler) Register(r chi.Router) {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(h.timeout))

	router.Get("/auth/authorized", h.handleAuthorize)
	router.Post("/auth/authorized", h.handleAuthorize)
	router.Get("/auth/oauth/external_authorization", h.handleCallback)
	router.Get("/data/{schema_id}", h.handleReadData)
	router.Get("/schemas", h.handleListSchemas)
	router.Get("/schemas/{schema_id}", h.handleGetSchema)

	r.Mount("/", router)
}

type authorizeResponse struct {
	AuthorizeID      string    `json:"authorize_id"`
	URL              string    `json:"url"`
	PreviouslyDenied bool      `json:"previously_denied"`
	CreationDate     time.Time `json:"creation_date"`
}

func (h *Handler) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authn, err := h.authentication(r)
	if err != nil {
		h.fail(ctx, w, r, err)
		return
	}
	if authn == nil {
		h.fail(ctx, w, r, apiAuthenticationError("authentication required"))
		return
	}
	if authn.Expired(h.now()) {
		h.fail(ctx, w, r, apiAuthenticationError("authentication expired, log in again"))
		return
	}

	collector := gocmd.NewResult[core.InitiateAuthorizationResult]()
	err = h.commands.InitiateAuthorization.Execute(gocmd.ContextWithResult(ctx, collector), shimscommand.InitiateAuthorizationMessage{
		Request: core.InitiateAuthorizationRequest{
			Username:          authn.Subject,
			Domain:            r.FormValue("domain"),
			ClientRedirectURL: r.FormValue("client_redirect_url"),
		},
	})
	if err != nil {
		h.fail(ctx, w, r, err)
		return
	}
	result, _ := collector.Load()
	if result.AlreadyAuthorized || result.Info == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, authorizeResponse{
		AuthorizeID:      result.Info.CorrelationID,
		URL:              result.Info.ProviderRedirectURL,
		PreviouslyDenied: result.Info.PreviouslyDenied,
		CreationDate:     result.Info.CreatedAt.UTC(),
	})
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collector := gocmd.NewResult[core.CompletionResult]()
	msg := shimscommand.NewCompleteAuthorizationMessage(core.CallbackParamsFromQuery(r.URL.Query()))
	if err := h.commands.CompleteAuthorization.Execute(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		h.fail(ctx, w, r, err)
		return
	}
	completion, _ := collector.Load()
	if strings.TrimSpace(completion.ClientRedirectURL) == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, completion.ClientRedirectURL, http.StatusFound)
}

type dataResponse struct {
	Metadata map[string]any   `json:"metadata"`
	Data     []core.DataPoint `json:"data"`
}

func (h *Handler) handleReadData(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := h.readRequest(r)
	if err != nil {
		h.fail(ctx, w, r, err)
		return
	}
	result, err := h.queries.ReadData.Query(ctx, shimsquery.ReadDataMessage{Request: req})
	if err != nil {
		h.fail(ctx, w, r, err)
		return
	}
	metadata := result.Metadata
	if metadata == nil {
		metadata = map[string]any{"count": result.Count}
	}
	writeJSON(w, http.StatusOK, dataResponse{Metadata: metadata, Data: result.Points})
}

func (h *Handler) handleListSchemas(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	schemas, err := h.queries.ListSchemas.Query(ctx, shimsquery.ListSchemasMessage{
		Domain: r.URL.Query().Get("domain"),
	})
	if err != nil {
		h.fail(ctx, w, r, err)
		return
	}
	if schemas == nil {
		schemas = []shimsquery.SchemaDescriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schemas": schemas})
}

func (h *Handler) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	version, err := intParam(r, "version")
	if err != nil {
		h.fail(ctx, w, r, err)
		return
	}
	schema, err := h.queries.GetSchema.Query(ctx, shimsquery.GetSchemaMessage{
		SchemaID: chi.URLParam(r, "schema_id"),
		Version:  version,
	})
	if err != nil {
		h.fail(ctx, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (h *Handler) readRequest(r *http.Request) (core.ReadRequest, error) {
	authn, err := h.authentication(r)
	if err != nil {
		return core.ReadRequest{}, err
	}
	authz, err := h.authorization(r)
	if err != nil {
		return core.ReadRequest{}, err
	}

	query := r.URL.Query()
	req := core.ReadRequest{
		SchemaID:       chi.URLParam(r, "schema_id"),
		Owner:          strings.TrimSpace(query.Get("owner")),
		Authentication: authn,
		Authorization:  authz,
		Columns:        splitColumns(query.Get("column_list")),
	}
	if req.Version, err = intParam(r, "version"); err != nil {
		return core.ReadRequest{}, err
	}
	if req.Skip, err = intParam(r, "num_to_skip"); err != nil {
		return core.ReadRequest{}, err
	}
	if req.Limit, err = intParam(r, "num_to_return"); err != nil {
		return core.ReadRequest{}, err
	}
	if req.Start, err = timeParam(r, "t_start"); err != nil {
		return core.ReadRequest{}, err
	}
	if req.End, err = timeParam(r, "t_end"); err != nil {
		return core.ReadRequest{}, err
	}
	return req, nil
}

// authentication returns nil when no bearer token was presented. Expired
// credentials are returned as is; each endpoint decides whether it needs one.
func (h *Handler) authentication(r *http.Request) (*core.AuthenticationCredential, error) {
	token := auth.BearerToken(r.Header.Get("Authorization"))
	if token == "" {
		return nil, nil
	}
	credential, err := h.verifier.VerifyAuthentication(token)
	if err != nil {
		return nil, err
	}
	return &credential, nil
}

func (h *Handler) authorization(r *http.Request) (*core.AuthorizationCredential, error) {
	token := auth.BearerToken(r.Header.Get(AuthorizationHeader))
	if token == "" {
		return nil, nil
	}
	credential, err := h.verifier.VerifyAuthorization(token)
	if err != nil {
		return nil, err
	}
	return &credential, nil
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	status := writeError(w, err)
	args := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", status,
		"request_id", middleware.GetReqID(ctx),
		"error", err.Error(),
	}
	if status >= http.StatusInternalServerError {
		h.logger.WithContext(ctx).Error("request failed", args...)
		return
	}
	h.logger.WithContext(ctx).Warn("request rejected", args...)
}

func intParam(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apiValidationError(name+" must be an integer", name)
	}
	return value, nil
}

// timeParam accepts RFC 3339 timestamps and plain dates.
func timeParam(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02"} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			parsed = parsed.UTC()
			return &parsed, nil
		}
	}
	return nil, apiValidationError(name+" must be an RFC 3339 timestamp or a date", name)
}

func splitColumns(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	columns := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			columns = append(columns, part)
		}
	}
	return columns
}
