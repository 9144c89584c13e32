package withings

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-shims/core"
	"github.com/goliatone/go-shims/providers"
)

const Domain = "withings"

const (
	DefaultMeasureURL      = "https://wbsapi.withings.net/measure"
	DefaultRequestTokenURL = "https://oauth.withings.com/account/request_token"
	DefaultAuthorizeURL    = "https://oauth.withings.com/account/authorize"
	DefaultAccessTokenURL  = "https://oauth.withings.com/account/access_token"

	// ExtraUserID is the token extra holding the Withings user id that the
	// provider appends to the authorization callback.
	ExtraUserID = "userid"
)

type Config struct {
	Provider        core.ProviderConfig
	MeasureURL      string
	RequestTokenURL string
	AuthorizeURL    string
	AccessTokenURL  string
	Transport       core.TransportAdapter
	Timeout         time.Duration
	Now             func() time.Time
	Nonce           func() string
	Logger          core.Logger
}

type Shim struct {
	providers.BaseShim
	cfg    Config
	engine *providers.OAuth1Engine
}

func New(cfg Config) (*Shim, error) {
	if strings.TrimSpace(cfg.MeasureURL) == "" {
		cfg.MeasureURL = DefaultMeasureURL
	}
	if base := strings.TrimSpace(cfg.Provider.BaseURL); base != "" {
		cfg.MeasureURL = strings.TrimRight(base, "/") + "/measure"
	}
	if strings.TrimSpace(cfg.RequestTokenURL) == "" {
		cfg.RequestTokenURL = DefaultRequestTokenURL
	}
	if strings.TrimSpace(cfg.AuthorizeURL) == "" {
		cfg.AuthorizeURL = DefaultAuthorizeURL
	}
	if strings.TrimSpace(cfg.AccessTokenURL) == "" {
		cfg.AccessTokenURL = DefaultAccessTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = providers.DefaultRequestTimeout
	}
	cfg.Transport = providers.ResolveTransport(cfg.Transport)

	engine, err := providers.NewOAuth1Engine(providers.OAuth1Config{
		Domain:          Domain,
		ConsumerKey:     cfg.Provider.ConsumerKey,
		ConsumerSecret:  cfg.Provider.ConsumerSecret,
		RequestTokenURL: cfg.RequestTokenURL,
		AuthorizeURL:    cfg.AuthorizeURL,
		AccessTokenURL:  cfg.AccessTokenURL,
		CallbackExtras:  []string{ExtraUserID},
		Transport:       cfg.Transport,
		Timeout:         cfg.Timeout,
		Now:             cfg.Now,
		Nonce:           cfg.Nonce,
		Logger:          cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Shim{
		BaseShim: providers.NewBaseShim(Domain, engine, schemas()...),
		cfg:      cfg,
		engine:   engine,
	}, nil
}

// FetchData pulls every measure group in the window in one call, keeps the
// measures of the requested type and pages over them by date.
func (s *Shim) FetchData(ctx context.Context, req core.FetchRequest) (core.FetchResult, error) {
	schemaID, err := s.ResolveSchema(req)
	if err != nil {
		return core.FetchResult{}, err
	}
	measureType, ok := measureTypes[schemaID.Type]
	if !ok {
		return core.FetchResult{}, core.NewValidationError("withings does not serve "+schemaID.Type, "schema_id")
	}
	extras, err := req.Token.Extras.StringMap()
	if err != nil {
		return core.FetchResult{}, err
	}
	userID := strings.TrimSpace(extras[ExtraUserID])
	if userID == "" {
		return core.FetchResult{}, core.NewAuthorizationError(
			"withings authorization is missing the user id, authorize again",
			map[string]any{"domain": Domain, "username": req.Token.Username},
		)
	}

	query := map[string]string{
		"action":  "getmeas",
		"devtype": "1",
		"userid":  userID,
	}
	if req.Start != nil {
		query["startdate"] = strconv.FormatInt(req.Start.Unix(), 10)
	}
	if req.End != nil {
		query["enddate"] = strconv.FormatInt(req.End.Unix(), 10)
	}
	call := core.TransportRequest{
		Method:  http.MethodGet,
		URL:     s.cfg.MeasureURL,
		Query:   query,
		Timeout: s.cfg.Timeout,
	}
	if err := s.engine.SignRequest(&call, req.Token, providers.SignInQuery); err != nil {
		return core.FetchResult{}, err
	}

	var payload measureResponse
	if err := providers.DoJSON(ctx, s.cfg.Transport, Domain, "getmeas", call, &payload); err != nil {
		return core.FetchResult{}, err
	}
	if payload.Status == nil {
		return core.FetchResult{}, providers.MalformedResponse(Domain, "getmeas", "status is missing")
	}
	if *payload.Status != 0 {
		return core.FetchResult{}, providers.ProviderStatusError(Domain, "getmeas", *payload.Status)
	}
	if payload.Body == nil || payload.Body.Groups == nil {
		return core.FetchResult{}, providers.MalformedResponse(Domain, "getmeas", "measure groups are missing")
	}

	points := make([]core.DataPoint, 0, len(payload.Body.Groups))
	for _, group := range payload.Body.Groups {
		if group.Date == nil {
			continue
		}
		for _, measure := range group.Measures {
			if measure.Type == nil || measure.Value == nil || *measure.Type != measureType {
				continue
			}
			points = append(points, core.DataPoint{
				Owner:     req.Token.Username,
				SchemaID:  schemaID.String(),
				Version:   1,
				Timestamp: time.Unix(*group.Date, 0).UTC(),
				Data:      map[string]any{schemaID.Type: scale(*measure.Value, measure.Unit)},
			})
			break
		}
	}
	core.SortDataPoints(points)
	limit := req.Limit
	if limit <= 0 {
		limit = -1
	}
	return core.FetchResult{Points: core.PageDataPoints(points, req.Skip, limit)}, nil
}

type measureResponse struct {
	Status *int `json:"status"`
	Body   *struct {
		Groups []measureGroup `json:"measuregrps"`
	} `json:"body"`
}

type measureGroup struct {
	Date     *int64 `json:"date"`
	Measures []struct {
		Type  *int     `json:"type"`
		Value *float64 `json:"value"`
		Unit  *int     `json:"unit"`
	} `json:"measures"`
}

// scale applies value * 10^unit. Negative exponents divide so decimal
// readings such as 72345e-3 come out as the nearest float to 72.345.
func scale(value float64, unit *int) float64 {
	if unit == nil || *unit == 0 {
		return value
	}
	if *unit < 0 {
		return value / math.Pow10(-*unit)
	}
	return value * math.Pow10(*unit)
}

var _ core.Shim = (*Shim)(nil)
