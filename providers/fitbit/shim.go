package fitbit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-shims/core"
	"github.com/goliatone/go-shims/providers"
	"golang.org/x/sync/errgroup"
)

const Domain = "fitbit"

const (
	DefaultAPIBaseURL         = "https://api.fitbit.com"
	DefaultRequestTokenURL    = "https://api.fitbit.com/oauth/request_token"
	DefaultAuthorizeURL       = "https://www.fitbit.com/oauth/authorize"
	DefaultAccessTokenURL     = "https://api.fitbit.com/oauth/access_token"
	DefaultOAuth2AuthorizeURL = "https://www.fitbit.com/oauth2/authorize"
	DefaultOAuth2TokenURL     = "https://api.fitbit.com/oauth2/token"

	// maxConcurrentDays bounds the per-day calls issued for one read.
	maxConcurrentDays = 4
	// maxDays bounds the window a single read may expand to.
	maxDays = 1000
)

type Config struct {
	Provider           core.ProviderConfig
	APIBaseURL         string
	RequestTokenURL    string
	AuthorizeURL       string
	AccessTokenURL     string
	OAuth2AuthorizeURL string
	OAuth2TokenURL     string
	Transport          core.TransportAdapter
	Timeout            time.Duration
	Now                func() time.Time
	Nonce              func() string
	Logger             core.Logger
}

func DefaultConfig() Config {
	return Config{
		APIBaseURL:         DefaultAPIBaseURL,
		RequestTokenURL:    DefaultRequestTokenURL,
		AuthorizeURL:       DefaultAuthorizeURL,
		AccessTokenURL:     DefaultAccessTokenURL,
		OAuth2AuthorizeURL: DefaultOAuth2AuthorizeURL,
		OAuth2TokenURL:     DefaultOAuth2TokenURL,
		Timeout:            providers.DefaultRequestTimeout,
	}
}

// Shim reads one point per calendar day from the Fitbit API.
type Shim struct {
	providers.BaseShim
	cfg       Config
	oauth1    *providers.OAuth1Engine
	oauth2    *providers.OAuth2Engine
	refresher *providers.TokenRefresher
	transport core.TransportAdapter
	now       func() time.Time
}

func New(cfg Config) (*Shim, error) {
	defaults := DefaultConfig()
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaults.APIBaseURL
	}
	if strings.TrimSpace(cfg.RequestTokenURL) == "" {
		cfg.RequestTokenURL = defaults.RequestTokenURL
	}
	if strings.TrimSpace(cfg.AuthorizeURL) == "" {
		cfg.AuthorizeURL = defaults.AuthorizeURL
	}
	if strings.TrimSpace(cfg.AccessTokenURL) == "" {
		cfg.AccessTokenURL = defaults.AccessTokenURL
	}
	if strings.TrimSpace(cfg.OAuth2AuthorizeURL) == "" {
		cfg.OAuth2AuthorizeURL = defaults.OAuth2AuthorizeURL
	}
	if strings.TrimSpace(cfg.OAuth2TokenURL) == "" {
		cfg.OAuth2TokenURL = defaults.OAuth2TokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if base := strings.TrimSpace(cfg.Provider.BaseURL); base != "" {
		cfg.APIBaseURL = base
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	cfg.Transport = providers.ResolveTransport(cfg.Transport)

	shim := &Shim{
		cfg:       cfg,
		refresher: providers.NewTokenRefresher(cfg.Now),
		transport: cfg.Transport,
		now:       cfg.Now,
	}
	var engine core.AuthorizationEngine
	if strings.EqualFold(strings.TrimSpace(cfg.Provider.AuthMode), core.AuthModeOAuth2) {
		oauth2, err := providers.NewOAuth2Engine(providers.OAuth2Config{
			Domain:       Domain,
			ClientID:     cfg.Provider.ClientID,
			ClientSecret: cfg.Provider.ClientSecret,
			AuthorizeURL: cfg.OAuth2AuthorizeURL,
			TokenURL:     cfg.OAuth2TokenURL,
			Scope:        strings.TrimSpace(cfg.Provider.Scope),
			ExtraFields:  []string{"user_id"},
			Transport:    cfg.Transport,
			Timeout:      cfg.Timeout,
			Now:          cfg.Now,
			Logger:       cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		shim.oauth2 = oauth2
		engine = oauth2
	} else {
		oauth1, err := providers.NewOAuth1Engine(providers.OAuth1Config{
			Domain:          Domain,
			ConsumerKey:     cfg.Provider.ConsumerKey,
			ConsumerSecret:  cfg.Provider.ConsumerSecret,
			RequestTokenURL: cfg.RequestTokenURL,
			AuthorizeURL:    cfg.AuthorizeURL,
			AccessTokenURL:  cfg.AccessTokenURL,
			Transport:       cfg.Transport,
			Timeout:         cfg.Timeout,
			Now:             cfg.Now,
			Nonce:           cfg.Nonce,
			Logger:          cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		shim.oauth1 = oauth1
		engine = oauth1
	}
	shim.BaseShim = providers.NewBaseShim(Domain, engine, schemas()...)
	return shim, nil
}

// FetchData returns one point per day in the window, skipping whole days so
// only the days on the requested page are fetched.
func (s *Shim) FetchData(ctx context.Context, req core.FetchRequest) (core.FetchResult, error) {
	schemaID, err := s.ResolveSchema(req)
	if err != nil {
		return core.FetchResult{}, err
	}
	token, refreshed, err := s.refresher.Ensure(ctx, s.AuthorizationEngine(), req.Token)
	if err != nil {
		return core.FetchResult{}, err
	}

	days := s.pageDays(req)
	points := make([]core.DataPoint, len(days))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(maxConcurrentDays)
	for index, day := range days {
		group.Go(func() error {
			data, err := s.fetchDay(groupCtx, schemaID.Type, token, day)
			if err != nil {
				return err
			}
			points[index] = core.DataPoint{
				Owner:     token.Username,
				SchemaID:  schemaID.String(),
				Version:   1,
				Timestamp: day,
				Data:      data,
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return core.FetchResult{}, err
	}
	return core.FetchResult{Points: points, RefreshedToken: refreshed}, nil
}

// pageDays expands [start, end] into calendar days and applies skip/limit.
// A missing start means the end day (or today); a missing end means today.
func (s *Shim) pageDays(req core.FetchRequest) []time.Time {
	today := truncateDay(s.now())
	var first, last time.Time
	switch {
	case req.Start == nil && req.End == nil:
		first, last = today, today
	case req.Start == nil:
		first = truncateDay(*req.End)
		last = first
	case req.End == nil:
		first, last = truncateDay(*req.Start), today
	default:
		first, last = truncateDay(*req.Start), truncateDay(*req.End)
	}
	if last.Before(first) {
		return []time.Time{}
	}
	total := int(last.Sub(first).Hours()/24) + 1
	if total > maxDays {
		total = maxDays
	}
	skip := req.Skip
	if skip < 0 {
		skip = 0
	}
	if skip >= total {
		return []time.Time{}
	}
	count := total - skip
	if req.Limit > 0 && req.Limit < count {
		count = req.Limit
	}
	days := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		days = append(days, first.AddDate(0, 0, skip+i))
	}
	return days
}

func (s *Shim) fetchDay(ctx context.Context, dataType string, token core.AuthorizationToken, day time.Time) (map[string]any, error) {
	date := day.Format("2006-01-02")
	var path string
	switch dataType {
	case TypeActivity:
		path = "/1/user/-/activities/date/" + date + ".json"
	case TypeSleep:
		path = "/1/user/-/sleep/date/" + date + ".json"
	case TypeSteps:
		path = "/1/user/-/activities/steps/date/" + date + "/1d.json"
	default:
		return nil, core.NewValidationError("fitbit does not serve "+dataType, "schema_id")
	}
	req := core.TransportRequest{
		Method:  http.MethodGet,
		URL:     s.cfg.APIBaseURL + path,
		Headers: map[string]string{"Accept": "application/json"},
		Timeout: s.cfg.Timeout,
	}
	if err := s.authorize(&req, token); err != nil {
		return nil, err
	}

	operation := dataType + "_by_day"
	switch dataType {
	case TypeActivity:
		var payload activityResponse
		if err := providers.DoJSON(ctx, s.transport, Domain, operation, req, &payload); err != nil {
			return nil, err
		}
		return payload.data(), nil
	case TypeSleep:
		var payload sleepResponse
		if err := providers.DoJSON(ctx, s.transport, Domain, operation, req, &payload); err != nil {
			return nil, err
		}
		return map[string]any{
			"minutes_asleep": payload.Summary.TotalMinutesAsleep,
			"time_in_bed":    payload.Summary.TotalTimeInBed,
		}, nil
	default:
		var payload stepsResponse
		if err := providers.DoJSON(ctx, s.transport, Domain, operation, req, &payload); err != nil {
			return nil, err
		}
		steps, err := payload.steps(date)
		if err != nil {
			return nil, providers.MalformedResponse(Domain, operation, err.Error())
		}
		return map[string]any{TypeSteps: steps}, nil
	}
}

func (s *Shim) authorize(req *core.TransportRequest, token core.AuthorizationToken) error {
	if s.oauth2 != nil {
		return s.oauth2.AuthorizeRequest(req, token)
	}
	return s.oauth1.SignRequest(req, token, providers.SignInHeader)
}

type activityResponse struct {
	Summary struct {
		Steps       int64  `json:"steps"`
		CaloriesOut int64  `json:"caloriesOut"`
		Floors      *int64 `json:"floors"`
		Distances   []struct {
			Activity string  `json:"activity"`
			Distance float64 `json:"distance"`
		} `json:"distances"`
	} `json:"summary"`
}

func (r activityResponse) data() map[string]any {
	distance := 0.0
	for _, item := range r.Summary.Distances {
		if item.Activity == "total" {
			distance = item.Distance
			break
		}
	}
	data := map[string]any{
		"steps":        r.Summary.Steps,
		"calories_out": r.Summary.CaloriesOut,
		"distance":     distance,
	}
	if r.Summary.Floors != nil {
		data["floors"] = *r.Summary.Floors
	}
	return data
}

type sleepResponse struct {
	Summary struct {
		TotalMinutesAsleep int64 `json:"totalMinutesAsleep"`
		TotalTimeInBed     int64 `json:"totalTimeInBed"`
	} `json:"summary"`
}

type stepsResponse struct {
	Series []struct {
		DateTime string `json:"dateTime"`
		Value    string `json:"value"`
	} `json:"activities-steps"`
}

func (r stepsResponse) steps(date string) (int64, error) {
	for _, entry := range r.Series {
		if entry.DateTime != date {
			continue
		}
		value, err := strconv.ParseInt(strings.TrimSpace(entry.Value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("steps value %q is not an integer", entry.Value)
		}
		return value, nil
	}
	return 0, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

var _ core.Shim = (*Shim)(nil)
