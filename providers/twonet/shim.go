package twonet

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-shims/core"
	"github.com/goliatone/go-shims/providers"
	"github.com/google/uuid"
)

const Domain = "twonet"

const DefaultPartnerURL = "https://twonetcom.qualcomm.com/kernel/partner/"

type Config struct {
	Provider   core.ProviderConfig
	PartnerURL string
	Transport  core.TransportAdapter
	Timeout    time.Duration
	Now        func() time.Time
	// NewGUID mints the partner-side user guid; defaults to a random uuid.
	NewGUID func() string
	Logger  core.Logger
}

// Shim talks to the 2net partner API with the server's own credentials. Users
// never see a consent page: authorization registers them and their devices.
type Shim struct {
	providers.BaseShim
	cfg Config
}

func New(cfg Config) (*Shim, error) {
	if strings.TrimSpace(cfg.PartnerURL) == "" {
		cfg.PartnerURL = DefaultPartnerURL
	}
	if base := strings.TrimSpace(cfg.Provider.BaseURL); base != "" {
		cfg.PartnerURL = base
	}
	if !strings.HasSuffix(cfg.PartnerURL, "/") {
		cfg.PartnerURL += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = providers.DefaultRequestTimeout
	}
	if cfg.NewGUID == nil {
		cfg.NewGUID = uuid.NewString
	}
	cfg.Transport = providers.ResolveTransport(cfg.Transport)

	shim := &Shim{cfg: cfg}
	engine, err := providers.NewFakedEngine(providers.FakedConfig{
		Domain:       Domain,
		PreAuthorize: shim.register,
		Now:          cfg.Now,
		Logger:       cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	shim.BaseShim = providers.NewBaseShim(Domain, engine, schemas()...)
	return shim, nil
}

// register creates a partner user and one track per supported device. The
// returned guids become the token extras.
func (s *Shim) register(ctx context.Context, _ core.BeginAuthorizationRequest) (map[string]string, error) {
	userGUID := s.cfg.NewGUID()
	if _, err := s.call(ctx, "register", map[string]any{
		"registerRequest": map[string]any{"guid": userGUID},
	}); err != nil {
		return nil, err
	}
	guids := map[string]string{ExtraUser: userGUID}
	for _, item := range devices {
		body, err := s.call(ctx, "user/track/register", map[string]any{
			"trackRegistrationRequest": map[string]any{
				"guid":         userGUID,
				"type":         "2net",
				"registerType": "properties",
				"properties": map[string]any{
					"property": []map[string]string{
						{"name": "make", "value": item.make},
						{"name": "model", "value": item.model},
						{"name": "serialNumber", "value": item.serial},
					},
				},
			},
		})
		if err != nil {
			return nil, err
		}
		var payload struct {
			Response struct {
				TrackDetail struct {
					GUID string `json:"guid"`
				} `json:"trackDetail"`
			} `json:"trackRegistrationResponse"`
		}
		if err := json.Unmarshal(body, &payload); err != nil || strings.TrimSpace(payload.Response.TrackDetail.GUID) == "" {
			return nil, providers.MalformedResponse(Domain, "track_register", "track guid is missing for "+item.key)
		}
		guids[item.key] = payload.Response.TrackDetail.GUID
	}
	return guids, nil
}

// FetchData reads the device track behind the schema, orders the measures by
// time and pages over them.
func (s *Shim) FetchData(ctx context.Context, req core.FetchRequest) (core.FetchResult, error) {
	schemaID, err := s.ResolveSchema(req)
	if err != nil {
		return core.FetchResult{}, err
	}
	typ, ok := dataTypes[schemaID.Type]
	if !ok {
		return core.FetchResult{}, core.NewValidationError("twonet does not serve "+schemaID.Type, "schema_id")
	}
	extras, err := req.Token.Extras.StringMap()
	if err != nil {
		return core.FetchResult{}, err
	}
	userGUID := strings.TrimSpace(extras[ExtraUser])
	trackGUID := strings.TrimSpace(extras[typ.device])
	if userGUID == "" || trackGUID == "" {
		return core.FetchResult{}, core.NewAuthorizationError(
			"twonet registration is incomplete, authorize again",
			map[string]any{"domain": Domain, "username": req.Token.Username, "device": typ.device},
		)
	}

	request := map[string]any{"guid": userGUID, "trackGuid": trackGUID}
	filter := map[string]any{}
	if req.Start != nil {
		filter["startDate"] = req.Start.Unix()
	}
	if req.End != nil {
		filter["endDate"] = req.End.Unix()
	}
	if len(filter) > 0 {
		request["filter"] = filter
	}
	body, err := s.call(ctx, "user/track/filtered", map[string]any{"trackRequest": request})
	if err != nil {
		return core.FetchResult{}, err
	}
	measures, err := decodeMeasures(body)
	if err != nil {
		return core.FetchResult{}, providers.MalformedResponse(Domain, "track_filtered", err.Error())
	}

	points := make([]core.DataPoint, 0, len(measures))
	for _, measure := range measures {
		at, value, err := measure.read(typ)
		if err != nil {
			return core.FetchResult{}, providers.MalformedResponse(Domain, "track_filtered", err.Error())
		}
		points = append(points, core.DataPoint{
			Owner:     req.Token.Username,
			SchemaID:  schemaID.String(),
			Version:   1,
			Timestamp: at,
			Data:      map[string]any{schemaID.Type: value},
		})
	}
	core.SortDataPoints(points)
	limit := req.Limit
	if limit <= 0 {
		limit = -1
	}
	return core.FetchResult{Points: core.PageDataPoints(points, req.Skip, limit)}, nil
}

func (s *Shim) call(ctx context.Context, path string, payload any) ([]byte, error) {
	key := strings.TrimSpace(s.cfg.Provider.ConsumerKey)
	secret := strings.TrimSpace(s.cfg.Provider.ConsumerSecret)
	if key == "" || secret == "" {
		return nil, providers.ConfigError(Domain, "partner key and secret are not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	operation := strings.ReplaceAll(path, "/", "_")
	res, err := s.cfg.Transport.Do(ctx, core.TransportRequest{
		Method: http.MethodPost,
		URL:    s.cfg.PartnerURL + path,
		Headers: map[string]string{
			"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte(key+":"+secret)),
			"Accept":        "application/json",
			"Content-Type":  "application/json",
		},
		Body:    body,
		Timeout: s.cfg.Timeout,
	})
	if err != nil {
		return nil, core.NewProviderError(err, "providers: twonet: "+operation+" request failed", map[string]any{
			"domain":    Domain,
			"operation": operation,
		})
	}
	if err := providers.ExpectStatus(Domain, operation, res); err != nil {
		return nil, err
	}
	return res.Body, nil
}

type measure map[string]json.RawMessage

func decodeMeasures(body []byte) ([]measure, error) {
	var payload struct {
		Response *struct {
			Measures *struct {
				Measure json.RawMessage `json:"measure"`
			} `json:"measures"`
		} `json:"trackResponse"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}
	if payload.Response == nil {
		return nil, errMissing("trackResponse")
	}
	if payload.Response.Measures == nil {
		return []measure{}, nil
	}
	raw := bytes.TrimSpace(payload.Response.Measures.Measure)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []measure{}, nil
	}
	// A track with a single reading comes back as an object.
	if raw[0] == '{' {
		var single measure
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, err
		}
		return []measure{single}, nil
	}
	var list []measure
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m measure) read(typ dataType) (time.Time, float64, error) {
	seconds, err := number(m["time"])
	if err != nil {
		return time.Time{}, 0, errMissing("measure time")
	}
	var group map[string]json.RawMessage
	if err := json.Unmarshal(m[typ.measureType], &group); err != nil || group == nil {
		return time.Time{}, 0, errMissing(typ.measureType + " measure")
	}
	value, err := number(group[typ.measureName])
	if err != nil {
		return time.Time{}, 0, errMissing(typ.measureType + "." + typ.measureName)
	}
	return time.Unix(int64(seconds), 0).UTC(), value, nil
}

// number accepts both JSON numbers and numeric strings.
func number(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
		return strconv.ParseFloat(strings.TrimSpace(text), 64)
	}
	var value float64
	if len(raw) == 0 {
		return 0, errMissing("value")
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, err
	}
	return value, nil
}

type missingField string

func (f missingField) Error() string { return string(f) + " is missing" }

func errMissing(field string) error { return missingField(field) }

var _ core.Shim = (*Shim)(nil)
