package core

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// ReadData resolves whose data is requested, gates access on the presented
// credentials and then reads from a shim or the first-party store.
func (s *Service) ReadData(ctx context.Context, req ReadRequest) (result ReadResult, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{
		"schema_id": strings.TrimSpace(req.SchemaID),
	}
	defer func() {
		s.observeOperation(ctx, startedAt, "read_data", err, fields)
	}()

	schemaID, err := ParseSchemaID(req.SchemaID)
	if err != nil {
		return ReadResult{}, s.mapError(err)
	}
	fields["domain"] = schemaID.Domain

	owner, err := s.authorizeRead(req, schemaID.String())
	if err != nil {
		return ReadResult{}, s.mapError(err)
	}
	fields["username"] = owner

	window, err := s.normalizeWindow(req)
	if err != nil {
		return ReadResult{}, s.mapError(err)
	}

	var points []DataPoint
	count := 0
	if s.registry.Has(schemaID.Domain) {
		fields["source"] = "shim"
		points, err = s.readFromShim(ctx, owner, schemaID, window)
		if err != nil {
			return ReadResult{}, s.mapError(err)
		}
		count = len(points)
	} else {
		fields["source"] = "store"
		var page DataPage
		page, err = s.readFromStore(ctx, owner, schemaID, window)
		if err != nil {
			return ReadResult{}, s.mapError(err)
		}
		points = page.Points
		count = len(page.Points)
		fields["total"] = page.Total
	}
	if points == nil {
		points = []DataPoint{}
	}
	fields["count"] = count

	return ReadResult{
		Points:   points,
		Count:    count,
		Metadata: map[string]any{"count": count},
	}, nil
}

// authorizeRead picks the owner from the explicit parameter, then the
// authorization credential, then the authentication credential.
func (s *Service) authorizeRead(req ReadRequest, schemaID string) (string, error) {
	authn := req.Authentication
	authz := req.Authorization
	if authn != nil && strings.TrimSpace(authn.Subject) == "" {
		authn = nil
	}
	if authz != nil && strings.TrimSpace(authz.Subject) == "" {
		authz = nil
	}
	if authn == nil && authz == nil {
		return "", NewAuthenticationError("authentication required")
	}

	owner := strings.TrimSpace(req.Owner)
	if owner == "" && authz != nil {
		owner = strings.TrimSpace(authz.Subject)
	}
	if owner == "" && authn != nil {
		owner = strings.TrimSpace(authn.Subject)
	}

	now := s.now()
	switch {
	case authn != nil && owner == strings.TrimSpace(authn.Subject):
		if authn.Expired(now) {
			return "", NewAuthenticationError("authentication expired, log in again")
		}
		return owner, nil
	case authz != nil && owner == strings.TrimSpace(authz.Subject):
		if authz.Expired(now) {
			return "", NewAuthorizationError("authorization credential expired", map[string]any{
				"schema_id": schemaID,
			})
		}
		if !authz.Covers(schemaID) {
			return "", NewAuthorizationError("insufficient credentials", map[string]any{
				"schema_id": schemaID,
			})
		}
		return owner, nil
	default:
		return "", NewAuthorizationError("insufficient credentials", map[string]any{
			"schema_id": schemaID,
		})
	}
}

type readWindow struct {
	version int
	start   *time.Time
	end     *time.Time
	columns []string
	skip    int
	limit   int
}

func (s *Service) normalizeWindow(req ReadRequest) (readWindow, error) {
	if req.Skip < 0 {
		return readWindow{}, NewValidationError("num_to_skip must not be negative", "num_to_skip")
	}
	if req.Limit < 0 {
		return readWindow{}, NewValidationError("num_to_return must not be negative", "num_to_return")
	}
	if req.Start != nil && req.End != nil && req.End.Before(*req.Start) {
		return readWindow{}, NewValidationError("t_end must not precede t_start", "t_end")
	}
	limit := req.Limit
	if limit == 0 {
		limit = s.config.Read.DefaultLimit
		if limit <= 0 {
			limit = 100
		}
	}
	if maxLimit := s.config.Read.MaxLimit; maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	version := req.Version
	if version <= 0 {
		version = 1
	}
	columns := make([]string, 0, len(req.Columns))
	for _, column := range req.Columns {
		if column = strings.TrimSpace(column); column != "" {
			columns = append(columns, column)
		}
	}
	return readWindow{
		version: version,
		start:   req.Start,
		end:     req.End,
		columns: columns,
		skip:    req.Skip,
		limit:   limit,
	}, nil
}

func (s *Service) readFromShim(ctx context.Context, owner string, schemaID SchemaID, window readWindow) ([]DataPoint, error) {
	shim, err := s.registry.Get(schemaID.Domain)
	if err != nil {
		return nil, err
	}
	token, found, err := s.tokenStore.Latest(ctx, owner, schemaID.Domain)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, NewAuthorizationError(
			"user has not yet authorized "+schemaID.Domain+", authorize first",
			map[string]any{"domain": schemaID.Domain, "username": owner},
		)
	}

	fetched, err := shim.FetchData(ctx, FetchRequest{
		SchemaID: schemaID.String(),
		Version:  window.version,
		Token:    token,
		Start:    window.start,
		End:      window.end,
		Columns:  window.columns,
		Skip:     window.skip,
		Limit:    window.limit,
	})
	if err != nil {
		return nil, err
	}
	if fetched.RefreshedToken != nil {
		refreshed := *fetched.RefreshedToken
		refreshed.Username = owner
		refreshed.Domain = schemaID.Domain
		if err := refreshed.Validate(); err != nil {
			return nil, err
		}
		stored, err := s.tokenStore.Insert(ctx, refreshed)
		if err != nil {
			return nil, err
		}
		s.scheduleRefresh(ctx, stored)
	}
	points := fetched.Points
	for index := range points {
		if points[index].Owner == "" {
			points[index].Owner = owner
		}
	}
	return ProjectColumns(points, window.columns), nil
}

func (s *Service) readFromStore(ctx context.Context, owner string, schemaID SchemaID, window readWindow) (DataPage, error) {
	known, err := s.dataStore.HasSchema(ctx, schemaID.String(), window.version)
	if err != nil {
		return DataPage{}, err
	}
	if !known {
		return DataPage{}, wrapShimError(ErrSchemaNotFound, goerrors.CategoryNotFound, "schema "+schemaID.String()+" not found",
			map[string]any{"schema_id": schemaID.String(), "version": window.version},
		)
	}
	return s.dataStore.Read(ctx, DataQuery{
		Owner:    owner,
		SchemaID: schemaID.String(),
		Version:  window.version,
		Start:    window.start,
		End:      window.end,
		Columns:  window.columns,
		Skip:     window.skip,
		Limit:    window.limit,
	})
}
