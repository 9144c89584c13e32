package sqlstore

import (
	"context"
	"fmt"
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-shims/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DataStore serves first-party schemas written by this server rather than
// pulled from a provider.
type DataStore struct {
	db      *bun.DB
	schemas repository.Repository[*schemaRecord]
	points  repository.Repository[*dataPointRecord]
}

func NewDataStore(db *bun.DB) (*DataStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	schemas := repository.NewRepository[*schemaRecord](db, schemaHandlers())
	points := repository.NewRepository[*dataPointRecord](db, dataPointHandlers())
	for name, repo := range map[string]any{"schema": schemas, "data point": points} {
		if validator, ok := repo.(repository.Validator); ok {
			if err := validator.Validate(); err != nil {
				return nil, fmt.Errorf("sqlstore: invalid %s repository wiring: %w", name, err)
			}
		}
	}
	return &DataStore{db: db, schemas: schemas, points: points}, nil
}

// RegisterSchema publishes a schema version; registering it twice is a no-op.
func (s *DataStore) RegisterSchema(ctx context.Context, schema core.Schema) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: data store is not configured")
	}
	schemaID, err := core.ParseSchemaID(schema.ID)
	if err != nil {
		return err
	}
	version := schema.Version
	if version <= 0 {
		version = 1
	}
	definition := schema.Definition
	if definition == nil {
		definition = map[string]any{}
	}
	_, err = s.db.NewInsert().
		Model(&schemaRecord{
			ID:         uuid.NewString(),
			SchemaID:   schemaID.String(),
			Version:    version,
			Definition: definition,
		}).
		On("CONFLICT (schema_id, version) DO NOTHING").
		Exec(ctx)
	return err
}

// Append stores points as given; callers set the owner and schema version.
func (s *DataStore) Append(ctx context.Context, points ...core.DataPoint) error {
	if s == nil || s.points == nil {
		return fmt.Errorf("sqlstore: data store is not configured")
	}
	if len(points) == 0 {
		return nil
	}
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, point := range points {
			owner := strings.TrimSpace(point.Owner)
			if owner == "" {
				return core.NewValidationError("data point owner is required", "owner")
			}
			version := point.Version
			if version <= 0 {
				version = 1
			}
			data := point.Data
			if data == nil {
				data = map[string]any{}
			}
			if _, err := s.points.CreateTx(ctx, tx, &dataPointRecord{
				ID:        uuid.NewString(),
				Owner:     owner,
				SchemaID:  strings.TrimSpace(point.SchemaID),
				Version:   version,
				Timestamp: point.Timestamp.UTC(),
				Data:      data,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *DataStore) HasSchema(ctx context.Context, schemaID string, version int) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: data store is not configured")
	}
	return s.db.NewSelect().
		Model((*schemaRecord)(nil)).
		Where("?TableAlias.schema_id = ?", strings.TrimSpace(schemaID)).
		Where("?TableAlias.version = ?", version).
		Exists(ctx)
}

func (s *DataStore) Read(ctx context.Context, query core.DataQuery) (core.DataPage, error) {
	if s == nil || s.points == nil {
		return core.DataPage{}, fmt.Errorf("sqlstore: data store is not configured")
	}
	if query.Limit <= 0 {
		return core.DataPage{Points: []core.DataPoint{}}, nil
	}
	skip := query.Skip
	if skip < 0 {
		skip = 0
	}
	selectors := []repository.SelectCriteria{
		repository.SelectBy("owner", "=", strings.TrimSpace(query.Owner)),
		repository.SelectBy("schema_id", "=", strings.TrimSpace(query.SchemaID)),
		repository.SelectBy("version", "=", query.Version),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Order("timestamp ASC", "id ASC")
		}),
		repository.SelectPaginate(query.Limit, skip),
	}
	if query.Start != nil {
		start := query.Start.UTC()
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.timestamp >= ?", start)
		}))
	}
	if query.End != nil {
		end := query.End.UTC()
		selectors = append(selectors, repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.timestamp <= ?", end)
		}))
	}
	records, total, err := s.points.List(ctx, selectors...)
	if err != nil {
		return core.DataPage{}, err
	}
	points := make([]core.DataPoint, 0, len(records))
	for _, record := range records {
		points = append(points, record.toDomain())
	}
	return core.DataPage{Points: core.ProjectColumns(points, query.Columns), Total: total}, nil
}

func (r *dataPointRecord) toDomain() core.DataPoint {
	return core.DataPoint{
		Owner:     r.Owner,
		SchemaID:  r.SchemaID,
		Version:   r.Version,
		Timestamp: r.Timestamp.UTC(),
		Data:      copyAnyMap(r.Data),
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var _ core.DataStore = (*DataStore)(nil)
