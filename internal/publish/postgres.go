package publish

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/wheelsup-data/flightschool-etl/internal/db"
	"github.com/wheelsup-data/flightschool-etl/internal/model"
)

// PostgresSink is the store of record. Field upserts are guarded so a lower
// confidence value can never overwrite a higher confidence one already
// published for the same entity and field.
type PostgresSink struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects a PostgresSink with a tuned connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresSink, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresSink{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests.
func NewPostgresWithPool(pool db.Pool) *PostgresSink {
	return &PostgresSink{pool: pool}
}

// Close releases the connection pool.
func (s *PostgresSink) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS entities (
	entity_key    TEXT NOT NULL,
	entity_type   TEXT NOT NULL,
	snapshot_id   TEXT NOT NULL,
	domain        TEXT,
	phone_e164    TEXT,
	facility_code TEXT,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (entity_key, entity_type)
);

CREATE TABLE IF NOT EXISTS entity_fields (
	entity_key        TEXT NOT NULL,
	entity_type       TEXT NOT NULL,
	field             TEXT NOT NULL,
	value             JSONB,
	confidence        DOUBLE PRECISION NOT NULL,
	flags             JSONB,
	snapshot_id       TEXT NOT NULL,
	source_type       TEXT,
	source_url        TEXT,
	as_of             TIMESTAMPTZ,
	extractor_version TEXT,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (entity_key, entity_type, field)
);

CREATE TABLE IF NOT EXISTS rejections (
	snapshot_id TEXT NOT NULL,
	entity_key  TEXT,
	seed_id     TEXT,
	field       TEXT,
	value       JSONB,
	stage       TEXT NOT NULL,
	reason      TEXT NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entity_fields_snapshot ON entity_fields(snapshot_id);
CREATE INDEX IF NOT EXISTS idx_rejections_snapshot ON rejections(snapshot_id);
`

// Migrate creates the publish schema.
func (s *PostgresSink) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

// Name implements Sink.
func (s *PostgresSink) Name() string { return "postgres" }

var entityColumns = []string{"entity_key", "entity_type", "snapshot_id", "domain", "phone_e164", "facility_code", "updated_at"}

var fieldColumns = []string{
	"entity_key", "entity_type", "field", "value", "confidence", "flags",
	"snapshot_id", "source_type", "source_url", "as_of", "extractor_version", "updated_at",
}

// Publish implements Sink. Entity rows always update; field rows update only
// when the incoming confidence is at least the stored one.
func (s *PostgresSink) Publish(ctx context.Context, snapshotID string, batch []model.NormalizedEntity) error {
	now := time.Now().UTC()

	entityRows := make([][]any, 0, len(batch))
	var fieldRows [][]any
	for _, ent := range batch {
		entityRows = append(entityRows, []any{
			ent.Key, ent.EntityType, snapshotID,
			ent.Identity.Domain, ent.Identity.PhoneE164, ent.Identity.FacilityCode,
			now,
		})
		for name, f := range ent.Fields {
			value, err := json.Marshal(f.Value)
			if err != nil {
				return eris.Wrapf(err, "postgres: encode %s.%s", ent.Key, name)
			}
			var flags []byte
			if len(f.Flags) > 0 {
				if flags, err = json.Marshal(f.Flags); err != nil {
					return eris.Wrapf(err, "postgres: encode flags for %s.%s", ent.Key, name)
				}
			}
			fieldRows = append(fieldRows, []any{
				ent.Key, ent.EntityType, name, string(value), f.Confidence, nullableString(flags),
				snapshotID, f.Provenance.SourceType, f.Provenance.SourceURL,
				f.Provenance.AsOf, f.Provenance.ExtractorVersion, now,
			})
		}
	}

	if _, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "entities",
		Columns:      entityColumns,
		ConflictKeys: []string{"entity_key", "entity_type"},
	}, entityRows); err != nil {
		return err
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "entity_fields",
		Columns:      fieldColumns,
		ConflictKeys: []string{"entity_key", "entity_type", "field"},
		UpdateGuard:  "EXCLUDED.confidence >= entity_fields.confidence",
	}, fieldRows)
	return err
}

// PublishRejections appends the snapshot's rejection log. Rejections are
// append-only, so plain COPY is enough.
func (s *PostgresSink) PublishRejections(ctx context.Context, snapshotID string, rejections []model.Rejection) error {
	rows := make([][]any, 0, len(rejections))
	for _, rej := range rejections {
		value, err := json.Marshal(rej.Value)
		if err != nil {
			return eris.Wrap(err, "postgres: encode rejection value")
		}
		rows = append(rows, []any{
			snapshotID, rej.EntityKey, rej.SeedID, rej.Field, string(value), rej.Stage, rej.Reason,
		})
	}
	_, err := db.CopyInto(ctx, s.pool, pgx.Identifier{"rejections"},
		[]string{"snapshot_id", "entity_key", "seed_id", "field", "value", "stage", "reason"}, rows)
	return err
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
