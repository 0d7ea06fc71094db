package publish

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wheelsup-data/flightschool-etl/internal/model"
)

func expectUpsert(mock pgxmock.PgxPoolIface, table string, columns []string, rows int64) {
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_" + table}, columns).WillReturnResult(rows)
	mock.ExpectExec(`INSERT INTO "` + table + `"`).WillReturnResult(pgxmock.NewResult("INSERT", rows))
	mock.ExpectCommit()
	mock.ExpectRollback()
}

func TestPostgresSink_Publish(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectUpsert(mock, "entities", entityColumns, 1)
	expectUpsert(mock, "entity_fields", fieldColumns, 2)

	sink := NewPostgresWithPool(mock)
	ent := model.NormalizedEntity{
		Key:        "school:example.com",
		EntityType: "pricing",
		Identity:   model.Identity{Domain: "example.com"},
		Fields: map[string]model.NormalizedField{
			"hourly_rate": {
				Value:      150.0,
				Confidence: 0.9,
				Provenance: model.Provenance{
					SourceType:       "school_site",
					SourceURL:        "https://example.com/rates",
					AsOf:             time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC),
					ExtractorVersion: "v2.3.0",
				},
			},
			"total_cost": {
				Value:      6200.0,
				Confidence: 0.4,
				Flags:      []string{"inconsistent"},
			},
		},
	}

	err = sink.Publish(context.Background(), "SNAP-20260828-120000", []model.NormalizedEntity{ent})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_PublishUpsertError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin().WillReturnError(assert.AnError)
	mock.ExpectRollback()

	sink := NewPostgresWithPool(mock)
	err = sink.Publish(context.Background(), "SNAP-20260828-120000", testEntities(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "begin tx")
}

func TestPostgresSink_Migrate(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS entities`).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	sink := NewPostgresWithPool(mock)
	require.NoError(t, sink.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_PublishRejections(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"rejections"},
		[]string{"snapshot_id", "entity_key", "seed_id", "field", "value", "stage", "reason"}).
		WillReturnResult(2)

	sink := NewPostgresWithPool(mock)
	rejections := []model.Rejection{
		{EntityKey: "school:a.com", Field: "hourly_rate", Value: 5.0, Stage: "normalize", Reason: "rate outside range"},
		{SeedID: "seed-7", Stage: "extract", Reason: "document below quality threshold"},
	}
	require.NoError(t, sink.PublishRejections(context.Background(), "SNAP-20260828-120000", rejections))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSink_Name(t *testing.T) {
	assert.Equal(t, "postgres", NewPostgresWithPool(nil).Name())
}
