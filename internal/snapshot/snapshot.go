// Package snapshot manages immutable run ledgers. Every pipeline run
// operates under a snapshot id; the SQLite-backed ledger tracks open runs
// and stage counts, and sealing produces a checksummed manifest that gates
// publishing.
package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/wheelsup-data/flightschool-etl/internal/model"
)

// SchemaVersion identifies the manifest layout.
const SchemaVersion = "1"

// NewID generates a snapshot id from the given time: SNAP-YYYYMMDD-HHMMSS.
func NewID(t time.Time) string {
	return "SNAP-" + t.UTC().Format("20060102-150405")
}

// Ledger records snapshot lifecycles in SQLite.
type Ledger struct {
	db      *sql.DB
	dataDir string
}

// NewLedger opens the ledger database and runs migrations. dataDir is where
// sealed manifests are written.
func NewLedger(dsn, dataDir string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: open ledger")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "snapshot: exec %s", pragma)
		}
	}

	l := &Ledger{db: db, dataDir: dataDir}
	if err := l.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

const ledgerMigration = `
CREATE TABLE IF NOT EXISTS snapshots (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL DEFAULT 'open',
	started_at   DATETIME NOT NULL,
	completed_at DATETIME,
	manifest     TEXT
);

CREATE TABLE IF NOT EXISTS snapshot_stages (
	snapshot_id TEXT NOT NULL REFERENCES snapshots(id),
	stage       TEXT NOT NULL,
	processed   INTEGER NOT NULL DEFAULT 0,
	cache_hits  INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	rejected    INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	recorded_at DATETIME NOT NULL,
	PRIMARY KEY (snapshot_id, stage)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_status ON snapshots(status);
`

func (l *Ledger) migrate(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, ledgerMigration)
	return eris.Wrap(err, "snapshot: migrate")
}

// Close closes the ledger database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Open registers a new snapshot run. It fails when a run with the same id
// already exists; in particular a still-open run means a crashed or
// concurrent pipeline, and starting a second one would corrupt its
// artifacts.
func (l *Ledger) Open(ctx context.Context, id string) (*Run, error) {
	var status string
	err := l.db.QueryRowContext(ctx, `SELECT status FROM snapshots WHERE id = ?`, id).Scan(&status)
	switch {
	case err == nil:
		if status == string(model.RunStatusOpen) {
			return nil, eris.Errorf("snapshot: %s is still open", id)
		}
		return nil, eris.Errorf("snapshot: %s already exists with status %s", id, status)
	case err != sql.ErrNoRows:
		return nil, eris.Wrap(err, "snapshot: check existing")
	}

	started := time.Now().UTC()
	_, err = l.db.ExecContext(ctx,
		`INSERT INTO snapshots (id, status, started_at) VALUES (?, ?, ?)`,
		id, string(model.RunStatusOpen), started,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: open %s", id)
	}

	zap.L().Named("snapshot").Info("snapshot opened", zap.String("id", id))
	return &Run{
		ledger:       l,
		id:           id,
		startedAt:    started,
		stages:       make(map[string]model.StageCounts),
		sourceCounts: make(map[string]int),
		entityCounts: make(map[string]int),
		dataHashes:   make(map[string]string),
	}, nil
}

// Run is one open snapshot run. Safe for concurrent use by pipeline stages.
type Run struct {
	ledger    *Ledger
	id        string
	startedAt time.Time

	mu           sync.Mutex
	stages       map[string]model.StageCounts
	sourceCounts map[string]int
	entityCounts map[string]int
	rejections   int
	dataHashes   map[string]string
	sealed       bool
}

// ID returns the snapshot id.
func (r *Run) ID() string { return r.id }

// Record persists stage counts; calling it again for the same stage
// accumulates.
func (r *Run) Record(ctx context.Context, stage string, counts model.StageCounts) error {
	r.mu.Lock()
	total := r.stages[stage]
	total.Add(counts)
	r.stages[stage] = total
	r.mu.Unlock()

	_, err := r.ledger.db.ExecContext(ctx, `
		INSERT INTO snapshot_stages (snapshot_id, stage, processed, cache_hits, skipped, rejected, failed, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (snapshot_id, stage) DO UPDATE SET
			processed = excluded.processed,
			cache_hits = excluded.cache_hits,
			skipped = excluded.skipped,
			rejected = excluded.rejected,
			failed = excluded.failed,
			recorded_at = excluded.recorded_at`,
		r.id, stage, total.Processed, total.CacheHits, total.Skipped, total.Rejected, total.Failed, time.Now().UTC(),
	)
	return eris.Wrapf(err, "snapshot: record stage %s", stage)
}

// AddSourceCount tallies seeds contributed per source.
func (r *Run) AddSourceCount(sourceID string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sourceCounts[sourceID] += n
}

// AddEntityCount tallies published entities per entity type.
func (r *Run) AddEntityCount(entityType string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entityCounts[entityType] += n
}

// AddRejections tallies recorded rejections.
func (r *Run) AddRejections(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejections += n
}

// SetDataHash records the content hash of one stage's durable output.
func (r *Run) SetDataHash(stage, hash string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dataHashes[stage] = hash
}

// Seal closes the run with the given status, writes the signed manifest to
// the ledger and the data directory, and returns it. A sealed run cannot be
// sealed again. Only success and partial runs are publishable; a cancelled
// run never is.
func (r *Run) Seal(ctx context.Context, status model.RunStatus) (*model.Manifest, error) {
	r.mu.Lock()
	if r.sealed {
		r.mu.Unlock()
		return nil, eris.Errorf("snapshot: %s already sealed", r.id)
	}
	r.sealed = true

	m := &model.Manifest{
		SnapshotID:    r.id,
		Status:        status,
		StartedAt:     r.startedAt,
		CompletedAt:   time.Now().UTC(),
		Stages:        copyCounts(r.stages),
		SourceCounts:  copyInts(r.sourceCounts),
		EntityCounts:  copyInts(r.entityCounts),
		Rejections:    r.rejections,
		DataHashes:    copyStrings(r.dataHashes),
		Publishable:   status == model.RunStatusSuccess || status == model.RunStatusPartial,
		SchemaVersion: SchemaVersion,
	}
	r.mu.Unlock()

	if err := m.Sign(); err != nil {
		return nil, eris.Wrap(err, "snapshot: sign manifest")
	}

	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "snapshot: marshal manifest")
	}

	_, err = r.ledger.db.ExecContext(ctx,
		`UPDATE snapshots SET status = ?, completed_at = ?, manifest = ? WHERE id = ?`,
		string(status), m.CompletedAt, string(raw), r.id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: seal %s", r.id)
	}

	if r.ledger.dataDir != "" {
		dir := filepath.Join(r.ledger.dataDir, r.id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrap(err, "snapshot: create manifest dir")
		}
		if err := os.WriteFile(filepath.Join(dir, "manifest.json"), raw, 0o644); err != nil {
			return nil, eris.Wrap(err, "snapshot: write manifest file")
		}
	}

	zap.L().Named("snapshot").Info("snapshot sealed",
		zap.String("id", r.id),
		zap.String("status", string(status)),
		zap.Bool("publishable", m.Publishable),
		zap.Int("rejections", m.Rejections),
	)
	return m, nil
}

// LoadManifest reads a sealed manifest back from the ledger and verifies
// its checksum.
func (l *Ledger) LoadManifest(ctx context.Context, id string) (*model.Manifest, error) {
	var raw sql.NullString
	err := l.db.QueryRowContext(ctx, `SELECT manifest FROM snapshots WHERE id = ?`, id).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, eris.Errorf("snapshot: %s not found", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "snapshot: load manifest %s", id)
	}
	if !raw.Valid || raw.String == "" {
		return nil, eris.Errorf("snapshot: %s is not sealed", id)
	}

	var m model.Manifest
	if err := json.Unmarshal([]byte(raw.String), &m); err != nil {
		return nil, eris.Wrapf(err, "snapshot: decode manifest %s", id)
	}
	if !m.Verify() {
		return nil, eris.Errorf("snapshot: manifest checksum mismatch for %s", id)
	}
	return &m, nil
}

func copyCounts(in map[string]model.StageCounts) map[string]model.StageCounts {
	out := make(map[string]model.StageCounts, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyInts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
