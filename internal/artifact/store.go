// Package artifact provides content-addressed durable storage for raw
// fetched bytes, keyed by (snapshot, source, seed, content hash). Artifacts
// are write-once: the fetch pool is the only writer, and later stages only
// read.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/wheelsup-data/flightschool-etl/internal/model"
)

// HashBytes returns the sha256 hex digest of raw content.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Store persists raw artifacts under a base directory.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at dataDir/artifacts.
func NewStore(dataDir string) (*Store, error) {
	base := filepath.Join(dataDir, "artifacts")
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, eris.Wrap(err, "artifact: create base dir")
	}
	return &Store{baseDir: base}, nil
}

func (s *Store) dir(snapshotID, sourceID, seedID string) string {
	return filepath.Join(s.baseDir, snapshotID, sourceID, seedID)
}

func (s *Store) paths(art model.RawArtifact) (body, meta string) {
	d := s.dir(art.SnapshotID, art.SourceID, art.SeedID)
	return filepath.Join(d, art.ContentHash+".bin"), filepath.Join(d, art.ContentHash+".json")
}

// Put persists an artifact and its metadata sidecar. If an artifact with
// the same key already exists it is left untouched and created=false is
// returned; re-fetching a cached hash must produce zero additional writes.
func (s *Store) Put(art model.RawArtifact, body []byte) (created bool, err error) {
	bodyPath, metaPath := s.paths(art)

	if _, statErr := os.Stat(bodyPath); statErr == nil {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(bodyPath), 0o755); err != nil {
		return false, eris.Wrap(err, "artifact: create dir")
	}
	if err := os.WriteFile(bodyPath, body, 0o644); err != nil {
		return false, eris.Wrapf(err, "artifact: write body %s", bodyPath)
	}

	meta, err := json.MarshalIndent(art, "", "  ")
	if err != nil {
		return false, eris.Wrap(err, "artifact: marshal metadata")
	}
	if err := os.WriteFile(metaPath, meta, 0o644); err != nil {
		return false, eris.Wrapf(err, "artifact: write metadata %s", metaPath)
	}
	return true, nil
}

// Has reports whether an artifact with this key already exists.
func (s *Store) Has(art model.RawArtifact) bool {
	bodyPath, _ := s.paths(art)
	_, err := os.Stat(bodyPath)
	return err == nil
}

// Get reads an artifact's bytes and metadata.
func (s *Store) Get(snapshotID, sourceID, seedID, contentHash string) ([]byte, *model.RawArtifact, error) {
	d := s.dir(snapshotID, sourceID, seedID)
	body, err := os.ReadFile(filepath.Join(d, contentHash+".bin"))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "artifact: read body %s", contentHash)
	}

	raw, err := os.ReadFile(filepath.Join(d, contentHash+".json"))
	if err != nil {
		return nil, nil, eris.Wrapf(err, "artifact: read metadata %s", contentHash)
	}
	var art model.RawArtifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, nil, eris.Wrap(err, "artifact: unmarshal metadata")
	}
	return body, &art, nil
}

// ListSeed returns all artifact metadata persisted for one seed in one
// snapshot, so the extraction stage can restart from durable state.
func (s *Store) ListSeed(snapshotID, sourceID, seedID string) ([]model.RawArtifact, error) {
	d := s.dir(snapshotID, sourceID, seedID)
	entries, err := os.ReadDir(d)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: list %s", d)
	}

	var out []model.RawArtifact
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(d, e.Name()))
		if err != nil {
			return nil, eris.Wrapf(err, "artifact: read %s", e.Name())
		}
		var art model.RawArtifact
		if err := json.Unmarshal(raw, &art); err != nil {
			return nil, eris.Wrapf(err, "artifact: unmarshal %s", e.Name())
		}
		out = append(out, art)
	}
	return out, nil
}
