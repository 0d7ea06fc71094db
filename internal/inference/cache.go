package inference

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/wheelsup-data/flightschool-etl/internal/artifact"
)

// resultCache stores provider results keyed by chunk content hash. The
// in-memory layer deduplicates within a run; the disk layer survives
// restarts so identical chunks never re-submit across runs. Keys include
// the extractor version, so a prompt change invalidates everything.
type resultCache struct {
	mem *artifact.HashCache
	dir string
}

func newResultCache(mem *artifact.HashCache, dir string) (*resultCache, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrap(err, "inference: create cache dir")
		}
	}
	return &resultCache{mem: mem, dir: dir}, nil
}

// chunkKey derives the cache key for a chunk.
func chunkKey(chunkText, extractorVersion string) string {
	return artifact.HashBytes([]byte(extractorVersion + "\x00" + chunkText))
}

func (c *resultCache) get(key string) (*ProviderResult, bool) {
	if v, ok := c.mem.Get("inference/" + key); ok {
		if res, ok := v.(*ProviderResult); ok {
			return res, true
		}
	}
	if c.dir == "" {
		return nil, false
	}

	data, err := os.ReadFile(filepath.Join(c.dir, key+".json"))
	if err != nil {
		return nil, false
	}
	var res ProviderResult
	if err := json.Unmarshal(data, &res); err != nil {
		zap.L().Named("inference").Warn("discarding corrupt cache entry", zap.String("key", key))
		return nil, false
	}
	c.mem.GetOrInsert("inference/"+key, &res)
	return &res, true
}

func (c *resultCache) put(key string, res *ProviderResult) {
	actual, loaded := c.mem.GetOrInsert("inference/"+key, res)
	if loaded {
		// A concurrent worker won the race; keep its result.
		res = actual.(*ProviderResult)
	}
	if c.dir == "" || loaded {
		return
	}

	data, err := json.Marshal(res)
	if err != nil {
		return
	}
	tmp := filepath.Join(c.dir, key+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		zap.L().Named("inference").Warn("cache write failed", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, filepath.Join(c.dir, key+".json")); err != nil {
		zap.L().Named("inference").Warn("cache rename failed", zap.Error(err))
	}
}
