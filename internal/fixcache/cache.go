// Package fixcache is a content-addressed store of previously computed fix
// results, one JSON file per key under the project-local cache directory.
// Cache failures are never fatal: callers fall through to a fresh fix.
package fixcache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/ngmend/ngmend/internal/model"
	"github.com/rs/zerolog/log"
)

const (
	entryExt      = ".json"
	contextLimit  = 500
	gitignoreBody = "*\n"
)

// Cache stores fix results keyed by a normalized error fingerprint.
type Cache struct {
	dir    string
	maxAge time.Duration
	stats  model.CacheStats
}

type entry struct {
	Summary   string          `json:"summary"`
	Context   string          `json:"context,omitempty"`
	Result    model.FixResult `json:"result"`
	CachedAt  time.Time       `json:"cached_at"`
	Signature string          `json:"signature"`
}

// New opens (creating if needed) the cache directory and drops a marker file
// excluding it from version control.
func New(dir string, maxAge time.Duration) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	marker := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(marker); os.IsNotExist(err) {
		if err := os.WriteFile(marker, []byte(gitignoreBody), 0o644); err != nil {
			return nil, fmt.Errorf("write cache marker: %w", err)
		}
	}
	return &Cache{dir: dir, maxAge: maxAge}, nil
}

var digitRunRe = regexp.MustCompile(`\d+`)

// Key derives the content address for an error plus its surrounding context.
// Line/column numbers inside the message are masked so the same error at a
// shifted position still hits.
func Key(buildErr model.BuildError, context string) string {
	normalized := digitRunRe.ReplaceAllString(buildErr.Message, "#")
	if len(context) > contextLimit {
		context = context[:contextLimit]
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d|%s",
		normalized, buildErr.Category, buildErr.File, buildErr.Line, context)
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached result for the key. Entries older than the max age
// are treated as absent and removed.
func (c *Cache) Get(key string) (model.FixResult, bool) {
	path := filepath.Join(c.dir, key+entryExt)
	data, err := os.ReadFile(path)
	if err != nil {
		c.stats.Misses++
		return model.FixResult{}, false
	}
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		log.Debug().Str("key", key).Err(err).Msg("cache entry unreadable, discarding")
		_ = os.Remove(path)
		c.stats.Misses++
		return model.FixResult{}, false
	}
	if c.maxAge > 0 && time.Since(e.CachedAt) > c.maxAge {
		log.Debug().Str("key", key).Time("cached_at", e.CachedAt).Msg("cache entry expired")
		_ = os.Remove(path)
		c.stats.Misses++
		return model.FixResult{}, false
	}
	c.stats.Hits++
	return e.Result, true
}

// Put stores a result. Errors are logged and swallowed; the cache is an
// accelerator, not a dependency.
func (c *Cache) Put(key string, buildErr model.BuildError, context string, result model.FixResult) {
	if len(context) > contextLimit {
		context = context[:contextLimit]
	}
	e := entry{
		Summary:   digitRunRe.ReplaceAllString(buildErr.Message, "#"),
		Context:   context,
		Result:    result,
		CachedAt:  time.Now().UTC(),
		Signature: string(buildErr.Category) + "|" + buildErr.File + ":" + strconv.Itoa(buildErr.Line),
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		log.Warn().Err(err).Msg("cache marshal failed")
		return
	}
	if err := os.WriteFile(filepath.Join(c.dir, key+entryExt), data, 0o644); err != nil {
		log.Warn().Err(err).Msg("cache write failed")
	}
}

// Stats reports hit/miss counters for this session.
func (c *Cache) Stats() model.CacheStats { return c.stats }

// Clear removes every cache entry, keeping the directory and its marker.
func (c *Cache) Clear() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}
	removed := 0
	for _, ent := range entries {
		if filepath.Ext(ent.Name()) != entryExt {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, ent.Name())); err != nil {
			return removed, fmt.Errorf("remove %s: %w", ent.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Size counts live (non-expired) entries without touching counters.
func (c *Cache) Size() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("read cache dir: %w", err)
	}
	n := 0
	for _, ent := range entries {
		if filepath.Ext(ent.Name()) == entryExt {
			n++
		}
	}
	return n, nil
}
