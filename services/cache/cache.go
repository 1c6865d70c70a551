package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/spf13/afero"
)

// memEntryCap bounds the number of memory-tier entries; the effective
// limit is the byte cap, this only sizes the underlying LRU.
const memEntryCap = 4096

// Stats reports cache effectiveness counters. The byte figures are per
// tier; an entry resident in both tiers counts once in each.
type Stats struct {
	Hits         int64 `json:"hits"`
	Misses       int64 `json:"misses"`
	MemoryBytes  int64 `json:"memoryBytes"`
	DurableBytes int64 `json:"durableBytes"`
}

type entry struct {
	Payload  []byte
	Category Category
	StoredAt time.Time

	accessCount atomic.Int64
}

// envelope is the durable-tier on-disk representation.
type envelope struct {
	Category Category  `json:"category"`
	StoredAt time.Time `json:"storedAt"`
	Payload  []byte    `json:"payload"`
}

// Store is the two-level cache: a byte-capped in-memory LRU in front of a
// durable afero-backed file area. Writes go to both levels; durable hits
// are promoted back into memory.
type Store struct {
	mem      *lru.Cache[string, *entry]
	memBytes atomic.Int64
	memCap   int64

	fs  afero.Fs
	dir string

	ttls map[Category]time.Duration

	hits   atomic.Int64
	misses atomic.Int64

	// sweepMu serializes Clear and Sweep; Get/Put never take it.
	sweepMu sync.Mutex

	now func() time.Time
}

// Options tune a Store. Zero values take defaults.
type Options struct {
	MaxMemoryBytes int64
	TTLOverrides   map[Category]time.Duration
}

// New builds a Store rooted at dir on fs.
func New(fs afero.Fs, dir string, opts Options) (*Store, error) {
	if opts.MaxMemoryBytes <= 0 {
		opts.MaxMemoryBytes = 1 << 20 // 1 MiB
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	s := &Store{
		fs:     fs,
		dir:    dir,
		memCap: opts.MaxMemoryBytes,
		ttls:   DefaultTTLs(),
		now:    time.Now,
	}
	for cat, ttl := range opts.TTLOverrides {
		if ttl > 0 {
			s.ttls[cat] = ttl
		}
	}
	mem, err := lru.NewWithEvict(memEntryCap, func(_ string, e *entry) {
		s.memBytes.Add(-int64(len(e.Payload)))
	})
	if err != nil {
		return nil, err
	}
	s.mem = mem
	return s, nil
}

// TTL returns the effective policy for a category.
func (s *Store) TTL(category Category) time.Duration {
	if ttl, ok := s.ttls[category]; ok {
		return ttl
	}
	return s.ttls[CategoryDefault]
}

// Get returns the payload stored under key, or false when absent or past
// its category TTL. Expired entries are evicted on the way out.
func (s *Store) Get(key string) ([]byte, bool) {
	if e, ok := s.mem.Get(key); ok {
		if s.fresh(e.Category, e.StoredAt) {
			e.accessCount.Add(1)
			s.hits.Add(1)
			return e.Payload, true
		}
		s.mem.Remove(key)
	}

	env, ok := s.readDurable(key)
	if !ok || !s.fresh(env.Category, env.StoredAt) {
		if ok {
			_ = s.fs.Remove(s.durablePath(key, env.Category))
		}
		s.misses.Add(1)
		return nil, false
	}

	// Promote the durable hit, keeping its original timestamp so the TTL
	// clock does not restart.
	s.admit(key, &entry{Payload: env.Payload, Category: env.Category, StoredAt: env.StoredAt})
	s.hits.Add(1)
	return env.Payload, true
}

// Put stores payload under key in both tiers. Last writer wins on a
// concurrent write to the same key.
func (s *Store) Put(key string, payload []byte, category Category) {
	e := &entry{Payload: payload, Category: category, StoredAt: s.now()}
	s.admit(key, e)

	if err := s.writeDurable(key, e); err != nil {
		log.Printf("[cache] durable write failed for %s: %v", hashKey(key), err)
	}
}

// Invalidate removes key from both tiers.
func (s *Store) Invalidate(key string) {
	if e, ok := s.mem.Peek(key); ok {
		s.mem.Remove(key)
		_ = s.fs.Remove(s.durablePath(key, e.Category))
		return
	}
	s.mem.Remove(key)
	// Category unknown: probe every namespace for the hashed name.
	s.removeDurableAnyCategory(key)
}

// Clear drops every entry from both tiers.
func (s *Store) Clear() {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	s.mem.Purge()
	entries, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return
	}
	for _, fi := range entries {
		_ = s.fs.RemoveAll(path.Join(s.dir, fi.Name()))
	}
}

// Sweep proactively evicts entries past their TTL from both tiers and
// returns how many it removed.
func (s *Store) Sweep() int {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()

	removed := 0
	for _, key := range s.mem.Keys() {
		if e, ok := s.mem.Peek(key); ok && !s.fresh(e.Category, e.StoredAt) {
			s.mem.Remove(key)
			removed++
		}
	}

	dirs, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return removed
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		catDir := path.Join(s.dir, d.Name())
		files, err := afero.ReadDir(s.fs, catDir)
		if err != nil {
			continue
		}
		for _, fi := range files {
			p := path.Join(catDir, fi.Name())
			data, err := afero.ReadFile(s.fs, p)
			if err != nil {
				continue
			}
			var env envelope
			if json.Unmarshal(data, &env) != nil || !s.fresh(env.Category, env.StoredAt) {
				if s.fs.Remove(p) == nil {
					removed++
				}
			}
		}
	}
	return removed
}

// Stats reports hit/miss counters and the per-tier byte footprint.
func (s *Store) Stats() Stats {
	var durable int64
	dirs, err := afero.ReadDir(s.fs, s.dir)
	if err == nil {
		for _, d := range dirs {
			if !d.IsDir() {
				continue
			}
			files, err := afero.ReadDir(s.fs, path.Join(s.dir, d.Name()))
			if err != nil {
				continue
			}
			for _, fi := range files {
				durable += fi.Size()
			}
		}
	}
	return Stats{
		Hits:         s.hits.Load(),
		Misses:       s.misses.Load(),
		MemoryBytes:  s.memBytes.Load(),
		DurableBytes: durable,
	}
}

// admit inserts into the memory tier and applies LRU pressure until the
// byte cap holds again. Payloads larger than the cap stay durable-only.
func (s *Store) admit(key string, e *entry) {
	if int64(len(e.Payload)) > s.memCap {
		s.mem.Remove(key)
		return
	}
	// Remove first so the evict callback releases the old entry's bytes.
	s.mem.Remove(key)
	s.mem.Add(key, e)
	s.memBytes.Add(int64(len(e.Payload)))
	for s.memBytes.Load() > s.memCap {
		if _, _, ok := s.mem.RemoveOldest(); !ok {
			break
		}
	}
}

func (s *Store) fresh(category Category, storedAt time.Time) bool {
	return s.now().Before(storedAt.Add(s.TTL(category)))
}

func (s *Store) durablePath(key string, category Category) string {
	return path.Join(s.dir, string(category), hashKey(key)+".json")
}

func (s *Store) readDurable(key string) (envelope, bool) {
	name := hashKey(key) + ".json"
	dirs, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return envelope{}, false
	}
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		data, err := afero.ReadFile(s.fs, path.Join(s.dir, d.Name(), name))
		if err != nil {
			continue
		}
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		return env, true
	}
	return envelope{}, false
}

func (s *Store) writeDurable(key string, e *entry) error {
	dir := path.Join(s.dir, string(e.Category))
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(envelope{Category: e.Category, StoredAt: e.StoredAt, Payload: e.Payload})
	if err != nil {
		return err
	}
	// Temp-file then rename so a cancelled writer never leaves a torn
	// entry behind.
	final := path.Join(dir, hashKey(key)+".json")
	tmp := final + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return err
	}
	return s.fs.Rename(tmp, final)
}

func (s *Store) removeDurableAnyCategory(key string) {
	name := hashKey(key) + ".json"
	dirs, err := afero.ReadDir(s.fs, s.dir)
	if err != nil {
		return
	}
	for _, d := range dirs {
		if d.IsDir() {
			_ = s.fs.Remove(path.Join(s.dir, d.Name(), name))
		}
	}
}

// hashKey maps a logical key onto a stable file-safe name.
func hashKey(key string) string {
	h := sha1.Sum([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(h[:])
}

// Key builds a deterministic logical key from parts.
func Key(parts ...string) string {
	return strings.Join(parts, "|")
}
