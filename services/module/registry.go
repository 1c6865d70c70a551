// Package module downloads, validates, stores, and instantiates adapter
// modules, and owns the adapter lifecycle.
package module

import (
	"context"
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"

	"vodhub/internal/database"
	"vodhub/models"
	"vodhub/services/spider"
	"vodhub/services/transport"
)

// DefaultMaxModuleBytes is the download and per-entry size ceiling.
const DefaultMaxModuleBytes = 50 << 20

// Record describes one validated module. Immutable after creation.
type Record struct {
	Key       string // sha1 of the source ref, stable across restarts
	Ref       string
	Path      string
	SizeBytes int64
	Checksum  string // sha256 content digest
	Kind      string // archive or script
	Classes   []string
	LoadedAt  time.Time
}

// Options configure the registry.
type Options struct {
	// Dir is the writable module cache directory.
	Dir string
	// AssetsDir backs assets:// references.
	AssetsDir string
	// MaxBytes overrides the size ceiling.
	MaxBytes int64
}

// Registry implements the module lifecycle and the adapter provider
// contract used by the invoker.
type Registry struct {
	fs     afero.Fs
	client *transport.Client
	db     *database.DB
	opts   Options

	sf singleflight.Group

	mu       sync.RWMutex
	records  map[string]*Record       // by record key
	adapters map[string]*adapterEntry // by site key
}

type adapterEntry struct {
	id        string
	spider    spider.Spider
	moduleKey string // empty for built-in adapters
}

// New builds a Registry. db may be nil to skip record persistence.
func New(fs afero.Fs, client *transport.Client, db *database.DB, opts Options) (*Registry, error) {
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = DefaultMaxModuleBytes
	}
	if err := fs.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("module: create cache dir: %w", err)
	}
	r := &Registry{
		fs:       fs,
		client:   client,
		db:       db,
		opts:     opts,
		records:  make(map[string]*Record),
		adapters: make(map[string]*adapterEntry),
	}
	if db != nil {
		r.restore()
	}
	return r, nil
}

// restore re-validates persisted artifacts whose files survived a
// restart, so EnsureLoaded answers for them without re-downloading.
func (r *Registry) restore() {
	persisted, err := r.db.ListModules()
	if err != nil {
		log.Printf("[module] restore skipped: %v", err)
		return
	}
	for _, m := range persisted {
		if ok, _ := afero.Exists(r.fs, m.Path); !ok {
			continue
		}
		key := RefKey(m.Ref)
		rec, err := r.validate(key, m.Ref, m.Path)
		if err != nil || rec.Checksum != m.Checksum {
			// The on-disk artifact no longer matches what was recorded;
			// drop both and let the next request re-fetch.
			r.fs.Remove(m.Path)
			if dbErr := r.db.DeleteModule(m.Ref); dbErr != nil {
				log.Printf("[module] stale record delete failed for %s: %v", key, dbErr)
			}
			continue
		}
		rec.LoadedAt = m.FetchedAt
		r.records[key] = rec
	}
	if len(r.records) > 0 {
		log.Printf("[module] restored %d module(s) from previous run", len(r.records))
	}
}

// RefKey derives the stable record key for a module reference.
func RefKey(ref string) string {
	h := sha1.Sum([]byte(ref))
	return hex.EncodeToString(h[:])
}

// EnsureLoaded fetches and validates the module behind ref, once per
// distinct reference. Concurrent calls share one download.
func (r *Registry) EnsureLoaded(ctx context.Context, ref string) (*Record, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, &ModuleError{Kind: KindNotFound, Ref: ref, Err: errors.New("empty module reference")}
	}
	key := RefKey(ref)

	r.mu.RLock()
	if rec, ok := r.records[key]; ok {
		r.mu.RUnlock()
		return rec, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.sf.Do("load:"+key, func() (any, error) {
		r.mu.RLock()
		if rec, ok := r.records[key]; ok {
			r.mu.RUnlock()
			return rec, nil
		}
		r.mu.RUnlock()
		return r.load(ctx, key, ref)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Record), nil
}

// load materializes the module bytes, validates them, and records the
// result.
func (r *Registry) load(ctx context.Context, key, ref string) (*Record, error) {
	filePath := filepath.Join(r.opts.Dir, key)

	switch {
	case strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://"):
		if err := r.download(ctx, ref, filePath); err != nil {
			return nil, err
		}
	case strings.HasPrefix(ref, "assets://"):
		if err := r.copyAsset(ref, filePath); err != nil {
			return nil, err
		}
	default:
		// Anything else is inline script source.
		if err := afero.WriteFile(r.fs, filePath, []byte(ref), 0o644); err != nil {
			return nil, &ModuleError{Kind: KindDownloadFailed, Ref: ref, Err: err}
		}
	}

	rec, err := r.validate(key, ref, filePath)
	if err != nil {
		r.fs.Remove(filePath)
		return nil, err
	}

	r.mu.Lock()
	r.records[key] = rec
	r.mu.Unlock()

	if r.db != nil {
		dbErr := r.db.UpsertModule(&database.ModuleRecord{
			Ref:       rec.Ref,
			Checksum:  rec.Checksum,
			Path:      rec.Path,
			SizeBytes: rec.SizeBytes,
			Kind:      rec.Kind,
			FetchedAt: rec.LoadedAt,
		})
		if dbErr != nil {
			log.Printf("[module] record persist failed for %s: %v", rec.Key, dbErr)
		}
	}
	log.Printf("[module] loaded %s (%s, %d bytes, %d class candidate(s))", rec.Key, rec.Kind, rec.SizeBytes, len(rec.Classes))
	return rec, nil
}

// download streams the ref into the cache dir under the size ceiling,
// deleting partial files on failure.
func (r *Registry) download(ctx context.Context, ref, filePath string) error {
	f, err := r.fs.Create(filePath)
	if err != nil {
		return &ModuleError{Kind: KindDownloadFailed, Ref: ref, Err: err}
	}
	_, err = r.client.Download(ctx, ref, f, r.opts.MaxBytes)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		r.fs.Remove(filePath)
		if errors.Is(err, transport.ErrBodyTooLarge) {
			return &ModuleError{Kind: KindTooLarge, Ref: ref, Err: err}
		}
		return &ModuleError{Kind: KindDownloadFailed, Ref: ref, Err: err}
	}
	return nil
}

// copyAsset copies a bundled file into the writable cache on first use.
func (r *Registry) copyAsset(ref, filePath string) error {
	rel := strings.TrimPrefix(ref, "assets://")
	src, err := r.fs.Open(filepath.Join(r.opts.AssetsDir, filepath.FromSlash(rel)))
	if err != nil {
		return &ModuleError{Kind: KindNotFound, Ref: ref, Err: err}
	}
	defer src.Close()

	dst, err := r.fs.Create(filePath)
	if err != nil {
		return &ModuleError{Kind: KindDownloadFailed, Ref: ref, Err: err}
	}
	_, err = io.Copy(dst, io.LimitReader(src, r.opts.MaxBytes+1))
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		r.fs.Remove(filePath)
		return &ModuleError{Kind: KindDownloadFailed, Ref: ref, Err: err}
	}
	return nil
}

// validate sniffs, structurally checks, and fingerprints the stored
// bytes.
func (r *Registry) validate(key, ref, filePath string) (*Record, error) {
	info, err := r.fs.Stat(filePath)
	if err != nil {
		return nil, &ModuleError{Kind: KindDownloadFailed, Ref: ref, Err: err}
	}
	if info.Size() > r.opts.MaxBytes {
		return nil, &ModuleError{Kind: KindTooLarge, Ref: ref, Err: fmt.Errorf("%d bytes", info.Size())}
	}

	head, err := readHead(r.fs, filePath, 3072)
	if err != nil {
		return nil, &ModuleError{Kind: KindDownloadFailed, Ref: ref, Err: err}
	}
	kind := sniffKind(head)

	var classes []string
	if kind == KindArchive {
		classes, err = validateArchive(r.fs, filePath, info.Size(), r.opts.MaxBytes)
		if err != nil {
			var oversize *oversizeEntryError
			if errors.As(err, &oversize) {
				return nil, &ModuleError{Kind: KindTooLarge, Ref: ref, Err: err}
			}
			return nil, &ModuleError{Kind: KindUnsafe, Ref: ref, Err: err}
		}
	}

	checksum, err := fileChecksum(r.fs, filePath)
	if err != nil {
		return nil, &ModuleError{Kind: KindDownloadFailed, Ref: ref, Err: err}
	}

	return &Record{
		Key:       key,
		Ref:       ref,
		Path:      filePath,
		SizeBytes: info.Size(),
		Checksum:  checksum,
		Kind:      kind,
		Classes:   classes,
		LoadedAt:  time.Now(),
	}, nil
}

// Spider returns the live adapter for a site, creating it on first use.
// Exactly one instance exists per site key; concurrent callers share one
// instantiation.
func (r *Registry) Spider(ctx context.Context, site *models.Site) (spider.Spider, error) {
	r.mu.RLock()
	if entry, ok := r.adapters[site.Key]; ok {
		r.mu.RUnlock()
		return entry.spider, nil
	}
	r.mu.RUnlock()

	v, err, _ := r.sf.Do("adapter:"+site.Key, func() (any, error) {
		r.mu.RLock()
		if entry, ok := r.adapters[site.Key]; ok {
			r.mu.RUnlock()
			return entry.spider, nil
		}
		r.mu.RUnlock()
		return r.instantiate(ctx, site)
	})
	if err != nil {
		return nil, err
	}
	return v.(spider.Spider), nil
}

func (r *Registry) instantiate(ctx context.Context, site *models.Site) (spider.Spider, error) {
	var (
		adapter   spider.Spider
		moduleKey string
	)

	switch site.Type {
	case models.SiteTypeXML, models.SiteTypeJSON:
		adapter = spider.NewCMSSpider(r.client)
	case models.SiteTypeExt:
		adapter = spider.NewExtSpider(r.client)
	case models.SiteTypeSpider:
		rec, err := r.EnsureLoaded(ctx, site.Jar)
		if err != nil {
			return nil, err
		}
		moduleKey = rec.Key
		adapter, err = r.materialize(ctx, site, rec)
		if err != nil {
			return nil, err
		}
	default:
		adapter = spider.NewNullSpider()
	}

	if err := adapter.Init(ctx, site); err != nil {
		adapter.Destroy()
		return nil, &ModuleError{Kind: KindInstantiationFailed, Ref: site.Jar, Err: err}
	}

	entry := &adapterEntry{id: uuid.NewString(), spider: adapter, moduleKey: moduleKey}
	r.mu.Lock()
	r.adapters[site.Key] = entry
	r.mu.Unlock()
	log.Printf("[module] adapter %s ready for site %s", entry.id, site.Key)
	return adapter, nil
}

// materialize turns a validated module record into an adapter for the
// site's declared class.
func (r *Registry) materialize(ctx context.Context, site *models.Site, rec *Record) (spider.Spider, error) {
	if rec.Kind == KindScript {
		source, err := afero.ReadFile(r.fs, rec.Path)
		if err != nil {
			return nil, &ModuleError{Kind: KindInstantiationFailed, Ref: rec.Ref, Err: err}
		}
		adapter, err := spider.CompileScript(ctx, source)
		if err != nil {
			return nil, &ModuleError{Kind: KindInstantiationFailed, Ref: rec.Ref, Err: err}
		}
		return adapter, nil
	}

	class := site.SpiderClass()
	if class == "" {
		return nil, &ModuleError{Kind: KindInstantiationFailed, Ref: rec.Ref, Err: errors.New("site declares no adapter class")}
	}
	factory, ok := spider.LookupFactory(class)
	if !ok {
		return nil, &ModuleError{Kind: KindInstantiationFailed, Ref: rec.Ref, Err: fmt.Errorf("no implementation for class %s", class)}
	}
	return factory(r.client), nil
}

// Record returns the loaded record for a module key.
func (r *Registry) Record(key string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[key]
	return rec, ok
}

// Unload destroys every adapter owned by the module, removes its backing
// file, and drops the record. Unloading an unknown key is a no-op.
func (r *Registry) Unload(key string) {
	r.mu.Lock()
	rec, ok := r.records[key]
	delete(r.records, key)
	var victims []spider.Spider
	for siteKey, entry := range r.adapters {
		if entry.moduleKey == key {
			victims = append(victims, entry.spider)
			delete(r.adapters, siteKey)
		}
	}
	r.mu.Unlock()

	for _, s := range victims {
		s.Destroy()
	}
	if ok {
		r.fs.Remove(rec.Path)
		if r.db != nil {
			if err := r.db.DeleteModule(rec.Ref); err != nil {
				log.Printf("[module] record delete failed for %s: %v", key, err)
			}
		}
	}
}

// Clear tears down every adapter and module. Idempotent.
func (r *Registry) Clear() {
	r.mu.Lock()
	records := r.records
	adapters := r.adapters
	r.records = make(map[string]*Record)
	r.adapters = make(map[string]*adapterEntry)
	r.mu.Unlock()

	for _, entry := range adapters {
		entry.spider.Destroy()
	}
	for _, rec := range records {
		r.fs.Remove(rec.Path)
		if r.db != nil {
			if err := r.db.DeleteModule(rec.Ref); err != nil {
				log.Printf("[module] record delete failed for %s: %v", rec.Key, err)
			}
		}
	}
}

func readHead(fs afero.Fs, path string, n int) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	head := make([]byte, n)
	read, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return head[:read], nil
}

func fileChecksum(fs afero.Fs, path string) (string, error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
