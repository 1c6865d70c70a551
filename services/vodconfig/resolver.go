// Package vodconfig resolves the layered source configuration: user
// override, built-in pointer, last-known-good snapshot, hard-coded
// default. The resolved config is published through an atomic pointer so
// readers never observe a partially parsed state.
package vodconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"vodhub/internal/database"
	"vodhub/models"
	"vodhub/services/cache"
	"vodhub/services/transport"
)

// payload is the raw configuration document shape.
type payload struct {
	Sites     []models.Site  `json:"sites"`
	Parses    []models.Parse `json:"parses"`
	Spider    string         `json:"spider"`
	URLs      []models.Depot `json:"urls"`
	Flags     []string       `json:"flags"`
	Ads       []string       `json:"ads"`
	Wallpaper string         `json:"wallpaper"`
	Notice    string         `json:"notice"`
}

// ResolvedConfig is the immutable outcome of a successful Load.
type ResolvedConfig struct {
	URL       string
	Sites     []models.Site
	Parses    []models.Parse
	Depots    []models.Depot
	Spider    string
	Flags     []string
	Ads       []string
	Wallpaper string
	Notice    string

	DefaultSite  *models.Site
	DefaultParse *models.Parse
	LoadedAt     time.Time

	// raw is the undecoded payload, kept for snapshot persistence.
	raw []byte
}

// IsDepotIndex reports whether the payload was a repository index rather
// than a site list. Depot indexes are surfaced for selection, never
// merged.
func (c *ResolvedConfig) IsDepotIndex() bool {
	return len(c.Depots) > 0 && len(c.Sites) == 0
}

// Options configure the resolver.
type Options struct {
	// OverrideURL is the user-supplied config URL, tried first when set.
	OverrideURL string
	// PointerURL names a document whose body is the URL of the real
	// config. Used when the override is absent or fails.
	PointerURL string
	// DefaultSiteKey / DefaultParseName select defaults when matched;
	// otherwise the first entry wins.
	DefaultSiteKey   string
	DefaultParseName string
}

// Resolver loads and publishes the active configuration.
type Resolver struct {
	client  *transport.Client
	db      *database.DB
	opts    Options
	current atomic.Pointer[ResolvedConfig]

	// loadMu serializes Load; readers go through the atomic pointer.
	loadMu sync.Mutex
}

// New builds a Resolver. db may be nil to disable snapshot persistence.
func New(client *transport.Client, db *database.DB, opts Options) *Resolver {
	return &Resolver{client: client, db: db, opts: opts}
}

// Current returns the active config, or nil before the first Load.
func (r *Resolver) Current() *ResolvedConfig {
	return r.current.Load()
}

// Site returns the site for key, or the default site for an empty key.
func (r *Resolver) Site(key string) (*models.Site, error) {
	cfg := r.current.Load()
	if cfg == nil {
		return nil, ErrNotLoaded
	}
	if key == "" {
		if cfg.DefaultSite == nil {
			return nil, ErrSiteNotFound
		}
		return cfg.DefaultSite, nil
	}
	for i := range cfg.Sites {
		if cfg.Sites[i].Key == key {
			return &cfg.Sites[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, key)
}

// Parse returns the parse for name, or the default parse for an empty
// name.
func (r *Resolver) Parse(name string) (*models.Parse, error) {
	cfg := r.current.Load()
	if cfg == nil {
		return nil, ErrNotLoaded
	}
	if name == "" {
		if cfg.DefaultParse == nil {
			return nil, ErrParseNotFound
		}
		return cfg.DefaultParse, nil
	}
	for i := range cfg.Parses {
		if cfg.Parses[i].Name == name {
			return &cfg.Parses[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrParseNotFound, name)
}

// Load walks the fallback chain and swaps in the first layer that yields
// a usable configuration. Only total exhaustion returns an error.
func (r *Resolver) Load(ctx context.Context) (*ResolvedConfig, error) {
	r.loadMu.Lock()
	defer r.loadMu.Unlock()

	var layerErrs []error

	if r.opts.OverrideURL != "" {
		cfg, err := r.loadRemote(ctx, r.opts.OverrideURL)
		if err == nil {
			return r.publish(cfg, r.opts.OverrideURL), nil
		}
		log.Printf("[vodconfig] override config failed: %v", err)
		layerErrs = append(layerErrs, err)
	}

	if r.opts.PointerURL != "" {
		cfg, err := r.loadPointer(ctx, r.opts.PointerURL)
		if err == nil {
			// Snapshots are keyed by the chain's entry URL, not the
			// pointer target, so the fallback lookup finds them.
			return r.publish(cfg, r.opts.PointerURL), nil
		}
		log.Printf("[vodconfig] built-in config failed: %v", err)
		layerErrs = append(layerErrs, err)
	}

	if cfg, err := r.loadSnapshot(); err == nil {
		log.Printf("[vodconfig] serving last-known-good snapshot from %s", cfg.URL)
		return r.publish(cfg, ""), nil
	} else if !errors.Is(err, errNoSnapshot) {
		layerErrs = append(layerErrs, err)
	}

	cfg, err := r.parsePayload("", defaultPayload())
	if err != nil {
		// The hard-coded default cannot fail to parse; treat it as total
		// exhaustion if it somehow does.
		layerErrs = append(layerErrs, err)
		return nil, errors.Join(layerErrs...)
	}
	log.Printf("[vodconfig] all layers failed, using built-in default site")
	return r.publish(cfg, ""), nil
}

// loadRemote fetches and parses one URL.
func (r *Resolver) loadRemote(ctx context.Context, url string) (*ResolvedConfig, error) {
	resp, err := r.client.Do(ctx, transport.Request{URL: url, Category: cache.CategoryConfig})
	if err != nil {
		return nil, &ConfigError{Kind: KindUnreachable, URL: url, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ConfigError{Kind: KindUnreachable, URL: url, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	return r.parseRaw(url, resp.Body)
}

// loadPointer fetches the pointer document, then the config it names.
func (r *Resolver) loadPointer(ctx context.Context, pointerURL string) (*ResolvedConfig, error) {
	resp, err := r.client.Do(ctx, transport.Request{URL: pointerURL, Category: cache.CategoryConfig})
	if err != nil {
		return nil, &ConfigError{Kind: KindUnreachable, URL: pointerURL, Err: err}
	}
	target := NormalizeURL(strings.TrimSpace(string(resp.Body)))
	if target == "" {
		return nil, &ConfigError{Kind: KindEmpty, URL: pointerURL, Err: errors.New("pointer names no config")}
	}
	return r.loadRemote(ctx, target)
}

var errNoSnapshot = errors.New("no snapshot available")

// loadSnapshot re-parses the most recent persisted payload, trying each
// configured entry URL in chain order.
func (r *Resolver) loadSnapshot() (*ResolvedConfig, error) {
	if r.db == nil {
		return nil, errNoSnapshot
	}
	for _, url := range []string{r.opts.OverrideURL, r.opts.PointerURL} {
		if url == "" {
			continue
		}
		snap, err := r.db.LatestSnapshot(url)
		if err != nil {
			return nil, &ConfigError{Kind: KindUnreachable, URL: url, Err: err}
		}
		if snap == nil {
			continue
		}
		return r.parseRaw(snap.URL, snap.Payload)
	}
	return nil, errNoSnapshot
}

// parseRaw decodes and validates one payload.
func (r *Resolver) parseRaw(url string, raw []byte) (*ResolvedConfig, error) {
	var doc payload
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&doc); err != nil {
		return nil, &ConfigError{Kind: KindParseFailure, URL: url, Err: err}
	}
	cfg, err := r.parsePayload(url, &doc)
	if err != nil {
		return nil, err
	}
	cfg.raw = raw
	return cfg, nil
}

// parsePayload applies the normalization and default-selection rules.
func (r *Resolver) parsePayload(url string, doc *payload) (*ResolvedConfig, error) {
	// A repository index is a menu of named sub-configs, not a site list.
	if len(doc.URLs) > 0 {
		depots := make([]models.Depot, 0, len(doc.URLs))
		for _, d := range doc.URLs {
			d.URL = NormalizeURL(d.URL)
			depots = append(depots, d)
		}
		return &ResolvedConfig{URL: url, Depots: depots}, nil
	}

	if len(doc.Sites) == 0 {
		return nil, &ConfigError{Kind: KindEmpty, URL: url, Err: errors.New("no sites declared")}
	}

	sites := make([]models.Site, 0, len(doc.Sites))
	for _, s := range doc.Sites {
		if s.Key == "" {
			continue
		}
		if s.Type != models.SiteTypeSpider {
			s.API = NormalizeURL(s.API)
		}
		s.Ext = NormalizeExt(s.Ext)
		s.Jar = NormalizeURL(s.Jar)
		sites = append(sites, s)
	}
	if len(sites) == 0 {
		return nil, &ConfigError{Kind: KindEmpty, URL: url, Err: errors.New("no usable sites")}
	}

	var parses []models.Parse
	if len(doc.Parses) > 0 {
		parses = make([]models.Parse, 0, len(doc.Parses)+1)
		parses = append(parses, models.DirectParse())
		for _, p := range doc.Parses {
			p.URL = NormalizeURL(p.URL)
			parses = append(parses, p)
		}
	}

	cfg := &ResolvedConfig{
		URL:       url,
		Sites:     sites,
		Parses:    parses,
		Spider:    NormalizeURL(doc.Spider),
		Flags:     doc.Flags,
		Ads:       doc.Ads,
		Wallpaper: doc.Wallpaper,
		Notice:    doc.Notice,
	}

	cfg.DefaultSite = &cfg.Sites[0]
	for i := range cfg.Sites {
		if cfg.Sites[i].Key == r.opts.DefaultSiteKey {
			cfg.DefaultSite = &cfg.Sites[i]
			break
		}
	}
	if len(cfg.Parses) > 0 {
		cfg.DefaultParse = &cfg.Parses[0]
		for i := range cfg.Parses {
			if cfg.Parses[i].Name == r.opts.DefaultParseName {
				cfg.DefaultParse = &cfg.Parses[i]
				break
			}
		}
	}
	return cfg, nil
}

// publish stamps the config and swaps it in. A non-empty snapshotKey
// persists the raw payload under that key; snapshot and default layers
// pass an empty key.
func (r *Resolver) publish(cfg *ResolvedConfig, snapshotKey string) *ResolvedConfig {
	now := time.Now()
	if prev := r.current.Load(); prev != nil && !now.After(prev.LoadedAt) {
		now = prev.LoadedAt.Add(time.Nanosecond)
	}
	cfg.LoadedAt = now
	r.current.Store(cfg)

	if snapshotKey != "" && r.db != nil {
		if cfg.IsDepotIndex() {
			// A depot index carries no sites to fall back to; stale site
			// snapshots under this key would resurrect a config the
			// source no longer serves.
			if err := r.db.DeleteSnapshots(snapshotKey); err != nil {
				log.Printf("[vodconfig] snapshot prune failed: %v", err)
			}
		} else if len(cfg.raw) > 0 {
			if err := r.db.SaveSnapshot(snapshotKey, cfg.raw, cfg.LoadedAt); err != nil {
				log.Printf("[vodconfig] snapshot persist failed: %v", err)
			}
		}
	}
	log.Printf("[vodconfig] loaded %d site(s), %d parse(s) from %q", len(cfg.Sites), len(cfg.Parses), cfg.URL)
	return cfg
}

// defaultPayload is the layer-4 hard-coded single-site configuration, so
// the process is never left with zero usable sites.
func defaultPayload() *payload {
	return &payload{
		Sites: []models.Site{{
			Key:  "local.demo",
			Name: "Demo CMS",
			Type: models.SiteTypeJSON,
			API:  "https://demo.vodhub.local/api.php/provide/vod/",
		}},
	}
}
