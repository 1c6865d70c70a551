package vodconfig

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vodhub/internal/database"
	"vodhub/services/transport"
)

const sampleConfig = `{
	"sites": [
		{"key": "alpha", "name": "Alpha", "type": 1, "api": "alpha.example.com/api.php/provide/vod/"},
		{"key": "beta", "name": "Beta", "type": 3, "api": "csp_Beta", "jar": "./spider.jar"}
	],
	"parses": [
		{"name": "Cloud", "type": 2, "url": "parse.example.com/?url="}
	],
	"spider": "mods.example.com/spider.jar"
}`

func newTestClient() *transport.Client {
	return transport.New(nil, transport.Config{MaxRetries: 1, BaseDelay: time.Millisecond, Timeout: 2 * time.Second})
}

func TestLoadOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleConfig))
	}))
	defer srv.Close()

	r := New(newTestClient(), nil, Options{OverrideURL: srv.URL})
	cfg, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Sites) != 2 {
		t.Fatalf("expected 2 sites, got %d", len(cfg.Sites))
	}
	if cfg.Sites[0].API != "https://alpha.example.com/api.php/provide/vod/" {
		t.Fatalf("bare host not normalized: %s", cfg.Sites[0].API)
	}
	if cfg.Sites[1].API != "csp_Beta" {
		t.Fatalf("adapter class name must not be url-normalized: %s", cfg.Sites[1].API)
	}
	if cfg.Sites[1].Jar != "spider.jar" {
		t.Fatalf("relative prefix not stripped: %s", cfg.Sites[1].Jar)
	}
	// Direct is prepended and becomes the default.
	if len(cfg.Parses) != 2 || cfg.Parses[0].Name != "Direct" {
		t.Fatalf("expected synthetic Direct parse first, got %+v", cfg.Parses)
	}
	if cfg.DefaultSite.Key != "alpha" {
		t.Fatalf("first site should be the default, got %s", cfg.DefaultSite.Key)
	}
}

func TestLoadFallsBackToPointer(t *testing.T) {
	config := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleConfig))
	}))
	defer config.Close()
	pointer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(config.URL + "\n"))
	}))
	defer pointer.Close()
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer dead.Close()

	r := New(newTestClient(), nil, Options{OverrideURL: dead.URL, PointerURL: pointer.URL})
	cfg, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Sites) != 2 {
		t.Fatalf("pointer layer should have answered, got %d sites", len(cfg.Sites))
	}
}

func TestLoadFallsBackToSnapshot(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "vodhub.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := dead.URL
	dead.Close() // refuse connections from here on

	if err := db.SaveSnapshot(url, []byte(sampleConfig), time.Now()); err != nil {
		t.Fatal(err)
	}

	r := New(newTestClient(), db, Options{OverrideURL: url})
	cfg, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Sites) != 2 {
		t.Fatalf("snapshot layer should have answered, got %d sites", len(cfg.Sites))
	}
}

func TestSnapshotServesPointerChainOutage(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "vodhub.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var down atomic.Bool
	config := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(sampleConfig))
	}))
	defer config.Close()
	pointer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(config.URL + "\n"))
	}))
	defer pointer.Close()

	// Day one: the pointer chain answers and the payload is persisted.
	r := New(newTestClient(), db, Options{PointerURL: pointer.URL})
	cfg, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Sites) != 2 {
		t.Fatalf("expected 2 sites, got %d", len(cfg.Sites))
	}

	// Outage on a fresh process: the snapshot layer must answer with the
	// persisted sites, not the hard-coded default.
	down.Store(true)
	r2 := New(newTestClient(), db, Options{PointerURL: pointer.URL})
	cfg, err = r2.Load(context.Background())
	if err != nil {
		t.Fatalf("load during outage: %v", err)
	}
	if len(cfg.Sites) != 2 || cfg.Sites[0].Key != "alpha" {
		t.Fatalf("snapshot layer should have served the persisted config, got %+v", cfg.Sites)
	}
}

func TestLoadDefaultWhenEverythingFails(t *testing.T) {
	r := New(newTestClient(), nil, Options{OverrideURL: "https://unreachable.invalid./cfg.json"})
	cfg, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("default layer must always answer, got %v", err)
	}
	if len(cfg.Sites) != 1 {
		t.Fatalf("expected the single default site, got %d", len(cfg.Sites))
	}
	if cfg.DefaultSite == nil {
		t.Fatal("default site must be selected")
	}
}

func TestEmptySiteListRejected(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"sites": []}`))
	}))
	defer empty.Close()

	r := New(newTestClient(), nil, Options{OverrideURL: empty.URL})
	cfg, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	// The empty payload is invalid, so the default layer answers.
	if len(cfg.Sites) != 1 || cfg.Sites[0].Key != "local.demo" {
		t.Fatalf("expected fallback to default site, got %+v", cfg.Sites)
	}
}

func TestDepotIndexSurfacedNotMerged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"urls": [{"name": "Main", "url": "cfg.example.com/main.json"}]}`))
	}))
	defer srv.Close()

	r := New(newTestClient(), nil, Options{OverrideURL: srv.URL})
	cfg, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsDepotIndex() {
		t.Fatal("expected a depot index")
	}
	if cfg.Depots[0].URL != "https://cfg.example.com/main.json" {
		t.Fatalf("depot url not normalized: %s", cfg.Depots[0].URL)
	}
}

func TestExtKeptOpaque(t *testing.T) {
	payload := `{"sites": [
		{"key": "a", "type": 3, "api": "csp_A", "ext": "{\"dataKey\":\"abc\",\"mode\":1}"},
		{"key": "b", "type": 3, "api": "csp_B", "ext": "cjt3hGia92tWWcIV"},
		{"key": "c", "type": 3, "api": "csp_C", "ext": "./ext/c.json"},
		{"key": "d", "type": 3, "api": "csp_D", "ext": "https://cfg.example.com/d.json"}
	]}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	defer srv.Close()

	r := New(newTestClient(), nil, Options{OverrideURL: srv.URL})
	cfg, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := map[string]string{
		"a": `{"dataKey":"abc","mode":1}`,
		"b": "cjt3hGia92tWWcIV",
		"c": "ext/c.json",
		"d": "https://cfg.example.com/d.json",
	}
	for _, site := range cfg.Sites {
		if site.Ext != want[site.Key] {
			t.Errorf("site %s: ext = %q, want %q", site.Key, site.Ext, want[site.Key])
		}
	}
}

func TestDepotIndexPrunesSnapshots(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "vodhub.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"urls": [{"name": "Main", "url": "cfg.example.com/main.json"}]}`))
	}))
	defer srv.Close()

	// A stale site snapshot exists for the URL, but the source now serves
	// a depot index; keeping it would resurrect a dead config on outages.
	if err := db.SaveSnapshot(srv.URL, []byte(sampleConfig), time.Now()); err != nil {
		t.Fatal(err)
	}

	r := New(newTestClient(), db, Options{OverrideURL: srv.URL})
	cfg, err := r.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.IsDepotIndex() {
		t.Fatal("expected a depot index")
	}
	snap, err := db.LatestSnapshot(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	if snap != nil {
		t.Fatal("stale site snapshot should have been pruned")
	}
}

func TestSiteAndParseLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleConfig))
	}))
	defer srv.Close()

	r := New(newTestClient(), nil, Options{OverrideURL: srv.URL, DefaultSiteKey: "beta"})
	if _, err := r.Site("alpha"); !errors.Is(err, ErrNotLoaded) {
		t.Fatal("lookups before Load must report not loaded")
	}
	if _, err := r.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	site, err := r.Site("")
	if err != nil {
		t.Fatal(err)
	}
	if site.Key != "beta" {
		t.Fatalf("configured default key should win, got %s", site.Key)
	}
	if _, err := r.Site("gamma"); !errors.Is(err, ErrSiteNotFound) {
		t.Fatalf("expected ErrSiteNotFound, got %v", err)
	}
	if _, err := r.Parse("Cloud"); err != nil {
		t.Fatalf("declared parse should resolve: %v", err)
	}
	if _, err := r.Parse("nope"); !errors.Is(err, ErrParseNotFound) {
		t.Fatalf("expected ErrParseNotFound, got %v", err)
	}
}

func TestReloadAtomicity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleConfig))
	}))
	defer srv.Close()

	r := New(newTestClient(), nil, Options{OverrideURL: srv.URL})
	if _, err := r.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			cfg := r.Current()
			// A reader must always see a fully built config.
			if cfg == nil || len(cfg.Sites) == 0 || cfg.DefaultSite == nil {
				t.Error("observed partial config")
				return
			}
		}
	}()

	var last time.Time
	for i := 0; i < 10; i++ {
		cfg, err := r.Load(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if !cfg.LoadedAt.After(last) {
			t.Fatalf("LoadedAt must strictly increase: %v then %v", last, cfg.LoadedAt)
		}
		last = cfg.LoadedAt
	}
	close(stop)
	wg.Wait()
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"example.com/cfg.json", "https://example.com/cfg.json"},
		{"./spider.jar", "spider.jar"},
		{"https://example.com/x", "https://example.com/x"},
		{"assets://js/spider.js", "assets://js/spider.js"},
		{"file:///tmp/cfg.json", "file:///tmp/cfg.json"},
		{"data:text/plain;base64,aGk=", "data:text/plain;base64,aGk="},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeURL(tt.in); got != tt.want {
			t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeExt(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{`{"dataKey":"abc","mode":1}`, `{"dataKey":"abc","mode":1}`},
		{"cjt3hGia92tWWcIV", "cjt3hGia92tWWcIV"},
		{"./ext.json", "ext.json"},
		{"https://cfg.example.com/ext.json", "https://cfg.example.com/ext.json"},
		{"assets://ext/e.json", "assets://ext/e.json"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeExt(tt.in); got != tt.want {
			t.Errorf("NormalizeExt(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
