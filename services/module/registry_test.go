package module

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"vodhub/internal/database"
	"vodhub/models"
	"vodhub/services/spider"
	"vodhub/services/transport"
)

func buildZip(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range entries {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestRegistry(t *testing.T, payload []byte, hits *atomic.Int32) (*Registry, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	client := transport.New(nil, transport.Config{MaxRetries: 1, BaseDelay: time.Millisecond})
	reg, err := New(afero.NewMemMapFs(), client, nil, Options{Dir: "modules"})
	if err != nil {
		t.Fatal(err)
	}
	return reg, srv
}

func TestEnsureLoadedSingleflight(t *testing.T) {
	var hits atomic.Int32
	payload := buildZip(t, map[string]string{"spiders/csp_Demo.class": "bytecode"})
	reg, srv := newTestRegistry(t, payload, &hits)

	const n = 16
	var wg sync.WaitGroup
	records := make([]*Record, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			records[i], errs[i] = reg.EnsureLoaded(context.Background(), srv.URL+"/spider.jar")
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("call %d: %v", i, errs[i])
		}
		if records[i] != records[0] {
			t.Fatal("all callers must share one record")
		}
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("expected exactly one download, got %d", got)
	}
	if len(records[0].Classes) != 1 || records[0].Classes[0] != "csp_Demo" {
		t.Fatalf("class discovery failed: %v", records[0].Classes)
	}
	if records[0].Checksum == "" {
		t.Fatal("checksum must be recorded")
	}
}

func TestPathTraversalRejectedWithoutResidue(t *testing.T) {
	payload := buildZip(t, map[string]string{"../evil": "payload"})
	reg, srv := newTestRegistry(t, payload, nil)

	_, err := reg.EnsureLoaded(context.Background(), srv.URL+"/evil.zip")
	var modErr *ModuleError
	if !errors.As(err, &modErr) || modErr.Kind != KindUnsafe {
		t.Fatalf("expected Unsafe, got %v", err)
	}

	entries, err := afero.ReadDir(reg.fs, reg.opts.Dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("partial files left behind: %v", entries)
	}
}

func TestAbsoluteEntryRejected(t *testing.T) {
	payload := buildZip(t, map[string]string{"/etc/passwd": "x"})
	reg, srv := newTestRegistry(t, payload, nil)

	_, err := reg.EnsureLoaded(context.Background(), srv.URL+"/abs.zip")
	var modErr *ModuleError
	if !errors.As(err, &modErr) || modErr.Kind != KindUnsafe {
		t.Fatalf("expected Unsafe, got %v", err)
	}
}

func TestDownloadCeiling(t *testing.T) {
	big := make([]byte, 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(big)
	}))
	defer srv.Close()

	client := transport.New(nil, transport.Config{MaxRetries: 1, BaseDelay: time.Millisecond})
	reg, err := New(afero.NewMemMapFs(), client, nil, Options{Dir: "modules", MaxBytes: 1024})
	if err != nil {
		t.Fatal(err)
	}

	_, err = reg.EnsureLoaded(context.Background(), srv.URL+"/huge.zip")
	var modErr *ModuleError
	if !errors.As(err, &modErr) || modErr.Kind != KindTooLarge {
		t.Fatalf("expected TooLarge, got %v", err)
	}
	entries, _ := afero.ReadDir(reg.fs, reg.opts.Dir)
	if len(entries) != 0 {
		t.Fatal("partial download must be deleted")
	}
}

func TestOversizeEntryRejected(t *testing.T) {
	// Highly compressible content: the archive itself stays under the
	// ceiling, only the declared uncompressed size exceeds it.
	payload := buildZip(t, map[string]string{"csp_Big.class": strings.Repeat("A", 4096)})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer srv.Close()

	client := transport.New(nil, transport.Config{MaxRetries: 1, BaseDelay: time.Millisecond})
	reg, err := New(afero.NewMemMapFs(), client, nil, Options{Dir: "modules", MaxBytes: 1024})
	if err != nil {
		t.Fatal(err)
	}

	_, err = reg.EnsureLoaded(context.Background(), srv.URL+"/big.jar")
	var modErr *ModuleError
	if !errors.As(err, &modErr) || modErr.Kind != KindTooLarge {
		t.Fatalf("expected TooLarge, got %v", err)
	}
}

func TestRestoreAcrossRestart(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "vodhub.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var hits atomic.Int32
	payload := buildZip(t, map[string]string{"csp_Persist.class": "bytecode"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write(payload)
	}))
	defer srv.Close()

	fs := afero.NewMemMapFs()
	client := transport.New(nil, transport.Config{MaxRetries: 1, BaseDelay: time.Millisecond})
	ref := srv.URL + "/persist.jar"

	reg1, err := New(fs, client, db, Options{Dir: "modules"})
	if err != nil {
		t.Fatal(err)
	}
	rec1, err := reg1.EnsureLoaded(context.Background(), ref)
	if err != nil {
		t.Fatal(err)
	}

	// A second registry over the same filesystem and database stands in
	// for a restarted process.
	reg2, err := New(fs, client, db, Options{Dir: "modules"})
	if err != nil {
		t.Fatal(err)
	}
	rec2, ok := reg2.Record(RefKey(ref))
	if !ok {
		t.Fatal("persisted module should be restored on startup")
	}
	if rec2.Checksum != rec1.Checksum {
		t.Fatalf("checksum mismatch after restore: %s vs %s", rec2.Checksum, rec1.Checksum)
	}
	if len(rec2.Classes) != 1 || rec2.Classes[0] != "csp_Persist" {
		t.Fatalf("classes not rediscovered on restore: %v", rec2.Classes)
	}

	if _, err := reg2.EnsureLoaded(context.Background(), ref); err != nil {
		t.Fatal(err)
	}
	if got := hits.Load(); got != 1 {
		t.Fatalf("restored module must not be re-downloaded, got %d downloads", got)
	}
}

func TestInlineScriptReference(t *testing.T) {
	client := transport.New(nil, transport.Config{MaxRetries: 1, BaseDelay: time.Millisecond})
	reg, err := New(afero.NewMemMapFs(), client, nil, Options{Dir: "modules"})
	if err != nil {
		t.Fatal(err)
	}

	rec, err := reg.EnsureLoaded(context.Background(), "function home() { return {}; }")
	if err != nil {
		t.Fatalf("inline script should validate: %v", err)
	}
	if rec.Kind != KindScript {
		t.Fatalf("expected script kind, got %s", rec.Kind)
	}
}

func TestAssetsReference(t *testing.T) {
	fs := afero.NewMemMapFs()
	payload := buildZip(t, map[string]string{"csp_Local.class": "x"})
	if err := afero.WriteFile(fs, "assets/jar/local.jar", payload, 0o644); err != nil {
		t.Fatal(err)
	}

	client := transport.New(nil, transport.Config{MaxRetries: 1, BaseDelay: time.Millisecond})
	reg, err := New(fs, client, nil, Options{Dir: "modules", AssetsDir: "assets"})
	if err != nil {
		t.Fatal(err)
	}

	rec, err := reg.EnsureLoaded(context.Background(), "assets://jar/local.jar")
	if err != nil {
		t.Fatalf("assets ref: %v", err)
	}
	if rec.Kind != KindArchive || len(rec.Classes) != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

type countingSpider struct {
	spider.Spider
	destroyed *atomic.Int32
}

func (c countingSpider) Destroy() { c.destroyed.Add(1) }

func TestAdapterSingleInstancePerSite(t *testing.T) {
	var instantiations, destroyed atomic.Int32
	spider.RegisterFactory("csp_Counting", func(client *transport.Client) spider.Spider {
		instantiations.Add(1)
		return countingSpider{Spider: spider.NewNullSpider(), destroyed: &destroyed}
	})

	payload := buildZip(t, map[string]string{"csp_Counting.class": "x"})
	reg, srv := newTestRegistry(t, payload, nil)

	site := &models.Site{Key: "counting", Name: "Counting", Type: models.SiteTypeSpider, API: "csp_Counting", Jar: srv.URL + "/c.jar"}

	const n = 8
	var wg sync.WaitGroup
	adapters := make([]spider.Spider, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			adapters[i], _ = reg.Spider(context.Background(), site)
		}(i)
	}
	wg.Wait()

	if got := instantiations.Load(); got != 1 {
		t.Fatalf("expected one instantiation, got %d", got)
	}
	for i := 1; i < n; i++ {
		if adapters[i] != adapters[0] {
			t.Fatal("all callers must share one adapter instance")
		}
	}

	reg.Clear()
	if destroyed.Load() != 1 {
		t.Fatalf("Clear must destroy owned adapters once, got %d", destroyed.Load())
	}

	// Second Clear is a no-op and prior keys resolve to nothing.
	reg.Clear()
	if destroyed.Load() != 1 {
		t.Fatal("repeated Clear must not re-destroy")
	}
	if _, ok := reg.Record(RefKey(site.Jar)); ok {
		t.Fatal("records must be gone after Clear")
	}
	entries, _ := afero.ReadDir(reg.fs, reg.opts.Dir)
	if len(entries) != 0 {
		t.Fatalf("module files must be removed on Clear, found %d", len(entries))
	}
}

func TestUnknownClassFailsInstantiation(t *testing.T) {
	payload := buildZip(t, map[string]string{"csp_Other.class": "x"})
	reg, srv := newTestRegistry(t, payload, nil)

	site := &models.Site{Key: "ghost", Type: models.SiteTypeSpider, API: "csp_Ghost", Jar: srv.URL + "/g.jar"}
	_, err := reg.Spider(context.Background(), site)
	var modErr *ModuleError
	if !errors.As(err, &modErr) || modErr.Kind != KindInstantiationFailed {
		t.Fatalf("expected InstantiationFailed, got %v", err)
	}
}

func TestBuiltinAdaptersNeedNoModule(t *testing.T) {
	client := transport.New(nil, transport.Config{MaxRetries: 1, BaseDelay: time.Millisecond})
	reg, err := New(afero.NewMemMapFs(), client, nil, Options{Dir: "modules"})
	if err != nil {
		t.Fatal(err)
	}

	site := &models.Site{Key: "cms", Type: models.SiteTypeJSON, API: "https://cms.example.com/api.php"}
	adapter, err := reg.Spider(context.Background(), site)
	if err != nil {
		t.Fatalf("cms adapter: %v", err)
	}
	if adapter == nil {
		t.Fatal("expected an adapter")
	}
}
