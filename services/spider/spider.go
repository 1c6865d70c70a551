// Package spider defines the adapter capability contract and the built-in
// adapters, plus the invoker and orchestrator that drive them.
package spider

import (
	"context"
	"fmt"
	"sync"

	"vodhub/models"
	"vodhub/services/transport"
)

// Spider is the capability contract every content adapter implements.
// Operations return the adapter's raw JSON payload; normalization into
// models.Result happens in the invoker.
type Spider interface {
	Init(ctx context.Context, site *models.Site) error
	HomeContent(ctx context.Context, filter bool) ([]byte, error)
	CategoryContent(ctx context.Context, tid, page string, filter bool, extend map[string]string) ([]byte, error)
	SearchContent(ctx context.Context, keyword string, quick bool) ([]byte, error)
	DetailContent(ctx context.Context, ids []string) ([]byte, error)
	PlayerContent(ctx context.Context, flag, id string, vipFlags []string) ([]byte, error)
	Destroy()
}

// ErrorKind classifies adapter failures.
type ErrorKind string

const (
	KindOperationFailed ErrorKind = "operation_failed"
	KindUnsupported     ErrorKind = "unsupported"
)

// AdapterError reports a failed adapter operation without crashing the
// fan-out it ran in.
type AdapterError struct {
	Kind    ErrorKind
	SiteKey string
	Op      string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s: %s/%s: %v", e.Kind, e.SiteKey, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Factory builds one adapter instance for a declared class name.
type Factory func(client *transport.Client) Spider

var (
	factoryMu sync.RWMutex
	factories = map[string]Factory{}
)

// RegisterFactory binds a declared class name (csp_ convention) to its
// compiled-in implementation. Later registrations win, matching module
// re-download semantics.
func RegisterFactory(class string, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[class] = f
}

// LookupFactory returns the factory for class.
func LookupFactory(class string) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	f, ok := factories[class]
	return f, ok
}

// ScriptBackend turns opaque script source into a live adapter. Script
// execution is a swappable backend; the default stub declines.
type ScriptBackend interface {
	Compile(ctx context.Context, source []byte) (Spider, error)
}

var (
	scriptMu      sync.RWMutex
	scriptBackend ScriptBackend = stubScriptBackend{}
)

// SetScriptBackend swaps in a script engine. Passing nil restores the
// declining stub.
func SetScriptBackend(b ScriptBackend) {
	scriptMu.Lock()
	defer scriptMu.Unlock()
	if b == nil {
		b = stubScriptBackend{}
	}
	scriptBackend = b
}

// CompileScript routes source through the active backend.
func CompileScript(ctx context.Context, source []byte) (Spider, error) {
	scriptMu.RLock()
	b := scriptBackend
	scriptMu.RUnlock()
	return b.Compile(ctx, source)
}

type stubScriptBackend struct{}

func (stubScriptBackend) Compile(context.Context, []byte) (Spider, error) {
	return nil, &AdapterError{Kind: KindUnsupported, Op: "compile", Err: fmt.Errorf("no script backend installed")}
}

// nullSpider answers every operation with an empty result. It stands in
// for sites whose adapter cannot be materialized, so callers always get a
// well-formed payload.
type nullSpider struct{}

// NewNullSpider returns the shared no-op adapter.
func NewNullSpider() Spider { return nullSpider{} }

func (nullSpider) Init(context.Context, *models.Site) error { return nil }

func (nullSpider) HomeContent(context.Context, bool) ([]byte, error) {
	return models.EmptyResult().Bytes(), nil
}

func (nullSpider) CategoryContent(context.Context, string, string, bool, map[string]string) ([]byte, error) {
	return models.EmptyResult().Bytes(), nil
}

func (nullSpider) SearchContent(context.Context, string, bool) ([]byte, error) {
	return models.EmptyResult().Bytes(), nil
}

func (nullSpider) DetailContent(context.Context, []string) ([]byte, error) {
	return models.EmptyResult().Bytes(), nil
}

func (nullSpider) PlayerContent(context.Context, string, string, []string) ([]byte, error) {
	return models.EmptyResult().Bytes(), nil
}

func (nullSpider) Destroy() {}
