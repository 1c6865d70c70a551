package spider

import (
	"context"
	"log"
	"time"

	"github.com/sourcegraph/conc/pool"

	"vodhub/models"
)

// OrchestratorOptions tune the fan-out.
type OrchestratorOptions struct {
	// PerSiteTimeout bounds each site's call; a site's own configured
	// timeout wins when shorter. Default 15s.
	PerSiteTimeout time.Duration
	// GlobalDeadline bounds the whole fan-out; late answers are
	// discarded, not awaited. Default 30s.
	GlobalDeadline time.Duration
	// MaxConcurrency caps in-flight sites. Default 8.
	MaxConcurrency int
}

func (o OrchestratorOptions) withDefaults() OrchestratorOptions {
	if o.PerSiteTimeout <= 0 {
		o.PerSiteTimeout = 15 * time.Second
	}
	if o.GlobalDeadline <= 0 {
		o.GlobalDeadline = 30 * time.Second
	}
	if o.MaxConcurrency <= 0 {
		o.MaxConcurrency = 8
	}
	return o
}

// Aggregate is the outcome of a fan-out: whatever arrived in time, tagged
// by site, plus a per-site error manifest. Partial success is a normal
// outcome.
type Aggregate struct {
	List   []models.Vod      `json:"list"`
	Errors map[string]string `json:"errors,omitempty"`
}

// Orchestrator fans one operation out across the searchable sites.
type Orchestrator struct {
	invoker *Invoker
	opts    OrchestratorOptions
}

// NewOrchestrator builds an Orchestrator over the invoker.
func NewOrchestrator(invoker *Invoker, opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{invoker: invoker, opts: opts.withDefaults()}
}

type siteOutcome struct {
	key    string
	result models.Result
	err    error
}

// Search runs the keyword across every searchable site (quick search
// restricts to quick-search sites) and aggregates whatever answers before
// the global deadline.
func (o *Orchestrator) Search(ctx context.Context, keyword string, quick bool) *Aggregate {
	cfg := o.invoker.resolver.Current()
	if cfg == nil {
		return &Aggregate{Errors: map[string]string{"": ErrNotLoadedMessage}}
	}

	var targets []models.Site
	for _, site := range cfg.Sites {
		if !site.IsSearchable() {
			continue
		}
		if quick && !site.IsQuickSearch() {
			continue
		}
		targets = append(targets, site)
	}
	if len(targets) == 0 {
		return &Aggregate{}
	}

	return o.fanOut(ctx, targets, func(ctx context.Context, key string) (models.Result, error) {
		return o.invoker.Search(ctx, key, keyword, quick)
	})
}

// ErrNotLoadedMessage is the manifest entry used before the first config
// load.
const ErrNotLoadedMessage = "config not loaded"

// fanOut runs op against every target under the orchestrator's deadline
// discipline.
func (o *Orchestrator) fanOut(ctx context.Context, targets []models.Site, op func(ctx context.Context, siteKey string) (models.Result, error)) *Aggregate {
	ctx, cancel := context.WithTimeout(ctx, o.opts.GlobalDeadline)
	defer cancel()

	outcomes := make(chan siteOutcome, len(targets))
	p := pool.New().WithMaxGoroutines(o.opts.MaxConcurrency)
	for _, site := range targets {
		key := site.Key
		p.Go(func() {
			siteCtx, siteCancel := context.WithTimeout(ctx, o.opts.PerSiteTimeout)
			defer siteCancel()
			result, err := op(siteCtx, key)
			select {
			case outcomes <- siteOutcome{key: key, result: result, err: err}:
			case <-ctx.Done():
			}
		})
	}
	go func() {
		p.Wait()
		close(outcomes)
	}()

	agg := &Aggregate{}
	answered := make(map[string]bool, len(targets))
	pending := len(targets)
	for pending > 0 {
		select {
		case out, ok := <-outcomes:
			if !ok {
				pending = 0
				break
			}
			pending--
			answered[out.key] = true
			if out.err != nil {
				if agg.Errors == nil {
					agg.Errors = map[string]string{}
				}
				agg.Errors[out.key] = out.err.Error()
				continue
			}
			agg.List = append(agg.List, out.result.List...)
		case <-ctx.Done():
			// Deadline: whatever is still in flight is discarded. The
			// goroutines drain on their own once their contexts expire.
			log.Printf("[spider] fan-out deadline hit with %d site(s) outstanding", pending)
			if agg.Errors == nil {
				agg.Errors = map[string]string{}
			}
			for _, site := range targets {
				if !answered[site.Key] {
					agg.Errors[site.Key] = context.DeadlineExceeded.Error()
				}
			}
			return agg
		}
	}
	return agg
}
