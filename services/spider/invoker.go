package spider

import (
	"context"
	"fmt"
	"log"
	"time"

	"vodhub/models"
	"vodhub/services/vodconfig"
)

// Provider materializes the adapter for a site. The module registry
// implements it.
type Provider interface {
	Spider(ctx context.Context, site *models.Site) (Spider, error)
}

// Invoker is the uniform façade over adapter operations: resolve the
// site, ensure its adapter, invoke, normalize. Adapter failures and
// panics come back as error results, never as a crash.
type Invoker struct {
	resolver *vodconfig.Resolver
	provider Provider
}

// NewInvoker builds an Invoker.
func NewInvoker(resolver *vodconfig.Resolver, provider Provider) *Invoker {
	return &Invoker{resolver: resolver, provider: provider}
}

// Home returns a site's home content (categories plus front page).
func (iv *Invoker) Home(ctx context.Context, siteKey string, filter bool) (models.Result, error) {
	return iv.invoke(ctx, siteKey, "home", func(ctx context.Context, s Spider) ([]byte, error) {
		return s.HomeContent(ctx, filter)
	})
}

// Category returns one page of a category listing.
func (iv *Invoker) Category(ctx context.Context, siteKey, tid, page string, filter bool, extend map[string]string) (models.Result, error) {
	return iv.invoke(ctx, siteKey, "category", func(ctx context.Context, s Spider) ([]byte, error) {
		return s.CategoryContent(ctx, tid, page, filter, extend)
	})
}

// Search queries one site.
func (iv *Invoker) Search(ctx context.Context, siteKey, keyword string, quick bool) (models.Result, error) {
	return iv.invoke(ctx, siteKey, "search", func(ctx context.Context, s Spider) ([]byte, error) {
		return s.SearchContent(ctx, keyword, quick)
	})
}

// Detail returns full records for the given ids.
func (iv *Invoker) Detail(ctx context.Context, siteKey string, ids []string) (models.Result, error) {
	return iv.invoke(ctx, siteKey, "detail", func(ctx context.Context, s Spider) ([]byte, error) {
		return s.DetailContent(ctx, ids)
	})
}

// Play resolves a playable URL for one episode.
func (iv *Invoker) Play(ctx context.Context, siteKey, flag, id string, vipFlags []string) (models.Result, error) {
	return iv.invoke(ctx, siteKey, "play", func(ctx context.Context, s Spider) ([]byte, error) {
		return s.PlayerContent(ctx, flag, id, vipFlags)
	})
}

// siteTimeout interprets the configured per-site timeout, declared in
// seconds.
func siteTimeout(site *models.Site) time.Duration {
	return time.Duration(site.Timeout) * time.Second
}

type operation func(ctx context.Context, s Spider) ([]byte, error)

func (iv *Invoker) invoke(ctx context.Context, siteKey, op string, run operation) (result models.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[spider] %s/%s panicked: %v", siteKey, op, r)
			err = &AdapterError{Kind: KindOperationFailed, SiteKey: siteKey, Op: op, Err: fmt.Errorf("panic: %v", r)}
			result = models.ErrorResult(err.Error())
		}
	}()

	site, err := iv.resolver.Site(siteKey)
	if err != nil {
		return models.ErrorResult(err.Error()), &AdapterError{Kind: KindOperationFailed, SiteKey: siteKey, Op: op, Err: err}
	}
	adapter, err := iv.provider.Spider(ctx, site)
	if err != nil {
		return models.ErrorResult(err.Error()), &AdapterError{Kind: KindOperationFailed, SiteKey: site.Key, Op: op, Err: err}
	}

	if site.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, siteTimeout(site))
		defer cancel()
	}

	payload, err := run(ctx, adapter)
	if err != nil {
		return models.ErrorResult(err.Error()), &AdapterError{Kind: KindOperationFailed, SiteKey: site.Key, Op: op, Err: err}
	}

	res := models.ResultFromJSON(payload)
	res.TagSite(site.Key)
	return res, nil
}
