package spider

import (
	"context"
	"encoding/base64"
	"net/url"
	"strings"

	"vodhub/models"
	"vodhub/services/transport"
)

// extSpider drives type-4 sites: an external API that receives the site's
// ext document base64-encoded on every call.
type extSpider struct {
	client *transport.Client
	site   *models.Site
	extend string
}

// NewExtSpider builds the adapter for a type 4 site.
func NewExtSpider(client *transport.Client) Spider {
	return &extSpider{client: client}
}

func (s *extSpider) Init(_ context.Context, site *models.Site) error {
	s.site = site
	if site.Ext != "" {
		s.extend = base64.StdEncoding.EncodeToString([]byte(site.Ext))
	}
	return nil
}

func (s *extSpider) HomeContent(ctx context.Context, filter bool) ([]byte, error) {
	params := url.Values{}
	if filter {
		params.Set("filter", "true")
	}
	return s.fetch(ctx, params)
}

func (s *extSpider) CategoryContent(ctx context.Context, tid, page string, _ bool, extend map[string]string) ([]byte, error) {
	params := url.Values{}
	params.Set("ac", "detail")
	params.Set("t", tid)
	if page != "" {
		params.Set("pg", page)
	}
	for k, v := range extend {
		if v != "" {
			params.Set(k, v)
		}
	}
	return s.fetch(ctx, params)
}

func (s *extSpider) SearchContent(ctx context.Context, keyword string, quick bool) ([]byte, error) {
	params := url.Values{}
	params.Set("wd", keyword)
	if quick {
		params.Set("quick", "true")
	}
	return s.fetch(ctx, params)
}

func (s *extSpider) DetailContent(ctx context.Context, ids []string) ([]byte, error) {
	params := url.Values{}
	params.Set("ac", "detail")
	params.Set("ids", strings.Join(ids, ","))
	return s.fetch(ctx, params)
}

func (s *extSpider) PlayerContent(ctx context.Context, flag, id string, _ []string) ([]byte, error) {
	params := url.Values{}
	params.Set("play", id)
	params.Set("flag", flag)
	return s.fetch(ctx, params)
}

func (s *extSpider) Destroy() {}

func (s *extSpider) fetch(ctx context.Context, params url.Values) ([]byte, error) {
	if s.extend != "" {
		params.Set("extend", s.extend)
	}
	target := s.site.API
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + params.Encode()
	}
	resp, err := s.client.Do(ctx, transport.Request{URL: target, Header: s.site.Headers()})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}
