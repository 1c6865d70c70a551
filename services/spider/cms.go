package spider

import (
	"context"
	"net/url"
	"strings"

	"vodhub/models"
	"vodhub/services/transport"
)

// cmsSpider drives classic CMS list APIs (site types 0 and 1). Type 0
// endpoints answer ac=videolist, type 1 endpoints ac=detail; both share
// the t/pg/wd/ids parameter shape.
type cmsSpider struct {
	client *transport.Client
	site   *models.Site
	ac     string
}

// NewCMSSpider builds the adapter for a type 0/1 site.
func NewCMSSpider(client *transport.Client) Spider {
	return &cmsSpider{client: client}
}

func (s *cmsSpider) Init(_ context.Context, site *models.Site) error {
	s.site = site
	s.ac = "detail"
	if site.Type == models.SiteTypeXML {
		s.ac = "videolist"
	}
	return nil
}

func (s *cmsSpider) HomeContent(ctx context.Context, _ bool) ([]byte, error) {
	// A bare call returns the category tree plus the front page.
	return s.fetch(ctx, nil)
}

func (s *cmsSpider) CategoryContent(ctx context.Context, tid, page string, _ bool, extend map[string]string) ([]byte, error) {
	params := url.Values{}
	params.Set("ac", s.ac)
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

func (s *cmsSpider) SearchContent(ctx context.Context, keyword string, quick bool) ([]byte, error) {
	params := url.Values{}
	params.Set("wd", keyword)
	if quick {
		params.Set("quick", "true")
	}
	return s.fetch(ctx, params)
}

func (s *cmsSpider) DetailContent(ctx context.Context, ids []string) ([]byte, error) {
	params := url.Values{}
	params.Set("ac", s.ac)
	params.Set("ids", strings.Join(ids, ","))
	return s.fetch(ctx, params)
}

// PlayerContent does not hit the network for CMS sites: the playable URL
// is the id, optionally routed through the site's playUrl prefix.
func (s *cmsSpider) PlayerContent(_ context.Context, flag, id string, _ []string) ([]byte, error) {
	r := models.Result{Flag: flag, URL: id, Header: s.site.Headers()}
	if s.site.PlayURL != "" {
		r.URL = s.site.PlayURL + id
		r.ParseIn = 0
	} else {
		// No translation service configured; the caller must parse.
		r.ParseIn = 1
	}
	return r.Bytes(), nil
}

func (s *cmsSpider) Destroy() {}

func (s *cmsSpider) fetch(ctx context.Context, params url.Values) ([]byte, error) {
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
