package spider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"vodhub/models"
	"vodhub/services/transport"
)

func newCMSForTest(t *testing.T, siteType int) (*cmsSpider, *url.Values) {
	t.Helper()
	var lastQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastQuery = r.URL.Query()
		w.Write([]byte(`{"list":[{"vod_id":"1","vod_name":"x"}]}`))
	}))
	t.Cleanup(srv.Close)

	client := transport.New(nil, transport.Config{MaxRetries: 1, BaseDelay: time.Millisecond})
	s := NewCMSSpider(client).(*cmsSpider)
	site := &models.Site{Key: "cms", Type: siteType, API: srv.URL + "/api.php/provide/vod/"}
	if err := s.Init(context.Background(), site); err != nil {
		t.Fatal(err)
	}
	return s, &lastQuery
}

func TestCMSCategoryParams(t *testing.T) {
	tests := []struct {
		siteType int
		wantAC   string
	}{
		{models.SiteTypeXML, "videolist"},
		{models.SiteTypeJSON, "detail"},
	}
	for _, tt := range tests {
		s, q := newCMSForTest(t, tt.siteType)
		if _, err := s.CategoryContent(context.Background(), "5", "2", false, map[string]string{"year": "2024"}); err != nil {
			t.Fatal(err)
		}
		if got := q.Get("ac"); got != tt.wantAC {
			t.Errorf("type %d: ac = %q, want %q", tt.siteType, got, tt.wantAC)
		}
		if q.Get("t") != "5" || q.Get("pg") != "2" || q.Get("year") != "2024" {
			t.Errorf("type %d: unexpected params %v", tt.siteType, *q)
		}
	}
}

func TestCMSSearchParams(t *testing.T) {
	s, q := newCMSForTest(t, models.SiteTypeJSON)
	if _, err := s.SearchContent(context.Background(), "matrix", true); err != nil {
		t.Fatal(err)
	}
	if q.Get("wd") != "matrix" || q.Get("quick") != "true" {
		t.Fatalf("unexpected search params %v", *q)
	}
}

func TestCMSDetailParams(t *testing.T) {
	s, q := newCMSForTest(t, models.SiteTypeJSON)
	if _, err := s.DetailContent(context.Background(), []string{"7", "9"}); err != nil {
		t.Fatal(err)
	}
	if q.Get("ids") != "7,9" || q.Get("ac") != "detail" {
		t.Fatalf("unexpected detail params %v", *q)
	}
}

func TestCMSPlayerContentUsesPlayURL(t *testing.T) {
	client := transport.New(nil, transport.Config{MaxRetries: 1, BaseDelay: time.Millisecond})
	s := NewCMSSpider(client).(*cmsSpider)
	site := &models.Site{Key: "cms", Type: models.SiteTypeJSON, API: "https://cms.example.com/api.php", PlayURL: "https://play.example.com/?url="}
	if err := s.Init(context.Background(), site); err != nil {
		t.Fatal(err)
	}

	payload, err := s.PlayerContent(context.Background(), "m3u8", "https://src.example.com/ep1", nil)
	if err != nil {
		t.Fatal(err)
	}
	var r models.Result
	if err := json.Unmarshal(payload, &r); err != nil {
		t.Fatal(err)
	}
	if r.URL != "https://play.example.com/?url=https://src.example.com/ep1" {
		t.Fatalf("playUrl prefix not applied: %s", r.URL)
	}
	if r.ParseIn != 0 {
		t.Fatal("a configured playUrl means no client-side parse")
	}
}
