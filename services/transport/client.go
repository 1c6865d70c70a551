package transport

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"vodhub/services/cache"
)

// relevantHeaders take part in the cache key; other headers do not change
// what a source returns.
var relevantHeaders = []string{"User-Agent", "Referer", "Cookie", "Authorization", "Accept"}

// deniedContentTypes are never written to the cache.
var deniedContentTypes = []string{"text/event-stream", "application/octet-stream"}

// Config tunes the retry policy.
type Config struct {
	MaxRetries int           // total attempts, default 3
	BaseDelay  time.Duration // default 1s
	Backoff    bool          // linear backoff (BaseDelay * attempt) vs constant
	Timeout    time.Duration // per-attempt HTTP timeout, default 15s
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

// Request is one logical outbound call.
type Request struct {
	Method  string
	URL     string
	Header  map[string]string
	Body    []byte
	NoCache bool
	// Category overrides the inferred cache category when set.
	Category cache.Category
}

// Response is the buffered outcome of a call.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FromCache  bool
}

// Client is the single HTTP wrapper every component calls through. It
// enforces the header policy, the bounded retry policy, and cache-aware
// short-circuiting.
type Client struct {
	http  *http.Client
	cache *cache.Store
	cfg   Config
}

// New builds a Client. store may be nil to disable cache negotiation.
func New(store *cache.Store, cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		http:  &http.Client{Timeout: cfg.Timeout},
		cache: store,
		cfg:   cfg,
	}
}

// Get is shorthand for a header-only GET.
func (c *Client) Get(ctx context.Context, url string, header map[string]string) (*Response, error) {
	return c.Do(ctx, Request{Method: http.MethodGet, URL: url, Header: header})
}

// Do executes the request through the retry state machine, consulting the
// cache first and writing eligible responses back.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}

	cacheable := c.cacheEligible(req)
	key := cacheKey(req)
	category := req.Category
	if category == "" {
		category = cache.Infer(req.URL)
	}

	if cacheable {
		if payload, ok := c.cache.Get(key); ok {
			return &Response{StatusCode: http.StatusOK, Body: payload, FromCache: true}, nil
		}
	}

	resp, err := retry.DoWithData(
		func() (*Response, error) { return c.attempt(ctx, req) },
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxRetries)),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			if c.cfg.Backoff {
				return c.cfg.BaseDelay * time.Duration(n+1)
			}
			return c.cfg.BaseDelay
		}),
	)
	if err != nil {
		kind := classify(err)
		if isRetryable(err) {
			// The classifier wanted another attempt; running out of
			// attempts is its own failure kind.
			kind = KindExhaustedRetries
		}
		return nil, &NetError{Kind: kind, URL: req.URL, Err: err}
	}

	if cacheable && c.responseCacheable(resp) {
		c.cache.Put(key, resp.Body, category)
	}
	return resp, nil
}

// attempt performs one HTTP exchange, buffering and closing the body so a
// retry never leaks the previous response.
func (c *Client) attempt(ctx context.Context, req Request) (*Response, error) {
	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Header {
		httpReq.Header.Set(k, v)
	}
	applyHeaderPolicy(httpReq)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	payload, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}
	if isRetryableStatus(httpResp.StatusCode) {
		return nil, &statusError{Code: httpResp.StatusCode}
	}
	return &Response{StatusCode: httpResp.StatusCode, Header: httpResp.Header, Body: payload}, nil
}

// Download streams a body into w under the same header and retry policy,
// bypassing the cache. It fails with ErrBodyTooLarge past maxBytes and
// reports how many bytes reached w. A non-positive maxBytes disables the
// ceiling.
func (c *Client) Download(ctx context.Context, url string, w io.Writer, maxBytes int64) (int64, error) {
	var written int64
	err := retry.Do(
		func() error {
			written = 0
			httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			applyHeaderPolicy(httpReq)
			httpResp, err := c.http.Do(httpReq)
			if err != nil {
				return err
			}
			defer httpResp.Body.Close()
			if isRetryableStatus(httpResp.StatusCode) {
				return &statusError{Code: httpResp.StatusCode}
			}
			if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
				return fmt.Errorf("unexpected status %d", httpResp.StatusCode)
			}
			body := io.Reader(httpResp.Body)
			if maxBytes > 0 {
				body = io.LimitReader(httpResp.Body, maxBytes+1)
			}
			n, err := io.Copy(w, body)
			written = n
			if err != nil {
				return err
			}
			if maxBytes > 0 && n > maxBytes {
				return ErrBodyTooLarge
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.MaxRetries)),
		retry.RetryIf(isRetryable),
		retry.LastErrorOnly(true),
		retry.Delay(c.cfg.BaseDelay),
	)
	if err != nil {
		log.Printf("[transport] download failed for %s after %d byte(s): %v", url, written, err)
	}
	return written, err
}

// cacheEligible applies the request-side rules: caller opt-out, a cache
// store at all, and the bypass host list.
func (c *Client) cacheEligible(req Request) bool {
	if c.cache == nil || req.NoCache || req.Method != http.MethodGet {
		return false
	}
	host := hostOf(req.URL)
	return host != "" && !isBypassHost(host)
}

// responseCacheable applies the response-side rules: 2xx only, no denied
// content types, no explicit no-store.
func (c *Client) responseCacheable(resp *Response) bool {
	if resp.FromCache || resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	for _, denied := range deniedContentTypes {
		if strings.Contains(ct, denied) {
			return false
		}
	}
	return !strings.Contains(strings.ToLower(resp.Header.Get("Cache-Control")), "no-store")
}

// cacheKey derives a deterministic key from the method, URL, and the
// relevant headers.
func cacheKey(req Request) string {
	parts := []string{req.Method, req.URL}
	keys := make([]string, 0, len(req.Header))
	for k := range req.Header {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, relevant := range relevantHeaders {
			if strings.EqualFold(k, relevant) {
				parts = append(parts, k+"="+req.Header[k])
			}
		}
	}
	h := sha1.Sum([]byte(strings.Join(parts, "|")))
	return "req:" + hex.EncodeToString(h[:])
}

func hostOf(rawURL string) string {
	rest := rawURL
	if idx := strings.Index(rest, "://"); idx >= 0 {
		rest = rest[idx+3:]
	}
	if idx := strings.IndexAny(rest, "/?#"); idx >= 0 {
		rest = rest[:idx]
	}
	return rest
}
