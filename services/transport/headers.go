package transport

import (
	"math/rand"
	"net/http"
	"strings"
)

// UA pools. Mobile hosts (m. prefix or a mobile marker) get a mobile
// agent, everything else a desktop one.
var desktopUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
}

var mobileUserAgents = []string{
	"Mozilla/5.0 (Linux; Android 13; Pixel 7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
}

// bypassMarkers name the hosts that must be left alone: no injected
// referer and no response caching. Auth and live endpoints break under
// both.
var bypassMarkers = []string{"login", "auth", "token", "live", "stream"}

// isBypassHost reports whether the host opts out of caching and referer
// injection.
func isBypassHost(host string) bool {
	lowered := strings.ToLower(host)
	for _, marker := range bypassMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// pickUserAgent chooses an agent for the host by the desktop/mobile
// heuristic.
func pickUserAgent(host string) string {
	lowered := strings.ToLower(host)
	if strings.HasPrefix(lowered, "m.") || strings.Contains(lowered, "mobile") {
		return mobileUserAgents[rand.Intn(len(mobileUserAgents))]
	}
	return desktopUserAgents[rand.Intn(len(desktopUserAgents))]
}

// applyHeaderPolicy fills in the standard headers a bare request is
// missing. Caller-set headers always win.
func applyHeaderPolicy(req *http.Request) {
	host := req.URL.Host
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", pickUserAgent(host))
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}
	if req.Header.Get("Accept-Language") == "" {
		req.Header.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	}
	if isBypassHost(host) {
		return
	}
	origin := req.URL.Scheme + "://" + host
	if req.Header.Get("Referer") == "" {
		req.Header.Set("Referer", origin+"/")
	}
	if req.Header.Get("Origin") == "" {
		req.Header.Set("Origin", origin)
	}
}
