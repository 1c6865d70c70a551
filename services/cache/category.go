package cache

import (
	"strings"
	"time"
)

// Category drives which TTL policy applies to a cached entry.
type Category string

const (
	CategoryConfig  Category = "config"
	CategoryContent Category = "content"
	CategorySearch  Category = "search"
	CategoryImage   Category = "image"
	CategoryScript  Category = "script"
	CategoryDetail  Category = "detail"
	CategoryPlayURL Category = "playurl"
	CategoryAPI     Category = "api"
	CategoryDefault Category = "default"
)

// DefaultTTLs is the fixed category policy table. Settings may override
// individual entries; unmatched categories fall back to CategoryDefault.
func DefaultTTLs() map[Category]time.Duration {
	return map[Category]time.Duration{
		CategoryConfig:  30 * time.Minute,
		CategoryContent: 12 * time.Minute,
		CategorySearch:  5 * time.Minute,
		CategoryImage:   60 * time.Minute,
		CategoryScript:  60 * time.Minute,
		CategoryDetail:  60 * time.Minute,
		CategoryPlayURL: 10 * time.Minute,
		CategoryAPI:     2 * time.Minute,
		CategoryDefault: 15 * time.Minute,
	}
}

// Infer guesses the cache category for a request URL from well-known
// substrings. Used by the transport to pick a TTL for responses it writes
// back.
func Infer(rawURL string) Category {
	lowered := strings.ToLower(rawURL)
	switch {
	case containsAny(lowered, ".json", "config", "tvbox", "depot"):
		return CategoryConfig
	case containsAny(lowered, "ac=videolist", "ac=detail&ids", "ids="):
		return CategoryDetail
	case containsAny(lowered, "wd=", "search"):
		return CategorySearch
	case containsAny(lowered, ".jpg", ".jpeg", ".png", ".webp", ".gif"):
		return CategoryImage
	case containsAny(lowered, ".js", ".jar", ".zip", ".py"):
		return CategoryScript
	case containsAny(lowered, "play=", "flag=", "parse"):
		return CategoryPlayURL
	case containsAny(lowered, "t=", "pg=", "class", "type"):
		return CategoryContent
	default:
		return CategoryAPI
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
