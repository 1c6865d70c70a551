package models

import "strings"

// Site type constants follow the classic CMS convention used by source
// configuration payloads.
const (
	SiteTypeXML    = 0 // legacy list API, ac=videolist
	SiteTypeJSON   = 1 // JSON list API, ac=detail
	SiteTypeSpider = 3 // adapter lives in a loadable module
	SiteTypeExt    = 4 // external API driven by the ext document
)

// Site describes one configured content source. Sites are parsed from the
// resolved configuration and never mutated afterwards; a config reload
// replaces the whole list.
type Site struct {
	Key         string            `json:"key"`
	Name        string            `json:"name"`
	Type        int               `json:"type"`
	API         string            `json:"api"`
	Ext         string            `json:"ext,omitempty"`
	Jar         string            `json:"jar,omitempty"`
	PlayURL     string            `json:"playUrl,omitempty"`
	Searchable  *int              `json:"searchable,omitempty"`
	QuickSearch *int              `json:"quickSearch,omitempty"`
	Changeable  *int              `json:"changeable,omitempty"`
	Timeout     int               `json:"timeout,omitempty"`
	Categories  []string          `json:"categories,omitempty"`
	Header      map[string]string `json:"header,omitempty"`
}

// IsSearchable reports whether the site participates in search fan-out.
// Absent flag means searchable.
func (s *Site) IsSearchable() bool {
	return s.Searchable == nil || *s.Searchable == 1
}

// IsQuickSearch reports whether the site answers quick searches.
func (s *Site) IsQuickSearch() bool {
	return s.QuickSearch == nil || *s.QuickSearch == 1
}

// IsChangeable reports whether the site may be picked as the default.
func (s *Site) IsChangeable() bool {
	return s.Changeable == nil || *s.Changeable == 1
}

// SpiderClass returns the declared adapter class name for module-backed
// sites. By convention the api field of a type-3 site carries the class
// name (e.g. "csp_AppYs").
func (s *Site) SpiderClass() string {
	if s.Type != SiteTypeSpider {
		return ""
	}
	return strings.TrimSpace(s.API)
}

// Headers returns the header map, never nil.
func (s *Site) Headers() map[string]string {
	if s.Header == nil {
		return map[string]string{}
	}
	return s.Header
}
