package models

import (
	"encoding/json"
	"strings"
)

// Class is one category tab exposed by a site's home content.
type Class struct {
	TypeID   string `json:"type_id"`
	TypeName string `json:"type_name"`
	TypeFlag string `json:"type_flag,omitempty"`
}

// Vod is a single video entry in the common response shape.
type Vod struct {
	VodID       string `json:"vod_id"`
	VodName     string `json:"vod_name"`
	VodPic      string `json:"vod_pic,omitempty"`
	VodRemarks  string `json:"vod_remarks,omitempty"`
	VodYear     string `json:"vod_year,omitempty"`
	VodArea     string `json:"vod_area,omitempty"`
	VodActor    string `json:"vod_actor,omitempty"`
	VodDirector string `json:"vod_director,omitempty"`
	VodContent  string `json:"vod_content,omitempty"`
	VodPlayFrom string `json:"vod_play_from,omitempty"`
	VodPlayURL  string `json:"vod_play_url,omitempty"`
	TypeName    string `json:"type_name,omitempty"`

	// SiteKey tags the origin site during fan-out; not part of the
	// upstream payload.
	SiteKey string `json:"site_key,omitempty"`
}

// Filter is one selectable filter a category offers.
type Filter struct {
	Key   string        `json:"key"`
	Name  string        `json:"name"`
	Value []FilterValue `json:"value"`
}

type FilterValue struct {
	N string `json:"n"`
	V string `json:"v"`
}

// Result is the common response shape every adapter payload is normalized
// into: a list of items plus pagination, optional classes and filters, and
// the play fields used by player content.
type Result struct {
	Classes []Class             `json:"class,omitempty"`
	List    []Vod               `json:"list,omitempty"`
	Filters map[string][]Filter `json:"filters,omitempty"`

	Page      json.Number `json:"page,omitempty"`
	PageCount json.Number `json:"pagecount,omitempty"`
	Limit     json.Number `json:"limit,omitempty"`
	Total     json.Number `json:"total,omitempty"`

	// Play fields.
	Flag    string            `json:"flag,omitempty"`
	URL     string            `json:"url,omitempty"`
	PlayURL string            `json:"playUrl,omitempty"`
	ParseIn int               `json:"parse,omitempty"`
	Header  map[string]string `json:"header,omitempty"`
	Jx      int               `json:"jx,omitempty"`

	// Error carries a per-site failure message in aggregate responses.
	Error string `json:"error,omitempty"`
}

// ResultFromJSON decodes an adapter payload into the common shape.
// A payload that is not valid JSON yields an empty result rather than an
// error; adapters for misbehaving sites are allowed to return junk.
func ResultFromJSON(payload []byte) Result {
	var r Result
	if len(payload) == 0 {
		return r
	}
	if err := json.Unmarshal(payload, &r); err != nil {
		return Result{}
	}
	return r
}

// EmptyResult is the well-formed zero payload adapters fall back to.
func EmptyResult() Result {
	return Result{}
}

// Bytes marshals the result; the shape is always marshalable.
func (r Result) Bytes() []byte {
	data, _ := json.Marshal(r)
	return data
}

// ErrorResult builds a result carrying only an error message.
func ErrorResult(msg string) Result {
	return Result{Error: strings.TrimSpace(msg)}
}

// TagSite stamps every list entry with its origin site key.
func (r *Result) TagSite(key string) {
	for i := range r.List {
		r.List[i].SiteKey = key
	}
}

// Empty reports whether the result carries no usable content.
func (r *Result) Empty() bool {
	return len(r.List) == 0 && len(r.Classes) == 0 && r.URL == ""
}
