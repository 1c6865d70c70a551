package models

// Depot is one entry of a repository index: a named pointer to a full
// configuration document. A payload carrying a top-level "urls" list is a
// depot index, not a site list, and is surfaced to the caller as a
// selectable menu.
type Depot struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}
