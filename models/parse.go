package models

// Parse types. A parse translates a raw source URL into a directly
// playable URL.
const (
	ParseTypeNone   = 0 // play the URL as-is after sniffing
	ParseTypeDirect = 1 // generic redirect endpoint
	ParseTypeJSON   = 2 // JSON endpoint returning the real URL
	ParseTypeScript = 3 // script-driven translation
)

// Parse describes a playable-URL translation service declared by the
// configuration.
type Parse struct {
	Name   string            `json:"name"`
	Type   int               `json:"type"`
	URL    string            `json:"url"`
	Header map[string]string `json:"header,omitempty"`
}

// DirectParse is the synthetic high-priority parse prepended to every
// parsed configuration that declares at least one parse. It represents
// "play the URL without translation".
func DirectParse() Parse {
	return Parse{Name: "Direct", Type: ParseTypeDirect}
}
