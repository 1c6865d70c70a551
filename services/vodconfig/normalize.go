package vodconfig

import "strings"

// Schemes left untouched by normalization.
var passthroughPrefixes = []string{"http://", "https://", "file://", "assets://", "data:"}

// NormalizeURL cleans a configured endpoint or module reference: relative
// "./" prefixes are stripped and bare hostnames get https:// prepended.
// Known schemes pass through unchanged.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	// "./" references are relative to the config document and stay
	// relative after stripping.
	if strings.HasPrefix(raw, "./") {
		for strings.HasPrefix(raw, "./") {
			raw = raw[2:]
		}
		return raw
	}
	for _, prefix := range passthroughPrefixes {
		if strings.HasPrefix(raw, prefix) {
			return raw
		}
	}
	if strings.Contains(raw, "://") {
		return raw
	}
	return "https://" + raw
}

// NormalizeExt cleans a site's ext field only when it actually is a
// reference. Ext frequently carries opaque extend data (inline JSON,
// tokens) that must reach the adapter byte for byte.
func NormalizeExt(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "./") || strings.Contains(trimmed, "://") {
		return NormalizeURL(trimmed)
	}
	return raw
}
