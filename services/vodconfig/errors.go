package vodconfig

import (
	"errors"
	"fmt"
)

// ErrorKind classifies config resolution failures.
type ErrorKind string

const (
	KindUnreachable  ErrorKind = "unreachable"
	KindParseFailure ErrorKind = "parse_failure"
	KindEmpty        ErrorKind = "empty"
)

// ConfigError reports why one resolution layer was rejected. Load only
// returns it once every layer has failed.
type ConfigError struct {
	Kind ErrorKind
	URL  string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s: %v", e.Kind, e.URL, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ErrSiteNotFound is returned by Site for an unknown key.
var ErrSiteNotFound = errors.New("site not found")

// ErrParseNotFound is returned by Parse for an unknown name.
var ErrParseNotFound = errors.New("parser not found")

// ErrNotLoaded is returned before the first successful Load.
var ErrNotLoaded = errors.New("config not loaded")
