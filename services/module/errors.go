package module

import "fmt"

// ErrorKind classifies module lifecycle failures.
type ErrorKind string

const (
	KindTooLarge            ErrorKind = "too_large"
	KindDownloadFailed      ErrorKind = "download_failed"
	KindUnsafe              ErrorKind = "unsafe"
	KindInstantiationFailed ErrorKind = "instantiation_failed"
	KindNotFound            ErrorKind = "not_found"
)

// ModuleError reports a failed module operation. It affects only the
// caller requesting that module; already-loaded modules keep serving.
type ModuleError struct {
	Kind ErrorKind
	Ref  string
	Err  error
}

func (e *ModuleError) Error() string {
	return fmt.Sprintf("module %s: %s: %v", e.Kind, e.Ref, e.Err)
}

func (e *ModuleError) Unwrap() error { return e.Err }
