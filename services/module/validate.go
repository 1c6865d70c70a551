package module

import (
	"archive/zip"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

// adapterMarker is the naming convention identifying adapter candidates
// inside an archive. Discovery is advisory; instantiation still requires
// the declared class name to resolve.
const adapterMarker = "csp_"

// sniffKind distinguishes archive modules from inline script source by
// content, never by file extension.
func sniffKind(head []byte) string {
	if mimetype.Detect(head).Is("application/zip") {
		return KindArchive
	}
	return KindScript
}

const (
	KindArchive = "archive"
	KindScript  = "script"
)

// validateArchive walks the zip entries, rejecting traversal and
// oversize entries, and collects adapter class candidates.
func validateArchive(fs afero.Fs, filePath string, size, maxEntryBytes int64) ([]string, error) {
	f, err := fs.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ra, ok := f.(io.ReaderAt)
	if !ok {
		return nil, fmt.Errorf("module file does not support random access")
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("not a readable archive: %w", err)
	}

	var classes []string
	for _, entry := range zr.File {
		if err := checkEntryName(entry.Name); err != nil {
			return nil, err
		}
		if maxEntryBytes > 0 && int64(entry.UncompressedSize64) > maxEntryBytes {
			return nil, &oversizeEntryError{name: entry.Name, size: entry.UncompressedSize64}
		}
		if class := classCandidate(entry.Name); class != "" {
			classes = append(classes, class)
		}
	}
	return classes, nil
}

// oversizeEntryError marks entries whose declared uncompressed size
// exceeds the ceiling, so the caller can map them to the TooLarge kind.
type oversizeEntryError struct {
	name string
	size uint64
}

func (e *oversizeEntryError) Error() string {
	return fmt.Sprintf("entry %s: %d uncompressed bytes over the ceiling", e.name, e.size)
}

// unsafeEntryError marks traversal findings so the caller can map them
// to the Unsafe kind.
type unsafeEntryError struct{ name string }

func (e *unsafeEntryError) Error() string {
	return fmt.Sprintf("entry %s escapes the extraction root", e.name)
}

func checkEntryName(name string) error {
	if strings.HasPrefix(name, "/") || strings.HasPrefix(name, "\\") {
		return &unsafeEntryError{name: name}
	}
	// Windows drive or UNC shapes.
	if len(name) > 1 && name[1] == ':' {
		return &unsafeEntryError{name: name}
	}
	for _, segment := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if segment == ".." {
			return &unsafeEntryError{name: name}
		}
	}
	return nil
}

// classCandidate extracts a declared adapter class name from an entry
// path when the marker convention matches.
func classCandidate(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}
	if strings.HasPrefix(base, adapterMarker) {
		return base
	}
	return ""
}
