package smp

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
)

// Reader provides random access to the resources of an SMP archive.
// Concurrent Resource calls are safe when the underlying ReaderAt
// supports concurrent reads (os.File and bytes.Reader both do).
type Reader struct {
	zr      *zip.Reader
	closer  io.Closer
	entries map[string]*zip.File
	closed  bool
}

// OpenReader opens an archive from the filesystem. The file descriptor
// is released before returning on any open failure, so a failed open
// never leaks.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	r, err := newReader(f, st.Size(), f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// NewReaderAt opens an archive over any random-access source, e.g. a
// remote bucket adapter.
func NewReaderAt(ra io.ReaderAt, size int64) (*Reader, error) {
	return newReader(ra, size, nil)
}

// NewReaderFromBytes opens an in-memory archive.
func NewReaderFromBytes(data []byte) (*Reader, error) {
	return newReader(bytes.NewReader(data), int64(len(data)), nil)
}

func newReader(ra io.ReaderAt, size int64, closer io.Closer) (*Reader, error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}
	return &Reader{zr: zr, closer: closer, entries: entries}, nil
}

// Version returns the trimmed VERSION payload; ErrNotFound when the
// entry is absent.
func (r *Reader) Version() (string, error) {
	data, err := r.readAll(PathVersion)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(string(data), "\n"), nil
}

// VerifyVersion checks the VERSION entry grammar and that its major is
// one this implementation reads. A missing entry is ErrNotFound.
func (r *Reader) VerifyVersion() error {
	raw, err := r.readAll(PathVersion)
	if err != nil {
		return err
	}
	major, _, err := parseVersion(raw)
	if err != nil {
		return err
	}
	if !supportedMajors[major] {
		return fmt.Errorf("%w: major %d", ErrUnsupportedVersion, major)
	}
	return nil
}

// SMPMetadata is the package-level metadata recorded in style.metadata.
type SMPMetadata struct {
	Bounds        []float64
	MaxZoom       int
	SourceFolders map[string]string
}

// Metadata extracts the required smp metadata from the style.
func (r *Reader) Metadata() (*SMPMetadata, error) {
	style, err := r.Style()
	if err != nil {
		return nil, err
	}
	return styleMetadata(style)
}

func styleMetadata(style *Style) (*SMPMetadata, error) {
	boundsVal, ok := style.Metadata[MetaBounds]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingMetadata, MetaBounds)
	}
	bounds, err := asFloatSlice(boundsVal)
	if err != nil || len(bounds) != 4 {
		return nil, fmt.Errorf("%w: %s must be four numbers", ErrMissingMetadata, MetaBounds)
	}
	maxzoomVal, ok := style.Metadata[MetaMaxzoom]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingMetadata, MetaMaxzoom)
	}
	maxzoom, ok := maxzoomVal.(float64)
	if !ok {
		if i, isInt := maxzoomVal.(int); isInt {
			maxzoom = float64(i)
		} else {
			return nil, fmt.Errorf("%w: %s must be a number", ErrMissingMetadata, MetaMaxzoom)
		}
	}
	meta := &SMPMetadata{Bounds: bounds, MaxZoom: int(maxzoom)}
	if foldersVal, ok := style.Metadata[MetaSourceFolders]; ok {
		if folders, isMap := foldersVal.(map[string]interface{}); isMap {
			meta.SourceFolders = map[string]string{}
			for id, v := range folders {
				if name, isStr := v.(string); isStr {
					meta.SourceFolders[id] = name
				}
			}
		}
	}
	return meta, nil
}

func asFloatSlice(v interface{}) ([]float64, error) {
	switch t := v.(type) {
	case []float64:
		return t, nil
	case []interface{}:
		out := make([]float64, len(t))
		for i, e := range t {
			f, ok := e.(float64)
			if !ok {
				return nil, fmt.Errorf("element %d is not a number", i)
			}
			out[i] = f
		}
		return out, nil
	}
	return nil, fmt.Errorf("not an array")
}

// Style parses the style.json entry.
func (r *Reader) Style() (*Style, error) {
	data, err := r.readAll(PathStyle)
	if err != nil {
		return nil, err
	}
	return ParseStyle(data)
}

// StyleBytes returns the raw style.json entry.
func (r *Reader) StyleBytes() ([]byte, error) {
	return r.readAll(PathStyle)
}

// Resource streams one entry by archive path or internal URI, with its
// content type.
func (r *Reader) Resource(pathOrURI string) (io.ReadCloser, string, error) {
	p := pathOrURI
	if strings.HasPrefix(p, URIPrefix) {
		var err error
		if p, err = URIToPath(p); err != nil {
			return nil, "", err
		}
	}
	f, ok := r.entries[p]
	if !ok {
		return nil, "", fmt.Errorf("%w: entry %q", ErrNotFound, p)
	}
	contentType := "application/octet-stream"
	if p == PathVersion {
		contentType = "text/plain"
	} else if ct, err := ContentType(p); err == nil {
		contentType = ct
	}
	rc, err := f.Open()
	if err != nil {
		return nil, "", err
	}
	return rc, contentType, nil
}

// Entries lists every archive path in central-directory order.
func (r *Reader) Entries() []string {
	out := make([]string, 0, len(r.zr.File))
	for _, f := range r.zr.File {
		out = append(out, f.Name)
	}
	return out
}

// Has reports whether an entry exists.
func (r *Reader) Has(path string) bool {
	_, ok := r.entries[path]
	return ok
}

// HasPrefix reports whether any entry starts with prefix.
func (r *Reader) HasPrefix(prefix string) bool {
	for _, f := range r.zr.File {
		if strings.HasPrefix(f.Name, prefix) {
			return true
		}
	}
	return false
}

func (r *Reader) readAll(path string) ([]byte, error) {
	f, ok := r.entries[path]
	if !ok {
		return nil, fmt.Errorf("%w: entry %q", ErrNotFound, path)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// Close releases the underlying source. Idempotent.
func (r *Reader) Close() error {
	if r.closed || r.closer == nil {
		r.closed = true
		return nil
	}
	r.closed = true
	return r.closer.Close()
}
