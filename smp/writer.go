package smp

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// FormatVersion is the VERSION entry payload. Readers accept any 1.x.
const FormatVersion = "1.0\n"

// Writer streams an SMP archive: VERSION and style.json lead, every
// later entry is appended in arrival order, so callers feed resources
// in plan order to satisfy the container's ordering contract. Entries
// are never buffered; the central directory mirrors insertion order.
type Writer struct {
	zw       *zip.Writer
	paths    map[string]bool
	hashes   map[uint64]string
	dupes    int
	finished bool
}

// NewWriter validates the style, then emits VERSION and style.json
// before returning, so the archive starts with them no matter when the
// caller adds resources.
func NewWriter(w io.Writer, style []byte, validate StyleValidator) (*Writer, error) {
	if validate == nil {
		validate = BasicStyleValidator
	}
	if problems := validate(style); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidStyle, strings.Join(problems, "; "))
	}

	sw := &Writer{
		zw:     zip.NewWriter(w),
		paths:  map[string]bool{},
		hashes: map[uint64]string{},
	}
	if err := sw.add(PathVersion, []byte(FormatVersion), zip.Deflate); err != nil {
		return nil, err
	}
	if err := sw.add(PathStyle, style, zip.Deflate); err != nil {
		return nil, err
	}
	return sw, nil
}

// AddTile stores one tile at its canonical path. Tile payloads are
// already compressed (gzip-wrapped MVT or an image codec).
func (w *Writer) AddTile(folder string, t Zxy, format TileFormat, data []byte) error {
	return w.add(TilePath(folder, t, format), data, zip.Store)
}

// AddGlyphRange stores one gzip-wrapped glyph protobuf.
func (w *Writer) AddGlyphRange(fontstack string, start int, data []byte) error {
	return w.add(GlyphPath(fontstack, start), data, zip.Store)
}

// AddSprite stores one sprite asset; JSON manifests deflate, PNGs store.
func (w *Writer) AddSprite(id string, pixelRatio int, ext string, data []byte) error {
	method := zip.Store
	if ext == ".json" {
		method = zip.Deflate
	}
	return w.add(SpritePath(id, pixelRatio, ext), data, method)
}

// AddResource stores an arbitrary entry using the compression policy
// implied by its extension.
func (w *Writer) AddResource(path string, data []byte) error {
	if _, err := ClassifyPath(path); err != nil {
		return err
	}
	return w.add(path, data, compressionFor(path))
}

func compressionFor(path string) uint16 {
	if strings.HasSuffix(path, ".json") {
		return zip.Deflate
	}
	return zip.Store
}

func (w *Writer) add(path string, data []byte, method uint16) error {
	if w.finished {
		return fmt.Errorf("writer already finished")
	}
	if w.paths[path] {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, path)
	}
	w.paths[path] = true

	sum := xxhash.Sum64(data)
	if _, seen := w.hashes[sum]; seen {
		w.dupes++
	} else {
		w.hashes[sum] = path
	}

	fw, err := w.zw.CreateHeader(&zip.FileHeader{Name: path, Method: method})
	if err != nil {
		return err
	}
	_, err = fw.Write(data)
	return err
}

// Has reports whether a path was already added.
func (w *Writer) Has(path string) bool {
	return w.paths[path]
}

// EntryCount is the number of entries written so far, fixed names
// included.
func (w *Writer) EntryCount() int {
	return len(w.paths)
}

// DuplicateCount reports how many entries carried byte-identical
// content to an earlier one; ZIP stores them twice, so a high count is
// a hint the source serves filler tiles.
func (w *Writer) DuplicateCount() int {
	return w.dupes
}

// Finish closes the central directory. Idempotent.
func (w *Writer) Finish() error {
	if w.finished {
		return nil
	}
	w.finished = true
	return w.zw.Close()
}
