package smp

import (
	"fmt"
	"strings"
)

// URIPrefix is the scheme+authority of archive-internal references. A
// breaking change to the container layout bumps the version component.
const URIPrefix = "smp://maps.v1/"

// Fixed entry names.
const (
	PathVersion = "VERSION"
	PathStyle   = "style.json"
)

// ResourceKind classifies an archive entry by its path.
type ResourceKind int

const (
	KindStyle ResourceKind = iota
	KindTile
	KindGlyph
	KindSprite
)

func (k ResourceKind) String() string {
	switch k {
	case KindStyle:
		return "style"
	case KindTile:
		return "tile"
	case KindGlyph:
		return "glyph"
	case KindSprite:
		return "sprite"
	}
	return "unknown"
}

// TileFormat is the encoding of every tile in one source.
type TileFormat int

const (
	FormatUnknown TileFormat = iota
	FormatMvt
	FormatPng
	FormatJpg
	FormatWebp
)

func (f TileFormat) String() string {
	switch f {
	case FormatMvt:
		return "mvt"
	case FormatPng:
		return "png"
	case FormatJpg:
		return "jpg"
	case FormatWebp:
		return "webp"
	}
	return "unknown"
}

// Ext returns the archive filename extension for the format. MVT tiles
// are stored gzip-wrapped.
func (f TileFormat) Ext() string {
	switch f {
	case FormatMvt:
		return "mvt.gz"
	case FormatPng:
		return "png"
	case FormatJpg:
		return "jpg"
	case FormatWebp:
		return "webp"
	}
	return ""
}

// TilePath is the canonical entry name for one tile of a source folder.
func TilePath(folder string, t Zxy, format TileFormat) string {
	return fmt.Sprintf("s/%s/%d/%d/%d.%s", folder, t.Z, t.X, t.Y, format.Ext())
}

// TileURITemplate is the internal tile template substituted into
// rewritten styles.
func TileURITemplate(folder string, format TileFormat) string {
	return URIPrefix + "s/" + folder + "/{z}/{x}/{y}." + format.Ext()
}

// GlyphPath names one 256-codepoint glyph range of a font stack.
func GlyphPath(fontstack string, start int) string {
	return fmt.Sprintf("fonts/%s/%d-%d.pbf.gz", fontstack, start, start+255)
}

// GlyphURITemplate keeps the {fontstack}/{range} placeholders for the
// renderer to fill in.
func GlyphURITemplate() string {
	return URIPrefix + "fonts/{fontstack}/{range}.pbf.gz"
}

// SpritePath names one sprite asset. pixelRatio 1 has no @Nx infix.
func SpritePath(id string, pixelRatio int, ext string) string {
	if pixelRatio <= 1 {
		return fmt.Sprintf("sprites/%s/sprite%s", id, ext)
	}
	return fmt.Sprintf("sprites/%s/sprite@%dx%s", id, pixelRatio, ext)
}

// SpriteURI is the extensionless sprite base; the renderer appends
// pixel-ratio and extension itself.
func SpriteURI(id string) string {
	return URIPrefix + "sprites/" + id + "/sprite"
}

// InternalURI converts an archive path to its smp:// reference.
func InternalURI(path string) string {
	return URIPrefix + path
}

// URIToPath strips the internal scheme; errors on foreign URIs.
func URIToPath(uri string) (string, error) {
	if !strings.HasPrefix(uri, URIPrefix) {
		return "", fmt.Errorf("%w: %q is not an internal URI", ErrUnknownResource, uri)
	}
	return uri[len(URIPrefix):], nil
}

// ClassifyPath maps an archive path to its resource kind.
func ClassifyPath(path string) (ResourceKind, error) {
	switch {
	case path == PathStyle:
		return KindStyle, nil
	case strings.HasPrefix(path, "fonts/"):
		return KindGlyph, nil
	case strings.HasPrefix(path, "sprites/"):
		return KindSprite, nil
	case strings.HasPrefix(path, "s/"):
		return KindTile, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownResource, path)
}

// suffix match order matters: the compound extensions must come first.
var contentTypes = []struct {
	suffix string
	mime   string
}{
	{".pbf.gz", "application/x-protobuf"},
	{".mvt.gz", "application/vnd.mapbox-vector-tile"},
	{".mvt", "application/vnd.mapbox-vector-tile"},
	{".pbf", "application/x-protobuf"},
	{".json", "application/json"},
	{".png", "image/png"},
	{".jpg", "image/jpeg"},
	{".webp", "image/webp"},
}

// ContentType resolves the MIME type of an archive path by extension.
func ContentType(path string) (string, error) {
	for _, ct := range contentTypes {
		if strings.HasSuffix(path, ct.suffix) {
			return ct.mime, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownContentType, path)
}

// FormatFromContentType maps a fetch response MIME type to a tile format.
func FormatFromContentType(mime string) (TileFormat, error) {
	switch {
	case strings.Contains(mime, "mapbox-vector-tile"), strings.Contains(mime, "protobuf"):
		return FormatMvt, nil
	case strings.Contains(mime, "image/png"):
		return FormatPng, nil
	case strings.Contains(mime, "image/jpeg"), strings.Contains(mime, "image/jpg"):
		return FormatJpg, nil
	case strings.Contains(mime, "image/webp"):
		return FormatWebp, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnknownContentType, mime)
}

// GlyphRangeStart parses the N of an "N-M" glyph range name; N must be a
// multiple of 256 within [0, 65280].
func GlyphRangeStart(rangeName string) (int, error) {
	var start, end int
	if _, err := fmt.Sscanf(rangeName, "%d-%d", &start, &end); err != nil {
		return 0, fmt.Errorf("bad glyph range %q: %w", rangeName, err)
	}
	if start%256 != 0 || start < 0 || start > 65280 || end != start+255 {
		return 0, fmt.Errorf("bad glyph range %q", rangeName)
	}
	return start, nil
}
