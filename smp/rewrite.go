package smp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/paulmach/orb"
)

// GeoJSONPolicy decides what happens to geojson sources whose data is a
// remote URL.
type GeoJSONPolicy int

const (
	// GeoJSONInline fetches the document and embeds it in the style.
	GeoJSONInline GeoJSONPolicy = iota
	// GeoJSONDrop removes the source (and keeps the package smaller).
	GeoJSONDrop
)

// TileSource is the planner's view of one rewritten tile source.
type TileSource struct {
	ID        string
	Folder    string
	Templates []string // external fetch templates, already normalized
	Scheme    TileScheme
	Format    TileFormat
	Bound     orb.Bound
	MinZoom   uint8
	MaxZoom   uint8
}

// RewriteResult is everything the downloader needs after the style has
// been transformed to its archive-internal form.
type RewriteResult struct {
	Style       *Style
	TileSources []TileSource
	FontStacks  []string // post-replacement stack names
	GlyphURL    string   // external template with {fontstack}/{range}
	Sprites     []SpriteEntry
	Bounds      orb.Bound
	MaxZoom     uint8
}

// RewriteOptions configures the style transformation.
type RewriteOptions struct {
	Bound          orb.Bound
	MaxZoom        uint8
	AccessToken    string
	AvailableFonts []string
	GeoJSON        GeoJSONPolicy
}

// RewriteStyle transforms a remote style document in place: unsupported
// sources are dropped, TileJSON references inlined, tile/glyph/sprite
// URLs replaced with internal URIs, font stacks reduced to available
// fonts, and the smp metadata emitted. fetch is used for TileJSON and
// geojson documents only.
func RewriteStyle(ctx context.Context, style *Style, opts RewriteOptions, fetch Fetcher) (*RewriteResult, error) {
	res := &RewriteResult{Style: style}

	var bounds []orb.Bound
	var maxzoom uint8
	folders := map[string]string{}

	for _, id := range style.SourceOrder {
		src, ok := style.Sources[id]
		if !ok {
			continue
		}
		switch src.Kind() {
		case SourceVector, SourceRaster:
			ts, err := rewriteTileSource(ctx, id, src, opts, fetch)
			if err != nil {
				return nil, err
			}
			res.TileSources = append(res.TileSources, *ts)
			bounds = append(bounds, ts.Bound)
			if ts.MaxZoom > maxzoom {
				maxzoom = ts.MaxZoom
			}
			if ts.Folder != id {
				folders[id] = ts.Folder
			}
		case SourceGeoJSON:
			keep, b, err := rewriteGeoJSONSource(ctx, src, opts, fetch)
			if err != nil {
				return nil, err
			}
			if !keep {
				delete(style.Sources, id)
				continue
			}
			if b != nil {
				bounds = append(bounds, *b)
			}
		default:
			delete(style.Sources, id)
		}
	}
	style.SourceOrder = retainOrder(style.SourceOrder, style.Sources)

	// fonts
	style.ReplaceFontStacks(opts.AvailableFonts)
	for _, stack := range style.FontStacks() {
		res.FontStacks = append(res.FontStacks, strings.Join(stack, ","))
	}
	if style.Glyphs != "" {
		glyphURL, err := NormalizeMapboxURL(style.Glyphs, opts.AccessToken)
		if err != nil {
			return nil, err
		}
		res.GlyphURL = glyphURL
		style.Glyphs = GlyphURITemplate()
	}

	// sprites
	if style.Sprite != nil {
		for i, entry := range style.Sprite.Entries {
			spriteURL, err := NormalizeMapboxURL(entry.URL, opts.AccessToken)
			if err != nil {
				return nil, err
			}
			res.Sprites = append(res.Sprites, SpriteEntry{ID: entry.ID, URL: spriteURL})
			style.Sprite.Entries[i].URL = SpriteURI(entry.ID)
		}
	}

	if len(res.TileSources) == 0 && maxzoom == 0 {
		maxzoom = geojsonDefaultMaxzoom
	}
	if maxzoom > opts.MaxZoom {
		maxzoom = opts.MaxZoom
	}
	res.MaxZoom = maxzoom
	res.Bounds = UnionBounds(bounds)

	if style.Metadata == nil {
		style.Metadata = map[string]interface{}{}
	}
	style.Metadata[MetaBounds] = []float64{
		res.Bounds.Min.X(), res.Bounds.Min.Y(), res.Bounds.Max.X(), res.Bounds.Max.Y(),
	}
	style.Metadata[MetaMaxzoom] = int(res.MaxZoom)
	if len(folders) > 0 {
		style.Metadata[MetaSourceFolders] = folders
	}

	return res, nil
}

func rewriteTileSource(ctx context.Context, id string, src *Source, opts RewriteOptions, fetch Fetcher) (*TileSource, error) {
	if len(src.Tiles) == 0 && src.URL != "" {
		if err := inlineTileJSON(ctx, src, opts.AccessToken, fetch); err != nil {
			return nil, fmt.Errorf("source %q: %w", id, err)
		}
	}
	if len(src.Tiles) == 0 {
		return nil, fmt.Errorf("%w: source %q has no tile URLs", ErrInvalidStyle, id)
	}

	templates := make([]string, len(src.Tiles))
	for i, t := range src.Tiles {
		normalized, err := NormalizeMapboxURL(t, opts.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("source %q: %w", id, err)
		}
		if !strings.Contains(normalized, "{z}") || !strings.Contains(normalized, "{x}") || !strings.Contains(normalized, "{y}") {
			return nil, fmt.Errorf("%w: source %q template %q lacks {z}/{x}/{y}", ErrInvalidStyle, id, t)
		}
		templates[i] = normalized
	}

	ts := &TileSource{
		ID:        id,
		Folder:    SourceFolder(id),
		Templates: templates,
		Format:    formatFromTemplate(templates[0], src.Kind()),
		Bound:     src.Bound(),
		MinZoom:   0,
		MaxZoom:   opts.MaxZoom,
	}
	if src.Scheme == "tms" {
		ts.Scheme = SchemeTMS
	}
	if src.MinZoom != nil && *src.MinZoom > 0 {
		ts.MinZoom = uint8(*src.MinZoom)
	}
	if src.MaxZoom != nil && uint8(*src.MaxZoom) < ts.MaxZoom {
		ts.MaxZoom = uint8(*src.MaxZoom)
	}

	// point the style at the archive
	src.Tiles = []string{TileURITemplate(ts.Folder, ts.Format)}
	src.URL = ""
	src.Scheme = "" // stored tiles are always XYZ
	mz := int(ts.MaxZoom)
	src.MaxZoom = &mz

	return ts, nil
}

// inlineTileJSON folds a TileJSON document into the source definition.
func inlineTileJSON(ctx context.Context, src *Source, accessToken string, fetch Fetcher) error {
	metaURL, err := NormalizeMapboxURL(src.URL, accessToken)
	if err != nil {
		return err
	}
	body, _, err := fetch(ctx, metaURL)
	if err != nil {
		return fmt.Errorf("fetch TileJSON %s: %w", metaURL, err)
	}
	var tj struct {
		Tiles   []string  `json:"tiles"`
		Bounds  []float64 `json:"bounds"`
		MinZoom *int      `json:"minzoom"`
		MaxZoom *int      `json:"maxzoom"`
		Scheme  string    `json:"scheme"`
	}
	if err := json.Unmarshal(body, &tj); err != nil {
		return fmt.Errorf("parse TileJSON %s: %w", metaURL, err)
	}
	src.Tiles = tj.Tiles
	if tj.Bounds != nil {
		src.Bounds = tj.Bounds
	}
	if tj.MinZoom != nil {
		src.MinZoom = tj.MinZoom
	}
	if tj.MaxZoom != nil {
		src.MaxZoom = tj.MaxZoom
	}
	if tj.Scheme != "" {
		src.Scheme = tj.Scheme
	}
	return nil
}

func rewriteGeoJSONSource(ctx context.Context, src *Source, opts RewriteOptions, fetch Fetcher) (bool, *orb.Bound, error) {
	var dataURL string
	if err := json.Unmarshal(src.Data, &dataURL); err == nil {
		// remote document
		if opts.GeoJSON == GeoJSONDrop {
			return false, nil, nil
		}
		normalized, err := NormalizeMapboxURL(dataURL, opts.AccessToken)
		if err != nil {
			return false, nil, err
		}
		body, _, err := fetch(ctx, normalized)
		if err != nil {
			return false, nil, fmt.Errorf("fetch geojson %s: %w", normalized, err)
		}
		src.Data = body
	}
	if b, ok := GeoJSONBound(src.Data); ok {
		return true, &b, nil
	}
	return true, nil, nil
}

func retainOrder(order []string, live map[string]*Source) []string {
	out := order[:0]
	for _, id := range order {
		if _, ok := live[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func formatFromTemplate(template string, kind SourceKind) TileFormat {
	p := template
	if u, err := url.Parse(template); err == nil {
		p = u.Path
	}
	switch {
	case strings.HasSuffix(p, ".mvt"), strings.HasSuffix(p, ".pbf"),
		strings.HasSuffix(p, ".mvt.gz"), strings.HasSuffix(p, ".pbf.gz"):
		return FormatMvt
	case strings.HasSuffix(p, ".png"):
		return FormatPng
	case strings.HasSuffix(p, ".jpg"), strings.HasSuffix(p, ".jpeg"):
		return FormatJpg
	case strings.HasSuffix(p, ".webp"):
		return FormatWebp
	}
	if kind == SourceRaster {
		return FormatPng
	}
	return FormatMvt
}

// RenderGlyphURL fills the external glyph template for one stack+range.
func RenderGlyphURL(template string, fontstack string, start int) string {
	r := strings.NewReplacer(
		"{fontstack}", url.PathEscape(fontstack),
		"{range}", fmt.Sprintf("%d-%d", start, start+255),
	)
	return r.Replace(template)
}

// SpriteVariantURL derives the pixel-ratio variant of a sprite URL. The
// base may already carry a query string (mapbox token), which must stay
// behind the inserted suffix.
func SpriteVariantURL(base string, pixelRatio int, ext string) string {
	u, err := url.Parse(base)
	suffix := ""
	if pixelRatio > 1 {
		suffix = fmt.Sprintf("@%dx", pixelRatio)
	}
	if err != nil {
		return base + suffix + ext
	}
	u.Path += suffix + ext
	return u.String()
}
