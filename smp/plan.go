package smp

import (
	"math"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/paulmach/orb"
)

// glyphRangeCount is the number of 256-codepoint ranges in the basic
// multilingual space served by glyph endpoints (0 through 65280).
const glyphRangeCount = 256

// Sprite pixel ratios fetched per sprite id. Missing 1x is fatal for
// the sprite, missing 2x is skipped.
var spritePixelRatios = []int{1, 2}

// PlanEntry is one resource the downloader must fetch. Index is the
// position in plan order, which the writer preserves.
type PlanEntry struct {
	Index int
	Kind  ResourceKind
	Path  string // archive destination
	URL   string // external location

	// tile fields
	SourceID string
	Tile     Zxy
	Format   TileFormat

	// glyph fields
	Fontstack  string
	RangeStart int

	// sprite fields
	SpriteID   string
	PixelRatio int
	SpriteExt  string
}

// Plan is the deterministic fetch schedule derived from a rewritten
// style: glyph range 0-255 per stack, sprites, the remaining glyph
// ranges, then tiles ascending by zoom, round-robin across sources
// within a zoom, row-major within a (zoom, source).
type Plan struct {
	Entries   []PlanEntry
	TileCount int
}

// BuildPlan enumerates every resource for the rewrite result, bounded
// by the request bbox and maxzoom.
func BuildPlan(res *RewriteResult, opts RewriteOptions) *Plan {
	p := &Plan{}
	add := func(e PlanEntry) {
		e.Index = len(p.Entries)
		p.Entries = append(p.Entries, e)
	}

	// first glyph range per stack leads so progressive readers can
	// shape text before anything else arrives
	if res.GlyphURL != "" {
		for _, stack := range res.FontStacks {
			add(glyphEntry(res.GlyphURL, stack, 0))
		}
	}

	for _, sprite := range res.Sprites {
		for _, ratio := range spritePixelRatios {
			for _, ext := range []string{".json", ".png"} {
				add(PlanEntry{
					Kind:       KindSprite,
					Path:       SpritePath(sprite.ID, ratio, ext),
					URL:        SpriteVariantURL(sprite.URL, ratio, ext),
					SpriteID:   sprite.ID,
					PixelRatio: ratio,
					SpriteExt:  ext,
				})
			}
		}
	}

	if res.GlyphURL != "" {
		for _, stack := range res.FontStacks {
			for i := 1; i < glyphRangeCount; i++ {
				add(glyphEntry(res.GlyphURL, stack, i*256))
			}
		}
	}

	planTiles(p, add, res, opts)
	return p
}

func glyphEntry(glyphURL string, stack string, start int) PlanEntry {
	return PlanEntry{
		Kind:       KindGlyph,
		Path:       GlyphPath(stack, start),
		URL:        RenderGlyphURL(glyphURL, stack, start),
		Fontstack:  stack,
		RangeStart: start,
	}
}

// sourceSlice is the row-major tile rectangle of one source at one zoom.
type sourceSlice struct {
	src   *TileSource
	tiles []Zxy
}

func planTiles(p *Plan, add func(PlanEntry), res *RewriteResult, opts RewriteOptions) {
	// one bitmap per archive folder: sources sharing a folder must not
	// plan the same entry twice
	planned := map[string]*roaring64.Bitmap{}

	for z := uint8(0); z <= res.MaxZoom; z++ {
		var slices []sourceSlice
		for i := range res.TileSources {
			src := &res.TileSources[i]
			if z < src.MinZoom || z > src.MaxZoom {
				continue
			}
			bound := ClampToMercator(src.Bound)
			if !opts.Bound.Min.Equal(opts.Bound.Max) {
				inter, ok := intersect(bound, ClampToMercator(opts.Bound))
				if !ok {
					continue
				}
				bound = inter
			}
			x0, y0, x1, y1 := TileRange(bound, z)
			bm := planned[src.Folder]
			if bm == nil {
				bm = roaring64.New()
				planned[src.Folder] = bm
			}
			var tiles []Zxy
			for y := y0; y <= y1; y++ {
				for x := x0; x <= x1; x++ {
					key := tileKey(z, x, y)
					if bm.Contains(key) {
						continue
					}
					bm.Add(key)
					tiles = append(tiles, Zxy{Z: z, X: x, Y: y})
				}
			}
			if len(tiles) > 0 {
				slices = append(slices, sourceSlice{src: src, tiles: tiles})
			}
		}

		// round-robin across sources within the zoom
		for i := 0; ; i++ {
			emitted := false
			for _, sl := range slices {
				if i >= len(sl.tiles) {
					continue
				}
				emitted = true
				t := sl.tiles[i]
				add(PlanEntry{
					Kind:     KindTile,
					Path:     TilePath(sl.src.Folder, t, sl.src.Format),
					URL:      RenderTileURL(sl.src.Templates, t, sl.src.Scheme),
					SourceID: sl.src.ID,
					Tile:     t,
					Format:   sl.src.Format,
				})
				p.TileCount++
			}
			if !emitted {
				break
			}
		}
	}
}

// tileKey packs z/x/y into a sortable 64-bit key for the bitmap.
func tileKey(z uint8, x, y uint32) uint64 {
	return uint64(z)<<58 | uint64(x)<<29 | uint64(y)
}

func intersect(a, b orb.Bound) (orb.Bound, bool) {
	minX := math.Max(a.Min.X(), b.Min.X())
	minY := math.Max(a.Min.Y(), b.Min.Y())
	maxX := math.Min(a.Max.X(), b.Max.X())
	maxY := math.Min(a.Max.Y(), b.Max.Y())
	if minX > maxX || minY > maxY {
		return orb.Bound{}, false
	}
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}, true
}
