package smp

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/paulmach/orb"
)

// Metadata keys written into style.metadata.
const (
	MetaBounds        = "smp:bounds"
	MetaMaxzoom       = "smp:maxzoom"
	MetaSourceFolders = "smp:sourceFolders"
)

// geojsonDefaultMaxzoom is the smp:maxzoom recorded for packages whose
// only sources are inline GeoJSON.
const geojsonDefaultMaxzoom = 16

// SourceKind is the tagged classification of a style source.
type SourceKind int

const (
	SourceVector SourceKind = iota
	SourceRaster
	SourceGeoJSON
	SourceOther
)

// Source is one entry of the style "sources" object. Unknown fields are
// preserved verbatim through extra so rewritten styles round-trip.
type Source struct {
	Type    string
	URL     string
	Tiles   []string
	Bounds  []float64
	MinZoom *int
	MaxZoom *int
	Scheme  string
	Data    json.RawMessage

	extra map[string]json.RawMessage
}

// Kind maps the type string to its tagged variant.
func (s *Source) Kind() SourceKind {
	switch s.Type {
	case "vector":
		return SourceVector
	case "raster":
		return SourceRaster
	case "geojson":
		return SourceGeoJSON
	}
	return SourceOther
}

func (s *Source) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	take := func(key string, dst interface{}) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("source field %q: %w", key, err)
		}
		delete(raw, key)
		return nil
	}
	for key, dst := range map[string]interface{}{
		"type": &s.Type, "url": &s.URL, "tiles": &s.Tiles, "bounds": &s.Bounds,
		"minzoom": &s.MinZoom, "maxzoom": &s.MaxZoom, "scheme": &s.Scheme,
	} {
		if err := take(key, dst); err != nil {
			return err
		}
	}
	if v, ok := raw["data"]; ok {
		s.Data = v
		delete(raw, "data")
	}
	s.extra = raw
	return nil
}

func (s *Source) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{}
	for k, v := range s.extra {
		out[k] = v
	}
	out["type"] = s.Type
	if s.URL != "" {
		out["url"] = s.URL
	}
	if s.Tiles != nil {
		out["tiles"] = s.Tiles
	}
	if s.Bounds != nil {
		out["bounds"] = s.Bounds
	}
	if s.MinZoom != nil {
		out["minzoom"] = s.MinZoom
	}
	if s.MaxZoom != nil {
		out["maxzoom"] = s.MaxZoom
	}
	if s.Scheme != "" {
		out["scheme"] = s.Scheme
	}
	if s.Data != nil {
		out["data"] = s.Data
	}
	return json.Marshal(out)
}

// Bound returns the declared bounds, or the world Mercator bound when
// the source does not carry any.
func (s *Source) Bound() orb.Bound {
	if len(s.Bounds) == 4 {
		return orb.Bound{
			Min: orb.Point{s.Bounds[0], s.Bounds[1]},
			Max: orb.Point{s.Bounds[2], s.Bounds[3]},
		}
	}
	return orb.Bound{Min: orb.Point{-180, -MaxMercatorLat}, Max: orb.Point{180, MaxMercatorLat}}
}

// SpriteEntry is one element of the array sprite form.
type SpriteEntry struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// SpriteSpec is the tagged sprite declaration: either a bare URL string
// (Single) or an ordered id+url list (Multi). The JSON shape is
// preserved on re-serialization.
type SpriteSpec struct {
	Multi   bool
	Entries []SpriteEntry
}

// DefaultSpriteID names the sprite of the string form.
const DefaultSpriteID = "default"

func (s *SpriteSpec) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		s.Multi = false
		s.Entries = []SpriteEntry{{ID: DefaultSpriteID, URL: single}}
		return nil
	}
	var entries []SpriteEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("sprite must be a string or an array of {id, url}: %w", err)
	}
	s.Multi = true
	s.Entries = entries
	return nil
}

func (s SpriteSpec) MarshalJSON() ([]byte, error) {
	if !s.Multi && len(s.Entries) == 1 {
		return json.Marshal(s.Entries[0].URL)
	}
	return json.Marshal(s.Entries)
}

// Style is a MapLibre style document. Recognized fields are typed;
// everything else survives in extra for round-trip fidelity.
type Style struct {
	Version  int
	Name     string
	Sources  map[string]*Source
	Layers   []map[string]interface{}
	Glyphs   string
	Sprite   *SpriteSpec
	Metadata map[string]interface{}

	// SourceOrder is the key order of the sources object as it appeared
	// in the document; plan round-robin depends on it being stable.
	SourceOrder []string

	extra map[string]json.RawMessage
}

// ParseStyle decodes and structurally checks a style document.
func ParseStyle(data []byte) (*Style, error) {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidStyle, err)
	}
	s := &Style{}
	if srcRaw, ok := raw["sources"]; ok {
		s.SourceOrder = objectKeyOrder(srcRaw)
	}
	take := func(key string, dst interface{}) error {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return fmt.Errorf("%w: field %q: %v", ErrInvalidStyle, key, err)
		}
		delete(raw, key)
		return nil
	}
	for key, dst := range map[string]interface{}{
		"version": &s.Version, "name": &s.Name, "sources": &s.Sources,
		"layers": &s.Layers, "glyphs": &s.Glyphs, "sprite": &s.Sprite,
		"metadata": &s.Metadata,
	} {
		if err := take(key, dst); err != nil {
			return nil, err
		}
	}
	s.extra = raw

	if s.Version != 8 {
		return nil, fmt.Errorf("%w: version must be 8, got %d", ErrInvalidStyle, s.Version)
	}
	if s.Sources == nil {
		return nil, fmt.Errorf("%w: missing sources", ErrInvalidStyle)
	}
	if s.Layers == nil {
		return nil, fmt.Errorf("%w: missing layers", ErrInvalidStyle)
	}
	return s, nil
}

// Marshal serializes the style back to JSON, unknown fields included.
func (s *Style) Marshal() ([]byte, error) {
	out := map[string]interface{}{}
	for k, v := range s.extra {
		out[k] = v
	}
	out["version"] = s.Version
	if s.Name != "" {
		out["name"] = s.Name
	}
	out["sources"] = s.Sources
	out["layers"] = s.Layers
	if s.Glyphs != "" {
		out["glyphs"] = s.Glyphs
	}
	if s.Sprite != nil {
		out["sprite"] = s.Sprite
	}
	if s.Metadata != nil {
		out["metadata"] = s.Metadata
	}
	return json.Marshal(out)
}

// StyleValidator is the external style-spec validation collaborator:
// parsed style bytes in, human-readable problems out.
type StyleValidator func(style []byte) []string

// BasicStyleValidator checks the structural minimum without a full
// style-spec implementation.
func BasicStyleValidator(data []byte) []string {
	_, err := ParseStyle(data)
	if err != nil {
		return []string{err.Error()}
	}
	return nil
}

// FontStacks returns every distinct font stack referenced by the layers'
// text-font properties, in first-seen order. Both literal arrays and
// expression trees are traversed.
func (s *Style) FontStacks() [][]string {
	seen := map[string]bool{}
	var stacks [][]string
	for _, layer := range s.Layers {
		layout, ok := layer["layout"].(map[string]interface{})
		if !ok {
			continue
		}
		tf, ok := layout["text-font"]
		if !ok {
			continue
		}
		for _, stack := range fontStacksIn(tf, true) {
			key := strings.Join(stack, ",")
			if !seen[key] {
				seen[key] = true
				stacks = append(stacks, stack)
			}
		}
	}
	return stacks
}

// fontStacksIn walks a text-font value. A flat array of strings at the
// top is one stack; anything else is an expression tree where only
// nested ["literal", [...]] forms carry stacks. A bare string array
// deeper down is an operator call like ["zoom"], not a font list.
func fontStacksIn(v interface{}, top bool) [][]string {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	if top {
		if stack := asStringSlice(arr); stack != nil {
			return [][]string{stack}
		}
	}
	if stack := literalStack(arr); stack != nil {
		return [][]string{stack}
	}
	var stacks [][]string
	for _, elem := range arr {
		stacks = append(stacks, fontStacksIn(elem, false)...)
	}
	return stacks
}

// literalStack matches the ["literal", [...strings]] expression form.
func literalStack(arr []interface{}) []string {
	if len(arr) != 2 {
		return nil
	}
	op, ok := arr[0].(string)
	if !ok || op != "literal" {
		return nil
	}
	inner, ok := arr[1].([]interface{})
	if !ok {
		return nil
	}
	return asStringSlice(inner)
}

func asStringSlice(arr []interface{}) []string {
	if len(arr) == 0 {
		return nil
	}
	out := make([]string, len(arr))
	for i, e := range arr {
		s, ok := e.(string)
		if !ok {
			return nil
		}
		out[i] = s
	}
	return out
}

// ReplaceFontStacks rewrites every text-font stack to a single-element
// stack: the first member found in available, else available[0]. A nil
// or empty available list leaves the style untouched.
func (s *Style) ReplaceFontStacks(available []string) {
	if len(available) == 0 {
		return
	}
	availSet := map[string]bool{}
	for _, f := range available {
		availSet[f] = true
	}
	pick := func(stack []string) []interface{} {
		for _, f := range stack {
			if availSet[f] {
				return []interface{}{f}
			}
		}
		return []interface{}{available[0]}
	}
	for _, layer := range s.Layers {
		layout, ok := layer["layout"].(map[string]interface{})
		if !ok {
			continue
		}
		tf, ok := layout["text-font"]
		if !ok {
			continue
		}
		layout["text-font"] = replaceFontStacksIn(tf, pick, true)
	}
}

func replaceFontStacksIn(v interface{}, pick func([]string) []interface{}, top bool) interface{} {
	arr, ok := v.([]interface{})
	if !ok {
		return v
	}
	if top {
		if stack := asStringSlice(arr); stack != nil {
			return pick(stack)
		}
	}
	if stack := literalStack(arr); stack != nil {
		return []interface{}{"literal", pick(stack)}
	}
	out := make([]interface{}, len(arr))
	for i, elem := range arr {
		out[i] = replaceFontStacksIn(elem, pick, false)
	}
	return out
}

// objectKeyOrder scans a JSON object's top-level keys in document order.
func objectKeyOrder(raw json.RawMessage) []string {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	tok, err := dec.Token()
	if err != nil {
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil
	}
	var keys []string
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return keys
		}
		key, ok := tok.(string)
		if !ok {
			return keys
		}
		keys = append(keys, key)
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return keys
		}
	}
	return keys
}

var folderSanitizer = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SourceFolder derives the archive folder name for a source id. Ids that
// survive sanitization unchanged need no smp:sourceFolders entry.
func SourceFolder(id string) string {
	folder := folderSanitizer.ReplaceAllString(id, "_")
	if folder == "" {
		folder = "_"
	}
	return folder
}

// GeoJSONBound extracts the bbox of an inline GeoJSON document.
func GeoJSONBound(data json.RawMessage) (orb.Bound, bool) {
	b, err := RegionBound(data)
	return b, err == nil
}
