package smp

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// supportedMajors are the VERSION majors this implementation can read.
var supportedMajors = map[int]bool{1: true}

// ValidationResult is the outcome of a layered structural audit.
// Warnings never affect Valid.
type ValidationResult struct {
	Valid    bool
	Errors   []string
	Warnings []string
}

func (v *ValidationResult) errorf(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

func (v *ValidationResult) warnf(format string, args ...interface{}) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}

// Validate audits an SMP file. It never returns an error; every problem
// lands in the result. A nil validate falls back to the basic checker.
func Validate(path string, validate StyleValidator) *ValidationResult {
	res := &ValidationResult{}
	defer func() { res.Valid = len(res.Errors) == 0 }()

	// L1: the file must exist and parse as a ZIP
	if _, err := os.Stat(path); err != nil {
		res.errorf("File not found: %s", path)
		return res
	}
	r, err := OpenReader(path)
	if err != nil {
		res.errorf("Not a valid ZIP archive: %s", path)
		return res
	}
	defer r.Close()

	ValidateArchive(r, validate, res)
	return res
}

var versionGrammar = regexp.MustCompile(`^(\d+)\.(\d+)\n$`)

// parseVersion enforces the MAJOR.MINOR\n grammar.
func parseVersion(raw []byte) (major int, minor int, err error) {
	m := versionGrammar.FindSubmatch(raw)
	if m == nil {
		return 0, 0, fmt.Errorf("invalid VERSION contents %q", string(raw))
	}
	major, _ = strconv.Atoi(string(m[1]))
	minor, _ = strconv.Atoi(string(m[2]))
	return major, minor, nil
}

// ValidateArchive runs levels L2..L8 against an open archive,
// accumulating into res. Split out so in-memory archives are auditable
// in tests and pipelines.
func ValidateArchive(r *Reader, validate StyleValidator, res *ValidationResult) {
	if validate == nil {
		validate = BasicStyleValidator
	}

	// L2: VERSION grammar and supported major
	if raw, err := r.readAll(PathVersion); err != nil {
		res.warnf("Missing VERSION file")
	} else if major, _, err := parseVersion(raw); err != nil {
		res.errorf("Invalid VERSION contents %q", string(raw))
	} else if !supportedMajors[major] {
		res.errorf("Unsupported major version %d", major)
	}

	// L3: style.json presence gates everything downstream
	styleBytes, err := r.StyleBytes()
	if err != nil {
		res.errorf("Missing style.json entry")
		return
	}

	// L4: JSON shape plus the external style validator
	var doc styleAudit
	if err := json.Unmarshal(styleBytes, &doc); err != nil {
		res.errorf("style.json is not valid JSON: %v", err)
		return
	}
	for _, problem := range validate(styleBytes) {
		res.errorf("Invalid style: %s", problem)
	}

	auditMetadata(&doc, res)
	auditTileSources(r, &doc, res)
	auditGlyphs(r, &doc, res)
	auditSprites(r, &doc, res)
}

// styleAudit is the loose view of style.json the audit needs; it must
// not reject documents the strict parser would.
type styleAudit struct {
	Sources map[string]struct {
		Tiles []string `json:"tiles"`
	} `json:"sources"`
	Glyphs   string                     `json:"glyphs"`
	Sprite   json.RawMessage            `json:"sprite"`
	Metadata map[string]json.RawMessage `json:"metadata"`
}

// L5: smp metadata presence and shape
func auditMetadata(doc *styleAudit, res *ValidationResult) {
	boundsRaw, ok := doc.Metadata[MetaBounds]
	if !ok {
		res.errorf("Missing metadata entry %s", MetaBounds)
	} else {
		var bounds []float64
		if err := json.Unmarshal(boundsRaw, &bounds); err != nil || len(bounds) != 4 {
			res.warnf("Malformed %s metadata: expected four numbers", MetaBounds)
		}
	}

	maxzoomRaw, ok := doc.Metadata[MetaMaxzoom]
	if !ok {
		res.errorf("Missing metadata entry %s", MetaMaxzoom)
	} else {
		var mz float64
		if err := json.Unmarshal(maxzoomRaw, &mz); err != nil || mz < 0 {
			res.warnf("Malformed %s metadata: expected a non-negative number", MetaMaxzoom)
		}
	}

	if foldersRaw, ok := doc.Metadata[MetaSourceFolders]; ok {
		var folders map[string]string
		if err := json.Unmarshal(foldersRaw, &folders); err != nil {
			res.warnf("Malformed %s metadata: expected an object of source ids to folder names", MetaSourceFolders)
		}
	}
}

// L6: every internal tile template must have at least one tile entry
// under its folder prefix
func auditTileSources(r *Reader, doc *styleAudit, res *ValidationResult) {
	for id, src := range doc.Sources {
		for _, template := range src.Tiles {
			if !strings.HasPrefix(template, URIPrefix) {
				continue
			}
			path, _ := URIToPath(template)
			brace := strings.Index(path, "{z}")
			if brace < 0 {
				res.errorf("Source %q tile template %q lacks {z}/{x}/{y}", id, template)
				continue
			}
			if !r.HasPrefix(path[:brace]) {
				res.errorf("No tile files found for source %q", id)
			}
		}
	}
}

// L7: an internal glyph template needs at least one glyph entry
func auditGlyphs(r *Reader, doc *styleAudit, res *ValidationResult) {
	if !strings.HasPrefix(doc.Glyphs, URIPrefix) {
		return
	}
	path, _ := URIToPath(doc.Glyphs)
	prefix := path
	if i := strings.Index(path, "{fontstack}"); i >= 0 {
		prefix = path[:i]
	}
	if r.HasPrefix(prefix) {
		return
	}
	for _, entry := range r.Entries() {
		if strings.HasSuffix(entry, ".pbf.gz") {
			return
		}
	}
	res.errorf("No glyph files found for %q", doc.Glyphs)
}

// L8: internal sprites need their 1x json+png; missing @2x only warns
func auditSprites(r *Reader, doc *styleAudit, res *ValidationResult) {
	if doc.Sprite == nil {
		return
	}
	type spriteRef struct {
		id  string
		url string
	}
	var refs []spriteRef
	var single string
	if err := json.Unmarshal(doc.Sprite, &single); err == nil {
		refs = append(refs, spriteRef{DefaultSpriteID, single})
	} else {
		var entries []SpriteEntry
		if err := json.Unmarshal(doc.Sprite, &entries); err != nil {
			res.warnf("Malformed sprite declaration")
			return
		}
		for _, e := range entries {
			refs = append(refs, spriteRef{e.ID, e.URL})
		}
	}

	for _, ref := range refs {
		if !strings.HasPrefix(ref.url, URIPrefix) {
			continue
		}
		base, _ := URIToPath(ref.url)
		for _, ext := range []string{".json", ".png"} {
			if !r.Has(base + ext) {
				res.errorf("Missing sprite file %s%s", base, ext)
			}
		}
		missing2x := false
		for _, ext := range []string{".json", ".png"} {
			if !r.Has(base + "@2x" + ext) {
				missing2x = true
			}
		}
		if missing2x {
			res.warnf("Sprite %q has no complete @2x variant", ref.id)
		}
	}
}
