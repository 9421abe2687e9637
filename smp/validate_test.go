package smp

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeRawZip builds an archive with exact entry payloads, bypassing
// the Writer's ordering and validation.
func writeRawZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(entries[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.smp")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestValidateMinimalPackage(t *testing.T) {
	path := writeTempFile(t, buildTestArchive(t))

	result := Validate(path, nil)
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
}

func TestValidateNonexistentPath(t *testing.T) {
	result := Validate(filepath.Join(t.TempDir(), "missing.smp"), nil)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "File not found")
}

func TestValidateRandomBytes(t *testing.T) {
	path := writeTempFile(t, []byte("certainly not a zip archive"))
	result := Validate(path, nil)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "Not a valid ZIP")
}

func TestValidateUnsupportedMajor(t *testing.T) {
	path := writeTempFile(t, writeRawZip(t, map[string][]byte{
		"VERSION":    []byte("2.0\n"),
		"style.json": minimalStyle,
	}))
	result := Validate(path, nil)
	assert.False(t, result.Valid)
	found := false
	for _, e := range result.Errors {
		if strings.Contains(e, "Unsupported major version") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateMinorForwardsCompat(t *testing.T) {
	path := writeTempFile(t, writeRawZip(t, map[string][]byte{
		"VERSION":    []byte("1.1\n"),
		"style.json": minimalStyle,
	}))
	result := Validate(path, nil)
	assert.True(t, result.Valid, "errors: %v", result.Errors)
}

func TestValidateMissingVersionWarns(t *testing.T) {
	path := writeTempFile(t, writeRawZip(t, map[string][]byte{
		"style.json": minimalStyle,
	}))
	result := Validate(path, nil)
	assert.True(t, result.Valid)
	require.Len(t, result.Warnings, 1)
	assert.Contains(t, result.Warnings[0], "VERSION")
}

func TestValidateBadVersionGrammar(t *testing.T) {
	path := writeTempFile(t, writeRawZip(t, map[string][]byte{
		"VERSION":    []byte("v1.0"),
		"style.json": minimalStyle,
	}))
	result := Validate(path, nil)
	assert.False(t, result.Valid)
}

func TestValidateMissingStyle(t *testing.T) {
	path := writeTempFile(t, writeRawZip(t, map[string][]byte{
		"VERSION": []byte("1.0\n"),
	}))
	result := Validate(path, nil)
	assert.False(t, result.Valid)
	found := false
	for _, e := range result.Errors {
		if strings.Contains(e, "style.json") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateMissingMetadata(t *testing.T) {
	path := writeTempFile(t, writeRawZip(t, map[string][]byte{
		"VERSION":    []byte("1.0\n"),
		"style.json": []byte(`{"version": 8, "sources": {}, "layers": []}`),
	}))
	result := Validate(path, nil)
	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 2) // smp:bounds and smp:maxzoom
}

func TestValidateNoTileFiles(t *testing.T) {
	style := []byte(`{
		"version": 8,
		"sources": {"base": {"type": "vector", "tiles": ["smp://maps.v1/s/base/{z}/{x}/{y}.mvt.gz"]}},
		"layers": [],
		"metadata": {"smp:bounds": [-180, -85, 180, 85], "smp:maxzoom": 4}
	}`)
	path := writeTempFile(t, writeRawZip(t, map[string][]byte{
		"VERSION":    []byte("1.0\n"),
		"style.json": style,
	}))
	result := Validate(path, nil)
	assert.False(t, result.Valid)
	found := false
	for _, e := range result.Errors {
		if strings.Contains(e, `No tile files found for source "base"`) {
			found = true
		}
	}
	assert.True(t, found, "errors: %v", result.Errors)
}

func TestValidateTilePresenceSatisfied(t *testing.T) {
	style := []byte(`{
		"version": 8,
		"sources": {"base": {"type": "vector", "tiles": ["smp://maps.v1/s/base/{z}/{x}/{y}.mvt.gz"]}},
		"layers": [],
		"metadata": {"smp:bounds": [-180, -85, 180, 85], "smp:maxzoom": 4}
	}`)
	path := writeTempFile(t, writeRawZip(t, map[string][]byte{
		"VERSION":             []byte("1.0\n"),
		"style.json":          style,
		"s/base/0/0/0.mvt.gz": gzipMagic,
	}))
	result := Validate(path, nil)
	assert.True(t, result.Valid, "errors: %v", result.Errors)
}

func TestValidateMissingGlyphs(t *testing.T) {
	style := []byte(`{
		"version": 8,
		"sources": {},
		"layers": [],
		"glyphs": "smp://maps.v1/fonts/{fontstack}/{range}.pbf.gz",
		"metadata": {"smp:bounds": [-180, -85, 180, 85], "smp:maxzoom": 4}
	}`)
	path := writeTempFile(t, writeRawZip(t, map[string][]byte{
		"VERSION":    []byte("1.0\n"),
		"style.json": style,
	}))
	result := Validate(path, nil)
	assert.False(t, result.Valid)
}

func TestValidateSpriteMissing2xWarns(t *testing.T) {
	style := []byte(`{
		"version": 8,
		"sources": {},
		"layers": [],
		"sprite": "smp://maps.v1/sprites/default/sprite",
		"metadata": {"smp:bounds": [-180, -85, 180, 85], "smp:maxzoom": 4}
	}`)
	path := writeTempFile(t, writeRawZip(t, map[string][]byte{
		"VERSION":                     []byte("1.0\n"),
		"style.json":                  style,
		"sprites/default/sprite.json": []byte(`{}`),
		"sprites/default/sprite.png":  pngMagic,
	}))
	result := Validate(path, nil)
	assert.True(t, result.Valid, "errors: %v", result.Errors)
	found := false
	for _, w := range result.Warnings {
		if strings.Contains(w, "@2x") {
			found = true
		}
	}
	assert.True(t, found, "warnings: %v", result.Warnings)
}

func TestValidateSpriteMissing1xErrors(t *testing.T) {
	style := []byte(`{
		"version": 8,
		"sources": {},
		"layers": [],
		"sprite": [{"id": "icons", "url": "smp://maps.v1/sprites/icons/sprite"}],
		"metadata": {"smp:bounds": [-180, -85, 180, 85], "smp:maxzoom": 4}
	}`)
	path := writeTempFile(t, writeRawZip(t, map[string][]byte{
		"VERSION":    []byte("1.0\n"),
		"style.json": style,
	}))
	result := Validate(path, nil)
	assert.False(t, result.Valid)
	assert.Len(t, result.Errors, 2) // sprite.json and sprite.png
}

func TestValidateMalformedBoundsWarns(t *testing.T) {
	style := []byte(`{
		"version": 8,
		"sources": {},
		"layers": [],
		"metadata": {"smp:bounds": [1, 2], "smp:maxzoom": 4}
	}`)
	path := writeTempFile(t, writeRawZip(t, map[string][]byte{
		"VERSION":    []byte("1.0\n"),
		"style.json": style,
	}))
	result := Validate(path, nil)
	assert.True(t, result.Valid)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "smp:bounds")
}
