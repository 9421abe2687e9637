package smp

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var minimalStyle = []byte(`{"version": 8, "sources": {}, "layers": [],
	"metadata": {"smp:bounds": [-180, -85, 180, 85], "smp:maxzoom": 2}}`)

func TestWriterEntryOrder(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, minimalStyle, nil)
	require.NoError(t, err)

	require.NoError(t, w.AddGlyphRange("Noto Sans", 0, gzipMagic))
	require.NoError(t, w.AddSprite("default", 1, ".json", []byte(`{}`)))
	require.NoError(t, w.AddSprite("default", 1, ".png", pngMagic))
	require.NoError(t, w.AddTile("base", Zxy{0, 0, 0}, FormatPng, pngMagic))
	require.NoError(t, w.AddTile("base", Zxy{1, 0, 0}, FormatPng, pngMagic))
	require.NoError(t, w.Finish())

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{
		"VERSION",
		"style.json",
		"fonts/Noto Sans/0-255.pbf.gz",
		"sprites/default/sprite.json",
		"sprites/default/sprite.png",
		"s/base/0/0/0.png",
		"s/base/1/0/0.png",
	}, names)
}

func TestWriterCompressionPolicy(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, minimalStyle, nil)
	require.NoError(t, err)
	require.NoError(t, w.AddTile("base", Zxy{0, 0, 0}, FormatPng, pngMagic))
	require.NoError(t, w.AddSprite("default", 1, ".json", []byte(`{}`)))
	require.NoError(t, w.Finish())

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)

	methods := map[string]uint16{}
	for _, f := range zr.File {
		methods[f.Name] = f.Method
	}
	assert.Equal(t, uint16(zip.Deflate), methods["VERSION"])
	assert.Equal(t, uint16(zip.Deflate), methods["style.json"])
	assert.Equal(t, uint16(zip.Deflate), methods["sprites/default/sprite.json"])
	assert.Equal(t, uint16(zip.Store), methods["s/base/0/0/0.png"])
}

func TestWriterVersionPayload(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, minimalStyle, nil)
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	r, err := NewReaderFromBytes(buf.Bytes())
	require.NoError(t, err)
	v, err := r.Version()
	require.NoError(t, err)
	assert.Equal(t, "1.0", v)
}

func TestWriterRejectsDuplicates(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, minimalStyle, nil)
	require.NoError(t, err)

	require.NoError(t, w.AddTile("base", Zxy{0, 0, 0}, FormatPng, pngMagic))
	err = w.AddTile("base", Zxy{0, 0, 0}, FormatPng, pngMagic)
	assert.ErrorIs(t, err, ErrDuplicateEntry)
}

func TestWriterRejectsInvalidStyle(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewWriter(&buf, []byte(`{"version": 7}`), nil)
	assert.ErrorIs(t, err, ErrInvalidStyle)
}

func TestWriterDuplicateContentAccounting(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, minimalStyle, nil)
	require.NoError(t, err)

	require.NoError(t, w.AddTile("base", Zxy{1, 0, 0}, FormatPng, pngMagic))
	require.NoError(t, w.AddTile("base", Zxy{1, 1, 0}, FormatPng, pngMagic))
	require.NoError(t, w.Finish())
	assert.Equal(t, 1, w.DuplicateCount())
}

func TestWriterRejectsUnclassifiablePath(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, minimalStyle, nil)
	require.NoError(t, err)
	err = w.AddResource("random/path.bin", []byte{1})
	assert.ErrorIs(t, err, ErrUnknownResource)
}
