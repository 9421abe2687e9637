package smp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// downloadFixture wires a two-source style plus glyphs and a sprite
// behind a canned fetcher.
func downloadFixture() (DownloadOptions, map[string][]byte) {
	styleDoc := `{
		"version": 8,
		"name": "Fixture",
		"sources": {
			"a": {"type": "raster", "tiles": ["https://a.test/{z}/{x}/{y}.png"], "maxzoom": 1},
			"b": {"type": "raster", "tiles": ["https://b.test/{z}/{x}/{y}.png"], "maxzoom": 1}
		},
		"glyphs": "https://g.test/{fontstack}/{range}.pbf",
		"sprite": "https://sp.test/base",
		"layers": [
			{"id": "l", "type": "symbol", "source": "a",
			 "layout": {"text-font": ["Noto Sans"]}}
		]
	}`

	responses := map[string][]byte{
		"https://style.test/style.json":        []byte(styleDoc),
		"https://g.test/Noto%20Sans/0-255.pbf": {0x0A, 0x01, 0x02},
		"https://sp.test/base.json":            []byte(`{"icon": {}}`),
		"https://sp.test/base.png":             pngMagic,
		"https://sp.test/base@2x.json":         []byte(`{"icon": {}}`),
		"https://sp.test/base@2x.png":          pngMagic,
	}
	for z := 0; z <= 1; z++ {
		n := 1 << z
		for x := 0; x < n; x++ {
			for y := 0; y < n; y++ {
				responses[fmt.Sprintf("https://a.test/%d/%d/%d.png", z, x, y)] = pngMagic
				responses[fmt.Sprintf("https://b.test/%d/%d/%d.png", z, x, y)] = pngMagic
			}
		}
	}

	opts := DownloadOptions{
		StyleURL:    "https://style.test/style.json",
		MaxZoom:     1,
		Concurrency: 4,
		Fetcher:     fakeFetch(responses),
	}
	return opts, responses
}

func TestDownloadProducesOrderedArchive(t *testing.T) {
	opts, _ := downloadFixture()

	var buf bytes.Buffer
	report, err := DownloadTo(context.Background(), testLogger(), opts, &buf)
	require.NoError(t, err)

	r, err := NewReaderFromBytes(buf.Bytes())
	require.NoError(t, err)
	defer r.Close()

	entries := r.Entries()
	require.Greater(t, len(entries), 10)
	assert.Equal(t, "VERSION", entries[0])
	assert.Equal(t, "style.json", entries[1])
	assert.Equal(t, "fonts/Noto Sans/0-255.pbf.gz", entries[2])
	assert.Equal(t, "sprites/default/sprite.json", entries[3])

	// the ten tiles close the archive in plan order
	tail := entries[len(entries)-10:]
	assert.Equal(t, []string{
		"s/a/0/0/0.png",
		"s/b/0/0/0.png",
		"s/a/1/0/0.png",
		"s/b/1/0/0.png",
		"s/a/1/1/0.png",
		"s/b/1/1/0.png",
		"s/a/1/0/1.png",
		"s/b/1/0/1.png",
		"s/a/1/1/1.png",
		"s/b/1/1/1.png",
	}, tail)

	assert.Equal(t, len(entries), report.Written)
	assert.Empty(t, report.SpriteErrors)
	assert.Empty(t, report.FailedSources)
}

func TestDownloadRoundTrip(t *testing.T) {
	opts, _ := downloadFixture()

	var buf bytes.Buffer
	_, err := DownloadTo(context.Background(), testLogger(), opts, &buf)
	require.NoError(t, err)

	r, err := NewReaderFromBytes(buf.Bytes())
	require.NoError(t, err)
	defer r.Close()

	styleBytes, err := r.StyleBytes()
	require.NoError(t, err)
	assert.Empty(t, BasicStyleValidator(styleBytes))

	style, err := r.Style()
	require.NoError(t, err)

	// every internal URI resolves to an archive entry
	for id, src := range style.Sources {
		for _, template := range src.Tiles {
			require.True(t, strings.HasPrefix(template, URIPrefix), id)
			path, err := URIToPath(template)
			require.NoError(t, err)
			prefix := path[:strings.Index(path, "{z}")]
			assert.True(t, r.HasPrefix(prefix), "no entries under %s", prefix)
		}
	}
	for _, entry := range style.Sprite.Entries {
		path, err := URIToPath(entry.URL)
		require.NoError(t, err)
		assert.True(t, r.Has(path+".json"))
		assert.True(t, r.Has(path+".png"))
	}

	// and the validator agrees
	res := &ValidationResult{}
	ValidateArchive(r, nil, res)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
}

func TestDownloadGlyphsAreGzipWrapped(t *testing.T) {
	opts, _ := downloadFixture()

	var buf bytes.Buffer
	_, err := DownloadTo(context.Background(), testLogger(), opts, &buf)
	require.NoError(t, err)

	r, err := NewReaderFromBytes(buf.Bytes())
	require.NoError(t, err)
	defer r.Close()

	rc, _, err := r.Resource("fonts/Noto Sans/0-255.pbf.gz")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Greater(t, len(data), 2)
	assert.Equal(t, byte(0x1F), data[0])
	assert.Equal(t, byte(0x8B), data[1])
}

func TestDownloadSkipsMissingTiles(t *testing.T) {
	opts, responses := downloadFixture()
	delete(responses, "https://a.test/1/1/1.png")
	delete(responses, "https://b.test/0/0/0.png")

	var buf bytes.Buffer
	report, err := DownloadTo(context.Background(), testLogger(), opts, &buf)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TilesSkipped)

	r, err := NewReaderFromBytes(buf.Bytes())
	require.NoError(t, err)
	defer r.Close()
	assert.False(t, r.Has("s/a/1/1/1.png"))
	assert.False(t, r.Has("s/b/0/0/0.png"))
	assert.True(t, r.Has("s/b/1/1/1.png"))
}

func TestDownloadMissing1xSpriteIsError(t *testing.T) {
	opts, responses := downloadFixture()
	delete(responses, "https://sp.test/base.png")

	var buf bytes.Buffer
	report, err := DownloadTo(context.Background(), testLogger(), opts, &buf)
	assert.ErrorIs(t, err, ErrResourceMissing)
	require.Len(t, report.SpriteErrors, 1)
	assert.Contains(t, report.SpriteErrors[0], "1x")

	// the archive itself still finalized
	_, rerr := NewReaderFromBytes(buf.Bytes())
	assert.NoError(t, rerr)
}

func TestDownloadMissing2xSpriteIsSkip(t *testing.T) {
	opts, responses := downloadFixture()
	delete(responses, "https://sp.test/base@2x.json")
	delete(responses, "https://sp.test/base@2x.png")

	var buf bytes.Buffer
	report, err := DownloadTo(context.Background(), testLogger(), opts, &buf)
	require.NoError(t, err)
	assert.Empty(t, report.SpriteErrors)
}

func TestDownloadFormatMismatchFailsSource(t *testing.T) {
	opts, responses := downloadFixture()
	// source a suddenly serves JPEGs
	for url := range responses {
		if strings.HasPrefix(url, "https://a.test/") {
			responses[url] = jpgMagic
		}
	}

	var buf bytes.Buffer
	report, err := DownloadTo(context.Background(), testLogger(), opts, &buf)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, report.FailedSources)

	r, err := NewReaderFromBytes(buf.Bytes())
	require.NoError(t, err)
	defer r.Close()
	assert.False(t, r.HasPrefix("s/a/"))
	assert.True(t, r.HasPrefix("s/b/"))
}

func TestDownloadStyleFetchFailureIsFatal(t *testing.T) {
	opts, _ := downloadFixture()
	opts.StyleURL = "https://style.test/missing.json"

	var buf bytes.Buffer
	_, err := DownloadTo(context.Background(), testLogger(), opts, &buf)
	require.Error(t, err)
	assert.Zero(t, buf.Len())
}

func TestDownloadStreamCancellation(t *testing.T) {
	opts, _ := downloadFixture()

	stream, err := Download(context.Background(), testLogger(), opts)
	require.NoError(t, err)

	// read a little, then walk away
	header := make([]byte, 4)
	_, err = io.ReadFull(stream, header)
	require.NoError(t, err)
	assert.Equal(t, []byte{'P', 'K', 3, 4}, header)
	require.NoError(t, stream.Close())
}

func TestDownloadStreamComplete(t *testing.T) {
	opts, _ := downloadFixture()

	stream, err := Download(context.Background(), testLogger(), opts)
	require.NoError(t, err)
	data, err := io.ReadAll(stream)
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	r, err := NewReaderFromBytes(data)
	require.NoError(t, err)
	defer r.Close()
	assert.True(t, r.Has("style.json"))
}

func TestPlanDownloadCountsOnly(t *testing.T) {
	opts, _ := downloadFixture()
	plan, err := PlanDownload(context.Background(), testLogger(), opts)
	require.NoError(t, err)
	assert.Equal(t, 10, plan.TileCount)
	// one stack leading range + sprites + remaining ranges + tiles
	assert.Equal(t, 1+4+255+10, len(plan.Entries))
}
