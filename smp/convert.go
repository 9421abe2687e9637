package smp

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/schollz/progressbar/v3"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// mbtilesSourceID names the single source of a converted package.
const mbtilesSourceID = "mbtiles"

// ConvertMbtiles builds an SMP from a local MBTiles file: a minimal
// style with one source covering the tileset, then every tile streamed
// in plan order (ascending zoom, row-major within a zoom).
func ConvertMbtiles(logger *log.Logger, input string, output string) error {
	conn, err := sqlite.OpenConn(input, sqlite.OpenReadOnly)
	if err != nil {
		return fmt.Errorf("open mbtiles %s: %w", input, err)
	}
	defer conn.Close()

	meta, err := mbtilesMetadata(conn)
	if err != nil {
		return err
	}

	style, err := mbtilesStyle(meta)
	if err != nil {
		return err
	}

	outfile, err := os.Create(output)
	if err != nil {
		return err
	}
	defer outfile.Close()

	writer, err := NewWriter(outfile, style, nil)
	if err != nil {
		return err
	}

	var total int64
	if err := sqlitex.Execute(conn, "SELECT count(*) FROM tiles", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			total = stmt.ColumnInt64(0)
			return nil
		},
	}); err != nil {
		return err
	}
	bar := progressbar.Default(total, "converting")

	// mbtiles rows are TMS; flip to XYZ for storage (descending TMS row
	// is ascending XYZ row)
	err = sqlitex.Execute(conn,
		"SELECT zoom_level, tile_column, tile_row, tile_data FROM tiles ORDER BY zoom_level, tile_row DESC, tile_column",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				z := uint8(stmt.ColumnInt64(0))
				x := uint32(stmt.ColumnInt64(1))
				tmsY := uint32(stmt.ColumnInt64(2))
				y := uint32(1<<z) - tmsY - 1

				data := make([]byte, stmt.ColumnLen(3))
				stmt.ColumnBytes(3, data)

				format, err := SniffBytes(data)
				if err != nil {
					logger.Printf("skipping tile %d/%d/%d: %v", z, x, y, err)
					return nil
				}
				if format != meta.format {
					return fmt.Errorf("%w: tile %d/%d/%d is %s, metadata says %s",
						ErrFormatMismatch, z, x, y, format, meta.format)
				}
				bar.Add(1)
				return writer.AddTile(mbtilesSourceID, Zxy{Z: z, X: x, Y: y}, meta.format, data)
			},
		})
	if err != nil {
		return err
	}

	if err := writer.Finish(); err != nil {
		return err
	}
	logger.Printf("wrote %d entries (%d duplicate payloads)", writer.EntryCount(), writer.DuplicateCount())
	return nil
}

type mbtilesMeta struct {
	name    string
	format  TileFormat
	bounds  []float64
	minzoom int
	maxzoom int
}

func mbtilesMetadata(conn *sqlite.Conn) (*mbtilesMeta, error) {
	meta := &mbtilesMeta{
		bounds:  []float64{-180, -MaxMercatorLat, 180, MaxMercatorLat},
		maxzoom: geojsonDefaultMaxzoom,
	}
	err := sqlitex.Execute(conn, "SELECT name, value FROM metadata", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			name := stmt.ColumnText(0)
			value := stmt.ColumnText(1)
			switch name {
			case "name":
				meta.name = value
			case "format":
				switch value {
				case "pbf", "mvt":
					meta.format = FormatMvt
				case "png":
					meta.format = FormatPng
				case "jpg", "jpeg":
					meta.format = FormatJpg
				case "webp":
					meta.format = FormatWebp
				}
			case "bounds":
				parts := strings.Split(value, ",")
				if len(parts) == 4 {
					bounds := make([]float64, 4)
					for i, p := range parts {
						v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
						if err != nil {
							return nil
						}
						bounds[i] = v
					}
					meta.bounds = bounds
				}
			case "minzoom":
				if v, err := strconv.Atoi(value); err == nil {
					meta.minzoom = v
				}
			case "maxzoom":
				if v, err := strconv.Atoi(value); err == nil {
					meta.maxzoom = v
				}
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("read mbtiles metadata: %w", err)
	}
	if meta.format == FormatUnknown {
		return nil, fmt.Errorf("%w: mbtiles metadata carries no recognized format", ErrUnknownFileType)
	}
	return meta, nil
}

// mbtilesStyle synthesizes the minimal style.json for a converted
// package: one source, one background-ish layer so renderers accept it.
func mbtilesStyle(meta *mbtilesMeta) ([]byte, error) {
	sourceType := "raster"
	layerType := "raster"
	if meta.format == FormatMvt {
		sourceType = "vector"
		layerType = "background"
	}
	layer := map[string]interface{}{
		"id":   "converted",
		"type": layerType,
	}
	if layerType == "raster" {
		layer["source"] = mbtilesSourceID
	}
	doc := map[string]interface{}{
		"version": 8,
		"name":    meta.name,
		"sources": map[string]interface{}{
			mbtilesSourceID: map[string]interface{}{
				"type":    sourceType,
				"tiles":   []string{TileURITemplate(mbtilesSourceID, meta.format)},
				"bounds":  meta.bounds,
				"minzoom": meta.minzoom,
				"maxzoom": meta.maxzoom,
			},
		},
		"layers": []interface{}{layer},
		"metadata": map[string]interface{}{
			MetaBounds:  meta.bounds,
			MetaMaxzoom: meta.maxzoom,
		},
	}
	return json.Marshal(doc)
}
