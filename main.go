package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"github.com/styledmap/go-smp/smp"
	_ "gocloud.dev/blob/azureblob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var cli struct {
	Download struct {
		StyleURL    string   `arg:"" help:"Style URL (https:// or mapbox://styles/...)."`
		Output      string   `arg:"" help:"Output SMP file." type:"path"`
		Bbox        string   `help:"Area of interest: min_lon,min_lat,max_lon,max_lat."`
		Region      string   `help:"GeoJSON Polygon or MultiPolygon file for area of interest." type:"existingfile"`
		Maxzoom     uint8    `default:"8" help:"Maximum zoom level, inclusive."`
		AccessToken string   `help:"Mapbox public access token (pk.*)." env:"MAPBOX_ACCESS_TOKEN"`
		Concurrency int      `default:"8" help:"Number of download workers."`
		Retries     int      `default:"2" help:"Retries per resource on 5xx or network failure."`
		Timeout     int      `default:"30" help:"Per-fetch timeout in seconds."`
		Fonts       []string `help:"Available font names for text-font replacement."`
		DropGeojson bool     `help:"Drop geojson URL sources instead of inlining them."`
		DryRun      bool     `help:"Plan the download, print resource counts, fetch no tiles, glyphs or sprites."`
	} `cmd:"" help:"Download a style and all referenced resources into an SMP."`

	Validate struct {
		Input string `arg:"" help:"Input archive." type:"existingfile"`
	} `cmd:"" help:"Audit the structure of a local SMP."`

	Show struct {
		Path    string `arg:""`
		Bucket  string `help:"Remote bucket of input archive."`
		Entries bool   `help:"List every archive entry."`
	} `cmd:"" help:"Inspect a local or remote archive."`

	Serve struct {
		Path   string `arg:"" help:"Local path or remote key."`
		Bucket string `help:"Remote bucket of input archive."`
		Port   int    `default:"8080"`
		Cors   string `help:"Allowed origin for HTTP CORS."`
	} `cmd:"" help:"Serve style, tiles, glyphs and sprites from an SMP over HTTP."`

	Convert struct {
		Input  string `arg:"" help:"Input MBTiles file." type:"existingfile"`
		Output string `arg:"" help:"Output SMP file." type:"path"`
	} `cmd:"" help:"Build an SMP from a local MBTiles tileset."`

	Upload struct {
		Input          string `arg:"" type:"existingfile"`
		Key            string `arg:""`
		MaxConcurrency int    `default:"2" help:"Number of upload threads."`
		Bucket         string `required:"" help:"Bucket to upload to."`
	} `cmd:"" help:"Upload a local SMP to remote storage."`

	Version struct {
	} `cmd:"" help:"Show the program version."`
}

func main() {
	if len(os.Args) < 2 {
		os.Args = append(os.Args, "--help")
	}

	logger := log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
	kctx := kong.Parse(&cli)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch kctx.Command() {
	case "download <style-url> <output>":
		if err := runDownload(ctx, logger); err != nil {
			logger.Fatalf("Failed to download, %v", err)
		}
	case "validate <input>":
		result := smp.Validate(cli.Validate.Input, nil)
		for _, e := range result.Errors {
			fmt.Printf("✘ %s\n", e)
		}
		for _, w := range result.Warnings {
			fmt.Printf("▲ %s\n", w)
		}
		if !result.Valid {
			os.Exit(1)
		}
		fmt.Println("✔ valid")
	case "show <path>":
		if err := smp.Show(ctx, logger, cli.Show.Bucket, cli.Show.Path, cli.Show.Entries); err != nil {
			logger.Fatalf("Failed to show archive, %v", err)
		}
	case "serve <path>":
		err := smp.Serve(ctx, logger, cli.Serve.Bucket, cli.Serve.Path, smp.ServerOptions{
			Addr:       fmt.Sprintf(":%d", cli.Serve.Port),
			CORSOrigin: cli.Serve.Cors,
		})
		if err != nil {
			logger.Fatalf("Failed to serve, %v", err)
		}
	case "convert <input> <output>":
		if err := smp.ConvertMbtiles(logger, cli.Convert.Input, cli.Convert.Output); err != nil {
			logger.Fatalf("Failed to convert %s, %v", cli.Convert.Input, err)
		}
	case "upload <input> <key>":
		err := smp.Upload(ctx, logger, cli.Upload.Input, cli.Upload.Bucket, cli.Upload.Key, cli.Upload.MaxConcurrency)
		if err != nil {
			logger.Fatalf("Failed to upload file, %v", err)
		}
	case "version":
		fmt.Printf("smp %s, commit %s, built at %s\n", version, commit, date)
	default:
		panic(kctx.Command())
	}
}

func runDownload(ctx context.Context, logger *log.Logger) error {
	opts := smp.DownloadOptions{
		StyleURL:       cli.Download.StyleURL,
		MaxZoom:        cli.Download.Maxzoom,
		AccessToken:    cli.Download.AccessToken,
		Concurrency:    cli.Download.Concurrency,
		Retries:        cli.Download.Retries,
		Timeout:        time.Duration(cli.Download.Timeout) * time.Second,
		AvailableFonts: cli.Download.Fonts,
		Progress:       true,
	}
	if cli.Download.DropGeojson {
		opts.GeoJSON = smp.GeoJSONDrop
	}
	if cli.Download.Bbox != "" {
		bound, err := smp.BboxFromString(cli.Download.Bbox)
		if err != nil {
			return err
		}
		opts.Bound = bound
	} else if cli.Download.Region != "" {
		data, err := os.ReadFile(cli.Download.Region)
		if err != nil {
			return err
		}
		bound, err := smp.RegionBound(data)
		if err != nil {
			return err
		}
		opts.Bound = bound
	}

	if cli.Download.DryRun {
		plan, err := smp.PlanDownload(ctx, logger, opts)
		if err != nil {
			return err
		}
		fmt.Printf("planned %d resources (%d tiles)\n", len(plan.Entries), plan.TileCount)
		return nil
	}

	outfile, err := os.Create(cli.Download.Output)
	if err != nil {
		return err
	}
	defer outfile.Close()

	start := time.Now()
	report, err := smp.DownloadTo(ctx, logger, opts, outfile)
	if err != nil {
		return err
	}
	logger.Printf("wrote %d entries in %v (%d tiles skipped)",
		report.Written, time.Since(start), report.TilesSkipped)
	return nil
}
