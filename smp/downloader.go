package smp

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 8

// DownloadOptions configures the full download pipeline.
type DownloadOptions struct {
	StyleURL       string
	Bound          orb.Bound // zero bound means "whatever the sources cover"
	MaxZoom        uint8
	AccessToken    string
	Concurrency    int
	Retries        int
	Timeout        time.Duration
	AvailableFonts []string
	GeoJSON        GeoJSONPolicy

	// FinalizeOnCancel makes a cancelled download close the archive
	// with the entries written so far instead of failing.
	FinalizeOnCancel bool

	Progress bool

	// Fetcher overrides the default HTTP collaborator (tests, caching).
	Fetcher Fetcher
	// Validate overrides the external style validator.
	Validate StyleValidator
}

// DownloadReport summarizes a finished download.
type DownloadReport struct {
	Planned       int
	Written       int
	TilesSkipped  int
	GlyphsSkipped int
	SpriteErrors  []string
	FailedSources []string
}

// Download runs the pipeline and returns a stream carrying the complete
// SMP. Closing the stream before EOF cancels the pipeline.
func Download(ctx context.Context, logger *log.Logger, opts DownloadOptions) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	ctx, cancel := context.WithCancel(ctx)

	go func() {
		_, err := DownloadTo(ctx, logger, opts, pw)
		pw.CloseWithError(err)
	}()

	return &cancelReadCloser{pr: pr, cancel: cancel}, nil
}

type cancelReadCloser struct {
	pr     *io.PipeReader
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Read(p []byte) (int, error) { return c.pr.Read(p) }

func (c *cancelReadCloser) Close() error {
	c.cancel()
	return c.pr.CloseWithError(context.Canceled)
}

// DownloadTo runs the pipeline writing the archive to w.
//
// Orchestration: one goroutine feeds plan entries to a worker pool;
// workers fetch concurrently; a reorder buffer keyed by plan index
// restores plan order before anything reaches the single-threaded
// writer. In-flight work is capped, so a slow head-of-line fetch
// applies backpressure to the feeders rather than growing the buffer.
func DownloadTo(ctx context.Context, logger *log.Logger, opts DownloadOptions, w io.Writer) (*DownloadReport, error) {
	fetch := defaultFetcher(opts)
	rewritten, res, plan, err := preparePlan(ctx, opts, fetch)
	if err != nil {
		return nil, err
	}

	writer, err := NewWriter(w, rewritten, opts.Validate)
	if err != nil {
		return nil, err
	}
	logger.Printf("plan: %d resources (%d tiles) across %d sources", len(plan.Entries), plan.TileCount, len(res.TileSources))

	report, err := runPlan(ctx, logger, plan, fetch, writer, opts)
	if err != nil {
		if errors.Is(err, context.Canceled) && opts.FinalizeOnCancel {
			if ferr := writer.Finish(); ferr != nil {
				return report, ferr
			}
			return report, nil
		}
		return report, err
	}

	if err := writer.Finish(); err != nil {
		return report, err
	}
	if len(report.SpriteErrors) > 0 {
		return report, fmt.Errorf("%w: %v", ErrResourceMissing, report.SpriteErrors)
	}
	return report, nil
}

// PlanDownload runs the pipeline up to planning: fetch and rewrite the
// style, enumerate the plan, fetch nothing else.
func PlanDownload(ctx context.Context, logger *log.Logger, opts DownloadOptions) (*Plan, error) {
	_, res, plan, err := preparePlan(ctx, opts, defaultFetcher(opts))
	if err != nil {
		return nil, err
	}
	logger.Printf("plan: %d resources (%d tiles) across %d sources", len(plan.Entries), plan.TileCount, len(res.TileSources))
	return plan, nil
}

func defaultFetcher(opts DownloadOptions) Fetcher {
	if opts.Fetcher != nil {
		return opts.Fetcher
	}
	return NewFetcher(FetchOptions{Retries: opts.Retries, Timeout: opts.Timeout})
}

// preparePlan is the sequential head of the pipeline: style fetch
// (fatal on failure), rewrite, plan enumeration.
func preparePlan(ctx context.Context, opts DownloadOptions, fetch Fetcher) ([]byte, *RewriteResult, *Plan, error) {
	if opts.MaxZoom == 0 {
		opts.MaxZoom = geojsonDefaultMaxzoom
	}

	styleURL, err := NormalizeMapboxURL(opts.StyleURL, opts.AccessToken)
	if err != nil {
		return nil, nil, nil, err
	}
	styleBody, _, err := fetch(ctx, styleURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetch style %s: %w", styleURL, err)
	}
	style, err := ParseStyle(styleBody)
	if err != nil {
		return nil, nil, nil, err
	}

	res, err := RewriteStyle(ctx, style, RewriteOptions{
		Bound:          opts.Bound,
		MaxZoom:        opts.MaxZoom,
		AccessToken:    opts.AccessToken,
		AvailableFonts: opts.AvailableFonts,
		GeoJSON:        opts.GeoJSON,
	}, fetch)
	if err != nil {
		return nil, nil, nil, err
	}

	rewritten, err := style.Marshal()
	if err != nil {
		return nil, nil, nil, err
	}

	plan := BuildPlan(res, RewriteOptions{Bound: opts.Bound, MaxZoom: res.MaxZoom})
	return rewritten, res, plan, nil
}

type fetchResult struct {
	entry PlanEntry
	body  []byte
	err   error
}

func runPlan(ctx context.Context, logger *log.Logger, plan *Plan, fetch Fetcher, writer *Writer, opts DownloadOptions) (*DownloadReport, error) {
	report := &DownloadReport{Planned: len(plan.Entries)}
	if len(plan.Entries) == 0 {
		return report, nil
	}

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	var bar *progressbar.ProgressBar
	if opts.Progress {
		bar = progressbar.Default(int64(len(plan.Entries)), "downloading")
	}

	// sources disqualified by a format mismatch; workers consult this
	// before spending a fetch
	var mu sync.Mutex
	failedSources := map[string]string{}
	sourceFailed := func(id string) bool {
		mu.Lock()
		defer mu.Unlock()
		_, ok := failedSources[id]
		return ok
	}

	tasks := make(chan PlanEntry)
	results := make(chan fetchResult, concurrency)
	// caps fetched-but-not-yet-written entries: feeder blocks when the
	// reorder buffer plus in-flight work reaches the limit
	pending := make(chan struct{}, concurrency*4)

	grp, gctx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		defer close(tasks)
		for _, entry := range plan.Entries {
			select {
			case pending <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			select {
			case tasks <- entry:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var workers sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		workers.Add(1)
		grp.Go(func() error {
			defer workers.Done()
			for entry := range tasks {
				var r fetchResult
				if entry.Kind == KindTile && sourceFailed(entry.SourceID) {
					r = fetchResult{entry: entry, err: ErrFormatMismatch}
				} else {
					body, _, err := fetch(gctx, entry.URL)
					r = fetchResult{entry: entry, body: body, err: err}
					if err == nil {
						fetchedBytes.Add(float64(len(body)))
					}
				}
				select {
				case results <- r:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}

	grp.Go(func() error {
		workers.Wait()
		close(results)
		return nil
	})

	// drain: reorder by plan index, then apply the per-kind policy and
	// hand bytes to the writer in plan order
	grp.Go(func() error {
		buffer := map[int]fetchResult{}
		next := 0
		for r := range results {
			buffer[r.entry.Index] = r
			for {
				queued, ok := buffer[next]
				if !ok {
					break
				}
				delete(buffer, next)
				next++
				<-pending
				if bar != nil {
					bar.Add(1)
				}
				if err := writeResult(logger, writer, queued, report, failedSources, &mu); err != nil {
					return err
				}
			}
		}
		return nil
	})

	if err := grp.Wait(); err != nil {
		return report, err
	}

	mu.Lock()
	for id := range failedSources {
		report.FailedSources = append(report.FailedSources, id)
	}
	mu.Unlock()
	report.Written = writer.EntryCount()
	return report, nil
}

// writeResult applies the failure policy for one completed fetch and
// appends survivors to the archive.
func writeResult(logger *log.Logger, writer *Writer, r fetchResult, report *DownloadReport, failedSources map[string]string, mu *sync.Mutex) error {
	entry := r.entry

	if r.err != nil {
		switch entry.Kind {
		case KindTile:
			// sparse coverage is fine; missing tiles retire silently,
			// exhausted retries are worth a line
			report.TilesSkipped++
			if !isNotFound(r.err) {
				logger.Printf("skipping tile %s: %v", entry.Path, r.err)
			}
			fetchesTotal.WithLabelValues("tile", "skipped").Inc()
			return nil
		case KindGlyph:
			report.GlyphsSkipped++
			fetchesTotal.WithLabelValues("glyph", "skipped").Inc()
			return nil
		case KindSprite:
			if entry.PixelRatio == 1 {
				report.SpriteErrors = append(report.SpriteErrors,
					fmt.Sprintf("sprite %q missing 1x %s variant", entry.SpriteID, entry.SpriteExt))
			}
			fetchesTotal.WithLabelValues("sprite", "skipped").Inc()
			return nil
		}
		return r.err
	}

	switch entry.Kind {
	case KindTile:
		sniffed, err := SniffBytes(r.body)
		if err != nil {
			report.TilesSkipped++
			logger.Printf("skipping tile %s: %v", entry.Path, err)
			fetchesTotal.WithLabelValues("tile", "skipped").Inc()
			return nil
		}
		if sniffed != entry.Format {
			mu.Lock()
			if _, ok := failedSources[entry.SourceID]; !ok {
				failedSources[entry.SourceID] = fmt.Sprintf("declared %s, got %s", entry.Format, sniffed)
				logger.Printf("source %q failed: %v (declared %s, got %s)", entry.SourceID, ErrFormatMismatch, entry.Format, sniffed)
			}
			mu.Unlock()
			report.TilesSkipped++
			fetchesTotal.WithLabelValues("tile", "mismatch").Inc()
			return nil
		}
		fetchesTotal.WithLabelValues("tile", "ok").Inc()
		return writer.AddResource(entry.Path, r.body)

	case KindGlyph:
		fetchesTotal.WithLabelValues("glyph", "ok").Inc()
		return writer.AddResource(entry.Path, ensureGzipped(r.body))

	case KindSprite:
		fetchesTotal.WithLabelValues("sprite", "ok").Inc()
		return writer.AddResource(entry.Path, r.body)
	}
	return fmt.Errorf("%w: plan entry kind %d", ErrUnknownResource, entry.Kind)
}

func isNotFound(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 404 || httpErr.StatusCode == 403 || httpErr.StatusCode == 410
	}
	return false
}

// ensureGzipped wraps a payload in gzip unless it already is; glyph
// entries are stored .pbf.gz regardless of how the server sent them.
func ensureGzipped(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0x1F && data[1] == 0x8B && data[2] == 0x08 {
		return data
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write(data)
	gz.Close()
	return buf.Bytes()
}
