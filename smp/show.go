package smp

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
)

// Show prints a human summary of a local or remote archive to stdout.
func Show(ctx context.Context, logger *log.Logger, bucketURL string, file string, listEntries bool) error {
	bucketURL, key, err := NormalizeBucketKey(bucketURL, file)
	if err != nil {
		return err
	}
	bucket, err := OpenBucket(ctx, bucketURL)
	if err != nil {
		return err
	}
	r, err := OpenReaderFromBucket(ctx, bucket, key)
	if err != nil {
		bucket.Close()
		return err
	}
	defer r.Close()

	version, err := r.Version()
	if err != nil {
		version = "(missing)"
	}
	fmt.Fprintf(os.Stdout, "format version: %s\n", version)

	style, err := r.Style()
	if err != nil {
		return err
	}
	if style.Name != "" {
		fmt.Fprintf(os.Stdout, "style: %s\n", style.Name)
	}
	meta, err := styleMetadata(style)
	if err != nil {
		logger.Printf("warning: %v", err)
	} else {
		fmt.Fprintf(os.Stdout, "bounds: %v\n", meta.Bounds)
		fmt.Fprintf(os.Stdout, "maxzoom: %d\n", meta.MaxZoom)
	}
	fmt.Fprintf(os.Stdout, "sources: %d\n", len(style.Sources))

	counts := map[string]int{}
	var compressed, uncompressed uint64
	for _, f := range r.zr.File {
		kind, err := ClassifyPath(f.Name)
		if err != nil {
			if f.Name == PathVersion {
				continue
			}
			counts["other"]++
			continue
		}
		counts[kind.String()]++
		compressed += f.CompressedSize64
		uncompressed += f.UncompressedSize64
	}

	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(os.Stdout, "%s entries: %d\n", k, counts[k])
	}
	fmt.Fprintf(os.Stdout, "resource bytes: %s stored, %s raw\n",
		humanize.Bytes(compressed), humanize.Bytes(uncompressed))

	if listEntries {
		for _, name := range r.Entries() {
			fmt.Fprintln(os.Stdout, name)
		}
	}
	return nil
}
