package smp

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/schollz/progressbar/v3"
	"gocloud.dev/blob"
)

// Upload copies a finished SMP to a gocloud bucket.
func Upload(ctx context.Context, logger *log.Logger, input string, bucketURL string, key string, maxConcurrency int) error {
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	defer b.Close()

	f, err := os.Open(input)
	if err != nil {
		return err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	w, err := b.NewWriter(ctx, key, &blob.WriterOptions{
		ContentType:    "application/zip",
		MaxConcurrency: maxConcurrency,
	})
	if err != nil {
		return fmt.Errorf("open bucket writer: %w", err)
	}

	bar := progressbar.DefaultBytes(stat.Size(), "uploading")
	if _, err := io.Copy(io.MultiWriter(w, bar), f); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	logger.Printf("uploaded %s to %s/%s", input, bucketURL, key)
	return nil
}
