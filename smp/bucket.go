package smp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// Bucket is an abstraction over a gocloud bucket, a plain HTTP server,
// or a local directory, reduced to what archive reading needs: sized
// random-access reads.
type Bucket interface {
	Close() error
	NewRangeReader(ctx context.Context, key string, offset int64, length int64) (io.ReadCloser, error)
	Size(ctx context.Context, key string) (int64, error)
}

// NormalizeBucketKey splits a path or URL into a bucket URL and a key.
// Plain local paths become file:// buckets rooted at their directory.
func NormalizeBucketKey(bucketURL string, file string) (string, string, error) {
	if bucketURL != "" {
		return bucketURL, file, nil
	}
	if strings.HasPrefix(file, "http://") || strings.HasPrefix(file, "https://") {
		u, err := url.Parse(file)
		if err != nil {
			return "", "", err
		}
		key := strings.TrimPrefix(u.Path, "/")
		u.Path = ""
		return u.String(), key, nil
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", "", err
	}
	return "file://" + filepath.ToSlash(filepath.Dir(abs)), filepath.Base(abs), nil
}

// OpenBucket dispatches on the bucket URL scheme; everything that is
// not plain HTTP goes through gocloud (file, s3, gs, azblob drivers are
// registered by the CLI).
func OpenBucket(ctx context.Context, bucketURL string) (Bucket, error) {
	if strings.HasPrefix(bucketURL, "http://") || strings.HasPrefix(bucketURL, "https://") {
		return &httpBucket{base: bucketURL, client: http.DefaultClient}, nil
	}
	b, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return &blobBucket{b: b}, nil
}

type blobBucket struct {
	b *blob.Bucket
}

func (b *blobBucket) Close() error { return b.b.Close() }

func (b *blobBucket) NewRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	r, err := b.b.NewRangeReader(ctx, key, offset, length, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}
	return r, nil
}

func (b *blobBucket) Size(ctx context.Context, key string) (int64, error) {
	attrs, err := b.b.Attributes(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return 0, err
	}
	return attrs.Size, nil
}

type httpBucket struct {
	base   string
	client *http.Client
}

func (b *httpBucket) Close() error { return nil }

func (b *httpBucket) keyURL(key string) string {
	return strings.TrimSuffix(b.base, "/") + "/" + key
}

func (b *httpBucket) NewRangeReader(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.keyURL(key), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, &HTTPError{URL: b.keyURL(key), StatusCode: resp.StatusCode}
	}
	return resp.Body, nil
}

func (b *httpBucket) Size(ctx context.Context, key string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.keyURL(key), nil)
	if err != nil {
		return 0, err
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, &HTTPError{URL: b.keyURL(key), StatusCode: resp.StatusCode}
	}
	if resp.ContentLength < 0 {
		return 0, fmt.Errorf("no content length for %s", key)
	}
	return resp.ContentLength, nil
}

// bucketReaderAt adapts a Bucket key to io.ReaderAt so archive/zip can
// read remote SMPs directly.
type bucketReaderAt struct {
	ctx    context.Context
	bucket Bucket
	key    string
}

func (r *bucketReaderAt) ReadAt(p []byte, off int64) (int, error) {
	rc, err := r.bucket.NewRangeReader(r.ctx, r.key, off, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := io.ReadFull(rc, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

// OpenReaderFromBucket opens a (possibly remote) archive through the
// bucket layer. Closing the returned Reader closes the bucket.
func OpenReaderFromBucket(ctx context.Context, bucket Bucket, key string) (*Reader, error) {
	size, err := bucket.Size(ctx, key)
	if err != nil {
		return nil, err
	}
	r, err := newReader(&bucketReaderAt{ctx: ctx, bucket: bucket, key: key}, size, bucket)
	if err != nil {
		return nil, err
	}
	return r, nil
}
