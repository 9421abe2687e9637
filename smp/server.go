package smp

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// ServerOptions configures the archive HTTP server.
type ServerOptions struct {
	Addr       string
	CORSOrigin string
}

// NewServerHandler serves the contents of an open SMP over HTTP: the
// style at /style.json, every other resource at its archive path, and
// Prometheus metrics at /metrics. The reader must stay open for the
// handler's lifetime.
func NewServerHandler(r *Reader, logger *log.Logger, opts ServerOptions) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		path := req.URL.Path[1:]
		if path == "" {
			path = PathStyle
		}
		rc, contentType, err := r.Resource(path)
		if err != nil {
			status := http.StatusInternalServerError
			if isNotFoundErr(err) {
				status = http.StatusNotFound
			}
			serveRequests.WithLabelValues(strconv.Itoa(status)).Inc()
			http.Error(w, err.Error(), status)
			return
		}
		defer rc.Close()
		w.Header().Set("Content-Type", contentType)
		if _, err := io.Copy(w, rc); err != nil {
			logger.Printf("serve %s: %v", path, err)
			return
		}
		serveRequests.WithLabelValues("200").Inc()
	})

	if opts.CORSOrigin != "" {
		return cors.New(cors.Options{
			AllowedOrigins: []string{opts.CORSOrigin},
			AllowedMethods: []string{http.MethodGet, http.MethodHead},
		}).Handler(mux)
	}
	return mux
}

// Serve opens an archive (local path or bucket) and blocks serving it.
func Serve(ctx context.Context, logger *log.Logger, bucketURL string, file string, opts ServerOptions) error {
	normalized, key, err := NormalizeBucketKey(bucketURL, file)
	if err != nil {
		return err
	}
	bucket, err := OpenBucket(ctx, normalized)
	if err != nil {
		return err
	}
	r, err := OpenReaderFromBucket(ctx, bucket, key)
	if err != nil {
		bucket.Close()
		return err
	}
	defer r.Close()

	if err := r.VerifyVersion(); err != nil && !isNotFoundErr(err) {
		return err
	}

	logger.Printf("serving %s on %s", file, opts.Addr)
	srv := &http.Server{Addr: opts.Addr, Handler: NewServerHandler(r, logger, opts)}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
