// Package storage fetches deployment artifacts and configuration from
// wherever a bundle manifest points: the local filesystem, plain HTTP, or
// Azure Blob Storage.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Fetcher retrieves the bytes at a location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// FileFetcher reads local files. Relative locations resolve against the
// base directory.
type FileFetcher struct {
	base   string
	logger *zap.Logger
}

// NewFileFetcher creates a file fetcher rooted at base. An empty base
// resolves relative locations against the working directory.
func NewFileFetcher(base string, logger *zap.Logger) (*FileFetcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &FileFetcher{base: base, logger: logger}, nil
}

// Fetch reads the file at location.
func (f *FileFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	if location == "" {
		return nil, fmt.Errorf("location is required")
	}
	path := location
	if !filepath.IsAbs(path) {
		path = filepath.Join(f.base, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	f.logger.Debug("Fetched local file",
		zap.String("path", path),
		zap.Int("size_bytes", len(data)))
	return data, nil
}

// HTTPFetcher retrieves artifacts over plain HTTP(S).
type HTTPFetcher struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPFetcher creates an HTTP fetcher with a bounded request timeout.
func NewHTTPFetcher(timeout time.Duration, logger *zap.Logger) (*HTTPFetcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}, nil
}

// Fetch downloads the resource at location.
func (f *HTTPFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("building request for %s: %w", location, err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", location, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: unexpected status %d", location, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", location, err)
	}
	f.logger.Debug("Fetched remote artifact",
		zap.String("location", location),
		zap.Int("size_bytes", len(data)))
	return data, nil
}

// Resolver routes a location to the right fetcher based on the manifest's
// locality flag and the location's shape.
type Resolver struct {
	file *FileFetcher
	http *HTTPFetcher
	blob *BlobFetcher
}

// NewResolver creates a resolver. blob may be nil when no blob storage is
// configured.
func NewResolver(baseDir string, blob *BlobFetcher, logger *zap.Logger) (*Resolver, error) {
	file, err := NewFileFetcher(baseDir, logger)
	if err != nil {
		return nil, err
	}
	httpFetcher, err := NewHTTPFetcher(0, logger)
	if err != nil {
		return nil, err
	}
	return &Resolver{file: file, http: httpFetcher, blob: blob}, nil
}

// Fetch retrieves a location. Local locations read from disk. Remote
// locations go to blob storage when they point at the configured blob
// service (or are bare blob paths), and to plain HTTP otherwise.
func (r *Resolver) Fetch(ctx context.Context, location string, local bool) ([]byte, error) {
	switch {
	case local:
		return r.file.Fetch(ctx, location)
	case r.blob != nil && r.blob.Owns(location):
		return r.blob.Fetch(ctx, location)
	case strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://"):
		return r.http.Fetch(ctx, location)
	case r.blob != nil:
		return r.blob.Fetch(ctx, location)
	default:
		return nil, fmt.Errorf("no fetcher can serve location %q", location)
	}
}
