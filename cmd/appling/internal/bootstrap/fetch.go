// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// ErrUnsupportedSource is returned for a plan source with an unknown scheme.
var ErrUnsupportedSource = errors.New("unsupported bootstrap source")

// FetchConfig configures a Fetcher.
type FetchConfig struct {
	// HTTPClient serves http and https sources. Default: http.DefaultClient.
	HTTPClient *http.Client

	// UserAgent is sent with http requests.
	UserAgent string

	// GCSCredentialsFile is a service account key for gs:// sources.
	// Ignored when GCSAnonymous is set.
	GCSCredentialsFile string

	// GCSAnonymous reads public buckets without credentials.
	GCSAnonymous bool
}

// Fetcher copies a bootstrap archive from its source.
type Fetcher struct {
	cfg FetchConfig
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg FetchConfig) *Fetcher {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	return &Fetcher{cfg: cfg}
}

// Fetch writes the content at source to dst and returns the byte count.
//
// # Description
//
// Supported sources: a plain filesystem path, file://, http://, https://
// and gs://bucket/object. Non-2xx HTTP responses are errors.
func (f *Fetcher) Fetch(ctx context.Context, source string, dst io.Writer) (int64, error) {
	if !strings.Contains(source, "://") {
		return copyFile(source, dst)
	}
	u, err := url.Parse(source)
	if err != nil {
		return 0, fmt.Errorf("parse source %q: %w", source, err)
	}

	switch u.Scheme {
	case "file":
		return copyFile(filepath.FromSlash(u.Path), dst)
	case "http", "https":
		return f.fetchHTTP(ctx, source, dst)
	case "gs":
		return f.fetchGCS(ctx, u.Host, strings.TrimPrefix(u.Path, "/"), dst)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedSource, u.Scheme)
	}
}

func copyFile(path string, dst io.Writer) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer src.Close()
	return io.Copy(dst, src)
}

func (f *Fetcher) fetchHTTP(ctx context.Context, source string, dst io.Writer) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return 0, err
	}
	if f.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", f.cfg.UserAgent)
	}
	resp, err := f.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("GET %s: %s", source, resp.Status)
	}
	return io.Copy(dst, resp.Body)
}

func (f *Fetcher) fetchGCS(ctx context.Context, bucket, object string, dst io.Writer) (int64, error) {
	if bucket == "" || object == "" {
		return 0, fmt.Errorf("gs source needs bucket and object, got %q/%q", bucket, object)
	}
	client, err := newGCSClient(ctx, f.cfg.GCSCredentialsFile, f.cfg.GCSAnonymous)
	if err != nil {
		return 0, err
	}
	defer client.Close()
	return client.Download(ctx, bucket, object, dst)
}

// gcsClient is a thin read-only wrapper over the storage client.
type gcsClient struct {
	storageClient *storage.Client
}

func newGCSClient(ctx context.Context, credentialsFile string, anonymous bool) (*gcsClient, error) {
	var opts []option.ClientOption
	switch {
	case anonymous:
		opts = append(opts, option.WithoutAuthentication())
	case credentialsFile != "":
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not found at path: %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &gcsClient{storageClient: client}, nil
}

// Download copies gs://bucket/object into dst.
func (c *gcsClient) Download(ctx context.Context, bucket, object string, dst io.Writer) (int64, error) {
	r, err := c.storageClient.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return 0, fmt.Errorf("open gs://%s/%s: %w", bucket, object, err)
	}
	defer r.Close()

	n, err := io.Copy(dst, r)
	if err != nil {
		return n, fmt.Errorf("read gs://%s/%s: %w", bucket, object, err)
	}
	return n, nil
}

func (c *gcsClient) Close() error {
	return c.storageClient.Close()
}
