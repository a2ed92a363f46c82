/*
Copyright 2026 Altaira Labs.

SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/altairalabs/distgit-importer/internal/importerr"
	"github.com/altairalabs/distgit-importer/internal/task"
)

const userAgent = "distgit-importer/1.0"

// HTTPFetcher downloads sources over HTTP(S).
type HTTPFetcher struct {
	opts    Options
	client  *http.Client
	limiter *rate.Limiter
	log     logr.Logger
}

// HTTPFetcherOption configures an HTTPFetcher.
type HTTPFetcherOption func(*HTTPFetcher)

// WithHTTPClient sets the HTTP client. Its transport is used as is.
func WithHTTPClient(c *http.Client) HTTPFetcherOption {
	return func(f *HTTPFetcher) {
		f.client = c
	}
}

// NewHTTPFetcher creates a fetcher. Redirects are followed by the client.
func NewHTTPFetcher(opts Options, log logr.Logger, options ...HTTPFetcherOption) *HTTPFetcher {
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	f := &HTTPFetcher{
		opts: opts,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter: rate.NewLimiter(limit, burst),
		log:     log.WithName("fetcher"),
	}
	for _, o := range options {
		o(f)
	}
	return f
}

// Fetch downloads and unpacks ref into scratchDir.
func (f *HTTPFetcher) Fetch(ctx context.Context, ref task.SourceReference, scratchDir string) (*LocalSources, error) {
	return Fetch(ctx, f, ref, scratchDir)
}

// Download retrieves ref into scratchDir/download.
func (f *HTTPFetcher) Download(ctx context.Context, ref task.SourceReference, scratchDir string) (string, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%w: rate limiter: %v", importerr.ErrFetch, err)
	}

	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", importerr.ErrMalformedSource, err)
	}
	req.Header.Set("User-Agent", userAgent)

	switch ref.Kind {
	case task.SourceUploadedArtifact:
		if f.opts.FrontendAuth != "" {
			req.SetBasicAuth(f.opts.FrontendUser, f.opts.FrontendAuth)
		}
	case task.SourceRemoteURL, task.SourceSpecOnly:
	default:
		return "", fmt.Errorf("%w: unknown source kind %d", importerr.ErrMalformedSource, ref.Kind)
	}

	log := f.log.WithValues("url", ref.URL, "kind", ref.Kind.String())
	log.V(1).Info("downloading source")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: GET %s: %v", importerr.ErrFetch, ref.URL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return "", permanent("%w: GET %s: %s", importerr.ErrFetch, ref.URL, resp.Status)
		}
		return "", fmt.Errorf("%w: GET %s: %s", importerr.ErrFetch, ref.URL, resp.Status)
	}
	if f.opts.MaxBytes > 0 && resp.ContentLength > f.opts.MaxBytes {
		return "", permanent("%w: %s is %d bytes, limit is %d", importerr.ErrFetch, ref.URL, resp.ContentLength, f.opts.MaxBytes)
	}

	dir := filepath.Join(scratchDir, downloadDir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	dest := filepath.Join(dir, downloadName(ref))
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return "", fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	defer func() { _ = out.Close() }()

	var body io.Reader = resp.Body
	if f.opts.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.opts.MaxBytes+1)
	}
	n, err := io.Copy(out, body)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: GET %s: %v", importerr.ErrFetch, ref.URL, ctx.Err())
		}
		return "", fmt.Errorf("%w: read %s: %v", importerr.ErrFetch, ref.URL, err)
	}
	if f.opts.MaxBytes > 0 && n > f.opts.MaxBytes {
		return "", permanent("%w: %s exceeds %d bytes", importerr.ErrFetch, ref.URL, f.opts.MaxBytes)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}

	log.Info("source downloaded", "bytes", n)
	return dest, nil
}

// Unpack extracts a downloaded resource into scratchDir/unpacked.
func (f *HTTPFetcher) Unpack(ctx context.Context, ref task.SourceReference, downloaded, scratchDir string) (*LocalSources, error) {
	dest := filepath.Join(scratchDir, unpackedDir)
	if err := os.MkdirAll(dest, 0750); err != nil {
		return nil, fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}

	switch ref.Kind {
	case task.SourceSpecOnly:
		return unpackSpec(downloaded, dest)
	case task.SourceRemoteURL, task.SourceUploadedArtifact:
		return unpackSRPM(ctx, downloaded, dest, f.opts.Policy, f.opts.MaxUnpackedBytes)
	default:
		return nil, fmt.Errorf("%w: unknown source kind %d", importerr.ErrMalformedSource, ref.Kind)
	}
}

// downloadName derives a safe local file name from the URL.
func downloadName(ref task.SourceReference) string {
	name := ref.Filename()
	if name == "" || name == "." || name == ".." || name == "/" || strings.ContainsAny(name, `/\`) {
		if ref.Kind == task.SourceSpecOnly {
			return "package.spec"
		}
		return "package.src.rpm"
	}
	return name
}

var _ Fetcher = (*HTTPFetcher)(nil)
