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
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/cavaliergopher/cpio"
	"github.com/cavaliergopher/rpm"
	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/altairalabs/distgit-importer/internal/importerr"
)

// unpackSRPM extracts a source RPM's payload into dest and classifies the
// extracted files.
func unpackSRPM(ctx context.Context, srpmPath, dest string, policy Policy, maxUnpacked int64) (*LocalSources, error) {
	f, err := os.Open(srpmPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	defer func() { _ = f.Close() }()

	br := bufio.NewReader(f)
	pkg, err := rpm.Read(br)
	if err != nil {
		return nil, fmt.Errorf("%w: not a source RPM: %v", importerr.ErrMalformedSource, err)
	}
	if format := pkg.PayloadFormat(); format != "" && format != "cpio" {
		return nil, fmt.Errorf("%w: unsupported payload format %q", importerr.ErrMalformedSource, format)
	}

	payload, err := payloadReader(br, pkg.PayloadCompression())
	if err != nil {
		return nil, err
	}
	defer func() { _ = payload.Close() }()

	files, err := extractCPIO(ctx, payload, dest, maxUnpacked)
	if err != nil {
		return nil, err
	}

	sources := &LocalSources{}
	specs := 0
	for i := range files {
		class, err := policy.Classify(files[i].Name, files[i].Path, files[i].Size)
		if err != nil {
			return nil, fmt.Errorf("%w: classify %s: %v", importerr.ErrStorage, files[i].Name, err)
		}
		files[i].Class = class
		if strings.HasSuffix(files[i].Name, ".spec") {
			sources.Spec = files[i]
			specs++
		}
	}
	if specs != 1 {
		return nil, fmt.Errorf("%w: expected exactly one spec file, found %d", importerr.ErrMalformedSource, specs)
	}
	sources.Files = files

	sources.Package = PackageInfo{
		Name:    pkg.Name(),
		Epoch:   pkg.Epoch(),
		Version: pkg.Version(),
		Release: pkg.Release(),
	}
	if sources.Package.Name == "" {
		info, err := ParseSpecInfo(sources.Spec.Path)
		if err != nil {
			return nil, err
		}
		sources.Package = info
	}
	if err := validatePackageName(sources.Package.Name); err != nil {
		return nil, err
	}
	return sources, nil
}

func payloadReader(r io.Reader, compression string) (io.ReadCloser, error) {
	var (
		rd  io.Reader
		err error
	)
	switch compression {
	case "", "gzip":
		var gz *gzip.Reader
		gz, err = gzip.NewReader(r)
		if err == nil {
			return gz, nil
		}
	case "bzip2":
		rd = bzip2.NewReader(r)
	case "xz":
		rd, err = xz.NewReader(r)
	case "lzma":
		rd, err = lzma.NewReader(r)
	case "zstd":
		var z *zstd.Decoder
		z, err = zstd.NewReader(r)
		if err == nil {
			return z.IOReadCloser(), nil
		}
	case "none", "identity":
		rd = r
	default:
		return nil, fmt.Errorf("%w: unsupported payload compression %q", importerr.ErrMalformedSource, compression)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s payload: %v", importerr.ErrMalformedSource, compression, err)
	}
	return io.NopCloser(rd), nil
}

// extractCPIO writes every regular file of a flat cpio archive into dest.
// Source RPM payloads have no directories; nested paths are rejected.
func extractCPIO(ctx context.Context, r io.Reader, dest string, maxUnpacked int64) ([]File, error) {
	cr := cpio.NewReader(r)
	var (
		files []File
		total int64
		seen  = map[string]bool{}
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", importerr.ErrFetch, err)
		}
		hdr, err := cr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: corrupt payload: %v", importerr.ErrMalformedSource, err)
		}
		if !hdr.Mode.IsRegular() {
			continue
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if name == "" || strings.Contains(name, "/") || name == "." || name == ".." || path.Clean(name) != name {
			return nil, fmt.Errorf("%w: unexpected payload path %q", importerr.ErrMalformedSource, hdr.Name)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate payload entry %q", importerr.ErrMalformedSource, name)
		}
		seen[name] = true

		total += hdr.Size
		if maxUnpacked > 0 && total > maxUnpacked {
			return nil, fmt.Errorf("%w: payload exceeds %d bytes", importerr.ErrMalformedSource, maxUnpacked)
		}

		target, err := securejoin.SecureJoin(dest, name)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", importerr.ErrMalformedSource, err)
		}
		n, err := writeFile(target, cr, hdr.Size)
		if err != nil {
			return nil, err
		}
		files = append(files, File{Name: name, Path: target, Size: n})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

func writeFile(target string, r io.Reader, size int64) (int64, error) {
	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	n, err := io.Copy(out, io.LimitReader(r, size))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("%w: extract %s: %v", importerr.ErrMalformedSource, target, err)
	}
	if n != size {
		return n, fmt.Errorf("%w: truncated payload entry %s", importerr.ErrMalformedSource, target)
	}
	return n, nil
}
