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

package task

import (
	// embed is used for the descriptor JSON schema
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/altairalabs/distgit-importer/internal/importerr"
)

//go:embed descriptor.schema.json
var descriptorSchema string

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

// Declared source types accepted in source_json.
const (
	sourceTypeURL    = "url"
	sourceTypeUpload = "upload"
	sourceTypeSpec   = "spec"
)

type sourceJSON struct {
	URL  string `json:"url"`
	Type string `json:"type,omitempty"`
}

func loadSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(descriptorSchema))
	})
	return compiledSchema, schemaErr
}

// ParseJSON decodes and parses a raw descriptor.
func ParseJSON(raw []byte, frontendBaseURL string) (*ImportTask, error) {
	return Parse(DecodeDescriptor(raw), frontendBaseURL)
}

// Parse validates a descriptor and builds the ImportTask. It performs no I/O.
// Shape violations fail with importerr.ErrMalformedTask, unusable source
// references with importerr.ErrMalformedSource.
func Parse(desc Descriptor, frontendBaseURL string) (*ImportTask, error) {
	if err := validateDescriptor(desc); err != nil {
		return nil, err
	}

	ref, err := ParseSource(desc.SourceJSON, frontendBaseURL)
	if err != nil {
		return nil, err
	}

	return &ImportTask{
		TaskID:   desc.TaskID,
		User:     desc.User,
		Project:  desc.Project,
		Branches: dedupe(desc.Branches),
		Source:   ref,
	}, nil
}

func validateDescriptor(desc Descriptor) error {
	schema, err := loadSchema()
	if err != nil {
		return fmt.Errorf("%w: descriptor schema: %v", importerr.ErrInternal, err)
	}

	doc := desc.Raw
	if len(doc) == 0 {
		if doc, err = json.Marshal(desc); err != nil {
			return fmt.Errorf("%w: %v", importerr.ErrMalformedTask, err)
		}
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("%w: %v", importerr.ErrMalformedTask, err)
	}
	if !result.Valid() {
		var problems []string
		for _, re := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
		}
		return fmt.Errorf("%w: %s", importerr.ErrMalformedTask, strings.Join(problems, "; "))
	}
	return nil
}

// ParseSource resolves the SourceReference variant from a serialized
// source object. Without an explicit type, a ".spec" path is SpecOnly, a URL
// on the front-end host is an UploadedArtifact and anything else a RemoteURL.
func ParseSource(raw string, frontendBaseURL string) (SourceReference, error) {
	var src sourceJSON
	if err := json.Unmarshal([]byte(raw), &src); err != nil {
		return SourceReference{}, fmt.Errorf("%w: source_json is not an object: %v", importerr.ErrMalformedSource, err)
	}
	if src.URL == "" {
		return SourceReference{}, fmt.Errorf("%w: source_json has no url", importerr.ErrMalformedSource)
	}

	u, err := url.Parse(src.URL)
	if err != nil {
		return SourceReference{}, fmt.Errorf("%w: %v", importerr.ErrMalformedSource, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return SourceReference{}, fmt.Errorf("%w: unsupported scheme %q", importerr.ErrMalformedSource, u.Scheme)
	}
	if u.Host == "" {
		return SourceReference{}, fmt.Errorf("%w: url %q has no host", importerr.ErrMalformedSource, src.URL)
	}
	if u.Path == "" || strings.HasSuffix(u.Path, "/") {
		return SourceReference{}, fmt.Errorf("%w: url %q names no file", importerr.ErrMalformedSource, src.URL)
	}

	ref := SourceReference{URL: src.URL}
	switch src.Type {
	case sourceTypeURL:
		ref.Kind = SourceRemoteURL
	case sourceTypeUpload:
		ref.Kind = SourceUploadedArtifact
	case sourceTypeSpec:
		ref.Kind = SourceSpecOnly
	case "":
		ref.Kind = inferKind(u, frontendBaseURL)
	default:
		return SourceReference{}, fmt.Errorf("%w: unknown source type %q", importerr.ErrMalformedSource, src.Type)
	}
	return ref, nil
}

func inferKind(u *url.URL, frontendBaseURL string) SourceKind {
	if strings.HasSuffix(strings.ToLower(path.Base(u.Path)), ".spec") {
		return SourceSpecOnly
	}
	if front := hostOf(frontendBaseURL); front != "" && strings.ToLower(u.Host) == front {
		return SourceUploadedArtifact
	}
	return SourceRemoteURL
}

func dedupe(branches []string) []string {
	seen := make(map[string]struct{}, len(branches))
	out := make([]string, 0, len(branches))
	for _, b := range branches {
		if _, ok := seen[b]; ok {
			continue
		}
		seen[b] = struct{}{}
		out = append(out, b)
	}
	return out
}
