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

// Package task models import tasks: the upstream descriptor, the parsed
// ImportTask with its SourceReference, and the Result reported back.
package task

import (
	"encoding/json"
	"net/url"
	"path"
	"strings"
)

// SourceKind identifies where a task's source material comes from.
type SourceKind int

const (
	// SourceRemoteURL is a packaged source at an arbitrary external URL.
	SourceRemoteURL SourceKind = iota + 1
	// SourceUploadedArtifact is a packaged source uploaded to the front-end.
	SourceUploadedArtifact
	// SourceSpecOnly is a single spec file without a sources archive.
	SourceSpecOnly
)

// String returns the name used in logs and metrics labels.
func (k SourceKind) String() string {
	switch k {
	case SourceRemoteURL:
		return "remote_url"
	case SourceUploadedArtifact:
		return "uploaded_artifact"
	case SourceSpecOnly:
		return "spec_only"
	default:
		return "unknown"
	}
}

// SourceReference is the parsed origin of a task's input.
type SourceReference struct {
	Kind SourceKind
	URL  string
}

// Filename returns the last path segment of the URL.
func (r SourceReference) Filename() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return path.Base(u.Path)
}

// Packaged reports whether the reference points at a packaged source
// rather than a bare spec file.
func (r SourceReference) Packaged() bool {
	return r.Kind == SourceRemoteURL || r.Kind == SourceUploadedArtifact
}

// ImportTask is one unit of import work. It is read-only after Parse.
type ImportTask struct {
	TaskID   int64
	User     string
	Project  string
	Branches []string
	Source   SourceReference
}

// Owner returns the "user/project" path that namespaces the task's repositories.
func (t *ImportTask) Owner() string {
	return t.User + "/" + t.Project
}

// Descriptor is the raw task shape received from a task source.
type Descriptor struct {
	TaskID     int64    `json:"task_id"`
	User       string   `json:"user"`
	Project    string   `json:"project"`
	Branches   []string `json:"branches"`
	SourceJSON string   `json:"source_json"`

	// Raw holds the original JSON when the descriptor was decoded from the wire.
	Raw json.RawMessage `json:"-"`
}

// DecodeDescriptor decodes a descriptor leniently: when the payload does not
// match the descriptor shape the task id is still recovered if possible so
// the failure can be reported, and Parse rejects the descriptor later.
func DecodeDescriptor(raw []byte) Descriptor {
	var desc Descriptor
	if err := json.Unmarshal(raw, &desc); err != nil {
		var probe struct {
			TaskID json.Number `json:"task_id"`
		}
		desc = Descriptor{}
		if json.Unmarshal(raw, &probe) == nil {
			if id, err := probe.TaskID.Int64(); err == nil {
				desc.TaskID = id
			}
		}
	}
	desc.Raw = append(json.RawMessage(nil), raw...)
	return desc
}

// BranchResult is the outcome of importing into one branch.
type BranchResult struct {
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	GitHash   string `json:"git_hash,omitempty"`
}

// Result is the outcome of a task as reported upstream.
type Result struct {
	TaskID     int64                   `json:"task_id"`
	Success    bool                    `json:"success"`
	Branches   map[string]BranchResult `json:"branches"`
	PkgName    string                  `json:"pkg_name,omitempty"`
	PkgVersion string                  `json:"pkg_version,omitempty"`
	Error      string                  `json:"error,omitempty"`
	ErrorKind  string                  `json:"error_kind,omitempty"`
}

// NewResult returns an empty result for the task.
func NewResult(taskID int64) *Result {
	return &Result{TaskID: taskID, Branches: make(map[string]BranchResult)}
}

// SetBranch records a branch outcome and recomputes the task-level success.
func (r *Result) SetBranch(branch string, br BranchResult) {
	r.Branches[branch] = br
	r.Success = r.allSucceeded()
}

// Fail marks the whole task failed, recording the error on every listed
// branch that has no outcome yet.
func (r *Result) Fail(branches []string, kind, msg string) {
	r.Error = msg
	r.ErrorKind = kind
	for _, b := range branches {
		if _, ok := r.Branches[b]; !ok {
			r.Branches[b] = BranchResult{Error: msg, ErrorKind: kind}
		}
	}
	r.Success = false
}

// FailedBranches returns the names of branches that did not succeed.
func (r *Result) FailedBranches() []string {
	var failed []string
	for name, br := range r.Branches {
		if !br.Success {
			failed = append(failed, name)
		}
	}
	return failed
}

func (r *Result) allSucceeded() bool {
	if r.Error != "" || len(r.Branches) == 0 {
		return false
	}
	for _, br := range r.Branches {
		if !br.Success {
			return false
		}
	}
	return true
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
