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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name string, body []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, body, 0600))
	return p
}

func TestPolicy_Classify(t *testing.T) {
	text := []byte("Name: foo\n")
	binary := []byte{0x7f, 'E', 'L', 'F', 0, 1}

	tests := []struct {
		name   string
		policy Policy
		file   string
		body   []byte
		want   FileClass
	}{
		{name: "spec always git", policy: Policy{LookasidePatterns: []string{"*"}}, file: "foo.spec", body: text, want: ClassGit},
		{name: "patch pattern", policy: DefaultPolicy(), file: "fix.patch", body: binary, want: ClassGit},
		{name: "tarball pattern", policy: DefaultPolicy(), file: "foo-1.0.tar.gz", body: text, want: ClassLookaside},
		{name: "pattern is case insensitive", policy: DefaultPolicy(), file: "FOO.ZIP", body: text, want: ClassLookaside},
		{name: "text defaults to git", policy: DefaultPolicy(), file: "README", body: text, want: ClassGit},
		{name: "binary sniffed", policy: DefaultPolicy(), file: "blob", body: binary, want: ClassLookaside},
		{name: "size threshold", policy: Policy{LargeFileThreshold: 4}, file: "notes.txt", body: text, want: ClassLookaside},
		{name: "git pattern beats threshold", policy: Policy{GitPatterns: []string{"*.txt"}, LargeFileThreshold: 4}, file: "notes.txt", body: text, want: ClassGit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := writeTemp(t, tt.file, tt.body)
			got, err := tt.policy.Classify(tt.file, p, int64(len(tt.body)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPolicy_ClassifyMissingFile(t *testing.T) {
	_, err := Policy{}.Classify("blob", filepath.Join(t.TempDir(), "missing"), 1)
	assert.Error(t, err)
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{GitPatterns: []string{"[a-"}}.Validate())
	assert.Error(t, Policy{LargeFileThreshold: -1}.Validate())
}
