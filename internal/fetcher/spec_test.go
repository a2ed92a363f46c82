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

	"github.com/altairalabs/distgit-importer/internal/importerr"
)

const sampleSpec = `%global srcname example
%define base_version 1.2

Name:           python-%{srcname}
Version:        %{base_version}.3
Release:        4%{?dist}
Epoch:          2
Summary:        An example

License:        MIT
Source0:        %{srcname}-%{version}.tar.gz

%description
Name: ignored
`

func TestParseSpecInfo(t *testing.T) {
	p := writeTemp(t, "example.spec", []byte(sampleSpec))

	info, err := ParseSpecInfo(p)
	require.NoError(t, err)
	assert.Equal(t, "python-example", info.Name)
	assert.Equal(t, "1.2.3", info.Version)
	assert.Equal(t, "4", info.Release)
	assert.Equal(t, 2, info.Epoch)
	assert.Equal(t, "2:1.2.3-4", info.EVR())
}

func TestParseSpecInfo_MissingName(t *testing.T) {
	p := writeTemp(t, "broken.spec", []byte("Version: 1\n"))

	_, err := ParseSpecInfo(p)
	assert.ErrorIs(t, err, importerr.ErrMalformedSource)
}

func TestParseSpecInfo_BadEpoch(t *testing.T) {
	p := writeTemp(t, "broken.spec", []byte("Name: foo\nEpoch: one\n"))

	_, err := ParseSpecInfo(p)
	assert.ErrorIs(t, err, importerr.ErrMalformedSource)
}

func TestExpandMacros(t *testing.T) {
	macros := map[string]string{"name": "foo"}
	assert.Equal(t, "foo-1", expandMacros("%{name}-1", macros))
	assert.Equal(t, "1", expandMacros("1%{?dist}", macros))
	assert.Equal(t, "%{_libdir}", expandMacros("%{_libdir}", macros))
}

func TestUnpackSpec_RenamesToPackageName(t *testing.T) {
	dir := t.TempDir()
	downloaded := filepath.Join(dir, "download.spec")
	require.NoError(t, os.WriteFile(downloaded, []byte("Name: foo\nVersion: 1.0\nRelease: 1\n"), 0600))
	dest := filepath.Join(dir, "unpacked")
	require.NoError(t, os.MkdirAll(dest, 0750))

	src, err := unpackSpec(downloaded, dest)
	require.NoError(t, err)
	assert.True(t, src.SpecOnly)
	assert.Equal(t, "foo.spec", src.Spec.Name)
	assert.Equal(t, ClassGit, src.Spec.Class)
	assert.Len(t, src.Files, 1)
	assert.Empty(t, src.LookasideFiles())
	assert.FileExists(t, filepath.Join(dest, "foo.spec"))
}
