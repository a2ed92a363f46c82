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
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/altairalabs/distgit-importer/internal/importerr"
)

var (
	tagLine   = regexp.MustCompile(`^(?i)(name|version|release|epoch)\s*:\s*(\S.*?)\s*$`)
	macroDef  = regexp.MustCompile(`^%(?:global|define)\s+(\w+)\s+(\S.*?)\s*$`)
	macroRef  = regexp.MustCompile(`%\{(\??)(\w+)\}`)
	validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._+-]*$`)
)

// ParseSpecInfo reads the package identity from a spec file. Simple
// %global/%define macros and the name/version/release tags are expanded;
// unknown conditional macros (%{?dist}) expand to nothing and other unknown
// macros are kept verbatim.
func ParseSpecInfo(specPath string) (PackageInfo, error) {
	f, err := os.Open(specPath)
	if err != nil {
		return PackageInfo{}, fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	defer func() { _ = f.Close() }()

	macros := map[string]string{}
	tags := map[string]string{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "%description") || strings.HasPrefix(line, "%prep") {
			break
		}
		if m := macroDef.FindStringSubmatch(line); m != nil {
			macros[m[1]] = expandMacros(m[2], macros)
			continue
		}
		if m := tagLine.FindStringSubmatch(line); m != nil {
			key := strings.ToLower(m[1])
			if _, seen := tags[key]; seen {
				continue
			}
			tags[key] = expandMacros(m[2], macros)
			macros[key] = tags[key]
		}
	}
	if err := scanner.Err(); err != nil {
		return PackageInfo{}, fmt.Errorf("%w: reading spec: %v", importerr.ErrMalformedSource, err)
	}

	info := PackageInfo{
		Name:    tags["name"],
		Version: tags["version"],
		Release: tags["release"],
	}
	if e := tags["epoch"]; e != "" {
		epoch, err := strconv.Atoi(e)
		if err != nil || epoch < 0 {
			return PackageInfo{}, fmt.Errorf("%w: invalid Epoch %q", importerr.ErrMalformedSource, e)
		}
		info.Epoch = epoch
	}
	if err := validatePackageName(info.Name); err != nil {
		return PackageInfo{}, err
	}
	return info, nil
}

func expandMacros(s string, macros map[string]string) string {
	return macroRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := macroRef.FindStringSubmatch(ref)
		if v, ok := macros[m[2]]; ok {
			return v
		}
		if m[1] == "?" {
			return ""
		}
		return ref
	})
}

func validatePackageName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: invalid package name %q", importerr.ErrMalformedSource, name)
	}
	return nil
}

// unpackSpec places a downloaded spec file as <name>.spec.
func unpackSpec(downloaded, dest string) (*LocalSources, error) {
	info, err := ParseSpecInfo(downloaded)
	if err != nil {
		return nil, err
	}
	name := info.Name + ".spec"
	target := filepath.Join(dest, name)
	if err := os.Rename(downloaded, target); err != nil {
		return nil, fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	st, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	spec := File{Name: name, Path: target, Size: st.Size(), Class: ClassGit}
	return &LocalSources{
		Package:  info,
		Spec:     spec,
		Files:    []File{spec},
		SpecOnly: true,
	}, nil
}
