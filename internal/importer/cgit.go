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

package importer

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/altairalabs/distgit-importer/internal/importerr"
)

// CgitListFile is the name of the repository list read by cgit.
const CgitListFile = "cgit_pkg_list"

// CgitList maintains the list of imported repositories shown by cgit.
type CgitList struct {
	mu   sync.Mutex
	path string
}

// NewCgitList returns a list stored in dir, or nil when dir is empty.
func NewCgitList(dir string) *CgitList {
	if dir == "" {
		return nil
	}
	return &CgitList{path: filepath.Join(dir, CgitListFile)}
}

// Add appends repo unless it is already listed. The file is rewritten
// through a rename so cgit never reads a partial list.
func (c *CgitList) Add(repo string) error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: read %s: %v", importerr.ErrStorage, c.path, err)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if scanner.Text() == repo {
			return nil
		}
	}
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	data = append(data, repo+"\n"...)

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	tmp, err := os.CreateTemp(dir, "."+CgitListFile+"-*")
	if err != nil {
		return fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write %s: %v", importerr.ErrStorage, c.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("%w: %v", importerr.ErrStorage, err)
	}
	return nil
}
