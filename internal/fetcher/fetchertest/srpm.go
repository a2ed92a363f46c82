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

// Package fetchertest builds source RPM fixtures for tests.
package fetchertest

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"sort"

	"github.com/cavaliergopher/cpio"
)

// RPM header tags and types written by BuildSRPM.
const (
	tagSigSize        = 1000
	tagSigPayloadSize = 1007
	tagName           = 1000
	tagVersion        = 1001
	tagRelease        = 1002
	tagEpoch          = 1003
	tagPayloadFormat  = 1124
	tagPayloadComp    = 1125

	typeInt32  = 4
	typeString = 6
)

// Package describes a source RPM fixture.
type Package struct {
	Name    string
	Epoch   int
	Version string
	Release string
	// Files maps payload file names to their content.
	Files map[string][]byte
}

// BuildSRPM returns a minimal source RPM with a gzip compressed cpio payload.
func BuildSRPM(p Package) ([]byte, error) {
	payload, err := buildPayload(p.Files)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(lead(p.Name))

	sig := newHeader()
	sig.int32(tagSigSize, uint32(len(payload)))
	sig.int32(tagSigPayloadSize, uint32(len(payload)))
	sigBytes := sig.bytes()
	buf.Write(sigBytes)
	if pad := len(sigBytes) % 8; pad != 0 {
		buf.Write(make([]byte, 8-pad))
	}

	hdr := newHeader()
	if p.Epoch > 0 {
		hdr.int32(tagEpoch, uint32(p.Epoch))
	}
	hdr.str(tagName, p.Name)
	hdr.str(tagVersion, p.Version)
	hdr.str(tagRelease, p.Release)
	hdr.str(tagPayloadFormat, "cpio")
	hdr.str(tagPayloadComp, "gzip")
	buf.Write(hdr.bytes())

	buf.Write(payload)
	return buf.Bytes(), nil
}

func buildPayload(files map[string][]byte) ([]byte, error) {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var out bytes.Buffer
	gz := gzip.NewWriter(&out)
	w := cpio.NewWriter(gz)
	for _, name := range names {
		body := files[name]
		if err := w.WriteHeader(&cpio.Header{Name: name, Mode: 0644, Size: int64(len(body))}); err != nil {
			return nil, err
		}
		if _, err := w.Write(body); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func lead(name string) []byte {
	b := make([]byte, 96)
	copy(b, []byte{0xed, 0xab, 0xee, 0xdb})
	b[4] = 3 // major
	b[5] = 0 // minor
	binary.BigEndian.PutUint16(b[6:], 1)
	copy(b[10:76], name)
	binary.BigEndian.PutUint16(b[76:], 1)
	binary.BigEndian.PutUint16(b[78:], 5)
	return b
}

type entry struct {
	tag, typ, offset, count uint32
}

type header struct {
	entries []entry
	store   bytes.Buffer
}

func newHeader() *header {
	return &header{}
}

func (h *header) int32(tag int, v uint32) {
	for h.store.Len()%4 != 0 {
		h.store.WriteByte(0)
	}
	h.entries = append(h.entries, entry{uint32(tag), typeInt32, uint32(h.store.Len()), 1})
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	h.store.Write(b[:])
}

func (h *header) str(tag int, v string) {
	h.entries = append(h.entries, entry{uint32(tag), typeString, uint32(h.store.Len()), 1})
	h.store.WriteString(v)
	h.store.WriteByte(0)
}

func (h *header) bytes() []byte {
	var b bytes.Buffer
	b.Write([]byte{0x8e, 0xad, 0xe8, 0x01, 0, 0, 0, 0})
	var u [4]byte
	binary.BigEndian.PutUint32(u[:], uint32(len(h.entries)))
	b.Write(u[:])
	binary.BigEndian.PutUint32(u[:], uint32(h.store.Len()))
	b.Write(u[:])
	for _, e := range h.entries {
		for _, v := range []uint32{e.tag, e.typ, e.offset, e.count} {
			binary.BigEndian.PutUint32(u[:], v)
			b.Write(u[:])
		}
	}
	b.Write(h.store.Bytes())
	return b.Bytes()
}
