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

package lookaside

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-logr/logr"
)

// RoutePrefix is the URL prefix under which blobs are served.
const RoutePrefix = "/repo/pkgs/"

// Handler serves stored blobs read-only over HTTP.
type Handler struct {
	cache *Cache
	log   logr.Logger
}

// NewHandler creates a new lookaside HTTP handler.
func NewHandler(cache *Cache, log logr.Logger) *Handler {
	return &Handler{
		cache: cache,
		log:   log.WithName("lookaside-handler"),
	}
}

// RegisterRoutes registers the lookaside routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET "+RoutePrefix+"{project}/{filename}/{hash}", h.handleDownload)
}

// handleDownload serves a blob, restoring it from the mirror when it is
// missing locally.
// GET /repo/pkgs/{project}/{filename}/{hash}
func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	project := r.PathValue("project")
	filename := r.PathValue("filename")
	hash := r.PathValue("hash")

	path, err := h.cache.Path(project, filename, hash)
	if errors.Is(err, ErrNotFound) {
		var entry Entry
		entry, err = h.cache.Restore(r.Context(), project, filename, hash)
		path = entry.Path
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", "attachment; filename="+strconv.Quote(filename))
	http.ServeFile(w, r, path)
}

// writeError writes an appropriate HTTP error based on the error type.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidPath):
		http.Error(w, "bad request", http.StatusBadRequest)
	default:
		h.log.Error(err, "lookaside read failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
