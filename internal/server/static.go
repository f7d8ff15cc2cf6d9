package server

import (
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
)

// SPAHandler serves the built UI bundle and falls back to index.html for
// any extensionless path that doesn't match a file, so client-side routes
// resolve. Missing files with extensions get 404.
type SPAHandler struct {
	fileServer http.Handler
	filesystem fs.FS
}

// NewSPAHandler serves files from fsys below prefix (e.g. the embedded
// ui/dist tree).
func NewSPAHandler(fsys fs.FS, prefix string) (*SPAHandler, error) {
	sub, err := fs.Sub(fsys, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to create sub filesystem: %w", err)
	}
	return newSPAHandler(sub), nil
}

// NewSPAHandlerFromDir serves a UI bundle from a directory on disk, which
// lets a rebuilt bundle be picked up without restarting.
func NewSPAHandlerFromDir(dir string) (*SPAHandler, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("ui dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ui dir: %s is not a directory", dir)
	}
	return newSPAHandler(os.DirFS(dir)), nil
}

func newSPAHandler(fsys fs.FS) *SPAHandler {
	return &SPAHandler{
		fileServer: http.FileServer(http.FS(fsys)),
		filesystem: fsys,
	}
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	urlPath := r.URL.Path
	if urlPath == "/" {
		w.Header().Set("Cache-Control", "no-cache")
		h.fileServer.ServeHTTP(w, r)
		return
	}

	if _, err := fs.Stat(h.filesystem, urlPath[1:]); err == nil {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	// r.URL.Path is already decoded, so %2Ecss counts as an extension.
	if path.Ext(urlPath) != "" {
		http.NotFound(w, r)
		return
	}

	// index.html must not be cached under a client route
	w.Header().Set("Cache-Control", "no-cache")
	r2 := r.Clone(r.Context())
	r2.URL.Path = "/"
	h.fileServer.ServeHTTP(w, r2)
}
