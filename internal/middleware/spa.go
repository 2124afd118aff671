package middleware

import (
	"io/fs"
	"net/http"
	"strings"
)

// StaticHandler serves the embedded demo terminal page for any path
// the API does not claim, falling back to index.html so the page owns
// its own routing.
type StaticHandler struct {
	fs        http.FileSystem
	indexHTML []byte
	skip      []string
}

// NewStaticHandler wraps fsys. Requests whose path starts with one of
// skipPrefixes get a plain 404 so API typos never receive HTML.
func NewStaticHandler(fsys fs.FS, skipPrefixes ...string) *StaticHandler {
	index, _ := fs.ReadFile(fsys, "index.html")
	return &StaticHandler{
		fs:        http.FS(fsys),
		indexHTML: index,
		skip:      skipPrefixes,
	}
}

func (h *StaticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	for _, prefix := range h.skip {
		if prefix != "" && strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}
	}

	// Try to serve the actual file
	path := strings.TrimPrefix(r.URL.Path, "/")
	if f, err := h.fs.Open(path); err == nil {
		defer f.Close()
		if stat, err := f.Stat(); err == nil && !stat.IsDir() {
			http.FileServer(h.fs).ServeHTTP(w, r)
			return
		}
	}

	if h.indexHTML != nil {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(h.indexHTML)
		return
	}

	http.NotFound(w, r)
}
