package edge

import (
	"bytes"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"path"
	"strings"
	"time"
)

const (
	DefaultIndexDocument = "index.html"

	cacheImmutable = "public, max-age=31536000, immutable"
	cacheNoCache   = "no-cache"
	cacheDefault   = "public, max-age=3600"
)

// Handler serves a built single-page frontend from an fs.FS. Paths without an
// extension that match no file fall back to the index document so client-side
// routes load the app.
type Handler struct {
	logger *log.Logger
	root   fs.FS
	index  string
}

func NewHandler(logger *log.Logger, root fs.FS, indexDocument string) *Handler {
	indexDocument = strings.Trim(strings.TrimSpace(indexDocument), "/")
	if indexDocument == "" {
		indexDocument = DefaultIndexDocument
	}
	return &Handler{logger: logger, root: root, index: indexDocument}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name := resolve(r.URL.Path)
	if name == "" {
		h.serveIndex(w, r)
		return
	}

	info, err := fs.Stat(h.root, name)
	switch {
	case err == nil && !info.IsDir():
		h.serveFile(w, r, name, info.ModTime())
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		h.logger.Printf("stat failed path=%s err=%v", name, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	case path.Ext(name) == "":
		h.serveIndex(w, r)
	default:
		http.NotFound(w, r)
	}
}

func resolve(urlPath string) string {
	return strings.TrimPrefix(path.Clean("/"+urlPath), "/")
}

func (h *Handler) serveIndex(w http.ResponseWriter, r *http.Request) {
	info, err := fs.Stat(h.root, h.index)
	if err != nil {
		h.logger.Printf("index document missing path=%s err=%v", h.index, err)
		http.NotFound(w, r)
		return
	}
	h.serveFile(w, r, h.index, info.ModTime())
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, name string, modTime time.Time) {
	data, err := fs.ReadFile(h.root, name)
	if err != nil {
		h.logger.Printf("read failed path=%s err=%v", name, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", ContentTypeFor(name))
	w.Header().Set("Cache-Control", h.cacheControl(name))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, name, modTime, bytes.NewReader(data))
}

func (h *Handler) cacheControl(name string) string {
	switch {
	case name == h.index:
		return cacheNoCache
	case strings.HasPrefix(name, "assets/"):
		return cacheImmutable
	default:
		return cacheDefault
	}
}
