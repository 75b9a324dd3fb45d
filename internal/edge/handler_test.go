package edge

import (
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/fstest"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"index.html":           {Data: []byte("<!doctype html><div id=app></div>")},
		"assets/app.3f9a1c.js": {Data: []byte("console.log('app')")},
		"assets/app.3f9a1c.css": {
			Data: []byte("body{margin:0}"),
		},
		"favicon.ico":   {Data: []byte{0, 0, 1, 0}},
		"manifest.json": {Data: []byte(`{"name":"Prompt Peek"}`)},
		"robots.txt":    {Data: []byte("User-agent: *")},
	}
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHandlerServesFiles(t *testing.T) {
	h := NewHandler(log.New(io.Discard, "", 0), testFS(), "")

	cases := []struct {
		target       string
		status       int
		contentType  string
		cacheControl string
		bodyPrefix   string
	}{
		{"/", http.StatusOK, "text/html; charset=utf-8", cacheNoCache, "<!doctype html>"},
		{"/index.html", http.StatusOK, "text/html; charset=utf-8", cacheNoCache, "<!doctype html>"},
		{"/assets/app.3f9a1c.js", http.StatusOK, "application/javascript; charset=utf-8", cacheImmutable, "console.log"},
		{"/assets/app.3f9a1c.css", http.StatusOK, "text/css; charset=utf-8", cacheImmutable, "body{"},
		{"/favicon.ico", http.StatusOK, "image/x-icon", cacheDefault, ""},
		{"/manifest.json", http.StatusOK, "application/manifest+json; charset=utf-8", cacheDefault, "{"},
		{"/robots.txt", http.StatusOK, "text/plain; charset=utf-8", cacheDefault, "User-agent"},
	}
	for _, tc := range cases {
		rec := serve(t, h, http.MethodGet, tc.target)
		if rec.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.target, tc.status, rec.Code)
		}
		if got := rec.Header().Get("Content-Type"); got != tc.contentType {
			t.Fatalf("%s: expected content type %q, got %q", tc.target, tc.contentType, got)
		}
		if got := rec.Header().Get("Cache-Control"); got != tc.cacheControl {
			t.Fatalf("%s: expected cache control %q, got %q", tc.target, tc.cacheControl, got)
		}
		if !strings.HasPrefix(rec.Body.String(), tc.bodyPrefix) {
			t.Fatalf("%s: unexpected body %q", tc.target, rec.Body.String())
		}
	}
}

func TestHandlerFallsBackToIndexForRoutes(t *testing.T) {
	h := NewHandler(log.New(io.Discard, "", 0), testFS(), "index.html")

	for _, target := range []string{"/gallery", "/artworks/abc-123", "/users/u1/favorites", "/assets", "/../../etc/passwd"} {
		rec := serve(t, h, http.MethodGet, target)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", target, rec.Code)
		}
		if !strings.HasPrefix(rec.Body.String(), "<!doctype html>") {
			t.Fatalf("%s: expected index document, got %q", target, rec.Body.String())
		}
		if rec.Header().Get("Cache-Control") != cacheNoCache {
			t.Fatalf("%s: expected no-cache, got %q", target, rec.Header().Get("Cache-Control"))
		}
	}
}

func TestHandlerMissingFileWithExtensionIs404(t *testing.T) {
	h := NewHandler(log.New(io.Discard, "", 0), testFS(), "")

	for _, target := range []string{"/assets/missing.js", "/logo.png", "/src/main.tsx"} {
		if rec := serve(t, h, http.MethodGet, target); rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", target, rec.Code)
		}
	}
}

func TestHandlerMethods(t *testing.T) {
	h := NewHandler(log.New(io.Discard, "", 0), testFS(), "")

	rec := serve(t, h, http.MethodPost, "/")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if rec.Header().Get("Allow") != "GET, HEAD" {
		t.Fatalf("unexpected Allow header %q", rec.Header().Get("Allow"))
	}

	rec = serve(t, h, http.MethodHead, "/assets/app.3f9a1c.js")
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("expected empty 200 for HEAD, got %d with %d bytes", rec.Code, rec.Body.Len())
	}
	if rec.Header().Get("Content-Type") != "application/javascript; charset=utf-8" {
		t.Fatalf("unexpected HEAD content type %q", rec.Header().Get("Content-Type"))
	}
}

func TestHandlerMissingIndex(t *testing.T) {
	fsys := testFS()
	delete(fsys, "index.html")
	h := NewHandler(log.New(io.Discard, "", 0), fsys, "")

	if rec := serve(t, h, http.MethodGet, "/gallery"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without index document, got %d", rec.Code)
	}
}

func TestContentTypeFor(t *testing.T) {
	cases := map[string]string{
		"/assets/index.MJS":        "application/javascript; charset=utf-8",
		"/assets/index.js.map":     "application/json; charset=utf-8",
		"/site.webmanifest":        "application/manifest+json; charset=utf-8",
		"/fonts/inter.woff2":       "font/woff2",
		"/images/hero.webp":        "image/webp",
		"/images/logo.svg":         "image/svg+xml",
		"/sitemap.xml":             "application/xml; charset=utf-8",
		"/src/main.ts":             defaultContentType,
		"/src/App.tsx":             defaultContentType,
		"/download/archive.tar":    defaultContentType,
		"/no-extension-whatsoever": defaultContentType,
	}
	for p, want := range cases {
		if got := ContentTypeFor(p); got != want {
			t.Fatalf("ContentTypeFor(%q) = %q, want %q", p, got, want)
		}
	}
}

func TestServerRecordsMetrics(t *testing.T) {
	srv := NewServer(log.New(io.Discard, "", 0), testFS(), "")
	h := srv.Handler()

	serve(t, h, http.MethodGet, "/assets/app.3f9a1c.js")
	serve(t, h, http.MethodGet, "/gallery")
	serve(t, h, http.MethodGet, "/missing.png")

	body := serve(t, srv.MetricsHandler(), http.MethodGet, "/metrics").Body.String()
	for _, want := range []string{
		`promptpeek_edge_requests_total{method="GET",route="/assets/*",status="200"} 1`,
		`promptpeek_edge_requests_total{method="GET",route="/{route}",status="200"} 1`,
		`promptpeek_edge_requests_total{method="GET",route="/{file}",status="404"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected metrics to contain %s", want)
		}
	}
}
