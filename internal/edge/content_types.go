package edge

import (
	"path"
	"strings"
)

const defaultContentType = "application/octet-stream"

var ContentTypes = map[string]string{
	".html":        "text/html; charset=utf-8",
	".js":          "application/javascript; charset=utf-8",
	".mjs":         "application/javascript; charset=utf-8",
	".css":         "text/css; charset=utf-8",
	".json":        "application/json; charset=utf-8",
	".map":         "application/json; charset=utf-8",
	".webmanifest": "application/manifest+json; charset=utf-8",
	".svg":         "image/svg+xml",
	".png":         "image/png",
	".jpg":         "image/jpeg",
	".jpeg":        "image/jpeg",
	".webp":        "image/webp",
	".gif":         "image/gif",
	".ico":         "image/x-icon",
	".txt":         "text/plain; charset=utf-8",
	".xml":         "application/xml; charset=utf-8",
	".woff":        "font/woff",
	".woff2":       "font/woff2",
}

func ContentTypeFor(p string) string {
	base := strings.ToLower(path.Base(p))
	if base == "manifest.json" {
		return ContentTypes[".webmanifest"]
	}
	if ct, ok := ContentTypes[path.Ext(base)]; ok {
		return ct
	}
	return defaultContentType
}
