package normalize

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectMIME returns the declared type when it names an image, otherwise the
// type sniffed from the leading bytes of data.
func DetectMIME(declared string, data []byte) string {
	declared = CanonicalMIME(declared)
	if strings.HasPrefix(declared, "image/") {
		return declared
	}
	return CanonicalMIME(mimetype.Detect(data).String())
}

func Extension(mimeType string) string {
	switch CanonicalMIME(mimeType) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".bin"
	}
}
