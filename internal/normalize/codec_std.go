package normalize

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

type bitmap struct {
	img image.Image
}

func (b bitmap) Size() (int, int) {
	bounds := b.img.Bounds()
	return bounds.Dx(), bounds.Dy()
}

func (bitmap) Close() {}

type StdCodec struct{}

func (StdCodec) Decode(data []byte) (Surface, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return bitmap{img: img}, nil
}

func (StdCodec) Scale(src Surface, width, height int) (Surface, error) {
	b, ok := src.(bitmap)
	if !ok {
		return nil, fmt.Errorf("unexpected surface %T", src)
	}
	if w, h := b.Size(); w == width && h == height {
		return bitmap{img: imaging.Clone(b.img)}, nil
	}
	return bitmap{img: imaging.Resize(b.img, width, height, imaging.Lanczos)}, nil
}

func (StdCodec) Encode(s Surface, mimeType string, quality float64) ([]byte, error) {
	b, ok := s.(bitmap)
	if !ok {
		return nil, fmt.Errorf("unexpected surface %T", s)
	}

	var buf bytes.Buffer
	switch CanonicalMIME(mimeType) {
	case "image/jpeg":
		if err := imaging.Encode(&buf, b.img, imaging.JPEG, imaging.JPEGQuality(qualityPercent(quality))); err != nil {
			return nil, fmt.Errorf("%w: jpeg: %v", ErrEncode, err)
		}
	case "image/png":
		if err := imaging.Encode(&buf, b.img, imaging.PNG, imaging.PNGCompressionLevel(png.DefaultCompression)); err != nil {
			return nil, fmt.Errorf("%w: png: %v", ErrEncode, err)
		}
	case "image/webp":
		if err := encodeWebP(&buf, b.img, quality); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, mimeType)
	}
	return buf.Bytes(), nil
}

func (StdCodec) Lossy(mimeType string) bool {
	switch CanonicalMIME(mimeType) {
	case "image/jpeg", "image/webp":
		return true
	default:
		return false
	}
}

func qualityPercent(quality float64) int {
	return min(100, max(1, percent(quality)))
}
