//go:build govips && cgo

package normalize

import (
	"fmt"

	"github.com/davidbyttow/govips/v2/vips"
)

type vipsSurface struct {
	ref *vips.ImageRef
}

func (s vipsSurface) Size() (int, int) {
	return s.ref.Width(), s.ref.Height()
}

func (s vipsSurface) Close() {
	s.ref.Close()
}

// VipsCodec runs every stage in libvips. PNG output is palette-quantized at
// the requested quality, so PNG is lossy here.
type VipsCodec struct{}

func (VipsCodec) Decode(data []byte) (Surface, error) {
	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := ref.AutoRotate(); err != nil {
		ref.Close()
		return nil, fmt.Errorf("%w: auto rotate: %v", ErrDecode, err)
	}
	return vipsSurface{ref: ref}, nil
}

func (VipsCodec) Scale(src Surface, width, height int) (Surface, error) {
	s, ok := src.(vipsSurface)
	if !ok {
		return nil, fmt.Errorf("unexpected surface %T", src)
	}

	ref, err := s.ref.Copy()
	if err != nil {
		return nil, fmt.Errorf("copy surface: %w", err)
	}
	if w, h := s.Size(); w == width && h == height {
		return vipsSurface{ref: ref}, nil
	}
	if err := ref.Thumbnail(width, height, vips.InterestingNone); err != nil {
		ref.Close()
		return nil, fmt.Errorf("resize surface: %w", err)
	}
	return vipsSurface{ref: ref}, nil
}

func (VipsCodec) Encode(src Surface, mimeType string, quality float64) ([]byte, error) {
	s, ok := src.(vipsSurface)
	if !ok {
		return nil, fmt.Errorf("unexpected surface %T", src)
	}

	q := qualityPercent(quality)
	switch CanonicalMIME(mimeType) {
	case "image/jpeg":
		params := vips.NewJpegExportParams()
		params.Quality = q
		params.StripMetadata = true
		data, _, err := s.ref.ExportJpeg(params)
		if err != nil {
			return nil, fmt.Errorf("%w: jpeg: %v", ErrEncode, err)
		}
		return data, nil
	case "image/png":
		params := vips.NewPngExportParams()
		params.Quality = q
		params.Palette = true
		params.StripMetadata = true
		data, _, err := s.ref.ExportPng(params)
		if err != nil {
			return nil, fmt.Errorf("%w: png: %v", ErrEncode, err)
		}
		return data, nil
	case "image/webp":
		params := vips.NewWebpExportParams()
		params.Quality = q
		params.StripMetadata = true
		data, _, err := s.ref.ExportWebp(params)
		if err != nil {
			return nil, fmt.Errorf("%w: webp: %v", ErrEncode, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, mimeType)
	}
}

func (VipsCodec) Lossy(mimeType string) bool {
	switch CanonicalMIME(mimeType) {
	case "image/jpeg", "image/webp", "image/png":
		return true
	default:
		return false
	}
}
