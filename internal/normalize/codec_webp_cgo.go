//go:build cgo

package normalize

import (
	"fmt"
	"image"
	"io"

	"github.com/chai2010/webp"
)

func encodeWebP(w io.Writer, img image.Image, quality float64) error {
	if err := webp.Encode(w, img, &webp.Options{Quality: float32(qualityPercent(quality))}); err != nil {
		return fmt.Errorf("%w: webp: %v", ErrEncode, err)
	}
	return nil
}
