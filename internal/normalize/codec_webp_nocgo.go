//go:build !cgo

package normalize

import (
	"fmt"
	"image"
	"io"
)

func encodeWebP(io.Writer, image.Image, float64) error {
	return fmt.Errorf("%w: image/webp encoding requires cgo", ErrUnsupportedFormat)
}
