package normalize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

var (
	ErrDecode            = errors.New("decode image")
	ErrEncode            = errors.New("encode image")
	ErrUnsupportedFormat = errors.New("unsupported image format")
)

type Image struct {
	Name     string
	MIMEType string
	Data     []byte
}

type Result struct {
	Image
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
	Quality      float64
	Passes       int
	WithinBudget bool
}

// Surface is a decoded bitmap owned by a Codec. Close releases it.
type Surface interface {
	Size() (width, height int)
	Close()
}

type Codec interface {
	Decode(data []byte) (Surface, error)
	Scale(src Surface, width, height int) (Surface, error)
	Encode(s Surface, mimeType string, quality float64) ([]byte, error)
	// Lossy reports whether quality affects the encoding of mimeType.
	Lossy(mimeType string) bool
}

type Normalizer struct {
	opts  Options
	codec Codec
}

func New(opts Options, codec Codec) (*Normalizer, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("normalize options: %w", err)
	}
	if codec == nil {
		return nil, errors.New("codec is required")
	}
	return &Normalizer{opts: opts, codec: codec}, nil
}

func NewDefault(opts Options) (*Normalizer, error) {
	codec, err := newCodec()
	if err != nil {
		return nil, fmt.Errorf("build codec: %w", err)
	}
	return New(opts, codec)
}

func (n *Normalizer) Options() Options {
	return n.opts
}

// Normalize bounds the pixel dimensions and the byte size of in. The output
// keeps the name and declared MIME type of the input. When no quality down to
// the floor fits the byte budget, the floor encoding is returned with
// WithinBudget unset.
func (n *Normalizer) Normalize(ctx context.Context, in Image) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	src, err := n.codec.Decode(in.Data)
	if err != nil {
		return Result{}, wrapCodecErr(ErrDecode, err)
	}
	defer src.Close()

	srcW, srcH := src.Size()
	if srcW <= 0 || srcH <= 0 {
		return Result{}, fmt.Errorf("%w: empty bitmap %dx%d", ErrDecode, srcW, srcH)
	}

	width, height := FitWithin(srcW, srcH, n.opts.MaxDimensionPx)
	surface, err := n.codec.Scale(src, width, height)
	if err != nil {
		return Result{}, fmt.Errorf("render %dx%d: %w", width, height, err)
	}
	defer surface.Close()

	mimeType := CanonicalMIME(in.MIMEType)
	lossy := n.codec.Lossy(mimeType)
	quality := percent(n.opts.InitialQuality)
	floor := percent(n.opts.MinQuality)
	step := percent(n.opts.QualityStep)

	var (
		data   []byte
		passes int
	)
	for {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		data, err = n.codec.Encode(surface, mimeType, float64(quality)/100)
		if err != nil {
			return Result{}, wrapCodecErr(ErrEncode, err)
		}
		passes++

		if int64(len(data)) <= n.opts.MaxOutputBytes || quality <= floor || !lossy {
			break
		}
		quality = max(quality-step, floor)
	}

	outW, outH := surface.Size()
	return Result{
		Image: Image{
			Name:     in.Name,
			MIMEType: in.MIMEType,
			Data:     data,
		},
		Width:        outW,
		Height:       outH,
		SourceWidth:  srcW,
		SourceHeight: srcH,
		Quality:      float64(quality) / 100,
		Passes:       passes,
		WithinBudget: int64(len(data)) <= n.opts.MaxOutputBytes,
	}, nil
}

// FitWithin scales width and height down so the longer side equals maxSide,
// preserving the aspect ratio. Sizes already within maxSide are returned
// unchanged.
func FitWithin(width, height, maxSide int) (int, int) {
	if maxSide <= 0 || (width <= maxSide && height <= maxSide) {
		return width, height
	}
	if width > height {
		scaled := int(math.Round(float64(height) * float64(maxSide) / float64(width)))
		return maxSide, max(1, scaled)
	}
	scaled := int(math.Round(float64(width) * float64(maxSide) / float64(height)))
	return max(1, scaled), maxSide
}

func CanonicalMIME(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "image/jpg" || mimeType == "image/pjpeg" {
		return "image/jpeg"
	}
	return mimeType
}

func wrapCodecErr(kind, err error) error {
	if errors.Is(err, ErrDecode) || errors.Is(err, ErrEncode) || errors.Is(err, ErrUnsupportedFormat) {
		return err
	}
	return fmt.Errorf("%w: %v", kind, err)
}

func percent(q float64) int {
	return int(math.Round(q * 100))
}
