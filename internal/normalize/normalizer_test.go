package normalize

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"math/rand"
	"testing"
)

func TestFitWithin(t *testing.T) {
	tests := []struct {
		w, h, max int
		wantW     int
		wantH     int
	}{
		{4000, 2000, 1024, 1024, 512},
		{2000, 4000, 1024, 512, 1024},
		{3000, 3000, 1024, 1024, 1024},
		{500, 500, 1024, 500, 500},
		{1024, 1024, 1024, 1024, 1024},
		{10, 5, 1024, 10, 5},
		{1025, 1, 1024, 1024, 1},
		{3, 5000, 1024, 1, 1024},
		{1920, 1080, 1024, 1024, 576},
	}

	for _, tc := range tests {
		gotW, gotH := FitWithin(tc.w, tc.h, tc.max)
		if gotW != tc.wantW || gotH != tc.wantH {
			t.Fatalf("FitWithin(%d, %d, %d) = %dx%d, want %dx%d", tc.w, tc.h, tc.max, gotW, gotH, tc.wantW, tc.wantH)
		}
	}
}

func TestNormalizeLargeJPEGIsBoundedAndKeepsAspect(t *testing.T) {
	if testing.Short() {
		t.Skip("large image encode")
	}

	src := encodeJPEG(t, noisyImage(4000, 2000), 100)
	n := newStdNormalizer(t, DefaultOptions())

	res, err := n.Normalize(context.Background(), Image{Name: "wide.jpg", MIMEType: "image/jpeg", Data: src})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if res.Width != 1024 || res.Height != 512 {
		t.Fatalf("expected 1024x512, got %dx%d", res.Width, res.Height)
	}
	if res.MIMEType != "image/jpeg" || res.Name != "wide.jpg" {
		t.Fatalf("expected name and type preserved, got %q %q", res.Name, res.MIMEType)
	}
	if len(res.Data) > DefaultMaxOutputBytes {
		t.Fatalf("expected output <= %d bytes, got %d", DefaultMaxOutputBytes, len(res.Data))
	}
	if !res.WithinBudget {
		t.Fatal("expected result within budget")
	}
	assertDecodedSize(t, res.Data, 1024, 512)
}

func TestNormalizeSmallPNGUnchangedDimensions(t *testing.T) {
	src := encodePNG(t, gradientImage(500, 500))
	n := newStdNormalizer(t, DefaultOptions())

	res, err := n.Normalize(context.Background(), Image{Name: "square.png", MIMEType: "image/png", Data: src})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	if res.Width != 500 || res.Height != 500 {
		t.Fatalf("expected 500x500, got %dx%d", res.Width, res.Height)
	}
	if res.MIMEType != "image/png" {
		t.Fatalf("expected image/png, got %s", res.MIMEType)
	}
	if res.Passes != 1 {
		t.Fatalf("expected a single encode pass, got %d", res.Passes)
	}
	if res.Quality != DefaultInitialQuality {
		t.Fatalf("expected initial quality, got %v", res.Quality)
	}
	assertDecodedSize(t, res.Data, 500, 500)

	format := sniffFormat(t, res.Data)
	if format != "png" {
		t.Fatalf("expected png encoding, got %s", format)
	}
}

func TestNormalizeNeverUpscales(t *testing.T) {
	src := encodeJPEG(t, gradientImage(10, 5), 90)
	n := newStdNormalizer(t, DefaultOptions())

	res, err := n.Normalize(context.Background(), Image{Name: "tiny.jpg", MIMEType: "image/jpg", Data: src})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Width != 10 || res.Height != 5 {
		t.Fatalf("expected 10x5, got %dx%d", res.Width, res.Height)
	}
	if res.MIMEType != "image/jpg" {
		t.Fatalf("expected declared type to be kept, got %s", res.MIMEType)
	}
}

func TestNormalizeLowersQualityToMeetBudget(t *testing.T) {
	img := noisyImage(400, 300)
	src := encodeJPEG(t, img, 100)

	codec := StdCodec{}
	surface, err := codec.Decode(src)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	atHalf, err := codec.Encode(surface, "image/jpeg", 0.5)
	if err != nil {
		t.Fatalf("encode at 0.5: %v", err)
	}
	atInitial, err := codec.Encode(surface, "image/jpeg", 0.9)
	if err != nil {
		t.Fatalf("encode at 0.9: %v", err)
	}
	if len(atHalf) >= len(atInitial) {
		t.Fatalf("expected quality 0.5 to be smaller than 0.9 (%d >= %d)", len(atHalf), len(atInitial))
	}

	opts := DefaultOptions()
	opts.MaxOutputBytes = int64(len(atHalf))
	n := newStdNormalizer(t, opts)

	res, err := n.Normalize(context.Background(), Image{Name: "noise.jpg", MIMEType: "image/jpeg", Data: src})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if int64(len(res.Data)) > opts.MaxOutputBytes {
		t.Fatalf("expected output <= %d bytes, got %d", opts.MaxOutputBytes, len(res.Data))
	}
	if res.Passes < 2 {
		t.Fatalf("expected several passes, got %d", res.Passes)
	}
	if res.Quality >= opts.InitialQuality {
		t.Fatalf("expected quality below %v, got %v", opts.InitialQuality, res.Quality)
	}
	if !res.WithinBudget {
		t.Fatal("expected result within budget")
	}
}

func TestNormalizeStopsAtQualityFloor(t *testing.T) {
	codec := &fakeCodec{width: 3000, height: 3000, encodedSize: DefaultMaxOutputBytes + 1, lossy: true}
	n, err := New(DefaultOptions(), codec)
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}

	res, err := n.Normalize(context.Background(), Image{Name: "huge.webp", MIMEType: "image/webp", Data: []byte("webp")})
	if err != nil {
		t.Fatalf("expected oversized result to be accepted, got %v", err)
	}

	if res.Width != 1024 || res.Height != 1024 {
		t.Fatalf("expected 1024x1024, got %dx%d", res.Width, res.Height)
	}
	if res.MIMEType != "image/webp" {
		t.Fatalf("expected image/webp, got %s", res.MIMEType)
	}
	if res.WithinBudget {
		t.Fatal("expected result over budget")
	}
	if res.Quality != 0.1 {
		t.Fatalf("expected floor quality 0.1, got %v", res.Quality)
	}

	want := []float64{0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3, 0.2, 0.1}
	if len(codec.qualities) != len(want) {
		t.Fatalf("expected %d passes, got %v", len(want), codec.qualities)
	}
	for i, q := range want {
		if math.Abs(codec.qualities[i]-q) > 1e-9 {
			t.Fatalf("pass %d: expected quality %v, got %v", i, q, codec.qualities[i])
		}
	}
	if res.Passes != len(want) {
		t.Fatalf("expected passes=%d, got %d", len(want), res.Passes)
	}
	if codec.open != 0 {
		t.Fatalf("expected all surfaces released, %d still open", codec.open)
	}
}

func TestNormalizeClampsLastStepToFloor(t *testing.T) {
	opts := DefaultOptions()
	opts.InitialQuality = 0.85
	opts.QualityStep = 0.3
	opts.MinQuality = 0.2

	codec := &fakeCodec{width: 100, height: 100, encodedSize: int(opts.MaxOutputBytes) + 1, lossy: true}
	n, err := New(opts, codec)
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}

	res, err := n.Normalize(context.Background(), Image{MIMEType: "image/jpeg", Data: []byte("x")})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	want := []float64{0.85, 0.55, 0.25, 0.2}
	if len(codec.qualities) != len(want) {
		t.Fatalf("expected qualities %v, got %v", want, codec.qualities)
	}
	for i, q := range want {
		if math.Abs(codec.qualities[i]-q) > 1e-9 {
			t.Fatalf("pass %d: expected quality %v, got %v", i, q, codec.qualities[i])
		}
	}
	if res.Quality != 0.2 {
		t.Fatalf("expected final quality 0.2, got %v", res.Quality)
	}
}

func TestNormalizeLosslessFormatSinglePass(t *testing.T) {
	codec := &fakeCodec{width: 100, height: 100, encodedSize: DefaultMaxOutputBytes * 2, lossy: false}
	n, err := New(DefaultOptions(), codec)
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}

	res, err := n.Normalize(context.Background(), Image{MIMEType: "image/png", Data: []byte("x")})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if res.Passes != 1 || res.WithinBudget {
		t.Fatalf("expected one over-budget pass, got passes=%d within=%v", res.Passes, res.WithinBudget)
	}
}

func TestNormalizeDecodeError(t *testing.T) {
	n := newStdNormalizer(t, DefaultOptions())

	_, err := n.Normalize(context.Background(), Image{Name: "notes.txt", MIMEType: "image/png", Data: []byte("definitely not an image")})
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
}

func TestNormalizeUnsupportedFormat(t *testing.T) {
	var buf bytes.Buffer
	if err := gif.Encode(&buf, gradientImage(32, 32), nil); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	n := newStdNormalizer(t, DefaultOptions())

	_, err := n.Normalize(context.Background(), Image{Name: "anim.gif", MIMEType: "image/gif", Data: buf.Bytes()})
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestNormalizeEncodeErrorPropagates(t *testing.T) {
	codec := &fakeCodec{width: 10, height: 10, encodeErr: errors.New("encoder crashed"), lossy: true}
	n, err := New(DefaultOptions(), codec)
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}

	_, err = n.Normalize(context.Background(), Image{MIMEType: "image/jpeg", Data: []byte("x")})
	if !errors.Is(err, ErrEncode) {
		t.Fatalf("expected ErrEncode, got %v", err)
	}
	if len(codec.qualities) != 1 {
		t.Fatalf("expected no retry after encode failure, got %d attempts", len(codec.qualities))
	}
}

func TestNormalizeHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	n := newStdNormalizer(t, DefaultOptions())
	_, err := n.Normalize(ctx, Image{MIMEType: "image/png", Data: encodePNG(t, gradientImage(8, 8))})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNormalizeOwnOutputKeepsDimensions(t *testing.T) {
	src := encodeJPEG(t, gradientImage(1600, 1200), 95)
	n := newStdNormalizer(t, DefaultOptions())

	first, err := n.Normalize(context.Background(), Image{MIMEType: "image/jpeg", Data: src})
	if err != nil {
		t.Fatalf("first normalize: %v", err)
	}
	second, err := n.Normalize(context.Background(), first.Image)
	if err != nil {
		t.Fatalf("second normalize: %v", err)
	}

	if second.Width != first.Width || second.Height != first.Height {
		t.Fatalf("expected %dx%d to be stable, got %dx%d", first.Width, first.Height, second.Width, second.Height)
	}
	if first.Width != 1024 || first.Height != 768 {
		t.Fatalf("expected 1024x768, got %dx%d", first.Width, first.Height)
	}
}

func TestOptionsValidate(t *testing.T) {
	if err := DefaultOptions().Validate(); err != nil {
		t.Fatalf("expected defaults to be valid, got %v", err)
	}

	invalid := []Options{
		{MaxDimensionPx: 0, MaxOutputBytes: 1, InitialQuality: 0.9, QualityStep: 0.1, MinQuality: 0.1},
		{MaxDimensionPx: 1, MaxOutputBytes: 0, InitialQuality: 0.9, QualityStep: 0.1, MinQuality: 0.1},
		{MaxDimensionPx: 1, MaxOutputBytes: 1, InitialQuality: 1.5, QualityStep: 0.1, MinQuality: 0.1},
		{MaxDimensionPx: 1, MaxOutputBytes: 1, InitialQuality: 0.9, QualityStep: 0, MinQuality: 0.1},
		{MaxDimensionPx: 1, MaxOutputBytes: 1, InitialQuality: 0.3, QualityStep: 0.1, MinQuality: 0.5},
		{MaxDimensionPx: 1, MaxOutputBytes: 1, InitialQuality: 0.9, QualityStep: 0.001, MinQuality: 0.1},
	}
	for i, opts := range invalid {
		if err := opts.Validate(); err == nil {
			t.Fatalf("case %d: expected validation error for %+v", i, opts)
		}
	}
}

func TestDetectMIME(t *testing.T) {
	pngData := encodePNG(t, gradientImage(4, 4))
	jpegData := encodeJPEG(t, gradientImage(4, 4), 80)

	if got := DetectMIME("", pngData); got != "image/png" {
		t.Fatalf("expected image/png, got %s", got)
	}
	if got := DetectMIME("application/octet-stream", jpegData); got != "image/jpeg" {
		t.Fatalf("expected image/jpeg, got %s", got)
	}
	if got := DetectMIME("image/JPG", pngData); got != "image/jpeg" {
		t.Fatalf("expected declared image type to win, got %s", got)
	}
}

type fakeSurface struct {
	codec  *fakeCodec
	width  int
	height int
}

func (s *fakeSurface) Size() (int, int) { return s.width, s.height }

func (s *fakeSurface) Close() { s.codec.open-- }

type fakeCodec struct {
	width       int
	height      int
	encodedSize int
	encodeErr   error
	lossy       bool

	qualities []float64
	open      int
}

func (c *fakeCodec) Decode([]byte) (Surface, error) {
	c.open++
	return &fakeSurface{codec: c, width: c.width, height: c.height}, nil
}

func (c *fakeCodec) Scale(_ Surface, width, height int) (Surface, error) {
	c.open++
	return &fakeSurface{codec: c, width: width, height: height}, nil
}

func (c *fakeCodec) Encode(_ Surface, _ string, quality float64) ([]byte, error) {
	c.qualities = append(c.qualities, quality)
	if c.encodeErr != nil {
		return nil, c.encodeErr
	}
	return make([]byte, c.encodedSize), nil
}

func (c *fakeCodec) Lossy(string) bool { return c.lossy }

func newStdNormalizer(t *testing.T, opts Options) *Normalizer {
	t.Helper()

	n, err := New(opts, StdCodec{})
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}
	return n
}

func gradientImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / max(1, w)),
				G: uint8((y * 255) / max(1, h)),
				B: 140,
				A: 255,
			})
		}
	}
	return img
}

func noisyImage(w, h int) *image.RGBA {
	rng := rand.New(rand.NewSource(7))
	img := gradientImage(w, h)
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] ^= uint8(rng.Intn(256))
		img.Pix[i+1] ^= uint8(rng.Intn(256))
		img.Pix[i+2] ^= uint8(rng.Intn(256))
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image, quality int) []byte {
	t.Helper()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func assertDecodedSize(t *testing.T, data []byte, wantW, wantH int) {
	t.Helper()

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output config: %v", err)
	}
	if cfg.Width != wantW || cfg.Height != wantH {
		t.Fatalf("expected decoded %dx%d, got %dx%d", wantW, wantH, cfg.Width, cfg.Height)
	}
}

func sniffFormat(t *testing.T, data []byte) string {
	t.Helper()

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode output config: %v", err)
	}
	return format
}
