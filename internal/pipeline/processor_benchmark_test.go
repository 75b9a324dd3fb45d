package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/dunamismax/promptpeek/internal/normalize"
)

func BenchmarkProcessorDownscalePNG(b *testing.B) {
	benchmarkProcessor(b, buildTestPNG(b, 1920, 1080), "image/png")
}

func BenchmarkProcessorSmallPNG(b *testing.B) {
	benchmarkProcessor(b, buildTestPNG(b, 640, 480), "image/png")
}

func benchmarkProcessor(b *testing.B, source []byte, mimeType string) {
	processor, err := NewProcessor(staticFetcher{data: source}, newTestNormalizer(b), discardEmitter{})
	if err != nil {
		b.Fatalf("new processor: %v", err)
	}

	req := Request{
		ArtworkID:  "bench",
		UserID:     "bench-user",
		SourceType: SourceTypeLocalFile,
		SourceKey:  "ignored.png",
		MIMEType:   mimeType,
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req.ArtworkID = fmt.Sprintf("bench-%d", i)
		if _, err := processor.Process(context.Background(), req); err != nil {
			b.Fatalf("process: %v", err)
		}
	}
}

type staticFetcher struct {
	data []byte
}

func (f staticFetcher) Fetch(_ context.Context, _ Request) ([]byte, error) {
	return f.data, nil
}

type discardEmitter struct{}

func (discardEmitter) Emit(_ context.Context, _ Request, res normalize.Result) (Output, error) {
	return outputFor("", res), nil
}
