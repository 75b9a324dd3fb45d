package normalize

import (
	"errors"
	"fmt"
)

const (
	DefaultMaxDimensionPx = 1024
	DefaultMaxOutputBytes = 2 << 20
	DefaultInitialQuality = 0.9
	DefaultQualityStep    = 0.1
	DefaultMinQuality     = 0.1
)

// Options bounds the output of a normalization. Qualities are encoder quality
// factors in (0, 1].
type Options struct {
	MaxDimensionPx int
	MaxOutputBytes int64
	InitialQuality float64
	QualityStep    float64
	MinQuality     float64
}

func DefaultOptions() Options {
	return Options{
		MaxDimensionPx: DefaultMaxDimensionPx,
		MaxOutputBytes: DefaultMaxOutputBytes,
		InitialQuality: DefaultInitialQuality,
		QualityStep:    DefaultQualityStep,
		MinQuality:     DefaultMinQuality,
	}
}

func (o Options) Validate() error {
	if o.MaxDimensionPx <= 0 {
		return errors.New("max dimension must be positive")
	}
	if o.MaxOutputBytes <= 0 {
		return errors.New("max output bytes must be positive")
	}
	for _, q := range []struct {
		name  string
		value float64
	}{
		{"initial quality", o.InitialQuality},
		{"quality step", o.QualityStep},
		{"min quality", o.MinQuality},
	} {
		if q.value <= 0 || q.value > 1 {
			return fmt.Errorf("%s must be in (0, 1], got %v", q.name, q.value)
		}
	}
	if o.MinQuality > o.InitialQuality {
		return fmt.Errorf("min quality %v exceeds initial quality %v", o.MinQuality, o.InitialQuality)
	}
	if percent(o.QualityStep) < 1 {
		return fmt.Errorf("quality step %v is below 0.01", o.QualityStep)
	}
	return nil
}
