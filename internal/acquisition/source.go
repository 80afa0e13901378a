package acquisition

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mearec/mealog/internal/store"
)

// SourceType names a block source
type SourceType string

const (
	SourceTypeSynthetic SourceType = "synthetic"
	SourceTypeStream    SourceType = "stream"
)

// Source delivers acquisition blocks in order. ReadBlock fills every sample
// of dst; dst.Samples may be smaller than the block size for the last block
// of a recording. A source with no more data returns io.EOF.
type Source interface {
	ReadBlock(ctx context.Context, dst *store.Samples) error
	Name() string
	Close() error
}

// SourceOptions selects and configures a source.
type SourceOptions struct {
	Type       string
	Input      string // stream input file, "-" or empty for stdin
	SampleRate float64
	ADCRange   float64
	Realtime   bool
	Seed       int64
}

// NewSource creates the source named by opts.Type.
func NewSource(opts SourceOptions) (Source, error) {
	switch determineSource(opts.Type) {
	case SourceTypeStream:
		if opts.Input == "" || opts.Input == "-" {
			return NewStream("stdin", io.NopCloser(os.Stdin)), nil
		}
		f, err := os.Open(opts.Input)
		if err != nil {
			return nil, fmt.Errorf("failed to open stream input: %w", err)
		}
		return NewStream(opts.Input, f), nil
	case SourceTypeSynthetic:
		return NewSynthetic(SyntheticOptions{
			SampleRate: opts.SampleRate,
			Amplitude:  0.5,
			Realtime:   opts.Realtime,
			Seed:       opts.Seed,
		}), nil
	default:
		return nil, fmt.Errorf("unknown acquisition source %q", opts.Type)
	}
}

func determineSource(name string) SourceType {
	switch strings.ToLower(name) {
	case "", "synthetic", "auto":
		return SourceTypeSynthetic
	case "stream":
		return SourceTypeStream
	}
	return SourceType(name)
}

// AvailableSources lists the source types NewSource understands
func AvailableSources() []SourceType {
	return []SourceType{SourceTypeSynthetic, SourceTypeStream}
}
