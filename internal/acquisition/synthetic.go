package acquisition

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/mearec/mealog/internal/store"
)

// SyntheticOptions configures the test signal.
type SyntheticOptions struct {
	SampleRate float64
	// Amplitude is the sine amplitude as a fraction of full scale.
	Amplitude float64
	// Realtime paces ReadBlock to the sample rate.
	Realtime bool
	Seed     int64
}

// Synthetic produces a deterministic multi-channel test signal: one sine per
// channel at 10 Hz × (channel+1) plus seeded noise.
type Synthetic struct {
	opts   SyntheticOptions
	rng    *rand.Rand
	sample uint64
	next   time.Time
}

// NewSynthetic creates a synthetic source.
func NewSynthetic(opts SyntheticOptions) *Synthetic {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 10000
	}
	return &Synthetic{
		opts: opts,
		rng:  rand.New(rand.NewSource(opts.Seed)),
	}
}

func (s *Synthetic) Name() string { return string(SourceTypeSynthetic) }

func (s *Synthetic) Close() error { return nil }

// ReadBlock fills dst with the next dst.Samples samples of every channel.
func (s *Synthetic) ReadBlock(ctx context.Context, dst *store.Samples) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.opts.Realtime {
		if err := s.pace(ctx, dst.Samples); err != nil {
			return err
		}
	}
	amp := s.opts.Amplitude * math.MaxInt16
	for c := 0; c < dst.Channels; c++ {
		freq := 10 * float64(c+1)
		row := dst.Row(c)
		for i := range row {
			t := float64(s.sample+uint64(i)) / s.opts.SampleRate
			v := amp*math.Sin(2*math.Pi*freq*t) + s.rng.NormFloat64()*64
			row[i] = clampInt16(v)
		}
	}
	s.sample += uint64(dst.Samples)
	return nil
}

// pace blocks until the wall clock has caught up with the block about to be
// delivered.
func (s *Synthetic) pace(ctx context.Context, width int) error {
	now := time.Now()
	if s.next.IsZero() {
		s.next = now
	}
	s.next = s.next.Add(time.Duration(float64(width) / s.opts.SampleRate * float64(time.Second)))
	wait := s.next.Sub(now)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func clampInt16(v float64) int16 {
	switch {
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	}
	return int16(math.Round(v))
}
