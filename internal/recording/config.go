package recording

import (
	"fmt"
	"math"
	"time"
)

const (
	// FileType and FileVersion are stamped into every new recording.
	FileType    int16 = 2
	FileVersion int16 = 1

	// Extension is the file name suffix of a recording container.
	Extension = ".mrec"

	DateFormat = "Mon, Jan 02, 2006"
	TimeFormat = "3:04:05 PM"

	// DefaultRoom is the provenance recorded when no room is configured.
	DefaultRoom = "recorded in d239"
)

// Config fixes the shape and calibration of a new recording. It is passed by
// value and never modified after Create.
type Config struct {
	SampleRate    float64 // Hz
	Channels      uint32
	BlockSize     uint32 // samples per acquisition block and per chunk
	LengthSeconds float64
	ADCRange      float64 // volts, the ADC input spans [-ADCRange, ADCRange]
	Date          string
	Time          string
	Room          string
}

// DefaultConfig returns the standard 64-channel, 10 kHz layout.
func DefaultConfig() Config {
	return Config{
		SampleRate:    10000,
		Channels:      64,
		BlockSize:     20000,
		LengthSeconds: 10,
		ADCRange:      5,
		Room:          DefaultRoom,
	}
}

// NumSamples returns the capacity of the recording, round(length * rate).
func (c Config) NumSamples() uint32 {
	n := math.Round(c.LengthSeconds * c.SampleRate)
	if n <= 0 || n > math.MaxUint32 || math.IsNaN(n) {
		return 0
	}
	return uint32(n)
}

// Gain returns volts per ADC count.
func (c Config) Gain() float64 {
	return 2 * c.ADCRange / 65536
}

// Offset returns the value subtracted after scaling raw counts.
func (c Config) Offset() float64 {
	return c.ADCRange
}

// Validate checks that c describes a recording that can be allocated.
func (c Config) Validate() error {
	switch {
	case !(c.SampleRate > 0) || math.IsInf(c.SampleRate, 0):
		return fmt.Errorf("%w: sample rate %v", ErrConfig, c.SampleRate)
	case c.Channels == 0:
		return fmt.Errorf("%w: zero channels", ErrConfig)
	case c.BlockSize == 0:
		return fmt.Errorf("%w: zero block size", ErrConfig)
	case !(c.LengthSeconds > 0):
		return fmt.Errorf("%w: length %v s", ErrConfig, c.LengthSeconds)
	case !(c.ADCRange > 0) || math.IsInf(c.ADCRange, 0):
		return fmt.Errorf("%w: ADC range %v V", ErrConfig, c.ADCRange)
	case c.NumSamples() == 0:
		return fmt.Errorf("%w: %v s at %v Hz is not a valid sample count", ErrConfig, c.LengthSeconds, c.SampleRate)
	}
	return nil
}

// stamped returns c with an empty Date or Time taken from now.
func (c Config) stamped(now time.Time) Config {
	if c.Date == "" {
		c.Date = now.Format(DateFormat)
	}
	if c.Time == "" {
		c.Time = now.Format(TimeFormat)
	}
	return c
}
