package store

import "fmt"

// Element is the set of matrix element types: raw samples and voltages.
type Element interface {
	int16 | float64
}

// Matrix is a dense channel × sample matrix stored row-major, one row per
// channel.
type Matrix[T Element] struct {
	Channels int
	Samples  int
	Data     []T
}

// Samples holds raw ADC values.
type Samples = Matrix[int16]

// Voltages holds calibrated values in volts.
type Voltages = Matrix[float64]

// NewMatrix allocates a zeroed channels × samples matrix.
func NewMatrix[T Element](channels, samples int) *Matrix[T] {
	return &Matrix[T]{
		Channels: channels,
		Samples:  samples,
		Data:     make([]T, channels*samples),
	}
}

// NewSamples allocates a zeroed raw sample matrix.
func NewSamples(channels, samples int) *Samples {
	return NewMatrix[int16](channels, samples)
}

// FromRows builds a matrix from equal-length per-channel rows.
func FromRows[T Element](rows [][]T) (*Matrix[T], error) {
	if len(rows) == 0 {
		return NewMatrix[T](0, 0), nil
	}
	m := NewMatrix[T](len(rows), len(rows[0]))
	for c, row := range rows {
		if len(row) != m.Samples {
			return nil, fmt.Errorf("row %d has %d samples, want %d", c, len(row), m.Samples)
		}
		copy(m.Row(c), row)
	}
	return m, nil
}

// At returns the element at channel c, sample i.
func (m *Matrix[T]) At(c, i int) T {
	return m.Data[c*m.Samples+i]
}

// Set stores v at channel c, sample i.
func (m *Matrix[T]) Set(c, i int, v T) {
	m.Data[c*m.Samples+i] = v
}

// Row returns the samples of channel c. The slice aliases the matrix.
func (m *Matrix[T]) Row(c int) []T {
	return m.Data[c*m.Samples : (c+1)*m.Samples]
}

func (m *Matrix[T]) valid() bool {
	return m.Channels >= 0 && m.Samples >= 0 && len(m.Data) == m.Channels*m.Samples
}
