package acquisition

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/mearec/mealog/internal/store"
)

// Stream reads blocks from a byte stream in the acquisition server's wire
// order: channel-major, each channel's samples as little-endian int16.
type Stream struct {
	name string
	rc   io.ReadCloser
	r    *bufio.Reader
	buf  []byte
}

// NewStream wraps rc. Close closes rc.
func NewStream(name string, rc io.ReadCloser) *Stream {
	return &Stream{name: name, rc: rc, r: bufio.NewReaderSize(rc, 1<<20)}
}

func (s *Stream) Name() string { return s.name }

func (s *Stream) Close() error { return s.rc.Close() }

// ReadBlock reads exactly one dst-shaped block. It returns io.EOF at a clean
// end of stream and io.ErrUnexpectedEOF if the stream ends mid-block.
// A blocked read is not interrupted by ctx.
func (s *Stream) ReadBlock(ctx context.Context, dst *store.Samples) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := len(dst.Data) * 2
	if cap(s.buf) < n {
		s.buf = make([]byte, n)
	}
	buf := s.buf[:n]
	if _, err := io.ReadFull(s.r, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("read block from %s: %w", s.name, err)
	}
	for i := range dst.Data {
		dst.Data[i] = int16(binary.LittleEndian.Uint16(buf[2*i:]))
	}
	return nil
}

// WriteBlock encodes m in the order Stream reads it.
func WriteBlock(w io.Writer, m *store.Samples) error {
	buf := make([]byte, 2*len(m.Data))
	for i, v := range m.Data {
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(v))
	}
	_, err := w.Write(buf)
	return err
}
