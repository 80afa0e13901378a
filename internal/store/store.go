// Package store implements the chunked on-disk sample matrix of a recording.
//
// A store holds one Channels × Samples matrix of int16 values, chunked
// Channels × BlockSize along the sample axis. The dataset is sized up front;
// appending during acquisition never grows the file, and a write of one
// aligned block is exactly one chunk write. The store knows nothing about
// which samples are valid: it only guards against the allocated bounds.
package store

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mearec/mealog/internal/attr"
)

var (
	ErrFormat     = errors.New("invalid container format")
	ErrGeometry   = errors.New("invalid dataset geometry")
	ErrAllocation = errors.New("cannot allocate dataset")
	ErrRange      = errors.New("sample range out of bounds")
	ErrIO         = errors.New("storage i/o failure")
	ErrReadOnly   = errors.New("store opened read-only")
	ErrLocked     = errors.New("recording is locked by another writer")
)

// Store is an open container file.
type Store struct {
	mu       sync.RWMutex
	f        *os.File
	path     string
	readOnly bool
	geom     Geometry
	attrs    *attr.Codec
	unlock   func() error
	closed   bool
}

// Create allocates a new container at path for the given geometry. It fails
// if path already exists. The full data region is reserved before Create
// returns.
func Create(path string, g Geometry) (s *Store, err error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	size := g.FileSize()
	if err := checkFreeSpace(path, size); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(path)
		}
	}()

	unlock, err := lockExclusive(f)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			unlock()
		}
	}()

	if err := f.Truncate(size); err != nil {
		return nil, fmt.Errorf("%w: size %s to %d bytes: %w", ErrAllocation, path, size, err)
	}
	if err := preallocate(f, size); err != nil {
		return nil, err
	}

	if _, err := f.WriteAt(newSuperblock(g).marshal(), 0); err != nil {
		return nil, fmt.Errorf("%w: write superblock: %w", ErrIO, err)
	}
	codec, err := attr.Format(f, fileRegion, datasetRegion, attr.Options{Sync: true})
	if err != nil {
		return nil, err
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("%w: sync %s: %w", ErrIO, path, err)
	}

	return &Store{
		f:      f,
		path:   path,
		geom:   g,
		attrs:  codec,
		unlock: unlock,
	}, nil
}

// Open opens an existing container. A read-write open takes an exclusive
// lock on the file; readers take none.
func Open(path string, readOnly bool) (s *Store, err error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			f.Close()
		}
	}()

	unlock := func() error { return nil }
	if !readOnly {
		if unlock, err = lockExclusive(f); err != nil {
			return nil, err
		}
		defer func() {
			if err != nil {
				unlock()
			}
		}()
	}

	g, err := readGeometry(f)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	codec, err := attr.Open(f, fileRegion, datasetRegion, attr.Options{ReadOnly: readOnly, Sync: true})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", path, ErrFormat, err)
	}

	return &Store{
		f:        f,
		path:     path,
		readOnly: readOnly,
		geom:     g,
		attrs:    codec,
		unlock:   unlock,
	}, nil
}

func readGeometry(f *os.File) (Geometry, error) {
	buf := make([]byte, superblockLen)
	if _, err := f.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return Geometry{}, fmt.Errorf("%w: file too short", ErrFormat)
		}
		return Geometry{}, fmt.Errorf("%w: read superblock: %w", ErrIO, err)
	}
	sb, err := unmarshalSuperblock(buf)
	if err != nil {
		return Geometry{}, err
	}
	g, err := sb.geometry()
	if err != nil {
		return Geometry{}, err
	}
	fi, err := f.Stat()
	if err != nil {
		return Geometry{}, fmt.Errorf("%w: stat: %w", ErrIO, err)
	}
	if fi.Size() < g.FileSize() {
		return Geometry{}, fmt.Errorf("%w: data region truncated: %d bytes, want %d", ErrFormat, fi.Size(), g.FileSize())
	}
	return g, nil
}

// Path returns the container file name.
func (s *Store) Path() string {
	return s.path
}

// ReadOnly reports whether the store rejects writes.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// Geometry returns the current dataset geometry.
func (s *Store) Geometry() Geometry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.geom
}

// Attributes returns the container's attribute codec.
func (s *Store) Attributes() *attr.Codec {
	return s.attrs
}

func (s *Store) checkRange(start, end uint32) error {
	if s.closed {
		return fmt.Errorf("%w: %s", os.ErrClosed, s.path)
	}
	if start >= end || end > s.geom.Samples {
		return fmt.Errorf("%w: [%d, %d) with %d samples allocated", ErrRange, start, end, s.geom.Samples)
	}
	return nil
}

// span is the part of a sample range that falls in one chunk.
type span struct {
	chunk int64
	first uint32 // offset inside the chunk
	count uint32
	col   uint32 // column in the caller's matrix
}

func (s *Store) spans(start, end uint32) []span {
	bs := s.geom.BlockSize
	var out []span
	for pos := start; pos < end; {
		k := pos / bs
		first := pos - k*bs
		count := min(bs-first, end-pos)
		out = append(out, span{chunk: int64(k), first: first, count: count, col: pos - start})
		pos += count
	}
	return out
}

// WriteRange writes m into samples [start, end) of every channel. m must have
// exactly Channels rows of end-start samples. A failed write is not retried.
func (s *Store) WriteRange(start, end uint32, m *Samples) error {
	if s.readOnly {
		return ErrReadOnly
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkRange(start, end); err != nil {
		return err
	}
	if m == nil || !m.valid() || m.Channels != int(s.geom.Channels) || m.Samples != int(end-start) {
		return fmt.Errorf("%w: block shape does not match %d channels × %d samples", ErrRange, s.geom.Channels, end-start)
	}

	g := s.geom
	for _, sp := range s.spans(start, end) {
		base := g.chunkOffset(sp.chunk)
		if sp.count == g.BlockSize {
			buf := make([]byte, g.ChunkBytes())
			for c := 0; c < m.Channels; c++ {
				row := m.Row(c)[sp.col : sp.col+sp.count]
				encode(buf[int64(c)*int64(g.BlockSize)*elementSize:], row)
			}
			if _, err := s.f.WriteAt(buf, base); err != nil {
				return fmt.Errorf("%w: write chunk %d: %w", ErrIO, sp.chunk, err)
			}
			continue
		}
		buf := make([]byte, int(sp.count)*elementSize)
		for c := 0; c < m.Channels; c++ {
			encode(buf, m.Row(c)[sp.col:sp.col+sp.count])
			off := base + (int64(c)*int64(g.BlockSize)+int64(sp.first))*elementSize
			if _, err := s.f.WriteAt(buf, off); err != nil {
				return fmt.Errorf("%w: write chunk %d channel %d: %w", ErrIO, sp.chunk, c, err)
			}
		}
	}
	return nil
}

// ReadRange returns samples [start, end) of every channel. Chunks are read
// concurrently. Never-written regions read back as zero.
func (s *Store) ReadRange(start, end uint32) (*Samples, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkRange(start, end); err != nil {
		return nil, err
	}
	g := s.geom
	out := NewSamples(int(g.Channels), int(end-start))

	var eg errgroup.Group
	eg.SetLimit(runtime.GOMAXPROCS(0))
	for _, sp := range s.spans(start, end) {
		sp := sp
		eg.Go(func() error {
			return s.readSpan(out, sp)
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// readSpan fills the columns of out covered by sp. Each span writes a
// disjoint set of columns.
func (s *Store) readSpan(out *Samples, sp span) error {
	g := s.geom
	base := g.chunkOffset(sp.chunk)
	if sp.count == g.BlockSize {
		buf := make([]byte, g.ChunkBytes())
		if _, err := s.f.ReadAt(buf, base); err != nil {
			return fmt.Errorf("%w: read chunk %d: %w", ErrIO, sp.chunk, err)
		}
		for c := 0; c < out.Channels; c++ {
			decode(out.Row(c)[sp.col:sp.col+sp.count], buf[int64(c)*int64(g.BlockSize)*elementSize:])
		}
		return nil
	}
	buf := make([]byte, int(sp.count)*elementSize)
	for c := 0; c < out.Channels; c++ {
		off := base + (int64(c)*int64(g.BlockSize)+int64(sp.first))*elementSize
		if _, err := s.f.ReadAt(buf, off); err != nil {
			return fmt.Errorf("%w: read chunk %d channel %d: %w", ErrIO, sp.chunk, c, err)
		}
		decode(out.Row(c)[sp.col:sp.col+sp.count], buf)
	}
	return nil
}

// ReadRangeAsVoltage reads [start, end) and converts every value with
// raw*gain - offset.
func (s *Store) ReadRangeAsVoltage(start, end uint32, gain, offset float64) (*Voltages, error) {
	raw, err := s.ReadRange(start, end)
	if err != nil {
		return nil, err
	}
	return ToVoltage(raw, gain, offset), nil
}

// ToVoltage converts raw samples with raw*gain - offset.
func ToVoltage(raw *Samples, gain, offset float64) *Voltages {
	out := NewMatrix[float64](raw.Channels, raw.Samples)
	for i, v := range raw.Data {
		out.Data[i] = float64(v)*gain - offset
	}
	return out
}

// Resize changes the number of allocated samples. Growing reserves the new
// chunks before the header is updated; shrinking updates the header before
// the file is cut.
func (s *Store) Resize(samples uint32) error {
	if s.readOnly {
		return ErrReadOnly
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %s", os.ErrClosed, s.path)
	}
	next := s.geom
	next.Samples = samples
	if err := next.Validate(); err != nil {
		return err
	}
	size := next.FileSize()
	grow := size > s.geom.FileSize()

	if grow {
		if err := checkFreeSpace(s.path, size-s.geom.FileSize()); err != nil {
			return err
		}
		if err := s.f.Truncate(size); err != nil {
			return fmt.Errorf("%w: extend %s to %d bytes: %w", ErrAllocation, s.path, size, err)
		}
		if err := preallocate(s.f, size); err != nil {
			return err
		}
	}
	if _, err := s.f.WriteAt(newSuperblock(next).marshal(), 0); err != nil {
		return fmt.Errorf("%w: write superblock: %w", ErrIO, err)
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", ErrIO, s.path, err)
	}
	if !grow {
		if err := s.f.Truncate(size); err != nil {
			return fmt.Errorf("%w: truncate %s to %d bytes: %w", ErrIO, s.path, size, err)
		}
	}
	s.geom = next
	return nil
}

// Refresh re-reads the geometry and attributes, picking up changes made by
// the writer of a file opened read-only here.
func (s *Store) Refresh() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: %s", os.ErrClosed, s.path)
	}
	g, err := readGeometry(s.f)
	if err != nil {
		return err
	}
	if err := s.attrs.Reload(); err != nil {
		return fmt.Errorf("%w: %w", ErrFormat, err)
	}
	s.geom = g
	return nil
}

// Sync flushes written data to stable storage.
func (s *Store) Sync() error {
	if s.readOnly {
		return nil
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %w", ErrIO, s.path, err)
	}
	return nil
}

// Close syncs a writable store, releases its lock and closes the file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if !s.readOnly {
		if err := s.f.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("%w: sync %s: %w", ErrIO, s.path, err))
		}
	}
	if err := s.unlock(); err != nil {
		errs = append(errs, err)
	}
	if err := s.f.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func encode(dst []byte, src []int16) {
	for i, v := range src {
		binary.LittleEndian.PutUint16(dst[i*elementSize:], uint16(v))
	}
}

func decode(dst []int16, src []byte) {
	for i := range dst {
		dst[i] = int16(binary.LittleEndian.Uint16(src[i*elementSize:]))
	}
}
