// Package recording is the handle for one chunked multi-channel recording.
//
// A Recording composes the sample store and its attributes and keeps them
// consistent: lastValidSample only advances after the samples below it are
// on disk, and every getter answers from memory.
package recording

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mearec/mealog/internal/attr"
	"github.com/mearec/mealog/internal/store"
)

// Attribute names as stored in the container.
const (
	AttrType            = "type"
	AttrVersion         = "version"
	AttrLive            = "live"
	AttrLastValidSample = "lastValidSample"
	AttrSampleRate      = "sampleRate"
	AttrBlockSize       = "blockSize"
	AttrNSamples        = "nsamples"
	AttrNChannels       = "nchannels"
	AttrGain            = "gain"
	AttrOffset          = "offset"
	AttrDate            = "date"
	AttrTime            = "time"
	AttrRoom            = "room"

	AttrLength   = "length"
	AttrADCRange = "adcRange"
)

// Mode selects how an existing recording is opened.
type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "read-write"
	}
	return "read-only"
}

// Option adjusts Create.
type Option func(*createOptions)

type createOptions struct {
	now func() time.Time
}

// WithClock sets the clock used to stamp an empty Date or Time.
func WithClock(now func() time.Time) Option {
	return func(o *createOptions) { o.now = now }
}

// Recording is an open recording. Appends must come from a single goroutine;
// reads and getters are safe from any number of goroutines.
type Recording struct {
	mu    sync.Mutex // serializes mutators
	st    *store.Store
	attrs *attr.Codec
	mode  Mode

	fileType  int16
	version   int16
	rate      float64
	channels  uint32
	blockSize uint32
	gain      float64
	offset    float64
	date      string
	time      string
	room      string
	length    float64
	adcRange  float64

	nsamples  atomic.Uint32
	lastValid atomic.Uint32
	live      atomic.Bool
	closed    atomic.Bool
}

// Create allocates a new recording at path and persists all of its
// attributes before returning. The file must not exist.
func Create(path string, cfg Config, opts ...Option) (r *Recording, err error) {
	o := createOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.stamped(o.now())

	st, err := store.Create(path, store.Geometry{
		Channels:  cfg.Channels,
		Samples:   cfg.NumSamples(),
		BlockSize: cfg.BlockSize,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			st.Close()
			os.Remove(path)
		}
	}()

	r = &Recording{
		st:        st,
		attrs:     st.Attributes(),
		mode:      ReadWrite,
		fileType:  FileType,
		version:   FileVersion,
		rate:      cfg.SampleRate,
		channels:  cfg.Channels,
		blockSize: cfg.BlockSize,
		gain:      cfg.Gain(),
		offset:    cfg.Offset(),
		date:      cfg.Date,
		time:      cfg.Time,
		room:      cfg.Room,
		length:    cfg.LengthSeconds,
		adcRange:  cfg.ADCRange,
	}
	r.nsamples.Store(cfg.NumSamples())
	r.live.Store(true)

	err = r.attrs.Update(attr.ScopeFile, func(t *attr.Table) error {
		return errors.Join(
			attr.PutScalar(t, AttrLength, r.length),
			attr.PutScalar(t, AttrADCRange, r.adcRange),
		)
	})
	if err != nil {
		return nil, err
	}
	err = r.attrs.Update(attr.ScopeDataset, func(t *attr.Table) error {
		return errors.Join(
			attr.PutScalar(t, AttrType, r.fileType),
			attr.PutScalar(t, AttrVersion, r.version),
			attr.PutScalar(t, AttrLive, true),
			attr.PutScalar(t, AttrLastValidSample, uint32(0)),
			attr.PutScalar(t, AttrSampleRate, r.rate),
			attr.PutScalar(t, AttrBlockSize, r.blockSize),
			attr.PutScalar(t, AttrNSamples, r.nsamples.Load()),
			attr.PutScalar(t, AttrNChannels, r.channels),
			attr.PutScalar(t, AttrGain, r.gain),
			attr.PutScalar(t, AttrOffset, r.offset),
			t.PutString(AttrDate, r.date),
			t.PutString(AttrTime, r.time),
			t.PutString(AttrRoom, r.room),
		)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Open opens an existing recording and reads back every attribute. A
// ReadWrite open fails with ErrLocked while another writer holds the file.
func Open(path string, mode Mode) (r *Recording, err error) {
	st, err := store.Open(path, mode == ReadOnly)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			st.Close()
		}
	}()

	r = &Recording{st: st, attrs: st.Attributes(), mode: mode}
	if err := r.load(); err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return r, nil
}

// load reads every attribute and checks it against the stored geometry.
func (r *Recording) load() error {
	c := r.attrs
	var (
		errs                []error
		nsamples, lastValid uint32
		live                bool
	)
	scalar := func(dst any, s attr.Scope, name string) {
		var err error
		switch p := dst.(type) {
		case *int16:
			*p, err = attr.ReadScalar[int16](c, s, name)
		case *uint32:
			*p, err = attr.ReadScalar[uint32](c, s, name)
		case *float64:
			*p, err = attr.ReadScalar[float64](c, s, name)
		case *bool:
			*p, err = attr.ReadScalar[bool](c, s, name)
		case *string:
			*p, err = c.ReadString(s, name)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	scalar(&r.fileType, attr.ScopeDataset, AttrType)
	scalar(&r.version, attr.ScopeDataset, AttrVersion)
	scalar(&live, attr.ScopeDataset, AttrLive)
	scalar(&lastValid, attr.ScopeDataset, AttrLastValidSample)
	scalar(&r.rate, attr.ScopeDataset, AttrSampleRate)
	scalar(&r.blockSize, attr.ScopeDataset, AttrBlockSize)
	scalar(&nsamples, attr.ScopeDataset, AttrNSamples)
	scalar(&r.channels, attr.ScopeDataset, AttrNChannels)
	scalar(&r.gain, attr.ScopeDataset, AttrGain)
	scalar(&r.offset, attr.ScopeDataset, AttrOffset)
	scalar(&r.date, attr.ScopeDataset, AttrDate)
	scalar(&r.time, attr.ScopeDataset, AttrTime)
	scalar(&r.room, attr.ScopeDataset, AttrRoom)
	scalar(&r.length, attr.ScopeFile, AttrLength)
	scalar(&r.adcRange, attr.ScopeFile, AttrADCRange)
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrCorrupt, errors.Join(errs...))
	}

	if err := r.checkGeometry(nsamples, lastValid); err != nil {
		return err
	}
	r.nsamples.Store(nsamples)
	r.lastValid.Store(lastValid)
	r.live.Store(live)
	return nil
}

// checkGeometry verifies the attributes describe the stored matrix. The
// store may hold more samples than nsamples after an interrupted resize.
func (r *Recording) checkGeometry(nsamples, lastValid uint32) error {
	g := r.st.Geometry()
	switch {
	case g.Channels != r.channels:
		return fmt.Errorf("%w: %d channels stored, %s=%d", ErrCorrupt, g.Channels, AttrNChannels, r.channels)
	case g.BlockSize != r.blockSize:
		return fmt.Errorf("%w: chunks of %d samples, %s=%d", ErrCorrupt, g.BlockSize, AttrBlockSize, r.blockSize)
	case nsamples == 0 || nsamples > g.Samples:
		return fmt.Errorf("%w: %s=%d with %d samples stored", ErrCorrupt, AttrNSamples, nsamples, g.Samples)
	case lastValid > nsamples:
		return fmt.Errorf("%w: %s=%d beyond %s=%d", ErrCorrupt, AttrLastValidSample, lastValid, AttrNSamples, nsamples)
	}
	return nil
}

func (r *Recording) checkWritable() error {
	if r.closed.Load() {
		return fmt.Errorf("%w: %s", os.ErrClosed, r.Filename())
	}
	if r.mode != ReadWrite {
		return fmt.Errorf("%w: %s", ErrReadOnly, r.Filename())
	}
	return nil
}

// AppendBlock writes samples at [lastValidSample, lastValidSample+width) and
// then advances lastValidSample. The block must have one row per channel and
// at most BlockSize samples; a narrower block ends the recording, since every
// later block would straddle chunks. On error lastValidSample is unchanged.
func (r *Recording) AppendBlock(samples *store.Samples) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkWritable(); err != nil {
		return err
	}
	if !r.live.Load() {
		return fmt.Errorf("%w: %s is finalized", ErrNotLive, r.Filename())
	}
	if samples == nil || samples.Channels != int(r.channels) || samples.Samples == 0 ||
		samples.Samples > int(r.blockSize) || len(samples.Data) != samples.Channels*samples.Samples {
		return fmt.Errorf("%w: block must be %d channels × 1..%d samples", ErrRange, r.channels, r.blockSize)
	}

	start := r.lastValid.Load()
	width := uint32(samples.Samples)
	capacity := r.nsamples.Load()
	if start%r.blockSize != 0 {
		return fmt.Errorf("%w: recording ended with a partial block at %d", ErrCapacity, start)
	}
	if uint64(start)+uint64(width) > uint64(capacity) {
		return fmt.Errorf("%w: %d + %d samples exceeds %d", ErrCapacity, start, width, capacity)
	}

	end := start + width
	if err := r.st.WriteRange(start, end, samples); err != nil {
		return err
	}
	if err := r.st.Sync(); err != nil {
		return err
	}
	if err := attr.WriteScalar(r.attrs, attr.ScopeDataset, AttrLastValidSample, end); err != nil {
		return err
	}
	r.lastValid.Store(end)
	return nil
}

// rangeFor clamps end to lastValidSample.
func (r *Recording) rangeFor(start, end uint32) (uint32, uint32, error) {
	if r.closed.Load() {
		return 0, 0, fmt.Errorf("%w: %s", os.ErrClosed, r.Filename())
	}
	lvs := r.lastValid.Load()
	if start >= lvs || end <= start {
		return 0, 0, fmt.Errorf("%w: [%d, %d) with lastValidSample %d", ErrRange, start, end, lvs)
	}
	return start, min(end, lvs), nil
}

// ReadSamples returns raw samples [start, min(end, lastValidSample)).
func (r *Recording) ReadSamples(start, end uint32) (*store.Samples, error) {
	start, end, err := r.rangeFor(start, end)
	if err != nil {
		return nil, err
	}
	return r.st.ReadRange(start, end)
}

// ReadVoltage returns samples [start, min(end, lastValidSample)) in volts.
func (r *Recording) ReadVoltage(start, end uint32) (*store.Voltages, error) {
	start, end, err := r.rangeFor(start, end)
	if err != nil {
		return nil, err
	}
	return r.st.ReadRangeAsVoltage(start, end, r.gain, r.offset)
}

// Finalize marks the recording as no longer live. Finalizing twice is a
// no-op.
func (r *Recording) Finalize() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkWritable(); err != nil {
		return err
	}
	if !r.live.Load() {
		return nil
	}
	if err := attr.WriteScalar(r.attrs, attr.ScopeDataset, AttrLive, false); err != nil {
		return err
	}
	r.live.Store(false)
	return nil
}

// Extend grows the capacity by additional samples.
func (r *Recording) Extend(additional uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkWritable(); err != nil {
		return err
	}
	if !r.live.Load() {
		return fmt.Errorf("%w: %s is finalized", ErrNotLive, r.Filename())
	}
	if additional == 0 {
		return nil
	}
	cur := r.nsamples.Load()
	next := uint64(cur) + uint64(additional)
	if next > uint64(^uint32(0)) {
		return fmt.Errorf("%w: %d + %d samples overflows", ErrCapacity, cur, additional)
	}
	if uint32(next) > r.st.Geometry().Samples {
		if err := r.st.Resize(uint32(next)); err != nil {
			return err
		}
	}
	if err := attr.WriteScalar(r.attrs, attr.ScopeDataset, AttrNSamples, uint32(next)); err != nil {
		return err
	}
	r.nsamples.Store(uint32(next))
	return nil
}

// Trim shrinks the capacity to lastValidSample and releases the unused
// chunks.
func (r *Recording) Trim() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkWritable(); err != nil {
		return err
	}
	lvs := r.lastValid.Load()
	if lvs == 0 {
		return fmt.Errorf("%w: nothing written to %s", ErrCapacity, r.Filename())
	}
	if lvs != r.nsamples.Load() {
		if err := attr.WriteScalar(r.attrs, attr.ScopeDataset, AttrNSamples, lvs); err != nil {
			return err
		}
		r.nsamples.Store(lvs)
	}
	if r.st.Geometry().Samples != lvs {
		return r.st.Resize(lvs)
	}
	return nil
}

// Refresh re-reads the mutable attributes. It lets a read-only handle follow
// a recording that another process is still writing.
func (r *Recording) Refresh() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Load() {
		return fmt.Errorf("%w: %s", os.ErrClosed, r.Filename())
	}
	if r.mode == ReadWrite {
		return nil
	}
	if err := r.st.Refresh(); err != nil {
		return err
	}
	var errs []error
	nsamples, err := attr.ReadScalar[uint32](r.attrs, attr.ScopeDataset, AttrNSamples)
	errs = append(errs, err)
	lastValid, err := attr.ReadScalar[uint32](r.attrs, attr.ScopeDataset, AttrLastValidSample)
	errs = append(errs, err)
	live, err := attr.ReadScalar[bool](r.attrs, attr.ScopeDataset, AttrLive)
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if err := r.checkGeometry(nsamples, lastValid); err != nil {
		return err
	}
	r.nsamples.Store(nsamples)
	r.lastValid.Store(lastValid)
	r.live.Store(live)
	return nil
}

// Close releases the file. It does not finalize a live recording.
func (r *Recording) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed.Swap(true) {
		return nil
	}
	return r.st.Close()
}

// Mode reports how the recording was opened.
func (r *Recording) Mode() Mode { return r.mode }

func (r *Recording) Filename() string { return r.st.Path() }
func (r *Recording) Type() int16 { return r.fileType }
func (r *Recording) Version() int16 { return r.version }
func (r *Recording) SampleRate() float64 { return r.rate }
func (r *Recording) Channels() uint32 { return r.channels }
func (r *Recording) BlockSize() uint32 { return r.blockSize }
func (r *Recording) Gain() float64 { return r.gain }
func (r *Recording) Offset() float64 { return r.offset }
func (r *Recording) Date() string { return r.date }
func (r *Recording) Time() string { return r.time }
func (r *Recording) Room() string { return r.room }
func (r *Recording) Length() float64 { return r.length }
func (r *Recording) ADCRange() float64 { return r.adcRange }
func (r *Recording) NSamples() uint32 { return r.nsamples.Load() }
func (r *Recording) LastValidSample() uint32 { return r.lastValid.Load() }
func (r *Recording) Live() bool { return r.live.Load() }
