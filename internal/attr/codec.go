// Package attr persists typed key/value metadata for a recording container.
//
// Attributes live in two scopes. File-scope attributes carry provenance and
// configuration; dataset-scope attributes describe the sample matrix. Each
// scope is stored in a fixed region made of two slots. A write always goes to
// the slot that is not active, stamped with the next generation number and a
// CRC-32 of its payload, so a torn write leaves the previous table readable.
package attr

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"sync"
)

// Scope selects one of the two attribute tables of a container.
type Scope uint8

const (
	ScopeFile Scope = iota
	ScopeDataset
	numScopes
)

func (s Scope) String() string {
	switch s {
	case ScopeFile:
		return "file"
	case ScopeDataset:
		return "dataset"
	default:
		return fmt.Sprintf("scope(%d)", uint8(s))
	}
}

const (
	slotMagic      uint32 = 0x52545441 // "ATTR"
	slotHeaderSize        = 20
)

// Region locates the two slots of a scope inside the backing file.
type Region struct {
	Offset   int64
	SlotSize int64
}

// Size returns the number of bytes the region occupies.
func (r Region) Size() int64 {
	return 2 * r.SlotSize
}

func (r Region) slotOffset(slot int) int64 {
	return r.Offset + int64(slot)*r.SlotSize
}

// Backing is the storage the codec reads and writes slots through.
type Backing interface {
	io.ReaderAt
	io.WriterAt
}

type syncer interface {
	Sync() error
}

type scopeState struct {
	region Region
	table  *Table
	gen    uint64
	active int
}

// Codec reads and writes the attribute tables of one container. It keeps the
// decoded tables in memory; reads never touch the backing storage.
type Codec struct {
	mu         sync.RWMutex
	b          Backing
	readOnly   bool
	syncWrites bool
	scopes     [numScopes]scopeState
}

// Options configures a Codec.
type Options struct {
	ReadOnly bool
	// Sync flushes the backing storage after every slot write when it
	// implements Sync() error.
	Sync bool
}

// Format writes empty tables for both scopes and returns a codec over them.
func Format(b Backing, file, dataset Region, opts Options) (*Codec, error) {
	c := newCodec(b, file, dataset, opts)
	if c.readOnly {
		return nil, &Error{Op: "write", Err: ErrReadOnly}
	}
	for s := Scope(0); s < numScopes; s++ {
		st := &c.scopes[s]
		st.table = NewTable()
		st.active = 1
		if err := c.persist(s, st.table); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Open loads both scopes from b.
func Open(b Backing, file, dataset Region, opts Options) (*Codec, error) {
	c := newCodec(b, file, dataset, opts)
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

func newCodec(b Backing, file, dataset Region, opts Options) *Codec {
	c := &Codec{b: b, readOnly: opts.ReadOnly, syncWrites: opts.Sync}
	c.scopes[ScopeFile].region = file
	c.scopes[ScopeDataset].region = dataset
	return c
}

// ReadOnly reports whether writes are rejected.
func (c *Codec) ReadOnly() bool {
	return c.readOnly
}

// Reload re-reads both scopes from the backing storage, picking the newest
// valid slot of each.
func (c *Codec) Reload() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for s := Scope(0); s < numScopes; s++ {
		st := &c.scopes[s]
		table, gen, active, err := c.load(st.region)
		if err != nil {
			return &Error{Op: "read", Scope: s, Err: err}
		}
		st.table, st.gen, st.active = table, gen, active
	}
	return nil
}

func (c *Codec) load(r Region) (*Table, uint64, int, error) {
	var (
		best    *Table
		bestGen uint64
		bestIdx = -1
		lastErr error
	)
	for slot := 0; slot < 2; slot++ {
		table, gen, err := c.readSlot(r, slot)
		if err != nil {
			lastErr = err
			continue
		}
		if bestIdx < 0 || gen > bestGen {
			best, bestGen, bestIdx = table, gen, slot
		}
	}
	if bestIdx < 0 {
		return nil, 0, 0, fmt.Errorf("%w: no valid slot: %v", ErrCorrupt, lastErr)
	}
	return best, bestGen, bestIdx, nil
}

func (c *Codec) readSlot(r Region, slot int) (*Table, uint64, error) {
	buf := make([]byte, r.SlotSize)
	if _, err := c.b.ReadAt(buf, r.slotOffset(slot)); err != nil && err != io.EOF {
		return nil, 0, err
	}
	if binary.LittleEndian.Uint32(buf[0:]) != slotMagic {
		return nil, 0, fmt.Errorf("%w: slot %d has bad magic", ErrCorrupt, slot)
	}
	gen := binary.LittleEndian.Uint64(buf[4:])
	n := int64(binary.LittleEndian.Uint32(buf[12:]))
	sum := binary.LittleEndian.Uint32(buf[16:])
	if n > r.SlotSize-slotHeaderSize {
		return nil, 0, fmt.Errorf("%w: slot %d length %d out of bounds", ErrCorrupt, slot, n)
	}
	payload := buf[slotHeaderSize : slotHeaderSize+n]
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, 0, fmt.Errorf("%w: slot %d checksum mismatch", ErrCorrupt, slot)
	}
	t := NewTable()
	if err := t.UnmarshalBinary(payload); err != nil {
		return nil, 0, err
	}
	return t, gen, nil
}

// persist writes table into the inactive slot of scope s and makes it active.
// Callers hold c.mu.
func (c *Codec) persist(s Scope, table *Table) error {
	st := &c.scopes[s]
	payload, err := table.MarshalBinary()
	if err != nil {
		return &Error{Op: "write", Scope: s, Err: fmt.Errorf("%w: %v", ErrWrite, err)}
	}
	if int64(len(payload)) > st.region.SlotSize-slotHeaderSize {
		return &Error{Op: "write", Scope: s, Err: fmt.Errorf("%w: table of %d bytes exceeds slot", ErrWrite, len(payload))}
	}
	buf := make([]byte, slotHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:], slotMagic)
	binary.LittleEndian.PutUint64(buf[4:], st.gen+1)
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[16:], crc32.ChecksumIEEE(payload))
	copy(buf[slotHeaderSize:], payload)

	next := 1 - st.active
	if _, err := c.b.WriteAt(buf, st.region.slotOffset(next)); err != nil {
		return &Error{Op: "write", Scope: s, Err: fmt.Errorf("%w: %w", ErrWrite, err)}
	}
	if c.syncWrites {
		if f, ok := c.b.(syncer); ok {
			if err := f.Sync(); err != nil {
				return &Error{Op: "write", Scope: s, Err: fmt.Errorf("%w: %w", ErrWrite, err)}
			}
		}
	}
	st.table = table
	st.gen++
	st.active = next
	return nil
}

// Update applies fn to a copy of the scope's table and persists the result in
// a single slot write. If fn fails nothing is written.
func (c *Codec) Update(s Scope, fn func(t *Table) error) error {
	if s >= numScopes {
		return &Error{Op: "write", Scope: s, Err: fmt.Errorf("%w: unknown scope", ErrWrite)}
	}
	if c.readOnly {
		return &Error{Op: "write", Scope: s, Err: ErrReadOnly}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.scopes[s].table.clone()
	if err := fn(next); err != nil {
		return &Error{Op: "write", Scope: s, Err: fmt.Errorf("%w: %w", ErrWrite, err)}
	}
	return c.persist(s, next)
}

// Names lists the attributes of a scope.
func (c *Codec) Names(s Scope) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s >= numScopes {
		return nil
	}
	return c.scopes[s].table.Names()
}

func (c *Codec) table(s Scope) (*Table, error) {
	if s >= numScopes {
		return nil, fmt.Errorf("unknown scope %d", s)
	}
	return c.scopes[s].table, nil
}

// WriteScalar creates or overwrites a scalar attribute.
func WriteScalar[T Scalar](c *Codec, s Scope, name string, v T) error {
	err := c.Update(s, func(t *Table) error {
		return PutScalar(t, name, v)
	})
	if e, ok := err.(*Error); ok {
		e.Name = name
	}
	return err
}

// ReadScalar returns a scalar attribute from the in-memory table.
func ReadScalar[T Scalar](c *Codec, s Scope, name string) (T, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var zero T
	t, err := c.table(s)
	if err != nil {
		return zero, &Error{Op: "read", Scope: s, Name: name, Err: err}
	}
	v, err := GetScalar[T](t, name)
	if err != nil {
		return zero, &Error{Op: "read", Scope: s, Name: name, Err: err}
	}
	return v, nil
}

// WriteString creates or overwrites a string attribute.
func (c *Codec) WriteString(s Scope, name, v string) error {
	err := c.Update(s, func(t *Table) error {
		return t.PutString(name, v)
	})
	if e, ok := err.(*Error); ok {
		e.Name = name
	}
	return err
}

// ReadString returns a string attribute from the in-memory table.
func (c *Codec) ReadString(s Scope, name string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, err := c.table(s)
	if err != nil {
		return "", &Error{Op: "read", Scope: s, Name: name, Err: err}
	}
	v, err := t.GetString(name)
	if err != nil {
		return "", &Error{Op: "read", Scope: s, Name: name, Err: err}
	}
	return v, nil
}
