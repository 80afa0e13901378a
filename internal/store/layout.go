package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/mearec/mealog/internal/attr"
)

// Container layout:
//
//	[0, 4096)       superblock
//	[4096, 8192)    file-scope attribute slots
//	[8192, 12288)   dataset-scope attribute slots
//	[12288, ...)    chunk k at dataOffset + k*chunkBytes, channel-major
const (
	superblockSize    = 4096
	attrSlotSize      = 2048
	fileAttrOffset    = 4096
	datasetAttrOffset = fileAttrOffset + 2*attrSlotSize
	dataOffset        = datasetAttrOffset + 2*attrSlotSize

	formatVersion uint16 = 1
	rank                 = 2

	superblockLen = 76
)

var signature = [8]byte{0x89, 'M', 'E', 'A', '\r', '\n', 0x1a, '\n'}

// ElementType identifies the on-disk sample encoding.
type ElementType uint8

const (
	// ElementInt16 is a little-endian signed 16-bit integer.
	ElementInt16 ElementType = 1

	elementSize = 2
)

var (
	fileRegion    = attr.Region{Offset: fileAttrOffset, SlotSize: attrSlotSize}
	datasetRegion = attr.Region{Offset: datasetAttrOffset, SlotSize: attrSlotSize}
)

// Geometry is the shape of the sample matrix and its chunking. The matrix is
// Channels × Samples, chunked Channels × BlockSize.
type Geometry struct {
	Channels  uint32
	Samples   uint32
	BlockSize uint32
}

// Validate reports whether g describes a usable dataset.
func (g Geometry) Validate() error {
	switch {
	case g.Channels == 0:
		return fmt.Errorf("%w: zero channels", ErrGeometry)
	case g.BlockSize == 0:
		return fmt.Errorf("%w: zero block size", ErrGeometry)
	case g.Samples == 0:
		return fmt.Errorf("%w: zero samples", ErrGeometry)
	}
	return nil
}

// Chunks returns the number of chunks needed to hold Samples.
func (g Geometry) Chunks() int64 {
	return (int64(g.Samples) + int64(g.BlockSize) - 1) / int64(g.BlockSize)
}

// ChunkBytes returns the size of one chunk on disk.
func (g Geometry) ChunkBytes() int64 {
	return int64(g.Channels) * int64(g.BlockSize) * elementSize
}

// FileSize returns the full container size for g.
func (g Geometry) FileSize() int64 {
	return dataOffset + g.Chunks()*g.ChunkBytes()
}

func (g Geometry) chunkOffset(k int64) int64 {
	return dataOffset + k*g.ChunkBytes()
}

// superblock is the fixed header at the start of every container.
type superblock struct {
	version   uint16
	rank      uint8
	elem      ElementType
	dims      [rank]uint64
	chunkDims [rank]uint64
	fileAttr  uint64
	dsetAttr  uint64
	data      uint64
}

func newSuperblock(g Geometry) superblock {
	return superblock{
		version:   formatVersion,
		rank:      rank,
		elem:      ElementInt16,
		dims:      [rank]uint64{uint64(g.Channels), uint64(g.Samples)},
		chunkDims: [rank]uint64{uint64(g.Channels), uint64(g.BlockSize)},
		fileAttr:  fileAttrOffset,
		dsetAttr:  datasetAttrOffset,
		data:      dataOffset,
	}
}

func (sb superblock) marshal() []byte {
	buf := make([]byte, 0, superblockLen)
	buf = append(buf, signature[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, sb.version)
	buf = append(buf, sb.rank, byte(sb.elem), 0, 0, 0, 0)
	for _, d := range sb.dims {
		buf = binary.LittleEndian.AppendUint64(buf, d)
	}
	for _, d := range sb.chunkDims {
		buf = binary.LittleEndian.AppendUint64(buf, d)
	}
	buf = binary.LittleEndian.AppendUint64(buf, sb.fileAttr)
	buf = binary.LittleEndian.AppendUint64(buf, sb.dsetAttr)
	buf = binary.LittleEndian.AppendUint64(buf, sb.data)
	return binary.LittleEndian.AppendUint32(buf, crc32.ChecksumIEEE(buf))
}

func unmarshalSuperblock(buf []byte) (superblock, error) {
	var sb superblock
	if len(buf) < superblockLen {
		return sb, fmt.Errorf("%w: short superblock", ErrFormat)
	}
	if !bytes.Equal(buf[:8], signature[:]) {
		return sb, fmt.Errorf("%w: not a recording container", ErrFormat)
	}
	body := buf[:superblockLen-4]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(buf[superblockLen-4:]) {
		return sb, fmt.Errorf("%w: superblock checksum mismatch", ErrFormat)
	}
	sb.version = binary.LittleEndian.Uint16(buf[8:])
	sb.rank = buf[10]
	sb.elem = ElementType(buf[11])
	p := 16
	for i := range sb.dims {
		sb.dims[i] = binary.LittleEndian.Uint64(buf[p:])
		p += 8
	}
	for i := range sb.chunkDims {
		sb.chunkDims[i] = binary.LittleEndian.Uint64(buf[p:])
		p += 8
	}
	sb.fileAttr = binary.LittleEndian.Uint64(buf[p:])
	sb.dsetAttr = binary.LittleEndian.Uint64(buf[p+8:])
	sb.data = binary.LittleEndian.Uint64(buf[p+16:])
	return sb, nil
}

// geometry checks the header against what this version can read.
func (sb superblock) geometry() (Geometry, error) {
	if sb.version != formatVersion {
		return Geometry{}, fmt.Errorf("%w: unsupported format version %d", ErrFormat, sb.version)
	}
	if sb.rank != rank {
		return Geometry{}, fmt.Errorf("%w: dataset rank %d, want %d", ErrFormat, sb.rank, rank)
	}
	if sb.elem != ElementInt16 {
		return Geometry{}, fmt.Errorf("%w: unsupported element type %d", ErrFormat, sb.elem)
	}
	if sb.fileAttr != fileAttrOffset || sb.dsetAttr != datasetAttrOffset || sb.data != dataOffset {
		return Geometry{}, fmt.Errorf("%w: unexpected region offsets", ErrFormat)
	}
	const maxDim = 1<<32 - 1
	for _, d := range append(sb.dims[:], sb.chunkDims[:]...) {
		if d > maxDim {
			return Geometry{}, fmt.Errorf("%w: dimension %d out of range", ErrFormat, d)
		}
	}
	if sb.chunkDims[0] != sb.dims[0] {
		return Geometry{}, fmt.Errorf("%w: chunk spans %d channels, dataset has %d", ErrFormat, sb.chunkDims[0], sb.dims[0])
	}
	g := Geometry{
		Channels:  uint32(sb.dims[0]),
		Samples:   uint32(sb.dims[1]),
		BlockSize: uint32(sb.chunkDims[1]),
	}
	if err := g.Validate(); err != nil {
		return Geometry{}, fmt.Errorf("%w: %v", ErrFormat, err)
	}
	return g, nil
}
