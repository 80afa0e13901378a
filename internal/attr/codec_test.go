package attr

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testFileRegion    = Region{Offset: 0, SlotSize: 512}
	testDatasetRegion = Region{Offset: 1024, SlotSize: 512}
)

func openTestFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.OpenFile(filepath.Join(t.TempDir(), "attrs.bin"), os.O_RDWR|os.O_CREATE, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestCodec_WriteReadScalars(t *testing.T) {
	f := openTestFile(t)
	c, err := Format(f, testFileRegion, testDatasetRegion, Options{Sync: true})
	require.NoError(t, err)

	require.NoError(t, WriteScalar(c, ScopeDataset, "type", int16(2)))
	require.NoError(t, WriteScalar(c, ScopeDataset, "nsamples", uint32(100000)))
	require.NoError(t, WriteScalar(c, ScopeDataset, "gain", 0.000152587890625))
	require.NoError(t, WriteScalar(c, ScopeDataset, "live", true))
	require.NoError(t, c.WriteString(ScopeDataset, "room", "d239"))
	require.NoError(t, WriteScalar(c, ScopeFile, "length", 10.0))

	typ, err := ReadScalar[int16](c, ScopeDataset, "type")
	require.NoError(t, err)
	assert.Equal(t, int16(2), typ)

	n, err := ReadScalar[uint32](c, ScopeDataset, "nsamples")
	require.NoError(t, err)
	assert.Equal(t, uint32(100000), n)

	gain, err := ReadScalar[float64](c, ScopeDataset, "gain")
	require.NoError(t, err)
	assert.Equal(t, 0.000152587890625, gain)

	live, err := ReadScalar[bool](c, ScopeDataset, "live")
	require.NoError(t, err)
	assert.True(t, live)

	room, err := c.ReadString(ScopeDataset, "room")
	require.NoError(t, err)
	assert.Equal(t, "d239", room)

	// Scopes are separate tables.
	_, err = ReadScalar[float64](c, ScopeDataset, "length")
	assert.ErrorIs(t, err, ErrMissing)

	assert.Equal(t, []string{"type", "nsamples", "gain", "live", "room"}, c.Names(ScopeDataset))
}

func TestCodec_ReopenRoundTrip(t *testing.T) {
	f := openTestFile(t)
	c, err := Format(f, testFileRegion, testDatasetRegion, Options{})
	require.NoError(t, err)

	err = c.Update(ScopeDataset, func(tb *Table) error {
		if err := PutScalar(tb, "lastValidSample", uint32(0)); err != nil {
			return err
		}
		return tb.PutString("date", "Mon, Jan 02, 2006")
	})
	require.NoError(t, err)
	for i := uint32(1); i <= 5; i++ {
		require.NoError(t, WriteScalar(c, ScopeDataset, "lastValidSample", i*20000))
	}

	reopened, err := Open(f, testFileRegion, testDatasetRegion, Options{ReadOnly: true})
	require.NoError(t, err)

	lvs, err := ReadScalar[uint32](reopened, ScopeDataset, "lastValidSample")
	require.NoError(t, err)
	assert.Equal(t, uint32(100000), lvs)

	date, err := reopened.ReadString(ScopeDataset, "date")
	require.NoError(t, err)
	assert.Equal(t, "Mon, Jan 02, 2006", date)
}

func TestCodec_Errors(t *testing.T) {
	f := openTestFile(t)
	c, err := Format(f, testFileRegion, testDatasetRegion, Options{})
	require.NoError(t, err)
	require.NoError(t, WriteScalar(c, ScopeDataset, "nchannels", uint32(64)))

	t.Run("missing", func(t *testing.T) {
		_, err := ReadScalar[uint32](c, ScopeDataset, "blockSize")
		require.ErrorIs(t, err, ErrMissing)
		var ae *Error
		require.True(t, errors.As(err, &ae))
		assert.Equal(t, "blockSize", ae.Name)
		assert.Equal(t, ScopeDataset, ae.Scope)

		_, err = c.ReadString(ScopeDataset, "room")
		assert.ErrorIs(t, err, ErrMissing)
	})

	t.Run("type mismatch", func(t *testing.T) {
		_, err := ReadScalar[int16](c, ScopeDataset, "nchannels")
		assert.ErrorIs(t, err, ErrType)
		_, err = c.ReadString(ScopeDataset, "nchannels")
		assert.ErrorIs(t, err, ErrType)
	})

	t.Run("read-only", func(t *testing.T) {
		ro, err := Open(f, testFileRegion, testDatasetRegion, Options{ReadOnly: true})
		require.NoError(t, err)
		err = WriteScalar(ro, ScopeDataset, "nchannels", uint32(32))
		assert.ErrorIs(t, err, ErrReadOnly)
		assert.ErrorIs(t, err, ErrWrite)
		err = ro.WriteString(ScopeFile, "room", "x")
		assert.ErrorIs(t, err, ErrWrite)
	})

	t.Run("table too large", func(t *testing.T) {
		big := make([]byte, testDatasetRegion.SlotSize)
		err := c.WriteString(ScopeDataset, "blob", string(big))
		assert.ErrorIs(t, err, ErrWrite)
		assert.False(t, c.scopes[ScopeDataset].table.Has("blob"))
	})
}

func TestCodec_TornWriteFallsBackToPreviousGeneration(t *testing.T) {
	f := openTestFile(t)
	c, err := Format(f, testFileRegion, testDatasetRegion, Options{})
	require.NoError(t, err)
	require.NoError(t, WriteScalar(c, ScopeDataset, "lastValidSample", uint32(20000)))
	require.NoError(t, WriteScalar(c, ScopeDataset, "lastValidSample", uint32(40000)))

	// Corrupt the payload of the active slot as a torn write would.
	active := c.scopes[ScopeDataset].active
	off := testDatasetRegion.slotOffset(active) + slotHeaderSize + 3
	_, err = f.WriteAt([]byte{0xff, 0xee}, off)
	require.NoError(t, err)

	reopened, err := Open(f, testFileRegion, testDatasetRegion, Options{})
	require.NoError(t, err)
	lvs, err := ReadScalar[uint32](reopened, ScopeDataset, "lastValidSample")
	require.NoError(t, err)
	assert.Equal(t, uint32(20000), lvs)
}

func TestCodec_OpenUnformatted(t *testing.T) {
	f := openTestFile(t)
	_, err := Open(f, testFileRegion, testDatasetRegion, Options{})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestTable_UnmarshalRejectsTruncatedData(t *testing.T) {
	tb := NewTable()
	require.NoError(t, PutScalar(tb, "nsamples", uint32(7)))
	require.NoError(t, tb.PutString("room", "d239"))
	data, err := tb.MarshalBinary()
	require.NoError(t, err)

	for _, n := range []int{0, 1, 3, len(data) - 1} {
		err := NewTable().UnmarshalBinary(data[:n])
		assert.ErrorIs(t, err, ErrCorrupt, "length %d", n)
	}

	// A scalar with the wrong width is rejected.
	bad := append([]byte(nil), data...)
	bad[2+1+len("nsamples")+1] = 3 // valueLen low byte of the uint32
	assert.ErrorIs(t, NewTable().UnmarshalBinary(bad), ErrCorrupt)
}

func TestCodec_ReloadFollowsWriter(t *testing.T) {
	f := openTestFile(t)
	writer, err := Format(f, testFileRegion, testDatasetRegion, Options{})
	require.NoError(t, err)
	require.NoError(t, WriteScalar(writer, ScopeDataset, "lastValidSample", uint32(100)))

	follower, err := Open(f, testFileRegion, testDatasetRegion, Options{ReadOnly: true})
	require.NoError(t, err)

	require.NoError(t, WriteScalar(writer, ScopeDataset, "lastValidSample", uint32(200)))
	lvs, err := ReadScalar[uint32](follower, ScopeDataset, "lastValidSample")
	require.NoError(t, err)
	assert.Equal(t, uint32(100), lvs, "follower serves its cached table until reloaded")

	require.NoError(t, follower.Reload())
	lvs, err = ReadScalar[uint32](follower, ScopeDataset, "lastValidSample")
	require.NoError(t, err)
	assert.Equal(t, uint32(200), lvs)

	assert.ErrorIs(t, WriteScalar(follower, ScopeDataset, "lastValidSample", uint32(1)), ErrWrite)
}
