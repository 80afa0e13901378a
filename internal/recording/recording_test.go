package recording

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mearec/mealog/internal/attr"
	"github.com/mearec/mealog/internal/store"
)

var fixedClock = WithClock(func() time.Time {
	return time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC)
})

func smallConfig() Config {
	return Config{
		SampleRate:    1000,
		Channels:      4,
		BlockSize:     50,
		LengthSeconds: 0.2,
		ADCRange:      5,
		Room:          "d239",
	}
}

func newTestRecording(t *testing.T, cfg Config) *Recording {
	t.Helper()
	r, err := Create(filepath.Join(t.TempDir(), "test"+Extension), cfg, fixedClock)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

// block returns a channels × width block whose values encode the absolute
// sample index, so concatenation can be checked across blocks.
func block(channels, width, first int) *store.Samples {
	m := store.NewSamples(channels, width)
	for c := 0; c < channels; c++ {
		for i := 0; i < width; i++ {
			m.Set(c, i, int16((first+i)%30000-c*7))
		}
	}
	return m
}

func TestConfig_Derived(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint32(100000), cfg.NumSamples())
	assert.InDelta(t, 0.0001526, cfg.Gain(), 1e-7)
	assert.Equal(t, 10.0/65536, cfg.Gain())
	assert.Equal(t, 5.0, cfg.Offset())

	cfg.LengthSeconds = 1.00004
	assert.Equal(t, uint32(10000), cfg.NumSamples())
	cfg.LengthSeconds = 1.00006
	assert.Equal(t, uint32(10001), cfg.NumSamples())
}

func TestConfig_Validate(t *testing.T) {
	for name, mutate := range map[string]func(*Config){
		"rate":       func(c *Config) { c.SampleRate = 0 },
		"channels":   func(c *Config) { c.Channels = 0 },
		"block size": func(c *Config) { c.BlockSize = 0 },
		"length":     func(c *Config) { c.LengthSeconds = -1 },
		"adc range":  func(c *Config) { c.ADCRange = 0 },
		"too short":  func(c *Config) { c.LengthSeconds = 0.00001 },
		"too long":   func(c *Config) { c.LengthSeconds = 1e9 },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrConfig)
		})
	}
}

func TestCreate_DefaultExample(t *testing.T) {
	r := newTestRecording(t, DefaultConfig())

	assert.Equal(t, uint32(100000), r.NSamples())
	assert.InDelta(t, 0.0001526, r.Gain(), 1e-7)
	assert.Equal(t, 5.0, r.Offset())
	assert.True(t, r.Live())
	assert.Zero(t, r.LastValidSample())
	assert.Equal(t, FileType, r.Type())
	assert.Equal(t, FileVersion, r.Version())
	assert.Equal(t, "Tue, Mar 05, 2024", r.Date())
	assert.Equal(t, "2:07:09 PM", r.Time())
	assert.Equal(t, "recorded in d239", r.Room())

	for k := 0; k < 5; k++ {
		require.NoError(t, r.AppendBlock(block(64, 20000, k*20000)))
	}
	assert.Equal(t, uint32(100000), r.LastValidSample())

	for _, width := range []int{1, 20000} {
		err := r.AppendBlock(block(64, width, 0))
		assert.ErrorIs(t, err, ErrCapacity)
	}
	assert.Equal(t, uint32(100000), r.LastValidSample())
}

func TestAppendBlock_Concatenation(t *testing.T) {
	cfg := smallConfig()
	r := newTestRecording(t, cfg)

	const n = 3
	for k := 0; k < n; k++ {
		require.NoError(t, r.AppendBlock(block(4, 50, k*50)))
		assert.Equal(t, uint32((k+1)*50), r.LastValidSample())
	}

	got, err := r.ReadSamples(0, r.LastValidSample())
	require.NoError(t, err)
	assert.Equal(t, block(4, n*50, 0), got)
}

func TestAppendBlock_CapacityLeavesBoundary(t *testing.T) {
	cfg := smallConfig()
	cfg.LengthSeconds = 0.12 // 120 samples, the third block does not fit
	r := newTestRecording(t, cfg)

	require.NoError(t, r.AppendBlock(block(4, 50, 0)))
	require.NoError(t, r.AppendBlock(block(4, 50, 50)))
	err := r.AppendBlock(block(4, 50, 100))
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, uint32(100), r.LastValidSample())

	// The final partial block fits and ends the recording.
	require.NoError(t, r.AppendBlock(block(4, 20, 100)))
	assert.Equal(t, uint32(120), r.LastValidSample())
	assert.ErrorIs(t, r.AppendBlock(block(4, 1, 120)), ErrCapacity)
}

func TestAppendBlock_AfterPartialBlock(t *testing.T) {
	r := newTestRecording(t, smallConfig())
	require.NoError(t, r.AppendBlock(block(4, 30, 0)))
	err := r.AppendBlock(block(4, 50, 30))
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, uint32(30), r.LastValidSample())
}

func TestAppendBlock_Shape(t *testing.T) {
	r := newTestRecording(t, smallConfig())

	assert.ErrorIs(t, r.AppendBlock(nil), ErrRange)
	assert.ErrorIs(t, r.AppendBlock(block(3, 50, 0)), ErrRange)
	assert.ErrorIs(t, r.AppendBlock(block(4, 51, 0)), ErrRange)
	assert.ErrorIs(t, r.AppendBlock(block(4, 0, 0)), ErrRange)
	assert.Zero(t, r.LastValidSample())
}

func TestFinalize(t *testing.T) {
	r := newTestRecording(t, smallConfig())
	require.NoError(t, r.AppendBlock(block(4, 50, 0)))
	require.NoError(t, r.Finalize())
	require.NoError(t, r.Finalize())
	assert.False(t, r.Live())

	err := r.AppendBlock(block(4, 50, 50))
	assert.ErrorIs(t, err, ErrNotLive)
	assert.Equal(t, uint32(50), r.LastValidSample())
	assert.ErrorIs(t, r.Extend(10), ErrNotLive)
}

func TestReadRanges(t *testing.T) {
	r := newTestRecording(t, smallConfig())
	require.NoError(t, r.AppendBlock(block(4, 50, 0)))
	require.NoError(t, r.AppendBlock(block(4, 50, 50)))

	_, err := r.ReadSamples(50, 40)
	assert.ErrorIs(t, err, ErrRange)
	_, err = r.ReadSamples(100, 150)
	assert.ErrorIs(t, err, ErrRange)
	_, err = r.ReadVoltage(10, 10)
	assert.ErrorIs(t, err, ErrRange)

	// End is clamped to lastValidSample.
	got, err := r.ReadSamples(90, 200)
	require.NoError(t, err)
	assert.Equal(t, 10, got.Samples)
	assert.Equal(t, block(4, 100, 0).Row(2)[90:], got.Row(2))
}

func TestReadVoltage_Law(t *testing.T) {
	r := newTestRecording(t, smallConfig())
	require.NoError(t, r.AppendBlock(block(4, 50, 0)))
	require.NoError(t, r.AppendBlock(block(4, 50, 50)))

	for _, rg := range [][2]uint32{{0, 100}, {13, 77}, {99, 100}} {
		raw, err := r.ReadSamples(rg[0], rg[1])
		require.NoError(t, err)
		volts, err := r.ReadVoltage(rg[0], rg[1])
		require.NoError(t, err)
		require.Equal(t, raw.Channels, volts.Channels)
		require.Equal(t, raw.Samples, volts.Samples)
		for i, v := range raw.Data {
			assert.Equal(t, float64(v)*r.Gain()-r.Offset(), volts.Data[i])
		}
	}
}

func TestReopen_MetadataRoundTrip(t *testing.T) {
	r := newTestRecording(t, smallConfig())
	require.NoError(t, r.AppendBlock(block(4, 50, 0)))
	require.NoError(t, r.Finalize())
	want := r.Snapshot()
	require.NoError(t, r.Close())

	ro, err := Open(r.Filename(), ReadOnly)
	require.NoError(t, err)
	defer ro.Close()
	assert.Equal(t, want, ro.Snapshot())
	assert.Equal(t, "d239", ro.Room())
	assert.Equal(t, 0.2, ro.Length())
	assert.Equal(t, 5.0, ro.ADCRange())
	assert.Equal(t, ReadOnly, ro.Mode())

	got, err := ro.ReadSamples(0, 50)
	require.NoError(t, err)
	assert.Equal(t, block(4, 50, 0), got)

	assert.ErrorIs(t, ro.AppendBlock(block(4, 50, 50)), ErrReadOnly)
	assert.ErrorIs(t, ro.Finalize(), ErrReadOnly)
}

func TestReopen_ReadWriteContinuesAppending(t *testing.T) {
	r := newTestRecording(t, smallConfig())
	require.NoError(t, r.AppendBlock(block(4, 50, 0)))
	require.NoError(t, r.Close())

	rw, err := Open(r.Filename(), ReadWrite)
	require.NoError(t, err)
	defer rw.Close()
	assert.True(t, rw.Live())
	require.NoError(t, rw.AppendBlock(block(4, 50, 50)))

	got, err := rw.ReadSamples(0, 100)
	require.NoError(t, err)
	assert.Equal(t, block(4, 100, 0), got)

	_, err = Open(r.Filename(), ReadWrite)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestOpen_MissingAttribute(t *testing.T) {
	r := newTestRecording(t, smallConfig())
	err := r.attrs.Update(attr.ScopeDataset, func(tb *attr.Table) error {
		tb.Delete(AttrGain)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = Open(r.Filename(), ReadOnly)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.ErrorIs(t, err, attr.ErrMissing)
}

func TestOpen_MistypedAttribute(t *testing.T) {
	r := newTestRecording(t, smallConfig())
	require.NoError(t, attr.WriteScalar(r.attrs, attr.ScopeDataset, AttrNChannels, int16(4)))
	require.NoError(t, r.Close())

	_, err := Open(r.Filename(), ReadOnly)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.ErrorIs(t, err, attr.ErrType)
}

func TestOpen_GeometryMismatch(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value uint32
		want  string
	}{
		{"channel count", AttrNChannels, 8, "4 channels stored"},
		{"block size", AttrBlockSize, 25, "chunks of 50 samples, blockSize=25"},
		{"nsamples beyond storage", AttrNSamples, 400, "nsamples=400 with 200 samples stored"},
		{"last valid beyond nsamples", AttrLastValidSample, 250, "lastValidSample=250 beyond nsamples=200"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRecording(t, smallConfig())
			require.NoError(t, attr.WriteScalar(r.attrs, attr.ScopeDataset, tt.key, tt.value))
			require.NoError(t, r.Close())

			_, err := Open(r.Filename(), ReadOnly)
			require.ErrorIs(t, err, ErrCorrupt)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestOpen_NotARecording(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk"+Extension)
	require.NoError(t, os.WriteFile(path, []byte("not a recording"), 0o644))
	_, err := Open(path, ReadOnly)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestCreate_InvalidConfigLeavesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad"+Extension)
	cfg := smallConfig()
	cfg.Channels = 0
	_, err := Create(path, cfg)
	assert.ErrorIs(t, err, ErrConfig)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestExtendAndTrim(t *testing.T) {
	r := newTestRecording(t, smallConfig())
	for k := 0; k < 4; k++ {
		require.NoError(t, r.AppendBlock(block(4, 50, k*50)))
	}
	assert.ErrorIs(t, r.AppendBlock(block(4, 50, 200)), ErrCapacity)

	require.NoError(t, r.Extend(100))
	assert.Equal(t, uint32(300), r.NSamples())
	require.NoError(t, r.AppendBlock(block(4, 50, 200)))

	require.NoError(t, r.Trim())
	assert.Equal(t, uint32(250), r.NSamples())
	require.NoError(t, r.Finalize())
	require.NoError(t, r.Close())

	ro, err := Open(r.Filename(), ReadOnly)
	require.NoError(t, err)
	defer ro.Close()
	assert.Equal(t, uint32(250), ro.NSamples())
	assert.Equal(t, uint32(250), ro.LastValidSample())
	got, err := ro.ReadSamples(0, 250)
	require.NoError(t, err)
	assert.Equal(t, block(4, 250, 0), got)
}

func TestTrim_EmptyRecording(t *testing.T) {
	r := newTestRecording(t, smallConfig())
	assert.ErrorIs(t, r.Trim(), ErrCapacity)
	assert.Equal(t, uint32(200), r.NSamples())
}

func TestFollower_Refresh(t *testing.T) {
	w := newTestRecording(t, smallConfig())
	f, err := Open(w.Filename(), ReadOnly)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.ReadSamples(0, 50)
	assert.ErrorIs(t, err, ErrRange)

	require.NoError(t, w.AppendBlock(block(4, 50, 0)))
	require.NoError(t, f.Refresh())
	assert.Equal(t, uint32(50), f.LastValidSample())
	got, err := f.ReadSamples(0, 50)
	require.NoError(t, err)
	assert.Equal(t, block(4, 50, 0), got)

	require.NoError(t, w.Finalize())
	require.NoError(t, f.Refresh())
	assert.False(t, f.Live())
}

func TestView_IsReadOnly(t *testing.T) {
	r := newTestRecording(t, smallConfig())
	info := r.View()
	_, ok := info.(Writer)
	assert.False(t, ok)

	require.NoError(t, r.AppendBlock(block(4, 50, 0)))
	assert.Equal(t, uint32(50), info.LastValidSample())
	assert.Equal(t, r.Snapshot(), info.Snapshot())
	assert.InDelta(t, 0.05, info.Snapshot().Duration(), 1e-12)
}

func TestConcurrentReaderNeverPassesBoundary(t *testing.T) {
	cfg := smallConfig()
	cfg.LengthSeconds = 1 // 1000 samples, 20 blocks
	r := newTestRecording(t, cfg)
	info := r.View()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			lvs := info.LastValidSample()
			if lvs == 0 {
				continue
			}
			got, err := info.ReadSamples(0, lvs)
			if !assert.NoError(t, err) {
				return
			}
			// Every visible sample must hold what was appended there.
			if !assert.Equal(t, block(4, int(lvs), 0), got) {
				return
			}
		}
	}()

	for k := 0; k < 20; k++ {
		require.NoError(t, r.AppendBlock(block(4, 50, k*50)))
	}
	close(done)
	wg.Wait()
	assert.Equal(t, uint32(1000), r.LastValidSample())
}

func TestClose_DoesNotFinalize(t *testing.T) {
	r := newTestRecording(t, smallConfig())
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())
	assert.ErrorIs(t, r.AppendBlock(block(4, 50, 0)), os.ErrClosed)

	ro, err := Open(r.Filename(), ReadOnly)
	require.NoError(t, err)
	defer ro.Close()
	assert.True(t, ro.Live())
}
