package recording

import "github.com/mearec/mealog/internal/store"

// Info is the read-only view of a recording. It is what status queries and
// sample readers are given.
type Info interface {
	Filename() string
	Type() int16
	Version() int16
	SampleRate() float64
	Channels() uint32
	BlockSize() uint32
	Gain() float64
	Offset() float64
	Date() string
	Time() string
	Room() string
	Length() float64
	ADCRange() float64
	NSamples() uint32
	LastValidSample() uint32
	Live() bool

	ReadSamples(start, end uint32) (*store.Samples, error)
	ReadVoltage(start, end uint32) (*store.Voltages, error)
	Snapshot() Snapshot
}

// Writer is handed only to the component that owns acquisition.
type Writer interface {
	Info
	AppendBlock(samples *store.Samples) error
	Finalize() error
	Extend(additional uint32) error
	Trim() error
	Close() error
}

var (
	_ Writer = (*Recording)(nil)
	_ Info   = view{}
)

// view hides the mutating methods of a Recording.
type view struct {
	r *Recording
}

// View returns an Info that cannot be asserted back to a Writer.
func (r *Recording) View() Info {
	return view{r: r}
}

func (v view) Filename() string { return v.r.Filename() }
func (v view) Type() int16 { return v.r.Type() }
func (v view) Version() int16 { return v.r.Version() }
func (v view) SampleRate() float64 { return v.r.SampleRate() }
func (v view) Channels() uint32 { return v.r.Channels() }
func (v view) BlockSize() uint32 { return v.r.BlockSize() }
func (v view) Gain() float64 { return v.r.Gain() }
func (v view) Offset() float64 { return v.r.Offset() }
func (v view) Date() string { return v.r.Date() }
func (v view) Time() string { return v.r.Time() }
func (v view) Room() string { return v.r.Room() }
func (v view) Length() float64 { return v.r.Length() }
func (v view) ADCRange() float64 { return v.r.ADCRange() }
func (v view) NSamples() uint32 { return v.r.NSamples() }
func (v view) LastValidSample() uint32 { return v.r.LastValidSample() }
func (v view) Live() bool { return v.r.Live() }
func (v view) Snapshot() Snapshot { return v.r.Snapshot() }

func (v view) ReadSamples(start, end uint32) (*store.Samples, error) {
	return v.r.ReadSamples(start, end)
}

func (v view) ReadVoltage(start, end uint32) (*store.Voltages, error) {
	return v.r.ReadVoltage(start, end)
}

// Snapshot is a point-in-time copy of every attribute.
type Snapshot struct {
	Filename        string  `json:"filename" yaml:"filename"`
	Type            int16   `json:"type" yaml:"type"`
	Version         int16   `json:"version" yaml:"version"`
	Live            bool    `json:"live" yaml:"live"`
	SampleRate      float64 `json:"sampleRate" yaml:"sample_rate"`
	Channels        uint32  `json:"nchannels" yaml:"nchannels"`
	BlockSize       uint32  `json:"blockSize" yaml:"block_size"`
	NSamples        uint32  `json:"nsamples" yaml:"nsamples"`
	LastValidSample uint32  `json:"lastValidSample" yaml:"last_valid_sample"`
	Gain            float64 `json:"gain" yaml:"gain"`
	Offset          float64 `json:"offset" yaml:"offset"`
	Length          float64 `json:"length" yaml:"length"`
	ADCRange        float64 `json:"adcRange" yaml:"adc_range"`
	Date            string  `json:"date" yaml:"date"`
	Time            string  `json:"time" yaml:"time"`
	Room            string  `json:"room" yaml:"room"`
}

// Snapshot copies the current attributes.
func (r *Recording) Snapshot() Snapshot {
	return Snapshot{
		Filename:        r.Filename(),
		Type:            r.fileType,
		Version:         r.version,
		Live:            r.Live(),
		SampleRate:      r.rate,
		Channels:        r.channels,
		BlockSize:       r.blockSize,
		NSamples:        r.NSamples(),
		LastValidSample: r.LastValidSample(),
		Gain:            r.gain,
		Offset:          r.offset,
		Length:          r.length,
		ADCRange:        r.adcRange,
		Date:            r.date,
		Time:            r.time,
		Room:            r.room,
	}
}

// Duration returns the written part of the recording in seconds.
func (s Snapshot) Duration() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(s.LastValidSample) / s.SampleRate
}
