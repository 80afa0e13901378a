package status

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Field names as they appear on the wire.
const (
	FieldStatus          = "status"
	FieldLive            = "live"
	FieldFilename        = "filename"
	FieldLength          = "length"
	FieldNSamples        = "nsamples"
	FieldLastValidSample = "lastValidSample"
	FieldBlockSize       = "blockSize"
	FieldSampleRate      = "sampleRate"
	FieldGain            = "gain"
	FieldOffset          = "offset"
	FieldDate            = "date"
)

// Fields lists every requestable field in wire order.
var Fields = []string{
	FieldStatus, FieldLive, FieldFilename, FieldLength, FieldNSamples,
	FieldLastValidSample, FieldBlockSize, FieldSampleRate, FieldGain,
	FieldOffset, FieldDate,
}

// Request selects the fields a status query wants. Each field is
// independent.
type Request struct {
	Status          bool
	Live            bool
	Filename        bool
	Length          bool
	NSamples        bool
	LastValidSample bool
	BlockSize       bool
	SampleRate      bool
	Gain            bool
	Offset          bool
	Date            bool
}

// AllFields requests every field.
func AllFields() Request {
	return Request{true, true, true, true, true, true, true, true, true, true, true}
}

func (r *Request) flag(name string) *bool {
	switch name {
	case FieldStatus:
		return &r.Status
	case FieldLive:
		return &r.Live
	case FieldFilename:
		return &r.Filename
	case FieldLength:
		return &r.Length
	case FieldNSamples:
		return &r.NSamples
	case FieldLastValidSample:
		return &r.LastValidSample
	case FieldBlockSize:
		return &r.BlockSize
	case FieldSampleRate:
		return &r.SampleRate
	case FieldGain:
		return &r.Gain
	case FieldOffset:
		return &r.Offset
	case FieldDate:
		return &r.Date
	}
	return nil
}

// RequestFor builds a request for the named fields.
func RequestFor(names ...string) (Request, error) {
	var r Request
	for _, name := range names {
		p := r.flag(name)
		if p == nil {
			return Request{}, fmt.Errorf("unknown status field %q", name)
		}
		*p = true
	}
	return r, nil
}

// Struct encodes the request as a struct of booleans. Fields not requested
// are omitted.
func (r Request) Struct() *structpb.Struct {
	s := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	for _, name := range Fields {
		if *r.flag(name) {
			s.Fields[name] = structpb.NewBoolValue(true)
		}
	}
	return s
}

// ParseRequest decodes a request. A field set to false is the same as an
// absent field.
func ParseRequest(s *structpb.Struct) (Request, error) {
	var r Request
	if s == nil {
		return r, nil
	}
	for name, v := range s.Fields {
		p := r.flag(name)
		if p == nil {
			return Request{}, fmt.Errorf("unknown status field %q", name)
		}
		b, ok := v.GetKind().(*structpb.Value_BoolValue)
		if !ok {
			return Request{}, fmt.Errorf("status field %q must be a boolean", name)
		}
		*p = b.BoolValue
	}
	return r, nil
}

// UnmarshalRequestJSON decodes a JSON request object.
func UnmarshalRequestJSON(data []byte) (Request, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return Request{}, fmt.Errorf("invalid status request: %w", err)
	}
	return ParseRequest(&s)
}

// Reply carries the requested fields. A nil field was not requested.
type Reply struct {
	Status          *string  `json:"status,omitempty" yaml:"status,omitempty"`
	Live            *bool    `json:"live,omitempty" yaml:"live,omitempty"`
	Filename        *string  `json:"filename,omitempty" yaml:"filename,omitempty"`
	Length          *float64 `json:"length,omitempty" yaml:"length,omitempty"`
	NSamples        *uint32  `json:"nsamples,omitempty" yaml:"nsamples,omitempty"`
	LastValidSample *uint32  `json:"lastValidSample,omitempty" yaml:"last_valid_sample,omitempty"`
	BlockSize       *uint32  `json:"blockSize,omitempty" yaml:"block_size,omitempty"`
	SampleRate      *float64 `json:"sampleRate,omitempty" yaml:"sample_rate,omitempty"`
	Gain            *float64 `json:"gain,omitempty" yaml:"gain,omitempty"`
	Offset          *float64 `json:"offset,omitempty" yaml:"offset,omitempty"`
	Date            *string  `json:"date,omitempty" yaml:"date,omitempty"`
}

// Struct encodes the present fields.
func (r Reply) Struct() (*structpb.Struct, error) {
	m := map[string]any{}
	put := func(name string, present bool, v any) {
		if present {
			m[name] = v
		}
	}
	put(FieldStatus, r.Status != nil, deref(r.Status))
	put(FieldLive, r.Live != nil, deref(r.Live))
	put(FieldFilename, r.Filename != nil, deref(r.Filename))
	put(FieldLength, r.Length != nil, deref(r.Length))
	put(FieldNSamples, r.NSamples != nil, deref(r.NSamples))
	put(FieldLastValidSample, r.LastValidSample != nil, deref(r.LastValidSample))
	put(FieldBlockSize, r.BlockSize != nil, deref(r.BlockSize))
	put(FieldSampleRate, r.SampleRate != nil, deref(r.SampleRate))
	put(FieldGain, r.Gain != nil, deref(r.Gain))
	put(FieldOffset, r.Offset != nil, deref(r.Offset))
	put(FieldDate, r.Date != nil, deref(r.Date))
	return structpb.NewStruct(m)
}

// MarshalProtoJSON encodes the reply as a JSON object.
func (r Reply) MarshalProtoJSON() ([]byte, error) {
	s, err := r.Struct()
	if err != nil {
		return nil, err
	}
	return protojson.Marshal(s)
}

// ParseReply decodes a reply struct.
func ParseReply(s *structpb.Struct) (Reply, error) {
	var r Reply
	if s == nil {
		return r, nil
	}
	for name, v := range s.Fields {
		var err error
		switch name {
		case FieldStatus:
			r.Status, err = stringField(name, v)
		case FieldLive:
			r.Live, err = boolField(name, v)
		case FieldFilename:
			r.Filename, err = stringField(name, v)
		case FieldLength:
			r.Length, err = numberField(name, v)
		case FieldNSamples:
			r.NSamples, err = uint32Field(name, v)
		case FieldLastValidSample:
			r.LastValidSample, err = uint32Field(name, v)
		case FieldBlockSize:
			r.BlockSize, err = uint32Field(name, v)
		case FieldSampleRate:
			r.SampleRate, err = numberField(name, v)
		case FieldGain:
			r.Gain, err = numberField(name, v)
		case FieldOffset:
			r.Offset, err = numberField(name, v)
		case FieldDate:
			r.Date, err = stringField(name, v)
		default:
			err = fmt.Errorf("unknown status field %q", name)
		}
		if err != nil {
			return Reply{}, err
		}
	}
	return r, nil
}

// UnmarshalReplyJSON decodes a JSON reply object.
func UnmarshalReplyJSON(data []byte) (Reply, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return Reply{}, fmt.Errorf("invalid status reply: %w", err)
	}
	return ParseReply(&s)
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func stringField(name string, v *structpb.Value) (*string, error) {
	k, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return nil, fmt.Errorf("status field %q must be a string", name)
	}
	return &k.StringValue, nil
}

func boolField(name string, v *structpb.Value) (*bool, error) {
	k, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return nil, fmt.Errorf("status field %q must be a boolean", name)
	}
	return &k.BoolValue, nil
}

func numberField(name string, v *structpb.Value) (*float64, error) {
	k, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return nil, fmt.Errorf("status field %q must be a number", name)
	}
	return &k.NumberValue, nil
}

func uint32Field(name string, v *structpb.Value) (*uint32, error) {
	f, err := numberField(name, v)
	if err != nil {
		return nil, err
	}
	if *f < 0 || *f > math.MaxUint32 || *f != math.Trunc(*f) {
		return nil, fmt.Errorf("status field %q out of range: %v", name, *f)
	}
	n := uint32(*f)
	return &n, nil
}
