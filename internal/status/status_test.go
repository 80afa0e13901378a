package status

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/mearec/mealog/internal/recording"
	"github.com/mearec/mealog/internal/store"
)

func newRecording(t *testing.T) *recording.Recording {
	t.Helper()
	cfg := recording.Config{
		SampleRate:    2000,
		Channels:      2,
		BlockSize:     100,
		LengthSeconds: 0.5,
		ADCRange:      5,
		Date:          "Tue, Mar 05, 2024",
		Time:          "2:07:09 PM",
	}
	r, err := recording.Create(filepath.Join(t.TempDir(), "status"+recording.Extension), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestResponder_NotInitialized(t *testing.T) {
	r := NewResponder()
	_, err := r.Respond(AllFields())
	assert.ErrorIs(t, err, ErrNotInitialized)

	rec := newRecording(t)
	r.Attach(rec.View(), nil)
	r.Detach()
	_, err = r.Respond(AllFields())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestResponder_OnlyRequestedFields(t *testing.T) {
	rec := newRecording(t)
	r := NewResponder()
	r.Attach(rec.View(), func() string { return "RECORDING" })

	req, err := RequestFor(FieldLastValidSample, FieldGain)
	require.NoError(t, err)
	reply, err := r.Respond(req)
	require.NoError(t, err)
	require.NotNil(t, reply.LastValidSample)
	require.NotNil(t, reply.Gain)
	assert.Zero(t, *reply.LastValidSample)
	assert.Equal(t, 10.0/65536, *reply.Gain)
	assert.Nil(t, reply.Live)
	assert.Nil(t, reply.Filename)
	assert.Nil(t, reply.Status)

	require.NoError(t, rec.AppendBlock(store.NewSamples(2, 100)))
	reply, err = r.Respond(req)
	require.NoError(t, err)
	assert.Equal(t, uint32(100), *reply.LastValidSample)
}

func TestResponder_AllFields(t *testing.T) {
	rec := newRecording(t)
	r := NewResponder()
	r.Attach(rec.View(), func() string { return "READY" })

	reply, err := r.Respond(AllFields())
	require.NoError(t, err)
	assert.Equal(t, "READY", *reply.Status)
	assert.True(t, *reply.Live)
	assert.Equal(t, rec.Filename(), *reply.Filename)
	assert.Equal(t, 0.5, *reply.Length)
	assert.Equal(t, uint32(1000), *reply.NSamples)
	assert.Equal(t, uint32(100), *reply.BlockSize)
	assert.Equal(t, 2000.0, *reply.SampleRate)
	assert.Equal(t, 5.0, *reply.Offset)
	assert.Equal(t, "Tue, Mar 05, 2024", *reply.Date)
}

func TestRequest_StructRoundTrip(t *testing.T) {
	req, err := RequestFor(FieldLive, FieldDate, FieldNSamples)
	require.NoError(t, err)

	s := req.Struct()
	assert.Len(t, s.Fields, 3)
	got, err := ParseRequest(s)
	require.NoError(t, err)
	assert.Equal(t, req, got)

	_, err = RequestFor("pen")
	assert.Error(t, err)
}

func TestParseRequest_Rejects(t *testing.T) {
	s, err := structpb.NewStruct(map[string]any{"live": "yes"})
	require.NoError(t, err)
	_, err = ParseRequest(s)
	assert.Error(t, err)

	s, err = structpb.NewStruct(map[string]any{"autoscale": true})
	require.NoError(t, err)
	_, err = ParseRequest(s)
	assert.Error(t, err)

	req, err := UnmarshalRequestJSON([]byte(`{"live": false, "gain": true}`))
	require.NoError(t, err)
	assert.Equal(t, Request{Gain: true}, req)

	_, err = UnmarshalRequestJSON([]byte(`[1, 2]`))
	assert.Error(t, err)
}

func TestReply_StructRoundTrip(t *testing.T) {
	rec := newRecording(t)
	r := NewResponder()
	r.Attach(rec.View(), func() string { return "STANDBY" })
	reply, err := r.Respond(AllFields())
	require.NoError(t, err)

	s, err := reply.Struct()
	require.NoError(t, err)
	assert.Len(t, s.Fields, len(Fields))
	got, err := ParseReply(s)
	require.NoError(t, err)
	assert.Equal(t, reply, got)

	_, err = ParseReply(&structpb.Struct{Fields: map[string]*structpb.Value{
		FieldNSamples: structpb.NewNumberValue(-1),
	}})
	assert.Error(t, err)
}

func TestRespondJSON(t *testing.T) {
	rec := newRecording(t)
	r := NewResponder()
	r.Attach(rec.View(), nil)

	out, err := r.RespondJSON([]byte(`{"nsamples": true, "live": true}`))
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(out, &m))
	assert.Equal(t, map[string]any{"nsamples": 1000.0, "live": true}, m)

	reply, err := UnmarshalReplyJSON(out)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), *reply.NSamples)
	assert.True(t, *reply.Live)
}
