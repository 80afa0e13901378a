package acquisition

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mearec/mealog/internal/recording"
	"github.com/mearec/mealog/internal/store"
)

func newRecordingTracer(t *testing.T) (*tracetest.SpanRecorder, func(*Options)) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return sr, func(o *Options) { o.Tracer = tp.Tracer("acquisition-test") }
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestSink_TracesEveryAppendedBlock(t *testing.T) {
	sr, withTracer := newRecordingTracer(t)
	s := newTestSink(t, NewSynthetic(SyntheticOptions{SampleRate: 1000, Amplitude: 0.5, Seed: 3}), withTracer)

	require.NoError(t, s.Prepare("traced"))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Wait())

	spans := sr.Ended()
	require.Len(t, spans, 5)
	for i, span := range spans {
		assert.Equal(t, "Sink.AppendBlock", span.Name())
		assert.Equal(t, codes.Unset, span.Status().Code)

		start, ok := spanAttr(span, "recording.start_sample")
		require.True(t, ok)
		assert.Equal(t, int64(i*100), start.AsInt64())
		width, ok := spanAttr(span, "recording.block_width")
		require.True(t, ok)
		assert.Equal(t, int64(100), width.AsInt64())
		file, ok := spanAttr(span, "recording.file")
		require.True(t, ok)
		assert.Equal(t, s.Recording().Filename(), file.AsString())
	}
}

// reshapingSource corrupts the block shape after the first good block, so
// the recording rejects the append.
type reshapingSource struct {
	reads int
}

func (r *reshapingSource) ReadBlock(ctx context.Context, dst *store.Samples) error {
	r.reads++
	if r.reads > 1 {
		dst.Channels++
	}
	return nil
}

func (r *reshapingSource) Name() string { return "reshaping" }
func (r *reshapingSource) Close() error { return nil }

func TestSink_FailedAppendMarksSpanError(t *testing.T) {
	sr, withTracer := newRecordingTracer(t)
	s := newTestSink(t, &reshapingSource{}, withTracer)

	require.NoError(t, s.Prepare("rejected"))
	require.NoError(t, s.Start(context.Background()))
	err := s.Wait()
	assert.ErrorIs(t, err, recording.ErrRange)

	status, _ := s.Status()
	assert.Equal(t, StatusError, status)
	assert.Equal(t, uint32(100), s.Recording().LastValidSample())

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	failed := spans[1]
	assert.Equal(t, "Sink.AppendBlock", failed.Name())
	assert.Equal(t, codes.Error, failed.Status().Code)
	assert.Equal(t, "append_block_failed", failed.Status().Description)
	require.NotEmpty(t, failed.Events())
	assert.Equal(t, "exception", failed.Events()[0].Name)
}
