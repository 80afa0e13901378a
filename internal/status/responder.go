// Package status answers status queries about the recording in progress.
//
// Queries name the fields they want; replies carry exactly those fields. The
// payload codec maps both to protobuf Struct values so any transport can
// carry them.
package status

import (
	"errors"
	"sync/atomic"

	"github.com/mearec/mealog/internal/recording"
)

// ErrNotInitialized is returned while no recording is attached.
var ErrNotInitialized = errors.New("recording is not initialized")

type target struct {
	info   recording.Info
	status func() string
}

// Responder builds replies from the attached recording. It is safe for
// concurrent use; Respond never blocks on the writer.
type Responder struct {
	current atomic.Pointer[target]
}

// NewResponder returns a responder with nothing attached.
func NewResponder() *Responder {
	return &Responder{}
}

// Attach makes info the recording described by replies. statusFn reports the
// acquisition state and may be nil.
func (r *Responder) Attach(info recording.Info, statusFn func() string) {
	if info == nil {
		r.current.Store(nil)
		return
	}
	r.current.Store(&target{info: info, status: statusFn})
}

// Detach stops answering until the next Attach.
func (r *Responder) Detach() {
	r.current.Store(nil)
}

// Respond answers req from the attached recording.
func (r *Responder) Respond(req Request) (Reply, error) {
	t := r.current.Load()
	if t == nil {
		return Reply{}, ErrNotInitialized
	}
	info := t.info

	var reply Reply
	if req.Status && t.status != nil {
		reply.Status = ptr(t.status())
	}
	if req.Live {
		reply.Live = ptr(info.Live())
	}
	if req.Filename {
		reply.Filename = ptr(info.Filename())
	}
	if req.Length {
		reply.Length = ptr(info.Length())
	}
	if req.NSamples {
		reply.NSamples = ptr(info.NSamples())
	}
	if req.LastValidSample {
		reply.LastValidSample = ptr(info.LastValidSample())
	}
	if req.BlockSize {
		reply.BlockSize = ptr(info.BlockSize())
	}
	if req.SampleRate {
		reply.SampleRate = ptr(info.SampleRate())
	}
	if req.Gain {
		reply.Gain = ptr(info.Gain())
	}
	if req.Offset {
		reply.Offset = ptr(info.Offset())
	}
	if req.Date {
		reply.Date = ptr(info.Date())
	}
	return reply, nil
}

// RespondJSON decodes a JSON request, answers it and encodes the reply.
func (r *Responder) RespondJSON(data []byte) ([]byte, error) {
	req, err := UnmarshalRequestJSON(data)
	if err != nil {
		return nil, err
	}
	reply, err := r.Respond(req)
	if err != nil {
		return nil, err
	}
	return reply.MarshalProtoJSON()
}

func ptr[T any](v T) *T {
	return &v
}
