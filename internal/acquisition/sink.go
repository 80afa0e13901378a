// Package acquisition drives a recording from a block source.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/mearec/mealog/internal/recording"
	"github.com/mearec/mealog/internal/store"
)

// Options configures a Sink.
type Options struct {
	Directory string
	Overwrite bool
	Recording recording.Config
	Logger    *slog.Logger
	Tracer    trace.Tracer
	// OnBlock is called after each block is durably appended.
	OnBlock func(info recording.Info)
}

// Sink owns the writer side of one recording at a time. It moves through
// STANDBY → READY → RECORDING and back to STANDBY, or to ERROR when a block
// cannot be stored.
type Sink struct {
	opts   Options
	source Source
	log    *slog.Logger
	tracer trace.Tracer

	mutex   sync.RWMutex
	status  Status
	session *SessionInfo
	rec     *recording.Recording
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

// NewSink creates a sink reading from source.
func NewSink(source Source, opts Options) *Sink {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("acquisition")
	}
	return &Sink{
		opts:   opts,
		source: source,
		log:    log,
		tracer: tracer,
		status: StatusStandby,
	}
}

// Prepare creates the recording file for name and transitions from STANDBY
// (or ERROR) to READY. An existing file is replaced only when Overwrite is
// set.
func (s *Sink) Prepare(name string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.status != StatusStandby && s.status != StatusError {
		return fmt.Errorf("can only prepare from standby or error state, current: %s", s.status)
	}
	cleanName := CleanFileName(name)
	if cleanName == "" {
		return fmt.Errorf("recording name is required")
	}
	if err := s.closeRecording(); err != nil {
		s.log.Warn("Failed to close previous recording", "error", err)
	}

	if err := os.MkdirAll(s.opts.Directory, 0o755); err != nil {
		s.status = StatusError
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	outputFile := filepath.Join(s.opts.Directory, cleanName+recording.Extension)

	if _, err := os.Stat(outputFile); err == nil {
		if !s.opts.Overwrite {
			return fmt.Errorf("recording already exists: %s", outputFile)
		}
		if err := os.Remove(outputFile); err != nil {
			s.status = StatusError
			return fmt.Errorf("failed to remove existing recording: %w", err)
		}
		s.log.Info("Removed existing recording", "file", outputFile)
	}

	rec, err := recording.Create(outputFile, s.opts.Recording)
	if err != nil {
		s.status = StatusError
		return fmt.Errorf("failed to create recording: %w", err)
	}

	s.rec = rec
	s.runErr = nil
	s.session = &SessionInfo{
		Name:       cleanName,
		OutputFile: outputFile,
		Channels:   rec.Channels(),
		BlockSize:  rec.BlockSize(),
		SampleRate: rec.SampleRate(),
		Source:     s.source.Name(),
	}
	s.status = StatusReady

	s.log.Info("Recording ready", "file", outputFile, "channels", rec.Channels(), "nsamples", rec.NSamples())
	return nil
}

// Start begins acquisition from READY state. Blocks are appended in the
// background until the recording is full, the source is exhausted, Stop is
// called or ctx is cancelled; the recording is then finalized.
func (s *Sink) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.status != StatusReady {
		return fmt.Errorf("can only start recording from ready state, current: %s", s.status)
	}
	if s.rec == nil {
		return fmt.Errorf("no recording prepared, call Prepare first")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.session.StartTime = time.Now()
	s.status = StatusRecording

	s.log.Info("Recording started", "file", s.session.OutputFile, "source", s.source.Name())
	go s.run(runCtx, cancel, s.rec, s.done)
	return nil
}

func (s *Sink) run(ctx context.Context, cancel context.CancelFunc, rec *recording.Recording, done chan struct{}) {
	defer close(done)
	defer cancel()
	err := s.acquire(ctx, rec)

	if ferr := rec.Finalize(); ferr != nil {
		err = errors.Join(err, fmt.Errorf("failed to finalize recording: %w", ferr))
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.runErr = err
	if err != nil {
		s.status = StatusError
		s.log.Error("Recording failed", "file", rec.Filename(), "lastValidSample", rec.LastValidSample(), "error", err)
		return
	}
	s.status = StatusStandby
	s.log.Info("Recording completed", "file", rec.Filename(), "samples", rec.LastValidSample(), "seconds", rec.Snapshot().Duration())
}

func (s *Sink) acquire(ctx context.Context, rec *recording.Recording) error {
	channels := int(rec.Channels())
	for {
		remaining := rec.NSamples() - rec.LastValidSample()
		if remaining == 0 {
			return nil
		}
		width := min(rec.BlockSize(), remaining)
		block := store.NewSamples(channels, int(width))

		if err := s.source.ReadBlock(ctx, block); err != nil {
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), errors.Is(err, io.EOF):
				s.log.Debug("Acquisition ended", "reason", err, "lastValidSample", rec.LastValidSample())
				return nil
			default:
				return fmt.Errorf("failed to read block: %w", err)
			}
		}

		if err := s.appendBlock(ctx, rec, block); err != nil {
			return err
		}
		s.mutex.Lock()
		s.session.Blocks++
		s.mutex.Unlock()

		if s.opts.OnBlock != nil {
			s.opts.OnBlock(rec.View())
		}
	}
}

func (s *Sink) appendBlock(ctx context.Context, rec *recording.Recording, block *store.Samples) error {
	start := rec.LastValidSample()
	_, span := s.tracer.Start(ctx, "Sink.AppendBlock")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("recording.start_sample", int64(start)),
		attribute.Int("recording.block_width", block.Samples),
		attribute.String("recording.file", rec.Filename()),
	)

	if err := rec.AppendBlock(block); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append_block_failed")
		return fmt.Errorf("failed to append block at sample %d: %w", start, err)
	}
	s.log.Debug("Block appended", "start", start, "width", block.Samples)
	return nil
}

// Stop ends the current acquisition and waits for the recording to be
// finalized.
func (s *Sink) Stop() error {
	s.mutex.Lock()
	if s.status != StatusRecording {
		s.mutex.Unlock()
		return fmt.Errorf("no recording in progress")
	}
	cancel, done := s.cancel, s.done
	s.mutex.Unlock()

	s.log.Debug("Stopping recording...")
	cancel()
	<-done
	return s.Err()
}

// Wait blocks until the running acquisition ends and returns its error.
func (s *Sink) Wait() error {
	s.mutex.RLock()
	done := s.done
	s.mutex.RUnlock()
	if done != nil {
		<-done
	}
	return s.Err()
}

// Cancel abandons a prepared recording and deletes its file, returning to
// STANDBY.
func (s *Sink) Cancel() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.status == StatusRecording {
		return fmt.Errorf("cannot cancel while recording, stop first")
	}
	if s.rec == nil {
		s.status = StatusStandby
		s.session = nil
		return nil
	}

	path := s.rec.Filename()
	err := s.closeRecording()
	if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
		err = errors.Join(err, fmt.Errorf("failed to remove recording: %w", rmErr))
	}
	s.status = StatusStandby
	s.session = nil
	s.runErr = nil
	s.log.Debug("Recording cancelled", "file", path)
	return err
}

// Err returns the error that ended the last acquisition, if any.
func (s *Sink) Err() error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.runErr
}

// Status returns the current status and a copy of the session info
func (s *Sink) Status() (Status, *SessionInfo) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var sessionCopy *SessionInfo
	if s.session != nil {
		c := *s.session
		sessionCopy = &c
	}
	return s.status, sessionCopy
}

// Recording returns a read-only view of the current recording, or nil.
func (s *Sink) Recording() recording.Info {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.rec == nil {
		return nil
	}
	return s.rec.View()
}

// Close stops any acquisition and releases the recording and the source.
func (s *Sink) Close() error {
	s.mutex.RLock()
	active := s.status == StatusRecording
	s.mutex.RUnlock()
	if active {
		if err := s.Stop(); err != nil {
			s.log.Warn("Recording ended with error", "error", err)
		}
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	err := s.closeRecording()
	if cerr := s.source.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	s.status = StatusStandby
	s.log.Debug("Sink closed")
	return err
}

// closeRecording closes the current recording. Callers hold s.mutex.
func (s *Sink) closeRecording() error {
	if s.rec == nil {
		return nil
	}
	err := s.rec.Close()
	s.rec = nil
	return err
}

// CleanFileName sanitizes a recording name.
// Allows: letters, numbers, spaces, hyphens, underscores
func CleanFileName(name string) string {
	var result strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' || r == '-' || r == '_' {
			result.WriteRune(r)
		}
	}
	return strings.ReplaceAll(strings.TrimSpace(result.String()), " ", "_")
}
