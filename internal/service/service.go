package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/mearec/mealog/internal/acquisition"
	"github.com/mearec/mealog/internal/config"
	"github.com/mearec/mealog/internal/recording"
	"github.com/mearec/mealog/internal/status"
)

// Service represents the core mealog service interface
type Service interface {
	// Recording operations
	InitRecording(name string) error
	StartRecording(ctx context.Context) error
	StopRecording() error
	WaitRecording() error
	DeinitRecording() error
	GetRecordingStatus() (acquisition.Status, *acquisition.SessionInfo)

	// Status queries about the current recording
	Status(req status.Request) (status.Reply, error)
	StatusJSON(data []byte) ([]byte, error)

	// Configuration operations
	LoadProfile(profile string) error
	GetConfig() *config.Config

	// Information operations
	OpenRecording(name string) (*recording.Recording, error)
	GetRecordingInfo(name string) (*recording.Snapshot, error)
	ListRecordings() ([]RecordingFile, error)
	FinalizeRecording(name string, trim bool) (*recording.Snapshot, error)
	GetLastError() string

	Close() error
}

// RecordingFile describes a recording container in the output directory
type RecordingFile struct {
	Name         string    `json:"name" yaml:"name"`
	Path         string    `json:"path" yaml:"path"`
	Size         int64     `json:"size" yaml:"size"`
	SizeHuman    string    `json:"size_human" yaml:"size_human"`
	ModTime      time.Time `json:"mod_time" yaml:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human" yaml:"mod_time_human"`
}

// Options configures a MealogService.
type Options struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	// NewSource overrides source construction, mainly for tests.
	NewSource func(opts acquisition.SourceOptions) (acquisition.Source, error)
}

// MealogService is the main service implementation
type MealogService struct {
	configFile string
	opts       Options
	log        *slog.Logger
	responder  *status.Responder

	mutex sync.Mutex
	cfg   *config.Config
	sink  *acquisition.Sink

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New creates a new mealog service instance
func New(cfg *config.Config, configFile string, opts Options) *MealogService {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.NewSource == nil {
		opts.NewSource = acquisition.NewSource
	}
	return &MealogService{
		configFile: configFile,
		opts:       opts,
		log:        log,
		responder:  status.NewResponder(),
		cfg:        cfg,
	}
}

// InitRecording creates the recording file for name (STANDBY -> READY)
func (s *MealogService) InitRecording(name string) error {
	s.log.Debug("Service.InitRecording called", "name", name)
	s.clearLastError()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.sink != nil {
		if st, _ := s.sink.Status(); st == acquisition.StatusReady || st == acquisition.StatusRecording {
			err := fmt.Errorf("recording already initialized, current: %s", st)
			s.setLastError(err.Error())
			return err
		}
		s.closeSink()
	}

	rc, err := s.cfg.RecordingConfig()
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to init recording: %v", err))
		return err
	}
	source, err := s.opts.NewSource(s.cfg.SourceOptions())
	if err != nil {
		s.setLastError(fmt.Sprintf("Failed to open source: %v", err))
		return fmt.Errorf("failed to open source: %w", err)
	}

	sink := acquisition.NewSink(source, acquisition.Options{
		Directory: s.cfg.Output.Directory,
		Overwrite: s.cfg.Output.AllowOverwrite(),
		Recording: rc,
		Logger:    s.log,
		Tracer:    s.opts.Tracer,
		OnBlock: func(info recording.Info) {
			s.log.Debug("Block stored", "lastValidSample", info.LastValidSample(), "nsamples", info.NSamples())
		},
	})
	if err := sink.Prepare(name); err != nil {
		sink.Close()
		s.setLastError(fmt.Sprintf("Failed to init recording: %v", err))
		return err
	}

	s.sink = sink
	s.responder.Attach(sink.Recording(), func() string {
		st, _ := sink.Status()
		return string(st)
	})
	return nil
}

// StartRecording begins acquisition (READY -> RECORDING)
func (s *MealogService) StartRecording(ctx context.Context) error {
	sink, err := s.currentSink()
	if err != nil {
		return err
	}
	if err := sink.Start(ctx); err != nil {
		s.setLastError(fmt.Sprintf("Failed to start recording: %v", err))
		return err
	}
	return nil
}

// StopRecording stops the current acquisition and finalizes the recording
func (s *MealogService) StopRecording() error {
	sink, err := s.currentSink()
	if err != nil {
		return err
	}
	if err := sink.Stop(); err != nil {
		s.setLastError(fmt.Sprintf("Failed to stop recording: %v", err))
		return err
	}
	s.clearLastError()
	return nil
}

// WaitRecording blocks until the running acquisition ends on its own
func (s *MealogService) WaitRecording() error {
	sink, err := s.currentSink()
	if err != nil {
		return err
	}
	if err := sink.Wait(); err != nil {
		s.setLastError(fmt.Sprintf("Recording failed: %v", err))
		return err
	}
	return nil
}

// DeinitRecording releases the current recording. A prepared recording that
// never started is deleted; completed and failed recordings keep their file.
func (s *MealogService) DeinitRecording() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.sink == nil {
		return nil
	}
	switch st, _ := s.sink.Status(); st {
	case acquisition.StatusRecording:
		return fmt.Errorf("cannot deinit while recording, stop it first")
	case acquisition.StatusReady:
		if err := s.sink.Cancel(); err != nil {
			return err
		}
	}
	s.closeSink()
	return nil
}

// GetRecordingStatus returns the current recording status and session info
func (s *MealogService) GetRecordingStatus() (acquisition.Status, *acquisition.SessionInfo) {
	s.mutex.Lock()
	sink := s.sink
	s.mutex.Unlock()

	if sink == nil {
		return acquisition.StatusStandby, nil
	}
	st, session := sink.Status()
	if st != acquisition.StatusError {
		// Auto-clear any previous errors once the sink has recovered
		s.clearLastError()
	}
	return st, session
}

// Status answers a status query about the attached recording
func (s *MealogService) Status(req status.Request) (status.Reply, error) {
	return s.responder.Respond(req)
}

// StatusJSON answers a JSON-encoded status query
func (s *MealogService) StatusJSON(data []byte) ([]byte, error) {
	return s.responder.RespondJSON(data)
}

// LoadProfile loads a new configuration profile
func (s *MealogService) LoadProfile(profile string) error {
	newCfg, err := config.LoadWithProfile(s.configFile, profile)
	if err != nil {
		return fmt.Errorf("failed to load profile '%s': %w", profile, err)
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.sink != nil {
		if st, _ := s.sink.Status(); st == acquisition.StatusRecording {
			return fmt.Errorf("cannot change profile while recording")
		}
	}
	s.cfg = newCfg
	return nil
}

// GetConfig returns the current configuration
func (s *MealogService) GetConfig() *config.Config {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.cfg
}

// OpenRecording opens a stored recording read-only. name is either a path
// or a recording name in the output directory. The caller closes it.
func (s *MealogService) OpenRecording(name string) (*recording.Recording, error) {
	rec, err := recording.Open(s.resolve(name), recording.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	return rec, nil
}

// GetRecordingInfo opens a stored recording read-only and returns its metadata
func (s *MealogService) GetRecordingInfo(name string) (*recording.Snapshot, error) {
	rec, err := s.OpenRecording(name)
	if err != nil {
		return nil, err
	}
	defer rec.Close()

	snap := rec.Snapshot()
	return &snap, nil
}

// FinalizeRecording ends a recording left live by an interrupted writer.
// With trim, storage past the last valid sample is released.
func (s *MealogService) FinalizeRecording(name string, trim bool) (*recording.Snapshot, error) {
	path := s.resolve(name)
	rec, err := recording.Open(path, recording.ReadWrite)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer rec.Close()

	if err := rec.Finalize(); err != nil {
		return nil, fmt.Errorf("failed to finalize recording: %w", err)
	}
	if trim && rec.LastValidSample() < rec.NSamples() {
		if err := rec.Trim(); err != nil {
			return nil, fmt.Errorf("failed to trim recording: %w", err)
		}
	}
	s.log.Info("Recording finalized", "file", path, "lastValidSample", rec.LastValidSample(), "trimmed", trim)

	snap := rec.Snapshot()
	return &snap, nil
}

// ListRecordings returns all recordings in the output directory, newest first
func (s *MealogService) ListRecordings() ([]RecordingFile, error) {
	dir := s.GetConfig().Output.Directory

	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read recordings directory: %w", err)
	}

	var recordings []RecordingFile
	for _, file := range files {
		if file.IsDir() || !strings.EqualFold(filepath.Ext(file.Name()), recording.Extension) {
			continue
		}
		info, err := file.Info()
		if err != nil {
			s.log.Warn("Failed to get file info", "file", file.Name(), "error", err)
			continue
		}
		recordings = append(recordings, RecordingFile{
			Name:         strings.TrimSuffix(file.Name(), filepath.Ext(file.Name())),
			Path:         filepath.Join(dir, file.Name()),
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})
	return recordings, nil
}

// Close stops any acquisition and releases the current recording
func (s *MealogService) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.responder.Detach()
	if s.sink == nil {
		return nil
	}
	err := s.sink.Close()
	s.sink = nil
	return err
}

// resolve maps a recording name or path to a file path. Bare names are
// looked up in the output directory.
func (s *MealogService) resolve(name string) string {
	if strings.ContainsRune(name, os.PathSeparator) || strings.HasSuffix(name, recording.Extension) {
		return name
	}
	return filepath.Join(s.GetConfig().Output.Directory, acquisition.CleanFileName(name)+recording.Extension)
}

func (s *MealogService) currentSink() (*acquisition.Sink, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.sink == nil {
		return nil, fmt.Errorf("no recording initialized, call InitRecording first")
	}
	return s.sink, nil
}

// closeSink releases the current sink. Callers hold s.mutex.
func (s *MealogService) closeSink() {
	if s.sink == nil {
		return
	}
	s.responder.Detach()
	if err := s.sink.Close(); err != nil {
		s.log.Warn("Failed to close sink", "error", err)
	}
	s.sink = nil
}

// GetLastError returns the last error message (thread-safe)
func (s *MealogService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *MealogService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	s.log.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *MealogService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

var _ Service = (*MealogService)(nil)
