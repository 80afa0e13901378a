package acquisition

import (
	"time"
)

// Status represents the current state of the sink
type Status string

const (
	StatusStandby   Status = "STANDBY"
	StatusReady     Status = "READY"
	StatusRecording Status = "RECORDING"
	StatusError     Status = "ERROR"
)

// SessionInfo contains information about the current recording session
type SessionInfo struct {
	Name       string    `json:"name"`
	StartTime  time.Time `json:"start_time"`
	OutputFile string    `json:"output_file"`
	Channels   uint32    `json:"channels"`
	BlockSize  uint32    `json:"block_size"`
	SampleRate float64   `json:"sample_rate"`
	Source     string    `json:"source"`
	Blocks     int       `json:"blocks"`
}
