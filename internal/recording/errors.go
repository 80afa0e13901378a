package recording

import (
	"errors"

	"github.com/mearec/mealog/internal/store"
)

var (
	ErrCorrupt  = errors.New("corrupt recording")
	ErrCapacity = errors.New("recording capacity exceeded")
	ErrNotLive  = errors.New("recording is not live")
	ErrConfig   = errors.New("invalid recording config")
)

// Errors surfaced unchanged from the sample store.
var (
	ErrFormat     = store.ErrFormat
	ErrAllocation = store.ErrAllocation
	ErrRange      = store.ErrRange
	ErrIO         = store.ErrIO
	ErrLocked     = store.ErrLocked
	ErrReadOnly   = store.ErrReadOnly
)
