package progress

import (
	"errors"
	"time"

	"velo/internal/campaign"
)

var (
	ErrUnknownDriver = errors.New("unknown progress driver")
	// ErrCorrupt wraps a saved checkpoint that cannot be decoded.
	ErrCorrupt = errors.New("saved progress is corrupt")
)

type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is a campaign.ProgressStore that owns resources.
type Store interface {
	campaign.ProgressStore
	Close() error
}
