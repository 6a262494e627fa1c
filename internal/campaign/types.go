// Package campaign runs a dispatch campaign: one sequential stream of sends
// over an ordered contact list, paced by a delay policy, interruptible by
// pause and stop requests, and checkpointed after every contact so a run can
// be resumed from the exact next unsent contact.
package campaign

import (
	"context"
	"errors"
	"time"

	"velo/internal/transport"
)

var (
	ErrEmptyCampaign        = errors.New("campaign has no contacts")
	ErrConfirmationRequired = errors.New("recipient count exceeds the safety threshold; confirmation required")
	ErrInvalidTransition    = errors.New("invalid campaign state transition")
	ErrCorruptCheckpoint    = errors.New("checkpoint is inconsistent")
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusStopping  Status = "stopping"
	StatusStopped   Status = "stopped"
	StatusCompleted Status = "completed"
)

// Active reports whether a worker owns the campaign in this status.
func (s Status) Active() bool {
	return s == StatusRunning || s == StatusPaused || s == StatusStopping
}

// Terminal reports whether the campaign is finished (a new Start is allowed).
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusCompleted
}

type FailureReason string

const (
	ReasonInvalidRecipient FailureReason = "invalid_recipient"
	ReasonTimeout          FailureReason = "timeout"
	ReasonTransportError   FailureReason = "transport_error"
)

// reasonFor maps a non-success outcome onto the failure taxonomy.
func reasonFor(o transport.Outcome) FailureReason {
	switch o.Kind {
	case transport.KindRejected:
		return ReasonInvalidRecipient
	case transport.KindTimeout:
		return ReasonTimeout
	default:
		return ReasonTransportError
	}
}

// FailureRecord is appended once per failed contact and never removed during a run.
type FailureRecord struct {
	RecipientID string        `json:"recipient_id"`
	DisplayName string        `json:"display_name"`
	Reason      FailureReason `json:"reason"`
	Detail      string        `json:"detail,omitempty"`
	SourceRow   int           `json:"source_row,omitempty"`
	At          time.Time     `json:"timestamp"`
}

// Checkpoint is the persisted mirror of a campaign's state.
type Checkpoint struct {
	Identity     Identity        `json:"identity"`
	RunID        string          `json:"run_id"`
	Total        int             `json:"total"`
	Cursor       int             `json:"cursor"`
	SuccessCount int             `json:"success_count"`
	FailedCount  int             `json:"failed_count"`
	FailedLog    []FailureRecord `json:"failed_log"`
	Status       Status          `json:"status"`
	StartedAt    time.Time       `json:"started_at"`
	UpdatedAt    time.Time       `json:"last_update"`
}

// Validate checks the counter invariants of a loaded checkpoint.
func (c Checkpoint) Validate() error {
	switch {
	case c.Total < 0 || c.Cursor < 0 || c.Cursor > c.Total:
		return ErrCorruptCheckpoint
	case c.SuccessCount < 0 || c.FailedCount < 0:
		return ErrCorruptCheckpoint
	case c.SuccessCount+c.FailedCount != c.Cursor:
		return ErrCorruptCheckpoint
	case len(c.FailedLog) != c.FailedCount:
		return ErrCorruptCheckpoint
	}
	return nil
}

// ProgressStore persists checkpoints. Load returns (nil, nil) when nothing is saved.
type ProgressStore interface {
	Load(ctx context.Context) (*Checkpoint, error)
	Save(ctx context.Context, cp Checkpoint) error
	Clear(ctx context.Context) error
}

// Pacer yields the wait before the next send given the number of sends the
// campaign has completed so far.
type Pacer interface {
	Delay(sent int) time.Duration
}

// Snapshot is a read-only copy of the campaign state for control surfaces.
type Snapshot struct {
	Status     Status    `json:"status"`
	RunID      string    `json:"run_id,omitempty"`
	Identity   Identity  `json:"identity"`
	Total      int       `json:"total"`
	Cursor     int       `json:"cursor"`
	Success    int       `json:"success"`
	Failed     int       `json:"failed"`
	Resumed    bool      `json:"resumed"`
	StartedAt  time.Time `json:"started_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
	NextSendAt time.Time `json:"next_send_at,omitempty"`
}

func (s Snapshot) Remaining() int { return s.Total - s.Cursor }

// Summary is emitted once when a run ends.
type Summary struct {
	RunID    string        `json:"run_id"`
	Status   Status        `json:"status"`
	Total    int           `json:"total"`
	Success  int           `json:"success"`
	Failed   int           `json:"failed"`
	Cursor   int           `json:"cursor"`
	Duration time.Duration `json:"duration"`
}
