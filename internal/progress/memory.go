package progress

import (
	"context"
	"sync"

	"velo/internal/campaign"
)

// Memory is a process-local store. Saved checkpoints are deep-copied.
type Memory struct {
	mu sync.Mutex
	cp *campaign.Checkpoint
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Load(context.Context) (*campaign.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cp == nil {
		return nil, nil
	}
	cp := clone(*m.cp)
	return &cp, nil
}

func (m *Memory) Save(_ context.Context, cp campaign.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := clone(cp)
	m.cp = &c
	return nil
}

func (m *Memory) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cp = nil
	return nil
}

func (m *Memory) Close() error { return nil }

func clone(cp campaign.Checkpoint) campaign.Checkpoint {
	cp.FailedLog = append([]campaign.FailureRecord{}, cp.FailedLog...)
	return cp
}

type disabled struct{}

func (disabled) Load(context.Context) (*campaign.Checkpoint, error) { return nil, nil }
func (disabled) Save(context.Context, campaign.Checkpoint) error    { return nil }
func (disabled) Clear(context.Context) error                        { return nil }
func (disabled) Close() error                                       { return nil }
