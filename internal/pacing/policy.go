// Package pacing computes the human-like wait between two sends.
//
// Fixed mode waits exactly BaseDelay. Variable mode adds a warm-up surcharge
// for the first WarmUpCount sends of a campaign and a uniform random jitter
// drawn from [JitterMin, JitterMax], so the send interval has no fixed
// fingerprint.
package pacing

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

type Mode string

const (
	ModeFixed    Mode = "fixed"
	ModeVariable Mode = "variable"
)

// ParseMode accepts "fixed" or "variable" (case-insensitive). Empty means variable.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeVariable:
		return ModeVariable, nil
	case ModeFixed:
		return ModeFixed, nil
	default:
		return "", fmt.Errorf("unknown pacing mode %q", s)
	}
}

// Params is the immutable pacing configuration of one campaign.
type Params struct {
	Mode        Mode
	BaseDelay   time.Duration
	JitterMin   time.Duration
	JitterMax   time.Duration
	WarmUpCount int
	WarmUpExtra time.Duration
}

func (p Params) Validate() error {
	if p.Mode != ModeFixed && p.Mode != ModeVariable {
		return fmt.Errorf("pacing: unknown mode %q", p.Mode)
	}
	if p.BaseDelay < 0 || p.JitterMin < 0 || p.JitterMax < 0 || p.WarmUpExtra < 0 {
		return errors.New("pacing: delays must be >= 0")
	}
	if p.WarmUpCount < 0 {
		return errors.New("pacing: warm_up_count must be >= 0")
	}
	if p.JitterMax < p.JitterMin {
		return fmt.Errorf("pacing: jitter_max (%s) < jitter_min (%s)", p.JitterMax, p.JitterMin)
	}
	return nil
}

// Delay returns the wait before the next send.
//
// sent is the number of sends the campaign has completed so far, counted
// across resumes, so warm-up only covers the first WarmUpCount sends of the
// whole campaign. uniform must return a value in [0, 1); it is only called in
// variable mode.
func Delay(sent int, p Params, uniform func() float64) time.Duration {
	if p.Mode == ModeFixed {
		return p.BaseDelay
	}
	d := p.BaseDelay
	if sent < p.WarmUpCount {
		d += p.WarmUpExtra
	}
	span := p.JitterMax - p.JitterMin
	jitter := p.JitterMin
	if span > 0 && uniform != nil {
		jitter += time.Duration(uniform() * float64(span))
	}
	return d + jitter
}

// Policy binds Params to a random source. Safe for concurrent use.
type Policy struct {
	params Params

	mu  sync.Mutex
	rnd *rand.Rand
}

// New validates p and returns a Policy. A nil rnd gets a time-seeded source.
func New(p Params, rnd *rand.Rand) (*Policy, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Policy{params: p, rnd: rnd}, nil
}

func (p *Policy) Delay(sent int) time.Duration {
	return Delay(sent, p.params, p.float64)
}

func (p *Policy) float64() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rnd.Float64()
}

// Estimate approximates the total wall time of a campaign of total sends,
// using the mean jitter. Fixed mode is total*BaseDelay.
func Estimate(p Params, total int) time.Duration {
	if total <= 0 {
		return 0
	}
	if p.Mode == ModeFixed {
		return time.Duration(total) * p.BaseDelay
	}
	avg := p.BaseDelay + (p.JitterMin+p.JitterMax)/2
	return time.Duration(total)*avg + time.Duration(min(total, p.WarmUpCount))*p.WarmUpExtra
}
