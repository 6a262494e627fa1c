// Package transport defines the delivery capability consumed by the campaign
// engine. Implementations live in sub-packages (dryrun, whatsweb).
package transport

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindSuccess  Kind = "success"
	KindRejected Kind = "rejected"
	KindTimeout  Kind = "timeout"
	KindError    Kind = "error"
)

// Outcome is the typed result of a single send. Transports report failures
// through Outcome instead of returning errors or panicking.
type Outcome struct {
	Kind   Kind
	Detail string
}

func (o Outcome) OK() bool { return o.Kind == KindSuccess }

func (o Outcome) String() string {
	if o.Detail == "" {
		return string(o.Kind)
	}
	return string(o.Kind) + ": " + o.Detail
}

func Delivered() Outcome { return Outcome{Kind: KindSuccess} }

// Rejected means the recipient id is not valid on the target service.
func Rejected(detail string) Outcome { return Outcome{Kind: KindRejected, Detail: detail} }

func TimedOut(detail string) Outcome { return Outcome{Kind: KindTimeout, Detail: detail} }

func Failed(format string, args ...any) Outcome {
	return Outcome{Kind: KindError, Detail: fmt.Sprintf(format, args...)}
}

// FromError classifies err. A nil error is a success; deadline errors map to
// KindTimeout.
func FromError(err error) Outcome {
	switch {
	case err == nil:
		return Delivered()
	case errors.Is(err, context.DeadlineExceeded):
		return TimedOut(err.Error())
	default:
		return Outcome{Kind: KindError, Detail: err.Error()}
	}
}

// Transport delivers one message to one recipient. Send must honor ctx; the
// caller bounds it with the configured send timeout.
type Transport interface {
	Name() string
	Send(ctx context.Context, recipientID, message string) Outcome
}

// Session is implemented by transports that need an explicit setup step
// (browser launch, login) before the first send. A failing Open is fatal to
// the campaign and surfaces before anything is sent.
type Session interface {
	Open(ctx context.Context) error
	Close() error
}

// Open runs t's session setup if it has one.
func Open(ctx context.Context, t Transport) error {
	if s, ok := t.(Session); ok {
		if err := s.Open(ctx); err != nil {
			return fmt.Errorf("open %s transport: %w", t.Name(), err)
		}
	}
	return nil
}

// Close releases t's session if it has one.
func Close(t Transport) error {
	if s, ok := t.(Session); ok {
		return s.Close()
	}
	return nil
}
