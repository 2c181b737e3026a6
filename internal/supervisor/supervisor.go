// Package supervisor keeps one long connection alive, reconnecting after any
// failure until its context is cancelled.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return "disconnected"
	}
}

// Session is one live connection. Run blocks while the connection delivers
// events and returns when it ends.
type Session interface {
	Run(ctx context.Context) error
}

// DialFunc opens a new session.
type DialFunc func(ctx context.Context) (Session, error)

// Backoff returns the delay before reconnect attempt n (1-based).
type Backoff interface {
	Next(attempt int) time.Duration
}

// Fixed waits the same delay before every attempt.
type Fixed struct {
	Delay time.Duration
}

func (f Fixed) Next(int) time.Duration { return f.Delay }

// Exponential doubles from Base up to Max.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

func (e Exponential) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := e.Base
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.Max > 0 && d >= e.Max {
			return e.Max
		}
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// DefaultBackoff is the reconnect policy when none is configured.
var DefaultBackoff Backoff = Fixed{Delay: 30 * time.Second}

// stableAfter is how long a session must stay up for the attempt counter to
// reset.
const stableAfter = time.Minute

type Supervisor struct {
	dial    DialFunc
	backoff Backoff
	after   func(time.Duration) <-chan time.Time
	now     func() time.Time
	onState func(State)

	mu    sync.Mutex
	state State
}

type Option func(*Supervisor)

func WithBackoff(b Backoff) Option {
	return func(s *Supervisor) {
		if b != nil {
			s.backoff = b
		}
	}
}

// WithTimer replaces time.After for backoff waits.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(s *Supervisor) { s.after = after }
}

func WithClock(now func() time.Time) Option {
	return func(s *Supervisor) { s.now = now }
}

// OnStateChange registers fn to observe every transition. fn runs on the
// supervisor goroutine and must not block.
func OnStateChange(fn func(State)) Option {
	return func(s *Supervisor) { s.onState = fn }
}

func New(dial DialFunc, opts ...Option) *Supervisor {
	s := &Supervisor{
		dial:    dial,
		backoff: DefaultBackoff,
		after:   time.After,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	if s.onState != nil {
		s.onState(st)
	}
}

// Run dials, runs, and redials until ctx is cancelled. It returns nil on
// cancellation; connection failures are logged and retried indefinitely.
func (s *Supervisor) Run(ctx context.Context) error {
	attempt := 0
	for {
		if ctx.Err() != nil {
			s.setState(Disconnected)
			return nil
		}

		s.setState(Connecting)
		err := s.connectOnce(ctx, &attempt)
		if ctx.Err() != nil {
			s.setState(Disconnected)
			return nil
		}

		attempt++
		s.setState(Failed)
		delay := s.backoff.Next(attempt)
		slog.Warn("lark connection lost, reconnecting",
			"error", err, "attempt", attempt, "backoff", delay)

		select {
		case <-ctx.Done():
			s.setState(Disconnected)
			return nil
		case <-s.after(delay):
		}
	}
}

func (s *Supervisor) connectOnce(ctx context.Context, attempt *int) error {
	sess, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.setState(Connected)
	slog.Info("lark connection established")
	started := s.now()

	err = sess.Run(ctx)
	if s.now().Sub(started) >= stableAfter {
		*attempt = 0
	}
	if err == nil {
		err = errors.New("session closed")
	}
	return fmt.Errorf("session: %w", err)
}
