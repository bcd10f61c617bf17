package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/writingtools/internal/ai"
	"github.com/local/writingtools/internal/metrics"
)

// State is a session's position in its lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateCapturing   State = "capturing"
	StateDispatching State = "dispatching"
	StateSucceeded   State = "succeeded"
	StateFailed      State = "failed"
	StateCancelled   State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// Result is what a succeeded session hands to the delivery surface.
type Result struct {
	SessionID    string        `json:"session_id"`
	Kind         OperationKind `json:"kind"`
	Operation    string        `json:"operation"`
	Delivery     DeliveryMode  `json:"delivery"`
	Text         string        `json:"text"`
	OriginalText string        `json:"original_text"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
}

// Snapshot is a read-only copy of a session.
type Snapshot struct {
	ID        string     `json:"id"`
	State     State      `json:"state"`
	Operation string     `json:"operation"`
	Provider  string     `json:"provider,omitempty"`
	Model     string     `json:"model,omitempty"`
	Error     string     `json:"error,omitempty"`
	Start     time.Time  `json:"start_time"`
	End       *time.Time `json:"end_time,omitempty"`
	Result    *Result    `json:"result,omitempty"`
}

// Session is one capture-to-result operation.
type Session struct {
	id     string
	op     Operation
	o      *Orchestrator
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	state    State
	provider ai.Provider
	original string
	meta     map[string]any
	result   *Result
	err      error
	start    time.Time
	end      time.Time
}

func newSession(o *Orchestrator, id string, op Operation) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:     id,
		op:     op,
		o:      o,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateIdle,
		meta:   map[string]any{},
		start:  time.Now(),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Operation() Operation { return s.op }

// Done is closed once the session has ended and its outcome was delivered.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal error, nil on success or while running.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until the session ends or ctx is done. A cancelled session returns
// ai.ErrCancelled.
func (s *Session) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-s.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result != nil {
		r := *s.result
		return &r, nil
	}
	return nil, s.err
}

// Cancel moves a running session to cancelled and aborts its provider call. It
// returns false when the session had already ended. Safe to call repeatedly.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return false
	}
	s.state = StateCancelled
	s.err = ai.ErrCancelled
	s.end = time.Now()
	s.cancel()
	if s.provider != nil {
		s.provider.Cancel()
	}
	s.mu.Unlock()

	s.conclude()
	return true
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:        s.id,
		State:     s.state,
		Operation: s.op.Name(),
		Start:     s.start,
	}
	if s.provider != nil {
		snap.Provider = s.provider.Name()
		snap.Model = s.provider.Model()
	}
	if s.err != nil {
		snap.Error = ai.UserMessage(s.err)
	}
	if !s.end.IsZero() {
		end := s.end
		snap.End = &end
	}
	if s.result != nil {
		r := *s.result
		snap.Result = &r
	}
	return snap
}

// advance moves to a non-terminal state unless the session already ended.
func (s *Session) advance(st State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = st
	return true
}

// finish records the terminal state. Only the first call wins, and the winner
// must call conclude.
func (s *Session) finish(st State, res *Result, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = st
	s.result = res
	s.err = err
	s.end = time.Now()
	s.cancel()
	return true
}

// conclude reports the outcome and then releases waiters.
func (s *Session) conclude() {
	s.o.report(s)
	close(s.done)
}

func (s *Session) dispatch(p ai.Provider, req ai.Request) {
	start := time.Now()
	text, err := p.ProcessText(s.ctx, req)
	metrics.ObserveProvider(p.Name(), p.Model(), ai.Classify(err), time.Since(start))

	var won bool
	switch {
	case err == nil:
		s.mu.Lock()
		original := s.original
		s.mu.Unlock()
		won = s.finish(StateSucceeded, &Result{
			SessionID:    s.id,
			Kind:         s.op.Kind,
			Operation:    s.op.Name(),
			Delivery:     s.op.Delivery(),
			Text:         text,
			OriginalText: original,
			Provider:     p.Name(),
			Model:        p.Model(),
		}, nil)
	case errors.Is(err, ai.ErrCancelled), errors.Is(err, context.Canceled):
		won = s.finish(StateCancelled, nil, ai.ErrCancelled)
	default:
		won = s.finish(StateFailed, nil, err)
	}
	if !won {
		log.Debug().Str("session_id", s.id).Str("result", ai.Classify(err)).Msg("discarding late provider result")
		return
	}
	s.conclude()
}
