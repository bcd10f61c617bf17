package orchestrator

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/local/writingtools/internal/ai"
)

// Delivery presents terminal session outcomes. Cancelled sessions are never presented.
type Delivery interface {
	PresentResult(r Result)
	PresentError(op Operation, err error)
}

// LogDelivery writes outcomes to the log. Result text is not logged.
type LogDelivery struct{}

func (LogDelivery) PresentResult(r Result) {
	log.Info().
		Str("session_id", r.SessionID).
		Str("operation", r.Operation).
		Str("delivery", string(r.Delivery)).
		Int("chars", len(r.Text)).
		Msg("result ready")
}

func (LogDelivery) PresentError(op Operation, err error) {
	log.Error().Str("operation", op.Name()).Str("message", ai.UserMessage(err)).Msg("operation failed")
}

// Fanout forwards outcomes to every delivery in order.
type Fanout []Delivery

func (f Fanout) PresentResult(r Result) {
	for _, d := range f {
		d.PresentResult(r)
	}
}

func (f Fanout) PresentError(op Operation, err error) {
	for _, d := range f {
		d.PresentError(op, err)
	}
}

// LastOutcome keeps the most recent delivered result or error, for polling clients.
type LastOutcome struct {
	mu     sync.Mutex
	result *Result
	err    error
}

func (l *LastOutcome) PresentResult(r Result) {
	l.mu.Lock()
	l.result, l.err = &r, nil
	l.mu.Unlock()
}

func (l *LastOutcome) PresentError(_ Operation, err error) {
	l.mu.Lock()
	l.result, l.err = nil, err
	l.mu.Unlock()
}

// Last returns the latest outcome; both are nil before anything was delivered.
func (l *LastOutcome) Last() (*Result, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.result != nil {
		r := *l.result
		return &r, nil
	}
	return nil, l.err
}
