package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/local/writingtools/internal/ai"
	"github.com/local/writingtools/internal/capture"
	"github.com/local/writingtools/internal/extract"
	"github.com/local/writingtools/internal/metrics"
)

var (
	// ErrNothingCaptured means the source held nothing usable and the operation has
	// no instruction of its own. Callers treat it as a silent no-op.
	ErrNothingCaptured = errors.New("nothing captured")
	ErrNoProvider      = errors.New("no active provider")
)

// ProviderSource yields the provider to use for the next dispatch.
type ProviderSource interface {
	Active() ai.Provider
}

// URLFetcher turns a page URL into plain text.
type URLFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// SharedContent is the slot an out-of-process collaborator deposits text into.
type SharedContent interface {
	Take(ctx context.Context) (string, error)
}

// Status is the persisted view of a session; it never holds result text.
type Status struct {
	State     State
	Operation string
	Provider  string
	Message   string
	Start     *time.Time
	End       *time.Time
	Metadata  map[string]any
}

type StatusStore interface {
	Set(ctx context.Context, id string, st Status) error
	Get(ctx context.Context, id string) (Status, bool, error)
}

// Event is one external capture trigger.
type Event struct {
	Source capture.Source
}

type Dependencies struct {
	Providers ProviderSource
	Sniffer   *capture.Sniffer
	Fetcher   URLFetcher
	Shared    SharedContent
	Status    StatusStore
	Delivery  Delivery
}

// Orchestrator runs at most one session at a time; starting a new one cancels
// the previous.
type Orchestrator struct {
	deps Dependencies

	mu      sync.Mutex
	current *Session
}

func New(deps Dependencies) *Orchestrator {
	if deps.Sniffer == nil {
		deps.Sniffer = capture.NewSniffer(nil)
	}
	if deps.Delivery == nil {
		deps.Delivery = LogDelivery{}
	}
	return &Orchestrator{deps: deps}
}

// Start captures the content in ev, builds the request for op and dispatches it to
// the active provider. It returns once the provider call is in flight; use
// Session.Wait for the outcome.
func (o *Orchestrator) Start(ctx context.Context, ev Event, op Operation) (*Session, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}

	s := newSession(o, uuid.NewString(), op)
	o.mu.Lock()
	if prev := o.current; prev != nil && prev.Cancel() {
		log.Info().Str("session_id", prev.id).Str("superseded_by", s.id).Msg("previous session cancelled")
	}
	o.current = s
	o.mu.Unlock()

	if !s.advance(StateCapturing) {
		return s, ai.ErrCancelled
	}
	// capture runs under the session so a superseding Start stops it; the caller's
	// ctx can still abort it.
	capCtx, capCancel := context.WithCancel(s.ctx)
	stop := context.AfterFunc(ctx, capCancel)
	sel, meta := o.capture(capCtx, s, ev.Source)
	stop()
	capCancel()
	if s.State().Terminal() {
		return s, ai.ErrCancelled
	}
	s.mu.Lock()
	s.original = sel.Text
	if sel.Text == "" && op.hasInstruction() {
		s.original = op.Instruction
	}
	for k, v := range meta {
		s.meta[k] = v
	}
	s.mu.Unlock()

	if sel.empty() && !op.hasInstruction() {
		if s.finish(StateCancelled, nil, ErrNothingCaptured) {
			log.Info().Str("session_id", s.id).Str("operation", op.Name()).Msg("nothing captured")
			s.conclude()
		}
		return s, ErrNothingCaptured
	}

	req, err := BuildRequest(op, sel)
	if err != nil {
		return s, o.fail(s, err)
	}
	p := o.deps.Providers.Active()
	if p == nil {
		return s, o.fail(s, ErrNoProvider)
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return s, s.Err()
	}
	s.provider = p
	s.state = StateDispatching
	s.mu.Unlock()

	log.Info().
		Str("session_id", s.id).
		Str("operation", op.Name()).
		Str("provider", p.Name()).
		Str("model", p.Model()).
		Int("images", len(req.Images)).
		Int("videos", len(req.Videos)).
		Int("prompt_chars", len(req.UserPrompt)).
		Msg("dispatching")
	o.writeStatus(s)
	go s.dispatch(p, req)
	return s, nil
}

func (o *Orchestrator) fail(s *Session, err error) error {
	if s.finish(StateFailed, nil, err) {
		s.conclude()
		return err
	}
	return s.Err()
}

// Cancel aborts the current session, if any is still running.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	s := o.current
	o.mu.Unlock()
	if s == nil {
		return false
	}
	return s.Cancel()
}

// Current returns the most recent session, or nil before the first Start.
func (o *Orchestrator) Current() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Status reads a persisted session status.
func (o *Orchestrator) Status(ctx context.Context, id string) (Status, bool, error) {
	if o.deps.Status == nil {
		return Status{}, false, nil
	}
	return o.deps.Status.Get(ctx, id)
}

// capture runs the sniffer and normalizes the payload into a Selection.
func (o *Orchestrator) capture(ctx context.Context, s *Session, src capture.Source) (Selection, map[string]any) {
	meta := map[string]any{}
	var sel Selection

	p, ok := o.deps.Sniffer.Detect(ctx, src)
	if ok {
		meta["kind"] = string(p.Kind)
		if p.Format != "" {
			meta["format"] = p.Format
		}
		metrics.IncCapture(string(p.Kind))
		switch p.Kind {
		case capture.KindPDF:
			sel.Text = extract.PDFToText(p.Data)
			if pages, err := extract.PDFPageCount(p.Data); err == nil {
				meta["pages"] = pages
			} else {
				log.Debug().Err(err).Msg("pdf page count unavailable")
			}
		case capture.KindImage:
			sel.Images = [][]byte{p.Data}
			sel.Text = capture.TextOf(src)
		case capture.KindVideo:
			sel.Videos = [][]byte{p.Data}
			sel.Text = capture.TextOf(src)
		case capture.KindText:
			sel.Text = p.Text
		}
	}

	if len(sel.Images) == 0 && len(sel.Videos) == 0 && o.deps.Fetcher != nil {
		if u, isURL := extract.LooksLikeURL(sel.Text); isURL {
			text, err := o.deps.Fetcher.FetchText(ctx, u)
			switch {
			case err != nil:
				log.Warn().Err(err).Str("url", u).Msg("url fetch failed; keeping url text")
			case text != "":
				sel.Text = text
				meta["source"] = "url"
				meta["url"] = u
			}
		}
	}

	if !ok && o.deps.Shared != nil && ctx.Err() == nil && !s.State().Terminal() {
		text, err := o.deps.Shared.Take(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("shared content unavailable")
		} else if text != "" {
			sel.Text = text
			meta["kind"] = string(capture.KindText)
			meta["source"] = "shared"
			metrics.IncCapture("shared")
		}
	}
	return sel, meta
}

// report publishes a terminal session to metrics, the status store and delivery.
func (o *Orchestrator) report(s *Session) {
	snap := s.Snapshot()
	err := s.Err()
	metrics.IncSession(snap.Operation, string(snap.State))
	o.writeStatus(s)

	ev := log.Info()
	if snap.State == StateFailed {
		ev = log.Warn().Str("error_class", ai.Classify(err)).Str("error", snap.Error)
	}
	ev.Str("session_id", snap.ID).
		Str("operation", snap.Operation).
		Str("state", string(snap.State)).
		Str("provider", snap.Provider).
		Dur("took", time.Since(snap.Start)).
		Msg("session finished")

	switch snap.State {
	case StateSucceeded:
		o.deps.Delivery.PresentResult(*snap.Result)
	case StateFailed:
		o.deps.Delivery.PresentError(s.op, err)
	}
}

func (o *Orchestrator) writeStatus(s *Session) {
	if o.deps.Status == nil {
		return
	}
	snap := s.Snapshot()
	s.mu.Lock()
	meta := make(map[string]any, len(s.meta))
	for k, v := range s.meta {
		meta[k] = v
	}
	s.mu.Unlock()

	start := snap.Start
	st := Status{
		State:     snap.State,
		Operation: snap.Operation,
		Provider:  snap.Provider,
		Message:   snap.Error,
		Start:     &start,
		End:       snap.End,
		Metadata:  meta,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.deps.Status.Set(ctx, s.id, st); err != nil {
		log.Warn().Err(err).Str("session_id", s.id).Msg("status write failed")
	}
}
