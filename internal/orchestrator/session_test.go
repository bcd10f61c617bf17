package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/writingtools/internal/ai"
	"github.com/local/writingtools/internal/capture"
	"github.com/local/writingtools/internal/store"
)

// fakeProvider blocks each call until release is closed. With ignoreCtx set it
// keeps running after cancellation, like a server that answers anyway.
type fakeProvider struct {
	name      string
	text      string
	err       error
	release   chan struct{}
	ignoreCtx bool

	mu       sync.Mutex
	requests []ai.Request
	cancels  int
	started  chan struct{}
}

func newFakeProvider(text string, err error) *fakeProvider {
	return &fakeProvider{name: ai.Gemini, text: text, err: err, release: make(chan struct{}), started: make(chan struct{}, 8)}
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) Model() string      { return "fake-model" }
func (f *fakeProvider) IsProcessing() bool { return false }

func (f *fakeProvider) Cancel() {
	f.mu.Lock()
	f.cancels++
	f.mu.Unlock()
}

func (f *fakeProvider) ProcessText(ctx context.Context, req ai.Request) (string, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	f.started <- struct{}{}
	if f.ignoreCtx {
		<-f.release
	} else {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ai.ErrCancelled
		}
	}
	return f.text, f.err
}

func (f *fakeProvider) lastRequest() ai.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

type staticProviders struct{ p ai.Provider }

func (s staticProviders) Active() ai.Provider { return s.p }

type recordingDelivery struct {
	mu      sync.Mutex
	results []Result
	errs    []error
}

func (d *recordingDelivery) PresentResult(r Result) {
	d.mu.Lock()
	d.results = append(d.results, r)
	d.mu.Unlock()
}

func (d *recordingDelivery) PresentError(_ Operation, err error) {
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
}

func (d *recordingDelivery) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.results), len(d.errs)
}

type memStatus struct {
	mu   sync.Mutex
	byID map[string]Status
}

func (m *memStatus) Set(_ context.Context, id string, st Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID == nil {
		m.byID = map[string]Status{}
	}
	m.byID[id] = st
	return nil
}

func (m *memStatus) Get(_ context.Context, id string) (Status, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.byID[id]
	return st, ok, nil
}

type fakeFetcher struct {
	text string
	err  error
	urls []string
}

func (f *fakeFetcher) FetchText(_ context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	return f.text, f.err
}

// blockingRefs holds every reference read until the caller's ctx ends.
type blockingRefs struct{ entered chan struct{} }

func (b blockingRefs) ReadReference(ctx context.Context, _ string) ([]byte, error) {
	b.entered <- struct{}{}
	<-ctx.Done()
	return nil, ctx.Err()
}

func textEvent(s string) Event { return Event{Source: capture.TextSource(s)} }

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestSessionSucceeds(t *testing.T) {
	p := newFakeProvider("Fixed text.", nil)
	d := &recordingDelivery{}
	st := &memStatus{}
	o := New(Dependencies{Providers: staticProviders{p}, Delivery: d, Status: st})

	s, err := o.Start(context.Background(), textEvent("fixd text"), Operation{Kind: OpProofread})
	require.NoError(t, err)
	<-p.started
	assert.Equal(t, StateDispatching, s.State())
	close(p.release)

	res, err := s.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "Fixed text.", res.Text)
	assert.Equal(t, "fixd text", res.OriginalText)
	assert.Equal(t, DeliverReplace, res.Delivery)
	assert.Equal(t, ai.Gemini, res.Provider)
	assert.Equal(t, StateSucceeded, s.State())
	assert.Equal(t, "fixd text", p.lastRequest().UserPrompt)

	nres, nerr := d.counts()
	assert.Equal(t, 1, nres)
	assert.Equal(t, 0, nerr)

	saved, ok, err := o.Status(context.Background(), s.ID())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateSucceeded, saved.State)
	assert.Equal(t, "text", saved.Metadata["kind"])
	assert.NotNil(t, saved.End)
}

func TestSessionFailsWithoutRetry(t *testing.T) {
	p := newFakeProvider("", &ai.HTTPError{Provider: ai.Gemini, StatusCode: 429, Message: "rate limited"})
	close(p.release)
	d := &recordingDelivery{}
	o := New(Dependencies{Providers: staticProviders{p}, Delivery: d})

	s, err := o.Start(context.Background(), textEvent("hello"), Operation{Kind: OpSummary})
	require.NoError(t, err)
	_, err = s.Wait(waitCtx(t))

	var httpErr *ai.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 429, httpErr.StatusCode)
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, "rate limited", s.Snapshot().Error)
	assert.Equal(t, 1, p.callCount())

	nres, nerr := d.counts()
	assert.Equal(t, 0, nres)
	assert.Equal(t, 1, nerr)
}

func TestCancelBeforeResultWins(t *testing.T) {
	p := newFakeProvider("late answer", nil)
	p.ignoreCtx = true
	d := &recordingDelivery{}
	o := New(Dependencies{Providers: staticProviders{p}, Delivery: d})

	s, err := o.Start(context.Background(), textEvent("hello"), Operation{Kind: OpRewrite})
	require.NoError(t, err)
	<-p.started

	assert.True(t, o.Cancel())
	assert.False(t, s.Cancel())
	close(p.release)

	_, err = s.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ai.ErrCancelled)

	// give the late response time to arrive and be discarded
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateCancelled, s.State())
	assert.Nil(t, s.Snapshot().Result)
	nres, nerr := d.counts()
	assert.Equal(t, 0, nres)
	assert.Equal(t, 0, nerr)

	p.mu.Lock()
	assert.Equal(t, 1, p.cancels)
	p.mu.Unlock()
}

func TestNewStartSupersedesRunningSession(t *testing.T) {
	p := newFakeProvider("second", nil)
	d := &recordingDelivery{}
	o := New(Dependencies{Providers: staticProviders{p}, Delivery: d})

	first, err := o.Start(context.Background(), textEvent("one"), Operation{Kind: OpProofread})
	require.NoError(t, err)
	<-p.started

	second, err := o.Start(context.Background(), textEvent("two"), Operation{Kind: OpProofread})
	require.NoError(t, err)
	<-p.started
	assert.Equal(t, StateCancelled, first.State())
	assert.Same(t, second, o.Current())

	close(p.release)
	res, err := second.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "second", res.Text)

	_, err = first.Wait(waitCtx(t))
	assert.ErrorIs(t, err, ai.ErrCancelled)
	nres, _ := d.counts()
	assert.Equal(t, 1, nres)
}

func TestNothingCapturedIsSilent(t *testing.T) {
	p := newFakeProvider("x", nil)
	d := &recordingDelivery{}
	o := New(Dependencies{Providers: staticProviders{p}, Delivery: d, Shared: &store.MemorySlot{}})

	s, err := o.Start(context.Background(), Event{Source: capture.NewMemorySource(nil, nil)}, Operation{Kind: OpSummary})
	assert.ErrorIs(t, err, ErrNothingCaptured)
	require.NotNil(t, s)
	assert.Equal(t, StateCancelled, s.State())
	assert.Equal(t, 0, p.callCount())
	nres, nerr := d.counts()
	assert.Equal(t, 0, nres)
	assert.Equal(t, 0, nerr)
}

func TestCustomInstructionRunsWithoutCapture(t *testing.T) {
	p := newFakeProvider("answer", nil)
	close(p.release)
	o := New(Dependencies{Providers: staticProviders{p}})

	s, err := o.Start(context.Background(), Event{}, Operation{Kind: OpCustom, Instruction: "What is Go?"})
	require.NoError(t, err)
	res, err := s.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "What is Go?", res.OriginalText)
	assert.Equal(t, DeliverWindow, res.Delivery)
	assert.Equal(t, "What is Go?", p.lastRequest().UserPrompt)
}

func TestSharedSlotUsedWhenNothingDetected(t *testing.T) {
	p := newFakeProvider("ok", nil)
	close(p.release)
	slot := &store.MemorySlot{}
	require.NoError(t, slot.Put(context.Background(), "deposited page text"))
	o := New(Dependencies{Providers: staticProviders{p}, Shared: slot})

	s, err := o.Start(context.Background(), Event{Source: capture.NewMemorySource(nil, nil)}, Operation{Kind: OpSummary})
	require.NoError(t, err)
	_, err = s.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "deposited page text", p.lastRequest().UserPrompt)

	left, _ := slot.Take(context.Background())
	assert.Empty(t, left)
}

func TestURLTextIsFetched(t *testing.T) {
	p := newFakeProvider("ok", nil)
	close(p.release)
	f := &fakeFetcher{text: "Page body"}
	o := New(Dependencies{Providers: staticProviders{p}, Fetcher: f})

	s, err := o.Start(context.Background(), textEvent(" https://example.com/a "), Operation{Kind: OpSummary})
	require.NoError(t, err)
	_, err = s.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/a"}, f.urls)
	assert.Equal(t, "Page body", p.lastRequest().UserPrompt)
}

func TestURLFetchFailureKeepsText(t *testing.T) {
	p := newFakeProvider("ok", nil)
	close(p.release)
	f := &fakeFetcher{err: errors.New("dial tcp: refused")}
	o := New(Dependencies{Providers: staticProviders{p}, Fetcher: f})

	s, err := o.Start(context.Background(), textEvent("https://example.com"), Operation{Kind: OpSummary})
	require.NoError(t, err)
	_, err = s.Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", p.lastRequest().UserPrompt)
}

func TestImageCaptureCarriesText(t *testing.T) {
	p := newFakeProvider("ok", nil)
	close(p.release)
	f := &fakeFetcher{text: "should not be used"}
	o := New(Dependencies{Providers: staticProviders{p}, Fetcher: f})

	src := capture.NewMemorySource([]capture.Item{
		{Type: capture.TypePNG, Data: []byte("IMG1")},
		{Type: capture.TypeUTF8Text, Data: []byte("https://example.com")},
	}, nil)
	s, err := o.Start(context.Background(), Event{Source: src}, Operation{Kind: OpKeyPoints})
	require.NoError(t, err)
	_, err = s.Wait(waitCtx(t))
	require.NoError(t, err)

	req := p.lastRequest()
	assert.Equal(t, [][]byte{[]byte("IMG1")}, req.Images)
	assert.Equal(t, "https://example.com", req.UserPrompt)
	assert.Empty(t, f.urls)
}

func TestNoActiveProvider(t *testing.T) {
	d := &recordingDelivery{}
	o := New(Dependencies{Providers: staticProviders{}, Delivery: d})

	s, err := o.Start(context.Background(), textEvent("hi"), Operation{Kind: OpProofread})
	assert.ErrorIs(t, err, ErrNoProvider)
	assert.Equal(t, StateFailed, s.State())
	_, nerr := d.counts()
	assert.Equal(t, 1, nerr)
}

func TestInvalidOperationLeavesCurrentSession(t *testing.T) {
	p := newFakeProvider("ok", nil)
	o := New(Dependencies{Providers: staticProviders{p}})

	s, err := o.Start(context.Background(), textEvent("hi"), Operation{Kind: OpProofread})
	require.NoError(t, err)
	<-p.started

	_, err = o.Start(context.Background(), textEvent("hi"), Operation{Kind: OpCustom})
	assert.ErrorIs(t, err, ErrMissingInstruction)
	assert.Equal(t, StateDispatching, s.State())

	close(p.release)
	_, err = s.Wait(waitCtx(t))
	require.NoError(t, err)
}

func TestWaitHonorsContext(t *testing.T) {
	p := newFakeProvider("ok", nil)
	o := New(Dependencies{Providers: staticProviders{p}})
	s, err := o.Start(context.Background(), textEvent("hi"), Operation{Kind: OpProofread})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = s.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, s.Cancel())
}

func TestLastOutcome(t *testing.T) {
	var l LastOutcome
	r, err := l.Last()
	assert.Nil(t, r)
	assert.NoError(t, err)

	l.PresentResult(Result{Text: "a"})
	r, err = l.Last()
	require.NoError(t, err)
	assert.Equal(t, "a", r.Text)

	l.PresentError(Operation{Kind: OpTable}, ai.ErrEmptyResult)
	r, err = l.Last()
	assert.Nil(t, r)
	assert.ErrorIs(t, err, ai.ErrEmptyResult)
}

func TestSupersededCaptureLeavesSharedSlot(t *testing.T) {
	p := newFakeProvider("ok", nil)
	slot := &store.MemorySlot{}
	require.NoError(t, slot.Put(context.Background(), "queued page text"))
	refs := blockingRefs{entered: make(chan struct{}, 1)}
	o := New(Dependencies{Providers: staticProviders{p}, Shared: slot, Sniffer: capture.NewSniffer(refs)})

	type started struct {
		s   *Session
		err error
	}
	firstDone := make(chan started, 1)
	go func() {
		s, err := o.Start(context.Background(), Event{Source: capture.NewMemorySource(nil, []string{"/tmp/report.pdf"})}, Operation{Kind: OpSummary})
		firstDone <- started{s, err}
	}()
	<-refs.entered

	second, err := o.Start(context.Background(), textEvent("next selection"), Operation{Kind: OpProofread})
	require.NoError(t, err)

	var first started
	select {
	case first = <-firstDone:
	case <-time.After(3 * time.Second):
		t.Fatal("superseded capture did not stop")
	}
	assert.ErrorIs(t, first.err, ai.ErrCancelled)
	assert.Equal(t, StateCancelled, first.s.State())

	left, err := slot.Take(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "queued page text", left)

	<-p.started
	assert.Equal(t, 1, p.callCount())
	assert.True(t, strings.HasSuffix(p.lastRequest().UserPrompt, "next selection"))
	close(p.release)
	_, err = second.Wait(waitCtx(t))
	require.NoError(t, err)
}
