package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const geminiOK = `{"candidates":[{"content":{"parts":[{"text":"done"}]}}]}`

type capturedRequest struct {
	path  string
	query string
	body  []byte
	hdr   http.Header
}

type recorded struct {
	mu   sync.Mutex
	last capturedRequest
}

func (r *recorded) snapshot() capturedRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func mockServer(t *testing.T, status int, body string) (*httptest.Server, *recorded, *int32) {
	t.Helper()
	rec := &recorded{}
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		reqBody, _ := io.ReadAll(r.Body)
		rec.mu.Lock()
		rec.last = capturedRequest{path: r.URL.Path, query: r.URL.RawQuery, body: reqBody, hdr: r.Header.Clone()}
		rec.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, rec, &hits
}

func TestGeminiRequestLayout(t *testing.T) {
	srv, got, _ := mockServer(t, http.StatusOK, geminiOK)
	p := NewGeminiProvider(ProviderConfig{APIKey: "k1", BaseURL: srv.URL})

	out, err := p.ProcessText(context.Background(), Request{
		SystemPrompt: "S",
		UserPrompt:   "U",
		Videos:       [][]byte{[]byte("V1")},
	})
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	rec := got.snapshot()

	assert.Equal(t, "/v1beta/models/gemini-2.0-flash-exp:generateContent", rec.path)
	assert.Equal(t, "key=k1", rec.query)

	parts := gjson.GetBytes(rec.body, "contents.0.parts").Array()
	require.Len(t, parts, 2)
	assert.Equal(t, "S\n\nU", parts[0].Get("text").String())
	assert.Equal(t, "video/mp4", parts[1].Get("inline_data.mime_type").String())
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("V1")), parts[1].Get("inline_data.data").String())
	assert.False(t, parts[1].Get("text").Exists())
}

func TestGeminiImagesPrecedeVideosAndNoSystemPrompt(t *testing.T) {
	srv, got, _ := mockServer(t, http.StatusOK, geminiOK)
	p := NewGeminiProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL})

	_, err := p.ProcessText(context.Background(), Request{
		UserPrompt: "only user",
		Images:     [][]byte{[]byte("I1"), nil, []byte("I2")},
	})
	require.NoError(t, err)
	rec := got.snapshot()

	parts := gjson.GetBytes(rec.body, "contents.0.parts").Array()
	require.Len(t, parts, 3)
	assert.Equal(t, "only user", parts[0].Get("text").String())
	assert.Equal(t, "image/jpeg", parts[1].Get("inline_data.mime_type").String())
	assert.Equal(t, "image/jpeg", parts[2].Get("inline_data.mime_type").String())
}

func TestGeminiMissingKeyMakesNoCall(t *testing.T) {
	srv, _, hits := mockServer(t, http.StatusOK, geminiOK)
	p := NewGeminiProvider(ProviderConfig{BaseURL: srv.URL})

	_, err := p.ProcessText(context.Background(), Request{UserPrompt: "hi"})
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Equal(t, int32(0), atomic.LoadInt32(hits))
}

func TestGeminiEmptyRequestMakesNoCall(t *testing.T) {
	srv, _, hits := mockServer(t, http.StatusOK, geminiOK)
	p := NewGeminiProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL})

	_, err := p.ProcessText(context.Background(), Request{SystemPrompt: "sys only"})
	assert.ErrorIs(t, err, ErrEmptyRequest)
	assert.Equal(t, int32(0), atomic.LoadInt32(hits))
}

func TestGeminiHTTPErrorUsesEnvelopeMessage(t *testing.T) {
	srv, _, _ := mockServer(t, http.StatusTooManyRequests, `{"error":{"message":"rate limited"}}`)
	p := NewGeminiProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL})

	_, err := p.ProcessText(context.Background(), Request{UserPrompt: "hi"})
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, 429, httpErr.StatusCode)
	assert.Equal(t, "rate limited", httpErr.Message)
	assert.Equal(t, "rate_limited", Classify(err))
}

func TestGeminiHTTPErrorWithoutEnvelope(t *testing.T) {
	srv, _, _ := mockServer(t, http.StatusBadGateway, `<html>bad gateway</html>`)
	p := NewGeminiProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL})

	_, err := p.ProcessText(context.Background(), Request{UserPrompt: "hi"})
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, "server returned status 502", httpErr.Message)
}

func TestGeminiResponseShapes(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		empty     bool
		malformed bool
	}{
		{name: "not json", body: `oops`, malformed: true},
		{name: "no candidates", body: `{}`, malformed: true},
		{name: "unexpected shape", body: `{"unexpected":{"shape":true}}`, malformed: true},
		{name: "candidates not array", body: `{"candidates":{"text":"x"}}`, malformed: true},
		{name: "empty candidates", body: `{"candidates":[]}`, empty: true},
		{name: "no parts", body: `{"candidates":[{"content":{}}]}`, malformed: true},
		{name: "text not string", body: `{"candidates":[{"content":{"parts":[{"text":5}]}}]}`, malformed: true},
		{name: "empty text", body: `{"candidates":[{"content":{"parts":[{"text":""}]}}]}`, empty: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, _, _ := mockServer(t, http.StatusOK, tc.body)
			p := NewGeminiProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL})
			_, err := p.ProcessText(context.Background(), Request{UserPrompt: "hi"})
			require.Error(t, err)
			if tc.empty {
				assert.ErrorIs(t, err, ErrEmptyResult)
			}
			if tc.malformed {
				var mal *MalformedResponseError
				assert.True(t, errors.As(err, &mal))
				assert.Equal(t, "malformed", Classify(err))
			}
		})
	}
}

func TestGeminiInvalidEndpoint(t *testing.T) {
	p := NewGeminiProvider(ProviderConfig{APIKey: "k", BaseURL: "::not a url"})
	_, err := p.ProcessText(context.Background(), Request{UserPrompt: "hi"})
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
}

func TestGeminiTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	p := NewGeminiProvider(ProviderConfig{APIKey: "k", BaseURL: base})
	_, err := p.ProcessText(context.Background(), Request{UserPrompt: "hi"})
	var tr *TransportError
	assert.True(t, errors.As(err, &tr))
	assert.Equal(t, "transport", Classify(err))
}

func TestGeminiCancelDiscardsInFlightCall(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
		_, _ = w.Write([]byte(geminiOK))
	}))
	defer srv.Close()
	defer close(release)

	p := NewGeminiProvider(ProviderConfig{APIKey: "k", BaseURL: srv.URL})
	p.Cancel() // nothing in flight

	errCh := make(chan error, 1)
	go func() {
		_, err := p.ProcessText(context.Background(), Request{UserPrompt: "hi"})
		errCh <- err
	}()

	require.Eventually(t, p.IsProcessing, 2*time.Second, 5*time.Millisecond)
	p.Cancel()
	p.Cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(2 * time.Second):
		t.Fatal("call did not return after cancel")
	}
	assert.False(t, p.IsProcessing())
}
