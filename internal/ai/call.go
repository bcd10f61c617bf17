package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

const defaultTimeout = 60 * time.Second

// maxResponseBytes bounds how much of a provider body is read.
const maxResponseBytes = 16 << 20

// inflight tracks the cancel functions of running calls for one provider instance.
type inflight struct {
	mu      sync.Mutex
	next    uint64
	cancels map[uint64]context.CancelFunc
}

// begin derives a cancellable context for one call. The returned func must be
// called when the call returns.
func (f *inflight) begin(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)
	f.mu.Lock()
	if f.cancels == nil {
		f.cancels = make(map[uint64]context.CancelFunc)
	}
	f.next++
	id := f.next
	f.cancels[id] = cancel
	f.mu.Unlock()
	return ctx, func() {
		f.mu.Lock()
		delete(f.cancels, id)
		f.mu.Unlock()
		cancel()
	}
}

func (f *inflight) cancelAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, cancel := range f.cancels {
		cancel()
		delete(f.cancels, id)
	}
}

func (f *inflight) active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cancels) > 0
}

// interrupted converts a finished call context into ErrCancelled or a transport
// timeout. It returns nil while ctx is still live.
func interrupted(ctx context.Context, provider string) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return &TransportError{Provider: provider, Err: err}
	default:
		return ErrCancelled
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

// postJSON sends body to endpoint and returns the status and raw response.
func postJSON(ctx context.Context, client *http.Client, provider, endpoint string, headers http.Header, body any) (int, []byte, error) {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := client.Do(req)
	if err != nil {
		if ierr := interrupted(ctx, provider); ierr != nil {
			return 0, nil, ierr
		}
		return 0, nil, &TransportError{Provider: provider, Err: stripURL(err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ierr := interrupted(ctx, provider); ierr != nil {
			return 0, nil, ierr
		}
		return 0, nil, &TransportError{Provider: provider, Err: err}
	}
	return resp.StatusCode, raw, nil
}

// statusError builds an HTTPError from a provider error envelope {"error":{"message":...}}.
func statusError(provider string, status int, raw []byte) *HTTPError {
	msg := ""
	if gjson.ValidBytes(raw) {
		msg = gjson.GetBytes(raw, "error.message").String()
	}
	if msg == "" {
		msg = fmt.Sprintf("server returned status %d", status)
	}
	return &HTTPError{Provider: provider, StatusCode: status, Message: msg}
}

// textAt extracts a required string at path from a success body.
func textAt(provider string, raw []byte, listPath, textPath string) (string, error) {
	if !gjson.ValidBytes(raw) {
		return "", &MalformedResponseError{Provider: provider, Reason: "body is not valid JSON"}
	}
	list := gjson.GetBytes(raw, listPath)
	if !list.Exists() {
		return "", &MalformedResponseError{Provider: provider, Reason: "missing " + listPath}
	}
	if !list.IsArray() {
		return "", &MalformedResponseError{Provider: provider, Reason: listPath + " is not an array"}
	}
	if len(list.Array()) == 0 {
		return "", ErrEmptyResult
	}
	v := gjson.GetBytes(raw, textPath)
	if !v.Exists() || v.Type != gjson.String {
		return "", &MalformedResponseError{Provider: provider, Reason: "missing " + textPath}
	}
	if v.Str == "" {
		return "", ErrEmptyResult
	}
	return v.Str, nil
}

// stripURL drops the request URL from client errors; Gemini carries the key in it.
func stripURL(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
