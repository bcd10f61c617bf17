package ai

import (
	"context"
	"time"
)

// Provider names.
const (
	Gemini = "gemini"
	OpenAI = "openai"
)

// ProviderConfig is the connection setting for one backend. Providers copy it at
// construction; changing settings means building a new provider.
type ProviderConfig struct {
	APIKey       string
	BaseURL      string
	Organization string
	Project      string
	Model        string
	Timeout      time.Duration
}

// Request is one generation call. SystemPrompt is optional; an empty string means none.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Images       [][]byte
	Videos       [][]byte
}

// HasMedia reports whether at least one non-empty image or video is attached.
func (r Request) HasMedia() bool {
	return len(nonEmpty(r.Images)) > 0 || len(nonEmpty(r.Videos)) > 0
}

// Validate enforces that a request without a user prompt carries media.
func (r Request) Validate() error {
	if r.UserPrompt == "" && !r.HasMedia() {
		return ErrEmptyRequest
	}
	return nil
}

// Provider is an AI backend that turns a Request into text.
type Provider interface {
	Name() string
	Model() string
	ProcessText(ctx context.Context, req Request) (string, error)
	// Cancel aborts every in-flight call. Idempotent.
	Cancel()
	IsProcessing() bool
}

func nonEmpty(items [][]byte) [][]byte {
	out := make([][]byte, 0, len(items))
	for _, b := range items {
		if len(b) > 0 {
			out = append(out, b)
		}
	}
	return out
}
