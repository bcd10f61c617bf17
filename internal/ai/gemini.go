package ai

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	geminiDefaultBase = "https://generativelanguage.googleapis.com"
	// geminiEndpointModel is the model the generateContent URL is pinned to.
	geminiEndpointModel = "gemini-2.0-flash-exp"
)

// GeminiModels lists the selectable Gemini model identifiers.
var GeminiModels = []string{
	"gemini-1.5-flash-8b-latest",
	"gemini-1.5-flash-latest",
	"gemini-1.5-pro-latest",
	"gemini-2.0-flash-exp",
}

// GeminiProvider talks to the Gemini generateContent REST endpoint.
type GeminiProvider struct {
	cfg    ProviderConfig
	http   *http.Client
	flight inflight
}

func NewGeminiProvider(cfg ProviderConfig) *GeminiProvider {
	if cfg.Model == "" {
		cfg.Model = geminiEndpointModel
	}
	return &GeminiProvider{cfg: cfg, http: newHTTPClient(cfg.Timeout)}
}

func (p *GeminiProvider) Name() string       { return Gemini }
func (p *GeminiProvider) Model() string      { return p.cfg.Model }
func (p *GeminiProvider) Cancel()            { p.flight.cancelAll() }
func (p *GeminiProvider) IsProcessing() bool { return p.flight.active() }

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiPart struct {
	Text       *string           `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

// buildGeminiRequest lays out the single content block: the combined prompt first,
// then images as image/jpeg, then videos as video/mp4.
func buildGeminiRequest(req Request) geminiRequest {
	prompt := req.UserPrompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + req.UserPrompt
	}
	parts := []geminiPart{{Text: &prompt}}
	for _, img := range nonEmpty(req.Images) {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: "image/jpeg",
			Data:     base64.StdEncoding.EncodeToString(img),
		}})
	}
	for _, vid := range nonEmpty(req.Videos) {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: "video/mp4",
			Data:     base64.StdEncoding.EncodeToString(vid),
		}})
	}
	return geminiRequest{Contents: []geminiContent{{Parts: parts}}}
}

func (p *GeminiProvider) endpoint() string {
	base := strings.TrimRight(p.cfg.BaseURL, "/")
	if base == "" {
		base = geminiDefaultBase
	}
	return base + "/v1beta/models/" + geminiEndpointModel + ":generateContent?key=" + url.QueryEscape(p.cfg.APIKey)
}

// ProcessText sends req to Gemini and returns candidates[0].content.parts[0].text.
func (p *GeminiProvider) ProcessText(ctx context.Context, req Request) (string, error) {
	if p.cfg.APIKey == "" {
		return "", ErrMissingCredential
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	ctx, done := p.flight.begin(ctx)
	defer done()

	log.Debug().Str("provider", Gemini).Int("images", len(req.Images)).Int("videos", len(req.Videos)).Msg("sending generateContent")
	status, raw, err := postJSON(ctx, p.http, Gemini, p.endpoint(), nil, buildGeminiRequest(req))
	if err != nil {
		return "", err
	}
	if ierr := interrupted(ctx, Gemini); ierr != nil {
		return "", ierr
	}
	if status != http.StatusOK {
		return "", statusError(Gemini, status, raw)
	}
	return textAt(Gemini, raw, "candidates", "candidates.0.content.parts.0.text")
}
