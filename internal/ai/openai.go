package ai

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/writingtools/internal/filetype"
)

const (
	openAIDefaultBase  = "https://api.openai.com/v1"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAIProvider speaks the chat-completions protocol used by OpenAI and compatible servers.
type OpenAIProvider struct {
	cfg    ProviderConfig
	http   *http.Client
	flight inflight
}

func NewOpenAIProvider(cfg ProviderConfig) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = openAIDefaultModel
	}
	return &OpenAIProvider{cfg: cfg, http: newHTTPClient(cfg.Timeout)}
}

func (p *OpenAIProvider) Name() string       { return OpenAI }
func (p *OpenAIProvider) Model() string      { return p.cfg.Model }
func (p *OpenAIProvider) Cancel()            { p.flight.cancelAll() }
func (p *OpenAIProvider) IsProcessing() bool { return p.flight.active() }

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

// openAIMessage.Content is either a string or a []openAIPart.
type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIChatReq struct {
	Model    string          `json:"model"`
	Messages []openAIMessage `json:"messages"`
}

func buildOpenAIRequest(model string, req Request) openAIChatReq {
	var messages []openAIMessage
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}

	images := nonEmpty(req.Images)
	if len(images) == 0 {
		messages = append(messages, openAIMessage{Role: "user", Content: req.UserPrompt})
	} else {
		parts := make([]openAIPart, 0, len(images)+1)
		if req.UserPrompt != "" {
			parts = append(parts, openAIPart{Type: "text", Text: req.UserPrompt})
		}
		for _, img := range images {
			mime := filetype.ImageMIME(img, "image/jpeg")
			parts = append(parts, openAIPart{
				Type:     "image_url",
				ImageURL: &openAIImageURL{URL: "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(img)},
			})
		}
		messages = append(messages, openAIMessage{Role: "user", Content: parts})
	}
	return openAIChatReq{Model: model, Messages: messages}
}

func (p *OpenAIProvider) endpoint() string {
	base := strings.TrimRight(strings.TrimSpace(p.cfg.BaseURL), "/")
	if base == "" {
		base = openAIDefaultBase
	}
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

// ProcessText sends req as a chat completion and returns choices[0].message.content.
// Videos have no chat-completions representation and are left out of the body.
func (p *OpenAIProvider) ProcessText(ctx context.Context, req Request) (string, error) {
	if p.cfg.APIKey == "" {
		return "", ErrMissingCredential
	}
	if err := req.Validate(); err != nil {
		return "", err
	}
	if n := len(nonEmpty(req.Videos)); n > 0 {
		log.Warn().Str("provider", OpenAI).Int("videos", n).Msg("chat completions cannot carry video, sending without it")
	}

	ctx, done := p.flight.begin(ctx)
	defer done()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if p.cfg.Organization != "" {
		headers.Set("OpenAI-Organization", p.cfg.Organization)
	}
	if p.cfg.Project != "" {
		headers.Set("OpenAI-Project", p.cfg.Project)
	}

	status, raw, err := postJSON(ctx, p.http, OpenAI, p.endpoint(), headers, buildOpenAIRequest(p.cfg.Model, req))
	if err != nil {
		return "", err
	}
	if ierr := interrupted(ctx, OpenAI); ierr != nil {
		return "", ierr
	}
	if status < 200 || status >= 300 {
		return "", statusError(OpenAI, status, raw)
	}
	return textAt(OpenAI, raw, "choices", "choices.0.message.content")
}
