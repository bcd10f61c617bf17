package statuscheck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/local/writingtools/internal/ai"
	"github.com/local/writingtools/internal/settings"
	"github.com/local/writingtools/internal/storage"
)

// RedisPinger models the minimal Redis capability we need for status checks.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// SettingsSource supplies the provider credentials to probe with.
type SettingsSource interface {
	Snapshot() settings.Settings
}

// Checker aggregates health checks for the daemon's external dependencies.
type Checker struct {
	redis      RedisPinger
	s3Bucket   string
	s3Opts     storage.S3Options
	httpClient *http.Client
	settings   SettingsSource
}

// Options configures the Checker.
type Options struct {
	Redis      RedisPinger
	S3Bucket   string
	S3         storage.S3Options
	HTTPClient *http.Client
	Settings   SettingsSource
}

// Status represents the readiness of a subsystem.
type Status struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
	Redis  Status `json:"redis"`
	S3     Status `json:"s3"`
	Gemini Status `json:"gemini"`
	OpenAI Status `json:"openai"`
}

func New(opts Options) *Checker {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Checker{
		redis:      opts.Redis,
		s3Bucket:   strings.TrimSpace(opts.S3Bucket),
		s3Opts:     opts.S3,
		httpClient: client,
		settings:   opts.Settings,
	}
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
	var s settings.Settings
	if c.settings != nil {
		s = c.settings.Snapshot()
	}
	return Summary{
		Redis:  c.checkRedis(ctx),
		S3:     c.checkS3(ctx),
		Gemini: c.checkGemini(ctx, s.Gemini),
		OpenAI: c.checkOpenAI(ctx, s.OpenAI),
	}
}

func (c *Checker) checkRedis(ctx context.Context) Status {
	if c.redis == nil {
		return Status{OK: false, Message: "Not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.redis.Ping(ctx); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
	if c.s3Bucket == "" {
		return Status{OK: false, Message: "Bucket not configured"}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	cfg, err := storage.LoadAWSConfig(ctx, c.s3Opts)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	cli := s3.NewFromConfig(cfg)
	if _, err := cli.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &c.s3Bucket}); err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkGemini(ctx context.Context, ps settings.ProviderSettings) Status {
	if strings.TrimSpace(ps.APIKey) == "" {
		return Status{OK: false, Message: ai.ErrMissingCredential.Error()}
	}
	base := strings.TrimRight(ps.BaseURL, "/")
	if base == "" {
		base = "https://generativelanguage.googleapis.com"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/v1beta/models?pageSize=1&key="+url.QueryEscape(ps.APIKey), nil)
	if err != nil {
		return Status{OK: false, Message: ai.ErrInvalidEndpoint.Error()}
	}
	return c.probe(req)
}

func (c *Checker) checkOpenAI(ctx context.Context, ps settings.ProviderSettings) Status {
	if strings.TrimSpace(ps.APIKey) == "" {
		return Status{OK: false, Message: ai.ErrMissingCredential.Error()}
	}
	base := strings.TrimRight(ps.BaseURL, "/")
	base = strings.TrimSuffix(base, "/chat/completions")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/models", nil)
	if err != nil {
		return Status{OK: false, Message: ai.ErrInvalidEndpoint.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+ps.APIKey)
	if ps.Organization != "" {
		req.Header.Set("OpenAI-Organization", ps.Organization)
	}
	if ps.Project != "" {
		req.Header.Set("OpenAI-Project", ps.Project)
	}
	return c.probe(req)
}

func (c *Checker) probe(req *http.Request) Status {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Status{OK: false, Message: trimError(err)}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
	}
	return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
	if err == nil {
		return ""
	}
	var uerr *url.Error
	if errors.As(err, &uerr) {
		err = uerr.Err
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "timeout"
	}
	msg := err.Error()
	if len(msg) > 120 {
		return msg[:120]
	}
	return msg
}
