package web

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/local/writingtools/internal/ai"
	"github.com/local/writingtools/internal/capture"
	"github.com/local/writingtools/internal/extract"
	"github.com/local/writingtools/internal/logger"
	"github.com/local/writingtools/internal/metrics"
	"github.com/local/writingtools/internal/orchestrator"
	"github.com/local/writingtools/internal/settings"
	"github.com/local/writingtools/internal/statuscheck"
)

// SettingsStore is the part of the settings file the HTTP surface touches.
type SettingsStore interface {
	Snapshot() settings.Settings
	SetCurrentProvider(name string) error
}

// SharedSlot receives text for the next capture.
type SharedSlot interface {
	Put(ctx context.Context, text string) error
}

type URLFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

type StatusChecker interface {
	Summary(ctx context.Context) statuscheck.Summary
}

type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Registry     *ai.Registry
	Settings     SettingsStore
	Shared       SharedSlot
	Fetcher      URLFetcher
	Checker      StatusChecker
	Outcome      *orchestrator.LastOutcome
	// WaitTimeout bounds how long POST /v1/capture waits before answering 202.
	WaitTimeout time.Duration
	MaxBody     int64
}

// Server is the local HTTP surface: capture triggers, session control, provider
// selection and the URL collaborator endpoints.
type Server struct {
	addr   string
	deps   Deps
	engine *gin.Engine
}

func New(addr string, deps Deps) *Server {
	if deps.WaitTimeout <= 0 {
		deps.WaitTimeout = 90 * time.Second
	}
	if deps.MaxBody <= 0 {
		deps.MaxBody = 64 << 20
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	s := &Server{addr: addr, deps: deps, engine: r}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/health", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := s.engine.Group("/v1")
	api.POST("/capture", s.handleCapture)
	api.GET("/sessions/current", s.handleCurrent)
	api.DELETE("/sessions/current", s.handleCancel)
	api.GET("/sessions/:id", s.handleSessionStatus)
	api.GET("/results/last", s.handleLastResult)
	api.GET("/provider", s.handleGetProvider)
	api.PUT("/provider", s.handleSetProvider)
	api.GET("/commands", s.handleCommands)
	api.POST("/extract/html", s.handleExtractHTML)
	api.POST("/shared", s.handleShared)
	api.GET("/status", s.handleStatus)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	srv := &http.Server{Addr: s.addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

type captureReq struct {
	Items     []capture.Item         `json:"items"`
	URLs      []string               `json:"urls"`
	Text      string                 `json:"text"`
	Operation orchestrator.Operation `json:"operation"`
	Async     bool                   `json:"async"`
}

func (s *Server) handleCapture(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.deps.MaxBody)
	var req captureReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	op, err := s.resolveOperation(req.Operation)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	items := make([]capture.Item, 0, len(req.Items)+1)
	urls := append([]string(nil), req.URLs...)
	for _, it := range req.Items {
		if it.Type == capture.TypeFileURL {
			urls = append(urls, strings.TrimSpace(string(it.Data)))
			continue
		}
		items = append(items, it)
	}
	if req.Text != "" {
		items = append(items, capture.Item{Type: capture.TypeUTF8Text, Data: []byte(req.Text)})
	}

	sess, err := s.deps.Orchestrator.Start(c.Request.Context(), orchestrator.Event{
		Source: capture.NewMemorySource(items, urls),
	}, op)
	switch {
	case errors.Is(err, orchestrator.ErrNothingCaptured):
		c.Status(http.StatusNoContent)
		return
	case sess == nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		s.writeOutcome(c, sess, err)
		return
	}
	if req.Async {
		c.JSON(http.StatusAccepted, sess.Snapshot())
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.deps.WaitTimeout)
	defer cancel()
	_, err = sess.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		c.JSON(http.StatusAccepted, sess.Snapshot())
		return
	}
	s.writeOutcome(c, sess, err)
}

func (s *Server) writeOutcome(c *gin.Context, sess *orchestrator.Session, err error) {
	snap := sess.Snapshot()
	switch {
	case err == nil:
		c.JSON(http.StatusOK, snap)
	case errors.Is(err, ai.ErrCancelled):
		c.JSON(http.StatusConflict, snap)
	case errors.Is(err, orchestrator.ErrNoProvider), errors.Is(err, ai.ErrEmptyRequest):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": ai.UserMessage(err), "session": snap})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": ai.UserMessage(err), "class": ai.Classify(err), "session": snap})
	}
}

// resolveOperation fills a command's prompt from settings when only its name is given.
func (s *Server) resolveOperation(op orchestrator.Operation) (orchestrator.Operation, error) {
	op.Kind = orchestrator.OperationKind(strings.ToLower(strings.TrimSpace(string(op.Kind))))
	if op.Kind == orchestrator.OpCommand && op.Command != nil && op.Command.Prompt == "" && s.deps.Settings != nil {
		cmd, ok := s.deps.Settings.Snapshot().Command(op.Command.Name)
		if !ok {
			return op, errors.New("unknown command " + op.Command.Name)
		}
		op.Command = &cmd
	}
	return op, op.Validate()
}

func (s *Server) handleCurrent(c *gin.Context) {
	sess := s.deps.Orchestrator.Current()
	if sess == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no session"})
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}

func (s *Server) handleCancel(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cancelled": s.deps.Orchestrator.Cancel()})
}

func (s *Server) handleSessionStatus(c *gin.Context) {
	st, ok, err := s.deps.Orchestrator.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"state":      st.State,
		"operation":  st.Operation,
		"provider":   st.Provider,
		"message":    st.Message,
		"start_time": st.Start,
		"end_time":   st.End,
		"metadata":   st.Metadata,
	})
}

func (s *Server) handleLastResult(c *gin.Context) {
	if s.deps.Outcome == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no result"})
		return
	}
	res, err := s.deps.Outcome.Last()
	switch {
	case res != nil:
		c.JSON(http.StatusOK, res)
	case err != nil:
		c.JSON(http.StatusOK, gin.H{"error": ai.UserMessage(err)})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "no result"})
	}
}

func (s *Server) handleGetProvider(c *gin.Context) {
	resp := gin.H{"active": s.deps.Registry.ActiveName(), "providers": s.deps.Registry.Names()}
	if p := s.deps.Registry.Active(); p != nil {
		resp["model"] = p.Model()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleSetProvider(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	name := strings.ToLower(strings.TrimSpace(req.Name))
	if _, ok := s.deps.Registry.Get(name); !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider " + req.Name})
		return
	}
	if s.deps.Settings != nil {
		if err := s.deps.Settings.SetCurrentProvider(name); err != nil {
			log.Error().Err(err).Str("provider", name).Msg("persist provider selection failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if err := s.deps.Registry.SetActive(name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	metrics.SetActiveProvider(name, s.deps.Registry.Names())
	s.handleGetProvider(c)
}

func (s *Server) handleCommands(c *gin.Context) {
	cmds := []settings.Command{}
	if s.deps.Settings != nil {
		cmds = append(cmds, s.deps.Settings.Snapshot().Commands...)
	}
	c.JSON(http.StatusOK, gin.H{"commands": cmds})
}

func (s *Server) handleExtractHTML(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.deps.MaxBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "body too large"})
		return
	}
	c.String(http.StatusOK, extract.HTMLToText(body))
}

func (s *Server) handleShared(c *gin.Context) {
	if s.deps.Shared == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shared slot unavailable"})
		return
	}
	var req struct {
		URL  string `json:"url"`
		Text string `json:"text"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	text := req.Text
	if req.URL != "" {
		if s.deps.Fetcher == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "fetching disabled"})
			return
		}
		t, err := s.deps.Fetcher.FetchText(c.Request.Context(), req.URL)
		if err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, extract.ErrUnsupportedScheme) {
				status = http.StatusBadRequest
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		text = t
	}
	if strings.TrimSpace(text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url or text required"})
		return
	}
	if err := s.deps.Shared.Put(c.Request.Context(), text); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chars": len(text)})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.deps.Checker == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "status checks disabled"})
		return
	}
	c.JSON(http.StatusOK, s.deps.Checker.Summary(c.Request.Context()))
}

func requestLogger() gin.HandlerFunc {
	l := logger.Component("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Str("ip", c.ClientIP()).
			Dur("dur", time.Since(start)).
			Msg("http request")
	}
}
