// Package server exposes the webhook endpoint that feeds calls into the
// pipeline, plus health and reporting routes.
package server

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/callpilot/protofill/internal/partner"
	"github.com/callpilot/protofill/internal/pipeline"
	"github.com/callpilot/protofill/internal/store"
)

// Deliverer pushes processed results to the partner API.
type Deliverer interface {
	Deliver(d *partner.Delivery) (*partner.DeliveryReport, error)
}

// Config holds the HTTP server settings.
type Config struct {
	Host          string
	Port          int
	WebhookSecret string
	Debug         bool
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
}

// DefaultConfig returns sane server defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:         "0.0.0.0",
		Port:         8000,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server wires the webhook endpoint to the pipeline.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	processor  *pipeline.Processor
	deliverer  Deliverer
	calls      *store.Store
	logger     *zap.Logger
	secret     string
	startTime  time.Time
	// signatureNow is swapped in tests to verify timestamp tolerance.
	signatureNow func() time.Time

	wg sync.WaitGroup
}

// New builds the server. The deliverer and store may be nil; processing
// then skips delivery and call logging respectively.
func New(
	cfg *Config,
	processor *pipeline.Processor,
	deliverer Deliverer,
	calls *store.Store,
	logger *zap.Logger,
) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:       engine,
		processor:    processor,
		deliverer:    deliverer,
		calls:        calls,
		logger:       logger,
		secret:       cfg.WebhookSecret,
		startTime:    time.Now(),
		signatureNow: time.Now,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.POST("/elevenlabs/posthook", s.handleWebhook)
	s.engine.GET("/calls", s.handleRecentCalls)
	s.engine.GET("/calls/:conversation_id", s.handleCall)
	s.engine.GET("/kpis", s.handleKPIs)
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("webhook server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the listener and waits for in-flight processing.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

// signatureTolerance bounds how stale a signed webhook may be.
const signatureTolerance = 30 * time.Minute

// verifySignature checks the ElevenLabs-Signature header, which carries
// "t=<unix>,v0=<hex hmac-sha256 of 't.body'>".
func (s *Server) verifySignature(header string, body []byte) error {
	var timestamp, mac string
	for _, part := range strings.Split(header, ",") {
		switch {
		case strings.HasPrefix(part, "t="):
			timestamp = strings.TrimPrefix(part, "t=")
		case strings.HasPrefix(part, "v0="):
			mac = strings.TrimPrefix(part, "v0=")
		}
	}
	if timestamp == "" || mac == "" {
		return fmt.Errorf("malformed signature header")
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed signature timestamp")
	}
	age := s.signatureNow().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return fmt.Errorf("signature timestamp outside tolerance")
	}

	h := hmac.New(sha256.New, []byte(s.secret))
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(body)
	expected := hex.EncodeToString(h.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(mac)) {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func (s *Server) handleWebhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
		return
	}

	if s.secret != "" {
		if err := s.verifySignature(c.GetHeader("ElevenLabs-Signature"), body); err != nil {
			s.logger.Warn("webhook signature rejected", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
	}

	var envelope struct {
		Type string `json:"type"`
		Data struct {
			ConversationID string `json:"conversation_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON payload"})
		return
	}
	if envelope.Type != "post_call_transcription" {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid webhook type: %s", envelope.Type)})
		return
	}
	if envelope.Data.ConversationID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing conversation_id in webhook data"})
		return
	}

	s.logger.Info("webhook accepted", zap.String("conversation_id", envelope.Data.ConversationID))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.processCall(body, envelope.Data.ConversationID)
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"status":          "accepted",
		"conversation_id": envelope.Data.ConversationID,
		"message":         "Processing started in background",
	})
}

// processCall runs the pipeline in the background, logs the outcome, and
// delivers to the partner when configured.
func (s *Server) processCall(body []byte, conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := s.processor.Process(ctx, body)
	if err != nil {
		s.logger.Error("pipeline failed",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return
	}

	if s.calls != nil {
		qualified := result.Qualification.IsQualified
		if _, err := s.calls.LogCall(ctx, result.Metadata, &qualified, result.Qualification.Errors); err != nil {
			s.logger.Error("call logging failed", zap.Error(err))
		}
	}

	if s.deliverer != nil {
		report, err := s.deliverer.Deliver(result.Delivery())
		if err != nil {
			s.logger.Error("partner delivery failed", zap.Error(err))
		} else {
			s.logger.Info("partner delivery report",
				zap.String("conversation_id", conversationID),
				zap.Int("succeeded", report.Succeeded()),
			)
		}
	}
}

func (s *Server) handleCall(c *gin.Context) {
	if s.calls == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call log not configured"})
		return
	}
	rec, err := s.calls.Call(c.Request.Context(), c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) handleRecentCalls(c *gin.Context) {
	if s.calls == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call log not configured"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := s.calls.RecentCalls(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": records, "count": len(records)})
}

func (s *Server) handleKPIs(c *gin.Context) {
	if s.calls == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "call log not configured"})
		return
	}
	kpis, err := s.calls.KPIs(c.Request.Context(), c.Query("campaign_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, kpis)
}
