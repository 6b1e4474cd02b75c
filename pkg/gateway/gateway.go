// Package gateway exposes hosted units over HTTP. A thin gin server maps
// every unmatched route onto runtime dispatch: query parameters, form
// fields, and X-Arg-* headers become request arguments, JSON object bodies
// are flattened into arguments one level deep, and the raw body is always
// available under the "body" argument. Dispatch outcomes map back onto
// HTTP status codes, with redirects answered as 303.
package gateway

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Hestia/internal/metrics"
	"github.com/wehubfusion/Hestia/pkg/concurrency"
	"github.com/wehubfusion/Hestia/pkg/errors"
	"github.com/wehubfusion/Hestia/pkg/request"
	"github.com/wehubfusion/Hestia/pkg/runtime"
)

const transportName = "http"

// argHeaderPrefix marks headers promoted into request arguments:
// X-Arg-Tenant becomes the "tenant" argument.
const argHeaderPrefix = "X-Arg-"

// Config tunes the HTTP gateway.
type Config struct {
	// Addr is the listen address.
	Addr string

	// Prefix is an optional path prefix stripped before dispatch,
	// e.g. "/api".
	Prefix string

	// MaxConcurrent caps in-flight dispatches.
	MaxConcurrent int

	// DispatchTimeout bounds a single dispatch.
	DispatchTimeout time.Duration

	// ShutdownTimeout bounds the graceful shutdown.
	ShutdownTimeout time.Duration

	// MaxBodyBytes caps the accepted request body size.
	MaxBodyBytes int64
}

// DefaultConfig returns gateway settings sized from the environment.
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		MaxConcurrent:   concurrency.LoadConfig().MaxConcurrent,
		DispatchTimeout: 30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		MaxBodyBytes:    4 << 20,
	}
}

// Server serves dispatch requests over HTTP.
type Server struct {
	runtime *runtime.Runtime
	config  Config
	engine  *gin.Engine
	limiter *concurrency.Limiter
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewServer creates a gateway dispatching into rt. Zero config fields fall
// back to DefaultConfig values.
func NewServer(rt *runtime.Runtime, config Config, logger *zap.Logger) (*Server, error) {
	if rt == nil {
		return nil, fmt.Errorf("runtime is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.DispatchTimeout <= 0 {
		config.DispatchTimeout = defaults.DispatchTimeout
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaults.ShutdownTimeout
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}

	s := &Server{
		runtime: rt,
		config:  config,
		limiter: concurrency.NewLimiter(config.MaxConcurrent),
		tracer:  otel.Tracer("hestia/gateway"),
		logger:  logger,
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.requestLogger())

	engine.GET("/healthz", s.health)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	// Everything else is a unit path.
	engine.NoRoute(s.handle)

	s.engine = engine
	return s, nil
}

// Handler returns the gateway as an http.Handler, for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.config.Addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	s.logger.Info("Gateway listening",
		zap.String("addr", s.config.Addr),
		zap.Int("max_concurrent", s.config.MaxConcurrent))

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	s.logger.Info("Gateway stopped")
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		switch {
		case status >= 500:
			s.logger.Error("HTTP request", fields...)
		case status >= 400:
			s.logger.Warn("HTTP request", fields...)
		default:
			s.logger.Debug("HTTP request", fields...)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	status := "inactive"
	if s.runtime.Active() {
		status = "active"
	}
	c.JSON(http.StatusOK, gin.H{
		"status": status,
		"units":  len(s.runtime.Units()),
	})
}

// handle maps one HTTP request onto runtime dispatch.
func (s *Server) handle(c *gin.Context) {
	start := time.Now()

	verb, err := request.ParseVerb(c.Request.Method)
	if err != nil {
		s.finish(c, start, http.StatusMethodNotAllowed, gin.H{"error": err.Error()})
		return
	}

	path := c.Request.URL.Path
	if s.config.Prefix != "" {
		path = strings.TrimPrefix(path, s.config.Prefix)
	}
	path = strings.Trim(path, "/")

	args, err := s.buildArgs(c)
	if err != nil {
		s.finish(c, start, http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id := c.GetHeader("X-Request-Id")
	if id == "" {
		id = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.config.DispatchTimeout)
	defer cancel()

	ctx, span := s.tracer.Start(ctx, "gateway.dispatch",
		trace.WithAttributes(
			attribute.String("request.id", id),
			attribute.String("request.path", path),
			attribute.String("request.verb", verb.String())))
	defer span.End()

	if err := s.limiter.Acquire(ctx); err != nil {
		span.SetStatus(codes.Error, "no dispatch slot")
		s.finish(c, start, http.StatusServiceUnavailable, gin.H{"error": "host is saturated"})
		return
	}
	defer s.limiter.Release()

	outcome, err := s.runtime.Dispatch(ctx, id, path, verb, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.IsValidation(err) {
			s.finish(c, start, http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.logger.Error("Dispatch failed",
			zap.String("request_id", id),
			zap.String("path", path),
			zap.Error(err))
		s.finish(c, start, http.StatusInternalServerError, gin.H{"error": "request processing failed"})
		return
	}

	span.SetStatus(codes.Ok, outcome.Kind.String())
	switch outcome.Kind {
	case runtime.OutcomeProcessed:
		s.finish(c, start, outcome.Response.Status(), outcome.Response.Body())
	case runtime.OutcomeRedirect:
		s.observe(http.StatusSeeOther, start)
		c.Redirect(http.StatusSeeOther, outcome.Target)
	case runtime.OutcomeInactive:
		s.finish(c, start, http.StatusServiceUnavailable, gin.H{"error": "processor is not active"})
	default:
		s.finish(c, start, http.StatusNotFound,
			gin.H{"error": fmt.Sprintf("no unit answers %s %q", verb, path)})
	}
}

func (s *Server) finish(c *gin.Context, start time.Time, status int, body any) {
	s.observe(status, start)
	c.JSON(status, body)
}

func (s *Server) observe(status int, start time.Time) {
	metrics.DispatchTotal.WithLabelValues(transportName, statusOutcome(status)).Inc()
	metrics.DispatchDuration.WithLabelValues(transportName).Observe(time.Since(start).Seconds())
}

// statusOutcome maps an HTTP status onto the dispatch outcome metric label.
func statusOutcome(status int) string {
	switch {
	case status == http.StatusSeeOther:
		return metrics.OutcomeRedirect
	case status == http.StatusNotFound:
		return metrics.OutcomeNotFound
	case status == http.StatusServiceUnavailable:
		return metrics.OutcomeUnavailable
	case status >= 500:
		return metrics.OutcomeServerError
	case status >= 400:
		return metrics.OutcomeClientError
	default:
		return metrics.OutcomeOK
	}
}

// buildArgs assembles request arguments from the query, form fields or
// body, and X-Arg-* headers. Later sources do not overwrite earlier ones
// except the reserved "body" key, which always holds the raw body.
func (s *Server) buildArgs(c *gin.Context) (request.Args, error) {
	args := request.Args{}

	for key, values := range c.Request.URL.Query() {
		if len(values) > 0 {
			args[key] = values[0]
		}
	}

	for key, values := range c.Request.Header {
		if name, ok := strings.CutPrefix(key, argHeaderPrefix); ok && len(values) > 0 {
			name = strings.ToLower(name)
			if _, exists := args[name]; !exists {
				args[name] = values[0]
			}
		}
	}

	contentType := c.ContentType()
	switch {
	case strings.HasPrefix(contentType, "application/x-www-form-urlencoded"):
		if err := c.Request.ParseForm(); err != nil {
			return nil, fmt.Errorf("parsing form: %w", err)
		}
		for key, values := range c.Request.PostForm {
			if _, exists := args[key]; !exists && len(values) > 0 {
				args[key] = values[0]
			}
		}
	case c.Request.Body != nil && c.Request.ContentLength != 0:
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.config.MaxBodyBytes+1))
		if err != nil {
			return nil, fmt.Errorf("reading body: %w", err)
		}
		if int64(len(body)) > s.config.MaxBodyBytes {
			return nil, fmt.Errorf("request body exceeds %d bytes", s.config.MaxBodyBytes)
		}
		if len(body) > 0 {
			args["body"] = body
			if strings.Contains(contentType, "json") && gjson.ValidBytes(body) {
				if parsed := gjson.ParseBytes(body); parsed.IsObject() {
					parsed.ForEach(func(key, value gjson.Result) bool {
						name := key.String()
						if _, exists := args[name]; !exists && name != "body" {
							args[name] = value.String()
						}
						return true
					})
				}
			}
		}
	}

	return args, nil
}
