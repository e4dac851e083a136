package server

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-og/metrics"
	"github.com/saiset-co/sai-og/templates"
	"github.com/saiset-co/sai-og/types"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

const DefaultShutdownTimeout = 5 * time.Second

// Generator is the part of the engine the HTTP API drives.
type Generator interface {
	Generate(ctx context.Context, params *types.RenderParams) (*types.GeneratedImage, error)
	Stats() types.CacheStats
	IsRunning() bool
}

type TemplateRegistry interface {
	Names() []string
	Lookup(name string) (*templates.Template, error)
	Execute(tmpl *templates.Template, data map[string]interface{}) (string, error)
}

type Server struct {
	config    *types.ServerConfig
	logger    types.Logger
	metrics   types.MetricsManager
	generator Generator
	templates TemplateRegistry
	handler   fasthttp.RequestHandler
	server    *fasthttp.Server
	listener  net.Listener
	state     int32
}

func New(logger types.Logger, metricsManager types.MetricsManager, config *types.ServerConfig, generator Generator, registry TemplateRegistry) *Server {
	if config == nil {
		config = &types.ServerConfig{}
	}
	if metricsManager == nil {
		metricsManager = metrics.NewNop()
	}

	s := &Server{
		config:    config,
		logger:    logger,
		metrics:   metricsManager,
		generator: generator,
		templates: registry,
	}

	r := newRouter()
	r.add(fasthttp.MethodGet, "/og/{template}", s.handleGenerateQuery)
	r.add(fasthttp.MethodPost, "/og/{template}", s.handleGenerateBody)
	r.add(fasthttp.MethodGet, "/templates", s.handleTemplates)
	r.add(fasthttp.MethodGet, "/templates/{name}/preview", s.handlePreview)
	r.add(fasthttp.MethodGet, "/stats", s.handleStats)
	r.add(fasthttp.MethodGet, "/health", s.handleHealth)
	r.add(fasthttp.MethodGet, "/metrics", fasthttpadaptor.NewFastHTTPHandler(metricsManager.Handler()))

	s.handler = chain(r.handler(s.handleNotFound),
		recovery(logger, metricsManager),
		requestID,
		logging(logger, metricsManager),
		compression,
	)

	return s
}

// Handler exposes the full middleware chain, for embedding and tests.
func (s *Server) Handler() fasthttp.RequestHandler {
	return s.handler
}

func (s *Server) Start() error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(StateStopped), int32(StateRunning)) {
		return types.ErrServerAlreadyRunning
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		atomic.StoreInt32(&s.state, int32(StateStopped))
		return types.Errorf(types.ErrServerStartFailed, "listen %s: %v", addr, err)
	}
	s.listener = listener

	s.server = &fasthttp.Server{
		Handler:                      s.handler,
		Name:                         "sai-og",
		ReadTimeout:                  s.config.ReadTimeout,
		WriteTimeout:                 s.config.WriteTimeout,
		IdleTimeout:                  s.config.IdleTimeout,
		TCPKeepalive:                 true,
		DisablePreParseMultipartForm: true,
		CloseOnShutdown:              true,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil {
			s.logger.Error("HTTP server failed", zap.Error(err))
			atomic.StoreInt32(&s.state, int32(StateStopped))
		}
	}()

	s.logger.Info("HTTP server started", zap.String("address", listener.Addr().String()))
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(StateRunning), int32(StateStopping)) {
		return types.ErrServerNotRunning
	}
	defer atomic.StoreInt32(&s.state, int32(StateStopped))

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.server.ShutdownWithContext(ctx); err != nil {
		s.logger.Warn("HTTP server stop timeout, some connections may not have closed gracefully", zap.Error(err))
		return types.Errorf(types.ErrServerStopFailed, "%v", err)
	}

	s.logger.Info("HTTP server stopped gracefully")
	return nil
}

func (s *Server) IsRunning() bool {
	return atomic.LoadInt32(&s.state) == int32(StateRunning)
}

// Addr is the bound listener address, useful when Port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}
