package service

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-og/cache"
	"github.com/saiset-co/sai-og/encoder"
	"github.com/saiset-co/sai-og/fonts"
	"github.com/saiset-co/sai-og/generator"
	"github.com/saiset-co/sai-og/metrics"
	"github.com/saiset-co/sai-og/render"
	"github.com/saiset-co/sai-og/scheduler"
	"github.com/saiset-co/sai-og/server"
	"github.com/saiset-co/sai-og/templates"
	"github.com/saiset-co/sai-og/types"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

const defaultShutdownTimeout = 30 * time.Second

// Service wires the engine together. Every component is owned by the
// Service instance; nothing is registered globally.
type Service struct {
	ctx       context.Context
	cancel    context.CancelFunc
	config    *types.EngineConfig
	logger    types.Logger
	metrics   types.MetricsManager
	templates *templates.Engine
	fonts     *fonts.Manager
	generator *generator.Generator
	scheduler *scheduler.Scheduler
	server    *server.Server
	state     int32
}

func New(ctx context.Context, config *types.EngineConfig, logger types.Logger, opts ...generator.Option) (*Service, error) {
	if config == nil {
		return nil, types.ErrConfigIsNil
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	s := &Service{
		ctx:    serviceCtx,
		cancel: cancel,
		config: config,
		logger: logger,
	}

	if err := s.build(opts); err != nil {
		cancel()
		return nil, err
	}

	return s, nil
}

func (s *Service) build(opts []generator.Option) error {
	cfg := s.config

	s.metrics = metrics.NewManager(s.logger, cfg.Metrics)

	s.fonts = fonts.NewManager(s.logger, cfg.Fonts)
	if cfg.Fonts.Builtins {
		if err := s.fonts.RegisterBuiltins(); err != nil {
			return err
		}
	}
	if cfg.Fonts.Dir != "" {
		if _, err := s.fonts.LoadDir(cfg.Fonts.Dir); err != nil {
			return types.WrapError(err, "failed to load fonts")
		}
	}

	s.templates = templates.NewEngine(s.logger, cfg.Templates, cfg.Limits)
	if cfg.Templates.Dir != "" {
		if _, err := s.templates.LoadDir(cfg.Templates.Dir); err != nil {
			return types.WrapError(err, "failed to load templates")
		}
	}

	renderer, err := render.NewRenderer(s.logger, cfg.Render, s.fonts)
	if err != nil {
		return types.WrapError(err, "failed to create renderer")
	}

	memory, err := cache.NewMemoryCache(s.logger, cfg.Cache.Memory)
	if err != nil {
		return err
	}

	persistent, err := cache.NewPersistentStore(s.ctx, s.logger, s.metrics, cfg.Cache.Persistent)
	if err != nil {
		return types.WrapError(err, "failed to create persistent cache")
	}

	layer := cache.NewLayer(s.logger, s.metrics, cfg.Cache, memory, persistent)

	s.generator, err = generator.New(s.logger, cfg.Generator, cfg.Limits, generator.Dependencies{
		Templates: s.templates,
		Fonts:     s.fonts,
		Renderer:  renderer,
		Encoder:   encoder.NewEncoder(s.logger, cfg.Encoder),
		Cache:     layer,
		Metrics:   s.metrics,
	}, opts...)
	if err != nil {
		_ = layer.Close()
		return err
	}

	s.scheduler = scheduler.New(s.ctx, s.logger, s.metrics)
	if persistent != nil && cfg.Cache.Persistent.SweepSchedule != "" {
		if err := s.scheduler.Add(scheduler.PersistentSweepJob, cfg.Cache.Persistent.SweepSchedule, scheduler.SweepJob(s.logger, layer)); err != nil {
			_ = layer.Close()
			return err
		}
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled && cfg.Metrics.CollectSchedule != "" {
		collector := metrics.NewCollector(s.metrics, s.generator)
		if err := s.scheduler.Add(scheduler.MetricsCollectJob, cfg.Metrics.CollectSchedule, scheduler.CollectJob(collector)); err != nil {
			_ = layer.Close()
			return err
		}
	}

	if cfg.Server != nil && cfg.Server.Enabled {
		s.server = server.New(s.logger, s.metrics, cfg.Server, s.generator, s.templates)
	}

	return nil
}

// Start brings up the generator first, then the background and network
// surfaces.
func (s *Service) Start() error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(StateStopped), int32(StateRunning)) {
		return types.ErrServiceIsRunning
	}

	if err := s.metrics.Start(); err != nil {
		atomic.StoreInt32(&s.state, int32(StateStopped))
		return types.WrapError(err, "failed to start metrics")
	}

	if err := s.generator.Init(); err != nil {
		atomic.StoreInt32(&s.state, int32(StateStopped))
		return types.WrapError(err, "failed to init generator")
	}

	g := new(errgroup.Group)

	g.Go(func() error {
		return s.scheduler.Start()
	})

	if s.config.Templates.Watch && s.config.Templates.Dir != "" {
		g.Go(func() error {
			return s.templates.Watch(s.ctx, s.config.Templates.Dir)
		})
	}

	if s.server != nil {
		g.Go(func() error {
			return s.server.Start()
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("Failed to start service", zap.Error(err))
		atomic.StoreInt32(&s.state, int32(StateStopped))
		s.shutdown()
		return err
	}

	s.logger.Info("Service started",
		zap.String("name", s.config.Name),
		zap.String("version", s.config.Version),
		zap.Strings("templates", s.templates.Names()),
		zap.Strings("font_families", s.fonts.Families()))
	return nil
}

// Run starts the service and blocks until ctx is done or SIGINT/SIGTERM
// arrives, then stops it.
func (s *Service) Run() error {
	if err := s.Start(); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	case <-s.ctx.Done():
		s.logger.Info("Context cancelled, stopping")
	}

	return s.Stop()
}

func (s *Service) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(StateRunning), int32(StateStopping)) {
		return types.ErrServiceIsNotRunning
	}
	defer atomic.StoreInt32(&s.state, int32(StateStopped))

	s.logger.Info("Stopping service...")
	return s.shutdown()
}

// shutdown stops the network surface first so no new work arrives, then
// drains the generator.
func (s *Service) shutdown() error {
	timeout := defaultShutdownTimeout
	if s.config.Server != nil && s.config.Server.ShutdownTimeout > 0 {
		timeout = s.config.Server.ShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	g := new(errgroup.Group)

	if s.server != nil && s.server.IsRunning() {
		g.Go(func() error {
			return s.server.Stop(ctx)
		})
	}
	if s.scheduler.IsRunning() {
		g.Go(func() error {
			return s.scheduler.Stop()
		})
	}

	err := g.Wait()

	if s.generator.IsRunning() {
		if genErr := s.generator.Shutdown(ctx); genErr != nil && err == nil {
			err = genErr
		}
	}

	if metricsErr := s.metrics.Stop(); metricsErr != nil && err == nil {
		err = metricsErr
	}

	s.cancel()

	if err != nil {
		s.logger.Error("Error during service shutdown", zap.Error(err))
		return err
	}

	s.logger.Info("Service stopped gracefully")
	return nil
}

func (s *Service) IsRunning() bool {
	return atomic.LoadInt32(&s.state) == int32(StateRunning)
}

func (s *Service) Generator() *generator.Generator {
	return s.generator
}

func (s *Service) Templates() *templates.Engine {
	return s.templates
}

func (s *Service) Fonts() *fonts.Manager {
	return s.fonts
}

func (s *Service) Server() *server.Server {
	return s.server
}

func (s *Service) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}
