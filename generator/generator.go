// Package generator runs the OG image pipeline: key derivation, cache
// lookup, template resolution, rasterization, encoding and cache population.
//
// A Generator is built explicitly by the composition root and has an Init /
// Shutdown lifecycle; there is no package-level instance.
package generator

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/saiset-co/sai-og/cache"
	"github.com/saiset-co/sai-og/encoder"
	"github.com/saiset-co/sai-og/fonts"
	"github.com/saiset-co/sai-og/metrics"
	"github.com/saiset-co/sai-og/render"
	"github.com/saiset-co/sai-og/templates"
	"github.com/saiset-co/sai-og/types"
	"github.com/saiset-co/sai-og/utils"
)

type State string

const (
	StateIdle              State = "Idle"
	StateKeyComputed       State = "KeyComputed"
	StateCacheChecked      State = "CacheChecked"
	StateTemplateResolving State = "TemplateResolving"
	StateRasterizing       State = "Rasterizing"
	StateEncoding          State = "Encoding"
	StateCachePopulating   State = "CachePopulating"
	StateDone              State = "Done"
	StateFailed            State = "Failed"
)

const (
	lifecycleStopped int32 = iota
	lifecycleRunning
	lifecycleStopping
)

const DefaultMaxDimension = 4096

var stageBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// Dependencies are the collaborators a Generator borrows. The registries are
// shared with the rest of the process; the cache layer is owned.
type Dependencies struct {
	Templates *templates.Engine
	Fonts     *fonts.Manager
	Renderer  *render.Renderer
	Encoder   *encoder.Encoder
	Cache     *cache.Layer
	Metrics   types.MetricsManager
}

// Option customizes a Generator.
type Option func(*Generator)

// WithRenderHook registers fn to be called once per pipeline execution, just
// before template resolution. Cache hits and coalesced callers do not call it.
func WithRenderHook(fn func(params *types.RenderParams)) Option {
	return func(g *Generator) {
		g.onRender = fn
	}
}

type Generator struct {
	logger      types.Logger
	config      *types.GeneratorConfig
	limits      *types.LimitsConfig
	deps        Dependencies
	validate    *validator.Validate
	workers     *semaphore.Weighted
	workerCount int64
	onRender    func(params *types.RenderParams)
	state       int32
	inflight    sync.WaitGroup
	renders     uint64
	failures    uint64
	timeouts    uint64
}

func New(logger types.Logger, config *types.GeneratorConfig, limits *types.LimitsConfig, deps Dependencies, opts ...Option) (*Generator, error) {
	if deps.Templates == nil || deps.Fonts == nil || deps.Renderer == nil || deps.Encoder == nil || deps.Cache == nil {
		return nil, types.Errorf(types.ErrInvalidState, "generator dependencies are incomplete")
	}
	if config == nil {
		config = &types.GeneratorConfig{}
	}
	if limits == nil {
		limits = &types.LimitsConfig{}
	}
	if limits.MaxWidth <= 0 {
		limits.MaxWidth = DefaultMaxDimension
	}
	if limits.MaxHeight <= 0 {
		limits.MaxHeight = DefaultMaxDimension
	}

	workers := config.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}

	g := &Generator{
		logger:      logger,
		config:      config,
		limits:      limits,
		deps:        deps,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		workers:     semaphore.NewWeighted(int64(workers)),
		workerCount: int64(workers),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g, nil
}

func (g *Generator) Init() error {
	if !atomic.CompareAndSwapInt32(&g.state, lifecycleStopped, lifecycleRunning) {
		return types.ErrServiceIsRunning
	}

	g.logger.Info("Generator initialized",
		zap.Duration("timeout", g.config.Timeout),
		zap.Int("max_width", g.limits.MaxWidth),
		zap.Int("max_height", g.limits.MaxHeight))
	return nil
}

// Shutdown stops accepting requests and waits for in-flight pipelines,
// including ones whose callers already timed out, then closes the cache.
func (g *Generator) Shutdown(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&g.state, lifecycleRunning, lifecycleStopping) {
		return types.ErrServiceIsNotRunning
	}
	defer atomic.StoreInt32(&g.state, lifecycleStopped)

	done := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	// Holding every worker slot means no detached pipeline is still running.
	if err := g.workers.Acquire(ctx, g.workerCount); err != nil {
		g.logger.Warn("Generator shutdown timed out with pipelines in flight", zap.Error(err))
	} else {
		defer g.workers.Release(g.workerCount)
	}

	if err := g.deps.Cache.Close(); err != nil {
		return types.WrapError(err, "failed to close cache")
	}

	g.logger.Info("Generator stopped",
		zap.Uint64("renders", atomic.LoadUint64(&g.renders)),
		zap.Uint64("failures", atomic.LoadUint64(&g.failures)),
		zap.Uint64("timeouts", atomic.LoadUint64(&g.timeouts)))
	return nil
}

func (g *Generator) IsRunning() bool {
	return atomic.LoadInt32(&g.state) == lifecycleRunning
}

func (g *Generator) RegisterTemplate(name, markup string) error {
	return g.deps.Templates.Register(name, markup)
}

func (g *Generator) RegisterFont(family string, weight types.FontWeight, style types.FontStyle, data []byte) error {
	return g.deps.Fonts.Register(family, weight, style, data)
}

// Stats exposes the cache counters.
func (g *Generator) Stats() types.CacheStats {
	return g.deps.Cache.Stats()
}

func (g *Generator) Renders() uint64 {
	return atomic.LoadUint64(&g.renders)
}

// Generate returns the image for params, from cache when possible.
func (g *Generator) Generate(ctx context.Context, params *types.RenderParams) (*types.GeneratedImage, error) {
	if !g.IsRunning() {
		return nil, types.ErrServiceIsNotRunning
	}

	start := time.Now()

	img, err := g.generate(ctx, params)
	if err != nil {
		g.fail(params, err)
		g.deps.Metrics.Counter("generator_requests_total", map[string]string{"result": string(types.KindOf(err))}).Inc()
		return nil, err
	}

	result := "miss"
	if img.CacheHit {
		result = "hit"
	}
	g.deps.Metrics.Counter("generator_requests_total", map[string]string{"result": result}).Inc()
	g.deps.Metrics.Histogram("generator_request_duration_seconds", stageBuckets, map[string]string{"result": result}).ObserveDuration(start)

	return img, nil
}

func (g *Generator) generate(ctx context.Context, params *types.RenderParams) (*types.GeneratedImage, error) {
	g.trace(params, StateIdle)

	if err := g.Validate(params); err != nil {
		return nil, err
	}

	tmpl, err := g.deps.Templates.Lookup(params.Template)
	if err != nil {
		return nil, err
	}

	key, err := CacheKey(params, tmpl.Hash, g.deps.Fonts.Fingerprint())
	if err != nil {
		return nil, err
	}
	g.trace(params, StateKeyComputed, zap.String("key", key))

	if entry, ok := g.deps.Cache.Get(ctx, key); ok {
		g.trace(params, StateCacheChecked, zap.Bool("hit", true))
		g.trace(params, StateDone)
		return g.image(params, key, entry, true), nil
	}
	g.trace(params, StateCacheChecked, zap.Bool("hit", false))

	deadline := ctx
	if g.config.Timeout > 0 {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(ctx, g.config.Timeout)
		defer cancel()
	}

	g.inflight.Add(1)
	defer g.inflight.Done()

	entry, _, err := g.deps.Cache.Do(deadline, key, func(detached context.Context) (*types.CacheEntry, error) {
		return g.pipeline(detached, params, tmpl)
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			atomic.AddUint64(&g.timeouts, 1)
			return nil, types.WrapKind(types.KindTimeoutError, err, "generation of %s exceeded %s", params.Template, g.config.Timeout)
		}
		return nil, err
	}

	g.trace(params, StateDone)
	return g.image(params, key, entry, false), nil
}

// pipeline is the CPU-bound cache-miss branch. It runs on a worker slot and
// is never interrupted once rasterization starts.
func (g *Generator) pipeline(ctx context.Context, params *types.RenderParams, tmpl *templates.Template) (*types.CacheEntry, error) {
	if err := g.workers.Acquire(ctx, 1); err != nil {
		return nil, types.WrapKind(types.KindTimeoutError, err, "no worker available")
	}
	defer g.workers.Release(1)

	atomic.AddUint64(&g.renders, 1)
	if g.onRender != nil {
		g.onRender(params)
	}

	g.trace(params, StateTemplateResolving)
	stage := time.Now()
	markup, err := g.deps.Templates.Execute(tmpl, params.Data)
	if err != nil {
		return nil, err
	}
	g.observeStage("template", stage)

	g.trace(params, StateRasterizing)
	stage = time.Now()
	img, err := g.deps.Renderer.Rasterize(ctx, markup, params.Width, params.Height, &render.Options{
		Background: params.BackgroundColor,
		TextColor:  params.TextColor,
	})
	if err != nil {
		return nil, err
	}
	g.observeStage("rasterize", stage)

	g.trace(params, StateEncoding)
	stage = time.Now()
	data, err := g.deps.Encoder.Encode(img, params.Format, &encoder.Options{
		Quality:     params.Quality,
		Compression: params.Compression,
	})
	if err != nil {
		return nil, err
	}
	g.observeStage("encode", stage)

	g.trace(params, StateCachePopulating, zap.Int("bytes", len(data)))

	return &types.CacheEntry{
		Data:        data,
		ContentType: params.Format.ContentType(),
		Width:       params.Width,
		Height:      params.Height,
		CreatedAt:   time.Now(),
	}, nil
}

// Validate rejects a request before any rendering work. It fills in the
// default format.
func (g *Generator) Validate(params *types.RenderParams) error {
	if params == nil {
		return types.NewError(types.KindInvalidParams, "params are nil")
	}

	if err := g.validate.Struct(params); err != nil {
		return types.WrapKind(types.KindInvalidParams, err, "invalid render params")
	}

	if params.Width <= 0 || params.Height <= 0 {
		return types.NewError(types.KindSizeLimitExceeded, "size %dx%d must be positive", params.Width, params.Height)
	}
	if params.Width > g.limits.MaxWidth || params.Height > g.limits.MaxHeight {
		return types.NewError(types.KindSizeLimitExceeded, "size %dx%d exceeds %dx%d",
			params.Width, params.Height, g.limits.MaxWidth, g.limits.MaxHeight)
	}

	if params.Format == "" {
		params.Format = types.FormatPNG
	}
	if err := g.deps.Encoder.CheckFormat(params.Format); err != nil {
		return err
	}

	if g.limits.MaxPayloadBytes > 0 && len(params.Data) > 0 {
		raw, err := utils.MarshalCanonical(params.Data)
		if err != nil {
			return types.WrapKind(types.KindInvalidParams, err, "data is not serializable")
		}
		if len(raw) > g.limits.MaxPayloadBytes {
			return types.NewError(types.KindSizeLimitExceeded, "data payload is %d bytes, limit %d", len(raw), g.limits.MaxPayloadBytes)
		}
	}

	return nil
}

func (g *Generator) image(params *types.RenderParams, key string, entry *types.CacheEntry, hit bool) *types.GeneratedImage {
	return &types.GeneratedImage{
		Data:        entry.Data,
		ContentType: entry.ContentType,
		Format:      params.Format,
		Width:       entry.Width,
		Height:      entry.Height,
		Key:         key,
		CacheHit:    hit,
	}
}

func (g *Generator) trace(params *types.RenderParams, state State, fields ...zap.Field) {
	g.logger.Debug("Generator state",
		append([]zap.Field{zap.String("state", string(state)), zap.String("template", params.Template)}, fields...)...)
}

func (g *Generator) observeStage(stage string, start time.Time) {
	g.deps.Metrics.Histogram("generator_stage_duration_seconds", stageBuckets, map[string]string{"stage": stage}).ObserveDuration(start)
}

func (g *Generator) fail(params *types.RenderParams, err error) {
	atomic.AddUint64(&g.failures, 1)

	name := ""
	if params != nil {
		name = params.Template
	}

	kind := types.KindOf(err)
	fields := []zap.Field{zap.String("state", string(StateFailed)), zap.String("template", name), zap.String("kind", string(kind))}

	switch kind {
	case types.KindInternal, types.KindEncodeError:
		g.logger.ErrorWithErrStack("Generation failed", pkgerrors.WithStack(err), fields...)
	default:
		g.logger.Debug("Generation rejected", append(fields, zap.Error(err))...)
	}
}
