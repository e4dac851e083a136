package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-og/types"
)

type State int32

const (
	StateStopped State = iota
	StateRunning
	StateStopping
)

const (
	DefaultJobTimeout      = 5 * time.Minute
	DefaultShutdownTimeout = 10 * time.Second
)

type job struct {
	entry *types.JobEntry
	fn    types.JobFunc
	run   func()
}

// Scheduler runs named jobs on cron specs with a seconds field. A job never
// overlaps itself; a tick that arrives while the previous run is active is
// skipped.
type Scheduler struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	metrics         types.MetricsManager
	cron            *cron.Cron
	jobs            map[string]*job
	mu              sync.RWMutex
	state           int32
	jobTimeout      time.Duration
	shutdownTimeout time.Duration
}

func New(ctx context.Context, logger types.Logger, metrics types.MetricsManager) *Scheduler {
	cronL := safeCronLogger{
		logger: logger,
	}

	schedulerCtx, cancel := context.WithCancel(ctx)

	return &Scheduler{
		ctx:     schedulerCtx,
		cancel:  cancel,
		logger:  logger,
		metrics: metrics,
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronL), cron.SkipIfStillRunning(cronL)),
		),
		jobs:            make(map[string]*job),
		jobTimeout:      DefaultJobTimeout,
		shutdownTimeout: DefaultShutdownTimeout,
	}
}

func (s *Scheduler) Add(name, spec string, fn types.JobFunc) error {
	if name == "" {
		return types.ErrCronJobNameIsEmpty
	}
	if fn == nil {
		return types.ErrCronJobIsNil
	}
	if spec == "" {
		return types.Errorf(types.ErrCronExpressionInvalid, "job %s has no schedule", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if atomic.LoadInt32(&s.state) == int32(StateStopping) {
		return types.ErrCronSchedulerStopped
	}
	if _, exists := s.jobs[name]; exists {
		return types.Errorf(types.ErrCronJobExists, "job: %s", name)
	}

	j := &job{
		entry: &types.JobEntry{Name: name, Spec: spec, AddedAt: time.Now()},
		fn:    fn,
	}
	j.run = s.wrapJob(j)

	id, err := s.cron.AddFunc(spec, j.run)
	if err != nil {
		return types.Errorf(types.ErrCronExpressionInvalid, "job %s: %v", name, err)
	}
	j.entry.ID = id
	j.entry.NextRun = s.cron.Entry(id).Next

	s.jobs[name] = j

	s.logger.Info("Cron job added", zap.String("job_name", name), zap.String("spec", spec))
	return nil
}

// Run executes a job immediately on the calling goroutine.
func (s *Scheduler) Run(name string) error {
	s.mu.RLock()
	j, ok := s.jobs[name]
	s.mu.RUnlock()

	if !ok {
		return types.Errorf(types.ErrCronJobNotFound, "job: %s", name)
	}

	j.run()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if j.entry.LastError != "" {
		return types.NewErrorf("job %s: %s", name, j.entry.LastError)
	}
	return nil
}

func (s *Scheduler) Start() error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(StateStopped), int32(StateRunning)) {
		return types.ErrServiceIsRunning
	}

	s.cron.Start()
	s.setGauge("cron_scheduler_running", 1)
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.Jobs())))
	return nil
}

func (s *Scheduler) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.state, int32(StateRunning), int32(StateStopping)) {
		return types.ErrServiceIsNotRunning
	}
	defer atomic.StoreInt32(&s.state, int32(StateStopped))

	s.cancel()
	stopCtx := s.cron.Stop()
	s.setGauge("cron_scheduler_running", 0)

	select {
	case <-stopCtx.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-time.After(s.shutdownTimeout):
		s.logger.Warn("Scheduler stop timeout, jobs still running")
		return types.ErrCronJobTimeout
	}
}

func (s *Scheduler) IsRunning() bool {
	return atomic.LoadInt32(&s.state) == int32(StateRunning)
}

// Jobs returns a snapshot of job statistics sorted by name.
func (s *Scheduler) Jobs() []types.JobEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.JobEntry, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, *j.entry)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (s *Scheduler) wrapJob(j *job) func() {
	name := j.entry.Name

	return func() {
		if s.ctx.Err() != nil {
			s.logger.Info("Job skipped due to shutdown", zap.String("job_name", name))
			return
		}

		start := time.Now()
		s.logger.Debug("Cron job started", zap.String("job_name", name))

		ctx, cancel := context.WithTimeout(s.ctx, s.jobTimeout)
		defer cancel()

		err := s.invoke(ctx, j.fn)
		duration := time.Since(start)

		s.finish(j, start, duration, err)

		result := "success"
		if err != nil {
			result = "error"
		}
		if s.metrics != nil {
			s.metrics.Counter("cron_job_executions_total", map[string]string{"job_name": name, "result": result}).Inc()
			s.metrics.Histogram("cron_job_duration_seconds",
				[]float64{0.01, 0.1, 1.0, 10.0, 60.0, 300.0},
				map[string]string{"job_name": name},
			).Observe(duration.Seconds())
		}

		if err != nil {
			s.logger.Error("Cron job failed",
				zap.String("job_name", name),
				zap.Duration("duration", duration),
				zap.Error(err))
			return
		}
		s.logger.Debug("Cron job completed", zap.String("job_name", name), zap.Duration("duration", duration))
	}
}

func (s *Scheduler) invoke(ctx context.Context, fn types.JobFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = types.NewErrorf("job panic: %v", r)
		}
	}()
	return fn(ctx)
}

func (s *Scheduler) finish(j *job, start time.Time, duration time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := j.entry
	entry.LastRun = start
	entry.LastDuration = duration
	entry.TotalDuration += duration
	entry.RunCount++
	entry.AvgDuration = entry.TotalDuration / time.Duration(entry.RunCount)
	entry.LastError = ""
	if err != nil {
		entry.LastError = err.Error()
	}
	if e := s.cron.Entry(entry.ID); e.ID != 0 {
		entry.NextRun = e.Next
	}
}

func (s *Scheduler) setGauge(name string, value float64) {
	if s.metrics == nil {
		return
	}
	s.metrics.Gauge(name, nil).Set(value)
}

type safeCronLogger struct {
	logger types.Logger
}

func (l safeCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fields(keysAndValues)...)
}

func (l safeCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		out = append(out, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1]))
	}
	return out
}
