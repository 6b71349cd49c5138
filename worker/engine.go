package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/broadcast/backoff"
	"github.com/xraph/broadcast/dlq"
	"github.com/xraph/broadcast/id"
	"github.com/xraph/broadcast/job"
	"github.com/xraph/broadcast/middleware"
	"github.com/xraph/broadcast/queue"
)

var _ job.Scheduler = (*Engine)(nil)

// Engine is the delayed-job scheduler. Handlers are registered on its
// Registry; Schedule persists a job that the pool picks up once due.
type Engine struct {
	store          job.Store
	registry       *job.Registry
	dlqService     *dlq.Service
	bo             backoff.Strategy
	mws            []middleware.Middleware
	queueConfigs   []queue.Config
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	poolOpts       []PoolOption
	logger         *slog.Logger

	pool *Pool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMiddleware appends middleware after the built-in chain.
func WithMiddleware(m middleware.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithBackoff sets the retry backoff strategy.
func WithBackoff(b backoff.Strategy) Option {
	return func(e *Engine) { e.bo = b }
}

// WithDLQ sets where jobs that exhaust their retries are recorded.
func WithDLQ(s *dlq.Service) Option {
	return func(e *Engine) { e.dlqService = s }
}

// WithQueueConfig registers queue-level rate limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(e *Engine) { e.queueConfigs = append(e.queueConfigs, configs...) }
}

// WithMeterProvider sets the provider for job metrics. The global
// provider is used otherwise.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// WithTracerProvider sets the provider for job spans. The global
// provider is used otherwise.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithPool passes options to the underlying worker pool.
func WithPool(opts ...PoolOption) Option {
	return func(e *Engine) { e.poolOpts = append(e.poolOpts, opts...) }
}

// NewEngine builds a scheduler over store.
func NewEngine(store job.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("broadcast/worker: nil job store")
	}
	e := &Engine{
		store:    store,
		registry: job.NewRegistry(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.bo == nil {
		e.bo = backoff.DefaultStrategy()
	}

	mp := e.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}

	tp := e.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	chain := []middleware.Middleware{
		middleware.TracingWithTracer(tp.Tracer(middleware.TracerName)),
		middleware.Logging(e.logger),
		middleware.Recover(e.logger),
		middleware.MetricsWithMeter(mp.Meter(middleware.MeterName)),
		middleware.Timeout(e.logger),
	}
	chain = append(chain, e.mws...)

	executor := NewExecutor(e.registry, store, e.dlqService, e.bo, e.logger, chain...)

	poolOpts := e.poolOpts
	if len(e.queueConfigs) > 0 {
		poolOpts = append(poolOpts, WithQueueManager(queue.NewManager(e.queueConfigs...)))
	}
	e.pool = NewPool(store, executor, e.logger, poolOpts...)
	return e, nil
}

// Registry returns the handler registry. Use job.Register to add handlers.
func (e *Engine) Registry() *job.Registry { return e.registry }

// Schedule persists a job named name to run at at.
func (e *Engine) Schedule(ctx context.Context, at time.Time, name string, payload any, opts ...job.Option) (id.JobID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return id.JobID{}, fmt.Errorf("broadcast/worker: marshal payload for %q: %w", name, err)
	}

	o := job.DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	now := time.Now().UTC()
	if at.IsZero() {
		at = now
	}

	j := &job.Job{
		ID:         id.NewJobID(),
		Name:       name,
		Queue:      o.Queue,
		Payload:    data,
		State:      job.StatePending,
		Priority:   o.Priority,
		MaxRetries: o.MaxRetries,
		Key:        o.Key,
		Tenant:     o.Tenant,
		RunAt:      at.UTC(),
		Timeout:    o.Timeout,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.EnqueueJob(ctx, j); err != nil {
		return id.JobID{}, fmt.Errorf("broadcast/worker: schedule %q: %w", name, err)
	}

	e.logger.Debug("job scheduled",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", name),
		slog.Time("run_at", j.RunAt),
	)
	return j.ID, nil
}

// Cancel cancels not-yet-run jobs matching filter. An empty filter is
// rejected.
func (e *Engine) Cancel(ctx context.Context, filter job.CancelFilter) (int64, error) {
	if filter.Empty() {
		return 0, errors.New("broadcast/worker: refusing to cancel with an empty filter")
	}
	n, err := e.store.CancelJobs(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("broadcast/worker: cancel: %w", err)
	}
	return n, nil
}

// Start launches the worker pool.
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info("scheduler starting", slog.Any("jobs", e.registry.Names()))
	return e.pool.Start(ctx)
}

// Stop drains the worker pool, cancelling active jobs when ctx expires.
func (e *Engine) Stop(ctx context.Context) error {
	return e.pool.Stop(ctx)
}
