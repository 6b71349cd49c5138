package middleware_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/xraph/broadcast/id"
	"github.com/xraph/broadcast/job"
	"github.com/xraph/broadcast/middleware"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:         id.NewJobID(),
		Name:       "signal-broadcast-start",
		Queue:      "default",
		Key:        "batch-1",
		RetryCount: 1,
	}
}

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string
	wrap := func(name string) middleware.Middleware {
		return func(ctx context.Context, _ *job.Job, next middleware.Handler) error {
			order = append(order, name+"-before")
			err := next(ctx)
			order = append(order, name+"-after")
			return err
		}
	}

	chain := middleware.Chain(wrap("a"), wrap("b"))
	err := chain(context.Background(), newTestJob(), func(context.Context) error {
		order = append(order, "handler")
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"a-before", "b-before", "handler", "b-after", "a-after"}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestChain_EmptyCallsHandler(t *testing.T) {
	called := false
	err := middleware.Chain()(context.Background(), newTestJob(), func(context.Context) error {
		called = true
		return nil
	})
	if err != nil || !called {
		t.Fatalf("called=%v err=%v", called, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	err := middleware.Recover(testLogger())(context.Background(), newTestJob(), func(context.Context) error {
		panic("kaboom")
	})
	if err == nil || err.Error() != "panic in job signal-broadcast-start: kaboom" {
		t.Fatalf("err = %v", err)
	}
}

func TestLogging_PropagatesError(t *testing.T) {
	want := errors.New("fail")
	err := middleware.Logging(testLogger())(context.Background(), newTestJob(), func(context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
}

func TestTimeout_SetsDeadline(t *testing.T) {
	j := newTestJob()
	j.Timeout = 50 * time.Millisecond

	var hasDeadline bool
	_ = middleware.Timeout(testLogger())(context.Background(), j, func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	})
	if !hasDeadline {
		t.Fatal("expected a deadline on the handler context")
	}

	j.Timeout = 0
	_ = middleware.Timeout(testLogger())(context.Background(), j, func(ctx context.Context) error {
		_, hasDeadline = ctx.Deadline()
		return nil
	})
	if hasDeadline {
		t.Fatal("zero timeout must not set a deadline")
	}
}

func TestMetrics_RecordsExecutions(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := middleware.MetricsWithMeter(mp.Meter("test"))

	_ = m(context.Background(), newTestJob(), func(context.Context) error { return nil })
	_ = m(context.Background(), newTestJob(), func(context.Context) error { return errors.New("x") })

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	byStatus := map[string]int64{}
	found := false
	for _, sm := range rm.ScopeMetrics {
		for _, mt := range sm.Metrics {
			if mt.Name != "broadcast.job.executions" {
				continue
			}
			found = true
			sum, ok := mt.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("executions data = %T", mt.Data)
			}
			for _, dp := range sum.DataPoints {
				v, _ := dp.Attributes.Value(attribute.Key("status"))
				byStatus[v.AsString()] += dp.Value
			}
		}
	}
	if !found {
		t.Fatal("broadcast.job.executions not recorded")
	}
	if byStatus["ok"] != 1 || byStatus["error"] != 1 {
		t.Errorf("executions by status = %v", byStatus)
	}
}

func TestTracing_RecordsSpan(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	m := middleware.TracingWithTracer(tp.Tracer("test"))

	handlerErr := errors.New("publish failed")
	_ = m(context.Background(), newTestJob(), func(context.Context) error { return handlerErr })

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "broadcast.job.execute" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status().Code)
	}

	var key string
	for _, a := range spans[0].Attributes() {
		if a.Key == "broadcast.job.key" {
			key = a.Value.AsString()
		}
	}
	if key != "batch-1" {
		t.Errorf("broadcast.job.key = %q", key)
	}
}
