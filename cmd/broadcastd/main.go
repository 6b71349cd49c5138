// Command broadcastd runs the broadcast campaign service: the HTTP API,
// the delayed start scheduler, the outcome consumer, the progress
// listener and the completion sweeper.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/api"
	"github.com/xraph/broadcast/campaign"
	"github.com/xraph/broadcast/consumer"
	"github.com/xraph/broadcast/dlq"
	"github.com/xraph/broadcast/queue"
	"github.com/xraph/broadcast/state"
	"github.com/xraph/broadcast/store"
	"github.com/xraph/broadcast/store/dynamo"
	"github.com/xraph/broadcast/store/memory"
	"github.com/xraph/broadcast/store/mongo"
	"github.com/xraph/broadcast/store/natskv"
	"github.com/xraph/broadcast/store/postgres"
	"github.com/xraph/broadcast/store/redis"
	"github.com/xraph/broadcast/stream"
	"github.com/xraph/broadcast/worker"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := broadcast.LoadConfig(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)}))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("broadcastd stopped", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("broadcastd stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func run(ctx context.Context, cfg broadcast.Config, logger *slog.Logger) error {
	conn, err := stream.Connect(cfg.NATS, logger)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := stream.EnsureStreams(ctx, conn.JS, cfg.NATS, logger); err != nil {
		return err
	}

	states, err := openStateStore(ctx, cfg, conn, logger)
	if err != nil {
		return err
	}

	db, disconnect, err := mongo.Connect(ctx, cfg.Mongo.DSN, cfg.Mongo.Database, mongo.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect failed", slog.String("error", err.Error()))
		}
	}()
	if err := prepare(ctx, db); err != nil {
		return err
	}

	contacts, err := postgres.New(ctx, cfg.Postgres.DSN, postgres.WithLogger(logger))
	if err != nil {
		return err
	}
	defer contacts.Close()

	publisher := stream.NewPublisher(conn.JS, logger)
	dead := dlq.NewService(db, db, dlq.WithRepublisher(publisher))

	sc := cfg.Scheduler
	engine, err := worker.NewEngine(db,
		worker.WithLogger(logger),
		worker.WithDLQ(dead),
		worker.WithQueueConfig(queue.Config{
			Name:      "default",
			RateLimit: sc.SignalRateLimit,
			RateBurst: int(sc.SignalRateLimit),
		}),
		worker.WithPool(
			worker.WithPoolConcurrency(sc.Concurrency),
			worker.WithPollInterval(sc.PollInterval),
			worker.WithHeartbeatInterval(sc.HeartbeatInterval),
			worker.WithStaleJobThreshold(sc.StaleJobThreshold),
		),
	)
	if err != nil {
		return err
	}

	campaigns := campaign.NewService(states, db, contacts, engine,
		campaign.WithLogger(logger),
		campaign.WithControlSender(publisher),
	)
	campaigns.Register(engine.Registry())

	sweeper, err := campaign.NewSweeper(states, db, sc.SweepSchedule, campaign.WithSweeperLogger(logger))
	if err != nil {
		return err
	}

	taskCons, err := stream.EnsureConsumer(ctx, conn.JS, cfg.NATS.TaskStream, cfg.Consumer)
	if err != nil {
		return err
	}
	cc := cfg.Consumer
	outcomes := consumer.New(stream.NewSource(taskCons), db,
		consumer.WithLogger(logger),
		consumer.WithBatchSize(cc.BatchSize),
		consumer.WithBatchTimeout(cc.BatchTimeout),
		consumer.WithFetch(cc.FetchMaxMessages, cc.FetchExpires),
		consumer.WithMaxDeliver(cc.MaxDeliver),
		consumer.WithRetryDelay(cc.RetryDelay),
		consumer.WithDeadLetters(dead),
	)

	progressCons, err := stream.EnsureProgressConsumer(ctx, conn.JS, cfg.NATS.ProgressStream)
	if err != nil {
		return err
	}
	progress := stream.NewProgressListener(states, logger)

	srv := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: api.New(campaigns,
			api.WithConsumer(outcomes),
			api.WithDLQ(dead),
			api.WithJobStore(db),
			api.WithLogger(logger),
		).Handler(),
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}
	sweeper.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return outcomes.Run(gctx) })
	g.Go(func() error { return progress.Run(gctx, progressCons) })
	g.Go(func() error {
		logger.Info("http listening", slog.String("addr", cfg.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		sctx, scancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer scancel()
		herr := srv.Shutdown(sctx)

		sweeper.Stop()

		ectx, ecancel := context.WithTimeout(context.Background(), sc.ShutdownTimeout)
		defer ecancel()
		return errors.Join(herr, engine.Stop(ectx))
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStateStore(ctx context.Context, cfg broadcast.Config, conn *stream.Conn, logger *slog.Logger) (state.Store, error) {
	switch cfg.State.Backend {
	case "natskv":
		kv, err := stream.EnsureStateBucket(ctx, conn.JS, cfg.NATS)
		if err != nil {
			return nil, err
		}
		return natskv.New(kv), nil
	case "redis":
		client := goredis.NewUniversalClient(&goredis.UniversalOptions{
			Addrs: strings.Split(cfg.State.RedisAddr, ","),
		})
		s := redis.New(client, redis.WithLogger(logger), redis.WithTTL(cfg.NATS.StateTTL))
		if err := s.Ping(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case "dynamo":
		return dynamo.Connect(ctx, cfg.State.AWSRegion, cfg.State.DynamoTable, os.Getenv("DYNAMO_ENDPOINT"),
			dynamo.WithLogger(logger), dynamo.WithTTL(cfg.NATS.StateTTL))
	case "memory":
		logger.Warn("using in-memory state store; campaign state is lost on restart")
		return memory.New(), nil
	}
	return nil, fmt.Errorf("state backend %q is not supported", cfg.State.Backend)
}

// prepare checks the record store is reachable and brings its schema up
// to date.
func prepare(ctx context.Context, s store.Store) error {
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	return nil
}
