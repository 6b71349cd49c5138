package broadcast

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	yaml "go.yaml.in/yaml/v3"
)

// Config holds process-wide configuration for the broadcast service.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	NATS      NATSConfig      `yaml:"nats"`
	Mongo     MongoConfig     `yaml:"mongo"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	State     StateConfig     `yaml:"state"`
	Consumer  ConsumerConfig  `yaml:"consumer"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// HTTPConfig configures the admin/API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures the slog handler built by the binary.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
}

// NATSConfig configures the broker connection and the resources the
// service provisions on it.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	Name           string        `yaml:"name"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// TaskStream receives per-recipient outcome events from agents.
	TaskStream string `yaml:"task_stream"`
	// ProgressStream receives per-recipient progress signals used to
	// update aggregate campaign counters.
	ProgressStream string `yaml:"progress_stream"`
	// StateBucket is the JetStream KV bucket holding BroadcastState.
	StateBucket string        `yaml:"state_bucket"`
	StateTTL    time.Duration `yaml:"state_ttl"`
}

// MongoConfig configures the task, job and DLQ store.
type MongoConfig struct {
	DSN      string `yaml:"dsn"`
	Database string `yaml:"database"`
}

// PostgresConfig configures the contact lookup.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// StateConfig selects the versioned state store backend.
type StateConfig struct {
	// Backend is one of natskv, redis, dynamo, memory.
	Backend     string `yaml:"backend"`
	RedisAddr   string `yaml:"redis_addr"`
	DynamoTable string `yaml:"dynamo_table"`
	AWSRegion   string `yaml:"aws_region"`
}

// ConsumerConfig holds the durable outcome consumer settings.
type ConsumerConfig struct {
	Durable          string        `yaml:"durable"`
	DeliverGroup     string        `yaml:"deliver_group"`
	FilterSubject    string        `yaml:"filter_subject"`
	BatchSize        int           `yaml:"batch_size"`
	BatchTimeout     time.Duration `yaml:"batch_timeout"`
	FetchMaxMessages int           `yaml:"fetch_max_messages"`
	FetchExpires     time.Duration `yaml:"fetch_expires"`
	MaxDeliver       int           `yaml:"max_deliver"`
	AckWait          time.Duration `yaml:"ack_wait"`
	MaxAckPending    int           `yaml:"max_ack_pending"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
}

// SchedulerConfig configures the delayed-job worker pool.
type SchedulerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleJobThreshold time.Duration `yaml:"stale_job_threshold"`
	SweepSchedule     string        `yaml:"sweep_schedule"`
	SignalRateLimit   float64       `yaml:"signal_rate_limit"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:            ":80",
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info"},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			Name:           "broadcastd",
			MaxReconnects:  5,
			ReconnectWait:  2 * time.Second,
			ConnectTimeout: 5 * time.Second,
			TaskStream:     "task_updates_stream",
			ProgressStream: "broadcast_progress_stream",
			StateBucket:    "broadcast_state",
			StateTTL:       7 * 24 * time.Hour,
		},
		Mongo: MongoConfig{Database: "broadcast"},
		State: StateConfig{
			Backend:   "natskv",
			AWSRegion: "us-east-2",
		},
		Consumer: ConsumerConfig{
			Durable:          "task-update-consumer",
			DeliverGroup:     "broadcast-service-consumers",
			FilterSubject:    "v1.tasks.updates.*",
			BatchSize:        100,
			BatchTimeout:     time.Second,
			FetchMaxMessages: 100,
			FetchExpires:     30 * time.Second,
			MaxDeliver:       3,
			AckWait:          30 * time.Second,
			MaxAckPending:    1000,
			RetryDelay:       5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Concurrency:       4,
			PollInterval:      time.Second,
			ShutdownTimeout:   30 * time.Second,
			HeartbeatInterval: 10 * time.Second,
			StaleJobThreshold: time.Minute,
			SweepSchedule:     "@every 1m",
			SignalRateLimit:   20,
		},
	}
}

// LoadConfig builds a Config from defaults, an optional YAML file and the
// environment. A .env file in the working directory is loaded first if
// present; variables already set in the environment win.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("broadcast: read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("broadcast: parse config %s: %w", path, err)
		}
	}

	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	setString(&c.NATS.URL, "NATS_URL")
	setString(&c.Mongo.DSN, "MONGODB_DSN")
	setString(&c.Mongo.Database, "MONGODB_DATABASE")
	setString(&c.Postgres.DSN, "POSTGRES_DSN")
	setString(&c.State.Backend, "STATE_BACKEND")
	setString(&c.State.RedisAddr, "REDIS_ADDR")
	setString(&c.State.DynamoTable, "DYNAMO_TABLE")
	setString(&c.State.AWSRegion, "AWS_REGION")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Consumer.DeliverGroup, "CONSUMER_DELIVER_GROUP")

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("broadcast: invalid PORT %q: %w", v, err)
		}
		c.HTTP.Addr = ":" + strconv.Itoa(port)
	}
	return nil
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

// Validate reports configuration values outside their supported range.
func (c Config) Validate() error {
	var errs []error
	cc := c.Consumer
	if cc.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("consumer.batch_size must be positive, got %d", cc.BatchSize))
	}
	if cc.BatchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("consumer.batch_timeout must be positive, got %s", cc.BatchTimeout))
	}
	if cc.FetchMaxMessages < 50 || cc.FetchMaxMessages > 100 {
		errs = append(errs, fmt.Errorf("consumer.fetch_max_messages must be in [50,100], got %d", cc.FetchMaxMessages))
	}
	if cc.FetchExpires < 10*time.Second || cc.FetchExpires > 30*time.Second {
		errs = append(errs, fmt.Errorf("consumer.fetch_expires must be in [10s,30s], got %s", cc.FetchExpires))
	}
	if cc.MaxDeliver < 1 {
		errs = append(errs, fmt.Errorf("consumer.max_deliver must be at least 1, got %d", cc.MaxDeliver))
	}
	switch c.State.Backend {
	case "natskv", "redis", "dynamo", "memory":
	default:
		errs = append(errs, fmt.Errorf("state.backend %q is not supported", c.State.Backend))
	}
	return errors.Join(errs...)
}
