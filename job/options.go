package job

import "time"

// Options configures per-job behavior such as retries, queue, and priority.
type Options struct {
	// MaxRetries is the maximum number of retry attempts before the job is
	// moved to the dead letter queue.
	MaxRetries int

	// Queue is the queue name this job is enqueued to.
	Queue string

	// Priority determines dequeue ordering. Higher values run first.
	Priority int

	// Timeout is the maximum duration a job may run.
	Timeout time.Duration

	// Key and Tenant are copied onto the scheduled Job.
	Key    string
	Tenant string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxRetries: 3,
		Queue:      "default",
		Timeout:    time.Minute,
	}
}

// Option is a functional option for configuring a job.
type Option func(*Options)

// WithMaxRetries sets the maximum number of retry attempts.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}

// WithQueue sets the queue name for the job.
func WithQueue(q string) Option {
	return func(o *Options) { o.Queue = q }
}

// WithPriority sets the job priority.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithTimeout sets the maximum execution duration for the job.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithKey groups the job under key for CancelFilter.Key.
func WithKey(key string) Option {
	return func(o *Options) { o.Key = key }
}

// WithTenant sets the rate-limiting identity of the job.
func WithTenant(tenant string) Option {
	return func(o *Options) { o.Tenant = tenant }
}
