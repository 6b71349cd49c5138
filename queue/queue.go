package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config limits one queue.
type Config struct {
	// Name matches job.Job.Queue.
	Name string

	// MaxConcurrency caps jobs of this queue running at once. Zero means
	// no queue-specific cap.
	MaxConcurrency int

	// RateLimit is the sustained jobs per second. Zero disables it.
	RateLimit float64

	// RateBurst is the token bucket size; it defaults to 1.
	RateBurst int
}

// TenantConfig limits one tenant on one queue.
type TenantConfig struct {
	RateLimit      float64
	RateBurst      int
	MaxConcurrency int
}

type limits struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newLimits(rateLimit float64, burst, maxConcurrency int) *limits {
	l := &limits{maxConcurrency: maxConcurrency}
	if rateLimit > 0 {
		if burst <= 0 {
			burst = 1
		}
		l.limiter = rate.NewLimiter(rate.Limit(rateLimit), burst)
	}
	return l
}

// full reports whether the concurrency gate is closed. It does not spend
// a rate token.
func (l *limits) full() bool {
	return l.maxConcurrency > 0 && l.active >= l.maxConcurrency
}

// Manager enforces queue and tenant limits. It is safe for concurrent use.
type Manager struct {
	mu             sync.Mutex
	queues         map[string]*limits
	tenants        map[string]*limits
	tenantDefaults map[string]TenantConfig
}

// NewManager creates a Manager with the given queue configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues:         make(map[string]*limits, len(configs)),
		tenants:        make(map[string]*limits),
		tenantDefaults: make(map[string]TenantConfig),
	}
	for _, c := range configs {
		m.queues[c.Name] = newLimits(c.RateLimit, c.RateBurst, c.MaxConcurrency)
	}
	return m
}

// SetTenantDefaults applies cfg to every tenant of queue that has no
// explicit configuration.
func (m *Manager) SetTenantDefaults(queue string, cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenantDefaults[queue] = cfg
}

// SetTenantConfig configures one tenant on one queue, keeping its active
// count.
func (m *Manager) SetTenantConfig(queue, tenantID string, cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantKey(queue, tenantID)
	l := newLimits(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if old := m.tenants[key]; old != nil {
		l.active = old.active
	}
	m.tenants[key] = l
}

// tenant returns the limits of a tenant, creating them from the queue's
// defaults on first use. It returns nil when the tenant is unlimited.
func (m *Manager) tenant(queue, tenantID string) *limits {
	if tenantID == "" {
		return nil
	}
	key := tenantKey(queue, tenantID)
	if l, ok := m.tenants[key]; ok {
		return l
	}
	cfg, ok := m.tenantDefaults[queue]
	if !ok {
		return nil
	}
	l := newLimits(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	m.tenants[key] = l
	return l
}

// Acquire reports whether a job of queue and tenant may run now. On true
// the caller must call Release when the job ends.
func (m *Manager) Acquire(queue, tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.queues[queue]
	t := m.tenant(queue, tenantID)

	// Check both concurrency gates before spending any rate token.
	if (q != nil && q.full()) || (t != nil && t.full()) {
		return false
	}
	if q != nil && q.limiter != nil && !q.limiter.Allow() {
		return false
	}
	if t != nil && t.limiter != nil && !t.limiter.Allow() {
		return false
	}

	if q != nil {
		q.active++
	}
	if t != nil {
		t.active++
	}
	return true
}

// Release frees the slot taken by a successful Acquire.
func (m *Manager) Release(queue, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if q := m.queues[queue]; q != nil && q.active > 0 {
		q.active--
	}
	if tenantID != "" {
		if t := m.tenants[tenantKey(queue, tenantID)]; t != nil && t.active > 0 {
			t.active--
		}
	}
}

// ActiveCount returns the running jobs of a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q := m.queues[queue]; q != nil {
		return q.active
	}
	return 0
}

// TenantActiveCount returns the running jobs of a tenant on a queue.
func (m *Manager) TenantActiveCount(queue, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t := m.tenants[tenantKey(queue, tenantID)]; t != nil {
		return t.active
	}
	return 0
}

func tenantKey(queue, tenantID string) string {
	return queue + ":" + tenantID
}
