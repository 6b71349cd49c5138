// Package queue rate-limits scheduled jobs per queue and per tenant.
//
// Jobs carry a Queue and a Tenant (for campaign jobs, the agent id). The
// worker pool calls [Manager.Acquire] before running a due job and
// [Manager.Release] afterwards; a job refused by Acquire goes back to the
// store and is retried on a later poll.
//
//	m := queue.NewManager(queue.Config{Name: "default", RateLimit: 20, RateBurst: 20})
//	m.SetTenantDefaults("default", queue.TenantConfig{MaxConcurrency: 1})
//
// Limits use a token bucket (golang.org/x/time/rate) and an active-count
// gate. Queues without a Config are unlimited.
package queue
