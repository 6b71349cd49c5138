// Package api exposes campaign operations, consumer controls and the
// dead letter queue over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/xraph/broadcast/campaign"
	"github.com/xraph/broadcast/consumer"
	"github.com/xraph/broadcast/dlq"
	"github.com/xraph/broadcast/job"
)

// CompanyHeader carries the caller's company. Campaign lookups of another
// company's batch are reported as not found.
const CompanyHeader = "X-Company-ID"

// ConsumerControl is the part of the outcome consumer the API drives.
type ConsumerControl interface {
	Stats() consumer.Stats
	Pause()
	Resume()
}

// API wires the HTTP handlers together.
type API struct {
	campaigns *campaign.Service
	consumer  ConsumerControl
	dlq       *dlq.Service
	jobs      job.Store
	logger    *slog.Logger
	origins   []string
}

// Option configures an API.
type Option func(*API)

// WithConsumer enables the consumer control routes.
func WithConsumer(c ConsumerControl) Option {
	return func(a *API) { a.consumer = c }
}

// WithDLQ enables the dead letter routes.
func WithDLQ(s *dlq.Service) Option {
	return func(a *API) { a.dlq = s }
}

// WithJobStore enables the scheduler job count route.
func WithJobStore(s job.Store) Option {
	return func(a *API) { a.jobs = s }
}

// WithLogger sets the logger used for unexpected errors.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithAllowedOrigins sets the CORS origins. All origins are allowed by
// default.
func WithAllowedOrigins(origins ...string) Option {
	return func(a *API) { a.origins = origins }
}

// New creates an API over a campaign service.
func New(campaigns *campaign.Service, opts ...Option) *API {
	a := &API{
		campaigns: campaigns,
		logger:    slog.Default(),
		origins:   []string{"*"},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", CompanyHeader},
	}))
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers every route on r.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.health)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/broadcasts", func(r chi.Router) {
			r.Post("/", a.createBroadcast)
			r.Post("/preview", a.previewBroadcast)
			r.Get("/{batchId}", a.broadcastStatus)
			r.Post("/{batchId}/pause", a.pauseBroadcast)
			r.Post("/{batchId}/resume", a.resumeBroadcast)
			r.Post("/{batchId}/cancel", a.cancelBroadcast)
		})
		r.Post("/agents/{agentId}/pause", a.pauseAgent)

		if a.consumer != nil {
			r.Get("/consumer/stats", a.consumerStats)
			r.Post("/consumer/pause", a.pauseConsumer)
			r.Post("/consumer/resume", a.resumeConsumer)
		}
		if a.dlq != nil {
			r.Get("/dlq", a.listDLQ)
			r.Get("/dlq/count", a.dlqCount)
			r.Delete("/dlq", a.purgeDLQ)
			r.Get("/dlq/{entryId}", a.getDLQ)
			r.Post("/dlq/{entryId}/replay", a.replayDLQ)
		}
		if a.jobs != nil {
			r.Get("/jobs/counts", a.jobCounts)
		}
	})
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
