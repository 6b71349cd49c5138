package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/dlq"
	"github.com/xraph/broadcast/id"
	"github.com/xraph/broadcast/job"
)

// dlqRetention is how old an entry must be before DELETE /v1/dlq removes
// it, unless the request names another cut-off.
const dlqRetention = 30 * 24 * time.Hour

// PurgeDLQResponse reports how many entries were removed.
type PurgeDLQResponse struct {
	Purged int64 `json:"purged"`
}

// DLQCountResponse holds the number of dead letters.
type DLQCountResponse struct {
	Count int64 `json:"count"`
}

// JobCountsResponse holds scheduler job counts by state.
type JobCountsResponse struct {
	Pending   int64 `json:"pending"`
	Running   int64 `json:"running"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retrying  int64 `json:"retrying"`
	Cancelled int64 `json:"cancelled"`
}

func (a *API) consumerStats(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, a.consumer.Stats())
}

func (a *API) pauseConsumer(w http.ResponseWriter, _ *http.Request) {
	a.consumer.Pause()
	writeData(w, http.StatusOK, a.consumer.Stats())
}

func (a *API) resumeConsumer(w http.ResponseWriter, _ *http.Request) {
	a.consumer.Resume()
	writeData(w, http.StatusOK, a.consumer.Stats())
}

func defaultLimit(n int) int {
	if n <= 0 || n > 500 {
		return 50
	}
	return n
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func (a *API) listDLQ(w http.ResponseWriter, r *http.Request) {
	entries, err := a.dlq.DLQStore().ListDLQ(r.Context(), dlq.ListOpts{
		Limit:  defaultLimit(queryInt(r, "limit")),
		Offset: queryInt(r, "offset"),
		Source: dlq.Source(r.URL.Query().Get("source")),
	})
	if err != nil {
		a.fail(w, r, fmt.Errorf("list dlq: %w", err))
		return
	}
	writeData(w, http.StatusOK, entries)
}

func (a *API) dlqEntryID(w http.ResponseWriter, r *http.Request) (id.DLQID, bool) {
	entryID, err := id.ParseDLQID(chi.URLParam(r, "entryId"))
	if err != nil {
		a.fail(w, r, fmt.Errorf("%w: invalid DLQ entry ID: %w", broadcast.ErrInvalidRequest, err))
		return id.DLQID{}, false
	}
	return entryID, true
}

func (a *API) getDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, ok := a.dlqEntryID(w, r)
	if !ok {
		return
	}
	entry, err := a.dlq.DLQStore().GetDLQ(r.Context(), entryID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, entry)
}

func (a *API) replayDLQ(w http.ResponseWriter, r *http.Request) {
	entryID, ok := a.dlqEntryID(w, r)
	if !ok {
		return
	}
	if err := a.dlq.Replay(r.Context(), entryID); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) purgeDLQ(w http.ResponseWriter, r *http.Request) {
	before := time.Now().UTC().Add(-dlqRetention)
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			a.fail(w, r, fmt.Errorf("%w: before must be RFC 3339: %w", broadcast.ErrInvalidRequest, err))
			return
		}
		before = t
	}

	n, err := a.dlq.DLQStore().PurgeDLQ(r.Context(), before)
	if err != nil {
		a.fail(w, r, fmt.Errorf("purge dlq: %w", err))
		return
	}
	writeData(w, http.StatusOK, PurgeDLQResponse{Purged: n})
}

func (a *API) dlqCount(w http.ResponseWriter, r *http.Request) {
	n, err := a.dlq.DLQStore().CountDLQ(r.Context())
	if err != nil {
		a.fail(w, r, fmt.Errorf("count dlq: %w", err))
		return
	}
	writeData(w, http.StatusOK, DLQCountResponse{Count: n})
}

func (a *API) jobCounts(w http.ResponseWriter, r *http.Request) {
	var out JobCountsResponse
	for st, dst := range map[job.State]*int64{
		job.StatePending:   &out.Pending,
		job.StateRunning:   &out.Running,
		job.StateCompleted: &out.Completed,
		job.StateFailed:    &out.Failed,
		job.StateRetrying:  &out.Retrying,
		job.StateCancelled: &out.Cancelled,
	} {
		n, err := a.jobs.CountJobs(r.Context(), job.CountOpts{State: st})
		if err != nil {
			a.fail(w, r, fmt.Errorf("count jobs: %w", err))
			return
		}
		*dst = n
	}
	writeData(w, http.StatusOK, out)
}
