package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/broadcast"
	"github.com/xraph/broadcast/campaign"
	"github.com/xraph/broadcast/state"
	"github.com/xraph/broadcast/task"
)

// CreateBroadcastRequest is the body of POST /v1/broadcasts. Tags is a
// comma-separated list.
type CreateBroadcastRequest struct {
	CompanyID  string            `json:"companyId"`
	AgentID    string            `json:"agentId"`
	Tags       string            `json:"tags"`
	Message    task.Message      `json:"message"`
	ScheduleAt time.Time         `json:"scheduleAt"`
	Label      string            `json:"label,omitempty"`
	UserID     string            `json:"userId,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// PreviewBroadcastRequest is the body of POST /v1/broadcasts/preview.
// Tags and Phones are comma-separated lists.
type PreviewBroadcastRequest struct {
	CompanyID string `json:"companyId"`
	AgentID   string `json:"agentId"`
	Tags      string `json:"tags,omitempty"`
	Phones    string `json:"phones,omitempty"`
}

// PauseAgentRequest is the optional body of POST /v1/agents/{agentId}/pause.
type PauseAgentRequest struct {
	Reason state.PauseReason `json:"reason,omitempty"`
}

// PauseAgentResponse reports how many campaigns were paused.
type PauseAgentResponse struct {
	AgentID string `json:"agentId"`
	Paused  int    `json:"paused"`
}

// company returns the caller's company, writing 403 when absent.
func company(w http.ResponseWriter, r *http.Request) (string, bool) {
	c := r.Header.Get(CompanyHeader)
	if c == "" {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "No company found")
		return "", false
	}
	return c, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func (a *API) createBroadcast(w http.ResponseWriter, r *http.Request) {
	userCompany, ok := company(w, r)
	if !ok {
		return
	}
	var req CreateBroadcastRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CompanyID != userCompany {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Unauthorized company access")
		return
	}

	out, err := a.campaigns.Create(r.Context(), campaign.CreateRequest{
		CompanyID:   userCompany,
		AgentID:     req.AgentID,
		Tags:        splitList(req.Tags),
		Message:     req.Message,
		Variables:   req.Variables,
		Label:       req.Label,
		UserID:      req.UserID,
		ScheduledAt: req.ScheduleAt,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, out)
}

func (a *API) previewBroadcast(w http.ResponseWriter, r *http.Request) {
	userCompany, ok := company(w, r)
	if !ok {
		return
	}
	var req PreviewBroadcastRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CompanyID != userCompany {
		writeError(w, http.StatusForbidden, "FORBIDDEN", "Unauthorized company access")
		return
	}

	out, err := a.campaigns.Preview(r.Context(), campaign.PreviewRequest{
		CompanyID: userCompany,
		AgentID:   req.AgentID,
		Tags:      splitList(req.Tags),
		Phones:    splitList(req.Phones),
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (a *API) broadcastStatus(w http.ResponseWriter, r *http.Request) {
	userCompany, ok := company(w, r)
	if !ok {
		return
	}
	v, err := a.campaigns.Status(r.Context(), userCompany, chi.URLParam(r, "batchId"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, v)
}

func (a *API) pauseBroadcast(w http.ResponseWriter, r *http.Request) {
	userCompany, ok := company(w, r)
	if !ok {
		return
	}
	st, err := a.campaigns.Pause(r.Context(), userCompany, chi.URLParam(r, "batchId"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"batchId":         st.BatchID,
		"broadcastStatus": st.Status,
		"pausedAt":        st.PausedAt,
	})
}

func (a *API) resumeBroadcast(w http.ResponseWriter, r *http.Request) {
	userCompany, ok := company(w, r)
	if !ok {
		return
	}
	st, err := a.campaigns.Resume(r.Context(), userCompany, chi.URLParam(r, "batchId"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"batchId":         st.BatchID,
		"broadcastStatus": st.Status,
		"resumedAt":       st.ResumedAt,
	})
}

func (a *API) cancelBroadcast(w http.ResponseWriter, r *http.Request) {
	userCompany, ok := company(w, r)
	if !ok {
		return
	}
	out, err := a.campaigns.Cancel(r.Context(), userCompany, chi.URLParam(r, "batchId"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, out)
}

func (a *API) pauseAgent(w http.ResponseWriter, r *http.Request) {
	var req PauseAgentRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}
	switch req.Reason {
	case "", state.PauseAutoDisconnection, state.PauseError, state.PauseUserRequested:
	default:
		a.fail(w, r, fmt.Errorf("%w: unknown pause reason %q", broadcast.ErrInvalidRequest, req.Reason))
		return
	}

	agentID := chi.URLParam(r, "agentId")
	n, err := a.campaigns.PauseAgent(r.Context(), agentID, req.Reason)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, PauseAgentResponse{AgentID: agentID, Paused: n})
}
