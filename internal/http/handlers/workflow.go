package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/leadcore/intent-core/internal/domain"
)

type routeRequest struct {
	SubscriberID string `json:"subscriberId" validate:"required,max=128"`
	Event        string `json:"event" validate:"required,max=64"`
}

type workflowIDRequest struct {
	WorkflowID string `json:"workflowId" validate:"required,max=128"`
}

type queueItemView struct {
	ID           string              `json:"id"`
	SubscriberID string              `json:"subscriberId"`
	WorkflowType domain.WorkflowType `json:"workflowType"`
	Status       domain.QueueStatus  `json:"status"`
	Processed    bool                `json:"processed"`
	Payload      json.RawMessage     `json:"payload,omitempty"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

func newQueueItemView(item *domain.WorkflowQueueItem) queueItemView {
	view := queueItemView{
		ID:           item.ID,
		SubscriberID: item.SubscriberID,
		WorkflowType: item.WorkflowType,
		Status:       item.Status,
		Processed:    item.Processed(),
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	}
	if json.Valid(item.Payload) {
		view.Payload = item.Payload
	}
	return view
}

func (api *API) RouteWorkflow(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var request routeRequest
	if err := api.decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	item, err := api.workflows.Route(r.Context(), request.SubscriberID, request.Event)
	if err != nil {
		api.writeServiceError(w, r, err, "route workflow")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"status":   "queued",
		"workflow": item.WorkflowType,
		"queueId":  item.ID,
	})
}

func (api *API) ApproveWorkflow(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var request workflowIDRequest
	if err := api.decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	outcome, err := api.workflows.Approve(r.Context(), request.WorkflowID)
	if err != nil {
		api.writeServiceError(w, r, err, "approve workflow")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":               true,
		"status":           "approved",
		"workflowId":       outcome.Item.ID,
		"alreadyProcessed": outcome.AlreadyProcessed,
	})
}

func (api *API) RejectWorkflow(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var request workflowIDRequest
	if err := api.decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	item, err := api.workflows.Reject(r.Context(), request.WorkflowID)
	if err != nil {
		api.writeServiceError(w, r, err, "reject workflow")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"status":     "rejected",
		"workflowId": item.ID,
	})
}

func (api *API) WorkflowQueue(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	if id := query.Get("id"); id != "" {
		item, err := api.workflows.GetQueueItem(r.Context(), id)
		if err != nil {
			api.writeServiceError(w, r, err, "load queue item")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "item": newQueueItemView(item)})
		return
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	items, err := api.workflows.ListQueue(r.Context(), query.Get("status"), limit)
	if err != nil {
		api.writeServiceError(w, r, err, "list workflow queue")
		return
	}
	views := make([]queueItemView, 0, len(items))
	for _, item := range items {
		views = append(views, newQueueItemView(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "items": views})
}
