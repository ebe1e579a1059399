package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/leadcore/intent-core/internal/agent"
	"github.com/leadcore/intent-core/internal/service"
)

type runAgentRequest struct {
	Agent string          `json:"agent" validate:"required,max=128"`
	Input json.RawMessage `json:"input"`
}

type runBatchRequest struct {
	Agent  string            `json:"agent" validate:"required,max=128"`
	Inputs []json.RawMessage `json:"inputs" validate:"required"`
}

type runAgentResponse struct {
	OK bool `json:"ok"`
	service.AgentRun
}

type batchResponse struct {
	OK bool `json:"ok"`
	agent.BatchResult
}

func (api *API) ListAgents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"agents":  api.agents.ListAgents(),
		"metrics": api.agents.Metrics(),
	})
}

func (api *API) RunAgent(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var request runAgentRequest
	if err := api.decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	run, err := api.agents.Run(r.Context(), request.Agent, request.Input)
	if err != nil {
		api.writeServiceError(w, r, err, "run agent")
		return
	}
	writeJSON(w, http.StatusOK, runAgentResponse{OK: true, AgentRun: run})
}

func (api *API) RunBatch(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var request runBatchRequest
	if err := api.decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := api.agents.RunBatch(r.Context(), request.Agent, request.Inputs)
	if err != nil {
		api.writeServiceError(w, r, err, "run batch")
		return
	}
	writeJSON(w, http.StatusOK, batchResponse{OK: true, BatchResult: result})
}

// Traces lists traces on GET and clears them on POST.
func (api *API) Traces(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("agent")

	switch r.Method {
	case http.MethodGet:
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeError(w, r, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
				return
			}
			limit = parsed
		}
		traces, err := api.agents.Traces(name, limit)
		if err != nil {
			api.writeServiceError(w, r, err, "list traces")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "traces": traces})
	case http.MethodPost:
		if err := api.agents.ClearTraces(name); err != nil {
			api.writeServiceError(w, r, err, "clear traces")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "cleared": true})
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}
