package handlers

import (
	"net/http"

	"github.com/leadcore/intent-core/internal/service"
)

type signalRequest struct {
	SubscriberID string `json:"subscriberId" validate:"required,max=128"`
	SignalType   string `json:"signalType" validate:"required,max=256"`
	Value        string `json:"value" validate:"required,max=256"`
}

type signalResponse struct {
	OK          bool `json:"ok"`
	IntentScore int  `json:"intentScore"`
	HighIntent  bool `json:"highIntent"`
}

func (api *API) Signal(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	var request signalRequest
	if err := api.decodeJSON(w, r, &request); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	outcome, err := api.signals.Record(r.Context(), request.SubscriberID, request.SignalType, request.Value)
	if err != nil {
		api.writeServiceError(w, r, err, "record signal")
		return
	}
	writeJSON(w, http.StatusOK, signalResponse{
		OK:          true,
		IntentScore: outcome.IntentScore,
		HighIntent:  outcome.HighIntent,
	})
}

type nextStepResponse struct {
	OK bool `json:"ok"`
	service.NextStep
}

func (api *API) NextStep(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	step, err := api.signals.NextStep(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		api.writeServiceError(w, r, err, "load next step")
		return
	}
	writeJSON(w, http.StatusOK, nextStepResponse{OK: true, NextStep: step})
}
