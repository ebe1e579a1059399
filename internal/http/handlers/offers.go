package handlers

import (
	"net/http"

	"github.com/leadcore/intent-core/internal/service"
)

type recommendationResponse struct {
	OK bool `json:"ok"`
	service.SubscriberRecommendation
}

func (api *API) OfferRecommendation(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	recommendation, err := api.offers.Recommend(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		api.writeServiceError(w, r, err, "compute offer")
		return
	}
	writeJSON(w, http.StatusOK, recommendationResponse{OK: true, SubscriberRecommendation: recommendation})
}

func (api *API) RecomputeOffers(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	summary, err := api.offers.Recompute(r.Context())
	if err != nil {
		api.writeServiceError(w, r, err, "recompute offers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "summary": summary})
}
