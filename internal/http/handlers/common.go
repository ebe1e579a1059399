// Package handlers exposes the orchestration services over JSON HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/leadcore/intent-core/internal/http/middleware"
	"github.com/leadcore/intent-core/internal/service"
)

const maxBodyBytes = 4 << 20

var errInvalidPayload = errors.New("invalid payload")

type Dependencies struct {
	Signals   *service.SignalService
	Workflows *service.WorkflowService
	Offers    *service.OfferService
	Agents    *service.AgentService
	Logger    *slog.Logger
}

type API struct {
	signals   *service.SignalService
	workflows *service.WorkflowService
	offers    *service.OfferService
	agents    *service.AgentService
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewAPI(deps Dependencies) *API {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &API{
		signals:   deps.Signals,
		workflows: deps.Workflows,
		offers:    deps.Offers,
		agents:    deps.Agents,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    logger,
	}
}

type errorPayload struct {
	OK    bool `json:"ok"`
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, code, message string) {
	payload := errorPayload{RequestID: middleware.GetRequestID(r.Context())}
	payload.Error.Code = code
	payload.Error.Message = message
	writeJSON(w, statusCode, payload)
}

// writeServiceError maps service sentinels to status codes. Anything else is
// logged and reported as a 500 with a generic message.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, service.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden", err.Error())
	case errors.Is(err, service.ErrConflict):
		writeError(w, r, http.StatusConflict, "conflict", err.Error())
	default:
		api.logger.ErrorContext(r.Context(), action+" failed",
			"request_id", middleware.GetRequestID(r.Context()), "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", action+" failed")
	}
}

func requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	return false
}

// decodeJSON reads a strict JSON body and runs struct validation on it.
func (api *API) decodeJSON(w http.ResponseWriter, r *http.Request, value any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(value); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", errInvalidPayload)
		}
		return fmt.Errorf("%w: %v", errInvalidPayload, err)
	}
	if err := api.validate.Struct(value); err != nil {
		return fmt.Errorf("%w: %s", errInvalidPayload, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}
	messages := make([]string, 0, len(validationErrors))
	for _, fieldErr := range validationErrors {
		field := lowerFirst(fieldErr.Field())
		switch fieldErr.Tag() {
		case "required":
			messages = append(messages, field+" is required")
		case "max":
			messages = append(messages, fmt.Sprintf("%s must be at most %s long", field, fieldErr.Param()))
		default:
			messages = append(messages, fmt.Sprintf("%s failed %s validation", field, fieldErr.Tag()))
		}
	}
	return strings.Join(messages, "; ")
}

func lowerFirst(value string) string {
	if value == "" {
		return value
	}
	return strings.ToLower(value[:1]) + value[1:]
}
