// Package handler provides HTTP handlers for the privacy service.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"nexus/internal/budget"
	"nexus/internal/dp"
	"nexus/internal/middleware"
	"nexus/pkg/logger"
	"nexus/pkg/validator"
)

// PrivacyHandler serves the DP query endpoints and the budget endpoints.
type PrivacyHandler struct {
	engine     *dp.Engine
	accountant *budget.Accountant
	validator  *validator.Validator
	logger     logger.Logger
}

// NewPrivacyHandler creates a PrivacyHandler.
func NewPrivacyHandler(engine *dp.Engine, accountant *budget.Accountant, val *validator.Validator, log logger.Logger) *PrivacyHandler {
	return &PrivacyHandler{
		engine:     engine,
		accountant: accountant,
		validator:  val,
		logger:     log,
	}
}

// DPCount runs a differentially private count over the submitted values.
func (h *PrivacyHandler) DPCount(w http.ResponseWriter, r *http.Request) {
	var req dp.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		h.respondValidationErrors(w, errs)
		return
	}

	principal := middleware.PrincipalFromContext(r.Context())
	result, err := h.engine.Count(r.Context(), principal, &req)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"noisy_count":       result.NoisyValue,
		"epsilon":           result.EpsilonUsed,
		"remaining_epsilon": result.RemainingEpsilon,
	})
}

// DPMean runs a differentially private mean over the submitted values.
func (h *PrivacyHandler) DPMean(w http.ResponseWriter, r *http.Request) {
	var req dp.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		h.respondValidationErrors(w, errs)
		return
	}

	principal := middleware.PrincipalFromContext(r.Context())
	result, err := h.engine.Mean(r.Context(), principal, &req)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"noisy_mean":        result.NoisyValue,
		"epsilon":           result.EpsilonUsed,
		"remaining_epsilon": result.RemainingEpsilon,
	})
}

// GetBudget returns the caller's current budget status.
func (h *PrivacyHandler) GetBudget(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	h.respondJSON(w, http.StatusOK, h.accountant.Inspect(principal))
}

// GetBudgetHistory returns the caller's recent consumption records.
func (h *PrivacyHandler) GetBudgetHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	principal := middleware.PrincipalFromContext(r.Context())
	history := h.accountant.History(principal, limit)
	if history == nil {
		history = []budget.QueryRecord{}
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"history": history,
	})
}

// SuggestEpsilonRequest is the request body for epsilon suggestions.
type SuggestEpsilonRequest struct {
	Sensitivity float64 `json:"sensitivity" validate:"omitempty,gt=0,finite"`
}

// SuggestEpsilon proposes epsilon values based on the remaining budget.
func (h *PrivacyHandler) SuggestEpsilon(w http.ResponseWriter, r *http.Request) {
	var req SuggestEpsilonRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		h.respondValidationErrors(w, errs)
		return
	}
	if req.Sensitivity == 0 {
		req.Sensitivity = 1.0
	}

	principal := middleware.PrincipalFromContext(r.Context())
	suggestions, remaining, explanation := h.accountant.Suggest(principal, req.Sensitivity)

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"suggestions":      suggestions,
		"remaining_budget": remaining,
		"explanation":      explanation,
	})
}

// ResetBudget zeroes the caller's consumed budget and clears the
// in-memory query history.
func (h *PrivacyHandler) ResetBudget(w http.ResponseWriter, r *http.Request) {
	principal := middleware.PrincipalFromContext(r.Context())
	h.accountant.Reset(r.Context(), principal)

	h.logger.Info("Privacy budget reset", map[string]interface{}{
		"principal": principal,
	})

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"message": "Privacy budget has been reset",
	})
}

// ConsumeBudgetRequest is the request body for manual budget consumption.
type ConsumeBudgetRequest struct {
	Epsilon   float64 `json:"epsilon" validate:"required,gt=0,lte=10,finite"`
	QueryType string  `json:"query_type" validate:"required,max=64"`
}

// ConsumeBudget spends budget without running a query, for callers that
// apply their own mechanism externally.
func (h *PrivacyHandler) ConsumeBudget(w http.ResponseWriter, r *http.Request) {
	var req ConsumeBudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if errs := h.validator.ValidateStructured(&req); errs != nil {
		h.respondValidationErrors(w, errs)
		return
	}

	principal := middleware.PrincipalFromContext(r.Context())
	remaining, err := h.accountant.Consume(r.Context(), principal, req.Epsilon, req.QueryType)
	if err != nil {
		h.respondQueryError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":           "ok",
		"remaining_budget": remaining,
	})
}

// respondQueryError maps core error types onto response codes: caller
// mistakes are 400, budget shortfalls 429 with exact figures, mechanism
// parameter defects 500.
func (h *PrivacyHandler) respondQueryError(w http.ResponseWriter, err error) {
	var validationErr *dp.ValidationError
	var unsupportedErr *dp.UnsupportedKindError
	var exhaustedErr *budget.ExhaustedError
	var paramErr *dp.ParameterError

	switch {
	case errors.As(err, &validationErr):
		h.respondError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &unsupportedErr):
		h.respondError(w, http.StatusBadRequest, unsupportedErr.Error())
	case errors.Is(err, budget.ErrNonPositiveEpsilon):
		h.respondError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &exhaustedErr):
		h.respondJSON(w, http.StatusTooManyRequests, map[string]interface{}{
			"error":     "Insufficient privacy budget",
			"requested": exhaustedErr.Requested,
			"available": exhaustedErr.Available,
			"total":     exhaustedErr.Total,
		})
	case errors.As(err, &paramErr):
		h.logger.Error("Noise mechanism misconfigured", map[string]interface{}{
			"error": paramErr.Error(),
		})
		h.respondError(w, http.StatusInternalServerError, "Internal configuration error")
	default:
		h.logger.Error("Unexpected query error", map[string]interface{}{
			"error": err.Error(),
		})
		h.respondError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *PrivacyHandler) respondValidationErrors(w http.ResponseWriter, fields map[string]string) {
	h.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error":  "Validation failed",
		"fields": fields,
	})
}

func (h *PrivacyHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (h *PrivacyHandler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
