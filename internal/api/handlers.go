package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/fraudguard/internal/checks"
	"github.com/ignite/fraudguard/internal/engine"
	"github.com/ignite/fraudguard/internal/refdata"
	"github.com/ignite/fraudguard/internal/refresh"
	"github.com/ignite/fraudguard/internal/repository/postgres"
	"github.com/ignite/fraudguard/internal/scoring"
	"github.com/ignite/fraudguard/internal/vault"
)

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	evaluator *engine.Evaluator
	pipeline  *refresh.Pipeline
	audits    *postgres.FraudCheckRepo
	refStore  *refdata.Store
	vault     *vault.Vault
	db        *sql.DB
	redis     *redis.Client
}

// NewHandlers creates the handler set. pipeline, audits and redis may be
// nil in reduced deployments; the affected endpoints then return 503.
func NewHandlers(evaluator *engine.Evaluator, pipeline *refresh.Pipeline,
	audits *postgres.FraudCheckRepo, refStore *refdata.Store, v *vault.Vault,
	db *sql.DB, redisClient *redis.Client) *Handlers {
	return &Handlers{
		evaluator: evaluator,
		pipeline:  pipeline,
		audits:    audits,
		refStore:  refStore,
		vault:     v,
		db:        db,
		redis:     redisClient,
	}
}

// evaluateResponse is the wire envelope for a completed evaluation.
type evaluateResponse struct {
	Success bool           `json:"success"`
	Data    evaluationData `json:"data"`
}

type evaluationData struct {
	ID               string                   `json:"id"`
	RiskScore        int                      `json:"risk_score"`
	Decision         scoring.Decision         `json:"decision"`
	Checks           map[string]checks.Result `json:"checks"`
	PassedChecks     []string                 `json:"passed_checks"`
	FailedChecks     []string                 `json:"failed_checks"`
	ProcessingTimeMs int64                    `json:"processing_time_ms"`
}

// Evaluate runs the full fraud evaluation for one identity bundle.
func (h *Handlers) Evaluate(w http.ResponseWriter, r *http.Request) {
	var input checks.Input
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if input.Headers == nil {
		// Fall back to the caller's own forwarding headers.
		input.Headers = r.Header
	}

	result, err := h.evaluator.Evaluate(r.Context(), &input)
	if err != nil {
		var vErr *checks.ValidationError
		if errors.As(err, &vErr) {
			respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "validation failed",
				"fields": vErr.Fields,
			})
			return
		}
		respondError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	respondJSON(w, http.StatusOK, evaluateResponse{
		Success: true,
		Data: evaluationData{
			ID:               result.CheckID,
			RiskScore:        result.RiskScore,
			Decision:         result.Decision,
			Checks:           result.CheckResults,
			PassedChecks:     result.PassedChecks,
			FailedChecks:     result.FailedChecks,
			ProcessingTimeMs: result.ProcessingTimeMs,
		},
	})
}

// GetEvaluation returns one audit record by id.
func (h *Handlers) GetEvaluation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := h.audits.GetByID(r.Context(), id)
	if err != nil {
		log.Printf("[API] get evaluation %s: %v", id, err)
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if record == nil {
		respondError(w, http.StatusNotFound, "evaluation not found")
		return
	}
	respondJSON(w, http.StatusOK, record)
}

// Refresh triggers one reference data refresh job, or all of them.
// ?force=true overrides the per-source minimum interval.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if h.pipeline == nil {
		respondError(w, http.StatusServiceUnavailable, "refresh pipeline not configured")
		return
	}

	source := chi.URLParam(r, "source")
	force := r.URL.Query().Get("force") == "true"

	// Refresh jobs outlive the request timeout by design.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 30*time.Minute)
	defer cancel()

	var report refresh.Report
	if source == "all" {
		report = h.pipeline.RunAll(ctx, force)
	} else {
		var err error
		report, err = h.pipeline.RunOne(ctx, source, force)
		if err != nil {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, report)
}

type blacklistRequest struct {
	Value  string `json:"value"`
	Reason string `json:"reason"`
	Weight int    `json:"weight"`
}

func parseBlacklistKind(raw string) (refdata.BlacklistKind, bool) {
	switch kind := refdata.BlacklistKind(raw); kind {
	case refdata.BlacklistEmail, refdata.BlacklistIP, refdata.BlacklistCreditCard, refdata.BlacklistPhone:
		return kind, true
	}
	return "", false
}

// AddBlacklistEntry inserts or re-reports a blocklist entry. The value is
// hashed before storage; plaintext never persists.
func (h *Handlers) AddBlacklistEntry(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseBlacklistKind(chi.URLParam(r, "kind"))
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown blacklist kind")
		return
	}

	var req blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" {
		respondError(w, http.StatusBadRequest, "value is required")
		return
	}

	entry := refdata.BlacklistEntry{
		ValueHash:  h.vault.Hash(req.Value),
		Reason:     req.Reason,
		RiskWeight: req.Weight,
	}
	if err := h.refStore.AddBlacklistEntry(r.Context(), kind, entry); err != nil {
		log.Printf("[API] add blacklist entry: %v", err)
		respondError(w, http.StatusInternalServerError, "blacklist update failed")
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"value_hash": entry.ValueHash})
}

// RemoveBlacklistEntry deletes a blocklist entry by value.
func (h *Handlers) RemoveBlacklistEntry(w http.ResponseWriter, r *http.Request) {
	kind, ok := parseBlacklistKind(chi.URLParam(r, "kind"))
	if !ok {
		respondError(w, http.StatusBadRequest, "unknown blacklist kind")
		return
	}

	var req blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Value == "" {
		respondError(w, http.StatusBadRequest, "value is required")
		return
	}

	if err := h.refStore.RemoveBlacklistEntry(r.Context(), kind, h.vault.Hash(req.Value)); err != nil {
		log.Printf("[API] remove blacklist entry: %v", err)
		respondError(w, http.StatusInternalServerError, "blacklist update failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health reports liveness of the service and its backing stores.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	}
	healthy := true

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status["database"] = "down"
			healthy = false
		} else {
			status["database"] = "ok"
		}
	}
	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			status["redis"] = "down"
			healthy = false
		} else {
			status["redis"] = "ok"
		}
	}

	code := http.StatusOK
	if !healthy {
		status["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, status)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("[API] encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
