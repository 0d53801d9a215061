package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/advisor"
	"github.com/opensource-finance/kestrel/internal/assess"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/project"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/tax"
	"github.com/opensource-finance/kestrel/internal/worker"
)

// assessmentTTL bounds how long a memoized assessment is served before the
// pipeline re-runs for an identical record.
const assessmentTTL = time.Hour

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	engine   *rules.Engine
	analyzer *assess.Analyzer
	clf      *model.Classifier
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, engine *rules.Engine, analyzer *assess.Analyzer, clf *model.Classifier, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		engine:   engine,
		analyzer: analyzer,
		clf:      clf,
		version:  version,
	}
}

// Analyze handles POST /analyze requests: the full synchronous pipeline.
// Identical records (by content digest) are served from the memoization
// cache with a resubmission count instead of re-running the pipeline.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var rec domain.FinancialRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.TenantID = tenantID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	digest := rec.Digest()

	// Memoization check
	if h.cache != nil {
		cached, err := h.cache.GetAssessment(ctx, tenantID, digest)
		if err != nil {
			slog.Warn("assessment cache lookup failed", "error", err)
		}
		if cached != nil {
			count, err := h.cache.IncrementCounter(ctx, tenantID, "resubmit:"+digest, assessmentTTL)
			if err == nil {
				cached.Metadata.Resubmissions = count
			}
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	assessment := h.analyzer.Analyze(ctx, tenantID, traceID, &rec)

	if h.repo != nil {
		if err := h.repo.SaveRecord(ctx, tenantID, &rec); err != nil {
			slog.Error("failed to save record", "record_id", rec.ID, "error", err)
		}
		if err := h.repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
			slog.Error("failed to save assessment", "assessment_id", assessment.ID, "error", err)
		}
	}

	if h.cache != nil {
		if err := h.cache.SetAssessment(ctx, tenantID, digest, assessment, assessmentTTL); err != nil {
			slog.Warn("failed to memoize assessment", "error", err)
		}
	}

	if h.bus != nil {
		payload, _ := json.Marshal(assessment)
		if err := h.bus.Publish(ctx, tenantID, domain.TopicAssessmentCompleted, payload); err != nil {
			slog.Error("failed to publish assessment", "assessment_id", assessment.ID, "error", err)
		}
		if assessment.RiskLevel == domain.RiskLevelHigh {
			if err := h.bus.Publish(ctx, tenantID, domain.TopicHighRiskAlert, payload); err != nil {
				slog.Error("failed to publish high risk alert", "assessment_id", assessment.ID, "error", err)
			}
		}
	}

	writeJSON(w, http.StatusOK, assessment)
}

// AnalyzeAsync handles POST /analyze/async: the record is queued on the
// event bus and picked up by a worker. Responds 202 with the record ID.
func (h *Handler) AnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	var rec domain.FinancialRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	rec.TenantID = tenantID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	msg := worker.RecordMessage{
		TenantID: tenantID,
		TraceID:  traceID,
		Record:   &rec,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to encode record",
		})
		return
	}

	if err := h.bus.Publish(ctx, tenantID, domain.TopicRecordSubmitted, payload); err != nil {
		slog.Error("failed to publish record", "record_id", rec.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to queue record",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"recordId": rec.ID,
		"status":   "queued",
		"traceId":  traceID,
	})
}

// GetAnalysis retrieves an assessment by ID.
func (h *Handler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	assessmentID := chi.URLParam(r, "id")

	if assessmentID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "assessment id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	a, err := h.repo.GetAssessment(ctx, tenantID, assessmentID)
	if err != nil {
		slog.Error("failed to get assessment", "id", assessmentID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "assessment not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// ListAnalyses lists assessments for a tax year (?taxYear=2025-26).
func (h *Handler) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	taxYear := r.URL.Query().Get("taxYear")

	if taxYear == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "taxYear query parameter is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	assessments, err := h.repo.ListAssessmentsByTaxYear(ctx, tenantID, taxYear)
	if err != nil {
		slog.Error("failed to list assessments", "tax_year", taxYear, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list assessments",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assessments": assessments,
		"count":       len(assessments),
		"taxYear":     taxYear,
	})
}

// GetRecord retrieves a financial record by ID.
func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	recordID := chi.URLParam(r, "id")

	if recordID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "record id is required",
		})
		return
	}

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	rec, err := h.repo.GetRecord(ctx, tenantID, recordID)
	if err != nil {
		slog.Error("failed to get record", "id", recordID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "record not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// TaxEstimateRequest is the request body for POST /tax/estimate.
type TaxEstimateRequest struct {
	GrossIncome float64 `json:"grossIncome"`
}

// TaxEstimate computes the liability estimate for a gross salary.
func (h *Handler) TaxEstimate(w http.ResponseWriter, r *http.Request) {
	var req TaxEstimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.GrossIncome < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "grossIncome must be non-negative",
		})
		return
	}

	writeJSON(w, http.StatusOK, tax.EstimateLiability(req.GrossIncome))
}

// TaxProjectRequest is the request body for POST /tax/project.
type TaxProjectRequest struct {
	History []domain.YearIncome `json:"history"`
	Horizon int                 `json:"horizon"`
}

// TaxProject projects future liability from income history.
func (h *Handler) TaxProject(w http.ResponseWriter, r *http.Request) {
	var req TaxProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result, err := project.Project(req.History, req.Horizon)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Recommendations returns tax-saving and spending recommendations for a
// record without scoring it.
func (h *Handler) Recommendations(w http.ResponseWriter, r *http.Request) {
	var rec domain.FinancialRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	recs := advisor.Recommend(&rec)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"recommendations": recs,
		"count":           len(recs),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"version":        h.version,
		"modelAvailable": h.analyzer != nil && h.analyzer.ModelAvailable(),
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// ModelInfo describes the loaded classifier artifact, or reports degraded
// mode when no artifact loaded.
func (h *Handler) ModelInfo(w http.ResponseWriter, r *http.Request) {
	if h.clf == nil || !h.clf.Available() {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"available": false,
		})
		return
	}

	forest := h.clf.Forest()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"available": true,
		"features":  h.clf.FeatureNames(),
		"treeCount": len(forest.Trees),
		"baseline":  forest.Baseline(),
	})
}

// ListRules returns all loaded custom rules from the engine.
// Rules are loaded from the database at startup and can be reloaded via POST /rules/reload.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loadedRules := h.engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loadedRules,
		"count":  len(loadedRules),
		"source": "database",
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	for _, rule := range h.engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// CreateRuleRequest is the request body for creating a custom rule.
type CreateRuleRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	Message     string `json:"message,omitempty"`
	ScoreDelta  int    `json:"scoreDelta"`
	Enabled     bool   `json:"enabled"`
}

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// CreateRule creates a new custom rule and saves it to the database.
// Rules are saved globally (tenant_id = "*") so they apply to all tenants.
// After saving, call POST /rules/reload to hot-reload into the engine.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	// Validate
	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "id, name, and expression are required",
		})
		return
	}
	if req.ScoreDelta < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "scoreDelta must be non-negative",
		})
		return
	}

	ruleConfig := &domain.CustomRuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Message:     req.Message,
		ScoreDelta:  req.ScoreDelta,
		Enabled:     req.Enabled,
	}

	// Validate CEL expression by attempting to load
	if err := h.engine.LoadRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid CEL expression: " + err.Error(),
		})
		return
	}

	// Persist to repository (global tenant ID)
	if h.repo != nil {
		if err := h.repo.SaveCustomRule(ctx, GlobalTenantID, ruleConfig); err != nil {
			slog.Error("failed to save custom rule", "id", ruleConfig.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule",
			})
			return
		}
	}

	slog.Info("custom rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules reloads all custom rules from the database into the engine.
// This enables hot-reloading without server restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	dbRules, err := h.repo.ListCustomRules(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load rules from database",
		})
		return
	}

	if err := h.engine.ReloadRules(dbRules); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(dbRules))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   len(dbRules),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
