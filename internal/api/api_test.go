package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/opensource-finance/kestrel/internal/assess"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// createTestServer creates a server with a rule engine and a degraded
// classifier (no artifact on disk) for testing.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	engine, err := rules.NewEngine()
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	clf := model.NewClassifier(domain.ModelConfig{Path: "/nonexistent/model.json"})
	clf.Load()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	analyzer := assess.NewAnalyzer(engine, clf, logger)

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	return NewServer(cfg, nil, nil, eventBus, engine, analyzer, clf, "test-v1")
}

func doJSON(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "tenant-001")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestAnalyzeEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("CleanReturn", func(t *testing.T) {
		rec := domain.FinancialRecord{
			TaxYear:       "2025-26",
			AnnualSalary:  1200000,
			Investment80C: 150000,
			RentPaid:      240000,
		}

		rr := doJSON(t, server, http.MethodPost, "/analyze", rec)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var a domain.Assessment
		if err := json.Unmarshal(rr.Body.Bytes(), &a); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if a.ID == "" {
			t.Error("expected assessment id in response")
		}
		if a.RecordID == "" {
			t.Error("expected record id in response")
		}
		if a.RiskLevel != domain.RiskLevelLow {
			t.Errorf("expected LOW for a clean return, got %s", a.RiskLevel)
		}
		if a.ModelAvailable {
			t.Error("expected degraded model to be reported as unavailable")
		}
		if a.Metadata.EngineVersion != assess.EngineVersion {
			t.Errorf("expected engine version %s, got %s", assess.EngineVersion, a.Metadata.EngineVersion)
		}
	})

	t.Run("OverClaimedReturn", func(t *testing.T) {
		rec := domain.FinancialRecord{
			TaxYear:       "2025-26",
			AnnualSalary:  500000,
			Investment80C: 300000,
			Donations80G:  200000,
		}

		rr := doJSON(t, server, http.MethodPost, "/analyze", rec)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var a domain.Assessment
		if err := json.Unmarshal(rr.Body.Bytes(), &a); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if a.RuleScore != domain.MaxRuleScore {
			t.Errorf("expected rule score clamped to %d, got %d", domain.MaxRuleScore, a.RuleScore)
		}
		if a.RiskLevel != domain.RiskLevelMedium {
			t.Errorf("expected MEDIUM, got %s", a.RiskLevel)
		}
		if len(a.Flags) != 3 {
			t.Errorf("expected 3 flags, got %d: %+v", len(a.Flags), a.Flags)
		}
	})

	t.Run("MissingTenantID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")
		// No X-Tenant-ID header

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-001")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ResponseHeaders", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/analyze", domain.FinancialRecord{AnnualSalary: 800000})

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID header in response")
		}
		if rr.Header().Get("X-Trace-ID") == "" {
			t.Error("expected X-Trace-ID header in response")
		}
		if rr.Header().Get("Content-Type") != "application/json" {
			t.Error("expected Content-Type: application/json")
		}
	})
}

func TestAnalyzeAsyncEndpoint(t *testing.T) {
	server := createTestServer(t)

	rec := domain.FinancialRecord{
		TaxYear:      "2025-26",
		AnnualSalary: 900000,
	}

	rr := doJSON(t, server, http.MethodPost, "/analyze/async", rec)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp["recordId"] == "" {
		t.Error("expected recordId in response")
	}
	if resp["status"] != "queued" {
		t.Errorf("expected status 'queued', got '%s'", resp["status"])
	}
}

func TestTaxEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("EstimateWithRebate", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/tax/estimate", TaxEstimateRequest{GrossIncome: 600000})

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Tax           float64 `json:"tax"`
			RebateApplied bool    `json:"rebateApplied"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.Tax != 0 {
			t.Errorf("expected zero tax under the rebate, got %.2f", resp.Tax)
		}
		if !resp.RebateApplied {
			t.Error("expected rebateApplied to be true")
		}
	})

	t.Run("EstimateNegativeIncome", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/tax/estimate", TaxEstimateRequest{GrossIncome: -1})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Projection", func(t *testing.T) {
		req := TaxProjectRequest{
			History: []domain.YearIncome{
				{Year: 2023, Income: 1000000},
				{Year: 2024, Income: 1100000},
			},
			Horizon: 3,
		}

		rr := doJSON(t, server, http.MethodPost, "/tax/project", req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			BaseYear int `json:"baseYear"`
			Years    []struct {
				Year int `json:"year"`
			} `json:"years"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.BaseYear != 2024 {
			t.Errorf("expected base year 2024, got %d", resp.BaseYear)
		}
		if len(resp.Years) != 3 {
			t.Errorf("expected 3 projected years, got %d", len(resp.Years))
		}
	})

	t.Run("ProjectionEmptyHistory", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/tax/project", TaxProjectRequest{Horizon: 3})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestRecommendationsEndpoint(t *testing.T) {
	server := createTestServer(t)

	rec := domain.FinancialRecord{
		AnnualSalary:  1500000,
		Investment80C: 50000,
	}

	rr := doJSON(t, server, http.MethodPost, "/recommendations", rec)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Count           int `json:"count"`
		Recommendations []struct {
			Category string `json:"category"`
			Message  string `json:"message"`
		} `json:"recommendations"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if resp.Count == 0 {
		t.Error("expected recommendations for an under-invested return")
	}
	if resp.Count != len(resp.Recommendations) {
		t.Errorf("count %d does not match %d recommendations", resp.Count, len(resp.Recommendations))
	}
}

func TestRuleEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("CreateRule", func(t *testing.T) {
		req := CreateRuleRequest{
			ID:         "tenant-donations",
			Name:       "High donations",
			Expression: "donations_80g > 100000.0",
			Message:    "Donations above the review threshold.",
			ScoreDelta: 10,
			Enabled:    true,
		}

		rr := doJSON(t, server, http.MethodPost, "/rules", req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("ListRules", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rules", nil)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count int `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 {
			t.Errorf("expected 1 loaded rule, got %d", resp.Count)
		}
	})

	t.Run("GetRule", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rules/tenant-donations", nil)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var rule domain.CustomRuleConfig
		if err := json.Unmarshal(rr.Body.Bytes(), &rule); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if rule.Expression != "donations_80g > 100000.0" {
			t.Errorf("unexpected expression: %s", rule.Expression)
		}
	})

	t.Run("GetMissingRule", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rules/nonexistent", nil)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("InvalidExpression", func(t *testing.T) {
		req := CreateRuleRequest{
			ID:         "bad-rule",
			Name:       "Broken",
			Expression: "donations_80g >",
			Enabled:    true,
		}

		rr := doJSON(t, server, http.MethodPost, "/rules", req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400 for invalid CEL, got %d", rr.Code)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rules", CreateRuleRequest{ID: "only-id"})

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ReloadWithoutRepository", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rules/reload", nil)

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("expected status 503 without a repository, got %d", rr.Code)
		}
	})
}

func TestModelEndpoint(t *testing.T) {
	t.Run("Degraded", func(t *testing.T) {
		server := createTestServer(t)

		rr := doJSON(t, server, http.MethodGet, "/model", nil)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Available bool `json:"available"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Available {
			t.Error("expected available=false for a degraded model")
		}
	})

	t.Run("Loaded", func(t *testing.T) {
		clf, err := model.NewFromForest(&model.Forest{
			Features: []string{"Annual_Salary"},
			Trees: []model.Tree{
				{Nodes: []model.Node{{Feature: -1, Value: 0.4, Samples: 100}}},
			},
		})
		if err != nil {
			t.Fatalf("failed to build classifier: %v", err)
		}

		engine, _ := rules.NewEngine()
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		analyzer := assess.NewAnalyzer(engine, clf, logger)

		server := NewServer(domain.ServerConfig{}, nil, nil, nil, engine, analyzer, clf, "test-v1")

		rr := doJSON(t, server, http.MethodGet, "/model", nil)

		var resp struct {
			Available bool     `json:"available"`
			Features  []string `json:"features"`
			TreeCount int      `json:"treeCount"`
			Baseline  float64  `json:"baseline"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if !resp.Available {
			t.Error("expected available=true")
		}
		if resp.TreeCount != 1 {
			t.Errorf("expected 1 tree, got %d", resp.TreeCount)
		}
		if len(resp.Features) != 1 || resp.Features[0] != "Annual_Salary" {
			t.Errorf("unexpected features: %v", resp.Features)
		}
		if resp.Baseline != 0.4 {
			t.Errorf("expected baseline 0.4, got %f", resp.Baseline)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Status         string `json:"status"`
			Version        string `json:"version"`
			ModelAvailable bool   `json:"modelAvailable"`
		}
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp.Status != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp.Status)
		}
		if resp.Version != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp.Version)
		}
		if resp.ModelAvailable {
			t.Error("expected modelAvailable=false for a degraded model")
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TenantMiddlewareExtractsID", func(t *testing.T) {
		var capturedTenantID string

		handler := TenantMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedTenantID = GetTenantID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Tenant-ID", "my-tenant-123")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedTenantID != "my-tenant-123" {
			t.Errorf("expected tenant ID 'my-tenant-123', got '%s'", capturedTenantID)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
