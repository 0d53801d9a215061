package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "kestrel-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetRecord", func(t *testing.T) {
		rec := &domain.FinancialRecord{
			ID:                   "rec-001",
			TaxYear:              "2025-26",
			AnnualSalary:         1200000,
			Investment80C:        150000,
			MedicalInsurance80D:  25000,
			NPSContribution80CCD: 50000,
			HomeLoanInterest24B:  180000,
			Donations80G:         10000,
			RentPaid:             240000,
			Groceries:            120000,
			CreatedAt:            time.Now().UTC(),
		}

		if err := repo.SaveRecord(ctx, tenantID, rec); err != nil {
			t.Fatalf("SaveRecord failed: %v", err)
		}

		retrieved, err := repo.GetRecord(ctx, tenantID, rec.ID)
		if err != nil {
			t.Fatalf("GetRecord failed: %v", err)
		}

		if retrieved.ID != rec.ID {
			t.Errorf("expected ID %s, got %s", rec.ID, retrieved.ID)
		}
		if retrieved.AnnualSalary != rec.AnnualSalary {
			t.Errorf("expected AnnualSalary %.2f, got %.2f", rec.AnnualSalary, retrieved.AnnualSalary)
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		otherTenant := "tenant-002"

		// Try to get the record from a different tenant
		_, err := repo.GetRecord(ctx, otherTenant, "rec-001")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound for different tenant, got: %v", err)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		rec := &domain.FinancialRecord{ID: "rec-test"}

		err := repo.SaveRecord(ctx, "", rec)
		if err == nil {
			t.Error("expected error for empty tenantID")
		}

		_, err = repo.GetRecord(ctx, "", "rec-001")
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("SaveAndGetAssessment", func(t *testing.T) {
		a := &domain.Assessment{
			ID:             "assessment-001",
			RecordID:       "rec-001",
			RiskScore:      45,
			RiskLevel:      domain.RiskLevelMedium,
			RuleScore:      25,
			ModelScore:     20.5,
			ModelAvailable: true,
			Flags: []domain.RuleFinding{
				{Code: domain.RuleCode80CLimit, Message: "80C over limit", ScoreDelta: 25},
			},
			Explanation: domain.Explanation{
				Success:       true,
				BaselineValue: 0.3,
				Contributions: []domain.FeatureContribution{
					{FeatureName: "Investment_80C", Contribution: 0.2, Direction: domain.DirectionIncreases},
				},
			},
			Features:  domain.EngineeredFeatures{DeductionRatio: 0.3},
			Narrative: "Moderate scrutiny risk (45/100). 1 check flagged this return.",
			Timestamp: time.Now().UTC(),
			Metadata:  domain.AssessmentMetadata{TraceID: "trace-001", EngineVersion: "kestrel-1.0"},
		}

		if err := repo.SaveAssessment(ctx, tenantID, a); err != nil {
			t.Fatalf("SaveAssessment failed: %v", err)
		}

		retrieved, err := repo.GetAssessment(ctx, tenantID, a.ID)
		if err != nil {
			t.Fatalf("GetAssessment failed: %v", err)
		}

		if retrieved.RiskScore != a.RiskScore {
			t.Errorf("expected RiskScore %d, got %d", a.RiskScore, retrieved.RiskScore)
		}
		if retrieved.RiskLevel != a.RiskLevel {
			t.Errorf("expected RiskLevel %s, got %s", a.RiskLevel, retrieved.RiskLevel)
		}
		if !retrieved.ModelAvailable {
			t.Error("expected ModelAvailable to survive the round trip")
		}
		if len(retrieved.Flags) != 1 || retrieved.Flags[0].Code != domain.RuleCode80CLimit {
			t.Errorf("flags did not survive the round trip: %+v", retrieved.Flags)
		}
		if !retrieved.Explanation.Success || len(retrieved.Explanation.Contributions) != 1 {
			t.Errorf("explanation did not survive the round trip: %+v", retrieved.Explanation)
		}
		if retrieved.Metadata.TraceID != "trace-001" {
			t.Errorf("expected TraceID trace-001, got %s", retrieved.Metadata.TraceID)
		}
	})

	t.Run("ListAssessmentsByTaxYear", func(t *testing.T) {
		assessments, err := repo.ListAssessmentsByTaxYear(ctx, tenantID, "2025-26")
		if err != nil {
			t.Fatalf("ListAssessmentsByTaxYear failed: %v", err)
		}
		if len(assessments) != 1 {
			t.Fatalf("expected 1 assessment for 2025-26, got %d", len(assessments))
		}
		if assessments[0].ID != "assessment-001" {
			t.Errorf("expected assessment-001, got %s", assessments[0].ID)
		}

		none, err := repo.ListAssessmentsByTaxYear(ctx, tenantID, "2019-20")
		if err != nil {
			t.Fatalf("ListAssessmentsByTaxYear failed: %v", err)
		}
		if len(none) != 0 {
			t.Errorf("expected no assessments for 2019-20, got %d", len(none))
		}
	})

	t.Run("SaveAndGetCustomRule", func(t *testing.T) {
		rule := &domain.CustomRuleConfig{
			ID:         "rule-001",
			Name:       "High donations",
			Version:    "1",
			Expression: "donations_80g > 100000.0",
			Message:    "Donations above the tenant's review threshold.",
			ScoreDelta: 10,
			Enabled:    true,
		}

		if err := repo.SaveCustomRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("SaveCustomRule failed: %v", err)
		}

		retrieved, err := repo.GetCustomRule(ctx, tenantID, rule.ID)
		if err != nil {
			t.Fatalf("GetCustomRule failed: %v", err)
		}

		if retrieved.Expression != rule.Expression {
			t.Errorf("expected Expression %q, got %q", rule.Expression, retrieved.Expression)
		}
		if retrieved.ScoreDelta != rule.ScoreDelta {
			t.Errorf("expected ScoreDelta %d, got %d", rule.ScoreDelta, retrieved.ScoreDelta)
		}
	})

	t.Run("UpsertCustomRule", func(t *testing.T) {
		rule := &domain.CustomRuleConfig{
			ID:         "rule-001",
			Name:       "High donations",
			Version:    "1",
			Expression: "donations_80g > 200000.0",
			ScoreDelta: 15,
			Enabled:    true,
		}

		if err := repo.SaveCustomRule(ctx, tenantID, rule); err != nil {
			t.Fatalf("upsert failed: %v", err)
		}

		retrieved, err := repo.GetCustomRule(ctx, tenantID, rule.ID)
		if err != nil {
			t.Fatalf("GetCustomRule failed: %v", err)
		}
		if retrieved.ScoreDelta != 15 {
			t.Errorf("expected updated ScoreDelta 15, got %d", retrieved.ScoreDelta)
		}
	})

	t.Run("ListCustomRules", func(t *testing.T) {
		rules, err := repo.ListCustomRules(ctx, tenantID)
		if err != nil {
			t.Fatalf("ListCustomRules failed: %v", err)
		}
		if len(rules) != 1 {
			t.Errorf("expected 1 rule, got %d", len(rules))
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetRecord(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetAssessment(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetCustomRule(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}
