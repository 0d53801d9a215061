package rules

import (
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
)

func evaluateRecord(t *testing.T, rec *domain.FinancialRecord) ([]domain.RuleFinding, int) {
	t.Helper()
	feat, _ := features.Derive(rec)
	return Evaluate(rec, feat)
}

func TestAtCapRecordTriggersNothing(t *testing.T) {
	// Every amount sits exactly at its cap; strict > comparisons mean no
	// check fires.
	rec := &domain.FinancialRecord{
		AnnualSalary:        1200000,
		Investment80C:       150000,
		MedicalInsurance80D: 25000,
		HomeLoanInterest24B: 200000,
		Donations80G:        50000,
		RentPaid:            240000,
	}

	findings, sum := evaluateRecord(t, rec)

	if len(findings) != 0 {
		t.Errorf("expected no findings, got %v", findings)
	}
	if ClampRuleScore(sum) != 0 {
		t.Errorf("expected rule score 0, got %d", ClampRuleScore(sum))
	}
}

func TestOver80CLimit(t *testing.T) {
	rec := &domain.FinancialRecord{
		AnnualSalary:  500000,
		Investment80C: 300000,
	}

	findings, sum := evaluateRecord(t, rec)

	if len(findings) != 1 {
		t.Fatalf("expected exactly the 80C finding, got %v", findings)
	}
	if findings[0].Code != domain.RuleCode80CLimit {
		t.Errorf("expected code %s, got %s", domain.RuleCode80CLimit, findings[0].Code)
	}
	if findings[0].ScoreDelta != 25 {
		t.Errorf("expected delta 25, got %d", findings[0].ScoreDelta)
	}
	if ClampRuleScore(sum) != 25 {
		t.Errorf("expected rule score 25, got %d", ClampRuleScore(sum))
	}
}

func TestZeroSalaryDonationRatioFires(t *testing.T) {
	rec := &domain.FinancialRecord{
		AnnualSalary: 0,
		Donations80G: 10000,
	}

	findings, _ := evaluateRecord(t, rec)

	found := false
	for _, f := range findings {
		if f.Code == domain.RuleCodeDonationRatio {
			found = true
		}
		if f.Code == domain.RuleCodeRentRatio {
			t.Error("rent ratio check must not fire when salary is 0")
		}
	}
	if !found {
		t.Errorf("donation ratio 10000 should trigger the donation check, findings: %v", findings)
	}
}

func TestCheckOrderIsFixed(t *testing.T) {
	// Record that trips every check: hard limits must come before ratios.
	rec := &domain.FinancialRecord{
		AnnualSalary:         100000,
		Investment80C:        200000,
		MedicalInsurance80D:  60000,
		NPSContribution80CCD: 80000,
		Donations80G:         90000,
		RentPaid:             90000,
		Groceries:            50000,
	}

	findings, sum := evaluateRecord(t, rec)

	wantOrder := []string{
		domain.RuleCode80CLimit,
		domain.RuleCode80DLimit,
		domain.RuleCodeNPSLimit,
		domain.RuleCodeDeductionRatio,
		domain.RuleCodeDonationRatio,
		domain.RuleCodeExpenseRatio,
		domain.RuleCodeRentRatio,
	}
	if len(findings) != len(wantOrder) {
		t.Fatalf("expected %d findings, got %d: %v", len(wantOrder), len(findings), findings)
	}
	for i, code := range wantOrder {
		if findings[i].Code != code {
			t.Errorf("finding %d: expected %s, got %s", i, code, findings[i].Code)
		}
	}

	// Deltas sum well past 40; the clamp caps the rule component.
	if sum <= domain.MaxRuleScore {
		t.Errorf("expected raw sum above %d, got %d", domain.MaxRuleScore, sum)
	}
	if ClampRuleScore(sum) != domain.MaxRuleScore {
		t.Errorf("expected clamped score %d, got %d", domain.MaxRuleScore, ClampRuleScore(sum))
	}
}

func TestRuleScoreMonotonicIn80C(t *testing.T) {
	base := &domain.FinancialRecord{
		AnnualSalary:  1000000,
		Investment80C: 140000,
	}

	prev := -1
	for _, amount := range []float64{140000, 150000, 150001, 200000, 400000, 900000} {
		rec := *base
		rec.Investment80C = amount
		_, sum := evaluateRecord(t, &rec)
		score := ClampRuleScore(sum)
		if score < prev {
			t.Errorf("rule score decreased from %d to %d when 80C rose to %.0f", prev, score, amount)
		}
		prev = score
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	rec := &domain.FinancialRecord{
		AnnualSalary:  300000,
		Investment80C: 250000,
		Donations80G:  120000,
	}

	f1, s1 := evaluateRecord(t, rec)
	f2, s2 := evaluateRecord(t, rec)

	if s1 != s2 || len(f1) != len(f2) {
		t.Fatalf("evaluation not deterministic: %v/%d vs %v/%d", f1, s1, f2, s2)
	}
	for i := range f1 {
		if f1[i] != f2[i] {
			t.Errorf("finding %d differs between runs: %v vs %v", i, f1[i], f2[i])
		}
	}
}
