package features

import (
	"math"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestDeriveBasicRatios(t *testing.T) {
	rec := &domain.FinancialRecord{
		AnnualSalary:        1200000,
		Investment80C:       150000,
		MedicalInsurance80D: 25000,
		HomeLoanInterest24B: 200000,
		Donations80G:        50000,
		RentPaid:            240000,
	}

	feat, notes := Derive(rec)

	if len(notes) != 0 {
		t.Errorf("expected no sanitization notes, got %v", notes)
	}
	if feat.TotalDeductions != 425000 {
		t.Errorf("expected total deductions 425000, got %.0f", feat.TotalDeductions)
	}
	if math.Abs(feat.DonationRatio-50000.0/1200000.0) > 1e-12 {
		t.Errorf("unexpected donation ratio %.6f", feat.DonationRatio)
	}
	if math.Abs(feat.RentRatio-0.20) > 1e-12 {
		t.Errorf("expected rent ratio 0.20, got %.6f", feat.RentRatio)
	}
}

func TestDeriveZeroSalaryUsesFloor(t *testing.T) {
	rec := &domain.FinancialRecord{
		AnnualSalary: 0,
		Donations80G: 10000,
	}

	feat, _ := Derive(rec)

	if math.IsNaN(feat.DonationRatio) || math.IsInf(feat.DonationRatio, 0) {
		t.Fatalf("donation ratio must be finite, got %v", feat.DonationRatio)
	}
	// Denominator floor is 1 rupee, so the ratio equals the raw amount.
	if feat.DonationRatio != 10000 {
		t.Errorf("expected donation ratio 10000, got %.2f", feat.DonationRatio)
	}
}

func TestDeriveClampsInvalidInput(t *testing.T) {
	rec := &domain.FinancialRecord{
		AnnualSalary:  500000,
		Investment80C: -20000,
		RentPaid:      math.NaN(),
	}

	feat, notes := Derive(rec)

	if len(notes) != 2 {
		t.Fatalf("expected 2 sanitization notes, got %d: %v", len(notes), notes)
	}
	if feat.TotalDeductions != 0 {
		t.Errorf("negative 80C should clamp to 0, got deductions %.0f", feat.TotalDeductions)
	}
	if feat.RentRatio != 0 {
		t.Errorf("NaN rent should clamp to 0, got rent ratio %.4f", feat.RentRatio)
	}
}

func TestDeriveDeterministic(t *testing.T) {
	rec := &domain.FinancialRecord{
		AnnualSalary:  800000,
		Investment80C: 100000,
		RentPaid:      120000,
		Groceries:     60000,
	}

	a, _ := Derive(rec)
	b, _ := Derive(rec)

	if a != b {
		t.Errorf("Derive is not deterministic: %+v vs %+v", a, b)
	}
}

func TestSanitizedCopiesWithoutMutating(t *testing.T) {
	rec := &domain.FinancialRecord{AnnualSalary: -1}
	out := Sanitized(rec)

	if out.AnnualSalary != 0 {
		t.Errorf("expected clamped salary 0, got %.0f", out.AnnualSalary)
	}
	if rec.AnnualSalary != -1 {
		t.Errorf("input record mutated: %.0f", rec.AnnualSalary)
	}
}
