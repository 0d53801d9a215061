// Package features derives the engineered ratio features the rules and the
// classifier consume.
package features

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Derive computes engineered features from a financial record. Pure and
// deterministic; it never fails. Negative or non-finite amounts are clamped
// to zero before derivation and each clamp is reported in the returned
// notes, since this is a best-effort advisory engine rather than a
// validating one.
func Derive(rec *domain.FinancialRecord) (domain.EngineeredFeatures, []string) {
	var notes []string

	sanitize := func(name string, v float64) float64 {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			notes = append(notes, fmt.Sprintf("%s was not a finite number; treated as 0", name))
			return 0
		}
		if v < 0 {
			notes = append(notes, fmt.Sprintf("%s was negative (%.0f); treated as 0", name, v))
			return 0
		}
		return v
	}

	salary := sanitize("annual_salary", rec.AnnualSalary)
	inv80c := sanitize("investment_80c", rec.Investment80C)
	med80d := sanitize("medical_insurance_80d", rec.MedicalInsurance80D)
	homeLoan := sanitize("home_loan_interest_24b", rec.HomeLoanInterest24B)
	donations := sanitize("donations_80g", rec.Donations80G)
	rent := sanitize("rent_paid", rec.RentPaid)
	groceries := sanitize("groceries", rec.Groceries)
	utilities := sanitize("utilities", rec.Utilities)
	healthcare := sanitize("healthcare", rec.Healthcare)
	entertainment := sanitize("entertainment", rec.Entertainment)

	totalDeductions := inv80c + med80d + homeLoan + donations
	totalExpenses := rent + groceries + utilities + entertainment + healthcare

	// Denominator floor of 1 rupee: a zero salary produces large but
	// finite ratios instead of a division error.
	den := math.Max(salary, 1)

	return domain.EngineeredFeatures{
		DeductionRatio:  totalDeductions / den,
		DonationRatio:   donations / den,
		RentRatio:       rent / den,
		ExpenseRatio:    totalExpenses / den,
		TotalDeductions: totalDeductions,
		TotalExpenses:   totalExpenses,
	}, notes
}

// Sanitized returns a copy of the record with the same clamping Derive
// applies, so downstream consumers (rule checks, feature vectors) see the
// sanitized amounts the ratios were computed from.
func Sanitized(rec *domain.FinancialRecord) domain.FinancialRecord {
	out := *rec
	clamp := func(v float64) float64 {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return 0
		}
		return v
	}
	out.AnnualSalary = clamp(rec.AnnualSalary)
	out.Investment80C = clamp(rec.Investment80C)
	out.MedicalInsurance80D = clamp(rec.MedicalInsurance80D)
	out.NPSContribution80CCD = clamp(rec.NPSContribution80CCD)
	out.HomeLoanInterest24B = clamp(rec.HomeLoanInterest24B)
	out.Donations80G = clamp(rec.Donations80G)
	out.RentPaid = clamp(rec.RentPaid)
	out.Groceries = clamp(rec.Groceries)
	out.Utilities = clamp(rec.Utilities)
	out.Healthcare = clamp(rec.Healthcare)
	out.Entertainment = clamp(rec.Entertainment)
	return out
}
