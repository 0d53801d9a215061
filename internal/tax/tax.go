// Package tax computes personal income-tax liability under the Indian
// new-regime slabs (mandatory from FY 2025-26).
package tax

import "math"

// StandardDeduction is the flat salary deduction applied before slabs.
const StandardDeduction = 50000.0

// RebateLimit is the Section 87A threshold: no tax is payable when taxable
// income does not exceed it.
const RebateLimit = 700000.0

// CessRate is the health and education cess applied on the computed tax.
const CessRate = 0.04

type slab struct {
	lower float64
	upper float64
	rate  float64
}

// New-regime slabs (post-Budget 2023).
var slabs = []slab{
	{0, 300000, 0},
	{300000, 600000, 0.05},
	{600000, 900000, 0.10},
	{900000, 1200000, 0.15},
	{1200000, 1500000, 0.20},
	{1500000, math.Inf(1), 0.30},
}

// ComputeTax returns the tax on a taxable income: slab tax, zeroed by the
// 87A rebate when eligible, plus 4% cess.
func ComputeTax(taxableIncome float64) float64 {
	if taxableIncome <= RebateLimit {
		return 0
	}

	tax := 0.0
	for _, s := range slabs {
		if taxableIncome > s.lower {
			amount := math.Min(taxableIncome, s.upper) - s.lower
			tax += amount * s.rate
		}
	}

	return tax * (1 + CessRate)
}

// TaxableIncome derives taxable income from gross salary after the
// standard deduction. Other deductions do not reduce taxable income under
// the new regime.
func TaxableIncome(grossSalary float64) float64 {
	return math.Max(0, grossSalary-StandardDeduction)
}

// Estimate is a full liability estimate for one year's salary.
type Estimate struct {
	GrossIncome   float64 `json:"grossIncome"`
	TaxableIncome float64 `json:"taxableIncome"`
	Tax           float64 `json:"tax"`
	EffectiveRate float64 `json:"effectiveRate"` // tax / gross, 0 when gross is 0
	RebateApplied bool    `json:"rebateApplied"`
}

// EstimateLiability computes the estimate for a gross salary.
func EstimateLiability(grossSalary float64) Estimate {
	if grossSalary < 0 || math.IsNaN(grossSalary) || math.IsInf(grossSalary, 0) {
		grossSalary = 0
	}

	taxable := TaxableIncome(grossSalary)
	t := ComputeTax(taxable)

	est := Estimate{
		GrossIncome:   grossSalary,
		TaxableIncome: taxable,
		Tax:           t,
		RebateApplied: taxable <= RebateLimit && taxable > 0,
	}
	if grossSalary > 0 {
		est.EffectiveRate = t / grossSalary
	}
	return est
}
