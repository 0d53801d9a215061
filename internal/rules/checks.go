package rules

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Evaluate runs the builtin statutory and ratio checks against a sanitized
// record and its engineered features. Pure and deterministic: checks run in
// a fixed order (hard-limit checks before ratio checks) and multiple checks
// can fire for the same return. Returns the ordered findings and the
// unclamped sum of their score deltas; the caller applies the 0-40 clamp
// after merging custom-rule deltas.
//
// The absolute donation cap and the donation-ratio check can both fire for
// the same underlying behavior. That additive overlap is inherited from the
// original scoring scheme and bounded by the clamp; reweighting it would
// change every published score.
func Evaluate(rec *domain.FinancialRecord, feat domain.EngineeredFeatures) ([]domain.RuleFinding, int) {
	var findings []domain.RuleFinding
	sum := 0

	add := func(code, msg string, delta int) {
		findings = append(findings, domain.RuleFinding{Code: code, Message: msg, ScoreDelta: delta})
		sum += delta
	}

	// Hard limit checks
	if rec.Investment80C > domain.Limit80C {
		excess := rec.Investment80C - domain.Limit80C
		add(domain.RuleCode80CLimit,
			fmt.Sprintf("Section 80C claimed ₹%.0f, exceeds limit by ₹%.0f.", rec.Investment80C, excess), 25)
	}

	if rec.MedicalInsurance80D > domain.Limit80D {
		excess := rec.MedicalInsurance80D - domain.Limit80D
		add(domain.RuleCode80DLimit,
			fmt.Sprintf("Section 80D claimed ₹%.0f, exceeds typical limit by ₹%.0f.", rec.MedicalInsurance80D, excess), 20)
	}

	if rec.NPSContribution80CCD > domain.LimitNPS {
		excess := rec.NPSContribution80CCD - domain.LimitNPS
		add(domain.RuleCodeNPSLimit,
			fmt.Sprintf("NPS (80CCD) claimed ₹%.0f, exceeds typical limit by ₹%.0f.", rec.NPSContribution80CCD, excess), 15)
	}

	// Ratio-based sanity checks
	if feat.DeductionRatio > domain.DeductionRatioThreshold {
		add(domain.RuleCodeDeductionRatio,
			fmt.Sprintf("Total deductions are %.1f%% of income — unusually high.", feat.DeductionRatio*100), 20)
	}

	if feat.DonationRatio > domain.DonationRatioThreshold {
		add(domain.RuleCodeDonationRatio,
			fmt.Sprintf("Donations are %.1f%% of income — may draw scrutiny.", feat.DonationRatio*100), 15)
	}

	if feat.ExpenseRatio > domain.ExpenseRatioThreshold {
		add(domain.RuleCodeExpenseRatio,
			fmt.Sprintf("Key expenses are %.1f%% of income — very high.", feat.ExpenseRatio*100), 10)
	}

	if rec.AnnualSalary > 0 && feat.RentRatio > domain.RentRatioThreshold {
		add(domain.RuleCodeRentRatio,
			fmt.Sprintf("Rent is %.1f%% of income — unusually high in most cases.", feat.RentRatio*100), 10)
	}

	return findings, sum
}

// ClampRuleScore applies the 0-40 cap to the summed rule deltas. Deltas can
// sum past 40 when several checks fire; the cap keeps the rule component
// from dominating the combined score.
func ClampRuleScore(sum int) int {
	if sum < 0 {
		return 0
	}
	if sum > domain.MaxRuleScore {
		return domain.MaxRuleScore
	}
	return sum
}
