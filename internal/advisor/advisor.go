// Package advisor generates savings and spending recommendations from a
// financial record, independent of the risk assessment.
package advisor

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/tax"
)

// Recommendation categories.
const (
	CategoryTaxSaving = "tax_saving"
	CategorySpending  = "spending"
	CategoryPlanning  = "planning"
)

// Recommendation is one actionable suggestion.
type Recommendation struct {
	Category string  `json:"category"`
	Message  string  `json:"message"`
	Headroom float64 `json:"headroom,omitempty"` // unclaimed deduction room, rupees
}

// Recommend builds the suggestion list for a record. Deterministic:
// tax-saving headroom first, spending observations next, planning notes
// last.
func Recommend(rec *domain.FinancialRecord) []Recommendation {
	sanitized := features.Sanitized(rec)
	feat, _ := features.Derive(&sanitized)

	var out []Recommendation

	if room := domain.Limit80C - sanitized.Investment80C; room > 0 {
		out = append(out, Recommendation{
			Category: CategoryTaxSaving,
			Message:  fmt.Sprintf("You can invest ₹%.0f more under Section 80C (ELSS, PPF, EPF) to reach the ₹1.5L limit.", room),
			Headroom: room,
		})
	}
	if room := domain.LimitNPS - sanitized.NPSContribution80CCD; room > 0 {
		out = append(out, Recommendation{
			Category: CategoryTaxSaving,
			Message:  fmt.Sprintf("An additional ₹%.0f in NPS under 80CCD(1B) is deductible over and above 80C.", room),
			Headroom: room,
		})
	}
	if room := domain.Limit80D - sanitized.MedicalInsurance80D; room > 0 {
		out = append(out, Recommendation{
			Category: CategoryTaxSaving,
			Message:  fmt.Sprintf("Health insurance premiums up to ₹%.0f more are deductible under Section 80D.", room),
			Headroom: room,
		})
	}

	salary := sanitized.AnnualSalary
	if feat.ExpenseRatio > 0.7 {
		out = append(out, Recommendation{
			Category: CategorySpending,
			Message:  fmt.Sprintf("Your tracked expenses are %.0f%% of income. Consider budgeting to improve savings.", feat.ExpenseRatio*100),
		})
	}
	if salary > 0 && sanitized.Entertainment > 0.15*salary {
		out = append(out, Recommendation{
			Category: CategorySpending,
			Message:  fmt.Sprintf("Entertainment spending of ₹%.0f is over 15%% of your income.", sanitized.Entertainment),
		})
	}
	if salary > 0 && sanitized.Groceries > 0.25*salary {
		out = append(out, Recommendation{
			Category: CategorySpending,
			Message:  fmt.Sprintf("Grocery spending of ₹%.0f is over 25%% of your income.", sanitized.Groceries),
		})
	}

	est := tax.EstimateLiability(salary)
	if est.RebateApplied {
		out = append(out, Recommendation{
			Category: CategoryPlanning,
			Message:  "Your taxable income qualifies for the full Section 87A rebate; no tax is payable this year.",
		})
	} else if est.Tax > 0 {
		out = append(out, Recommendation{
			Category: CategoryPlanning,
			Message:  fmt.Sprintf("Estimated tax liability is ₹%.0f (effective rate %.1f%%).", est.Tax, est.EffectiveRate*100),
		})
	}

	return out
}
