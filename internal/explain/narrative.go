package explain

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var featureLabels = map[string]string{
	"Annual_Salary":          "Annual Salary",
	"Total_Deductions":       "Total Deductions",
	"Taxable_Income":         "Taxable Income",
	"Investment_80C":         "80C Investments",
	"Medical_Insurance_80D":  "Health Insurance (80D)",
	"NPS_Contribution_80CCD": "NPS Contribution (80CCD)",
	"Home_Loan_Interest_24b": "Home Loan Interest",
	"Donations_80G":          "Donations (80G)",
	"Rent_Paid":              "Rent Paid",
	"Groceries":              "Groceries",
	"Utilities":              "Utilities",
	"Entertainment":          "Entertainment",
	"Healthcare":             "Healthcare",
	"Deduction_Ratio":        "Total Deductions / Salary",
	"Donation_Ratio":         "Donations / Salary",
	"Rent_Ratio":             "Rent / Salary",
	"Expense_Ratio":          "Expenses / Salary",
}

func featureLabel(name string) string {
	if label, ok := featureLabels[name]; ok {
		return label
	}
	return name
}

// featureNarrative renders the templated, direction-aware sentence for one
// contribution. Thresholds mirror the rule checks; most features phrase
// three severity tiers.
func featureNarrative(name string, value, contribution float64) string {
	increases := contribution > 0

	switch name {
	case "Annual_Salary":
		if increases {
			return fmt.Sprintf("Your salary of ₹%.0f is in a bracket that slightly increases scrutiny risk.", value)
		}
		return fmt.Sprintf("Your salary of ₹%.0f is normal and doesn't raise concerns.", value)

	case "Investment_80C":
		if value > domain.Limit80C {
			return fmt.Sprintf("Your 80C investments of ₹%.0f exceed the limit of ₹1.5L, which is a red flag.", value)
		}
		if increases {
			return fmt.Sprintf("Your 80C investments of ₹%.0f are high relative to income, raising minor concerns.", value)
		}
		return fmt.Sprintf("Your 80C investments of ₹%.0f are within normal limits.", value)

	case "Medical_Insurance_80D":
		if value > domain.Limit80D {
			return fmt.Sprintf("Your health insurance of ₹%.0f exceeds the limit of ₹%.0f.", value, domain.Limit80D)
		}
		if increases {
			return fmt.Sprintf("Your health insurance of ₹%.0f is on the higher side.", value)
		}
		return fmt.Sprintf("Your health insurance of ₹%.0f is reasonable.", value)

	case "NPS_Contribution_80CCD":
		if value > domain.LimitNPS {
			return fmt.Sprintf("Your NPS contribution of ₹%.0f exceeds the ₹50K limit under 80CCD(1B).", value)
		}
		if increases {
			return fmt.Sprintf("Your NPS contribution of ₹%.0f is on the higher side.", value)
		}
		return fmt.Sprintf("Your NPS contribution of ₹%.0f is reasonable.", value)

	case "Home_Loan_Interest_24b":
		if value > 200000 {
			return fmt.Sprintf("Your home loan interest of ₹%.0f exceeds the ₹2L limit for self-occupied property.", value)
		}
		if increases {
			return fmt.Sprintf("Your home loan interest of ₹%.0f is high but within limits.", value)
		}
		return fmt.Sprintf("Your home loan interest of ₹%.0f is normal.", value)

	case "Donations_80G":
		if increases {
			return fmt.Sprintf("Your donations of ₹%.0f are unusually high compared to your income, which may draw attention.", value)
		}
		return fmt.Sprintf("Your donations of ₹%.0f are reasonable.", value)

	case "Rent_Paid":
		if increases {
			return fmt.Sprintf("Your rent of ₹%.0f/year is very high relative to income. Ensure HRA calculation is correct.", value)
		}
		return fmt.Sprintf("Your rent of ₹%.0f/year seems reasonable.", value)

	case "Deduction_Ratio":
		pct := value * 100
		switch {
		case pct > 70:
			return fmt.Sprintf("Your total deductions are %.1f%% of income - this is unusually high and may trigger scrutiny.", pct)
		case pct > 50:
			return fmt.Sprintf("Your deductions are %.1f%% of income - on the higher side but explainable.", pct)
		default:
			return fmt.Sprintf("Your deductions are %.1f%% of income - within normal range.", pct)
		}

	case "Donation_Ratio":
		pct := value * 100
		switch {
		case pct > 30:
			return fmt.Sprintf("Donations are %.1f%% of income - very high proportion may be questioned.", pct)
		case pct > 15:
			return fmt.Sprintf("Donations are %.1f%% of income - ensure proper documentation.", pct)
		default:
			return fmt.Sprintf("Donations are %.1f%% of income - reasonable amount.", pct)
		}

	case "Rent_Ratio":
		pct := value * 100
		switch {
		case pct > 50:
			return fmt.Sprintf("Rent is %.1f%% of income - very high. Verify HRA exemption calculation.", pct)
		case pct > 30:
			return fmt.Sprintf("Rent is %.1f%% of income - on the higher side but acceptable.", pct)
		default:
			return fmt.Sprintf("Rent is %.1f%% of income - normal for most cities.", pct)
		}

	case "Expense_Ratio":
		pct := value * 100
		if pct > 80 {
			return fmt.Sprintf("Key expenses are %.1f%% of income - very high.", pct)
		}
		return fmt.Sprintf("Key expenses are %.1f%% of income.", pct)
	}

	if increases {
		return fmt.Sprintf("%s of ₹%.0f nudges the risk estimate upward.", featureLabel(name), value)
	}
	return fmt.Sprintf("%s of ₹%.0f works in your favor.", featureLabel(name), value)
}

// remediations returns up to two actionable bullets for the material
// risk-increasing contributions among the reported set.
func remediations(top []domain.FeatureContribution) []string {
	var out []string
	for _, c := range top {
		if len(out) == 2 {
			break
		}
		if c.Contribution <= MaterialityThreshold {
			continue
		}
		if strings.Contains(strings.ToLower(c.Narrative), "exceed") {
			out = append(out, fmt.Sprintf("%s: exceeds limits. Review and correct this deduction.", c.Label))
		} else {
			out = append(out, fmt.Sprintf("%s: ensure proper documentation and receipts.", c.Label))
		}
	}
	return out
}
