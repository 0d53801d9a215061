package domain

// Builtin rule codes, in evaluation order. Hard-limit checks precede
// ratio checks so finding order is reproducible.
const (
	RuleCode80CLimit       = "limit-80c"
	RuleCode80DLimit       = "limit-80d"
	RuleCodeNPSLimit       = "limit-80ccd"
	RuleCodeDeductionRatio = "ratio-deductions"
	RuleCodeDonationRatio  = "ratio-donations"
	RuleCodeExpenseRatio   = "ratio-expenses"
	RuleCodeRentRatio      = "ratio-rent"
	RuleCodeLooksNormal    = "looks-normal"
	RuleCodeInputClamped   = "input-clamped"
)

// Statutory caps for the hard-limit checks (current law; adjust when it
// changes).
const (
	Limit80C = 150000.0
	Limit80D = 25000.0
	LimitNPS = 50000.0
)

// Ratio thresholds for the sanity checks.
const (
	DeductionRatioThreshold = 0.70
	DonationRatioThreshold  = 0.30
	ExpenseRatioThreshold   = 0.80
	RentRatioThreshold      = 0.60
)

// CustomRuleConfig defines a tenant-configured risk check on top of the
// builtin statutory checks. The CEL expression must evaluate to bool; when
// it is true the rule contributes Message and ScoreDelta to the same
// additive-then-clamp rule score as the builtins.
type CustomRuleConfig struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// CEL expression over record fields and derived ratios
	Expression string `json:"expression"`

	// Finding emitted when the expression is true
	Message    string `json:"message"`
	ScoreDelta int    `json:"scoreDelta"`

	Enabled bool `json:"enabled"`
}
