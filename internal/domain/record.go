package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// FinancialRecord holds one taxpayer's inputs for a tax year.
// All amounts are rupees. The record is immutable once handed to the
// analyzer; sanitization happens during feature derivation, not here.
type FinancialRecord struct {
	ID       string `json:"id,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
	TaxYear  string `json:"taxYear,omitempty"`

	AnnualSalary         float64 `json:"annual_salary"`
	Investment80C        float64 `json:"investment_80c"`
	MedicalInsurance80D  float64 `json:"medical_insurance_80d"`
	NPSContribution80CCD float64 `json:"nps_contribution_80ccd"`
	HomeLoanInterest24B  float64 `json:"home_loan_interest_24b"`
	Donations80G         float64 `json:"donations_80g"`
	RentPaid             float64 `json:"rent_paid"`

	// Optional expense breakdown
	Groceries     float64 `json:"groceries,omitempty"`
	Utilities     float64 `json:"utilities,omitempty"`
	Healthcare    float64 `json:"healthcare,omitempty"`
	Entertainment float64 `json:"entertainment,omitempty"`

	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// Digest returns a stable content hash of the record's financial fields,
// used as the cache key for assessment memoization. Identifiers and
// timestamps are excluded so identical figures hash identically.
func (r *FinancialRecord) Digest() string {
	h := sha256.New()
	for _, v := range []float64{
		r.AnnualSalary, r.Investment80C, r.MedicalInsurance80D,
		r.NPSContribution80CCD, r.HomeLoanInterest24B, r.Donations80G,
		r.RentPaid, r.Groceries, r.Utilities, r.Healthcare, r.Entertainment,
	} {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], uint64(int64(v*100)))
		h.Write(buf[:])
	}
	h.Write([]byte(r.TaxYear))
	return hex.EncodeToString(h.Sum(nil))
}

// EngineeredFeatures are the derived ratios the rules and the classifier
// consume. Every ratio uses a denominator floor of 1 rupee, so a zero
// salary yields a large finite ratio instead of a division error.
type EngineeredFeatures struct {
	DeductionRatio  float64 `json:"deduction_ratio"`
	DonationRatio   float64 `json:"donation_ratio"`
	RentRatio       float64 `json:"rent_ratio"`
	ExpenseRatio    float64 `json:"expense_ratio"`
	TotalDeductions float64 `json:"total_deductions"`
	TotalExpenses   float64 `json:"total_expenses"`
}

// YearIncome is one point of income history for liability projection.
type YearIncome struct {
	Year   int     `json:"year"`
	Income float64 `json:"income"`
}
