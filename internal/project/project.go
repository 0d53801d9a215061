// Package project forecasts future-year income and the resulting tax
// liability from a taxpayer's income history.
package project

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/tax"
)

// MaxHorizonYears bounds how far ahead a projection may run.
const MaxHorizonYears = 10

// YearProjection is one projected future year.
type YearProjection struct {
	Year            int     `json:"year"`
	ProjectedIncome float64 `json:"projectedIncome"`
	TaxableIncome   float64 `json:"taxableIncome"`
	EstimatedTax    float64 `json:"estimatedTax"`
	EffectiveRate   float64 `json:"effectiveRate"`
}

// Result is a full projection over the requested horizon.
type Result struct {
	BaseYear   int              `json:"baseYear"`
	GrowthRate float64          `json:"growthRate"` // annual, e.g. 0.08 for 8%
	Years      []YearProjection `json:"years"`
}

// Project fits an exponential growth trend to the income history and
// projects income and tax for the next horizon years. History needs at
// least one point; with a single point the trend is flat. Years with
// non-positive income are ignored for the fit but still count toward the
// base year.
func Project(history []domain.YearIncome, horizon int) (*Result, error) {
	if len(history) == 0 {
		return nil, fmt.Errorf("income history is empty")
	}
	if horizon < 1 || horizon > MaxHorizonYears {
		return nil, fmt.Errorf("horizon must be between 1 and %d years", MaxHorizonYears)
	}

	sorted := make([]domain.YearIncome, len(history))
	copy(sorted, history)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Year < sorted[j].Year })

	base := sorted[len(sorted)-1]
	growth := fitGrowth(sorted)

	result := &Result{
		BaseYear:   base.Year,
		GrowthRate: growth,
	}

	income := math.Max(base.Income, 0)
	for i := 1; i <= horizon; i++ {
		income *= 1 + growth
		est := tax.EstimateLiability(income)
		result.Years = append(result.Years, YearProjection{
			Year:            base.Year + i,
			ProjectedIncome: income,
			TaxableIncome:   est.TaxableIncome,
			EstimatedTax:    est.Tax,
			EffectiveRate:   est.EffectiveRate,
		})
	}

	return result, nil
}

// fitGrowth regresses log(income) on year and converts the slope back to
// an annual growth rate. Fewer than two usable points means no trend.
func fitGrowth(sorted []domain.YearIncome) float64 {
	var xs, ys []float64
	for _, p := range sorted {
		if p.Income <= 0 || math.IsNaN(p.Income) || math.IsInf(p.Income, 0) {
			continue
		}
		xs = append(xs, float64(p.Year))
		ys = append(ys, math.Log(p.Income))
	}
	if len(xs) < 2 {
		return 0
	}

	_, slope := stat.LinearRegression(xs, ys, nil, false)
	if math.IsNaN(slope) || math.IsInf(slope, 0) {
		return 0
	}

	growth := math.Expm1(slope)

	// A fitted trend outside this band says more about the data than the
	// taxpayer; cap it so projections stay plausible.
	return math.Max(-0.5, math.Min(0.5, growth))
}
