// Package explain decomposes the risk classifier's output into signed
// per-feature contributions.
//
// Attribution walks each tree's decision path and, at every split, credits
// the change in the node's expected value to the split feature. Within one
// tree those deltas telescope to (leaf value - root expectation); averaged
// over the ensemble, the contributions of all features sum exactly to
// (prediction - baseline). Conservation is therefore an identity of the
// method, not an approximation, up to floating-point rounding.
package explain

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

// TopN is the number of contributions retained for presentation. The full
// set is computed; only the top N carry into the result.
const TopN = 5

// MaterialityThreshold is the minimum positive contribution for a factor
// to earn a remediation bullet.
const MaterialityThreshold = 0.1

// Explainer produces attributions for a loaded classifier.
type Explainer struct {
	clf *model.Classifier
}

// NewExplainer creates an explainer over the classifier.
func NewExplainer(clf *model.Classifier) *Explainer {
	return &Explainer{clf: clf}
}

// Explain computes the ranked top-5 contributions for a sanitized record.
// Any internal failure yields an explanation-unavailable result instead of
// an error: the caller's risk score must survive attribution problems.
func (e *Explainer) Explain(rec *domain.FinancialRecord, feat domain.EngineeredFeatures) domain.Explanation {
	if e.clf == nil || !e.clf.Available() {
		return unavailable("model unavailable")
	}

	x := e.clf.Vector(rec, feat)

	contributions, baseline, err := pathContributions(e.clf.Forest(), x)
	if err != nil {
		return unavailable(err.Error())
	}

	names := e.clf.FeatureNames()

	// Rank all features by absolute contribution, ties broken by the
	// canonical feature order so output is deterministic.
	order := make([]int, len(names))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return math.Abs(contributions[order[a]]) > math.Abs(contributions[order[b]])
	})

	n := TopN
	if n > len(order) {
		n = len(order)
	}

	var absTop float64
	for _, i := range order[:n] {
		absTop += math.Abs(contributions[i])
	}

	out := domain.Explanation{
		BaselineValue: baseline,
		Success:       true,
	}

	for _, i := range order[:n] {
		c := contributions[i]
		direction := domain.DirectionDecreases
		if c > 0 {
			direction = domain.DirectionIncreases
		}

		share := 0.0
		if absTop > 0 {
			// Share is local to the reported top-5 set: the
			// percentages describe the visible findings only.
			share = math.Abs(c) / absTop
		}

		out.Contributions = append(out.Contributions, domain.FeatureContribution{
			FeatureName:     names[i],
			Label:           featureLabel(names[i]),
			ObservedValue:   x[i],
			Contribution:    c,
			Direction:       direction,
			ImportanceShare: share,
			Narrative:       featureNarrative(names[i], x[i], c),
		})

		if c > 0 {
			out.TotalPositiveImpact += c
		} else {
			out.TotalNegativeImpact += c
		}
	}

	out.Interpretation = interpret(out.Contributions, out.TotalPositiveImpact, out.TotalNegativeImpact)
	out.Remediations = remediations(out.Contributions)

	return out
}

// AllContributions returns the full unranked contribution vector and the
// baseline. Exposed for conservation checks and batch tooling.
func (e *Explainer) AllContributions(rec *domain.FinancialRecord, feat domain.EngineeredFeatures) ([]float64, float64, error) {
	if e.clf == nil || !e.clf.Available() {
		return nil, 0, fmt.Errorf("model unavailable")
	}
	x := e.clf.Vector(rec, feat)
	return pathContributions(e.clf.Forest(), x)
}

// pathContributions walks every tree and accumulates per-feature expected
// value deltas, averaged over the ensemble.
func pathContributions(f *model.Forest, x []float64) ([]float64, float64, error) {
	if len(x) != len(f.Features) {
		return nil, 0, fmt.Errorf("expected %d features, got %d", len(f.Features), len(x))
	}

	contributions := make([]float64, len(f.Features))

	for t := range f.Trees {
		tree := &f.Trees[t]
		i := 0
		for steps := 0; !tree.IsLeaf(i); steps++ {
			if steps > len(tree.Nodes) {
				return nil, 0, fmt.Errorf("tree %d: decision path does not terminate", t)
			}
			n := tree.Nodes[i]

			child := n.Right
			if x[n.Feature] <= n.Threshold {
				child = n.Left
			}
			if child < 0 || child >= len(tree.Nodes) {
				return nil, 0, fmt.Errorf("tree %d: child index %d out of range", t, child)
			}

			contributions[n.Feature] += f.Expectation(t, child) - f.Expectation(t, i)
			i = child
		}
	}

	numTrees := float64(len(f.Trees))
	for i := range contributions {
		contributions[i] /= numTrees
	}

	return contributions, f.Baseline(), nil
}

func unavailable(reason string) domain.Explanation {
	return domain.Explanation{
		Success:        false,
		Reason:         reason,
		Interpretation: "Unable to generate a detailed explanation for this return.",
	}
}

func interpret(top []domain.FeatureContribution, positive, negative float64) string {
	if len(top) == 0 {
		return "Unable to generate a detailed explanation for this return."
	}

	if math.Abs(positive) > math.Abs(negative) {
		increasing := 0
		for _, c := range top {
			if c.Contribution > 0 {
				increasing++
			}
		}
		return fmt.Sprintf(
			"Risk-increasing factors dominate: %d of the top factors push this return toward scrutiny (impact %.3f vs %.3f).",
			increasing, positive, math.Abs(negative))
	}

	return fmt.Sprintf(
		"Low risk profile: most factors work in this return's favor (impact %.3f vs %.3f).",
		math.Abs(negative), positive)
}
