// Package model wraps the pre-trained tree-ensemble risk classifier.
//
// The artifact is a JSON forest exported by the offline training pipeline.
// It bundles the trees with the canonical feature-name ordering they were
// trained on, so the serving side never re-derives the feature list.
package model

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/tax"
)

// Node is one node of a decision tree. Leaves have Feature == -1 and carry
// the risky-class probability in Value. Samples is the training sample
// count under the node, used to compute interior expected values.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
	Left      int     `json:"left"`
	Right     int     `json:"right"`
	Value     float64 `json:"value"`
	Samples   float64 `json:"samples"`
}

// Tree is one decision tree, nodes indexed from the root at 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// IsLeaf reports whether node i is a leaf.
func (t *Tree) IsLeaf(i int) bool {
	return t.Nodes[i].Feature < 0
}

// Forest is the deserialized ensemble plus precomputed per-node expected
// values. Read-only after load; safe to share across goroutines.
type Forest struct {
	Features []string `json:"features"`
	Trees    []Tree   `json:"trees"`

	// expectations[t][n] is the samples-weighted mean leaf value under
	// node n of tree t. Computed once at load; the attribution engine
	// reads it on every explanation.
	expectations [][]float64
}

// Expectation returns the expected value of node n in tree t.
func (f *Forest) Expectation(t, n int) float64 {
	return f.expectations[t][n]
}

// Baseline returns the ensemble's expected output over the training
// distribution: the mean of the per-tree root expectations. Attribution
// contributions sum to prediction minus this value.
func (f *Forest) Baseline() float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for t := range f.Trees {
		sum += f.expectations[t][0]
	}
	return sum / float64(len(f.Trees))
}

// predictTree walks one tree to a leaf and returns its value.
func (f *Forest) predictTree(t int, x []float64) float64 {
	tree := &f.Trees[t]
	i := 0
	for !tree.IsLeaf(i) {
		n := tree.Nodes[i]
		if x[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
	return tree.Nodes[i].Value
}

// Predict returns the mean leaf value across trees, clamped to [0,1].
func (f *Forest) Predict(x []float64) float64 {
	if len(f.Trees) == 0 {
		return 0
	}
	sum := 0.0
	for t := range f.Trees {
		sum += f.predictTree(t, x)
	}
	p := sum / float64(len(f.Trees))
	return math.Min(1, math.Max(0, p))
}

func (f *Forest) computeExpectations() error {
	f.expectations = make([][]float64, len(f.Trees))
	for t := range f.Trees {
		tree := &f.Trees[t]
		exp := make([]float64, len(tree.Nodes))
		var walk func(i int) (float64, float64, error)
		walk = func(i int) (float64, float64, error) {
			if i < 0 || i >= len(tree.Nodes) {
				return 0, 0, fmt.Errorf("tree %d: node index %d out of range", t, i)
			}
			n := tree.Nodes[i]
			if tree.IsLeaf(i) {
				samples := n.Samples
				if samples <= 0 {
					samples = 1
				}
				exp[i] = n.Value
				return n.Value * samples, samples, nil
			}
			lSum, lCount, err := walk(n.Left)
			if err != nil {
				return 0, 0, err
			}
			rSum, rCount, err := walk(n.Right)
			if err != nil {
				return 0, 0, err
			}
			exp[i] = (lSum + rSum) / (lCount + rCount)
			return lSum + rSum, lCount + rCount, nil
		}
		if len(tree.Nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", t)
		}
		if _, _, err := walk(0); err != nil {
			return err
		}
		f.expectations[t] = exp
	}
	return nil
}

func (f *Forest) validate() error {
	if len(f.Features) == 0 {
		return fmt.Errorf("artifact has no feature names")
	}
	if len(f.Trees) == 0 {
		return fmt.Errorf("artifact has no trees")
	}
	for t := range f.Trees {
		for i, n := range f.Trees[t].Nodes {
			if n.Feature >= len(f.Features) {
				return fmt.Errorf("tree %d node %d references feature %d of %d", t, i, n.Feature, len(f.Features))
			}
		}
	}
	return nil
}

// Classifier implements domain.Classifier over a JSON forest artifact.
//
// Load is attempted exactly once per process. A missing or corrupt artifact
// leaves the classifier permanently unavailable for this process instance;
// callers must treat a zero probability from an unavailable classifier as
// "model unavailable", not "zero risk".
type Classifier struct {
	path string

	once    sync.Once
	forest  *Forest
	loadErr error
}

// NewClassifier creates an unloaded classifier for the artifact path.
func NewClassifier(cfg domain.ModelConfig) *Classifier {
	return &Classifier{path: cfg.Path}
}

// NewFromForest wraps an in-memory forest directly. Used by tests and the
// benchmark tool.
func NewFromForest(f *Forest) (*Classifier, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if err := f.computeExpectations(); err != nil {
		return nil, err
	}
	c := &Classifier{}
	c.once.Do(func() { c.forest = f })
	return c, nil
}

// Load reads and validates the artifact. Safe to race: concurrent callers
// converge on the same loaded-or-unavailable state. The returned error is
// informational; the classifier simply stays unavailable on failure.
func (c *Classifier) Load() error {
	c.once.Do(func() {
		data, err := os.ReadFile(c.path)
		if err != nil {
			c.loadErr = fmt.Errorf("read model artifact: %w", err)
			return
		}

		var f Forest
		if err := json.Unmarshal(data, &f); err != nil {
			c.loadErr = fmt.Errorf("parse model artifact: %w", err)
			return
		}
		if err := f.validate(); err != nil {
			c.loadErr = fmt.Errorf("invalid model artifact: %w", err)
			return
		}
		if err := f.computeExpectations(); err != nil {
			c.loadErr = fmt.Errorf("invalid model artifact: %w", err)
			return
		}

		c.forest = &f
	})
	return c.loadErr
}

// Available reports whether the artifact loaded successfully.
func (c *Classifier) Available() bool {
	return c.forest != nil
}

// FeatureNames returns the canonical training feature order, or nil when
// the model is unavailable.
func (c *Classifier) FeatureNames() []string {
	if c.forest == nil {
		return nil
	}
	return c.forest.Features
}

// PredictProbability returns the risky-class probability for a feature
// vector in FeatureNames order. In degraded mode it returns 0 with no
// error; inference problems map to the degraded return as well.
func (c *Classifier) PredictProbability(features []float64) (float64, error) {
	if c.forest == nil {
		return 0, nil
	}
	if len(features) != len(c.forest.Features) {
		return 0, fmt.Errorf("expected %d features, got %d", len(c.forest.Features), len(features))
	}
	return c.forest.Predict(features), nil
}

// Forest exposes the loaded ensemble for the attribution engine. Nil when
// unavailable.
func (c *Classifier) Forest() *Forest {
	return c.forest
}

// Vector builds the canonical feature vector for a sanitized record using
// the artifact's own feature-name list. Names the artifact knows but the
// record cannot supply resolve to 0, matching the training-side default.
func (c *Classifier) Vector(rec *domain.FinancialRecord, feat domain.EngineeredFeatures) []float64 {
	names := c.FeatureNames()
	x := make([]float64, len(names))
	for i, name := range names {
		x[i] = featureValue(name, rec, feat)
	}
	return x
}

func featureValue(name string, rec *domain.FinancialRecord, feat domain.EngineeredFeatures) float64 {
	switch name {
	case "Annual_Salary":
		return rec.AnnualSalary
	case "Total_Deductions":
		return feat.TotalDeductions
	case "Taxable_Income":
		return math.Max(0, rec.AnnualSalary-(feat.TotalDeductions+tax.StandardDeduction))
	case "Rent_Paid":
		return rec.RentPaid
	case "Investment_80C":
		return rec.Investment80C
	case "Medical_Insurance_80D":
		return rec.MedicalInsurance80D
	case "NPS_Contribution_80CCD":
		return rec.NPSContribution80CCD
	case "Home_Loan_Interest_24b":
		return rec.HomeLoanInterest24B
	case "Donations_80G":
		return rec.Donations80G
	case "Groceries":
		return rec.Groceries
	case "Utilities":
		return rec.Utilities
	case "Entertainment":
		return rec.Entertainment
	case "Healthcare":
		return rec.Healthcare
	case "Deduction_Ratio":
		return feat.DeductionRatio
	case "Donation_Ratio":
		return feat.DonationRatio
	case "Rent_Ratio":
		return feat.RentRatio
	case "Expense_Ratio":
		return feat.ExpenseRatio
	default:
		return 0
	}
}
