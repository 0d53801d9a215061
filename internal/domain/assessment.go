package domain

import (
	"time"
)

// Risk level thresholds on the combined 0-100 score.
const (
	RiskLevelLow    = "LOW"
	RiskLevelMedium = "MEDIUM"
	RiskLevelHigh   = "HIGH"

	MediumRiskThreshold = 30
	HighRiskThreshold   = 60
)

// Score bands for the two components of the combined score.
const (
	MaxRuleScore  = 40
	MaxModelScore = 60.0
)

// RuleFinding is one (message, score delta) pair produced by a rule check.
// Findings are collected in a fixed, deterministic order: hard-limit checks
// first, ratio checks after, tenant-defined custom rules last.
type RuleFinding struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	ScoreDelta int    `json:"scoreDelta"`
}

// Contribution directions.
const (
	DirectionIncreases = "increases"
	DirectionDecreases = "decreases"
)

// FeatureContribution is one row of the model attribution.
type FeatureContribution struct {
	FeatureName   string  `json:"featureName"`
	Label         string  `json:"label"`
	ObservedValue float64 `json:"observedValue"`

	// Contribution is the signed attribution on the classifier's
	// probability scale. Negative values push the prediction down.
	Contribution float64 `json:"contribution"`
	Direction    string  `json:"direction"`

	// ImportanceShare is |contribution| normalized over the reported
	// top-N set only, not over all features. Percentages are therefore
	// relative to the visible findings, a presentation choice.
	ImportanceShare float64 `json:"importanceShare"`

	Narrative string `json:"narrative"`
}

// Explanation is the attribution result for one assessment.
// When Success is false the contributions are empty and Reason says why;
// the risk score is still valid in that case.
type Explanation struct {
	Contributions       []FeatureContribution `json:"contributions"`
	BaselineValue       float64               `json:"baselineValue"`
	TotalPositiveImpact float64               `json:"totalPositiveImpact"`
	TotalNegativeImpact float64               `json:"totalNegativeImpact"`
	Interpretation      string                `json:"interpretation"`
	Remediations        []string              `json:"remediations,omitempty"`
	Success             bool                  `json:"success"`
	Reason              string                `json:"reason,omitempty"`
}

// Assessment is the engine's output for one record.
type Assessment struct {
	ID       string `json:"id"`
	TenantID string `json:"tenantId"`
	RecordID string `json:"recordId"`

	RiskScore int    `json:"riskScore"` // 0-100
	RiskLevel string `json:"riskLevel"` // LOW | MEDIUM | HIGH

	RuleScore      int     `json:"ruleScore"`  // 0-40
	ModelScore     float64 `json:"modelScore"` // 0-60
	ModelAvailable bool    `json:"modelAvailable"`

	Flags       []RuleFinding `json:"flags"`
	Explanation Explanation   `json:"explanation"`
	Features    EngineeredFeatures `json:"features"`

	Narrative string `json:"narrative"`

	// InputNotes records any sanitization applied to the caller's input
	// (negative or non-finite amounts clamped to zero). Surfaced so the
	// clamping is an explicit design choice, not silent corruption.
	InputNotes []string `json:"inputNotes,omitempty"`

	Timestamp time.Time          `json:"timestamp"`
	Metadata  AssessmentMetadata `json:"metadata"`
}

// AssessmentMetadata carries processing information.
type AssessmentMetadata struct {
	TraceID       string `json:"traceId"`
	RulesMs       int64  `json:"rulesMs"`
	ModelMs       int64  `json:"modelMs"`
	ExplainMs     int64  `json:"explainMs"`
	TotalMs       int64  `json:"totalMs"`
	Resubmissions int64  `json:"resubmissions,omitempty"`
	EngineVersion string `json:"engineVersion"`
}

// LevelForScore maps a combined score to its risk level.
func LevelForScore(score int) string {
	switch {
	case score < MediumRiskThreshold:
		return RiskLevelLow
	case score < HighRiskThreshold:
		return RiskLevelMedium
	default:
		return RiskLevelHigh
	}
}
