// Package assess runs the full audit-risk analysis for one financial
// record: feature derivation, builtin and custom rule checks, model
// inference, attribution, and the combined score.
package assess

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// EngineVersion is stamped into every assessment's metadata.
const EngineVersion = "kestrel-1.0"

// LooksNormalThreshold is the combined score below which a flag-free
// return gets the reassuring finding.
const LooksNormalThreshold = 20

// Processor combines the rule and model components into the final
// assessment.
type Processor struct{}

// NewProcessor creates a processor with default settings.
func NewProcessor() *Processor {
	return &Processor{}
}

// CombineInput contains all component results needed for the final score.
type CombineInput struct {
	TenantID string
	RecordID string
	TraceID  string

	RuleScore int // already clamped to 0-40
	Findings  []domain.RuleFinding

	ModelProbability float64 // raw classifier output, 0-1
	ModelAvailable   bool

	Explanation domain.Explanation
	Features    domain.EngineeredFeatures
	InputNotes  []string

	StartTime time.Time
	RulesMs   int64
	ModelMs   int64
	ExplainMs int64
}

// Combine produces the final assessment. The combined score is
// round(ruleScore + probability*60) clamped to 0-100; when the model is
// unavailable the model component is zero and the combined score equals
// the rule score.
func (p *Processor) Combine(input *CombineInput) *domain.Assessment {
	modelScore := input.ModelProbability * domain.MaxModelScore
	if !input.ModelAvailable {
		modelScore = 0
	}

	combined := int(math.Round(float64(input.RuleScore) + modelScore))
	if combined < 0 {
		combined = 0
	}
	if combined > 100 {
		combined = 100
	}

	flags := input.Findings
	if len(flags) == 0 && combined < LooksNormalThreshold {
		flags = []domain.RuleFinding{{
			Code:       domain.RuleCodeLooksNormal,
			Message:    "Your return looks normal. No unusual patterns detected.",
			ScoreDelta: 0,
		}}
	}

	level := domain.LevelForScore(combined)

	return &domain.Assessment{
		ID:       uuid.New().String(),
		TenantID: input.TenantID,
		RecordID: input.RecordID,

		RiskScore: combined,
		RiskLevel: level,

		RuleScore:      input.RuleScore,
		ModelScore:     modelScore,
		ModelAvailable: input.ModelAvailable,

		Flags:       flags,
		Explanation: input.Explanation,
		Features:    input.Features,

		Narrative:  narrative(combined, level, flags, input.ModelAvailable),
		InputNotes: input.InputNotes,

		Timestamp: time.Now().UTC(),
		Metadata: domain.AssessmentMetadata{
			TraceID:       input.TraceID,
			RulesMs:       input.RulesMs,
			ModelMs:       input.ModelMs,
			ExplainMs:     input.ExplainMs,
			TotalMs:       time.Since(input.StartTime).Milliseconds(),
			EngineVersion: EngineVersion,
		},
	}
}

func narrative(score int, level string, flags []domain.RuleFinding, modelAvailable bool) string {
	triggered := 0
	for _, f := range flags {
		if f.ScoreDelta > 0 {
			triggered++
		}
	}

	var head string
	switch level {
	case domain.RiskLevelHigh:
		head = fmt.Sprintf("High scrutiny risk (%d/100).", score)
	case domain.RiskLevelMedium:
		head = fmt.Sprintf("Moderate scrutiny risk (%d/100).", score)
	default:
		head = fmt.Sprintf("Low scrutiny risk (%d/100).", score)
	}

	switch {
	case triggered == 1:
		head += " 1 check flagged this return."
	case triggered > 1:
		head += fmt.Sprintf(" %d checks flagged this return.", triggered)
	}

	if !modelAvailable {
		head += " Statistical model unavailable; score reflects rule checks only."
	}

	return head
}
