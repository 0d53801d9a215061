package assess

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/explain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/model"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// Analyzer wires the pipeline stages together. It is safe for concurrent
// use: every stage is either stateless or internally synchronized.
type Analyzer struct {
	engine    *rules.Engine
	clf       *model.Classifier
	explainer *explain.Explainer
	processor *Processor
	logger    *slog.Logger
}

// NewAnalyzer creates an analyzer. The custom rule engine may be nil when
// tenant rules are disabled.
func NewAnalyzer(engine *rules.Engine, clf *model.Classifier, logger *slog.Logger) *Analyzer {
	return &Analyzer{
		engine:    engine,
		clf:       clf,
		explainer: explain.NewExplainer(clf),
		processor: NewProcessor(),
		logger:    logger,
	}
}

// Analyze runs the full pipeline for one record and returns the
// assessment. It never fails: invalid amounts are clamped and surfaced in
// InputNotes, and a missing model degrades to a rules-only score.
func (a *Analyzer) Analyze(ctx context.Context, tenantID, traceID string, rec *domain.FinancialRecord) *domain.Assessment {
	start := time.Now()

	feat, notes := features.Derive(rec)
	sanitized := features.Sanitized(rec)

	rulesStart := time.Now()
	findings, sum := rules.Evaluate(&sanitized, feat)
	if a.engine != nil {
		customFindings, customSum := a.engine.Evaluate(ctx, &sanitized, feat)
		findings = append(findings, customFindings...)
		sum += customSum
	}
	ruleScore := rules.ClampRuleScore(sum)
	rulesMs := time.Since(rulesStart).Milliseconds()

	modelStart := time.Now()
	probability := 0.0
	available := a.clf != nil && a.clf.Available()
	if available {
		x := a.clf.Vector(&sanitized, feat)
		p, err := a.clf.PredictProbability(x)
		if err != nil {
			a.logger.Warn("model inference failed, continuing rules-only",
				"tenant_id", tenantID, "trace_id", traceID, "error", err)
			available = false
		} else {
			probability = p
		}
	}
	modelMs := time.Since(modelStart).Milliseconds()

	explainStart := time.Now()
	explanation := a.explainer.Explain(&sanitized, feat)
	if available && !explanation.Success {
		a.logger.Warn("explanation unavailable",
			"tenant_id", tenantID, "trace_id", traceID, "reason", explanation.Reason)
	}
	explainMs := time.Since(explainStart).Milliseconds()

	assessment := a.processor.Combine(&CombineInput{
		TenantID:         tenantID,
		RecordID:         rec.ID,
		TraceID:          traceID,
		RuleScore:        ruleScore,
		Findings:         findings,
		ModelProbability: probability,
		ModelAvailable:   available,
		Explanation:      explanation,
		Features:         feat,
		InputNotes:       notes,
		StartTime:        start,
		RulesMs:          rulesMs,
		ModelMs:          modelMs,
		ExplainMs:        explainMs,
	})

	a.logger.Debug("assessment complete",
		"tenant_id", tenantID,
		"trace_id", traceID,
		"risk_score", assessment.RiskScore,
		"risk_level", assessment.RiskLevel,
		"rule_score", assessment.RuleScore,
		"model_available", assessment.ModelAvailable,
		"total_ms", assessment.Metadata.TotalMs)

	return assessment
}

// ModelAvailable reports whether the classifier loaded successfully.
func (a *Analyzer) ModelAvailable() bool {
	return a.clf != nil && a.clf.Available()
}
