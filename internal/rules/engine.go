// Package rules provides the builtin statutory risk checks and the CEL-Go
// based custom rule engine.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine evaluates tenant-configured CEL rules on top of the builtin
// checks. Custom findings append after the builtins, in rule-ID order, and
// feed the same additive-then-clamp rule score.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.CustomRuleConfig
	Program cel.Program
}

// NewEngine creates a new custom rule engine.
func NewEngine() (*Engine, error) {
	// CEL environment exposing the record fields and derived ratios
	env, err := cel.NewEnv(
		cel.Variable("annual_salary", cel.DoubleType),
		cel.Variable("investment_80c", cel.DoubleType),
		cel.Variable("medical_insurance_80d", cel.DoubleType),
		cel.Variable("nps_contribution_80ccd", cel.DoubleType),
		cel.Variable("home_loan_interest_24b", cel.DoubleType),
		cel.Variable("donations_80g", cel.DoubleType),
		cel.Variable("rent_paid", cel.DoubleType),
		cel.Variable("groceries", cel.DoubleType),
		cel.Variable("utilities", cel.DoubleType),
		cel.Variable("healthcare", cel.DoubleType),
		cel.Variable("entertainment", cel.DoubleType),
		cel.Variable("deduction_ratio", cel.DoubleType),
		cel.Variable("donation_ratio", cel.DoubleType),
		cel.Variable("rent_ratio", cel.DoubleType),
		cel.Variable("expense_ratio", cel.DoubleType),
		cel.Variable("total_deductions", cel.DoubleType),
		cel.Variable("total_expenses", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.CustomRuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(cfg *domain.CustomRuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(cfg)
	if err != nil {
		return err
	}

	e.compiledRules[cfg.ID] = compiled

	return nil
}

// LoadRules compiles and loads multiple rules.
func (e *Engine) LoadRules(configs []*domain.CustomRuleConfig) error {
	for _, cfg := range configs {
		if cfg.Enabled {
			if err := e.LoadRule(cfg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Evaluate runs all loaded custom rules against a sanitized record and its
// features. Rules evaluate in ascending rule-ID order so finding order is
// reproducible. A rule whose expression errors is skipped: custom rules are
// advisory and must never fail the analysis.
func (e *Engine) Evaluate(ctx context.Context, rec *domain.FinancialRecord, feat domain.EngineeredFeatures) ([]domain.RuleFinding, int) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, 0
	}

	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Config.ID < rules[j].Config.ID
	})

	activation := map[string]any{
		"annual_salary":          rec.AnnualSalary,
		"investment_80c":         rec.Investment80C,
		"medical_insurance_80d":  rec.MedicalInsurance80D,
		"nps_contribution_80ccd": rec.NPSContribution80CCD,
		"home_loan_interest_24b": rec.HomeLoanInterest24B,
		"donations_80g":          rec.Donations80G,
		"rent_paid":              rec.RentPaid,
		"groceries":              rec.Groceries,
		"utilities":              rec.Utilities,
		"healthcare":             rec.Healthcare,
		"entertainment":          rec.Entertainment,
		"deduction_ratio":        feat.DeductionRatio,
		"donation_ratio":         feat.DonationRatio,
		"rent_ratio":             feat.RentRatio,
		"expense_ratio":          feat.ExpenseRatio,
		"total_deductions":       feat.TotalDeductions,
		"total_expenses":         feat.TotalExpenses,
	}

	var findings []domain.RuleFinding
	sum := 0

	for _, rule := range rules {
		out, _, err := rule.Program.Eval(activation)
		if err != nil {
			continue
		}
		triggered, ok := out.(types.Bool)
		if !ok || !bool(triggered) {
			continue
		}

		msg := rule.Config.Message
		if msg == "" {
			msg = rule.Config.Name
		}
		findings = append(findings, domain.RuleFinding{
			Code:       "custom:" + rule.Config.ID,
			Message:    msg,
			ScoreDelta: rule.Config.ScoreDelta,
		})
		sum += rule.Config.ScoreDelta
	}

	return findings, sum
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// This enables hot-reloading of rules from the database.
func (e *Engine) ReloadRules(configs []*domain.CustomRuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		newRules[cfg.ID] = compiled
	}

	e.compiledRules = newRules

	return nil
}

// GetLoadedRules returns the currently loaded rule configurations.
func (e *Engine) GetLoadedRules() []*domain.CustomRuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.CustomRuleConfig, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(cfg *domain.CustomRuleConfig) (*CompiledRule, error) {
	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}
