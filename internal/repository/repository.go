// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRecord stores a financial record with tenant isolation.
func (r *SQLRepository) SaveRecord(ctx context.Context, tenantID string, rec *domain.FinancialRecord) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		INSERT INTO records (
			id, tenant_id, tax_year, annual_salary, investment_80c,
			medical_insurance_80d, nps_contribution_80ccd, home_loan_interest_24b,
			donations_80g, rent_paid, groceries, utilities, healthcare,
			entertainment, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rec.ID, tenantID, rec.TaxYear,
		rec.AnnualSalary, rec.Investment80C,
		rec.MedicalInsurance80D, rec.NPSContribution80CCD, rec.HomeLoanInterest24B,
		rec.Donations80G, rec.RentPaid,
		rec.Groceries, rec.Utilities, rec.Healthcare, rec.Entertainment,
		rec.CreatedAt,
	)
	return err
}

// GetRecord retrieves a financial record by ID with tenant isolation.
func (r *SQLRepository) GetRecord(ctx context.Context, tenantID string, recordID string) (*domain.FinancialRecord, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, tax_year, annual_salary, investment_80c,
			   medical_insurance_80d, nps_contribution_80ccd, home_loan_interest_24b,
			   donations_80g, rent_paid, groceries, utilities, healthcare,
			   entertainment, created_at
		FROM records
		WHERE tenant_id = ? AND id = ?
	`

	var rec domain.FinancialRecord

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, recordID).Scan(
		&rec.ID, &rec.TenantID, &rec.TaxYear,
		&rec.AnnualSalary, &rec.Investment80C,
		&rec.MedicalInsurance80D, &rec.NPSContribution80CCD, &rec.HomeLoanInterest24B,
		&rec.Donations80G, &rec.RentPaid,
		&rec.Groceries, &rec.Utilities, &rec.Healthcare, &rec.Entertainment,
		&rec.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// SaveAssessment stores an assessment result with tenant isolation.
func (r *SQLRepository) SaveAssessment(ctx context.Context, tenantID string, a *domain.Assessment) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	flags, _ := json.Marshal(a.Flags)
	explanation, _ := json.Marshal(a.Explanation)
	features, _ := json.Marshal(a.Features)
	inputNotes, _ := json.Marshal(a.InputNotes)
	metadata, _ := json.Marshal(a.Metadata)

	modelAvailable := 0
	if a.ModelAvailable {
		modelAvailable = 1
	}

	query := `
		INSERT INTO assessments (
			id, tenant_id, record_id, risk_score, risk_level,
			rule_score, model_score, model_available,
			flags, explanation, features, narrative, input_notes,
			timestamp, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, tenantID, a.RecordID, a.RiskScore, a.RiskLevel,
		a.RuleScore, a.ModelScore, modelAvailable,
		string(flags), string(explanation), string(features), a.Narrative, string(inputNotes),
		a.Timestamp, string(metadata),
	)
	return err
}

// GetAssessment retrieves an assessment by ID with tenant isolation.
func (r *SQLRepository) GetAssessment(ctx context.Context, tenantID string, assessmentID string) (*domain.Assessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, record_id, risk_score, risk_level,
			   rule_score, model_score, model_available,
			   flags, explanation, features, narrative, input_notes,
			   timestamp, metadata
		FROM assessments
		WHERE tenant_id = ? AND id = ?
	`

	row := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, assessmentID)
	a, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListAssessmentsByTaxYear retrieves assessments whose underlying record
// belongs to the given tax year, newest first.
func (r *SQLRepository) ListAssessmentsByTaxYear(ctx context.Context, tenantID string, taxYear string) ([]*domain.Assessment, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT a.id, a.tenant_id, a.record_id, a.risk_score, a.risk_level,
			   a.rule_score, a.model_score, a.model_available,
			   a.flags, a.explanation, a.features, a.narrative, a.input_notes,
			   a.timestamp, a.metadata
		FROM assessments a
		JOIN records r ON r.tenant_id = a.tenant_id AND r.id = a.record_id
		WHERE a.tenant_id = ? AND r.tax_year = ?
		ORDER BY a.timestamp DESC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, taxYear)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assessments []*domain.Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, err
		}
		assessments = append(assessments, a)
	}

	return assessments, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAssessment(row rowScanner) (*domain.Assessment, error) {
	var a domain.Assessment
	var flags, explanation, features, inputNotes, metadata string
	var modelAvailable int

	err := row.Scan(
		&a.ID, &a.TenantID, &a.RecordID, &a.RiskScore, &a.RiskLevel,
		&a.RuleScore, &a.ModelScore, &modelAvailable,
		&flags, &explanation, &features, &a.Narrative, &inputNotes,
		&a.Timestamp, &metadata,
	)
	if err != nil {
		return nil, err
	}

	a.ModelAvailable = modelAvailable == 1
	json.Unmarshal([]byte(flags), &a.Flags)
	json.Unmarshal([]byte(explanation), &a.Explanation)
	json.Unmarshal([]byte(features), &a.Features)
	json.Unmarshal([]byte(inputNotes), &a.InputNotes)
	json.Unmarshal([]byte(metadata), &a.Metadata)

	return &a, nil
}

// SaveCustomRule stores a custom rule configuration with tenant isolation.
func (r *SQLRepository) SaveCustomRule(ctx context.Context, tenantID string, rule *domain.CustomRuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO custom_rules (
			id, tenant_id, name, description, version, expression, message, score_delta, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			message = excluded.message,
			score_delta = excluded.score_delta,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		rule.Version, rule.Expression, rule.Message, rule.ScoreDelta, enabled,
		now, now,
	)
	return err
}

// GetCustomRule retrieves a custom rule configuration with tenant isolation.
func (r *SQLRepository) GetCustomRule(ctx context.Context, tenantID string, ruleID string) (*domain.CustomRuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, message, score_delta, enabled
		FROM custom_rules
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	var cfg domain.CustomRuleConfig
	var enabled int

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID).Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &cfg.Message, &cfg.ScoreDelta, &enabled,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	cfg.Enabled = enabled == 1

	return &cfg, nil
}

// ListCustomRules retrieves all active custom rules for a tenant.
func (r *SQLRepository) ListCustomRules(ctx context.Context, tenantID string) ([]*domain.CustomRuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, message, score_delta, enabled
		FROM custom_rules
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.CustomRuleConfig
	for rows.Next() {
		var cfg domain.CustomRuleConfig
		var enabled int

		if err := rows.Scan(
			&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
			&cfg.Version, &cfg.Expression, &cfg.Message, &cfg.ScoreDelta, &enabled,
		); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
