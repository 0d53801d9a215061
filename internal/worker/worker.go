// Package worker provides async record processing for the Pro tier.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/assess"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// Worker processes submitted records asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	repo     domain.Repository
	analyzer *assess.Analyzer

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = all via wildcard if supported)
	TenantIDs []string

	// WorkerCount is the number of concurrent workers per tenant
	WorkerCount int
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, analyzer *assess.Analyzer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		repo:     repo,
		analyzer: analyzer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
	)

	return nil
}

// startGlobalWorker starts a worker that processes all tenants (for testing/dev).
func (w *Worker) startGlobalWorker() error {
	// Subscribe using a special "global" tenant ID
	// In production, you'd want to subscribe with wildcards or JetStream
	sub, err := w.bus.Subscribe(w.ctx, "_global", domain.TopicRecordSubmitted, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker starts workers for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	// Subscribe to the record submitted topic
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicRecordSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.processRecord(ctx, tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicRecordSubmitted,
	)

	return nil
}

// handleMessage handles messages from global subscription.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	return w.processRecord(ctx, msg.TenantID, msg)
}

// RecordMessage is the message payload for async record analysis.
type RecordMessage struct {
	TenantID string                  `json:"tenantId"`
	TraceID  string                  `json:"traceId"`
	Record   *domain.FinancialRecord `json:"record"`
}

// processRecord runs the full analysis pipeline for a submitted record.
func (w *Worker) processRecord(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	// Parse message
	var recMsg RecordMessage
	if err := json.Unmarshal(msg.Payload, &recMsg); err != nil {
		slog.Error("failed to parse record message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}
	if recMsg.Record == nil {
		slog.Error("record message has no record", "message_id", msg.ID)
		return nil
	}

	// Use message tenant if provided
	if recMsg.TenantID != "" {
		tenantID = recMsg.TenantID
	}

	traceID := recMsg.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing record",
		"record_id", recMsg.Record.ID,
		"tenant_id", tenantID,
		"trace_id", traceID,
	)

	// 1. Run the analysis pipeline
	assessment := w.analyzer.Analyze(ctx, tenantID, traceID, recMsg.Record)

	// 2. Persist the record and assessment
	if w.repo != nil {
		if err := w.repo.SaveRecord(ctx, tenantID, recMsg.Record); err != nil {
			slog.Error("failed to save record",
				"record_id", recMsg.Record.ID,
				"error", err,
			)
		}
		if err := w.repo.SaveAssessment(ctx, tenantID, assessment); err != nil {
			slog.Error("failed to save assessment",
				"assessment_id", assessment.ID,
				"error", err,
			)
		}
	}

	// 3. Publish the completed assessment
	resultPayload, _ := json.Marshal(assessment)
	if err := w.bus.Publish(ctx, tenantID, domain.TopicAssessmentCompleted, resultPayload); err != nil {
		slog.Error("failed to publish assessment",
			"assessment_id", assessment.ID,
			"error", err,
		)
	}

	// 4. High risk returns also go to the alert topic
	if assessment.RiskLevel == domain.RiskLevelHigh {
		if err := w.bus.Publish(ctx, tenantID, domain.TopicHighRiskAlert, resultPayload); err != nil {
			slog.Error("failed to publish high risk alert",
				"assessment_id", assessment.ID,
				"error", err,
			)
		}
	}

	slog.Info("record processed",
		"record_id", recMsg.Record.ID,
		"tenant_id", tenantID,
		"risk_score", assessment.RiskScore,
		"risk_level", assessment.RiskLevel,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop gracefully stops all workers.
func (w *Worker) Stop() error {
	w.cancel()

	// Unsubscribe all
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	slog.Info("workers stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
