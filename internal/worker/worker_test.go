package worker

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/assess"
	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/model"
)

func testAnalyzer(t *testing.T) *assess.Analyzer {
	t.Helper()
	clf := model.NewClassifier(domain.ModelConfig{Path: "/nonexistent/model.json"})
	clf.Load()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return assess.NewAnalyzer(nil, clf, logger)
}

func TestWorker(t *testing.T) {
	// Create channel bus
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	analyzer := testAnalyzer(t)

	worker := NewWorker(eventBus, nil, analyzer)

	t.Run("StartAndStop", func(t *testing.T) {
		cfg := Config{
			TenantIDs:   []string{"tenant-001"},
			WorkerCount: 1,
		}

		err := worker.Start(cfg)
		if err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := worker.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}

		err = worker.Stop()
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = worker.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessRecord", func(t *testing.T) {
		// Create fresh worker for this test
		w := NewWorker(eventBus, nil, analyzer)

		cfg := Config{
			TenantIDs: []string{"tenant-test"},
		}
		w.Start(cfg)
		defer w.Stop()

		// Track completed assessments
		var completedReceived atomic.Bool
		var completedPayload []byte

		eventBus.Subscribe(context.Background(), "tenant-test", domain.TopicAssessmentCompleted, func(ctx context.Context, msg *domain.Message) error {
			completedPayload = msg.Payload
			completedReceived.Store(true)
			return nil
		})

		// Allow subscriptions to be active
		time.Sleep(50 * time.Millisecond)

		// Publish a record
		recMsg := RecordMessage{
			TenantID: "tenant-test",
			TraceID:  "trace-001",
			Record: &domain.FinancialRecord{
				ID:            "rec-001",
				AnnualSalary:  1200000,
				Investment80C: 150000,
			},
		}

		payload, _ := json.Marshal(recMsg)
		err := eventBus.Publish(context.Background(), "tenant-test", domain.TopicRecordSubmitted, payload)
		if err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		// Wait for processing
		time.Sleep(100 * time.Millisecond)

		if !completedReceived.Load() {
			t.Error("expected completed assessment to be published")
		}

		if completedPayload != nil {
			var a domain.Assessment
			if err := json.Unmarshal(completedPayload, &a); err != nil {
				t.Fatalf("failed to parse assessment: %v", err)
			}

			if a.RecordID != "rec-001" {
				t.Errorf("expected recordID 'rec-001', got '%s'", a.RecordID)
			}
			if a.TenantID != "tenant-test" {
				t.Errorf("expected tenantID 'tenant-test', got '%s'", a.TenantID)
			}
			if a.Metadata.TraceID != "trace-001" {
				t.Errorf("expected traceID 'trace-001', got '%s'", a.Metadata.TraceID)
			}
			if a.RiskLevel != domain.RiskLevelLow {
				t.Errorf("expected LOW for a clean record, got %s", a.RiskLevel)
			}
		}
	})

	t.Run("AlertPublished", func(t *testing.T) {
		// Analyzer whose model always predicts maximum risk, so an
		// aggressive return crosses the HIGH threshold.
		clf, err := model.NewFromForest(&model.Forest{
			Features: []string{"Annual_Salary"},
			Trees: []model.Tree{
				{Nodes: []model.Node{{Feature: -1, Value: 1.0, Samples: 100}}},
			},
		})
		if err != nil {
			t.Fatalf("failed to build classifier: %v", err)
		}
		logger := slog.New(slog.NewTextHandler(io.Discard, nil))
		riskyAnalyzer := assess.NewAnalyzer(nil, clf, logger)

		w := NewWorker(eventBus, nil, riskyAnalyzer)

		cfg := Config{
			TenantIDs: []string{"tenant-alert"},
		}
		w.Start(cfg)
		defer w.Stop()

		// Track alerts
		var alertReceived atomic.Bool

		eventBus.Subscribe(context.Background(), "tenant-alert", domain.TopicHighRiskAlert, func(ctx context.Context, msg *domain.Message) error {
			alertReceived.Store(true)
			return nil
		})

		time.Sleep(50 * time.Millisecond)

		// Rule score caps at 40 and the model adds 60: HIGH.
		recMsg := RecordMessage{
			TenantID: "tenant-alert",
			Record: &domain.FinancialRecord{
				ID:            "rec-alert",
				AnnualSalary:  300000,
				Investment80C: 500000,
				Donations80G:  200000,
			},
		}

		payload, _ := json.Marshal(recMsg)
		eventBus.Publish(context.Background(), "tenant-alert", domain.TopicRecordSubmitted, payload)

		time.Sleep(100 * time.Millisecond)

		if !alertReceived.Load() {
			t.Error("expected high-risk alert to be published")
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, nil, analyzer)

		cfg := Config{
			TenantIDs: []string{"tenant-a", "tenant-b"},
		}
		w.Start(cfg)
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}

func TestRecordMessageParsing(t *testing.T) {
	msg := RecordMessage{
		TenantID: "tenant-001",
		TraceID:  "trace-456",
		Record: &domain.FinancialRecord{
			ID:            "rec-123",
			TaxYear:       "2025-26",
			AnnualSalary:  950000,
			Investment80C: 120000,
			RentPaid:      240000,
		},
	}

	// Marshal and unmarshal
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var parsed RecordMessage
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if parsed.Record == nil {
		t.Fatal("expected record to survive the round trip")
	}
	if parsed.Record.ID != msg.Record.ID {
		t.Errorf("expected ID '%s', got '%s'", msg.Record.ID, parsed.Record.ID)
	}
	if parsed.Record.AnnualSalary != msg.Record.AnnualSalary {
		t.Errorf("expected AnnualSalary %.2f, got %.2f", msg.Record.AnnualSalary, parsed.Record.AnnualSalary)
	}
	if parsed.TraceID != msg.TraceID {
		t.Errorf("expected TraceID '%s', got '%s'", msg.TraceID, parsed.TraceID)
	}
}
