package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/competitor-price-scraper/internal/database"
	"github.com/maltedev/competitor-price-scraper/internal/models"
)

type EventType string

const (
	// EventTypeCompetitorBatchCompleted is published once a competitor batch is persisted.
	EventTypeCompetitorBatchCompleted EventType = "COMPETITOR_BATCH_COMPLETED"

	AggregateCompetitorBatch = "competitor_batch"
)

// PricePoint is one found listing inside a batch event.
type PricePoint struct {
	SKU        string           `json:"sku"`
	MatchType  models.MatchType `json:"match_type"`
	Price      *float64         `json:"price,omitempty"`
	Currency   string           `json:"currency,omitempty"`
	URL        string           `json:"url"`
	Confidence *float64         `json:"confidence,omitempty"`
}

// BatchCompletedPayload represents the payload for COMPETITOR_BATCH_COMPLETED.
// Only found products are listed; the counts cover the whole batch.
type BatchCompletedPayload struct {
	EventID          string                   `json:"event_id"`
	EventType        string                   `json:"event_type"`
	Timestamp        time.Time                `json:"timestamp"`
	BatchID          string                   `json:"batch_id"`
	CompetitorID     string                   `json:"competitor_id"`
	CompetitorName   string                   `json:"competitor_name,omitempty"`
	StartedAt        time.Time                `json:"started_at"`
	CompletedAt      time.Time                `json:"completed_at"`
	TotalProducts    int                      `json:"total_products"`
	ProductsFound    int                      `json:"products_found"`
	ProductsNotFound int                      `json:"products_not_found"`
	Errors           int                      `json:"errors"`
	MatchTypeCounts  map[models.MatchType]int `json:"match_type_counts,omitempty"`
	Prices           []PricePoint             `json:"prices"`
	Source           string                   `json:"source"`
}

func NewBatchCompletedPayload(out *models.BatchOutput) *BatchCompletedPayload {
	p := &BatchCompletedPayload{
		BatchID:          out.BatchID,
		CompetitorID:     out.CompetitorID,
		CompetitorName:   out.CompetitorName,
		StartedAt:        out.StartedAt,
		CompletedAt:      out.CompletedAt,
		TotalProducts:    out.TotalProducts,
		ProductsFound:    out.ProductsFound,
		ProductsNotFound: out.ProductsNotFound,
		Errors:           out.Errors,
		MatchTypeCounts:  out.MatchTypeCounts,
		Prices:           []PricePoint{},
	}
	for _, r := range out.Results {
		if !r.Found {
			continue
		}
		p.Prices = append(p.Prices, PricePoint{
			SKU:        r.SKU,
			MatchType:  r.MatchType,
			Price:      r.Price,
			Currency:   r.Currency,
			URL:        r.URL,
			Confidence: r.Confidence,
		})
	}
	return p
}

// BatchSaver stores a batch together with its outbox events.
type BatchSaver interface {
	SaveBatch(ctx context.Context, out *models.BatchOutput, events ...*database.OutboxEvent) error
}

// Publisher persists batches and their completion event using the
// transactional outbox.
type Publisher struct {
	batches BatchSaver
	logger  *slog.Logger
	now     func() time.Time
}

func NewPublisher(batches BatchSaver, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		batches: batches,
		logger:  logger.With("component", "event_publisher"),
		now:     time.Now,
	}
}

// PublishBatchCompleted saves out and enqueues a COMPETITOR_BATCH_COMPLETED
// event in the same transaction.
func (p *Publisher) PublishBatchCompleted(ctx context.Context, out *models.BatchOutput) error {
	payload := NewBatchCompletedPayload(out)
	event, err := p.outboxEvent(payload)
	if err != nil {
		return err
	}

	if err := p.batches.SaveBatch(ctx, out, event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("batch event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"batch_id", out.BatchID,
		"competitor", out.CompetitorID,
		"outbox_id", event.ID,
	)

	return nil
}

func (p *Publisher) outboxEvent(payload *BatchCompletedPayload) (*database.OutboxEvent, error) {
	if payload.EventID == "" {
		payload.EventID = uuid.New().String()
	}
	if payload.EventType == "" {
		payload.EventType = string(EventTypeCompetitorBatchCompleted)
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = p.now()
	}
	if payload.Source == "" {
		payload.Source = "scraper"
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		AggregateType: AggregateCompetitorBatch,
		AggregateID:   payload.CompetitorID,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  database.StreamCompetitorPrices,
	}, nil
}
