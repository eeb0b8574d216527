package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/competitor-price-scraper/internal/models"
)

var ErrBatchNotFound = errors.New("batch not found")

// BatchRepository persists competitor batch runs and their results.
type BatchRepository struct {
	db     *DB
	outbox *OutboxRepository
}

func NewBatchRepository(db *DB) *BatchRepository {
	return &BatchRepository{db: db, outbox: NewOutboxRepository(db)}
}

// SaveBatch writes the run, every result row and the given outbox events in
// one transaction.
func (r *BatchRepository) SaveBatch(ctx context.Context, out *models.BatchOutput, events ...*OutboxEvent) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		return r.saveWithTx(ctx, tx, out, events)
	})
}

func (r *BatchRepository) saveWithTx(ctx context.Context, tx Execer, out *models.BatchOutput, events []*OutboxEvent) error {
	batchID, err := uuid.Parse(out.BatchID)
	if err != nil {
		return fmt.Errorf("invalid batch id %q: %w", out.BatchID, err)
	}

	counts, err := json.Marshal(out.MatchTypeCounts)
	if err != nil {
		return fmt.Errorf("failed to marshal match type counts: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO batch_runs (
			batch_id, competitor_id, competitor_name, started_at, completed_at,
			total_products, products_scraped, products_found, products_not_found,
			errors, match_type_counts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		batchID, out.CompetitorID, out.CompetitorName, out.StartedAt, out.CompletedAt,
		out.TotalProducts, out.ProductsScraped, out.ProductsFound, out.ProductsNotFound,
		out.Errors, counts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert batch run: %w", err)
	}

	for i := range out.Results {
		res := &out.Results[i]
		_, err := tx.Exec(ctx, `
			INSERT INTO scraping_results (
				batch_id, position, sku, competitor_id, found, match_type,
				price, currency, url, product_name, availability, confidence,
				scraped_at, error_message
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			batchID, i, res.SKU, res.CompetitorID, res.Found, string(res.MatchType),
			res.Price, nullable(res.Currency), nullable(res.URL), nullable(res.ProductName),
			nullable(res.Availability), res.Confidence, res.Timestamp, nullable(res.Error),
		)
		if err != nil {
			return fmt.Errorf("failed to insert result %d (%s): %w", i, res.SKU, err)
		}
	}

	for _, event := range events {
		if err := r.outbox.InsertWithTx(ctx, tx, event); err != nil {
			return err
		}
	}

	return nil
}

// BatchRun is a batch_runs row without its results.
type BatchRun struct {
	BatchID          string                   `json:"batch_id"`
	CompetitorID     string                   `json:"competitor_id"`
	CompetitorName   string                   `json:"competitor_name,omitempty"`
	StartedAt        time.Time                `json:"started_at"`
	CompletedAt      time.Time                `json:"completed_at"`
	TotalProducts    int                      `json:"total_products"`
	ProductsScraped  int                      `json:"products_scraped"`
	ProductsFound    int                      `json:"products_found"`
	ProductsNotFound int                      `json:"products_not_found"`
	Errors           int                      `json:"errors"`
	MatchTypeCounts  map[models.MatchType]int `json:"match_type_counts,omitempty"`
}

const batchRunColumns = `
	batch_id, competitor_id, COALESCE(competitor_name, ''), started_at, completed_at,
	total_products, products_scraped, products_found, products_not_found,
	errors, match_type_counts`

func scanBatchRun(row pgx.Row) (*BatchRun, error) {
	var (
		run    BatchRun
		id     uuid.UUID
		counts []byte
	)
	err := row.Scan(&id, &run.CompetitorID, &run.CompetitorName, &run.StartedAt, &run.CompletedAt,
		&run.TotalProducts, &run.ProductsScraped, &run.ProductsFound, &run.ProductsNotFound,
		&run.Errors, &counts)
	if err != nil {
		return nil, err
	}
	run.BatchID = id.String()
	if len(counts) > 0 {
		if err := json.Unmarshal(counts, &run.MatchTypeCounts); err != nil {
			return nil, fmt.Errorf("failed to decode match type counts: %w", err)
		}
	}
	return &run, nil
}

// ListBatches returns the most recent runs first, optionally for one competitor.
func (r *BatchRepository) ListBatches(ctx context.Context, competitorID string, limit int) ([]BatchRun, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+batchRunColumns+`
		FROM batch_runs
		WHERE $1::text = '' OR competitor_id = $1::text
		ORDER BY completed_at DESC
		LIMIT $2`, competitorID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	runs := []BatchRun{}
	for rows.Next() {
		run, err := scanBatchRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return runs, nil
}

// GetBatch loads one run with its results in catalog order.
func (r *BatchRepository) GetBatch(ctx context.Context, batchID string) (*models.BatchOutput, error) {
	id, err := uuid.Parse(batchID)
	if err != nil {
		return nil, ErrBatchNotFound
	}

	run, err := scanBatchRun(r.db.QueryRow(ctx,
		`SELECT `+batchRunColumns+` FROM batch_runs WHERE batch_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch %s: %w", batchID, err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT sku, competitor_id, found, match_type, price::float8, currency, url,
			product_name, availability, confidence, scraped_at, error_message
		FROM scraping_results
		WHERE batch_id = $1
		ORDER BY position ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get results for batch %s: %w", batchID, err)
	}
	defer rows.Close()

	results := []models.ScrapingResult{}
	for rows.Next() {
		var (
			res                                          models.ScrapingResult
			matchType                                    string
			currency, url, name, availability, errorText *string
		)
		err := rows.Scan(&res.SKU, &res.CompetitorID, &res.Found, &matchType, &res.Price,
			&currency, &url, &name, &availability, &res.Confidence, &res.Timestamp, &errorText)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		res.MatchType = models.MatchType(matchType)
		res.Currency = deref(currency)
		res.URL = deref(url)
		res.ProductName = deref(name)
		res.Availability = deref(availability)
		res.Error = deref(errorText)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return &models.BatchOutput{
		BatchID:          run.BatchID,
		CompetitorID:     run.CompetitorID,
		CompetitorName:   run.CompetitorName,
		StartedAt:        run.StartedAt,
		CompletedAt:      run.CompletedAt,
		TotalProducts:    run.TotalProducts,
		ProductsScraped:  run.ProductsScraped,
		ProductsFound:    run.ProductsFound,
		ProductsNotFound: run.ProductsNotFound,
		Errors:           run.Errors,
		MatchTypeCounts:  run.MatchTypeCounts,
		Results:          results,
	}, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
