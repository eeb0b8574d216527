package database

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/competitor-price-scraper/internal/models"
)

func testBatchOutput() *models.BatchOutput {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &models.BatchOutput{
		BatchID:          uuid.NewString(),
		CompetitorID:     "janitorial-depot",
		CompetitorName:   "Janitorial Depot",
		StartedAt:        ts,
		CompletedAt:      ts.Add(time.Minute),
		TotalProducts:    2,
		ProductsScraped:  2,
		ProductsFound:    1,
		ProductsNotFound: 1,
		MatchTypeCounts:  map[models.MatchType]int{models.MatchTypeSKU: 1},
		Results: []models.ScrapingResult{
			{
				SKU:          "ACMMH60",
				CompetitorID: "janitorial-depot",
				Found:        true,
				MatchType:    models.MatchTypeSKU,
				Price:        models.Float(24.99),
				Currency:     "USD",
				URL:          "https://shop.example.com/p/1",
				Timestamp:    ts,
			},
			{
				SKU:          "BKT9",
				CompetitorID: "janitorial-depot",
				MatchType:    models.MatchTypeNone,
				Timestamp:    ts,
			},
		},
	}
}

func TestBatchRepository_SaveWithTx(t *testing.T) {
	tx := &recordingExec{}
	repo := &BatchRepository{outbox: &OutboxRepository{}}
	out := testBatchOutput()

	event := &OutboxEvent{
		AggregateType: "competitor_batch",
		AggregateID:   out.CompetitorID,
		EventType:     "COMPETITOR_BATCH_COMPLETED",
		Payload:       json.RawMessage(`{}`),
	}

	require.NoError(t, repo.saveWithTx(context.Background(), tx, out, []*OutboxEvent{event}))

	// run, two results, one outbox event
	require.Len(t, tx.calls, 4)
	assert.Contains(t, tx.calls[0].sql, "INSERT INTO batch_runs")
	assert.Equal(t, uuid.MustParse(out.BatchID), tx.calls[0].args[0])
	assert.JSONEq(t, `{"sku":1}`, string(tx.calls[0].args[10].([]byte)))

	found := tx.calls[1]
	assert.Contains(t, found.sql, "INSERT INTO scraping_results")
	assert.Equal(t, 0, found.args[1])
	assert.Equal(t, "sku", found.args[5])
	assert.Equal(t, out.Results[0].Price, found.args[6])

	missing := tx.calls[2]
	assert.Equal(t, 1, missing.args[1])
	assert.Nil(t, missing.args[6].(*float64))
	assert.Nil(t, missing.args[8].(*string), "empty url is stored as NULL")

	assert.Contains(t, tx.calls[3].sql, "INSERT INTO outbox_event")
}

func TestBatchRepository_SaveWithTx_InvalidBatchID(t *testing.T) {
	tx := &recordingExec{}
	out := testBatchOutput()
	out.BatchID = "not-a-uuid"

	err := (&BatchRepository{outbox: &OutboxRepository{}}).saveWithTx(context.Background(), tx, out, nil)
	require.Error(t, err)
	assert.Empty(t, tx.calls)
}

func TestBatchRepository_SaveWithTx_StopsOnResultError(t *testing.T) {
	execErr := errors.New("value too long")
	tx := &recordingExec{failAt: 3, err: execErr}
	out := testBatchOutput()

	err := (&BatchRepository{outbox: &OutboxRepository{}}).saveWithTx(context.Background(), tx, out, []*OutboxEvent{{Payload: json.RawMessage(`{}`)}})
	assert.ErrorIs(t, err, execErr)
	assert.Contains(t, err.Error(), "BKT9")
	assert.Len(t, tx.calls, 3, "outbox event is not written after a failed result")
}

func TestBatchRepository_Integration(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewBatchRepository(db)
	out := testBatchOutput()
	out.CompetitorID = "integration-" + uuid.NewString()

	require.NoError(t, repo.SaveBatch(ctx, out))

	runs, err := repo.ListBatches(ctx, out.CompetitorID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, out.BatchID, runs[0].BatchID)
	assert.Equal(t, 1, runs[0].MatchTypeCounts[models.MatchTypeSKU])

	got, err := repo.GetBatch(ctx, out.BatchID)
	require.NoError(t, err)
	require.Len(t, got.Results, 2)
	assert.Equal(t, "ACMMH60", got.Results[0].SKU)
	require.NotNil(t, got.Results[0].Price)
	assert.InDelta(t, 24.99, *got.Results[0].Price, 1e-9)
	assert.Nil(t, got.Results[1].Price)

	_, err = repo.GetBatch(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrBatchNotFound)
}

func TestDBConfig_DSN(t *testing.T) {
	assert.Equal(t, "postgres://u:p@localhost:5432/prices?sslmode=disable",
		Config{Host: "localhost", User: "u", Password: "p", Database: "prices"}.DSN())
	assert.Equal(t, "postgres://x", Config{URL: "postgres://x", Host: "ignored"}.DSN())
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{Host: "db"}.Enabled())
}
