package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/competitor-price-scraper/internal/checkpoint"
	"github.com/maltedev/competitor-price-scraper/internal/config"
	"github.com/maltedev/competitor-price-scraper/internal/database"
	"github.com/maltedev/competitor-price-scraper/internal/jobs"
	"github.com/maltedev/competitor-price-scraper/internal/models"
	"github.com/maltedev/competitor-price-scraper/internal/sites"
)

type MockBatchReader struct {
	mock.Mock
}

func (m *MockBatchReader) ListBatches(ctx context.Context, competitorID string, limit int) ([]database.BatchRun, error) {
	args := m.Called(ctx, competitorID, limit)
	runs, _ := args.Get(0).([]database.BatchRun)
	return runs, args.Error(1)
}

func (m *MockBatchReader) GetBatch(ctx context.Context, batchID string) (*models.BatchOutput, error) {
	args := m.Called(ctx, batchID)
	out, _ := args.Get(0).(*models.BatchOutput)
	return out, args.Error(1)
}

type MockJobRunner struct {
	mock.Mock
}

func (m *MockJobRunner) Start(ctx context.Context, site sites.SiteConfig, items []models.CatalogItem) (jobs.Job, error) {
	args := m.Called(ctx, site, items)
	return args.Get(0).(jobs.Job), args.Error(1)
}

func (m *MockJobRunner) Get(id string) (jobs.Job, bool) {
	args := m.Called(id)
	return args.Get(0).(jobs.Job), args.Bool(1)
}

func (m *MockJobRunner) List() []jobs.Job {
	return m.Called().Get(0).([]jobs.Job)
}

type stubOutbox struct {
	pending, deadLetter int64
}

func (s stubOutbox) GetPendingCount(ctx context.Context) (int64, error)    { return s.pending, nil }
func (s stubOutbox) GetDeadLetterCount(ctx context.Context) (int64, error) { return s.deadLetter, nil }

var testCompetitors = []sites.SiteConfig{
	{ID: "janitorial-depot", Name: "Janitorial Depot", BaseURL: "https://shop.example.com", Currency: "USD", RequestDelay: 2 * time.Second},
	{ID: "cleaning-warehouse", BaseURL: "https://cw.example.com"},
}

func newServer(t *testing.T, d Deps) http.Handler {
	t.Helper()
	if d.Competitors == nil {
		d.Competitors = testCompetitors
	}
	return NewRouter(NewHandlers(d), config.ServerConfig{})
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		outbox     OutboxStats
		wantCode   int
		wantStatus string
	}{
		{name: "no outbox", wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "healthy outbox", outbox: stubOutbox{pending: 3}, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "backlog", outbox: stubOutbox{pending: 1001}, wantCode: http.StatusOK, wantStatus: "warning"},
		{name: "dead letters", outbox: stubOutbox{deadLetter: 101}, wantCode: http.StatusServiceUnavailable, wantStatus: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newServer(t, Deps{Outbox: tt.outbox}), http.MethodGet, "/health", "")
			assert.Equal(t, tt.wantCode, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantStatus, body["status"])
			if tt.outbox == nil {
				assert.NotContains(t, body, "outbox")
			}
		})
	}
}

func TestListCompetitors(t *testing.T) {
	rec := do(t, newServer(t, Deps{}), http.MethodGet, "/api/v1/competitors", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got []CompetitorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "janitorial-depot", got[0].ID)
	assert.Equal(t, "2s", got[0].RequestDelay)
	assert.Equal(t, "cleaning-warehouse", got[1].Name, "name falls back to id")
}

func TestCheckpointEndpoints(t *testing.T) {
	factory := checkpoint.NewFactory(checkpoint.Config{Backend: checkpoint.BackendFile, Dir: t.TempDir()}, nil, nil)
	srv := newServer(t, Deps{Checkpoints: factory})

	rec := do(t, srv, http.MethodGet, "/api/v1/competitors/janitorial-depot/checkpoint", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	store, err := factory("janitorial-depot")
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), &models.Checkpoint{
		CompetitorID:              "janitorial-depot",
		LastProcessedProductIndex: 9,
		LastProcessedSKU:          "ACMMH60",
		TotalProducts:             40,
		SuccessCount:              7,
		NotFoundCount:             3,
		Timestamp:                 time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Results:                   make([]models.ScrapingResult, 10),
	}))

	rec = do(t, srv, http.MethodGet, "/api/v1/competitors/janitorial-depot/checkpoint", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got CheckpointResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 9, got.LastProcessedProductIndex)
	assert.Equal(t, "ACMMH60", got.LastProcessedSKU)
	assert.Equal(t, 10, got.ResultCount)
	assert.NotContains(t, rec.Body.String(), `"results"`)

	rec = do(t, srv, http.MethodDelete, "/api/v1/competitors/janitorial-depot/checkpoint", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	cp, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cp)

	rec = do(t, srv, http.MethodGet, "/api/v1/competitors/unknown/checkpoint", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckpoint_NotConfigured(t *testing.T) {
	rec := do(t, newServer(t, Deps{}), http.MethodGet, "/api/v1/competitors/janitorial-depot/checkpoint", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestListBatches(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		competitor string
		limit      int
		runs       []database.BatchRun
		err        error
		wantCode   int
	}{
		{name: "default limit", target: "/api/v1/batches", limit: 50, runs: []database.BatchRun{{BatchID: "b1"}}, wantCode: http.StatusOK},
		{name: "filtered", target: "/api/v1/batches?competitor=janitorial-depot&limit=5", competitor: "janitorial-depot", limit: 5, wantCode: http.StatusOK},
		{name: "bad limit", target: "/api/v1/batches?limit=abc", wantCode: http.StatusBadRequest},
		{name: "limit too large", target: "/api/v1/batches?limit=5000", wantCode: http.StatusBadRequest},
		{name: "store error", target: "/api/v1/batches", limit: 50, err: errors.New("connection refused"), wantCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reader := new(MockBatchReader)
			if tt.limit > 0 {
				reader.On("ListBatches", mock.Anything, tt.competitor, tt.limit).Return(tt.runs, tt.err)
			}

			rec := do(t, newServer(t, Deps{Batches: reader}), http.MethodGet, tt.target, "")
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusOK {
				var got []database.BatchRun
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.NotNil(t, got, "empty list encodes as []")
				assert.Len(t, got, len(tt.runs))
			}
			reader.AssertExpectations(t)
		})
	}
}

func TestGetBatch(t *testing.T) {
	reader := new(MockBatchReader)
	reader.On("GetBatch", mock.Anything, "b1").Return(&models.BatchOutput{BatchID: "b1", CompetitorID: "janitorial-depot"}, nil)
	reader.On("GetBatch", mock.Anything, "missing").Return(nil, database.ErrBatchNotFound)

	srv := newServer(t, Deps{Batches: reader})

	rec := do(t, srv, http.MethodGet, "/api/v1/batches/b1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"batch_id":"b1"`)

	rec = do(t, srv, http.MethodGet, "/api/v1/batches/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, newServer(t, Deps{}), http.MethodGet, "/api/v1/batches/b1", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateJob(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{name: "invalid json", body: `{`, wantCode: http.StatusBadRequest},
		{name: "no items", body: `{"competitor_id":"janitorial-depot","items":[]}`, wantCode: http.StatusBadRequest},
		{name: "item without sku", body: `{"competitor_id":"janitorial-depot","items":[{"name":"Mop"}]}`, wantCode: http.StatusBadRequest},
		{name: "unknown competitor", body: `{"competitor_id":"nope","items":[{"sku_original":"A1","name":"Mop"}]}`, wantCode: http.StatusNotFound},
		{name: "accepted", body: `{"competitor_id":"janitorial-depot","items":[{"sku_original":"ACM-MH60","name":"Mop Handle"}]}`, wantCode: http.StatusAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := new(MockJobRunner)
			runner.On("Start", mock.Anything, mock.MatchedBy(func(s sites.SiteConfig) bool {
				return s.ID == "janitorial-depot"
			}), mock.MatchedBy(func(items []models.CatalogItem) bool {
				return len(items) == 1 && items[0].SKUCleaned == "ACMMH60"
			})).Return(jobs.Job{ID: "job-1", Status: jobs.StatusPending}, nil).Maybe()

			rec := do(t, newServer(t, Deps{Jobs: runner}), http.MethodPost, "/api/v1/jobs", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)

			if tt.wantCode == http.StatusAccepted {
				var got CreateJobResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
				assert.Equal(t, "job-1", got.JobID)
				assert.Equal(t, jobs.StatusPending, got.Status)
				runner.AssertNumberOfCalls(t, "Start", 1)
			} else {
				runner.AssertNotCalled(t, "Start", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestCreateJob_CompetitorBusy(t *testing.T) {
	runner := new(MockJobRunner)
	runner.On("Start", mock.Anything, mock.Anything, mock.Anything).
		Return(jobs.Job{}, fmt.Errorf("competitor janitorial-depot: %w", jobs.ErrCompetitorBusy))

	body := `{"competitor_id":"janitorial-depot","items":[{"sku_original":"A1","name":"Mop"}]}`
	rec := do(t, newServer(t, Deps{Jobs: runner}), http.MethodPost, "/api/v1/jobs", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already running")
}

func TestCreateJob_SecondRunConflicts(t *testing.T) {
	block := make(chan struct{})
	manager := jobs.NewManager(func(s sites.SiteConfig) (jobs.Runner, error) {
		return blockingRunner(block), nil
	}, nil, nil, 1, nil)
	srv := newServer(t, Deps{Jobs: manager})

	body := `{"competitor_id":"janitorial-depot","items":[{"sku_original":"A1","name":"Mop"}]}`
	first := do(t, srv, http.MethodPost, "/api/v1/jobs", body)
	second := do(t, srv, http.MethodPost, "/api/v1/jobs", body)

	close(block)
	manager.Wait()

	assert.Equal(t, http.StatusAccepted, first.Code)
	assert.Equal(t, http.StatusConflict, second.Code)
	assert.Len(t, manager.List(), 1)
}

// blockingRunner holds its batch open until release is closed.
type blockingRunner chan struct{}

func (r blockingRunner) ScrapeProducts(ctx context.Context, items []models.CatalogItem) ([]models.ScrapingResult, *models.BatchSummary, error) {
	<-r
	now := time.Now()
	return nil, models.Summarize("janitorial-depot", len(items), nil, now, now, 0, 0), nil
}

func TestJobQueries(t *testing.T) {
	runner := new(MockJobRunner)
	runner.On("Get", "job-1").Return(jobs.Job{ID: "job-1", Status: jobs.StatusCompleted}, true)
	runner.On("Get", "nope").Return(jobs.Job{}, false)
	runner.On("List").Return([]jobs.Job{{ID: "job-2"}, {ID: "job-1"}})

	srv := newServer(t, Deps{Jobs: runner})

	rec := do(t, srv, http.MethodGet, "/api/v1/jobs/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"completed"`)

	rec = do(t, srv, http.MethodGet, "/api/v1/jobs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "job-2", list[0].ID)
}

func TestRateLimit(t *testing.T) {
	h := NewRouter(NewHandlers(Deps{Competitors: testCompetitors}), config.ServerConfig{RateLimit: 0.001, RateBurst: 2})

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodGet, "/api/v1/competitors", "")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/api/v1/competitors", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code, "health is not rate limited")
}
