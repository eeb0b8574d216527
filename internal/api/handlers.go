package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/maltedev/competitor-price-scraper/internal/checkpoint"
	"github.com/maltedev/competitor-price-scraper/internal/database"
	"github.com/maltedev/competitor-price-scraper/internal/jobs"
	"github.com/maltedev/competitor-price-scraper/internal/models"
	"github.com/maltedev/competitor-price-scraper/internal/sites"
)

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
	defaultBatchListLimit   = 50
	maxBatchListLimit       = 500
)

type BatchReader interface {
	ListBatches(ctx context.Context, competitorID string, limit int) ([]database.BatchRun, error)
	GetBatch(ctx context.Context, batchID string) (*models.BatchOutput, error)
}

type OutboxStats interface {
	GetPendingCount(ctx context.Context) (int64, error)
	GetDeadLetterCount(ctx context.Context) (int64, error)
}

type JobRunner interface {
	Start(ctx context.Context, site sites.SiteConfig, items []models.CatalogItem) (jobs.Job, error)
	Get(id string) (jobs.Job, bool)
	List() []jobs.Job
}

// Deps holds what the handlers read from. Batches, Outbox and Jobs are
// optional; their routes answer 503 when unset.
type Deps struct {
	// Context outlives single requests and bounds jobs started over HTTP.
	Context     context.Context
	Competitors []sites.SiteConfig
	Checkpoints checkpoint.Factory
	Batches     BatchReader
	Outbox      OutboxStats
	Jobs        JobRunner
	Logger      *slog.Logger
}

type Handlers struct {
	ctx         context.Context
	competitors map[string]sites.SiteConfig
	order       []string
	checkpoints checkpoint.Factory
	batches     BatchReader
	outbox      OutboxStats
	jobs        JobRunner
	validate    *validator.Validate
	logger      *slog.Logger
}

func NewHandlers(d Deps) *Handlers {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Context == nil {
		d.Context = context.Background()
	}
	h := &Handlers{
		ctx:         d.Context,
		competitors: make(map[string]sites.SiteConfig, len(d.Competitors)),
		checkpoints: d.Checkpoints,
		batches:     d.Batches,
		outbox:      d.Outbox,
		jobs:        d.Jobs,
		validate:    validator.New(),
		logger:      d.Logger.With("component", "api"),
	}
	for _, c := range d.Competitors {
		h.competitors[c.ID] = c
		h.order = append(h.order, c.ID)
	}
	return h
}

// Health reports liveness and, when the outbox is wired, its backlog.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pending, err := h.outbox.GetPendingCount(r.Context())
		if err != nil {
			h.logger.Error("failed to count pending outbox events", "error", err)
		}
		deadLetter, err := h.outbox.GetDeadLetterCount(r.Context())
		if err != nil {
			h.logger.Error("failed to count dead letter events", "error", err)
		}

		health["outbox"] = map[string]int64{
			"pending":     pending,
			"dead_letter": deadLetter,
		}
		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetter > deadLetterFailThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

type CompetitorResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	BaseURL      string `json:"base_url"`
	Currency     string `json:"currency,omitempty"`
	RequestDelay string `json:"request_delay"`
	ProductDelay string `json:"product_delay"`
}

func (h *Handlers) ListCompetitors(w http.ResponseWriter, r *http.Request) {
	out := make([]CompetitorResponse, 0, len(h.order))
	for _, id := range h.order {
		c := h.competitors[id]
		out = append(out, CompetitorResponse{
			ID:           c.ID,
			Name:         c.DisplayName(),
			BaseURL:      c.BaseURL,
			Currency:     c.Currency,
			RequestDelay: c.RequestDelay.String(),
			ProductDelay: c.ProductDelay.String(),
		})
	}
	h.respondJSON(w, http.StatusOK, out)
}

// CheckpointResponse is the progress view of a stored checkpoint. The
// partial results themselves are left out.
type CheckpointResponse struct {
	CompetitorID              string    `json:"competitor_id"`
	LastProcessedProductIndex int       `json:"last_processed_product_index"`
	LastProcessedSKU          string    `json:"last_processed_sku"`
	TotalProducts             int       `json:"total_products"`
	SuccessCount              int       `json:"success_count"`
	NotFoundCount             int       `json:"not_found_count"`
	ErrorCount                int       `json:"error_count"`
	ResultCount               int       `json:"result_count"`
	Timestamp                 time.Time `json:"timestamp"`
}

func (h *Handlers) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	store, ok := h.checkpointStore(w, r)
	if !ok {
		return
	}

	cp, err := store.Load(r.Context())
	if err != nil {
		h.logger.Error("failed to load checkpoint", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load checkpoint")
		return
	}
	if cp == nil {
		h.respondError(w, http.StatusNotFound, "no checkpoint")
		return
	}

	h.respondJSON(w, http.StatusOK, CheckpointResponse{
		CompetitorID:              cp.CompetitorID,
		LastProcessedProductIndex: cp.LastProcessedProductIndex,
		LastProcessedSKU:          cp.LastProcessedSKU,
		TotalProducts:             cp.TotalProducts,
		SuccessCount:              cp.SuccessCount,
		NotFoundCount:             cp.NotFoundCount,
		ErrorCount:                cp.ErrorCount,
		ResultCount:               len(cp.Results),
		Timestamp:                 cp.Timestamp,
	})
}

func (h *Handlers) ClearCheckpoint(w http.ResponseWriter, r *http.Request) {
	store, ok := h.checkpointStore(w, r)
	if !ok {
		return
	}
	if err := store.Clear(r.Context()); err != nil {
		h.logger.Error("failed to clear checkpoint", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to clear checkpoint")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) checkpointStore(w http.ResponseWriter, r *http.Request) (checkpoint.Store, bool) {
	id := chi.URLParam(r, "competitorID")
	if _, ok := h.competitors[id]; !ok {
		h.respondError(w, http.StatusNotFound, "competitor not found")
		return nil, false
	}
	if h.checkpoints == nil {
		h.respondError(w, http.StatusServiceUnavailable, "checkpoints not configured")
		return nil, false
	}
	store, err := h.checkpoints(id)
	if err != nil {
		h.logger.Error("failed to open checkpoint store", "competitor", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to open checkpoint store")
		return nil, false
	}
	return store, true
}

func (h *Handlers) ListBatches(w http.ResponseWriter, r *http.Request) {
	if h.batches == nil {
		h.respondError(w, http.StatusServiceUnavailable, "result persistence not configured")
		return
	}

	limit := defaultBatchListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxBatchListLimit {
			h.respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := h.batches.ListBatches(r.Context(), r.URL.Query().Get("competitor"), limit)
	if err != nil {
		h.logger.Error("failed to list batches", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	if runs == nil {
		runs = []database.BatchRun{}
	}
	h.respondJSON(w, http.StatusOK, runs)
}

func (h *Handlers) GetBatch(w http.ResponseWriter, r *http.Request) {
	if h.batches == nil {
		h.respondError(w, http.StatusServiceUnavailable, "result persistence not configured")
		return
	}

	out, err := h.batches.GetBatch(r.Context(), chi.URLParam(r, "batchID"))
	if errors.Is(err, database.ErrBatchNotFound) {
		h.respondError(w, http.StatusNotFound, "batch not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to get batch", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get batch")
		return
	}
	h.respondJSON(w, http.StatusOK, out)
}

// CreateJobRequest starts a scrape of items against one configured competitor.
type CreateJobRequest struct {
	CompetitorID string               `json:"competitor_id" validate:"required"`
	Items        []models.CatalogItem `json:"items" validate:"required,min=1,dive"`
}

type CreateJobResponse struct {
	JobID   string      `json:"job_id"`
	Status  jobs.Status `json:"status"`
	Message string      `json:"message"`
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "scraping not configured")
		return
	}

	var req CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	site, ok := h.competitors[req.CompetitorID]
	if !ok {
		h.respondError(w, http.StatusNotFound, "competitor not found")
		return
	}

	for i := range req.Items {
		req.Items[i].Normalize()
	}

	job, err := h.jobs.Start(h.ctx, site, req.Items)
	if errors.Is(err, jobs.ErrCompetitorBusy) {
		h.respondError(w, http.StatusConflict, "a batch for this competitor is already running")
		return
	}
	if err != nil {
		h.logger.Error("failed to start job", "competitor", site.ID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to start job")
		return
	}
	h.respondJSON(w, http.StatusAccepted, CreateJobResponse{
		JobID:   job.ID,
		Status:  job.Status,
		Message: "Job created successfully",
	})
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "scraping not configured")
		return
	}
	job, ok := h.jobs.Get(chi.URLParam(r, "jobID"))
	if !ok {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}
	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	if h.jobs == nil {
		h.respondError(w, http.StatusServiceUnavailable, "scraping not configured")
		return
	}
	h.respondJSON(w, http.StatusOK, h.jobs.List())
}

// Helper methods
func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
