package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/maltedev/competitor-price-scraper/internal/models"
	"github.com/maltedev/competitor-price-scraper/internal/sites"
)

// ErrCompetitorBusy is returned when a batch for the competitor is already
// running. Checkpoints have a single writer per competitor.
var ErrCompetitorBusy = errors.New("a batch for this competitor is already running")

type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// Job is one competitor batch run.
type Job struct {
	ID            string               `json:"id"`
	CompetitorID  string               `json:"competitor_id"`
	Status        Status               `json:"status"`
	TotalProducts int                  `json:"total_products"`
	BatchID       string               `json:"batch_id,omitempty"`
	OutputPath    string               `json:"output_path,omitempty"`
	Summary       *models.BatchSummary `json:"summary,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	StartedAt     *time.Time           `json:"started_at,omitempty"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
	Error         string               `json:"error,omitempty"`
}

// Runner scrapes a catalog against one competitor.
type Runner interface {
	ScrapeProducts(ctx context.Context, items []models.CatalogItem) ([]models.ScrapingResult, *models.BatchSummary, error)
}

// RunnerFactory builds a fresh Runner, with its own browser session,
// limiter and checkpoint store, for one competitor.
type RunnerFactory func(site sites.SiteConfig) (Runner, error)

type OutputWriter interface {
	Write(out *models.BatchOutput) (string, error)
}

type BatchPublisher interface {
	PublishBatchCompleted(ctx context.Context, out *models.BatchOutput) error
}

type Manager struct {
	newRunner RunnerFactory
	writer    OutputWriter
	publisher BatchPublisher
	parallel  int
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.RWMutex
	jobs    map[string]*Job
	ids     []string
	running map[string]string // competitor id -> job id
	wg      sync.WaitGroup
}

// NewManager wires the batch pipeline. publisher may be nil when results are
// not persisted.
func NewManager(newRunner RunnerFactory, writer OutputWriter, publisher BatchPublisher, parallel int, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if parallel < 1 {
		parallel = 1
	}
	return &Manager{
		newRunner: newRunner,
		writer:    writer,
		publisher: publisher,
		parallel:  parallel,
		logger:    logger.With("component", "job_manager"),
		now:       time.Now,
		jobs:      make(map[string]*Job),
		running:   make(map[string]string),
	}
}

// RunAll scrapes items against every competitor, at most parallel at a time.
// A failing competitor does not stop the others; the returned error joins
// every failure. A competitor listed twice, or already running, gets a failed
// job with ErrCompetitorBusy.
func (m *Manager) RunAll(ctx context.Context, competitors []sites.SiteConfig, items []models.CatalogItem) ([]Job, error) {
	jobs := make([]*Job, len(competitors))
	errs := make([]error, len(competitors))
	reserved := make([]bool, len(competitors))

	for i, site := range competitors {
		jobs[i] = m.createJob(site.ID, len(items))
		if err := m.reserve(site.ID, jobs[i].ID); err != nil {
			m.finish(jobs[i], StatusFailed, err)
			errs[i] = fmt.Errorf("competitor %s: %w", site.ID, err)
			continue
		}
		reserved[i] = true
	}

	var g errgroup.Group
	g.SetLimit(m.parallel)

	for i, site := range competitors {
		if !reserved[i] {
			continue
		}
		g.Go(func() error {
			defer m.release(site.ID)
			errs[i] = m.run(ctx, jobs[i], site, items)
			return nil
		})
	}
	_ = g.Wait()

	snapshot := make([]Job, len(jobs))
	for i, job := range jobs {
		snapshot[i] = m.snapshot(job)
	}
	return snapshot, errors.Join(errs...)
}

// Run scrapes items against a single competitor. It fails with
// ErrCompetitorBusy, without recording a job, while another batch for the
// same competitor is running.
func (m *Manager) Run(ctx context.Context, site sites.SiteConfig, items []models.CatalogItem) (Job, error) {
	job, err := m.reserveJob(site, len(items))
	if err != nil {
		return Job{}, err
	}
	defer m.release(site.ID)

	err = m.run(ctx, job, site, items)
	return m.snapshot(job), err
}

// Start runs a single competitor batch in the background and returns the
// pending job, or ErrCompetitorBusy. Wait blocks until every started run has
// returned.
func (m *Manager) Start(ctx context.Context, site sites.SiteConfig, items []models.CatalogItem) (Job, error) {
	job, err := m.reserveJob(site, len(items))
	if err != nil {
		return Job{}, err
	}
	snapshot := m.snapshot(job)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.release(site.ID)
		if err := m.run(ctx, job, site, items); err != nil {
			m.logger.Error("background job failed", "id", job.ID, "error", err)
		}
	}()
	return snapshot, nil
}

func (m *Manager) Wait() {
	m.wg.Wait()
}

// Running returns the id of the job currently scraping competitorID.
func (m *Manager) Running(competitorID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.running[competitorID]
	return id, ok
}

func (m *Manager) reserveJob(site sites.SiteConfig, total int) (*Job, error) {
	if err := m.reserve(site.ID, ""); err != nil {
		holder, _ := m.Running(site.ID)
		m.logger.Warn("rejected concurrent batch", "competitor", site.ID, "running_job", holder)
		return nil, fmt.Errorf("competitor %s: %w", site.ID, err)
	}

	job := m.createJob(site.ID, total)
	m.mu.Lock()
	m.running[site.ID] = job.ID
	m.mu.Unlock()
	return job, nil
}

func (m *Manager) reserve(competitorID, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, busy := m.running[competitorID]; busy {
		return ErrCompetitorBusy
	}
	m.running[competitorID] = jobID
	return nil
}

func (m *Manager) release(competitorID string) {
	m.mu.Lock()
	delete(m.running, competitorID)
	m.mu.Unlock()
}

func (m *Manager) createJob(competitorID string, total int) *Job {
	job := &Job{
		ID:            uuid.New().String(),
		CompetitorID:  competitorID,
		Status:        StatusPending,
		TotalProducts: total,
		CreatedAt:     m.now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.ids = append(m.ids, job.ID)
	m.mu.Unlock()

	m.logger.Info("job created", "id", job.ID, "competitor", competitorID, "products", total)
	return job
}

func (m *Manager) run(ctx context.Context, job *Job, site sites.SiteConfig, items []models.CatalogItem) error {
	if err := ctx.Err(); err != nil {
		m.finish(job, StatusInterrupted, err)
		return fmt.Errorf("competitor %s: %w", site.ID, err)
	}

	m.update(job, func(j *Job) {
		now := m.now()
		j.Status = StatusRunning
		j.StartedAt = &now
	})
	logger := m.logger.With("job_id", job.ID, "competitor", site.ID)
	logger.Info("processing job")

	runner, err := m.newRunner(site)
	if err != nil {
		m.finish(job, StatusFailed, err)
		return fmt.Errorf("competitor %s: failed to build scraper: %w", site.ID, err)
	}

	results, summary, err := runner.ScrapeProducts(ctx, items)
	if summary != nil {
		m.update(job, func(j *Job) { j.Summary = summary })
	}
	if err != nil {
		status := StatusFailed
		if ctx.Err() != nil {
			status = StatusInterrupted
		}
		logger.Error("job stopped", "status", status, "error", err)
		m.finish(job, status, err)
		return fmt.Errorf("competitor %s: %w", site.ID, err)
	}

	out := models.NewBatchOutput(uuid.New().String(), site.DisplayName(), summary, results)
	m.update(job, func(j *Job) { j.BatchID = out.BatchID })

	if m.writer != nil {
		path, err := m.writer.Write(out)
		if err != nil {
			m.finish(job, StatusFailed, err)
			return fmt.Errorf("competitor %s: %w", site.ID, err)
		}
		m.update(job, func(j *Job) { j.OutputPath = path })
	}

	if m.publisher != nil {
		if err := m.publisher.PublishBatchCompleted(ctx, out); err != nil {
			m.finish(job, StatusFailed, err)
			return fmt.Errorf("competitor %s: %w", site.ID, err)
		}
	}

	m.finish(job, StatusCompleted, nil)
	logger.Info("job completed", "batch_id", out.BatchID, "found", out.ProductsFound, "total", out.TotalProducts)
	return nil
}

func (m *Manager) finish(job *Job, status Status, err error) {
	m.update(job, func(j *Job) {
		now := m.now()
		j.Status = status
		j.CompletedAt = &now
		if err != nil {
			j.Error = err.Error()
		}
	})
}

func (m *Manager) update(job *Job, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(job)
}

func (m *Manager) snapshot(job *Job) Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *job
}

// Get returns a copy of the job with the given id.
func (m *Manager) Get(id string) (Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// List returns copies of all jobs, newest first.
func (m *Manager) List() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Job, 0, len(m.ids))
	for i := len(m.ids) - 1; i >= 0; i-- {
		out = append(out, *m.jobs[m.ids[i]])
	}
	return out
}
