package extractionmodule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/dicomingest/internal/config"
	ingesterrors "github.com/mantonx/dicomingest/internal/errors"
	"github.com/mantonx/dicomingest/internal/modules/extractionmodule/extractor"
	"github.com/mantonx/dicomingest/internal/modules/modulemanager"
	"github.com/mantonx/dicomingest/internal/utils"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	// ModuleID is the unique identifier for the extraction module
	ModuleID = "system.extraction"

	// ModuleName is the display name for the extraction module
	ModuleName = "DICOM Extraction"
)

// Module runs extraction jobs and exposes their status and controls
type Module struct {
	db       *gorm.DB
	cfg      *config.Config
	logger   hclog.Logger
	registry *prometheus.Registry

	instruments *extractor.Instruments
	initOnce    sync.Once
	open        extractor.OpenFunc

	mu    sync.RWMutex
	jobs  map[string]*Job
	order []string
	wg    sync.WaitGroup
}

// Option customizes a Module
type Option func(*Module)

// WithOpenFunc replaces the DICOM file opener
func WithOpenFunc(open extractor.OpenFunc) Option {
	return func(m *Module) { m.open = open }
}

// NewModule creates the extraction module. cfg supplies the store,
// subject, resume index and telemetry settings shared by every job.
func NewModule(db *gorm.DB, cfg *config.Config, logger hclog.Logger, opts ...Option) *Module {
	m := &Module{
		db:       db,
		cfg:      cfg,
		logger:   logger.Named("extraction"),
		registry: prometheus.NewRegistry(),
		jobs:     make(map[string]*Job),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ID returns the unique module identifier
func (m *Module) ID() string { return ModuleID }

// Name returns the module display name
func (m *Module) Name() string { return ModuleName }

// Core returns whether this is a core module
func (m *Module) Core() bool { return true }

// Migrate is a no-op; the metadata schema belongs to the database module
func (m *Module) Migrate(db *gorm.DB) error { return nil }

// Init registers the job metrics
func (m *Module) Init() error {
	if m.db == nil {
		return fmt.Errorf("extraction module has no database")
	}
	m.initOnce.Do(func() {
		m.instruments = extractor.NewInstruments(m.registry)
	})
	return nil
}

// Registry returns the prometheus registry serving job metrics
func (m *Module) Registry() *prometheus.Registry { return m.registry }

// StartJob validates cfg and runs a new job in the background. ctx bounds
// the whole run, not just the call.
func (m *Module) StartJob(ctx context.Context, cfg config.ExtractionConfig) (*Job, error) {
	if err := m.Init(); err != nil {
		return nil, err
	}

	job := &Job{
		ID:        utils.GenerateUUID(),
		status:    JobStatusRunning,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	pipeline, err := extractor.NewPipeline(extractor.PipelineDeps{
		JobID:       job.ID,
		DB:          m.db,
		Database:    m.cfg.Database,
		Subjects:    m.cfg.Subjects,
		ResumeIndex: m.cfg.ResumeIndex,
		Telemetry:   m.cfg.Telemetry,
		Instruments: m.instruments,
		Logger:      m.logger,
		Open:        m.open,
		OnProgress:  job.setProgress,
	}, cfg)
	if err != nil {
		return nil, err
	}
	job.pipeline = pipeline

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.order = append(m.order, job.ID)
	m.mu.Unlock()

	m.logger.Info("extraction job started", "job", job.ID, "cohort", cfg.CohortID, "raw_root", cfg.RawRoot)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		result, err := pipeline.Run(ctx)
		job.finish(result, err)

		if err != nil {
			m.logger.Error("extraction job ended", "job", job.ID, "status", job.Status(), "error", err)
			return
		}
		m.logger.Info("extraction job completed", "job", job.ID, "duration", result.Duration)
	}()

	return job, nil
}

// Job returns a job by ID
func (m *Module) Job(id string) (*Job, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[id]
	return job, ok
}

// Jobs returns every job, oldest first
func (m *Module) Jobs() []*Job {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Job, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.jobs[id])
	}
	return out
}

// PauseJob pauses a running job between batches
func (m *Module) PauseJob(id string) error {
	job, err := m.lookup(id)
	if err != nil {
		return err
	}
	if job.Status().Terminal() || !job.pipeline.Control().Pause() {
		return ingesterrors.NewConflictError("Job is not running", nil)
	}
	job.setStatus(JobStatusPaused)
	return nil
}

// ResumeJob releases a paused job
func (m *Module) ResumeJob(id string) error {
	job, err := m.lookup(id)
	if err != nil {
		return err
	}
	if job.Status().Terminal() || !job.pipeline.Control().Resume() {
		return ingesterrors.NewConflictError("Job is not paused", extractor.ErrJobNotPaused)
	}
	job.setStatus(JobStatusRunning)
	return nil
}

// CancelJob stops a job permanently
func (m *Module) CancelJob(id string) error {
	job, err := m.lookup(id)
	if err != nil {
		return err
	}
	if job.Status().Terminal() || !job.pipeline.Control().Cancel() {
		return ingesterrors.NewConflictError("Job has already finished", nil)
	}
	return nil
}

// UpdateAdaptive patches the adaptive batching settings of a paused job
func (m *Module) UpdateAdaptive(id string, settings config.AdaptiveSettings) error {
	job, err := m.lookup(id)
	if err != nil {
		return err
	}

	err = job.pipeline.UpdateAdaptive(settings)
	if errors.Is(err, extractor.ErrJobNotPaused) {
		return ingesterrors.NewConflictError("Adaptive settings can only change while the job is paused", err)
	}
	return err
}

// Shutdown cancels running jobs and waits for them to stop
func (m *Module) Shutdown(ctx context.Context) error {
	for _, job := range m.Jobs() {
		if !job.Status().Terminal() {
			job.pipeline.Control().Cancel()
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HealthCheck reports how many jobs are active
func (m *Module) HealthCheck(ctx context.Context) modulemanager.HealthStatus {
	counts := map[JobStatus]int{}
	for _, job := range m.Jobs() {
		counts[job.Status()]++
	}

	details := make(map[string]interface{}, len(counts))
	for status, n := range counts {
		details[string(status)] = n
	}

	return modulemanager.HealthStatus{
		Status:      modulemanager.HealthStateHealthy,
		LastChecked: time.Now(),
		Details:     details,
	}
}

func (m *Module) lookup(id string) (*Job, error) {
	job, ok := m.Job(id)
	if !ok {
		return nil, ingesterrors.NewNotFoundError("Extraction job", id)
	}
	return job, nil
}

// JobStatus is the reported lifecycle state of a job
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transitions can happen
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// Job is one extraction run
type Job struct {
	ID string

	pipeline *extractor.Pipeline
	done     chan struct{}

	mu         sync.RWMutex
	status     JobStatus
	progress   int
	lastError  string
	err        error
	startedAt  time.Time
	finishedAt time.Time
	result     *extractor.RunResult
}

// JobView is the JSON form of a job
type JobView struct {
	ID         string                    `json:"id"`
	Status     JobStatus                 `json:"status"`
	Progress   int                       `json:"progress"`
	LastError  string                    `json:"last_error,omitempty"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt *time.Time                `json:"finished_at,omitempty"`
	BatchSize  int                       `json:"batch_size"`
	ETASeconds float64                   `json:"eta_seconds,omitempty"`
	Config     config.ExtractionConfig   `json:"config"`
	Metrics    extractor.MetricsSnapshot `json:"metrics"`
	Result     *extractor.RunResult      `json:"result,omitempty"`
}

// Status returns the job status
func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Progress returns the last reported percentage
func (j *Job) Progress() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.progress
}

// Metrics returns the job's writer metrics
func (j *Job) Metrics() extractor.MetricsSnapshot {
	return j.pipeline.Metrics()
}

// Done is closed when the job has finished
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the job finishes or ctx ends
func (j *Job) Wait(ctx context.Context) (*extractor.RunResult, error) {
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.result, j.err
}

// View returns a consistent snapshot for rendering
func (j *Job) View() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()

	v := JobView{
		ID:        j.ID,
		Status:    j.status,
		Progress:  j.progress,
		LastError: j.lastError,
		StartedAt: j.startedAt,
		BatchSize: j.pipeline.BatchSize(),
		Config:    j.pipeline.Config(),
		Metrics:   j.pipeline.Metrics(),
		Result:    j.result,
	}
	if !j.finishedAt.IsZero() {
		finished := j.finishedAt
		v.FinishedAt = &finished
	}
	if eta := j.pipeline.Progress().ETA; eta > 0 && !j.status.Terminal() {
		v.ETASeconds = eta.Seconds()
	}
	return v
}

func (j *Job) setProgress(pct int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.progress = pct
}

func (j *Job) setStatus(s JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.status.Terminal() {
		j.status = s
	}
}

func (j *Job) finish(result *extractor.RunResult, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.result = result
	j.finishedAt = time.Now()

	switch {
	case result != nil && result.Status == extractor.RunCompleted:
		j.status = JobStatusCompleted
	case result != nil && result.Status == extractor.RunCancelled:
		j.status = JobStatusCancelled
	case errors.Is(err, extractor.ErrJobCancelled):
		j.status = JobStatusCancelled
	default:
		j.status = JobStatusFailed
	}
	if err != nil {
		j.err = err
		j.lastError = err.Error()
	}
	close(j.done)
}
