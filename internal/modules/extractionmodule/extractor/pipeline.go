package extractor

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/dicomingest/internal/config"
	"github.com/mantonx/dicomingest/internal/dicom"
	ingesterrors "github.com/mantonx/dicomingest/internal/errors"
	"github.com/mantonx/dicomingest/internal/utils"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// OpenFunc opens a file for attribute reads
type OpenFunc func(path string) (dicom.FieldReader, error)

// OpenDICOM opens path with the DICOM parser, skipping pixel data
func OpenDICOM(path string) (dicom.FieldReader, error) {
	return dicom.Open(path)
}

// RunStatus is the terminal state of a pipeline run
type RunStatus string

const (
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// PipelineDeps are the collaborators of a pipeline outside ExtractionConfig
type PipelineDeps struct {
	JobID       string
	DB          *gorm.DB
	Database    config.DatabaseConfig
	Subjects    config.SubjectsConfig
	ResumeIndex config.ResumeIndexConfig
	Telemetry   config.TelemetryConfig
	Control     *JobControl
	Instruments *Instruments
	Logger      hclog.Logger

	// Open defaults to OpenDICOM
	Open OpenFunc
	// OnProgress receives monotonic completion percentages
	OnProgress func(int)
}

// RunResult summarizes a finished run
type RunResult struct {
	JobID             string          `json:"job_id"`
	Status            RunStatus       `json:"status"`
	Subjects          int             `json:"subjects"`
	SubjectsCompleted int             `json:"subjects_completed"`
	FilesSeen         int64           `json:"files_seen"`
	ResumedPaths      int             `json:"resumed_paths"`
	Metrics           MetricsSnapshot `json:"metrics"`
	Duration          time.Duration   `json:"duration"`
}

// queueItem is one batch of one subject. last marks the subject's final
// item, which may carry no payloads.
type queueItem struct {
	subjectKey string
	payloads   []InstancePayload
	last       bool
}

// Pipeline runs one extraction job: workers scan and parse subject folders
// in parallel and a single writer persists their batches.
type Pipeline struct {
	deps PipelineDeps

	mu  sync.Mutex
	cfg config.ExtractionConfig

	workers    int
	index      *ResumeIndex
	controller *BatchSizeController
	metrics    *WriterMetrics
	progress   *ProgressTracker
	scanner    *Scanner
	logger     hclog.Logger

	queue     chan queueItem
	completed atomic.Int64
}

// NewPipeline validates cfg and prepares a pipeline. Nothing touches the
// filesystem or the store until Run.
func NewPipeline(deps PipelineDeps, cfg config.ExtractionConfig) (*Pipeline, error) {
	if result := config.ValidateExtraction(cfg); !result.OK() {
		return nil, ingesterrors.NewInvalidConfigError(result.Errors, result.Err())
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("pipeline requires a database")
	}
	if deps.Logger == nil {
		deps.Logger = hclog.NewNullLogger()
	}
	if deps.Control == nil {
		deps.Control = NewJobControl()
	}
	if deps.Open == nil {
		deps.Open = OpenDICOM
	}
	if deps.JobID == "" {
		deps.JobID = utils.GenerateUUID()
	}

	logger := deps.Logger.Named("pipeline").With("job", deps.JobID, "cohort", cfg.CohortID)

	workers := cfg.MaxWorkers
	if workers == 0 {
		workers = DefaultWorkerCount(context.Background())
	}

	return &Pipeline{
		deps:       deps,
		cfg:        cfg,
		workers:    workers,
		index:      NewResumeIndex(deps.ResumeIndex.Threshold, deps.ResumeIndex.ErrorRate),
		controller: NewBatchSizeController(BatchSettingsFromConfig(cfg)),
		metrics:    NewWriterMetrics(deps.JobID, deps.Instruments),
		progress:   NewProgressTracker(deps.OnProgress),
		scanner:    NewScanner(cfg.ExtensionMode, logger),
		logger:     logger,
	}, nil
}

// JobID returns the job identifier
func (p *Pipeline) JobID() string { return p.deps.JobID }

// Control returns the job control
func (p *Pipeline) Control() *JobControl { return p.deps.Control }

// Metrics returns a snapshot of the writer metrics
func (p *Pipeline) Metrics() MetricsSnapshot { return p.metrics.Snapshot() }

// Progress returns the progress tracker state
func (p *Pipeline) Progress() ProgressSnapshot { return p.progress.Snapshot() }

// BatchSize returns the batch size workers currently use
func (p *Pipeline) BatchSize() int { return p.controller.Current() }

// Config returns the current extraction config
func (p *Pipeline) Config() config.ExtractionConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// UpdateAdaptive replaces the adaptive batching fields. The job must be
// paused; ErrJobNotPaused is returned otherwise.
func (p *Pipeline) UpdateAdaptive(a config.AdaptiveSettings) error {
	if result := config.ValidateAdaptive(a); !result.OK() {
		return ingesterrors.NewInvalidConfigError(result.Errors, result.Err())
	}

	return p.deps.Control.WhilePaused(func() error {
		p.mu.Lock()
		p.cfg = p.cfg.WithAdaptive(a)
		settings := BatchSettingsFromConfig(p.cfg)
		p.mu.Unlock()

		p.controller.Reconfigure(settings)
		p.logger.Info("adaptive batching updated",
			"enabled", a.Enabled,
			"target_tx_ms", a.TargetTxMs,
			"min_batch_size", a.MinBatchSize,
			"max_batch_size", a.MaxBatchSize)
		return nil
	})
}

// Run executes the job to completion, failure or cancellation. The returned
// result is always non-nil once setup has succeeded.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	cfg := p.Config()

	resolver, err := p.buildResolver()
	if err != nil {
		return nil, err
	}

	folders, err := ListSubjectFolders(cfg.RawRoot)
	if err != nil {
		return nil, err
	}
	total := len(folders)

	result := &RunResult{JobID: p.deps.JobID, Subjects: total}

	if cfg.Resume != nil {
		n, err := RebuildResumeIndex(ctx, p.deps.DB, cfg.CohortID, p.index)
		if err != nil {
			return nil, ingesterrors.NewDatabaseError("rebuild resume index", err)
		}
		result.ResumedPaths = n
		p.logger.Info("resuming job",
			"previous_job", cfg.Resume.JobID,
			"completed_subjects", cfg.Resume.CompletedSubjects,
			"indexed_paths", n)
		p.progress.Update(cfg.Resume.CompletedSubjects, total)
	}

	writer, err := NewWriter(p.deps.DB, WriterOptions{
		CohortID: cfg.CohortID,
		Budget: ParameterBudget{
			MaxParams:   p.deps.Database.BindParamCeiling(),
			RowOverhead: p.deps.Database.RowParamOverhead,
		},
		Index:      p.index,
		Controller: p.controller,
		Metrics:    p.metrics,
		Control:    p.deps.Control,
		Logger:     p.logger,
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("starting extraction",
		"subjects", total,
		"workers", p.workers,
		"batch_size", p.controller.Current(),
		"safe_batch_rows", writer.SafeRows(),
		"csv_overrides", resolver.Overrides())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-p.deps.Control.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	p.queue = make(chan queueItem, cfg.QueueSize)
	p.completed.Store(0)

	writeErr := make(chan error, 1)
	go func() {
		err := p.drain(runCtx, writer, total)
		if err != nil {
			cancel()
		}
		writeErr <- err
	}()

	go p.reportTelemetry(runCtx)

	g, gctx := errgroup.WithContext(runCtx)
	g.SetLimit(p.workers)
	for _, folder := range folders {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return p.processSubject(gctx, folder, resolver)
		})
	}
	workerErr := g.Wait()
	close(p.queue)
	wErr := <-writeErr

	result.SubjectsCompleted = int(p.completed.Load())
	result.FilesSeen = p.scanner.Yielded()
	result.Metrics = p.metrics.Snapshot()
	result.Duration = time.Since(start)

	switch {
	case p.deps.Control.State() == JobStateCancelled:
		result.Status = RunCancelled
		err = ErrJobCancelled
	case wErr != nil && !isCancellation(wErr):
		result.Status = RunFailed
		err = wErr
	case workerErr != nil:
		result.Status = RunCancelled
		err = workerErr
	case ctx.Err() != nil:
		result.Status = RunCancelled
		err = ctx.Err()
	default:
		result.Status = RunCompleted
		p.progress.Finalize()
	}

	p.logger.Info("extraction finished",
		"status", result.Status,
		"subjects_completed", result.SubjectsCompleted,
		"instances", result.Metrics.Instances,
		"files_skipped", result.Metrics.FilesSkipped,
		"files_failed", result.Metrics.FilesFailed,
		"duration", result.Duration)
	return result, err
}

func isCancellation(err error) bool {
	return errors.Is(err, ErrJobCancelled) || errors.Is(err, context.Canceled)
}

func (p *Pipeline) buildResolver() (*SubjectResolver, error) {
	s := p.deps.Subjects
	if s.CSVPath == "" {
		return NewSubjectResolver(s.Seed, nil), nil
	}

	overrides, err := LoadSubjectCodeCSVFile(s.CSVPath, s.IDColumn, s.CodeColumn)
	if err != nil {
		return nil, ingesterrors.NewSubjectMapError(s.CSVPath, err)
	}
	p.logger.Info("loaded subject code overrides", "path", s.CSVPath, "count", len(overrides))
	return NewSubjectResolver(s.Seed, overrides), nil
}

// drain is the writer loop. It stops at the first write error; the failed
// chunk has already been rolled back.
func (p *Pipeline) drain(ctx context.Context, writer *Writer, total int) error {
	for item := range p.queue {
		if len(item.payloads) > 0 {
			if err := writer.WriteBatch(ctx, item.payloads); err != nil {
				if !isCancellation(err) {
					p.logger.Error("write failed, stopping job", "subject", item.subjectKey, "error", err)
				}
				return err
			}
		}
		if item.last {
			n := p.completed.Add(1)
			p.progress.Update(int(n), total)
		}
	}
	return nil
}

// processSubject scans, parses and enqueues one subject folder
func (p *Pipeline) processSubject(ctx context.Context, folder SubjectFolder, resolver *SubjectResolver) error {
	logger := p.logger.With("subject", folder.SubjectKey)
	logger.Debug("processing subject")

	size := p.controller.Current()
	batch := make([]InstancePayload, 0, size)
	pushed := 0

	for payload := range p.payloads(ctx, folder, resolver) {
		batch = append(batch, payload)
		if len(batch) < size {
			continue
		}
		if err := p.push(ctx, queueItem{subjectKey: folder.SubjectKey, payloads: batch}); err != nil {
			return err
		}
		pushed += len(batch)
		size = p.controller.Current()
		batch = make([]InstancePayload, 0, size)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	pushed += len(batch)
	if err := p.push(ctx, queueItem{subjectKey: folder.SubjectKey, payloads: batch, last: true}); err != nil {
		return err
	}
	logger.Debug("subject enqueued", "payloads", pushed)
	return nil
}

// push blocks while the job is paused or the queue is full
func (p *Pipeline) push(ctx context.Context, item queueItem) error {
	if err := p.deps.Control.Wait(ctx); err != nil {
		return err
	}
	select {
	case p.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// candidates yields the files of folder not yet recorded in the resume index
func (p *Pipeline) candidates(ctx context.Context, folder SubjectFolder) iter.Seq[string] {
	return func(yield func(string) bool) {
		for path := range p.scanner.Files(ctx, folder.Path) {
			remainder, err := utils.RelativeSlashPath(folder.Path, path)
			if err != nil {
				p.metrics.FileFailed()
				continue
			}
			if p.index.ShouldSkip(folder.SubjectKey, remainder) {
				p.metrics.FileSkipped()
				continue
			}
			if !yield(path) {
				return
			}
		}
	}
}

// payloads parses the candidate files of folder, in parallel when a parser
// pool is configured
func (p *Pipeline) payloads(ctx context.Context, folder SubjectFolder, resolver *SubjectResolver) iter.Seq[InstancePayload] {
	cfg := p.Config()
	if !cfg.UseProcessPool || cfg.ProcessPoolWorkers <= 1 {
		return func(yield func(InstancePayload) bool) {
			for path := range p.candidates(ctx, folder) {
				payload, ok := p.parse(folder, path, resolver)
				if ok && !yield(payload) {
					return
				}
			}
		}
	}
	return p.parallelPayloads(ctx, folder, resolver, cfg.ProcessPoolWorkers)
}

func (p *Pipeline) parallelPayloads(ctx context.Context, folder SubjectFolder, resolver *SubjectResolver, parsers int) iter.Seq[InstancePayload] {
	return func(yield func(InstancePayload) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		results := make(chan InstancePayload, parsers)
		go func() {
			defer close(results)
			var g errgroup.Group
			g.SetLimit(parsers)
			for path := range p.candidates(ctx, folder) {
				g.Go(func() error {
					payload, ok := p.parse(folder, path, resolver)
					if !ok {
						return nil
					}
					select {
					case results <- payload:
					case <-ctx.Done():
					}
					return nil
				})
			}
			_ = g.Wait()
		}()

		for payload := range results {
			if !yield(payload) {
				cancel()
				for range results {
				}
				return
			}
		}
	}
}

// parse opens one file and builds its payload. Unreadable files and files
// without instance UIDs are counted and skipped.
func (p *Pipeline) parse(folder SubjectFolder, path string, resolver *SubjectResolver) (InstancePayload, bool) {
	remainder, err := utils.RelativeSlashPath(folder.Path, path)
	if err != nil {
		p.metrics.FileFailed()
		return InstancePayload{}, false
	}

	reader, err := p.deps.Open(path)
	if err != nil {
		p.metrics.FileFailed()
		p.logger.Warn("skipping unparseable file", "path", path, "error", err)
		return InstancePayload{}, false
	}

	payload, err := BuildPayload(reader, resolver, folder.SubjectKey, folder.SubjectKey+"/"+remainder)
	if err != nil {
		p.metrics.FileFailed()
		p.logger.Warn("skipping file", "path", path, "error", err)
		return InstancePayload{}, false
	}
	return payload, true
}

// reportTelemetry logs queue depth, batch size and host load every
// telemetry interval
func (p *Pipeline) reportTelemetry(ctx context.Context) {
	interval := p.deps.Telemetry.Interval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		fields := []interface{}{
			"queue_depth", len(p.queue),
			"queue_capacity", cap(p.queue),
			"batch_size", p.controller.Current(),
			"subjects_completed", p.completed.Load(),
			"instances", p.metrics.Snapshot().Instances,
		}
		if stats, err := SampleSystem(ctx); err == nil {
			fields = append(fields,
				"cpu_percent", stats.CPUPercent,
				"memory_percent", stats.MemoryPercent,
				"goroutines", stats.Goroutines)
		} else {
			p.logger.Debug("system sample failed", "error", err)
		}
		p.logger.Info("pipeline telemetry", fields...)
	}
}
