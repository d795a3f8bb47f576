package config

import (
	"errors"
	"fmt"
	"strings"
)

// ExtensionMode selects which files the scanner yields
type ExtensionMode string

const (
	// ExtensionAll yields every regular file
	ExtensionAll ExtensionMode = "all"
	// ExtensionAllDCM yields files ending in .dcm, case-insensitively
	ExtensionAllDCM ExtensionMode = "all_dcm"
	// ExtensionDCM yields files ending in exactly .dcm
	ExtensionDCM ExtensionMode = "dcm"
	// ExtensionNone yields files without any extension
	ExtensionNone ExtensionMode = "no_ext"
)

// ParseExtensionMode validates a mode string
func ParseExtensionMode(s string) (ExtensionMode, error) {
	switch m := ExtensionMode(strings.TrimSpace(s)); m {
	case ExtensionAll, ExtensionAllDCM, ExtensionDCM, ExtensionNone:
		return m, nil
	default:
		return "", fmt.Errorf("unknown extension mode %q", s)
	}
}

// ExtractionConfig is the per-job extraction configuration. Only the
// adaptive batching fields may change during a run, and only while the job
// is paused.
type ExtractionConfig struct {
	CohortID      string          `yaml:"cohort_id" json:"cohort_id" env:"DICOMINGEST_COHORT_ID"`
	CohortName    string          `yaml:"cohort_name" json:"cohort_name" env:"DICOMINGEST_COHORT_NAME"`
	RawRoot       string          `yaml:"raw_root" json:"raw_root" env:"DICOMINGEST_RAW_ROOT"`
	MaxWorkers    int             `yaml:"max_workers" json:"max_workers" env:"DICOMINGEST_MAX_WORKERS"`
	BatchSize     int             `yaml:"batch_size" json:"batch_size" env:"DICOMINGEST_BATCH_SIZE" default:"100"`
	QueueSize     int             `yaml:"queue_size" json:"queue_size" env:"DICOMINGEST_QUEUE_SIZE" default:"10"`
	ExtensionMode ExtensionMode   `yaml:"extension_mode" json:"extension_mode" env:"DICOMINGEST_EXTENSION_MODE" default:"all_dcm"`
	Resume        *ResumeInstance `yaml:"resume_instance,omitempty" json:"resume_instance,omitempty"`

	AdaptiveBatchingEnabled bool `yaml:"adaptive_batching_enabled" json:"adaptive_batching_enabled" env:"DICOMINGEST_ADAPTIVE_BATCHING" default:"true"`
	TargetTxMs              int  `yaml:"target_tx_ms" json:"target_tx_ms" env:"DICOMINGEST_TARGET_TX_MS" default:"500"`
	MinBatchSize            int  `yaml:"min_batch_size" json:"min_batch_size" env:"DICOMINGEST_MIN_BATCH_SIZE" default:"10"`
	MaxBatchSize            int  `yaml:"max_batch_size" json:"max_batch_size" env:"DICOMINGEST_MAX_BATCH_SIZE" default:"1000"`

	UseProcessPool     bool `yaml:"use_process_pool" json:"use_process_pool" env:"DICOMINGEST_USE_PROCESS_POOL" default:"false"`
	ProcessPoolWorkers int  `yaml:"process_pool_workers" json:"process_pool_workers" env:"DICOMINGEST_PROCESS_POOL_WORKERS" default:"4"`
	DBWriterPoolSize   int  `yaml:"db_writer_pool_size" json:"db_writer_pool_size" env:"DICOMINGEST_DB_WRITER_POOL_SIZE" default:"4"`
}

// ResumeInstance identifies an interrupted run being continued
type ResumeInstance struct {
	JobID             string `yaml:"job_id" json:"job_id"`
	CompletedSubjects int    `yaml:"completed_subjects" json:"completed_subjects"`
}

// AdaptiveSettings is the subset of ExtractionConfig that may be patched on a
// paused job.
type AdaptiveSettings struct {
	Enabled      bool `yaml:"adaptive_batching_enabled" json:"adaptive_batching_enabled"`
	TargetTxMs   int  `yaml:"target_tx_ms" json:"target_tx_ms"`
	MinBatchSize int  `yaml:"min_batch_size" json:"min_batch_size"`
	MaxBatchSize int  `yaml:"max_batch_size" json:"max_batch_size"`
}

// Adaptive returns the adaptive batching fields
func (c ExtractionConfig) Adaptive() AdaptiveSettings {
	return AdaptiveSettings{
		Enabled:      c.AdaptiveBatchingEnabled,
		TargetTxMs:   c.TargetTxMs,
		MinBatchSize: c.MinBatchSize,
		MaxBatchSize: c.MaxBatchSize,
	}
}

// WithAdaptive returns a copy of c carrying the given adaptive fields
func (c ExtractionConfig) WithAdaptive(a AdaptiveSettings) ExtractionConfig {
	c.AdaptiveBatchingEnabled = a.Enabled
	c.TargetTxMs = a.TargetTxMs
	c.MinBatchSize = a.MinBatchSize
	c.MaxBatchSize = a.MaxBatchSize
	return c
}

// FieldError describes one rejected configuration field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ValidationResult is the outcome of validating a configuration
type ValidationResult struct {
	Errors []FieldError `json:"errors,omitempty"`
}

// OK reports whether no field was rejected
func (r ValidationResult) OK() bool {
	return len(r.Errors) == 0
}

// Err joins the field errors, or returns nil when valid
func (r ValidationResult) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, len(r.Errors))
	for i, fe := range r.Errors {
		errs[i] = fe
	}
	return errors.Join(errs...)
}

func (r *ValidationResult) add(field, format string, args ...any) {
	r.Errors = append(r.Errors, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *ValidationResult) merge(other ValidationResult) {
	r.Errors = append(r.Errors, other.Errors...)
}

// Validate checks the whole configuration
func Validate(cfg *Config) ValidationResult {
	var result ValidationResult

	if cfg.Database.Type != "sqlite" && cfg.Database.Type != "postgres" {
		result.add("database.type", "unsupported database type %q", cfg.Database.Type)
	}
	if cfg.Database.MaxBindParams < 0 {
		result.add("database.max_bind_params", "must not be negative")
	}
	if cfg.Database.RowParamOverhead < 0 {
		result.add("database.row_param_overhead", "must not be negative")
	}
	if cfg.ResumeIndex.Threshold < 1 {
		result.add("resume_index.threshold", "must be at least 1")
	}
	if cfg.ResumeIndex.ErrorRate <= 0 || cfg.ResumeIndex.ErrorRate >= 1 {
		result.add("resume_index.error_rate", "must be between 0 and 1 exclusive")
	}
	if cfg.Subjects.CSVPath != "" && (cfg.Subjects.IDColumn == "" || cfg.Subjects.CodeColumn == "") {
		result.add("subjects", "id_column and code_column are required with csv_path")
	}

	result.merge(ValidateExtraction(cfg.Extraction))
	return result
}

// ValidateExtraction checks an ExtractionConfig before any work starts.
// MaxWorkers of zero selects the logical CPU count.
func ValidateExtraction(c ExtractionConfig) ValidationResult {
	var result ValidationResult

	if strings.TrimSpace(c.CohortID) == "" {
		result.add("cohort_id", "is required")
	}
	if strings.TrimSpace(c.RawRoot) == "" {
		result.add("raw_root", "is required")
	}
	if c.MaxWorkers < 0 {
		result.add("max_workers", "must not be negative")
	}
	if c.BatchSize < 1 {
		result.add("batch_size", "must be at least 1")
	}
	if c.QueueSize < 1 {
		result.add("queue_size", "must be at least 1")
	}
	if _, err := ParseExtensionMode(string(c.ExtensionMode)); err != nil {
		result.add("extension_mode", "%v", err)
	}
	if c.Resume != nil && c.Resume.CompletedSubjects < 0 {
		result.add("resume_instance.completed_subjects", "must not be negative")
	}
	if c.UseProcessPool && c.ProcessPoolWorkers < 1 {
		result.add("process_pool_workers", "must be at least 1 when use_process_pool is set")
	}
	if c.DBWriterPoolSize < 1 {
		result.add("db_writer_pool_size", "must be at least 1")
	}

	result.merge(ValidateAdaptive(c.Adaptive()))
	return result
}

// ValidateAdaptive checks adaptive batching fields
func ValidateAdaptive(a AdaptiveSettings) ValidationResult {
	var result ValidationResult

	if a.MinBatchSize < 1 {
		result.add("min_batch_size", "must be at least 1")
	}
	if a.MaxBatchSize < 1 {
		result.add("max_batch_size", "must be at least 1")
	}
	if a.MinBatchSize > a.MaxBatchSize {
		result.add("min_batch_size", "must not exceed max_batch_size (%d > %d)", a.MinBatchSize, a.MaxBatchSize)
	}
	if a.Enabled && a.TargetTxMs < 1 {
		result.add("target_tx_ms", "must be at least 1 when adaptive batching is enabled")
	}

	return result
}
