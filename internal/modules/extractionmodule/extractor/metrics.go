package extractor

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsSnapshot is a point-in-time copy of the writer counters
type MetricsSnapshot struct {
	Subjects      int64 `json:"subjects"`
	Studies       int64 `json:"studies"`
	Series        int64 `json:"series"`
	Instances     int64 `json:"instances"`
	SafeBatchRows int64 `json:"safe_batch_rows"`
	Transactions  int64 `json:"transactions"`
	FilesSkipped  int64 `json:"files_skipped"`
	FilesFailed   int64 `json:"files_failed"`
}

// Instruments are the prometheus series shared by every job in a process
type Instruments struct {
	entities   *prometheus.CounterVec
	files      *prometheus.CounterVec
	txDuration *prometheus.HistogramVec
	batchSize  *prometheus.GaugeVec
	safeRows   *prometheus.GaugeVec
}

// NewInstruments registers the extraction series with reg
func NewInstruments(reg prometheus.Registerer) *Instruments {
	factory := promauto.With(reg)
	return &Instruments{
		entities: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dicomingest_entities_inserted_total",
				Help: "Entities newly inserted into the metadata store",
			},
			[]string{"job", "entity"},
		),
		files: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dicomingest_files_total",
				Help: "Files seen by workers, by outcome",
			},
			[]string{"job", "outcome"},
		),
		txDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dicomingest_write_transaction_seconds",
				Help:    "Duration of committed write transactions",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
			},
			[]string{"job"},
		),
		batchSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dicomingest_batch_size",
				Help: "Current adaptive batch size",
			},
			[]string{"job"},
		),
		safeRows: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "dicomingest_safe_batch_rows",
				Help: "Rows per statement allowed by the bind parameter ceiling",
			},
			[]string{"job"},
		),
	}
}

// WriterMetrics counts distinct newly inserted entities for one job.
// Counters only move after a successful commit.
type WriterMetrics struct {
	jobID       string
	instruments *Instruments

	subjects      atomic.Int64
	studies       atomic.Int64
	series        atomic.Int64
	instances     atomic.Int64
	safeBatchRows atomic.Int64
	transactions  atomic.Int64
	filesSkipped  atomic.Int64
	filesFailed   atomic.Int64
}

// NewWriterMetrics creates metrics for jobID. instruments may be nil.
func NewWriterMetrics(jobID string, instruments *Instruments) *WriterMetrics {
	return &WriterMetrics{jobID: jobID, instruments: instruments}
}

type insertCounts struct {
	subjects, studies, series, instances int
}

func (m *WriterMetrics) recordCommit(c insertCounts, elapsed time.Duration) {
	m.subjects.Add(int64(c.subjects))
	m.studies.Add(int64(c.studies))
	m.series.Add(int64(c.series))
	m.instances.Add(int64(c.instances))
	m.transactions.Add(1)

	if m.instruments == nil {
		return
	}
	m.instruments.entities.WithLabelValues(m.jobID, "subject").Add(float64(c.subjects))
	m.instruments.entities.WithLabelValues(m.jobID, "study").Add(float64(c.studies))
	m.instruments.entities.WithLabelValues(m.jobID, "series").Add(float64(c.series))
	m.instruments.entities.WithLabelValues(m.jobID, "instance").Add(float64(c.instances))
	m.instruments.txDuration.WithLabelValues(m.jobID).Observe(elapsed.Seconds())
}

func (m *WriterMetrics) setSafeBatchRows(n int) {
	m.safeBatchRows.Store(int64(n))
	if m.instruments != nil {
		m.instruments.safeRows.WithLabelValues(m.jobID).Set(float64(n))
	}
}

func (m *WriterMetrics) setBatchSize(n int) {
	if m.instruments != nil {
		m.instruments.batchSize.WithLabelValues(m.jobID).Set(float64(n))
	}
}

// FileSkipped records a file skipped through the resume index
func (m *WriterMetrics) FileSkipped() {
	m.filesSkipped.Add(1)
	if m.instruments != nil {
		m.instruments.files.WithLabelValues(m.jobID, "skipped").Inc()
	}
}

// FileFailed records a file that could not be parsed
func (m *WriterMetrics) FileFailed() {
	m.filesFailed.Add(1)
	if m.instruments != nil {
		m.instruments.files.WithLabelValues(m.jobID, "failed").Inc()
	}
}

// Snapshot returns the current counter values
func (m *WriterMetrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Subjects:      m.subjects.Load(),
		Studies:       m.studies.Load(),
		Series:        m.series.Load(),
		Instances:     m.instances.Load(),
		SafeBatchRows: m.safeBatchRows.Load(),
		Transactions:  m.transactions.Load(),
		FilesSkipped:  m.filesSkipped.Load(),
		FilesFailed:   m.filesFailed.Load(),
	}
}
