package extractor

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/dicomingest/internal/database"
	"github.com/mantonx/dicomingest/internal/dicom"
	ingesterrors "github.com/mantonx/dicomingest/internal/errors"
	"github.com/mantonx/dicomingest/internal/modules/databasemodule"
	"github.com/mantonx/dicomingest/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WriterOptions wires a Writer to the rest of a job
type WriterOptions struct {
	CohortID   string
	Budget     ParameterBudget
	Index      *ResumeIndex
	Controller *BatchSizeController
	Metrics    *WriterMetrics
	Control    *JobControl
	Logger     hclog.Logger
}

// Writer persists payload batches. It is the only component that opens
// write transactions for a job and must be driven from a single goroutine.
type Writer struct {
	tm       *databasemodule.TransactionManager
	opts     WriterOptions
	safeRows int
	logger   hclog.Logger
	now      func() time.Time
}

// NewWriter sizes chunks from the widest written table and the bind
// parameter budget.
func NewWriter(db *gorm.DB, opts WriterOptions) (*Writer, error) {
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewWriterMetrics("", nil)
	}

	widest, err := database.WidestColumnCount(db, database.AllModels()...)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger.Named("writer")
	w := &Writer{
		tm:       databasemodule.NewTransactionManager(db, logger),
		opts:     opts,
		safeRows: opts.Budget.SafeRowLimit(widest),
		logger:   logger,
		now:      time.Now,
	}
	opts.Metrics.setSafeBatchRows(w.safeRows)

	logger.Debug("writer ready", "widest_columns", widest, "safe_batch_rows", w.safeRows)
	return w, nil
}

// SafeRows returns the maximum rows written per transaction
func (w *Writer) SafeRows() int {
	return w.safeRows
}

// TransactionStats exposes commit and rollback counts
func (w *Writer) TransactionStats() databasemodule.TransactionStats {
	return w.tm.Stats()
}

// WriteBatch writes batch in chunks of at most SafeRows payloads, one
// transaction per chunk. A failed chunk is rolled back and returned as a
// write error; earlier chunks stay committed. Pause is honoured between
// chunks only.
func (w *Writer) WriteBatch(ctx context.Context, batch []InstancePayload) error {
	for i, chunk := range PlanChunks(batch, w.safeRows) {
		if w.opts.Control != nil {
			if err := w.opts.Control.Wait(ctx); err != nil {
				return err
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		if err := w.writeChunk(ctx, i, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (w *Writer) writeChunk(ctx context.Context, index int, chunk []InstancePayload) error {
	start := time.Now()

	// a started chunk runs to commit or failure; cancellation is only
	// observed between chunks
	var counts insertCounts
	err := w.tm.WithTransaction(context.WithoutCancel(ctx), func(tx *gorm.DB) error {
		var err error
		counts, err = w.insertChunk(tx, chunk)
		return err
	})
	if err != nil {
		w.logger.Error("chunk write failed", "chunk", index, "rows", len(chunk), "error", err)
		return ingesterrors.NewWriteError(index, len(chunk), err)
	}
	elapsed := time.Since(start)

	w.opts.Metrics.recordCommit(counts, elapsed)
	if w.opts.Index != nil {
		for _, p := range chunk {
			w.opts.Index.AddRelative(p.RelPath)
		}
	}
	if w.opts.Controller != nil {
		w.opts.Metrics.setBatchSize(w.opts.Controller.Observe(elapsed))
	}

	w.logger.Trace("chunk committed",
		"chunk", index,
		"rows", len(chunk),
		"new_instances", counts.instances,
		"elapsed", elapsed)
	return nil
}

// insertChunk inserts every entity of chunk that is not yet stored, parents
// before children, and reports how many of each were new.
func (w *Writer) insertChunk(tx *gorm.DB, chunk []InstancePayload) (insertCounts, error) {
	var counts insertCounts
	now := w.now().UTC()

	subjects := newRowSet()
	for _, p := range chunk {
		subjects.add(p.SubjectCode, map[string]interface{}{
			"subject_code":      p.SubjectCode,
			"subject_key":       p.SubjectKey,
			"cohort_id":         w.opts.CohortID,
			"resolution_source": p.ResolutionSource,
			"created_at":        now,
		})
	}
	subjectIDs, n, err := ensureRows(tx, &database.Subject{}, "subject_code", subjects)
	if err != nil {
		return counts, err
	}
	counts.subjects = n

	studies := newRowSet()
	for _, p := range chunk {
		row := fieldsRow(p.Study, now)
		row["study_uid"] = p.StudyUID
		row["subject_id"] = subjectIDs[p.SubjectCode]
		studies.add(p.StudyUID, row)
	}
	studyIDs, n, err := ensureRows(tx, &database.Study{}, "study_uid", studies)
	if err != nil {
		return counts, err
	}
	counts.studies = n

	series := newRowSet()
	for _, p := range chunk {
		row := fieldsRow(p.Series, now)
		row["series_uid"] = p.SeriesUID
		row["study_id"] = studyIDs[p.StudyUID]
		row["modality"] = normalizeModality(p.Modality)
		series.add(p.SeriesUID, row)
	}
	seriesIDs, n, err := ensureRows(tx, &database.Series{}, "series_uid", series)
	if err != nil {
		return counts, err
	}
	counts.series = n

	instances := newRowSet()
	for _, p := range chunk {
		row := fieldsRow(p.Instance, now)
		row["sop_uid"] = p.SOPUID
		row["series_id"] = seriesIDs[p.SeriesUID]
		row["cohort_id"] = w.opts.CohortID
		row["file_path"] = p.RelPath
		instances.add(p.SOPUID, row)
	}
	instanceIDs, n, err := ensureRows(tx, &database.Instance{}, "sop_uid", instances)
	if err != nil {
		return counts, err
	}
	counts.instances = n

	if err := insertDetails(tx, chunk, instances, instanceIDs); err != nil {
		return counts, err
	}
	return counts, nil
}

// insertDetails adds the modality detail row of every instance inserted by
// this chunk. Instances that already existed keep their stored details.
func insertDetails(tx *gorm.DB, chunk []InstancePayload, instances *rowSet, ids map[string]string) error {
	groups := map[string][]map[string]interface{}{}
	seen := map[string]bool{}

	for _, p := range chunk {
		if p.DetailGroup == "" || seen[p.SOPUID] {
			continue
		}
		seen[p.SOPUID] = true

		id := ids[p.SOPUID]
		if id == "" || id != instances.rows[p.SOPUID]["id"] {
			continue
		}
		row := map[string]interface{}{
			"id":          utils.GenerateUUID(),
			"instance_id": id,
		}
		for col, v := range p.Detail {
			row[col] = v
		}
		groups[p.DetailGroup] = append(groups[p.DetailGroup], row)
	}

	for _, group := range []string{dicom.GroupMRI, dicom.GroupCT, dicom.GroupPET} {
		rows := groups[group]
		if len(rows) == 0 {
			continue
		}
		if err := tx.Model(detailModel(group)).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(rows).Error; err != nil {
			return fmt.Errorf("failed to insert %s details: %w", group, err)
		}
	}
	return nil
}

func detailModel(group string) interface{} {
	switch group {
	case dicom.GroupMRI:
		return &database.MRIDetail{}
	case dicom.GroupCT:
		return &database.CTDetail{}
	default:
		return &database.PETDetail{}
	}
}

func fieldsRow(fields dicom.Fields, now time.Time) map[string]interface{} {
	row := make(map[string]interface{}, len(fields)+5)
	for col, v := range fields {
		row[col] = v
	}
	row["created_at"] = now
	return row
}

// rowSet holds candidate rows by natural key, first occurrence wins
type rowSet struct {
	order []string
	rows  map[string]map[string]interface{}
}

func newRowSet() *rowSet {
	return &rowSet{rows: map[string]map[string]interface{}{}}
}

func (s *rowSet) add(key string, row map[string]interface{}) {
	if _, ok := s.rows[key]; ok {
		return
	}
	row["id"] = utils.GenerateUUID()
	s.order = append(s.order, key)
	s.rows[key] = row
}

type naturalKeyRow struct {
	ID         string
	NaturalKey string
}

func lookupIDs(tx *gorm.DB, model interface{}, keyColumn string, keys []string) (map[string]string, error) {
	ids := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return ids, nil
	}

	var found []naturalKeyRow
	err := tx.Model(model).
		Select("id", keyColumn+" AS natural_key").
		Where(keyColumn+" IN ?", keys).
		Scan(&found).Error
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", keyColumn, err)
	}
	for _, r := range found {
		ids[r.NaturalKey] = r.ID
	}
	return ids, nil
}

// ensureRows inserts the rows of set whose natural key is not stored yet.
// It returns the stored id for every key and how many rows this call
// inserted.
func ensureRows(tx *gorm.DB, model interface{}, keyColumn string, set *rowSet) (map[string]string, int, error) {
	ids, err := lookupIDs(tx, model, keyColumn, set.order)
	if err != nil {
		return nil, 0, err
	}

	var missingKeys []string
	var missing []map[string]interface{}
	for _, key := range set.order {
		if _, ok := ids[key]; ok {
			continue
		}
		missingKeys = append(missingKeys, key)
		missing = append(missing, set.rows[key])
	}
	if len(missing) == 0 {
		return ids, 0, nil
	}

	if err := tx.Model(model).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(missing).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to insert by %s: %w", keyColumn, err)
	}

	stored, err := lookupIDs(tx, model, keyColumn, missingKeys)
	if err != nil {
		return nil, 0, err
	}

	inserted := 0
	for _, key := range missingKeys {
		ids[key] = stored[key]
		if stored[key] == set.rows[key]["id"] {
			inserted++
		}
	}
	return ids, inserted, nil
}
