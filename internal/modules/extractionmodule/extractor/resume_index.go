package extractor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/mantonx/dicomingest/internal/database"
	"github.com/mantonx/dicomingest/internal/utils"
	"gorm.io/gorm"
)

// resumeEntry is the per-subject membership structure. It starts exact and
// becomes approximate once its size passes the threshold.
type resumeEntry interface {
	add(path string) resumeEntry
	contains(path string) bool
	count() int
	approximate() bool
}

type exactEntry struct {
	paths     map[string]struct{}
	threshold int
	errorRate float64
}

func (e *exactEntry) add(path string) resumeEntry {
	e.paths[path] = struct{}{}
	if len(e.paths) <= e.threshold {
		return e
	}

	capacity := max(2*e.threshold, len(e.paths))
	filter := bloom.NewWithEstimates(uint(capacity), e.errorRate)
	for p := range e.paths {
		filter.AddString(p)
	}
	return &approxEntry{filter: filter, n: len(e.paths)}
}

func (e *exactEntry) contains(path string) bool {
	_, ok := e.paths[path]
	return ok
}

func (e *exactEntry) count() int        { return len(e.paths) }
func (e *exactEntry) approximate() bool { return false }

// approxEntry never reports a false negative; n counts additions
type approxEntry struct {
	filter *bloom.BloomFilter
	n      int
}

func (e *approxEntry) add(path string) resumeEntry {
	if !e.filter.TestOrAddString(path) {
		e.n++
	}
	return e
}

func (e *approxEntry) contains(path string) bool { return e.filter.TestString(path) }
func (e *approxEntry) count() int                { return e.n }
func (e *approxEntry) approximate() bool         { return true }

// ResumeIndex records which files have been durably written, per subject.
// Workers query it while the writer adds to it, so all access is locked.
type ResumeIndex struct {
	mu        sync.RWMutex
	entries   map[string]resumeEntry
	threshold int
	errorRate float64
}

// NewResumeIndex creates an empty index. Subjects switch to a bloom filter
// with the given false-positive rate once they hold more than threshold
// paths.
func NewResumeIndex(threshold int, errorRate float64) *ResumeIndex {
	return &ResumeIndex{
		entries:   make(map[string]resumeEntry),
		threshold: max(threshold, 1),
		errorRate: errorRate,
	}
}

// Add marks remainder as written for subject
func (idx *ResumeIndex) Add(subject, remainder string) {
	remainder = utils.NormalizeRelative(remainder)

	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry, ok := idx.entries[subject]
	if !ok {
		entry = &exactEntry{
			paths:     make(map[string]struct{}),
			threshold: idx.threshold,
			errorRate: idx.errorRate,
		}
	}
	idx.entries[subject] = entry.add(remainder)
}

// AddRelative splits a cohort-relative path and adds it
func (idx *ResumeIndex) AddRelative(path string) {
	subject, remainder := utils.SplitSubjectRelative(path)
	if subject == "" {
		return
	}
	idx.Add(subject, remainder)
}

// Contains reports whether remainder was added for subject. Approximate
// entries may report false positives, never false negatives.
func (idx *ResumeIndex) Contains(subject, remainder string) bool {
	remainder = utils.NormalizeRelative(remainder)

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	entry, ok := idx.entries[subject]
	return ok && entry.contains(remainder)
}

// ShouldSkip reports whether the worker may skip the file
func (idx *ResumeIndex) ShouldSkip(subject, remainder string) bool {
	return idx.Contains(subject, remainder)
}

// Len returns how many paths were added for subject
func (idx *ResumeIndex) Len(subject string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if entry, ok := idx.entries[subject]; ok {
		return entry.count()
	}
	return 0
}

// Approximate reports whether subject's entry has become a bloom filter
func (idx *ResumeIndex) Approximate(subject string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	entry, ok := idx.entries[subject]
	return ok && entry.approximate()
}

// Subjects returns the subjects with at least one entry, sorted
func (idx *ResumeIndex) Subjects() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	out := make([]string, 0, len(idx.entries))
	for s := range idx.entries {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

const rebuildPageSize = 5000

// RebuildResumeIndex loads the file paths already written for cohortID into
// idx and returns how many were loaded.
func RebuildResumeIndex(ctx context.Context, db *gorm.DB, cohortID string, idx *ResumeIndex) (int, error) {
	var (
		total  int
		lastID string
	)

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		var page []database.Instance
		err := db.WithContext(ctx).
			Select("id", "file_path").
			Where("cohort_id = ? AND id > ?", cohortID, lastID).
			Order("id").
			Limit(rebuildPageSize).
			Find(&page).Error
		if err != nil {
			return total, fmt.Errorf("failed to load written instances: %w", err)
		}

		for _, inst := range page {
			idx.AddRelative(inst.FilePath)
		}
		total += len(page)

		if len(page) < rebuildPageSize {
			return total, nil
		}
		lastID = page[len(page)-1].ID
	}
}
