package extractor

import (
	"sync"
	"time"
)

// ProgressSnapshot is the tracker state exposed to job status
type ProgressSnapshot struct {
	Percent   int           `json:"percent"`
	Completed int           `json:"completed"`
	Total     int           `json:"total"`
	ETA       time.Duration `json:"eta"`
}

// ProgressTracker turns subject completion counts into a monotonic
// percentage. The first update fixes the baseline, so a resumed job starts
// from the subjects it had already completed.
type ProgressTracker struct {
	mu   sync.Mutex
	emit func(int)

	started   bool
	startTime time.Time
	baseline  int
	completed int
	total     int
	last      int
}

// NewProgressTracker creates a tracker reporting to emit. emit may be nil.
func NewProgressTracker(emit func(int)) *ProgressTracker {
	if emit == nil {
		emit = func(int) {}
	}
	return &ProgressTracker{emit: emit, last: -1}
}

// Update records processed of total subjects. A percentage is emitted only
// when it rises; 100 is reserved for completed >= total.
func (p *ProgressTracker) Update(processed, total int) {
	p.mu.Lock()

	if !p.started {
		p.started = true
		p.startTime = time.Now()
		p.baseline = max(processed, 0)
	}
	p.total = max(p.total, total)
	p.completed = max(p.completed, processed, p.baseline)

	if p.total <= 0 {
		p.mu.Unlock()
		return
	}

	pct := p.percentLocked()
	if pct <= p.last {
		p.mu.Unlock()
		return
	}
	p.last = pct
	p.mu.Unlock()

	p.emit(pct)
}

// Finalize emits 100 unless it has already been emitted
func (p *ProgressTracker) Finalize() {
	p.mu.Lock()
	if p.last == 100 {
		p.mu.Unlock()
		return
	}
	p.last = 100
	p.mu.Unlock()

	p.emit(100)
}

// Last returns the last emitted percentage, or -1 before the first emission
func (p *ProgressTracker) Last() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Snapshot returns the current state with a rate-based ETA
func (p *ProgressTracker) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := ProgressSnapshot{
		Percent:   max(p.last, 0),
		Completed: p.completed,
		Total:     p.total,
	}

	done := p.completed - p.baseline
	remaining := p.total - p.completed
	if done > 0 && remaining > 0 {
		perSubject := time.Since(p.startTime) / time.Duration(done)
		s.ETA = perSubject * time.Duration(remaining)
	}
	return s
}

func (p *ProgressTracker) percentLocked() int {
	if p.completed >= p.total {
		return 100
	}
	pct := 100 * p.completed / p.total
	return min(max(pct, 0), 99)
}
