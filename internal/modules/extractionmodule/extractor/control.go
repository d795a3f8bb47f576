package extractor

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrJobCancelled is returned by Wait once the job has been cancelled
	ErrJobCancelled = errors.New("extraction job cancelled")
	// ErrJobNotPaused is returned when a change requires a paused job
	ErrJobNotPaused = errors.New("extraction job is not paused")
)

// JobState is the control state of a running job
type JobState string

const (
	JobStateRunning   JobState = "running"
	JobStatePaused    JobState = "paused"
	JobStateCancelled JobState = "cancelled"
)

// JobControl coordinates pause, resume and cancel between the job layer and
// the pipeline. Workers and the writer call Wait between batches.
type JobControl struct {
	mu      sync.Mutex
	state   JobState
	resumed chan struct{}
	done    chan struct{}
}

// NewJobControl returns a control in the running state
func NewJobControl() *JobControl {
	return &JobControl{
		state: JobStateRunning,
		done:  make(chan struct{}),
	}
}

// State returns the current state
func (c *JobControl) State() JobState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pause stops workers at their next checkpoint. It has no effect unless the
// job is running.
func (c *JobControl) Pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != JobStateRunning {
		return false
	}
	c.state = JobStatePaused
	c.resumed = make(chan struct{})
	return true
}

// Resume releases a paused job
func (c *JobControl) Resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != JobStatePaused {
		return false
	}
	c.state = JobStateRunning
	close(c.resumed)
	return true
}

// Cancel stops the job permanently. Paused waiters are released.
func (c *JobControl) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == JobStateCancelled {
		return false
	}
	c.state = JobStateCancelled
	close(c.done)
	return true
}

// Done is closed once the job is cancelled
func (c *JobControl) Done() <-chan struct{} {
	return c.done
}

// WhilePaused runs fn only if the job is currently paused, holding the
// state fixed for its duration.
func (c *JobControl) WhilePaused(fn func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != JobStatePaused {
		return ErrJobNotPaused
	}
	return fn()
}

// Wait blocks while the job is paused. It returns ErrJobCancelled once the
// job is cancelled and ctx.Err() if ctx ends first.
func (c *JobControl) Wait(ctx context.Context) error {
	for {
		c.mu.Lock()
		state, resumed := c.state, c.resumed
		c.mu.Unlock()

		switch state {
		case JobStateCancelled:
			return ErrJobCancelled
		case JobStateRunning:
			return ctx.Err()
		}

		select {
		case <-resumed:
		case <-c.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
