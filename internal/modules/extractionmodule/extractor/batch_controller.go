package extractor

import (
	"math"
	"sync"
	"time"

	"github.com/mantonx/dicomingest/internal/config"
)

// BatchSizeSettings configures the batch size controller
type BatchSizeSettings struct {
	Initial  int
	Minimum  int
	Maximum  int
	TargetMs int
	Enabled  bool
}

// BatchSettingsFromConfig derives controller settings from an extraction config
func BatchSettingsFromConfig(c config.ExtractionConfig) BatchSizeSettings {
	return BatchSizeSettings{
		Initial:  c.BatchSize,
		Minimum:  c.MinBatchSize,
		Maximum:  c.MaxBatchSize,
		TargetMs: c.TargetTxMs,
		Enabled:  c.AdaptiveBatchingEnabled,
	}
}

// normalize enforces 1 <= Minimum <= Maximum and clamps Initial into range
func (s BatchSizeSettings) normalize() BatchSizeSettings {
	s.Minimum = max(s.Minimum, 1)
	s.Maximum = max(s.Maximum, s.Minimum)
	s.Initial = clamp(s.Initial, s.Minimum, s.Maximum)
	return s
}

// BatchSizeController scales the batch size so that write transactions
// converge on the target duration. The first batch always uses Initial.
type BatchSizeController struct {
	mu           sync.Mutex
	settings     BatchSizeSettings
	current      int
	observations int
}

// NewBatchSizeController creates a controller starting at settings.Initial
func NewBatchSizeController(settings BatchSizeSettings) *BatchSizeController {
	settings = settings.normalize()
	return &BatchSizeController{
		settings: settings,
		current:  settings.Initial,
	}
}

// Current returns the batch size to use for the next batch
func (c *BatchSizeController) Current() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Observe records the duration of a completed write transaction and, when
// adaptive batching is enabled, rescales the batch size by target/elapsed
// within [Minimum, Maximum].
func (c *BatchSizeController) Observe(elapsed time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.observations++
	if !c.settings.Enabled {
		return c.current
	}

	elapsedMs := float64(elapsed) / float64(time.Millisecond)
	if elapsedMs <= 0 {
		elapsedMs = 1
	}

	next := math.Round(float64(c.current) * float64(c.settings.TargetMs) / elapsedMs)
	if next > float64(c.settings.Maximum) {
		next = float64(c.settings.Maximum)
	}
	c.current = clamp(int(next), c.settings.Minimum, c.settings.Maximum)
	return c.current
}

// Reconfigure replaces the settings, keeping the current size when it is
// still in range. Initial is ignored after the first observation.
func (c *BatchSizeController) Reconfigure(settings BatchSizeSettings) {
	settings = settings.normalize()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.settings = settings
	if c.observations == 0 || !settings.Enabled {
		c.current = settings.Initial
		return
	}
	c.current = clamp(c.current, settings.Minimum, settings.Maximum)
}

// Settings returns the active settings
func (c *BatchSizeController) Settings() BatchSizeSettings {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.settings
}

// Observations returns how many transactions have been observed
func (c *BatchSizeController) Observations() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.observations
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
