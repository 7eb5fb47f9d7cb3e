// ABOUTME: Playback position clock with rate estimation
// ABOUTME: Extrapolates the device frame position between timestamp samples
package sync

import (
	"fmt"
	"sync"
	"time"

	"github.com/Resonate-Protocol/trackbridge/pkg/audio/output"
	"github.com/charmbracelet/log"
)

const (
	defaultStaleAfter = 500 * time.Millisecond
	defaultLostAfter  = 5 * time.Second

	// measured rates further than this fraction from nominal are discarded
	maxRateDeviation = 0.5
)

// Quality represents how trustworthy the extrapolated position is
type Quality int

const (
	// QualityGood means the device position advanced recently
	QualityGood Quality = iota
	// QualityStale means the position stopped advancing (paused or underrun)
	QualityStale
	// QualityLost means no sample arrived recently
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityStale:
		return "stale"
	case QualityLost:
		return "lost"
	}
	return fmt.Sprintf("Quality(%d)", int(q))
}

// PositionClock tracks playback progress from device timestamps
type PositionClock struct {
	mu            sync.RWMutex
	sampleRate    float64
	rate          float64 // smoothed frames per second
	position      uint64  // latest sampled frame position
	sampleNano    int64   // device time of the latest sample
	lastUpdate    int64   // clock time of the latest Update
	lastAdvance   int64   // clock time the position last moved
	sampleCount   int
	smoothingRate float64
	staleAfter    time.Duration
	lostAfter     time.Duration
	now           func() int64
}

// Option configures a PositionClock
type Option func(*PositionClock)

// WithClock replaces output.Nanotime
func WithClock(now func() int64) Option {
	return func(c *PositionClock) { c.now = now }
}

// WithThresholds sets the ages at which quality drops to stale and lost
func WithThresholds(stale, lost time.Duration) Option {
	return func(c *PositionClock) {
		c.staleAfter = stale
		c.lostAfter = lost
	}
}

// NewPositionClock creates a clock for a stream at sampleRate
func NewPositionClock(sampleRate int, opts ...Option) *PositionClock {
	c := &PositionClock{
		sampleRate:    float64(sampleRate),
		rate:          float64(sampleRate),
		smoothingRate: 0.1, // 10% weight to new samples
		staleAfter:    defaultStaleAfter,
		lostAfter:     defaultLostAfter,
		now:           output.Nanotime,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Update feeds a timestamp sample
func (c *PositionClock) Update(ts output.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.lastUpdate = now

	if c.sampleCount == 0 {
		c.position = ts.FramePosition
		c.sampleNano = ts.NanoTime
		c.lastAdvance = now
		c.sampleCount++
		return
	}

	if ts.FramePosition == c.position {
		return
	}
	if ts.FramePosition < c.position {
		log.Debug("Discarding position sample: moved backwards", "position", ts.FramePosition, "previous", c.position)
		return
	}

	dt := ts.NanoTime - c.sampleNano
	frames := float64(ts.FramePosition - c.position)
	if dt > 0 && c.position > 0 {
		measured := frames * float64(time.Second) / float64(dt)
		if deviation := measured/c.sampleRate - 1; deviation > maxRateDeviation || deviation < -maxRateDeviation {
			log.Debug("Discarding rate sample", "measured", measured, "nominal", c.sampleRate)
		} else {
			c.rate += c.smoothingRate * (measured - c.rate)
		}
	}

	c.position = ts.FramePosition
	c.sampleNano = ts.NanoTime
	c.lastAdvance = now
	c.sampleCount++
}

// Position returns the frame position extrapolated to now. The position
// is only extrapolated while quality is good.
func (c *PositionClock) Position() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	if c.quality(now) != QualityGood || c.position == 0 {
		return c.position
	}
	elapsed := now - c.sampleNano
	if elapsed <= 0 {
		return c.position
	}
	return c.position + uint64(float64(elapsed)*c.rate/float64(time.Second))
}

// Elapsed converts the current position to playback time
func (c *PositionClock) Elapsed() time.Duration {
	pos := c.Position()
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(float64(pos) / c.sampleRate * float64(time.Second))
}

// Quality reports the clock quality now
func (c *PositionClock) Quality() Quality {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.quality(c.now())
}

func (c *PositionClock) quality(now int64) Quality {
	if c.sampleCount == 0 || time.Duration(now-c.lastUpdate) > c.lostAfter {
		return QualityLost
	}
	if time.Duration(now-c.lastAdvance) > c.staleAfter {
		return QualityStale
	}
	return QualityGood
}

// Stats returns the estimated rate in frames per second, its deviation
// from nominal in parts per million and the quality
func (c *PositionClock) Stats() (rate, driftPPM float64, quality Quality) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rate, (c.rate/c.sampleRate - 1) * 1e6, c.quality(c.now())
}
