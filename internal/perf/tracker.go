// Package perf accumulates per-stage pipeline timings and periodically
// publishes aggregate snapshots to a listener. Snapshots are produced on a
// wall-clock interval rather than per frame, so telemetry overhead stays
// constant regardless of frame rate.
package perf

import (
	"sync"
	"time"
)

// Stage identifies one timed section of a pipeline cycle.
type Stage int

const (
	StageAcquire Stage = iota
	StageDecode
	StageConvert
	StageAssemble
	numStages
)

func (s Stage) String() string {
	switch s {
	case StageAcquire:
		return "acquire"
	case StageDecode:
		return "decode"
	case StageConvert:
		return "convert"
	case StageAssemble:
		return "assemble"
	default:
		return "unknown"
	}
}

// Metrics is an aggregate snapshot covering one reporting window.
type Metrics struct {
	Frames   uint64
	Elapsed  time.Duration
	FPS      float64
	StageAvg map[Stage]time.Duration
}

// Listener receives periodic metrics snapshots.
type Listener func(Metrics)

// DefaultInterval is the reporting window used when none is given.
const DefaultInterval = 10 * time.Second

// Tracker accumulates stage timings for a single pipeline. It is safe for
// use from one goroutine at a time per pipeline, which matches the session
// locking model, but is also internally locked so status readers may probe
// it concurrently.
type Tracker struct {
	mu          sync.Mutex
	interval    time.Duration
	listener    Listener
	now         func() time.Time
	windowStart time.Time
	frames      uint64
	stageTotal  [numStages]time.Duration
	stageCount  [numStages]uint64
}

// New creates a tracker publishing to listener every interval. A nil
// listener and a zero interval are both valid; the zero interval falls back
// to DefaultInterval.
func New(interval time.Duration, listener Listener) *Tracker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	t := &Tracker{
		interval: interval,
		listener: listener,
		now:      time.Now,
	}
	t.windowStart = t.now()
	return t
}

// Observe records the elapsed time of one stage execution.
func (t *Tracker) Observe(stage Stage, d time.Duration) {
	if stage < 0 || stage >= numStages {
		return
	}
	t.mu.Lock()
	t.stageTotal[stage] += d
	t.stageCount[stage]++
	t.mu.Unlock()
}

// FrameDone marks one frame as completed and flushes a snapshot when the
// reporting window has elapsed.
func (t *Tracker) FrameDone() {
	t.mu.Lock()
	t.frames++
	var snapshot *Metrics
	if elapsed := t.now().Sub(t.windowStart); elapsed >= t.interval {
		m := t.snapshotLocked(elapsed)
		snapshot = &m
		t.resetLocked()
	}
	listener := t.listener
	t.mu.Unlock()

	// Invoked outside the lock so a listener may probe the tracker.
	if snapshot != nil && listener != nil {
		listener(*snapshot)
	}
}

// Snapshot returns the counters accumulated in the current window without
// resetting them.
func (t *Tracker) Snapshot() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(t.now().Sub(t.windowStart))
}

func (t *Tracker) snapshotLocked(elapsed time.Duration) Metrics {
	m := Metrics{
		Frames:   t.frames,
		Elapsed:  elapsed,
		StageAvg: make(map[Stage]time.Duration, int(numStages)),
	}
	if elapsed > 0 {
		m.FPS = float64(t.frames) / elapsed.Seconds()
	}
	for s := Stage(0); s < numStages; s++ {
		if t.stageCount[s] > 0 {
			m.StageAvg[s] = t.stageTotal[s] / time.Duration(t.stageCount[s])
		}
	}
	return m
}

func (t *Tracker) resetLocked() {
	t.frames = 0
	t.windowStart = t.now()
	for s := Stage(0); s < numStages; s++ {
		t.stageTotal[s] = 0
		t.stageCount[s] = 0
	}
}
