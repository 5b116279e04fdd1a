package capture

import (
	"errors"
	"sync"
	"time"

	"github.com/deskcast/deskcast/internal/bus"
	"github.com/deskcast/deskcast/internal/logger"
	"github.com/deskcast/deskcast/internal/overlay"
	"github.com/deskcast/deskcast/internal/perf"
)

const (
	// acquireTimeout bounds the per-cycle wait for a new desktop frame.
	acquireTimeout = 50 * time.Millisecond

	// failureWarnEvery throttles the miss warning: one log line per this
	// many consecutive misses instead of one per miss.
	failureWarnEvery = 5

	// fpsLogWindow is how often the loop reports its effective rate.
	fpsLogWindow = 5 * time.Second

	// errorBackoff is the pause after an unexpected capture error before
	// the loop retries.
	errorBackoff = time.Second

	// stopWait bounds how long Stop waits for the loop goroutine. A hung
	// native call can exceed it, in which case the goroutine is abandoned.
	stopWait = time.Second
)

// RateSource supplies the live target frame rate. The loop re-reads it every
// cycle, so changes apply without a restart.
type RateSource interface {
	FPS() int
}

// LoopOptions configures optional loop behavior.
type LoopOptions struct {
	// Tracker receives per-stage timings when non-nil.
	Tracker *perf.Tracker

	// StampTimestamp draws a wall-clock overlay on each emitted frame.
	StampTimestamp bool
}

// Loop drives a session at a configurable rate on a dedicated goroutine and
// publishes finished frames. Failures never cross the loop boundary: they
// are logged, converted to a miss or a back-off, and the loop carries on.
type Loop struct {
	session *Session
	rate    RateSource
	frames  *bus.Bus[Frame]
	opts    LoopOptions

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	// sleep is replaced in tests to observe pacing decisions.
	sleep func(d time.Duration, stop <-chan struct{})
	now   func() time.Time
}

// NewLoop creates a loop over session, publishing frames to frameBus.
func NewLoop(session *Session, rate RateSource, frameBus *bus.Bus[Frame], opts LoopOptions) *Loop {
	return &Loop{
		session: session,
		rate:    rate,
		frames:  frameBus,
		opts:    opts,
		sleep:   sleepInterruptible,
		now:     time.Now,
	}
}

// Start launches the capture goroutine. Starting a running loop is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}
	l.running = true
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.run(l.stop, l.done)
}

// Stop signals the loop and waits up to stopWait for it to exit. The wait is
// bounded: a goroutine stuck inside a native call is abandoned rather than
// blocking teardown forever.
func (l *Loop) Stop() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	l.running = false
	close(l.stop)
	done := l.done
	l.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopWait):
		logger.WithComponent("capture-loop").Warn().
			Msg("capture loop did not exit in time, abandoning goroutine")
	}
}

// Running reports whether the loop goroutine is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *Loop) run(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	log := logger.WithComponent("capture-loop")

	var seq uint64
	windowFrames := 0
	windowStart := l.now()

	for {
		select {
		case <-stop:
			return
		default:
		}

		cycleStart := l.now()
		// Re-read fps every cycle so live changes take effect.
		fps := l.rate.FPS()
		if fps < 1 {
			fps = 1
		}
		interval := time.Second / time.Duration(fps)

		ok, err := l.session.CaptureOnce(acquireTimeout)
		switch {
		case err != nil && errors.Is(err, ErrDeviceLost):
			// Already logged distinctly by the session; nothing to retry
			// here. Keep cycling so Stop still works while the host
			// decides what to do.
			l.sleep(errorBackoff, stop)

		case err != nil:
			log.Error().Err(err).Msg("capture failed")
			l.sleep(errorBackoff, stop)

		case !ok:
			if streak := l.session.FailureStreak(); streak > 0 && streak%failureWarnEvery == 0 {
				log.Warn().
					Int("consecutive_misses", streak).
					Msg("desktop produced no new frame")
			}

		default:
			if t := l.opts.Tracker; t != nil {
				t.Observe(perf.StageAcquire, l.now().Sub(cycleStart))
			}
			l.emit(&seq)
			windowFrames++
		}

		if window := l.now().Sub(windowStart); window >= fpsLogWindow {
			log.Info().
				Float64("fps", float64(windowFrames)/window.Seconds()).
				Int("frames", windowFrames).
				Msg("capture rate")
			windowFrames = 0
			windowStart = l.now()
		}

		// Pace the next cycle. An overrunning cycle proceeds immediately;
		// there is no catch-up, drift is accepted.
		elapsed := l.now().Sub(cycleStart)
		if d := interval - elapsed; d > 0 {
			l.sleep(d, stop)
		}
	}
}

// emit assembles a consumer-owned image from the session buffer and
// publishes it. Assembly doubles as the mandatory clone: the buffer is
// rewritten by the next capture, the emitted image is not.
func (l *Loop) emit(seq *uint64) {
	assembleStart := l.now()
	img := l.session.Buffer().AssembleRGBA()
	capturedAt := l.now()
	if l.opts.StampTimestamp {
		overlay.StampTimestamp(img, capturedAt)
	}
	if t := l.opts.Tracker; t != nil {
		t.Observe(perf.StageAssemble, l.now().Sub(assembleStart))
		t.FrameDone()
	}

	*seq++
	l.frames.Publish(Frame{
		Image:      img,
		Seq:        *seq,
		CapturedAt: capturedAt,
	})
}

func sleepInterruptible(d time.Duration, stop <-chan struct{}) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-stop:
	case <-t.C:
	}
}
