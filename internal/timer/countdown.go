package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"quizbeam-client/internal/domain"
)

// displayResolution is how often the countdown re-reads the reconciler. The
// display can lag server truth by at most this long.
const displayResolution = 250 * time.Millisecond

// Countdown drives per-second display updates between server ticks. It never
// free-runs: every emission is recomputed from the reconciler's anchored
// deadline, so server re-anchors take effect within one resolution interval.
type Countdown struct {
	rec   *Reconciler
	clock clockwork.Clock
	emit  func(domain.TimerSnapshot)

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewCountdown returns a stopped countdown. emit is called from the
// countdown's own goroutine whenever the displayed snapshot changes.
func NewCountdown(rec *Reconciler, clock clockwork.Clock, emit func(domain.TimerSnapshot)) *Countdown {
	return &Countdown{rec: rec, clock: clock, emit: emit}
}

// Start launches the ticker goroutine. Starting a running countdown is a
// no-op.
func (c *Countdown) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.stop, c.done)
}

// Stop halts the ticker and waits for the goroutine to exit, so no emission
// can arrive after Stop returns.
func (c *Countdown) Stop() {
	c.mu.Lock()
	stop, done := c.stop, c.done
	c.stop, c.done = nil, nil
	c.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (c *Countdown) run(stop, done chan struct{}) {
	defer close(done)
	ticker := c.clock.NewTicker(displayResolution)
	defer ticker.Stop()

	var last domain.TimerSnapshot
	emitted := false
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			snap := c.rec.Snapshot()
			// ServerTime advances every read; compare display fields only.
			if emitted && sameDisplay(snap, last) {
				continue
			}
			last = snap
			emitted = true
			c.emit(snap)
		}
	}
}

func sameDisplay(a, b domain.TimerSnapshot) bool {
	return a.QuestionID == b.QuestionID &&
		a.RemainingSeconds == b.RemainingSeconds &&
		a.TotalSeconds == b.TotalSeconds &&
		a.State == b.State
}
