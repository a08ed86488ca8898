// Package timer keeps a local countdown honest against the server clock.
// The server owns the deadline; this package only measures drift and projects
// the remaining time onto the local clock.
package timer

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/protocol"
)

// Reconciler converts server-absolute deadlines into a locally readable
// countdown. Every timer_tick re-measures the server/local clock offset and
// re-anchors the deadline, so the displayed value can never drift further
// than one tick interval from server truth. Pause and resume are reflected
// from the server state field, never inferred locally.
type Reconciler struct {
	clock clockwork.Clock

	mu             sync.Mutex
	questionID     string
	totalSeconds   int
	state          domain.TimerState
	localEndMillis int64
	offsetMillis   int64
	hasOffset      bool
	frozenSeconds  int
}

// NewReconciler returns an idle reconciler reading time from clock.
func NewReconciler(clock clockwork.Clock) *Reconciler {
	return &Reconciler{
		clock: clock,
		state: domain.TimerIdle,
	}
}

// Observe feeds one decoded server event into the reconciler. Events that do
// not concern the countdown are ignored.
func (r *Reconciler) Observe(ev protocol.Event) {
	switch p := ev.Payload.(type) {
	case *protocol.QuestionStartedPayload:
		r.StartQuestion(p)
	case *protocol.TimerTickPayload:
		r.Tick(p)
	case *protocol.RevealAnswersPayload:
		r.Expire(p.QuestionID)
	case *protocol.QuestionSkippedPayload:
		r.Expire(p.QuestionID)
	case *protocol.QuestionVoidedPayload:
		r.clearIfCurrent(p.QuestionID)
	case *protocol.QuizEndedPayload:
		r.Reset()
	case *protocol.LobbyStatePayload:
		r.Reset()
	case *protocol.SessionRecoveredPayload:
		if p.CurrentQuestion == nil {
			r.Reset()
			return
		}
		state := p.TimerState
		if state == "" {
			state = domain.TimerRunning
		}
		r.Recover(p.CurrentQuestion.ID, p.RemainingTime, p.CurrentQuestion.TimeLimitSeconds, state)
	}
}

// StartQuestion anchors a fresh countdown on the question's absolute end
// time, corrected by the last measured clock offset.
func (r *Reconciler) StartQuestion(p *protocol.QuestionStartedPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := p.Question.TimeLimitSeconds
	if total == 0 && p.EndTime > p.StartTime {
		total = int((p.EndTime - p.StartTime) / 1000)
	}

	r.questionID = p.Question.ID
	r.totalSeconds = total
	r.localEndMillis = p.EndTime - r.offsetMillis
	r.frozenSeconds = 0
	r.state = domain.TimerRunning
	if r.remainingLocked() == 0 {
		r.state = domain.TimerExpired
	}
}

// Tick re-anchors the countdown from a server tick. The tick's serverTime
// refreshes the offset estimate, and its remainingSeconds pins the deadline
// so the local display matches the server value at receipt. Ticks for other
// questions are ignored.
func (r *Reconciler) Tick(p *protocol.TimerTickPayload) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.questionID == "" || p.QuestionID != r.questionID {
		return false
	}

	now := r.clock.Now().UnixMilli()
	if p.ServerTime != 0 {
		r.offsetMillis = p.ServerTime - now
		r.hasOffset = true
	}

	remaining := p.RemainingSeconds
	if remaining < 0 {
		remaining = 0
	}
	r.localEndMillis = now + int64(remaining)*1000

	if p.State != "" {
		r.state = p.State
	} else if r.state == domain.TimerExpired {
		r.state = domain.TimerRunning
	}
	if r.state == domain.TimerPaused {
		r.frozenSeconds = remaining
	}
	if remaining == 0 {
		r.state = domain.TimerExpired
	}
	return true
}

// Recover seeds the countdown from a recovery snapshot, whose remaining time
// the server already computed against its own clock.
func (r *Reconciler) Recover(questionID string, remainingSeconds, totalSeconds int, state domain.TimerState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if remainingSeconds < 0 {
		remainingSeconds = 0
	}
	now := r.clock.Now().UnixMilli()
	r.questionID = questionID
	r.totalSeconds = totalSeconds
	r.localEndMillis = now + int64(remainingSeconds)*1000
	r.state = state
	r.frozenSeconds = 0
	if state == domain.TimerPaused {
		r.frozenSeconds = remainingSeconds
	}
	if remainingSeconds == 0 {
		r.state = domain.TimerExpired
	}
}

// Expire forces the countdown to zero when the question closes. An empty
// questionID matches the current question.
func (r *Reconciler) Expire(questionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.questionID == "" {
		return
	}
	if questionID != "" && questionID != r.questionID {
		return
	}
	r.state = domain.TimerExpired
	r.frozenSeconds = 0
}

// Reset returns the reconciler to idle. The measured clock offset survives;
// drift does not reset between questions.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.questionID = ""
	r.totalSeconds = 0
	r.localEndMillis = 0
	r.frozenSeconds = 0
	r.state = domain.TimerIdle
}

func (r *Reconciler) clearIfCurrent(questionID string) {
	r.mu.Lock()
	current := r.questionID
	r.mu.Unlock()
	if current != "" && current == questionID {
		r.Reset()
	}
}

// Remaining returns the seconds to display right now.
func (r *Reconciler) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remainingLocked()
}

// Snapshot returns the current countdown for display. ServerTime is the
// estimated current server clock.
func (r *Reconciler) Snapshot() domain.TimerSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := r.remainingLocked()
	if r.state == domain.TimerRunning && remaining == 0 {
		r.state = domain.TimerExpired
	}
	return domain.TimerSnapshot{
		QuestionID:       r.questionID,
		RemainingSeconds: remaining,
		TotalSeconds:     r.totalSeconds,
		State:            r.state,
		ServerTime:       r.clock.Now().UnixMilli() + r.offsetMillis,
	}
}

// Offset reports the last measured server-minus-local clock difference and
// whether any tick has been observed yet.
func (r *Reconciler) Offset() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Duration(r.offsetMillis) * time.Millisecond, r.hasOffset
}

// remainingLocked computes max(0, round(localEnd-now)) in whole seconds.
func (r *Reconciler) remainingLocked() int {
	switch r.state {
	case domain.TimerIdle, domain.TimerExpired:
		return 0
	case domain.TimerPaused:
		return r.frozenSeconds
	}
	delta := r.localEndMillis - r.clock.Now().UnixMilli()
	if delta <= 0 {
		return 0
	}
	return int((delta + 500) / 1000)
}
