package timer_test

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/protocol"
	"quizbeam-client/internal/timer"
)

func TestCountdownSeedAndLocalDecrease(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	rec := timer.NewReconciler(clock)

	rec.StartQuestion(questionStarted(clock, "q1", 30))
	if got := rec.Remaining(); got != 30 {
		t.Fatalf("expected 30s at start, got %d", got)
	}

	clock.Advance(time.Second)
	if got := rec.Remaining(); got != 29 {
		t.Fatalf("expected 29s after 1s, got %d", got)
	}

	// Rounding: 28.6s left still displays 29, 28.0s displays 28.
	clock.Advance(400 * time.Millisecond)
	if got := rec.Remaining(); got != 29 {
		t.Fatalf("expected 29s at 28.6s left, got %d", got)
	}
	clock.Advance(600 * time.Millisecond)
	if got := rec.Remaining(); got != 28 {
		t.Fatalf("expected 28s, got %d", got)
	}
}

func TestServerTicksMatchExactly(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	rec := timer.NewReconciler(clock)

	rec.StartQuestion(questionStarted(clock, "q1", 30))
	for _, want := range []int{29, 28, 27} {
		clock.Advance(time.Second)
		applied := rec.Tick(&protocol.TimerTickPayload{
			QuestionID:       "q1",
			RemainingSeconds: want,
			ServerTime:       clock.Now().UnixMilli(),
		})
		if !applied {
			t.Fatalf("tick %d not applied", want)
		}
		if got := rec.Remaining(); got != want {
			t.Fatalf("expected %ds, got %d", want, got)
		}
	}
}

func TestTickCorrectsSkewedServerClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	rec := timer.NewReconciler(clock)
	const skewMillis = 2000 // server clock runs 2s ahead

	serverNow := clock.Now().UnixMilli() + skewMillis
	rec.StartQuestion(&protocol.QuestionStartedPayload{
		Question:  domain.Question{ID: "q1", TimeLimitSeconds: 30},
		StartTime: serverNow,
		EndTime:   serverNow + 30_000,
	})
	// No offset measured yet: the skew leaks into the display.
	if got := rec.Remaining(); got != 32 {
		t.Fatalf("expected uncorrected 32s, got %d", got)
	}

	rec.Tick(&protocol.TimerTickPayload{
		QuestionID:       "q1",
		RemainingSeconds: 29,
		ServerTime:       clock.Now().UnixMilli() + skewMillis,
	})
	if got := rec.Remaining(); got != 29 {
		t.Fatalf("expected re-anchored 29s, got %d", got)
	}
	offset, measured := rec.Offset()
	if !measured || offset != 2*time.Second {
		t.Fatalf("expected measured 2s offset, got %v (%v)", offset, measured)
	}

	// The next question start is corrected by the measured offset.
	serverNow = clock.Now().UnixMilli() + skewMillis
	rec.StartQuestion(&protocol.QuestionStartedPayload{
		Question:  domain.Question{ID: "q2", TimeLimitSeconds: 20},
		StartTime: serverNow,
		EndTime:   serverNow + 20_000,
	})
	if got := rec.Remaining(); got != 20 {
		t.Fatalf("expected corrected 20s, got %d", got)
	}
}

func TestTickIgnoresOtherQuestion(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	rec := timer.NewReconciler(clock)

	rec.StartQuestion(questionStarted(clock, "q2", 30))
	if rec.Tick(&protocol.TimerTickPayload{QuestionID: "q1", RemainingSeconds: 5, ServerTime: clock.Now().UnixMilli()}) {
		t.Fatal("tick for a different question must not apply")
	}
	if got := rec.Remaining(); got != 30 {
		t.Fatalf("stale tick changed countdown to %d", got)
	}
}

func TestPauseFreezesUntilResume(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	rec := timer.NewReconciler(clock)
	rec.StartQuestion(questionStarted(clock, "q1", 30))

	rec.Tick(&protocol.TimerTickPayload{
		QuestionID:       "q1",
		RemainingSeconds: 9,
		ServerTime:       clock.Now().UnixMilli(),
		State:            domain.TimerPaused,
	})
	clock.Advance(5 * time.Second)
	if got := rec.Remaining(); got != 9 {
		t.Fatalf("paused countdown moved to %d", got)
	}
	if snap := rec.Snapshot(); snap.State != domain.TimerPaused {
		t.Fatalf("expected paused state, got %v", snap.State)
	}

	rec.Tick(&protocol.TimerTickPayload{
		QuestionID:       "q1",
		RemainingSeconds: 9,
		ServerTime:       clock.Now().UnixMilli(),
		State:            domain.TimerRunning,
	})
	clock.Advance(time.Second)
	if got := rec.Remaining(); got != 8 {
		t.Fatalf("expected 8s after resume, got %d", got)
	}
}

func TestObserveLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	rec := timer.NewReconciler(clock)

	rec.Observe(protocol.Event{Type: protocol.EventQuestionStarted, Payload: questionStarted(clock, "q1", 30)})
	if got := rec.Remaining(); got != 30 {
		t.Fatalf("expected 30s, got %d", got)
	}

	rec.Observe(protocol.Event{Type: protocol.EventRevealAnswers, Payload: &protocol.RevealAnswersPayload{QuestionID: "q1"}})
	snap := rec.Snapshot()
	if snap.RemainingSeconds != 0 || snap.State != domain.TimerExpired {
		t.Fatalf("expected expired after reveal, got %+v", snap)
	}

	rec.Observe(protocol.Event{Type: protocol.EventQuestionStarted, Payload: questionStarted(clock, "q2", 20)})
	rec.Observe(protocol.Event{Type: protocol.EventQuestionVoided, Payload: &protocol.QuestionVoidedPayload{QuestionID: "q2"}})
	snap = rec.Snapshot()
	if snap.State != domain.TimerIdle || snap.QuestionID != "" {
		t.Fatalf("expected idle after void, got %+v", snap)
	}

	rec.Observe(protocol.Event{Type: protocol.EventQuestionStarted, Payload: questionStarted(clock, "q3", 20)})
	rec.Observe(protocol.Event{Type: protocol.EventQuizEnded, Payload: &protocol.QuizEndedPayload{}})
	if snap := rec.Snapshot(); snap.State != domain.TimerIdle {
		t.Fatalf("expected idle after quiz end, got %+v", snap)
	}
}

func TestRecoverySeedsCountdown(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	rec := timer.NewReconciler(clock)

	rec.Observe(protocol.Event{Type: protocol.EventSessionRecovered, Payload: &protocol.SessionRecoveredPayload{
		CurrentQuestion: &domain.Question{ID: "q3", TimeLimitSeconds: 30},
		RemainingTime:   14,
	}})
	snap := rec.Snapshot()
	if snap.QuestionID != "q3" || snap.RemainingSeconds != 14 || snap.TotalSeconds != 30 {
		t.Fatalf("unexpected recovered snapshot: %+v", snap)
	}
	if snap.State != domain.TimerRunning {
		t.Fatalf("expected running, got %v", snap.State)
	}

	clock.Advance(14 * time.Second)
	snap = rec.Snapshot()
	if snap.RemainingSeconds != 0 || snap.State != domain.TimerExpired {
		t.Fatalf("expected expiry after 14s, got %+v", snap)
	}
}

func TestQuestionWithoutLimitDerivesTotal(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	rec := timer.NewReconciler(clock)

	now := clock.Now().UnixMilli()
	rec.StartQuestion(&protocol.QuestionStartedPayload{
		Question:  domain.Question{ID: "q1"},
		StartTime: now,
		EndTime:   now + 45_000,
	})
	if snap := rec.Snapshot(); snap.TotalSeconds != 45 {
		t.Fatalf("expected derived 45s total, got %+v", snap)
	}
}

func TestCountdownEmitsEachDisplaySecond(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	rec := timer.NewReconciler(clock)
	rec.StartQuestion(questionStarted(clock, "q1", 3))

	// Unbuffered so each emission is handed over before the clock moves on.
	updates := make(chan domain.TimerSnapshot)
	cd := timer.NewCountdown(rec, clock, func(s domain.TimerSnapshot) { updates <- s })
	cd.Start()
	defer cd.Stop()
	clock.BlockUntil(1)

	// Display transitions with rounding: 3 at 0.25s, 2 at 0.75s, 1 at 1.75s,
	// 0 at 2.75s. Steps are 250ms each.
	steps := []struct {
		advances int
		want     int
	}{
		{1, 3}, {2, 2}, {4, 1}, {4, 0},
	}
	for _, step := range steps {
		for i := 0; i < step.advances; i++ {
			clock.Advance(250 * time.Millisecond)
		}
		snap := <-updates
		if snap.RemainingSeconds != step.want {
			t.Fatalf("expected %ds update, got %+v", step.want, snap)
		}
		if step.want == 0 && snap.State != domain.TimerExpired {
			t.Fatalf("expected expired at 0, got %+v", snap)
		}
		if step.want > 0 && snap.State != domain.TimerRunning {
			t.Fatalf("expected running at %ds, got %+v", step.want, snap)
		}
	}
}

func TestCountdownStopIsSynchronous(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	rec := timer.NewReconciler(clock)
	rec.StartQuestion(questionStarted(clock, "q1", 30))

	updates := make(chan domain.TimerSnapshot)
	cd := timer.NewCountdown(rec, clock, func(s domain.TimerSnapshot) { updates <- s })
	cd.Start()
	clock.BlockUntil(1)
	clock.Advance(250 * time.Millisecond)
	<-updates // at least one emission before stopping

	cd.Stop()
	clock.Advance(5 * time.Second)
	select {
	case snap := <-updates:
		t.Fatalf("emission after stop: %+v", snap)
	default:
	}

	cd.Stop() // second stop is a no-op
}

func questionStarted(clock clockwork.Clock, id string, limitSeconds int) *protocol.QuestionStartedPayload {
	now := clock.Now().UnixMilli()
	return &protocol.QuestionStartedPayload{
		Question:      domain.Question{ID: id, TimeLimitSeconds: limitSeconds},
		QuestionIndex: 0,
		StartTime:     now,
		EndTime:       now + int64(limitSeconds)*1000,
	}
}
