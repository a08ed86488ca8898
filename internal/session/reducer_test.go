package session_test

import (
	"testing"
	"time"

	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/protocol"
	"quizbeam-client/internal/session"
)

var testNow = time.UnixMilli(1_700_000_000_000)

func TestLobbyToActiveQuestionFlow(t *testing.T) {
	s := session.Empty()

	s = apply(t, s, protocol.Event{Type: protocol.EventLobbyState, Payload: &protocol.LobbyStatePayload{
		JoinCode:         "482913",
		ParticipantCount: 2,
		Participants: []domain.Participant{
			{ID: "p1", Nickname: "Alice"},
			{ID: "p2", Nickname: "Bob"},
		},
	}})
	if s.Phase != domain.PhaseLobby || s.JoinCode != "482913" || s.ParticipantCount != 2 {
		t.Fatalf("unexpected lobby state: %+v", s)
	}

	s = apply(t, s, protocol.Event{Type: protocol.EventQuizStarted, Payload: &protocol.QuizStartedPayload{TotalQuestions: 5}})
	if s.Phase != domain.PhaseActiveQuestion || s.TotalQuestions != 5 {
		t.Fatalf("expected active phase with 5 questions, got %+v", s)
	}

	s = apply(t, s, questionStarted("q1", 0, 30))
	if s.CurrentQuestion == nil || s.CurrentQuestion.ID != "q1" {
		t.Fatalf("expected question q1, got %+v", s.CurrentQuestion)
	}
	if s.CurrentQuestionIndex != 0 {
		t.Fatalf("expected index 0, got %d", s.CurrentQuestionIndex)
	}
	if s.Timer.RemainingSeconds != 30 || s.Timer.State != domain.TimerRunning {
		t.Fatalf("expected running 30s timer, got %+v", s.Timer)
	}
}

func TestQuestionStartedClearsPerQuestionFields(t *testing.T) {
	s := activeQuestionState(t, "q1")
	s = apply(t, s, protocol.Event{Type: protocol.EventAnswerAccepted, Payload: &protocol.AnswerAcceptedPayload{AnswerID: "a1", ResponseTimeMs: 1200}})
	s = apply(t, s, protocol.Event{Type: protocol.EventRevealAnswers, Payload: &protocol.RevealAnswersPayload{
		QuestionID:     "q1",
		CorrectOptions: []string{"o2"},
	}})

	s = apply(t, s, questionStarted("q2", 1, 20))
	if s.HasAnswered {
		t.Fatal("expected hasAnswered reset on new question")
	}
	if s.LastReceipt != nil || s.Reveal != nil {
		t.Fatalf("expected receipt and reveal cleared, got %+v / %+v", s.LastReceipt, s.Reveal)
	}
	if s.Phase != domain.PhaseActiveQuestion || s.Timer.QuestionID != "q2" {
		t.Fatalf("expected active q2 timer, got %+v", s.Timer)
	}
}

func TestQuestionStartedSeedsCountdownFromEndTime(t *testing.T) {
	s := activeQuestionState(t, "q0")

	// End time 29.4s ahead: the first displayed value must round up to 30,
	// not truncate to 29.
	ev := protocol.Event{Type: protocol.EventQuestionStarted, Payload: &protocol.QuestionStartedPayload{
		Question:      domain.Question{ID: "q1", TimeLimitSeconds: 30},
		QuestionIndex: 1,
		StartTime:     testNow.UnixMilli() - 600,
		EndTime:       testNow.UnixMilli() + 29_400,
	}}
	s = apply(t, s, ev)
	if s.Timer.RemainingSeconds != 30 {
		t.Fatalf("expected 30s remaining, got %d", s.Timer.RemainingSeconds)
	}

	// A question whose end time already passed arrives expired.
	ev = protocol.Event{Type: protocol.EventQuestionStarted, Payload: &protocol.QuestionStartedPayload{
		Question:      domain.Question{ID: "q2", TimeLimitSeconds: 30},
		QuestionIndex: 2,
		StartTime:     testNow.UnixMilli() - 40_000,
		EndTime:       testNow.UnixMilli() - 10_000,
	}}
	s = apply(t, s, ev)
	if s.Timer.RemainingSeconds != 0 || s.Timer.State != domain.TimerExpired {
		t.Fatalf("expected expired timer, got %+v", s.Timer)
	}
}

func TestTimerTickPatchesAndClamps(t *testing.T) {
	s := activeQuestionState(t, "q1")

	s = apply(t, s, tick("q1", 12))
	if s.Timer.RemainingSeconds != 12 {
		t.Fatalf("expected 12s remaining, got %d", s.Timer.RemainingSeconds)
	}

	s = apply(t, s, tick("q1", -3))
	if s.Timer.RemainingSeconds != 0 {
		t.Fatalf("expected negative tick clamped to 0, got %d", s.Timer.RemainingSeconds)
	}
	if s.Timer.State != domain.TimerExpired {
		t.Fatalf("expected expired at 0, got %v", s.Timer.State)
	}
}

func TestTimerTickCarriesPauseState(t *testing.T) {
	s := activeQuestionState(t, "q1")

	paused := tick("q1", 9)
	paused.Payload.(*protocol.TimerTickPayload).State = domain.TimerPaused
	s = apply(t, s, paused)
	if s.Timer.State != domain.TimerPaused {
		t.Fatalf("expected paused timer, got %v", s.Timer.State)
	}

	resumed := tick("q1", 9)
	resumed.Payload.(*protocol.TimerTickPayload).State = domain.TimerRunning
	s = apply(t, s, resumed)
	if s.Timer.State != domain.TimerRunning {
		t.Fatalf("expected running timer, got %v", s.Timer.State)
	}
}

func TestTimerTickForOtherQuestionDropped(t *testing.T) {
	s := activeQuestionState(t, "q2")

	next, applied := session.Reduce(s, tick("q1", 5), testNow)
	if applied {
		t.Fatal("expected stale tick to be dropped")
	}
	if next.Timer.RemainingSeconds != s.Timer.RemainingSeconds {
		t.Fatalf("state changed by dropped tick: %+v", next.Timer)
	}
}

func TestTimerTickAfterRevealDropped(t *testing.T) {
	s := activeQuestionState(t, "q1")
	s = apply(t, s, protocol.Event{Type: protocol.EventRevealAnswers, Payload: &protocol.RevealAnswersPayload{QuestionID: "q1"}})

	if _, applied := session.Reduce(s, tick("q1", 4), testNow); applied {
		t.Fatal("expected tick after reveal to be dropped")
	}
}

func TestRevealAnswers(t *testing.T) {
	s := activeQuestionState(t, "q1")

	s = apply(t, s, protocol.Event{Type: protocol.EventRevealAnswers, Payload: &protocol.RevealAnswersPayload{
		QuestionID:      "q1",
		CorrectOptions:  []string{"o2", "o3"},
		Statistics:      map[string]int{"o1": 4, "o2": 9},
		ExplanationText: "both are accepted",
	}})
	if s.Phase != domain.PhaseReveal {
		t.Fatalf("expected reveal phase, got %v", s.Phase)
	}
	if s.Reveal == nil || len(s.Reveal.CorrectOptions) != 2 || s.Reveal.Statistics["o2"] != 9 {
		t.Fatalf("unexpected reveal data: %+v", s.Reveal)
	}
	if s.Timer.RemainingSeconds != 0 || s.Timer.State != domain.TimerExpired {
		t.Fatalf("expected timer stopped at reveal, got %+v", s.Timer)
	}

	mismatched := protocol.Event{Type: protocol.EventRevealAnswers, Payload: &protocol.RevealAnswersPayload{QuestionID: "q9"}}
	if _, applied := session.Reduce(s, mismatched, testNow); applied {
		t.Fatal("expected reveal for unknown question to be dropped")
	}
}

func TestQuestionSkipped(t *testing.T) {
	s := activeQuestionState(t, "q1")

	s = apply(t, s, protocol.Event{Type: protocol.EventQuestionSkipped, Payload: &protocol.QuestionSkippedPayload{QuestionID: "q1"}})
	if s.Phase != domain.PhaseReveal {
		t.Fatalf("expected reveal after skip, got %v", s.Phase)
	}
	if s.Timer.State != domain.TimerExpired {
		t.Fatalf("expected expired timer after skip, got %+v", s.Timer)
	}
}

func TestQuestionSkippedExamModeStaysActive(t *testing.T) {
	s := activeQuestionState(t, "q1")

	s = apply(t, s, protocol.Event{Type: protocol.EventQuestionSkipped, Payload: &protocol.QuestionSkippedPayload{
		QuestionID:         "q1",
		ExamModeSkipReveal: true,
	}})
	if s.Phase != domain.PhaseActiveQuestion {
		t.Fatalf("exam-mode skip must not enter reveal, got %v", s.Phase)
	}

	// The promised immediate next question lands normally.
	s = apply(t, s, questionStarted("q2", 1, 20))
	if s.CurrentQuestion.ID != "q2" || s.Timer.State != domain.TimerRunning {
		t.Fatalf("expected q2 running, got %+v", s)
	}
}

func TestQuestionVoidedClearsDisplay(t *testing.T) {
	s := activeQuestionState(t, "q1")
	s = apply(t, s, protocol.Event{Type: protocol.EventAnswerAccepted, Payload: &protocol.AnswerAcceptedPayload{AnswerID: "a1"}})

	s = apply(t, s, protocol.Event{Type: protocol.EventQuestionVoided, Payload: &protocol.QuestionVoidedPayload{QuestionID: "q1"}})
	if s.CurrentQuestion != nil {
		t.Fatalf("expected question cleared, got %+v", s.CurrentQuestion)
	}
	if !s.AwaitingNext {
		t.Fatal("expected awaiting-next after void")
	}
	if s.HasAnswered || s.LastReceipt != nil {
		t.Fatal("expected answer state cleared after void")
	}
	if s.Phase != domain.PhaseActiveQuestion {
		t.Fatalf("void must not change phase, got %v", s.Phase)
	}
	if s.QuestionOpen() {
		t.Fatal("no answer may be submitted while awaiting next question")
	}

	other := protocol.Event{Type: protocol.EventQuestionVoided, Payload: &protocol.QuestionVoidedPayload{QuestionID: "q7"}}
	if _, applied := session.Reduce(s, other, testNow); applied {
		t.Fatal("expected void of non-displayed question to be dropped")
	}
}

func TestQuizEndedIsTerminal(t *testing.T) {
	s := activeQuestionState(t, "q1")

	s = apply(t, s, protocol.Event{Type: protocol.EventQuizEnded, Payload: &protocol.QuizEndedPayload{
		FinalLeaderboard: []domain.LeaderboardEntry{{ParticipantID: "p1", Nickname: "Alice", Score: 300, Rank: 1}},
	}})
	if s.Phase != domain.PhaseEnded {
		t.Fatalf("expected ended phase, got %v", s.Phase)
	}
	if len(s.Leaderboard) != 1 || s.Leaderboard[0].Score != 300 {
		t.Fatalf("expected final leaderboard, got %+v", s.Leaderboard)
	}

	// Nothing moves a session out of ENDED.
	after := []protocol.Event{
		questionStarted("q9", 9, 30),
		tick("q9", 10),
		{Type: protocol.EventLobbyState, Payload: &protocol.LobbyStatePayload{JoinCode: "111111"}},
		{Type: protocol.EventQuizStarted, Payload: &protocol.QuizStartedPayload{TotalQuestions: 3}},
	}
	for _, ev := range after {
		next, applied := session.Reduce(s, ev, testNow)
		if applied {
			t.Fatalf("event %s applied after quiz end", ev.Type)
		}
		if next.Phase != domain.PhaseEnded {
			t.Fatalf("phase left ENDED via %s: %v", ev.Type, next.Phase)
		}
	}
}

func TestDuplicateEventsAreIdempotent(t *testing.T) {
	s := activeQuestionState(t, "q1")

	join := protocol.Event{Type: protocol.EventParticipantJoined, Payload: &protocol.ParticipantJoinedPayload{
		Participant:      domain.Participant{ID: "p2", Nickname: "Bob"},
		ParticipantCount: 2,
	}}
	s = apply(t, s, join)
	s = apply(t, s, join) // duplicate delivery
	if len(s.Participants) != 1 || s.ParticipantCount != 2 {
		t.Fatalf("duplicate join not idempotent: %d entries, count %d", len(s.Participants), s.ParticipantCount)
	}

	second := apply(t, s, tick("q1", 7))
	third := apply(t, second, tick("q1", 7))
	if third.Timer != second.Timer {
		t.Fatalf("duplicate tick changed timer: %+v vs %+v", third.Timer, second.Timer)
	}
}

func TestParticipantLeftAndKicked(t *testing.T) {
	s := session.Empty()
	s = apply(t, s, protocol.Event{Type: protocol.EventLobbyState, Payload: &protocol.LobbyStatePayload{
		ParticipantCount: 3,
		Participants: []domain.Participant{
			{ID: "p1", Nickname: "Alice"},
			{ID: "p2", Nickname: "Bob"},
			{ID: "p3", Nickname: "Cleo"},
		},
	}})

	s = apply(t, s, protocol.Event{Type: protocol.EventParticipantLeft, Payload: &protocol.ParticipantLeftPayload{
		ParticipantID:    "p2",
		ParticipantCount: 2,
	}})
	if len(s.Participants) != 2 || s.ParticipantCount != 2 {
		t.Fatalf("expected 2 left, got %+v", s.Participants)
	}

	s = apply(t, s, protocol.Event{Type: protocol.EventParticipantKicked, Payload: &protocol.ParticipantKickedPayload{
		ParticipantID:    "p3",
		ParticipantCount: 1,
	}})
	if len(s.Participants) != 1 || s.Participants[0].ID != "p1" {
		t.Fatalf("expected only p1 left, got %+v", s.Participants)
	}
}

func TestRecoveryReplacesState(t *testing.T) {
	// Pre-disconnect state: question q1 with a submitted answer.
	s := activeQuestionState(t, "q1")
	s = apply(t, s, protocol.Event{Type: protocol.EventAnswerAccepted, Payload: &protocol.AnswerAcceptedPayload{AnswerID: "a1"}})

	// The server moved on to q3 while we were gone.
	s = apply(t, s, protocol.Event{Type: protocol.EventSessionRecovered, Payload: &protocol.SessionRecoveredPayload{
		SessionID:     "sess-1",
		ParticipantID: "p1",
		CurrentState: protocol.SessionSnapshot{
			Phase:          domain.PhaseActiveQuestion,
			QuestionIndex:  2,
			TotalQuestions: 5,
		},
		CurrentQuestion: &domain.Question{ID: "q3", TimeLimitSeconds: 30},
		RemainingTime:   14,
		Leaderboard:     []domain.LeaderboardEntry{{ParticipantID: "p1", Score: 200, Rank: 2}},
		TotalScore:      200,
		Rank:            2,
		StreakCount:     3,
		HasAnswered:     false,
	}})

	if s.CurrentQuestion == nil || s.CurrentQuestion.ID != "q3" {
		t.Fatalf("expected recovered question q3, got %+v", s.CurrentQuestion)
	}
	if s.HasAnswered {
		t.Fatal("stale hasAnswered survived recovery")
	}
	if s.Timer.RemainingSeconds != 14 || s.Timer.State != domain.TimerRunning {
		t.Fatalf("expected 14s running timer, got %+v", s.Timer)
	}
	if s.Self.Score != 200 || s.Self.Rank != 2 || s.Self.Streak != 3 {
		t.Fatalf("unexpected self state: %+v", s.Self)
	}
	if s.CurrentQuestionIndex != 2 || s.TotalQuestions != 5 {
		t.Fatalf("unexpected progress: %d/%d", s.CurrentQuestionIndex, s.TotalQuestions)
	}
}

func TestAuthenticatedSeedsFromBarePhase(t *testing.T) {
	raw := []byte(`{"type":"authenticated","payload":{"sessionId":"sess-1","participantId":"p1","nickname":"Alice","currentState":"LOBBY"}}`)
	ev, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	s, applied := session.Reduce(session.Empty(), ev, testNow)
	if !applied {
		t.Fatal("authenticated event not applied")
	}
	if s.Phase != domain.PhaseLobby || s.Self.ParticipantID != "p1" || s.Self.Nickname != "Alice" {
		t.Fatalf("unexpected seeded state: %+v", s)
	}
	if s.CurrentQuestionIndex != -1 {
		t.Fatalf("expected no question index, got %d", s.CurrentQuestionIndex)
	}
}

func TestLifecycleEventsDoNotTouchState(t *testing.T) {
	s := activeQuestionState(t, "q1")

	for _, ev := range []protocol.Event{
		{Type: protocol.EventAnswerRejected, Payload: &protocol.AnswerRejectedPayload{Message: "too late"}},
		{Type: protocol.EventAuthError, Payload: &protocol.AuthErrorPayload{Error: "bad code"}},
		{Type: protocol.EventKicked, Payload: &protocol.KickedPayload{}},
		{Type: "mystery_event"},
	} {
		next, applied := session.Reduce(s, ev, testNow)
		if applied {
			t.Fatalf("event %s should not reduce", ev.Type)
		}
		if next.CurrentQuestion == nil || next.CurrentQuestion.ID != "q1" {
			t.Fatalf("event %s disturbed state", ev.Type)
		}
	}
}

func apply(t *testing.T, s session.State, ev protocol.Event) session.State {
	t.Helper()
	next, applied := session.Reduce(s, ev, testNow)
	if !applied {
		t.Fatalf("event %s was not applied", ev.Type)
	}
	return next
}

// activeQuestionState reduces a fresh session through quiz start and one
// question so tests begin mid-game.
func activeQuestionState(t *testing.T, questionID string) session.State {
	t.Helper()
	s := session.Empty()
	s = apply(t, s, protocol.Event{Type: protocol.EventLobbyState, Payload: &protocol.LobbyStatePayload{
		JoinCode:         "482913",
		ParticipantCount: 1,
		Participants:     []domain.Participant{{ID: "p1", Nickname: "Alice"}},
	}})
	s = apply(t, s, protocol.Event{Type: protocol.EventQuizStarted, Payload: &protocol.QuizStartedPayload{TotalQuestions: 5}})
	return apply(t, s, questionStarted(questionID, 0, 30))
}

func questionStarted(id string, index, limitSeconds int) protocol.Event {
	return protocol.Event{Type: protocol.EventQuestionStarted, Payload: &protocol.QuestionStartedPayload{
		Question: domain.Question{
			ID:               id,
			Text:             "Pick one",
			Options:          []domain.Option{{ID: "o1", Text: "A"}, {ID: "o2", Text: "B"}},
			TimeLimitSeconds: limitSeconds,
		},
		QuestionIndex: index,
		StartTime:     testNow.UnixMilli(),
		EndTime:       testNow.Add(time.Duration(limitSeconds) * time.Second).UnixMilli(),
	}}
}

func tick(questionID string, remaining int) protocol.Event {
	return protocol.Event{Type: protocol.EventTimerTick, Payload: &protocol.TimerTickPayload{
		QuestionID:       questionID,
		RemainingSeconds: remaining,
		ServerTime:       testNow.UnixMilli(),
	}}
}
