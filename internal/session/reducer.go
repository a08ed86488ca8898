package session

import (
	"time"

	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/protocol"
)

// Reduce applies one server event to the state and returns the next state.
// It is pure and total: every defined event yields a valid state, duplicates
// are safe, and events that reference entities absent from the current state
// are dropped. The second return reports whether the event was applied, so
// the dispatcher can log drops.
//
// Application is all-or-nothing: on a drop the input state is returned
// untouched, never half-patched.
func Reduce(s State, ev protocol.Event, now time.Time) (State, bool) {
	// ENDED is terminal; only a full teardown (new client) leaves it.
	if s.Phase == domain.PhaseEnded {
		return s, false
	}

	switch p := ev.Payload.(type) {
	case *protocol.LobbyStatePayload:
		return reduceLobbyState(s, p), true

	case *protocol.QuizStartedPayload:
		next := s
		next.Phase = domain.PhaseActiveQuestion
		next.TotalQuestions = p.TotalQuestions
		return next, true

	case *protocol.QuestionStartedPayload:
		return reduceQuestionStarted(s, p, now), true

	case *protocol.TimerTickPayload:
		return reduceTimerTick(s, p)

	case *protocol.RevealAnswersPayload:
		return reduceReveal(s, p)

	case *protocol.QuestionSkippedPayload:
		return reduceQuestionSkipped(s, p)

	case *protocol.QuestionVoidedPayload:
		return reduceQuestionVoided(s, p)

	case *protocol.QuizEndedPayload:
		next := s
		next.Phase = domain.PhaseEnded
		next.Leaderboard = append([]domain.LeaderboardEntry(nil), p.FinalLeaderboard...)
		next.Timer = domain.TimerSnapshot{State: domain.TimerIdle}
		return next, true

	case *protocol.ParticipantJoinedPayload:
		return reduceParticipantJoined(s, p), true

	case *protocol.ParticipantLeftPayload:
		return reduceParticipantGone(s, p.ParticipantID, p.ParticipantCount), true

	case *protocol.ParticipantKickedPayload:
		return reduceParticipantGone(s, p.ParticipantID, p.ParticipantCount), true

	case *protocol.AnswerAcceptedPayload:
		next := s
		next.HasAnswered = true
		next.LastReceipt = &domain.AnswerReceipt{
			AnswerID:       p.AnswerID,
			ResponseTimeMs: p.ResponseTimeMs,
		}
		return next, true

	case *protocol.SessionRecoveredPayload:
		// Recovery replaces; it never merges with whatever state was here.
		return FromRecovery(p), true

	case *protocol.AuthenticatedPayload:
		return FromAuthenticated(p), true

	default:
		// Unknown and state-irrelevant events (auth errors, moderation,
		// answer rejections) are lifecycle concerns, not session truth.
		return s, false
	}
}

func reduceLobbyState(s State, p *protocol.LobbyStatePayload) State {
	// Lobby state is a reset: question, reveal, and timer fields are cleared
	// even if they should already be empty.
	next := Empty()
	next.JoinCode = p.JoinCode
	next.ParticipantCount = p.ParticipantCount
	next.Participants = append([]domain.Participant(nil), p.Participants...)
	next.AllowLateJoiners = p.AllowLateJoiners
	next.ExamMode = p.ExamMode
	next.Self = s.Self
	next.TotalQuestions = s.TotalQuestions
	return next
}

func reduceQuestionStarted(s State, p *protocol.QuestionStartedPayload, now time.Time) State {
	next := s
	next.Phase = domain.PhaseActiveQuestion
	question := p.Question
	question.Options = append([]domain.Option(nil), p.Question.Options...)
	next.CurrentQuestion = &question
	next.CurrentQuestionIndex = p.QuestionIndex
	next.AwaitingNext = false
	next.Reveal = nil
	next.HasAnswered = false
	next.LastReceipt = nil

	total := question.TimeLimitSeconds
	if total == 0 && p.EndTime > p.StartTime {
		total = int((p.EndTime - p.StartTime) / 1000)
	}
	remaining := ceilSecondsUntil(p.EndTime, now)
	next.Timer = domain.TimerSnapshot{
		QuestionID:       question.ID,
		RemainingSeconds: remaining,
		TotalSeconds:     total,
		State:            domain.TimerRunning,
	}
	if remaining == 0 {
		next.Timer.State = domain.TimerExpired
	}
	return next
}

func reduceTimerTick(s State, p *protocol.TimerTickPayload) (State, bool) {
	// Ticks are only meaningful for the question currently displayed and only
	// while it is live; a tick arriving after the reveal must not regress it.
	if s.CurrentQuestion == nil || s.CurrentQuestion.ID != p.QuestionID {
		return s, false
	}
	if s.Phase != domain.PhaseActiveQuestion {
		return s, false
	}
	next := s
	next.Timer.QuestionID = p.QuestionID
	next.Timer.RemainingSeconds = clampSeconds(p.RemainingSeconds)
	next.Timer.ServerTime = p.ServerTime
	// The server owns pause state; the tick's state field is authoritative.
	if p.State != "" {
		next.Timer.State = p.State
	} else if next.Timer.RemainingSeconds == 0 {
		next.Timer.State = domain.TimerExpired
	}
	return next, true
}

func reduceReveal(s State, p *protocol.RevealAnswersPayload) (State, bool) {
	if s.CurrentQuestion == nil {
		return s, false
	}
	if p.QuestionID != "" && p.QuestionID != s.CurrentQuestion.ID {
		return s, false
	}
	next := s
	next.Phase = domain.PhaseReveal
	next.Reveal = &domain.Reveal{
		QuestionID:     s.CurrentQuestion.ID,
		CorrectOptions: append([]string(nil), p.CorrectOptions...),
		Statistics:     copyStats(p.Statistics),
		Explanation:    p.ExplanationText,
	}
	next.Timer.RemainingSeconds = 0
	next.Timer.State = domain.TimerExpired
	return next, true
}

func reduceQuestionSkipped(s State, p *protocol.QuestionSkippedPayload) (State, bool) {
	if s.CurrentQuestion == nil || s.CurrentQuestion.ID != p.QuestionID {
		return s, false
	}
	next := s
	next.Timer.RemainingSeconds = 0
	next.Timer.State = domain.TimerExpired
	if p.ExamModeSkipReveal {
		// Exam mode: the next question_started is guaranteed to follow
		// immediately, so the reveal phase is suppressed entirely.
		return next, true
	}
	next.Phase = domain.PhaseReveal
	return next, true
}

func reduceQuestionVoided(s State, p *protocol.QuestionVoidedPayload) (State, bool) {
	if s.CurrentQuestion == nil || s.CurrentQuestion.ID != p.QuestionID {
		// Voiding a non-displayed question is a scoring-only server concern.
		return s, false
	}
	next := s
	next.CurrentQuestion = nil
	next.AwaitingNext = true
	next.HasAnswered = false
	next.LastReceipt = nil
	next.Reveal = nil
	next.Timer = domain.TimerSnapshot{State: domain.TimerIdle}
	return next, true
}

func reduceParticipantJoined(s State, p *protocol.ParticipantJoinedPayload) State {
	next := s
	roster := append([]domain.Participant(nil), s.Participants...)
	found := false
	for i := range roster {
		if roster[i].ID == p.Participant.ID {
			roster[i] = p.Participant
			found = true
			break
		}
	}
	if !found {
		roster = append(roster, p.Participant)
	}
	next.Participants = roster
	next.ParticipantCount = p.ParticipantCount
	return next
}

func reduceParticipantGone(s State, participantID string, count int) State {
	next := s
	roster := make([]domain.Participant, 0, len(s.Participants))
	for _, entry := range s.Participants {
		if entry.ID != participantID {
			roster = append(roster, entry)
		}
	}
	next.Participants = roster
	next.ParticipantCount = count
	return next
}

// ceilSecondsUntil computes ceil((endMillis-now)/1000) clamped at zero.
func ceilSecondsUntil(endMillis int64, now time.Time) int {
	deltaMillis := endMillis - now.UnixMilli()
	if deltaMillis <= 0 {
		return 0
	}
	return int((deltaMillis + 999) / 1000)
}

func copyStats(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
