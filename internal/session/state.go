// Package session reconstructs the authoritative quiz session state from the
// server event stream. The reducer is the only writer; everything else reads
// copies.
package session

import (
	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/protocol"
)

// State is the client's best current belief of server truth. It is created
// empty, replaced wholesale by recovery snapshots, and incrementally patched
// by every other event.
type State struct {
	Phase            domain.Phase
	JoinCode         string
	ParticipantCount int
	Participants     []domain.Participant

	CurrentQuestion      *domain.Question
	CurrentQuestionIndex int
	TotalQuestions       int
	// AwaitingNext is set when the displayed question was voided and the next
	// one has not arrived yet; no question is shown and no answer is accepted.
	AwaitingNext bool

	Timer  domain.TimerSnapshot
	Reveal *domain.Reveal

	Leaderboard []domain.LeaderboardEntry

	HasAnswered bool
	LastReceipt *domain.AnswerReceipt

	AllowLateJoiners bool
	ExamMode         bool

	Self domain.SelfState
}

// Empty returns the state a client holds before any server event arrived.
func Empty() State {
	return State{
		Phase:                domain.PhaseLobby,
		CurrentQuestionIndex: -1,
		Timer:                domain.TimerSnapshot{State: domain.TimerIdle},
	}
}

// Clone returns a deep copy safe to hand to observers.
func (s State) Clone() State {
	out := s
	if s.Participants != nil {
		out.Participants = append([]domain.Participant(nil), s.Participants...)
	}
	if s.Leaderboard != nil {
		out.Leaderboard = append([]domain.LeaderboardEntry(nil), s.Leaderboard...)
	}
	if s.CurrentQuestion != nil {
		q := *s.CurrentQuestion
		q.Options = append([]domain.Option(nil), s.CurrentQuestion.Options...)
		out.CurrentQuestion = &q
	}
	if s.Reveal != nil {
		r := *s.Reveal
		r.CorrectOptions = append([]string(nil), s.Reveal.CorrectOptions...)
		if s.Reveal.Statistics != nil {
			r.Statistics = make(map[string]int, len(s.Reveal.Statistics))
			for k, v := range s.Reveal.Statistics {
				r.Statistics[k] = v
			}
		}
		out.Reveal = &r
	}
	if s.LastReceipt != nil {
		receipt := *s.LastReceipt
		out.LastReceipt = &receipt
	}
	return out
}

// Ended reports whether the session reached its terminal phase.
func (s State) Ended() bool {
	return s.Phase == domain.PhaseEnded
}

// QuestionOpen reports whether an answer can currently be submitted.
func (s State) QuestionOpen() bool {
	return s.Phase == domain.PhaseActiveQuestion &&
		s.CurrentQuestion != nil &&
		!s.AwaitingNext &&
		s.Timer.State != domain.TimerExpired
}

// FromAuthenticated seeds state from a first-handshake snapshot.
func FromAuthenticated(p *protocol.AuthenticatedPayload) State {
	s := Empty()
	applySnapshot(&s, p.CurrentState)
	s.Self.ParticipantID = p.ParticipantID
	s.Self.Nickname = p.Nickname
	return s
}

// FromRecovery builds state wholesale from a recovery snapshot. Nothing from
// any pre-disconnect state survives; that is the point.
func FromRecovery(p *protocol.SessionRecoveredPayload) State {
	s := Empty()
	applySnapshot(&s, p.CurrentState)

	s.CurrentQuestion = cloneQuestion(p.CurrentQuestion)
	if p.CurrentState.QuestionIndex >= 0 {
		s.CurrentQuestionIndex = p.CurrentState.QuestionIndex
	}
	s.Leaderboard = append([]domain.LeaderboardEntry(nil), p.Leaderboard...)
	s.HasAnswered = p.HasAnswered

	if s.CurrentQuestion != nil {
		state := p.TimerState
		if state == "" {
			state = domain.TimerRunning
		}
		s.Timer = domain.TimerSnapshot{
			QuestionID:       s.CurrentQuestion.ID,
			RemainingSeconds: clampSeconds(p.RemainingTime),
			TotalSeconds:     s.CurrentQuestion.TimeLimitSeconds,
			State:            state,
		}
	}

	s.Self = domain.SelfState{
		ParticipantID: p.ParticipantID,
		Score:         p.TotalScore,
		Rank:          p.Rank,
		Streak:        p.StreakCount,
		Eliminated:    p.IsEliminated,
		Spectator:     p.IsSpectator,
	}
	return s
}

func applySnapshot(s *State, snap protocol.SessionSnapshot) {
	if snap.Phase != "" {
		s.Phase = snap.Phase
	}
	s.JoinCode = snap.JoinCode
	s.ParticipantCount = snap.ParticipantCount
	s.Participants = append([]domain.Participant(nil), snap.Participants...)
	if snap.QuestionIndex >= 0 {
		s.CurrentQuestionIndex = snap.QuestionIndex
	}
	s.TotalQuestions = snap.TotalQuestions
	s.AllowLateJoiners = snap.AllowLateJoiners
	s.ExamMode = snap.ExamMode
}

func cloneQuestion(q *domain.Question) *domain.Question {
	if q == nil {
		return nil
	}
	out := *q
	out.Options = append([]domain.Option(nil), q.Options...)
	return &out
}

func clampSeconds(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
