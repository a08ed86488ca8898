package protocol

import (
	"encoding/json"
	"fmt"

	"quizbeam-client/internal/domain"
)

// EventType names a server-pushed event.
type EventType string

const (
	EventAuthenticated     EventType = "authenticated"
	EventAuthError         EventType = "auth_error"
	EventSessionRecovered  EventType = "session_recovered"
	EventRecoveryFailed    EventType = "recovery_failed"
	EventLobbyState        EventType = "lobby_state"
	EventQuizStarted       EventType = "quiz_started"
	EventQuestionStarted   EventType = "question_started"
	EventTimerTick         EventType = "timer_tick"
	EventRevealAnswers     EventType = "reveal_answers"
	EventQuestionSkipped   EventType = "question_skipped"
	EventQuestionVoided    EventType = "question_voided"
	EventQuizEnded         EventType = "quiz_ended"
	EventAnswerAccepted    EventType = "answer_accepted"
	EventAnswerRejected    EventType = "answer_rejected"
	EventParticipantJoined EventType = "participant_joined"
	EventParticipantLeft   EventType = "participant_left"
	EventParticipantKicked EventType = "participant_kicked"
	EventKicked            EventType = "kicked"
	EventBanned            EventType = "banned"
)

// Envelope is the wire frame for both directions: a type tag plus a JSON payload.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Event is one decoded server event. Payload holds a pointer to the typed
// payload struct for the event, or nil for events that carry none.
type Event struct {
	Type    EventType
	Payload any
}

// SessionSnapshot is the server's session state as carried inside handshake
// replies. On the wire it shape-shifts: either a bare phase string or an
// object with a phase field plus extras. UnmarshalJSON normalizes both forms
// so the ambiguity never reaches the reducer.
type SessionSnapshot struct {
	Phase            domain.Phase         `json:"phase"`
	JoinCode         string               `json:"joinCode"`
	ParticipantCount int                  `json:"participantCount"`
	Participants     []domain.Participant `json:"participants"`
	QuestionIndex    int                  `json:"questionIndex"`
	TotalQuestions   int                  `json:"totalQuestions"`
	AllowLateJoiners bool                 `json:"allowLateJoiners"`
	ExamMode         bool                 `json:"examMode"`
}

func (s *SessionSnapshot) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		*s = SessionSnapshot{Phase: domain.Phase(bare), QuestionIndex: -1}
		return nil
	}

	type alias SessionSnapshot
	var full alias
	full.QuestionIndex = -1
	if err := json.Unmarshal(data, &full); err != nil {
		return fmt.Errorf("session state: %w", err)
	}
	*s = SessionSnapshot(full)
	return nil
}

// AuthenticatedPayload confirms a first-time handshake. ParticipantID and
// SessionToken are present when the server minted a fresh identity (join);
// CurrentState seeds the local state machine.
type AuthenticatedPayload struct {
	SessionID     string          `json:"sessionId"`
	ParticipantID string          `json:"participantId,omitempty"`
	SessionToken  string          `json:"sessionToken,omitempty"`
	Nickname      string          `json:"nickname,omitempty"`
	CurrentState  SessionSnapshot `json:"currentState"`
}

// AuthErrorPayload rejects a handshake.
type AuthErrorPayload struct {
	Error string `json:"error"`
}

// SessionRecoveredPayload is the full snapshot that replaces client state
// after a reconnect. Recovery is a replace, never a merge.
type SessionRecoveredPayload struct {
	SessionID       string                    `json:"sessionId"`
	ParticipantID   string                    `json:"participantId"`
	CurrentState    SessionSnapshot           `json:"currentState"`
	CurrentQuestion *domain.Question          `json:"currentQuestion,omitempty"`
	// RemainingTime is seconds left on the current question, already computed
	// against the server clock.
	RemainingTime int                       `json:"remainingTime"`
	TimerState    domain.TimerState         `json:"timerState,omitempty"`
	Leaderboard   []domain.LeaderboardEntry `json:"leaderboard"`
	TotalScore    int                       `json:"totalScore"`
	Rank          int                       `json:"rank"`
	StreakCount   int                       `json:"streakCount"`
	IsEliminated  bool                      `json:"isEliminated"`
	IsSpectator   bool                      `json:"isSpectator"`
	HasAnswered   bool                      `json:"hasAnswered"`
}

// RecoveryFailedPayload carries the reason recovery was refused, e.g.
// session_ended, invalid_token, not_found.
type RecoveryFailedPayload struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// LobbyStatePayload resets the session to the lobby.
type LobbyStatePayload struct {
	JoinCode         string               `json:"joinCode"`
	ParticipantCount int                  `json:"participantCount"`
	Participants     []domain.Participant `json:"participants"`
	AllowLateJoiners bool                 `json:"allowLateJoiners"`
	ExamMode         bool                 `json:"examMode"`
}

// QuizStartedPayload moves the session out of the lobby.
type QuizStartedPayload struct {
	TotalQuestions int `json:"totalQuestions"`
}

// QuestionStartedPayload opens a question. StartTime and EndTime are absolute
// server timestamps in epoch millis; the countdown is derived from EndTime,
// never carried as a duration.
type QuestionStartedPayload struct {
	Question      domain.Question `json:"question"`
	QuestionIndex int             `json:"questionIndex"`
	StartTime     int64           `json:"startTime"`
	EndTime       int64           `json:"endTime"`
}

// TimerTickPayload re-synchronizes the countdown. ServerTime lets the client
// estimate clock drift.
type TimerTickPayload struct {
	QuestionID       string            `json:"questionId"`
	RemainingSeconds int               `json:"remainingSeconds"`
	ServerTime       int64             `json:"serverTime"`
	State            domain.TimerState `json:"state,omitempty"`
}

// RevealAnswersPayload closes the current question and discloses results.
type RevealAnswersPayload struct {
	QuestionID      string         `json:"questionId"`
	CorrectOptions  []string       `json:"correctOptions"`
	Statistics      map[string]int `json:"statistics"`
	ExplanationText string         `json:"explanationText,omitempty"`
}

// QuestionSkippedPayload ends a question early. When ExamModeSkipReveal is
// set the server guarantees an immediate question_started follows, so the
// client must not enter the reveal phase.
type QuestionSkippedPayload struct {
	QuestionID         string `json:"questionId"`
	QuestionIndex      int    `json:"questionIndex"`
	Reason             string `json:"reason,omitempty"`
	ExamModeSkipReveal bool   `json:"examModeSkipReveal"`
}

// QuestionVoidedPayload invalidates a question for scoring.
type QuestionVoidedPayload struct {
	QuestionID string `json:"questionId"`
	Reason     string `json:"reason,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

// QuizEndedPayload is terminal; FinalLeaderboard is the last word.
type QuizEndedPayload struct {
	FinalLeaderboard []domain.LeaderboardEntry `json:"finalLeaderboard"`
}

// AnswerAcceptedPayload acknowledges the most recent submission.
type AnswerAcceptedPayload struct {
	AnswerID       string `json:"answerId"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
}

// AnswerRejectedPayload refuses the most recent submission.
type AnswerRejectedPayload struct {
	Message string `json:"message"`
}

// ParticipantJoinedPayload patches the roster. ParticipantCount is the
// server's absolute count, so duplicate delivery is harmless.
type ParticipantJoinedPayload struct {
	Participant      domain.Participant `json:"participant"`
	ParticipantCount int                `json:"participantCount"`
}

// ParticipantLeftPayload patches the roster.
type ParticipantLeftPayload struct {
	ParticipantID    string `json:"participantId"`
	ParticipantCount int    `json:"participantCount"`
}

// ParticipantKickedPayload patches the roster after a moderation removal.
type ParticipantKickedPayload struct {
	ParticipantID    string `json:"participantId"`
	ParticipantCount int    `json:"participantCount"`
}

// KickedPayload tells this client it was removed. Terminal for the session.
type KickedPayload struct {
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// BannedPayload tells this client it was banned. Terminal for the session.
type BannedPayload struct {
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrUnknownEvent marks event types this client does not understand. Unknown
// events are dropped with a diagnostic, never treated as fatal.
type ErrUnknownEvent struct {
	Type string
}

func (e *ErrUnknownEvent) Error() string {
	return "unknown event type " + e.Type
}

// Decode parses one wire frame into a typed event. Malformed payloads return
// an error so the dispatcher can drop the frame whole; decoding is
// all-or-nothing per event.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	return DecodeEnvelope(env)
}

// DecodeEnvelope resolves an already-parsed envelope into a typed event.
func DecodeEnvelope(env Envelope) (Event, error) {
	typ := EventType(env.Type)
	payload := payloadFor(typ)
	if payload == nil {
		return Event{Type: typ}, &ErrUnknownEvent{Type: env.Type}
	}
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, payload); err != nil {
			return Event{Type: typ}, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	return Event{Type: typ, Payload: payload}, nil
}

func payloadFor(typ EventType) any {
	switch typ {
	case EventAuthenticated:
		return &AuthenticatedPayload{}
	case EventAuthError:
		return &AuthErrorPayload{}
	case EventSessionRecovered:
		return &SessionRecoveredPayload{}
	case EventRecoveryFailed:
		return &RecoveryFailedPayload{}
	case EventLobbyState:
		return &LobbyStatePayload{}
	case EventQuizStarted:
		return &QuizStartedPayload{}
	case EventQuestionStarted:
		return &QuestionStartedPayload{}
	case EventTimerTick:
		return &TimerTickPayload{}
	case EventRevealAnswers:
		return &RevealAnswersPayload{}
	case EventQuestionSkipped:
		return &QuestionSkippedPayload{}
	case EventQuestionVoided:
		return &QuestionVoidedPayload{}
	case EventQuizEnded:
		return &QuizEndedPayload{}
	case EventAnswerAccepted:
		return &AnswerAcceptedPayload{}
	case EventAnswerRejected:
		return &AnswerRejectedPayload{}
	case EventParticipantJoined:
		return &ParticipantJoinedPayload{}
	case EventParticipantLeft:
		return &ParticipantLeftPayload{}
	case EventParticipantKicked:
		return &ParticipantKickedPayload{}
	case EventKicked:
		return &KickedPayload{}
	case EventBanned:
		return &BannedPayload{}
	default:
		return nil
	}
}
