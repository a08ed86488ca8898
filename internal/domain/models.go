package domain

import "time"

// Role identifies which kind of client is attached to a session.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleBigScreen   Role = "bigscreen"
	RoleController  Role = "controller"
)

// Phase is the authoritative quiz phase as reported by the server.
// Transitions are monotonic except for the ACTIVE_QUESTION/REVEAL loop and
// the exam-mode skip that goes straight to the next question. ENDED is terminal.
type Phase string

const (
	PhaseLobby          Phase = "LOBBY"
	PhaseActiveQuestion Phase = "ACTIVE_QUESTION"
	PhaseReveal         Phase = "REVEAL"
	PhaseEnded          Phase = "ENDED"
)

// ConnectionStatus tracks one transport connection. Only the connection
// lifecycle manager may change it.
type ConnectionStatus string

const (
	StatusDisconnected   ConnectionStatus = "disconnected"
	StatusConnecting     ConnectionStatus = "connecting"
	StatusAuthenticating ConnectionStatus = "authenticating"
	StatusConnected      ConnectionStatus = "connected"
	StatusReconnecting   ConnectionStatus = "reconnecting"
	StatusFailed         ConnectionStatus = "failed"
	StatusError          ConnectionStatus = "error"
)

// TimerState mirrors the server-declared countdown state. The client never
// infers pause locally; it only reflects what the server sent.
type TimerState string

const (
	TimerIdle    TimerState = "idle"
	TimerRunning TimerState = "running"
	TimerPaused  TimerState = "paused"
	TimerExpired TimerState = "expired"
)

// Option is one selectable answer of a question. Correctness is never sent
// with the question itself; it arrives separately in the reveal.
type Option struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Question is the client view of the current question.
type Question struct {
	ID               string   `json:"id"`
	Text             string   `json:"text"`
	Options          []Option `json:"options"`
	TimeLimitSeconds int      `json:"timeLimitSeconds"`
	MultipleChoice   bool     `json:"multipleChoice"`
	// Free-text questions carry no options and are answered with answerText.
	FreeText bool `json:"freeText,omitempty"`
}

// TimerSnapshot is the reconciled countdown for the current question.
// RemainingSeconds is derived from the server-anchored end time, never a
// free-running local count.
type TimerSnapshot struct {
	QuestionID       string     `json:"questionId"`
	RemainingSeconds int        `json:"remainingSeconds"`
	TotalSeconds     int        `json:"totalSeconds"`
	State            TimerState `json:"state"`
	// ServerTime is the server clock at the last observation, epoch millis.
	ServerTime int64 `json:"serverTime"`
}

// Participant is a roster entry as broadcast to every role.
type Participant struct {
	ID       string `json:"id"`
	Nickname string `json:"nickname"`
}

// LeaderboardEntry is one scoreboard row.
type LeaderboardEntry struct {
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname"`
	Score         int    `json:"score"`
	Rank          int    `json:"rank"`
	Streak        int    `json:"streak,omitempty"`
}

// Reveal holds what the server discloses after a question closes.
type Reveal struct {
	QuestionID     string         `json:"questionId"`
	CorrectOptions []string       `json:"correctOptions"`
	Statistics     map[string]int `json:"statistics"`
	Explanation    string         `json:"explanationText,omitempty"`
}

// AnswerReceipt acknowledges an accepted submission.
type AnswerReceipt struct {
	AnswerID       string `json:"answerId"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
}

// SelfState is the personal slice of session state for a participant,
// populated on join and refreshed wholesale by recovery snapshots.
type SelfState struct {
	ParticipantID string `json:"participantId"`
	Nickname      string `json:"nickname"`
	Score         int    `json:"totalScore"`
	Rank          int    `json:"rank"`
	Streak        int    `json:"streakCount"`
	Eliminated    bool   `json:"isEliminated"`
	Spectator     bool   `json:"isSpectator"`
}

// Credential is the single durable record that anchors session recovery.
// It outlives the in-memory session state and is erased on explicit leave,
// kick, ban, or a failed recovery.
type Credential struct {
	SessionID           string    `json:"sessionId"`
	ParticipantID       string    `json:"participantId"`
	SessionToken        string    `json:"sessionToken"`
	Nickname            string    `json:"nickname"`
	LastKnownQuestionID string    `json:"lastKnownQuestionId,omitempty"`
	Role                Role      `json:"role"`
	SavedAt             time.Time `json:"savedAt"`
}

// SessionResult is the archived outcome of an ended session.
type SessionResult struct {
	SessionID   string             `json:"sessionId"`
	JoinCode    string             `json:"joinCode"`
	EndedAt     time.Time          `json:"endedAt"`
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Self        SelfState          `json:"self"`
}
