package protocol

import (
	"encoding/json"
	"fmt"

	"quizbeam-client/internal/domain"
)

// CommandType names a client-emitted command.
type CommandType string

const (
	CommandAuthenticate     CommandType = "authenticate"
	CommandReconnectSession CommandType = "reconnect_session"
	CommandSubmitAnswer     CommandType = "submit_answer"
	CommandStartQuiz        CommandType = "start_quiz"
	CommandSkipQuestion     CommandType = "skip_question"
	CommandVoidQuestion     CommandType = "void_question"
	CommandPauseTimer       CommandType = "pause_timer"
	CommandResumeTimer      CommandType = "resume_timer"
	CommandEndQuiz          CommandType = "end_quiz"
)

// AuthenticateCommand is the first frame after the transport opens. For a
// fresh participant join it carries JoinCode and Nickname and no token; for a
// controller or big screen it carries the session token issued at setup.
type AuthenticateCommand struct {
	SessionID string      `json:"sessionId,omitempty"`
	JoinCode  string      `json:"joinCode,omitempty"`
	Token     string      `json:"token,omitempty"`
	Role      domain.Role `json:"role"`
	Nickname  string      `json:"nickname,omitempty"`
}

// ReconnectSessionCommand requests a full-snapshot recovery instead of a
// fresh authenticate.
type ReconnectSessionCommand struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	Token         string `json:"token,omitempty"`
}

// SubmitAnswerCommand carries one answer. ClientTimestamp is epoch millis at
// the moment the user answered, which may predate delivery when the answer
// was queued offline.
type SubmitAnswerCommand struct {
	QuestionID      string   `json:"questionId"`
	SelectedOptions []string `json:"selectedOptions,omitempty"`
	ClientTimestamp int64    `json:"clientTimestamp"`
	AnswerNumber    *float64 `json:"answerNumber,omitempty"`
	AnswerText      string   `json:"answerText,omitempty"`
}

// QuestionRefCommand targets a command at one question (skip, void, pause, resume).
type QuestionRefCommand struct {
	QuestionID string `json:"questionId"`
	Reason     string `json:"reason,omitempty"`
}

// EmptyCommand is the payload of commands that need none (start_quiz, end_quiz).
type EmptyCommand struct{}

// EncodeCommand frames a command for the wire.
func EncodeCommand(typ CommandType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	return json.Marshal(Envelope{Type: string(typ), Payload: raw})
}

// roleCommands is the per-role allow list. Handshake commands are allowed for
// every role; the big screen is otherwise read-only.
var roleCommands = map[domain.Role]map[CommandType]bool{
	domain.RoleParticipant: {
		CommandAuthenticate:     true,
		CommandReconnectSession: true,
		CommandSubmitAnswer:     true,
	},
	domain.RoleBigScreen: {
		CommandAuthenticate:     true,
		CommandReconnectSession: true,
	},
	domain.RoleController: {
		CommandAuthenticate:     true,
		CommandReconnectSession: true,
		CommandStartQuiz:        true,
		CommandSkipQuestion:     true,
		CommandVoidQuestion:     true,
		CommandPauseTimer:       true,
		CommandResumeTimer:      true,
		CommandEndQuiz:          true,
	},
}

// CommandAllowed reports whether a role may emit a command type.
func CommandAllowed(role domain.Role, typ CommandType) bool {
	return roleCommands[role][typ]
}
