package roles

import (
	"context"

	"quizbeam-client/internal/client"
	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/protocol"
	"quizbeam-client/internal/session"
)

// ControllerConfig configures the host console.
type ControllerConfig struct {
	ServerURL string
	SessionID string
	Token     string

	Reconnect client.ReconnectPolicy
}

// Controller drives a quiz: it starts it, skips and voids questions, pauses
// the timer, and ends the session. Commands are fire-and-forget; outcomes
// arrive as ordinary events.
type Controller struct {
	c *client.Client
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	c, err := client.New(client.Options{
		ServerURL: cfg.ServerURL,
		Role:      domain.RoleController,
		SessionID: cfg.SessionID,
		Token:     cfg.Token,
		Reconnect: cfg.Reconnect,
	})
	if err != nil {
		return nil, err
	}
	return &Controller{c: c}, nil
}

// Attach connects and authenticates against the session.
func (ct *Controller) Attach(ctx context.Context) error {
	switch ct.c.Status() {
	case domain.StatusDisconnected, domain.StatusFailed, domain.StatusError:
		return ct.c.Connect(ctx)
	default:
		return domain.ErrAlreadyConnected
	}
}

// Detach closes the transport.
func (ct *Controller) Detach() {
	ct.c.Disconnect()
}

// StartQuiz moves the session out of the lobby.
func (ct *Controller) StartQuiz(ctx context.Context) error {
	return ct.c.SendCommand(ctx, protocol.CommandStartQuiz, nil)
}

// SkipQuestion ends the current question early.
func (ct *Controller) SkipQuestion(ctx context.Context, questionID, reason string) error {
	return ct.c.SendCommand(ctx, protocol.CommandSkipQuestion, protocol.QuestionRefCommand{
		QuestionID: questionID,
		Reason:     reason,
	})
}

// VoidQuestion invalidates a question for scoring.
func (ct *Controller) VoidQuestion(ctx context.Context, questionID, reason string) error {
	return ct.c.SendCommand(ctx, protocol.CommandVoidQuestion, protocol.QuestionRefCommand{
		QuestionID: questionID,
		Reason:     reason,
	})
}

// PauseTimer freezes the countdown of the current question.
func (ct *Controller) PauseTimer(ctx context.Context, questionID string) error {
	return ct.c.SendCommand(ctx, protocol.CommandPauseTimer, protocol.QuestionRefCommand{
		QuestionID: questionID,
	})
}

// ResumeTimer restarts a paused countdown.
func (ct *Controller) ResumeTimer(ctx context.Context, questionID string) error {
	return ct.c.SendCommand(ctx, protocol.CommandResumeTimer, protocol.QuestionRefCommand{
		QuestionID: questionID,
	})
}

// EndQuiz terminates the session.
func (ct *Controller) EndQuiz(ctx context.Context) error {
	return ct.c.SendCommand(ctx, protocol.CommandEndQuiz, nil)
}

// State returns a copy of the current session state.
func (ct *Controller) State() session.State {
	return ct.c.SessionState()
}

// Timer returns the reconciled countdown.
func (ct *Controller) Timer() domain.TimerSnapshot {
	return ct.c.Timer()
}

// Status returns the connection status.
func (ct *Controller) Status() domain.ConnectionStatus {
	return ct.c.Status()
}

// OnState subscribes to session state snapshots.
func (ct *Controller) OnState(fn func(session.State)) func() {
	return ct.c.OnState(fn)
}

// OnStatus subscribes to connection status changes.
func (ct *Controller) OnStatus(fn func(client.StatusChange)) func() {
	return ct.c.OnStatus(fn)
}
