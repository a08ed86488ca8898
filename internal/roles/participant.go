// Package roles wraps the client core in the three role surfaces the
// platform knows: participant, big screen, and controller. All three share
// the same connection lifecycle and state machine; they differ in which
// commands they may send and which accessors matter.
package roles

import (
	"context"
	"fmt"

	"quizbeam-client/internal/client"
	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/protocol"
	"quizbeam-client/internal/queue"
	"quizbeam-client/internal/session"
)

// ParticipantConfig configures a playing client.
type ParticipantConfig struct {
	ServerURL string
	JoinCode  string
	Nickname  string

	// Credentials enables rejoining the same session after a restart.
	Credentials client.CredentialStore
	// QueueStore holds answers captured while offline.
	QueueStore queue.Store

	Reconnect client.ReconnectPolicy
}

// Participant is a player in a session.
type Participant struct {
	c *client.Client
}

func NewParticipant(cfg ParticipantConfig) (*Participant, error) {
	c, err := client.New(client.Options{
		ServerURL:   cfg.ServerURL,
		Role:        domain.RoleParticipant,
		JoinCode:    cfg.JoinCode,
		Nickname:    cfg.Nickname,
		Credentials: cfg.Credentials,
		QueueStore:  cfg.QueueStore,
		Reconnect:   cfg.Reconnect,
	})
	if err != nil {
		return nil, err
	}
	return &Participant{c: c}, nil
}

// Join connects and authenticates. Joining twice without leaving first is an
// error; reconnection after drops is automatic and needs no second Join.
func (p *Participant) Join(ctx context.Context) error {
	switch p.c.Status() {
	case domain.StatusDisconnected, domain.StatusFailed, domain.StatusError:
		return p.c.Connect(ctx)
	default:
		return domain.ErrAlreadyConnected
	}
}

// Answer submits the selected options for the displayed question. While
// offline the answer is queued and ErrQueuedOffline returned. While online
// an answer for a question that is not open is refused locally.
func (p *Participant) Answer(ctx context.Context, questionID string, optionIDs ...string) (domain.AnswerReceipt, error) {
	return p.submit(ctx, protocol.SubmitAnswerCommand{
		QuestionID:      questionID,
		SelectedOptions: optionIDs,
	})
}

// AnswerNumber submits a numeric answer.
func (p *Participant) AnswerNumber(ctx context.Context, questionID string, value float64) (domain.AnswerReceipt, error) {
	return p.submit(ctx, protocol.SubmitAnswerCommand{
		QuestionID:   questionID,
		AnswerNumber: &value,
	})
}

// AnswerText submits a free-text answer.
func (p *Participant) AnswerText(ctx context.Context, questionID, text string) (domain.AnswerReceipt, error) {
	return p.submit(ctx, protocol.SubmitAnswerCommand{
		QuestionID: questionID,
		AnswerText: text,
	})
}

func (p *Participant) submit(ctx context.Context, cmd protocol.SubmitAnswerCommand) (domain.AnswerReceipt, error) {
	st := p.c.SessionState()
	if st.Ended() {
		return domain.AnswerReceipt{}, domain.ErrSessionEnded
	}
	if st.CurrentQuestion == nil || st.CurrentQuestion.ID != cmd.QuestionID {
		return domain.AnswerReceipt{}, fmt.Errorf("%w: question %s is not the current question", domain.ErrAnswerRejected, cmd.QuestionID)
	}
	// Online we know whether the question is open; offline the queue captures
	// the answer and replay lets the server judge it.
	if p.c.Status() == domain.StatusConnected && !st.QuestionOpen() {
		return domain.AnswerReceipt{}, fmt.Errorf("%w: question %s is closed", domain.ErrAnswerRejected, cmd.QuestionID)
	}
	return p.c.SubmitAnswer(ctx, cmd)
}

// Leave exits the session for good: the stored identity and any queued
// answers are discarded.
func (p *Participant) Leave(ctx context.Context) {
	p.c.Leave(ctx)
}

// Disconnect closes the transport but keeps the identity, so a later Join
// recovers the same seat.
func (p *Participant) Disconnect() {
	p.c.Disconnect()
}

// State returns a copy of the current session state.
func (p *Participant) State() session.State {
	return p.c.SessionState()
}

// Self returns this player's personal slice of state.
func (p *Participant) Self() domain.SelfState {
	return p.c.SessionState().Self
}

// Credential returns the stored session identity, if one exists.
func (p *Participant) Credential() (domain.Credential, bool) {
	return p.c.Credential()
}

// Timer returns the reconciled countdown for display.
func (p *Participant) Timer() domain.TimerSnapshot {
	return p.c.Timer()
}

// Status returns the connection status.
func (p *Participant) Status() domain.ConnectionStatus {
	return p.c.Status()
}

// QueuedAnswers reports answers waiting for replay.
func (p *Participant) QueuedAnswers(ctx context.Context) (int, error) {
	return p.c.QueuedAnswers(ctx)
}

// OnState subscribes to session state snapshots.
func (p *Participant) OnState(fn func(session.State)) func() {
	return p.c.OnState(fn)
}

// OnStatus subscribes to connection status changes.
func (p *Participant) OnStatus(fn func(client.StatusChange)) func() {
	return p.c.OnStatus(fn)
}

// OnTimer subscribes to countdown display updates.
func (p *Participant) OnTimer(fn func(domain.TimerSnapshot)) func() {
	return p.c.OnTimer(fn)
}
