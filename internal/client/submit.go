package client

import (
	"context"
	"errors"
	"fmt"

	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/protocol"
	"quizbeam-client/internal/queue"
)

// SubmitAnswer delivers one answer for the current question. Online, it
// waits for the server's accept or reject, one submission in flight at a
// time. Offline or on transport failure the answer is captured in the
// replay queue and ErrQueuedOffline is returned. An acknowledgment that
// never arrives leaves the answer queued and returns ErrAckTimeout.
func (c *Client) SubmitAnswer(ctx context.Context, cmd protocol.SubmitAnswerCommand) (domain.AnswerReceipt, error) {
	if !protocol.CommandAllowed(c.opts.Role, protocol.CommandSubmitAnswer) {
		return domain.AnswerReceipt{}, domain.ErrRoleForbidden
	}
	if cmd.QuestionID == "" {
		return domain.AnswerReceipt{}, fmt.Errorf("submit answer: question id required")
	}
	if cmd.ClientTimestamp == 0 {
		cmd.ClientTimestamp = c.clock.Now().UnixMilli()
	}

	if c.SessionState().Ended() {
		return domain.AnswerReceipt{}, domain.ErrSessionEnded
	}

	if c.Status() != domain.StatusConnected {
		return domain.AnswerReceipt{}, c.enqueueAnswer(ctx, cmd)
	}

	ackCtx, cancel := context.WithTimeout(ctx, c.opts.AckTimeout)
	defer cancel()
	receipt, err := c.sendAnswerAwait(ackCtx, cmd)
	switch {
	case err == nil:
		return receipt, nil
	case errors.Is(err, domain.ErrNotConnected):
		// The connection dropped under us; keep the answer for replay.
		return domain.AnswerReceipt{}, c.enqueueAnswer(ctx, cmd)
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		// No verdict. Queue it so replay can settle the question; the server
		// deduplicates re-delivery.
		if qerr := c.enqueueAnswer(ctx, cmd); qerr != nil && !errors.Is(qerr, domain.ErrQueuedOffline) {
			return domain.AnswerReceipt{}, qerr
		}
		return domain.AnswerReceipt{}, domain.ErrAckTimeout
	default:
		return domain.AnswerReceipt{}, err
	}
}

// sendAnswerAwait writes one submit_answer frame and blocks until the
// server's verdict or ctx expiry. Also used by the offline flush.
func (c *Client) sendAnswerAwait(ctx context.Context, cmd protocol.SubmitAnswerCommand) (domain.AnswerReceipt, error) {
	ackCh, err := c.registerAck()
	if err != nil {
		return domain.AnswerReceipt{}, err
	}

	frame, err := protocol.EncodeCommand(protocol.CommandSubmitAnswer, cmd)
	if err != nil {
		c.abandonAck(ackCh)
		return domain.AnswerReceipt{}, err
	}
	if err := c.sendFrame(frame); err != nil {
		c.abandonAck(ackCh)
		return domain.AnswerReceipt{}, err
	}

	select {
	case out := <-ackCh:
		return out.receipt, out.err
	case <-ctx.Done():
		c.abandonAck(ackCh)
		return domain.AnswerReceipt{}, ctx.Err()
	}
}

// enqueueAnswer captures an answer for later replay. Returns
// ErrQueuedOffline on success so callers can distinguish capture from
// delivery.
func (c *Client) enqueueAnswer(ctx context.Context, cmd protocol.SubmitAnswerCommand) error {
	sid, pid := c.identity()
	if pid == "" {
		return domain.ErrNotConnected
	}
	ok, err := c.queue.Enqueue(ctx, queue.Action{
		Key: queue.Key{
			SessionID:     sid,
			ParticipantID: pid,
			QuestionID:    cmd.QuestionID,
		},
		Command: cmd,
	})
	if err != nil {
		return fmt.Errorf("queue answer: %w", err)
	}
	if !ok {
		return domain.ErrSessionEnded
	}
	return domain.ErrQueuedOffline
}

// SendCommand emits a fire-and-forget control command, subject to the
// client's role. Control commands are not queued offline; drive the quiz
// only over a live connection.
func (c *Client) SendCommand(ctx context.Context, typ protocol.CommandType, payload any) error {
	if !protocol.CommandAllowed(c.opts.Role, typ) {
		return domain.ErrRoleForbidden
	}
	if c.Status() != domain.StatusConnected {
		return domain.ErrNotConnected
	}
	if payload == nil {
		payload = protocol.EmptyCommand{}
	}
	frame, err := protocol.EncodeCommand(typ, payload)
	if err != nil {
		return err
	}
	return c.sendFrame(frame)
}

// sendFrame hands a frame to the writer pump of the current connection.
func (c *Client) sendFrame(frame []byte) error {
	c.connMu.RLock()
	send, stop := c.send, c.connStop
	c.connMu.RUnlock()
	if send == nil {
		return domain.ErrNotConnected
	}
	select {
	case send <- frame:
		return nil
	case <-stop:
		return domain.ErrNotConnected
	}
}
