package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/protocol"
)

// handshake runs the first exchange on a fresh transport. With a stored
// credential it asks for session recovery, otherwise it authenticates from
// scratch. It reads frames until the server gives an explicit verdict;
// ordinary session events arriving before the verdict are dispatched as
// usual. Returns whether the session was recovered rather than freshly
// joined.
func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) (recovered bool, err error) {
	c.mu.RLock()
	cred, hasCred := c.cred, c.hasCred
	c.mu.RUnlock()

	recovering := hasCred && cred.ParticipantID != "" && cred.SessionToken != ""

	var frame []byte
	if recovering {
		frame, err = protocol.EncodeCommand(protocol.CommandReconnectSession, protocol.ReconnectSessionCommand{
			SessionID:     cred.SessionID,
			ParticipantID: cred.ParticipantID,
			Token:         cred.SessionToken,
		})
	} else {
		frame, err = protocol.EncodeCommand(protocol.CommandAuthenticate, protocol.AuthenticateCommand{
			SessionID: c.opts.SessionID,
			JoinCode:  c.opts.JoinCode,
			Token:     c.opts.Token,
			Role:      c.opts.Role,
			Nickname:  c.opts.Nickname,
		})
	}
	if err != nil {
		return false, err
	}

	deadline := time.Now().Add(c.opts.HandshakeTimeout)
	conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return false, fmt.Errorf("send handshake: %w", err)
	}
	conn.SetReadDeadline(deadline)

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return false, fmt.Errorf("handshake read: %w", err)
		}

		ev, derr := protocol.Decode(data)
		if derr != nil {
			var unknown *protocol.ErrUnknownEvent
			if errors.As(derr, &unknown) {
				c.log.Debug().Str("event_type", unknown.Type).Msg("ignoring unknown event during handshake")
			} else {
				c.log.Warn().Err(derr).Msg("dropping malformed frame during handshake")
			}
			continue
		}

		switch p := ev.Payload.(type) {
		case *protocol.AuthenticatedPayload:
			c.applyEvent(ev)
			c.adoptIdentity(ctx, p)
			c.log.Info().Str("session_id", p.SessionID).Msg("authenticated")
			return false, nil

		case *protocol.SessionRecoveredPayload:
			c.applyEvent(ev)
			c.log.Info().
				Str("session_id", p.SessionID).
				Str("participant_id", p.ParticipantID).
				Msg("session recovered")
			return true, nil

		case *protocol.AuthErrorPayload:
			rejection := fmt.Errorf("%w: %s", domain.ErrAuthRejected, p.Error)
			c.setStatus(domain.StatusError, 0, rejection)
			return false, rejection

		case *protocol.RecoveryFailedPayload:
			c.purgeCredential(ctx)
			base := domain.ErrRecoveryFailed
			if p.Reason == "session_ended" {
				base = domain.ErrSessionEnded
			}
			reason := p.Message
			if reason == "" {
				reason = p.Reason
			}
			rejection := fmt.Errorf("%w: %s", base, reason)
			c.setStatus(domain.StatusError, 0, rejection)
			return false, rejection

		default:
			// Broadcast events can race the handshake reply; apply them.
			c.applyEvent(ev)
		}
	}
}

// adoptIdentity stores the identity minted by a fresh join so later
// reconnects can recover instead of re-joining. Handshakes that answer with
// no participant identity (token-authenticated viewers) leave the client
// credential-less and reconnection re-authenticates.
func (c *Client) adoptIdentity(ctx context.Context, p *protocol.AuthenticatedPayload) {
	if p.ParticipantID == "" || p.SessionToken == "" {
		return
	}
	nickname := p.Nickname
	if nickname == "" {
		nickname = c.opts.Nickname
	}
	c.saveCredential(ctx, domain.Credential{
		SessionID:     p.SessionID,
		ParticipantID: p.ParticipantID,
		SessionToken:  p.SessionToken,
		Nickname:      nickname,
		Role:          c.opts.Role,
	})
}
