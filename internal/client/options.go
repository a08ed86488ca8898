package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/queue"
)

// ReconnectPolicy bounds the automatic reconnect loop. Delays grow
// exponentially from InitialDelay to MaxDelay; after MaxAttempts consecutive
// failures the client gives up and reports StatusFailed.
type ReconnectPolicy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultReconnectPolicy mirrors the server's expectation that clients back
// off quickly at first and settle around half a minute.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		MaxAttempts:  10,
	}
}

// Options configures a Client. ServerURL and Role are required; what else is
// needed depends on the role: participants join with JoinCode and Nickname,
// controllers and big screens attach to a known SessionID with a Token.
type Options struct {
	ServerURL string
	Role      domain.Role

	JoinCode string
	Nickname string

	SessionID string
	Token     string

	// Credentials persists the session identity across restarts. When nil the
	// identity lives only as long as the Client.
	Credentials CredentialStore

	// QueueStore holds offline answers. When nil an in-process store is used.
	QueueStore queue.Store

	Reconnect        ReconnectPolicy
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	AckTimeout       time.Duration
	PingInterval     time.Duration

	// Clock is swapped for a fake in tests.
	Clock clockwork.Clock

	// Dialer opens the WebSocket. Defaults to gorilla's DefaultDialer.
	Dialer Dialer
}

func (o *Options) withDefaults() (Options, error) {
	out := *o
	if out.ServerURL == "" {
		return out, errors.New("client: ServerURL is required")
	}
	switch out.Role {
	case domain.RoleParticipant:
		if out.JoinCode == "" && out.SessionID == "" {
			return out, errors.New("client: participant needs a JoinCode or SessionID")
		}
	case domain.RoleBigScreen, domain.RoleController:
		if out.SessionID == "" {
			return out, fmt.Errorf("client: role %s needs a SessionID", out.Role)
		}
	default:
		return out, fmt.Errorf("client: unknown role %q", out.Role)
	}

	if out.Reconnect.InitialDelay <= 0 {
		out.Reconnect.InitialDelay = DefaultReconnectPolicy().InitialDelay
	}
	if out.Reconnect.MaxDelay <= 0 {
		out.Reconnect.MaxDelay = DefaultReconnectPolicy().MaxDelay
	}
	if out.Reconnect.MaxAttempts <= 0 {
		out.Reconnect.MaxAttempts = DefaultReconnectPolicy().MaxAttempts
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 10 * time.Second
	}
	if out.AckTimeout <= 0 {
		out.AckTimeout = queue.DefaultAckTimeout
	}
	if out.PingInterval <= 0 {
		out.PingInterval = 30 * time.Second
	}
	if out.Clock == nil {
		out.Clock = clockwork.NewRealClock()
	}
	return out, nil
}
