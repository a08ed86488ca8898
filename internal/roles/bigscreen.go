package roles

import (
	"context"
	"fmt"
	"net/url"

	qrcode "github.com/skip2/go-qrcode"

	"quizbeam-client/internal/client"
	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/protocol"
	"quizbeam-client/internal/session"
)

// BigScreenConfig configures the shared projector view.
type BigScreenConfig struct {
	ServerURL string
	SessionID string
	Token     string

	// JoinBaseURL is the public page players open to join; the session's join
	// code is appended as a query parameter when rendering the QR.
	JoinBaseURL string

	Reconnect client.ReconnectPolicy
}

// BigScreen is the read-only projector client. It observes everything and
// sends nothing beyond the handshake.
type BigScreen struct {
	c           *client.Client
	joinBaseURL string
}

func NewBigScreen(cfg BigScreenConfig) (*BigScreen, error) {
	c, err := client.New(client.Options{
		ServerURL: cfg.ServerURL,
		Role:      domain.RoleBigScreen,
		SessionID: cfg.SessionID,
		Token:     cfg.Token,
		Reconnect: cfg.Reconnect,
	})
	if err != nil {
		return nil, err
	}
	return &BigScreen{c: c, joinBaseURL: cfg.JoinBaseURL}, nil
}

// Attach connects and authenticates against the session.
func (b *BigScreen) Attach(ctx context.Context) error {
	switch b.c.Status() {
	case domain.StatusDisconnected, domain.StatusFailed, domain.StatusError:
		return b.c.Connect(ctx)
	default:
		return domain.ErrAlreadyConnected
	}
}

// Detach closes the transport.
func (b *BigScreen) Detach() {
	b.c.Disconnect()
}

// State returns a copy of the current session state.
func (b *BigScreen) State() session.State {
	return b.c.SessionState()
}

// Leaderboard returns the current standings.
func (b *BigScreen) Leaderboard() []domain.LeaderboardEntry {
	return b.c.SessionState().Leaderboard
}

// Timer returns the reconciled countdown for display.
func (b *BigScreen) Timer() domain.TimerSnapshot {
	return b.c.Timer()
}

// Status returns the connection status.
func (b *BigScreen) Status() domain.ConnectionStatus {
	return b.c.Status()
}

// JoinURL builds the address players should open, carrying the session's
// join code. Empty until the server has told us the code.
func (b *BigScreen) JoinURL() (string, error) {
	code := b.c.SessionState().JoinCode
	if code == "" {
		return "", fmt.Errorf("join code not known yet")
	}
	u, err := url.Parse(b.joinBaseURL)
	if err != nil {
		return "", fmt.Errorf("parse join base url: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// JoinQR renders the join URL as a PNG of size x size pixels.
func (b *BigScreen) JoinQR(size int) ([]byte, error) {
	joinURL, err := b.JoinURL()
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(joinURL, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render join qr: %w", err)
	}
	return png, nil
}

// WriteJoinQR renders the join QR straight to a file, for kiosk setups that
// point a static image viewer at it.
func (b *BigScreen) WriteJoinQR(path string, size int) error {
	joinURL, err := b.JoinURL()
	if err != nil {
		return err
	}
	if err := qrcode.WriteFile(joinURL, qrcode.Medium, size, path); err != nil {
		return fmt.Errorf("write join qr: %w", err)
	}
	return nil
}

// OnState subscribes to session state snapshots.
func (b *BigScreen) OnState(fn func(session.State)) func() {
	return b.c.OnState(fn)
}

// OnEvent subscribes to raw server events.
func (b *BigScreen) OnEvent(fn func(protocol.Event)) func() {
	return b.c.OnEvent(fn)
}

// OnStatus subscribes to connection status changes.
func (b *BigScreen) OnStatus(fn func(client.StatusChange)) func() {
	return b.c.OnStatus(fn)
}

// OnTimer subscribes to countdown display updates.
func (b *BigScreen) OnTimer(fn func(domain.TimerSnapshot)) func() {
	return b.c.OnTimer(fn)
}
