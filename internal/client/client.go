// Package client maintains an authenticated session against a quiz server:
// it owns the WebSocket lifecycle, rebuilds session state from the event
// stream, recovers after drops, and replays answers queued while offline.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/infra/memory"
	"quizbeam-client/internal/protocol"
	"quizbeam-client/internal/queue"
	"quizbeam-client/internal/session"
	"quizbeam-client/internal/timer"
)

// Dialer opens WebSocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type ackOutcome struct {
	receipt domain.AnswerReceipt
	err     error
}

// Client is one role's connection to one session. Construct with New, start
// with Connect, end with Disconnect or Leave. All callbacks fire on client
// goroutines and must not call Disconnect or block for long.
type Client struct {
	opts   Options
	dialer Dialer
	clock  clockwork.Clock
	log    zerolog.Logger

	queue      *queue.Queue
	creds      CredentialStore
	reconciler *timer.Reconciler
	countdown  *timer.Countdown
	hub        *hub

	connectGroup singleflight.Group

	mu            sync.RWMutex
	status        domain.ConnectionStatus
	state         session.State
	cred          domain.Credential
	hasCred       bool
	attempt       int
	everConnected bool
	lastErr       error
	lifeCtx       context.Context
	lifeCancel    context.CancelFunc

	connMu      sync.RWMutex
	conn        *websocket.Conn
	send        chan []byte
	connStop    chan struct{}
	sessionDone chan struct{}

	ackMu sync.Mutex
	ackCh chan ackOutcome
}

// New validates opts and returns a disconnected client.
func New(opts Options) (*Client, error) {
	full, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	c := &Client{
		opts:   full,
		clock:  full.Clock,
		creds:  full.Credentials,
		hub:    newHub(),
		status: domain.StatusDisconnected,
		state:  session.Empty(),
		log:    log.With().Str("component", "client").Str("role", string(full.Role)).Logger(),
	}
	c.dialer = full.Dialer
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	store := full.QueueStore
	if store == nil {
		store = memory.NewActionStore()
	}
	c.queue = queue.New(store, full.Clock, full.AckTimeout)
	c.reconciler = timer.NewReconciler(full.Clock)
	c.countdown = timer.NewCountdown(c.reconciler, full.Clock, c.hub.notifyTimer)
	return c, nil
}

// Connect opens the transport and runs the authentication handshake, blocking
// until the client is connected or the retry budget is spent. It is
// idempotent: while already connected or connecting it returns nil, and
// concurrent calls share one attempt. ctx bounds the connect cycle only; the
// session itself lives until Disconnect.
func (c *Client) Connect(ctx context.Context) error {
	_, err, _ := c.connectGroup.Do("connect", func() (any, error) {
		return nil, c.connect(ctx)
	})
	return err
}

func (c *Client) connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.status {
	case domain.StatusDisconnected, domain.StatusFailed, domain.StatusError:
	default:
		c.mu.Unlock()
		return nil
	}
	lifeCtx, cancel := context.WithCancel(context.Background())
	c.lifeCtx, c.lifeCancel = lifeCtx, cancel
	c.state = session.Empty()
	c.everConnected = false
	c.lastErr = nil
	c.mu.Unlock()

	c.reconciler.Reset()
	c.queue.SetAccepting(true)

	cred, ok, err := c.loadCredential(ctx)
	switch {
	case err == nil && ok:
		c.mu.Lock()
		c.cred, c.hasCred = cred, true
		c.mu.Unlock()
	case errors.Is(err, domain.ErrCredentialExpired):
		// A participant without a join code has no way back in.
		if c.opts.Role == domain.RoleParticipant && c.opts.JoinCode == "" {
			c.setStatus(domain.StatusError, 0, err)
			return err
		}
		c.log.Info().Msg("stored session token expired, joining fresh")
	case err != nil:
		return err
	}

	if err := c.attemptOnce(ctx, lifeCtx); err != nil {
		if isTerminalConnectErr(err) {
			return err
		}
		return c.retryLoop(ctx, lifeCtx, err)
	}
	return nil
}

// attemptOnce dials, handshakes, and on success installs the pumps.
func (c *Client) attemptOnce(ctx context.Context, lifeCtx context.Context) error {
	c.setStatus(domain.StatusConnecting, c.ReconnectAttempt(), nil)

	dialCtx, cancel := context.WithTimeout(ctx, c.opts.HandshakeTimeout)
	conn, resp, err := c.dialer.DialContext(dialCtx, c.opts.ServerURL, nil)
	cancel()
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return fmt.Errorf("dial %s: %w", c.opts.ServerURL, err)
	}

	c.setStatus(domain.StatusAuthenticating, c.ReconnectAttempt(), nil)
	recovered, err := c.handshake(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}
	if lifeCtx.Err() != nil {
		conn.Close()
		return domain.ErrNotConnected
	}

	c.startPumps(lifeCtx, conn)
	c.setStatus(domain.StatusConnected, 0, nil)
	c.afterConnected(lifeCtx, recovered)
	return nil
}

// retryLoop runs the bounded exponential backoff schedule. Terminal
// handshake rejections abort it; transport errors consume attempts until the
// budget is gone and the client fails.
func (c *Client) retryLoop(ctx context.Context, lifeCtx context.Context, firstErr error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.Reconnect.InitialDelay
	bo.MaxInterval = c.opts.Reconnect.MaxDelay
	bo.MaxElapsedTime = 0
	bo.Reset()

	lastErr := firstErr
	for attempt := 1; attempt <= c.opts.Reconnect.MaxAttempts; attempt++ {
		c.setStatus(domain.StatusReconnecting, attempt, lastErr)
		select {
		case <-c.clock.After(bo.NextBackOff()):
		case <-lifeCtx.Done():
			return domain.ErrNotConnected
		case <-ctx.Done():
			return ctx.Err()
		}

		err := c.attemptOnce(ctx, lifeCtx)
		if err == nil {
			return nil
		}
		if isTerminalConnectErr(err) {
			return err
		}
		lastErr = err
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("reconnect attempt failed")
	}

	err := fmt.Errorf("reconnect budget exhausted: %w", lastErr)
	c.setStatus(domain.StatusFailed, c.opts.Reconnect.MaxAttempts, err)
	return err
}

// isTerminalConnectErr reports errors that must not be retried: explicit
// server rejections, moderation, and teardown.
func isTerminalConnectErr(err error) bool {
	return errors.Is(err, domain.ErrAuthRejected) ||
		errors.Is(err, domain.ErrRecoveryFailed) ||
		errors.Is(err, domain.ErrSessionEnded) ||
		errors.Is(err, domain.ErrCredentialExpired) ||
		errors.Is(err, domain.ErrNotConnected) ||
		errors.Is(err, context.Canceled)
}

func (c *Client) startPumps(lifeCtx context.Context, conn *websocket.Conn) {
	send := make(chan []byte, 16)
	stop := make(chan struct{})
	done := make(chan struct{})

	c.connMu.Lock()
	c.conn, c.send, c.connStop, c.sessionDone = conn, send, stop, done
	c.connMu.Unlock()

	go c.writeLoop(conn, send, stop)
	go c.runSession(lifeCtx, conn, stop, done)
	c.countdown.Start()
}

// runSession owns the read side of one connection. When the transport drops
// unexpectedly it turns into the reconnect loop; it exits for good on
// teardown or terminal failure.
func (c *Client) runSession(lifeCtx context.Context, conn *websocket.Conn, stop, done chan struct{}) {
	defer close(done)

	readErr := c.readLoop(conn)
	close(stop)
	c.resolveAck(ackOutcome{err: domain.ErrNotConnected})

	if lifeCtx.Err() != nil {
		return
	}

	c.log.Warn().Err(readErr).Msg("connection lost")
	if err := c.retryLoop(lifeCtx, lifeCtx, readErr); err != nil && !errors.Is(err, domain.ErrNotConnected) {
		c.log.Error().Err(err).Msg("automatic reconnection gave up")
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	readWait := 2 * c.opts.PingInterval
	conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readWait))

		ev, err := protocol.Decode(data)
		if err != nil {
			var unknown *protocol.ErrUnknownEvent
			if errors.As(err, &unknown) {
				c.log.Debug().Str("event_type", unknown.Type).Msg("ignoring unknown event")
			} else {
				c.log.Warn().Err(err).Msg("dropping malformed event")
			}
			continue
		}
		c.applyEvent(ev)
	}
}

func (c *Client) writeLoop(conn *websocket.Conn, send chan []byte, stop chan struct{}) {
	ping := c.clock.NewTicker(c.opts.PingInterval)
	defer ping.Stop()

	for {
		select {
		case data := <-send:
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug().Err(err).Msg("write failed")
				conn.Close()
				return
			}
		case <-ping.Chan():
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		case <-stop:
			return
		}
	}
}

// applyEvent is the single dispatch path for decoded server events, used by
// both the handshake reader and the steady-state read loop. Lifecycle events
// resolve acks or tear the session down; everything else goes through the
// reducer, and observers are notified outside any lock.
func (c *Client) applyEvent(ev protocol.Event) {
	switch p := ev.Payload.(type) {
	case *protocol.AnswerAcceptedPayload:
		c.resolveAck(ackOutcome{receipt: domain.AnswerReceipt{
			AnswerID:       p.AnswerID,
			ResponseTimeMs: p.ResponseTimeMs,
		}})
	case *protocol.AnswerRejectedPayload:
		c.resolveAck(ackOutcome{err: fmt.Errorf("%w: %s", domain.ErrAnswerRejected, p.Message)})
	case *protocol.KickedPayload:
		c.moderationExit(domain.ErrKicked, p.Message)
	case *protocol.BannedPayload:
		c.moderationExit(domain.ErrBanned, p.Message)
	}

	c.mu.Lock()
	next, applied := session.Reduce(c.state, ev, c.clock.Now())
	var snapshot session.State
	if applied {
		c.state = next
		snapshot = next.Clone()
	}
	c.mu.Unlock()

	if applied {
		c.reconciler.Observe(ev)
		c.eventSideEffects(ev, snapshot)
	}
	c.hub.notifyEvent(ev)
	if applied {
		c.hub.notifyState(snapshot)
	}
}

func (c *Client) eventSideEffects(ev protocol.Event, snapshot session.State) {
	ctx := context.Background()
	switch p := ev.Payload.(type) {
	case *protocol.QuestionStartedPayload:
		c.rememberQuestion(ctx, p.Question.ID)
		c.pruneQueue(ctx, snapshot)
	case *protocol.SessionRecoveredPayload:
		c.pruneQueue(ctx, snapshot)
	case *protocol.QuestionVoidedPayload:
		c.dropQueuedAnswer(ctx, p.QuestionID)
	case *protocol.QuestionSkippedPayload:
		c.dropQueuedAnswer(ctx, p.QuestionID)
	case *protocol.QuizEndedPayload:
		c.queue.SetAccepting(false)
		if sid, pid := c.identity(); pid != "" {
			if err := c.queue.Clear(ctx, sid, pid); err != nil {
				c.log.Debug().Err(err).Msg("failed to clear queue after quiz end")
			}
		}
	}
}

func (c *Client) pruneQueue(ctx context.Context, snapshot session.State) {
	sid, pid := c.identity()
	if pid == "" {
		return
	}
	removed, err := c.queue.PruneStale(ctx, sid, pid, snapshot)
	if err != nil {
		c.log.Warn().Err(err).Msg("failed to prune offline queue")
		return
	}
	if len(removed) > 0 {
		c.log.Info().Int("removed", len(removed)).Msg("dropped queued answers for closed questions")
	}
}

func (c *Client) dropQueuedAnswer(ctx context.Context, questionID string) {
	sid, pid := c.identity()
	if pid == "" {
		return
	}
	key := queue.Key{SessionID: sid, ParticipantID: pid, QuestionID: questionID}
	if err := c.queue.Remove(ctx, key); err != nil {
		c.log.Debug().Err(err).Str("question_id", questionID).Msg("failed to drop queued answer")
	}
}

// moderationExit handles kicked/banned: purge the credential before any
// reconnect can run, stop accepting answers, and close the transport.
func (c *Client) moderationExit(base error, message string) {
	err := base
	if message != "" {
		err = fmt.Errorf("%w: %s", base, message)
	}
	ctx := context.Background()

	c.mu.Lock()
	cancel := c.lifeCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	sid, pid := c.identity()
	c.purgeCredential(ctx)
	c.queue.SetAccepting(false)
	if pid != "" {
		_ = c.queue.Clear(ctx, sid, pid)
	}

	c.setStatus(domain.StatusError, 0, err)
	c.countdown.Stop()
	c.reconciler.Reset()

	c.connMu.RLock()
	conn := c.conn
	c.connMu.RUnlock()
	if conn != nil {
		conn.Close()
	}
}

// afterConnected runs the offline-queue flush when this connected edge
// follows a disconnect (or a cross-restart recovery) and answers are waiting.
func (c *Client) afterConnected(lifeCtx context.Context, recovered bool) {
	c.mu.Lock()
	prior := c.everConnected
	c.everConnected = true
	c.mu.Unlock()

	if !prior && !recovered {
		return
	}
	sid, pid := c.identity()
	if pid == "" {
		return
	}
	pending, err := c.queue.Pending(lifeCtx, sid, pid)
	if err != nil || pending == 0 {
		return
	}
	go c.flushQueued(lifeCtx, sid, pid, pending)
}

func (c *Client) flushQueued(ctx context.Context, sessionID, participantID string, pending int) {
	c.log.Info().Int("pending", pending).Msg("replaying offline answers")
	results, err := c.queue.Flush(ctx, sessionID, participantID, func(ctx context.Context, a queue.Action) error {
		_, err := c.sendAnswerAwait(ctx, a.Command)
		return err
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("offline flush aborted")
		return
	}
	for _, r := range results {
		if r.Err != nil {
			c.log.Info().
				Str("question_id", r.Action.Key.QuestionID).
				Err(r.Err).
				Msg("offline answer not delivered")
		}
	}
}

// Disconnect tears the session down: the reconnect loop is cancelled, the
// transport closed, and both pumps joined, so no callback fires after it
// returns. Must not be called from inside a callback.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.lifeCancel
	c.lifeCancel = nil
	c.lifeCtx = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	c.connMu.Lock()
	conn, done := c.conn, c.sessionDone
	c.conn, c.send, c.connStop, c.sessionDone = nil, nil, nil, nil
	c.connMu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		conn.Close()
	}
	if done != nil {
		<-done
	}

	c.countdown.Stop()
	c.resolveAck(ackOutcome{err: domain.ErrNotConnected})
	c.setStatus(domain.StatusDisconnected, 0, nil)
}

// Leave is the explicit exit: queued answers and the stored credential are
// erased before the transport closes.
func (c *Client) Leave(ctx context.Context) {
	if sid, pid := c.identity(); pid != "" {
		if err := c.queue.Clear(ctx, sid, pid); err != nil {
			c.log.Debug().Err(err).Msg("failed to clear queue on leave")
		}
	}
	c.purgeCredential(ctx)
	c.Disconnect()
}

// Status returns the current connection status.
func (c *Client) Status() domain.ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// ReconnectAttempt returns the current consecutive reconnect attempt count,
// zero while connected.
func (c *Client) ReconnectAttempt() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempt
}

// LastError returns the most recent terminal or transport error.
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// SessionState returns a deep copy of the reconstructed session state.
func (c *Client) SessionState() session.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// Timer returns the current reconciled countdown.
func (c *Client) Timer() domain.TimerSnapshot {
	return c.reconciler.Snapshot()
}

// Credential returns the stored session identity, if any.
func (c *Client) Credential() (domain.Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cred, c.hasCred
}

// Role returns the role this client authenticated as.
func (c *Client) Role() domain.Role {
	return c.opts.Role
}

// QueuedAnswers reports how many offline answers await replay.
func (c *Client) QueuedAnswers(ctx context.Context) (int, error) {
	sid, pid := c.identity()
	if pid == "" {
		return 0, nil
	}
	return c.queue.Pending(ctx, sid, pid)
}

// OnStatus subscribes to connection status changes.
func (c *Client) OnStatus(fn func(StatusChange)) func() {
	return c.hub.onStatus(fn)
}

// OnEvent subscribes to every decoded server event, applied or not.
func (c *Client) OnEvent(fn func(protocol.Event)) func() {
	return c.hub.onEvent(fn)
}

// OnState subscribes to session state snapshots after each applied event.
func (c *Client) OnState(fn func(session.State)) func() {
	return c.hub.onState(fn)
}

// OnTimer subscribes to countdown display updates.
func (c *Client) OnTimer(fn func(domain.TimerSnapshot)) func() {
	return c.hub.onTimer(fn)
}

func (c *Client) setStatus(status domain.ConnectionStatus, attempt int, err error) {
	c.mu.Lock()
	old := c.status
	if old == status && attempt == c.attempt {
		c.mu.Unlock()
		return
	}
	c.status = status
	c.attempt = attempt
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()

	c.log.Debug().
		Str("from", string(old)).
		Str("to", string(status)).
		Int("attempt", attempt).
		Msg("connection status changed")
	c.hub.notifyStatus(StatusChange{Old: old, New: status, Attempt: attempt, Err: err})
}

// identity returns the session and participant this client acts as.
func (c *Client) identity() (sessionID, participantID string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.hasCred {
		return c.cred.SessionID, c.cred.ParticipantID
	}
	return c.opts.SessionID, ""
}

func (c *Client) registerAck() (chan ackOutcome, error) {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	if c.ackCh != nil {
		return nil, domain.ErrAnswerInFlight
	}
	ch := make(chan ackOutcome, 1)
	c.ackCh = ch
	return ch, nil
}

func (c *Client) resolveAck(out ackOutcome) {
	c.ackMu.Lock()
	ch := c.ackCh
	c.ackCh = nil
	c.ackMu.Unlock()
	if ch != nil {
		ch <- out
	}
}

// abandonAck releases the slot when the waiter gives up first.
func (c *Client) abandonAck(ch chan ackOutcome) {
	c.ackMu.Lock()
	if c.ackCh == ch {
		c.ackCh = nil
	}
	c.ackMu.Unlock()
}
