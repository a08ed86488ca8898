// Package quiztest provides a scriptable in-process quiz server for client
// tests. It speaks the real wire protocol over real WebSockets, records every
// command it receives, and lets tests push events, reject handshakes, and
// drop connections to exercise recovery paths.
package quiztest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/protocol"
)

const tokenSecret = "quiztest-signing-secret"

// Server is one fake quiz backend. Zero connections is fine; Push to nobody
// is a no-op. All methods are safe for concurrent use.
type Server struct {
	hs       *httptest.Server
	upgrader websocket.Upgrader

	mu            sync.Mutex
	conns         []*serverConn
	received      []protocol.Envelope
	nextPart      int
	nextAnswer    int
	authFn        func(cmd protocol.AuthenticateCommand) (protocol.EventType, any)
	reconnectFn   func(cmd protocol.ReconnectSessionCommand) (protocol.EventType, any)
	answerFn      func(cmd protocol.SubmitAnswerCommand) (protocol.EventType, any)
	silentAnswers bool
}

type serverConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (sc *serverConn) write(env protocol.Envelope) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.conn.WriteJSON(env)
}

// NewServer starts a server with default handshake behavior: authenticate
// succeeds and mints a participant identity, reconnect_session succeeds with
// a lobby snapshot, and every submitted answer is accepted.
func NewServer(t *testing.T) *Server {
	t.Helper()
	s := &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.hs = httptest.NewServer(http.HandlerFunc(s.serveWS))
	t.Cleanup(s.Close)
	return s
}

// URL returns the ws:// address clients should dial.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.hs.URL, "http")
}

// Close stops the HTTP server and severs every connection.
func (s *Server) Close() {
	s.DropConnections()
	s.hs.Close()
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	sc := &serverConn{conn: conn}

	s.mu.Lock()
	s.conns = append(s.conns, sc)
	s.mu.Unlock()

	defer func() {
		conn.Close()
		s.mu.Lock()
		for i, c := range s.conns {
			if c == sc {
				s.conns = append(s.conns[:i], s.conns[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, env)
		s.mu.Unlock()
		s.route(sc, env)
	}
}

func (s *Server) route(sc *serverConn, env protocol.Envelope) {
	switch protocol.CommandType(env.Type) {
	case protocol.CommandAuthenticate:
		var cmd protocol.AuthenticateCommand
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			return
		}
		typ, payload := s.takeAuthFn()(cmd)
		s.reply(sc, typ, payload)

	case protocol.CommandReconnectSession:
		var cmd protocol.ReconnectSessionCommand
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			return
		}
		typ, payload := s.takeReconnectFn()(cmd)
		s.reply(sc, typ, payload)

	case protocol.CommandSubmitAnswer:
		var cmd protocol.SubmitAnswerCommand
		if err := json.Unmarshal(env.Payload, &cmd); err != nil {
			return
		}
		s.mu.Lock()
		silent := s.silentAnswers
		fn := s.answerFn
		s.mu.Unlock()
		if silent {
			return
		}
		if fn == nil {
			fn = s.defaultAnswer
		}
		typ, payload := fn(cmd)
		s.reply(sc, typ, payload)
	}
}

func (s *Server) reply(sc *serverConn, typ protocol.EventType, payload any) {
	if typ == "" {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_ = sc.write(protocol.Envelope{Type: string(typ), Payload: raw})
}

func (s *Server) takeAuthFn() func(protocol.AuthenticateCommand) (protocol.EventType, any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authFn != nil {
		fn := s.authFn
		s.authFn = nil
		return fn
	}
	return s.defaultAuth
}

func (s *Server) takeReconnectFn() func(protocol.ReconnectSessionCommand) (protocol.EventType, any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reconnectFn != nil {
		fn := s.reconnectFn
		s.reconnectFn = nil
		return fn
	}
	return s.defaultReconnect
}

func (s *Server) defaultAuth(cmd protocol.AuthenticateCommand) (protocol.EventType, any) {
	payload := protocol.AuthenticatedPayload{
		SessionID: cmd.SessionID,
	}
	if payload.SessionID == "" {
		payload.SessionID = "sess-1"
	}
	if cmd.Role == domain.RoleParticipant {
		s.mu.Lock()
		s.nextPart++
		n := s.nextPart
		s.mu.Unlock()
		payload.ParticipantID = fmt.Sprintf("part-%d", n)
		payload.SessionToken = s.MintToken(payload.SessionID, payload.ParticipantID, time.Hour)
		payload.Nickname = cmd.Nickname
	}
	payload.CurrentState = protocol.SessionSnapshot{
		Phase:         domain.PhaseLobby,
		JoinCode:      cmd.JoinCode,
		QuestionIndex: -1,
	}
	return protocol.EventAuthenticated, payload
}

func (s *Server) defaultReconnect(cmd protocol.ReconnectSessionCommand) (protocol.EventType, any) {
	return protocol.EventSessionRecovered, protocol.SessionRecoveredPayload{
		SessionID:     cmd.SessionID,
		ParticipantID: cmd.ParticipantID,
		CurrentState: protocol.SessionSnapshot{
			Phase:         domain.PhaseLobby,
			QuestionIndex: -1,
		},
	}
}

func (s *Server) defaultAnswer(cmd protocol.SubmitAnswerCommand) (protocol.EventType, any) {
	s.mu.Lock()
	s.nextAnswer++
	n := s.nextAnswer
	s.mu.Unlock()
	return protocol.EventAnswerAccepted, protocol.AnswerAcceptedPayload{
		AnswerID:       fmt.Sprintf("ans-%d", n),
		ResponseTimeMs: 1200,
	}
}

// AuthReply scripts the next authenticate handshake, one-shot.
func (s *Server) AuthReply(fn func(cmd protocol.AuthenticateCommand) (protocol.EventType, any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authFn = fn
}

// RejectNextAuth makes the next authenticate fail with auth_error.
func (s *Server) RejectNextAuth(message string) {
	s.AuthReply(func(protocol.AuthenticateCommand) (protocol.EventType, any) {
		return protocol.EventAuthError, protocol.AuthErrorPayload{Error: message}
	})
}

// ReconnectReply scripts the next reconnect_session handshake, one-shot.
func (s *Server) ReconnectReply(fn func(cmd protocol.ReconnectSessionCommand) (protocol.EventType, any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnectFn = fn
}

// FailNextRecovery makes the next reconnect_session fail with recovery_failed.
func (s *Server) FailNextRecovery(reason, message string) {
	s.ReconnectReply(func(protocol.ReconnectSessionCommand) (protocol.EventType, any) {
		return protocol.EventRecoveryFailed, protocol.RecoveryFailedPayload{Reason: reason, Message: message}
	})
}

// AnswerReply scripts every subsequent submit_answer verdict. Pass nil to
// restore auto-accept.
func (s *Server) AnswerReply(fn func(cmd protocol.SubmitAnswerCommand) (protocol.EventType, any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answerFn = fn
}

// SilenceAnswers suppresses answer verdicts entirely so ack timeouts can be
// exercised.
func (s *Server) SilenceAnswers(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silentAnswers = silent
}

// Push broadcasts one event to every live connection.
func (s *Server) Push(t *testing.T, typ protocol.EventType, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal %s payload: %v", typ, err)
	}
	env := protocol.Envelope{Type: string(typ), Payload: raw}

	s.mu.Lock()
	conns := append([]*serverConn(nil), s.conns...)
	s.mu.Unlock()
	for _, sc := range conns {
		_ = sc.write(env)
	}
}

// PushRaw broadcasts an arbitrary frame, malformed ones included.
func (s *Server) PushRaw(t *testing.T, frame []byte) {
	t.Helper()
	s.mu.Lock()
	conns := append([]*serverConn(nil), s.conns...)
	s.mu.Unlock()
	for _, sc := range conns {
		sc.writeMu.Lock()
		_ = sc.conn.WriteMessage(websocket.TextMessage, frame)
		sc.writeMu.Unlock()
	}
}

// DropConnections severs every connection without a close handshake, as a
// crashed server would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := append([]*serverConn(nil), s.conns...)
	s.conns = nil
	s.mu.Unlock()
	for _, sc := range conns {
		sc.conn.Close()
	}
}

// ConnCount reports live connections.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// WaitForConn blocks until at least n connections are live.
func (s *Server) WaitForConn(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if s.ConnCount() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d connections, have %d", n, s.ConnCount())
}

// Commands returns every command received so far, in arrival order.
func (s *Server) Commands() []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Envelope(nil), s.received...)
}

// CommandCount reports how many commands of one type arrived.
func (s *Server) CommandCount(typ protocol.CommandType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, env := range s.received {
		if env.Type == string(typ) {
			n++
		}
	}
	return n
}

// AwaitCommand blocks until at least n commands of one type have arrived and
// returns the n-th.
func (s *Server) AwaitCommand(t *testing.T, typ protocol.CommandType, n int) protocol.Envelope {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		seen := 0
		for _, env := range s.received {
			if env.Type == string(typ) {
				seen++
				if seen == n {
					s.mu.Unlock()
					return env
				}
			}
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s command #%d", typ, n)
	return protocol.Envelope{}
}

// MintToken issues a signed session token the way the real server does. A
// negative ttl produces an already-expired token.
func (s *Server) MintToken(sessionID, participantID string, ttl time.Duration) string {
	claims := jwt.MapClaims{
		"sessionId":     sessionID,
		"participantId": participantID,
		"exp":           time.Now().Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(tokenSecret))
	if err != nil {
		panic(err)
	}
	return signed
}
