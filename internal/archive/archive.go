// Package archive persists the final outcome of a quiz session once it
// ends. A Recorder watches session state and hands the result to a Writer
// exactly once, so a participant's score survives the process that earned
// it.
package archive

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/session"
)

const defaultWriteTimeout = 10 * time.Second

// Writer stores one finished session's result.
type Writer interface {
	SaveResult(ctx context.Context, result domain.SessionResult) error
}

// Source is the slice of a session client the recorder observes.
type Source interface {
	Credential() (domain.Credential, bool)
	OnState(fn func(session.State)) func()
}

// Recorder writes a session result when the observed session reaches its
// terminal phase. The write runs off the observer callback; Wait blocks
// until it lands.
type Recorder struct {
	writer  Writer
	clock   clockwork.Clock
	timeout time.Duration

	mu        sync.Mutex
	sessionID string
	started   bool
	err       error
	done      chan struct{}
}

func NewRecorder(writer Writer, clock clockwork.Clock) *Recorder {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recorder{
		writer:  writer,
		clock:   clock,
		timeout: defaultWriteTimeout,
		done:    make(chan struct{}),
	}
}

// SetSessionID supplies the session identifier for sources that carry no
// credential, such as token-authenticated viewers.
func (r *Recorder) SetSessionID(id string) {
	r.mu.Lock()
	r.sessionID = id
	r.mu.Unlock()
}

// Bind subscribes the recorder to src. The returned function unsubscribes;
// a result already being written is not interrupted.
func (r *Recorder) Bind(src Source) func() {
	return src.OnState(func(st session.State) {
		r.observe(src, st)
	})
}

func (r *Recorder) observe(src Source, st session.State) {
	if !st.Ended() {
		return
	}
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	sessionID := r.sessionID
	r.mu.Unlock()

	result := domain.SessionResult{
		SessionID:   sessionID,
		JoinCode:    st.JoinCode,
		EndedAt:     r.clock.Now(),
		Leaderboard: st.Leaderboard,
		Self:        st.Self,
	}
	if cred, ok := src.Credential(); ok {
		result.SessionID = cred.SessionID
		if result.Self.ParticipantID == "" {
			result.Self.ParticipantID = cred.ParticipantID
			result.Self.Nickname = cred.Nickname
		}
	}
	// The final leaderboard is the last word on score and rank; local self
	// state can lag it.
	for _, entry := range result.Leaderboard {
		if entry.ParticipantID != "" && entry.ParticipantID == result.Self.ParticipantID {
			result.Self.Nickname = entry.Nickname
			result.Self.Score = entry.Score
			result.Self.Rank = entry.Rank
			break
		}
	}
	go r.write(result)
}

func (r *Recorder) write(result domain.SessionResult) {
	defer close(r.done)

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.writer.SaveResult(ctx, result); err != nil {
		r.mu.Lock()
		r.err = err
		r.mu.Unlock()
		log.Error().Err(err).
			Str("session_id", result.SessionID).
			Msg("failed to archive session result")
		return
	}
	log.Info().
		Str("session_id", result.SessionID).
		Int("leaderboard_entries", len(result.Leaderboard)).
		Msg("session result archived")
}

// Wait blocks until the archive write finishes or ctx expires, and returns
// the write error if one occurred. Waiting before the session has ended
// simply waits.
func (r *Recorder) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
