// Package queue preserves answers submitted while the connection is down and
// replays them once the session is recovered.
package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/protocol"
	"quizbeam-client/internal/session"
)

// Key identifies the single queue slot an answer can occupy. A later answer
// for the same question overwrites the earlier one.
type Key struct {
	SessionID     string `json:"sessionId"`
	ParticipantID string `json:"participantId"`
	QuestionID    string `json:"questionId"`
}

// Action is one queued answer, ready to replay. ID survives store round
// trips so an action can be traced from enqueue to replay.
type Action struct {
	ID         string                       `json:"id"`
	Key        Key                          `json:"key"`
	Command    protocol.SubmitAnswerCommand `json:"command"`
	EnqueuedAt time.Time                    `json:"enqueuedAt"`
}

// Store abstracts where queued actions live (in-memory, file, Redis).
type Store interface {
	Put(ctx context.Context, action Action) error
	Delete(ctx context.Context, key Key) error
	List(ctx context.Context, sessionID, participantID string) ([]Action, error)
	Clear(ctx context.Context, sessionID, participantID string) error
}

// Submitter sends one action over a live connection and blocks until the
// server acknowledges it or ctx expires. A rejection must be reported as
// domain.ErrAnswerRejected; any other error leaves the action queued.
type Submitter func(ctx context.Context, action Action) error

// FlushResult is the per-action outcome of one flush pass.
type FlushResult struct {
	Action Action
	Err    error
}

// DefaultAckTimeout bounds how long a flush waits for each acknowledgment.
const DefaultAckTimeout = 5 * time.Second

// Queue upserts actions by key and flushes them in enqueue order. It is safe
// for concurrent use; at most one flush runs at a time.
type Queue struct {
	store      Store
	clock      clockwork.Clock
	ackTimeout time.Duration

	mu        sync.Mutex
	accepting bool
	flushing  bool
}

// New returns an accepting queue over store.
func New(store Store, clock clockwork.Clock, ackTimeout time.Duration) *Queue {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Queue{
		store:      store,
		clock:      clock,
		ackTimeout: ackTimeout,
		accepting:  true,
	}
}

// SetAccepting toggles whether Enqueue stores new actions. The queue stops
// accepting when the session is over for this client (ended, kicked, banned).
func (q *Queue) SetAccepting(accepting bool) {
	q.mu.Lock()
	q.accepting = accepting
	q.mu.Unlock()
}

// Enqueue stores or overwrites the action for its key. It reports false when
// the queue is not accepting.
func (q *Queue) Enqueue(ctx context.Context, action Action) (bool, error) {
	q.mu.Lock()
	accepting := q.accepting
	q.mu.Unlock()
	if !accepting {
		return false, nil
	}

	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.EnqueuedAt.IsZero() {
		action.EnqueuedAt = q.clock.Now()
	}
	if err := q.store.Put(ctx, action); err != nil {
		return false, err
	}
	log.Debug().
		Str("action_id", action.ID).
		Str("question_id", action.Key.QuestionID).
		Msg("queued offline answer")
	return true, nil
}

// Remove drops the action for key, if any. Used when the question is voided
// or skipped server-side and a stale answer must not be replayed.
func (q *Queue) Remove(ctx context.Context, key Key) error {
	return q.store.Delete(ctx, key)
}

// Clear drops every queued action for the participant.
func (q *Queue) Clear(ctx context.Context, sessionID, participantID string) error {
	return q.store.Clear(ctx, sessionID, participantID)
}

// Pending reports how many actions are waiting for the participant.
func (q *Queue) Pending(ctx context.Context, sessionID, participantID string) (int, error) {
	actions, err := q.store.List(ctx, sessionID, participantID)
	if err != nil {
		return 0, err
	}
	return len(actions), nil
}

// Flush replays every queued action through submit, in enqueue order, waiting
// for each acknowledgment separately. Accepted and rejected actions leave the
// queue; timed-out or transport-failed ones stay for the next flush. Only one
// flush runs at a time; a second caller gets (nil, nil).
func (q *Queue) Flush(ctx context.Context, sessionID, participantID string, submit Submitter) ([]FlushResult, error) {
	q.mu.Lock()
	if q.flushing {
		q.mu.Unlock()
		return nil, nil
	}
	q.flushing = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.flushing = false
		q.mu.Unlock()
	}()

	actions, err := q.store.List(ctx, sessionID, participantID)
	if err != nil {
		return nil, err
	}
	sort.Slice(actions, func(i, j int) bool {
		if !actions[i].EnqueuedAt.Equal(actions[j].EnqueuedAt) {
			return actions[i].EnqueuedAt.Before(actions[j].EnqueuedAt)
		}
		return actions[i].Key.QuestionID < actions[j].Key.QuestionID
	})

	results := make([]FlushResult, 0, len(actions))
	for _, action := range actions {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}

		actionCtx, cancel := context.WithTimeout(ctx, q.ackTimeout)
		err := submit(actionCtx, action)
		cancel()

		switch {
		case err == nil:
			if delErr := q.store.Delete(ctx, action.Key); delErr != nil {
				err = delErr
			}
		case errors.Is(err, domain.ErrAnswerRejected):
			// The server refused the answer outright; replaying later
			// cannot succeed.
			if delErr := q.store.Delete(ctx, action.Key); delErr != nil {
				log.Warn().Err(delErr).
					Str("question_id", action.Key.QuestionID).
					Msg("failed to drop rejected answer")
			}
			log.Info().
				Str("question_id", action.Key.QuestionID).
				Msg("queued answer rejected by server")
		case errors.Is(err, context.DeadlineExceeded):
			err = domain.ErrAckTimeout
			log.Warn().
				Str("question_id", action.Key.QuestionID).
				Msg("flush ack timed out, keeping answer queued")
		}
		results = append(results, FlushResult{Action: action, Err: err})
	}
	return results, nil
}

// PruneStale drops actions that can no longer be answered given the current
// session state: anything for a question other than the active one, and the
// active question's action once the phase moved past it. It returns the keys
// it removed.
func (q *Queue) PruneStale(ctx context.Context, sessionID, participantID string, st session.State) ([]Key, error) {
	actions, err := q.store.List(ctx, sessionID, participantID)
	if err != nil {
		return nil, err
	}

	var removed []Key
	for _, action := range actions {
		if keepAction(st, action) {
			continue
		}
		if err := q.store.Delete(ctx, action.Key); err != nil {
			return removed, err
		}
		removed = append(removed, action.Key)
		log.Debug().
			Str("question_id", action.Key.QuestionID).
			Msg("pruned stale queued answer")
	}
	return removed, nil
}

func keepAction(st session.State, action Action) bool {
	if st.Phase != domain.PhaseActiveQuestion {
		return false
	}
	return st.CurrentQuestion != nil && st.CurrentQuestion.ID == action.Key.QuestionID
}
