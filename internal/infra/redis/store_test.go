package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	goredis "github.com/redis/go-redis/v9"

	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/protocol"
	"quizbeam-client/internal/queue"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr, goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
}

func TestCredentialStoreRoundTrip(t *testing.T) {
	mr, client := newClient(t)
	store := NewCredentialStore(client, "kiosk-7", time.Hour)
	ctx := context.Background()

	cred := domain.Credential{
		SessionID:     "sess-1",
		ParticipantID: "part-9",
		SessionToken:  "token-xyz",
		Nickname:      "casey",
		Role:          domain.RoleParticipant,
	}
	if err := store.Save(ctx, cred); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("quizclient:credential:kiosk-7") {
		t.Fatal("expected credential key in redis")
	}
	if ttl := mr.TTL("quizclient:credential:kiosk-7"); ttl <= 0 {
		t.Fatalf("credential key has no ttl (%v)", ttl)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.SessionID != cred.SessionID || got.ParticipantID != cred.ParticipantID || got.SessionToken != cred.SessionToken {
		t.Fatalf("loaded %+v, want %+v", got, cred)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, domain.ErrNoCredential) {
		t.Fatalf("load after clear err = %v, want ErrNoCredential", err)
	}
}

func TestActionStoreHashPerParticipant(t *testing.T) {
	mr, client := newClient(t)
	store := NewActionStore(client, time.Hour)
	ctx := context.Background()

	put := func(questionID, option string) {
		t.Helper()
		err := store.Put(ctx, queue.Action{
			Key: queue.Key{SessionID: "sess-1", ParticipantID: "part-1", QuestionID: questionID},
			Command: protocol.SubmitAnswerCommand{
				QuestionID:      questionID,
				SelectedOptions: []string{option},
				ClientTimestamp: 1700000000000,
			},
			EnqueuedAt: time.UnixMilli(1700000000000),
		})
		if err != nil {
			t.Fatalf("put %s: %v", questionID, err)
		}
	}
	put("q1", "a")
	put("q2", "b")

	if !mr.Exists("quizclient:queue:sess-1:part-1") {
		t.Fatal("expected queue hash in redis")
	}

	actions, err := store.List(ctx, "sess-1", "part-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("listed %d actions, want 2", len(actions))
	}

	if err := store.Delete(ctx, queue.Key{SessionID: "sess-1", ParticipantID: "part-1", QuestionID: "q1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	actions, _ = store.List(ctx, "sess-1", "part-1")
	if len(actions) != 1 || actions[0].Key.QuestionID != "q2" {
		t.Fatalf("after delete: %+v", actions)
	}

	if err := store.Clear(ctx, "sess-1", "part-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if mr.Exists("quizclient:queue:sess-1:part-1") {
		t.Fatal("queue hash survived clear")
	}
}

func TestActionStoreBacksQueue(t *testing.T) {
	_, client := newClient(t)
	store := NewActionStore(client, time.Hour)
	clock := clockwork.NewFakeClockAt(time.UnixMilli(1_700_000_000_000))
	q := queue.New(store, clock, time.Second)
	ctx := context.Background()

	key := queue.Key{SessionID: "sess-1", ParticipantID: "part-1", QuestionID: "q1"}
	for _, option := range []string{"a", "b"} {
		ok, err := q.Enqueue(ctx, queue.Action{
			Key:     key,
			Command: protocol.SubmitAnswerCommand{QuestionID: "q1", SelectedOptions: []string{option}},
		})
		if err != nil || !ok {
			t.Fatalf("enqueue %s: ok=%v err=%v", option, ok, err)
		}
	}

	if n, _ := q.Pending(ctx, "sess-1", "part-1"); n != 1 {
		t.Fatalf("pending = %d, want 1 after upsert", n)
	}

	var delivered []string
	results, err := q.Flush(ctx, "sess-1", "part-1", func(_ context.Context, a queue.Action) error {
		delivered = append(delivered, a.Command.SelectedOptions[0])
		return nil
	})
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(results) != 1 || results[0].Err != nil {
		t.Fatalf("flush results: %+v", results)
	}
	if len(delivered) != 1 || delivered[0] != "b" {
		t.Fatalf("delivered %v, want the later answer b", delivered)
	}
	if n, _ := q.Pending(ctx, "sess-1", "part-1"); n != 0 {
		t.Fatalf("pending = %d after flush, want 0", n)
	}
}
