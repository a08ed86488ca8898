package file_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"quizbeam-client/internal/domain"
	"quizbeam-client/internal/infra/file"
	"quizbeam-client/internal/protocol"
	"quizbeam-client/internal/queue"
)

func TestCredentialStoreSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "credential.json")
	ctx := context.Background()

	cred := domain.Credential{
		SessionID:     "sess-1",
		ParticipantID: "part-3",
		SessionToken:  "token-abc",
		Nickname:      "casey",
		Role:          domain.RoleParticipant,
		SavedAt:       time.UnixMilli(1_700_000_000_000),
	}
	if err := file.NewCredentialStore(path).Save(ctx, cred); err != nil {
		t.Fatalf("save: %v", err)
	}

	// A new store over the same path models a process restart.
	got, err := file.NewCredentialStore(path).Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ParticipantID != "part-3" || got.SessionToken != "token-abc" {
		t.Fatalf("loaded %+v", got)
	}
	if !got.SavedAt.Equal(cred.SavedAt) {
		t.Fatalf("savedAt = %v, want %v", got.SavedAt, cred.SavedAt)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("credential file mode = %o, want 600", perm)
	}
}

func TestCredentialStoreClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credential.json")
	store := file.NewCredentialStore(path)
	ctx := context.Background()

	if _, err := store.Load(ctx); !errors.Is(err, domain.ErrNoCredential) {
		t.Fatalf("load empty err = %v, want ErrNoCredential", err)
	}
	if err := store.Save(ctx, domain.Credential{SessionID: "sess-1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, domain.ErrNoCredential) {
		t.Fatalf("load after clear err = %v, want ErrNoCredential", err)
	}
}

func TestActionStorePersistsQueue(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store := file.NewActionStore(dir)

	action := func(questionID, option string, at int64) queue.Action {
		return queue.Action{
			Key: queue.Key{SessionID: "sess-1", ParticipantID: "part-1", QuestionID: questionID},
			Command: protocol.SubmitAnswerCommand{
				QuestionID:      questionID,
				SelectedOptions: []string{option},
				ClientTimestamp: at,
			},
			EnqueuedAt: time.UnixMilli(at),
		}
	}

	if err := store.Put(ctx, action("q1", "a", 1000)); err != nil {
		t.Fatalf("put q1: %v", err)
	}
	if err := store.Put(ctx, action("q2", "b", 2000)); err != nil {
		t.Fatalf("put q2: %v", err)
	}
	// Same key again replaces, never duplicates.
	if err := store.Put(ctx, action("q1", "c", 3000)); err != nil {
		t.Fatalf("re-put q1: %v", err)
	}

	reopened := file.NewActionStore(dir)
	actions, err := reopened.List(ctx, "sess-1", "part-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("listed %d actions, want 2", len(actions))
	}
	byQuestion := map[string]string{}
	for _, a := range actions {
		byQuestion[a.Key.QuestionID] = a.Command.SelectedOptions[0]
	}
	if byQuestion["q1"] != "c" || byQuestion["q2"] != "b" {
		t.Fatalf("actions after upsert: %v", byQuestion)
	}

	if err := reopened.Delete(ctx, queue.Key{SessionID: "sess-1", ParticipantID: "part-1", QuestionID: "q2"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	actions, _ = reopened.List(ctx, "sess-1", "part-1")
	if len(actions) != 1 || actions[0].Key.QuestionID != "q1" {
		t.Fatalf("after delete: %+v", actions)
	}

	// Deleting the last entry removes the file entirely.
	if err := reopened.Delete(ctx, queue.Key{SessionID: "sess-1", ParticipantID: "part-1", QuestionID: "q1"}); err != nil {
		t.Fatalf("delete last: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "queue-sess-1-part-1.json")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("queue file still present: %v", err)
	}
}

func TestActionStoreScopesByParticipant(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	store := file.NewActionStore(dir)

	put := func(participantID string) {
		t.Helper()
		err := store.Put(ctx, queue.Action{
			Key:     queue.Key{SessionID: "sess-1", ParticipantID: participantID, QuestionID: "q1"},
			Command: protocol.SubmitAnswerCommand{QuestionID: "q1"},
		})
		if err != nil {
			t.Fatalf("put for %s: %v", participantID, err)
		}
	}
	put("part-1")
	put("part-2")

	if err := store.Clear(ctx, "sess-1", "part-1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	a1, _ := store.List(ctx, "sess-1", "part-1")
	a2, _ := store.List(ctx, "sess-1", "part-2")
	if len(a1) != 0 || len(a2) != 1 {
		t.Fatalf("clear crossed participants: part-1=%d part-2=%d", len(a1), len(a2))
	}
}
