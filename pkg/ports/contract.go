package ports

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStateStoreContract runs a suite of tests to verify that a StateStore implementation
// adheres to the defined interface contract.
func RunStateStoreContract(t *testing.T, store StateStore) {
	ctx := context.Background()
	key := "contract-session-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		state := domain.NewSessionState(key, "Triage Agent")
		state.Seq = 2
		state.Transcript = domain.Transcript{
			domain.UserMessage{Text: "hello"},
			domain.HandoffOccurred{From: "Triage Agent", To: "Order Status Agent"},
			domain.AgentMessage{Agent: "Order Status Agent", Text: "hi"},
		}
		state.ActiveAgent = "Order Status Agent"

		require.NoError(t, store.Save(ctx, key, state), "Save should not return error")

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, "Order Status Agent", loaded.ActiveAgent)
		assert.Equal(t, uint64(2), loaded.Seq)
		require.Len(t, loaded.Transcript, 3)
		assert.Equal(t, domain.AgentMessage{Agent: "Order Status Agent", Text: "hi"}, loaded.Transcript[2])
	})

	t.Run("Overwrite", func(t *testing.T) {
		state := domain.NewSessionState(key, "Triage Agent")
		state.Seq = 3
		require.NoError(t, store.Save(ctx, key, state))

		loaded, err := store.Load(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "Triage Agent", loaded.ActiveAgent)
		assert.Equal(t, uint64(3), loaded.Seq)
		assert.Empty(t, loaded.Transcript)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+key)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, key, domain.NewSessionState(key, "Triage Agent")))

		require.NoError(t, store.Delete(ctx, key), "Delete should not return error")

		_, err := store.Load(ctx, key)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")

		assert.NoError(t, store.Delete(ctx, key), "Deleting a missing session is a no-op")
	})

	t.Run("List", func(t *testing.T) {
		id1 := key + "-1"
		id2 := key + "-2"
		_ = store.Save(ctx, id1, domain.NewSessionState(id1, "Triage Agent"))
		_ = store.Save(ctx, id2, domain.NewSessionState(id2, "Triage Agent"))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}

// RunJournalContract verifies that a Journal implementation records, orders,
// isolates and clears step records.
func RunJournalContract(t *testing.T, journal Journal) {
	ctx := context.Background()
	scope := Scope{SessionKey: "contract-journal-" + time.Now().Format("20060102150405"), Seq: 7}

	record := func(i int, label string) StepRecord {
		return StepRecord{
			Index:      i,
			Label:      label,
			ArgsHash:   "hash-" + label,
			Result:     json.RawMessage(`{"ok":true}`),
			RecordedAt: time.Now().UTC(),
		}
	}

	t.Run("Empty", func(t *testing.T) {
		recs, err := journal.Load(ctx, scope)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("Append and Load", func(t *testing.T) {
		require.NoError(t, journal.Append(ctx, scope, record(0, "first")))
		failed := record(1, "second")
		failed.Result = nil
		failed.Error = "terminal failure"
		require.NoError(t, journal.Append(ctx, scope, failed))

		recs, err := journal.Load(ctx, scope)
		require.NoError(t, err)
		require.Len(t, recs, 2)
		assert.Equal(t, 0, recs[0].Index)
		assert.Equal(t, "first", recs[0].Label)
		assert.Equal(t, "hash-first", recs[0].ArgsHash)
		assert.JSONEq(t, `{"ok":true}`, string(recs[0].Result))
		assert.Equal(t, "second", recs[1].Label)
		assert.Equal(t, "terminal failure", recs[1].Error)
	})

	t.Run("Conflict", func(t *testing.T) {
		err := journal.Append(ctx, scope, record(1, "duplicate"))
		assert.ErrorIs(t, err, ErrJournalConflict)

		err = journal.Append(ctx, scope, record(5, "gap"))
		assert.ErrorIs(t, err, ErrJournalConflict)
	})

	t.Run("Scopes Are Isolated", func(t *testing.T) {
		next := Scope{SessionKey: scope.SessionKey, Seq: scope.Seq + 1}
		recs, err := journal.Load(ctx, next)
		require.NoError(t, err)
		assert.Empty(t, recs)
	})

	t.Run("Clear", func(t *testing.T) {
		require.NoError(t, journal.Clear(ctx, scope))

		recs, err := journal.Load(ctx, scope)
		require.NoError(t, err)
		assert.Empty(t, recs)

		assert.NoError(t, journal.Clear(ctx, scope), "Clearing an empty journal is a no-op")
	})
}
