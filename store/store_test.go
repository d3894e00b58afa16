package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"pgregory.net/rapid"

	"github.com/BaSui01/inboxflow/types"
)

// backends returns each store pair under a name, so the conformance suite
// runs identically against memory, redis, and sqlite implementations.
func backends(t *testing.T) map[string]func(t *testing.T) (CheckpointStore, PreferenceStore) {
	return map[string]func(t *testing.T) (CheckpointStore, PreferenceStore){
		"memory": func(t *testing.T) (CheckpointStore, PreferenceStore) {
			return NewMemoryCheckpointStore(), NewMemoryPreferenceStore()
		},
		"redis": func(t *testing.T) (CheckpointStore, PreferenceStore) {
			mr := miniredis.RunT(t)
			cfg := DefaultRedisConfig()
			cfg.Addr = mr.Addr()
			client, err := NewRedisClient(cfg)
			require.NoError(t, err)
			t.Cleanup(func() { _ = client.Close() })
			return NewRedisCheckpointStore(client, cfg.Prefix, nil),
				NewRedisPreferenceStore(client, cfg.Prefix, nil)
		},
		"sqlite": func(t *testing.T) (CheckpointStore, PreferenceStore) {
			db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
				Logger: logger.Default.LogMode(logger.Silent),
			})
			require.NoError(t, err)
			require.NoError(t, AutoMigrate(db))
			return NewGormCheckpointStore(db, nil), NewGormPreferenceStore(db, nil)
		},
	}
}

func sampleState(threadID string) *types.WorkflowState {
	state := &types.WorkflowState{
		ThreadID:       threadID,
		Item:           types.EmailInput{Author: "alice@corp.com", To: "me@corp.com", Subject: "Sync", Body: "When works?"},
		Classification: types.ClassificationRespond,
		Rationale:      "direct question",
		Status:         types.StatusInterrupted,
		Turn:           2,
	}
	state.Append(
		types.NewUserMessage("Respond to the email"),
		types.NewAssistantMessage("").WithToolCalls([]types.ToolCall{{
			ID: "call_1", Name: "write_email", Arguments: json.RawMessage(`{"to":"alice@corp.com","subject":"Re: Sync","content":"2pm"}`),
		}}),
	)
	state.PendingInterrupt = &types.Interrupt{
		ID:                   "int_1",
		Action:               "write_email",
		Args:                 json.RawMessage(`{"to":"alice@corp.com"}`),
		Description:          "# Email Draft",
		AllowedResponseTypes: []types.ResponseType{types.ResponseAccept, types.ResponseEdit},
	}
	return state
}

func TestCheckpointStoreConformance(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cs, _ := mk(t)

			t.Run("load missing thread", func(t *testing.T) {
				_, err := cs.Load(ctx, "missing")
				assert.ErrorIs(t, err, ErrCheckpointNotFound)
			})

			t.Run("round trip preserves history order and interrupt", func(t *testing.T) {
				state := sampleState("thread-1")
				require.NoError(t, cs.Save(ctx, state))

				loaded, err := cs.Load(ctx, "thread-1")
				require.NoError(t, err)
				assert.Equal(t, state.ThreadID, loaded.ThreadID)
				assert.Equal(t, state.Classification, loaded.Classification)
				require.Len(t, loaded.MessageHistory, 2)
				assert.Equal(t, state.MessageHistory[0].Content, loaded.MessageHistory[0].Content)
				assert.Equal(t, state.MessageHistory[1].ToolCalls, loaded.MessageHistory[1].ToolCalls)
				require.NotNil(t, loaded.PendingInterrupt)
				assert.Equal(t, state.PendingInterrupt.AllowedResponseTypes, loaded.PendingInterrupt.AllowedResponseTypes)
			})

			t.Run("save overwrites previous snapshot", func(t *testing.T) {
				state := sampleState("thread-2")
				require.NoError(t, cs.Save(ctx, state))

				state.Done = true
				state.Status = types.StatusCompleted
				state.PendingInterrupt = nil
				require.NoError(t, cs.Save(ctx, state))

				loaded, err := cs.Load(ctx, "thread-2")
				require.NoError(t, err)
				assert.True(t, loaded.Done)
				assert.Equal(t, types.StatusCompleted, loaded.Status)
				assert.Nil(t, loaded.PendingInterrupt)
			})

			t.Run("delete", func(t *testing.T) {
				state := sampleState("thread-3")
				require.NoError(t, cs.Save(ctx, state))
				require.NoError(t, cs.Delete(ctx, "thread-3"))
				_, err := cs.Load(ctx, "thread-3")
				assert.ErrorIs(t, err, ErrCheckpointNotFound)
			})
		})
	}
}

func TestPreferenceStoreConformance(t *testing.T) {
	for name, mk := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, ps := mk(t)

			t.Run("created with default on first read", func(t *testing.T) {
				profile, err := ps.Get(ctx, types.NamespaceTriage, "default triage policy")
				require.NoError(t, err)
				assert.Equal(t, "default triage policy", profile.Policy)
				assert.Equal(t, int64(1), profile.Revision)

				// second read keeps the stored value, ignores the new default
				again, err := ps.Get(ctx, types.NamespaceTriage, "other default")
				require.NoError(t, err)
				assert.Equal(t, "default triage policy", again.Policy)
			})

			t.Run("cas increments revision", func(t *testing.T) {
				profile, err := ps.Get(ctx, types.NamespaceResponse, "base")
				require.NoError(t, err)

				updated, err := ps.CompareAndSwap(ctx, types.NamespaceResponse, "revised", profile.Revision)
				require.NoError(t, err)
				assert.Equal(t, profile.Revision+1, updated.Revision)
				assert.Equal(t, "revised", updated.Policy)
			})

			t.Run("cas with stale revision conflicts", func(t *testing.T) {
				profile, err := ps.Get(ctx, types.NamespaceCalendar, "base")
				require.NoError(t, err)

				_, err = ps.CompareAndSwap(ctx, types.NamespaceCalendar, "first", profile.Revision)
				require.NoError(t, err)

				_, err = ps.CompareAndSwap(ctx, types.NamespaceCalendar, "second", profile.Revision)
				assert.ErrorIs(t, err, ErrRevisionConflict)

				latest, err := ps.Get(ctx, types.NamespaceCalendar, "base")
				require.NoError(t, err)
				assert.Equal(t, "first", latest.Policy)
			})

			t.Run("unknown namespace rejected", func(t *testing.T) {
				_, err := ps.Get(ctx, "bogus", "x")
				assert.Error(t, err)
			})
		})
	}
}

func TestPreferenceConcurrentCAS(t *testing.T) {
	ctx := context.Background()
	ps := NewMemoryPreferenceStore()

	profile, err := ps.Get(ctx, types.NamespaceTriage, "base")
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	successes := make(chan int64, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			updated, err := ps.CompareAndSwap(ctx, types.NamespaceTriage, "contender", profile.Revision)
			if err == nil {
				successes <- updated.Revision
			}
		}()
	}
	wg.Wait()
	close(successes)

	// concurrent updates from the same base revision: exactly one winner
	var count int
	for range successes {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestPreferenceRevisionMonotonic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		ps := NewMemoryPreferenceStore()
		profile, err := ps.Get(ctx, types.NamespaceResponse, "base")
		if err != nil {
			t.Fatal(err)
		}

		last := profile.Revision
		steps := rapid.IntRange(1, 20).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			policy := rapid.StringN(0, 64, 64).Draw(t, "policy")
			stale := rapid.Bool().Draw(t, "stale")

			expected := last
			if stale && last > 1 {
				expected = last - 1
			}
			updated, err := ps.CompareAndSwap(ctx, types.NamespaceResponse, policy, expected)
			if stale && last > 1 {
				if err != ErrRevisionConflict {
					t.Fatalf("stale CAS must conflict, got %v", err)
				}
				continue
			}
			if err != nil {
				t.Fatal(err)
			}
			if updated.Revision <= last {
				t.Fatalf("revision did not increase: %d -> %d", last, updated.Revision)
			}
			last = updated.Revision
		}
	})
}
