package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"upload-files-skill/internal/domain"
)

func TestSessionStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore(time.Minute)
	session := domain.RelaySession{ID: "run-1", ConversationID: "c1", Step: domain.StepIntake, StartedAt: time.Now()}

	_, ok, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.False(t, ok)

	require.ErrorIs(t, s.Save(ctx, session), domain.ErrSessionNotFound)
	require.NoError(t, s.Begin(ctx, session))
	require.ErrorIs(t, s.Begin(ctx, session), domain.ErrSessionExists)

	session.Step = domain.StepRelaying
	session.Attachment = &domain.Attachment{Name: "a.txt", Content: []byte(`{}`)}
	require.NoError(t, s.Save(ctx, session))

	got, ok, err := s.Get(ctx, "c1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, domain.StepRelaying, got.Step)
	require.Equal(t, "a.txt", got.Attachment.Name)

	session.Attachment.Name = "mutated"
	got, _, _ = s.Get(ctx, "c1")
	require.Equal(t, "a.txt", got.Attachment.Name)

	require.NoError(t, s.Release(ctx, session))
	_, ok, err = s.Get(ctx, "c1")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, s.Release(ctx, session))
}

func TestSessionStore_WritesRequireMatchingID(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore(time.Minute)
	mine := domain.RelaySession{ID: "run-1", ConversationID: "c1", Step: domain.StepIntake}
	require.NoError(t, s.Begin(ctx, mine))

	other := mine
	other.ID = "run-2"
	require.ErrorIs(t, s.Save(ctx, other), domain.ErrSessionNotFound)
	require.NoError(t, s.Release(ctx, other))

	got, ok, _ := s.Get(ctx, "c1")
	require.True(t, ok)
	require.Equal(t, "run-1", got.ID)

	require.NoError(t, s.Clear(ctx, "c1"))
	_, ok, _ = s.Get(ctx, "c1")
	require.False(t, ok)
}

func TestSessionStore_Takeover(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore(time.Minute)
	seen := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	stale := domain.RelaySession{ID: "old", ConversationID: "c1", Step: domain.StepRelaying, UpdatedAt: seen}
	require.NoError(t, s.Begin(ctx, stale))

	touched := stale
	touched.UpdatedAt = seen.Add(time.Second)
	require.ErrorIs(t, s.Takeover(ctx, touched, domain.RelaySession{ID: "x", ConversationID: "c1"}), domain.ErrSessionExists)

	fresh := domain.RelaySession{ID: "new", ConversationID: "c1", Step: domain.StepIntake}
	require.NoError(t, s.Takeover(ctx, stale, fresh))
	got, _, _ := s.Get(ctx, "c1")
	require.Equal(t, "new", got.ID)

	// The replaced run can no longer touch the conversation.
	require.ErrorIs(t, s.Save(ctx, stale), domain.ErrSessionNotFound)
	require.NoError(t, s.Release(ctx, stale))
	got, _, _ = s.Get(ctx, "c1")
	require.Equal(t, "new", got.ID)

	require.NoError(t, s.Release(ctx, fresh))
	require.NoError(t, s.Takeover(ctx, stale, domain.RelaySession{ID: "later", ConversationID: "c1"}))
}

func TestSessionStore_ConcurrentTakeoverHasOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore(time.Minute)
	stale := domain.RelaySession{ID: "old", ConversationID: "c1", UpdatedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, s.Begin(ctx, stale))

	const racers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range racers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fresh := domain.RelaySession{ID: string(rune('a' + i)), ConversationID: "c1"}
			if s.Takeover(ctx, stale, fresh) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestSessionStore_Expires(t *testing.T) {
	ctx := context.Background()
	s := NewSessionStore(20 * time.Millisecond)
	require.NoError(t, s.Begin(ctx, domain.RelaySession{ConversationID: "c1"}))

	require.Eventually(t, func() bool {
		_, ok, _ := s.Get(ctx, "c1")
		return !ok
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, s.Begin(ctx, domain.RelaySession{ConversationID: "c1"}))
}
