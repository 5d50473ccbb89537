package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"upload-files-skill/internal/domain"
	"upload-files-skill/internal/repository/memory"
)

type relayFunc func(ctx context.Context, sourceURL, objectName string) domain.RelayResult

func (f relayFunc) Relay(ctx context.Context, sourceURL, objectName string) domain.RelayResult {
	return f(ctx, sourceURL, objectName)
}

type dialogFixture struct {
	source   *fakeSource
	store    *memBackend
	sessions *fakeSessions
	dialog   *RelayDialog
	clock    time.Time
}

func newDialogFixture(t *testing.T) *dialogFixture {
	t.Helper()
	f := &dialogFixture{
		source:   &fakeSource{bodies: map[string]string{}},
		store:    newMemBackend(),
		sessions: newFakeSessions(),
		clock:    time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	d, err := NewRelayDialog(&AttachmentResolver{}, mustNewRelay(t, f.source, f.store), f.sessions, DialogOptions{StaleAfter: time.Minute})
	require.NoError(t, err)
	d.now = func() time.Time { return f.clock }
	runs := 0
	d.newID = func() string {
		runs++
		return fmt.Sprintf("run-%d", runs)
	}
	f.dialog = d
	return f
}

func TestDialog_RelaysHostedFile(t *testing.T) {
	f := newDialogFixture(t)
	f.source.bodies["https://dl.example.com/1"] = "payload"
	tc := newMessageTurn("conv-1", hostedAttachment("a.png", "https://dl.example.com/1"))

	require.NoError(t, f.dialog.Run(context.Background(), tc))

	require.Len(t, tc.sent, 2)
	reply := tc.sent[0]
	require.Equal(t, "Here is the URL of the uploaded file: https://files.example.com/uploadithelper/a.png", reply.Text)
	require.Equal(t, map[string]string{"url": "https://files.example.com/uploadithelper/a.png"}, reply.Value)
	tc.requireEndsWithEoC(t, domain.EndOfConversationCompleted)

	obj, ok := f.store.object("uploadithelper/a.png")
	require.True(t, ok)
	require.Equal(t, "payload", string(obj))

	require.Empty(t, f.sessions.sessions)
	require.Len(t, f.sessions.saved, 1)
	require.Equal(t, domain.StepRelaying, f.sessions.saved[0].Step)
	require.Equal(t, "a.png", f.sessions.saved[0].Attachment.Name)
}

func TestDialog_HostedAndGenericProduceSameObject(t *testing.T) {
	f := newDialogFixture(t)
	f.source.bodies["https://dl.example.com/h"] = "same-bytes"
	f.source.bodies["https://cdn.example.com/g"] = "same-bytes"

	hosted := newMessageTurn("conv-h", hostedAttachment("h.bin", "https://dl.example.com/h"))
	generic := newMessageTurn("conv-g", genericAttachment("g.bin", "https://cdn.example.com/g"))
	require.NoError(t, f.dialog.Run(context.Background(), hosted))
	require.NoError(t, f.dialog.Run(context.Background(), generic))

	h, _ := f.store.object("uploadithelper/h.bin")
	g, _ := f.store.object("uploadithelper/g.bin")
	require.Equal(t, h, g)
	require.Contains(t, hosted.sent[0].Text, "https://files.example.com/uploadithelper/h.bin")
	require.Contains(t, generic.sent[0].Text, "https://files.example.com/uploadithelper/g.bin")
}

func TestDialog_NoAttachmentSkipsRelay(t *testing.T) {
	f := newDialogFixture(t)
	tc := newMessageTurn("conv-1")

	require.NoError(t, f.dialog.Run(context.Background(), tc))

	require.Equal(t, []string{msgMissingSource}, tc.texts())
	tc.requireEndsWithEoC(t, domain.EndOfConversationCompleted)
	require.Zero(t, f.store.opens)
	require.Empty(t, f.source.opened)
	require.Empty(t, f.sessions.saved)
	require.Empty(t, f.sessions.sessions)
}

func TestDialog_UnsupportedAttachment(t *testing.T) {
	f := newDialogFixture(t)
	tc := newMessageTurn("conv-1", domain.Attachment{ContentType: "text/plain", Name: "x.txt"})

	require.NoError(t, f.dialog.Run(context.Background(), tc))

	require.Equal(t, []string{"Unsupported file type."}, tc.texts())
	require.Zero(t, f.store.opens)
	require.Empty(t, f.sessions.sessions)
}

func TestDialog_DownloadErrorReportsCause(t *testing.T) {
	f := newDialogFixture(t)
	f.source.openErr = errors.New("dial tcp 10.0.0.1:443: connection refused")
	tc := newMessageTurn("conv-1", genericAttachment("a.txt", "https://cdn.example.com/a"))

	require.NoError(t, f.dialog.Run(context.Background(), tc))

	texts := tc.texts()
	require.Len(t, texts, 1)
	require.Equal(t, "Error while processing the file: dial tcp 10.0.0.1:443: connection refused", texts[0])
	tc.requireEndsWithEoC(t, domain.EndOfConversationCompleted)
	require.Empty(t, f.store.objects)
	require.Empty(t, f.sessions.sessions)
}

func TestDialog_SameNameTwiceOverwrites(t *testing.T) {
	f := newDialogFixture(t)
	f.source.bodies["u1"] = "first"
	f.source.bodies["u2"] = "second"

	require.NoError(t, f.dialog.Run(context.Background(), newMessageTurn("conv-1", genericAttachment("dup.txt", "u1"))))
	require.NoError(t, f.dialog.Run(context.Background(), newMessageTurn("conv-1", genericAttachment("dup.txt", "u2"))))

	obj, ok := f.store.object("uploadithelper/dup.txt")
	require.True(t, ok)
	require.Equal(t, "second", string(obj))
	require.Len(t, f.store.objects, 1)
}

func TestDialog_FreshIntakeAfterFinalized(t *testing.T) {
	f := newDialogFixture(t)
	f.source.bodies["u"] = "data"

	first := newMessageTurn("conv-1", genericAttachment("a.txt", "u"))
	require.NoError(t, f.dialog.Run(context.Background(), first))
	_, ok, err := f.sessions.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.False(t, ok)

	second := newMessageTurn("conv-1")
	require.NoError(t, f.dialog.Run(context.Background(), second))
	require.Equal(t, []string{msgMissingSource}, second.texts())
}

func TestDialog_LiveSessionGetsBusyNotice(t *testing.T) {
	f := newDialogFixture(t)
	f.sessions.sessions["conv-1"] = domain.RelaySession{
		ConversationID: "conv-1",
		Step:           domain.StepRelaying,
		StartedAt:      f.clock.Add(-10 * time.Second),
		UpdatedAt:      f.clock.Add(-10 * time.Second),
	}
	tc := newMessageTurn("conv-1", genericAttachment("a.txt", "u"))

	require.NoError(t, f.dialog.Run(context.Background(), tc))

	require.Equal(t, []string{msgSessionBusy}, tc.texts())
	require.Len(t, tc.sent, 1)
	require.Empty(t, f.source.opened)
	require.Contains(t, f.sessions.sessions, "conv-1")
}

func TestDialog_StaleSessionIsReplaced(t *testing.T) {
	f := newDialogFixture(t)
	f.source.bodies["u"] = "data"
	f.sessions.sessions["conv-1"] = domain.RelaySession{
		ID:             "crashed",
		ConversationID: "conv-1",
		Step:           domain.StepRelaying,
		UpdatedAt:      f.clock.Add(-time.Hour),
	}
	tc := newMessageTurn("conv-1", genericAttachment("a.txt", "u"))

	require.NoError(t, f.dialog.Run(context.Background(), tc))

	require.Contains(t, tc.texts()[0], "Here is the URL of the uploaded file")
	require.Empty(t, f.sessions.sessions)
	require.Empty(t, f.sessions.cleared)
	require.Equal(t, "run-1", f.sessions.saved[0].ID)
}

func TestDialog_LostTakeoverIsBusy(t *testing.T) {
	f := newDialogFixture(t)
	f.sessions.sessions["conv-1"] = domain.RelaySession{
		ID:             "crashed",
		ConversationID: "conv-1",
		UpdatedAt:      f.clock.Add(-time.Hour),
	}
	f.sessions.takeoverErr = domain.ErrSessionExists
	tc := newMessageTurn("conv-1", genericAttachment("a.txt", "u"))

	require.NoError(t, f.dialog.Run(context.Background(), tc))

	require.Equal(t, []string{msgSessionBusy}, tc.texts())
	require.Empty(t, f.source.opened)
	require.Equal(t, "crashed", f.sessions.sessions["conv-1"].ID)
}

func TestDialog_ReplacedRunLeavesSuccessorSession(t *testing.T) {
	f := newDialogFixture(t)
	successor := domain.RelaySession{ID: "successor", ConversationID: "conv-1", Step: domain.StepRelaying}
	relay := relayFunc(func(context.Context, string, string) domain.RelayResult {
		// Another turn replaces this run's session while it is still relaying.
		f.sessions.sessions["conv-1"] = successor
		return domain.RelaySucceeded("https://files.example.com/uploadithelper/a.txt")
	})
	d, err := NewRelayDialog(&AttachmentResolver{}, relay, f.sessions, DialogOptions{StaleAfter: time.Minute})
	require.NoError(t, err)
	tc := newMessageTurn("conv-1", genericAttachment("a.txt", "u"))

	require.NoError(t, d.Run(context.Background(), tc))

	require.Contains(t, tc.texts()[0], "Here is the URL of the uploaded file")
	require.Equal(t, successor, f.sessions.sessions["conv-1"])
	require.Len(t, f.sessions.released, 1)
}

// gatedSessions holds every caller of Get until all expected callers have
// read, so each of them sees the same stored session.
type gatedSessions struct {
	*memory.SessionStore
	readers sync.WaitGroup
}

func (g *gatedSessions) Get(ctx context.Context, id string) (domain.RelaySession, bool, error) {
	s, ok, err := g.SessionStore.Get(ctx, id)
	g.readers.Done()
	g.readers.Wait()
	return s, ok, err
}

func TestDialog_ConcurrentStaleTakeoverRunsOneRelay(t *testing.T) {
	const turns = 2
	store := &gatedSessions{SessionStore: memory.NewSessionStore(time.Hour)}
	store.readers.Add(turns)
	require.NoError(t, store.Begin(context.Background(), domain.RelaySession{
		ID:             "crashed",
		ConversationID: "conv-1",
		Step:           domain.StepRelaying,
		StartedAt:      time.Now().Add(-time.Hour),
		UpdatedAt:      time.Now().Add(-time.Hour),
	}))

	var inFlight, maxInFlight atomic.Int32
	relay := relayFunc(func(_ context.Context, _ string, name string) domain.RelayResult {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		return domain.RelaySucceeded("https://files.example.com/uploadithelper/" + name)
	})
	d, err := NewRelayDialog(&AttachmentResolver{}, relay, store, DialogOptions{StaleAfter: time.Minute})
	require.NoError(t, err)

	tcs := make([]*fakeTurn, turns)
	errs := make([]error, turns)
	var wg sync.WaitGroup
	for i := range turns {
		tcs[i] = newMessageTurn("conv-1", genericAttachment(fmt.Sprintf("f%d.txt", i), "u"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = d.Run(context.Background(), tcs[i])
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, maxInFlight.Load())
	var relayed, busy int
	for i := range turns {
		require.NoError(t, errs[i])
		switch texts := tcs[i].texts(); {
		case len(texts) == 1 && texts[0] == msgSessionBusy:
			busy++
		case len(texts) == 1:
			require.Contains(t, texts[0], "Here is the URL of the uploaded file")
			relayed++
		default:
			t.Fatalf("unexpected replies %q", texts)
		}
	}
	require.Equal(t, 1, relayed)
	require.Equal(t, 1, busy)

	_, ok, err := store.SessionStore.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDialog_BeginConflictIsBusy(t *testing.T) {
	f := newDialogFixture(t)
	f.sessions.beginErr = domain.ErrSessionExists
	tc := newMessageTurn("conv-1", genericAttachment("a.txt", "u"))

	require.NoError(t, f.dialog.Run(context.Background(), tc))
	require.Equal(t, []string{msgSessionBusy}, tc.texts())
}

func TestDialog_StoreFailuresAreInternal(t *testing.T) {
	f := newDialogFixture(t)
	f.sessions.getErr = errors.New("throttled")

	err := f.dialog.Run(context.Background(), newMessageTurn("conv-1"))
	require.Error(t, err)
	require.Equal(t, ErrorInternal, CodeOf(err))
}

func TestDialog_SaveFailureReleasesSession(t *testing.T) {
	f := newDialogFixture(t)
	f.sessions.saveErr = errors.New("conditional check failed")
	tc := newMessageTurn("conv-1", genericAttachment("a.txt", "u"))

	err := f.dialog.Run(context.Background(), tc)
	require.Error(t, err)
	require.Equal(t, ErrorInternal, CodeOf(err))
	require.Empty(t, f.sessions.sessions)
	require.Empty(t, f.source.opened)
}

func TestDialog_MissingConversationID(t *testing.T) {
	f := newDialogFixture(t)
	tc := &fakeTurn{activity: domain.Activity{Type: domain.ActivityTypeMessage}}

	err := f.dialog.Run(context.Background(), tc)
	require.Equal(t, ErrorInternal, CodeOf(err))
}

func TestDialog_Cancel(t *testing.T) {
	f := newDialogFixture(t)
	f.sessions.sessions["conv-1"] = domain.RelaySession{ConversationID: "conv-1", Step: domain.StepRelaying}

	require.NoError(t, f.dialog.Cancel(context.Background(), "conv-1"))
	require.Empty(t, f.sessions.sessions)
}

func TestDialog_AdvanceRejectsInvalidTransitions(t *testing.T) {
	f := newDialogFixture(t)

	s := domain.RelaySession{Step: domain.StepFinalized}
	require.Error(t, f.dialog.advance(&s, domain.StepIntake))

	s = domain.RelaySession{Step: domain.StepRelaying}
	require.Error(t, f.dialog.advance(&s, domain.StepIntake))
	require.NoError(t, f.dialog.advance(&s, domain.StepFinalized))
	require.Equal(t, domain.StepFinalized, s.Step)
}
