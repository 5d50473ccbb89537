package usecase

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"upload-files-skill/internal/domain"
	"upload-files-skill/internal/storage"
)

type sentTrace struct {
	name, valueType, label string
	value                  any
}

type fakeTurn struct {
	activity domain.Activity
	sent     []domain.Activity
	traces   []sentTrace
	sendErr  error
}

func newMessageTurn(convID string, attachments ...domain.Attachment) *fakeTurn {
	return &fakeTurn{activity: domain.Activity{
		Type:         domain.ActivityTypeMessage,
		Conversation: &domain.ConversationAccount{ID: convID},
		Attachments:  attachments,
	}}
}

func (f *fakeTurn) Activity() domain.Activity { return f.activity }
func (f *fakeTurn) Attachments() []domain.Attachment { return f.activity.Attachments }

func (f *fakeTurn) Send(_ context.Context, a domain.Activity) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, a)
	return nil
}

func (f *fakeTurn) SendTrace(_ context.Context, name string, value any, valueType, label string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.traces = append(f.traces, sentTrace{name: name, value: value, valueType: valueType, label: label})
	return nil
}

func (f *fakeTurn) texts() []string {
	out := make([]string, 0, len(f.sent))
	for _, a := range f.sent {
		if a.Type == domain.ActivityTypeMessage {
			out = append(out, a.Text)
		}
	}
	return out
}

func (f *fakeTurn) requireEndsWithEoC(t *testing.T, code string) {
	t.Helper()
	require.NotEmpty(t, f.sent)
	last := f.sent[len(f.sent)-1]
	require.Equal(t, domain.ActivityTypeEndOfConversation, last.Type)
	require.Equal(t, code, last.Code)
}

// fakeSource serves bodies keyed by URL.
type fakeSource struct {
	bodies  map[string]string
	openErr error
	readErr error
	opened  []string
}

func (f *fakeSource) Open(_ context.Context, url string) (io.ReadCloser, error) {
	f.opened = append(f.opened, url)
	if f.openErr != nil {
		return nil, f.openErr
	}
	body, ok := f.bodies[url]
	if !ok {
		return nil, errors.New("source: GET " + url + ": 404 Not Found")
	}
	var r io.Reader = strings.NewReader(body)
	if f.readErr != nil {
		r = io.MultiReader(r, &failingReader{err: f.readErr})
	}
	return io.NopCloser(r), nil
}

type failingReader struct{ err error }

func (f *failingReader) Read([]byte) (int, error) { return 0, f.err }

// memBackend commits objects on Close only.
type memBackend struct {
	mu       sync.Mutex
	objects  map[string][]byte
	opens    int
	aborts   int
	openErr  error
	writeErr error
}

func newMemBackend() *memBackend {
	return &memBackend{objects: map[string][]byte{}}
}

func (m *memBackend) OpenWriter(_ context.Context, container, name string) (storage.Writer, error) {
	if m.openErr != nil {
		return nil, m.openErr
	}
	if err := storage.ValidateKey(container, name); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.opens++
	m.mu.Unlock()
	return &memWriter{backend: m, key: container + "/" + name}, nil
}

func (m *memBackend) object(key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key]
	return b, ok
}

type memWriter struct {
	backend *memBackend
	key     string
	buf     bytes.Buffer
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.backend.writeErr != nil {
		return 0, w.backend.writeErr
	}
	return w.buf.Write(p)
}

func (w *memWriter) Close() error {
	w.backend.mu.Lock()
	defer w.backend.mu.Unlock()
	w.backend.objects[w.key] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}

func (w *memWriter) Abort(error) {
	w.backend.mu.Lock()
	w.backend.aborts++
	w.backend.mu.Unlock()
}

func (w *memWriter) URL() string {
	return "https://files.example.com/" + w.key
}

type fakeSessions struct {
	sessions    map[string]domain.RelaySession
	getErr      error
	beginErr    error
	takeoverErr error
	saveErr     error
	releaseErr  error
	clearErr    error
	saved       []domain.RelaySession
	released    []domain.RelaySession
	cleared     []string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{sessions: map[string]domain.RelaySession{}}
}

func (f *fakeSessions) Get(_ context.Context, id string) (domain.RelaySession, bool, error) {
	if f.getErr != nil {
		return domain.RelaySession{}, false, f.getErr
	}
	s, ok := f.sessions[id]
	return s, ok, nil
}

func (f *fakeSessions) Begin(_ context.Context, s domain.RelaySession) error {
	if f.beginErr != nil {
		return f.beginErr
	}
	if _, ok := f.sessions[s.ConversationID]; ok {
		return domain.ErrSessionExists
	}
	f.sessions[s.ConversationID] = s
	return nil
}

func (f *fakeSessions) Takeover(_ context.Context, stale, fresh domain.RelaySession) error {
	if f.takeoverErr != nil {
		return f.takeoverErr
	}
	if cur, ok := f.sessions[fresh.ConversationID]; ok && (cur.ID != stale.ID || !cur.UpdatedAt.Equal(stale.UpdatedAt)) {
		return domain.ErrSessionExists
	}
	f.sessions[fresh.ConversationID] = fresh
	return nil
}

func (f *fakeSessions) Save(_ context.Context, s domain.RelaySession) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if cur, ok := f.sessions[s.ConversationID]; !ok || cur.ID != s.ID {
		return domain.ErrSessionNotFound
	}
	f.sessions[s.ConversationID] = s
	f.saved = append(f.saved, s)
	return nil
}

func (f *fakeSessions) Release(_ context.Context, s domain.RelaySession) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	if cur, ok := f.sessions[s.ConversationID]; ok && cur.ID == s.ID {
		delete(f.sessions, s.ConversationID)
	}
	f.released = append(f.released, s)
	return nil
}

func (f *fakeSessions) Clear(_ context.Context, id string) error {
	if f.clearErr != nil {
		return f.clearErr
	}
	delete(f.sessions, id)
	f.cleared = append(f.cleared, id)
	return nil
}

func hostedAttachment(name, downloadURL string) domain.Attachment {
	return domain.Attachment{
		ContentType: domain.HostedFileDownloadContentType,
		Name:        name,
		Content:     []byte(`{"downloadUrl":"` + downloadURL + `","fileType":"png"}`),
	}
}

func genericAttachment(name, contentURL string) domain.Attachment {
	return domain.Attachment{ContentType: "image/png", Name: name, ContentURL: contentURL}
}

func mustNewRelay(t *testing.T, src SourceOpener, store storage.Backend) *StreamRelay {
	t.Helper()
	r, err := NewStreamRelay(src, store, RelayOptions{})
	require.NoError(t, err)
	return r
}
