package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexusfield/uploadq/internal/logging"
	"github.com/nexusfield/uploadq/internal/uploader/backoff"
	"github.com/nexusfield/uploadq/internal/uploader/cms"
	"github.com/nexusfield/uploadq/internal/uploader/events"
	"github.com/nexusfield/uploadq/internal/uploader/multipart"
	"github.com/nexusfield/uploadq/internal/uploader/transfer"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

type staticTokens struct{ token string }

func (s staticTokens) Current() (string, error) { return s.token, nil }

type sentCall struct {
	filename string
	fields   map[string]string
	token    string
	data     []byte
}

// fakeSender records every attempt and answers with fn(callIndex), nil
// meaning success.
type fakeSender struct {
	mu    sync.Mutex
	calls []sentCall
	fn    func(call int) error
}

func (s *fakeSender) Upload(_ context.Context, fields map[string]string, file multipart.File, token string) (*cms.UploadResult, error) {
	s.mu.Lock()
	n := len(s.calls)
	s.calls = append(s.calls, sentCall{filename: file.Name, fields: fields, token: token, data: file.Data})
	s.mu.Unlock()
	if s.fn != nil {
		if err := s.fn(n); err != nil {
			return nil, err
		}
	}
	return &cms.UploadResult{}, nil
}

func (s *fakeSender) sent() []sentCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentCall, len(s.calls))
	copy(out, s.calls)
	return out
}

type fakeTransfer struct {
	mu   sync.Mutex
	reqs []transfer.Request
	err  error
}

func (f *fakeTransfer) EnqueueFile(req transfer.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.reqs = append(f.reqs, req)
	return "task-" + req.ItemID, nil
}

func (f *fakeTransfer) requests() []transfer.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]transfer.Request, len(f.reqs))
	copy(out, f.reqs)
	return out
}

func fastPolicy() *backoff.Policy {
	return &backoff.Policy{
		Base:       time.Millisecond,
		Cap:        5 * time.Millisecond,
		MaxAttempt: 3,
		JitterMin:  1,
		JitterMax:  1,
	}
}

type queueFixture struct {
	fs     afero.Fs
	sender *fakeSender
	bus    *events.Bus
	q      *Queue
}

func newFixture(t *testing.T, mutate func(*Options)) *queueFixture {
	t.Helper()
	fs := afero.NewMemMapFs()
	sender := &fakeSender{}
	bus := events.NewBus()
	o := Options{
		Store:    NewStore(fs, "/data/pending-uploads.json"),
		Sender:   sender,
		Tokens:   staticTokens{token: signedToken(t, time.Now().Add(time.Hour))},
		Bus:      bus,
		Policy:   fastPolicy(),
		Log:      testLogger(),
		Fs:       fs,
		SpoolDir: "/data/spool",
	}
	if mutate != nil {
		mutate(&o)
	}
	q, err := New(o)
	require.NoError(t, err)
	t.Cleanup(q.Stop)
	return &queueFixture{fs: fs, sender: sender, bus: bus, q: q}
}

func TestQueue_DeliversInInsertionOrder(t *testing.T) {
	f := newFixture(t, nil)

	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		require.NoError(t, f.q.Enqueue(NewPendingUpload(name, "image/jpeg", []byte(name), nil, "")))
	}

	require.Eventually(t, func() bool { return f.q.Len() == 0 }, time.Second, time.Millisecond)

	sent := f.sender.sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "a.jpg", sent[0].filename)
	assert.Equal(t, "b.jpg", sent[1].filename)
	assert.Equal(t, "c.jpg", sent[2].filename)
}

func TestQueue_EnqueueNotAcceptedWhenPersistFails(t *testing.T) {
	fs := afero.NewReadOnlyFs(afero.NewMemMapFs())
	f := newFixture(t, func(o *Options) {
		o.Store = NewStore(fs, "/data/pending-uploads.json")
	})

	err := f.q.Enqueue(NewPendingUpload("a.jpg", "image/jpeg", []byte("x"), nil, ""))
	require.Error(t, err)
	assert.Zero(t, f.q.Len())
}

func TestQueue_StateSurvivesRestart(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs, "/data/pending-uploads.json")
	blocked := &fakeSender{fn: func(int) error { return errors.New("offline") }}

	f := newFixture(t, func(o *Options) {
		o.Store = store
		o.Sender = blocked
	})
	item := NewPendingUpload("a.jpg", "image/jpeg", []byte("x"), map[string]string{"caption": "c"}, "")
	require.NoError(t, f.q.Enqueue(item))
	f.q.Stop()

	q2, err := New(Options{
		Store:  store,
		Sender: &fakeSender{},
		Tokens: staticTokens{},
		Bus:    events.NewBus(),
		Log:    testLogger(),
		Fs:     fs,
	})
	require.NoError(t, err)
	items := q2.Items()
	require.Len(t, items, 1)
	assert.Equal(t, item.ID, items[0].ID)
	assert.Equal(t, []byte("x"), items[0].Data)
	assert.Equal(t, "c", items[0].Fields["caption"])
}

func TestQueue_RetryKeepsItemAtHeadWithNormalizedFields(t *testing.T) {
	sender := &fakeSender{fn: func(call int) error {
		if call < 2 {
			return errors.New("connection reset")
		}
		return nil
	}}
	f := newFixture(t, func(o *Options) { o.Sender = sender })

	require.NoError(t, f.q.Enqueue(NewPendingUpload("first.jpg", "image/jpeg", []byte("x"), nil, "")))
	require.NoError(t, f.q.Enqueue(NewPendingUpload("second.jpg", "image/jpeg", []byte("y"), nil, "")))

	require.Eventually(t, func() bool { return f.q.Len() == 0 }, 2*time.Second, time.Millisecond)

	sent := sender.sent()
	require.Len(t, sent, 4)
	// The failing head is retried in place; the second item waits its turn.
	assert.Equal(t, "first.jpg", sent[0].filename)
	assert.Equal(t, "first.jpg", sent[1].filename)
	assert.Equal(t, "first.jpg", sent[2].filename)
	assert.Equal(t, "second.jpg", sent[3].filename)

	// Title and alt are synthesized on every attempt, not just the first.
	for _, c := range sent {
		assert.NotEmpty(t, c.fields["title"])
		assert.Equal(t, c.fields["title"], c.fields["alt"])
	}
}

func TestQueue_ExpiredTokenBlocksWithoutARequest(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Tokens = staticTokens{token: signedToken(t, time.Now().Add(-time.Hour))}
	})
	expired := f.bus.Subscribe(events.AuthExpired)

	require.NoError(t, f.q.Enqueue(NewPendingUpload("a.jpg", "image/jpeg", []byte("x"), nil, "")))

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("expected an auth.expired event")
	}
	assert.Empty(t, f.sender.sent(), "no network attempt may be made with an expired token")
	assert.Equal(t, 1, f.q.Len(), "the item must stay queued for after re-login")
}

func TestQueue_ServerAuthRejectionPausesQueue(t *testing.T) {
	sender := &fakeSender{fn: func(int) error {
		return &cms.StatusError{StatusCode: 403, Body: "forbidden"}
	}}
	f := newFixture(t, func(o *Options) { o.Sender = sender })
	expired := f.bus.Subscribe(events.AuthExpired)

	require.NoError(t, f.q.Enqueue(NewPendingUpload("a.jpg", "image/jpeg", []byte("x"), nil, "")))

	select {
	case <-expired:
	case <-time.After(time.Second):
		t.Fatal("expected an auth.expired event")
	}
	assert.Equal(t, 1, f.q.Len())
	// The drain cycle stopped; no retry timer keeps hammering the server.
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sender.sent(), 1)
}

func TestQueue_FresherTokenSupersedesSnapshot(t *testing.T) {
	fresh := signedToken(t, time.Now().Add(time.Hour))
	f := newFixture(t, func(o *Options) { o.Tokens = staticTokens{token: fresh} })

	stale := signedToken(t, time.Now().Add(time.Minute))
	require.NoError(t, f.q.Enqueue(NewPendingUpload("a.jpg", "image/jpeg", []byte("x"), nil, stale)))

	require.Eventually(t, func() bool { return f.q.Len() == 0 }, time.Second, time.Millisecond)
	sent := f.sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, fresh, sent[0].token)
}

func TestQueue_LargeInlinePayloadHandsOffToBackground(t *testing.T) {
	tr := &fakeTransfer{}
	f := newFixture(t, func(o *Options) {
		o.Transfer = tr
		o.LargeFileThreshold = 16
	})

	item := NewPendingUpload("big.mp4", "video/mp4", make([]byte, 64), nil, "")
	require.NoError(t, f.q.Enqueue(item))

	require.Eventually(t, func() bool { return f.q.Len() == 0 }, time.Second, time.Millisecond)

	assert.Empty(t, f.sender.sent(), "oversized payloads bypass the foreground sender")
	reqs := tr.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, item.ID, reqs[0].ItemID)
	assert.True(t, reqs[0].Spooled)

	b, err := afero.ReadFile(f.fs, reqs[0].Path)
	require.NoError(t, err)
	assert.Len(t, b, 64, "the spool file carries the payload bytes")
}

func TestQueue_FileBackedItemAlwaysGoesBackground(t *testing.T) {
	tr := &fakeTransfer{}
	f := newFixture(t, func(o *Options) { o.Transfer = tr })
	require.NoError(t, afero.WriteFile(f.fs, "/media/clip.mp4", []byte("tiny"), 0o600))

	require.NoError(t, f.q.Enqueue(NewPendingFileUpload("/media/clip.mp4", "clip.mp4", "video/mp4", nil, "")))

	require.Eventually(t, func() bool { return f.q.Len() == 0 }, time.Second, time.Millisecond)
	reqs := tr.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/media/clip.mp4", reqs[0].Path)
	assert.False(t, reqs[0].Spooled, "already file-backed payloads are not copied")
}

func TestQueue_FileBackedItemSentForegroundWithoutTransfer(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, afero.WriteFile(f.fs, "/media/pic.jpg", []byte("pixels"), 0o600))

	require.NoError(t, f.q.Enqueue(NewPendingFileUpload("/media/pic.jpg", "pic.jpg", "image/jpeg", nil, "")))

	require.Eventually(t, func() bool { return f.q.Len() == 0 }, time.Second, time.Millisecond)
	sent := f.sender.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []byte("pixels"), sent[0].data)
}

func TestQueue_VanishedFileIsDroppedNotRetriedForever(t *testing.T) {
	f := newFixture(t, nil)
	failed := f.bus.Subscribe(events.UploadFailed)

	require.NoError(t, f.q.Enqueue(NewPendingFileUpload("/media/gone.jpg", "gone.jpg", "image/jpeg", nil, "")))

	select {
	case e := <-failed:
		assert.Contains(t, e.Body, "gone.jpg")
	case <-time.After(time.Second):
		t.Fatal("expected an upload.failed event")
	}
	require.Eventually(t, func() bool { return f.q.Len() == 0 }, time.Second, time.Millisecond)
	assert.Empty(t, f.sender.sent())
}

func TestQueue_SingleDrainCycleAtATime(t *testing.T) {
	gate := make(chan struct{})
	started := make(chan struct{}, 8)
	sender := &fakeSender{fn: func(int) error {
		started <- struct{}{}
		<-gate
		return nil
	}}
	f := newFixture(t, func(o *Options) { o.Sender = sender })

	require.NoError(t, f.q.Enqueue(NewPendingUpload("a.jpg", "image/jpeg", []byte("x"), nil, "")))

	<-started
	for i := 0; i < 5; i++ {
		go f.q.Kick()
	}
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, started, 0, "concurrent kicks must not start a second attempt")

	close(gate)
	require.Eventually(t, func() bool { return f.q.Len() == 0 }, time.Second, time.Millisecond)
	assert.Len(t, sender.sent(), 1)
}

func TestQueue_RemoveUnknownIDIsNoOp(t *testing.T) {
	f := newFixture(t, func(o *Options) {
		o.Sender = &fakeSender{fn: func(int) error { return errors.New("offline") }}
	})
	require.NoError(t, f.q.Enqueue(NewPendingUpload("a.jpg", "image/jpeg", []byte("x"), nil, "")))

	require.NoError(t, f.q.Remove("no-such-id"))
	assert.Equal(t, 1, f.q.Len())

	require.NoError(t, f.q.Remove(f.q.Items()[0].ID))
	assert.Zero(t, f.q.Len())
}
