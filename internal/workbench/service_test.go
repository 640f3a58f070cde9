package workbench

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/vidsuite/internal/capability"
	"github.com/maauso/vidsuite/internal/container"
	"github.com/maauso/vidsuite/internal/frames"
	"github.com/maauso/vidsuite/internal/intake"
	"github.com/maauso/vidsuite/internal/media"
	"github.com/maauso/vidsuite/internal/routine"
	"github.com/maauso/vidsuite/internal/session"
	"github.com/maauso/vidsuite/internal/storage"
	"github.com/maauso/vidsuite/internal/tool"
)

// mockProcessor is a mock implementation of media.Processor.
type mockProcessor struct {
	mock.Mock
}

func (m *mockProcessor) Compress(ctx context.Context, src, dst string, crf int) error {
	args := m.Called(ctx, src, dst, crf)
	return args.Error(0)
}

func (m *mockProcessor) Trim(ctx context.Context, src, dst string, start, end time.Duration) error {
	args := m.Called(ctx, src, dst, start, end)
	return args.Error(0)
}

func (m *mockProcessor) MuxAudio(ctx context.Context, video, audioSrc, dst string) error {
	args := m.Called(ctx, video, audioSrc, dst)
	return args.Error(0)
}

func (m *mockProcessor) Probe(ctx context.Context, path string) (media.Info, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(media.Info), args.Error(1)
}

type stubSource struct{ total int }

func (s stubSource) Frames() int { return s.total }
func (s stubSource) Frame(context.Context, int) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, 8, 6)), nil
}
func (s stubSource) Close() {}

type stubOpener struct{ total int }

func (o stubOpener) Open(context.Context, string) (frames.Source, error) { return stubSource(o), nil }

// publishingStorage publishes into memory.
type publishingStorage struct {
	*storage.LocalStorage
	keys []string
	err  error
}

func (p *publishingStorage) Publish(_ context.Context, key, _ string, data io.Reader) (string, error) {
	if p.err != nil {
		return "", p.err
	}
	if _, err := io.Copy(io.Discard, data); err != nil {
		return "", err
	}
	p.keys = append(p.keys, key)
	return "https://bucket.example/" + key, nil
}

func (p *publishingStorage) CanPublish() bool { return true }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func inspectOK(string) (container.Info, error) {
	return container.Info{Duration: time.Second, VideoCodec: container.CodecH264}, nil
}

type fixture struct {
	svc   *Service
	proc  *mockProcessor
	repo  *session.MemoryRepository
	store storage.Storage
	dir   string
}

func newFixture(t *testing.T, caps capability.Set, wrap func(*storage.LocalStorage) storage.Storage) *fixture {
	t.Helper()
	dir := t.TempDir()
	local, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	var store storage.Storage = local
	if wrap != nil {
		store = wrap(local)
	}

	proc := new(mockProcessor)
	repo := session.NewMemoryRepository()
	logger := quietLogger()
	d := routine.NewDispatcher(routine.Config{
		Processor: proc,
		Opener:    stubOpener{total: 5},
		Inspect:   inspectOK,
		Logger:    logger,
	})
	svc := NewService(repo, intake.New(store, logger), d, store, capability.Report{Set: caps}, logger)
	return &fixture{svc: svc, proc: proc, repo: repo, store: store, dir: dir}
}

func (f *fixture) assertTempDirEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

var mp4Bytes = append([]byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}, bytes.Repeat([]byte{1}, 64)...)

func writeArg(i int) func(mock.Arguments) {
	return func(args mock.Arguments) {
		_ = os.WriteFile(args.String(i), []byte("compressed"), 0o600)
	}
}

func TestOpenSession(t *testing.T) {
	f := newFixture(t, capability.NewSet(capability.Compression), nil)
	ctx := context.Background()

	s, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, tool.Compress, s.Selection())

	again, err := f.svc.OpenSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, again.ID)

	fresh, err := f.svc.OpenSession(ctx, "sess-not-a-uuid")
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, fresh.ID)
	assert.Equal(t, 2, f.repo.Len())
}

func TestOpenSession_ExpiresIdleSessions(t *testing.T) {
	f := newFixture(t, capability.NewSet(), nil)
	WithSessionTTL(time.Hour)(f.svc)
	ctx := context.Background()

	stale := session.New(tool.FrameViewer)
	stale.UpdatedAt = time.Now().Add(-2 * time.Hour)
	busy := session.New(tool.FrameViewer)
	busy.UpdatedAt = time.Now().Add(-2 * time.Hour)
	busy.Processing = true
	require.NoError(t, f.repo.Save(ctx, stale))
	require.NoError(t, f.repo.Save(ctx, busy))

	created, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)

	_, err = f.repo.FindByID(ctx, stale.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, err = f.repo.FindByID(ctx, busy.ID)
	assert.NoError(t, err)
	_, err = f.repo.FindByID(ctx, created.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, f.repo.Len())
}

func TestOpenSession_ActivityKeepsSessionAlive(t *testing.T) {
	f := newFixture(t, capability.NewSet(), nil)
	WithSessionTTL(time.Hour)(f.svc)
	ctx := context.Background()

	old := session.New(tool.FrameViewer)
	old.UpdatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, f.repo.Save(ctx, old))

	again, err := f.svc.OpenSession(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, old.ID, again.ID)

	_, err = f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	_, err = f.repo.FindByID(ctx, old.ID)
	assert.NoError(t, err)
}

func TestWithSessionTTL_IgnoresNonPositive(t *testing.T) {
	f := newFixture(t, capability.NewSet(), nil)
	WithSessionTTL(0)(f.svc)
	assert.Equal(t, DefaultSessionTTL, f.svc.ttl)
}

func TestCloseSession(t *testing.T) {
	f := newFixture(t, capability.NewSet(), nil)
	ctx := context.Background()
	s, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)

	require.NoError(t, f.svc.CloseSession(ctx, s.ID))
	assert.Equal(t, 0, f.repo.Len())
	assert.NoError(t, f.svc.CloseSession(ctx, s.ID))
}

func TestSelectTool(t *testing.T) {
	f := newFixture(t, capability.NewSet(), nil)
	ctx := context.Background()
	s, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, tool.FrameViewer, s.Selection())

	_, err = f.svc.SelectTool(ctx, s.ID, tool.Trim)
	assert.ErrorIs(t, err, ErrToolUnavailable)

	_, err = f.svc.SelectTool(ctx, "sess-missing", tool.FrameViewer)
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestProcess_CompressDeliversThenCleansUp(t *testing.T) {
	f := newFixture(t, capability.NewSet(capability.Compression), nil)
	ctx := context.Background()
	s, err := f.svc.OpenSession(ctx, "")
	require.NoError(t, err)

	f.proc.On("Compress", mock.Anything, mock.Anything, mock.Anything, routine.DefaultCRF).Return(nil).Run(writeArg(2))

	var delivered Outcome
	err = f.svc.Process(ctx, ProcessInput{SessionID: s.ID, Name: "holiday.mp4", Body: bytes.NewReader(mp4Bytes)}, func(o Outcome) error {
		delivered = o
		data, err := os.ReadFile(o.View.Path)
		require.NoError(t, err)
		assert.Equal(t, "compressed", string(data))
		stored, err := f.repo.FindByID(ctx, s.ID)
		require.NoError(t, err)
		assert.True(t, stored.Processing)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, tool.Compress, delivered.Tool)
	assert.True(t, delivered.View.OK)
	assert.Equal(t, "holiday_compressed.mp4", delivered.View.DownloadName)
	assert.Empty(t, delivered.PublishedURL)
	f.assertTempDirEmpty(t)

	stored, err := f.repo.FindByID(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, stored.Processing)
}

func TestProcess_FailureStillDelivers(t *testing.T) {
	f := newFixture(t, capability.NewSet(capability.Compression), nil)
	ctx := context.Background()
	s, _ := f.svc.OpenSession(ctx, "")
	f.proc.On("Compress", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("exit status 1"))

	var delivered Outcome
	err := f.svc.Process(ctx, ProcessInput{SessionID: s.ID, Name: "a.mp4", Body: bytes.NewReader(mp4Bytes)}, func(o Outcome) error {
		delivered = o
		return nil
	})
	require.NoError(t, err)
	assert.False(t, delivered.View.OK)
	assert.Equal(t, "Compression failed: exit status 1", delivered.View.Error)
	f.assertTempDirEmpty(t)
}

func TestProcess_StaleSelectionIsNoOp(t *testing.T) {
	f := newFixture(t, capability.NewSet(), nil)
	ctx := context.Background()
	stale := session.New(tool.Compress)
	require.NoError(t, f.repo.Save(ctx, stale))

	called := false
	err := f.svc.Process(ctx, ProcessInput{SessionID: stale.ID, Name: "a.mp4", Body: bytes.NewReader(mp4Bytes)}, func(Outcome) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrNoOp)
	assert.False(t, called)
	f.assertTempDirEmpty(t)
}

func TestProcess_IntakeRejection(t *testing.T) {
	f := newFixture(t, capability.NewSet(), nil)
	ctx := context.Background()
	s, _ := f.svc.OpenSession(ctx, "")

	err := f.svc.Process(ctx, ProcessInput{SessionID: s.ID, Name: "notes.txt", Body: bytes.NewReader(mp4Bytes)}, func(Outcome) error {
		t.Fatal("deliver must not run")
		return nil
	})
	assert.ErrorIs(t, err, intake.ErrUnsupportedExtension)

	stored, err := f.repo.FindByID(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, stored.Processing)
}

func TestProcess_BusySession(t *testing.T) {
	f := newFixture(t, capability.NewSet(), nil)
	ctx := context.Background()
	s, _ := f.svc.OpenSession(ctx, "")
	_, err := f.repo.Update(ctx, s.ID, func(sess *session.Session) error { return sess.Begin() })
	require.NoError(t, err)

	err = f.svc.Process(ctx, ProcessInput{SessionID: s.ID, Name: "a.mp4", Body: bytes.NewReader(mp4Bytes)}, func(Outcome) error { return nil })
	assert.ErrorIs(t, err, session.ErrBusy)

	stored, _ := f.repo.FindByID(ctx, s.ID)
	assert.True(t, stored.Processing)
}

func TestProcess_DeliverErrorIsReturned(t *testing.T) {
	f := newFixture(t, capability.NewSet(), nil)
	ctx := context.Background()
	s, _ := f.svc.OpenSession(ctx, "")
	boom := errors.New("client went away")

	err := f.svc.Process(ctx, ProcessInput{SessionID: s.ID, Name: "a.mp4", Body: bytes.NewReader(mp4Bytes)}, func(Outcome) error { return boom })
	assert.ErrorIs(t, err, boom)
	f.assertTempDirEmpty(t)
}

func TestProcess_Publish(t *testing.T) {
	var pub *publishingStorage
	f := newFixture(t, capability.NewSet(), func(l *storage.LocalStorage) storage.Storage {
		pub = &publishingStorage{LocalStorage: l}
		return pub
	})
	ctx := context.Background()
	s, _ := f.svc.OpenSession(ctx, "")
	assert.True(t, f.svc.CanPublish())

	var delivered Outcome
	err := f.svc.Process(ctx, ProcessInput{
		SessionID: s.ID,
		Name:      "clip.mp4",
		Body:      bytes.NewReader(mp4Bytes),
		Params:    routine.Params{FrameIndex: 3},
		Publish:   true,
	}, func(o Outcome) error {
		delivered = o
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.example/"+s.ID+"/clip_frame3.png", delivered.PublishedURL)
	assert.Equal(t, []string{s.ID + "/clip_frame3.png"}, pub.keys)
}

func TestProcess_PublishFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, capability.NewSet(), func(l *storage.LocalStorage) storage.Storage {
		return &publishingStorage{LocalStorage: l, err: errors.New("access denied")}
	})
	ctx := context.Background()
	s, _ := f.svc.OpenSession(ctx, "")

	var delivered Outcome
	err := f.svc.Process(ctx, ProcessInput{SessionID: s.ID, Name: "clip.mp4", Body: bytes.NewReader(mp4Bytes), Publish: true}, func(o Outcome) error {
		delivered = o
		return nil
	})
	require.NoError(t, err)
	assert.True(t, delivered.View.OK)
	assert.Empty(t, delivered.PublishedURL)
}

func TestBounds(t *testing.T) {
	f := newFixture(t, capability.NewSet(), nil)
	f.proc.On("Probe", mock.Anything, mock.Anything).Return(media.Info{Duration: 7.5, Frames: 180}, nil)

	b, err := f.svc.Bounds(context.Background(), "a.mov", bytes.NewReader(mp4Bytes))
	require.NoError(t, err)
	assert.Equal(t, routine.Bounds{Frames: 180, MaxFrameIndex: 179, Seconds: 7}, b)
	f.assertTempDirEmpty(t)
}

func TestTools(t *testing.T) {
	f := newFixture(t, capability.NewSet(capability.ClipEditing), nil)
	require.Len(t, f.svc.Tools(), 3)
	assert.Equal(t, tool.FrameViewer, f.svc.Tools()[0].ID)
	assert.True(t, f.svc.Report().Set.Has(capability.ClipEditing))
}
