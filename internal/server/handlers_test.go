package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
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
	"github.com/maauso/vidsuite/internal/workbench"
)

// mockProcessor implements media.Processor for testing.
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

type stubSource struct{}

func (stubSource) Frames() int { return 24 }
func (stubSource) Frame(context.Context, int) (*image.RGBA, error) {
	return image.NewRGBA(image.Rect(0, 0, 16, 9)), nil
}
func (stubSource) Close() {}

type stubOpener struct{}

func (stubOpener) Open(context.Context, string) (frames.Source, error) { return stubSource{}, nil }

type testServer struct {
	handlers *Handlers
	router   http.Handler
	proc     *mockProcessor
	repo     *session.MemoryRepository
	dir      string
}

func newTestServer(t *testing.T, caps capability.Set, warnings ...string) *testServer {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStorage(dir)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	proc := &mockProcessor{}
	repo := session.NewMemoryRepository()
	d := routine.NewDispatcher(routine.Config{
		Processor: proc,
		Opener:    stubOpener{},
		Inspect: func(string) (container.Info, error) {
			return container.Info{Duration: 1500 * time.Millisecond, VideoCodec: container.CodecH264}, nil
		},
		Logger: logger,
	})
	svc := workbench.NewService(repo, intake.New(store, logger), d, store,
		capability.Report{Set: caps, Warnings: warnings}, logger)

	h := NewHandlers(svc, logger)
	return &testServer{
		handlers: h,
		router:   NewRouter(h, logger, DefaultConfig()),
		proc:     proc,
		repo:     repo,
		dir:      dir,
	}
}

// do sends req through the router, carrying cookie when set.
func (s *testServer) do(req *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

// newSession opens a session through the router and returns its cookie.
func (s *testServer) newSession(t *testing.T) *http.Cookie {
	t.Helper()
	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/tools", nil), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookie {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func (s *testServer) selectTool(t *testing.T, cookie *http.Cookie, id string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPut, "/api/session/tool", strings.NewReader(`{"tool":"`+id+`"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := s.do(req, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

var mp4Bytes = append([]byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}, bytes.Repeat([]byte{7}, 128)...)

func multipartRequest(t *testing.T, path, filename string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, body io.Reader) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.NewDecoder(body).Decode(&resp))
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, capability.NewSet())

	rec := s.do(httptest.NewRequest(http.MethodGet, "/health", nil), nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, 0, s.repo.Len())
}

func TestIndex(t *testing.T) {
	s := newTestServer(t, capability.NewSet(capability.Compression), "Clip editing not available. Some features will be disabled.")

	rec := s.do(httptest.NewRequest(http.MethodGet, "/", nil), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, `data-tool="compress" class="selected">Compress Video`)
	assert.Contains(t, body, "Frame-by-Frame Viewer")
	assert.NotContains(t, body, "Trim Video</button>")
	assert.Contains(t, body, "Clip editing not available. Some features will be disabled.")
	assert.Contains(t, body, "Available Features")
	assert.Contains(t, body, `<option value="Grayscale">Grayscale</option>`)
	assert.NotEmpty(t, rec.Result().Cookies())
}

func TestIndex_UnknownPath(t *testing.T) {
	s := newTestServer(t, capability.NewSet())
	rec := s.do(httptest.NewRequest(http.MethodGet, "/nope", nil), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCapabilities(t *testing.T) {
	s := newTestServer(t, capability.NewSet(capability.ClipEditing), "Compressor not available. Video compression is disabled.")

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/capabilities", nil), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp CapabilitiesResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []string{"clip-editing"}, resp.Capabilities)
	assert.Equal(t, []string{"Compressor not available. Video compression is disabled."}, resp.Warnings)
	require.Len(t, resp.Features, 4)
	assert.False(t, resp.CanPublish)
}

func TestTools_SessionCookieKeepsSelection(t *testing.T) {
	s := newTestServer(t, capability.NewSet(capability.Compression, capability.ClipEditing))
	cookie := s.newSession(t)

	s.selectTool(t, cookie, "trim")

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/tools", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Result().Cookies(), "existing session must not be reissued")

	var resp ToolsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "trim", resp.Selected)
	ids := make([]string, 0, len(resp.Tools))
	for _, tl := range resp.Tools {
		ids = append(ids, tl.ID)
		assert.Equal(t, tl.ID == "trim", tl.Selected)
	}
	assert.Equal(t, []string{"compress", "frame-viewer", "trim", "filter"}, ids)
}

func TestTools_StaleCookieGetsNewSession(t *testing.T) {
	s := newTestServer(t, capability.NewSet())
	stale := &http.Cookie{Name: SessionCookie, Value: "sess-00000000-0000-4000-8000-000000000000"}

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/tools", nil), stale)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.NotEqual(t, stale.Value, cookies[0].Value)
	assert.True(t, cookies[0].HttpOnly)
}

func TestSelectTool_Errors(t *testing.T) {
	s := newTestServer(t, capability.NewSet())
	cookie := s.newSession(t)

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"invalid json", `{"tool":`, "INVALID_JSON"},
		{"missing tool", `{}`, "VALIDATION_ERROR"},
		{"disabled tool", `{"tool":"trim"}`, "TOOL_UNAVAILABLE"},
		{"unknown tool", `{"tool":"teleport"}`, "TOOL_UNAVAILABLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/api/session/tool", strings.NewReader(tt.body))
			rec := s.do(req, cookie)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantCode, decodeError(t, rec.Body).Code)
		})
	}
}

func TestProbe(t *testing.T) {
	s := newTestServer(t, capability.NewSet())
	s.proc.On("Probe", mock.Anything, mock.Anything).Return(media.Info{Duration: 12.7, Frames: 305}, nil)

	rec := s.do(multipartRequest(t, "/api/probe", "clip.mp4", mp4Bytes, nil), nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp BoundsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, BoundsResponse{Frames: 305, MaxFrameIndex: 304, Seconds: 12}, resp)
}

func TestProbe_Errors(t *testing.T) {
	s := newTestServer(t, capability.NewSet())
	s.proc.On("Probe", mock.Anything, mock.Anything).Return(media.Info{}, media.ErrNoVideoStream)

	rec := s.do(multipartRequest(t, "/api/probe", "", nil, nil), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "MISSING_FILE", decodeError(t, rec.Body).Code)

	rec = s.do(multipartRequest(t, "/api/probe", "clip.webm", mp4Bytes, nil), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeError(t, rec.Body)
	assert.Equal(t, "UNSUPPORTED_FILE", resp.Code)
	assert.Equal(t, "intake", resp.Category)

	rec = s.do(multipartRequest(t, "/api/probe", "clip.mp4", mp4Bytes, nil), nil)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, routine.MsgUnreadableVideo, decodeError(t, rec.Body).Error)
}

func TestProcess_FrameViewerStreamsImage(t *testing.T) {
	s := newTestServer(t, capability.NewSet())
	cookie := s.newSession(t)

	req := multipartRequest(t, "/api/process", "Holiday.mov", mp4Bytes, map[string]string{"frame_index": "2", "max_width": "0"})
	rec := s.do(req, cookie)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=Holiday_frame2.png`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "Holiday_frame2.png", rec.Header().Get(HeaderFilename))
	assert.Equal(t, "frame-viewer", rec.Header().Get(HeaderTool))
	assert.Equal(t, "Frame extracted", rec.Header().Get(HeaderMessage))
	assert.Equal(t, "2", rec.Header().Get(HeaderFrame))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestProcess_NonASCIIDownloadName(t *testing.T) {
	s := newTestServer(t, capability.NewSet())
	cookie := s.newSession(t)

	req := multipartRequest(t, "/api/process", "Café clip.mov", mp4Bytes, map[string]string{"frame_index": "2"})
	rec := s.do(req, cookie)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	name, err := url.PathUnescape(rec.Header().Get(HeaderFilename))
	require.NoError(t, err)
	assert.Equal(t, "Café clip_frame2.png", name)

	_, params, err := mime.ParseMediaType(rec.Header().Get("Content-Disposition"))
	require.NoError(t, err)
	assert.Equal(t, "Café clip_frame2.png", params["filename"])
}

func TestProcess_CompressStreamsVideo(t *testing.T) {
	s := newTestServer(t, capability.NewSet(capability.Compression))
	cookie := s.newSession(t)
	s.proc.On("Compress", mock.Anything, mock.Anything, mock.Anything, routine.DefaultCRF).Return(nil).Run(func(args mock.Arguments) {
		_ = os.WriteFile(args.String(2), []byte("smaller"), 0o600)
	})

	rec := s.do(multipartRequest(t, "/api/process", "clip.mp4", mp4Bytes, nil), cookie)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename=clip_compressed.mp4`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "1.500", rec.Header().Get(HeaderDuration))
	assert.Equal(t, "smaller", rec.Body.String())
}

func TestProcess_RoutineFailure(t *testing.T) {
	s := newTestServer(t, capability.NewSet(capability.Compression))
	cookie := s.newSession(t)
	s.proc.On("Compress", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("exit status 1"))

	rec := s.do(multipartRequest(t, "/api/process", "clip.mp4", mp4Bytes, nil), cookie)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeError(t, rec.Body)
	assert.Equal(t, "Compression failed: exit status 1", resp.Error)
	assert.Equal(t, "ROUTINE_FAILED", resp.Code)
	assert.Equal(t, "routine", resp.Category)
}

func TestProcess_TrimPassesClampedRange(t *testing.T) {
	s := newTestServer(t, capability.NewSet(capability.ClipEditing))
	cookie := s.newSession(t)
	s.selectTool(t, cookie, "trim")

	s.proc.On("Probe", mock.Anything, mock.Anything).Return(media.Info{Duration: 10}, nil)
	s.proc.On("Trim", mock.Anything, mock.Anything, mock.Anything, 2*time.Second, 10*time.Second).Return(nil).Run(func(args mock.Arguments) {
		_ = os.WriteFile(args.String(2), []byte("cut"), 0o600)
	})

	rec := s.do(multipartRequest(t, "/api/process", "clip.mp4", mp4Bytes, map[string]string{"start": "2", "end": "60"}), cookie)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `attachment; filename=clip_trimmed.mp4`, rec.Header().Get("Content-Disposition"))
	s.proc.AssertExpectations(t)
}

func TestProcess_BadRequests(t *testing.T) {
	s := newTestServer(t, capability.NewSet())
	cookie := s.newSession(t)

	tests := []struct {
		name     string
		filename string
		fields   map[string]string
		status   int
		code     string
	}{
		{"missing file", "", nil, http.StatusBadRequest, "MISSING_FILE"},
		{"non-integer frame", "a.mp4", map[string]string{"frame_index": "abc"}, http.StatusBadRequest, "INVALID_PARAM"},
		{"negative start", "a.mp4", map[string]string{"start": "-1"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown filter", "a.mp4", map[string]string{"filter": "sepia"}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"bad publish flag", "a.mp4", map[string]string{"publish": "maybe"}, http.StatusBadRequest, "INVALID_PARAM"},
		{"unsupported extension", "a.gif", nil, http.StatusBadRequest, "UNSUPPORTED_FILE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(multipartRequest(t, "/api/process", tt.filename, mp4Bytes, tt.fields), cookie)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec.Body).Code)
		})
	}
}

func TestProcess_NotMultipart(t *testing.T) {
	s := newTestServer(t, capability.NewSet())
	req := httptest.NewRequest(http.MethodPost, "/api/process", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")

	rec := s.do(req, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_MULTIPART", decodeError(t, rec.Body).Code)
}

func TestProcess_StaleSelectionIsNoOp(t *testing.T) {
	s := newTestServer(t, capability.NewSet())
	stale := session.New("compress")
	require.NoError(t, s.repo.Save(context.Background(), stale))
	cookie := &http.Cookie{Name: SessionCookie, Value: stale.ID}

	rec := s.do(multipartRequest(t, "/api/process", "a.mp4", mp4Bytes, nil), cookie)

	assert.Equal(t, http.StatusConflict, rec.Code)
	resp := decodeError(t, rec.Body)
	assert.Equal(t, "TOOL_UNAVAILABLE", resp.Code)
	assert.Equal(t, "availability", resp.Category)
}

func TestProcess_BusySession(t *testing.T) {
	s := newTestServer(t, capability.NewSet())
	cookie := s.newSession(t)
	_, err := s.repo.Update(context.Background(), cookie.Value, func(sess *session.Session) error { return sess.Begin() })
	require.NoError(t, err)

	rec := s.do(multipartRequest(t, "/api/process", "a.mp4", mp4Bytes, nil), cookie)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "SESSION_BUSY", decodeError(t, rec.Body).Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, capability.NewSet())
	req := httptest.NewRequest(http.MethodOptions, "/api/process", nil)
	req.Header.Set("Origin", "https://example.com")

	rec := s.do(req, nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Expose-Headers"), HeaderPublishedURL)
}

func TestCORSMiddleware_DisallowedOrigin(t *testing.T) {
	h := CORSMiddleware([]string{"https://allowed.example"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoveryMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := RecoveryMiddleware(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", decodeError(t, rec.Body).Code)
}

func TestChainMiddleware_Order(t *testing.T) {
	var order []string
	mw := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := ChainMiddleware(mw("a"), mw("b"), mw("c"))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, []string{"a", "b", "c", "handler"}, order)
}
