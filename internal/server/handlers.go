package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/vidsuite/internal/frames"
	"github.com/maauso/vidsuite/internal/intake"
	"github.com/maauso/vidsuite/internal/routine"
	"github.com/maauso/vidsuite/internal/session"
	"github.com/maauso/vidsuite/internal/tool"
	"github.com/maauso/vidsuite/internal/workbench"
)

// Response headers describing a processed file.
const (
	HeaderTool         = "X-Vidsuite-Tool"
	HeaderMessage      = "X-Vidsuite-Message"
	HeaderDuration     = "X-Vidsuite-Duration"
	HeaderFrame        = "X-Vidsuite-Frame"
	HeaderPublishedURL = "X-Vidsuite-Published-Url"
	// HeaderFilename carries the download name percent-encoded, so scripts
	// need not parse RFC 2231 Content-Disposition parameters.
	HeaderFilename = "X-Vidsuite-Filename"
)

// maxMemory is the part of a multipart upload kept in memory; the rest
// spills to temporary files.
const maxMemory = 32 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   *workbench.Service
	validator *validator.Validate
	logger    *slog.Logger
	publish   bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithPublishByDefault publishes every successful output when remote
// storage is configured, without the client asking for it.
func WithPublishByDefault(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.publish = enabled
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *workbench.Service, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Capabilities handles GET /api/capabilities requests.
func (h *Handlers) Capabilities(w http.ResponseWriter, _ *http.Request) {
	report := h.service.Report()
	names := make([]string, 0, report.Set.Len())
	for _, c := range report.Set.List() {
		names = append(names, string(c))
	}
	warnings := report.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, CapabilitiesResponse{
		Capabilities: names,
		Warnings:     warnings,
		Features:     report.Features(),
		CanPublish:   h.service.CanPublish(),
	})
}

// Tools handles GET /api/tools requests.
func (h *Handlers) Tools(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, h.toolsResponse(sess.Selection()))
}

// SelectTool handles PUT /api/session/tool requests.
func (h *Handlers) SelectTool(w http.ResponseWriter, r *http.Request) {
	var req SelectToolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	updated, err := h.service.SelectTool(r.Context(), sess.ID, tool.ID(req.Tool))
	if err != nil {
		if errors.Is(err, workbench.ErrToolUnavailable) {
			writeError(w, http.StatusBadRequest, err.Error(), "TOOL_UNAVAILABLE")
			return
		}
		h.logger.Error("failed to select tool",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to select tool", "SELECTION_FAILED")
		return
	}

	h.logger.Info("tool selected",
		slog.String("session_id", updated.ID),
		slog.String("tool", req.Tool),
	)
	writeJSON(w, http.StatusOK, h.toolsResponse(updated.Selection()))
}

// Probe handles POST /api/probe requests.
func (h *Handlers) Probe(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required", "MISSING_FILE")
		return
	}
	defer func() { _ = file.Close() }()

	b, err := h.service.Bounds(r.Context(), header.Filename, file)
	if err != nil {
		if h.writeIntakeError(w, err) {
			return
		}
		h.logger.Warn("probe failed",
			slog.String("name", header.Filename),
			slog.String("error", err.Error()),
		)
		writeCategorized(w, http.StatusUnprocessableEntity, routine.MsgUnreadableVideo, "PROBE_FAILED", routine.CategoryRoutine)
		return
	}

	writeJSON(w, http.StatusOK, BoundsResponse(b))
}

// Process handles POST /api/process requests. A successful output is
// streamed back as an attachment.
func (h *Handlers) Process(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body", "INVALID_MULTIPART")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	form, err := parseProcessForm(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "INVALID_PARAM")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}
	params := routine.Params{
		FrameIndex: form.FrameIndex,
		Start:      form.Start,
		End:        form.End,
		MaxWidth:   form.MaxWidth,
	}
	if form.Filter != "" {
		f, err := frames.ParseFilter(form.Filter)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		params.Filter = f
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field \"file\" is required", "MISSING_FILE")
		return
	}
	defer func() { _ = file.Close() }()

	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	err = h.service.Process(r.Context(), workbench.ProcessInput{
		SessionID: sess.ID,
		Name:      header.Filename,
		Body:      file,
		Params:    params,
		Publish:   form.Publish || h.publish,
	}, func(out workbench.Outcome) error {
		return h.deliver(w, r, out)
	})
	if err != nil {
		h.writeProcessError(w, sess.ID, err)
	}
}

// deliver writes the outcome while its output file still exists.
func (h *Handlers) deliver(w http.ResponseWriter, r *http.Request, out workbench.Outcome) error {
	v := out.View
	if !v.OK {
		writeCategorized(w, http.StatusUnprocessableEntity, v.Error, "ROUTINE_FAILED", v.Category)
		return nil
	}

	f, err := os.Open(v.Path) // #nosec G304 - path produced by a routine
	if err != nil {
		writeError(w, http.StatusInternalServerError, "output unavailable", "OUTPUT_UNAVAILABLE")
		return nil
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "output unavailable", "OUTPUT_UNAVAILABLE")
		return nil
	}

	hdr := w.Header()
	hdr.Set("Content-Type", v.ContentType)
	hdr.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": v.DownloadName}))
	hdr.Set(HeaderFilename, url.PathEscape(v.DownloadName))
	hdr.Set(HeaderTool, string(out.Tool))
	hdr.Set(HeaderMessage, strings.TrimSpace(strings.TrimPrefix(v.Banner, "✅")))
	if d := out.Result.Success.Details; d.Duration > 0 {
		hdr.Set(HeaderDuration, strconv.FormatFloat(d.Duration.Seconds(), 'f', 3, 64))
	}
	if out.Result.Success.Kind == routine.KindImage {
		hdr.Set(HeaderFrame, strconv.Itoa(out.Result.Success.Details.FrameIndex))
	}
	if out.PublishedURL != "" {
		hdr.Set(HeaderPublishedURL, out.PublishedURL)
	}

	http.ServeContent(w, r, v.DownloadName, info.ModTime(), f)
	return nil
}

func (h *Handlers) writeProcessError(w http.ResponseWriter, sessionID string, err error) {
	if h.writeIntakeError(w, err) {
		return
	}
	switch {
	case errors.Is(err, session.ErrBusy):
		writeError(w, http.StatusConflict, "an upload is already being processed", "SESSION_BUSY")
	case errors.Is(err, workbench.ErrNoOp):
		writeCategorized(w, http.StatusConflict, err.Error(), "TOOL_UNAVAILABLE", routine.CategoryAvailability)
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found", "SESSION_NOT_FOUND")
	default:
		h.logger.Error("processing failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "processing failed", "INTERNAL_ERROR")
	}
}

// writeIntakeError maps upload errors and reports whether it wrote a response.
func (h *Handlers) writeIntakeError(w http.ResponseWriter, err error) bool {
	switch {
	case errors.Is(err, intake.ErrUnsupportedExtension):
		writeCategorized(w, http.StatusBadRequest, err.Error(), "UNSUPPORTED_FILE", routine.CategoryIntake)
	case errors.Is(err, intake.ErrIntake):
		h.logger.Error("upload could not be stored", slog.String("error", err.Error()))
		writeCategorized(w, http.StatusInternalServerError, "could not store upload", "INTAKE_FAILED", routine.CategoryIntake)
	default:
		return false
	}
	return true
}

// session returns the request's session, writing an error when none can be
// opened.
func (h *Handlers) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sess, err := h.service.OpenSession(r.Context(), sessionIDFromContext(r.Context()))
	if err != nil {
		h.logger.Error("failed to open session", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to open session", "SESSION_FAILED")
		return nil, false
	}
	return sess, true
}

func (h *Handlers) toolsResponse(selected tool.ID) ToolsResponse {
	tools := h.service.Tools()
	resp := ToolsResponse{
		Tools:    make([]ToolResponse, 0, len(tools)),
		Selected: string(selected),
	}
	for _, t := range tools {
		resp.Tools = append(resp.Tools, ToolResponse{
			ID:       string(t.ID),
			Label:    t.Label,
			Selected: t.ID == selected,
		})
	}
	return resp
}

func parseProcessForm(r *http.Request) (ProcessForm, error) {
	var (
		form ProcessForm
		err  error
	)
	ints := []struct {
		field string
		dst   *int
	}{
		{"frame_index", &form.FrameIndex},
		{"start", &form.Start},
		{"end", &form.End},
		{"max_width", &form.MaxWidth},
	}
	for _, f := range ints {
		v := strings.TrimSpace(r.FormValue(f.field))
		if v == "" {
			continue
		}
		if *f.dst, err = strconv.Atoi(v); err != nil {
			return form, fmt.Errorf("%s must be an integer", f.field)
		}
	}
	form.Filter = strings.TrimSpace(r.FormValue("filter"))
	if v := r.FormValue("publish"); v != "" {
		if form.Publish, err = strconv.ParseBool(v); err != nil {
			return form, fmt.Errorf("publish must be a boolean")
		}
	}
	return form, nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// writeCategorized writes an error response carrying a failure category.
func writeCategorized(w http.ResponseWriter, status int, message, code string, category routine.Category) {
	writeJSON(w, status, ErrorResponse{
		Error:    message,
		Code:     code,
		Category: string(category),
	})
}
