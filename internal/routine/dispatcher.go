// Package routine runs the processing routine behind each tool and reports
// its outcome as an explicit Result.
package routine

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/maauso/vidsuite/internal/capability"
	"github.com/maauso/vidsuite/internal/container"
	"github.com/maauso/vidsuite/internal/frames"
	"github.com/maauso/vidsuite/internal/intake"
	"github.com/maauso/vidsuite/internal/media"
	"github.com/maauso/vidsuite/internal/tool"
)

// Failure labels per routine.
const (
	LabelCompress    = "Compression failed"
	LabelFrameViewer = "Frame extraction failed"
	LabelTrim        = "Video trimming failed"
	LabelFilter      = "Filter application failed"
)

// DefaultCRF is the constant rate factor used for compression.
const DefaultCRF = 28

// InspectFunc validates a produced MP4 file.
type InspectFunc func(path string) (container.Info, error)

// Config holds the collaborators a Dispatcher calls.
type Config struct {
	Processor media.Processor
	Opener    frames.Opener
	Renderer  frames.Renderer
	// Inspect defaults to container.Inspect.
	Inspect InspectFunc
	// CRF defaults to DefaultCRF.
	CRF    int
	Logger *slog.Logger
}

// Dispatcher selects and runs the routine for a tool.
type Dispatcher struct {
	processor media.Processor
	opener    frames.Opener
	renderer  frames.Renderer
	inspect   InspectFunc
	crf       int
	logger    *slog.Logger

	routines map[tool.ID]routineFunc
}

type routineFunc func(ctx context.Context, m *intake.UploadedMedia, p Params) Result

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg Config) *Dispatcher {
	d := &Dispatcher{
		processor: cfg.Processor,
		opener:    cfg.Opener,
		renderer:  cfg.Renderer,
		inspect:   cfg.Inspect,
		crf:       cfg.CRF,
		logger:    cfg.Logger,
	}
	if d.inspect == nil {
		d.inspect = container.Inspect
	}
	if d.crf == 0 {
		d.crf = DefaultCRF
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.routines = map[tool.ID]routineFunc{
		tool.Compress:    d.compress,
		tool.FrameViewer: d.viewFrame,
		tool.Trim:        d.trim,
		tool.Filter:      d.filter,
	}
	return d
}

// Label returns the failure label of the routine behind id.
func Label(id tool.ID) string {
	switch id {
	case tool.Compress:
		return LabelCompress
	case tool.FrameViewer:
		return LabelFrameViewer
	case tool.Trim:
		return LabelTrim
	case tool.Filter:
		return LabelFilter
	default:
		return ""
	}
}

// Dispatch runs the routine for id against m. It returns false without
// running anything when id is unknown or its capability is absent.
func (d *Dispatcher) Dispatch(ctx context.Context, id tool.ID, m *intake.UploadedMedia, p Params, caps capability.Set) (Result, bool) {
	t, ok := tool.Lookup(id)
	if !ok || !t.Available(caps) {
		d.logger.Debug("dispatch skipped", slog.String("tool", string(id)))
		return Result{}, false
	}
	fn, ok := d.routines[id]
	if !ok {
		return Result{}, false
	}

	run := NewRun(id)
	_ = run.Start()
	res := d.guard(ctx, id, fn, m, p)
	_ = run.Finish(res)

	attrs := []any{
		slog.String("tool", string(id)),
		slog.String("status", string(run.GetStatus())),
		slog.Duration("elapsed", run.Elapsed()),
	}
	if res.OK() {
		d.logger.Info("routine finished", append(attrs, slog.String("output", res.Success.Path))...)
	} else {
		d.logger.Warn("routine finished", append(attrs, slog.String("error", res.Failure.Text()))...)
	}
	return res, true
}

// guard converts a panicking collaborator into a Failure.
func (d *Dispatcher) guard(ctx context.Context, id tool.ID, fn routineFunc, m *intake.UploadedMedia, p Params) (res Result) {
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("routine panicked", slog.String("tool", string(id)), slog.Any("panic", rec))
			res = Failed(CategoryRoutine, Label(id), fmt.Sprintf("unexpected error: %v", rec))
		}
	}()
	return fn(ctx, m, p)
}

// Bounds probes an upload for the viewer and trim slider limits.
func (d *Dispatcher) Bounds(ctx context.Context, path string) (Bounds, error) {
	info, err := d.processor.Probe(ctx, path)
	if err != nil {
		return Bounds{}, fmt.Errorf("probe upload: %w", err)
	}
	if info.Frames <= 0 && d.opener != nil {
		if src, err := d.opener.Open(ctx, path); err == nil {
			info.Frames = src.Frames()
			src.Close()
		}
	}
	return BoundsFromInfo(info), nil
}

// fail logs the full error and returns the user-facing Failure for it.
func (d *Dispatcher) fail(label string, err error) Result {
	d.logger.Warn("routine step failed",
		slog.String("label", label),
		slog.String("error", err.Error()),
	)
	return failedErr(label, err)
}

// validateVideo inspects a produced MP4 and turns it into a Success.
func (d *Dispatcher) validateVideo(label, path, suffix string) Result {
	if _, err := os.Stat(path); err != nil {
		return Failed(CategoryRoutine, label, "Output file not created.")
	}
	info, err := d.inspect(path)
	if err != nil {
		return d.fail(label, fmt.Errorf("output is not a playable MP4: %w", err))
	}
	return Succeeded(Success{
		Path:   path,
		Kind:   KindVideo,
		Suffix: suffix,
		Ext:    ".mp4",
		Details: Details{
			Duration:   info.Duration,
			VideoCodec: string(info.VideoCodec),
			HasAudio:   info.HasAudio,
		},
	})
}
