package routine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/maauso/vidsuite/internal/frames"
	"github.com/maauso/vidsuite/internal/intake"
)

// Messages shown by the frame viewer without a label.
const (
	MsgUnreadableVideo = "Could not read video file."
	MsgFrameDecode     = "Failed to extract frame."
)

// outputPath returns <upload path minus ext>_<suffix><ext>.
func outputPath(m *intake.UploadedMedia, suffix, ext string) string {
	return strings.TrimSuffix(m.Path, m.Ext) + "_" + suffix + ext
}

func (d *Dispatcher) compress(ctx context.Context, m *intake.UploadedMedia, _ Params) Result {
	out := outputPath(m, "compressed", ".mp4")
	m.Track(out)

	if err := d.processor.Compress(ctx, m.Path, out, d.crf); err != nil {
		return d.fail(LabelCompress, err)
	}
	// The output file decides success, whatever Compress returned.
	return d.validateVideo(LabelCompress, out, "compressed")
}

func (d *Dispatcher) viewFrame(ctx context.Context, m *intake.UploadedMedia, p Params) Result {
	src, err := d.opener.Open(ctx, m.Path)
	if err != nil {
		return d.fail(LabelFrameViewer, err)
	}
	defer src.Close()

	total := src.Frames()
	if total <= 0 {
		return Failed(CategoryRoutine, "", MsgUnreadableVideo)
	}
	idx := frames.ClampIndex(p.FrameIndex, total)

	img, err := src.Frame(ctx, idx)
	if err != nil {
		return Failed(CategoryRoutine, "", MsgFrameDecode)
	}
	img = frames.ScaleToWidth(frames.Opaque(img), p.MaxWidth)

	suffix := fmt.Sprintf("frame%d", idx)
	out := outputPath(m, suffix, ".png")
	m.Track(out)
	if err := frames.WritePNG(img, out); err != nil {
		return d.fail(LabelFrameViewer, err)
	}

	b := img.Bounds()
	return Succeeded(Success{
		Path:   out,
		Kind:   KindImage,
		Suffix: suffix,
		Ext:    ".png",
		Details: Details{
			FrameIndex: idx,
			Frames:     total,
			Width:      b.Dx(),
			Height:     b.Dy(),
		},
	})
}

func (d *Dispatcher) trim(ctx context.Context, m *intake.UploadedMedia, p Params) Result {
	info, err := d.processor.Probe(ctx, m.Path)
	if err != nil {
		return d.fail(LabelTrim, err)
	}
	start, end := ClampRange(p.Start, p.End, info.WholeSeconds())

	out := outputPath(m, "trimmed", ".mp4")
	m.Track(out)
	if err := d.processor.Trim(ctx, m.Path, out, time.Duration(start)*time.Second, time.Duration(end)*time.Second); err != nil {
		return d.fail(LabelTrim, err)
	}
	return d.validateVideo(LabelTrim, out, "trimmed")
}

func (d *Dispatcher) filter(ctx context.Context, m *intake.UploadedMedia, p Params) Result {
	f := p.Filter
	if f == 0 {
		f = frames.Grayscale
	}
	if _, err := f.Transform(); err != nil {
		return d.fail(LabelFilter, err)
	}

	videoOnly := outputPath(m, f.Slug()+"_video", ".mp4")
	out := outputPath(m, f.Slug(), ".mp4")
	m.Track(videoOnly)
	m.Track(out)

	if err := d.renderer.ApplyFilter(ctx, m.Path, videoOnly, f); err != nil {
		return d.fail(LabelFilter, err)
	}
	if err := d.processor.MuxAudio(ctx, videoOnly, m.Path, out); err != nil {
		return d.fail(LabelFilter, err)
	}
	return d.validateVideo(LabelFilter, out, f.Slug())
}
