package frames

import (
	"context"
	"fmt"
	"image"
	"os"

	vidio "github.com/AlexEidt/Vidio"
)

// Renderer re-encodes a video with a per-frame filter applied. The output
// carries video only; audio is handled by the caller.
type Renderer interface {
	ApplyFilter(ctx context.Context, src, dst string, f Filter) error
}

// VidioRenderer implements Renderer with Vidio's reader and writer. Like
// VidioOpener it is meant for short-lived commands.
type VidioRenderer struct {
	// Codec is the video codec passed to the writer.
	Codec string
}

var _ Renderer = VidioRenderer{}

// NewVidioRenderer returns a renderer that encodes with codec.
func NewVidioRenderer(codec string) VidioRenderer {
	if codec == "" {
		codec = "libx264"
	}
	return VidioRenderer{Codec: codec}
}

// ApplyFilter decodes src frame by frame, applies f and writes dst. A failed
// render removes dst so no partial output survives.
func (r VidioRenderer) ApplyFilter(ctx context.Context, src, dst string, f Filter) (err error) {
	transform, err := f.Transform()
	if err != nil {
		return err
	}

	video, err := vidio.NewVideo(src)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	defer video.Close()

	w, h := video.Width(), video.Height()
	writer, err := vidio.NewVideoWriter(dst, w, h, &vidio.Options{
		FPS:     video.FPS(),
		Bitrate: video.Bitrate(),
		Codec:   r.Codec,
	})
	if err != nil {
		return fmt.Errorf("create writer: %w", err)
	}
	defer func() {
		writer.Close()
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	frame := image.NewRGBA(image.Rect(0, 0, w, h))
	if err := video.SetFrameBuffer(frame.Pix); err != nil {
		return fmt.Errorf("set frame buffer: %w", err)
	}

	written := 0
	for video.Read() {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("filter cancelled: %w", ctxErr)
		}
		out := transform(frame)
		if err := writer.Write(out.Pix); err != nil {
			return fmt.Errorf("write frame %d: %w", written, err)
		}
		written++
	}
	if written == 0 {
		return ErrNoFrames
	}
	return nil
}
