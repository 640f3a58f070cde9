package frames

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/maauso/vidsuite/internal/media"
)

// Prober reads the geometry and frame count of a video.
// media.FFmpegProcessor satisfies it.
type Prober interface {
	Probe(ctx context.Context, path string) (media.Info, error)
}

// FFmpegOpener reads frames through an ffmpeg rawvideo pipe. Every decode
// runs the configured binary under the caller's context.
type FFmpegOpener struct {
	FFmpegPath string
	Prober     Prober
}

var _ Opener = FFmpegOpener{}

// NewFFmpegOpener returns an opener running ffmpegPath. An empty path
// defaults to "ffmpeg" found via PATH.
func NewFFmpegOpener(ffmpegPath string, prober Prober) FFmpegOpener {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return FFmpegOpener{FFmpegPath: ffmpegPath, Prober: prober}
}

// Open probes path and returns a Source for it.
func (o FFmpegOpener) Open(ctx context.Context, path string) (Source, error) {
	info, err := o.Prober.Probe(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, fmt.Errorf("open video: %w", media.ErrNoVideoStream)
	}
	return &pipeSource{ffmpegPath: o.FFmpegPath, path: path, info: info}, nil
}

type pipeSource struct {
	ffmpegPath string
	path       string
	info       media.Info
}

func (s *pipeSource) Frames() int {
	return s.info.Frames
}

func (s *pipeSource) Frame(ctx context.Context, index int) (*image.RGBA, error) {
	if index < 0 || index >= s.info.Frames {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrFrameOutOfRange, index, s.info.Frames)
	}

	args := []string{
		"-hide_banner", "-nostdin", "-v", "error",
		"-noautorotate",
		"-i", s.path,
		"-vf", fmt.Sprintf(`select=eq(n\,%d)`, index),
		"-vsync", "0",
		"-frames:v", "1",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	}
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, s.ffmpegPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("decode frame %d: %w", index, ctx.Err())
		}
		return nil, &media.FFmpegError{Args: args, Stderr: stderr.String(), Err: err}
	}

	img := image.NewRGBA(image.Rect(0, 0, s.info.Width, s.info.Height))
	if stdout.Len() < len(img.Pix) {
		return nil, fmt.Errorf("decode frame %d: %w", index, ErrNoFrames)
	}
	copy(img.Pix, stdout.Bytes())
	return img, nil
}

func (s *pipeSource) Close() {}

// FFmpegRenderer implements Renderer with two ffmpeg processes: a decoder
// writing raw RGBA frames and an encoder reading the filtered frames.
type FFmpegRenderer struct {
	FFmpegPath string
	Codec      string
	Prober     Prober
}

var _ Renderer = FFmpegRenderer{}

// NewFFmpegRenderer returns a renderer running ffmpegPath and encoding with
// codec. Empty values default to "ffmpeg" and libx264.
func NewFFmpegRenderer(ffmpegPath, codec string, prober Prober) FFmpegRenderer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if codec == "" {
		codec = media.VideoCodec
	}
	return FFmpegRenderer{FFmpegPath: ffmpegPath, Codec: codec, Prober: prober}
}

// ApplyFilter streams src through f into dst. Cancelling ctx kills both
// processes. A failed render removes dst.
func (r FFmpegRenderer) ApplyFilter(ctx context.Context, src, dst string, f Filter) (err error) {
	transform, err := f.Transform()
	if err != nil {
		return err
	}
	info, err := r.Prober.Probe(ctx, src)
	if err != nil {
		return fmt.Errorf("open video: %w", err)
	}
	w, h := info.Width, info.Height
	if w <= 0 || h <= 0 {
		return fmt.Errorf("open video: %w", media.ErrNoVideoStream)
	}
	fps := info.FPS
	if fps <= 0 {
		fps = 25
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	decArgs := []string{
		"-hide_banner", "-nostdin", "-v", "error",
		"-noautorotate",
		"-i", src,
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"pipe:1",
	}
	encArgs := []string{
		"-hide_banner", "-nostdin", "-v", "error", "-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", w, h),
		"-r", strconv.FormatFloat(fps, 'f', -1, 64),
		"-i", "pipe:0",
		"-an",
		"-vf", "pad=ceil(iw/2)*2:ceil(ih/2)*2",
		"-c:v", r.Codec,
		"-pix_fmt", "yuv420p",
		dst,
	}

	// #nosec G204 - ffmpegPath is set by the application, not user input
	dec := exec.CommandContext(runCtx, r.FFmpegPath, decArgs...)
	// #nosec G204 - ffmpegPath is set by the application, not user input
	enc := exec.CommandContext(runCtx, r.FFmpegPath, encArgs...)
	var decErr, encErr bytes.Buffer
	dec.Stderr = &decErr
	enc.Stderr = &encErr

	raw, err := dec.StdoutPipe()
	if err != nil {
		return fmt.Errorf("decoder pipe: %w", err)
	}
	sink, err := enc.StdinPipe()
	if err != nil {
		return fmt.Errorf("encoder pipe: %w", err)
	}

	defer func() {
		if err != nil {
			_ = os.Remove(dst)
		}
	}()

	if err := enc.Start(); err != nil {
		return r.startErr(ctx, "encoder", err)
	}
	if err := dec.Start(); err != nil {
		_ = sink.Close()
		cancel()
		_ = enc.Wait()
		return r.startErr(ctx, "decoder", err)
	}

	written, pumpErr := pump(raw, sink, image.NewRGBA(image.Rect(0, 0, w, h)), transform)
	if pumpErr != nil {
		cancel()
	}
	_ = sink.Close()
	decWait := dec.Wait()
	encWait := enc.Wait()

	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("filter cancelled: %w", ctx.Err())
	case pumpErr != nil:
		return pumpErr
	case decWait != nil:
		return &media.FFmpegError{Args: decArgs, Stderr: decErr.String(), Err: decWait}
	case encWait != nil:
		return &media.FFmpegError{Args: encArgs, Stderr: encErr.String(), Err: encWait}
	case written == 0:
		return ErrNoFrames
	}
	return nil
}

func (r FFmpegRenderer) startErr(ctx context.Context, stage string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("filter cancelled: %w", ctx.Err())
	}
	return fmt.Errorf("start %s: %w", stage, err)
}

// pump copies frames from r to w through transform until r is exhausted.
// A trailing partial frame is dropped.
func pump(r io.Reader, w io.Writer, frame *image.RGBA, transform func(*image.RGBA) *image.RGBA) (int, error) {
	written := 0
	for {
		if _, err := io.ReadFull(r, frame.Pix); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return written, nil
			}
			return written, fmt.Errorf("read frame %d: %w", written, err)
		}
		if _, err := w.Write(transform(frame).Pix); err != nil {
			return written, fmt.Errorf("write frame %d: %w", written, err)
		}
		written++
	}
}
