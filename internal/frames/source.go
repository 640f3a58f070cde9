package frames

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"

	vidio "github.com/AlexEidt/Vidio"
	"golang.org/x/image/draw"
)

// Static errors for frame access.
var (
	// ErrNoFrames is returned when a source reports no frames.
	ErrNoFrames = errors.New("video has no readable frames")
	// ErrFrameOutOfRange is returned for an index outside [0, Frames()).
	ErrFrameOutOfRange = errors.New("frame index out of range")
)

// Source gives random access to the decoded frames of one video.
type Source interface {
	// Frames returns the total number of frames reported by the container.
	Frames() int
	// Frame decodes the frame at index into an RGBA image.
	Frame(ctx context.Context, index int) (*image.RGBA, error)
	// Close releases the decoder.
	Close()
}

// Opener opens a video file as a frame source.
type Opener interface {
	Open(ctx context.Context, path string) (Source, error)
}

// VidioOpener opens sources with the Vidio library, which drives ffmpeg and
// ffprobe found on PATH. Vidio installs its own interrupt handler that exits
// the process, so it only suits short-lived commands.
type VidioOpener struct{}

var _ Opener = VidioOpener{}

// Open probes path and returns a Source for it.
func (VidioOpener) Open(ctx context.Context, path string) (Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	video, err := vidio.NewVideo(path)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	return &vidioSource{video: video}, nil
}

type vidioSource struct {
	video *vidio.Video
}

func (s *vidioSource) Frames() int {
	return s.video.Frames()
}

func (s *vidioSource) Frame(ctx context.Context, index int) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", index, err)
	}
	if index < 0 || index >= s.video.Frames() {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", ErrFrameOutOfRange, index, s.video.Frames())
	}
	imgs, err := s.video.ReadFrames(index)
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", index, err)
	}
	if len(imgs) == 0 || imgs[0] == nil {
		return nil, fmt.Errorf("decode frame %d: %w", index, ErrNoFrames)
	}
	return imgs[0], nil
}

func (s *vidioSource) Close() {
	s.video.Close()
}

// ClampIndex limits index to [0, total-1]. total must be positive.
func ClampIndex(index, total int) int {
	if index < 0 {
		return 0
	}
	if index > total-1 {
		return total - 1
	}
	return index
}

// Opaque returns a copy of img with full alpha, ready for display.
func Opaque(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	copy(out.Pix, img.Pix)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}

// ScaleToWidth shrinks img to maxWidth keeping the aspect ratio. Images
// that already fit, or a non-positive maxWidth, are returned unchanged.
func ScaleToWidth(img *image.RGBA, maxWidth int) *image.RGBA {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := max(1, b.Dy()*maxWidth/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// WritePNG encodes img to path.
func WritePNG(img image.Image, path string) error {
	f, err := os.Create(path) // #nosec G304 - path is derived from a temp upload
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("close png: %w", err)
	}
	return nil
}
