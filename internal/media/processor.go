// Package media wraps the ffmpeg and ffprobe command line tools for the
// transcoding work behind the compress, trim and filter tools.
package media

import (
	"context"
	"time"
)

// Fixed codecs for every re-encode.
const (
	VideoCodec = "libx264"
	AudioCodec = "aac"
)

// Info describes a probed media file.
type Info struct {
	// Duration is the container duration in seconds.
	Duration float64
	// Frames is the number of video frames, 0 when unknown.
	Frames int
	Width  int
	Height int
	// FPS is the average video frame rate.
	FPS float64
}

// WholeSeconds returns the duration truncated to whole seconds, at least 1.
func (i Info) WholeSeconds() int {
	return max(1, int(i.Duration))
}

// Processor is the transcoding port used by the routines.
type Processor interface {
	// Compress re-encodes src into dst with the fixed codecs at the given
	// constant rate factor (higher is smaller).
	Compress(ctx context.Context, src, dst string, crf int) error

	// Trim writes the [start, end) range of src into dst, re-encoded with
	// the fixed codecs.
	Trim(ctx context.Context, src, dst string, start, end time.Duration) error

	// MuxAudio combines the video stream of video with the audio stream of
	// audioSrc (when it has one) into dst, encoding audio with AudioCodec.
	MuxAudio(ctx context.Context, video, audioSrc, dst string) error

	// Probe reads duration, frame count and geometry of a media file.
	Probe(ctx context.Context, path string) (Info, error)
}
