package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Static errors for media operations.
var (
	// ErrInvalidRange is returned when a trim range is empty or negative.
	ErrInvalidRange = errors.New("invalid range: start must be >= 0 and before end")
	// ErrInvalidCRF is returned when the constant rate factor is out of range.
	ErrInvalidCRF = errors.New("invalid crf: must be between 0 and 51")
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrNoVideoStream is returned when a file has no decodable video stream.
	ErrNoVideoStream = errors.New("no video stream found")
)

// FFmpegProcessor implements Processor using the ffmpeg CLI.
type FFmpegProcessor struct {
	ffmpegPath  string
	ffprobePath string
}

var _ Processor = (*FFmpegProcessor)(nil)

// NewFFmpegProcessor creates a new FFmpegProcessor. Empty paths default to
// "ffmpeg" and "ffprobe" found via PATH.
func NewFFmpegProcessor(ffmpegPath, ffprobePath string) *FFmpegProcessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegProcessor{ffmpegPath: ffmpegPath, ffprobePath: ffprobePath}
}

// Compress re-encodes src with libx264 at the given CRF and aac audio.
func (p *FFmpegProcessor) Compress(ctx context.Context, src, dst string, crf int) error {
	if crf < 0 || crf > 51 {
		return fmt.Errorf("%w: got %d", ErrInvalidCRF, crf)
	}

	args := []string{
		"-y",
		"-i", src,
		"-c:v", VideoCodec,
		"-preset", "medium",
		"-crf", strconv.Itoa(crf),
		"-pix_fmt", "yuv420p",
		"-c:a", AudioCodec,
		"-b:a", "128k",
		"-movflags", "+faststart",
		dst,
	}
	return p.runFFmpeg(ctx, args)
}

// Trim extracts [start, end) from src. Seeking happens after the input so
// the cut is frame accurate.
func (p *FFmpegProcessor) Trim(ctx context.Context, src, dst string, start, end time.Duration) error {
	if start < 0 || end <= start {
		return fmt.Errorf("%w: start=%s end=%s", ErrInvalidRange, start, end)
	}

	args := []string{
		"-y",
		"-i", src,
		"-ss", fmtSeconds(start),
		"-to", fmtSeconds(end),
		"-c:v", VideoCodec,
		"-preset", "fast",
		"-pix_fmt", "yuv420p",
		"-c:a", AudioCodec,
		"-b:a", "128k",
		dst,
	}
	return p.runFFmpeg(ctx, args)
}

// MuxAudio copies the video stream of video and encodes the optional audio
// stream of audioSrc.
func (p *FFmpegProcessor) MuxAudio(ctx context.Context, video, audioSrc, dst string) error {
	args := []string{
		"-y",
		"-i", video,
		"-i", audioSrc,
		"-map", "0:v:0",
		"-map", "1:a:0?",
		"-c:v", "copy",
		"-c:a", AudioCodec,
		"-b:a", "128k",
		"-shortest",
		dst,
	}
	return p.runFFmpeg(ctx, args)
}

// probeOutput mirrors the subset of ffprobe's JSON output we read.
type probeOutput struct {
	Streams []struct {
		Width         int    `json:"width"`
		Height        int    `json:"height"`
		NbFrames      string `json:"nb_frames"`
		NbReadPackets string `json:"nb_read_packets"`
		AvgFrameRate  string `json:"avg_frame_rate"`
		Duration      string `json:"duration"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe on the first video stream. Packet counting is used for
// the frame count because many containers do not store nb_frames.
func (p *FFmpegProcessor) Probe(ctx context.Context, path string) (Info, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=width,height,nb_frames,nb_read_packets,avg_frame_rate,duration:format=duration",
		"-of", "json",
		path,
	}
	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Info{}, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return Info{}, &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    fmt.Errorf("%w: %w", ErrFFprobeExecution, err),
		}
	}

	return parseProbe(stdout.Bytes())
}

func parseProbe(data []byte) (Info, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return Info{}, ErrNoVideoStream
	}

	s := out.Streams[0]
	info := Info{
		Width:  s.Width,
		Height: s.Height,
		FPS:    parseRate(s.AvgFrameRate),
	}

	if n, err := strconv.Atoi(s.NbFrames); err == nil && n > 0 {
		info.Frames = n
	} else if n, err := strconv.Atoi(s.NbReadPackets); err == nil {
		info.Frames = n
	}

	duration := out.Format.Duration
	if duration == "" || duration == "N/A" {
		duration = s.Duration
	}
	if d, err := strconv.ParseFloat(strings.TrimSpace(duration), 64); err == nil {
		info.Duration = d
	}

	return info, nil
}

// parseRate converts an ffprobe rational such as "24000/1001" to a float.
func parseRate(r string) float64 {
	num, den, ok := strings.Cut(r, "/")
	if !ok {
		f, _ := strconv.ParseFloat(r, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

func fmtSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// runFFmpeg executes ffmpeg with the given arguments and returns an error
// containing stderr output if the command fails.
func (p *FFmpegProcessor) runFFmpeg(ctx context.Context, args []string) error {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffmpegPath, append([]string{"-hide_banner", "-nostdin"}, args...)...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}

// Summary returns the last non-empty stderr line, which is usually the
// actual reason ffmpeg gave up.
func (e *FFmpegError) Summary() string {
	lines := strings.Split(strings.TrimSpace(e.Stderr), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return e.Err.Error()
}
