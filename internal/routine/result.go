package routine

import (
	"errors"
	"fmt"
	"time"

	"github.com/maauso/vidsuite/internal/media"
)

// Kind is the media type of a routine output.
type Kind string

// Output kinds.
const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
)

// Category classifies a failure by where it happened.
type Category string

// Failure categories.
const (
	// CategoryAvailability means the tool cannot run with the current capabilities.
	CategoryAvailability Category = "availability"
	// CategoryIntake means the upload could not be accepted or stored.
	CategoryIntake Category = "intake"
	// CategoryRoutine means the collaborator call failed or produced no output.
	CategoryRoutine Category = "routine"
)

// Details carries facts about an output for presentation.
type Details struct {
	// Duration of a video output, zero for images.
	Duration   time.Duration
	VideoCodec string
	HasAudio   bool
	// FrameIndex and Frames are set by the frame viewer.
	FrameIndex int
	Frames     int
	Width      int
	Height     int
}

// Success is a produced output file.
type Success struct {
	Path string
	Kind Kind
	// Suffix is appended to the original basename in the download name.
	Suffix string
	// Ext includes the leading dot.
	Ext     string
	Details Details
}

// Failure is a user-facing error outcome.
type Failure struct {
	Category Category
	// Label prefixes Message when shown, e.g. "Compression failed".
	// Empty means Message is shown on its own.
	Label   string
	Message string
}

// Text returns the user-facing failure text.
func (f Failure) Text() string {
	if f.Label == "" {
		return f.Message
	}
	return f.Label + ": " + f.Message
}

// Result is exactly one of Success or Failure.
type Result struct {
	Success *Success
	Failure *Failure
}

// OK reports whether the result is a Success.
func (r Result) OK() bool {
	return r.Success != nil
}

// Succeeded builds a successful Result.
func Succeeded(s Success) Result {
	return Result{Success: &s}
}

// Failed builds a failed Result.
func Failed(category Category, label, message string) Result {
	return Result{Failure: &Failure{Category: category, Label: label, Message: message}}
}

// failedErr builds a routine Failure from err. An ffmpeg failure is reduced
// to its last stderr line so arguments and temp paths stay server-side.
func failedErr(label string, err error) Result {
	msg := err.Error()
	var ffErr *media.FFmpegError
	if errors.As(err, &ffErr) {
		msg = ffErr.Summary()
	}
	return Failed(CategoryRoutine, label, msg)
}

// String implements fmt.Stringer for logs.
func (r Result) String() string {
	switch {
	case r.Success != nil:
		return fmt.Sprintf("success(%s)", r.Success.Path)
	case r.Failure != nil:
		return fmt.Sprintf("failure(%s: %s)", r.Failure.Category, r.Failure.Text())
	default:
		return "empty"
	}
}
