package routine

import (
	"github.com/maauso/vidsuite/internal/frames"
	"github.com/maauso/vidsuite/internal/media"
)

// Params are the user-chosen routine inputs. Out-of-range values are
// clamped to the source's bounds, never rejected.
type Params struct {
	// FrameIndex selects the frame for the viewer.
	FrameIndex int
	// Start and End are the trim range in whole seconds. End <= 0 means the
	// end of the source.
	Start int
	End   int
	// Filter defaults to frames.Grayscale when zero.
	Filter frames.Filter
	// MaxWidth downsizes the viewer image when positive.
	MaxWidth int
}

// Bounds are the slider limits computed from an upload.
type Bounds struct {
	// Frames is the total frame count; the viewer index is in [0, Frames-1].
	Frames int `json:"frames"`
	// MaxFrameIndex is Frames-1, or 0 when the count is unknown.
	MaxFrameIndex int `json:"max_frame_index"`
	// Seconds is the duration in whole seconds, at least 1.
	Seconds int `json:"seconds"`
}

// BoundsFromInfo derives slider limits from probed media info.
func BoundsFromInfo(info media.Info) Bounds {
	return Bounds{
		Frames:        info.Frames,
		MaxFrameIndex: max(0, info.Frames-1),
		Seconds:       info.WholeSeconds(),
	}
}

// ClampRange limits a trim range to [0, seconds]: start in [0, seconds-1],
// end in [start+1, seconds]. A non-positive end selects the full length.
func ClampRange(start, end, seconds int) (int, int) {
	seconds = max(1, seconds)
	start = min(max(0, start), seconds-1)
	if end <= 0 {
		end = seconds
	}
	end = min(max(start+1, end), seconds)
	return start, end
}
