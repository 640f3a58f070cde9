// Package container inspects MP4 outputs to make sure a routine produced a
// complete, playable file before it is offered for download.
package container

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Eyevinn/mp4ff/mp4"
)

// Codec is a video sample entry family.
type Codec string

// Known codecs.
const (
	CodecH264    Codec = "h264"
	CodecH265    Codec = "h265"
	CodecAV1     Codec = "av1"
	CodecUnknown Codec = "unknown"
)

// Static errors for container inspection.
var (
	// ErrNoMovie is returned when the file has no moov box.
	ErrNoMovie = errors.New("container: no movie header")
	// ErrNoVideoTrack is returned when no track has a video handler.
	ErrNoVideoTrack = errors.New("container: no video track")
)

// Info summarizes an MP4 file.
type Info struct {
	Duration   time.Duration
	VideoCodec Codec
	HasAudio   bool
	Fragmented bool
}

// Inspect parses the MP4 at path without loading sample data.
func Inspect(path string) (Info, error) {
	f, err := os.Open(path) // #nosec G304 - path is a routine output
	if err != nil {
		return Info{}, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return InspectReader(f)
}

// InspectReader parses an MP4 from r.
func InspectReader(r io.ReadSeeker) (Info, error) {
	file, err := mp4.DecodeFile(r, mp4.WithDecodeMode(mp4.DecModeLazyMdat))
	if err != nil {
		return Info{}, fmt.Errorf("decode mp4: %w", err)
	}

	moov := file.Moov
	info := Info{Fragmented: file.IsFragmented()}
	if info.Fragmented && file.Init != nil {
		moov = file.Init.Moov
	}
	if moov == nil {
		return Info{}, ErrNoMovie
	}

	if mvhd := moov.Mvhd; mvhd != nil && mvhd.Timescale > 0 {
		info.Duration = time.Duration(float64(mvhd.Duration) / float64(mvhd.Timescale) * float64(time.Second))
	}

	foundVideo := false
	for _, trak := range moov.Traks {
		if trak.Mdia == nil || trak.Mdia.Hdlr == nil {
			continue
		}
		switch trak.Mdia.Hdlr.HandlerType {
		case "vide":
			if !foundVideo {
				foundVideo = true
				info.VideoCodec = codecOf(trak)
			}
		case "soun":
			info.HasAudio = true
		}
	}
	if !foundVideo {
		return Info{}, ErrNoVideoTrack
	}

	return info, nil
}

func codecOf(trak *mp4.TrakBox) Codec {
	if trak.Mdia.Minf == nil || trak.Mdia.Minf.Stbl == nil || trak.Mdia.Minf.Stbl.Stsd == nil {
		return CodecUnknown
	}
	for _, child := range trak.Mdia.Minf.Stbl.Stsd.Children {
		switch child.Type() {
		case "avc1", "avc3":
			return CodecH264
		case "hvc1", "hev1":
			return CodecH265
		case "av01":
			return CodecAV1
		}
	}
	return CodecUnknown
}
