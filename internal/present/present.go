// Package present turns a routine Result into what the user sees: a preview
// with a download name, or a labeled error.
package present

import (
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/maauso/vidsuite/internal/routine"
	"github.com/maauso/vidsuite/internal/tool"
)

// Preview is how an output is shown inline.
type Preview string

// Preview kinds.
const (
	PreviewVideo Preview = "video"
	PreviewImage Preview = "image"
	PreviewNone  Preview = "none"
)

// View is the presentation of one Result.
type View struct {
	OK bool
	// Banner is the success line, e.g. "✅ Trim complete".
	Banner string
	// DownloadLabel is the text of the download button.
	DownloadLabel string
	// DownloadName is <basename>_<suffix><ext>.
	DownloadName string
	ContentType  string
	Preview      Preview
	Caption      string
	// Path is the output file on success.
	Path string
	// Error is the labeled failure text.
	Error    string
	Category routine.Category
}

type copyText struct {
	banner   string
	download string
}

var texts = map[tool.ID]copyText{
	tool.Compress:    {"✅ Compression complete", "⬇️ Download Compressed Video"},
	tool.FrameViewer: {"✅ Frame extracted", "⬇️ Download Frame"},
	tool.Trim:        {"✅ Trim complete", "⬇️ Download Trimmed Video"},
	tool.Filter:      {"✅ Filter applied", "⬇️ Download Filtered Video"},
}

// Present builds the View for the result of running id on an upload whose
// original name without extension is basename.
func Present(id tool.ID, basename string, res routine.Result) View {
	if f := res.Failure; f != nil || res.Success == nil {
		if f == nil {
			f = &routine.Failure{Category: routine.CategoryRoutine, Label: routine.Label(id), Message: "no result"}
		}
		return View{Error: f.Text(), Category: f.Category, Preview: PreviewNone}
	}

	s := res.Success
	t := texts[id]
	v := View{
		OK:            true,
		Banner:        t.banner,
		DownloadLabel: t.download,
		DownloadName:  DownloadName(basename, s.Suffix, s.Ext),
		ContentType:   ContentType(s.Ext),
		Path:          s.Path,
		Preview:       PreviewVideo,
	}
	if s.Kind == routine.KindImage {
		v.Preview = PreviewImage
		v.Caption = fmt.Sprintf("Frame %d", s.Details.FrameIndex)
	}
	return v
}

// DownloadName returns <basename>_<suffix><ext>.
func DownloadName(basename, suffix, ext string) string {
	if basename == "" {
		basename = "video"
	}
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return basename + "_" + suffix + ext
}

// ContentType maps an output extension to its MIME type.
func ContentType(ext string) string {
	switch strings.ToLower(ext) {
	case ".mp4":
		return "video/mp4"
	case ".png":
		return "image/png"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// PublishKey is the object key for publishing an output of a session.
func PublishKey(sessionID string, v View) string {
	return filepath.ToSlash(filepath.Join(sessionID, v.DownloadName))
}
