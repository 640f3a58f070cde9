package server

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/maauso/vidsuite/internal/capability"
	"github.com/maauso/vidsuite/internal/frames"
	"github.com/maauso/vidsuite/internal/tool"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// pageData feeds templates/index.html.
type pageData struct {
	Title      string
	Tools      []ToolResponse
	Selected   string
	Label      string
	Warnings   []string
	Features   []capability.Feature
	Filters    []string
	CanPublish bool
}

// Index handles GET / requests with the browser page.
func (h *Handlers) Index(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	selected := sess.Selection()
	report := h.service.Report()

	data := pageData{
		Title:      "Video Utility Suite",
		Tools:      h.toolsResponse(selected).Tools,
		Selected:   string(selected),
		Warnings:   report.Warnings,
		Features:   report.Features(),
		CanPublish: h.service.CanPublish(),
	}
	if t, ok := tool.Lookup(selected); ok {
		data.Label = t.Label
	}
	for _, f := range frames.Filters {
		data.Filters = append(data.Filters, f.String())
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		h.logger.Error("failed to render page", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to render page", "RENDER_FAILED")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}
