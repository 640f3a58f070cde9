// Package server provides the HTTP surface of vidsuite: the browser page,
// the JSON API and the download stream for processed files.
package server

import "github.com/maauso/vidsuite/internal/capability"

// SelectToolRequest is the body of PUT /api/session/tool.
type SelectToolRequest struct {
	// Tool is the id of an enabled tool.
	Tool string `json:"tool" validate:"required"`
}

// ProcessForm holds the non-file fields of POST /api/process. Slider
// values outside the source bounds are clamped, not rejected.
type ProcessForm struct {
	FrameIndex int    `validate:"gte=0"`
	Start      int    `validate:"gte=0"`
	End        int    `validate:"gte=0"`
	Filter     string `validate:"omitempty,oneofci=grayscale invert brighten"`
	MaxWidth   int    `validate:"gte=0,lte=7680"`
	Publish    bool
}

// ToolResponse describes one enabled tool.
type ToolResponse struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
}

// ToolsResponse is the body of GET /api/tools.
type ToolsResponse struct {
	// Tools are the enabled tools in display order.
	Tools []ToolResponse `json:"tools"`
	// Selected is the session's current tool.
	Selected string `json:"selected"`
}

// CapabilitiesResponse is the body of GET /api/capabilities.
type CapabilitiesResponse struct {
	Capabilities []string             `json:"capabilities"`
	Warnings     []string             `json:"warnings"`
	Features     []capability.Feature `json:"features"`
	CanPublish   bool                 `json:"can_publish"`
}

// BoundsResponse is the body of POST /api/probe.
type BoundsResponse struct {
	// Frames is the total frame count of the upload.
	Frames int `json:"frames"`
	// MaxFrameIndex is the upper bound of the frame slider.
	MaxFrameIndex int `json:"max_frame_index"`
	// Seconds is the upper bound of the trim sliders, at least 1.
	Seconds int `json:"seconds"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
	// Category is set for processing failures: availability, intake or routine.
	Category string `json:"category,omitempty"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
