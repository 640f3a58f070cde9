package capability

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Warning messages surfaced once when a capability is absent.
const (
	WarnCompression = "Compressor not available. Video compression is disabled."
	WarnClipEditing = "Clip editing not available. Some features will be disabled."
	WarnAI          = "Gemini API configuration failed. AI features may not work."
)

// LookPathFunc resolves an executable name to a path.
type LookPathFunc func(file string) (string, error)

// EncodersFunc returns the encoder listing of the ffmpeg binary at path.
type EncodersFunc func(ctx context.Context, ffmpegPath string) (string, error)

// Options configures Probe.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	// GeminiAPIKey enables the AI capability when non-empty.
	GeminiAPIKey  string
	GeminiBaseURL string
	// Disabled forces the named capabilities absent.
	Disabled []Capability
	// PathBinaries are executables the frame backend runs by bare name from
	// PATH, whatever FFmpegPath says. Clip editing requires all of them.
	PathBinaries []string

	// LookPath defaults to exec.LookPath.
	LookPath LookPathFunc
	// Encoders defaults to running "ffmpeg -encoders".
	Encoders EncodersFunc
}

// Report is the outcome of probing.
type Report struct {
	// Set holds the available capabilities. It is fixed after startup.
	Set Set
	// Warnings holds one message per missing capability that the user
	// should be told about.
	Warnings []string
	// AI is the configured generation client, nil when the AI capability
	// is absent. No tool currently invokes it.
	AI *openai.Client
}

// Feature is one line of the "Available Features" listing.
type Feature struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// Features returns the availability status of every user-facing feature.
func (r Report) Features() []Feature {
	clip := r.Set.Has(ClipEditing)
	features := []Feature{
		{Name: "Frame-by-Frame Viewer", Available: true},
		{Name: "Video Compression", Available: r.Set.Has(Compression)},
		{Name: "Video Trimming", Available: clip},
		{Name: "Video Filters", Available: clip},
	}
	for i := range features {
		if features[i].Available {
			continue
		}
		if features[i].Name == "Video Compression" {
			features[i].Reason = "ffmpeg with libx264 missing"
		} else {
			features[i].Reason = "ffmpeg/ffprobe missing"
		}
	}
	return features
}

// Probe checks each optional capability independently. A failing probe is
// recorded as absent with a warning and never aborts the others.
func Probe(ctx context.Context, opts Options, logger *slog.Logger) Report {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}
	if opts.Encoders == nil {
		opts.Encoders = listEncoders
	}
	if opts.FFmpegPath == "" {
		opts.FFmpegPath = "ffmpeg"
	}
	if opts.FFprobePath == "" {
		opts.FFprobePath = "ffprobe"
	}

	disabled := NewSet(opts.Disabled...)
	var (
		present  []Capability
		warnings []string
		report   Report
	)

	probe := func(c Capability, warning string, fn func() error) {
		if disabled.Has(c) {
			logger.Info("capability disabled by configuration", slog.String("capability", string(c)))
			if warning != "" {
				warnings = append(warnings, warning)
			}
			return
		}
		if err := fn(); err != nil {
			logger.Warn("capability unavailable",
				slog.String("capability", string(c)),
				slog.String("error", err.Error()),
			)
			if warning != "" {
				warnings = append(warnings, warning)
			}
			return
		}
		present = append(present, c)
	}

	probe(Compression, WarnCompression, func() error {
		path, err := opts.LookPath(opts.FFmpegPath)
		if err != nil {
			return fmt.Errorf("ffmpeg not found: %w", err)
		}
		listing, err := opts.Encoders(ctx, path)
		if err != nil {
			return fmt.Errorf("list encoders: %w", err)
		}
		if !strings.Contains(listing, "libx264") {
			return fmt.Errorf("ffmpeg at %s has no libx264 encoder", path)
		}
		return nil
	})

	probe(ClipEditing, WarnClipEditing, func() error {
		if _, err := opts.LookPath(opts.FFmpegPath); err != nil {
			return fmt.Errorf("ffmpeg not found: %w", err)
		}
		if _, err := opts.LookPath(opts.FFprobePath); err != nil {
			return fmt.Errorf("ffprobe not found: %w", err)
		}
		for _, bin := range opts.PathBinaries {
			if _, err := opts.LookPath(bin); err != nil {
				return fmt.Errorf("%s not found on PATH: %w", bin, err)
			}
		}
		return nil
	})

	// A missing key is silent; only a failed configuration warns.
	if opts.GeminiAPIKey != "" {
		probe(AI, WarnAI, func() error {
			client, err := newAIClient(opts.GeminiAPIKey, opts.GeminiBaseURL)
			if err != nil {
				return err
			}
			report.AI = client
			return nil
		})
	}

	report.Set = NewSet(present...)
	report.Warnings = warnings

	logger.Info("capabilities probed",
		slog.String("available", report.Set.String()),
		slog.Int("warnings", len(warnings)),
	)
	return report
}

func newAIClient(apiKey, baseURL string) (*openai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is empty")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
			return nil, fmt.Errorf("invalid gemini base URL %q", baseURL)
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &client, nil
}

func listEncoders(ctx context.Context, ffmpegPath string) (string, error) {
	// #nosec G204 - ffmpegPath comes from configuration, not user input
	cmd := exec.CommandContext(ctx, ffmpegPath, "-hide_banner", "-encoders")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("ffmpeg -encoders: %w, stderr: %s", err, stderr.String())
	}
	return stdout.String(), nil
}
