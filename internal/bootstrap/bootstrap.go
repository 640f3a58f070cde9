// Package bootstrap provides dependency initialization for vidsuite.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maauso/vidsuite/internal/capability"
	"github.com/maauso/vidsuite/internal/config"
	"github.com/maauso/vidsuite/internal/frames"
	"github.com/maauso/vidsuite/internal/intake"
	"github.com/maauso/vidsuite/internal/media"
	"github.com/maauso/vidsuite/internal/routine"
	"github.com/maauso/vidsuite/internal/session"
	"github.com/maauso/vidsuite/internal/storage"
	"github.com/maauso/vidsuite/internal/workbench"
)

// FrameBackend selects how frames are decoded and re-encoded.
type FrameBackend string

const (
	// FramesFFmpeg pipes raw frames through the configured ffmpeg binary
	// under the caller's context.
	FramesFFmpeg FrameBackend = "ffmpeg"
	// FramesVidio uses the Vidio library, which runs ffmpeg and ffprobe from
	// PATH and exits the process on SIGINT or SIGTERM. Only short-lived
	// commands select it.
	FramesVidio FrameBackend = "vidio"
)

// ParseFrameBackend converts a backend name.
func ParseFrameBackend(name string) (FrameBackend, error) {
	switch b := FrameBackend(strings.ToLower(strings.TrimSpace(name))); b {
	case FramesFFmpeg, FramesVidio:
		return b, nil
	default:
		return "", fmt.Errorf("unknown frame backend %q", name)
	}
}

type options struct {
	frames FrameBackend
}

// Option configures NewDependencies.
type Option func(*options)

// WithFrameBackend selects the frame backend. The default is FramesFFmpeg.
func WithFrameBackend(b FrameBackend) Option {
	return func(o *options) {
		o.frames = b
	}
}

// Dependencies holds all initialized dependencies shared by the binaries.
type Dependencies struct {
	Report    capability.Report
	Workbench *workbench.Service
	Opener    frames.Opener
	Renderer  frames.Renderer
}

// NewDependencies probes capabilities and wires storage, collaborators and
// the workbench service.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Dependencies, error) {
	o := options{frames: FramesFFmpeg}
	for _, opt := range opts {
		opt(&o)
	}

	store, err := initStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	processor := media.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
	var (
		opener       frames.Opener
		renderer     frames.Renderer
		pathBinaries []string
	)
	switch o.frames {
	case FramesVidio:
		opener = frames.VidioOpener{}
		renderer = frames.NewVidioRenderer(media.VideoCodec)
		pathBinaries = []string{"ffmpeg", "ffprobe"}
	default:
		opener = frames.NewFFmpegOpener(cfg.FFmpegPath, processor)
		renderer = frames.NewFFmpegRenderer(cfg.FFmpegPath, media.VideoCodec, processor)
	}
	logger.Debug("frame backend selected", slog.String("backend", string(o.frames)))

	report := capability.Probe(ctx, capability.Options{
		FFmpegPath:    cfg.FFmpegPath,
		FFprobePath:   cfg.FFprobePath,
		GeminiAPIKey:  cfg.GeminiAPIKey,
		GeminiBaseURL: cfg.GeminiBaseURL,
		Disabled:      parseDisabled(cfg.DisabledCapabilities, logger),
		PathBinaries:  pathBinaries,
	}, logger)

	dispatcher := routine.NewDispatcher(routine.Config{
		Processor: processor,
		Opener:    opener,
		Renderer:  renderer,
		CRF:       cfg.CompressCRF,
		Logger:    logger,
	})

	svc := workbench.NewService(
		session.NewMemoryRepository(),
		intake.New(store, logger),
		dispatcher,
		store,
		report,
		logger,
		workbench.WithSessionTTL(cfg.SessionTTL),
	)

	return &Dependencies{
		Report:    report,
		Workbench: svc,
		Opener:    opener,
		Renderer:  renderer,
	}, nil
}

// parseDisabled converts configured names, skipping unknown ones.
func parseDisabled(names []string, logger *slog.Logger) []capability.Capability {
	out := make([]capability.Capability, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		c, ok := capability.Parse(n)
		if !ok {
			logger.Warn("ignoring unknown capability in DISABLED_CAPABILITIES", slog.String("name", n))
			continue
		}
		out = append(out, c)
	}
	return out
}

// initStorage creates the appropriate storage backend based on configuration.
func initStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 publishing configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.TempDir)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("temp_dir", cfg.TempDir),
	)
	return localStore, nil
}
