// Package cli is the vidsuite command line: it runs the same tools as the
// HTTP server against local files.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/maauso/vidsuite/internal/bootstrap"
)

// Main runs the CLI and exits on error.
func Main() {
	_ = godotenv.Load() // best-effort: load .env if present

	root := NewRootCommand(os.Stdout, os.Stderr)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCommand builds the command tree writing to stdout and stderr.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:          "vidsuite",
		Short:        "Compress, inspect, trim and filter local videos",
		SilenceUsage: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SilenceErrors = true

	root.PersistentFlags().String("log-level", "", "Override LOG_LEVEL")
	root.PersistentFlags().String("frames", string(bootstrap.FramesVidio), "Frame backend: vidio or ffmpeg")

	root.AddCommand(
		newToolsCommand(),
		newProbeCommand(),
		newCompressCommand(),
		newFrameCommand(),
		newTrimCommand(),
		newFilterCommand(),
	)
	return root
}

func newToolsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List enabled tools and feature availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runTools(cmd)
		},
	}
}

func newProbeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "probe <input>",
		Short: "Print frame and duration bounds of a video",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(cmd, args[0])
		},
	}
}

func newCompressCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compress <input>",
		Short: "Re-encode a video with H.264/AAC at a smaller size",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd, "compress", args[0])
		},
	}
	addOutFlags(cmd)
	return cmd
}

func newFrameCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "frame <input>",
		Short: "Extract a single frame as PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd, "frame-viewer", args[0])
		},
	}
	addOutFlags(cmd)
	cmd.Flags().Int("index", 0, "Frame index (clamped to the video's frame count)")
	cmd.Flags().Int("max-width", 0, "Downscale the frame to this width")
	return cmd
}

func newTrimCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trim <input>",
		Short: "Cut a range of whole seconds",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd, "trim", args[0])
		},
	}
	addOutFlags(cmd)
	cmd.Flags().Int("start", 0, "Start time in seconds")
	cmd.Flags().Int("end", 0, "End time in seconds (0 = end of video)")
	return cmd
}

func newFilterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter <input>",
		Short: "Apply Grayscale, Invert or Brighten to every frame",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTool(cmd, "filter", args[0])
		},
	}
	addOutFlags(cmd)
	cmd.Flags().String("filter", "Grayscale", "Filter name")
	return cmd
}

func addOutFlags(cmd *cobra.Command) {
	cmd.Flags().String("out", ".", "Output directory")
	cmd.Flags().Bool("publish", false, "Also publish the output to S3 when configured")
}
