package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/maauso/vidsuite/internal/bootstrap"
	"github.com/maauso/vidsuite/internal/config"
	"github.com/maauso/vidsuite/internal/frames"
	"github.com/maauso/vidsuite/internal/routine"
	"github.com/maauso/vidsuite/internal/tool"
	"github.com/maauso/vidsuite/internal/workbench"
)

// setup loads configuration and wires dependencies. Logs go to stderr so
// stdout stays clean for results.
func setup(cmd *cobra.Command) (*bootstrap.Dependencies, error) {
	name, _ := cmd.Flags().GetString("frames")
	backend, err := bootstrap.ParseFrameBackend(name)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	logger := cfg.NewLoggerTo(cmd.ErrOrStderr())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return bootstrap.NewDependencies(ctx, cfg, logger, bootstrap.WithFrameBackend(backend))
}

func runTools(cmd *cobra.Command) error {
	deps, err := setup(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	tools := deps.Workbench.Tools()
	def := tool.Default(tools)
	for _, t := range tools {
		marker := " "
		if t.ID == def {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %-14s %s\n", marker, t.ID, t.Label)
	}
	for _, w := range deps.Report.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	fmt.Fprintln(out, "\nAvailable Features")
	for _, f := range deps.Report.Features() {
		mark := "✅"
		if !f.Available {
			mark = "❌"
		}
		fmt.Fprintf(out, "%s %s\n", mark, f.Name)
	}
	return nil
}

func runProbe(cmd *cobra.Command, input string) error {
	deps, err := setup(cmd)
	if err != nil {
		return err
	}
	f, err := os.Open(input) // #nosec G304 - user-chosen input file
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	b, err := deps.Workbench.Bounds(cmd.Context(), filepath.Base(input), f)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "frames: %d\nmax frame index: %d\nseconds: %d\n", b.Frames, b.MaxFrameIndex, b.Seconds)
	return nil
}

func runTool(cmd *cobra.Command, id tool.ID, input string) error {
	params, err := paramsFromFlags(cmd)
	if err != nil {
		return err
	}
	outDir, _ := cmd.Flags().GetString("out")
	publish, _ := cmd.Flags().GetBool("publish")

	deps, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	wb := deps.Workbench
	sess, err := wb.OpenSession(ctx, "")
	if err != nil {
		return err
	}
	defer func() { _ = wb.CloseSession(context.WithoutCancel(ctx), sess.ID) }()
	if _, err := wb.SelectTool(ctx, sess.ID, id); err != nil {
		if errors.Is(err, workbench.ErrToolUnavailable) {
			for _, w := range deps.Report.Warnings {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
			}
		}
		return err
	}

	f, err := os.Open(input) // #nosec G304 - user-chosen input file
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return wb.Process(ctx, workbench.ProcessInput{
		SessionID: sess.ID,
		Name:      filepath.Base(input),
		Body:      f,
		Params:    params,
		Publish:   publish,
	}, func(o workbench.Outcome) error {
		if !o.View.OK {
			return errors.New(o.View.Error)
		}
		dst := filepath.Join(outDir, o.View.DownloadName)
		if err := copyFile(o.View.Path, dst); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, o.View.Banner)
		fmt.Fprintln(w, dst)
		if o.PublishedURL != "" {
			fmt.Fprintln(w, o.PublishedURL)
		}
		return nil
	})
}

func paramsFromFlags(cmd *cobra.Command) (routine.Params, error) {
	var p routine.Params
	flags := cmd.Flags()
	if flags.Lookup("index") != nil {
		p.FrameIndex, _ = flags.GetInt("index")
		p.MaxWidth, _ = flags.GetInt("max-width")
	}
	if flags.Lookup("start") != nil {
		p.Start, _ = flags.GetInt("start")
		p.End, _ = flags.GetInt("end")
	}
	if flags.Lookup("filter") != nil {
		name, _ := flags.GetString("filter")
		f, err := frames.ParseFilter(name)
		if err != nil {
			return p, err
		}
		p.Filter = f
	}
	return p, nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	in, err := os.Open(src) // #nosec G304 - routine output
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst) // #nosec G304 - user-chosen output dir
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
