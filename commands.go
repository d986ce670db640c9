package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/agilira/orpheus/pkg/orpheus"

	"mach/internal/config"
	"mach/internal/ctxlog"
)

// withCommonFlags adds the flags every command understands.
func withCommonFlags(cmd *orpheus.Command) *orpheus.Command {
	return cmd.
		AddFlag("settings", "", defaultSettingsFile, "Settings file").
		AddFlag("log-format", "", "text", "Log format: text or json").
		AddBoolFlag("verbose", "", false, "Show every command and debug logs")
}

// withAlgorithmFlag adds the algorithm selection.
func withAlgorithmFlag(cmd *orpheus.Command) *orpheus.Command {
	return cmd.AddFlag("algorithms", "a", "", "Algorithms to work on (comma separated, default all)")
}

// withFeatureFlag adds the feature selection of commands that resolve sources.
func withFeatureFlag(cmd *orpheus.Command) *orpheus.Command {
	return cmd.AddFlag("disable-features", "", "", "Features to leave out (comma separated)")
}

// withBuildFlags adds the flags that select a build.
func withBuildFlags(cmd *orpheus.Command) *orpheus.Command {
	return cmd.
		AddFlag("sanitizer", "", "", "Build with a sanitizer: asan or ubsan").
		AddFlag("target", "", "", "Cross compilation target triple").
		AddBoolFlag("release", "r", false, "Use the Release configuration")
}

func commonOptions(ctx *orpheus.Context) Options {
	return Options{Verbose: ctx.GetFlagBool("verbose")}
}

func selectOptions(ctx *orpheus.Context) Options {
	opts := commonOptions(ctx)
	opts.Algorithms = config.ParseAlgorithms(ctx.GetFlagString("algorithms"))
	return opts
}

func resolveOptions(ctx *orpheus.Context) Options {
	opts := selectOptions(ctx)
	opts.DisabledFeatures = config.ParseAlgorithms(ctx.GetFlagString("disable-features"))
	return opts
}

func buildOptions(ctx *orpheus.Context, opts Options) Options {
	opts.Sanitizer = ctx.GetFlagString("sanitizer")
	opts.Target = ctx.GetFlagString("target")
	opts.Release = ctx.GetFlagBool("release")
	return opts
}

// execute loads the settings and runs fn with a logger in its context.
func execute(octx *orpheus.Context, name string, opts Options, fn func(context.Context, *workspace) error) error {
	level := "info"
	if opts.Verbose {
		level = "debug"
	}
	logger := ctxlog.New(level, octx.GetFlagString("log-format"), os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = ctxlog.WithLogger(ctx, logger)

	settingsPath := octx.GetFlagString("settings")
	if settingsPath == "" {
		settingsPath = defaultSettingsFile
	}
	s, err := loadSettings(ctx, settingsPath, settingsPath != defaultSettingsFile)
	if err != nil {
		return cliError(name, err)
	}
	return cliError(name, fn(ctx, newWorkspace(s, opts)))
}

func configureCommand(ctx *orpheus.Context) error {
	return execute(ctx, "configure", resolveOptions(ctx), func(c context.Context, w *workspace) error {
		_, err := w.configure(c)
		return err
	})
}

func buildCommand(ctx *orpheus.Context) error {
	opts := buildOptions(ctx, resolveOptions(ctx))
	opts.Clean = ctx.GetFlagBool("clean")
	opts.Test = ctx.GetFlagBool("test")
	opts.Install = ctx.GetFlagString("install")
	opts.DryRun = ctx.GetFlagBool("dry-run")
	return execute(ctx, "build", opts, func(c context.Context, w *workspace) error {
		return w.build(c)
	})
}

func testCommand(ctx *orpheus.Context) error {
	opts := buildOptions(ctx, selectOptions(ctx))
	opts.Language = ctx.GetFlagString("language")
	return execute(ctx, "test", opts, func(c context.Context, w *workspace) error {
		return w.test(c)
	})
}

func benchmarkCommand(ctx *orpheus.Context) error {
	opts := selectOptions(ctx)
	opts.Compare = ctx.GetFlagBool("compare")
	return execute(ctx, "benchmark", opts, func(c context.Context, w *workspace) error {
		return w.benchmark(c)
	})
}

func cleanCommand(ctx *orpheus.Context) error {
	opts := commonOptions(ctx)
	opts.DryRun = ctx.GetFlagBool("dry-run")
	return execute(ctx, "clean", opts, func(c context.Context, w *workspace) error {
		return w.clean(c)
	})
}

func snapshotCommand(ctx *orpheus.Context) error {
	opts := resolveOptions(ctx)
	opts.Out = ctx.GetFlagString("out")
	opts.Archive = ctx.GetFlagBool("archive")
	return execute(ctx, "snapshot", opts, func(c context.Context, w *workspace) error {
		res, err := w.snapshot(c)
		if err != nil {
			return err
		}
		fmt.Fprintf(w.stdout, "Snapshot with %d files written", len(res.Files))
		if res.Archive != "" {
			fmt.Fprintf(w.stdout, " (archive %s)", res.Archive)
		}
		fmt.Fprintln(w.stdout)
		return nil
	})
}

func updateCommand(ctx *orpheus.Context) error {
	opts := commonOptions(ctx)
	opts.Upstream = ctx.GetFlagString("upstream")
	opts.NoVale = ctx.GetFlagBool("no-vale")
	return execute(ctx, "update", opts, func(c context.Context, w *workspace) error {
		return w.update(c)
	})
}

func listCommand(ctx *orpheus.Context) error {
	opts := selectOptions(ctx)
	format := ctx.GetFlagString("format")
	return execute(ctx, "list", opts, func(c context.Context, w *workspace) error {
		return w.list(c, format)
	})
}
