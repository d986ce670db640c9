package main

import (
	"fmt"
	"os"

	"github.com/agilira/orpheus/pkg/orpheus"
)

var version = "dev"

// newApp returns the command table of mach.
func newApp() *orpheus.App {
	app := orpheus.New("mach").
		SetDescription("Configure, build, test and package the HACL C library").
		SetVersion(version)

	app.AddCommand(withFeatureFlag(withAlgorithmFlag(withCommonFlags(
		orpheus.NewCommand("configure", "Resolve dependencies and write the build configuration").
			SetHandler(configureCommand)))))

	app.AddCommand(withBuildFlags(withFeatureFlag(withAlgorithmFlag(withCommonFlags(
		orpheus.NewCommand("build", "Configure and build the library").
			SetHandler(buildCommand).
			AddBoolFlag("clean", "c", false, "Clean before building").
			AddBoolFlag("test", "t", false, "Run the tests after building").
			AddBoolFlag("dry-run", "n", false, "Print the commands without running them").
			AddFlag("install", "", "", "Install prefix, nothing is installed when empty"))))))

	app.AddCommand(withBuildFlags(withAlgorithmFlag(withCommonFlags(
		orpheus.NewCommand("test", "Run the tests of the last build").
			SetHandler(testCommand).
			AddFlag("language", "l", "", "Run the tests of a language binding instead (rust)")))))

	app.AddCommand(withAlgorithmFlag(withCommonFlags(
		orpheus.NewCommand("benchmark", "Run the benchmarks of the Release build").
			SetHandler(benchmarkCommand).
			AddBoolFlag("compare", "", false, "Compare the results with the baseline and fail on regressions"))))

	app.AddCommand(withCommonFlags(
		orpheus.NewCommand("clean", "Remove the build directory and the generated configuration").
			SetHandler(cleanCommand).
			AddBoolFlag("dry-run", "n", false, "Print what would be removed")))

	app.AddCommand(withFeatureFlag(withAlgorithmFlag(withCommonFlags(
		orpheus.NewCommand("snapshot", "Write a source distribution for the selected algorithms").
			SetHandler(snapshotCommand).
			AddFlag("out", "o", "", "Output directory (default dist_dir from the settings)").
			AddBoolFlag("archive", "", false, "Also write a .tar.zst archive")))))

	app.AddCommand(withCommonFlags(
		orpheus.NewCommand("update", "Replace the C sources with the upstream distribution").
			SetHandler(updateCommand).
			AddFlag("upstream", "s", "", "Upstream checkout or git URL").
			AddBoolFlag("no-vale", "", false, "Keep the current assembly sources")))

	app.AddCommand(withAlgorithmFlag(withCommonFlags(
		orpheus.NewCommand("list", "List the algorithms of the manifest").
			SetHandler(listCommand).
			AddFlag("format", "f", "table", "Output format: table, json or yaml"))))

	return app
}

func main() {
	if err := newApp().Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(max(exitCode(err), exitFailure))
	}
}
