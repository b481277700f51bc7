// Command arbiter runs the insurance claim orchestration runtime.
//
// Usage:
//
//	arbiter serve --config arbiter.yaml
//	arbiter process claim.json --analytics
//	arbiter agents list --config arbiter.yaml
package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"

	"github.com/arbiterhq/arbiter/pkg/config"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the claim orchestration server."`
	Process  ProcessCmd  `cmd:"" help:"Process a single claim from a JSON file."`
	Agents   AgentsCmd   `cmd:"" help:"Inspect and deploy the agent catalog."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`
	Schema   SchemaCmd   `cmd:"" help:"Generate JSON Schema for the configuration."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)."`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or custom)."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("Arbiter version %s\n", version)
	return nil
}

// loadConfig loads and validates configuration from the given path, or
// falls back to built-in defaults when no path is set. The returned loader
// is nil in default mode.
func loadConfig(ctx context.Context, path string, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	if path != "" {
		cfg, loader, err := loadConfigFile(ctx, path, opts...)
		if err != nil {
			return nil, nil, err
		}
		return cfg, loader, nil
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("default configuration is incomplete: %w", err)
	}
	return cfg, nil, nil
}

func loadConfigFile(ctx context.Context, path string, opts ...config.LoaderOption) (*config.Config, *config.Loader, error) {
	cfg, loader, err := config.LoadConfigFile(ctx, path, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, loader, nil
}

// printBanner prints a colored ASCII banner using arbiter-blue (#3b82f6)
func printBanner() {
	// Check if stdout is a terminal
	if fileInfo, err := os.Stdout.Stat(); err == nil {
		if (fileInfo.Mode() & os.ModeCharDevice) == 0 {
			// Not a terminal, skip banner
			return
		}
	} else {
		return
	}

	// Blue color: #3b82f6 = RGB(59, 130, 246)
	blueColor := "\033[38;2;59;130;246m"
	resetColor := "\033[0m"

	banner := `
 █████╗ ██████╗ ██████╗ ██╗████████╗███████╗██████╗
██╔══██╗██╔══██╗██╔══██╗██║╚══██╔══╝██╔════╝██╔══██╗
███████║██████╔╝██████╔╝██║   ██║   █████╗  ██████╔╝
██╔══██║██╔══██╗██╔══██╗██║   ██║   ██╔══╝  ██╔══██╗
██║  ██║██║  ██║██████╔╝██║   ██║   ███████╗██║  ██║
╚═╝  ╚═╝╚═╝  ╚═╝╚═════╝ ╚═╝   ╚═╝   ╚══════╝╚═╝  ╚═╝
`
	fmt.Printf("%s%s%s\n", blueColor, banner, resetColor)
}

// shouldSkipBanner reports whether the invoked command is informational and
// should keep stdout clean.
func shouldSkipBanner(args []string) bool {
	if len(args) < 2 {
		return false
	}

	for _, arg := range args {
		switch arg {
		case "version", "validate", "schema", "process":
			return true
		}
	}
	return false
}

func main() {
	if !shouldSkipBanner(os.Args) {
		printBanner()
	}

	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("arbiter"),
		kong.Description("Arbiter - multi-agent insurance claim orchestration"),
		kong.UsageOnError(),
	)

	// Initialize logger with CLI flags/env vars (before config loading)
	_, _, _, cleanup, err := initLoggerFromCLI(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	if cleanup != nil {
		defer cleanup()
	}

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
