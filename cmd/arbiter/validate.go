package main

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ValidateCmd validates a configuration file.
type ValidateCmd struct {
	Config      string `arg:"" name:"config" help:"Configuration file path." type:"path"`
	PrintConfig bool   `short:"p" name:"print-config" help:"Print the expanded configuration (defaults applied, env vars resolved)."`
}

func (c *ValidateCmd) Run(cli *CLI) error {
	ctx := context.Background()

	cfg, loader, err := loadConfigFile(ctx, c.Config)
	if err != nil {
		return err
	}
	defer loader.Close()

	if c.PrintConfig {
		// The service credential never leaves the process, resolved or not.
		redacted := *cfg
		if redacted.Runtime.APIKey != "" {
			redacted.Runtime.APIKey = "(redacted)"
		}
		out, err := yaml.Marshal(&redacted)
		if err != nil {
			return fmt.Errorf("failed to render config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	}

	fmt.Printf("%s: configuration valid\n", c.Config)
	return nil
}
