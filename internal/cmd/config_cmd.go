package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runger/bibupload/internal/config"
)

func newConfigCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "config [key] [value]",
		Short: "Get or set configuration values",
		Long: `Get or set bibupload configuration values.

Without arguments, lists all configuration keys.
With one argument, shows the value of that key.
With two arguments, sets the key to the value.

Configuration is stored in ~/.config/bibupload/config.yaml (XDG compliant).

Examples:
  bibupload config                         # List all keys
  bibupload config log.level               # Get a value
  bibupload config upload.default_user jdoe`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch len(args) {
			case 0:
				return a.listConfig(cmd)
			case 1:
				return a.getConfig(cmd, args[0])
			default:
				return a.setConfig(cmd, args[0], args[1])
			}
		},
	}
}

func (a *app) listConfig(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styleBold.Render("Configuration Keys"))
	fmt.Fprintln(out, strings.Repeat("-", 40))

	var failed []string
	for _, key := range config.ListKeys() {
		value, err := a.cfg.Get(key)
		if err != nil {
			failed = append(failed, key)
			continue
		}
		if value == "" {
			value = styleDim.Render("(not set)")
		}
		fmt.Fprintf(out, "  %s = %s\n", styleKey.Render(key), value)
	}
	if len(failed) > 0 {
		fmt.Fprintf(out, "\n%s Failed to retrieve keys: %s\n", styleWarn.Render("Warning:"), strings.Join(failed, ", "))
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Config file: %s\n", a.paths.ConfigFile())
	fmt.Fprintf(out, "Database:    %s\n", a.cfg.DatabasePath(a.paths))
	return nil
}

func (a *app) getConfig(cmd *cobra.Command, key string) error {
	value, err := a.cfg.Get(key)
	if err != nil {
		return err
	}
	if value == "" {
		value = styleDim.Render("(not set)")
	}
	fmt.Fprintln(cmd.OutOrStdout(), value)
	return nil
}

func (a *app) setConfig(cmd *cobra.Command, key, value string) error {
	if err := a.cfg.Set(key, value); err != nil {
		return err
	}
	if err := a.paths.EnsureDirectories(); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}
	if err := a.cfg.SaveToFile(a.paths.ConfigFile()); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s = %s\n", styleKey.Render(key), value)
	fmt.Fprintf(out, "Saved to: %s\n", a.paths.ConfigFile())
	return nil
}
