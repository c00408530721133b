package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DreamCats/codesage/internal/config"
)

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the default configuration template",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				path = config.DefaultPath()
			}
			created, err := config.WriteDefaultTemplate(path)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(a.stdout, "Created default config at %s\n", path)
			} else {
				fmt.Fprintf(a.stdout, "Config already exists at %s\n", path)
			}
			return nil
		},
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := a.cfg.Redacted().YAML()
			if err != nil {
				return err
			}
			_, err = a.stdout.Write(data)
			return err
		},
	}

	saveCmd := &cobra.Command{
		Use:   "save [path]",
		Short: "Write the effective configuration, environment and flags applied, to a file",
		Long: `Write the effective configuration to path (default: the --config file or
~/.codesage/config.yaml). Secrets are written as-is, so the file is created
with mode 0600.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = config.DefaultPath()
			}
			if err := a.cfg.SaveToFile(path); err != nil {
				return err
			}
			fmt.Fprintf(a.stdout, "Saved config to %s\n", path)
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd, saveCmd)
	return cmd
}
