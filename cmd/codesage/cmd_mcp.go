package main

import (
	"github.com/spf13/cobra"

	"github.com/DreamCats/codesage/internal/mcpserver"
)

func (a *app) mcpCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run an MCP stdio server",
		Long: `Run an MCP stdio server exposing:
  - codesage_ask
  - codesage_search
  - codesage_read
  - codesage_status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			server := mcpserver.New(a.cfg, Version, a.logger)
			return server.Run(cmd.Context())
		},
	}
}
