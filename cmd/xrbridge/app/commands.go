// Package app wires the xrbridge command tree.
package app

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "xrbridge",
		Short: "Read-only xRegistry bridge over upstream package registries",
		Long: `xrbridge exposes npm, PyPI, Maven Central, OCI, and MCP registries
behind a single read-only registry API. Each facade translates registry
paths into upstream calls and reshapes the responses; the bridge routes
group types to facades and rewrites embedded upstream URLs.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd())
	return rootCmd
}
