// Package app provides the command line interface of the offline sync engine.
package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stacklok/offline-sync/internal/versions"
)

var rootCmd = &cobra.Command{
	Use:               "offline-sync",
	DisableAutoGenTag: true,
	SilenceUsage:      true,
	Short:             "Offline-first sync engine",
	Long: `offline-sync queues local mutations while the remote is unreachable and
replays them when connectivity returns, detecting and resolving conflicts
along the way.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

// NewRootCmd wires the subcommands and global flags onto the root command
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		slog.Error("Error binding debug flag", "error", err)
	}

	rootCmd.AddCommand(serveCmd, validateCmd, versionCmd, migrateCmd)
	return rootCmd
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return err
		}
		return printVersion(cmd.OutOrStdout(), format, versions.GetVersionInfo())
	},
}

func init() {
	versionCmd.Flags().String("format", "text", "Output format (text or json)")
}

func printVersion(w io.Writer, format string, info versions.VersionInfo) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	case "", "text":
		_, err := fmt.Fprintf(w, "offline-sync %s\n  commit:   %s\n  built:    %s\n  go:       %s\n  platform: %s\n",
			info.Version, info.Commit, info.BuildDate, info.GoVersion, info.Platform)
		return err
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}
