// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

// main.go sets up the command-line interface (CLI) for Cloudkey using
// the Cobra library. It defines the root command, subcommands (like
// authorize, connect, trust-host), flags, and the main entry point.

package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toeirei/cloudkey/buildvars"
	"github.com/toeirei/cloudkey/internal/config"
	"github.com/toeirei/cloudkey/internal/i18n"
	"github.com/toeirei/cloudkey/internal/logging"
	"github.com/toeirei/cloudkey/util/mapst"
)

var cfgFile string

// cfg holds the resolved configuration for the running command.
var cfg config.Config

// main is the entry point of the application.
func main() {
	if err := rootCmd.Execute(); err != nil {
		// The error is already printed by Cobra on failure.
		os.Exit(1)
	}
}

var rootCmd *cobra.Command

func init() {
	rootCmd = newRootCmd()
}

// newRootCmd creates and configures a new root cobra command.
// This function is used to create the main application command as well
// as fresh instances for isolated testing.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cloudkey",
		Short: "Cloudkey publishes SSH keys to cloud VMs and opens sessions with them.",
		Long: `Cloudkey authorizes your SSH key on Compute Engine instances and
connects to them. It picks the best authorization method the target
supports (OS-Login, project metadata, or instance metadata), publishes
a short-lived key, and opens a native SSH session.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var path *string
			if cfgFile != "" {
				path = &cfgFile
			}
			var err error
			cfg, err = config.LoadConfig[config.Config](cmd, config.Defaults(), path)
			if err != nil {
				return err
			}
			logging.SetDebug(cfg.Debug)
			i18n.Init(cfg.Language)
			return nil
		},
	}

	cmd.AddCommand(authorizeCmd)
	cmd.AddCommand(configCmd)
	cmd.AddCommand(connectCmd)
	cmd.AddCommand(execCmd)
	cmd.AddCommand(keysCmd)
	cmd.AddCommand(trustHostCmd)
	cmd.AddCommand(versionCmd)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the user config dir's cloudkey/cloudkey.yaml)")
	cmd.PersistentFlags().String("project", "", "Project ID of the target instances")
	cmd.PersistentFlags().String("zone", "", "Zone of the target instances (e.g. europe-west1-b)")
	cmd.PersistentFlags().String("email", "", "Email of the authorizing identity")
	cmd.PersistentFlags().Bool("workforce", false, "Treat the identity as a workforce-pool principal")
	cmd.PersistentFlags().String("username", "", "Preferred POSIX username for metadata keys")
	cmd.PersistentFlags().String("key-file", "", "Private key to authorize (default: SSH agent, else an ephemeral key)")
	cmd.PersistentFlags().Int("key-validity-minutes", 30, "Lifetime of published keys in minutes")
	cmd.PersistentFlags().StringSlice("auth-methods", nil, "Allowed methods: os-login, project-metadata, instance-metadata")
	cmd.PersistentFlags().String("db-type", "sqlite", "Known-hosts database type (sqlite, postgres, mysql)")
	cmd.PersistentFlags().String("db-dsn", "", "Known-hosts database connection string (DSN)")
	locales := mapst.Keys(i18n.GetAvailableLocales())
	sort.Strings(locales)
	cmd.PersistentFlags().String("language", "", "Output language ("+strings.Join(locales, ", ")+")")
	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	return cmd
}

// versionCmd prints the build version.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the Cloudkey version",
	Run: func(cmd *cobra.Command, args []string) {
		commit := buildvars.Commit
		if commit == "" {
			commit = "unknown"
		}
		date := buildvars.Date
		if date == "" {
			date = "unknown"
		}
		fmt.Println(i18n.T("version.format", buildvars.VersionOrDefault("dev"), commit, date))
	},
}
