// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/toeirei/cloudkey/internal/config"
)

// configCmd groups configuration management subcommands.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the Cloudkey configuration file",
}

var configSystem bool

// configInitCmd writes the resolved configuration to disk so flags
// passed once can become the default for later runs.
var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the current configuration to the config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteConfigFile(&cfg, configSystem); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}
		fmt.Println("Configuration written.")
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configSystem, "system", false, "Write to the system-wide config instead of the user config")
	configCmd.AddCommand(configInitCmd)
}
