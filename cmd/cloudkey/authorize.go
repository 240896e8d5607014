// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/cloudkey/internal/i18n"
)

// authorizeCmd publishes the caller's key for an instance and prints
// the resolved credential without connecting.
var authorizeCmd = &cobra.Command{
	Use:   "authorize <instance>",
	Short: "Publish an SSH key for an instance",
	Long: `Publishes the caller's public key for the given instance using the
best usable authorization method and prints the username and method to
authenticate with. No connection is opened.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cred, vm, err := authorizeTarget(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Println(i18n.T("authorize.success", cred.Username, vm.Locator.Name, cred.Method))
		fmt.Println(i18n.T("authorize.key_expires",
			time.Now().Add(keyValidity()).UTC().Format(time.RFC3339)))
		return nil
	},
}
