// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toeirei/cloudkey/internal/gce"
	"github.com/toeirei/cloudkey/internal/i18n"
	"github.com/toeirei/cloudkey/internal/session"
	"golang.org/x/crypto/ssh"
)

// trustHostCmd fetches a host's public key, shows its fingerprint and,
// on confirmation, stores it in the known-hosts database.
var trustHostCmd = &cobra.Command{
	Use:   "trust-host <instance|host>",
	Short: "Add a host's public key to the trust store",
	Long: `Connects to an instance (or a raw host address) for the first time,
retrieves its public key and prompts to save it to the known-hosts
database. This is a required step before 'connect' will talk to a new
host.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		target := args[0]

		// A dotted or colon-separated target is taken as a raw address;
		// anything else is resolved as an instance name.
		host := target
		if !strings.ContainsAny(target, ".:") {
			instance, err := targetInstance(target)
			if err != nil {
				return err
			}
			computeClient, err := gce.NewComputeClient(ctx)
			if err != nil {
				return err
			}
			vm, err := computeClient.GetInstance(ctx, instance)
			if err != nil {
				return err
			}
			if vm.ConnectAddr() == "" {
				return fmt.Errorf("instance %s has no reachable IP address", instance)
			}
			host = vm.ConnectAddr()
		}

		key, err := session.ProbeHostKey(host)
		if err != nil {
			return err
		}

		fingerprint := ssh.FingerprintSHA256(key)
		fmt.Printf("The authenticity of host '%s' can't be established.\n", host)
		fmt.Println(i18n.T("trusthost.fingerprint", key.Type()+" "+fingerprint))

		if answer := promptForConfirmation("Are you sure you want to trust this host? (yes/no): "); answer != "yes" {
			fmt.Println("Host not trusted. Aborting.")
			os.Exit(1)
		}

		store, err := openHostStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		keyStr := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(key)))
		if err := store.Trust(ctx, host, keyStr); err != nil {
			return err
		}
		fmt.Println(i18n.T("trusthost.added", host))
		return nil
	},
}

// promptForConfirmation reads one trimmed, lower-cased line from stdin.
func promptForConfirmation(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, _ := reader.ReadString('\n')
	return strings.ToLower(strings.TrimSpace(answer))
}
