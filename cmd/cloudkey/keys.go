// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/toeirei/cloudkey/internal/export"
	"github.com/toeirei/cloudkey/internal/gce"
	"github.com/toeirei/cloudkey/internal/i18n"
	"github.com/toeirei/cloudkey/internal/metakey"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Inspect and move published SSH keys",
}

func init() {
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysExportCmd)
	keysCmd.AddCommand(keysImportCmd)

	keysExportCmd.Flags().StringP("output", "o", "cloudkey-keys.json.zst", "Output file for the snapshot")
}

// keysListCmd prints the published keys of the project, or of a single
// instance when one is named.
var keysListCmd = &cobra.Command{
	Use:   "list [instance]",
	Short: "List published SSH keys",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var instance string
		if len(args) > 0 {
			instance = args[0]
		}
		set, err := readKeySet(ctx, instance)
		if err != nil {
			return err
		}
		if set.Len() == 0 {
			fmt.Println(i18n.T("keys.none"))
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "USERNAME\tTYPE\tOWNER\tEXPIRES")
		for _, r := range set.Records() {
			owner, expires := "-", "-"
			if r.Managed != nil {
				owner = r.Managed.Email
				expires = r.Managed.ExpireOn.UTC().Format(time.RFC3339)
			} else if r.Comment != "" {
				owner = r.Comment
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Username, r.KeyType, owner, expires)
		}
		return w.Flush()
	},
}

// keysExportCmd writes a compressed snapshot of the published keys.
var keysExportCmd = &cobra.Command{
	Use:   "export [instance]",
	Short: "Export published SSH keys to a snapshot file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		var instance string
		if len(args) > 0 {
			instance = args[0]
		}
		set, err := readKeySet(ctx, instance)
		if err != nil {
			return err
		}

		output, _ := cmd.Flags().GetString("output")
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create snapshot file: %w", err)
		}
		defer f.Close()

		snap := export.FromSet(gce.ProjectLocator{Project: cfg.Project}, instance, set, time.Now())
		if err := export.Write(f, snap); err != nil {
			return err
		}
		fmt.Println(i18n.T("keys.exported", set.Len(), output))
		return nil
	},
}

// keysImportCmd merges a snapshot's keys into the project or instance
// metadata. Records already present are left untouched.
var keysImportCmd = &cobra.Command{
	Use:   "import <file> [instance]",
	Short: "Import SSH keys from a snapshot file",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open snapshot file: %w", err)
		}
		defer f.Close()

		snap, err := export.Read(f)
		if err != nil {
			return err
		}
		imported, err := snap.KeySet()
		if err != nil {
			return err
		}

		mutate := func(set *metakey.Set) *metakey.Set {
			for _, r := range imported.Records() {
				set = set.Add(r)
			}
			return set
		}

		if cfg.Project == "" {
			return errors.New("no project configured, set --project or the config file")
		}
		computeClient, err := gce.NewComputeClient(ctx)
		if err != nil {
			return err
		}
		store := gce.NewMetadataStore(computeClient)
		if len(args) > 1 {
			instance, err := targetInstance(args[1])
			if err != nil {
				return err
			}
			err = store.UpdateInstanceKeys(ctx, instance, mutate)
		} else {
			err = store.UpdateProjectKeys(ctx, gce.ProjectLocator{Project: cfg.Project}, mutate)
		}
		if err != nil {
			return err
		}
		fmt.Println(i18n.T("keys.imported", imported.Len(), args[0]))
		return nil
	},
}

// readKeySet reads the ssh-keys metadata of the project, or of an
// instance when a name is given.
func readKeySet(ctx context.Context, instance string) (*metakey.Set, error) {
	if cfg.Project == "" {
		return nil, errors.New("no project configured, set --project or the config file")
	}
	computeClient, err := gce.NewComputeClient(ctx)
	if err != nil {
		return nil, err
	}
	store := gce.NewMetadataStore(computeClient)

	if instance != "" {
		locator, err := targetInstance(instance)
		if err != nil {
			return nil, err
		}
		scope, err := store.Describe(ctx, locator)
		if err != nil {
			return nil, err
		}
		return scope.InstanceKeys()
	}

	scope, err := store.DescribeProject(ctx, gce.ProjectLocator{Project: cfg.Project})
	if err != nil {
		return nil, err
	}
	return scope.ProjectKeys()
}
