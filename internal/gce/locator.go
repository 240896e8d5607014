// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

// package gce wraps the compute and resource-manager APIs behind narrow
// interfaces: typed resource locators, immutable metadata snapshots with
// derived capability flags, and an optimistic-concurrency store for the
// authorized-key metadata items.
package gce // import "github.com/toeirei/cloudkey/internal/gce"

import (
	"fmt"
	"strings"
)

// ProjectLocator identifies a project.
type ProjectLocator struct {
	Project string
}

func (p ProjectLocator) String() string {
	return "projects/" + p.Project
}

// ZoneLocator identifies a zone within a project.
type ZoneLocator struct {
	Project string
	Zone    string
}

func (z ZoneLocator) String() string {
	return fmt.Sprintf("projects/%s/zones/%s", z.Project, z.Zone)
}

// Region derives the region name from the zone name, e.g.
// "europe-west1-b" -> "europe-west1".
func (z ZoneLocator) Region() string {
	if i := strings.LastIndex(z.Zone, "-"); i > 0 {
		return z.Zone[:i]
	}
	return z.Zone
}

// InstanceLocator identifies a VM instance.
type InstanceLocator struct {
	Project string
	Zone    string
	Name    string
}

func (i InstanceLocator) String() string {
	return fmt.Sprintf("projects/%s/zones/%s/instances/%s", i.Project, i.Zone, i.Name)
}

// ProjectLocator returns the owning project.
func (i InstanceLocator) ProjectLocator() ProjectLocator {
	return ProjectLocator{Project: i.Project}
}

// ZoneLocator returns the owning zone.
func (i InstanceLocator) ZoneLocator() ZoneLocator {
	return ZoneLocator{Project: i.Project, Zone: i.Zone}
}
