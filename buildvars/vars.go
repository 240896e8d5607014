// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

// Package buildvars contains variables injected at build time.
package buildvars

// Version is set at link time via `-ldflags -X github.com/toeirei/cloudkey/buildvars.Version=...`.
// It will be empty for local or development builds.
var Version string

// Commit is the short commit hash the binary was built from, set at
// link time like Version.
var Commit string

// Date is the build timestamp, set at link time like Version.
var Date string

// VersionOrDefault returns `Version` if set, otherwise returns the provided default.
func VersionOrDefault(def string) string {
	if len(Version) > 0 {
		return Version
	}
	return def
}
