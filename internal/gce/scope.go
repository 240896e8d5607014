// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package gce

import (
	"fmt"

	"github.com/toeirei/cloudkey/internal/metakey"
)

// Metadata flag names understood by the guest environment.
const (
	EnableOsLoginFlag                = "enable-oslogin"
	EnableOsLoginWithSecurityKeyFlag = "enable-oslogin-sk"
	BlockProjectSSHKeysFlag          = "block-project-ssh-keys"
)

// Project is a read-only snapshot of a project's common instance
// metadata.
type Project struct {
	Locator  ProjectLocator
	Metadata *Metadata
}

// Instance is a read-only snapshot of a VM instance.
type Instance struct {
	Locator InstanceLocator

	// ID is the numeric instance ID, needed for certificate-based
	// OS-Login authorization.
	ID uint64

	// ServiceAccount is the email of the attached service account, empty
	// if the instance runs without one.
	ServiceAccount string

	// ExternalIP and InternalIP are the addresses of the primary network
	// interface. ExternalIP is empty for instances without a public
	// address.
	ExternalIP string
	InternalIP string

	Metadata *Metadata
}

// ConnectAddr returns the address to dial for an SSH connection,
// preferring the external IP.
func (i *Instance) ConnectAddr() string {
	if i.ExternalIP != "" {
		return i.ExternalIP
	}
	return i.InternalIP
}

// Scope combines an instance snapshot with its owning project snapshot
// and derives the effective capability flags. A Scope is immutable; it
// reflects one logical read.
type Scope struct {
	Instance *Instance
	Project  *Project
}

// flag resolves a capability flag. An instance-level item always takes
// precedence, even when it parses to false; the project value only
// applies when the instance has no item at all.
func (s *Scope) flag(name string) bool {
	if s.Instance != nil {
		if v, present := s.Instance.Metadata.Flag(name); present {
			return v
		}
	}
	if s.Project != nil {
		if v, present := s.Project.Metadata.Flag(name); present {
			return v
		}
	}
	return false
}

// OsLoginEnabled reports whether the instance requires OS-Login.
func (s *Scope) OsLoginEnabled() bool {
	return s.flag(EnableOsLoginFlag)
}

// OsLoginWithSecurityKeyEnabled reports whether OS-Login additionally
// requires a hardware security key.
func (s *Scope) OsLoginWithSecurityKeyEnabled() bool {
	return s.flag(EnableOsLoginWithSecurityKeyFlag)
}

// ProjectKeysBlocked reports whether project-wide SSH keys are ignored
// by the instance.
func (s *Scope) ProjectKeysBlocked() bool {
	return s.flag(BlockProjectSSHKeysFlag)
}

// LegacyKeyPresent reports whether the instance still carries the
// deprecated single-key metadata item. Legacy keys were instance-only,
// so checking the instance metadata is sufficient.
func (s *Scope) LegacyKeyPresent() bool {
	if s.Instance == nil {
		return false
	}
	v, _ := s.Instance.Metadata.Value(metakey.LegacyMetadataKey)
	return v != ""
}

// InstanceKeys parses the instance-level authorized key set.
func (s *Scope) InstanceKeys() (*metakey.Set, error) {
	if s.Instance == nil {
		return metakey.NewSet(), nil
	}
	return parseKeys(s.Instance.Metadata)
}

// ProjectKeys parses the project-level authorized key set.
func (s *Scope) ProjectKeys() (*metakey.Set, error) {
	if s.Project == nil {
		return metakey.NewSet(), nil
	}
	return parseKeys(s.Project.Metadata)
}

func parseKeys(md *Metadata) (*metakey.Set, error) {
	blob, ok := md.Value(metakey.MetadataKey)
	if !ok {
		return metakey.NewSet(), nil
	}
	set, err := metakey.ParseSet(blob)
	if err != nil {
		return nil, fmt.Errorf("metadata item %s is malformed: %w", metakey.MetadataKey, err)
	}
	return set, nil
}
