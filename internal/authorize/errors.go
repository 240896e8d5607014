// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package authorize

import (
	"errors"
	"fmt"

	"github.com/toeirei/cloudkey/internal/gce"
)

// ErrInvalidArgument marks validation failures that are detected before
// any remote call is made.
var ErrInvalidArgument = errors.New("invalid argument")

// ErrNoUsableMethod is returned when the caller's allowed methods leave
// no way to authorize against the target instance.
var ErrNoUsableMethod = errors.New("no usable authorization method for this instance")

// ConflictError indicates that the instance mandates OS-Login but the
// caller excluded it from the allowed methods. The engine never
// downgrades silently.
type ConflictError struct {
	Instance gce.InstanceLocator
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"instance %s requires OS-Login, but OS-Login is not allowed for this connection", e.Instance)
}

// UnsupportedCapabilityError indicates that the target requires a
// capability this client cannot fulfill.
type UnsupportedCapabilityError struct {
	Capability string
}

func (e *UnsupportedCapabilityError) Error() string {
	return fmt.Sprintf("the target requires %s, which is not supported", e.Capability)
}

// UnsupportedLegacyKeyError indicates that the instance still carries a
// key in the deprecated sshKeys metadata item. Writing managed keys
// into such a scope would break the legacy consumer, so the engine
// refuses.
type UnsupportedLegacyKeyError struct {
	Instance gce.InstanceLocator
}

func (e *UnsupportedLegacyKeyError) Error() string {
	return fmt.Sprintf(
		"instance %s uses legacy SSH key metadata, which is not supported; remove the sshKeys item first",
		e.Instance)
}

// InvalidProfileError indicates that OS-Login returned no usable POSIX
// account for the user.
type InvalidProfileError struct {
	Email string
}

func (e *InvalidProfileError) Error() string {
	return fmt.Sprintf("the OS-Login profile of %s has no usable POSIX account", e.Email)
}

// KeyPushError wraps a rejected metadata key write. Permission problems
// can surface as 403 or, when service account impersonation is denied,
// as 400 at the HTTP layer; callers get one typed failure either way.
type KeyPushError struct {
	Instance gce.InstanceLocator
	Err      error
}

func (e *KeyPushError) Error() string {
	return fmt.Sprintf("failed to push SSH key to instance %s: %v", e.Instance, e.Err)
}

func (e *KeyPushError) Unwrap() error { return e.Err }
