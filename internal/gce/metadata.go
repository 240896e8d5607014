// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package gce

import (
	"strings"
)

// Metadata is a snapshot of a resource's key/value metadata. Snapshots
// are treated as immutable once read; mutation only happens inside the
// client's read-modify-write cycle.
type Metadata struct {
	// Fingerprint is the server-side state token used for conditional
	// updates.
	Fingerprint string

	items map[string]string
}

// NewMetadata builds a snapshot from a plain item map. The map is copied.
func NewMetadata(fingerprint string, items map[string]string) *Metadata {
	copied := make(map[string]string, len(items))
	for k, v := range items {
		copied[k] = v
	}
	return &Metadata{Fingerprint: fingerprint, items: copied}
}

// Value returns the value of an item and whether the item exists at all.
func (m *Metadata) Value(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m.items[key]
	return v, ok
}

// SetValue adds or overwrites an item. Only the store's update cycle may
// call this, on its private working copy.
func (m *Metadata) SetValue(key, value string) {
	if m.items == nil {
		m.items = make(map[string]string)
	}
	m.items[key] = value
}

// Items returns a copy of the item map.
func (m *Metadata) Items() map[string]string {
	copied := make(map[string]string, len(m.items))
	for k, v := range m.items {
		copied[k] = v
	}
	return copied
}

// Flag interprets an item as a boolean capability flag. The returned
// present is false when the item does not exist; a present item with an
// unrecognized value is an explicit false.
func (m *Metadata) Flag(key string) (value bool, present bool) {
	raw, ok := m.Value(key)
	if !ok {
		return false, false
	}
	return isTruthy(raw), true
}

// isTruthy matches the guest environment's flag convention: y, yes, 1,
// and true (case-insensitive, surrounding whitespace ignored) are true,
// everything else is false.
func isTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y", "yes", "1", "true":
		return true
	default:
		return false
	}
}
