// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

// package metakey implements the authorized-key metadata format used by
// cloud instances. Each metadata item holds a newline-delimited list of
// entries of the form
//
//	<username>:<keytype> <keymaterial> [<comment> | google-ssh <json>]
//
// Entries carrying the google-ssh marker are "managed": they embed a JSON
// payload with the owner's email and an expiry timestamp, and are subject
// to automatic pruning. Plain entries are "unmanaged" and never expire.
// The format is read by the guest agent on the instance and must be
// preserved byte-for-byte, including whole-second timestamps.
package metakey // import "github.com/toeirei/cloudkey/internal/metakey"

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// MetadataKey is the metadata item holding the managed key set.
	MetadataKey = "ssh-keys"

	// LegacyMetadataKey is the deprecated single-key metadata item. When
	// present, the instance ignores the managed key set.
	LegacyMetadataKey = "sshKeys"

	// managedKeyToken marks a managed entry.
	managedKeyToken = "google-ssh"
)

// Managed carries the structured payload of a managed key entry.
type Managed struct {
	// Email identifies the owner of the key.
	Email string

	// ExpireOn is the expiry timestamp (UTC). Sub-second precision is
	// kept in memory but truncated on serialization.
	ExpireOn time.Time
}

// Record is a single authorized public key entry. Records are immutable;
// mutation helpers on Set return new values.
type Record struct {
	// Username is the POSIX username the key is authorized for. May be
	// empty for phantom legacy entries.
	Username string

	// KeyType is the SSH algorithm identifier, e.g. "ssh-ed25519".
	KeyType string

	// Key is the base64-encoded public key material.
	Key string

	// Comment is the free-text trailing comment of an unmanaged entry,
	// traditionally an email address. Empty for managed entries.
	Comment string

	// Managed is non-nil for entries carrying the google-ssh payload.
	Managed *Managed
}

// managedPayload is the wire form of the google-ssh JSON payload.
// Pointers distinguish absent fields from empty ones.
type managedPayload struct {
	UserName *string `json:"userName"`
	ExpireOn *string `json:"expireOn"`
}

// NewManagedRecord returns a managed record for the given identity.
func NewManagedRecord(username, keyType, key, email string, expireOn time.Time) Record {
	return Record{
		Username: username,
		KeyType:  keyType,
		Key:      key,
		Managed: &Managed{
			Email:    email,
			ExpireOn: expireOn,
		},
	}
}

// NewUnmanagedRecord returns a plain legacy-style record.
func NewUnmanagedRecord(username, keyType, key, comment string) Record {
	return Record{
		Username: username,
		KeyType:  keyType,
		Key:      key,
		Comment:  comment,
	}
}

// ParseRecord parses a single entry line. The line must already be
// trimmed of surrounding whitespace.
func ParseRecord(line string) (Record, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return Record{}, fmt.Errorf("malformed key entry %q: expected <username>:<keytype> <key>", line)
	}

	userAndType := strings.SplitN(fields[0], ":", 2)
	if len(userAndType) != 2 || userAndType[1] == "" {
		return Record{}, fmt.Errorf("malformed key entry %q: missing key type", line)
	}

	rec := Record{
		Username: userAndType[0],
		KeyType:  userAndType[1],
		Key:      fields[1],
	}

	switch {
	case len(fields) == 2:
		// Key without a comment.
		return rec, nil

	case fields[2] == managedKeyToken:
		if len(fields) < 4 {
			return Record{}, fmt.Errorf("malformed managed key entry %q: missing payload", line)
		}
		managed, err := parseManagedPayload(strings.Join(fields[3:], " "))
		if err != nil {
			return Record{}, fmt.Errorf("malformed managed key entry %q: %w", line, err)
		}
		rec.Managed = managed
		return rec, nil

	case len(fields) == 3:
		rec.Comment = fields[2]
		return rec, nil

	default:
		return Record{}, fmt.Errorf("malformed key entry %q: unexpected trailing data", line)
	}
}

func parseManagedPayload(payload string) (*Managed, error) {
	var p managedPayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if p.UserName == nil {
		return nil, fmt.Errorf("payload is missing the userName field")
	}
	if p.ExpireOn == nil {
		return nil, fmt.Errorf("payload is missing the expireOn field")
	}
	expireOn, err := time.Parse(time.RFC3339, *p.ExpireOn)
	if err != nil {
		return nil, fmt.Errorf("invalid expireOn timestamp %q: %w", *p.ExpireOn, err)
	}
	return &Managed{
		Email:    *p.UserName,
		ExpireOn: expireOn,
	}, nil
}

// Equal reports whether two records refer to the same key. Owner
// metadata (comment, email, expiry) does not participate: re-authorizing
// the same key with a new expiry must not create a duplicate.
func (r Record) Equal(other Record) bool {
	return r.Username == other.Username &&
		r.KeyType == other.KeyType &&
		r.Key == other.Key
}

// Expired reports whether the record is managed and past its expiry.
// Unmanaged records never expire.
func (r Record) Expired(now time.Time) bool {
	return r.Managed != nil && r.Managed.ExpireOn.Before(now)
}

// String serializes the record into its single-line wire form. Managed
// expiry timestamps are truncated to whole seconds.
func (r Record) String() string {
	if r.Managed != nil {
		payload, _ := json.Marshal(managedPayload{
			UserName: &r.Managed.Email,
			ExpireOn: stringPtr(r.Managed.ExpireOn.UTC().Truncate(time.Second).Format(time.RFC3339)),
		})
		return fmt.Sprintf("%s:%s %s %s %s",
			r.Username, r.KeyType, r.Key, managedKeyToken, payload)
	}
	if r.Comment != "" {
		return fmt.Sprintf("%s:%s %s %s", r.Username, r.KeyType, r.Key, r.Comment)
	}
	return fmt.Sprintf("%s:%s %s", r.Username, r.KeyType, r.Key)
}

func stringPtr(s string) *string { return &s }
