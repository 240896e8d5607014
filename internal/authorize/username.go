// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package authorize

import "strings"

// maxUsernameLength is the POSIX limit enforced by the guest agent.
const maxUsernameLength = 32

// IsValidUsername reports whether s is acceptable as a POSIX username:
// non-empty, at most 32 characters, starting with a letter or digit,
// with the remainder drawn from letters, digits, '.', '_' and '-'.
func IsValidUsername(s string) bool {
	if s == "" || len(s) > maxUsernameLength {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case i > 0 && (r == '.' || r == '_' || r == '-'):
		default:
			return false
		}
	}
	return true
}

// usernameFromIdentity derives a POSIX username from an identity
// string. For email addresses only the local part is used. Characters
// outside [a-z0-9._-] become '_', and when the result does not start
// with a letter it gets a 'g' prefix before truncation to 32
// characters.
func usernameFromIdentity(identity string) string {
	local := identity
	if i := strings.IndexByte(identity, '@'); i >= 0 {
		local = identity[:i]
	}
	local = strings.ToLower(local)

	var b strings.Builder
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	username := b.String()
	if username == "" || username[0] < 'a' || username[0] > 'z' {
		username = "g" + username
	}
	if len(username) > maxUsernameLength {
		username = username[:maxUsernameLength]
	}
	return username
}
