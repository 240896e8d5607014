// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package metakey

import (
	"strings"
	"testing"
	"time"
)

func TestParseRecordUnmanaged(t *testing.T) {
	rec, err := ParseRecord("alice:ssh-rsa AAAA alice@example.com")
	if err != nil {
		t.Fatalf("ParseRecord failed: %v", err)
	}
	if rec.Username != "alice" || rec.KeyType != "ssh-rsa" || rec.Key != "AAAA" {
		t.Errorf("unexpected record: %+v", rec)
	}
	if rec.Comment != "alice@example.com" {
		t.Errorf("unexpected comment: %q", rec.Comment)
	}
	if rec.Managed != nil {
		t.Error("record should not be managed")
	}
}

func TestParseRecordWithoutComment(t *testing.T) {
	rec, err := ParseRecord("alice:ssh-ed25519 AAAA")
	if err != nil {
		t.Fatalf("ParseRecord failed: %v", err)
	}
	if rec.Comment != "" || rec.Managed != nil {
		t.Errorf("unexpected record: %+v", rec)
	}
}

func TestParseRecordManaged(t *testing.T) {
	rec, err := ParseRecord(`bob:ssh-rsa KEYDATA google-ssh {"userName":"bob@example.com","expireOn":"2050-01-15T15:22:35Z"}`)
	if err != nil {
		t.Fatalf("ParseRecord failed: %v", err)
	}
	if rec.Managed == nil {
		t.Fatal("record should be managed")
	}
	if rec.Managed.Email != "bob@example.com" {
		t.Errorf("unexpected email: %q", rec.Managed.Email)
	}
	want := time.Date(2050, 1, 15, 15, 22, 35, 0, time.UTC)
	if !rec.Managed.ExpireOn.Equal(want) {
		t.Errorf("unexpected expiry: %v", rec.Managed.ExpireOn)
	}
}

func TestParseRecordManagedWithFractionalSeconds(t *testing.T) {
	rec, err := ParseRecord(`bob:ssh-rsa KEYDATA google-ssh {"userName":"bob@example.com","expireOn":"2050-01-15T15:22:35.1234567Z"}`)
	if err != nil {
		t.Fatalf("ParseRecord failed: %v", err)
	}
	// Sub-second precision is kept for comparisons, only dropped on output.
	if rec.Managed.ExpireOn.Nanosecond() == 0 {
		t.Error("expected fractional seconds to be preserved on parse")
	}
	if !strings.Contains(rec.String(), `"expireOn":"2050-01-15T15:22:35Z"`) {
		t.Errorf("expected whole-second timestamp on output, got %q", rec.String())
	}
}

func TestParseRecordPhantomUsername(t *testing.T) {
	rec, err := ParseRecord(":ssh-rsa phantomkey phantom")
	if err != nil {
		t.Fatalf("ParseRecord failed: %v", err)
	}
	if rec.Username != "" {
		t.Errorf("unexpected username: %q", rec.Username)
	}
}

func TestParseRecordMalformed(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"junk", "junk junk junk"},
		{"single token", "alice:ssh-rsa"},
		{"missing key type", "alice AAAA comment"},
		{"trailing data", "alice:ssh-rsa AAAA one two"},
		{"managed without payload", "alice:ssh-rsa AAAA google-ssh"},
		{"managed with junk payload", "alice:ssh-rsa AAAA google-ssh junk"},
		{"managed missing username", `alice:ssh-rsa AAAA google-ssh {"expireOn":"2050-01-15T15:22:35Z"}`},
		{"managed missing expiry", `alice:ssh-rsa AAAA google-ssh {"userName":"a@example.com"}`},
		{"managed bad expiry", `alice:ssh-rsa AAAA google-ssh {"userName":"a@example.com","expireOn":"not-a-date"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseRecord(tt.line); err == nil {
				t.Errorf("ParseRecord(%q) should have failed", tt.line)
			}
		})
	}
}

func TestParseSetToleratesWhitespace(t *testing.T) {
	blob := "alice:ssh-rsa key alice\r\n" +
		"bob:ssh-rsa key google-ssh {\"userName\":\"bob@example.com\",\"expireOn\":\"2050-01-15T15:22:35Z\"}\n" +
		"\n" +
		" carol:ssh-rsa key carol \t\r\n" +
		"dave:ssh-rsa key dave\r\n"

	set, err := ParseSet(blob)
	if err != nil {
		t.Fatalf("ParseSet failed: %v", err)
	}
	if set.Len() != 4 {
		t.Errorf("expected 4 records, got %d", set.Len())
	}
}

func TestParseSetEmpty(t *testing.T) {
	for _, blob := range []string{"", " ", "\n\n", " \r\n "} {
		set, err := ParseSet(blob)
		if err != nil {
			t.Fatalf("ParseSet(%q) failed: %v", blob, err)
		}
		if set.Len() != 0 {
			t.Errorf("ParseSet(%q) should be empty, got %d records", blob, set.Len())
		}
	}
}

func TestParseSetFailsOnMalformedLine(t *testing.T) {
	if _, err := ParseSet("alice:ssh-rsa key alice\njunk junk junk junk\n"); err == nil {
		t.Error("ParseSet should fail when any line is malformed")
	}
}

func TestSetAddDeduplicates(t *testing.T) {
	set, err := ParseSet("alice:ssh-rsa key alice")
	if err != nil {
		t.Fatalf("ParseSet failed: %v", err)
	}

	// Same key, different comment: still a duplicate.
	dup := NewUnmanagedRecord("alice", "ssh-rsa", "key", "notalice")
	if got := set.Add(dup); got != set {
		t.Error("adding a duplicate should return the same set instance")
	}

	// Same username, different key material: not a duplicate.
	set2 := set.Add(NewUnmanagedRecord("alice", "ssh-rsa", "key2", "alice"))
	if set2.Len() != 2 {
		t.Errorf("expected 2 records, got %d", set2.Len())
	}
	if set.Len() != 1 {
		t.Error("Add must not mutate the original set")
	}
}

func TestSetAddIgnoresOwnerMetadataForEquality(t *testing.T) {
	managed := NewManagedRecord("bob", "ssh-rsa", "key", "bob@example.com",
		time.Date(2050, 1, 1, 0, 0, 0, 0, time.UTC))
	set := NewSet(managed)

	// Different expiry and email, same key: duplicate.
	later := NewManagedRecord("bob", "ssh-rsa", "key", "other@example.com",
		time.Date(2060, 1, 1, 0, 0, 0, 0, time.UTC))
	if got := set.Add(later); got != set {
		t.Error("managed records should dedupe on (username, keytype, key)")
	}
}

func TestSetRemove(t *testing.T) {
	a := NewUnmanagedRecord("alice", "ssh-rsa", "key1", "alice")
	b := NewUnmanagedRecord("bob", "ssh-rsa", "key2", "bob")
	set := NewSet(a, b)

	removed := set.Remove(a)
	if removed.Len() != 1 {
		t.Errorf("expected 1 record after remove, got %d", removed.Len())
	}
	if removed.Contains(a) {
		t.Error("removed record still present")
	}

	// Removing an absent record is a no-op.
	if got := removed.Remove(a); got != removed {
		t.Error("removing an absent record should return the same set instance")
	}
}

func TestSetRemoveExpired(t *testing.T) {
	now := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	expired := NewManagedRecord("old", "ssh-rsa", "key1", "old@example.com", now.Add(-time.Hour))
	current := NewManagedRecord("new", "ssh-rsa", "key2", "new@example.com", now.Add(time.Hour))
	unmanaged := NewUnmanagedRecord("keep", "ssh-rsa", "key3", "keep@example.com")

	set := NewSet(expired, current, unmanaged).RemoveExpired(now)
	if set.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", set.Len())
	}
	if set.Contains(expired) {
		t.Error("expired managed record should have been pruned")
	}
	if !set.Contains(current) || !set.Contains(unmanaged) {
		t.Error("unexpired records must be left untouched")
	}
}

func TestSetRoundTrip(t *testing.T) {
	blob := "alice:ssh-rsa key1 alice@example.com\n" +
		"bob:ssh-ed25519 key2 google-ssh {\"userName\":\"bob@example.com\",\"expireOn\":\"2050-01-15T15:22:35Z\"}\n" +
		"carol:ssh-rsa key3"

	set, err := ParseSet(blob)
	if err != nil {
		t.Fatalf("ParseSet failed: %v", err)
	}
	again, err := ParseSet(set.String())
	if err != nil {
		t.Fatalf("reparse failed: %v", err)
	}
	if again.Len() != set.Len() {
		t.Fatalf("round trip changed cardinality: %d != %d", again.Len(), set.Len())
	}
	for _, r := range set.Records() {
		if !again.Contains(r) {
			t.Errorf("round trip lost record %v", r)
		}
	}
}

func TestEmptySetSerializesToEmptyString(t *testing.T) {
	if got := NewSet().String(); got != "" {
		t.Errorf("empty set should serialize to empty string, got %q", got)
	}
}
