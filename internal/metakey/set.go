// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

package metakey

import (
	"strings"
	"time"
)

// Set is an ordered collection of records, one per line of the metadata
// item. A Set never contains two records that are Equal. Mutating
// operations return a new Set (or the receiver unchanged for no-ops);
// the slice is never modified in place.
type Set struct {
	records []Record
}

// NewSet builds a set from records, deduplicating by Equal while keeping
// first-insertion order.
func NewSet(records ...Record) *Set {
	s := &Set{}
	for _, r := range records {
		s = s.Add(r)
	}
	return s
}

// ParseSet parses the full metadata item value. Blank lines and
// surrounding whitespace are tolerated; any malformed non-blank line
// fails the entire parse.
func ParseSet(blob string) (*Set, error) {
	s := &Set{}
	for _, line := range strings.Split(blob, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rec, err := ParseRecord(line)
		if err != nil {
			return nil, err
		}
		s = s.Add(rec)
	}
	return s, nil
}

// Records returns the records in insertion order. The returned slice
// must not be modified.
func (s *Set) Records() []Record {
	return s.records
}

// Len returns the number of records.
func (s *Set) Len() int {
	return len(s.records)
}

// Contains reports whether an Equal record is present.
func (s *Set) Contains(r Record) bool {
	for _, existing := range s.records {
		if existing.Equal(r) {
			return true
		}
	}
	return false
}

// Add returns a set that includes r. Adding a duplicate is a no-op that
// returns the receiver itself.
func (s *Set) Add(r Record) *Set {
	if s.Contains(r) {
		return s
	}
	records := make([]Record, len(s.records), len(s.records)+1)
	copy(records, s.records)
	return &Set{records: append(records, r)}
}

// Remove returns a set without any record Equal to r. Removing an absent
// record is a no-op that returns the receiver itself.
func (s *Set) Remove(r Record) *Set {
	if !s.Contains(r) {
		return s
	}
	records := make([]Record, 0, len(s.records))
	for _, existing := range s.records {
		if !existing.Equal(r) {
			records = append(records, existing)
		}
	}
	return &Set{records: records}
}

// RemoveExpired returns a set without managed records whose expiry is in
// the past. Unmanaged records are never dropped.
func (s *Set) RemoveExpired(now time.Time) *Set {
	records := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if !r.Expired(now) {
			records = append(records, r)
		}
	}
	if len(records) == len(s.records) {
		return s
	}
	return &Set{records: records}
}

// Filter returns a set holding only the records for which keep returns
// true, preserving order.
func (s *Set) Filter(keep func(Record) bool) *Set {
	records := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if keep(r) {
			records = append(records, r)
		}
	}
	if len(records) == len(s.records) {
		return s
	}
	return &Set{records: records}
}

// String serializes the set, one record per line, in insertion order.
// An empty set serializes to the empty string.
func (s *Set) String() string {
	lines := make([]string, len(s.records))
	for i, r := range s.records {
		lines[i] = r.String()
	}
	return strings.Join(lines, "\n")
}
