// Copyright (c) 2025 ToeiRei
// Cloudkey - SSH key authorization for cloud VMs
// This source code is licensed under the MIT license found in the LICENSE file.

// package export reads and writes key-set snapshots. A snapshot is a
// zstd-compressed JSON document capturing the authorized keys of one
// metadata scope at one point in time, usable as a backup before bulk
// edits and for moving key sets between projects.
package export // import "github.com/toeirei/cloudkey/internal/export"

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/toeirei/cloudkey/internal/gce"
	"github.com/toeirei/cloudkey/internal/metakey"
	"github.com/toeirei/cloudkey/util/slicest"
)

// Snapshot is a point-in-time export of one scope's authorized keys.
// Keys holds the records in their wire format, one line per record, so
// a snapshot stays readable by external tooling after decompression.
type Snapshot struct {
	Project  string    `json:"project"`
	Instance string    `json:"instance,omitempty"`
	TakenAt  time.Time `json:"takenAt"`
	Keys     []string  `json:"keys"`
}

// FromSet captures a key set as a snapshot.
func FromSet(project gce.ProjectLocator, instance string, set *metakey.Set, takenAt time.Time) *Snapshot {
	return &Snapshot{
		Project:  project.Project,
		Instance: instance,
		TakenAt:  takenAt.UTC(),
		Keys:     slicest.Map(set.Records(), metakey.Record.String),
	}
}

// KeySet parses the snapshot's records back into a key set.
func (s *Snapshot) KeySet() (*metakey.Set, error) {
	records, err := slicest.MapX(s.Keys, metakey.ParseRecord)
	if err != nil {
		return nil, fmt.Errorf("invalid key record in snapshot: %w", err)
	}
	return metakey.NewSet(records...), nil
}

// Write writes a compressed snapshot to w.
func Write(w io.Writer, snap *Snapshot) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	enc := json.NewEncoder(zw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		zw.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	return zw.Close()
}

// Read reads a compressed snapshot from r.
func Read(r io.Reader) (*Snapshot, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()
	var snap Snapshot
	if err := json.NewDecoder(zr).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}
