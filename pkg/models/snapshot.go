// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import (
	"time"

	"github.com/tiendc/go-deepcopy"
)

// Snapshot is the cached value of one topic. A stored snapshot is never
// modified; every reconciliation produces a new value through Clone.
type Snapshot struct {
	// Fields holds the named scalar status fields.
	Fields Fields `json:"fields"`
	// Items is the optional sub-entity list (tables, sessions).
	Items []Record `json:"items,omitempty"`
	// Log is the human-readable event log, newest first.
	Log []LogEntry `json:"log,omitempty"`
	// Hydrated is set once a full snapshot was fetched from the backend.
	Hydrated bool `json:"hydrated"`

	LastUpdated time.Time `json:"last_updated"`
	// UpdateID increases on every write. It exists for change detection
	// only and is never used to order updates.
	UpdateID uint64 `json:"_updateId"`
}

// NewSnapshot returns the empty default a topic starts from.
func NewSnapshot() *Snapshot {
	return &Snapshot{Fields: Fields{}}
}

// Clone returns a deep copy that can be modified freely. A nil receiver
// yields an empty snapshot.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return NewSnapshot()
	}

	var out Snapshot
	if err := deepcopy.Copy(&out, s); err != nil {
		// deepcopy only fails for unsupported types, which decoded JSON
		// never contains. Fall back to copying the top level.
		out = *s
		out.Fields = s.Fields.Copy()
		out.Items = make([]Record, 0, len(s.Items))
		for _, item := range s.Items {
			out.Items = append(out.Items, item.Copy())
		}
		out.Log = append([]LogEntry(nil), s.Log...)
	}

	if out.Fields == nil {
		out.Fields = Fields{}
	}

	return &out
}

// FindItem returns the index of the item whose identity field matches
// identity case-insensitively, or -1.
func (s *Snapshot) FindItem(field, identity string) int {
	if s == nil || identity == "" {
		return -1
	}

	for i, item := range s.Items {
		if item.Identity(field) == identity {
			return i
		}
	}

	return -1
}

// Canonical returns the canonical status written by the reconciler.
func (s *Snapshot) Canonical() Canonical {
	if s == nil {
		return StatusUnknown
	}

	value, _ := s.Fields.GetString(FieldCanonicalStatus)

	return Canonical(value)
}

// InProgress reports whether the snapshot describes a running job. It
// checks the boolean flag first and falls back to the canonical status.
func (s *Snapshot) InProgress() bool {
	if s == nil {
		return false
	}

	if inProgress, ok := s.Fields.GetBool(FieldIsInProgress); ok {
		return inProgress
	}

	return s.Canonical() == StatusInProgress
}
