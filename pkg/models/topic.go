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
	"fmt"
	"strconv"
	"strings"
)

// Kind is the entity kind half of a topic. It determines the channel address,
// the snapshot endpoint and the merge strategy.
type Kind string

const (
	KindSchemaStatus    Kind = "schema-status"
	KindTableStatus     Kind = "table-status"
	KindMigrationStatus Kind = "migration-status"
	KindActivityLog     Kind = "activity-log"

	// Dependent views. They are never tracked, only invalidated when a
	// schema job finishes.
	KindSchema         Kind = "schema"
	KindTables         Kind = "tables"
	KindTableSelection Kind = "table-selection"
)

// TrackedKinds lists every kind that can be subscribed to or polled.
var TrackedKinds = []Kind{KindSchemaStatus, KindTableStatus, KindMigrationStatus, KindActivityLog}

// Tracked returns whether the kind has a push channel and a snapshot endpoint.
func (k Kind) Tracked() bool {
	for _, tracked := range TrackedKinds {
		if k == tracked {
			return true
		}
	}

	return false
}

// ParseKind parses a tracked kind.
func ParseKind(value string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(value)))
	if !kind.Tracked() {
		return "", fmt.Errorf("unknown topic kind %q", value)
	}

	return kind, nil
}

// Topic identifies one trackable job or resource. It is a value type and is
// never modified after creation.
type Topic struct {
	Kind     Kind
	EntityID int64
}

func NewTopic(kind Kind, entityID int64) Topic {
	return Topic{Kind: kind, EntityID: entityID}
}

// Active returns false for the "inactive topic" ids (0 or negative) and for
// kinds that cannot be tracked. Inactive topics suppress both the channel
// subscription and polling.
func (t Topic) Active() bool {
	return t.EntityID > 0 && t.Kind.Tracked()
}

func (t Topic) String() string {
	return fmt.Sprintf("%s:%d", t.Kind, t.EntityID)
}

// ParseTopic parses the "kind:id" form produced by Topic.String.
func ParseTopic(value string) (Topic, error) {
	idx := strings.LastIndex(value, ":")
	if idx <= 0 {
		return Topic{}, fmt.Errorf("topic %q must have the form kind:id", value)
	}

	kind, err := ParseKind(value[:idx])
	if err != nil {
		return Topic{}, err
	}

	id, err := strconv.ParseInt(value[idx+1:], 10, 64)
	if err != nil {
		return Topic{}, fmt.Errorf("topic %q has an invalid entity id: %w", value, err)
	}

	return NewTopic(kind, id), nil
}
