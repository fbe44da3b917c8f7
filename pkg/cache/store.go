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

// Package cache holds the snapshot store the sync engine reads from and
// writes to. Keys are structured tuples (kind, entity id, variant).
package cache

import (
	"fmt"

	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

// Key identifies one cached query. Variant distinguishes cached variants
// of the same entity, e.g. an activity log filtered by date range.
type Key struct {
	Kind     models.Kind
	EntityID int64
	Variant  string
}

func NewKey(kind models.Kind, entityID int64, variant string) Key {
	return Key{Kind: kind, EntityID: entityID, Variant: variant}
}

// TopicKey is the primary key a topic writes.
func TopicKey(topic models.Topic) Key {
	return Key{Kind: topic.Kind, EntityID: topic.EntityID}
}

func (k Key) Topic() models.Topic {
	return models.NewTopic(k.Kind, k.EntityID)
}

func (k Key) String() string {
	if k.Variant == "" {
		return fmt.Sprintf("%s:%d", k.Kind, k.EntityID)
	}

	return fmt.Sprintf("%s:%d:%s", k.Kind, k.EntityID, k.Variant)
}

// Matcher selects keys for Keys, Invalidate and Remove.
type Matcher func(Key) bool

// MatchKeys matches exactly the given keys.
func MatchKeys(keys ...Key) Matcher {
	set := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}

	return func(k Key) bool {
		_, ok := set[k]
		return ok
	}
}

// MatchEntity matches every variant of one (kind, entity id) pair.
func MatchEntity(kind models.Kind, entityID int64) Matcher {
	return func(k Key) bool {
		return k.Kind == kind && k.EntityID == entityID
	}
}

// MatchKinds matches every variant of the given kinds for one entity id.
func MatchKinds(entityID int64, kinds ...models.Kind) Matcher {
	return func(k Key) bool {
		if k.EntityID != entityID {
			return false
		}
		for _, kind := range kinds {
			if k.Kind == kind {
				return true
			}
		}
		return false
	}
}

// Updater derives the next snapshot from the current one. prev is nil for
// a key that has no value yet and must not be modified. Returning nil or
// prev itself leaves the entry unchanged.
type Updater func(prev *models.Snapshot) *models.Snapshot

type InvalidateOptions struct {
	// RefetchActiveOnly keeps every matched value and only asks observed
	// keys to refetch. Without it, unobserved matches are dropped so the
	// next read starts fresh.
	RefetchActiveOnly bool
}

// Change is delivered to watchers of a key.
type Change struct {
	Key      Key
	Snapshot *models.Snapshot
	// Stale is set when the key was invalidated and should be refetched.
	Stale bool
	// Removed is set when the key was removed from the store.
	Removed bool
}

// Store is the single shared mutable resource of the sync engine. Writers
// only ever replace an entry with a new snapshot value, so readers never
// observe a torn write.
type Store interface {
	Get(key Key) (*models.Snapshot, bool)
	Set(key Key, update Updater) (*models.Snapshot, bool)
	Invalidate(match Matcher, opts InvalidateOptions) []Key
	IsStale(key Key) bool
	Keys(match Matcher) []Key
	Subscribe(key Key) *Watch
	Remove(match Matcher) int
}
