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

package reconcile

import (
	"github.com/united-manufacturing-hub/livestatus/pkg/cache"
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

// Strategy is the merge rule of one topic kind. Merge and Hydrate run
// while the store holds its lock and must not call back into the store.
type Strategy interface {
	Name() string
	// Merge derives the next snapshot of one cached key from an event.
	// prev may be nil and must not be modified. A nil result means
	// nothing changed.
	Merge(prev *models.Snapshot, ev models.Event) (*models.Snapshot, error)
	// Hydrate folds a fetched snapshot into the cached one.
	Hydrate(prev, fetched *models.Snapshot) *models.Snapshot
}

// Targeter is implemented by strategies that write more than the topic's
// own key.
type Targeter interface {
	Targets(store cache.Store, topic models.Topic) []cache.Key
}

// AfterWriter is implemented by strategies with side effects once a
// snapshot was stored, e.g. invalidating dependent views.
type AfterWriter interface {
	AfterWrite(r *Reconciler, topic models.Topic, prev, next *models.Snapshot)
}

// Strategy names, used as metric labels.
const (
	StrategyFullReplace = "full_replace_list"
	StrategyPerField    = "per_field_merge"
	StrategyWholeObject = "whole_object_merge"
	StrategyBroadcast   = "multi_key_broadcast"
)

// DefaultStrategies returns the strategy registry for every tracked kind.
func DefaultStrategies(maxLogEntries int) map[models.Kind]Strategy {
	return map[models.Kind]Strategy{
		models.KindTableStatus:     NewFullReplaceList(models.FieldTables, models.FieldIsInProgress, models.FieldSyncFrequency),
		models.KindMigrationStatus: NewPerFieldMerge(models.FieldTableName, maxLogEntries),
		models.KindSchemaStatus:    NewWholeObjectMerge(models.KindSchema, models.KindTables, models.KindTableSelection),
		models.KindActivityLog:     NewBroadcast(maxLogEntries),
	}
}

// unwrap lifts the fields of an optional "data" envelope to the top
// level. Envelope fields win over outer ones.
func unwrap(ev models.Event) models.Event {
	data, ok := ev.GetObject(models.FieldData)
	if !ok {
		return ev
	}

	out := make(models.Event, len(ev)+len(data))
	for k, v := range ev {
		if k != models.FieldData {
			out[k] = v
		}
	}
	for k, v := range data {
		out[k] = v
	}

	return out
}
