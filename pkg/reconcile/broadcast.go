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

// Broadcast is used for activity logs, where several cached variants of
// the same entity (e.g. different date filters) alias one underlying log.
// Every variant receives the same transform. Events that name a session
// upsert that session's summary entry; anonymous messages are appended to
// the log.
type Broadcast struct {
	maxLog int
}

func NewBroadcast(maxLogEntries int) *Broadcast {
	return &Broadcast{maxLog: maxLogEntries}
}

func (s *Broadcast) Name() string {
	return StrategyBroadcast
}

// Targets returns every cached variant of the entity. The topic's own key
// is written only when it is cached already or when nothing is, so the
// first event creates it without adding an unfiltered entry next to
// existing variants.
func (s *Broadcast) Targets(store cache.Store, topic models.Topic) []cache.Key {
	keys := store.Keys(cache.MatchEntity(topic.Kind, topic.EntityID))
	if len(keys) == 0 {
		return []cache.Key{cache.TopicKey(topic)}
	}

	return keys
}

var summaryFields = map[string]struct{}{
	models.FieldMigrationID:     {},
	models.FieldSessionID:       {},
	models.FieldMessage:         {},
	models.FieldTimestamp:       {},
	models.FieldStatus:          {},
	models.FieldUser:            {},
	models.FieldCanonicalStatus: {},
}

func (s *Broadcast) Merge(prev *models.Snapshot, ev models.Event) (*models.Snapshot, error) {
	next := prev.Clone()

	for k, v := range ev {
		if _, ok := summaryFields[k]; ok {
			continue
		}
		next.Fields[k] = v
	}

	if update, ok := summaryFrom(ev); ok {
		next.Log = UpsertSummary(next.Log, update, s.maxLog)
	} else if entry, ok := logEntryFrom(ev); ok {
		next.Log, _ = AppendEntry(next.Log, entry, s.maxLog)
	}

	return next, nil
}

func (s *Broadcast) Hydrate(prev, fetched *models.Snapshot) *models.Snapshot {
	next := fetched.Clone()
	next.Hydrated = true
	if prev != nil {
		next.Log = MergeLogs(prev.Clone().Log, next.Log, s.maxLog)
	}

	return next
}
