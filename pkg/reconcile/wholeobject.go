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

// WholeObjectMerge is used for simple in-progress job topics. The event
// is shallow-merged over the cached fields. When the job stops being in
// progress, the dependent views of the same entity are invalidated after
// the settle delay; while it runs, the topic's own key is marked stale for
// its observers.
type WholeObjectMerge struct {
	dependents []models.Kind
}

func NewWholeObjectMerge(dependents ...models.Kind) *WholeObjectMerge {
	return &WholeObjectMerge{dependents: dependents}
}

func (s *WholeObjectMerge) Name() string {
	return StrategyWholeObject
}

func (s *WholeObjectMerge) Merge(prev *models.Snapshot, ev models.Event) (*models.Snapshot, error) {
	next := prev.Clone()
	for k, v := range ev {
		if k == models.FieldCanonicalStatus {
			continue
		}
		next.Fields[k] = v
	}

	return next, nil
}

func (s *WholeObjectMerge) Hydrate(prev, fetched *models.Snapshot) *models.Snapshot {
	next := prev.Clone()
	source := fetched.Clone()
	for k, v := range source.Fields {
		next.Fields[k] = v
	}
	if len(source.Items) > 0 {
		next.Items = source.Items
	}
	next.Hydrated = true

	return next
}

func (s *WholeObjectMerge) AfterWrite(r *Reconciler, topic models.Topic, prev, next *models.Snapshot) {
	if next.InProgress() {
		r.store.Invalidate(cache.MatchKeys(cache.TopicKey(topic)), cache.InvalidateOptions{RefetchActiveOnly: true})
		return
	}

	if prev != nil && prev.InProgress() && len(s.dependents) > 0 {
		r.scheduleSettle(topic, s.dependents)
	}
}
