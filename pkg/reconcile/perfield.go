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
	"fmt"

	"github.com/united-manufacturing-hub/livestatus/pkg/backoff"
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
	"github.com/united-manufacturing-hub/livestatus/pkg/status"
)

// PerFieldMerge is used for migration and table progress topics. Events
// about one sub-entity overwrite only the fields they carry. Messages are
// appended to the snapshot's log and the aggregate status is derived with
// the sticky failure rule.
type PerFieldMerge struct {
	identityField string
	maxLog        int
}

func NewPerFieldMerge(identityField string, maxLogEntries int) *PerFieldMerge {
	return &PerFieldMerge{identityField: identityField, maxLog: maxLogEntries}
}

func (s *PerFieldMerge) Name() string {
	return StrategyPerField
}

// Merge applies ev to prev. An event about a sub-entity the hydrated
// snapshot does not know loses its row update only: its explicit aggregate
// and its log line still apply, and a merge-target-missing error reports
// the dropped row. The snapshot is nil when nothing changed.
func (s *PerFieldMerge) Merge(prev *models.Snapshot, ev models.Event) (*models.Snapshot, error) {
	identity := ev.Identity(s.identityField)

	var missing error
	if identity != "" && prev != nil && prev.Hydrated && prev.FindItem(s.identityField, identity) < 0 {
		missing = backoff.NewMergeTargetMissingError(
			fmt.Errorf("no %s %q in the cached snapshot", s.identityField, identity))
	}

	next := prev.Clone()
	cachedAggregate := status.NormalizeAggregate(stringField(next.Fields, models.FieldOverallStatus))
	changed := missing == nil

	switch {
	case missing != nil:
		if explicit, ok := explicitAggregate(ev); ok {
			next.Fields[models.FieldOverallStatus] = explicit
			changed = true
		}
	case identity != "":
		s.mergeItem(next, identity, ev)
	default:
		for k, v := range ev {
			if k == models.FieldOverallStatus || k == models.FieldCanonicalStatus {
				continue
			}
			next.Fields[k] = v
		}
	}

	if missing == nil {
		if aggregate, ok := deriveAggregate(ev, identity != "", cachedAggregate); ok {
			next.Fields[models.FieldOverallStatus] = aggregate
		}
	}

	if entry, ok := logEntryFrom(ev); ok {
		var appended bool
		next.Log, appended = AppendEntry(next.Log, entry, s.maxLog)
		changed = changed || appended
	}

	if !changed {
		return nil, missing
	}

	return next, missing
}

// mergeItem copies the present fields of ev onto the matching row. Before
// the first fetch an unknown identity seeds a new row.
func (s *PerFieldMerge) mergeItem(next *models.Snapshot, identity string, ev models.Event) {
	idx := next.FindItem(s.identityField, identity)

	var row models.Record
	if idx >= 0 {
		row = next.Items[idx].Copy()
	} else {
		row = models.Record{}
	}

	for k, v := range ev {
		if k == models.FieldOverallStatus || k == models.FieldCanonicalStatus {
			continue
		}
		row[k] = v
	}

	if idx >= 0 {
		next.Items[idx] = row
		return
	}
	next.Items = append(next.Items, row)
}

// deriveAggregate returns the new aggregate status, if the event implies
// one. An explicit overall status always wins. A status sent without a
// sub-entity is an implicit aggregate signal. A sub-entity that is in
// progress implies a running aggregate. Implicit signals never move a
// failed aggregate anywhere but failed.
func deriveAggregate(ev models.Event, perItem bool, cached string) (string, bool) {
	if explicit, ok := explicitAggregate(ev); ok {
		return explicit, true
	}

	raw, ok := ev.GetString(models.FieldStatus)
	if !ok || raw == "" {
		return "", false
	}
	candidate := status.NormalizeAggregate(raw)

	if cached == models.AggregateFailed && candidate != models.AggregateFailed {
		return "", false
	}

	if perItem {
		if candidate != models.AggregateInProgress || cached == models.AggregateInProgress {
			return "", false
		}
	}

	return candidate, true
}

func explicitAggregate(ev models.Event) (string, bool) {
	explicit, ok := ev.GetString(models.FieldOverallStatus)
	if !ok || explicit == "" {
		return "", false
	}

	return status.NormalizeAggregate(explicit), true
}

func (s *PerFieldMerge) Hydrate(prev, fetched *models.Snapshot) *models.Snapshot {
	next := fetched.Clone()
	next.Hydrated = true

	if prev != nil {
		fields := prev.Fields.Copy()
		for k, v := range next.Fields {
			fields[k] = v
		}
		next.Fields = fields
		next.Log = MergeLogs(prev.Clone().Log, next.Log, s.maxLog)
	}

	if raw := stringField(next.Fields, models.FieldOverallStatus); raw != "" {
		next.Fields[models.FieldOverallStatus] = status.NormalizeAggregate(raw)
	}

	return next
}

func stringField(fields models.Fields, key string) string {
	value, _ := fields.GetString(key)
	return value
}
