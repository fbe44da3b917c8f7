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
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

// FullReplaceList is used for topics whose producer always sends the
// complete sub-entity list. A list in the event replaces the cached one
// wholesale. The named scalars take the incoming value if present and keep
// the cached one otherwise. Everything else in the old snapshot is dropped.
type FullReplaceList struct {
	listField string
	scalars   []string
}

func NewFullReplaceList(listField string, scalars ...string) *FullReplaceList {
	return &FullReplaceList{listField: listField, scalars: scalars}
}

func (s *FullReplaceList) Name() string {
	return StrategyFullReplace
}

func (s *FullReplaceList) Merge(prev *models.Snapshot, ev models.Event) (*models.Snapshot, error) {
	next := models.NewSnapshot()

	if prev != nil {
		next.Hydrated = prev.Hydrated
		for _, field := range s.scalars {
			if value, ok := prev.Fields[field]; ok {
				next.Fields[field] = value
			}
		}
		next.Items = prev.Clone().Items
	}

	for _, field := range s.scalars {
		if ev.Has(field) {
			next.Fields[field] = ev[field]
		}
	}

	if list, ok := ev.GetList(s.listField); ok {
		next.Items = sequenced(list)
	}

	return next, nil
}

func (s *FullReplaceList) Hydrate(_, fetched *models.Snapshot) *models.Snapshot {
	next := models.NewSnapshot()
	next.Hydrated = true

	source := fetched.Clone()
	for _, field := range s.scalars {
		if value, ok := source.Fields[field]; ok {
			next.Fields[field] = value
		}
	}
	next.Items = sequenced(source.Items)

	return next
}

// sequenced copies the records and derives their sequence from their
// list position, starting at 1.
func sequenced(list []models.Record) []models.Record {
	items := make([]models.Record, 0, len(list))
	for i, record := range list {
		item := record.Copy()
		item[models.FieldSequence] = i + 1
		items = append(items, item)
	}

	return items
}
