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

package snapshot

import (
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

// Payload fields that are lifted out of the scalar field set.
const (
	fieldLogs     = "logs"
	fieldSessions = "sessions"
)

// FromPayload converts a decoded snapshot response into a hydrated
// snapshot. The payload may be wrapped in a "data" envelope. Sub-entities
// are read from "tables", log lines from "logs" and activity sessions from
// "sessions".
func FromPayload(payload models.Fields) *models.Snapshot {
	snap := models.NewSnapshot()
	snap.Hydrated = true

	if data, ok := payload.GetObject(models.FieldData); ok {
		merged := make(models.Fields, len(payload)+len(data))
		for k, v := range payload {
			if k != models.FieldData {
				merged[k] = v
			}
		}
		for k, v := range data {
			merged[k] = v
		}
		payload = merged
	}

	for k, v := range payload {
		switch k {
		case models.FieldTables, fieldLogs, fieldSessions:
		default:
			snap.Fields[k] = v
		}
	}

	if tables, ok := payload.GetList(models.FieldTables); ok {
		snap.Items = tables
	}

	if sessions, ok := payload.GetList(fieldSessions); ok {
		for _, session := range sessions {
			if entry, ok := logEntryFrom(session); ok {
				snap.Log = append(snap.Log, entry)
			}
		}
	}
	if logs, ok := payload.GetList(fieldLogs); ok {
		for _, line := range logs {
			if entry, ok := logEntryFrom(line); ok {
				snap.Log = append(snap.Log, entry)
			}
		}
	}

	return snap
}

// logEntryFrom reads one fetched log line. Lines that carry a session or
// migration id keep it as their identity.
func logEntryFrom(record models.Record) (models.LogEntry, bool) {
	var entry models.LogEntry

	for _, field := range []string{models.FieldMigrationID, models.FieldSessionID, models.FieldID} {
		if id, ok := record.GetString(field); ok && id != "" {
			entry.Identity = id
			break
		}
	}

	entry.Message, _ = record.GetString(models.FieldMessage)
	entry.Timestamp, _ = record.GetString(models.FieldTimestamp)
	entry.Status, _ = record.GetString(models.FieldStatus)
	entry.User, _ = record.GetString(models.FieldUser)

	if entry.Anonymous() && entry.Message == "" {
		return models.LogEntry{}, false
	}

	return entry, true
}
