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

// Canonical is the only status vocabulary readers are allowed to branch on.
type Canonical string

const (
	StatusInProgress Canonical = "in_progress"
	StatusSuccess    Canonical = "success"
	StatusError      Canonical = "error"
	StatusWarning    Canonical = "warning"
	StatusPaused     Canonical = "paused"
	StatusActive     Canonical = "active"
	// StatusUnknown is the empty sentinel.
	StatusUnknown Canonical = ""
)

// Aggregate values of a migration's overall status.
const (
	AggregateCompleted  = "completed"
	AggregateFailed     = "failed"
	AggregateInProgress = "in_progress"
)

// Field names read from backend payloads.
const (
	FieldIsInProgress        = "is_in_progress"
	FieldOverallStatus       = "overall_status"
	FieldStatus              = "status"
	FieldState               = "state"
	FieldMessage             = "message"
	FieldTimestamp           = "timestamp"
	FieldTableName           = "table_name"
	FieldErrorMessage        = "error_message"
	FieldStagingRecordsCount = "staging_records_count"
	FieldTables              = "tables"
	FieldSyncFrequency       = "sync_frequency"
	FieldData                = "data"
	FieldMigrationID         = "migration_id"
	FieldSessionID           = "session_id"
	FieldID                  = "id"
	FieldUser                = "user"
	FieldSequence            = "sequence"

	// FieldCanonicalStatus is written by the reconciler on every snapshot.
	FieldCanonicalStatus = "canonical_status"
)
