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
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

// Default summary values for a session that appears for the first time.
const (
	DefaultSummaryStatus = "in progress"
	DefaultSummaryUser   = "System"
)

// digest identifies an anonymous entry by (message, timestamp).
func digest(entry models.LogEntry) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(entry.Message)
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(entry.Timestamp)
	return d.Sum64()
}

// contains reports whether log already holds entry. Identity-bearing
// entries match by identity, anonymous ones by (message, timestamp).
func contains(log []models.LogEntry, entry models.LogEntry) bool {
	if !entry.Anonymous() {
		return indexOfIdentity(log, entry.Identity) >= 0
	}

	want := digest(entry)
	for _, existing := range log {
		if existing.Anonymous() && digest(existing) == want &&
			existing.Message == entry.Message && existing.Timestamp == entry.Timestamp {
			return true
		}
	}

	return false
}

func indexOfIdentity(log []models.LogEntry, identity string) int {
	for i, existing := range log {
		if existing.Identity == identity {
			return i
		}
	}

	return -1
}

// capLog drops the oldest entries beyond limit.
func capLog(log []models.LogEntry, limit int) []models.LogEntry {
	if limit > 0 && len(log) > limit {
		return log[:limit]
	}

	return log
}

// AppendEntry returns a new log with entry prepended, newest first. A
// duplicate leaves the log unchanged and reports false. The input slice is
// never modified.
func AppendEntry(log []models.LogEntry, entry models.LogEntry, limit int) ([]models.LogEntry, bool) {
	if entry.Message == "" && entry.Anonymous() {
		return log, false
	}
	if contains(log, entry) {
		return log, false
	}

	next := make([]models.LogEntry, 0, len(log)+1)
	next = append(next, entry)
	next = append(next, log...)

	return capLog(next, limit), true
}

// SummaryUpdate carries the fields of an event about one session. Empty
// strings are "not sent".
type SummaryUpdate struct {
	ID        int64
	Message   string
	Status    string
	Timestamp string
	User      string
}

// UpsertSummary updates the entry of the session in place (in a new
// slice) or prepends a new one built from the update with the default
// status and user.
func UpsertSummary(log []models.LogEntry, update SummaryUpdate, limit int) []models.LogEntry {
	identity := strconv.FormatInt(update.ID, 10)

	next := make([]models.LogEntry, len(log), len(log)+1)
	copy(next, log)

	if idx := indexOfIdentity(next, identity); idx >= 0 {
		entry := next[idx]
		if update.Status != "" {
			entry.Status = update.Status
		}
		if update.Message != "" {
			entry.Message = update.Message
		}
		if update.Timestamp != "" {
			entry.Timestamp = update.Timestamp
		}
		next[idx] = entry
		return next
	}

	entry := models.LogEntry{
		Identity:  identity,
		Message:   update.Message,
		Status:    update.Status,
		Timestamp: update.Timestamp,
		User:      update.User,
	}
	if entry.Status == "" {
		entry.Status = DefaultSummaryStatus
	}
	if entry.User == "" {
		entry.User = DefaultSummaryUser
	}

	next = append([]models.LogEntry{entry}, next...)

	return capLog(next, limit)
}

// MergeLogs folds fetched entries (newest first) into log. Fetched
// identity-bearing entries replace cached ones; anonymous entries are
// deduplicated.
func MergeLogs(log, fetched []models.LogEntry, limit int) []models.LogEntry {
	next := log
	for i := len(fetched) - 1; i >= 0; i-- {
		entry := fetched[i]
		if entry.Anonymous() {
			next, _ = AppendEntry(next, entry, limit)
			continue
		}

		if idx := indexOfIdentity(next, entry.Identity); idx >= 0 {
			replaced := make([]models.LogEntry, len(next))
			copy(replaced, next)
			replaced[idx] = entry
			next = replaced
			continue
		}
		next, _ = AppendEntry(next, entry, limit)
	}

	return next
}

// logEntryFrom builds an anonymous log line from an event's message.
func logEntryFrom(ev models.Event) (models.LogEntry, bool) {
	message, ok := ev.GetString(models.FieldMessage)
	if !ok || message == "" {
		return models.LogEntry{}, false
	}

	timestamp, _ := ev.GetString(models.FieldTimestamp)
	state, _ := ev.GetString(models.FieldStatus)
	user, _ := ev.GetString(models.FieldUser)

	return models.LogEntry{
		Message:   message,
		Timestamp: timestamp,
		Status:    state,
		User:      user,
	}, true
}

// summaryFrom reads the numeric session identity of an event. Migration
// ids take precedence over session ids.
func summaryFrom(ev models.Event) (SummaryUpdate, bool) {
	id, ok := ev.GetInt(models.FieldMigrationID)
	if !ok {
		id, ok = ev.GetInt(models.FieldSessionID)
	}
	if !ok {
		return SummaryUpdate{}, false
	}

	update := SummaryUpdate{ID: id}
	update.Message, _ = ev.GetString(models.FieldMessage)
	update.Status, _ = ev.GetString(models.FieldStatus)
	update.Timestamp, _ = ev.GetString(models.FieldTimestamp)
	update.User, _ = ev.GetString(models.FieldUser)

	return update, true
}
