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

// LogEntry is one line of a job's activity log.
type LogEntry struct {
	// Identity is the session or migration id when known. Entries without
	// one are anonymous and deduplicated by (Message, Timestamp).
	Identity  string `json:"identity,omitempty"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Status    string `json:"status,omitempty"`
	User      string `json:"user,omitempty"`
}

// Anonymous returns whether the entry has no identity.
func (l LogEntry) Anonymous() bool {
	return l.Identity == ""
}
