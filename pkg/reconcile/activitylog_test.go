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

package reconcile_test

import (
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/livestatus/pkg/models"
	"github.com/united-manufacturing-hub/livestatus/pkg/reconcile"
)

var _ = Describe("Activity log", func() {
	line := func(message, timestamp string) models.LogEntry {
		return models.LogEntry{Message: message, Timestamp: timestamp}
	}

	Describe("AppendEntry", func() {
		It("prepends new entries", func() {
			log, added := reconcile.AppendEntry([]models.LogEntry{line("a", "t1")}, line("b", "t2"), 10)
			Expect(added).To(BeTrue())
			Expect(log).To(Equal([]models.LogEntry{line("b", "t2"), line("a", "t1")}))
		})

		It("ignores an entry already in the log", func() {
			existing := []models.LogEntry{line("b", "t2"), line("a", "t1")}
			log, added := reconcile.AppendEntry(existing, line("a", "t1"), 10)
			Expect(added).To(BeFalse())
			Expect(log).To(Equal(existing))
		})

		It("treats the same message at another time as new", func() {
			log, added := reconcile.AppendEntry([]models.LogEntry{line("a", "t1")}, line("a", "t2"), 10)
			Expect(added).To(BeTrue())
			Expect(log).To(HaveLen(2))
		})

		It("skips empty anonymous entries", func() {
			log, added := reconcile.AppendEntry(nil, line("", "t1"), 10)
			Expect(added).To(BeFalse())
			Expect(log).To(BeEmpty())
		})

		It("does not modify the input", func() {
			existing := make([]models.LogEntry, 1, 4)
			existing[0] = line("a", "t1")

			_, _ = reconcile.AppendEntry(existing, line("b", "t2"), 10)
			Expect(existing).To(Equal([]models.LogEntry{line("a", "t1")}))
			Expect(existing[:2][1]).To(Equal(models.LogEntry{}))
		})

		It("caps the log, dropping the oldest entries", func() {
			var log []models.LogEntry
			for i := 0; i < 250; i++ {
				log, _ = reconcile.AppendEntry(log, line(fmt.Sprintf("m%d", i), "t"), 200)
			}
			Expect(log).To(HaveLen(200))
			Expect(log[0].Message).To(Equal("m249"))
			Expect(log[199].Message).To(Equal("m50"))
		})
	})

	Describe("UpsertSummary", func() {
		It("fills defaults for a new session", func() {
			log := reconcile.UpsertSummary(nil, reconcile.SummaryUpdate{ID: 5, Message: "started"}, 10)
			Expect(log).To(Equal([]models.LogEntry{{
				Identity: "5",
				Message:  "started",
				Status:   reconcile.DefaultSummaryStatus,
				User:     reconcile.DefaultSummaryUser,
			}}))
		})

		It("keeps fields the update does not carry", func() {
			log := reconcile.UpsertSummary(nil, reconcile.SummaryUpdate{ID: 5, Message: "started", User: "ana"}, 10)
			next := reconcile.UpsertSummary(log, reconcile.SummaryUpdate{ID: 5, Status: "completed"}, 10)

			Expect(next).To(HaveLen(1))
			Expect(next[0].Message).To(Equal("started"))
			Expect(next[0].User).To(Equal("ana"))
			Expect(next[0].Status).To(Equal("completed"))
			Expect(log[0].Status).To(Equal(reconcile.DefaultSummaryStatus))
		})
	})

	Describe("MergeLogs", func() {
		It("adds fetched entries in their order, without duplicates", func() {
			cached := []models.LogEntry{line("pushed", "t3"), line("a", "t1")}
			fetched := []models.LogEntry{line("c", "t4"), line("b", "t2"), line("a", "t1")}

			merged := reconcile.MergeLogs(cached, fetched, 10)
			Expect(merged).To(Equal([]models.LogEntry{
				line("c", "t4"), line("b", "t2"), line("pushed", "t3"), line("a", "t1"),
			}))
		})

		It("replaces cached summaries with the fetched ones", func() {
			cached := []models.LogEntry{{Identity: "5", Message: "started", Status: "in progress"}}
			fetched := []models.LogEntry{{Identity: "5", Message: "done", Status: "completed", User: "ana"}}

			merged := reconcile.MergeLogs(cached, fetched, 10)
			Expect(merged).To(Equal(fetched))
			Expect(cached[0].Message).To(Equal("started"))
		})
	})
})
