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

package models_test

import (
	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

var _ = Describe("Topic", func() {
	DescribeTable("Active",
		func(kind models.Kind, id int64, expected bool) {
			Expect(models.NewTopic(kind, id).Active()).To(Equal(expected))
		},
		Entry("positive id", models.KindSchemaStatus, int64(42), true),
		Entry("zero id", models.KindSchemaStatus, int64(0), false),
		Entry("negative id", models.KindMigrationStatus, int64(-1), false),
		Entry("dependent view", models.KindTables, int64(42), false),
	)

	It("round-trips through its string form", func() {
		topic := models.NewTopic(models.KindMigrationStatus, 77)
		Expect(topic.String()).To(Equal("migration-status:77"))

		parsed, err := models.ParseTopic(topic.String())
		Expect(err).NotTo(HaveOccurred())
		Expect(parsed).To(Equal(topic))
	})

	DescribeTable("rejects malformed topics",
		func(value string) {
			_, err := models.ParseTopic(value)
			Expect(err).To(HaveOccurred())
		},
		Entry("no separator", "schema-status"),
		Entry("unknown kind", "orders:1"),
		Entry("invalid id", "schema-status:abc"),
		Entry("leading separator", ":1"),
	)
})

var _ = Describe("Fields", func() {
	var fields models.Fields

	BeforeEach(func() {
		Expect(json.Unmarshal([]byte(`{
			"table_name": " Orders ",
			"count": 5,
			"flag": "true",
			"missing": null,
			"id": "12",
			"data": {"a": 1},
			"tables": [{"table_name": "A"}, "junk", {"table_name": "B"}]
		}`), &fields)).To(Succeed())
	})

	It("distinguishes absent from null", func() {
		Expect(fields.Has("missing")).To(BeTrue())
		Expect(fields.Has("absent")).To(BeFalse())

		_, ok := fields.GetString("missing")
		Expect(ok).To(BeFalse())
	})

	It("coerces scalar values", func() {
		count, ok := fields.GetInt("count")
		Expect(ok).To(BeTrue())
		Expect(count).To(BeEquivalentTo(5))

		id, ok := fields.GetInt("id")
		Expect(ok).To(BeTrue())
		Expect(id).To(BeEquivalentTo(12))

		flag, ok := fields.GetBool("flag")
		Expect(ok).To(BeTrue())
		Expect(flag).To(BeTrue())

		text, ok := fields.GetString("count")
		Expect(ok).To(BeTrue())
		Expect(text).To(Equal("5"))
	})

	It("reads nested objects and lists", func() {
		data, ok := fields.GetObject("data")
		Expect(ok).To(BeTrue())
		Expect(data).To(HaveKey("a"))

		tables, ok := fields.GetList("tables")
		Expect(ok).To(BeTrue())
		Expect(tables).To(HaveLen(2))

		_, ok = fields.GetList("count")
		Expect(ok).To(BeFalse())
	})

	It("normalizes identities", func() {
		Expect(fields.Identity("table_name")).To(Equal("orders"))
		Expect(fields.Identity("absent")).To(BeEmpty())
	})
})

var _ = Describe("Snapshot", func() {
	It("clones into an independent value", func() {
		original := &models.Snapshot{
			Fields: models.Fields{"nested": map[string]any{"a": 1}},
			Items:  []models.Record{{"table_name": "orders"}},
			Log:    []models.LogEntry{{Message: "hello"}},
		}

		clone := original.Clone()
		clone.Fields["extra"] = true
		clone.Items[0]["status"] = "failed"
		clone.Log[0].Message = "changed"

		Expect(original.Fields).NotTo(HaveKey("extra"))
		Expect(original.Items[0]).NotTo(HaveKey("status"))
		Expect(original.Log[0].Message).To(Equal("hello"))
	})

	It("clones nil into an empty snapshot", func() {
		var snap *models.Snapshot
		clone := snap.Clone()
		Expect(clone).NotTo(BeNil())
		Expect(clone.Fields).NotTo(BeNil())
	})

	It("finds items case-insensitively", func() {
		snap := &models.Snapshot{Items: []models.Record{{"table_name": "A"}, {"table_name": "Orders"}}}
		Expect(snap.FindItem("table_name", "orders")).To(Equal(1))
		Expect(snap.FindItem("table_name", "ghost")).To(Equal(-1))
	})

	It("prefers the boolean flag for InProgress", func() {
		snap := &models.Snapshot{Fields: models.Fields{
			models.FieldIsInProgress:    false,
			models.FieldCanonicalStatus: string(models.StatusInProgress),
		}}
		Expect(snap.InProgress()).To(BeFalse())

		delete(snap.Fields, models.FieldIsInProgress)
		Expect(snap.InProgress()).To(BeTrue())
	})
})
