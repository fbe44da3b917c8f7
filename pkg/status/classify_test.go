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

package status_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/livestatus/pkg/models"
	"github.com/united-manufacturing-hub/livestatus/pkg/status"
)

var _ = Describe("Classify", func() {
	Context("precedence", func() {
		It("lets the explicit state win over code and message", func() {
			Expect(status.Classify(status.Input{ExplicitState: "S", StatusCode: "failed", Message: "error occurred"})).
				To(Equal(models.StatusSuccess))
		})

		It("lets a message phrase beat the status code", func() {
			Expect(status.Classify(status.Input{StatusCode: "S", Message: "this job paused"})).
				To(Equal(models.StatusPaused))
		})

		It("falls back to the status code without a special phrase", func() {
			Expect(status.Classify(status.Input{StatusCode: "S", Message: "no special phrase"})).
				To(Equal(models.StatusSuccess))
		})

		It("checks failure before in-progress phrases", func() {
			Expect(status.Classify(status.Input{Message: "Drop and reload failed"})).
				To(Equal(models.StatusError))
		})

		It("checks in-progress phrases before success phrases", func() {
			Expect(status.Classify(status.Input{Message: "Delta refresh initiated, update completed soon"})).
				To(Equal(models.StatusInProgress))
		})

		It("checks paused before active", func() {
			Expect(status.Classify(status.Input{Message: "active sync paused"})).
				To(Equal(models.StatusPaused))
		})
	})

	DescribeTable("explicit state dictionary",
		func(state string, expected models.Canonical) {
			Expect(status.Classify(status.Input{ExplicitState: state})).To(Equal(expected))
		},
		Entry("s", "s", models.StatusSuccess),
		Entry("Completed", "Completed", models.StatusSuccess),
		Entry("E", "E", models.StatusError),
		Entry("failed", "failed", models.StatusError),
		Entry("p", "p", models.StatusInProgress),
		Entry("I", "I", models.StatusInProgress),
		Entry("RUNNING", "RUNNING", models.StatusInProgress),
		Entry("w", "w", models.StatusWarning),
		Entry("paused", "Paused", models.StatusPaused),
		Entry("active", "active", models.StatusActive),
		Entry("unknown values pass through lower-cased", "Queued", models.Canonical("queued")),
	)

	DescribeTable("status code dictionary",
		func(code string, expected models.Canonical) {
			Expect(status.Classify(status.Input{StatusCode: code})).To(Equal(expected))
		},
		Entry("S", "S", models.StatusSuccess),
		Entry("e", "e", models.StatusError),
		Entry("in_progress", "in_progress", models.StatusInProgress),
		Entry("warning", "WARNING", models.StatusWarning),
		Entry("paused is explicit-only", "paused", models.StatusUnknown),
		Entry("unknown code", "x", models.StatusUnknown),
	)

	DescribeTable("message phrases",
		func(message string, expected models.Canonical) {
			Expect(status.Classify(status.Input{Message: message})).To(Equal(expected))
		},
		Entry("schema refresh in progress", "Schema refresh in progress", models.StatusInProgress),
		Entry("reloading", "Reloading table orders", models.StatusInProgress),
		Entry("completed successfully", "Migration completed successfully", models.StatusSuccess),
		Entry("fetch tables completed", "Fetch tables completed", models.StatusSuccess),
		Entry("processing", "Processing batch 3", models.StatusInProgress),
		Entry("started", "Job started", models.StatusInProgress),
		Entry("error", "An error happened", models.StatusError),
		Entry("nothing", "hello", models.StatusUnknown),
	)

	It("returns the unknown sentinel without input", func() {
		Expect(status.Classify(status.Input{})).To(Equal(models.StatusUnknown))
	})

	It("is deterministic", func() {
		inputs := []status.Input{
			{},
			{ExplicitState: "S", StatusCode: "failed", Message: "error occurred"},
			{StatusCode: "S", Message: "this job paused"},
			{Message: "drop and reload started"},
			{ExplicitState: "mystery"},
		}
		for _, in := range inputs {
			first := status.Classify(in)
			for i := 0; i < 20; i++ {
				Expect(status.Classify(in)).To(Equal(first))
			}
		}
	})
})

var _ = Describe("Rules", func() {
	It("lists the rules in evaluation order", func() {
		names := []string{}
		for _, rule := range status.Rules() {
			names = append(names, rule.Name)
		}
		Expect(names).To(Equal([]string{
			"explicit_state",
			"message_paused",
			"message_active",
			"status_code",
			"message_failure",
			"message_in_progress",
			"message_success",
			"message_started",
		}))
	})

	It("returns a copy", func() {
		table := status.Rules()
		table[0] = status.Rule{Name: "replaced", Match: func(status.Input) (models.Canonical, bool) {
			return models.StatusWarning, true
		}}
		Expect(status.Classify(status.Input{})).To(Equal(models.StatusUnknown))
		Expect(status.FirstMatch(table, status.Input{})).To(Equal(models.StatusWarning))
	})

	It("lets each rule be exercised on its own", func() {
		table := status.Rules()
		match, ok := table[3].Match(status.Input{StatusCode: "E"})
		Expect(ok).To(BeTrue())
		Expect(match).To(Equal(models.StatusError))

		_, ok = table[3].Match(status.Input{StatusCode: "zzz"})
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("ClassifyFields", func() {
	It("uses the aggregate as explicit state", func() {
		Expect(status.ClassifyFields(models.Fields{"overall_status": "FAILED", "message": "all good"})).
			To(Equal(models.StatusError))
	})

	It("uses the in-progress flag", func() {
		Expect(status.ClassifyFields(models.Fields{"is_in_progress": true})).To(Equal(models.StatusInProgress))
	})

	It("falls through to code and message", func() {
		Expect(status.ClassifyFields(models.Fields{"is_in_progress": false, "status": "S"})).To(Equal(models.StatusSuccess))
	})
})

var _ = DescribeTable("NormalizeAggregate",
	func(raw, expected string) {
		Expect(status.NormalizeAggregate(raw)).To(Equal(expected))
	},
	Entry("failed", "Failed", "failed"),
	Entry("error", "error", "failed"),
	Entry("completed", "COMPLETED", "completed"),
	Entry("success", "success", "completed"),
	Entry("in progress", "In Progress", "in_progress"),
	Entry("running", "running", "in_progress"),
	Entry("started", "started", "in_progress"),
	Entry("other", "Queued", "queued"),
	Entry("empty", "  ", ""),
)
