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

// Package status collapses the backend's status vocabularies (short codes,
// booleans, prose) into the canonical status set.
package status

import (
	"strings"

	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

// Input carries the three optional signals a producer may send.
// An empty string means the signal was not provided.
type Input struct {
	ExplicitState string
	StatusCode    string
	Message       string
}

// Rule is one entry of the classification table. Match reports whether the
// rule applies and, if so, the resulting status.
type Rule struct {
	Name  string
	Match func(in Input) (models.Canonical, bool)
}

// codes maps state words and single-letter codes to canonical statuses.
// Used for both the explicit state and the status code.
var codes = map[string]models.Canonical{
	"s":           models.StatusSuccess,
	"success":     models.StatusSuccess,
	"completed":   models.StatusSuccess,
	"e":           models.StatusError,
	"error":       models.StatusError,
	"failed":      models.StatusError,
	"p":           models.StatusInProgress,
	"i":           models.StatusInProgress,
	"in_progress": models.StatusInProgress,
	"running":     models.StatusInProgress,
	"w":           models.StatusWarning,
	"warning":     models.StatusWarning,
}

// explicitOnly extends codes for the explicit state.
var explicitOnly = map[string]models.Canonical{
	"paused": models.StatusPaused,
	"active": models.StatusActive,
}

var inProgressPhrases = []string{
	"drop and reload",
	"migration in progress",
	"reloading",
	"initiate",
	"initiated",
	"delta refresh",
	"schema refresh in progress",
	"update schema in progress",
}

var successPhrases = []string{
	"completed successfully",
	"updated fields",
	"table selection updated",
	"schema refresh completed",
	"schema updated",
	"update completed",
	"fetch tables completed",
}

// rules is evaluated top to bottom, the first match wins.
var rules = []Rule{
	{Name: "explicit_state", Match: matchExplicitState},
	{Name: "message_paused", Match: messageContains(models.StatusPaused, "paused")},
	{Name: "message_active", Match: messageContains(models.StatusActive, "active")},
	{Name: "status_code", Match: matchStatusCode},
	{Name: "message_failure", Match: messageContains(models.StatusError, "failed", "error")},
	{Name: "message_in_progress", Match: messageContains(models.StatusInProgress, inProgressPhrases...)},
	{Name: "message_success", Match: messageContains(models.StatusSuccess, successPhrases...)},
	{Name: "message_started", Match: messageContains(models.StatusInProgress, "processing", "started")},
}

// Classify returns the canonical status for the given signals, or
// models.StatusUnknown if no rule matches. It is pure and total.
func Classify(in Input) models.Canonical {
	return FirstMatch(rules, in)
}

// ClassifyFields reads the signals from a snapshot's scalar fields. An
// overall status takes the role of the explicit state, and a boolean
// in-progress flag stands in for it when no state word was sent.
func ClassifyFields(fields models.Fields) models.Canonical {
	var in Input

	if overall, ok := fields.GetString(models.FieldOverallStatus); ok && overall != "" {
		in.ExplicitState = NormalizeAggregate(overall)
	} else if state, ok := fields.GetString(models.FieldState); ok {
		in.ExplicitState = state
	} else if inProgress, ok := fields.GetBool(models.FieldIsInProgress); ok && inProgress {
		in.ExplicitState = string(models.StatusInProgress)
	}

	if code, ok := fields.GetString(models.FieldStatus); ok {
		in.StatusCode = code
	}
	if message, ok := fields.GetString(models.FieldMessage); ok {
		in.Message = message
	}

	return Classify(in)
}

// FirstMatch runs a rule table against in.
func FirstMatch(table []Rule, in Input) models.Canonical {
	for _, rule := range table {
		if result, ok := rule.Match(in); ok {
			return result
		}
	}

	return models.StatusUnknown
}

// Rules returns a copy of the classification table in evaluation order.
func Rules() []Rule {
	out := make([]Rule, len(rules))
	copy(out, rules)

	return out
}

func matchExplicitState(in Input) (models.Canonical, bool) {
	if in.ExplicitState == "" {
		return models.StatusUnknown, false
	}

	state := strings.ToLower(in.ExplicitState)
	if result, ok := codes[state]; ok {
		return result, true
	}
	if result, ok := explicitOnly[state]; ok {
		return result, true
	}

	// Unknown states are forwarded so they can still be shown literally.
	return models.Canonical(state), true
}

func matchStatusCode(in Input) (models.Canonical, bool) {
	if in.StatusCode == "" {
		return models.StatusUnknown, false
	}

	result, ok := codes[strings.ToLower(in.StatusCode)]

	return result, ok
}

func messageContains(result models.Canonical, phrases ...string) func(Input) (models.Canonical, bool) {
	return func(in Input) (models.Canonical, bool) {
		if in.Message == "" {
			return models.StatusUnknown, false
		}

		message := strings.ToLower(in.Message)
		for _, phrase := range phrases {
			if strings.Contains(message, phrase) {
				return result, true
			}
		}

		return models.StatusUnknown, false
	}
}
