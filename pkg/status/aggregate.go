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

package status

import (
	"strings"

	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

// NormalizeAggregate maps a raw aggregate value onto completed, failed or
// in_progress. Values matching none of them are returned lower-cased.
func NormalizeAggregate(raw string) string {
	value := strings.ToLower(strings.TrimSpace(raw))

	switch {
	case value == "":
		return ""
	case strings.Contains(value, "fail"), strings.Contains(value, "error"):
		return models.AggregateFailed
	case strings.Contains(value, "complete"), strings.Contains(value, "success"):
		return models.AggregateCompleted
	case strings.Contains(value, "progress"), strings.Contains(value, "running"), strings.Contains(value, "start"):
		return models.AggregateInProgress
	}

	return value
}
