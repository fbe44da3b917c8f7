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

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// Fields is a partial field set as decoded from a backend payload.
// An absent key means "not sent", which is different from a zero value.
type Fields map[string]any

// Event is one decoded push frame.
type Event = Fields

// Record is one sub-entity inside a snapshot list.
type Record = Fields

// Has returns whether the key was sent, including explicit nulls.
func (f Fields) Has(key string) bool {
	_, ok := f[key]
	return ok
}

// GetString returns the value as a string. Numbers and booleans are
// formatted; null and absent values report false.
func (f Fields) GetString(key string) (string, bool) {
	value, ok := f[key]
	if !ok || value == nil {
		return "", false
	}

	switch v := value.(type) {
	case string:
		return v, true
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return fmt.Sprintf("%v", v), true
	}
}

// GetBool accepts booleans, "true"/"false" strings and numbers.
func (f Fields) GetBool(key string) (bool, bool) {
	value, ok := f[key]
	if !ok || value == nil {
		return false, false
	}

	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false
		}
		return b, true
	case float64:
		return v != 0, true
	case int:
		return v != 0, true
	case int64:
		return v != 0, true
	}

	return false, false
}

// GetInt accepts JSON numbers and numeric strings.
func (f Fields) GetInt(key string) (int64, bool) {
	value, ok := f[key]
	if !ok || value == nil {
		return 0, false
	}

	switch v := value.(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		i, err := v.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return i, err == nil
	}

	return 0, false
}

// GetObject returns a nested object.
func (f Fields) GetObject(key string) (Fields, bool) {
	value, ok := f[key]
	if !ok || value == nil {
		return nil, false
	}

	switch v := value.(type) {
	case map[string]any:
		return Fields(v), true
	case Fields:
		return v, true
	}

	return nil, false
}

// GetList returns a list of objects. Entries that are not objects are
// skipped, a list that is present but empty reports true.
func (f Fields) GetList(key string) ([]Record, bool) {
	value, ok := f[key]
	if !ok || value == nil {
		return nil, false
	}

	var raw []any
	switch v := value.(type) {
	case []any:
		raw = v
	case []map[string]any:
		raw = make([]any, 0, len(v))
		for _, item := range v {
			raw = append(raw, item)
		}
	case []Record:
		return v, true
	default:
		return nil, false
	}

	records := make([]Record, 0, len(raw))
	for _, item := range raw {
		switch obj := item.(type) {
		case map[string]any:
			records = append(records, Record(obj))
		case Fields:
			records = append(records, obj)
		}
	}

	return records, true
}

// Copy returns a shallow copy. Values are shared, the map is not.
func (f Fields) Copy() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}

	return out
}

// Identity returns the lower-cased, trimmed value of the identity field.
func (f Fields) Identity(field string) string {
	value, _ := f.GetString(field)
	return strings.ToLower(strings.TrimSpace(value))
}
