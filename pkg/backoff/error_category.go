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

package backoff

import "errors"

// ErrorCategory classifies an error by how the sync engine reacts to it.
// None of the categories are fatal to the process.
type ErrorCategory int

const (
	// CategoryTransport covers channel open and close failures. They are
	// recovered locally by the reconnect policy.
	CategoryTransport ErrorCategory = iota

	// CategoryDecode marks a malformed push frame. The frame is dropped and
	// the subscription stays healthy.
	CategoryDecode

	// CategoryFetch marks a failed snapshot request. It aborts the current
	// poll cycle only; the next scheduled check retries.
	CategoryFetch

	// CategoryMergeTargetMissing marks an event about a sub-entity the cache
	// does not know yet. It is dropped silently.
	CategoryMergeTargetMissing
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryTransport:
		return "transport"
	case CategoryDecode:
		return "decode"
	case CategoryFetch:
		return "fetch"
	case CategoryMergeTargetMissing:
		return "merge_target_missing"
	}

	return "unknown"
}

// CategorizedError is a wrapper that includes the underlying error plus a Category.
type CategorizedError struct {
	Err      error
	Category ErrorCategory
}

// Error returns the original error message.
func (ce *CategorizedError) Error() string {
	return ce.Err.Error()
}

// Unwrap returns the underlying wrapped error.
func (ce *CategorizedError) Unwrap() error {
	return ce.Err
}

// IsCategory checks if the CategorizedError has the specified category.
func (ce *CategorizedError) IsCategory(category ErrorCategory) bool {
	return ce.Category == category
}

func NewTransportError(err error) error {
	return wrap(err, CategoryTransport)
}

func NewDecodeError(err error) error {
	return wrap(err, CategoryDecode)
}

func NewFetchError(err error) error {
	return wrap(err, CategoryFetch)
}

func NewMergeTargetMissingError(err error) error {
	return wrap(err, CategoryMergeTargetMissing)
}

// CategoryOf returns the category of err. Uncategorized errors count as
// transport errors.
func CategoryOf(err error) (ErrorCategory, bool) {
	if err == nil {
		return 0, false
	}

	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category, true
	}

	return CategoryTransport, true
}

// IsTransportError is a convenience checker for CategoryTransport.
func IsTransportError(err error) bool {
	return is(err, CategoryTransport)
}

// IsDecodeError is a convenience checker for CategoryDecode.
func IsDecodeError(err error) bool {
	return is(err, CategoryDecode)
}

// IsFetchError is a convenience checker for CategoryFetch.
func IsFetchError(err error) bool {
	return is(err, CategoryFetch)
}

// IsMergeTargetMissingError is a convenience checker for CategoryMergeTargetMissing.
func IsMergeTargetMissingError(err error) bool {
	return is(err, CategoryMergeTargetMissing)
}

func wrap(err error, category ErrorCategory) error {
	if err == nil {
		return nil
	}

	return &CategorizedError{Err: err, Category: category}
}

func is(err error, category ErrorCategory) bool {
	var ce *CategorizedError
	return errors.As(err, &ce) && ce.IsCategory(category)
}
