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

package sentry

import (
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
)

const debounceWindow = 2 * time.Hour

var (
	debounceMu      sync.Mutex
	shouldDebounce  = true
	errorLastSent   = time.Now().Add(-24 * time.Hour)
	warningLastSent = time.Now().Add(-24 * time.Hour)
)

// EnableTestMode disables debouncing for testing.
func EnableTestMode() {
	setDebounce(false)
}

func setDebounce(enabled bool) {
	debounceMu.Lock()
	defer debounceMu.Unlock()
	shouldDebounce = enabled
}

// allowed reports whether an event may be sent now and records the send.
func allowed(last *time.Time) bool {
	debounceMu.Lock()
	defer debounceMu.Unlock()

	if shouldDebounce && time.Since(*last) < debounceWindow {
		return false
	}
	*last = time.Now()

	return true
}

// reportFatal logs and flushes, the caller decides whether to exit.
func reportFatal(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Errorw("fatal error", "error", err, "context", context)

	sendSentryEvent(createSentryEvent(sentry.LevelFatal, err, context))
	sentry.Flush(5 * time.Second)
}

// Errors and warnings are always logged; only the sentry event is debounced.
func reportError(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Errorw(err.Error(), "context", context)

	if !allowed(&errorLastSent) {
		return
	}
	sendSentryEvent(createSentryEvent(sentry.LevelError, err, context))
}

func reportWarning(err error, log *zap.SugaredLogger, context map[string]interface{}) {
	log.Warnw(err.Error(), "context", context)

	if !allowed(&warningLastSent) {
		return
	}
	sendSentryEvent(createSentryEvent(sentry.LevelWarning, err, context))
}
