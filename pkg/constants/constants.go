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

package constants

import "time"

const (
	// DefaultAppVersion is the version reported by builds without ldflags.
	DefaultAppVersion = "0.0.0-dev"

	DefaultDevelopmentEnvironment = "development"
	DefaultProductionEnvironment  = "production"
)

// Connection supervisor
const (
	// ReconnectInterval is the fixed wait between reconnect attempts.
	ReconnectInterval = 3 * time.Second
	// MaxReconnectAttempts bounds reconnects after an unexpected close.
	// The counter is reset after every successful open.
	MaxReconnectAttempts = 10
	// SubscriberBufferSize is the per-subscriber event buffer. Slow readers
	// that fill it lose the oldest pending event, never the channel.
	SubscriberBufferSize = 64
	// WebsocketReadLimit caps a single frame.
	WebsocketReadLimit = 1 << 20
)

// Poll coordinator
const (
	// TightPollInterval is the refetch interval while a job is in progress.
	TightPollInterval = 2 * time.Second
	// RearmInterval is the slow idle check for missed transitions.
	RearmInterval = 10 * time.Second
)

// Reconciler
const (
	// SettleDelay is the wait after a job leaves in-progress before dependent
	// views are invalidated.
	SettleDelay = 500 * time.Millisecond
	// MaxLogEntries caps every cached activity log, oldest dropped first.
	MaxLogEntries = 200
)

// Cache
const (
	// CacheGCTime is how long an unobserved cache entry is kept.
	CacheGCTime = 5 * time.Minute
	// CacheCullInterval is how often expired entries are culled.
	CacheCullInterval = 30 * time.Second
)

// Snapshot fetch
const (
	// FetchTimeout bounds one snapshot request.
	FetchTimeout = 30 * time.Second
)
