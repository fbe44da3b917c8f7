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

package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/united-manufacturing-hub/expiremap/v2/pkg/expiremap"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/livestatus/pkg/constants"
	"github.com/united-manufacturing-hub/livestatus/pkg/logger"
	"github.com/united-manufacturing-hub/livestatus/pkg/metrics"
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

type entry struct {
	snapshot *models.Snapshot
	stale    bool
}

// MemoryStore is the in-memory Store.
//
// Observed keys (at least one Watch) live in active. Unobserved keys live
// in the expiring pool and are garbage collected after the GC time. A nil
// pool value marks a key that moved to active or was removed.
type MemoryStore struct {
	mu       sync.RWMutex
	active   map[Key]*entry
	pool     *expiremap.ExpireMap[Key, *entry]
	watchers map[Key]map[uuid.UUID]*Watch

	clock    clock.Clock
	updateID atomic.Uint64
	logger   *zap.SugaredLogger
}

// StoreOption configures a MemoryStore.
type StoreOption func(*MemoryStore)

// WithClock sets the clock used for LastUpdated.
func WithClock(clk clock.Clock) StoreOption {
	return func(s *MemoryStore) { s.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(log *zap.SugaredLogger) StoreOption {
	return func(s *MemoryStore) { s.logger = log }
}

// NewMemoryStore creates a store whose unobserved entries expire after
// gcTime. Non-positive durations fall back to the defaults.
func NewMemoryStore(gcTime, cullInterval time.Duration, opts ...StoreOption) *MemoryStore {
	if gcTime <= 0 {
		gcTime = constants.CacheGCTime
	}
	if cullInterval <= 0 {
		cullInterval = constants.CacheCullInterval
	}

	s := &MemoryStore{
		active:   make(map[Key]*entry),
		pool:     expiremap.NewEx[Key, *entry](cullInterval, gcTime),
		watchers: make(map[Key]map[uuid.UUID]*Watch),
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.For(logger.ComponentCache)
	}

	return s
}

// load returns the entry of key. Callers hold mu.
func (s *MemoryStore) load(key Key) *entry {
	if e, ok := s.active[key]; ok {
		return e
	}
	if e, ok := s.pool.Load(key); ok && *e != nil {
		return *e
	}

	return nil
}

// store writes the entry of key. Callers hold mu.
func (s *MemoryStore) store(key Key, e *entry) {
	if _, observed := s.watchers[key]; observed {
		s.active[key] = e
		return
	}
	s.pool.Set(key, e)
}

func (s *MemoryStore) Get(key Key) (*models.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.load(key)
	if e == nil {
		return nil, false
	}

	return e.snapshot, true
}

// Set applies update to the current value of key. The written snapshot is
// stamped with a new UpdateID and LastUpdated.
func (s *MemoryStore) Set(key Key, update Updater) (*models.Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var prev *models.Snapshot
	if e := s.load(key); e != nil {
		prev = e.snapshot
	}

	next := update(prev)
	if next == nil || next == prev {
		return prev, false
	}

	next.UpdateID = s.updateID.Add(1)
	next.LastUpdated = s.clock.Now()

	s.store(key, &entry{snapshot: next})
	metrics.IncCacheWrite(string(key.Kind))
	s.notify(key, Change{Key: key, Snapshot: next})

	return next, true
}

func (s *MemoryStore) Invalidate(match Matcher, opts InvalidateOptions) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()

	var invalidated []Key
	for _, key := range s.keysLocked(match) {
		e := s.load(key)
		if e == nil {
			continue
		}

		_, observed := s.watchers[key]
		if !observed && !opts.RefetchActiveOnly {
			s.pool.Set(key, nil)
			invalidated = append(invalidated, key)
			continue
		}

		s.store(key, &entry{snapshot: e.snapshot, stale: true})
		invalidated = append(invalidated, key)
		if observed {
			s.notify(key, Change{Key: key, Snapshot: e.snapshot, Stale: true})
		}
	}

	if len(invalidated) > 0 {
		s.logger.Debugf("Invalidated %d cache keys (refetchActiveOnly=%t)", len(invalidated), opts.RefetchActiveOnly)
	}

	return invalidated
}

func (s *MemoryStore) IsStale(key Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e := s.load(key)
	return e != nil && e.stale
}

func (s *MemoryStore) Keys(match Matcher) []Key {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.keysLocked(match)
}

func (s *MemoryStore) keysLocked(match Matcher) []Key {
	var keys []Key
	for key := range s.active {
		if match == nil || match(key) {
			keys = append(keys, key)
		}
	}
	s.pool.Range(func(key Key, e *entry) bool {
		if e != nil && (match == nil || match(key)) {
			keys = append(keys, key)
		}
		return true
	})

	return keys
}

// Remove drops every matched key and tells its watchers.
func (s *MemoryStore) Remove(match Matcher) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := s.keysLocked(match)
	for _, key := range keys {
		delete(s.active, key)
		s.pool.Set(key, nil)
		s.notify(key, Change{Key: key, Removed: true})
	}

	return len(keys)
}

// Len returns the number of keys with a value.
func (s *MemoryStore) Len() int {
	return len(s.Keys(nil))
}
