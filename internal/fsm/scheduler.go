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

package fsm

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Scheduler owns the named timers of one component: reconnect waits,
// tight polls, re-arm ticks and settle delays. All timers come from one
// clock so tests can drive them with clock.Mock.
//
// A callback only runs if its timer was not cancelled or replaced before it
// fired. A callback that has already started is not interrupted; owners
// that must drop late results use their own generation counter.
type Scheduler struct {
	clock clock.Clock

	mu     sync.Mutex
	seq    uint64
	timers map[string]scheduled
	closed bool
}

type scheduled struct {
	seq   uint64
	timer *clock.Timer
}

func NewScheduler(clk clock.Clock) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}

	return &Scheduler{
		clock:  clk,
		timers: make(map[string]scheduled),
	}
}

// Clock returns the underlying clock.
func (s *Scheduler) Clock() clock.Clock {
	return s.clock
}

// After runs fn once after d. A pending timer with the same name is
// replaced.
func (s *Scheduler) After(name string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if prev, ok := s.timers[name]; ok {
		prev.timer.Stop()
	}

	s.seq++
	seq := s.seq
	timer := s.clock.AfterFunc(d, func() {
		s.mu.Lock()
		current, ok := s.timers[name]
		if !ok || current.seq != seq {
			s.mu.Unlock()
			return
		}
		delete(s.timers, name)
		s.mu.Unlock()

		fn()
	})
	s.timers[name] = scheduled{seq: seq, timer: timer}
}

// Pending returns whether a timer with the given name is armed.
func (s *Scheduler) Pending(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[name]
	return ok
}

// Cancel stops the named timer.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.timers[name]; ok {
		t.timer.Stop()
		delete(s.timers, name)
	}
}

// CancelAll stops every timer. The scheduler stays usable.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for name, t := range s.timers {
		t.timer.Stop()
		delete(s.timers, name)
	}
}

// Close stops every timer and refuses new ones.
func (s *Scheduler) Close() {
	s.CancelAll()

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
