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

// Package poll is the polling fallback of the push channel. It catches
// job progress the channel missed by fetching snapshots on a slow re-arm
// tick, and refetches quickly while a job is in progress.
package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lfsm "github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/livestatus/internal/fsm"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/snapshot"
	"github.com/united-manufacturing-hub/livestatus/pkg/constants"
	"github.com/united-manufacturing-hub/livestatus/pkg/logger"
	"github.com/united-manufacturing-hub/livestatus/pkg/metrics"
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
	"github.com/united-manufacturing-hub/livestatus/pkg/reconcile"
	"github.com/united-manufacturing-hub/livestatus/pkg/sentry"
	"github.com/united-manufacturing-hub/livestatus/pkg/status"
)

// Coordinator states.
const (
	StateIdle         = "idle"
	StateChecking     = "checking"
	StateTightPolling = "tight_polling"
)

// Coordinator events.
const (
	EventCheck  = "check"
	EventBusy   = "busy"
	EventSettle = "settle"
	EventStop   = "stop"
)

var transitions = []lfsm.EventDesc{
	{Name: EventCheck, Src: []string{StateIdle}, Dst: StateChecking},
	{Name: EventBusy, Src: []string{StateChecking, StateTightPolling}, Dst: StateTightPolling},
	{Name: EventSettle, Src: []string{StateChecking, StateTightPolling}, Dst: StateIdle},
	{Name: EventStop, Src: []string{StateIdle, StateChecking, StateTightPolling}, Dst: StateIdle},
}

const (
	timerTight = "tight"
	timerRearm = "rearm"
)

// Coordinator polls the snapshot of one topic kind for the entity it was
// started with. Results are written through the reconciler as soon as
// they arrive.
type Coordinator struct {
	kind       models.Kind
	fetcher    snapshot.Fetcher
	reconciler *reconcile.Reconciler
	scheduler  *fsm.Scheduler
	machine    *fsm.Machine

	tightInterval time.Duration
	rearmInterval time.Duration

	// ctx bounds in-flight fetches. It is only cancelled by Close, so a
	// fetch of a cancelled run completes and its result is discarded.
	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	entityID   int64
	enabled    bool
	generation uint64
	inFlight   int

	logger *zap.SugaredLogger
}

type Option func(*Coordinator)

func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) { c.scheduler = fsm.NewScheduler(clk) }
}

// WithIntervals overrides the tight poll and re-arm intervals.
func WithIntervals(tight, rearm time.Duration) Option {
	return func(c *Coordinator) {
		if tight > 0 {
			c.tightInterval = tight
		}
		if rearm > 0 {
			c.rearmInterval = rearm
		}
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Coordinator) { c.logger = log }
}

func NewCoordinator(kind models.Kind, fetcher snapshot.Fetcher, reconciler *reconcile.Reconciler, opts ...Option) *Coordinator {
	c := &Coordinator{
		kind:          kind,
		fetcher:       fetcher,
		reconciler:    reconciler,
		tightInterval: constants.TightPollInterval,
		rearmInterval: constants.RearmInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.scheduler == nil {
		c.scheduler = fsm.NewScheduler(clock.New())
	}
	if c.logger == nil {
		c.logger = logger.For(logger.ComponentPoller)
	}
	c.logger = c.logger.With("kind", string(kind))
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.machine = fsm.NewMachine(fsm.MachineConfig{
		ID:           "poll:" + string(kind),
		InitialState: StateIdle,
		Transitions:  transitions,
	}, c.logger)

	return c
}

// Start (re)configures the coordinator. Calling it with the current entity
// and flag is a no-op. Any change cancels the running cycle; a change of
// entity also clears the previous entity's cached status.
func (c *Coordinator) Start(entityID int64, enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation > 0 && entityID == c.entityID && enabled == c.enabled {
		return
	}

	previous := models.NewTopic(c.kind, c.entityID)
	entityChanged := c.generation > 0 && entityID != c.entityID

	c.resetLocked()
	c.entityID = entityID
	c.enabled = enabled

	if entityChanged && previous.Active() {
		c.logger.Debugf("Entity changed from %d to %d, clearing %s", previous.EntityID, entityID, previous)
		c.reconciler.Clear(previous)
	}

	topic := c.topic()
	if !enabled || !topic.Active() {
		c.logger.Debugf("Polling of %s disabled", topic)
		return
	}

	c.logger.Debugf("Polling %s", topic)
	c.scheduleRearmLocked(c.generation)
	c.checkLocked(c.generation)
}

// Stop cancels every timer and discards in-flight results. The cached
// status is kept.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.resetLocked()
	c.enabled = false
}

// Close stops the coordinator for good and cancels in-flight fetches.
func (c *Coordinator) Close() {
	c.Stop()
	c.scheduler.Close()
	c.cancel()
}

// State returns the current state.
func (c *Coordinator) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.machine.Current()
}

// InFlight returns the number of fetches that have not returned yet,
// including those whose result will be discarded.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.inFlight
}

func (c *Coordinator) topic() models.Topic {
	return models.NewTopic(c.kind, c.entityID)
}

// resetLocked starts a new generation. Callers hold mu.
func (c *Coordinator) resetLocked() {
	c.generation++
	c.scheduler.CancelAll()
	_ = c.machine.SendEvent(c.ctx, EventStop)
}

// scheduleRearmLocked arms the slow tick. It only checks while idle and
// re-arms itself for as long as its generation is current.
func (c *Coordinator) scheduleRearmLocked(gen uint64) {
	c.scheduler.After(timerRearm, c.rearmInterval, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if gen != c.generation || !c.enabled {
			return
		}
		if c.machine.Is(StateIdle) {
			c.checkLocked(gen)
		}
		c.scheduleRearmLocked(gen)
	})
}

// checkLocked moves from idle to checking and fetches once.
func (c *Coordinator) checkLocked(gen uint64) {
	if err := c.machine.SendEvent(c.ctx, EventCheck); err != nil {
		c.logger.Debugf("Not checking %s: %v", c.topic(), err)
		return
	}
	c.fetchLocked(gen)
}

func (c *Coordinator) fetchLocked(gen uint64) {
	topic := c.topic()
	c.inFlight++

	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, constants.FetchTimeout)
		defer cancel()

		snap, err := c.fetcher.Fetch(ctx, topic)
		c.handleResult(gen, topic, snap, err)
	}()
}

func (c *Coordinator) handleResult(gen uint64, topic models.Topic, snap *models.Snapshot, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inFlight--

	if gen != c.generation {
		metrics.RecordPoll(string(c.kind), metrics.PollDiscarded)
		c.logger.Debugf("Discarding poll result of %s from a cancelled run", topic)
		return
	}

	if err != nil {
		metrics.RecordPoll(string(c.kind), metrics.PollFailed)
		sentry.ReportTopicWarningf(c.logger, topic, "poll", "snapshot fetch failed: %v", err)
		_ = c.machine.SendEvent(c.ctx, EventSettle)
		return
	}
	if snap == nil {
		snap = models.NewSnapshot()
	}

	c.reconciler.ApplySnapshot(topic.Kind, topic.EntityID, snap)

	if !reportsInProgress(snap) {
		metrics.RecordPoll(string(c.kind), metrics.PollIdle)
		_ = c.machine.SendEvent(c.ctx, EventSettle)
		return
	}

	metrics.RecordPoll(string(c.kind), metrics.PollInProgress)
	if err := c.machine.SendEvent(c.ctx, EventBusy); err != nil {
		c.logger.Warnf("Unexpected poll state for %s: %v", topic, err)
		return
	}
	c.scheduler.After(timerTight, c.tightInterval, func() {
		c.mu.Lock()
		defer c.mu.Unlock()

		if gen != c.generation || !c.machine.Is(StateTightPolling) {
			return
		}
		c.fetchLocked(gen)
	})
}

// reportsInProgress reads the job state of a fetched snapshot: the boolean
// flag if sent, else the classified status fields.
func reportsInProgress(snap *models.Snapshot) bool {
	if inProgress, ok := snap.Fields.GetBool(models.FieldIsInProgress); ok {
		return inProgress
	}

	return status.ClassifyFields(snap.Fields) == models.StatusInProgress
}

func (c *Coordinator) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return fmt.Sprintf("poll(%s, enabled=%t, state=%s)", c.topic(), c.enabled, c.machine.Current())
}
