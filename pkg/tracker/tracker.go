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

// Package tracker wires the sync engine together for one topic: it
// hydrates the cache from a snapshot, pipes push events into the
// reconciler in arrival order and optionally runs the polling fallback.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/channel"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/snapshot"
	"github.com/united-manufacturing-hub/livestatus/pkg/constants"
	"github.com/united-manufacturing-hub/livestatus/pkg/logger"
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
	"github.com/united-manufacturing-hub/livestatus/pkg/poll"
	"github.com/united-manufacturing-hub/livestatus/pkg/reconcile"
	"github.com/united-manufacturing-hub/livestatus/pkg/sentry"
)

// Subscriber opens push subscriptions. Implemented by channel.Supervisor.
type Subscriber interface {
	Subscribe(topic models.Topic) *channel.Subscription
}

// Options configure one tracked topic.
type Options struct {
	// Poll runs the polling fallback next to the push channel.
	Poll bool
}

type Tracker struct {
	subscriber Subscriber
	fetcher    snapshot.Fetcher
	reconciler *reconcile.Reconciler

	clock         clock.Clock
	tightInterval time.Duration
	rearmInterval time.Duration

	mu   sync.Mutex
	refs map[models.Topic]int

	logger *zap.SugaredLogger
}

type Option func(*Tracker)

// WithClock sets the clock of the poll coordinators.
func WithClock(clk clock.Clock) Option {
	return func(t *Tracker) { t.clock = clk }
}

func WithPollIntervals(tight, rearm time.Duration) Option {
	return func(t *Tracker) {
		t.tightInterval = tight
		t.rearmInterval = rearm
	}
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(t *Tracker) { t.logger = log }
}

func New(subscriber Subscriber, fetcher snapshot.Fetcher, reconciler *reconcile.Reconciler, opts ...Option) *Tracker {
	t := &Tracker{
		subscriber:    subscriber,
		fetcher:       fetcher,
		reconciler:    reconciler,
		clock:         clock.New(),
		tightInterval: constants.TightPollInterval,
		rearmInterval: constants.RearmInterval,
		refs:          make(map[models.Topic]int),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logger.For(logger.ComponentTracker)
	}

	return t
}

// tracking is one Track call.
type tracking struct {
	topic models.Topic

	// mu guards stopped. Every cache write of this tracking happens under
	// it so none can happen once stop returned.
	mu      sync.Mutex
	stopped bool

	sub         *channel.Subscription
	coordinator *poll.Coordinator
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

func (tr *tracking) write(fn func()) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	if !tr.stopped {
		fn()
	}
}

// Track starts following topic. The returned stop cancels everything
// before it returns; the cached keys of the topic are removed once no
// other tracking of the same topic remains. Inactive topics are a no-op.
func (t *Tracker) Track(topic models.Topic, opts Options) (stop func()) {
	if !topic.Active() {
		t.logger.Debugf("Not tracking inactive topic %s", topic)
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	tr := &tracking{topic: topic, cancel: cancel}

	t.mu.Lock()
	t.refs[topic]++
	t.mu.Unlock()

	tr.sub = t.subscriber.Subscribe(topic)
	tr.wg.Add(1)
	go t.pump(tr)

	tr.wg.Add(1)
	go t.hydrate(ctx, tr)

	if opts.Poll {
		tr.coordinator = poll.NewCoordinator(topic.Kind, t.fetcher, t.reconciler,
			poll.WithClock(t.clock),
			poll.WithIntervals(t.tightInterval, t.rearmInterval),
			poll.WithLogger(t.logger.Named(logger.ComponentPoller)))
		tr.coordinator.Start(topic.EntityID, true)
	}

	t.logger.Infof("Tracking %s (poll=%t, push=%t)", topic, opts.Poll, tr.sub.Active())

	var once sync.Once
	return func() {
		once.Do(func() { t.untrack(tr) })
	}
}

func (t *Tracker) untrack(tr *tracking) {
	tr.mu.Lock()
	tr.stopped = true
	tr.mu.Unlock()

	tr.sub.Unsubscribe()
	if tr.coordinator != nil {
		tr.coordinator.Close()
	}
	tr.cancel()
	tr.wg.Wait()

	t.mu.Lock()
	t.refs[tr.topic]--
	last := t.refs[tr.topic] <= 0
	if last {
		delete(t.refs, tr.topic)
	}
	t.mu.Unlock()

	if last {
		t.reconciler.Clear(tr.topic)
	}
	t.logger.Infof("Stopped tracking %s", tr.topic)
}

// hydrate fetches the initial snapshot once.
func (t *Tracker) hydrate(ctx context.Context, tr *tracking) {
	defer tr.wg.Done()

	snap, err := t.fetcher.Fetch(ctx, tr.topic)
	if err != nil {
		if ctx.Err() == nil {
			sentry.ReportTopicWarningf(t.logger, tr.topic, "hydrate", "initial snapshot fetch failed: %v", err)
		}
		return
	}

	tr.write(func() {
		t.reconciler.ApplySnapshot(tr.topic.Kind, tr.topic.EntityID, snap)
	})
}

// pump applies push events in arrival order until the subscription ends.
func (t *Tracker) pump(tr *tracking) {
	defer tr.wg.Done()

	events, errs := tr.sub.Events(), tr.sub.Errors()
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			tr.write(func() {
				t.reconciler.Reconcile(tr.topic.Kind, tr.topic.EntityID, ev)
			})
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			t.logger.Warnf("Push channel of %s failed, relying on snapshots: %v", tr.topic, err)
		}
	}
}
