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

// Package reconcile merges push events and fetched snapshots into the
// cache store, one merge strategy per topic kind.
package reconcile

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/livestatus/internal/fsm"
	"github.com/united-manufacturing-hub/livestatus/pkg/backoff"
	"github.com/united-manufacturing-hub/livestatus/pkg/cache"
	"github.com/united-manufacturing-hub/livestatus/pkg/constants"
	"github.com/united-manufacturing-hub/livestatus/pkg/logger"
	"github.com/united-manufacturing-hub/livestatus/pkg/metrics"
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
	"github.com/united-manufacturing-hub/livestatus/pkg/sentry"
	"github.com/united-manufacturing-hub/livestatus/pkg/status"
)

// Reconciler applies incoming events and fetched snapshots to the store.
// It never panics and never returns errors to its callers: malformed
// events are merged best-effort and failures are logged and reported.
type Reconciler struct {
	store       cache.Store
	strategies  map[models.Kind]Strategy
	scheduler   *fsm.Scheduler
	settleDelay time.Duration
	logger      *zap.SugaredLogger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithClock sets the clock of the settle timers.
func WithClock(clk clock.Clock) Option {
	return func(r *Reconciler) { r.scheduler = fsm.NewScheduler(clk) }
}

func WithSettleDelay(d time.Duration) Option {
	return func(r *Reconciler) { r.settleDelay = d }
}

// WithStrategies replaces the strategy registry.
func WithStrategies(strategies map[models.Kind]Strategy) Option {
	return func(r *Reconciler) { r.strategies = strategies }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(r *Reconciler) { r.logger = log }
}

func New(store cache.Store, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:       store,
		strategies:  DefaultStrategies(constants.MaxLogEntries),
		settleDelay: constants.SettleDelay,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.scheduler == nil {
		r.scheduler = fsm.NewScheduler(clock.New())
	}
	if r.logger == nil {
		r.logger = logger.For(logger.ComponentReconciler)
	}

	return r
}

// Store returns the store the reconciler writes to.
func (r *Reconciler) Store() cache.Store {
	return r.store
}

// Reconcile merges one decoded push event into the cache.
func (r *Reconciler) Reconcile(kind models.Kind, entityID int64, incoming models.Event) {
	topic := models.NewTopic(kind, entityID)
	defer r.recoverPanic(topic, "reconcile")

	if !topic.Active() {
		r.logger.Debugf("Ignoring event for inactive topic %s", topic)
		return
	}

	strategy, ok := r.strategies[kind]
	if !ok {
		r.logger.Debugf("No merge strategy for topic %s", topic)
		return
	}

	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(strategy.Name(), time.Since(start))
	}()

	ev := unwrap(incoming)

	keys := []cache.Key{cache.TopicKey(topic)}
	if targeter, ok := strategy.(Targeter); ok {
		keys = targeter.Targets(r.store, topic)
	}

	for _, key := range keys {
		r.write(topic, key, strategy, func(prev *models.Snapshot) (*models.Snapshot, error) {
			return strategy.Merge(prev, ev)
		})
	}
}

// ApplySnapshot folds a fetched snapshot into the topic's key. Used for
// hydration and poll results.
func (r *Reconciler) ApplySnapshot(kind models.Kind, entityID int64, fetched *models.Snapshot) {
	topic := models.NewTopic(kind, entityID)
	defer r.recoverPanic(topic, "apply_snapshot")

	if !topic.Active() || fetched == nil {
		return
	}

	strategy, ok := r.strategies[kind]
	if !ok {
		r.logger.Debugf("No merge strategy for topic %s", topic)
		return
	}

	start := time.Now()
	defer func() {
		metrics.ObserveReconcileTime(strategy.Name(), time.Since(start))
	}()

	r.write(topic, cache.TopicKey(topic), strategy, func(prev *models.Snapshot) (*models.Snapshot, error) {
		return strategy.Hydrate(prev, fetched), nil
	})
}

func (r *Reconciler) write(topic models.Topic, key cache.Key, strategy Strategy, merge func(prev *models.Snapshot) (*models.Snapshot, error)) {
	var (
		before   *models.Snapshot
		mergeErr error
	)

	after, written := r.store.Set(key, func(prev *models.Snapshot) *models.Snapshot {
		before = prev
		next, err := merge(prev)
		mergeErr = err
		if err != nil && !backoff.IsMergeTargetMissingError(err) {
			return nil
		}
		if next == nil {
			return nil
		}
		next.Fields[models.FieldCanonicalStatus] = string(status.ClassifyFields(next.Fields))
		return next
	})

	switch {
	case mergeErr == nil:
	case backoff.IsMergeTargetMissingError(mergeErr):
		r.logger.Debugf("Dropping sub-entity update for %s: %v", key, mergeErr)
		metrics.IncDroppedEvent(string(topic.Kind), backoff.CategoryMergeTargetMissing.String())
	default:
		metrics.IncDroppedEvent(string(topic.Kind), "merge_failed")
		sentry.ReportTopicError(r.logger, topic, strategy.Name(), mergeErr)
		return
	}

	if !written {
		return
	}

	if afterWriter, ok := strategy.(AfterWriter); ok && key == cache.TopicKey(topic) {
		afterWriter.AfterWrite(r, topic, before, after)
	}
}

// scheduleSettle invalidates the dependent views of topic's entity after
// the settle delay. A pending settle for the same topic is replaced.
func (r *Reconciler) scheduleSettle(topic models.Topic, dependents []models.Kind) {
	r.logger.Debugf("Job %s finished, invalidating dependent views in %s", topic, r.settleDelay)

	r.scheduler.After(settleTimer(topic), r.settleDelay, func() {
		keys := r.store.Invalidate(cache.MatchKinds(topic.EntityID, dependents...), cache.InvalidateOptions{})
		r.logger.Debugf("Invalidated %d dependent views of %s", len(keys), topic)
	})
}

// SettlePending returns whether a settle invalidation is scheduled for topic.
func (r *Reconciler) SettlePending(topic models.Topic) bool {
	return r.scheduler.Pending(settleTimer(topic))
}

// Clear cancels pending work for topic and drops every cached variant of
// it. Used when the tracked entity changes.
func (r *Reconciler) Clear(topic models.Topic) {
	r.scheduler.Cancel(settleTimer(topic))
	if n := r.store.Remove(cache.MatchEntity(topic.Kind, topic.EntityID)); n > 0 {
		r.logger.Debugf("Cleared %d cache keys of %s", n, topic)
	}
}

// Close cancels all pending settle timers.
func (r *Reconciler) Close() {
	r.scheduler.Close()
}

func (r *Reconciler) recoverPanic(topic models.Topic, operation string) {
	if rec := recover(); rec != nil {
		sentry.ReportTopicError(r.logger, topic, operation, fmt.Errorf("recovered from panic: %v", rec))
	}
}

func settleTimer(topic models.Topic) string {
	return "settle:" + topic.String()
}
