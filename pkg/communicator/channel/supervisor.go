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

// Package channel supervises the push channels of tracked topics. Logical
// subscribers of the same topic share one websocket connection that is
// reconnected with a bounded constant backoff.
package channel

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/livestatus/internal/fsm"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/auth"
	"github.com/united-manufacturing-hub/livestatus/pkg/constants"
	"github.com/united-manufacturing-hub/livestatus/pkg/logger"
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

// Supervisor owns one physical channel per subscribed topic.
type Supervisor struct {
	baseURL string
	tokens  auth.TokenSource
	dialer  *websocket.Dialer

	scheduler         *fsm.Scheduler
	reconnectInterval time.Duration
	maxAttempts       uint64
	bufferSize        int
	readLimit         int64

	// mu protects channels. Lock order: Supervisor.mu, then channel.mu.
	mu       sync.Mutex
	channels map[models.Topic]*physicalChannel

	logger *zap.SugaredLogger
}

type Option func(*Supervisor)

// WithClock sets the clock reconnect waits are measured on.
func WithClock(clk clock.Clock) Option {
	return func(s *Supervisor) { s.scheduler = fsm.NewScheduler(clk) }
}

func WithDialer(dialer *websocket.Dialer) Option {
	return func(s *Supervisor) { s.dialer = dialer }
}

// WithReconnect overrides the reconnect interval and attempt budget.
func WithReconnect(interval time.Duration, maxAttempts uint64) Option {
	return func(s *Supervisor) {
		s.reconnectInterval = interval
		s.maxAttempts = maxAttempts
	}
}

// WithBufferSize sets the per-subscriber event buffer.
func WithBufferSize(size int) Option {
	return func(s *Supervisor) { s.bufferSize = size }
}

func WithReadLimit(limit int64) Option {
	return func(s *Supervisor) { s.readLimit = limit }
}

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Supervisor) { s.logger = log }
}

// NewSupervisor creates a supervisor that dials baseURL (ws:// or wss://).
func NewSupervisor(baseURL string, tokens auth.TokenSource, opts ...Option) *Supervisor {
	s := &Supervisor{
		baseURL:           strings.TrimSuffix(baseURL, "/"),
		tokens:            tokens,
		dialer:            websocket.DefaultDialer,
		reconnectInterval: constants.ReconnectInterval,
		maxAttempts:       constants.MaxReconnectAttempts,
		bufferSize:        constants.SubscriberBufferSize,
		readLimit:         constants.WebsocketReadLimit,
		channels:          make(map[models.Topic]*physicalChannel),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tokens == nil {
		s.tokens = auth.StaticToken("")
	}
	if s.scheduler == nil {
		s.scheduler = fsm.NewScheduler(clock.New())
	}
	if s.bufferSize <= 0 {
		s.bufferSize = constants.SubscriberBufferSize
	}
	if s.logger == nil {
		s.logger = logger.For(logger.ComponentSupervisor)
	}

	return s
}

// Address returns the channel address of topic for token.
func (s *Supervisor) Address(topic models.Topic, token string) string {
	return fmt.Sprintf("%s/ws/%s/%d?token=%s", s.baseURL, topic.Kind, topic.EntityID, url.QueryEscape(token))
}

// Subscribe returns a stream of the decoded events of topic. Without a
// token, or for an inactive topic, no connection is attempted and the
// returned subscription is a no-op whose streams are already closed.
func (s *Supervisor) Subscribe(topic models.Topic) *Subscription {
	if !topic.Active() {
		s.logger.Debugf("Not subscribing to inactive topic %s", topic)
		return noopSubscription(topic)
	}

	token, ok := s.tokens.Token()
	if !ok {
		s.logger.Debugf("Not subscribing to %s: no auth token yet", topic)
		return noopSubscription(topic)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[topic]
	if !ok {
		ch = newPhysicalChannel(s, topic, s.Address(topic, token))
		s.channels[topic] = ch
		go ch.run()
	}

	return ch.attach()
}

// SubscribeFunc delivers events of topic to onMessage and transport
// failures to onError (which may be nil), in arrival order. Neither
// callback runs once the returned unsubscribe has returned; unsubscribe
// waits for a running callback. Callbacks must not call unsubscribe.
func (s *Supervisor) SubscribeFunc(topic models.Topic, onMessage func(models.Event), onError func(error)) (unsubscribe func()) {
	sub := s.Subscribe(topic)

	var (
		mu      sync.Mutex
		stopped bool
	)
	deliver := func(fn func()) {
		mu.Lock()
		defer mu.Unlock()

		if !stopped {
			fn()
		}
	}

	go func() {
		events, errs := sub.Events(), sub.Errors()
		for events != nil || errs != nil {
			select {
			case ev, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				deliver(func() { onMessage(ev) })
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				if onError != nil {
					deliver(func() { onError(err) })
				}
			}
		}
	}()

	return func() {
		mu.Lock()
		stopped = true
		mu.Unlock()

		sub.Unsubscribe()
	}
}

// OpenChannels returns the number of physical channels.
func (s *Supervisor) OpenChannels() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.channels)
}

// State returns the channel state of topic, or StateClosed if it has no
// channel.
func (s *Supervisor) State(topic models.Topic) string {
	s.mu.Lock()
	ch, ok := s.channels[topic]
	s.mu.Unlock()

	if !ok {
		return StateClosed
	}

	return ch.machine.Current()
}

// Close tears down every channel. Subscriptions end as if unsubscribed.
func (s *Supervisor) Close() {
	s.mu.Lock()
	channels := make([]*physicalChannel, 0, len(s.channels))
	for topic, ch := range s.channels {
		channels = append(channels, ch)
		delete(s.channels, topic)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		ch.detachAll()
		ch.shutdown()
	}
}

// forget removes ch from the channel map if it is still registered.
// Callers hold s.mu.
func (s *Supervisor) forget(ch *physicalChannel) {
	if s.channels[ch.topic] == ch {
		delete(s.channels, ch.topic)
	}
}
