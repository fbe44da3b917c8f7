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

package channel

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

// Subscription is one logical subscriber of a topic.
type Subscription struct {
	id     uuid.UUID
	topic  models.Topic
	events chan models.Event
	errors chan error

	// ch is nil for no-op subscriptions.
	ch        *physicalChannel
	cancelled atomic.Bool
	once      sync.Once
}

func noopSubscription(topic models.Topic) *Subscription {
	sub := &Subscription{
		id:     uuid.New(),
		topic:  topic,
		events: make(chan models.Event),
		errors: make(chan error),
	}
	close(sub.events)
	close(sub.errors)

	return sub
}

func (s *Subscription) Topic() models.Topic {
	return s.topic
}

// Events returns the decoded events in arrival order. The stream is closed
// on Unsubscribe or when the channel gives up.
func (s *Subscription) Events() <-chan models.Event {
	return s.events
}

// Errors reports transport failures, e.g. an exhausted reconnect budget.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Active returns whether the subscription is backed by a channel.
func (s *Subscription) Active() bool {
	return s.ch != nil && !s.cancelled.Load()
}

// Unsubscribe detaches the subscriber. When it was the last subscriber
// of the topic the channel is closed before Unsubscribe returns. Safe to
// call more than once and after the channel already closed.
func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.cancelled.Store(true)
		if s.ch != nil {
			s.ch.detach(s)
		}
	})
}
