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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	lfsm "github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/livestatus/internal/fsm"
	"github.com/united-manufacturing-hub/livestatus/pkg/backoff"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/safejson"
	"github.com/united-manufacturing-hub/livestatus/pkg/metrics"
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

// Channel states.
const (
	StateConnecting   = "connecting"
	StateOpen         = "open"
	StateWaitingRetry = "waiting_retry"
	StateClosed       = "closed"
)

// Channel events.
const (
	EventOpened = "opened"
	EventDrop   = "drop"
	EventRetry  = "retry"
	EventClose  = "close"
)

var transitions = []lfsm.EventDesc{
	{Name: EventOpened, Src: []string{StateConnecting}, Dst: StateOpen},
	{Name: EventDrop, Src: []string{StateConnecting, StateOpen}, Dst: StateWaitingRetry},
	{Name: EventRetry, Src: []string{StateWaitingRetry}, Dst: StateConnecting},
	{Name: EventClose, Src: []string{StateConnecting, StateOpen, StateWaitingRetry}, Dst: StateClosed},
}

// ErrReconnectExhausted is delivered on Errors when the channel gives up.
var ErrReconnectExhausted = errors.New("channel gave up reconnecting")

const closeWriteTimeout = time.Second

// physicalChannel is the websocket connection of one topic.
type physicalChannel struct {
	id      uuid.UUID
	sup     *Supervisor
	topic   models.Topic
	address string

	machine *fsm.Machine
	policy  *backoff.ReconnectPolicy

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex
	subs map[uuid.UUID]*Subscription
	conn *websocket.Conn

	logger *zap.SugaredLogger
}

func newPhysicalChannel(sup *Supervisor, topic models.Topic, address string) *physicalChannel {
	log := sup.logger.With("topic", topic.String())
	ctx, cancel := context.WithCancel(context.Background())

	return &physicalChannel{
		id:      uuid.New(),
		sup:     sup,
		topic:   topic,
		address: address,
		machine: fsm.NewMachine(fsm.MachineConfig{
			ID:           topic.String(),
			InitialState: StateConnecting,
			Transitions:  transitions,
		}, log),
		policy: backoff.NewReconnectPolicy(topic.String(), sup.reconnectInterval, sup.maxAttempts, log),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[uuid.UUID]*Subscription),
		logger: log,
	}
}

// attach adds a subscriber. Callers hold sup.mu.
func (c *physicalChannel) attach() *Subscription {
	sub := &Subscription{
		id:     uuid.New(),
		topic:  c.topic,
		events: make(chan models.Event, c.sup.bufferSize),
		errors: make(chan error, 1),
		ch:     c,
	}

	c.mu.Lock()
	c.subs[sub.id] = sub
	n := len(c.subs)
	c.mu.Unlock()

	c.logger.Debugf("Subscriber %s attached (%d total)", sub.id, n)

	return sub
}

// detach removes one subscriber and closes the channel after the last.
func (c *physicalChannel) detach(sub *Subscription) {
	c.sup.mu.Lock()
	c.mu.Lock()
	if _, ok := c.subs[sub.id]; !ok {
		c.mu.Unlock()
		c.sup.mu.Unlock()
		return
	}
	delete(c.subs, sub.id)
	close(sub.events)
	close(sub.errors)
	remaining := len(c.subs)
	c.mu.Unlock()

	if remaining == 0 {
		c.sup.forget(c)
	}
	c.sup.mu.Unlock()

	c.logger.Debugf("Subscriber %s detached (%d remaining)", sub.id, remaining)
	if remaining == 0 {
		c.shutdown()
	}
}

// detachAll ends every subscription without closing the connection.
func (c *physicalChannel) detachAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, sub := range c.subs {
		sub.cancelled.Store(true)
		close(sub.events)
		close(sub.errors)
		delete(c.subs, id)
	}
}

// shutdown is the supervisor-initiated teardown. It closes the connection
// with a normal close code and waits for the run loop to exit.
func (c *physicalChannel) shutdown() {
	c.cancel()
	c.sup.scheduler.Cancel(c.retryTimer())

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout))
		_ = conn.Close()
	}

	<-c.done
}

// terminate ends the channel from the run loop after a normal close by
// the server or an exhausted reconnect budget.
func (c *physicalChannel) terminate(cause error) {
	c.sup.mu.Lock()
	defer c.sup.mu.Unlock()
	c.sup.forget(c)

	c.mu.Lock()
	defer c.mu.Unlock()

	for id, sub := range c.subs {
		if cause != nil {
			select {
			case sub.errors <- cause:
			default:
			}
		}
		close(sub.events)
		close(sub.errors)
		delete(c.subs, id)
	}
}

func (c *physicalChannel) retryTimer() string {
	return "reconnect:" + c.topic.String() + ":" + c.id.String()
}

func (c *physicalChannel) run() {
	defer close(c.done)
	defer func() {
		_ = c.machine.SendEvent(context.Background(), EventClose)
	}()

	for {
		err := c.connect()
		if c.ctx.Err() != nil {
			return
		}

		if err == nil {
			c.logger.Infof("Channel %s closed normally by the server", c.topic)
			c.terminate(nil)
			return
		}

		wait, ok := c.policy.Next()
		if !ok {
			exhausted := backoff.NewTransportError(fmt.Errorf("%w: %s: %w", ErrReconnectExhausted, c.topic, err))
			c.logger.Warnf("Channel %s: %v", c.topic, exhausted)
			c.terminate(exhausted)
			return
		}

		wake := c.schedule(wait)
		_ = c.machine.SendEvent(c.ctx, EventDrop)
		metrics.IncReconnect(string(c.topic.Kind))
		c.logger.Debugf("Channel %s dropped (%v), reconnect attempt %d in %s", c.topic, err, c.policy.Attempts(), wait)

		select {
		case <-c.ctx.Done():
			return
		case <-wake:
		}
		_ = c.machine.SendEvent(c.ctx, EventRetry)
	}
}

// schedule arms the reconnect timer on the supervisor's clock. The
// returned channel is closed when it fires.
func (c *physicalChannel) schedule(d time.Duration) <-chan struct{} {
	wake := make(chan struct{})
	c.sup.scheduler.After(c.retryTimer(), d, func() { close(wake) })

	return wake
}

// connect dials and reads until the connection ends. A nil error means the
// server closed the channel normally. Any other error is unexpected.
func (c *physicalChannel) connect() error {
	conn, resp, err := c.sup.dialer.DialContext(c.ctx, c.address, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return backoff.NewTransportError(fmt.Errorf("failed to open channel: %w", err))
	}

	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return c.ctx.Err()
	}
	c.conn = conn
	c.mu.Unlock()

	c.policy.Reset()
	_ = c.machine.SendEvent(c.ctx, EventOpened)
	metrics.ChannelOpened()
	c.logger.Debugf("Channel %s open", c.topic)

	defer func() {
		metrics.ChannelClosed()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		_ = conn.Close()
	}()

	if c.sup.readLimit > 0 {
		conn.SetReadLimit(c.sup.readLimit)
	}

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				return nil
			}
			return backoff.NewTransportError(err)
		}

		ev, err := safejson.DecodeEvent(frame)
		if err != nil {
			metrics.RecordFrame(string(c.topic.Kind), metrics.FrameDropped)
			c.logger.Warnf("Dropping malformed frame on %s: %v", c.topic, backoff.NewDecodeError(err))
			continue
		}
		metrics.RecordFrame(string(c.topic.Kind), metrics.FrameDecoded)

		c.deliver(ev)
	}
}

// deliver fans ev out to every subscriber. A full buffer drops the
// subscriber's oldest pending event.
func (c *physicalChannel) deliver(ev models.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sub := range c.subs {
		select {
		case sub.events <- ev:
			continue
		default:
		}

		select {
		case <-sub.events:
			metrics.IncDroppedEvent(string(c.topic.Kind), "slow_subscriber")
		default:
		}
		select {
		case sub.events <- ev:
		default:
		}
	}
}
