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

package channel_test

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/livestatus/pkg/backoff"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/auth"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/channel"
	"github.com/united-manufacturing-hub/livestatus/pkg/metrics"
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

var _ = Describe("Supervisor", func() {
	var (
		server *pushServer
		mock   *clock.Mock
		token  *auth.MutableToken
		sup    *channel.Supervisor
		topic  models.Topic
	)

	BeforeEach(func() {
		server = newPushServer()
		DeferCleanup(server.Close)

		mock = clock.NewMock()
		token = auth.NewMutableToken("secret")
		topic = models.NewTopic(models.KindMigrationStatus, 77)

		sup = channel.NewSupervisor(server.wsURL(), token,
			channel.WithClock(mock),
			channel.WithReconnect(3*time.Second, 2),
			channel.WithLogger(zaptest.NewLogger(GinkgoT()).Sugar()))
		DeferCleanup(sup.Close)
	})

	It("builds the address from topic and token", func() {
		Expect(sup.Address(topic, "a b")).To(Equal(server.wsURL() + "/ws/migration-status/77?token=a+b"))
	})

	It("delivers decoded events and swallows malformed frames", func() {
		dropped := testutil.ToFloat64(metrics.FramesTotal.WithLabelValues(string(topic.Kind), metrics.FrameDropped))

		sub := sup.Subscribe(topic)
		DeferCleanup(sub.Unsubscribe)
		Eventually(server.connections).Should(Equal(1))
		Expect(server.paths[0]).To(Equal("/ws/migration-status/77"))
		Expect(server.tokens[0]).To(Equal("secret"))

		Expect(server.send(0, `not json`)).To(Succeed())
		Expect(server.send(0, `[1,2,3]`)).To(Succeed())
		Expect(server.send(0, `{"table_name":"orders","status":"failed"}`)).To(Succeed())

		var ev models.Event
		Eventually(sub.Events()).Should(Receive(&ev))
		Expect(ev).To(HaveKeyWithValue("table_name", "orders"))
		Consistently(sub.Events(), "100ms").ShouldNot(Receive())

		Expect(testutil.ToFloat64(metrics.FramesTotal.WithLabelValues(string(topic.Kind), metrics.FrameDropped))).
			To(Equal(dropped + 2))
		Expect(sup.State(topic)).To(Equal(channel.StateOpen))
	})

	It("keeps arrival order", func() {
		sub := sup.Subscribe(topic)
		DeferCleanup(sub.Unsubscribe)
		Eventually(server.connections).Should(Equal(1))

		for _, frame := range []string{`{"n":1}`, `{"n":2}`, `{"n":3}`} {
			Expect(server.send(0, frame)).To(Succeed())
		}

		for _, n := range []float64{1, 2, 3} {
			var ev models.Event
			Eventually(sub.Events()).Should(Receive(&ev))
			Expect(ev).To(HaveKeyWithValue("n", n))
		}
	})

	It("does not connect without a token", func() {
		token.Clear()

		sub := sup.Subscribe(topic)
		Expect(sub.Active()).To(BeFalse())
		Eventually(sub.Events()).Should(BeClosed())
		Consistently(server.dials.Load, "100ms").Should(BeZero())
		sub.Unsubscribe()
	})

	It("does not connect for an inactive topic", func() {
		sub := sup.Subscribe(models.NewTopic(models.KindMigrationStatus, 0))
		Expect(sub.Active()).To(BeFalse())
		Consistently(server.dials.Load, "100ms").Should(BeZero())
	})

	It("shares one channel between subscribers of a topic", func() {
		first := sup.Subscribe(topic)
		second := sup.Subscribe(topic)
		Eventually(server.connections).Should(Equal(1))
		Expect(sup.OpenChannels()).To(Equal(1))

		Expect(server.send(0, `{"status":"S"}`)).To(Succeed())
		Eventually(first.Events()).Should(Receive())
		Eventually(second.Events()).Should(Receive())

		first.Unsubscribe()
		Consistently(server.closed.Load, "100ms").Should(BeZero())
		Expect(server.send(0, `{"status":"E"}`)).To(Succeed())
		Eventually(second.Events()).Should(Receive())

		second.Unsubscribe()
		Expect(sup.OpenChannels()).To(BeZero())
		Eventually(server.closed.Load).Should(BeEquivalentTo(1))
		Expect(server.dials.Load()).To(BeEquivalentTo(1))
	})

	It("unsubscribes synchronously and idempotently", func() {
		sub := sup.Subscribe(topic)
		Eventually(server.connections).Should(Equal(1))

		sub.Unsubscribe()
		Expect(sub.Events()).To(BeClosed())
		Expect(sup.State(topic)).To(Equal(channel.StateClosed))
		Expect(sub.Unsubscribe).NotTo(Panic())
	})

	It("never calls back after unsubscribe", func() {
		received := make(chan models.Event, 10)
		unsubscribe := sup.SubscribeFunc(topic, func(ev models.Event) { received <- ev }, nil)
		Eventually(server.connections).Should(Equal(1))

		Expect(server.send(0, `{"n":1}`)).To(Succeed())
		Eventually(received).Should(Receive())

		unsubscribe()
		_ = server.send(0, `{"n":2}`)
		Consistently(received, "100ms").ShouldNot(Receive())
	})

	It("waits for a running callback before unsubscribe returns", func() {
		entered := make(chan struct{}, 10)
		release := make(chan struct{})
		var calls atomic.Int32
		unsubscribe := sup.SubscribeFunc(topic, func(models.Event) {
			calls.Add(1)
			entered <- struct{}{}
			<-release
		}, nil)
		Eventually(server.connections).Should(Equal(1))

		Expect(server.send(0, `{"n":1}`)).To(Succeed())
		Eventually(entered).Should(Receive())

		returned := make(chan struct{})
		go func() {
			unsubscribe()
			close(returned)
		}()
		Consistently(returned, "100ms").ShouldNot(BeClosed())

		close(release)
		Eventually(returned).Should(BeClosed())
		_ = server.send(0, `{"n":2}`)
		Consistently(calls.Load, "100ms").Should(BeEquivalentTo(1))
	})

	It("reconnects after an unexpected close", func() {
		sub := sup.Subscribe(topic)
		DeferCleanup(sub.Unsubscribe)
		Eventually(server.connections).Should(Equal(1))

		server.closeWith(0, websocket.CloseInternalServerErr)
		Eventually(func() string { return sup.State(topic) }).Should(Equal(channel.StateWaitingRetry))
		Consistently(server.connections, "100ms").Should(Equal(1))

		mock.Add(3 * time.Second)
		Eventually(server.connections).Should(Equal(2))
		Eventually(func() string { return sup.State(topic) }).Should(Equal(channel.StateOpen))

		Expect(server.send(1, `{"status":"S"}`)).To(Succeed())
		Eventually(sub.Events()).Should(Receive())
	})

	It("resets the attempt budget after a successful open", func() {
		sub := sup.Subscribe(topic)
		DeferCleanup(sub.Unsubscribe)
		Eventually(server.connections).Should(Equal(1))

		for i := 0; i < 4; i++ {
			server.closeWith(i, websocket.CloseGoingAway)
			Eventually(func() string { return sup.State(topic) }).Should(Equal(channel.StateWaitingRetry))
			mock.Add(3 * time.Second)
			Eventually(server.connections).Should(Equal(i + 2))
		}
		Expect(sub.Active()).To(BeTrue())
	})

	It("treats a normal close by the server as final", func() {
		sub := sup.Subscribe(topic)
		Eventually(server.connections).Should(Equal(1))

		server.closeWith(0, websocket.CloseNormalClosure)
		Eventually(sub.Events()).Should(BeClosed())
		Expect(sub.Errors()).To(BeClosed())

		mock.Add(time.Minute)
		Consistently(server.dials.Load, "100ms").Should(BeEquivalentTo(1))
		Expect(sup.OpenChannels()).To(BeZero())
		sub.Unsubscribe()
	})

	It("gives up after the attempt budget", func() {
		server.reject.Store(true)

		sub := sup.Subscribe(topic)
		DeferCleanup(sub.Unsubscribe)

		for attempt := 1; attempt <= 2; attempt++ {
			Eventually(server.dials.Load).Should(BeEquivalentTo(attempt))
			Eventually(func() string { return sup.State(topic) }).Should(Equal(channel.StateWaitingRetry))
			mock.Add(3 * time.Second)
		}
		Eventually(server.dials.Load).Should(BeEquivalentTo(3))

		var err error
		Eventually(sub.Errors()).Should(Receive(&err))
		Expect(errors.Is(err, channel.ErrReconnectExhausted)).To(BeTrue())
		Expect(backoff.IsTransportError(err)).To(BeTrue())
		Eventually(sub.Events()).Should(BeClosed())

		mock.Add(time.Minute)
		Consistently(server.dials.Load, "100ms").Should(BeEquivalentTo(3))
	})

	It("opens a fresh channel for a topic that gave up", func() {
		sub := sup.Subscribe(topic)
		Eventually(server.connections).Should(Equal(1))
		server.closeWith(0, websocket.CloseNormalClosure)
		Eventually(sub.Events()).Should(BeClosed())

		again := sup.Subscribe(topic)
		DeferCleanup(again.Unsubscribe)
		Eventually(server.connections).Should(Equal(2))
	})
})
