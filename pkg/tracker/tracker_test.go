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

package tracker_test

import (
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/livestatus/pkg/cache"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/auth"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/channel"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/snapshot"
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
	"github.com/united-manufacturing-hub/livestatus/pkg/reconcile"
	"github.com/united-manufacturing-hub/livestatus/pkg/simulator"
	"github.com/united-manufacturing-hub/livestatus/pkg/tracker"
)

var _ = Describe("Tracker", func() {
	var (
		sim        *simulator.Server
		store      *cache.MemoryStore
		supervisor *channel.Supervisor
		tr         *tracker.Tracker
	)

	migration := models.NewTopic(models.KindMigrationStatus, 77)

	cached := func(topic models.Topic) *models.Snapshot {
		snap, _ := store.Get(cache.TopicKey(topic))
		return snap
	}

	itemStatus := func(topic models.Topic, table string) func() string {
		return func() string {
			snap := cached(topic)
			i := snap.FindItem(models.FieldTableName, table)
			if i < 0 {
				return ""
			}
			status, _ := snap.Items[i].GetString(models.FieldStatus)
			return status
		}
	}

	BeforeEach(func() {
		log := zaptest.NewLogger(GinkgoT()).Sugar()

		sim = simulator.New("secret", log)
		server := httptest.NewServer(sim.Handler())
		DeferCleanup(server.Close)

		store = cache.NewMemoryStore(time.Minute, time.Minute, cache.WithLogger(log))
		reconciler := reconcile.New(store, reconcile.WithLogger(log))
		DeferCleanup(reconciler.Close)

		supervisor = channel.NewSupervisor("ws"+strings.TrimPrefix(server.URL, "http"), auth.StaticToken("secret"),
			channel.WithLogger(log))
		DeferCleanup(supervisor.Close)

		fetcher := snapshot.NewHTTPFetcher(server.URL, auth.StaticToken("secret"), snapshot.WithLogger(log))
		tr = tracker.New(supervisor, fetcher, reconciler,
			tracker.WithPollIntervals(50*time.Millisecond, time.Hour),
			tracker.WithLogger(log))
	})

	It("hydrates from the snapshot and follows pushed events", func() {
		sim.SetSnapshot(migration, models.Fields{
			"overall_status": "in_progress",
			"tables": []any{
				map[string]any{"table_name": "orders", "status": "in_progress", "staging_records_count": 5},
			},
		})

		stop := tr.Track(migration, tracker.Options{})
		DeferCleanup(stop)

		Eventually(func() bool { return cached(migration) != nil && cached(migration).Hydrated }).Should(BeTrue())
		Eventually(func() int { return sim.Connections(migration) }).Should(Equal(1))

		sim.Push(migration, models.Event{"table_name": "orders", "status": "failed", "error_message": "disk full"})

		Eventually(itemStatus(migration, "orders")).Should(Equal("failed"))
		count, _ := cached(migration).Items[0].GetInt(models.FieldStagingRecordsCount)
		Expect(count).To(BeEquivalentTo(5))
	})

	It("applies events in arrival order", func() {
		sim.SetSnapshot(migration, models.Fields{
			"tables": []any{map[string]any{"table_name": "orders", "status": "pending"}},
		})

		stop := tr.Track(migration, tracker.Options{})
		DeferCleanup(stop)
		Eventually(func() int { return sim.Connections(migration) }).Should(Equal(1))
		Eventually(itemStatus(migration, "orders")).Should(Equal("pending"))

		for _, status := range []string{"in_progress", "failed", "completed"} {
			sim.Push(migration, models.Event{"table_name": "orders", "status": status})
		}

		Eventually(itemStatus(migration, "orders")).Should(Equal("completed"))
	})

	It("stops synchronously and removes the cached keys", func() {
		sim.SetSnapshot(migration, models.Fields{"overall_status": "in_progress"})

		stop := tr.Track(migration, tracker.Options{})
		Eventually(func() *models.Snapshot { return cached(migration) }).ShouldNot(BeNil())
		Eventually(func() int { return sim.Connections(migration) }).Should(Equal(1))

		stop()
		stop()

		Expect(cached(migration)).To(BeNil())
		Expect(supervisor.OpenChannels()).To(BeZero())
		Eventually(func() int { return sim.Connections(migration) }).Should(BeZero())

		sim.Push(migration, models.Event{"overall_status": "failed"})
		Consistently(func() *models.Snapshot { return cached(migration) }, 200*time.Millisecond).Should(BeNil())
	})

	It("keeps the cache while another tracking of the topic remains", func() {
		sim.SetSnapshot(migration, models.Fields{"overall_status": "in_progress"})

		first := tr.Track(migration, tracker.Options{})
		second := tr.Track(migration, tracker.Options{})
		DeferCleanup(second)

		Eventually(func() *models.Snapshot { return cached(migration) }).ShouldNot(BeNil())
		Eventually(func() int { return sim.Connections(migration) }).Should(Equal(1))

		first()
		Expect(cached(migration)).NotTo(BeNil())
		Expect(supervisor.OpenChannels()).To(Equal(1))

		second()
		Expect(cached(migration)).To(BeNil())
	})

	It("ignores inactive topics", func() {
		stop := tr.Track(models.NewTopic(models.KindMigrationStatus, 0), tracker.Options{Poll: true})
		stop()

		Consistently(store.Len, 100*time.Millisecond).Should(BeZero())
		Expect(supervisor.OpenChannels()).To(BeZero())
	})

	It("picks up a transition the push channel missed through polling", func() {
		schema := models.NewTopic(models.KindSchemaStatus, 42)
		sim.SetSnapshot(schema, models.Fields{"is_in_progress": true})

		stop := tr.Track(schema, tracker.Options{Poll: true})
		DeferCleanup(stop)

		inProgress := func() bool {
			snap := cached(schema)
			if snap == nil {
				return false
			}
			v, _ := snap.Fields.GetBool(models.FieldIsInProgress)
			return v
		}
		Eventually(inProgress).Should(BeTrue())

		sim.SetSnapshot(schema, models.Fields{"is_in_progress": false})

		Eventually(inProgress, 2*time.Second).Should(BeFalse())
	})
})
