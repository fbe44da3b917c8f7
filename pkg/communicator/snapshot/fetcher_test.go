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

package snapshot_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/h2non/gock"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/livestatus/pkg/backoff"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/auth"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/snapshot"
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

const apiURL = "http://backend.test"

var _ = Describe("HTTPFetcher", Serial, func() {
	var (
		fetcher *snapshot.HTTPFetcher
		ctx     context.Context
	)

	BeforeEach(func() {
		client := snapshot.GetClient(false)
		gock.InterceptClient(client)
		DeferCleanup(func() {
			gock.OffAll()
			gock.RestoreClient(client)
		})

		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		DeferCleanup(cancel)

		fetcher = snapshot.NewHTTPFetcher(apiURL, auth.StaticToken("secret"),
			snapshot.WithLogger(zaptest.NewLogger(GinkgoT()).Sugar()))
	})

	It("sends the token as a cookie", func() {
		gock.New(apiURL).
			Get("/api/v1/schema-status/42").
			AddMatcher(func(req *http.Request, _ *gock.Request) (bool, error) {
				cookie, err := req.Cookie(snapshot.TokenCookie)
				if err != nil {
					return false, err
				}
				return cookie.Value == "secret", nil
			}).
			Reply(200).
			JSON(map[string]any{"is_in_progress": true})

		snap, err := fetcher.Fetch(ctx, models.NewTopic(models.KindSchemaStatus, 42))
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Hydrated).To(BeTrue())
		Expect(snap.InProgress()).To(BeTrue())
		Expect(gock.IsDone()).To(BeTrue())
	})

	It("converts table lists and logs", func() {
		gock.New(apiURL).
			Get("/api/v1/migration-status/77").
			Reply(200).
			JSON(map[string]any{
				"data": map[string]any{
					"overall_status": "in_progress",
					"tables": []any{
						map[string]any{"table_name": "orders", "status": "in_progress"},
					},
					"logs": []any{
						map[string]any{"message": "Reloading orders", "timestamp": "t1"},
						map[string]any{"migration_id": 77, "message": "Migration started", "status": "in progress"},
						map[string]any{"timestamp": "t0"},
					},
				},
			})

		snap, err := fetcher.Fetch(ctx, models.NewTopic(models.KindMigrationStatus, 77))
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Fields).To(HaveKeyWithValue("overall_status", "in_progress"))
		Expect(snap.Fields).NotTo(HaveKey("tables"))
		Expect(snap.Fields).NotTo(HaveKey("data"))
		Expect(snap.Items).To(HaveLen(1))
		Expect(snap.Log).To(Equal([]models.LogEntry{
			{Message: "Reloading orders", Timestamp: "t1"},
			{Identity: "77", Message: "Migration started", Status: "in progress"},
		}))
	})

	It("returns an empty hydrated snapshot for an empty body", func() {
		gock.New(apiURL).Get("/api/v1/table-status/42").Reply(204)

		snap, err := fetcher.Fetch(ctx, models.NewTopic(models.KindTableStatus, 42))
		Expect(err).NotTo(HaveOccurred())
		Expect(snap.Hydrated).To(BeTrue())
		Expect(snap.Items).To(BeEmpty())
	})

	It("categorizes server errors as fetch errors", func() {
		gock.New(apiURL).Get("/api/v1/table-status/42").Reply(500)

		_, err := fetcher.Fetch(ctx, models.NewTopic(models.KindTableStatus, 42))
		Expect(err).To(HaveOccurred())
		Expect(backoff.IsFetchError(err)).To(BeTrue())
		Expect(err.Error()).To(ContainSubstring("500"))
	})

	It("reports unauthorized responses", func() {
		gock.New(apiURL).Get("/api/v1/table-status/42").Reply(401)

		_, err := fetcher.Fetch(ctx, models.NewTopic(models.KindTableStatus, 42))
		Expect(errors.Is(err, snapshot.ErrUnauthorized)).To(BeTrue())
	})

	It("categorizes undecodable bodies as fetch errors", func() {
		gock.New(apiURL).Get("/api/v1/table-status/42").Reply(200).BodyString(`{"tables": [`)

		_, err := fetcher.Fetch(ctx, models.NewTopic(models.KindTableStatus, 42))
		Expect(backoff.IsFetchError(err)).To(BeTrue())
	})

	It("refuses inactive topics without a request", func() {
		_, err := fetcher.Fetch(ctx, models.NewTopic(models.KindTableStatus, 0))
		Expect(backoff.IsFetchError(err)).To(BeTrue())
		Expect(gock.HasUnmatchedRequest()).To(BeFalse())
	})

	It("collapses concurrent fetches of the same topic", func() {
		gock.New(apiURL).
			Get("/api/v1/activity-log/42").
			Reply(200).
			Delay(200 * time.Millisecond).
			JSON(map[string]any{"logs": []any{}})

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				_, errs[i] = fetcher.Fetch(ctx, models.NewTopic(models.KindActivityLog, 42))
			}(i)
		}
		wg.Wait()

		Expect(errs[0]).NotTo(HaveOccurred())
		Expect(errs[1]).NotTo(HaveOccurred())
	})
})

var _ = Describe("HTTPFetcher with a shared request", Serial, func() {
	var (
		fetcher *snapshot.HTTPFetcher
		hits    atomic.Int32
		release chan struct{}
	)

	BeforeEach(func() {
		hits.Store(0)
		release = make(chan struct{})

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			hits.Add(1)
			<-release
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"is_in_progress": true}`))
		}))
		DeferCleanup(server.Close)
		DeferCleanup(func() {
			select {
			case <-release:
			default:
				close(release)
			}
		})

		fetcher = snapshot.NewHTTPFetcher(server.URL, auth.StaticToken("secret"),
			snapshot.WithLogger(zaptest.NewLogger(GinkgoT()).Sugar()))
	})

	It("completes for the remaining caller when the first one gives up", func() {
		topic := models.NewTopic(models.KindSchemaStatus, 42)

		first, cancelFirst := context.WithCancel(context.Background())
		defer cancelFirst()
		firstErr := make(chan error, 1)
		go func() {
			_, err := fetcher.Fetch(first, topic)
			firstErr <- err
		}()
		Eventually(hits.Load).Should(BeEquivalentTo(1))

		second, cancelSecond := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelSecond()
		type result struct {
			snap *models.Snapshot
			err  error
		}
		secondResult := make(chan result, 1)
		go func() {
			snap, err := fetcher.Fetch(second, topic)
			secondResult <- result{snap, err}
		}()
		time.Sleep(50 * time.Millisecond)

		cancelFirst()
		var err error
		Eventually(firstErr).Should(Receive(&err))
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Expect(backoff.IsFetchError(err)).To(BeTrue())

		close(release)
		var res result
		Eventually(secondResult).Should(Receive(&res))
		Expect(res.err).NotTo(HaveOccurred())
		Expect(res.snap.InProgress()).To(BeTrue())
		Expect(hits.Load()).To(BeEquivalentTo(1))
	})

	It("does not start a request for an already cancelled caller", func() {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := fetcher.Fetch(cancelled, models.NewTopic(models.KindSchemaStatus, 42))
		Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		Consistently(hits.Load, 100*time.Millisecond).Should(BeZero())
	})
})

var _ = Describe("KindEndpoint", func() {
	It("renders the snapshot path", func() {
		Expect(snapshot.KindEndpoint(models.KindActivityLog, 5)).To(Equal(snapshot.Endpoint("/api/v1/activity-log/5")))
	})
})
