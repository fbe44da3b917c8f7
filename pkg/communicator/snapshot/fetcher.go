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

package snapshot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/united-manufacturing-hub/livestatus/pkg/backoff"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/auth"
	"github.com/united-manufacturing-hub/livestatus/pkg/constants"
	"github.com/united-manufacturing-hub/livestatus/pkg/logger"
	"github.com/united-manufacturing-hub/livestatus/pkg/metrics"
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

// TokenCookie is the cookie the auth token is sent in.
const TokenCookie = "token"

// Fetcher returns the current full state of a topic. Fetches are
// idempotent.
type Fetcher interface {
	Fetch(ctx context.Context, topic models.Topic) (*models.Snapshot, error)
}

// HTTPFetcher fetches snapshots from the backend. Concurrent fetches of the
// same topic share one request.
type HTTPFetcher struct {
	apiURL      string
	tokens      auth.TokenSource
	insecureTLS bool
	timeout     time.Duration
	group       singleflight.Group
	logger      *zap.SugaredLogger
}

type FetcherOption func(*HTTPFetcher)

func WithInsecureTLS(insecure bool) FetcherOption {
	return func(f *HTTPFetcher) { f.insecureTLS = insecure }
}

// WithTimeout bounds every request. Non-positive values keep the default.
func WithTimeout(d time.Duration) FetcherOption {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func WithLogger(log *zap.SugaredLogger) FetcherOption {
	return func(f *HTTPFetcher) { f.logger = log }
}

func NewHTTPFetcher(apiURL string, tokens auth.TokenSource, opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{apiURL: apiURL, tokens: tokens, timeout: constants.FetchTimeout}
	for _, opt := range opts {
		opt(f)
	}
	if f.tokens == nil {
		f.tokens = auth.StaticToken("")
	}
	if f.logger == nil {
		f.logger = logger.For(logger.ComponentFetcher)
	}

	return f
}

// Fetch returns the snapshot of topic. Errors are fetch errors
// (backoff.IsFetchError). The returned snapshot may be shared with
// concurrent callers and must not be modified.
func (f *HTTPFetcher) Fetch(ctx context.Context, topic models.Topic) (*models.Snapshot, error) {
	if !topic.Active() {
		return nil, backoff.NewFetchError(fmt.Errorf("topic %s is not active", topic))
	}

	if err := ctx.Err(); err != nil {
		return nil, backoff.NewFetchError(fmt.Errorf("fetch of %s not started: %w", topic, err))
	}

	// The shared request outlives any single caller; each caller only stops
	// waiting for it when its own context ends.
	detached := context.WithoutCancel(ctx)
	results := f.group.DoChan(topic.String(), func() (any, error) {
		return f.fetch(detached, topic)
	})

	select {
	case <-ctx.Done():
		return nil, backoff.NewFetchError(fmt.Errorf("fetch of %s abandoned: %w", topic, ctx.Err()))
	case res := <-results:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			f.logger.Debugf("Shared in-flight snapshot fetch of %s", topic)
		}

		return res.Val.(*models.Snapshot), nil
	}
}

func (f *HTTPFetcher) fetch(ctx context.Context, topic models.Topic) (*models.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var cookies map[string]string
	if token, ok := f.tokens.Token(); ok {
		cookies = map[string]string{TokenCookie: token}
	}

	payload, err, statusCode := GetRequest[models.Fields](ctx, KindEndpoint(topic.Kind, topic.EntityID), nil, cookies, f.insecureTLS, f.apiURL, f.logger)
	if err != nil {
		metrics.IncFetchError(string(topic.Kind))
		return nil, backoff.NewFetchError(fmt.Errorf("failed to fetch %s (status %d): %w", topic, statusCode, err))
	}

	if payload == nil {
		snap := models.NewSnapshot()
		snap.Hydrated = true
		return snap, nil
	}

	return FromPayload(*payload), nil
}
