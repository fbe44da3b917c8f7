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

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/livestatus/pkg/cache"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/auth"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/channel"
	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/snapshot"
	"github.com/united-manufacturing-hub/livestatus/pkg/config"
	"github.com/united-manufacturing-hub/livestatus/pkg/constants"
	"github.com/united-manufacturing-hub/livestatus/pkg/logger"
	"github.com/united-manufacturing-hub/livestatus/pkg/metrics"
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
	"github.com/united-manufacturing-hub/livestatus/pkg/reconcile"
	"github.com/united-manufacturing-hub/livestatus/pkg/sentry"
	"github.com/united-manufacturing-hub/livestatus/pkg/tracker"
)

// appVersion is set with -ldflags "-X main.appVersion=..."
var appVersion = constants.DefaultAppVersion

// topicList collects repeated -track flags.
type topicList []models.Topic

func (l *topicList) String() string {
	parts := make([]string, 0, len(*l))
	for _, t := range *l {
		parts = append(parts, t.String())
	}
	return strings.Join(parts, ",")
}

func (l *topicList) Set(value string) error {
	topic, err := models.ParseTopic(value)
	if err != nil {
		return err
	}
	*l = append(*l, topic)
	return nil
}

func main() {
	var (
		configPath string
		topics     topicList
	)
	flag.StringVar(&configPath, "config", "/data/livestatus.yaml", "path to the YAML config file")
	flag.Var(&topics, "track", "topic to follow as kind:id, may be repeated")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, logger.For(logger.ComponentConfig), "Failed to load config: %w", err)
		os.Exit(1)
	}

	logger.InitializeWith(cfg.Logging.Level, logger.ParseFormat(cfg.Logging.Format, logger.FormatConsole))
	defer func() { _ = logger.Sync() }()

	sentry.InitSentry(appVersion, cfg.Sentry.DSN, true)

	log := logger.For(logger.ComponentCore)
	log.Infof("Starting livestatus %s", appVersion)

	if len(topics) == 0 {
		log.Warn("No topics to track, pass -track kind:id")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := cache.NewMemoryStore(cfg.Cache.GCTime, cfg.Cache.CullInterval)
	reconciler := reconcile.New(store,
		reconcile.WithSettleDelay(cfg.Cache.SettleDelay),
		reconcile.WithStrategies(reconcile.DefaultStrategies(cfg.Cache.MaxLogEntries)))
	defer reconciler.Close()

	tokens := auth.NewMutableToken(cfg.API.Token)

	dialer := *websocket.DefaultDialer
	if cfg.API.InsecureTLS {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	supervisor := channel.NewSupervisor(cfg.WebsocketBaseURL(), tokens,
		channel.WithDialer(&dialer),
		channel.WithReconnect(cfg.Reconnect.Interval, cfg.Reconnect.MaxAttempts),
		channel.WithBufferSize(cfg.Channel.BufferSize),
		channel.WithReadLimit(cfg.Channel.ReadLimit))
	defer supervisor.Close()

	fetcher := snapshot.NewHTTPFetcher(cfg.API.BaseURL, tokens,
		snapshot.WithInsecureTLS(cfg.API.InsecureTLS),
		snapshot.WithTimeout(cfg.API.Timeout))

	tr := tracker.New(supervisor, fetcher, reconciler,
		tracker.WithPollIntervals(cfg.Polling.TightInterval, cfg.Polling.RearmInterval))

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		server := metrics.SetupMetricsEndpoint(fmt.Sprintf(":%d", cfg.Metrics.Port))
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		reloadToken(gctx, configPath, tokens, log)
		return nil
	})

	for _, topic := range topics {
		untrack := tr.Track(topic, tracker.Options{Poll: cfg.Polling.Enabled})
		watch := store.Subscribe(cache.TopicKey(topic))

		g.Go(func() error {
			defer untrack()
			defer watch.Close()
			reportChanges(gctx, topic, watch, log)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Shutdown failed: %w", err)
	}

	log.Info("livestatus stopped")
}

// reportChanges logs every canonical status transition of topic.
func reportChanges(ctx context.Context, topic models.Topic, watch *cache.Watch, log *zap.SugaredLogger) {
	last := models.StatusUnknown

	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-watch.Changes():
			if !ok {
				return
			}
			if change.Removed || change.Snapshot == nil {
				continue
			}
			if change.Stale {
				log.Debugf("%s is stale", topic)
				continue
			}

			current := change.Snapshot.Canonical()
			if current != last {
				log.Infow("Status changed", "topic", topic.String(), "from", string(last), "to", string(current),
					"update_id", change.Snapshot.UpdateID)
				last = current
			}
		}
	}
}

// reloadToken re-reads the token from the config on SIGHUP. Channels opened
// afterwards use the new token; snapshot requests pick it up immediately.
func reloadToken(ctx context.Context, configPath string, tokens *auth.MutableToken, log *zap.SugaredLogger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			cfg, err := config.Load(configPath)
			if err != nil {
				sentry.ReportIssuef(sentry.IssueTypeWarning, log, "Failed to reload config: %w", err)
				continue
			}
			if cfg.API.Token == "" {
				tokens.Clear()
			} else {
				tokens.Set(cfg.API.Token)
			}
			log.Info("Reloaded API token")
		}
	}
}
