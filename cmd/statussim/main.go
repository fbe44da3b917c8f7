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

// Command statussim serves a simulated status backend: snapshot endpoints,
// push channels and optional scripted jobs to play against livestatus.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/united-manufacturing-hub/livestatus/pkg/config"
	"github.com/united-manufacturing-hub/livestatus/pkg/logger"
	"github.com/united-manufacturing-hub/livestatus/pkg/sentry"
	"github.com/united-manufacturing-hub/livestatus/pkg/simulator"
)

func main() {
	var (
		configPath  string
		addr        string
		migrationID int64
		connectorID int64
		tables      string
		failTable   string
		schemaSteps int
		step        time.Duration
	)
	flag.StringVar(&configPath, "config", "", "path to the YAML config file, for the token and logging")
	flag.StringVar(&addr, "addr", ":8080", "listen address")
	flag.Int64Var(&migrationID, "migration", 0, "play a migration with this id")
	flag.Int64Var(&connectorID, "connector", 0, "connector id for activity log and schema refresh events")
	flag.StringVar(&tables, "tables", "orders,customers,invoices", "comma separated tables of the migration")
	flag.StringVar(&failTable, "fail", "", "table that fails during the migration")
	flag.IntVar(&schemaSteps, "schema-steps", 0, "play a schema refresh with this many steps on -connector")
	flag.DurationVar(&step, "step", time.Second, "pause between scripted events")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		sentry.ReportIssuef(sentry.IssueTypeFatal, logger.For(logger.ComponentConfig), "Failed to load config: %w", err)
		os.Exit(1)
	}
	logger.InitializeWith(cfg.Logging.Level, logger.ParseFormat(cfg.Logging.Format, logger.FormatConsole))
	defer func() { _ = logger.Sync() }()

	log := logger.For(logger.ComponentSimulator)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := simulator.New(cfg.API.Token, log)
	server := &http.Server{
		Addr:              addr,
		Handler:           sim.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infof("Simulator listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if migrationID > 0 {
		job := simulator.MigrationJob{
			MigrationID: migrationID,
			ConnectorID: connectorID,
			Tables:      splitTables(tables),
			FailTable:   failTable,
			Step:        step,
			Records:     1000,
		}
		g.Go(func() error {
			return ignoreCancel(sim.RunMigration(gctx, nil, job))
		})
	}

	if schemaSteps > 0 && connectorID > 0 {
		job := simulator.SchemaRefreshJob{ConnectorID: connectorID, Steps: schemaSteps, Step: step}
		g.Go(func() error {
			return ignoreCancel(sim.RunSchemaRefresh(gctx, nil, job))
		})
	}

	if err := g.Wait(); err != nil {
		sentry.ReportIssuef(sentry.IssueTypeError, log, "Simulator failed: %w", err)
		os.Exit(1)
	}
}

func splitTables(value string) []string {
	var out []string
	for _, t := range strings.Split(value, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
