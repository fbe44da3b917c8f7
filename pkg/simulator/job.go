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

package simulator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

// MigrationJob describes a scripted table migration.
type MigrationJob struct {
	// MigrationID is the entity id of the migration-status topic.
	MigrationID int64
	// ConnectorID is the entity id of the activity-log topic the job
	// reports to. Zero disables activity log events.
	ConnectorID int64
	Tables      []string
	// FailTable names a table that fails. The migration then ends failed.
	FailTable string
	// Step is the pause between two events.
	Step time.Duration
	// Records is the staging record count every table reaches.
	Records int
}

// RunMigration plays job: every table goes through in_progress, a staging
// count and completed or failed, then the overall status settles. The
// served snapshots follow every pushed event.
func (s *Server) RunMigration(ctx context.Context, clk clock.Clock, job MigrationJob) error {
	if clk == nil {
		clk = clock.New()
	}
	topic := models.NewTopic(models.KindMigrationStatus, job.MigrationID)
	activity := models.NewTopic(models.KindActivityLog, job.ConnectorID)
	runID := uuid.New().String()
	now := func() string { return clk.Now().UTC().Format(time.RFC3339Nano) }

	tables := make([]any, 0, len(job.Tables))
	for _, name := range job.Tables {
		tables = append(tables, map[string]any{
			models.FieldTableName:           name,
			models.FieldStatus:              "pending",
			models.FieldStagingRecordsCount: 0,
		})
	}
	s.SetSnapshot(topic, models.Fields{
		models.FieldOverallStatus: models.AggregateInProgress,
		models.FieldTables:        tables,
		"run_id":                  runID,
	})

	s.Push(topic, models.Event{
		models.FieldOverallStatus: models.AggregateInProgress,
		models.FieldMessage:       "Migration started",
		models.FieldTimestamp:     now(),
		"run_id":                  runID,
	})
	s.pushActivity(activity, job.MigrationID, "", "Migration started", now())

	failed := false
	for _, name := range job.Tables {
		if err := sleep(ctx, clk, job.Step); err != nil {
			return err
		}
		s.pushTable(topic, name, models.Event{
			models.FieldStatus:    models.AggregateInProgress,
			models.FieldMessage:   fmt.Sprintf("Reloading %s", name),
			models.FieldTimestamp: now(),
		})

		if err := sleep(ctx, clk, job.Step); err != nil {
			return err
		}
		s.pushTable(topic, name, models.Event{models.FieldStagingRecordsCount: job.Records})

		if err := sleep(ctx, clk, job.Step); err != nil {
			return err
		}
		if name == job.FailTable {
			failed = true
			s.pushTable(topic, name, models.Event{
				models.FieldStatus:       models.AggregateFailed,
				models.FieldErrorMessage: "timeout",
				models.FieldMessage:      fmt.Sprintf("Loading %s failed", name),
				models.FieldTimestamp:    now(),
			})
			continue
		}
		s.pushTable(topic, name, models.Event{models.FieldStatus: models.AggregateCompleted})
	}

	if err := sleep(ctx, clk, job.Step); err != nil {
		return err
	}

	overall, message := models.AggregateCompleted, "Migration completed successfully"
	if failed {
		overall, message = models.AggregateFailed, "Migration failed"
	}
	s.UpdateSnapshot(topic, func(payload models.Fields) {
		payload[models.FieldOverallStatus] = overall
	})
	s.Push(topic, models.Event{
		models.FieldOverallStatus: overall,
		models.FieldMessage:       message,
		models.FieldTimestamp:     now(),
	})
	s.pushActivity(activity, job.MigrationID, overall, message, now())

	return nil
}

// pushTable applies ev to the served row of table and pushes it.
func (s *Server) pushTable(topic models.Topic, table string, ev models.Event) {
	s.UpdateSnapshot(topic, func(payload models.Fields) {
		rows, _ := payload.GetList(models.FieldTables)
		for _, row := range rows {
			if row.Identity(models.FieldTableName) == strings.ToLower(table) {
				for k, v := range ev {
					if k != models.FieldMessage && k != models.FieldTimestamp {
						row[k] = v
					}
				}
			}
		}
	})

	out := ev.Copy()
	out[models.FieldTableName] = table
	s.Push(topic, out)
}

func (s *Server) pushActivity(topic models.Topic, migrationID int64, state, message, timestamp string) {
	if !topic.Active() {
		return
	}

	ev := models.Event{
		models.FieldMigrationID: migrationID,
		models.FieldMessage:     message,
		models.FieldTimestamp:   timestamp,
	}
	if state != "" {
		ev[models.FieldStatus] = state
	}

	s.UpdateSnapshot(topic, func(payload models.Fields) {
		logs, _ := payload["logs"].([]any)
		payload["logs"] = append([]any{ev.Copy()}, logs...)
	})
	s.Push(topic, ev)
}

// SchemaRefreshJob describes a scripted schema refresh of one connector.
type SchemaRefreshJob struct {
	ConnectorID int64
	Steps       int
	Step        time.Duration
}

// RunSchemaRefresh plays a schema refresh: in progress with a progress
// message per step, then completed.
func (s *Server) RunSchemaRefresh(ctx context.Context, clk clock.Clock, job SchemaRefreshJob) error {
	if clk == nil {
		clk = clock.New()
	}
	topic := models.NewTopic(models.KindSchemaStatus, job.ConnectorID)

	publish := func(ev models.Event) {
		s.SetSnapshot(topic, ev)
		s.Push(topic, ev)
	}

	publish(models.Event{models.FieldIsInProgress: true, models.FieldMessage: "Schema refresh in progress"})
	for i := 1; i <= job.Steps; i++ {
		if err := sleep(ctx, clk, job.Step); err != nil {
			return err
		}
		publish(models.Event{
			models.FieldIsInProgress: true,
			models.FieldMessage:      fmt.Sprintf("Schema refresh in progress: fetched %d/%d tables", i, job.Steps),
		})
	}

	if err := sleep(ctx, clk, job.Step); err != nil {
		return err
	}
	publish(models.Event{models.FieldIsInProgress: false, models.FieldMessage: "Schema refresh completed"})

	return nil
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := clk.Timer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
