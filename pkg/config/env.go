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

package config

import (
	"errors"
	"fmt"

	"github.com/united-manufacturing-hub/umh-utils/env"
)

// Environment variables that override config file values.
const (
	EnvAPIURL         = "LIVESTATUS_API_URL"
	EnvWSURL          = "LIVESTATUS_WS_URL"
	EnvToken          = "LIVESTATUS_TOKEN"
	EnvInsecureTLS    = "LIVESTATUS_INSECURE_TLS"
	EnvPollingEnabled = "LIVESTATUS_POLLING_ENABLED"
	EnvMaxReconnects  = "LIVESTATUS_MAX_RECONNECT_ATTEMPTS"
	EnvMetricsPort    = "LIVESTATUS_METRICS_PORT"
	EnvLoggingLevel   = "LOGGING_LEVEL"
	EnvLoggingFormat  = "LOGGING_FORMAT"
	EnvSentryDSN      = "SENTRY_DSN"
)

// ApplyEnv overrides config values with the environment variables that are
// set. Unset variables keep the current value. Invalid values are reported
// together and leave the field untouched.
func (c *Config) ApplyEnv() error {
	var errs []error

	str := func(key string, target *string) {
		value, err := env.GetAsString(key, false, *target)
		if err != nil {
			errs = append(errs, err)
			return
		}
		*target = value
	}

	str(EnvAPIURL, &c.API.BaseURL)
	str(EnvWSURL, &c.Channel.BaseURL)
	str(EnvToken, &c.API.Token)
	str(EnvLoggingLevel, &c.Logging.Level)
	str(EnvLoggingFormat, &c.Logging.Format)
	str(EnvSentryDSN, &c.Sentry.DSN)

	insecure, err := env.GetAsBool(EnvInsecureTLS, false, c.API.InsecureTLS)
	if err != nil {
		errs = append(errs, err)
	} else {
		c.API.InsecureTLS = insecure
	}

	polling, err := env.GetAsBool(EnvPollingEnabled, false, c.Polling.Enabled)
	if err != nil {
		errs = append(errs, err)
	} else {
		c.Polling.Enabled = polling
	}

	maxAttempts, err := env.GetAsUint64(EnvMaxReconnects, false, c.Reconnect.MaxAttempts)
	if err != nil {
		errs = append(errs, err)
	} else {
		c.Reconnect.MaxAttempts = maxAttempts
	}

	port, err := env.GetAsInt(EnvMetricsPort, false, c.Metrics.Port)
	if err != nil {
		errs = append(errs, err)
	} else {
		c.Metrics.Port = port
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides: %w", errors.Join(errs...))
	}

	return nil
}
