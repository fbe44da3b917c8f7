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
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/united-manufacturing-hub/livestatus/pkg/constants"
)

// Config is the full configuration of the sync engine and its binaries.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Channel   ChannelConfig   `yaml:"channel"`
	Polling   PollingConfig   `yaml:"polling"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Sentry    SentryConfig    `yaml:"sentry"`
}

// APIConfig configures the snapshot endpoints.
type APIConfig struct {
	// BaseURL is the REST base, e.g. https://api.example.com
	BaseURL string `yaml:"baseURL"`
	// Token authenticates both snapshot requests and the push channel.
	// Without a token no channel is opened.
	Token       string        `yaml:"token"`
	InsecureTLS bool          `yaml:"insecureTLS"`
	Timeout     time.Duration `yaml:"timeout"`
}

// ChannelConfig configures the push channel.
type ChannelConfig struct {
	// BaseURL is the websocket base. Derived from API.BaseURL when empty.
	BaseURL    string `yaml:"baseURL"`
	BufferSize int    `yaml:"bufferSize"`
	ReadLimit  int64  `yaml:"readLimit"`
}

type PollingConfig struct {
	Enabled       bool          `yaml:"enabled"`
	TightInterval time.Duration `yaml:"tightInterval"`
	RearmInterval time.Duration `yaml:"rearmInterval"`
}

type ReconnectConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxAttempts uint64        `yaml:"maxAttempts"`
}

type CacheConfig struct {
	// GCTime is how long an entry without subscribers is kept.
	GCTime        time.Duration `yaml:"gcTime"`
	CullInterval  time.Duration `yaml:"cullInterval"`
	SettleDelay   time.Duration `yaml:"settleDelay"`
	MaxLogEntries int           `yaml:"maxLogEntries"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type SentryConfig struct {
	DSN string `yaml:"dsn"`
}

// Default returns the configuration used when neither file nor environment
// set a value.
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL: "http://localhost:8080",
			Timeout: constants.FetchTimeout,
		},
		Channel: ChannelConfig{
			BufferSize: constants.SubscriberBufferSize,
			ReadLimit:  constants.WebsocketReadLimit,
		},
		Polling: PollingConfig{
			Enabled:       true,
			TightInterval: constants.TightPollInterval,
			RearmInterval: constants.RearmInterval,
		},
		Reconnect: ReconnectConfig{
			Interval:    constants.ReconnectInterval,
			MaxAttempts: constants.MaxReconnectAttempts,
		},
		Cache: CacheConfig{
			GCTime:        constants.CacheGCTime,
			CullInterval:  constants.CacheCullInterval,
			SettleDelay:   constants.SettleDelay,
			MaxLogEntries: constants.MaxLogEntries,
		},
		Logging: LoggingConfig{
			Level:  "PRODUCTION",
			Format: "console",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    8081,
		},
	}
}

// Parse decodes a YAML document over the defaults. Fields the document does
// not mention keep their default.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	return cfg, nil
}

// Load reads the YAML file at path, applies environment overrides and
// validates the result. A missing file is not an error.
//
// Order of precedence (highest to lowest):
// 1. Environment variables (LIVESTATUS_*)
// 2. Config file values
// 3. Default values
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			cfg, err = Parse(data)
			if err != nil {
				return Config{}, err
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the values the engine cannot run without.
func (c Config) Validate() error {
	var errs []error

	if _, err := url.Parse(c.API.BaseURL); err != nil || c.API.BaseURL == "" {
		errs = append(errs, fmt.Errorf("api.baseURL %q is not a valid URL", c.API.BaseURL))
	}
	if c.Channel.BaseURL != "" {
		if u, err := url.Parse(c.Channel.BaseURL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, fmt.Errorf("channel.baseURL %q must be a ws:// or wss:// URL", c.Channel.BaseURL))
		}
	}
	if c.Polling.TightInterval <= 0 {
		errs = append(errs, errors.New("polling.tightInterval must be positive"))
	}
	if c.Polling.RearmInterval <= 0 {
		errs = append(errs, errors.New("polling.rearmInterval must be positive"))
	}
	if c.Reconnect.Interval <= 0 {
		errs = append(errs, errors.New("reconnect.interval must be positive"))
	}
	if c.Cache.MaxLogEntries <= 0 {
		errs = append(errs, errors.New("cache.maxLogEntries must be positive"))
	}
	if c.Channel.BufferSize <= 0 {
		errs = append(errs, errors.New("channel.bufferSize must be positive"))
	}

	return errors.Join(errs...)
}

// WebsocketBaseURL returns Channel.BaseURL, or the API base with its scheme
// switched to ws/wss.
func (c Config) WebsocketBaseURL() string {
	if c.Channel.BaseURL != "" {
		return strings.TrimRight(c.Channel.BaseURL, "/")
	}

	base := strings.TrimRight(c.API.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}

	return base
}
