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

// Package snapshot fetches the full current state of a topic from the
// backend's REST endpoints.
package snapshot

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/livestatus/pkg/communicator/safejson"
	"github.com/united-manufacturing-hub/livestatus/pkg/constants"
	"github.com/united-manufacturing-hub/livestatus/pkg/models"
)

type Endpoint string

// KindEndpoint is the snapshot endpoint of one topic.
func KindEndpoint(kind models.Kind, entityID int64) Endpoint {
	return Endpoint(fmt.Sprintf("/api/v1/%s/%d", kind, entityID))
}

// ErrUnauthorized is returned for 401 responses.
var ErrUnauthorized = errors.New("unauthorized: the auth token is missing, invalid or expired")

var (
	secureOnce, insecureOnce             sync.Once
	secureHTTPClient, insecureHTTPClient *http.Client
)

// GetClient returns the shared HTTP client. HTTP/2 is disabled.
func GetClient(insecureTLS bool) *http.Client {
	if insecureTLS {
		insecureOnce.Do(func() {
			insecureHTTPClient = newClient(&tls.Config{InsecureSkipVerify: true}) //nolint:gosec // opt-in for self-signed dev backends
		})
		return insecureHTTPClient
	}

	secureOnce.Do(func() {
		secureHTTPClient = newClient(nil)
	})
	return secureHTTPClient
}

func newClient(tlsConfig *tls.Config) *http.Client {
	transport := &http.Transport{
		ForceAttemptHTTP2: false,
		TLSNextProto:      make(map[string]func(authority string, c *tls.Conn) http.RoundTripper),
		TLSClientConfig:   tlsConfig,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   constants.FetchTimeout,
	}
}

// enhanceConnectionError adds detailed context to common connection errors
func enhanceConnectionError(err error) error {
	switch {
	case strings.Contains(err.Error(), "EOF"):
		return fmt.Errorf("connection closed unexpectedly before receiving response: %w", err)
	case strings.Contains(err.Error(), "timeout") || strings.Contains(err.Error(), "deadline exceeded"):
		return fmt.Errorf("request timed out: %w", err)
	case strings.Contains(err.Error(), "connection refused"):
		return fmt.Errorf("connection refused: %w (server down or incorrect URL)", err)
	}

	return fmt.Errorf("connection error: %w (no response received from server, status code 0)", err)
}

// GetRequest does a GET request to the given endpoint, with optional header and cookies
func GetRequest[R any](ctx context.Context, endpoint Endpoint, header map[string]string, cookies map[string]string, insecureTLS bool, apiURL string, logger *zap.SugaredLogger) (result *R, responseErr error, statusCode int) {
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), constants.FetchTimeout)
		defer cancel()
	}

	url := strings.TrimSuffix(apiURL, "/") + string(endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err, 0
	}

	req.Header.Set("Accept", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	for k, v := range cookies {
		req.AddCookie(&http.Cookie{Name: k, Value: v})
	}

	start := time.Now()
	response, err := GetClient(insecureTLS).Do(req)
	if err != nil {
		return nil, enhanceConnectionError(err), 0
	}
	defer func() {
		if err := response.Body.Close(); err != nil {
			if responseErr != nil {
				logger.Errorf("Error closing response body: %v", err)
			} else {
				responseErr = fmt.Errorf("error closing response body: %w", err)
			}
		}
	}()

	bodyBytes, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err, response.StatusCode
	}
	logger.Debugf("GET %s returned %d after %s", endpoint, response.StatusCode, time.Since(start))

	if response.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized, response.StatusCode
	}
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return nil, errors.New("error response code: " + response.Status), response.StatusCode
	}

	if len(bodyBytes) == 0 {
		return nil, nil, response.StatusCode
	}

	var typedResult R
	if err := safejson.Unmarshal(bodyBytes, &typedResult); err != nil {
		return nil, err, response.StatusCode
	}

	return &typedResult, nil, response.StatusCode
}
