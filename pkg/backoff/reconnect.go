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

package backoff

import (
	"sync"
	"time"

	cenkalti "github.com/cenkalti/backoff"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/livestatus/pkg/constants"
)

// ReconnectPolicy decides how long to wait before the next reconnect
// attempt of a channel. It retries with a constant interval and gives up
// after a bounded number of attempts. Reset must be called after every
// successful open.
type ReconnectPolicy struct {
	mu       sync.Mutex
	interval time.Duration
	max      uint64
	attempts uint64
	backoff  cenkalti.BackOff
	id       string
	logger   *zap.SugaredLogger
}

// NewReconnectPolicy returns a policy that waits interval between attempts
// and allows at most maxAttempts attempts.
func NewReconnectPolicy(id string, interval time.Duration, maxAttempts uint64, logger *zap.SugaredLogger) *ReconnectPolicy {
	if interval <= 0 {
		interval = constants.ReconnectInterval
	}

	p := &ReconnectPolicy{
		interval: interval,
		max:      maxAttempts,
		id:       id,
		logger:   logger,
	}
	p.backoff = cenkalti.WithMaxRetries(cenkalti.NewConstantBackOff(interval), maxAttempts)

	return p
}

// Next returns the wait before the next attempt, or false once the
// attempt budget is exhausted.
func (p *ReconnectPolicy) Next() (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	wait := p.backoff.NextBackOff()
	if wait == cenkalti.Stop {
		if p.logger != nil {
			p.logger.Warnf("Channel %s gave up reconnecting after %d attempts", p.id, p.attempts)
		}
		return 0, false
	}

	p.attempts++
	if p.logger != nil {
		p.logger.Debugf("Channel %s reconnect attempt %d/%d in %s", p.id, p.attempts, p.max, wait)
	}

	return wait, true
}

// Reset restores the full attempt budget.
func (p *ReconnectPolicy) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts = 0
	p.backoff.Reset()
}

// Attempts returns the number of attempts handed out since the last reset.
func (p *ReconnectPolicy) Attempts() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.attempts
}
