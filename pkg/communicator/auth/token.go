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

// Package auth provides the token the engine authenticates with on both
// the push channel and the snapshot endpoints.
package auth

import "sync"

// TokenSource returns the current auth token. ok is false while the user
// is not authenticated yet.
type TokenSource interface {
	Token() (token string, ok bool)
}

// StaticToken is a fixed token. The empty string means "no token".
type StaticToken string

func (t StaticToken) Token() (string, bool) {
	return string(t), t != ""
}

// MutableToken is a token that can be swapped at runtime, e.g. after a
// login or a refresh.
type MutableToken struct {
	mu    sync.RWMutex
	token string
}

func NewMutableToken(token string) *MutableToken {
	return &MutableToken{token: token}
}

func (t *MutableToken) Token() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.token, t.token != ""
}

func (t *MutableToken) Set(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.token = token
}

// Clear drops the token, e.g. on logout.
func (t *MutableToken) Clear() {
	t.Set("")
}
