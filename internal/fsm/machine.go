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

// Package fsm wraps looplab/fsm with the conventions shared by the
// channel and poll state machines: a transition table, logged transitions
// and safe concurrent reads of the current state.
package fsm

import (
	"context"
	"errors"
	"sync"

	"github.com/looplab/fsm"
	"go.uber.org/zap"
)

// MachineConfig holds parameters for setting up a Machine.
type MachineConfig struct {
	// ID names the machine in log lines, usually the topic.
	ID string
	// InitialState is the state the machine starts in.
	InitialState string
	// Transitions is the transition table.
	Transitions []fsm.EventDesc
}

// Machine is a small finite state machine. Side effects belong in the
// owning component.
type Machine struct {
	cfg MachineConfig

	// mu serialises events and protects reads of the current state
	mu sync.RWMutex

	fsm *fsm.FSM

	logger *zap.SugaredLogger
}

// NewMachine sets up a new Machine from its transition table.
func NewMachine(cfg MachineConfig, logger *zap.SugaredLogger) *Machine {
	m := &Machine{
		cfg:    cfg,
		logger: logger,
	}

	m.fsm = fsm.NewFSM(
		cfg.InitialState,
		fsm.Events(cfg.Transitions),
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.logger.Debugf("FSM %s: %s -> %s (%s)", m.cfg.ID, e.Src, e.Dst, e.Event)
			},
		},
	)

	return m
}

// SendEvent fires an event. An event whose source and destination are the
// same state is a self-loop and not an error.
func (m *Machine) SendEvent(ctx context.Context, event string, args ...interface{}) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	err := m.fsm.Event(ctx, event, args...)

	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}

	return err
}

// Current returns the current state.
func (m *Machine) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fsm.Current()
}

// Is returns whether the machine is in state.
func (m *Machine) Is(state string) bool {
	return m.Current() == state
}
