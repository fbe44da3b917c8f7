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

package cache

import (
	"sync"

	"github.com/google/uuid"

	"github.com/united-manufacturing-hub/livestatus/pkg/constants"
)

// Watch streams changes of one key. The buffer keeps the newest changes;
// a slow reader loses the oldest pending change, never the subscription.
type Watch struct {
	id    uuid.UUID
	key   Key
	ch    chan Change
	store *MemoryStore
	once  sync.Once
}

// Subscribe marks key as observed and returns a watch on it. While a key
// has watchers it is never garbage collected.
func (s *MemoryStore) Subscribe(key Key) *Watch {
	w := &Watch{
		id:    uuid.New(),
		key:   key,
		ch:    make(chan Change, constants.SubscriberBufferSize),
		store: s,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, observed := s.watchers[key]; !observed {
		if e := s.load(key); e != nil {
			s.active[key] = e
			s.pool.Set(key, nil)
		}
		s.watchers[key] = make(map[uuid.UUID]*Watch)
	}
	s.watchers[key][w.id] = w

	return w
}

// Changes returns the change stream. It is closed by Close.
func (w *Watch) Changes() <-chan Change {
	return w.ch
}

func (w *Watch) Key() Key {
	return w.key
}

// Close stops the watch. The key moves back to the expiring pool once the
// last watch is closed. Safe to call more than once.
func (w *Watch) Close() {
	w.once.Do(func() {
		s := w.store
		s.mu.Lock()
		defer s.mu.Unlock()

		ws := s.watchers[w.key]
		delete(ws, w.id)
		if len(ws) == 0 {
			delete(s.watchers, w.key)
			if e, ok := s.active[w.key]; ok {
				delete(s.active, w.key)
				s.pool.Set(w.key, e)
			}
		}
		close(w.ch)
	})
}

// notify delivers c to every watcher of key. Callers hold mu.
func (s *MemoryStore) notify(key Key, c Change) {
	for _, w := range s.watchers[key] {
		select {
		case w.ch <- c:
		default:
			select {
			case <-w.ch:
			default:
			}
			select {
			case w.ch <- c:
			default:
			}
		}
	}
}
