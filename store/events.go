/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package store

import (
	"github.com/google/uuid"

	"github.com/segcolumn/segstore/schema"
)

// EventKind names one stage of a segment's lifecycle (spec §3) worth
// telling an external observer about.
type EventKind string

const (
	EventSegmentCreated EventKind = "segment_created"
	EventSegmentCold    EventKind = "segment_cold"
	EventSegmentFlushed EventKind = "segment_flushed"
	EventSegmentCompact EventKind = "segment_compacted"
)

// Event is one lifecycle notification, handed to every registered
// Notifier in the order it happened.
type Event struct {
	Kind  EventKind
	Table string
	Key   schema.PartitionKey
	ID    uuid.UUID
}

// Notifier receives segment lifecycle events; it must not block: a slow
// notifier delays the request that triggered it, and segment_created is
// emitted while the Store's active-segment lock is held, so it also
// delays every other write waiting on that lock.
type Notifier func(Event)

// Notify registers an additional Notifier; all registered notifiers
// run, in registration order, for every event this Store emits. This
// is how rpc's websocket hub (SPEC_FULL §B: gorilla/websocket for
// segment-lifecycle notification) learns about segment activity
// without store importing rpc.
func (s *Store) Notify(n Notifier) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.notifiers = append(s.notifiers, n)
}

func (s *Store) emit(ev Event) {
	s.notifyMu.Lock()
	ns := s.notifiers
	s.notifyMu.Unlock()
	for _, n := range ns {
		n(ev)
	}
}
