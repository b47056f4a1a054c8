/*
Copyright (C) 2025  Carl-Philip Hänsch

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
package cache

import "runtime"

// LoadSemaphore bounds the number of concurrent disk-backed metadata
// loads (segment/partition/table metadata reads that miss the cache),
// generalized from the teacher's single global loadSemaphore
// (storage/limits.go) to a constructible type so flush/compact/recovery
// can each hold their own budget without contending on one global.
type LoadSemaphore struct {
	tokens chan struct{}
}

// NewLoadSemaphore creates a semaphore with one token per CPU, the same
// default the teacher used.
func NewLoadSemaphore() *LoadSemaphore {
	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	return NewLoadSemaphoreN(workers)
}

func NewLoadSemaphoreN(n int) *LoadSemaphore {
	if n < 1 {
		n = 1
	}
	s := &LoadSemaphore{tokens: make(chan struct{}, n)}
	for i := 0; i < n; i++ {
		s.tokens <- struct{}{}
	}
	return s
}

// Acquire blocks until a load slot is available and returns a release
// func.
func (s *LoadSemaphore) Acquire() func() {
	<-s.tokens
	return func() { s.tokens <- struct{}{} }
}
