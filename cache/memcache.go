/*
Copyright (C) 2025  MemCP Contributors

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

import (
	"sort"
	"sync"
	"time"
)

type softItem struct {
	pointer       any
	size          int64
	cleanup       func(pointer any)
	getLastUsed   func(pointer any) time.Time
	effectiveTime time.Time
}

// MemManager is a memory-budget-limited cache of immutable blobs, shaped
// for lock hierarchy level 6 ("effectively immutable after write, so a
// read-clone-drop pattern suffices" — spec §5). No package in this
// module registers items with it; compaction metadata is read from disk
// through segment.ReadCompactionMetadata. Adapted from the teacher's CacheManager (storage/cache.go) which
// did the identical job for in-memory column data.
type MemManager struct {
	mu            sync.Mutex
	memoryBudget  int64
	currentMemory int64
	items         []softItem
	indexMap      map[any]int
}

func NewMemManager(memoryBudget int64) *MemManager {
	return &MemManager{
		memoryBudget: memoryBudget,
		items:        make([]softItem, 0),
		indexMap:     make(map[any]int),
	}
}

// AddItem inserts a new item, evicting older items first if the
// addition pushes the cache over budget.
func (cm *MemManager) AddItem(pointer any, size int64, cleanup func(pointer any), getLastUsed func(pointer any) time.Time) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	idx := len(cm.items)
	cm.items = append(cm.items, softItem{pointer, size, cleanup, getLastUsed, time.Now()})
	cm.indexMap[pointer] = idx
	cm.currentMemory += size
	if cm.currentMemory > cm.memoryBudget {
		cm.evict()
	}
}

// Remove drops pointer from the cache immediately, running its
// cleanup.
func (cm *MemManager) Remove(pointer any) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	idx, ok := cm.indexMap[pointer]
	if !ok {
		return
	}
	item := cm.items[idx]
	item.cleanup(item.pointer)
	cm.currentMemory -= item.size
	lastIdx := len(cm.items) - 1
	if idx != lastIdx {
		cm.items[idx] = cm.items[lastIdx]
		cm.indexMap[cm.items[idx].pointer] = idx
	}
	cm.items = cm.items[:lastIdx]
	delete(cm.indexMap, pointer)
}

// evict frees memory down to 75% of budget, oldest-accessed first.
// Must be called with cm.mu held.
func (cm *MemManager) evict() {
	target := cm.memoryBudget * 75 / 100
	for i := range cm.items {
		cm.items[i].effectiveTime = cm.items[i].getLastUsed(cm.items[i].pointer)
	}
	sort.Slice(cm.items, func(i, j int) bool {
		return cm.items[i].effectiveTime.Before(cm.items[j].effectiveTime)
	})
	i := 0
	for cm.currentMemory > target && i < len(cm.items) {
		item := cm.items[i]
		item.cleanup(item.pointer)
		cm.currentMemory -= item.size
		delete(cm.indexMap, item.pointer)
		i++
	}
	cm.items = cm.items[i:]
	for idx, item := range cm.items {
		cm.indexMap[item.pointer] = idx
	}
}
