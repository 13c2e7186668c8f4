// Copyright 2018 The gVisor Authors.
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

package sched

import (
	"github.com/google/btree"

	"gokernel.dev/gokernel/pkg/arch"
)

// blockedEntry is one waiting task: keyed by (deadline, sequence) so the
// btree orders tasks by wake-up deadline, tasks without a deadline falling
// to the tail, and ties among same-deadline (or both-nil-deadline) entries
// broken by admission order.
type blockedEntry struct {
	id            TaskId
	deadline      *arch.Ticks
	seq           uint64
	interruptible bool
}

// Less implements btree.Item.
func (a *blockedEntry) Less(than btree.Item) bool {
	b := than.(*blockedEntry)
	switch {
	case a.deadline != nil && b.deadline != nil:
		if *a.deadline != *b.deadline {
			return *a.deadline < *b.deadline
		}
		return a.seq < b.seq
	case a.deadline == nil && b.deadline == nil:
		return a.seq < b.seq
	case a.deadline == nil:
		return false // a has no deadline: sorts after any deadline-bearing b
	default:
		return true // b has no deadline: a (deadline-bearing) sorts first
	}
}

// BlockedTaskQueue holds tasks suspended on a deadline, a signal, or both.
// Each per-core scheduler owns exactly one.
type BlockedTaskQueue struct {
	tree    *btree.BTree
	byID    map[TaskId]*blockedEntry
	nextSeq uint64
}

// NewBlockedTaskQueue returns an empty queue.
func NewBlockedTaskQueue() *BlockedTaskQueue {
	return &BlockedTaskQueue{
		tree: btree.New(8),
		byID: make(map[TaskId]*blockedEntry),
	}
}

// Add inserts id, optionally with an absolute wake-up deadline (nil means
// "wait indefinitely for a custom wakeup"). interruptible marks the entry
// eligible for a cancelable wait (sys_sem_cancelablewait) in addition to
// ordinary deadline/custom wakeups.
func (q *BlockedTaskQueue) Add(id TaskId, deadline *arch.Ticks, interruptible bool) {
	e := &blockedEntry{id: id, deadline: deadline, seq: q.nextSeq, interruptible: interruptible}
	q.nextSeq++
	q.tree.ReplaceOrInsert(e)
	q.byID[id] = e
}

// remove deletes id from both indexes if present, returning the removed
// entry.
func (q *BlockedTaskQueue) remove(id TaskId) *blockedEntry {
	e, ok := q.byID[id]
	if !ok {
		return nil
	}
	delete(q.byID, id)
	q.tree.Delete(e)
	return e
}

// HandleWaitingTasks pops every entry whose deadline has passed (deadline
// != nil && deadline <= now) and returns their ids with Timer as the
// wakeup reason, in deadline order. Called from the timer-tick path.
func (q *BlockedTaskQueue) HandleWaitingTasks(now arch.Ticks) []TaskId {
	var expired []*blockedEntry
	q.tree.Ascend(func(item btree.Item) bool {
		e := item.(*blockedEntry)
		if e.deadline == nil {
			return false // no-deadline entries sort last; nothing further can expire
		}
		if *e.deadline > now {
			return false
		}
		expired = append(expired, e)
		return true
	})
	ids := make([]TaskId, 0, len(expired))
	for _, e := range expired {
		q.remove(e.id)
		ids = append(ids, e.id)
	}
	return ids
}

// WakeupByID removes id if it is currently blocked and reports whether it
// was found. It is the id-addressed variant used both by the wakeup_task
// syscall and by the signalling primitives (Semaphore.Release,
// RecursiveMutex.Release); waking a task that is not blocked is a
// documented no-op.
func (q *BlockedTaskQueue) WakeupByID(id TaskId) bool {
	return q.remove(id) != nil
}

// Interruptible reports whether id is blocked with the interruptible flag
// set, for sys_sem_cancelablewait's cancellation path.
func (q *BlockedTaskQueue) Interruptible(id TaskId) bool {
	e, ok := q.byID[id]
	return ok && e.interruptible
}

// Len returns the number of currently blocked tasks.
func (q *BlockedTaskQueue) Len() int {
	return q.tree.Len()
}
