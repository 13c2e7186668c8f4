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

import "gokernel.dev/gokernel/pkg/ksync"

type recmutexState struct {
	owner *TaskId
	count int
	queue *PriorityTaskQueue
}

// RecursiveMutex may be acquired repeatedly by its current owner without
// deadlocking; each Acquire must be matched by a Release.
type RecursiveMutex struct {
	state *ksync.SpinlockIrqSave[recmutexState]
}

// NewRecursiveMutex returns an unowned recursive mutex.
func NewRecursiveMutex() *RecursiveMutex {
	return &RecursiveMutex{
		state: ksync.NewSpinlockIrqSave(recmutexState{queue: NewPriorityTaskQueue()}),
	}
}

// Acquire takes the mutex, blocking if it is held by a different task. If
// the calling task already owns it, the hold count is simply incremented.
func (m *RecursiveMutex) Acquire(sc *PerCoreScheduler) {
	cur := sc.CurrentTask()
	for {
		guard := m.state.Lock(uint32(sc.CoreID))
		st := guard.Data()
		switch {
		case st.owner != nil && *st.owner == cur.ID:
			st.count++
			guard.Unlock()
			return
		case st.owner == nil:
			owner := cur.ID
			st.owner = &owner
			st.count = 1
			guard.Unlock()
			return
		default:
			st.queue.Push(cur.Prio, cur.ID)
			guard.Unlock()
			sc.BlockCurrent(nil, false)
			sc.Reschedule()
		}
	}
}

// Release decrements the hold count; at zero it clears ownership and wakes
// the highest-priority queued waiter, if any.
func (m *RecursiveMutex) Release(reg *Registry, sc *PerCoreScheduler) {
	guard := m.state.Lock(uint32(sc.CoreID))
	st := guard.Data()
	if st.owner == nil || *st.owner != sc.CurrentTask().ID {
		guard.Unlock()
		return // releasing a mutex the caller does not hold is a caller bug; ignored defensively
	}
	st.count--
	var wake TaskId
	var shouldWake bool
	if st.count == 0 {
		st.owner = nil
		wake, shouldWake = st.queue.Pop()
	}
	guard.Unlock()

	if !shouldWake {
		return
	}
	t := reg.Lookup(sc.CoreID, wake)
	if t == nil {
		return
	}
	target := reg.Scheduler(t.CoreID)
	if target == nil {
		return
	}
	target.customWakeup(wake)
}

// Owner returns the current owner, or false if unowned.
func (m *RecursiveMutex) Owner(sc *PerCoreScheduler) (TaskId, bool) {
	guard := m.state.Lock(uint32(sc.CoreID))
	defer guard.Unlock()
	st := guard.Data()
	if st.owner == nil {
		return 0, false
	}
	return *st.owner, true
}
