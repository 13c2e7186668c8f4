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
	"gokernel.dev/gokernel/pkg/arch"
	"gokernel.dev/gokernel/pkg/ksync"
)

type semState struct {
	count int
	queue *PriorityTaskQueue
}

// Semaphore is a counting semaphore built on a PriorityTaskQueue of its own
// waiters plus the owning core's BlockedTaskQueue for timer integration.
type Semaphore struct {
	state *ksync.SpinlockIrqSave[semState]
}

// NewSemaphore returns a semaphore initialised to count permits.
func NewSemaphore(count int) *Semaphore {
	return &Semaphore{
		state: ksync.NewSpinlockIrqSave(semState{count: count, queue: NewPriorityTaskQueue()}),
	}
}

// Acquire blocks until a permit is available or deadline (if non-nil)
// passes. It returns true if a permit was taken, false on timeout.
func (s *Semaphore) Acquire(sc *PerCoreScheduler, deadline *arch.Ticks) bool {
	cur := sc.CurrentTask()
	cur.LastWakeupReason = Custom

	for {
		guard := s.state.Lock(uint32(sc.CoreID))
		st := guard.Data()
		if st.count > 0 {
			st.count--
			guard.Unlock()
			return true
		}
		if cur.LastWakeupReason == Timer {
			guard.Unlock()
			return false
		}
		sc.BlockCurrent(deadline, false)
		st.queue.Push(cur.Prio, cur.ID)
		guard.Unlock()

		sc.Reschedule()
	}
}

// TryAcquire makes a single non-blocking attempt, returning true if a
// permit was taken.
func (s *Semaphore) TryAcquire(sc *PerCoreScheduler) bool {
	guard := s.state.Lock(uint32(sc.CoreID))
	st := guard.Data()
	if st.count > 0 {
		st.count--
		guard.Unlock()
		return true
	}
	guard.Unlock()
	return false
}

// CancelableWait is Acquire's interruptible variant (sys_sem_cancelablewait,
// mentioned but not elaborated by spec §6): it behaves like Acquire except
// the blocked-queue entry is marked interruptible, so a targeted
// wakeup_task call cancels the wait even absent a release() or deadline.
// Release() pops the waiter from the semaphore's own queue before waking
// it; a plain wakeup_task does not, so CancelableWait tells the two apart
// by checking whether it is still present in that queue after waking.
func (s *Semaphore) CancelableWait(sc *PerCoreScheduler, deadline *arch.Ticks) bool {
	cur := sc.CurrentTask()
	cur.LastWakeupReason = Custom

	for {
		guard := s.state.Lock(uint32(sc.CoreID))
		st := guard.Data()
		if st.count > 0 {
			st.count--
			guard.Unlock()
			return true
		}
		if cur.LastWakeupReason == Timer {
			guard.Unlock()
			return false
		}
		sc.BlockCurrent(deadline, true)
		st.queue.Push(cur.Prio, cur.ID)
		guard.Unlock()

		sc.Reschedule()

		if cur.LastWakeupReason == Custom && s.removeIfWaiting(sc, cur.ID) {
			return false // woken by wakeup_task, not Release: treat as cancelled
		}
	}
}

// removeIfWaiting reports whether id is still enqueued in this semaphore's
// own waiter queue and, if so, removes it. PriorityTaskQueue has no
// peek/remove-by-id; a cancelable wait is rare enough that a linear scan
// and rebuild under the lock is acceptable.
func (s *Semaphore) removeIfWaiting(sc *PerCoreScheduler, id TaskId) bool {
	guard := s.state.Lock(uint32(sc.CoreID))
	defer guard.Unlock()
	st := guard.Data()

	rebuilt := NewPriorityTaskQueue()
	found := false
	for p := 0; p < NumPriorities; p++ {
		for e := st.queue.levels[p].Front(); e != nil; e = e.Next() {
			waiterID := e.Value.(TaskId)
			if waiterID == id {
				found = true
				continue
			}
			rebuilt.Push(Priority(p), waiterID)
		}
	}
	if found {
		st.queue = rebuilt
	}
	return found
}

// Release adds a permit and, if any task is waiting, wakes the
// highest-priority one. reg resolves the waiter's owning core, since
// CancelableWait/Acquire waiters may live on a different core than the
// releaser.
func (s *Semaphore) Release(reg *Registry, callerCore CoreId) {
	guard := s.state.Lock(uint32(callerCore))
	st := guard.Data()
	st.count++
	id, ok := st.queue.Pop()
	guard.Unlock()
	if !ok {
		return
	}
	t := reg.Lookup(callerCore, id)
	if t == nil {
		return
	}
	target := reg.Scheduler(t.CoreID)
	if target == nil {
		return
	}
	target.customWakeup(id)
}
