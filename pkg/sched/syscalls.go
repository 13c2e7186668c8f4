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

// This file is the core-visible syscall surface: every in-kernel path is
// infallible (panic-on-bug, see pkg/errno), but these entry points return
// a plain int32 with a negative errno on failure, matching what a libc
// binding shim expects to see across the syscall boundary.
package sched

import (
	"gokernel.dev/gokernel/pkg/arch"
	"gokernel.dev/gokernel/pkg/errno"
)

// SysGetpid returns the calling task's id.
func (sc *PerCoreScheduler) SysGetpid() int32 {
	return int32(sc.CurrentTask().ID)
}

// SysGetprio returns the calling task's priority.
func (sc *PerCoreScheduler) SysGetprio() int32 {
	return int32(sc.CurrentTask().Prio)
}

// SysSetprio is stubbed to ENOSYS: the source this is grounded on leaves
// dynamic priority change unresolved, so it is treated as unsupported
// rather than guessed at (spec §9).
func (sc *PerCoreScheduler) SysSetprio(Priority) int32 {
	return errno.ENOSYS.Negated()
}

// SysExit terminates the calling task with the given exit code. It does
// not return to its caller: Reschedule switches execution away from this
// task permanently once its status is Finished.
func (sc *PerCoreScheduler) SysExit(code int32) {
	sc.Exit(code)
}

// SysYield voluntarily gives up the remainder of the calling task's
// quantum.
func (sc *PerCoreScheduler) SysYield() {
	sc.Reschedule()
}

// SysMsleep blocks the calling task for approximately ms milliseconds,
// converted to ticks using freqHz (TIMER_FREQUENCY).
func (sc *PerCoreScheduler) SysMsleep(ms int, freqHz int) int32 {
	if ms < 0 || freqHz <= 0 {
		return errno.EINVAL.Negated()
	}
	now := arch.UpdateTimerTicks()
	deadline := now + uint64(ms)*uint64(freqHz)/1000
	sc.BlockCurrent(&deadline, false)
	sc.Reschedule()
	return 0
}

// Udelay busy-waits for approximately us microseconds using pause hints,
// rather than blocking — too short an interval to be worth a context
// switch.
func Udelay(us int) {
	for i := 0; i < us; i++ {
		arch.Pause()
	}
}

// SysClone creates a new task on the next core in round-robin order,
// returning its id.
func (sc *PerCoreScheduler) SysClone(entry EntryFunc, arg uintptr) (TaskId, int32) {
	return sc.Clone(entry, arg), 0
}

// SysSpawn creates a new task pinned to coreID.
func SysSpawn(reg *Registry, coreID CoreId, entry EntryFunc, arg uintptr, prio Priority) (TaskId, int32) {
	target := reg.Scheduler(coreID)
	if target == nil {
		return 0, errno.EINVAL.Negated()
	}
	if int(prio) >= NumPriorities {
		return 0, errno.EINVAL.Negated()
	}
	return target.Spawn(entry, arg, prio, nil), 0
}

// BlockCurrentTask suspends the calling task indefinitely (no deadline);
// only an explicit WakeupTask call can return it to Ready. Used to
// implement pthread_cond-style waits above the scheduler.
func BlockCurrentTask(sc *PerCoreScheduler) {
	sc.BlockCurrent(nil, false)
	sc.Reschedule()
}

// WakeupTask moves id from Blocked to Ready if it is currently blocked
// anywhere in the system; waking a task that is not blocked is a logged
// no-op rather than a fault (spec §9, resolving the source's undocumented
// behaviour conservatively).
func WakeupTask(reg *Registry, callerCore CoreId, id TaskId) int32 {
	t := reg.Lookup(callerCore, id)
	if t == nil {
		return errno.ESRCH.Negated()
	}
	target := reg.Scheduler(t.CoreID)
	if target == nil {
		return errno.ESRCH.Negated()
	}
	target.customWakeup(id)
	return 0
}

// Semaphore syscall surface (sys_sem_init/_destroy/_post/_wait/_timedwait/
// _cancelablewait). sys_sem_init/_destroy are just NewSemaphore and letting
// the value be garbage-collected — there is no separate kernel-side
// allocation to free in this realization.

// SysSemPost is sys_sem_post.
func (s *Semaphore) SysSemPost(reg *Registry, callerCore CoreId) int32 {
	s.Release(reg, callerCore)
	return 0
}

// SysSemWait is sys_sem_wait: an untimed blocking acquire.
func (s *Semaphore) SysSemWait(sc *PerCoreScheduler) int32 {
	if s.Acquire(sc, nil) {
		return 0
	}
	return errno.ETIMEDOUT.Negated()
}

// SysSemTimedwait is sys_sem_timedwait(ms).
func (s *Semaphore) SysSemTimedwait(sc *PerCoreScheduler, ms int, freqHz int) int32 {
	now := arch.UpdateTimerTicks()
	deadline := now + uint64(ms)*uint64(freqHz)/1000
	if s.Acquire(sc, &deadline) {
		return 0
	}
	return errno.ETIMEDOUT.Negated()
}

// SysSemCancelablewait is sys_sem_cancelablewait.
func (s *Semaphore) SysSemCancelablewait(sc *PerCoreScheduler) int32 {
	if s.CancelableWait(sc, nil) {
		return 0
	}
	return errno.ETIMEDOUT.Negated()
}

// RecursiveMutex syscall surface (sys_recmutex_init/_destroy/_lock/
// _unlock); init/destroy again reduce to construction/garbage collection.

// SysRecmutexLock is sys_recmutex_lock.
func (m *RecursiveMutex) SysRecmutexLock(sc *PerCoreScheduler) int32 {
	m.Acquire(sc)
	return 0
}

// SysRecmutexUnlock is sys_recmutex_unlock.
func (m *RecursiveMutex) SysRecmutexUnlock(reg *Registry, sc *PerCoreScheduler) int32 {
	m.Release(reg, sc)
	return 0
}
