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
	"sync/atomic"

	"gokernel.dev/gokernel/pkg/arch"
	"gokernel.dev/gokernel/pkg/errno"
	"gokernel.dev/gokernel/pkg/ksync"
	"gokernel.dev/gokernel/pkg/log"
	"gokernel.dev/gokernel/pkg/mm"
)

// PerCoreScheduler is the run loop for one logical CPU. Only the task
// goroutine currently "running" on this core (i.e. the one last resumed by
// switchTo) ever calls Reschedule/switchTo/CleanupTasks/Spawn/Exit/
// FpuSwitch; readyQueue, blockedTasks and finishedTasks are additionally
// reachable from other cores (Clone, customWakeup) and from the timer tick
// path, so they carry their own IRQ-save locks.
type PerCoreScheduler struct {
	CoreID CoreId

	reg             *Registry
	kernelStackSize int

	currentTask atomic.Pointer[Task]
	idleTask    *Task
	fpuOwner    atomic.Pointer[Task]

	readyQueue     *ksync.SpinlockIrqSave[*PriorityTaskQueue]
	blockedTasks   *ksync.SpinlockIrqSave[*BlockedTaskQueue]
	finishedTasks  *ksync.SpinlockIrqSave[[]TaskId]
	liveTasks      atomic.Int64
	lastSwitchTick atomic.Uint64
}

func newPerCoreScheduler(coreID CoreId, reg *Registry, kernelStackSize int) *PerCoreScheduler {
	return &PerCoreScheduler{
		CoreID:          coreID,
		reg:             reg,
		kernelStackSize: kernelStackSize,
		readyQueue:      ksync.NewSpinlockIrqSave(NewPriorityTaskQueue()),
		blockedTasks:    ksync.NewSpinlockIrqSave(NewBlockedTaskQueue()),
		finishedTasks:   ksync.NewSpinlockIrqSave([]TaskId(nil)),
	}
}

// CurrentTask returns the task currently occupying this core.
func (sc *PerCoreScheduler) CurrentTask() *Task {
	return sc.currentTask.Load()
}

// BlockedTasks exposes this core's blocked queue to package-level blocking
// primitives (Semaphore, RecursiveMutex, block_current_task).
func (sc *PerCoreScheduler) BlockedTasks() *ksync.SpinlockIrqSave[*BlockedTaskQueue] {
	return sc.blockedTasks
}

func (sc *PerCoreScheduler) isIdleRunning() bool {
	return sc.currentTask.Load() == sc.idleTask
}

func (sc *PerCoreScheduler) pushReady(prio Priority, id TaskId) {
	guard := sc.readyQueue.Lock(uint32(sc.CoreID))
	(*guard.Data()).Push(prio, id)
	guard.Unlock()
}

func (sc *PerCoreScheduler) popReadyAny() (TaskId, bool) {
	return sc.popReadyMin(0)
}

func (sc *PerCoreScheduler) popReadyMin(min int) (TaskId, bool) {
	if min >= NumPriorities {
		return 0, false
	}
	guard := sc.readyQueue.Lock(uint32(sc.CoreID))
	id, ok := (*guard.Data()).PopWithPrio(Priority(min))
	guard.Unlock()
	return id, ok
}

func (sc *PerCoreScheduler) pushFinished(id TaskId) {
	guard := sc.finishedTasks.Lock(uint32(sc.CoreID))
	*guard.Data() = append(*guard.Data(), id)
	guard.Unlock()
}

// Spawn creates a new task on this core, running entry(arg) at prio, with
// an optional per-task heap window. Returns the new task's id. This is not
// a preemption point; if this core is running its idle task, the core is
// poked so the idle loop notices the new arrival.
func (sc *PerCoreScheduler) Spawn(entry EntryFunc, arg uintptr, prio Priority, heap *mm.Region) TaskId {
	id := sc.reg.AllocateID(sc.CoreID)
	t := NewTask(id, sc.CoreID, prio, sc.kernelStackSize, heap)
	t.Status = Ready
	sc.reg.Insert(sc.CoreID, t)
	t.CreateStackFrame(entry, arg)
	t.Run(func() { sc.doExit(t, 0) })
	sc.liveTasks.Add(1)
	sc.pushReady(prio, id)
	if sc.isIdleRunning() {
		arch.WakeupCore(uint32(sc.CoreID))
	}
	return id
}

// Clone creates a new task on the next core in round-robin order, copying
// the calling task's priority. If the target core is currently idle it is
// poked to notice the new arrival.
func (sc *PerCoreScheduler) Clone(entry EntryFunc, arg uintptr) TaskId {
	cur := sc.CurrentTask()
	targetCoreID := sc.reg.NextCore(sc.reg.numCores.Load())
	target := sc.reg.Scheduler(targetCoreID)
	if target == nil {
		errno.Panicf("sched: clone selected core %d which has not called AddCurrentCore", targetCoreID)
	}

	id := sc.reg.AllocateID(targetCoreID)
	t := NewTask(id, targetCoreID, cur.Prio, target.kernelStackSize, nil)
	t.Status = Ready
	sc.reg.Insert(targetCoreID, t)
	t.CreateStackFrame(entry, arg)
	t.Run(func() { target.doExit(t, 0) })
	target.liveTasks.Add(1)
	target.pushReady(t.Prio, id)
	if target.isIdleRunning() {
		arch.WakeupCore(uint32(targetCoreID))
	}
	return id
}

// Exit marks the calling task Finished and reschedules away from it
// permanently; it must not return. Calling it as the idle task is a
// precondition violation.
func (sc *PerCoreScheduler) Exit(code int32) {
	cur := sc.CurrentTask()
	if cur == sc.idleTask {
		errno.Panicf("sched: idle task on core %d called exit", sc.CoreID)
	}
	sc.doExit(cur, code)
}

func (sc *PerCoreScheduler) doExit(t *Task, code int32) {
	t.ExitCode = code
	t.Status = Finished
	sc.liveTasks.Add(-1)
	sc.Reschedule()
}

// FpuSwitch lazily transfers FPU ownership to t, saving the previous
// owner's state first. Called from the (simulated) FPU-unavailable fault
// path, not on every context switch.
func (sc *PerCoreScheduler) FpuSwitch(t *Task) {
	prev := sc.fpuOwner.Load()
	if prev == t {
		return
	}
	if prev != nil {
		prev.Fpu.Save()
	}
	t.Fpu.Restore()
	sc.fpuOwner.Store(t)
}

// CleanupTasks drains up to one finished task, releasing its stacks, TLS
// and heap and removing it from the global registry.
func (sc *PerCoreScheduler) CleanupTasks() {
	guard := sc.finishedTasks.Lock(uint32(sc.CoreID))
	data := guard.Data()
	if len(*data) == 0 {
		guard.Unlock()
		return
	}
	id := (*data)[0]
	*data = (*data)[1:]
	guard.Unlock()

	t := sc.reg.Lookup(sc.CoreID, id)
	if t == nil {
		return
	}
	t.Status = Invalid
	mm.Free(t.Stacks.Stack)
	mm.Free(t.Stacks.IST)
	if t.TLS != nil {
		t.TLS.Release()
	}
	if t.Heap != nil {
		mm.Free(t.Heap)
	}
	sc.reg.Remove(sc.CoreID, id)
}

func (sc *PerCoreScheduler) quantumExpired() bool {
	return arch.UpdateTimerTicks() > sc.lastSwitchTick.Load()
}

// Reschedule is the scheduling decision point: clean up one finished task,
// then pick a candidate per spec priority rules and switch to it if one was
// found. It is a no-op if the ready queue is empty and the current task is
// still Running (testable property 8).
func (sc *PerCoreScheduler) Reschedule() {
	sc.CleanupTasks()

	wasOn := arch.NestedDisable(uint32(sc.CoreID))
	defer arch.NestedEnable(uint32(sc.CoreID), wasOn)

	cur := sc.CurrentTask()
	prio, status := cur.Prio, cur.Status

	var candidate TaskId
	var found bool
	if status == Running {
		candidate, found = sc.popReadyMin(int(prio) + 1)
		if !found && sc.quantumExpired() {
			candidate, found = sc.popReadyMin(int(prio))
		}
	} else {
		candidate, found = sc.popReadyAny()
		if !found && cur != sc.idleTask {
			candidate, found = sc.idleTask.ID, true
		}
	}

	if !found {
		return
	}
	next := sc.reg.Lookup(sc.CoreID, candidate)
	if next == nil {
		log.Warningf("sched: core %d picked candidate %d which is no longer in the registry", sc.CoreID, candidate)
		return
	}
	sc.switchTo(next)
}

// switchTo performs the five steps of spec step switch_to: requeue the
// outgoing task (if still runnable) or retire it (if finished), promote the
// incoming task to Running (unless it is the idle task), install it as
// current, stamp the switch tick, and hand off execution.
func (sc *PerCoreScheduler) switchTo(next *Task) {
	cur := sc.CurrentTask()

	switch cur.Status {
	case Running:
		cur.Status = Ready
		sc.pushReady(cur.Prio, cur.ID)
	case Finished:
		cur.Status = Invalid
		sc.pushFinished(cur.ID)
	}

	if next.Status != Idle {
		next.Status = Running
	}
	sc.currentTask.Store(next)
	sc.lastSwitchTick.Store(arch.UpdateTimerTicks())

	SwitchTo(cur, next)
}

// BlockCurrent moves the calling task from Running to Blocked and inserts
// it into this core's blocked queue. The caller must follow with
// Reschedule to actually suspend.
func (sc *PerCoreScheduler) BlockCurrent(deadline *arch.Ticks, interruptible bool) {
	cur := sc.CurrentTask()
	cur.Status = Blocked
	guard := sc.blockedTasks.Lock(uint32(sc.CoreID))
	(*guard.Data()).Add(cur.ID, deadline, interruptible)
	guard.Unlock()
}

// customWakeup moves id from this core's blocked queue to its ready queue
// with WakeupReason Custom, logging (not failing) if id was not blocked.
func (sc *PerCoreScheduler) customWakeup(id TaskId) {
	guard := sc.blockedTasks.Lock(uint32(sc.CoreID))
	found := (*guard.Data()).WakeupByID(id)
	guard.Unlock()
	if !found {
		log.Warningf("sched: wakeup_task(%d) on core %d: task not blocked, ignoring", id, sc.CoreID)
		return
	}
	sc.readyAfterWakeup(id, Custom)
}

// onTick is this core's TickHook, registered with package arch during
// AddCurrentCore. It drains expired deadlines from the blocked queue and
// moves them to Ready with WakeupReason Timer.
func (sc *PerCoreScheduler) onTick(now arch.Ticks) {
	guard := sc.blockedTasks.Lock(uint32(sc.CoreID))
	expired := (*guard.Data()).HandleWaitingTasks(now)
	guard.Unlock()
	for _, id := range expired {
		sc.readyAfterWakeup(id, Timer)
	}
}

func (sc *PerCoreScheduler) readyAfterWakeup(id TaskId, reason WakeupReason) {
	t := sc.reg.Lookup(sc.CoreID, id)
	if t == nil {
		return
	}
	t.Status = Ready
	t.LastWakeupReason = reason
	sc.pushReady(t.Prio, id)
	if sc.isIdleRunning() {
		arch.WakeupCore(uint32(sc.CoreID))
	}
}
