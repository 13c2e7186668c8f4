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
	"gokernel.dev/gokernel/pkg/percore"
)

// Init constructs the empty global registry. Call once, before any core
// calls AddCurrentCore.
func Init(numCores uint32) *Registry {
	reg := NewRegistry()
	reg.SetNumCores(numCores)
	return reg
}

// AddCurrentCore brings up coreID: registers its percore.Variables,
// constructs its idle task, installs a PerCoreScheduler, and wires the
// timer tick hook. Must be called exactly once per core, by a goroutine
// pinned to that core (see cmd/gokernel-demo for the OS-thread pinning
// story via runtime.LockOSThread + unix.SchedSetaffinity).
func AddCurrentCore(reg *Registry, coreID CoreId, kernelStackSize int) *PerCoreScheduler {
	v := percore.AddCore(uint32(coreID))
	v.IRQEnabled.Store(true)

	sc := newPerCoreScheduler(coreID, reg, kernelStackSize)

	idleID := reg.AllocateID(coreID)
	idle := NewTask(idleID, coreID, IdlePriority, kernelStackSize, nil)
	idle.Status = Idle
	reg.Insert(coreID, idle)
	sc.idleTask = idle
	sc.currentTask.Store(idle)

	// The tick hook registration also creates this core's wake channel,
	// which idleLoop reads as soon as the idle goroutine is resumed below.
	arch.RegisterTickHook(uint32(coreID), sc.onTick)

	idle.CreateStackFrame(func(uintptr) { sc.idleLoop() }, 0)
	idle.Run(func() {
		// The idle task's body (idleLoop) never returns; this is only
		// reached if that invariant is violated, which is a kernel bug.
		panic("sched: idle task body returned")
	})
	// Kick the idle task's goroutine into its initial park, matching every
	// other task's lifecycle: Run() starts parked on its own context, and
	// only a switchTo(idle) (done implicitly here, since idle starts as
	// current) will ever resume it. Because idle is installed as
	// currentTask directly above rather than via switchTo, its goroutine
	// must be resumed once up front.
	idle.ctx.Resume()

	reg.RegisterScheduler(coreID, sc)
	return sc
}

// idleLoop is the idle task's body: halt until poked (by a cross-core
// wakeup, a timer-driven wakeup on this core, a Spawn onto this core, or
// WakeupCore after a same-core custom wakeup raced the idle transition), then ask the
// scheduler to re-evaluate the ready queue.
func (sc *PerCoreScheduler) idleLoop() {
	wake := arch.WaitChannel(uint32(sc.CoreID))
	for {
		<-wake
		sc.Reschedule()
	}
}
