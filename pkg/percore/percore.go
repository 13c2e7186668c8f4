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

// Package percore implements per-core storage. On real hardware this is
// reached through a segment/register base (GS on x86_64, TPIDR on aarch64,
// gp on riscv) so that each logical CPU resolves the same instruction
// sequence to a different physical location without locking. Go has no
// first-class thread-local storage, so this package instead hands each
// core a fixed slot in a preallocated array, indexed by core ID; the
// uniqueness invariant ("never aliased across cores") is enforced by
// construction, not by hardware: only AddCore, called exactly once per
// core during bootstrap, may populate a slot.
package percore

import "sync/atomic"

// MaxCores bounds the number of logical CPUs this build supports. It is a
// compile-time-ish constant the way NUM_PRIORITIES is: wide enough for any
// realistic guest, fixed so slot lookups stay O(1) and lock-free.
const MaxCores = 256

// Variables is the per-core state reached without locking from both task
// context and the timer-tick path of the owning core. Only the owning core
// ever writes through a pointer returned by Get; other cores may read it
// (e.g. to inspect whether a remote core is halted) but must not mutate it.
type Variables struct {
	CoreID uint32

	// IRQEnabled mirrors the architectural interrupt-enable flag for this
	// core. It gates whether the timer hook's preemption signal is
	// allowed to reach this core's scheduler (see arch.NestedDisable).
	IRQEnabled atomic.Bool
}

var slots [MaxCores]atomic.Pointer[Variables]

// AddCore installs the Variables block for coreID. Called exactly once per
// core during scheduler.AddCurrentCore; panics on a duplicate registration
// since that would indicate two cores racing to boot with the same ID.
func AddCore(coreID uint32) *Variables {
	if coreID >= MaxCores {
		panic("percore: core id out of range")
	}
	v := &Variables{CoreID: coreID}
	v.IRQEnabled.Store(true)
	if !slots[coreID].CompareAndSwap(nil, v) {
		panic("percore: core already registered")
	}
	return v
}

// Get returns the Variables block for coreID, or nil if the core has not
// been registered with AddCore yet.
func Get(coreID uint32) *Variables {
	if coreID >= MaxCores {
		return nil
	}
	return slots[coreID].Load()
}
