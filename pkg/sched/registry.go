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
	"time"

	"github.com/cenkalti/backoff"

	"gokernel.dev/gokernel/pkg/errno"
	"gokernel.dev/gokernel/pkg/ksync"
)

// Registry is the process-wide TaskId -> Task mapping plus the CoreId ->
// PerCoreScheduler mapping. There is exactly one instance, built by Init
// and populated by AddCurrentCore / the spawn path.
type Registry struct {
	tasks      *ksync.SpinlockIrqSave[map[TaskId]*Task]
	schedulers *ksync.SpinlockIrqSave[map[CoreId]*PerCoreScheduler]
	tidCounter atomic.Uint32
	nextCPU    atomic.Uint32
	numCores   atomic.Uint32
}

// SetNumCores records the total number of cores that will call
// AddCurrentCore, so NextCore can wrap correctly. Called once during boot
// before any core is brought up.
func (r *Registry) SetNumCores(n uint32) {
	r.numCores.Store(n)
}

// NewRegistry returns an empty registry. Exactly one should exist per
// process; it is constructed by Init.
func NewRegistry() *Registry {
	return &Registry{
		tasks:      ksync.NewSpinlockIrqSave(make(map[TaskId]*Task)),
		schedulers: ksync.NewSpinlockIrqSave(make(map[CoreId]*PerCoreScheduler)),
	}
}

// allocRetries bounds how many times AllocateID retries on a collision
// before giving up; collisions are only expected at TaskId wrap-around, so
// a small bound is generous.
const allocRetries = 64

// AllocateID returns a TaskId not currently present in the registry,
// retrying (with a short backoff) on the rare collision at counter
// wrap-around.
func (r *Registry) AllocateID(coreID CoreId) TaskId {
	var id TaskId
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Microsecond), allocRetries)
	err := backoff.Retry(func() error {
		candidate := TaskId(r.tidCounter.Add(1))
		guard := r.tasks.Lock(uint32(coreID))
		_, collided := (*guard.Data())[candidate]
		guard.Unlock()
		if collided {
			return errno.ETIMEDOUT // any error triggers a retry; this one happens to double as ETIMEDOUT's zero-cost reuse
		}
		id = candidate
		return nil
	}, b)
	if err != nil {
		errno.Panicf("sched: exhausted %d retries allocating a TaskId", allocRetries)
	}
	return id
}

// Insert adds t to the registry, keyed by t.ID.
func (r *Registry) Insert(coreID CoreId, t *Task) {
	guard := r.tasks.Lock(uint32(coreID))
	(*guard.Data())[t.ID] = t
	guard.Unlock()
}

// Remove deletes id from the registry, releasing the Task's owned
// resources (stacks, TLS) as a side effect of the caller dropping its last
// reference.
func (r *Registry) Remove(coreID CoreId, id TaskId) {
	guard := r.tasks.Lock(uint32(coreID))
	delete(*guard.Data(), id)
	guard.Unlock()
}

// Lookup returns the task for id, or nil if not present.
func (r *Registry) Lookup(coreID CoreId, id TaskId) *Task {
	guard := r.tasks.Lock(uint32(coreID))
	t := (*guard.Data())[id]
	guard.Unlock()
	return t
}

// Len reports the number of live tasks.
func (r *Registry) Len(coreID CoreId) int {
	guard := r.tasks.Lock(uint32(coreID))
	n := len(*guard.Data())
	guard.Unlock()
	return n
}

// RegisterScheduler installs sched as the owner of coreID. Called exactly
// once per core, during AddCurrentCore.
func (r *Registry) RegisterScheduler(coreID CoreId, sched *PerCoreScheduler) {
	guard := r.schedulers.Lock(uint32(coreID))
	if _, exists := (*guard.Data())[coreID]; exists {
		guard.Unlock()
		errno.Panicf("sched: core %d registered twice", coreID)
	}
	(*guard.Data())[coreID] = sched
	guard.Unlock()
}

// Scheduler returns the scheduler owning coreID, or nil if that core has
// not called AddCurrentCore yet. SCHEDULERS is populated once at boot and
// never mutated afterward, but every lookup still takes the schedulers
// IRQ-save spinlock; lookups are not lock-free.
func (r *Registry) Scheduler(coreID CoreId) *PerCoreScheduler {
	guard := r.schedulers.Lock(uint32(coreID))
	s := (*guard.Data())[coreID]
	guard.Unlock()
	return s
}

// NextCore returns the next core id in round-robin order, wrapping at
// numCores. Core ids are taken to be 0..numCores-1; there is no separate
// CPU-number-to-core-id mapping. Used by PerCoreScheduler.Clone to place
// the cloned task.
func (r *Registry) NextCore(numCores uint32) CoreId {
	if numCores == 0 {
		errno.Panicf("sched: NextCore called with numCores == 0")
	}
	return CoreId(r.nextCPU.Add(1) % numCores)
}
