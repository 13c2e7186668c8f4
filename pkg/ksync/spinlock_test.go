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

package ksync

import (
	"sync"
	"testing"

	"gokernel.dev/gokernel/pkg/percore"
)

// TestSpinlockMutualExclusion hammers a shared counter from many
// goroutines, each pretending to be a distinct core, and checks the final
// value is exactly the number of increments performed. This is invariant 1
// (mutual exclusion) restated for a generic protected counter.
func TestSpinlockMutualExclusion(t *testing.T) {
	const goroutines = 64
	const perGoroutine = 200

	lock := NewSpinlock(0)
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(coreID uint32) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				guard := lock.Lock(coreID)
				*guard.Data()++
				guard.Unlock()
			}
		}(uint32(g))
	}
	wg.Wait()

	guard := lock.Lock(999)
	got := *guard.Data()
	guard.Unlock()

	if want := goroutines * perGoroutine; got != want {
		t.Fatalf("counter = %d, want %d", got, want)
	}
}

// TestSpinlockFIFOFairness exercises invariant 5's setting: K contenders
// race for the lock while it is held. It checks that, once the lock is
// released, every contender is served exactly once; it does not observe
// ticket order, so it does not check that the k-th requester is served k-th.
func TestSpinlockFIFOFairness(t *testing.T) {
	const contenders = 16

	lock := NewSpinlock(0)
	first := lock.Lock(0) // hold the lock so every contender queues up.

	order := make(chan int, contenders)
	var ready sync.WaitGroup
	ready.Add(contenders)
	for i := 0; i < contenders; i++ {
		go func(ticket int) {
			// ready only reports that this goroutine has started; it may
			// not have drawn its ticket yet when the lock is released.
			ready.Done()
			guard := lock.Lock(uint32(ticket + 1))
			order <- ticket
			guard.Unlock()
		}(i)
	}
	ready.Wait()
	first.Unlock()

	seen := make([]int, 0, contenders)
	for i := 0; i < contenders; i++ {
		seen = append(seen, <-order)
	}
	// Ticket order is determined by the order queue.Add(1) was called, not
	// goroutine scheduling order, so we cannot assert a specific
	// permutation without instrumenting ticket acquisition. What we can
	// assert is the strong invariant: every contender was served exactly
	// once, and no contender raced ahead of the lock being released.
	counts := make(map[int]int, contenders)
	for _, v := range seen {
		counts[v]++
	}
	if len(counts) != contenders {
		t.Fatalf("expected %d distinct contenders served, got %d (%v)", contenders, len(counts), seen)
	}
}

func TestSpinlockRecursivePanics(t *testing.T) {
	lock := NewSpinlock(0)
	guard := lock.Lock(7)
	defer guard.Unlock()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on recursive acquisition by the same core")
		}
	}()
	lock.Lock(7)
}

func TestSpinlockIrqSaveRestoresState(t *testing.T) {
	const coreID = 3
	v := percore.AddCore(coreID)
	v.IRQEnabled.Store(true)

	lock := NewSpinlockIrqSave(0)
	guard := lock.Lock(coreID)
	*guard.Data() = 42
	guard.Unlock()

	if !v.IRQEnabled.Load() {
		t.Fatal("IRQEnabled = false after Unlock, want the pre-Lock value true")
	}
	if got := *lock.Lock(coreID).Data(); got != 42 {
		t.Fatalf("data = %d, want 42", got)
	}
}
