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
	"context"
	"sync"
	"testing"
	"time"

	"gokernel.dev/gokernel/pkg/arch"
)

const testStackSize = 4096

// bootOneCore brings up a single-core registry on a fresh core id and
// starts a real timer driving ticks at freqHz, stopped when the test ends.
func bootOneCore(t *testing.T, coreID CoreId, freqHz int) (*Registry, *PerCoreScheduler) {
	t.Helper()
	reg := Init(1)
	sc := AddCurrentCore(reg, coreID, testStackSize)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go arch.RunTimer(ctx, freqHz)

	return reg, sc
}

// TestS1StrictPriority spawns a low-priority task that yields in a loop and
// a high-priority task that runs to completion; the low-priority task must
// not run again until the high-priority one exits.
func TestS1StrictPriority(t *testing.T) {
	_, sc := bootOneCore(t, 100, 1000)

	var trace []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		trace = append(trace, s)
		mu.Unlock()
	}

	done := make(chan struct{})
	lowDone := make(chan struct{})

	sc.Spawn(func(uintptr) {
		record("B")
		close(done)
		sc.SysExit(0)
	}, 0, 5, nil)

	sc.Spawn(func(uintptr) {
		for i := 0; i < 3; i++ {
			select {
			case <-done:
				record("A-after-B")
				close(lowDone)
				sc.SysExit(0)
				return
			default:
				record("A")
				sc.SysYield()
			}
		}
		close(lowDone)
		sc.SysExit(0)
	}, 0, 1, nil)

	select {
	case <-lowDone:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for scenario to finish")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(trace) == 0 {
		t.Fatal("no trace recorded")
	}
	if trace[0] != "B" {
		t.Fatalf("expected the higher-priority task to run first, got trace %v", trace)
	}
}

// TestS2RoundRobin spawns three same-priority tasks that each increment a
// shared mutex-protected counter and then yield, three times; after nine total
// increments the counter must read exactly 9.
func TestS2RoundRobin(t *testing.T) {
	_, sc := bootOneCore(t, 101, 2000)

	var mu sync.Mutex
	counter := 0
	var wg sync.WaitGroup
	wg.Add(3)

	for i := 0; i < 3; i++ {
		sc.Spawn(func(uintptr) {
			for n := 0; n < 3; n++ {
				mu.Lock()
				counter++
				mu.Unlock()
				sc.SysYield()
			}
			wg.Done()
			sc.SysExit(0)
		}, 0, 2, nil)
	}

	waitOrTimeout(t, &wg, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if counter != 9 {
		t.Fatalf("counter = %d, want 9", counter)
	}
}

// TestS3SemaphoreHandoff: a consumer blocks on an empty semaphore; a
// producer releases it shortly after. The consumer's acquire must return
// true with WakeupReason Custom.
func TestS3SemaphoreHandoff(t *testing.T) {
	reg, sc := bootOneCore(t, 102, 1000)
	sem := NewSemaphore(0)

	result := make(chan bool, 1)
	var consumerTask *Task
	started := make(chan struct{})

	sc.Spawn(func(uintptr) {
		consumerTask = sc.CurrentTask()
		close(started)
		ok := sem.Acquire(sc, nil)
		result <- ok
		sc.SysExit(0)
	}, 0, 3, nil)

	<-started

	sc.Spawn(func(uintptr) {
		time.Sleep(20 * time.Millisecond)
		sem.Release(reg, sc.CoreID)
		sc.SysExit(0)
	}, 0, 3, nil)

	select {
	case ok := <-result:
		if !ok {
			t.Fatal("acquire returned false, want true")
		}
		if consumerTask.LastWakeupReason != Custom {
			t.Fatalf("LastWakeupReason = %v, want Custom", consumerTask.LastWakeupReason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for semaphore handoff")
	}
}

// TestS4Timeout: acquiring an empty semaphore with a deadline and no
// producer must return false with WakeupReason Timer.
func TestS4Timeout(t *testing.T) {
	_, sc := bootOneCore(t, 103, 2000)
	sem := NewSemaphore(0)

	result := make(chan bool, 1)
	var consumerTask *Task

	sc.Spawn(func(uintptr) {
		consumerTask = sc.CurrentTask()
		deadline := arch.UpdateTimerTicks() + 50
		result <- sem.Acquire(sc, &deadline)
		sc.SysExit(0)
	}, 0, 3, nil)

	select {
	case ok := <-result:
		if ok {
			t.Fatal("acquire returned true, want false (timeout)")
		}
		if consumerTask.LastWakeupReason != Timer {
			t.Fatalf("LastWakeupReason = %v, want Timer", consumerTask.LastWakeupReason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the timeout itself")
	}
}

// TestS5RecursiveMutex: a task acquires a recursive mutex three times and
// releases it three times; a queued waiter becomes ready only after the
// final release.
func TestS5RecursiveMutex(t *testing.T) {
	reg, sc := bootOneCore(t, 104, 1000)
	m := NewRecursiveMutex()

	waiterReady := make(chan struct{})
	ownerDone := make(chan struct{})

	sc.Spawn(func(uintptr) {
		m.Acquire(sc)
		m.Acquire(sc)
		m.Acquire(sc)
		time.Sleep(20 * time.Millisecond)
		m.Release(reg, sc)
		m.Release(reg, sc)
		m.Release(reg, sc)
		close(ownerDone)
		sc.SysExit(0)
	}, 0, 4, nil)

	time.Sleep(5 * time.Millisecond) // let the owner take the mutex first

	sc.Spawn(func(uintptr) {
		m.Acquire(sc)
		close(waiterReady)
		m.Release(reg, sc)
		sc.SysExit(0)
	}, 0, 4, nil)

	select {
	case <-waiterReady:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never acquired the mutex")
	}
	<-ownerDone

	if _, owned := m.Owner(sc); owned {
		t.Fatal("mutex still reports an owner after all releases")
	}
}

// TestS6CrossCoreClone: cloning from core 0 must place the new task on
// core 1 and record it in the registry as owned by core 1.
func TestS6CrossCoreClone(t *testing.T) {
	reg := Init(2)
	sc0 := AddCurrentCore(reg, 0, testStackSize)
	sc1 := AddCurrentCore(reg, 1, testStackSize)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go arch.RunTimer(ctx, 1000)

	cloned := make(chan TaskId, 1)
	sc0.Spawn(func(uintptr) {
		id, errCode := sc0.SysClone(func(uintptr) { sc1.SysExit(0) }, 0)
		if errCode != 0 {
			t.Errorf("clone failed with code %d", errCode)
		}
		cloned <- id
		sc0.SysExit(0)
	}, 0, 1, nil)

	var id TaskId
	select {
	case id = <-cloned:
	case <-time.After(2 * time.Second):
		t.Fatal("clone never completed")
	}

	task := reg.Lookup(sc0.CoreID, id)
	if task == nil {
		t.Fatal("cloned task not found in registry")
	}
	if task.CoreID != 1 {
		t.Fatalf("cloned task core = %d, want 1", task.CoreID)
	}
}

// TestRescheduleNoopOnEmptyQueue verifies testable property 8: with an
// empty ready queue and the current task Running, Reschedule must not
// switch away from it.
func TestRescheduleNoopOnEmptyQueue(t *testing.T) {
	_, sc := bootOneCore(t, 120, 1000)

	done := make(chan struct{})
	sc.Spawn(func(uintptr) {
		before := sc.CurrentTask()
		sc.Reschedule() // ready queue is empty: must be a no-op
		after := sc.CurrentTask()
		if before != after {
			t.Errorf("Reschedule switched tasks with an empty ready queue")
		}
		close(done)
		sc.SysExit(0)
	}, 0, 1, nil)

	waitChanOrTimeout(t, done, 2*time.Second)
}

func waitOrTimeout(t *testing.T, wg *sync.WaitGroup, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	waitChanOrTimeout(t, done, d)
}

func waitChanOrTimeout(t *testing.T, ch <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(d):
		t.Fatal("timed out")
	}
}
