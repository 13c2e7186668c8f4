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

package arch

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"gokernel.dev/gokernel/pkg/percore"
)

// TickHook is invoked once per timer tick for a registered core, after the
// global tick counter has been advanced. It plays the role of the timer
// ISR's call into BlockedTaskQueue.HandleWaitingTasks (spec.md §4.7).
// RunTimer skips the hook on any tick where its core's interrupts are
// masked (percore.Variables.IRQEnabled is false).
type TickHook func(now Ticks)

var (
	hooksMu sync.RWMutex
	hooks   = map[uint32]TickHook{}

	wakeMu sync.RWMutex
	wakeCh = map[uint32]chan struct{}{}
)

// RegisterTickHook installs the per-core timer callback. Called once by
// scheduler.AddCurrentCore.
func RegisterTickHook(coreID uint32, hook TickHook) {
	hooksMu.Lock()
	defer hooksMu.Unlock()
	hooks[coreID] = hook

	wakeMu.Lock()
	defer wakeMu.Unlock()
	wakeCh[coreID] = make(chan struct{}, 1)
}

// WakeupCore pokes a (possibly halted) core so it re-evaluates its ready
// queue. spec.md §4.3 requires this whenever a cross-core wake-up targets a
// core that is currently running its idle task.
func WakeupCore(coreID uint32) {
	wakeMu.RLock()
	ch := wakeCh[coreID]
	wakeMu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
		// Already has a pending poke; coalesce.
	}
}

// WaitChannel returns the channel a core's idle loop selects on to learn it
// has been poked by WakeupCore.
func WaitChannel(coreID uint32) <-chan struct{} {
	wakeMu.RLock()
	defer wakeMu.RUnlock()
	return wakeCh[coreID]
}

// RunTimer drives the shared tick counter at freqHz using a rate.Limiter as
// the pacing source (standing in for a hardware TIMER_FREQUENCY), calling
// every registered core's TickHook on each tick. It runs until ctx is
// cancelled, which is how cmd/gokernel-demo shuts the simulated hardware
// down during graceful teardown.
func RunTimer(ctx context.Context, freqHz int) {
	if freqHz <= 0 {
		freqHz = 1
	}
	lim := rate.NewLimiter(rate.Limit(freqHz), 1)
	for {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		now := globalTicks.Add(1)

		hooksMu.RLock()
		snapshot := make(map[uint32]TickHook, len(hooks))
		for id, h := range hooks {
			snapshot[id] = h
		}
		hooksMu.RUnlock()

		for id, hook := range snapshot {
			if v := percore.Get(id); v != nil && !v.IRQEnabled.Load() {
				continue
			}
			hook(now)
		}
	}
}
