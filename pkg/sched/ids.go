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

// Package sched implements the core execution substrate: per-core
// preemptive scheduling, task lifecycle and stack/TLS management, the
// blocking primitives built on top of it, and the syscall-facing ABI.
package sched

// TaskId identifies a task for the lifetime of the process. It is reused
// only after the task has been fully reaped from the global registry.
type TaskId uint32

// CoreId identifies a logical CPU / scheduler.
type CoreId uint32

// Priority is a small ready-queue level: 0 is lowest, NumPriorities-1 is
// highest.
type Priority uint8

// IdlePriority is the priority given to each core's idle task. It has the
// same value, 0, as the lowest ordinary priority, which Spawn and Clone
// also accept; it is not a distinct level below the others. The idle task
// itself never appears in a PriorityTaskQueue.
const IdlePriority Priority = 0

// NumPriorities is the width of the ready-queue bitmap. It sizes a fixed
// array (PriorityTaskQueue.levels) and a uint32 bitmap, so unlike
// internal/config.Config's fields this is not runtime-configurable;
// callers choosing priorities must stay below this ceiling.
const NumPriorities = 32

// TaskStatus is the tagged state of a Task.
type TaskStatus int

const (
	Invalid TaskStatus = iota
	Ready
	Running
	Blocked
	Finished
	Idle
)

func (s TaskStatus) String() string {
	switch s {
	case Invalid:
		return "Invalid"
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Blocked:
		return "Blocked"
	case Finished:
		return "Finished"
	case Idle:
		return "Idle"
	default:
		return "TaskStatus(?)"
	}
}

// WakeupReason distinguishes why a task moved from Blocked to Ready.
type WakeupReason int

const (
	// Custom means a primitive (Semaphore.Release, RecursiveMutex.Release,
	// wakeup_task) signalled the task directly.
	Custom WakeupReason = iota
	// Timer means the task's deadline in a BlockedTaskQueue expired.
	Timer
)

func (w WakeupReason) String() string {
	if w == Timer {
		return "Timer"
	}
	return "Custom"
}
