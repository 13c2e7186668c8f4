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
	"github.com/mohae/deepcopy"

	"gokernel.dev/gokernel/pkg/arch"
	"gokernel.dev/gokernel/pkg/mm"
)

// TaskStacks holds the arena-owned regions backing a task's execution: its
// primary kernel stack and its interrupt stack (IST). Both are allocated on
// spawn and released on reap.
type TaskStacks struct {
	Stack *mm.Region
	IST   *mm.Region
}

// TLSTemplate is the ELF thread-local-storage image a task's TLS is copied
// from. It stands in for the real ELF TLS segment.
type TLSTemplate map[string]any

// TaskTLS is a task's own thread-local storage, copied from a TLSTemplate
// by NewTaskTLS. Spawn, Clone and Task.Run do not create one: a task's TLS
// field stays nil unless its creator assigns a TaskTLS.
type TaskTLS struct {
	region *mm.Region
	vars   TLSTemplate
}

// NewTaskTLS copies template into a freshly allocated region sized to hold
// it, in the same spirit as copying an ELF TLS image into task-private
// memory. The copy is a deep copy so no task's TLS aliases another's.
func NewTaskTLS(template TLSTemplate, size int) *TaskTLS {
	return &TaskTLS{
		region: mm.Allocate(size),
		vars:   deepcopy.Copy(template).(TLSTemplate),
	}
}

// Get returns a TLS variable by name.
func (t *TaskTLS) Get(name string) (any, bool) {
	v, ok := t.vars[name]
	return v, ok
}

// Set assigns a TLS variable by name.
func (t *TaskTLS) Set(name string, v any) {
	t.vars[name] = v
}

// Release frees the TLS region. Called when the owning task is reaped.
func (t *TaskTLS) Release() {
	mm.Free(t.region)
}

// FpuState is an opaque, arch-sized scratch buffer for a task's floating
// point register file. It is lazily switched: Save/Restore are only called
// from the FPU-unavailable fault path (PerCoreScheduler.FpuSwitch), never on
// every context switch.
type FpuState struct {
	buf [512]byte // conservative stand-in for an FXSAVE/XSAVE area
}

// Save captures the current FPU state into the buffer. In this host-level
// realization there is no real FPU register file to snapshot, so Save/
// Restore are no-ops that exist to keep FpuSwitch's control flow faithful
// to the original lazy-switch protocol.
func (f *FpuState) Save()    {}
func (f *FpuState) Restore() {}

// EntryFunc is a task body: it receives the argument passed to Spawn/Clone.
type EntryFunc func(arg uintptr)

// Task is the per-task control block, owned by the global registry and
// referenced by at most one of a scheduler's current-task slot, ready
// queue, blocked queue, or finished-tasks queue at any time.
type Task struct {
	ID     TaskId
	CoreID CoreId
	Prio   Priority
	Status TaskStatus

	// ctx is the saved execution point used by the context-switch
	// primitive; it plays the role of last_stack_pointer.
	ctx *arch.Context

	Stacks TaskStacks
	TLS    *TaskTLS
	Fpu    FpuState
	Heap   *mm.Region

	LastWakeupReason WakeupReason
	ExitCode         int32

	entry EntryFunc
	arg   uintptr
}

// NewTask allocates a task's stacks and returns it in Invalid status; the
// caller (PerCoreScheduler.spawn/clone/bootstrap) is responsible for
// setting Status and inserting it into the registry and ready queue.
func NewTask(id TaskId, core CoreId, prio Priority, kernelStackSize int, heap *mm.Region) *Task {
	return &Task{
		ID:     id,
		CoreID: core,
		Prio:   prio,
		Status: Invalid,
		Stacks: TaskStacks{
			Stack: mm.Allocate(kernelStackSize),
			IST:   mm.Allocate(kernelStackSize),
		},
		Heap: heap,
		ctx:  arch.NewContext(),
	}
}

// CreateStackFrame lays out the task's entry point so that the first
// context switch into it invokes entry(arg). Unlike a real arch layer, this
// does not manufacture a register save area; arch.Context's Park/Resume
// rendezvous means the entry closure itself is what runs on "resume",
// inside the goroutine that Run starts.
func (t *Task) CreateStackFrame(entry EntryFunc, arg uintptr) {
	t.entry = entry
	t.arg = arg
}

// Run starts the task's goroutine. It must be called exactly once, after
// CreateStackFrame and before the task is first switched to. The goroutine
// immediately parks on t.ctx until the scheduler resumes it; on return from
// entry it falls through to onExit, mirroring the trampoline described
// for the arch layer (task_entry / leave_task).
func (t *Task) Run(onExit func()) {
	go func() {
		t.ctx.Park()
		t.entry(t.arg)
		onExit()
	}()
}

// SwitchTo resumes t and parks the calling task's context old, exactly
// mirroring the arch switch(old_sp, new_sp) contract: callee state is
// preserved on the old task's "stack" (here, its own goroutine's call
// stack) and control resumes on the new task's context.
func SwitchTo(old, new *Task) {
	arch.Switch(old.ctx, new.ctx)
}
