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

import "testing"

func TestPriorityTaskQueuePopsHighestFirst(t *testing.T) {
	q := NewPriorityTaskQueue()
	q.Push(1, 100)
	q.Push(5, 500)
	q.Push(3, 300)

	id, ok := q.Pop()
	if !ok || id != 500 {
		t.Fatalf("Pop() = (%d, %v), want (500, true)", id, ok)
	}
	id, ok = q.Pop()
	if !ok || id != 300 {
		t.Fatalf("Pop() = (%d, %v), want (300, true)", id, ok)
	}
	id, ok = q.Pop()
	if !ok || id != 100 {
		t.Fatalf("Pop() = (%d, %v), want (100, true)", id, ok)
	}
	if !q.Empty() {
		t.Fatal("queue should be empty")
	}
}

func TestPriorityTaskQueueFIFOWithinLevel(t *testing.T) {
	q := NewPriorityTaskQueue()
	q.Push(2, 1)
	q.Push(2, 2)
	q.Push(2, 3)

	for _, want := range []TaskId{1, 2, 3} {
		got, ok := q.Pop()
		if !ok || got != want {
			t.Fatalf("Pop() = (%d, %v), want (%d, true)", got, ok, want)
		}
	}
}

func TestPriorityTaskQueuePopWithPrio(t *testing.T) {
	q := NewPriorityTaskQueue()
	q.Push(2, 20)
	q.Push(4, 40)

	if _, ok := q.PopWithPrio(5); ok {
		t.Fatal("PopWithPrio(5) should find nothing below priority 5")
	}
	id, ok := q.PopWithPrio(3)
	if !ok || id != 40 {
		t.Fatalf("PopWithPrio(3) = (%d, %v), want (40, true)", id, ok)
	}
	id, ok = q.PopWithPrio(0)
	if !ok || id != 20 {
		t.Fatalf("PopWithPrio(0) = (%d, %v), want (20, true)", id, ok)
	}
}

func TestPriorityTaskQueuePopWithPrioClampsAtCeiling(t *testing.T) {
	q := NewPriorityTaskQueue()
	q.Push(NumPriorities-1, 1)
	if _, ok := q.PopWithPrio(NumPriorities); ok {
		t.Fatal("PopWithPrio at the priority ceiling must find nothing")
	}
}
