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
	"testing"

	"gokernel.dev/gokernel/pkg/arch"
)

func tick(v arch.Ticks) *arch.Ticks { return &v }

func TestBlockedTaskQueueExpiresInDeadlineOrder(t *testing.T) {
	q := NewBlockedTaskQueue()
	q.Add(1, tick(30), false)
	q.Add(2, tick(10), false)
	q.Add(3, tick(20), false)
	q.Add(4, nil, false) // no deadline: must never expire

	expired := q.HandleWaitingTasks(25)
	want := []TaskId{2, 3}
	if len(expired) != len(want) {
		t.Fatalf("expired = %v, want %v", expired, want)
	}
	for i, id := range want {
		if expired[i] != id {
			t.Fatalf("expired[%d] = %d, want %d", i, expired[i], id)
		}
	}
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (task 1 still pending, task 4 has no deadline)", q.Len())
	}
}

func TestBlockedTaskQueueWakeupByIDRemovesEntry(t *testing.T) {
	q := NewBlockedTaskQueue()
	q.Add(7, nil, false)

	if !q.WakeupByID(7) {
		t.Fatal("WakeupByID(7) = false, want true")
	}
	if q.WakeupByID(7) {
		t.Fatal("WakeupByID(7) a second time should find nothing")
	}
	if q.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", q.Len())
	}
}

func TestBlockedTaskQueueWakeupByIDUnknownIsFalse(t *testing.T) {
	q := NewBlockedTaskQueue()
	if q.WakeupByID(999) {
		t.Fatal("WakeupByID on an unknown id should report false")
	}
}

func TestBlockedTaskQueueInterruptibleFlag(t *testing.T) {
	q := NewBlockedTaskQueue()
	q.Add(1, nil, true)
	q.Add(2, nil, false)

	if !q.Interruptible(1) {
		t.Fatal("task 1 should be interruptible")
	}
	if q.Interruptible(2) {
		t.Fatal("task 2 should not be interruptible")
	}
}
