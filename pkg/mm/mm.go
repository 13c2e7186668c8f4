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

// Package mm stands in for the memory manager spec.md names as an external
// collaborator ("mm::allocate", "mm::deallocate", free-list/bootstrap
// allocators, paging). The scheduler core only needs two things from it:
// byte-addressable regions for task stacks/TLS/heaps, and a debug fill
// pattern on allocation. A full paging allocator is out of this module's
// scope (spec.md §1).
package mm

import "fmt"

// FillByte is written across a freshly allocated Region so that a stack
// dump of garbage vs. untouched memory is visually obvious, matching
// spec.md §3's "filled with a 0xCD pattern on creation for debuggability".
const FillByte = 0xCD

// Sentinel is written at the top of a stack region as a canary.
const Sentinel = 0xDEADBEEF

// Region is an arena-owned range of memory, allocated on Allocate and
// released on Free. Its backing store is a plain Go slice: the "physical
// memory" this module manages is host heap memory, not guest-physical
// pages, since paging is explicitly an external collaborator.
type Region struct {
	Start uintptr
	bytes []byte
}

var nextStart uintptr = 0x1000 // arbitrary, nonzero, for readable logs/tests

// Allocate reserves a Region of size bytes, fills it with FillByte, and
// writes Sentinel at the top (last 4 bytes) of the region.
func Allocate(size int) *Region {
	if size <= 0 {
		panic(fmt.Sprintf("mm: invalid allocation size %d", size))
	}
	b := make([]byte, size)
	for i := range b {
		b[i] = FillByte
	}
	if size >= 4 {
		s := uint32(Sentinel)
		b[size-4] = byte(s)
		b[size-3] = byte(s >> 8)
		b[size-2] = byte(s >> 16)
		b[size-1] = byte(s >> 24)
	}
	r := &Region{Start: nextStart, bytes: b}
	nextStart += uintptr(size)
	return r
}

// Free releases the region. The backing slice is dropped for the garbage
// collector to reclaim; there is no explicit free-list in this
// realization, matching spec.md's delegation of allocator strategy to the
// (out-of-scope) memory manager.
func Free(r *Region) {
	if r == nil {
		return
	}
	r.bytes = nil
}

// Size returns the region's size in bytes.
func (r *Region) Size() int {
	return len(r.bytes)
}

// Bytes exposes the region's backing slice for inspection (tests only;
// ordinary kernel code never reads task stack/TLS contents directly).
func (r *Region) Bytes() []byte {
	return r.bytes
}
