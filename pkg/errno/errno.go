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

// Package errno defines the negative-errno return convention used across
// the syscall-facing ABI (sys_spawn, sys_clone, sys_sem_*, ...). In-kernel
// scheduler paths never return an Errno; they panic on precondition
// violation and otherwise cannot fail (see Panicf below).
package errno

import "fmt"

// Errno is a small POSIX-style error number. It implements error so it can
// be returned from internal helpers, but the syscall ABI surfaces it as a
// negative int32, per convention.
type Errno int32

// Values used by this module's syscall surface.
const (
	ESRCH     Errno = 3
	EINVAL    Errno = 22
	ENOSYS    Errno = 38
	ETIMEDOUT Errno = 110
)

var names = map[Errno]string{
	ESRCH:     "ESRCH",
	EINVAL:    "EINVAL",
	ENOSYS:    "ENOSYS",
	ETIMEDOUT: "ETIMEDOUT",
}

// Error implements error.
func (e Errno) Error() string {
	if n, ok := names[e]; ok {
		return n
	}
	return fmt.Sprintf("errno(%d)", int32(e))
}

// Negated returns the value the syscall ABI returns on failure: -int32(e).
func (e Errno) Negated() int32 {
	return -int32(e)
}

// Panicf reports a precondition violation: a kernel bug, never a condition
// a caller can recover from. spec.md §7 requires every such site to panic
// with a diagnostic rather than attempt to continue running with broken
// scheduler state.
func Panicf(format string, args ...any) {
	panic(fmt.Sprintf(format, args...))
}
