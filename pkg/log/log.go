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

// Package log implements a leveled logger for the kernel core. It exists
// because the core runs below the point where a general-purpose logging
// façade (or even fmt.Println on a clean stdout) can be assumed: the same
// call sites run from both task context and the timer-tick path, and the
// level gate must be a cheap atomic load, not a map lookup.
package log

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// Level is a logging verbosity level.
type Level int32

// Levels, lowest-verbosity first.
const (
	Warning Level = iota
	Info
	Debug
)

var level atomic.Int32

func init() {
	level.Store(int32(Info))
}

// SetLevel changes the global log level.
func SetLevel(l Level) {
	level.Store(int32(l))
}

func enabled(l Level) bool {
	return Level(level.Load()) >= l
}

func emit(l Level, tag string, format string, args ...any) {
	if !enabled(l) {
		return
	}
	fmt.Fprintf(os.Stderr, "%s %s %s\n", time.Now().UTC().Format(time.RFC3339Nano), tag, fmt.Sprintf(format, args...))
}

// Debugf logs at Debug level.
func Debugf(format string, args ...any) {
	emit(Debug, "D", format, args...)
}

// Infof logs at Info level.
func Infof(format string, args ...any) {
	emit(Info, "I", format, args...)
}

// Warningf logs at Warning level. Used for ambiguous, non-fatal conditions
// such as waking a task that was never blocked.
func Warningf(format string, args ...any) {
	emit(Warning, "W", format, args...)
}
