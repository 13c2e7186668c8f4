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

// Package config holds the build-time configuration knobs spec.md §6
// enumerates. The original treats these as compile-time constants; this
// module generalizes them to a runtime-loadable Config, in the same spirit
// as runsc/config.Config, minus every OCI/container-specific field runsc
// carries (those are out of this module's scope).
package config

import "github.com/BurntSushi/toml"

// Config holds the kernel's build-time-ish configuration. Knobs that are
// actually compile-time constants in package sched (the ready-queue
// priority count, sized into a fixed-width bitmap) have no field here:
// a config file cannot change them, so pretending otherwise would let a
// user set num_priorities and silently have it ignored.
type Config struct {
	// KernelStackSize is the size, in bytes, of each task's kernel stack
	// and of each IST stack.
	KernelStackSize int `toml:"kernel_stack_size"`

	// TimerFrequency is the simulated hardware timer rate, in Hz.
	TimerFrequency int `toml:"timer_frequency"`
}

// Default returns the configuration used when no file is loaded.
func Default() Config {
	return Config{
		KernelStackSize: 32 * 1024,
		TimerFrequency:  100,
	}
}

// Load reads a TOML configuration file, starting from Default() and
// overriding only the fields present in the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
