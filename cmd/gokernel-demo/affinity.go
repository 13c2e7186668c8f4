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

package main

import (
	"fmt"
	"runtime"
	"strconv"

	cgroups "github.com/containerd/cgroups"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// pinToCore locks the calling OS thread and best-effort confines it to a
// single logical CPU, standing in for the arch layer's real per-core
// bring-up (each simulated "core" in this demo is in fact one pinned OS
// thread, not a separate physical CPU). Failures here are logged, not
// fatal: the demo's scheduling guarantees come from its own ready-queue
// and blocked-queue bookkeeping, not from the host refusing to run other
// threads on that CPU.
func pinToCore(coreID uint32) {
	runtime.LockOSThread()

	cpu := int(coreID) % runtime.NumCPU()
	var set unix.CPUSet
	set.Set(cpu)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		logrus.WithError(err).WithField("core", coreID).Warn("SchedSetaffinity failed, continuing unpinned")
	}

	pinViaCgroup(coreID, cpu)
}

// pinViaCgroup additionally creates (or reuses) a best-effort cpuset
// cgroup restricting this process to cpu. It is purely supplementary to
// SchedSetaffinity above; cgroups may be unavailable (no root, no cgroup
// mount, container without delegation), in which case this is a no-op.
// Each core gets its own cgroup path: bootKernel brings cores up
// concurrently, and sharing one path would let the last writer's cpuset
// win over every other core's.
func pinViaCgroup(coreID uint32, cpu int) {
	path := fmt.Sprintf("/gokernel-demo/core-%d", coreID)
	control, err := cgroups.New(cgroups.V1, cgroups.StaticPath(path), &specs.LinuxResources{
		CPU: &specs.LinuxCPU{
			Cpus: strconv.Itoa(cpu),
			Mems: "0",
		},
	})
	if err != nil {
		logrus.WithError(err).WithField("core", coreID).Debug("cgroup cpuset pinning unavailable, continuing without it")
		return
	}
	if err := control.Add(cgroups.Process{Pid: 0}); err != nil {
		logrus.WithError(err).WithField("core", coreID).Debug("cgroup process attach failed, continuing without it")
	}
}
