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
	"context"
	"flag"
	"sync"
	"time"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
)

// roundRobinCmd reproduces the round-robin scenario: three same-priority
// tasks take turns incrementing a shared counter.
type roundRobinCmd struct {
	configPath string
	tasks      int
	perTask    int
}

func (*roundRobinCmd) Name() string     { return "roundrobin" }
func (*roundRobinCmd) Synopsis() string { return "demonstrates round-robin scheduling on one core" }
func (*roundRobinCmd) Usage() string {
	return "roundrobin [-tasks N] [-per-task N]: spawn N same-priority tasks incrementing a shared counter\n"
}

func (c *roundRobinCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to a TOML config file (optional)")
	f.IntVar(&c.tasks, "tasks", 3, "number of same-priority tasks")
	f.IntVar(&c.perTask, "per-task", 3, "increments performed by each task")
}

func (c *roundRobinCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	k, err := bootKernel(c.configPath, 1)
	if err != nil {
		logrus.WithError(err).Error("boot failed")
		return subcommands.ExitFailure
	}
	defer func() {
		if err := k.Shutdown(); err != nil {
			logrus.WithError(err).Error("shutdown reported errors")
		}
	}()

	sc := k.Cores[0]
	var mu sync.Mutex
	counter := 0
	var wg sync.WaitGroup
	wg.Add(c.tasks)

	for i := 0; i < c.tasks; i++ {
		taskNum := i
		sc.Spawn(func(uintptr) {
			for n := 0; n < c.perTask; n++ {
				mu.Lock()
				counter++
				mu.Unlock()
				logrus.WithField("task", taskNum).Debug("incremented")
				sc.SysYield()
			}
			wg.Done()
			sc.SysExit(0)
		}, 0, 2, nil)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return subcommands.ExitFailure
	case <-time.After(5 * time.Second):
		logrus.Error("scenario did not complete in time")
		return subcommands.ExitFailure
	}

	logrus.WithField("counter", counter).Info("round-robin scenario complete")
	if counter != c.tasks*c.perTask {
		logrus.WithFields(logrus.Fields{"got": counter, "want": c.tasks * c.perTask}).Error("counter mismatch")
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
