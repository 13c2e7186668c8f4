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
	"time"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"gokernel.dev/gokernel/pkg/sched"
)

// priorityCmd reproduces the strict-priority scenario: a low-priority task
// loops yielding while a high-priority task runs to completion
// uninterrupted.
type priorityCmd struct {
	configPath string
}

func (*priorityCmd) Name() string     { return "priority" }
func (*priorityCmd) Synopsis() string { return "demonstrates strict-priority scheduling on one core" }
func (*priorityCmd) Usage() string {
	return "priority [-config path]: spawn a low- and a high-priority task and trace who runs\n"
}

func (c *priorityCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configPath, "config", "", "path to a TOML config file (optional)")
}

func (c *priorityCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
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
	done := make(chan struct{})

	sc.Spawn(func(uintptr) {
		logrus.Info("high-priority task running")
		time.Sleep(50 * time.Millisecond)
		logrus.Info("high-priority task exiting")
		close(done)
		sc.SysExit(0)
	}, 0, 5, nil)

	sc.Spawn(func(uintptr) {
		for {
			select {
			case <-done:
				logrus.Info("low-priority task resumed after high-priority task exited")
				sc.SysExit(0)
				return
			default:
				sc.SysYield()
			}
		}
	}, 0, 1, nil)

	select {
	case <-done:
	case <-ctx.Done():
		return subcommands.ExitFailure
	case <-time.After(5 * time.Second):
		logrus.Error("scenario did not complete in time")
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}
