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
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"gokernel.dev/gokernel/internal/config"
	"gokernel.dev/gokernel/pkg/arch"
	"gokernel.dev/gokernel/pkg/sched"
)

// kernel bundles a booted scheduler registry with the background goroutine
// (the simulated hardware timer) that keeps it alive, and the
// single-instance lock taken for the demo process's lifetime.
type kernel struct {
	Registry   *sched.Registry
	Cores      []*sched.PerCoreScheduler
	Config     config.Config
	lock       *flock.Flock
	cancelTick context.CancelFunc
	group      *errgroup.Group
}

// bootKernel loads cfg (or the default), takes a single-instance file lock
// so two demo invocations don't race over the same simulated hardware
// timer, brings up numCores schedulers, and starts the shared tick source.
func bootKernel(cfgPath string, numCores uint32) (*kernel, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	lockPath := filepath.Join(os.TempDir(), "gokernel-demo.lock")
	fl := flock.New(lockPath)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring boot lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("another gokernel-demo instance holds %s", lockPath)
	}

	reg := sched.Init(numCores)
	cores := make([]*sched.PerCoreScheduler, numCores)
	for i := uint32(0); i < numCores; i++ {
		coreID := i
		ready := make(chan *sched.PerCoreScheduler, 1)
		go func() {
			// Each simulated core is brought up on its own locked,
			// best-effort-pinned OS thread, standing in for the arch
			// layer's real per-core bring-up.
			pinToCore(coreID)
			ready <- sched.AddCurrentCore(reg, sched.CoreId(coreID), cfg.KernelStackSize)
		}()
		cores[i] = <-ready
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		arch.RunTimer(gctx, cfg.TimerFrequency)
		return nil
	})

	logrus.WithFields(logrus.Fields{
		"cores":              numCores,
		"timer_freq_hz":      cfg.TimerFrequency,
		"kernel_stack_bytes": cfg.KernelStackSize,
	}).Info("kernel booted")

	return &kernel{
		Registry:   reg,
		Cores:      cores,
		Config:     cfg,
		lock:       fl,
		cancelTick: cancel,
		group:      g,
	}, nil
}

// Shutdown stops the tick source, waits for background goroutines, and
// releases the boot lock, aggregating every error encountered along the
// way rather than stopping at the first one.
func (k *kernel) Shutdown() error {
	var result *multierror.Error

	k.cancelTick()
	if err := k.group.Wait(); err != nil {
		result = multierror.Append(result, fmt.Errorf("timer goroutine: %w", err))
	}
	if err := k.lock.Unlock(); err != nil {
		result = multierror.Append(result, fmt.Errorf("releasing boot lock: %w", err))
	}

	logrus.Info("kernel shut down")
	return result.ErrorOrNil()
}
