// Copyright 2024 The Ucore Authors.
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

// Package executor is the underlying task scheduler the kernel core consumes
// only through Spawn/Task/Hooks, kept deliberately generic. It models each
// virtual CPU as one worker goroutine and, after every Poll that doesn't
// finish a task, re-submits it to the shared queue so a different worker may
// pick it up next — a task may migrate between virtual CPUs across polls.
package executor

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"ucore.dev/ucore/pkg/log"
)

// CPUID identifies one of the pool's virtual CPUs.
type CPUID int

// Task is one schedulable unit of cooperative work.
type Task interface {
	// Poll performs one bounded step of work on cpu and reports whether the
	// task has finished and should not be polled again.
	Poll(cpu CPUID) (done bool)
}

// Hooks lets a Task wrap every individual Poll call, e.g. to install a
// page table and record the current thread before the step runs and clear
// it afterward. Optional: a Task that doesn't implement Hooks is simply
// polled with no wrapping.
type Hooks interface {
	BeforePoll(cpu CPUID)
	AfterPoll(cpu CPUID)
}

// Pool is a fixed-size set of virtual-CPU workers draining a shared task
// queue, bounded by a semaphore so a pathological producer can't queue
// unbounded work, and supervised by an errgroup so every worker goroutine's
// lifecycle is accounted for at Close.
type Pool struct {
	numCPU int
	queue  chan Task
	admit  *semaphore.Weighted

	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool starts numCPU worker goroutines, accepting up to maxOutstanding
// concurrently-live tasks.
func NewPool(numCPU, maxOutstanding int) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	eg, ctx := errgroup.WithContext(ctx)
	p := &Pool{
		numCPU: numCPU,
		queue:  make(chan Task, maxOutstanding),
		admit:  semaphore.NewWeighted(int64(maxOutstanding)),
		eg:     eg,
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < numCPU; i++ {
		cpu := CPUID(i)
		eg.Go(func() error {
			p.runWorker(cpu)
			return nil
		})
	}
	return p
}

// NumCPU reports the number of virtual CPUs backing the pool.
func (p *Pool) NumCPU() int { return p.numCPU }

func (p *Pool) runWorker(cpu CPUID) {
	for {
		select {
		case <-p.ctx.Done():
			return
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			p.step(cpu, t)
		}
	}
}

func (p *Pool) step(cpu CPUID, t Task) {
	if h, ok := t.(Hooks); ok {
		h.BeforePoll(cpu)
		defer h.AfterPoll(cpu)
	}
	done := t.Poll(cpu)
	if done {
		p.admit.Release(1)
		return
	}
	// Re-submit off the worker goroutine so a full queue can never deadlock
	// against the very worker trying to drain it.
	go func() {
		select {
		case p.queue <- t:
		case <-p.ctx.Done():
		}
	}()
}

// Spawn admits a task and enqueues it, blocking if the pool is at its
// outstanding-task limit.
func (p *Pool) Spawn(t Task) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}
	if err := p.admit.Acquire(p.ctx, 1); err != nil {
		return err
	}
	select {
	case p.queue <- t:
		return nil
	case <-p.ctx.Done():
		p.admit.Release(1)
		return p.ctx.Err()
	}
}

// Close stops accepting new work and waits for every worker goroutine to
// exit. Tasks still queued at that point are not polled again.
func (p *Pool) Close() {
	p.cancel()
	if err := p.eg.Wait(); err != nil {
		log.Warningf("executor: worker returned error: %v", err)
	}
}
