// Copyright 2023 The emqx-go Authors
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

// Package workerpool is the bounded task queue the interceptor offloads
// register/health/telemetry processing onto, so a slow database write
// never blocks the broker's own IO goroutine. It is a fixed-size sibling
// of pkg/actor's single mailbox: many producers, a fixed pool of
// consumers, no unbounded growth.
package workerpool

import (
	"context"
	"sync"

	"github.com/hearthiot/hub-core/pkg/metrics"
)

// DefaultSize matches the Java original's broker.message.threads default.
const DefaultSize = 10

// Task is a unit of deferred work. Errors are the caller's responsibility
// to log; the pool does not surface them anywhere else.
type Task func(ctx context.Context)

// Pool is a fixed number of goroutines draining a shared, bounded queue.
type Pool struct {
	tasks chan Task
	wg    sync.WaitGroup
	done  chan struct{}
}

// New starts a Pool with `workers` goroutines and a queue that holds up to
// `queueSize` pending tasks before Submit blocks.
func New(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = DefaultSize
	}
	if queueSize <= 0 {
		queueSize = workers * 4
	}
	p := &Pool{
		tasks: make(chan Task, queueSize),
		done:  make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.loop()
	}
	return p
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case t, ok := <-p.tasks:
			if !ok {
				return
			}
			metrics.WorkerQueueDepth.Dec()
			t(context.Background())
		}
	}
}

// Submit enqueues a task, blocking if the queue is full. It returns false
// without running the task if the pool has already been stopped.
func (p *Pool) Submit(t Task) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.tasks <- t:
		metrics.WorkerQueueDepth.Inc()
		return true
	case <-p.done:
		return false
	}
}

// QueueLen reports how many tasks are currently waiting (not running).
func (p *Pool) QueueLen() int {
	return len(p.tasks)
}

// Stop signals all workers to exit once they finish their current task and
// waits for them to do so. Tasks still sitting in the queue are dropped.
func (p *Pool) Stop() {
	close(p.done)
	p.wg.Wait()
}
