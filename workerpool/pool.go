/*************************************************************************
 * Copyright 2024 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

// Package workerpool implements the fixed-size worker pool §5 requires:
// every session is owned by exactly one worker, chosen by a stable hash
// of its session id, so all packets for that session serialize on one
// goroutine and the reassembly/classification core never needs a lock.
package workerpool

import (
	"context"

	"github.com/minio/highwayhash"
	"golang.org/x/sync/errgroup"
)

// defaultKey is a fixed, arbitrary 32-byte HighwayHash key. It does not
// need to be secret — the hash only has to be stable across calls
// within one process so the same session id always lands on the same
// worker, matching the pattern the teacher's jsonfilter processor uses
// HighwayHash for (a stable, fast keyed hash over arbitrary bytes, not
// a cryptographic commitment).
var defaultKey = [32]byte{
	0x67, 0x72, 0x61, 0x76, 0x77, 0x65, 0x6c, 0x6c,
	0x66, 0x6c, 0x6f, 0x77, 0x63, 0x6f, 0x72, 0x65,
	0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10,
}

// Job is one unit of work submitted to a worker: typically "process
// this packet for this session."
type Job func()

// Pool is a fixed set of worker goroutines, each draining its own
// buffered job queue in submission order. WorkerIndex is stable and
// deterministic for a given session id and pool size, so the caller
// can reuse it to decide, e.g., which worker's queue depth to report.
type Pool struct {
	queues []chan Job
	group  *errgroup.Group
	cancel context.CancelFunc
}

// New starts a Pool of n workers, each with a queue depth of
// queueDepth pending jobs. n and queueDepth are both clamped to at
// least 1.
func New(n, queueDepth int) *Pool {
	if n < 1 {
		n = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	p := &Pool{
		queues: make([]chan Job, n),
		group:  g,
		cancel: cancel,
	}
	for i := range p.queues {
		q := make(chan Job, queueDepth)
		p.queues[i] = q
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case job, ok := <-q:
					if !ok {
						return nil
					}
					job()
				}
			}
		})
	}
	return p
}

// WorkerIndex returns the stable worker index a session id hashes to
// for a pool of n workers (§5 "stable hash of its session id").
func WorkerIndex(sessionID []byte, n int) int {
	if n <= 1 {
		return 0
	}
	h := highwayhash.Sum64(sessionID, defaultKey[:])
	return int(h % uint64(n))
}

// Submit routes job to the worker sessionID hashes to. It blocks if
// that worker's queue is full, applying natural backpressure rather
// than dropping work.
func (p *Pool) Submit(sessionID []byte, job Job) {
	idx := WorkerIndex(sessionID, len(p.queues))
	p.queues[idx] <- job
}

// Stop signals every worker to drain its queue and exit, then waits
// for them to finish. It does not cancel in-flight jobs already
// dequeued.
func (p *Pool) Stop() error {
	for _, q := range p.queues {
		close(q)
	}
	err := p.group.Wait()
	p.cancel()
	return err
}
