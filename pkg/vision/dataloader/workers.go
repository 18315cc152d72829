// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataloader

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

type batchResult struct {
	batch *Batch
	err   error
}

// epochRun loads the batches of one epoch with a pool of workers.
//
// The dispatcher pushes one slot per batch into pending, in sampler order, before handing the batch to a
// worker. The capacity of pending bounds the number of batches loaded ahead of the consumer, and reading
// the slots in order preserves the batch order regardless of which worker finishes first.
//
// The first failing batch stops the dispatch of new batches, but batches already dispatched complete, so
// the consumer gets every batch before the failing one. stop cancels everything.
type epochRun struct {
	cancel  context.CancelFunc
	pending chan chan batchResult
	done    chan struct{}
}

func startEpochRun(l *Loader, epoch int, batches [][]int) *epochRun {
	ctx, cancel := context.WithCancel(context.Background())
	r := &epochRun{
		cancel:  cancel,
		pending: make(chan chan batchResult, l.config.NumWorkers*l.config.PrefetchFactor),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		defer close(r.pending)
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(l.config.NumWorkers)
	dispatch:
		for batchNum, indices := range batches {
			slot := make(chan batchResult, 1)
			select {
			case <-gCtx.Done():
				break dispatch
			case r.pending <- slot:
			}
			g.Go(func() error {
				batch, err := l.loadBatch(ctx, epoch, batchNum, indices)
				slot <- batchResult{batch: batch, err: err}
				return err
			})
		}
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			klog.V(2).Infof("dataloader %q: stopped loading epoch %d: %v", l.name, epoch, err)
		}
	}()
	return r
}

// next returns the next batch in order, or io.EOF once all batches were returned.
func (r *epochRun) next() (*Batch, error) {
	slot, ok := <-r.pending
	if !ok {
		return nil, io.EOF
	}
	result := <-slot
	return result.batch, result.err
}

// stop cancels the pending work and waits for the workers to finish.
func (r *epochRun) stop() {
	r.cancel()
	<-r.done
}
