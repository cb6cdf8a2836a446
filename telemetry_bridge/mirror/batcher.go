// Package mirror copies transmitted snapshot packets into time-series
// databases. Writers batch in the background and never block the bridge
// loop: when their queue is full, packets are dropped and counted.
package mirror

import (
	"context"
	"sync/atomic"
	"time"

	"telemetry-bridge/utils"
)

const closeFlushTimeout = 5 * time.Second

type FlushFunc[T any] func(ctx context.Context, items []T) error

type Batcher[T any] struct {
	name     string
	size     int
	interval time.Duration
	flushFn  FlushFunc[T]
	log      *utils.Logger

	batch []T
	ch    chan T

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool

	dropped atomic.Uint64
	flushed atomic.Uint64
	failed  atomic.Uint64
}

func NewBatcher[T any](name string, size int, interval time.Duration, flush FlushFunc[T], log *utils.Logger) *Batcher[T] {
	if size <= 0 {
		size = 100
	}
	if interval <= 0 {
		interval = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Batcher[T]{
		name:     name,
		size:     size,
		interval: interval,
		flushFn:  flush,
		log:      log,
		batch:    make([]T, 0, size),
		ch:       make(chan T, size*4),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (b *Batcher[T]) Start() {
	if b.started.CompareAndSwap(false, true) {
		go b.run()
	}
}

// Add queues an item without blocking. It reports false when the queue
// is full and the item was dropped.
func (b *Batcher[T]) Add(item T) bool {
	select {
	case b.ch <- item:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

func (b *Batcher[T]) Dropped() uint64 { return b.dropped.Load() }
func (b *Batcher[T]) Flushed() uint64 { return b.flushed.Load() }
func (b *Batcher[T]) Failed() uint64  { return b.failed.Load() }

// Close stops the loop after writing whatever is still queued.
func (b *Batcher[T]) Close() error {
	b.cancel()
	if b.started.Load() {
		<-b.done
	}
	return nil
}

func (b *Batcher[T]) run() {
	defer close(b.done)
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			b.drain()
			ctx, cancel := context.WithTimeout(context.Background(), closeFlushTimeout)
			b.flush(ctx)
			cancel()
			return

		case item := <-b.ch:
			b.batch = append(b.batch, item)
			if len(b.batch) >= b.size {
				b.flush(b.ctx)
			}

		case <-ticker.C:
			b.flush(b.ctx)
		}
	}
}

func (b *Batcher[T]) drain() {
	for {
		select {
		case item := <-b.ch:
			b.batch = append(b.batch, item)
		default:
			return
		}
	}
}

// flush writes the pending batch once. A failed batch is dropped.
func (b *Batcher[T]) flush(ctx context.Context) {
	if len(b.batch) == 0 {
		return
	}
	n := len(b.batch)
	if err := b.flushFn(ctx, b.batch); err != nil {
		b.failed.Add(uint64(n))
		b.log.Error("mirror flush failed", "mirror", b.name, "items", n, "err", err)
	} else {
		b.flushed.Add(uint64(n))
		b.log.Trace("mirror flushed", "mirror", b.name, "items", n)
	}
	b.batch = make([]T, 0, b.size)
}
