package atom

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/atomic"
)

const connectTimeout = 5 * time.Second

// pipelinePool owns the single client connection to the backing server
// and a bounded FIFO queue of reusable pipeline handles, per spec.md
// §4.1. It is the only component that talks to *redis.Client directly;
// every other package-level operation acquires/releases through it.
//
// Grounded on atom/element.py's queue.Queue()-backed _rpipeline_pool,
// reshaped as a buffered channel -- Go's idiomatic bounded-FIFO
// primitive -- and on ratelimit/redis_store.go for wrapping
// *redis.Client behind a small struct rather than passing it around
// bare.
type pipelinePool struct {
	element   string
	client    *redis.Client
	pipelines chan redis.Pipeliner
	inUse     atomic.Int64 // mirrored into the atom_pipelines_in_use gauge
}

func newPipelinePool(element string, cfg Config) (*pipelinePool, error) {
	network, addr := cfg.addr()
	opts := &redis.Options{
		Network: network,
		Addr:    addr,
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, &ConnectError{Err: err}
	}

	size := cfg.poolSize()
	p := &pipelinePool{
		element:   element,
		client:    client,
		pipelines: make(chan redis.Pipeliner, size),
	}
	for i := 0; i < size; i++ {
		p.pipelines <- client.Pipeline()
	}
	return p, nil
}

// acquire blocks until a pipeline is free. A buffered channel receive
// is a fair enough FIFO for spec.md §4.1's requirement that a
// saturated element not starve its own liveness traffic.
func (p *pipelinePool) acquire(ctx context.Context) (redis.Pipeliner, error) {
	select {
	case pipe := <-p.pipelines:
		p.inUse.Inc()
		pipelinesInUse.WithLabelValues(p.element).Set(float64(p.inUse.Load()))
		return pipe, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// release discards any unflushed queued commands (defensive; Exec
// already clears them) and returns the pipeline to the pool.
func (p *pipelinePool) release(pipe redis.Pipeliner) {
	pipe.Discard()
	p.inUse.Dec()
	pipelinesInUse.WithLabelValues(p.element).Set(float64(p.inUse.Load()))
	p.pipelines <- pipe
}

func (p *pipelinePool) close() error {
	return p.client.Close()
}

// withPipeline acquires a pipeline, runs fn against it, executes the
// batched commands, releases the pipeline, and returns fn's queued
// command results via the caller-supplied closures over fn's captured
// *redis.*Cmd values. This is the shape every write path in command.go/
// stream.go/reference.go follows.
func (p *pipelinePool) withPipeline(ctx context.Context, fn func(redis.Pipeliner)) error {
	pipe, err := p.acquire(ctx)
	if err != nil {
		return err
	}
	defer p.release(pipe)

	fn(pipe)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("atom: pipeline exec: %w", err)
	}
	return nil
}
