package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/broker"
	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/domain"
	"github.com/TheOutdoorProgrammer/scrypted-otel/internal/pipeline"
)

// Dispatcher consumes raw device events from the queue and feeds them
// through the pipeline. Events are sharded by device id onto a fixed
// set of goroutines, so sessions for one device are always processed in
// order; the cooldown gate's check-then-update never races with itself.
// Emitted records are flushed to the store in batches.
type Dispatcher struct {
	store      domain.EmissionStore
	consumer   domain.RecordConsumer
	shardCount int
	batchSize  int

	mu       sync.RWMutex
	pipeline *pipeline.Pipeline
}

func NewDispatcher(store domain.EmissionStore, consumer domain.RecordConsumer, p *pipeline.Pipeline, shardCount, batchSize int) *Dispatcher {
	if shardCount < 1 {
		shardCount = 1
	}
	if batchSize < 1 {
		batchSize = 1
	}
	return &Dispatcher{
		store:      store,
		consumer:   consumer,
		pipeline:   p,
		shardCount: shardCount,
		batchSize:  batchSize,
	}
}

// SetPipeline swaps the active pipeline. Called on a settings change;
// sessions already picked up finish against the snapshot they started
// with, later ones see the replacement. A nil pipeline disables
// processing entirely.
func (d *Dispatcher) SetPipeline(p *pipeline.Pipeline) {
	d.mu.Lock()
	d.pipeline = p
	d.mu.Unlock()
}

func (d *Dispatcher) currentPipeline() *pipeline.Pipeline {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pipeline
}

// shardFor maps a device id onto a shard. Stable across the process
// lifetime so one device never migrates between goroutines.
func (d *Dispatcher) shardFor(deviceID string) int {
	h := fnv.New32a()
	h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(d.shardCount))
}

// Start consumes the queue until the context is cancelled. It blocks;
// run it in its own goroutine.
func (d *Dispatcher) Start(ctx context.Context, mq broker.MessageQueue) error {
	shards := make([]chan domain.EventEnvelope, d.shardCount)
	for i := range shards {
		shards[i] = make(chan domain.EventEnvelope, d.batchSize)
	}

	var wg sync.WaitGroup
	for i := 0; i < d.shardCount; i++ {
		wg.Add(1)
		go func(shardID int, events <-chan domain.EventEnvelope) {
			defer wg.Done()
			d.runShard(ctx, shardID, events)
		}(i, shards[i])
	}

	handler := func(data []byte) error {
		var envelope domain.EventEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			return fmt.Errorf("failed to unmarshal event envelope: %w", err)
		}
		select {
		case shards[d.shardFor(envelope.Device.ID)] <- envelope:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	}

	err := mq.Consume(ctx, handler)

	for _, shard := range shards {
		close(shard)
	}
	wg.Wait()

	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

func (d *Dispatcher) runShard(ctx context.Context, shardID int, events <-chan domain.EventEnvelope) {
	log.Printf("Shard %d started", shardID)
	defer log.Printf("Shard %d stopped", shardID)

	batch := make([]domain.MetricRecord, 0, d.batchSize)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		d.flushBatch(ctx, batch)
		batch = batch[:0]
	}

	for {
		select {
		case envelope, ok := <-events:
			if !ok {
				flush()
				return
			}
			p := d.currentPipeline()
			if p == nil {
				continue
			}
			emitted := p.Process(ctx, envelope)
			batch = append(batch, emitted...)
			if len(batch) >= d.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			flush()
			return
		}
	}
}

// flushBatch writes emissions to the audit store. Store failures are
// logged only; the metrics already reached the sink and a slow or
// broken store must not backpressure event handling.
func (d *Dispatcher) flushBatch(_ context.Context, batch []domain.MetricRecord) {
	start := time.Now()

	// Own timeout so the final drain still lands after the consume
	// context is cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := d.store.InsertBatch(ctx, batch); err != nil {
		log.Printf("Failed to store emission batch: %v", err)
		return
	}

	if d.consumer != nil {
		if err := d.consumer.Process(batch); err != nil {
			log.Printf("Failed to process emission batch in consumer: %v", err)
			return
		}
	}

	log.Printf("Stored batch of %d emissions in %v", len(batch), time.Since(start))
}
