package pipeline

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/valve-calibrator/internal/calibration"
	"github.com/nerrad567/valve-calibrator/internal/device"
)

// Default pool sizing, used when Options leaves a value at zero.
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 64

	// DefaultDropLogInterval bounds how often a full queue is logged per device.
	DefaultDropLogInterval = 10 * time.Second
)

// MessageHandler processes one message. *Handler satisfies it.
type MessageHandler interface {
	Handle(ctx context.Context, topic string, payload []byte) error
}

// Options configures a Dispatcher.
type Options struct {
	// Workers is the number of queues, each drained by one goroutine.
	Workers int

	// QueueSize is the capacity of each queue.
	QueueSize int

	// DropLogInterval is the minimum gap between queue-full warnings for
	// one device. Drops in between are counted and reported with the next
	// warning.
	DropLogInterval time.Duration

	Logger Logger
}

// Stats counts messages through the dispatcher.
type Stats struct {
	Dispatched uint64 `json:"dispatched"`
	Unrouted   uint64 `json:"unrouted"`
	Dropped    uint64 `json:"dropped"`
	Processed  uint64 `json:"processed"`
	Failed     uint64 `json:"failed"`
	Queued     int    `json:"queued"`
}

type envelope struct {
	deviceID string
	topic    string
	payload  []byte
}

type dispatcherState int

const (
	stateIdle dispatcherState = iota
	stateRunning
	stateStopped
)

// Dispatcher fans messages out to a fixed pool of per-device queues.
//
// A device always maps to the same queue, so its messages are handled in
// the order Dispatch received them. Dispatch is safe for concurrent use
// and never blocks on handler work.
type Dispatcher struct {
	router  Router
	handler MessageHandler
	logger  Logger
	shards  []chan envelope

	dropMu          sync.Mutex
	dropLogInterval time.Duration
	dropLogged      map[string]time.Time
	dropSuppressed  map[string]uint64
	now             func() time.Time

	// mu guards state and the shard channels against close during send.
	mu    sync.RWMutex
	state dispatcherState

	ctx    context.Context
	cancel context.CancelFunc
	group  errgroup.Group

	dispatched atomic.Uint64
	unrouted   atomic.Uint64
	dropped    atomic.Uint64
	processed  atomic.Uint64
	failed     atomic.Uint64
}

// NewDispatcher creates a Dispatcher. Call Start before Dispatch.
func NewDispatcher(router Router, handler MessageHandler, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.DropLogInterval <= 0 {
		opts.DropLogInterval = DefaultDropLogInterval
	}
	if opts.Logger == nil {
		opts.Logger = noopLogger{}
	}

	shards := make([]chan envelope, opts.Workers)
	for i := range shards {
		shards[i] = make(chan envelope, opts.QueueSize)
	}

	return &Dispatcher{
		router:  router,
		handler: handler,
		logger:  opts.Logger,
		shards:  shards,

		dropLogInterval: opts.DropLogInterval,
		dropLogged:      make(map[string]time.Time),
		dropSuppressed:  make(map[string]uint64),
		now:             time.Now,
	}
}

// Start launches the workers.
//
// Handlers run under a context that keeps ctx's values but not its
// cancellation, so a shutdown signal does not abort work that Stop is
// about to drain. Calling Start more than once has no effect.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state != stateIdle {
		return
	}
	d.ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	d.state = stateRunning

	for i, shard := range d.shards {
		d.group.Go(func() error {
			d.runWorker(i, shard)
			return nil
		})
	}

	d.logger.Info("dispatcher started", "workers", len(d.shards), "queue_size", cap(d.shards[0]))
}

// Dispatch routes a message to its device's queue and returns at once.
//
// Messages for topics that belong to no device are dropped with a debug
// log and a nil error. A full queue yields ErrQueueFull and the message is
// dropped. After Stop, Dispatch returns ErrDispatcherStopped.
func (d *Dispatcher) Dispatch(topic string, payload []byte) error {
	route, ok := d.router.Resolve(topic)
	if !ok {
		d.unrouted.Add(1)
		d.logger.Debug("dropping message for unknown topic", "topic", topic)
		return nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.state != stateRunning {
		return ErrDispatcherStopped
	}

	env := envelope{deviceID: route.DeviceID, topic: topic, payload: payload}
	select {
	case d.shards[shardFor(route.DeviceID, len(d.shards))] <- env:
		d.dispatched.Add(1)
		return nil
	default:
		d.dropped.Add(1)
		d.logDrop(route.DeviceID, topic)
		return fmt.Errorf("%w: device %s topic %s", ErrQueueFull, route.DeviceID, topic)
	}
}

// Receive is Dispatch for the broker subscription. A full queue is
// reported only through the dispatcher's own rate-limited warning, so the
// subscriber does not log every dropped message again.
func (d *Dispatcher) Receive(topic string, payload []byte) error {
	if err := d.Dispatch(topic, payload); err != nil && !errors.Is(err, ErrQueueFull) {
		return err
	}
	return nil
}

// logDrop warns about a full queue at most once per device per
// DropLogInterval.
func (d *Dispatcher) logDrop(deviceID, topic string) {
	d.dropMu.Lock()
	now := d.now()
	if last, ok := d.dropLogged[deviceID]; ok && now.Sub(last) < d.dropLogInterval {
		d.dropSuppressed[deviceID]++
		d.dropMu.Unlock()
		return
	}
	suppressed := d.dropSuppressed[deviceID]
	d.dropLogged[deviceID] = now
	delete(d.dropSuppressed, deviceID)
	d.dropMu.Unlock()

	d.logger.Warn("device queue full, dropping message",
		"device", deviceID,
		"topic", topic,
		"suppressed", suppressed,
	)
}

// Stop stops accepting messages and waits up to timeout for queued work
// to finish. On expiry it cancels in-flight handlers, discards what is
// still queued and returns ErrDrainTimeout.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	d.mu.Lock()
	prev := d.state
	d.state = stateStopped
	if prev == stateRunning {
		for _, shard := range d.shards {
			close(shard)
		}
	}
	d.mu.Unlock()

	if prev != stateRunning {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = d.group.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		d.cancel()
		d.logger.Info("dispatcher drained", "processed", d.processed.Load())
		return nil
	case <-timer.C:
		pending := d.queued()
		d.cancel()
		d.logger.Warn("dispatcher drain timed out", "timeout", timeout, "pending", pending)
		return fmt.Errorf("%w: %d messages pending after %v", ErrDrainTimeout, pending, timeout)
	}
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Dispatched: d.dispatched.Load(),
		Unrouted:   d.unrouted.Load(),
		Dropped:    d.dropped.Load(),
		Processed:  d.processed.Load(),
		Failed:     d.failed.Load(),
		Queued:     d.queued(),
	}
}

func (d *Dispatcher) queued() int {
	n := 0
	for _, shard := range d.shards {
		n += len(shard)
	}
	return n
}

// runWorker drains one queue until it is closed.
func (d *Dispatcher) runWorker(id int, shard <-chan envelope) {
	for env := range shard {
		if d.ctx.Err() != nil {
			// Drain timed out; discard the rest.
			d.dropped.Add(1)
			continue
		}
		d.process(id, env)
	}
}

// process runs the handler for one message with panic recovery.
func (d *Dispatcher) process(worker int, env envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Error("handler panic recovered",
				"worker", worker,
				"device", env.deviceID,
				"topic", env.topic,
				"panic", r,
			)
		}
	}()

	err := d.handler.Handle(d.ctx, env.topic, env.payload)
	d.processed.Add(1)
	if err == nil {
		return
	}
	d.failed.Add(1)
	d.logError(env, err)
}

// logError picks a level by error kind. Decode and publish failures are
// expected in normal operation; a missing store entry is a wiring bug.
func (d *Dispatcher) logError(env envelope, err error) {
	args := []any{"device", env.deviceID, "topic", env.topic, "error", err}

	switch {
	case errors.Is(err, ErrDecode):
		d.logger.Warn("dropping malformed message", args...)
	case errors.Is(err, calibration.ErrPublish):
		d.logger.Warn("calibration publish failed", args...)
	case errors.Is(err, device.ErrUnknownDevice):
		d.logger.Error("device missing from state store", args...)
	case errors.Is(err, context.Canceled):
		d.logger.Debug("message handling cancelled", args...)
	default:
		d.logger.Error("message handling failed", args...)
	}
}

// shardFor maps a device ID to a queue index.
func shardFor(deviceID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(deviceID))
	return int(h.Sum32() % uint32(n))
}
