package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/seantiz/browserd/internal/store"
)

// DefaultBridgeCapacity is the number of progress events the bridge buffers
// before dropping.
const DefaultBridgeCapacity = 1024

// progressEvent is one line, or the end marker of a task when ack is set.
type progressEvent struct {
	taskID string
	line   string
	ack    chan struct{}
}

// Bridge carries progress lines from a running task to the store and the
// LogBroker. Emit never blocks the task: a full channel drops the line. A
// single forwarder goroutine persists each line with a per-task sequence
// number and then publishes it.
type Bridge struct {
	ch     chan progressEvent
	store  store.Store
	broker *LogBroker
	logger *slog.Logger

	mu  sync.Mutex
	seq map[string]int

	dropped atomic.Int64
	quit    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// NewBridge creates a bridge with the given buffer capacity. capacity <= 0
// selects DefaultBridgeCapacity.
func NewBridge(s store.Store, broker *LogBroker, logger *slog.Logger, capacity int) *Bridge {
	if capacity <= 0 {
		capacity = DefaultBridgeCapacity
	}
	return &Bridge{
		ch:     make(chan progressEvent, capacity),
		store:  s,
		broker: broker,
		logger: logger,
		seq:    make(map[string]int),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Start launches the forwarder goroutine.
func (b *Bridge) Start() {
	go b.forward()
}

// Emit enqueues one progress line for taskID, dropping it if the bridge is
// full or stopped.
func (b *Bridge) Emit(taskID, line string) {
	select {
	case <-b.quit:
		b.drop()
		return
	default:
	}

	select {
	case b.ch <- progressEvent{taskID: taskID, line: line}:
	default:
		b.drop()
	}
}

// End enqueues the end marker for taskID and waits until the forwarder has
// handled every line queued before it. The task's broker topic is closed
// once End returns.
func (b *Bridge) End(taskID string) {
	ack := make(chan struct{})
	select {
	case b.ch <- progressEvent{taskID: taskID, ack: ack}:
	case <-b.quit:
		b.broker.Close(taskID)
		return
	}

	select {
	case <-ack:
	case <-b.done:
		b.broker.Close(taskID)
	}
}

// Reset drains whatever is still queued so the next task's subscribers never
// see stale lines. Drained lines are counted as dropped; end markers are
// still honoured.
func (b *Bridge) Reset() {
	for {
		select {
		case ev := <-b.ch:
			if ev.ack != nil {
				b.handle(ev)
				continue
			}
			b.drop()
		default:
			return
		}
	}
}

// Dropped returns how many lines were discarded.
func (b *Bridge) Dropped() int64 {
	return b.dropped.Load()
}

// Stop terminates the forwarder after handling what is already queued.
func (b *Bridge) Stop() {
	b.once.Do(func() { close(b.quit) })
	<-b.done
}

func (b *Bridge) forward() {
	defer close(b.done)
	for {
		select {
		case ev := <-b.ch:
			b.handle(ev)
		case <-b.quit:
			for {
				select {
				case ev := <-b.ch:
					b.handle(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bridge) handle(ev progressEvent) {
	if ev.ack != nil {
		b.mu.Lock()
		delete(b.seq, ev.taskID)
		b.mu.Unlock()
		b.broker.Close(ev.taskID)
		close(ev.ack)
		return
	}

	b.mu.Lock()
	n := b.seq[ev.taskID]
	b.seq[ev.taskID] = n + 1
	b.mu.Unlock()

	if err := b.store.InsertLogLine(context.Background(), ev.taskID, n, ev.line); err != nil {
		b.logger.Error("failed to persist progress line", "task_id", ev.taskID, "seq", n, "error", err)
	}
	b.broker.Publish(ev.taskID, ev.line)
}

func (b *Bridge) drop() {
	b.dropped.Add(1)
	progressDroppedTotal.Inc()
}
