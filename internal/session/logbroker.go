package session

import "sync"

// subscriberBufferSize is the channel buffer for each log subscriber.
// Lines are dropped if a subscriber falls this far behind.
const subscriberBufferSize = 64

// maxClosedTopics bounds how many ended topics are remembered. Older
// markers are forgotten; by then the task is long since stored as
// terminal and callers check that before subscribing.
const maxClosedTopics = 1024

// LogBroker fans progress lines out to subscribers. Per-task subscribers see
// one task's lines and are closed when that task ends; firehose subscribers
// see every line of every task until they unsubscribe. It is safe for
// concurrent use.
//
// The most recent ended topics are kept as markers so a subscriber arriving
// just after the task finished gets a closed channel instead of waiting
// forever.
type LogBroker struct {
	mu       sync.Mutex
	topics   map[string]*logTopic
	closed   []string // ended topic IDs, oldest first
	firehose map[int]chan string
	nextID   int
}

type logTopic struct {
	subs   map[int]chan string
	closed bool
}

// NewLogBroker creates an empty broker.
func NewLogBroker() *LogBroker {
	return &LogBroker{
		topics:   make(map[string]*logTopic),
		firehose: make(map[int]chan string),
	}
}

// Subscribe returns a channel of lines for one task and an unsubscribe func.
// If the task already ended the channel is returned closed.
func (b *LogBroker) Subscribe(taskID string) (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(taskID)
	ch := make(chan string, subscriberBufferSize)
	if t.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	t.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(t.subs, id)
	}
}

// SubscribeAll returns a channel that receives every published line and an
// unsubscribe func. The channel is never closed by the broker.
func (b *LogBroker) SubscribeAll() (<-chan string, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan string, subscriberBufferSize)
	id := b.nextID
	b.nextID++
	b.firehose[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.firehose, id)
	}
}

// Publish delivers line to the task's subscribers and to every firehose
// subscriber without blocking. Slow subscribers miss lines.
func (b *LogBroker) Publish(taskID, line string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.topics[taskID]; ok && !t.closed {
		for _, ch := range t.subs {
			trySend(ch, line)
		}
	}
	for _, ch := range b.firehose {
		trySend(ch, line)
	}
}

// Close ends the task's topic: current subscribers are closed and future
// Subscribe calls get a closed channel.
func (b *LogBroker) Close(taskID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topic(taskID)
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		close(ch)
		delete(t.subs, id)
	}

	b.closed = append(b.closed, taskID)
	if len(b.closed) > maxClosedTopics {
		delete(b.topics, b.closed[0])
		b.closed = b.closed[1:]
	}
}

// topic returns the topic for taskID, creating it. Callers hold b.mu.
func (b *LogBroker) topic(taskID string) *logTopic {
	t, ok := b.topics[taskID]
	if !ok {
		t = &logTopic{subs: make(map[int]chan string)}
		b.topics[taskID] = t
	}
	return t
}

func trySend(ch chan string, line string) {
	select {
	case ch <- line:
	default:
	}
}
