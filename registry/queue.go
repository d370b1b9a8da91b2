package registry

import "sync"

// eventQueue is an unbounded FIFO feeding a channel. Producers never block,
// so a store callback can enqueue while the engine is busy calling the store.
type eventQueue struct {
	mu    sync.Mutex
	items []AnchorEvent
	wake  chan struct{}
	out   chan AnchorEvent
	quit  chan struct{}
	once  sync.Once
}

func newEventQueue() *eventQueue {
	q := &eventQueue{
		wake: make(chan struct{}, 1),
		out:  make(chan AnchorEvent),
		quit: make(chan struct{}),
	}
	go q.pump()
	return q
}

func (q *eventQueue) push(ev AnchorEvent) {
	select {
	case <-q.quit:
		return
	default:
	}
	q.mu.Lock()
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.quit:
				return
			}
		}
		ev := q.items[0]
		q.items[0] = AnchorEvent{}
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- ev:
		case <-q.quit:
			return
		}
	}
}

// close stops the pump and closes the output channel. Queued events are dropped.
func (q *eventQueue) close() {
	q.once.Do(func() { close(q.quit) })
}
