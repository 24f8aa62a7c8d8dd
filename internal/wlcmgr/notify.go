package wlcmgr

import (
	"sync"
	"time"
)

// Event is a user-visible connection event
type Event struct {
	Reason  Reason
	Network string // profile name the event refers to, if any
	Time    time.Time
}

// EventHandler receives connection events in order on a dedicated goroutine.
// It may call back into the Manager.
type EventHandler func(Event)

// notifier runs callbacks in FIFO order off the event loop. The queue is
// unbounded so posting never blocks the loop.
type notifier struct {
	mu      sync.Mutex
	pending []func()
	wake    chan struct{}
	stop    chan struct{}
	done    chan struct{}
}

func newNotifier() *notifier {
	return &notifier{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (n *notifier) post(fn func()) {
	n.mu.Lock()
	n.pending = append(n.pending, fn)
	n.mu.Unlock()
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.done)
	for {
		n.mu.Lock()
		batch := n.pending
		n.pending = nil
		n.mu.Unlock()

		for _, fn := range batch {
			fn()
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-n.wake:
		case <-n.stop:
			n.flush()
			return
		}
	}
}

// flush delivers whatever is left at shutdown
func (n *notifier) flush() {
	n.mu.Lock()
	batch := n.pending
	n.pending = nil
	n.mu.Unlock()
	for _, fn := range batch {
		fn()
	}
}

func (n *notifier) close() {
	close(n.stop)
	<-n.done
}
