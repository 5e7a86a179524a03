package call

import "sync"

// serial runs posted funcs one at a time, in post order, on its own
// goroutine. Posting never blocks.
type serial struct {
	mu    sync.Mutex
	items []func()
	wake  chan struct{}
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func newSerial() *serial {
	q := &serial{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

// post queues fn. It reports false once the queue has been stopped.
func (q *serial) post(fn func()) bool {
	select {
	case <-q.quit:
		return false
	default:
	}
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// stop drops pending funcs; the one running, if any, completes.
func (q *serial) stop() {
	q.once.Do(func() { close(q.quit) })
}

func (q *serial) wait() { <-q.done }

func (q *serial) run() {
	defer close(q.done)
	for {
		select {
		case <-q.quit:
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			fn := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			q.mu.Unlock()

			select {
			case <-q.quit:
				return
			default:
			}
			fn()
		}
	}
}
