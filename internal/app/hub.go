package app

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/peercall/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var ErrEmptyKey = errors.New("relay key empty")

// Hub is the in-memory message relay: one ordered append-only log per key.
// A key exists from its first append until it is deleted; an empty log and a
// missing key are different things.
type Hub struct {
	mu     sync.Mutex
	logs   map[string][]core.RelayRecord
	subs   map[string]map[uint64]*subscriber
	nextID uint64
	now    func() time.Time
}

func NewHub() *Hub {
	return &Hub{
		logs: make(map[string][]core.RelayRecord),
		subs: make(map[string]map[uint64]*subscriber),
		now:  time.Now,
	}
}

// Append stores rec under key, assigning a time-ordered id and the write time.
func (h *Hub) Append(key string, rec core.RelayRecord) (core.RelayRecord, error) {
	if key == "" {
		return core.RelayRecord{}, ErrEmptyKey
	}
	id, err := uuid.NewV7()
	if err != nil {
		return core.RelayRecord{}, err
	}
	rec.ID = id.String()

	h.mu.Lock()
	defer h.mu.Unlock()
	rec.Timestamp = h.now().UTC()
	h.logs[key] = append(h.logs[key], rec)
	for _, s := range h.subs[key] {
		s.push(core.RelayEvent{Kind: core.RelayRecordAdded, Record: rec})
	}
	log.Debug().Str("module", "app.hub").Str("key", key).Str("type", rec.Type).Str("sender", rec.SenderID).Msg("record appended")
	return rec, nil
}

// Delete removes the whole scope. Subscribers of an existing scope receive a
// RelayScopeGone event and stay subscribed in case the key is reused.
func (h *Hub) Delete(key string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.logs[key]; !ok {
		return false
	}
	delete(h.logs, key)
	for _, s := range h.subs[key] {
		s.push(core.RelayEvent{Kind: core.RelayScopeGone})
	}
	log.Info().Str("module", "app.hub").Str("key", key).Msg("scope deleted")
	return true
}

// Snapshot returns a copy of the log and whether the key exists.
func (h *Hub) Snapshot(key string) ([]core.RelayRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	recs, ok := h.logs[key]
	if !ok {
		return nil, false
	}
	out := make([]core.RelayRecord, len(recs))
	copy(out, recs)
	return out, true
}

// Subscribe replays the current log into fn and then streams live events.
// fn runs on one goroutine per subscription, in append order.
func (h *Hub) Subscribe(key string, fn func(core.RelayEvent)) (func(), error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	s := &subscriber{
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[key] == nil {
		h.subs[key] = make(map[uint64]*subscriber)
	}
	h.subs[key][id] = s
	for _, rec := range h.logs[key] {
		s.push(core.RelayEvent{Kind: core.RelayRecordAdded, Record: rec})
	}
	h.mu.Unlock()

	go s.run()
	log.Debug().Str("module", "app.hub").Str("key", key).Uint64("sub", id).Msg("subscribed")

	return func() { h.unsubscribe(key, id) }, nil
}

// Subscribers returns the number of live subscriptions on key.
func (h *Hub) Subscribers(key string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key])
}

func (h *Hub) unsubscribe(key string, id uint64) {
	h.mu.Lock()
	s, ok := h.subs[key][id]
	if ok {
		delete(h.subs[key], id)
		if len(h.subs[key]) == 0 {
			delete(h.subs, key)
		}
	}
	h.mu.Unlock()
	if ok {
		s.stop()
		log.Debug().Str("module", "app.hub").Str("key", key).Uint64("sub", id).Msg("unsubscribed")
	}
}

type subscriber struct {
	fn func(core.RelayEvent)

	mu    sync.Mutex
	queue []core.RelayEvent
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (s *subscriber) push(ev core.RelayEvent) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(ev)
		}
	}
}
