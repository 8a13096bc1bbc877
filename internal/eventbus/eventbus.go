// Package eventbus публикует уведомления о ходе синхронизаций.
// Шина в памяти обслуживает один процесс, JetStream раздаёт события внешним подписчикам.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrClosed возвращается при публикации или подписке на закрытой шине
var ErrClosed = errors.New("eventbus: closed")

// Envelope - конверт события: заголовки и JSON полезной нагрузки.
type Envelope struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"ts"`
	Source        string            `json:"source"`
	EventType     string            `json:"type"`
	Version       int               `json:"v"`
	CorrelationID string            `json:"correlation_id,omitempty"` // RunID синхронизации
	Priority      int               `json:"priority"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"meta,omitempty"`
}

// NewEnvelope создаёт событие с JSON-полезной нагрузкой.
func NewEnvelope(eventType, source string, payload interface{}) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   1,
		Priority:  PriorityNormal,
		Payload:   data,
	}, nil
}

// Decode разбирает полезную нагрузку в v.
func (ev *Envelope) Decode(v interface{}) error {
	return json.Unmarshal(ev.Payload, v)
}

// Filter отбирает события; пустое поле не ограничивает выборку.
type Filter struct {
	Types   []string
	Sources []string
	RunIDs  []string // по CorrelationID
}

func (f Filter) match(ev *Envelope) bool {
	return oneOf(f.Types, ev.EventType) &&
		oneOf(f.Sources, ev.Source) &&
		oneOf(f.RunIDs, ev.CorrelationID)
}

func oneOf(allowed []string, v string) bool {
	return len(allowed) == 0 || slices.Contains(allowed, v)
}

type Subscription interface {
	Unsubscribe()
}

type Handler func(ctx context.Context, ev *Envelope)

// Stats - счётчики шины с момента создания.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus - шина событий синхронизации.
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

// counters - атомарные счётчики, общие для реализаций
type counters struct {
	published atomic.Uint64
	consumed  atomic.Uint64
	dropped   atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		Published: c.published.Load(),
		Consumed:  c.consumed.Load(),
		Dropped:   c.dropped.Load(),
	}
}

// memoryBus доставляет события одной горутиной: каждый подписчик видит их
// в порядке публикации, подписчики вызываются в порядке подписки.
type memoryBus struct {
	counters

	mu     sync.RWMutex // closed и отправка в queue
	closed bool

	subsMu sync.Mutex
	subs   []*memSub
	nextID int

	queue chan *Envelope
	done  chan struct{}
}

// NewMemoryBus создаёт шину в памяти с очередью на capacity событий.
// При заполненной очереди события ниже PriorityNormal отбрасываются,
// остальные ждут места или отмены ctx.
func NewMemoryBus(capacity int) EventBus {
	if capacity <= 0 {
		capacity = 1
	}
	mb := &memoryBus{
		queue: make(chan *Envelope, capacity),
		done:  make(chan struct{}),
	}
	go mb.dispatch()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	// RLock держится до постановки в очередь: Close не закроет канал под отправкой
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	if mb.closed {
		return ErrClosed
	}

	select {
	case mb.queue <- ev:
		mb.published.Add(1)
		return nil
	default:
	}

	if ev.Priority < PriorityNormal {
		mb.dropped.Add(1)
		return nil
	}

	select {
	case mb.queue <- ev:
		mb.published.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.mu.RLock()
	closed := mb.closed
	mb.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	mb.subsMu.Lock()
	defer mb.subsMu.Unlock()
	sctx, cancel := context.WithCancel(ctx)
	sub := &memSub{bus: mb, id: mb.nextID, filter: f, handler: h, ctx: sctx, cancel: cancel}
	mb.nextID++
	mb.subs = append(mb.subs, sub)
	return sub, nil
}

func (mb *memoryBus) Metrics() Stats {
	s := mb.snapshot()
	s.InFlight = len(mb.queue)
	return s
}

// Close перестаёт принимать события и дожидается доставки уже принятых.
func (mb *memoryBus) Close() error {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return nil
	}
	mb.closed = true
	close(mb.queue)
	mb.mu.Unlock()

	<-mb.done
	return nil
}

func (mb *memoryBus) dispatch() {
	defer close(mb.done)

	for ev := range mb.queue {
		mb.subsMu.Lock()
		subs := slices.Clone(mb.subs)
		mb.subsMu.Unlock()

		for _, sub := range subs {
			if sub.ctx.Err() != nil || !sub.filter.match(ev) {
				continue
			}
			sub.handler(sub.ctx, ev)
			mb.consumed.Add(1)
		}
	}
}

type memSub struct {
	bus     *memoryBus
	id      int
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

func (s *memSub) Unsubscribe() {
	s.cancel()

	s.bus.subsMu.Lock()
	s.bus.subs = slices.DeleteFunc(s.bus.subs, func(o *memSub) bool { return o.id == s.id })
	s.bus.subsMu.Unlock()
}
