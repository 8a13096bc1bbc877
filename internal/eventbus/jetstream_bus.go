package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	nats "github.com/nats-io/nats.go"
)

// SubjectPrefix - префикс subject'ов событий синхронизации.
const SubjectPrefix = "worldsync.events"

const (
	DefaultStream = "WORLDSYNC"

	// заголовки дублируют поля конверта, чтобы фильтровать без разбора JSON
	headerRunID  = "Worldsync-Run-Id"
	headerSource = "Worldsync-Source"
)

// Subject возвращает subject для типа события.
func Subject(eventType string) string {
	return SubjectPrefix + "." + eventType
}

// JetStreamBus раздаёт события синхронизации через NATS JetStream.
// Повторная публикация конверта с тем же ID отбрасывается сервером (Nats-Msg-Id).
type JetStreamBus struct {
	counters

	nc     *nats.Conn
	js     nats.JetStreamContext
	stream string
}

// NewJetStreamBus подключается к NATS и создаёт стрим, если его ещё нет.
// Стрим хранит события не дольше retention.
func NewJetStreamBus(url, stream string, retention time.Duration) (*JetStreamBus, error) {
	if stream == "" {
		stream = DefaultStream
	}

	nc, err := nats.Connect(url, nats.Name("worldsync"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}

	if _, err := js.StreamInfo(stream); err != nil {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:       stream,
			Subjects:   []string{SubjectPrefix + ".>"},
			Retention:  nats.LimitsPolicy,
			MaxAge:     retention,
			Storage:    nats.FileStorage,
			Duplicates: time.Minute,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("add stream %s: %w", stream, err)
		}
	}

	return &JetStreamBus{nc: nc, js: js, stream: stream}, nil
}

func (jb *JetStreamBus) Publish(ctx context.Context, ev *Envelope) error {
	data, err := json.Marshal(ev)
	if err != nil {
		jb.dropped.Add(1)
		return fmt.Errorf("encode envelope %s: %w", ev.ID, err)
	}

	msg := nats.NewMsg(Subject(ev.EventType))
	msg.Data = data
	msg.Header.Set(headerSource, ev.Source)
	if ev.CorrelationID != "" {
		msg.Header.Set(headerRunID, ev.CorrelationID)
	}

	if _, err := jb.js.PublishMsg(msg, nats.MsgId(ev.ID), nats.Context(ctx)); err != nil {
		jb.dropped.Add(1)
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	jb.published.Add(1)
	return nil
}

// Subscribe создаёт эфемерного потребителя, получающего только новые события.
// Подписка снимается при Unsubscribe или отмене ctx.
func (jb *JetStreamBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	subj := SubjectPrefix + ".>"
	if len(f.Types) == 1 {
		subj = Subject(f.Types[0])
	}

	natSub, err := jb.js.Subscribe(subj, func(msg *nats.Msg) {
		defer func() { _ = msg.Ack() }()

		if len(f.RunIDs) > 0 && !oneOf(f.RunIDs, msg.Header.Get(headerRunID)) {
			return
		}
		var ev Envelope
		if err := json.Unmarshal(msg.Data, &ev); err != nil || !f.match(&ev) {
			return
		}
		h(ctx, &ev)
		jb.consumed.Add(1)
	}, nats.BindStream(jb.stream), nats.DeliverNew(), nats.ManualAck(), nats.AckWait(30*time.Second))
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subj, err)
	}

	sub := &jetSub{s: natSub, stop: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			sub.Unsubscribe()
		case <-sub.stop:
		}
	}()
	return sub, nil
}

type jetSub struct {
	s    *nats.Subscription
	stop chan struct{}
	once sync.Once
}

func (j *jetSub) Unsubscribe() {
	j.once.Do(func() {
		close(j.stop)
		_ = j.s.Unsubscribe()
	})
}

func (jb *JetStreamBus) Metrics() Stats {
	return jb.snapshot()
}

// Close дожидается отправки буферов и закрывает соединение.
func (jb *JetStreamBus) Close() error {
	return jb.nc.Drain()
}
