package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/atillabyte/World/internal/diff"
	"github.com/atillabyte/World/internal/eventbus"
	"github.com/atillabyte/World/internal/logging"
	"github.com/atillabyte/World/internal/network"
	"github.com/atillabyte/World/internal/protocol"
	"github.com/atillabyte/World/internal/storage"
	"github.com/atillabyte/World/internal/world"
	"github.com/atillabyte/World/internal/world/block"
)

// Result - итог синхронизации
type Result struct {
	RunID     string
	TargetID  string
	Outcome   Outcome
	Retries   int           // Незавершённых циклов
	Cycles    int           // Проходов diff/transmit
	Saves     int           // Отправленных save
	Sent      int           // Отправленных блоков за всё время
	Remaining int           // Размер разницы на последнем проходе
	Elapsed   time.Duration // Длительность
}

// Options - параметры синхронизации
type Options struct {
	MaxRetries  int
	SettleDelay time.Duration
	PacingDelay time.Duration
	AckTimeout  time.Duration
	Collection  string
	Registry    *block.Registry
	Bus         eventbus.EventBus
	BusSource   string
	Metrics     *Metrics
	Tracer      trace.Tracer
}

// Option настраивает синхронизацию
type Option func(*Options)

// DefaultOptions возвращает параметры по умолчанию
func DefaultOptions() Options {
	return Options{
		MaxRetries:  DefaultMaxRetries,
		SettleDelay: DefaultSettleDelay,
		PacingDelay: DefaultPacingDelay,
		AckTimeout:  DefaultAckTimeout,
		Collection:  DefaultCollection,
		BusSource:   "worldsync",
	}
}

func WithMaxRetries(n int) Option { return func(o *Options) { o.MaxRetries = n } }

// WithSettleDelay задаёт паузу между подтверждением init и первым save.
func WithSettleDelay(d time.Duration) Option { return func(o *Options) { o.SettleDelay = d } }

// WithPacingDelay задаёт паузу между блоками; значение приводится к 8-16 мс.
func WithPacingDelay(d time.Duration) Option { return func(o *Options) { o.PacingDelay = d } }

// WithAckTimeout задаёт время ожидания ответа на init и save.
func WithAckTimeout(d time.Duration) Option { return func(o *Options) { o.AckTimeout = d } }

func WithCollection(name string) Option { return func(o *Options) { o.Collection = name } }

func WithRegistry(r *block.Registry) Option { return func(o *Options) { o.Registry = r } }

// WithEventBus публикует события синхронизации в шину от имени source.
func WithEventBus(bus eventbus.EventBus, source string) Option {
	return func(o *Options) {
		o.Bus = bus
		if source != "" {
			o.BusSource = source
		}
	}
}

func WithMetrics(m *Metrics) Option { return func(o *Options) { o.Metrics = m } }

func WithTracer(t trace.Tracer) Option { return func(o *Options) { o.Tracer = t } }

func buildOptions(opts []Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	}
	o.PacingDelay = clampPacing(o.PacingDelay)
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	if o.Collection == "" {
		o.Collection = DefaultCollection
	}
	if o.Registry == nil {
		o.Registry = block.Default()
	}
	if o.Tracer == nil {
		o.Tracer = otel.Tracer("github.com/atillabyte/World/internal/sync")
	}
	return o
}

func clampPacing(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return DefaultPacingDelay
	case d < MinPacingDelay:
		return MinPacingDelay
	case d > MaxPacingDelay:
		return MaxPacingDelay
	}
	return d
}

// RunSync восстанавливает в удалённом мире targetID блоки снимка source.
// Возвращает Outcome Completed или Timeout; ошибка возвращается только для
// неустранимых сбоев (повреждённый документ, отмена контекста).
func RunSync(ctx context.Context, session network.Session, store storage.ObjectStore,
	source *world.Snapshot, targetID string, opts ...Option) (Result, error) {
	if session == nil || store == nil || source == nil {
		return Result{Outcome: OutcomeFailed}, errors.New("sync: session, store and source are required")
	}
	r := newRunner(session, store, source, targetID, buildOptions(opts))
	return r.run(ctx)
}

// runner исполняет действия машины состояний для одной сессии
type runner struct {
	session  network.Session
	store    storage.ObjectStore
	source   *world.Snapshot
	targetID string
	opts     Options

	events chan Event
	done   chan struct{}
	gen    uint64

	machine Machine
	result  Result
	missing []protocol.Message
	cycle   trace.Span
	log     *logging.Logger
}

func newRunner(session network.Session, store storage.ObjectStore, source *world.Snapshot,
	targetID string, opts Options) *runner {
	return &runner{
		session:  session,
		store:    store,
		source:   source,
		targetID: targetID,
		opts:     opts,
		events:   make(chan Event, defaultEventsBuffer),
		done:     make(chan struct{}),
		machine:  NewMachine(opts.MaxRetries, opts.SettleDelay),
		log:      logging.GetSyncLogger(),
		result: Result{
			RunID:    uuid.NewString(),
			TargetID: targetID,
		},
	}
}

// push ставит событие в очередь. После завершения события отбрасываются.
func (r *runner) push(ev Event) {
	select {
	case r.events <- ev:
	case <-r.done:
	}
}

func (r *runner) run(ctx context.Context) (Result, error) {
	started := time.Now()
	ctx, span := r.opts.Tracer.Start(ctx, "sync.run", trace.WithAttributes(
		attribute.String("world.target", r.targetID),
		attribute.String("sync.run_id", r.result.RunID),
	))
	defer span.End()

	r.session.OnMessage(func(msg protocol.Message) {
		switch {
		case msg.Is(protocol.TypeInit):
			r.push(Event{Kind: EventInitAck})
		case msg.Is(protocol.TypeSaved):
			r.push(Event{Kind: EventSaved})
		}
	})
	r.session.OnDisconnect(func(err error) {
		r.push(Event{Kind: EventDisconnected, Err: err})
	})

	r.log.Info("🔄 Синхронизация %s: мир %s, %d тайлов источника", r.result.RunID, r.targetID, r.source.Len())
	r.publish(ctx, eventbus.EventSyncStarted, nil)

	queue := []Event{{Kind: EventStart}}
	if !r.session.Connected() {
		queue[0] = Event{Kind: EventDisconnected}
	}

	for {
		var ev Event
		if len(queue) > 0 {
			ev, queue = queue[0], queue[1:]
		} else {
			select {
			case <-ctx.Done():
				r.stop()
				r.endCycle(ctx.Err())
				span.SetStatus(codes.Error, ctx.Err().Error())
				r.result.Retries = r.machine.Retries
				r.result.Outcome = OutcomeFailed
				r.result.Elapsed = time.Since(started)
				return r.result, ctx.Err()
			case ev = <-r.events:
			}
			// разрыв, уже обработанный через ошибку отправки или Lost
			if ev.Kind == EventDisconnected && r.session.Connected() {
				r.log.Debug("sync %s: устаревшее уведомление о разрыве пропущено", r.result.RunID)
				continue
			}
		}

		if ev.Kind == EventAckTimeout && ev.gen != r.gen {
			continue
		}

		prev := r.machine.State
		next, actions := Transition(r.machine, ev)
		r.machine = next
		if acknowledged(prev, ev.Kind) {
			r.gen++ // ответ принят, таймер больше не нужен
		}
		if next.State != prev || len(actions) > 0 {
			r.log.Debug("sync %s: %s --%s--> %s %v", r.result.RunID, prev, ev.Kind, next.State, actions)
		}
		if next.State.Terminal() {
			r.stop()
		}

		for _, act := range actions {
			follow, err := r.execute(ctx, act)
			if err != nil {
				queue = append(queue, Event{Kind: EventError, Err: err})
				break
			}
			if follow != nil {
				queue = append(queue, *follow)
			}
		}

		if next.State.Terminal() {
			r.result.Retries = next.Retries
			r.result.Outcome = next.Outcome
			r.result.Elapsed = time.Since(started)
			r.opts.Metrics.finish(next.Outcome, r.result.Elapsed)
			span.SetAttributes(
				attribute.String("sync.outcome", string(next.Outcome)),
				attribute.Int("sync.retries", next.Retries),
				attribute.Int("sync.sent", r.result.Sent),
			)
			if next.Err != nil {
				span.RecordError(next.Err)
				span.SetStatus(codes.Error, next.Err.Error())
			}
			return r.result, next.Err
		}
	}
}

// stop отпускает обработчики сессии, которые ещё могут прислать события.
func (r *runner) stop() {
	select {
	case <-r.done:
	default:
		close(r.done)
	}
}

// execute выполняет действие и возвращает порождённое им событие, если оно есть.
func (r *runner) execute(ctx context.Context, act Action) (*Event, error) {
	switch act.Kind {
	case ActionSendInit:
		if err := r.session.Send(protocol.NewMessage(protocol.TypeInit)); err != nil {
			r.log.Warn("sync %s: init не отправлен: %v", r.result.RunID, err)
			return &Event{Kind: EventDisconnected, Err: err}, nil
		}
		r.armAckTimer()

	case ActionSendSave:
		if err := sleep(ctx, act.Delay); err != nil {
			return nil, err
		}
		r.beginCycle(ctx)
		if err := r.session.Send(protocol.NewMessage(protocol.TypeSave)); err != nil {
			r.log.Warn("sync %s: save не отправлен: %v", r.result.RunID, err)
			return &Event{Kind: EventDisconnected, Err: err}, nil
		}
		r.result.Saves++
		r.opts.Metrics.save()
		r.armAckTimer()

	case ActionReload:
		missing, err := r.reload(ctx)
		if err != nil {
			return nil, err
		}
		r.missing = missing
		return &Event{Kind: EventDiffReady}, nil

	case ActionTransmit:
		complete, err := r.transmit(ctx)
		if err != nil {
			return nil, err
		}
		return &Event{Kind: EventTransmitted, Complete: complete, Lost: !r.session.Connected()}, nil

	case ActionReconnect:
		r.endCycle(errors.New("disconnected"))
		if err := sleep(ctx, act.Delay); err != nil {
			return nil, err
		}
		r.opts.Metrics.reconnect()
		r.log.Info("🔌 sync %s: переподключение (попыток: %d)", r.result.RunID, r.machine.Retries)
		if err := r.session.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.log.Warn("sync %s: переподключение не удалось: %v", r.result.RunID, err)
			return &Event{Kind: EventReconnectFailed, Err: err}, nil
		}
		return &Event{Kind: EventStart}, nil

	case ActionDisconnect:
		r.endCycle(errors.New("retry limit reached"))
		if err := r.session.Disconnect(); err != nil {
			r.log.Warn("sync %s: ошибка отключения: %v", r.result.RunID, err)
		}

	case ActionFinish:
		r.finish(ctx, act)
	}
	return nil, nil
}

// acknowledged сообщает, что ev - ожидаемый ответ сервера в состоянии prev
func acknowledged(prev State, kind EventKind) bool {
	return (prev == StateIdle && kind == EventInitAck) ||
		(prev == StateAwaitingSave && kind == EventSaved)
}

// armAckTimer запускает таймер ожидания ответа; устаревшие таймеры отсекаются по поколению.
func (r *runner) armAckTimer() {
	r.gen++
	gen := r.gen
	timer := time.NewTimer(r.opts.AckTimeout)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			r.push(Event{Kind: EventAckTimeout, gen: gen})
		case <-r.done:
		}
	}()
}

// reload перечитывает целевой мир и считает разницу с источником.
func (r *runner) reload(ctx context.Context) ([]protocol.Message, error) {
	if inv, ok := r.store.(storage.Invalidator); ok {
		if err := inv.Invalidate(ctx, r.opts.Collection, r.targetID); err != nil {
			r.log.Warn("sync %s: не удалось сбросить кеш: %v", r.result.RunID, err)
		}
	}

	target, err := storage.LoadSnapshot(ctx, r.store, r.opts.Collection, r.targetID)
	if err != nil {
		return nil, fmt.Errorf("reload world %s: %w", r.targetID, err)
	}

	missing := diff.Diff(r.source, target, diff.WithRegistry(r.opts.Registry))
	r.result.Cycles++
	r.result.Remaining = len(missing)
	r.opts.Metrics.cycle(len(missing))
	if r.cycle != nil {
		r.cycle.SetAttributes(attribute.Int("sync.missing", len(missing)))
	}
	r.log.Debug("sync %s: проход %d, не хватает %d блоков", r.result.RunID, r.result.Cycles, len(missing))
	return missing, nil
}

// transmit отправляет разницу по одному блоку с паузой между ними.
// Проход прерывается, если сессия не подключена или отправка не удалась.
func (r *runner) transmit(ctx context.Context) (bool, error) {
	sent := 0
	complete := true
	for i, msg := range r.missing {
		if !r.session.Connected() {
			complete = false
			break
		}
		if err := r.session.Send(msg); err != nil {
			r.log.Debug("sync %s: отправка прервана: %v", r.result.RunID, err)
			complete = false
			break
		}
		sent++
		r.result.Sent++
		r.opts.Metrics.sent()

		if i < len(r.missing)-1 {
			if err := sleep(ctx, r.opts.PacingDelay); err != nil {
				return false, err
			}
		}
	}

	r.publish(ctx, eventbus.EventSyncCycle, &eventbus.SyncEvent{
		Cycle:   r.result.Cycles,
		Missing: len(r.missing),
		Sent:    sent,
	})
	if complete {
		r.endCycle(nil)
	} else {
		r.endCycle(fmt.Errorf("transmission interrupted after %d of %d", sent, len(r.missing)))
	}
	return complete, nil
}

func (r *runner) beginCycle(ctx context.Context) {
	r.endCycle(nil)
	_, r.cycle = r.opts.Tracer.Start(ctx, "sync.cycle", trace.WithAttributes(
		attribute.Int("sync.retries", r.machine.Retries),
	))
}

func (r *runner) endCycle(err error) {
	if r.cycle == nil {
		return
	}
	if err != nil {
		r.cycle.SetStatus(codes.Error, err.Error())
	}
	r.cycle.End()
	r.cycle = nil
}

func (r *runner) finish(ctx context.Context, act Action) {
	r.endCycle(act.Err)
	payload := &eventbus.SyncEvent{Outcome: string(act.Outcome), Sent: r.result.Sent}
	switch act.Outcome {
	case OutcomeCompleted:
		r.log.Info("✅ Синхронизация %s завершена: отправлено %d блоков, попыток %d",
			r.result.RunID, r.result.Sent, r.machine.Retries)
		r.publish(ctx, eventbus.EventSyncCompleted, payload)
	case OutcomeTimeout:
		r.log.Warn("⏱️ Синхронизация %s: исчерпаны попытки (%d), не хватает %d блоков",
			r.result.RunID, r.machine.Retries, r.result.Remaining)
		r.publish(ctx, eventbus.EventSyncTimeout, payload)
	default:
		r.log.Error("❌ Синхронизация %s прервана: %v", r.result.RunID, act.Err)
		if act.Err != nil {
			payload.Error = act.Err.Error()
		}
		r.publish(ctx, eventbus.EventSyncFailed, payload)
	}
}

func (r *runner) publish(ctx context.Context, eventType string, payload *eventbus.SyncEvent) {
	if r.opts.Bus == nil {
		return
	}
	ev := eventbus.SyncEvent{}
	if payload != nil {
		ev = *payload
	}
	ev.RunID = r.result.RunID
	ev.TargetID = r.targetID
	ev.Retries = r.machine.Retries

	env, err := eventbus.NewSyncEnvelope(eventType, r.opts.BusSource, ev)
	if err == nil {
		err = r.opts.Bus.Publish(context.WithoutCancel(ctx), env)
	}
	if err != nil {
		r.log.Warn("sync %s: событие %s не опубликовано: %v", r.result.RunID, eventType, err)
	}
}

// sleep ждёт d или отмены контекста
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
