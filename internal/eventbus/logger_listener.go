package eventbus

import (
	"context"

	"github.com/atillabyte/World/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог.
// Функция неблокирующая.
func StartLoggingListener(ctx context.Context, bus EventBus) (Subscription, error) {
	sub, err := bus.Subscribe(ctx, Filter{}, func(ctx context.Context, ev *Envelope) {
		var payload SyncEvent
		if err := ev.Decode(&payload); err != nil {
			logging.Debug("[EventBus] %s %s src=%s prio=%d size=%dB", ev.ID, ev.EventType, ev.Source, ev.Priority, len(ev.Payload))
			return
		}
		switch ev.EventType {
		case EventSyncTimeout, EventSyncFailed:
			logging.Warn("[EventBus] %s target=%s retries=%d err=%s", ev.EventType, payload.TargetID, payload.Retries, payload.Error)
		default:
			logging.Debug("[EventBus] %s target=%s retries=%d missing=%d sent=%d",
				ev.EventType, payload.TargetID, payload.Retries, payload.Missing, payload.Sent)
		}
	})
	if err != nil {
		return nil, err
	}
	logging.Info("🪵 LoggingListener: подписка на все события активирована")
	return sub, nil
}
