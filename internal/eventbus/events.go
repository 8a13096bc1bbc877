package eventbus

// Типы событий синхронизации
const (
	EventSyncStarted   = "SyncStarted"
	EventSyncCycle     = "SyncCycle"
	EventSyncCompleted = "SyncCompleted"
	EventSyncTimeout   = "SyncTimeout"
	EventSyncFailed    = "SyncFailed"
)

// Приоритеты
const (
	PriorityLow      = 1
	PriorityNormal   = 5
	PriorityCritical = 9
)

// SyncEvent - полезная нагрузка событий синхронизации.
type SyncEvent struct {
	RunID    string `json:"run_id"`
	TargetID string `json:"target_id"`
	Retries  int    `json:"retries"`
	Cycle    int    `json:"cycle,omitempty"`
	Missing  int    `json:"missing,omitempty"`
	Sent     int    `json:"sent,omitempty"`
	Outcome  string `json:"outcome,omitempty"`
	Error    string `json:"error,omitempty"`
}

// NewSyncEnvelope упаковывает SyncEvent в конверт. Итоговые события
// получают критический приоритет и не отбрасываются при переполнении.
func NewSyncEnvelope(eventType, source string, ev SyncEvent) (*Envelope, error) {
	env, err := NewEnvelope(eventType, source, ev)
	if err != nil {
		return nil, err
	}
	env.CorrelationID = ev.RunID
	switch eventType {
	case EventSyncCompleted, EventSyncTimeout, EventSyncFailed:
		env.Priority = PriorityCritical
	case EventSyncCycle:
		env.Priority = PriorityLow
	default:
		env.Priority = PriorityNormal
	}
	return env, nil
}
