// Package sync восстанавливает недостающие блоки в удалённом мире:
// просит сервер сохранить мир, перечитывает его из хранилища, вычисляет
// разницу с исходным снимком и отправляет команды размещения блоков.
// Цикл повторяется, пока проход не завершится целиком или не кончатся попытки.
package sync

import (
	"fmt"
	"time"
)

// Значения по умолчанию
const (
	DefaultMaxRetries   = 16
	DefaultSettleDelay  = time.Second
	DefaultPacingDelay  = 10 * time.Millisecond
	MinPacingDelay      = 8 * time.Millisecond
	MaxPacingDelay      = 16 * time.Millisecond
	DefaultAckTimeout   = 30 * time.Second
	DefaultCollection   = "worlds"
	defaultEventsBuffer = 64
)

// State - состояние протокола синхронизации
type State int

const (
	StateIdle         State = iota // Ждём подтверждения init
	StateAwaitingSave              // Ждём saved
	StateDiffing                   // Перечитываем цель и считаем разницу
	StateTransmitting              // Отправляем блоки
	StateCompleted                 // Проход отправлен целиком
	StateFailed                    // Попытки исчерпаны или ошибка
)

var stateNames = map[State]string{
	StateIdle:         "Idle",
	StateAwaitingSave: "AwaitingSave",
	StateDiffing:      "Diffing",
	StateTransmitting: "Transmitting",
	StateCompleted:    "Completed",
	StateFailed:       "Failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal сообщает, завершён ли протокол
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Outcome - итог синхронизации
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeFailed    Outcome = "failed"
)

// EventKind - тип входящего события машины состояний
type EventKind int

const (
	EventStart           EventKind = iota // Сессия готова, начинаем с init
	EventInitAck                          // Сервер ответил на init
	EventSaved                            // Сервер сохранил мир
	EventDiffReady                        // Цель перечитана, разница посчитана
	EventTransmitted                      // Проход отправки закончен (Complete - целиком)
	EventDisconnected                     // Соединение потеряно
	EventReconnectFailed                  // Повторное подключение не удалось
	EventAckTimeout                       // Сервер не ответил вовремя
	EventError                            // Неустранимая ошибка (Err)
)

var eventNames = map[EventKind]string{
	EventStart:           "Start",
	EventInitAck:         "InitAck",
	EventSaved:           "Saved",
	EventDiffReady:       "DiffReady",
	EventTransmitted:     "Transmitted",
	EventDisconnected:    "Disconnected",
	EventReconnectFailed: "ReconnectFailed",
	EventAckTimeout:      "AckTimeout",
	EventError:           "Error",
}

func (k EventKind) String() string {
	if name, ok := eventNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event - событие машины состояний
type Event struct {
	Kind     EventKind
	Complete bool   // для EventTransmitted
	Lost     bool   // для EventTransmitted: к концу прохода сессия отключена
	Err      error  // для EventError и EventDisconnected
	gen      uint64 // поколение таймера для EventAckTimeout
}

// ActionKind - тип действия, которое должен выполнить исполнитель
type ActionKind int

const (
	ActionSendInit   ActionKind = iota // Отправить init
	ActionSendSave                     // Через Delay отправить save
	ActionReload                       // Перечитать цель и посчитать разницу
	ActionTransmit                     // Отправить разницу
	ActionReconnect                    // Через Delay переподключиться
	ActionDisconnect                   // Закрыть сессию
	ActionFinish                       // Завершить с Outcome
)

var actionNames = map[ActionKind]string{
	ActionSendInit:   "SendInit",
	ActionSendSave:   "SendSave",
	ActionReload:     "Reload",
	ActionTransmit:   "Transmit",
	ActionReconnect:  "Reconnect",
	ActionDisconnect: "Disconnect",
	ActionFinish:     "Finish",
}

func (k ActionKind) String() string {
	if name, ok := actionNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// Action - действие, порождённое переходом
type Action struct {
	Kind    ActionKind
	Delay   time.Duration
	Outcome Outcome
	Err     error
}

// Machine - состояние протокола. Значение неизменяемое: Transition возвращает новое.
type Machine struct {
	State       State
	Retries     int           // Незавершённых циклов
	MaxRetries  int           // Предел незавершённых циклов
	SettleDelay time.Duration // Пауза между init и первым save
	Outcome     Outcome
	Err         error
}

// NewMachine создаёт машину в состоянии Idle
func NewMachine(maxRetries int, settle time.Duration) Machine {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	if settle < 0 {
		settle = 0
	}
	return Machine{State: StateIdle, MaxRetries: maxRetries, SettleDelay: settle}
}

// Transition применяет событие и возвращает новое состояние и действия.
// Функция чистая: побочные эффекты выполняет вызывающий по списку действий.
// События, не ожидаемые в текущем состоянии, игнорируются.
func Transition(m Machine, ev Event) (Machine, []Action) {
	if m.State.Terminal() {
		return m, nil
	}

	if ev.Kind == EventError {
		m.State = StateFailed
		m.Outcome = OutcomeFailed
		m.Err = ev.Err
		return m, []Action{{Kind: ActionFinish, Outcome: OutcomeFailed, Err: ev.Err}}
	}

	switch m.State {
	case StateIdle:
		switch ev.Kind {
		case EventStart:
			return m, []Action{{Kind: ActionSendInit}}
		case EventInitAck:
			m.State = StateAwaitingSave
			return m, []Action{{Kind: ActionSendSave, Delay: m.SettleDelay}}
		case EventAckTimeout:
			return m.incomplete(ActionSendInit)
		case EventDisconnected:
			return m, []Action{{Kind: ActionReconnect}}
		case EventReconnectFailed:
			next, actions := m.incomplete(ActionReconnect)
			if next.State == StateIdle {
				actions[0].Delay = m.SettleDelay
			}
			return next, actions
		}

	case StateAwaitingSave:
		switch ev.Kind {
		case EventSaved:
			m.State = StateDiffing
			return m, []Action{{Kind: ActionReload}}
		case EventAckTimeout:
			return m.incomplete(ActionSendSave)
		case EventDisconnected:
			m.State = StateIdle
			return m, []Action{{Kind: ActionReconnect}}
		}

	case StateDiffing:
		switch ev.Kind {
		case EventDiffReady:
			m.State = StateTransmitting
			return m, []Action{{Kind: ActionTransmit}}
		case EventDisconnected:
			m.State = StateIdle
			return m, []Action{{Kind: ActionReconnect}}
		}

	case StateTransmitting:
		switch ev.Kind {
		case EventDisconnected:
			// о разрыве сообщит сам проход через Lost
			return m, nil
		case EventTransmitted:
			if ev.Complete {
				m.State = StateCompleted
				m.Outcome = OutcomeCompleted
				return m, []Action{{Kind: ActionFinish, Outcome: OutcomeCompleted}}
			}
			if ev.Lost {
				m.State = StateIdle
				return m.incomplete(ActionReconnect)
			}
			m.State = StateAwaitingSave
			return m.incomplete(ActionSendSave)
		}
	}

	return m, nil
}

// incomplete засчитывает незавершённый цикл: либо повтор действием next,
// либо отключение и Timeout.
func (m Machine) incomplete(next ActionKind) (Machine, []Action) {
	m.Retries++
	if m.Retries >= m.MaxRetries {
		m.State = StateFailed
		m.Outcome = OutcomeTimeout
		return m, []Action{
			{Kind: ActionDisconnect},
			{Kind: ActionFinish, Outcome: OutcomeTimeout},
		}
	}
	return m, []Action{{Kind: next}}
}
