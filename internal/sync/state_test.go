package sync

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(actions []Action) []ActionKind {
	out := make([]ActionKind, len(actions))
	for i, a := range actions {
		out[i] = a.Kind
	}
	return out
}

func TestTransition_HappyPath(t *testing.T) {
	m := NewMachine(16, 0)

	m, actions := Transition(m, Event{Kind: EventStart})
	assert.Equal(t, StateIdle, m.State)
	assert.Equal(t, []ActionKind{ActionSendInit}, kinds(actions))

	m, actions = Transition(m, Event{Kind: EventInitAck})
	assert.Equal(t, StateAwaitingSave, m.State)
	assert.Equal(t, []ActionKind{ActionSendSave}, kinds(actions))

	m, actions = Transition(m, Event{Kind: EventSaved})
	assert.Equal(t, StateDiffing, m.State)
	assert.Equal(t, []ActionKind{ActionReload}, kinds(actions))

	m, actions = Transition(m, Event{Kind: EventDiffReady})
	assert.Equal(t, StateTransmitting, m.State)
	assert.Equal(t, []ActionKind{ActionTransmit}, kinds(actions))

	m, actions = Transition(m, Event{Kind: EventTransmitted, Complete: true})
	assert.Equal(t, StateCompleted, m.State)
	assert.Equal(t, OutcomeCompleted, m.Outcome)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionFinish, actions[0].Kind)
	assert.Equal(t, OutcomeCompleted, actions[0].Outcome)
	assert.Zero(t, m.Retries)
}

func TestTransition_SettleDelayOnFirstSave(t *testing.T) {
	m := NewMachine(16, DefaultSettleDelay)
	_, actions := Transition(m, Event{Kind: EventInitAck})
	require.Len(t, actions, 1)
	assert.Equal(t, DefaultSettleDelay, actions[0].Delay)
}

func TestTransition_IncompleteRetriesThenTimeout(t *testing.T) {
	m := NewMachine(16, 0)
	m.State = StateTransmitting

	saves := 1 // первый save уже отправлен
	for {
		var actions []Action
		m, actions = Transition(m, Event{Kind: EventTransmitted, Complete: false})
		if m.State.Terminal() {
			assert.Equal(t, []ActionKind{ActionDisconnect, ActionFinish}, kinds(actions))
			break
		}
		require.Equal(t, []ActionKind{ActionSendSave}, kinds(actions))
		assert.Zero(t, actions[0].Delay)
		assert.Equal(t, StateAwaitingSave, m.State)
		saves++

		m, _ = Transition(m, Event{Kind: EventSaved})
		m, _ = Transition(m, Event{Kind: EventDiffReady})
	}

	assert.Equal(t, 16, saves)
	assert.Equal(t, 16, m.Retries)
	assert.Equal(t, StateFailed, m.State)
	assert.Equal(t, OutcomeTimeout, m.Outcome)
}

func TestTransition_DisconnectRestartsFromIdle(t *testing.T) {
	for _, state := range []State{StateIdle, StateAwaitingSave, StateDiffing} {
		t.Run(state.String(), func(t *testing.T) {
			m := NewMachine(16, 0)
			m.State = state
			m.Retries = 3

			next, actions := Transition(m, Event{Kind: EventDisconnected})
			assert.Equal(t, StateIdle, next.State)
			assert.Equal(t, 3, next.Retries)
			assert.Equal(t, []ActionKind{ActionReconnect}, kinds(actions))

			next, actions = Transition(next, Event{Kind: EventStart})
			assert.Equal(t, StateIdle, next.State)
			assert.Equal(t, []ActionKind{ActionSendInit}, kinds(actions))
		})
	}
}

func TestTransition_DisconnectDuringTransmission(t *testing.T) {
	m := NewMachine(16, 0)
	m.State = StateTransmitting

	m, actions := Transition(m, Event{Kind: EventDisconnected})
	assert.Equal(t, StateTransmitting, m.State)
	assert.Empty(t, actions)

	m, actions = Transition(m, Event{Kind: EventTransmitted, Lost: true})
	assert.Equal(t, StateIdle, m.State)
	assert.Equal(t, 1, m.Retries)
	assert.Equal(t, []ActionKind{ActionReconnect}, kinds(actions))

	// Без Lost проход повторяется через save
	m, _ = Transition(m, Event{Kind: EventStart})
	m, _ = Transition(m, Event{Kind: EventInitAck})
	m, _ = Transition(m, Event{Kind: EventSaved})
	m, _ = Transition(m, Event{Kind: EventDiffReady})
	m, actions = Transition(m, Event{Kind: EventTransmitted, Complete: false})
	assert.Equal(t, StateAwaitingSave, m.State)
	assert.Equal(t, []ActionKind{ActionSendSave}, kinds(actions))
}

func TestTransition_AckTimeoutCountsAsIncomplete(t *testing.T) {
	m := NewMachine(2, 0)
	m.State = StateAwaitingSave

	m, actions := Transition(m, Event{Kind: EventAckTimeout})
	assert.Equal(t, 1, m.Retries)
	assert.Equal(t, []ActionKind{ActionSendSave}, kinds(actions))

	m, actions = Transition(m, Event{Kind: EventAckTimeout})
	assert.Equal(t, OutcomeTimeout, m.Outcome)
	assert.Equal(t, []ActionKind{ActionDisconnect, ActionFinish}, kinds(actions))

	idle := NewMachine(2, 0)
	idle, actions = Transition(idle, Event{Kind: EventAckTimeout})
	assert.Equal(t, 1, idle.Retries)
	assert.Equal(t, []ActionKind{ActionSendInit}, kinds(actions))
}

func TestTransition_ReconnectFailureIsBounded(t *testing.T) {
	m := NewMachine(3, 0)
	var actions []Action
	for i := 0; i < 2; i++ {
		m, actions = Transition(m, Event{Kind: EventReconnectFailed})
		assert.Equal(t, []ActionKind{ActionReconnect}, kinds(actions))
	}
	m, actions = Transition(m, Event{Kind: EventReconnectFailed})
	assert.Equal(t, OutcomeTimeout, m.Outcome)
	assert.Equal(t, []ActionKind{ActionDisconnect, ActionFinish}, kinds(actions))
}

func TestTransition_IgnoresUnexpectedEvents(t *testing.T) {
	m := NewMachine(16, 0)
	m.State = StateAwaitingSave

	next, actions := Transition(m, Event{Kind: EventInitAck})
	assert.Equal(t, m, next)
	assert.Empty(t, actions)

	done := NewMachine(16, 0)
	done.State = StateCompleted
	next, actions = Transition(done, Event{Kind: EventDisconnected})
	assert.Equal(t, done, next)
	assert.Empty(t, actions)
}

func TestTransition_ErrorFails(t *testing.T) {
	boom := errors.New("boom")
	m := NewMachine(16, 0)
	m.State = StateDiffing

	m, actions := Transition(m, Event{Kind: EventError, Err: boom})
	assert.Equal(t, StateFailed, m.State)
	assert.Equal(t, OutcomeFailed, m.Outcome)
	assert.ErrorIs(t, m.Err, boom)
	require.Len(t, actions, 1)
	assert.Equal(t, ActionFinish, actions[0].Kind)
}

func TestNewMachine_Defaults(t *testing.T) {
	m := NewMachine(0, -1)
	assert.Equal(t, DefaultMaxRetries, m.MaxRetries)
	assert.Zero(t, m.SettleDelay)
	assert.Equal(t, "Idle", m.State.String())
	assert.Equal(t, "State(42)", State(42).String())
}

func TestClampPacing(t *testing.T) {
	assert.Equal(t, DefaultPacingDelay, clampPacing(0))
	assert.Equal(t, MinPacingDelay, clampPacing(MinPacingDelay/2))
	assert.Equal(t, MaxPacingDelay, clampPacing(MaxPacingDelay*2))
	assert.Equal(t, 12*MinPacingDelay/8, clampPacing(12*MinPacingDelay/8))
}
