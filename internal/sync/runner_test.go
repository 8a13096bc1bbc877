package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atillabyte/World/internal/cache"
	"github.com/atillabyte/World/internal/eventbus"
	"github.com/atillabyte/World/internal/network"
	"github.com/atillabyte/World/internal/object"
	"github.com/atillabyte/World/internal/protocol"
	"github.com/atillabyte/World/internal/storage"
	"github.com/atillabyte/World/internal/vec"
	"github.com/atillabyte/World/internal/world"
	"github.com/atillabyte/World/internal/world/block"
)

const targetID = "PWtarget"

// sourceWorld - три серых блока и табличка
func sourceWorld(t *testing.T) *world.Snapshot {
	t.Helper()
	gray, err := world.NewTile(block.BasicGrayBlockID, world.LayerForeground, nil,
		[]vec.Vec2{{X: 1, Y: 1}, {X: 2, Y: 1}, {X: 3, Y: 1}})
	require.NoError(t, err)
	sign, err := world.NewTile(block.SignBlockID, world.LayerForeground,
		object.New().Set("text", "hello"), []vec.Vec2{{X: 5, Y: 5}})
	require.NoError(t, err)
	return world.NewSnapshot(object.New().Set("name", "Source"), []world.Tile{gray, sign})
}

func emptyTarget(t *testing.T) *storage.MemoryObjectStore {
	t.Helper()
	store := storage.NewMemoryObjectStore()
	require.NoError(t, store.SaveObject(context.Background(), DefaultCollection, targetID,
		object.New().Set("name", "Target").Set(world.WorldDataField, object.NewArray())))
	return store
}

// applyBlock имитирует сервер: команда b попадает в документ мира
func applyBlock(t *testing.T, store *storage.MemoryObjectStore, msg protocol.Message) {
	t.Helper()
	ctx := context.Background()
	doc, err := store.LoadObject(ctx, DefaultCollection, targetID)
	require.NoError(t, err)

	layer, _ := msg.Int(0)
	x, _ := msg.Int(1)
	y, _ := msg.Int(2)
	id, _ := msg.Int(3)
	tile, err := world.NewTile(block.BlockID(id), world.BlockLayer(layer), nil, []vec.Vec2{{X: int(x), Y: int(y)}})
	require.NoError(t, err)

	arr, _ := object.ArrayField(doc, world.WorldDataField)
	arr.Append(tile.Properties())
	doc.Set(world.WorldDataField, arr)
	require.NoError(t, store.SaveObject(ctx, DefaultCollection, targetID, doc))
}

func fastOptions(extra ...Option) []Option {
	return append([]Option{
		WithSettleDelay(0),
		WithPacingDelay(MinPacingDelay),
		WithAckTimeout(2 * time.Second),
	}, extra...)
}

func TestRunSync_NeverCompletesTimesOutAfter16Saves(t *testing.T) {
	session := network.NewMockSession()
	session.SetOnSend(func(s *network.MockSession, msg protocol.Message) {
		switch {
		case msg.Is(protocol.TypeSave):
			s.SetConnected(true)
		case msg.Is(protocol.TypeBlock):
			s.SetConnected(false)
		}
	})

	res, err := RunSync(context.Background(), session, emptyTarget(t), sourceWorld(t), targetID, fastOptions()...)
	require.NoError(t, err)

	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Equal(t, 16, session.Count(protocol.TypeSave))
	assert.Equal(t, 16, res.Saves)
	assert.Equal(t, 16, res.Retries)
	assert.Equal(t, 16, session.Count(protocol.TypeBlock))
	assert.Equal(t, 1, session.Disconnects())
	assert.False(t, session.Connected())
}

func TestRunSync_CompleteTargetFinishesInOneCycle(t *testing.T) {
	src := sourceWorld(t)
	store := storage.NewMemoryObjectStore()
	require.NoError(t, storage.SaveSnapshot(context.Background(), store, DefaultCollection, targetID, src))

	session := network.NewMockSession()
	res, err := RunSync(context.Background(), session, store, src, targetID, fastOptions()...)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, session.Count(protocol.TypeInit))
	assert.Equal(t, 1, session.Count(protocol.TypeSave))
	assert.Zero(t, session.Count(protocol.TypeBlock))
	assert.Equal(t, 1, res.Cycles)
	assert.Zero(t, res.Retries)
	assert.NotEmpty(t, res.RunID)
}

func TestRunSync_SendsMissingBlocksInOrder(t *testing.T) {
	session := network.NewMockSession()
	res, err := RunSync(context.Background(), session, emptyTarget(t), sourceWorld(t), targetID, fastOptions()...)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 4, res.Sent)

	var blocks []protocol.Message
	for _, msg := range session.Sent() {
		if msg.Is(protocol.TypeBlock) {
			blocks = append(blocks, msg)
		}
	}
	require.Len(t, blocks, 4)
	assert.Equal(t, []interface{}{int64(0), int64(1), int64(1), int64(9)}, blocks[0].Args)
	assert.Equal(t, []interface{}{int64(0), int64(3), int64(1), int64(9)}, blocks[2].Args)
	assert.Equal(t, []interface{}{int64(0), int64(5), int64(5), int64(385), "hello", int64(0)}, blocks[3].Args)

	// Порядок протокола: init, save, затем блоки
	sent := session.Sent()
	assert.True(t, sent[0].Is(protocol.TypeInit))
	assert.True(t, sent[1].Is(protocol.TypeSave))
}

func TestRunSync_ConvergesAcrossInterruptedPasses(t *testing.T) {
	store := emptyTarget(t)
	session := network.NewMockSession()
	blocks := 0
	session.SetOnSend(func(s *network.MockSession, msg protocol.Message) {
		switch {
		case msg.Is(protocol.TypeSave):
			s.SetConnected(true)
		case msg.Is(protocol.TypeBlock):
			applyBlock(t, store, msg)
			blocks++
			if blocks%2 == 0 {
				s.SetConnected(false)
			}
		}
	})

	res, err := RunSync(context.Background(), session, store, sourceWorld(t), targetID, fastOptions()...)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 4, res.Sent, "каждый блок отправлен ровно один раз")
	assert.Equal(t, 1, res.Retries)
	assert.Equal(t, 2, res.Cycles)
	assert.Zero(t, res.Remaining)
}

func TestRunSync_DisconnectBeforeSavedRestartsKeepingRetries(t *testing.T) {
	session := network.NewMockSession()
	saves := 0
	session.SetOnSend(func(s *network.MockSession, msg protocol.Message) {
		if msg.Is(protocol.TypeSave) {
			saves++
			if saves == 1 {
				s.Drop(errors.New("connection reset"))
			}
		}
	})
	session.SetResponder(func(msg protocol.Message) []protocol.Message {
		if msg.Is(protocol.TypeSave) && !session.Connected() {
			return nil
		}
		return network.DefaultResponder(msg)
	})

	res, err := RunSync(context.Background(), session, emptyTarget(t), sourceWorld(t), targetID, fastOptions()...)
	require.NoError(t, err)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, session.Connects())
	assert.Equal(t, 2, session.Count(protocol.TypeInit))
	assert.Equal(t, 2, session.Count(protocol.TypeSave))
	assert.Zero(t, res.Retries)
}

// strictSession отказывает в отправке, пока сессия отключена, как настоящий транспорт
type strictSession struct {
	*network.MockSession
	rejected []string
}

func (s *strictSession) Send(msg protocol.Message) error {
	if !s.Connected() {
		s.rejected = append(s.rejected, msg.Type)
		return network.ErrNotConnected
	}
	return s.MockSession.Send(msg)
}

func TestRunSync_DropDuringTransmissionReconnectsOnce(t *testing.T) {
	mock := network.NewMockSession()
	session := &strictSession{MockSession: mock}
	blocks := 0
	mock.SetOnSend(func(s *network.MockSession, msg protocol.Message) {
		if msg.Is(protocol.TypeBlock) {
			blocks++
			if blocks == 2 {
				s.Drop(errors.New("connection reset"))
			}
		}
	})
	// После переподключения сервер перестаёт подтверждать save
	mock.SetResponder(func(msg protocol.Message) []protocol.Message {
		if msg.Is(protocol.TypeSave) && mock.Connects() > 0 {
			return nil
		}
		return network.DefaultResponder(msg)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	started := time.Now()
	res, err := RunSync(ctx, session, emptyTarget(t), sourceWorld(t), targetID,
		fastOptions(WithAckTimeout(50*time.Millisecond), WithMaxRetries(4))...)
	require.NoError(t, err)

	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, 1, mock.Connects(), "один разрыв - одно переподключение")
	assert.Equal(t, 2, mock.Count(protocol.TypeInit))
	assert.Equal(t, 4, res.Saves)
	assert.Equal(t, 4, res.Retries)
	assert.Equal(t, 2, res.Sent)
	assert.Empty(t, session.rejected, "в отключённую сессию ничего не отправляется")
}

func TestRunSync_DuplicateInitAckKeepsSaveTimer(t *testing.T) {
	session := network.NewMockSession()
	session.SetResponder(func(msg protocol.Message) []protocol.Message {
		if msg.Is(protocol.TypeInit) {
			return []protocol.Message{protocol.NewMessage(protocol.TypeInit), protocol.NewMessage(protocol.TypeInit)}
		}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	res, err := RunSync(ctx, session, emptyTarget(t), sourceWorld(t), targetID,
		fastOptions(WithAckTimeout(30*time.Millisecond), WithMaxRetries(2))...)
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Equal(t, 2, session.Count(protocol.TypeSave))
	assert.Equal(t, 1, session.Count(protocol.TypeInit))
}

func TestRunSync_StartsDisconnected(t *testing.T) {
	session := network.NewMockSession()
	session.SetConnected(false)

	res, err := RunSync(context.Background(), session, emptyTarget(t), sourceWorld(t), targetID, fastOptions()...)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 1, session.Connects())
}

func TestRunSync_AckTimeoutCountsAsIncomplete(t *testing.T) {
	session := network.NewMockSession()
	session.SetResponder(func(msg protocol.Message) []protocol.Message {
		if msg.Is(protocol.TypeSave) {
			return nil
		}
		return network.DefaultResponder(msg)
	})

	res, err := RunSync(context.Background(), session, emptyTarget(t), sourceWorld(t), targetID,
		fastOptions(WithAckTimeout(20*time.Millisecond), WithMaxRetries(3))...)
	require.NoError(t, err)

	assert.Equal(t, OutcomeTimeout, res.Outcome)
	assert.Equal(t, 3, session.Count(protocol.TypeSave))
	assert.Zero(t, session.Count(protocol.TypeBlock))
	assert.Zero(t, res.Cycles)
}

func TestRunSync_DecodeErrorIsSurfaced(t *testing.T) {
	store := storage.NewMemoryObjectStore()
	require.NoError(t, store.SaveObject(context.Background(), DefaultCollection, targetID,
		object.New().Set(world.WorldDataField, object.NewArray(
			object.New().Set("type", int64(9)).Set("x", "%%% not base64 %%%"),
		))))

	session := network.NewMockSession()
	res, err := RunSync(context.Background(), session, store, sourceWorld(t), targetID, fastOptions()...)
	require.Error(t, err)

	var de *world.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "x", de.Field)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, session.Count(protocol.TypeSave), "ошибка разбора не повторяется")
}

func TestRunSync_MissingTargetFails(t *testing.T) {
	session := network.NewMockSession()
	_, err := RunSync(context.Background(), session, storage.NewMemoryObjectStore(), sourceWorld(t), targetID, fastOptions()...)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

func TestRunSync_ContextCancel(t *testing.T) {
	session := network.NewMockSession()
	session.SetResponder(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	res, err := RunSync(ctx, session, emptyTarget(t), sourceWorld(t), targetID, fastOptions()...)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	// Поздние события не блокируют отправителя
	done := make(chan struct{})
	go func() {
		for i := 0; i < 2*defaultEventsBuffer; i++ {
			session.Deliver(protocol.NewMessage(protocol.TypeSaved))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("late events blocked")
	}
}

func TestRunSync_RequiresArguments(t *testing.T) {
	_, err := RunSync(context.Background(), nil, storage.NewMemoryObjectStore(), sourceWorld(t), targetID)
	assert.Error(t, err)
}

func TestRunSync_PublishesEventsAndMetrics(t *testing.T) {
	bus := eventbus.NewMemoryBus(64)
	var got []string
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		got = append(got, ev.EventType)
	})
	require.NoError(t, err)

	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	session := network.NewMockSession()
	res, err := RunSync(context.Background(), session, emptyTarget(t), sourceWorld(t), targetID,
		fastOptions(WithEventBus(bus, "test"), WithMetrics(metrics))...)
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	assert.Equal(t, []string{eventbus.EventSyncStarted, eventbus.EventSyncCycle, eventbus.EventSyncCompleted}, got)
	assert.Equal(t, float64(res.Sent), testutil.ToFloat64(metrics.blocksSent))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.saves))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.runs.WithLabelValues(string(OutcomeCompleted))))
}

func TestRunSync_ReadsThroughCachedStore(t *testing.T) {
	inner := emptyTarget(t)
	docs, err := cache.NewMemoryCache(nil, nil)
	require.NoError(t, err)
	defer docs.Close()
	store := storage.NewCachedObjectStore(inner, docs, time.Minute)

	session := network.NewMockSession()
	blocks := 0
	session.SetOnSend(func(s *network.MockSession, msg protocol.Message) {
		switch {
		case msg.Is(protocol.TypeSave):
			s.SetConnected(true)
		case msg.Is(protocol.TypeBlock):
			applyBlock(t, inner, msg)
			blocks++
			if blocks == 1 {
				s.SetConnected(false)
			}
		}
	})

	res, err := RunSync(context.Background(), session, store, sourceWorld(t), targetID, fastOptions()...)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 4, res.Sent)
}
