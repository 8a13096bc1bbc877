package sync

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/atillabyte/World/internal/logging"
	"github.com/atillabyte/World/internal/network"
	"github.com/atillabyte/World/internal/storage"
	"github.com/atillabyte/World/internal/world"
)

// SessionFactory открывает сессию к удалённому миру
type SessionFactory func(ctx context.Context, targetID string) (network.Session, error)

// TargetResult - итог синхронизации одного мира
type TargetResult struct {
	TargetID string
	Result   Result
	Err      error
}

// Manager синхронизирует один исходный снимок с несколькими мирами параллельно.
// Сессии не разделяют изменяемого состояния.
type Manager struct {
	sessions    SessionFactory
	store       storage.ObjectStore
	opts        []Option
	concurrency int
}

// NewManager создаёт менеджер; concurrency <= 0 снимает ограничение.
func NewManager(sessions SessionFactory, store storage.ObjectStore, concurrency int, opts ...Option) *Manager {
	return &Manager{
		sessions:    sessions,
		store:       store,
		opts:        opts,
		concurrency: concurrency,
	}
}

// Run синхронизирует source со всеми targets и возвращает итоги в порядке targets.
// Ошибка одного мира не останавливает остальные; общая ошибка возвращается
// только при отмене контекста.
func (m *Manager) Run(ctx context.Context, source *world.Snapshot, targets []string) ([]TargetResult, error) {
	results := make([]TargetResult, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	if m.concurrency > 0 {
		g.SetLimit(m.concurrency)
	}

	for i, id := range targets {
		i, id := i, id
		g.Go(func() error {
			results[i] = m.runOne(gctx, source, id)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}

	completed := 0
	for _, r := range results {
		if r.Err == nil && r.Result.Outcome == OutcomeCompleted {
			completed++
		}
	}
	logging.GetSyncLogger().Info("🔄 Manager: синхронизировано %d из %d миров", completed, len(targets))
	return results, nil
}

func (m *Manager) runOne(ctx context.Context, source *world.Snapshot, id string) TargetResult {
	tr := TargetResult{TargetID: id}

	session, err := m.sessions(ctx, id)
	if err != nil {
		tr.Err = fmt.Errorf("open session for %s: %w", id, err)
		tr.Result = Result{TargetID: id, Outcome: OutcomeFailed}
		return tr
	}
	defer session.Disconnect()

	tr.Result, tr.Err = RunSync(ctx, session, m.store, source, id, m.opts...)
	return tr
}
