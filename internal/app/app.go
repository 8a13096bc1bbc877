// Package app собирает компоненты worldsync по конфигурации:
// хранилище документов с кешем, шину событий, фабрику сессий и метрики.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atillabyte/World/internal/cache"
	"github.com/atillabyte/World/internal/config"
	"github.com/atillabyte/World/internal/eventbus"
	"github.com/atillabyte/World/internal/logging"
	"github.com/atillabyte/World/internal/network"
	"github.com/atillabyte/World/internal/storage"
	wsync "github.com/atillabyte/World/internal/sync"
	"github.com/atillabyte/World/internal/world"
)

// WorldPlaceholder подставляется в URL сессии вместо идентификатора мира
const WorldPlaceholder = "{world}"

// App владеет открытыми ресурсами; Close освобождает их в обратном порядке.
type App struct {
	Config   *config.Config
	Store    storage.ObjectStore
	Bus      eventbus.EventBus
	Registry *prometheus.Registry
	Metrics  *wsync.Metrics

	factory *network.StandardChannelFactory
	closers []func() error
}

// New открывает хранилище, кеш и шину событий по конфигурации
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		Config:   cfg,
		Registry: prometheus.NewRegistry(),
		factory:  network.NewStandardChannelFactory(nil),
	}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	if cfg.Cache.Enabled {
		docs, err := a.openCache(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Store = storage.NewCachedObjectStore(store, docs, time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	}

	bus, err := a.openBus()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Bus = bus

	metrics, err := wsync.NewMetrics(a.Registry)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Metrics = metrics

	logging.Info("⚙️ worldsync: store=%s cache=%v bus=%s transport=%s",
		cfg.Store.Backend, cfg.Cache.Enabled, busKind(cfg.EventBus.URL), cfg.Session.Transport)
	return a, nil
}

func busKind(url string) string {
	if url == "" {
		return "memory"
	}
	return "jetstream"
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) openStore(ctx context.Context) (storage.ObjectStore, error) {
	sc := a.Config.Store
	switch sc.Backend {
	case config.BackendMemory:
		return storage.NewMemoryObjectStore(), nil
	case config.BackendFile:
		return storage.NewFileObjectStore(sc.Path, sc.Compress)
	case config.BackendBadger:
		bs, err := storage.NewBadgerObjectStore(sc.Path)
		if err != nil {
			return nil, err
		}
		a.onClose(bs.Close)
		return bs, nil
	case config.BackendMongo:
		ms, err := storage.NewMongoObjectStore(storage.MongoConfig{URI: sc.URI, Database: sc.Database})
		if err != nil {
			return nil, err
		}
		a.onClose(ms.Close)
		return ms, nil
	case config.BackendMaria, config.BackendPG, config.BackendSQLite:
		dialect := map[string]storage.Dialect{
			config.BackendMaria:  storage.DialectMySQL,
			config.BackendPG:     storage.DialectPostgres,
			config.BackendSQLite: storage.DialectSQLite,
		}[sc.Backend]
		dsn := sc.DSN
		if dialect.Driver == storage.DialectSQLite.Driver {
			if dsn == "" {
				dsn = filepath.Join(sc.Path, "worlds.db")
			}
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, err
			}
		}
		ss, err := storage.OpenSQLObjectStore(ctx, dialect, dsn)
		if err != nil {
			return nil, err
		}
		a.onClose(ss.Close)
		return ss, nil
	}
	return nil, fmt.Errorf("неизвестный бэкенд хранилища %q", sc.Backend)
}

// openCache выбирает Redis или локальный кеш; NATS рассылает инвалидации между узлами.
func (a *App) openCache(ctx context.Context) (cache.DocumentCache, error) {
	cc := a.Config.Cache

	var invalidator cache.CacheInvalidator
	if cc.NATSURL != "" {
		inv, err := cache.NewNATSInvalidator(&cache.InvalidatorConfig{NATSURL: cc.NATSURL}, "")
		if err != nil {
			return nil, err
		}
		a.onClose(inv.Close)
		invalidator = inv
	}

	cfg := &cache.CacheConfig{
		RedisURL:      cc.RedisURL,
		RedisPassword: cc.Password,
		RedisDB:       cc.DB,
		DefaultTTL:    time.Duration(cc.TTLSeconds) * time.Second,
	}

	var docs cache.DocumentCache
	if cc.RedisURL != "" {
		rc, err := cache.NewRedisCache(cfg, invalidator)
		if err != nil {
			return nil, err
		}
		docs = rc
	} else {
		mc, err := cache.NewMemoryCache(cfg, invalidator)
		if err != nil {
			return nil, err
		}
		docs = mc
	}
	a.onClose(docs.Close)

	if invalidator != nil {
		err := invalidator.SubscribeInvalidations(ctx, func(key string) error {
			return docs.Delete(context.Background(), key)
		})
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

func (a *App) openBus() (eventbus.EventBus, error) {
	bc := a.Config.EventBus

	var bus eventbus.EventBus
	if bc.URL == "" {
		bus = eventbus.NewMemoryBus(256)
	} else {
		jb, err := eventbus.NewJetStreamBus(bc.URL, bc.Stream, time.Duration(bc.Retention)*time.Hour)
		if err != nil {
			return nil, err
		}
		bus = jb
	}
	a.onClose(bus.Close)

	if _, err := eventbus.StartLoggingListener(context.Background(), bus); err != nil {
		return nil, err
	}

	exporter, err := eventbus.NewMetricsExporter(bus, a.Registry)
	if err != nil {
		return nil, err
	}
	exporter.Start(time.Second)
	a.onClose(func() error { exporter.Stop(); return nil })
	return bus, nil
}

// ChannelConfig строит конфигурацию сессии для мира targetID
func (a *App) ChannelConfig(targetID string) (*network.ChannelConfig, error) {
	sc := a.Config.Session
	channelType, err := network.ParseChannelType(sc.Transport)
	if err != nil {
		return nil, err
	}
	if sc.URL == "" {
		return nil, errors.New("session.url не задан")
	}

	cc := network.DefaultChannelConfig(channelType)
	cc.Address = strings.ReplaceAll(sc.URL, WorldPlaceholder, targetID)
	cc.Timeout = time.Duration(sc.TimeoutMs) * time.Millisecond
	cc.KeepAlive = time.Duration(sc.KeepAliveMs) * time.Millisecond
	cc.Compression = sc.Compression
	return cc, nil
}

// Sessions возвращает фабрику подключённых сессий
func (a *App) Sessions() wsync.SessionFactory {
	return func(ctx context.Context, targetID string) (network.Session, error) {
		cc, err := a.ChannelConfig(targetID)
		if err != nil {
			return nil, err
		}
		session, err := a.factory.CreateSession(cc)
		if err != nil {
			return nil, err
		}
		if err := session.Connect(ctx); err != nil {
			return nil, err
		}
		return session, nil
	}
}

// SyncOptions переводит конфигурацию в параметры синхронизации
func (a *App) SyncOptions() []wsync.Option {
	sc := a.Config.Sync
	return []wsync.Option{
		wsync.WithMaxRetries(sc.MaxRetries),
		wsync.WithSettleDelay(sc.SettleDelay()),
		wsync.WithPacingDelay(sc.PacingDelay()),
		wsync.WithAckTimeout(sc.AckTimeout()),
		wsync.WithCollection(sc.Collection),
		wsync.WithEventBus(a.Bus, "worldsync"),
		wsync.WithMetrics(a.Metrics),
	}
}

// Manager создаёт менеджер синхронизации нескольких миров
func (a *App) Manager() *wsync.Manager {
	return wsync.NewManager(a.Sessions(), a.Store, a.Config.Sync.Concurrency, a.SyncOptions()...)
}

// LoadSource загружает исходный мир: путь к локальному JSON-файлу или
// идентификатор мира в хранилище.
func (a *App) LoadSource(ctx context.Context, ref string) (*world.Snapshot, error) {
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, err
		}
		return world.ParseJSON(data)
	}
	return storage.LoadSnapshot(ctx, a.Store, a.Config.Sync.Collection, ref)
}

// Close освобождает ресурсы в обратном порядке открытия
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
