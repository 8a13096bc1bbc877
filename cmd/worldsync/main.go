package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atillabyte/World/internal/api"
	"github.com/atillabyte/World/internal/app"
	"github.com/atillabyte/World/internal/config"
	"github.com/atillabyte/World/internal/diff"
	"github.com/atillabyte/World/internal/logging"
	"github.com/atillabyte/World/internal/observability"
	"github.com/atillabyte/World/internal/storage"
	wsync "github.com/atillabyte/World/internal/sync"
	"github.com/atillabyte/World/internal/world"
)

const usage = `worldsync - перенос миров между хранилищем и игровым сервером

Команды:
  sync      -source <файл|id> <target-id>...   восстановить недостающие блоки
  export    -id <id> -out <файл>               выгрузить мир в локальный JSON
  diff      -source <файл|id> -target <id>     показать недостающие блоки
  generate  -out <файл> | -id <id>             сгенерировать тестовый мир
  validate  <файл>...                          проверить JSON-документы миров
  serve                                        REST API и метрики

Общие флаги: -config <путь> (или WORLD_CONFIG)
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]

	if err := logging.InitDefaultLogger("worldsync"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "sync":
		err = runSync(ctx, args)
	case "export":
		err = runExport(ctx, args)
	case "diff":
		err = runDiff(ctx, args)
	case "generate":
		err = runGenerate(ctx, args)
	case "serve":
		err = runServe(ctx, args)
	case "validate":
		err = runValidate(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	default:
		fmt.Printf("❌ Неизвестная команда: %s\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		logging.Error("❌ %s: %v", cmd, err)
		log.Fatalf("❌ %s: %v", cmd, err)
	}
}

// openApp читает конфиг, настраивает уровень логов и трассировку
func openApp(ctx context.Context, configPath string) (*app.App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Logging.Dir != "" {
		logging.SetLogDir(cfg.Logging.Dir)
	}
	level := logging.ParseLevel(cfg.Logging.Level)
	logging.SetDefaultLevel(level)
	logging.GetLoggerManager().SetLevels(level, logging.DEBUG)

	shutdown, err := observability.InitTelemetry(ctx, observability.Settings{
		Enabled:     cfg.Telemetry.Enabled,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Insecure:    true,
	})
	if err != nil {
		return nil, nil, err
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		_ = shutdown(context.Background())
		return nil, nil, err
	}

	cleanup := func() {
		if err := a.Close(); err != nil {
			logging.Warn("Ошибка закрытия ресурсов: %v", err)
		}
		if err := shutdown(context.Background()); err != nil {
			logging.Warn("Ошибка остановки трассировки: %v", err)
		}
	}
	return a, cleanup, nil
}

func runSync(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := fs.String("config", "", "Путь к YAML-конфигу")
	source := fs.String("source", "", "Исходный мир: путь к JSON-файлу или id в хранилище")
	_ = fs.Parse(args)

	targets := fs.Args()
	if *source == "" || len(targets) == 0 {
		return fmt.Errorf("нужны -source и хотя бы один target-id")
	}

	a, cleanup, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	src, err := a.LoadSource(ctx, *source)
	if err != nil {
		return err
	}
	logging.Info("🌍 Источник %q: %d тайлов, %d клеток", src.Name(), src.Len(), src.PositionCount())

	results, err := a.Manager().Run(ctx, src, targets)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			fmt.Printf("❌ %s: %v\n", r.TargetID, r.Err)
		case r.Result.Outcome != wsync.OutcomeCompleted:
			failed++
			fmt.Printf("⏱️ %s: %s после %d попыток, не хватает %d блоков\n",
				r.TargetID, r.Result.Outcome, r.Result.Retries, r.Result.Remaining)
		default:
			fmt.Printf("✅ %s: отправлено %d блоков за %d проходов (%s)\n",
				r.TargetID, r.Result.Sent, r.Result.Cycles, r.Result.Elapsed.Round(time.Millisecond))
		}
	}
	if failed > 0 {
		return fmt.Errorf("не синхронизировано миров: %d из %d", failed, len(results))
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "Путь к YAML-конфигу")
	id := fs.String("id", "", "Идентификатор мира")
	out := fs.String("out", "", "Файл результата (по умолчанию <id>.json)")
	indent := fs.Bool("indent", false, "Форматировать JSON")
	_ = fs.Parse(args)

	if *id == "" {
		return fmt.Errorf("нужен -id")
	}
	if *out == "" {
		*out = *id + ".json"
	}

	a, cleanup, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	snap, err := storage.LoadSnapshot(ctx, a.Store, a.Config.Sync.Collection, *id)
	if err != nil {
		return err
	}

	var data []byte
	if *indent {
		data, err = snap.MarshalIndent("  ")
	} else {
		data, err = snap.MarshalJSON()
	}
	if err != nil {
		return err
	}
	if err := storage.WriteFileAtomic(*out, data); err != nil {
		return err
	}
	fmt.Printf("💾 %s → %s (%d тайлов, %d байт)\n", *id, *out, snap.Len(), len(data))
	return nil
}

func runDiff(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	configPath := fs.String("config", "", "Путь к YAML-конфигу")
	source := fs.String("source", "", "Исходный мир: путь к JSON-файлу или id")
	target := fs.String("target", "", "Целевой мир: путь к JSON-файлу или id")
	limit := fs.Int("limit", 20, "Сколько команд вывести (0 - все)")
	_ = fs.Parse(args)

	if *source == "" || *target == "" {
		return fmt.Errorf("нужны -source и -target")
	}

	a, cleanup, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	src, err := a.LoadSource(ctx, *source)
	if err != nil {
		return err
	}
	dst, err := a.LoadSource(ctx, *target)
	if err != nil {
		return err
	}

	messages := diff.Diff(src, dst)
	fmt.Printf("Не хватает %d блоков\n", len(messages))

	enc := json.NewEncoder(os.Stdout)
	for i, msg := range messages {
		if *limit > 0 && i >= *limit {
			fmt.Printf("... ещё %d\n", len(messages)-i)
			break
		}
		if err := enc.Encode(msg); err != nil {
			return err
		}
	}
	return nil
}

func runGenerate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", "", "Путь к YAML-конфигу (для -id)")
	seed := fs.Int64("seed", time.Now().UnixNano(), "Сид генератора")
	width := fs.Int("width", world.DefaultWidth, "Ширина")
	height := fs.Int("height", world.DefaultHeight, "Высота")
	name := fs.String("name", world.DefaultWorldName, "Название мира")
	out := fs.String("out", "", "Записать в JSON-файл")
	id := fs.String("id", "", "Сохранить в хранилище под этим id")
	_ = fs.Parse(args)

	if *out == "" && *id == "" {
		return fmt.Errorf("нужен -out или -id")
	}

	gen := world.NewGenerator(*seed)
	gen.Width, gen.Height = *width, *height
	snap, err := gen.Generate(*name)
	if err != nil {
		return err
	}

	if *out != "" {
		data, err := snap.MarshalIndent("  ")
		if err != nil {
			return err
		}
		if err := storage.WriteFileAtomic(*out, data); err != nil {
			return err
		}
		fmt.Printf("🗺️ %s: %dx%d, %d тайлов → %s\n", *name, *width, *height, snap.Len(), *out)
	}

	if *id != "" {
		a, cleanup, err := openApp(ctx, *configPath)
		if err != nil {
			return err
		}
		defer cleanup()

		saver, ok := a.Store.(storage.ObjectSaver)
		if !ok {
			return fmt.Errorf("хранилище %s не поддерживает запись", a.Config.Store.Backend)
		}
		if err := storage.SaveSnapshot(ctx, saver, a.Config.Sync.Collection, *id, snap); err != nil {
			return err
		}
		fmt.Printf("🗺️ %s: сохранён как %s/%s\n", *name, a.Config.Sync.Collection, *id)
	}
	return nil
}

func runValidate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Сколько нарушений выводить на файл (0 - все)")
	_ = fs.Parse(args)

	if fs.NArg() == 0 {
		return fmt.Errorf("нужен хотя бы один файл")
	}

	invalid := 0
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		violations, err := world.ValidateDocument(data)
		if err != nil {
			invalid++
			fmt.Printf("❌ %s: %v\n", path, err)
			continue
		}
		if len(violations) == 0 {
			fmt.Printf("✅ %s\n", path)
			continue
		}

		invalid++
		fmt.Printf("⚠️ %s: нарушений %d\n", path, len(violations))
		for i, v := range violations {
			if *limit > 0 && i >= *limit {
				fmt.Printf("   ... ещё %d\n", len(violations)-i)
				break
			}
			fmt.Printf("   %s\n", v)
		}
	}
	if invalid > 0 {
		return fmt.Errorf("некорректных документов: %d из %d", invalid, fs.NArg())
	}
	return nil
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Путь к YAML-конфигу")
	_ = fs.Parse(args)

	a, cleanup, err := openApp(ctx, *configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	server, err := api.NewRestServer(api.Config{
		Port:       fmt.Sprintf(":%d", a.Config.Server.GetRESTPort()),
		Store:      a.Store,
		Collection: a.Config.Sync.Collection,
		Bus:        a.Bus,
		Registry:   a.Registry,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Info("🛑 Остановка REST API...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Stop(shutdownCtx)
}
