package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/basecraft/internal/api"
	"github.com/annel0/basecraft/internal/config"
	"github.com/annel0/basecraft/internal/craft"
	"github.com/annel0/basecraft/internal/entity"
	"github.com/annel0/basecraft/internal/eventbus"
	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/interact"
	"github.com/annel0/basecraft/internal/logging"
	"github.com/annel0/basecraft/internal/mirror"
	"github.com/annel0/basecraft/internal/observability"
	"github.com/annel0/basecraft/internal/phase"
	"github.com/annel0/basecraft/internal/storage"
	"github.com/annel0/basecraft/internal/vec"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации")
	flag.Parse()

	// Инициализируем систему логирования
	if err := logging.InitDefaultLogger("server"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()

	logging.Info("🎮 Запуск сервера симуляции базы...")

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Error("❌ Ошибка чтения конфигурации: %v", err)
		log.Fatalf("❌ Ошибка чтения конфигурации: %v", err)
	}

	restPort := fmt.Sprintf(":%d", cfg.Server.GetRESTPort())
	metricsPort := fmt.Sprintf(":%d", cfg.Server.GetMetricsPort())
	logging.Info("📡 Конфигурация сервера: REST API=%s, Prometheus=%s", restPort, metricsPort)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === OBSERVABILITY ===
	shutdownTelemetry, err := observability.InitTelemetry(ctx, "basecraft-server", cfg.Server.OTLPEndpoint)
	if err != nil {
		logging.Warn("OpenTelemetry недоступен: %v", err)
		shutdownTelemetry = func(context.Context) error { return nil }
	}

	// === ЯДРО СИМУЛЯЦИИ ===
	logging.Debug("Создание реестра сетки...")
	world := grid.New(cfg.Grid, grid.NewMetrics())

	phases := phase.NewCounter(phase.Phase(cfg.Level.StartPhase))

	entities := entity.NewManager(nil)
	machine := entity.NewMachine(world, nil, entity.NewMetrics())

	catalog := craft.NewCatalog()
	if err := catalog.LoadJSON(cfg.Level.RecipesPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Warn("Каталог рецептов %s не найден, продолжаем с пустым", cfg.Level.RecipesPath)
		} else {
			logging.Error("❌ Ошибка загрузки рецептов: %v", err)
			log.Fatalf("❌ Ошибка загрузки рецептов: %v", err)
		}
	}

	pipeline := craft.NewPipeline(world, catalog, entities, machine, phases, nil, craft.NewMetrics())
	machine.SetAcceptor(pipeline)

	// === ШИНА СОБЫТИЙ ===
	var bus eventbus.EventBus
	if cfg.EventBus.URL != "" {
		retention := time.Duration(cfg.EventBus.Retention) * time.Hour
		jsBus, err := eventbus.NewJetStreamBus(cfg.EventBus.URL, cfg.EventBus.Stream, retention)
		if err != nil {
			logging.Warn("JetStream недоступен (%v), переключаемся на in-memory шину", err)
			bus = eventbus.NewMemoryBus(1024)
		} else {
			logging.Info("📨 JetStream подключен: %s", cfg.EventBus.URL)
			bus = jsBus
			defer jsBus.Close()
		}
	} else {
		bus = eventbus.NewMemoryBus(1024)
	}

	bridge := eventbus.NewBridge(bus, "server")
	world.AddListener(bridge)
	machine.AddNotifier(bridge)
	pipeline.AddNotifier(bridge)

	if err := eventbus.StartLoggingListener(bus); err != nil {
		logging.Warn("Логирующий слушатель не запущен: %v", err)
	}

	busMetrics := eventbus.NewMetricsExporter(bus)
	busMetrics.Start()
	defer busMetrics.Stop()

	// Локальная реплика: проверяет, что поток событий самодостаточен,
	// и отдает кейфреймы через REST.
	replica := mirror.NewMirror()
	if _, err := replica.Attach(bus); err != nil {
		logging.Warn("Реплика не подключена: %v", err)
	}

	// === ХРАНИЛИЩЕ ===
	store, err := storage.NewWorldStore(cfg.Storage.DataPath)
	if err != nil {
		logging.Error("❌ Ошибка открытия хранилища мира: %v", err)
		log.Fatalf("❌ Ошибка открытия хранилища мира: %v", err)
	}
	defer store.Close()

	progressRepo := newProgressRepo(cfg.Storage)

	// Каждый шаг прогресса чертежа сразу уходит в репозиторий.
	pipeline.AddNotifier(craft.NotifierFunc(func(ev craft.ProgressEvent) {
		bp, ok := pipeline.BlueprintByID(ev.BlueprintID)
		if !ok {
			return
		}
		if err := progressRepo.Save(ctx, progressRecordOf(bp)); err != nil {
			logging.Warn("Прогресс чертежа %s не сохранен: %v", ev.BlueprintID, err)
		}
	}))

	// === ВОССТАНОВЛЕНИЕ УРОВНЯ ===
	if err := pipeline.LoadPlacements(cfg.Level.PlacementsPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Warn("Файл размещений %s не найден, уровень пуст", cfg.Level.PlacementsPath)
		} else {
			logging.Error("❌ Ошибка загрузки размещений: %v", err)
			log.Fatalf("❌ Ошибка загрузки размещений: %v", err)
		}
	}

	snap, err := store.LoadSnapshot()
	if err != nil {
		logging.Error("❌ Ошибка чтения снимка мира: %v", err)
		log.Fatalf("❌ Ошибка чтения снимка мира: %v", err)
	}
	restoreSnapshot(snap, entities, machine, pipeline, phases)

	// === АВТОРИТЕТНЫЙ ЦИКЛ ===
	resolver := interact.NewResolver(cfg.Interact, world, machine, pipeline, entities)
	authority := interact.NewAuthority(resolver, entities, 256)
	go authority.Run(ctx)

	// === HTTP ===
	restServer := api.NewRestServer(api.Config{
		Port:     restPort,
		Grid:     world,
		Entities: entities,
		Pipeline: pipeline,
		Phases:   phases,
		Replica:  replica,
	})
	go func() {
		if err := restServer.Start(); err != nil {
			logging.Error("❌ Ошибка REST API: %v", err)
		}
	}()

	go func() {
		logging.Info("📈 Prometheus /metrics доступен по адресу %s", metricsPort)
		if err := http.ListenAndServe(metricsPort, promhttp.Handler()); err != nil {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()

	// === АВТОСОХРАНЕНИЕ ===
	if cfg.Storage.AutosaveSec > 0 {
		go autosaveLoop(ctx, time.Duration(cfg.Storage.AutosaveSec)*time.Second,
			store, progressRepo, world, pipeline, phases)
	}

	logging.Info("✅ Все сервисы запущены")
	logging.Info("   🌐 REST API: http://localhost%s", restPort)
	logging.Info("   ❤️  Health check: http://localhost%s/health", restPort)
	logging.Info("   📈 Метрики: http://localhost%s/metrics", metricsPort)

	// Ждем сигнала для завершения
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logging.Info("📡 Получен сигнал %v, завершение работы...", sig)

	// === GRACEFUL SHUTDOWN ===
	cancel()

	if err := store.SaveSnapshot(buildSnapshot(world, pipeline, phases)); err != nil {
		logging.Error("❌ Ошибка финального сохранения: %v", err)
	}
	if closer, ok := progressRepo.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logging.Warn("Ошибка закрытия репозитория прогресса: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logging.Warn("Ошибка остановки телеметрии: %v", err)
	}

	logging.Info("👋 Сервер успешно остановлен")
}

// newProgressRepo выбирает бэкенд прогресса чертежей по конфигурации.
// Недоступный внешний бэкенд деградирует в память с предупреждением.
func newProgressRepo(cfg config.StorageConfig) storage.ProgressRepo {
	switch cfg.Backend {
	case "redis":
		rcfg := storage.DefaultRedisConfig()
		if cfg.RedisURL != "" {
			rcfg.Addr = cfg.RedisURL
		}
		repo, err := storage.NewRedisProgressRepo(rcfg)
		if err != nil {
			logging.Warn("Redis недоступен (%v), прогресс хранится в памяти", err)
			return storage.NewMemoryProgressRepo()
		}
		return repo
	case "maria":
		repo, err := storage.NewMariaProgressRepo(cfg.MariaDSN)
		if err != nil {
			logging.Warn("MariaDB недоступна (%v), прогресс хранится в памяти", err)
			return storage.NewMemoryProgressRepo()
		}
		return repo
	default:
		return storage.NewMemoryProgressRepo()
	}
}

// progressRecordOf строит запись репозитория из текущего состояния чертежа.
func progressRecordOf(bp *craft.Blueprint) *storage.ProgressRecord {
	cell, layer := bp.Cell()

	processed := make(map[string]int)
	for mat, n := range bp.ProcessedCounts() {
		processed[string(mat)] = n
	}

	return &storage.ProgressRecord{
		BlueprintID:   bp.BlueprintID(),
		RecipeID:      bp.Recipe().ID,
		X:             cell.X,
		Z:             cell.Z,
		Layer:         uint8(layer),
		RequiredPhase: int32(bp.RequiredPhase()),
		Processed:     processed,
		Completed:     bp.IsCompleted(),
		ResultID:      bp.ResultID(),
	}
}

// buildSnapshot собирает полный снимок уровня для хранилища.
func buildSnapshot(world *grid.Grid, pipeline *craft.Pipeline, phases *phase.Counter) *storage.WorldSnapshot {
	snap := &storage.WorldSnapshot{Phase: int32(phases.Current())}

	world.ForEachPlaced(func(cell vec.Vec2, layer grid.Layer, occ grid.Occupant) {
		p, ok := occ.(*entity.Placeable)
		if !ok {
			return
		}
		snap.Placements = append(snap.Placements, storage.PlacementRecord{
			EntityID:   p.HandleID(),
			Template:   p.Template(),
			X:          cell.X,
			Z:          cell.Z,
			Layer:      uint8(layer),
			Refinement: p.Refinement().String(),
			Kind:       "placed",
		})
	})

	world.ForEachRawStack(func(cell vec.Vec2, layer grid.Layer, stack []grid.Occupant) {
		for i, occ := range stack {
			p, ok := occ.(*entity.Placeable)
			if !ok {
				continue
			}
			snap.Placements = append(snap.Placements, storage.PlacementRecord{
				EntityID:   p.HandleID(),
				Template:   p.Template(),
				X:          cell.X,
				Z:          cell.Z,
				Layer:      uint8(layer),
				Refinement: p.Refinement().String(),
				Kind:       "raw",
				StackIndex: i,
			})
		}
	})

	pipeline.ForEachBlueprint(func(bp *craft.Blueprint) {
		snap.Blueprints = append(snap.Blueprints, progressRecordOf(bp))
	})

	return snap
}

// autosaveLoop периодически сбрасывает снимок уровня и прогресс чертежей.
func autosaveLoop(ctx context.Context, every time.Duration, store *storage.WorldStore,
	repo storage.ProgressRepo, world *grid.Grid, pipeline *craft.Pipeline, phases *phase.Counter) {

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			snap := buildSnapshot(world, pipeline, phases)
			if err := store.SaveSnapshot(snap); err != nil {
				logging.Warn("Автосохранение снимка не удалось: %v", err)
			}
			if err := repo.BatchSave(ctx, snap.Blueprints); err != nil {
				logging.Warn("Автосохранение прогресса не удалось: %v", err)
			}
			if err := store.RunGC(); err != nil {
				logging.Debug("GC хранилища: %v", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// restoreSnapshot накатывает сохраненное состояние поверх загруженного
// уровня. Конфликтующие размещения (ячейка уже занята результатом
// восстановленного чертежа) пропускаются.
func restoreSnapshot(snap *storage.WorldSnapshot, entities *entity.Manager,
	machine *entity.Machine, pipeline *craft.Pipeline, phases *phase.Counter) {

	if snap == nil || (len(snap.Placements) == 0 && len(snap.Blueprints) == 0) {
		return
	}

	phases.Set(phase.Phase(snap.Phase))

	restoredBp := 0
	for _, rec := range snap.Blueprints {
		cell := vec.Vec2{X: rec.X, Z: rec.Z}
		if err := pipeline.RestoreProgress(cell, rec.RecipeID, rec.Processed, rec.Completed); err != nil {
			logging.Warn("Прогресс чертежа на (%d,%d) не восстановлен: %v", rec.X, rec.Z, err)
			continue
		}
		restoredBp++
	}

	restored := 0
	for i := range snap.Placements {
		rec := &snap.Placements[i]
		p, err := recreatePlacement(entities, rec)
		if err != nil {
			logging.Warn("Размещение %s не восстановлено: %v", rec.EntityID, err)
			continue
		}

		cell := vec.Vec2{X: rec.X, Z: rec.Z}
		ref := parseRefinement(rec.Refinement)
		if err := machine.RestorePlaced(p, cell, grid.Layer(rec.Layer), ref); err != nil {
			// Ячейка занята результатом конверсии: запись устарела.
			logging.Debug("Размещение %s пропущено: %v", rec.EntityID, err)
			_ = entities.Despawn(p.HandleID())
			continue
		}
		restored++
	}

	logging.Info("💾 Снимок уровня восстановлен: фаза %d, размещений %d, чертежей %d",
		snap.Phase, restored, restoredBp)
}

// recreatePlacement создает сущность нужного вида по записи снимка.
func recreatePlacement(entities *entity.Manager, rec *storage.PlacementRecord) (*entity.Placeable, error) {
	if rec.Kind == "raw" || strings.HasPrefix(rec.Template, "material_") {
		mat := entity.MaterialType(strings.TrimPrefix(rec.Template, "material_"))
		return entities.CreateRawMaterial(mat, vec.Vec2Float{})
	}
	return entities.CreateComponent(rec.Template, grid.Layer(rec.Layer), vec.Vec2Float{})
}

func parseRefinement(s string) entity.RefinementState {
	switch s {
	case entity.RefinementRefined.String():
		return entity.RefinementRefined
	case entity.RefinementDamaged.String():
		return entity.RefinementDamaged
	default:
		return entity.RefinementRaw
	}
}
