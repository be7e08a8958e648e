package entity

import (
	"fmt"
	"sync"

	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/logging"
	"github.com/annel0/basecraft/internal/vec"
	"github.com/google/uuid"
)

// Spawner — внешний коллаборатор, материализующий презентационные
// объекты. Ядро не знает про сцены и префабы, только про хендлы.
type Spawner interface {
	// Spawn создает объект по шаблону и возвращает его хендл.
	Spawn(template string, pos vec.Vec2Float, rotationDeg float64) (string, error)

	// Despawn уничтожает объект по хендлу.
	Despawn(handle string) error
}

// NoopSpawner — заглушка спавнера для тестов и headless-запуска
type NoopSpawner struct{}

// Spawn возвращает фиктивный хендл
func (NoopSpawner) Spawn(template string, _ vec.Vec2Float, _ float64) (string, error) {
	return "view-" + template + "-" + uuid.NewString()[:8], nil
}

// Despawn ничего не делает
func (NoopSpawner) Despawn(string) error { return nil }

// Manager владеет реестром живых сущностей: создание через спавнер,
// поиск по хендлу, перечисление по держателю, уничтожение.
type Manager struct {
	mu       sync.RWMutex
	entities map[string]*Placeable
	spawner  Spawner
	log      *logging.Logger
}

// NewManager создает менеджер сущностей поверх спавнера
func NewManager(spawner Spawner) *Manager {
	if spawner == nil {
		spawner = NoopSpawner{}
	}
	return &Manager{
		entities: make(map[string]*Placeable),
		spawner:  spawner,
		log:      logging.GetComponentLogger("entity"),
	}
}

// create регистрирует новую сущность с уникальным хендлом
func (mngr *Manager) create(item HeldItem, template string, pos vec.Vec2Float, rotDeg float64) (*Placeable, error) {
	view, err := mngr.spawner.Spawn(template, pos, rotDeg)
	if err != nil {
		return nil, fmt.Errorf("спавн %s: %w", template, err)
	}

	p := &Placeable{
		id:         uuid.NewString(),
		item:       item,
		template:   template,
		lifecycle:  StateFree,
		refinement: RefinementRaw,
		pos:        pos,
		viewHandle: view,
	}

	mngr.mu.Lock()
	mngr.entities[p.id] = p
	mngr.mu.Unlock()

	mngr.log.Debug("Создана сущность %s (%T, шаблон %s)", p.id, item, template)
	return p, nil
}

// CreateComponent создает строительный компонент с фиксированным слоем
func (mngr *Manager) CreateComponent(template string, layer grid.Layer, pos vec.Vec2Float) (*Placeable, error) {
	return mngr.create(BuildingComponent{Layer: layer}, template, pos, 0)
}

// CreateRawMaterial создает сырье указанного типа
func (mngr *Manager) CreateRawMaterial(mat MaterialType, pos vec.Vec2Float) (*Placeable, error) {
	return mngr.create(RawMaterial{Material: mat}, "material_"+string(mat), pos, 0)
}

// CreateTool создает инструмент
func (mngr *Manager) CreateTool(tool ToolType, effect ToolEffect, pos vec.Vec2Float) (*Placeable, error) {
	return mngr.create(Tool{Type: tool, Effect: effect}, "tool_"+string(tool), pos, 0)
}

// AdoptResult регистрирует сущность поверх уже существующего
// презентационного объекта, не спавня дубликат. Используется при
// конверсии завершенного чертежа: заготовка становится результатом.
func (mngr *Manager) AdoptResult(layer grid.Layer, pos vec.Vec2Float, view string) *Placeable {
	p := &Placeable{
		id:         uuid.NewString(),
		item:       BuildingComponent{Layer: layer},
		template:   "result",
		lifecycle:  StateFree,
		refinement: RefinementRaw,
		pos:        pos,
		viewHandle: view,
	}

	mngr.mu.Lock()
	mngr.entities[p.id] = p
	mngr.mu.Unlock()

	mngr.log.Debug("Сущность %s принята поверх презентации %s", p.id, view)
	return p
}

// Get возвращает сущность по хендлу
func (mngr *Manager) Get(id string) (*Placeable, bool) {
	mngr.mu.RLock()
	defer mngr.mu.RUnlock()
	p, ok := mngr.entities[id]
	return p, ok
}

// Despawn уничтожает сущность: удаляет из реестра и гасит презентацию.
// Используется конвейером крафта для потребленного сырья.
func (mngr *Manager) Despawn(id string) error {
	mngr.mu.Lock()
	p, ok := mngr.entities[id]
	if ok {
		delete(mngr.entities, id)
	}
	mngr.mu.Unlock()

	if !ok {
		return fmt.Errorf("сущность %s не найдена", id)
	}
	if err := mngr.spawner.Despawn(p.ViewHandle()); err != nil {
		mngr.log.Warn("Деспавн презентации %s: %v", id, err)
	}
	mngr.log.Debug("Сущность %s уничтожена", id)
	return nil
}

// HeldBy возвращает все сущности в руках указанного держателя.
// Нужен сетевому слою: обрыв соединения синтезирует drop для каждой.
func (mngr *Manager) HeldBy(holder HolderID) []*Placeable {
	mngr.mu.RLock()
	defer mngr.mu.RUnlock()

	var out []*Placeable
	for _, p := range mngr.entities {
		if p.Lifecycle() == StateHeld && p.Holder() == holder {
			out = append(out, p)
		}
	}
	return out
}

// ForEach обходит все живые сущности
func (mngr *Manager) ForEach(fn func(p *Placeable)) {
	mngr.mu.RLock()
	snapshot := make([]*Placeable, 0, len(mngr.entities))
	for _, p := range mngr.entities {
		snapshot = append(snapshot, p)
	}
	mngr.mu.RUnlock()

	for _, p := range snapshot {
		fn(p)
	}
}

// Count возвращает число живых сущностей
func (mngr *Manager) Count() int {
	mngr.mu.RLock()
	defer mngr.mu.RUnlock()
	return len(mngr.entities)
}
