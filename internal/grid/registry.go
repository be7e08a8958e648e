package grid

import (
	"sync"

	"github.com/annel0/basecraft/internal/logging"
	"github.com/annel0/basecraft/internal/vec"
)

// Occupant — размещенная в ячейке сущность с точки зрения реестра.
// Реестр не владеет жизненным циклом сущности, он хранит ссылку
// и спрашивает состояние укрепления для зависимостей слоев.
type Occupant interface {
	// HandleID возвращает стабильный идентификатор сущности.
	HandleID() string

	// IsRefined возвращает true, если сущность укреплена.
	IsRefined() bool
}

// BlueprintAnchor — чертеж, привязанный к (ячейка, слой).
// Реестр хранит привязки, но логикой прогресса владеет конвейер крафта.
type BlueprintAnchor interface {
	// BlueprintID возвращает идентификатор чертежа.
	BlueprintID() string

	// IsActiveInCurrentPhase возвращает true, если чертеж сейчас
	// принимает обработку материалов.
	IsActiveInCurrentPhase() bool
}

// cellKey адресует один слой одной ячейки
type cellKey struct {
	cell  vec.Vec2
	layer Layer
}

// Grid — реестр занятости сетки: не более одной размещенной сущности
// на (ячейка, слой), стопка сырья на (ячейка, слой) и не более одного
// чертежа на (ячейка, слой).
//
// Все мутации выполняются единственной авторитетной горутиной (см. пакет
// interact); RWMutex защищает только конкурентные читатели (REST, зеркала).
type Grid struct {
	mu         sync.RWMutex
	cfg        Config
	placed     map[cellKey]Occupant
	raw        map[cellKey][]Occupant
	blueprints map[cellKey]BlueprintAnchor
	listeners  []Listener
	metrics    *Metrics
	log        *logging.Logger
}

// New создает пустой реестр с указанной геометрией.
// metrics может быть nil (например, в тестах).
func New(cfg Config, metrics *Metrics) *Grid {
	if cfg.CellSize <= 0 {
		cfg.CellSize = 1.0
	}
	return &Grid{
		cfg:        cfg,
		placed:     make(map[cellKey]Occupant),
		raw:        make(map[cellKey][]Occupant),
		blueprints: make(map[cellKey]BlueprintAnchor),
		metrics:    metrics,
		log:        logging.GetGridLogger(),
	}
}

// Geometry возвращает конфигурацию геометрии сетки
func (g *Grid) Geometry() Config {
	return g.cfg
}

// CellOf преобразует мировую позицию в координату ячейки
func (g *Grid) CellOf(pos vec.Vec2Float) vec.Vec2 {
	return g.cfg.CellOf(pos)
}

// WorldOf возвращает центр ячейки в мировых координатах
func (g *Grid) WorldOf(cell vec.Vec2) vec.Vec2Float {
	return g.cfg.WorldOf(cell)
}

// IsInBounds проверяет попадание координаты в границы сетки
func (g *Grid) IsInBounds(cell vec.Vec2) bool {
	return g.cfg.IsInBounds(cell)
}

// AddListener регистрирует получателя уведомлений об изменениях занятости
func (g *Grid) AddListener(l Listener) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, l)
}

// notify рассылает событие всем слушателям. Вызывается уже после снятия
// блокировки записи, чтобы слушатели могли читать реестр.
func (g *Grid) notify(ev ChangeEvent) {
	g.mu.RLock()
	listeners := make([]Listener, len(g.listeners))
	copy(listeners, g.listeners)
	g.mu.RUnlock()

	for _, l := range listeners {
		l.OnGridChanged(ev)
	}
}

// CanPlace возвращает nil, если (ячейка, слой) свободна для размещения:
// координата в границах и на слое нет размещенной сущности.
// Взаимное исключение Wall/Object тоже проверяется здесь.
func (g *Grid) CanPlace(cell vec.Vec2, layer Layer) error {
	if !g.cfg.IsInBounds(cell) {
		return ErrOutOfBounds
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, occupied := g.placed[cellKey{cell, layer}]; occupied {
		return ErrCellOccupied
	}
	if other, ok := layer.excludes(); ok {
		if _, occupied := g.placed[cellKey{cell, other}]; occupied {
			return ErrCellOccupied
		}
	}
	return nil
}

// DependencyHolds проверяет межслойную зависимость: для Wall/Object
// в ячейке должен быть укрепленный фундамент. Для Foundation всегда true.
func (g *Grid) DependencyHolds(cell vec.Vec2, layer Layer) bool {
	if !layer.RequiresFoundation() {
		return true
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	foundation, ok := g.placed[cellKey{cell, LayerFoundation}]
	return ok && foundation.IsRefined()
}

// Register атомарно проверяет и вставляет сущность в (ячейка, слой).
// При конфликте — no-op с логом и метрикой, возвращается причина.
// Проверка и вставка выполняются под одной блокировкой: запрос, пришедший
// между ними, не увидит устаревшее "свободно".
func (g *Grid) Register(cell vec.Vec2, layer Layer, occ Occupant) error {
	if !g.cfg.IsInBounds(cell) {
		g.metrics.conflict("out_of_bounds")
		g.log.Debug("Отклонено размещение %s: (%d,%d) вне границ", occ.HandleID(), cell.X, cell.Z)
		return ErrOutOfBounds
	}

	g.mu.Lock()
	key := cellKey{cell, layer}
	if _, occupied := g.placed[key]; occupied {
		g.mu.Unlock()
		g.metrics.conflict("cell_occupied")
		g.log.Debug("Конфликт размещения %s: (%d,%d) слой %s занят", occ.HandleID(), cell.X, cell.Z, layer)
		return ErrCellOccupied
	}
	if other, ok := layer.excludes(); ok {
		if _, occupied := g.placed[cellKey{cell, other}]; occupied {
			g.mu.Unlock()
			g.metrics.conflict("cell_occupied")
			g.log.Debug("Конфликт размещения %s: (%d,%d) занят слоем %s", occ.HandleID(), cell.X, cell.Z, other)
			return ErrCellOccupied
		}
	}
	g.placed[key] = occ
	g.mu.Unlock()

	g.metrics.placed()
	g.notify(ChangeEvent{Cell: cell, Layer: layer, Kind: ChangePlaced, EntityID: occ.HandleID()})
	return nil
}

// Unregister снимает размещенную сущность с (ячейка, слой).
// Если ячейка свободна — no-op.
func (g *Grid) Unregister(cell vec.Vec2, layer Layer) (Occupant, bool) {
	g.mu.Lock()
	key := cellKey{cell, layer}
	occ, ok := g.placed[key]
	if ok {
		delete(g.placed, key)
	}
	g.mu.Unlock()

	if !ok {
		return nil, false
	}
	g.metrics.removed()
	g.notify(ChangeEvent{Cell: cell, Layer: layer, Kind: ChangeRemoved, EntityID: occ.HandleID()})
	return occ, true
}

// RegisterRawMaterial добавляет сырье в стопку (ячейка, слой).
// Порядок вставки определяет вертикальное смещение в стопке.
func (g *Grid) RegisterRawMaterial(cell vec.Vec2, layer Layer, occ Occupant) error {
	if !g.cfg.IsInBounds(cell) {
		g.metrics.conflict("out_of_bounds")
		return ErrOutOfBounds
	}

	g.mu.Lock()
	key := cellKey{cell, layer}
	g.raw[key] = append(g.raw[key], occ)
	index := len(g.raw[key]) - 1
	g.mu.Unlock()

	g.metrics.rawDelta(1)
	g.notify(ChangeEvent{Cell: cell, Layer: layer, Kind: ChangeRawAdded, EntityID: occ.HandleID(), StackIndex: index})
	return nil
}

// UnregisterRawMaterial убирает сырье из стопки по ссылке, не по индексу.
// Пустая стопка удаляется из карты целиком.
func (g *Grid) UnregisterRawMaterial(cell vec.Vec2, layer Layer, occ Occupant) bool {
	g.mu.Lock()
	key := cellKey{cell, layer}
	stack := g.raw[key]
	found := -1
	for i, s := range stack {
		if s.HandleID() == occ.HandleID() {
			found = i
			break
		}
	}
	if found < 0 {
		g.mu.Unlock()
		return false
	}
	stack = append(stack[:found], stack[found+1:]...)
	if len(stack) == 0 {
		delete(g.raw, key)
	} else {
		g.raw[key] = stack
	}
	g.mu.Unlock()

	g.metrics.rawDelta(-1)
	g.notify(ChangeEvent{Cell: cell, Layer: layer, Kind: ChangeRawRemoved, EntityID: occ.HandleID(), StackIndex: found})
	return true
}

// RawStack возвращает копию стопки сырья на (ячейка, слой)
func (g *Grid) RawStack(cell vec.Vec2, layer Layer) []Occupant {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stack := g.raw[cellKey{cell, layer}]
	if len(stack) == 0 {
		return nil
	}
	out := make([]Occupant, len(stack))
	copy(out, stack)
	return out
}

// RegisterBlueprint привязывает чертеж к (ячейка, слой).
// Не более одного чертежа на слой; чертежи разных слоев могут
// сосуществовать в одной ячейке.
func (g *Grid) RegisterBlueprint(cell vec.Vec2, layer Layer, bp BlueprintAnchor) error {
	if !g.cfg.IsInBounds(cell) {
		return ErrOutOfBounds
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := cellKey{cell, layer}
	if _, exists := g.blueprints[key]; exists {
		g.log.Warn("Чертеж %s не привязан: (%d,%d) слой %s уже занят", bp.BlueprintID(), cell.X, cell.Z, layer)
		return ErrBlueprintExists
	}
	g.blueprints[key] = bp
	return nil
}

// BlueprintAt возвращает чертеж, привязанный к (ячейка, слой)
func (g *Grid) BlueprintAt(cell vec.Vec2, layer Layer) (BlueprintAnchor, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	bp, ok := g.blueprints[cellKey{cell, layer}]
	return bp, ok
}

// ActiveBlueprintAt возвращает первый активный в текущей фазе чертеж
// в ячейке, перебирая слои в порядке приоритета взаимодействия.
func (g *Grid) ActiveBlueprintAt(cell vec.Vec2) (BlueprintAnchor, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, layer := range InteractionPriority {
		if bp, ok := g.blueprints[cellKey{cell, layer}]; ok && bp.IsActiveInCurrentPhase() {
			return bp, true
		}
	}
	return nil, false
}

// OccupantAt возвращает размещенную сущность на (ячейка, слой)
func (g *Grid) OccupantAt(cell vec.Vec2, layer Layer) (Occupant, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	occ, ok := g.placed[cellKey{cell, layer}]
	return occ, ok
}

// AllOccupantsAt возвращает размещенные сущности всех слоев ячейки
func (g *Grid) AllOccupantsAt(cell vec.Vec2) map[Layer]Occupant {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make(map[Layer]Occupant)
	for layer := Layer(0); layer < MaxLayers; layer++ {
		if occ, ok := g.placed[cellKey{cell, layer}]; ok {
			out[layer] = occ
		}
	}
	return out
}

// PlacedCount возвращает общее число размещенных сущностей (для снапшотов)
func (g *Grid) PlacedCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.placed)
}

// ForEachPlaced обходит все размещенные сущности под блокировкой чтения.
// Используется для сохранения мира и построения кейфреймов.
func (g *Grid) ForEachPlaced(fn func(cell vec.Vec2, layer Layer, occ Occupant)) {
	g.mu.RLock()
	type entry struct {
		key cellKey
		occ Occupant
	}
	entries := make([]entry, 0, len(g.placed))
	for k, o := range g.placed {
		entries = append(entries, entry{k, o})
	}
	g.mu.RUnlock()

	for _, e := range entries {
		fn(e.key.cell, e.key.layer, e.occ)
	}
}

// ForEachRawStack обходит все стопки сырья. Порядок внутри стопки
// сохраняется; сам обход ячеек не детерминирован.
func (g *Grid) ForEachRawStack(fn func(cell vec.Vec2, layer Layer, stack []Occupant)) {
	g.mu.RLock()
	type entry struct {
		key   cellKey
		stack []Occupant
	}
	entries := make([]entry, 0, len(g.raw))
	for k, s := range g.raw {
		entries = append(entries, entry{k, append([]Occupant(nil), s...)})
	}
	g.mu.RUnlock()

	for _, e := range entries {
		fn(e.key.cell, e.key.layer, e.stack)
	}
}
