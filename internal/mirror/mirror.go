package mirror

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/annel0/basecraft/internal/eventbus"
	"github.com/annel0/basecraft/internal/logging"
	"github.com/annel0/basecraft/internal/vec"
)

// Mirror — реплика состояния мира «только для чтения».
// Применяет события из шины строго по порядку Seq; повторная доставка
// одного и того же события не меняет состояние (идемпотентность).
// Мутаций напрямую зеркало не принимает — только через ApplyEnvelope.
type Mirror struct {
	mu         sync.RWMutex
	lastSeq    uint64
	cells      map[cellKey]*CellState
	entities   map[string]*EntityState
	blueprints map[string]*BlueprintState
	log        *logging.Logger
}

type cellKey struct {
	Cell  vec.Vec2
	Layer uint8
}

// CellState — занятость одной ячейки на одном слое.
type CellState struct {
	PlacedID string   // пусто, если слой свободен
	RawStack []string // ID сущностей в порядке добавления
}

// EntityState — последнее известное состояние сущности.
type EntityState struct {
	ID         string
	Lifecycle  string
	Refinement string
	Holder     string
	Cell       vec.Vec2
	Layer      uint8
}

// BlueprintState — последний известный прогресс чертежа.
type BlueprintState struct {
	ID        string
	Processed map[string]int
	Completed bool
	ResultID  string
}

// NewMirror создаёт пустую реплику.
func NewMirror() *Mirror {
	return &Mirror{
		cells:      make(map[cellKey]*CellState),
		entities:   make(map[string]*EntityState),
		blueprints: make(map[string]*BlueprintState),
		log:        logging.GetComponentLogger("mirror"),
	}
}

// Attach подписывает реплику на шину событий.
func (m *Mirror) Attach(bus eventbus.EventBus) (eventbus.Subscription, error) {
	sub, err := bus.Subscribe(context.Background(), eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		if err := m.ApplyEnvelope(ev); err != nil {
			m.log.Warn("Событие %s (seq=%d) не применено: %v", ev.ID, ev.Seq, err)
		}
	})
	if err != nil {
		return nil, err
	}
	m.log.Info("🪞 Зеркало подключено к шине событий")
	return sub, nil
}

// ApplyEnvelope применяет одно событие. События с Seq, не превышающим
// уже применённый, пропускаются молча — так повторная доставка
// безопасна.
func (m *Mirror) ApplyEnvelope(ev *eventbus.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ev.Seq != 0 && ev.Seq <= m.lastSeq {
		return nil // дубликат или устаревшее событие
	}

	switch ev.EventType {
	case eventbus.EventGridPlaced, eventbus.EventGridRemoved,
		eventbus.EventGridRawAdded, eventbus.EventGridRawRemoved:
		var p eventbus.GridPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		m.applyGrid(ev.EventType, &p)
	case eventbus.EventEntityChanged:
		var p eventbus.EntityPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		m.applyEntity(&p)
	case eventbus.EventBlueprint:
		var p eventbus.BlueprintPayload
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return err
		}
		m.applyBlueprint(&p)
	default:
		// Неизвестные типы игнорируем: версия источника может быть новее.
	}

	if ev.Seq > m.lastSeq {
		m.lastSeq = ev.Seq
	}
	return nil
}

func (m *Mirror) applyGrid(eventType string, p *eventbus.GridPayload) {
	key := cellKey{Cell: vec.Vec2{X: p.X, Z: p.Z}, Layer: p.Layer}
	cs := m.cells[key]
	if cs == nil {
		cs = &CellState{}
		m.cells[key] = cs
	}

	switch eventType {
	case eventbus.EventGridPlaced:
		cs.PlacedID = p.EntityID
	case eventbus.EventGridRemoved:
		if cs.PlacedID == p.EntityID {
			cs.PlacedID = ""
		}
	case eventbus.EventGridRawAdded:
		// Повтор одного события отсекается по Seq, поэтому дубликаты
		// в стеке возможны только при ошибке источника.
		cs.RawStack = append(cs.RawStack, p.EntityID)
	case eventbus.EventGridRawRemoved:
		for i, id := range cs.RawStack {
			if id == p.EntityID {
				cs.RawStack = append(cs.RawStack[:i], cs.RawStack[i+1:]...)
				break
			}
		}
	}

	if cs.PlacedID == "" && len(cs.RawStack) == 0 {
		delete(m.cells, key)
	}
}

func (m *Mirror) applyEntity(p *eventbus.EntityPayload) {
	es := m.entities[p.EntityID]
	if es == nil {
		es = &EntityState{ID: p.EntityID}
		m.entities[p.EntityID] = es
	}
	es.Lifecycle = p.Lifecycle
	es.Refinement = p.Refinement
	es.Holder = p.Holder
	es.Cell = vec.Vec2{X: p.X, Z: p.Z}
	es.Layer = p.Layer
}

func (m *Mirror) applyBlueprint(p *eventbus.BlueprintPayload) {
	bs := m.blueprints[p.BlueprintID]
	if bs == nil {
		bs = &BlueprintState{ID: p.BlueprintID}
		m.blueprints[p.BlueprintID] = bs
	}
	bs.Processed = p.Processed
	bs.Completed = p.Completed
	if p.ResultID != "" {
		bs.ResultID = p.ResultID
	}
}

// LastSeq возвращает порядковый номер последнего применённого события.
func (m *Mirror) LastSeq() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeq
}

// CellAt возвращает копию состояния ячейки или nil, если слой пуст.
func (m *Mirror) CellAt(cell vec.Vec2, layer uint8) *CellState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs := m.cells[cellKey{Cell: cell, Layer: layer}]
	if cs == nil {
		return nil
	}
	out := &CellState{PlacedID: cs.PlacedID}
	out.RawStack = append(out.RawStack, cs.RawStack...)
	return out
}

// Entity возвращает копию состояния сущности или nil.
func (m *Mirror) Entity(id string) *EntityState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	es := m.entities[id]
	if es == nil {
		return nil
	}
	cp := *es
	return &cp
}

// Blueprint возвращает копию прогресса чертежа или nil.
func (m *Mirror) Blueprint(id string) *BlueprintState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bs := m.blueprints[id]
	if bs == nil {
		return nil
	}
	cp := *bs
	cp.Processed = make(map[string]int, len(bs.Processed))
	for k, v := range bs.Processed {
		cp.Processed[k] = v
	}
	return &cp
}

// Counts возвращает размеры внутренних карт (для диагностики).
func (m *Mirror) Counts() (cells, entities, blueprints int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.cells), len(m.entities), len(m.blueprints)
}
