package eventbus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/annel0/basecraft/internal/craft"
	"github.com/annel0/basecraft/internal/entity"
	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/logging"
	"github.com/google/uuid"
)

// Bridge публикует уведомления симуляции в шину событий.
// Реализует слушателей реестра сетки, автомата сущностей и конвейера
// крафта; каждому событию присваивается монотонный номер Seq.
type Bridge struct {
	bus    EventBus
	source string
	seq    atomic.Uint64
}

// NewBridge создает мост симуляция → шина событий
func NewBridge(bus EventBus, source string) *Bridge {
	return &Bridge{bus: bus, source: source}
}

// publish сериализует полезную нагрузку и публикует конверт
func (b *Bridge) publish(eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Error("Сериализация события %s: %v", eventType, err)
		return
	}

	ev := &Envelope{
		ID:        uuid.NewString(),
		Seq:       b.seq.Add(1),
		Timestamp: time.Now().UTC(),
		Source:    b.source,
		EventType: eventType,
		Payload:   data,
	}
	if err := b.bus.Publish(context.Background(), ev); err != nil {
		logging.Warn("Публикация события %s: %v", eventType, err)
	}
}

// OnGridChanged реализует grid.Listener
func (b *Bridge) OnGridChanged(ev grid.ChangeEvent) {
	var eventType string
	switch ev.Kind {
	case grid.ChangePlaced:
		eventType = EventGridPlaced
	case grid.ChangeRemoved:
		eventType = EventGridRemoved
	case grid.ChangeRawAdded:
		eventType = EventGridRawAdded
	case grid.ChangeRawRemoved:
		eventType = EventGridRawRemoved
	default:
		return
	}

	b.publish(eventType, GridPayload{
		X:          ev.Cell.X,
		Z:          ev.Cell.Z,
		Layer:      uint8(ev.Layer),
		Kind:       ev.Kind.String(),
		EntityID:   ev.EntityID,
		StackIndex: ev.StackIndex,
	})
}

// OnEntityChanged реализует entity.Notifier
func (b *Bridge) OnEntityChanged(ev entity.ChangeEvent) {
	b.publish(EventEntityChanged, EntityPayload{
		EntityID:   ev.EntityID,
		Transition: ev.Transition,
		Lifecycle:  ev.Lifecycle.String(),
		Refinement: ev.Refinement.String(),
		Holder:     string(ev.Holder),
		X:          ev.Cell.X,
		Z:          ev.Cell.Z,
		Layer:      uint8(ev.Layer),
	})
}

// OnBlueprintProgress реализует craft.Notifier
func (b *Bridge) OnBlueprintProgress(ev craft.ProgressEvent) {
	processed := make(map[string]int, len(ev.Processed))
	for m, n := range ev.Processed {
		processed[string(m)] = n
	}
	b.publish(EventBlueprint, BlueprintPayload{
		BlueprintID: ev.BlueprintID,
		Processed:   processed,
		Completed:   ev.Completed,
		ResultID:    ev.ResultID,
	})
}
