package eventbus

// Типы событий симуляции. Полезные нагрузки сериализуются в JSON.
const (
	EventGridPlaced     = "grid.placed"
	EventGridRemoved    = "grid.removed"
	EventGridRawAdded   = "grid.raw_added"
	EventGridRawRemoved = "grid.raw_removed"
	EventEntityChanged  = "entity.changed"
	EventBlueprint      = "blueprint.progress"
)

// GridPayload — полезная нагрузка событий занятости сетки
type GridPayload struct {
	X          int    `json:"x"`
	Z          int    `json:"z"`
	Layer      uint8  `json:"layer"`
	Kind       string `json:"kind"`
	EntityID   string `json:"entity_id"`
	StackIndex int    `json:"stack_index,omitempty"`
}

// EntityPayload — полезная нагрузка событий переходов сущностей
type EntityPayload struct {
	EntityID   string `json:"entity_id"`
	Transition string `json:"transition"`
	Lifecycle  string `json:"lifecycle"`
	Refinement string `json:"refinement"`
	Holder     string `json:"holder,omitempty"`
	X          int    `json:"x"`
	Z          int    `json:"z"`
	Layer      uint8  `json:"layer"`
}

// BlueprintPayload — полезная нагрузка событий прогресса крафта
type BlueprintPayload struct {
	BlueprintID string         `json:"blueprint_id"`
	Processed   map[string]int `json:"processed"`
	Completed   bool           `json:"completed"`
	ResultID    string         `json:"result_id,omitempty"`
}
