package craft

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/annel0/basecraft/internal/entity"
	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/logging"
	"github.com/annel0/basecraft/internal/vec"
)

// Catalog — каталог рецептов. Заполняется один раз при загрузке уровня
// и дальше только читается; передается зависимостям явно.
type Catalog struct {
	mu      sync.RWMutex
	recipes map[string]*Recipe
}

// NewCatalog создает пустой каталог
func NewCatalog() *Catalog {
	return &Catalog{recipes: make(map[string]*Recipe)}
}

// Register добавляет рецепт в каталог
func (c *Catalog) Register(r *Recipe) error {
	if r.ID == "" {
		return fmt.Errorf("рецепт без идентификатора")
	}
	if len(r.Requirements) == 0 {
		return fmt.Errorf("рецепт %s без требований", r.ID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.recipes[r.ID]; exists {
		return fmt.Errorf("рецепт %s уже зарегистрирован", r.ID)
	}
	c.recipes[r.ID] = r
	return nil
}

// Get возвращает рецепт по идентификатору
func (c *Catalog) Get(id string) (*Recipe, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.recipes[id]
	return r, ok
}

// Count возвращает число рецептов в каталоге
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.recipes)
}

// === JSON-загрузка ===

// recipeJSON — формат одного рецепта в файле каталога
type recipeJSON struct {
	ID           string `json:"id"`
	Layer        string `json:"layer"`
	Result       string `json:"result"`
	Requirements []struct {
		Material string `json:"material"`
		Count    int    `json:"count"`
		Tool     string `json:"tool"`
	} `json:"requirements"`
	Offset struct {
		X float64 `json:"x"`
		Z float64 `json:"z"`
	} `json:"offset"`
	RotationDeg float64 `json:"rotation_deg"`
}

// LoadJSON читает каталог рецептов из JSON-файла.
// Формат: массив рецептов. Ошибки формата фатальны для загрузки уровня.
func (c *Catalog) LoadJSON(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("чтение каталога рецептов: %w", err)
	}

	var raw []recipeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("разбор каталога рецептов: %w", err)
	}

	for _, rj := range raw {
		layer, err := grid.ParseLayer(rj.Layer)
		if err != nil {
			return fmt.Errorf("рецепт %s: %w", rj.ID, err)
		}

		recipe := &Recipe{
			ID:             rj.ID,
			Layer:          layer,
			ResultTemplate: rj.Result,
			Offset:         vec.Vec2Float{X: rj.Offset.X, Z: rj.Offset.Z},
			RotationDeg:    rj.RotationDeg,
		}
		for _, req := range rj.Requirements {
			if req.Count <= 0 {
				return fmt.Errorf("рецепт %s: требование %s с неположительным количеством", rj.ID, req.Material)
			}
			recipe.Requirements = append(recipe.Requirements, Requirement{
				Material: entity.MaterialType(req.Material),
				Count:    req.Count,
				Tool:     entity.ToolType(req.Tool),
			})
		}

		if err := c.Register(recipe); err != nil {
			return err
		}
	}

	logging.Info("📜 Каталог рецептов загружен: %d рецептов из %s", len(raw), path)
	return nil
}
