// Package phase хранит текущую фазу прогресса игры.
// Фаза — грубый гейт: чертеж принимает обработку только в своей фазе
// (или чинит свой результат в более поздних). Источник фазы передается
// зависимостям явно, без глобального синглтона.
package phase

import (
	"sync/atomic"

	"github.com/annel0/basecraft/internal/logging"
)

// Phase — порядковый номер фазы. Фазы строго упорядочены.
type Phase int32

// Source отдает текущую фазу. Реализация продвигается внешней
// игровой логикой, ядро симуляции фазу только читает.
type Source interface {
	Current() Phase
}

// Counter — потокобезопасный источник фазы с ручным продвижением.
type Counter struct {
	current atomic.Int32
}

// NewCounter создает источник, начинающий с указанной фазы
func NewCounter(initial Phase) *Counter {
	c := &Counter{}
	c.current.Store(int32(initial))
	return c
}

// Current возвращает текущую фазу
func (c *Counter) Current() Phase {
	return Phase(c.current.Load())
}

// Advance переводит игру в следующую фазу
func (c *Counter) Advance() Phase {
	next := Phase(c.current.Add(1))
	logging.Info("⏭️  Фаза игры продвинута: %d", next)
	return next
}

// Set устанавливает фазу напрямую (загрузка сохранения, тесты)
func (c *Counter) Set(p Phase) {
	c.current.Store(int32(p))
}
