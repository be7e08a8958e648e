package interact

import (
	"context"
	"fmt"

	"github.com/annel0/basecraft/internal/entity"
	"github.com/annel0/basecraft/internal/logging"
	"github.com/annel0/basecraft/internal/vec"
	"github.com/prometheus/client_golang/prometheus"
)

// RequestKind — тип запроса взаимодействия
type RequestKind uint8

const (
	RequestGrab       RequestKind = iota // Захватить ближайшую цель
	RequestDrop                          // Выпустить удерживаемое
	RequestPlace                         // Разместить удерживаемое в целевой ячейке
	RequestUseTool                       // Применить удерживаемый инструмент
	RequestDisconnect                    // Обрыв соединения держателя
)

// String возвращает строковое представление типа запроса
func (k RequestKind) String() string {
	switch k {
	case RequestGrab:
		return "grab"
	case RequestDrop:
		return "drop"
	case RequestPlace:
		return "place"
	case RequestUseTool:
		return "use_tool"
	case RequestDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Request — один запрос взаимодействия от клиента.
// Pos и YawDeg — позиция и поворот игрока на момент действия.
type Request struct {
	Kind     RequestKind
	Holder   entity.HolderID
	EntityID string
	Pos      vec.Vec2Float
	YawDeg   float64

	reply chan Result
}

// Result — исход запроса. Ошибки восстановимые: действие отклонено,
// состояние не изменилось. Паника за пределы авторитета не выходит.
type Result struct {
	OK       bool
	Err      error
	EntityID string
}

// Authority — единственный владелец всех мутаций симуляции.
// Запросы обрабатываются строго по одному: проверка условия и коммит
// любого перехода атомарны относительно других запросов. Запрос,
// пришедший между проверкой и коммитом чужого запроса, невозможен.
type Authority struct {
	resolver *Resolver
	entities *entity.Manager
	requests chan Request
	log      *logging.Logger

	processed *prometheus.CounterVec
}

// NewAuthority создает авторитетный обработчик запросов
func NewAuthority(resolver *Resolver, entities *entity.Manager, queueSize int) *Authority {
	if queueSize <= 0 {
		queueSize = 256
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "interact",
		Name:      "requests_total",
		Help:      "Обработанные запросы взаимодействия по типам и исходам.",
	}, []string{"kind", "outcome"})
	if err := prometheus.Register(processed); err != nil {
		// Повторная регистрация (второй экземпляр в тестах) не фатальна.
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			processed = are.ExistingCollector.(*prometheus.CounterVec)
		}
	}

	return &Authority{
		resolver:  resolver,
		entities:  entities,
		requests:  make(chan Request, queueSize),
		log:       logging.GetInteractLogger(),
		processed: processed,
	}
}

// Run запускает цикл обработки запросов. Блокирует до отмены контекста.
func (a *Authority) Run(ctx context.Context) {
	a.log.Info("⚙️  Авторитетный цикл взаимодействий запущен")
	for {
		select {
		case <-ctx.Done():
			a.log.Info("⚙️  Авторитетный цикл взаимодействий остановлен")
			return
		case req := <-a.requests:
			res := a.handle(req)
			if req.reply != nil {
				req.reply <- res
			}
		}
	}
}

// Submit ставит запрос в очередь и дожидается результата
func (a *Authority) Submit(ctx context.Context, req Request) (Result, error) {
	req.reply = make(chan Result, 1)

	select {
	case a.requests <- req:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// handle обрабатывает один запрос. Вызывается только из Run.
func (a *Authority) handle(req Request) Result {
	res := a.dispatch(req)

	outcome := "ok"
	if !res.OK {
		outcome = "rejected"
	}
	a.processed.WithLabelValues(req.Kind.String(), outcome).Inc()
	return res
}

func (a *Authority) dispatch(req Request) Result {
	switch req.Kind {
	case RequestGrab:
		target, err := a.resolver.Grab(req.Holder, req.Pos)
		if err != nil {
			return Result{Err: err}
		}
		return Result{OK: true, EntityID: target.HandleID()}

	case RequestDrop:
		p, err := a.heldEntity(req)
		if err != nil {
			return Result{Err: err}
		}
		if err := a.resolver.Drop(p); err != nil {
			return Result{Err: err}
		}
		return Result{OK: true, EntityID: p.HandleID()}

	case RequestPlace:
		p, err := a.heldEntity(req)
		if err != nil {
			return Result{Err: err}
		}
		cell := a.resolver.TargetCell(req.Pos, req.YawDeg)
		if err := a.resolver.Place(p, cell); err != nil {
			return Result{Err: err}
		}
		return Result{OK: true, EntityID: p.HandleID()}

	case RequestUseTool:
		p, err := a.heldEntity(req)
		if err != nil {
			return Result{Err: err}
		}
		cell := a.resolver.TargetCell(req.Pos, req.YawDeg)
		if err := a.resolver.UseTool(p, cell); err != nil {
			return Result{Err: err}
		}
		return Result{OK: true, EntityID: p.HandleID()}

	case RequestDisconnect:
		// Сетевой слой синтезирует drop для всего, что держал
		// пропавший клиент: сущность не остается вечно Held.
		held := a.entities.HeldBy(req.Holder)
		for _, p := range held {
			if err := a.resolver.Drop(p); err != nil {
				a.log.Warn("Синтетический drop %s при обрыве %s: %v", p.HandleID(), req.Holder, err)
			}
		}
		a.log.Info("🔌 Обрыв соединения %s: выпущено сущностей — %d", req.Holder, len(held))
		return Result{OK: true}

	default:
		return Result{Err: fmt.Errorf("неизвестный тип запроса: %d", req.Kind)}
	}
}

// heldEntity возвращает сущность запроса, проверяя владение держателем
func (a *Authority) heldEntity(req Request) (*entity.Placeable, error) {
	p, ok := a.entities.Get(req.EntityID)
	if !ok {
		return nil, fmt.Errorf("сущность %s не найдена", req.EntityID)
	}
	if p.Lifecycle() != entity.StateHeld || p.Holder() != req.Holder {
		return nil, fmt.Errorf("сущность %s не в руках %s: %w", req.EntityID, req.Holder, entity.ErrIllegalTransition)
	}
	return p, nil
}
