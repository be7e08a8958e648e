package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/basecraft/internal/craft"
	"github.com/annel0/basecraft/internal/entity"
	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/logging"
	"github.com/annel0/basecraft/internal/middleware"
	"github.com/annel0/basecraft/internal/mirror"
	"github.com/annel0/basecraft/internal/phase"
	"github.com/annel0/basecraft/internal/vec"
)

// RestServer — REST API для чтения состояния симуляции.
// Все мутации идут только через авторитетный цикл; HTTP-поверхность
// отдаёт состояние и диагностические снимки, ничего не меняя.
type RestServer struct {
	router   *gin.Engine
	grid     *grid.Grid
	entities *entity.Manager
	pipeline *craft.Pipeline
	phases   phase.Source
	replica  *mirror.Mirror
	port     string
}

// Config содержит зависимости REST сервера.
type Config struct {
	Port     string // порт для запуска сервера, например ":8088"
	Grid     *grid.Grid
	Entities *entity.Manager
	Pipeline *craft.Pipeline
	Phases   phase.Source
	Replica  *mirror.Mirror // может быть nil, тогда /mirror недоступен
}

// NewRestServer создает новый REST API сервер.
func NewRestServer(cfg Config) *RestServer {
	if cfg.Port == "" {
		cfg.Port = ":8088"
	}

	// Устанавливаем режим релиза для gin
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	router.Use(otelgin.Middleware("rest_api"))

	promMw := middleware.NewPrometheusMiddleware("rest_api")
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router)

	server := &RestServer{
		router:   router,
		grid:     cfg.Grid,
		entities: cfg.Entities,
		pipeline: cfg.Pipeline,
		phases:   cfg.Phases,
		replica:  cfg.Replica,
		port:     cfg.Port,
	}

	server.setupRoutes()
	return server
}

// Start запускает HTTP-сервер (блокирующий вызов).
func (rs *RestServer) Start() error {
	logging.Info("🌐 REST API запущен на %s", rs.port)
	return rs.router.Run(rs.port)
}

// Router возвращает gin.Engine (для тестов через httptest).
func (rs *RestServer) Router() *gin.Engine {
	return rs.router
}

// setupRoutes настраивает маршруты REST API.
func (rs *RestServer) setupRoutes() {
	rs.router.GET("/health", rs.handleHealth)

	api := rs.router.Group("/api")
	{
		api.GET("/phase", rs.handlePhase)
		api.GET("/stats", rs.handleStats)

		g := api.Group("/grid")
		{
			g.GET("/geometry", rs.handleGeometry)
			g.GET("/cell", rs.handleCell)
			g.GET("/canplace", rs.handleCanPlace)
		}

		api.GET("/entities/:id", rs.handleEntity)
		api.GET("/blueprints", rs.handleBlueprints)
		api.GET("/blueprints/:id", rs.handleBlueprint)

		if rs.replica != nil {
			api.GET("/mirror/keyframe", rs.handleKeyframe)
		}
	}
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (rs *RestServer) handlePhase(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"phase": int32(rs.phases.Current())})
}

func (rs *RestServer) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"entities": rs.entities.Count(),
		"placed":   rs.grid.PlacedCount(),
		"phase":    int32(rs.phases.Current()),
	})
}

func (rs *RestServer) handleGeometry(c *gin.Context) {
	geo := rs.grid.Geometry()
	c.JSON(http.StatusOK, gin.H{
		"min_x":     geo.MinX,
		"min_z":     geo.MinZ,
		"width":     geo.Width,
		"height":    geo.Height,
		"cell_size": geo.CellSize,
	})
}

// parseCell извлекает параметры запроса x и z.
func parseCell(c *gin.Context) (vec.Vec2, bool) {
	x, errX := strconv.Atoi(c.Query("x"))
	z, errZ := strconv.Atoi(c.Query("z"))
	if errX != nil || errZ != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "параметры x и z обязательны"})
		return vec.Vec2{}, false
	}
	return vec.Vec2{X: x, Z: z}, true
}

func (rs *RestServer) handleCell(c *gin.Context) {
	cell, ok := parseCell(c)
	if !ok {
		return
	}
	if !rs.grid.IsInBounds(cell) {
		c.JSON(http.StatusNotFound, gin.H{"error": "ячейка вне границ уровня"})
		return
	}

	layers := gin.H{}
	for occLayer, occ := range rs.grid.AllOccupantsAt(cell) {
		layers[occLayer.String()] = gin.H{
			"entity_id": occ.HandleID(),
			"refined":   occ.IsRefined(),
		}
	}

	raw := gin.H{}
	for _, layer := range grid.InteractionPriority {
		stack := rs.grid.RawStack(cell, layer)
		if len(stack) == 0 {
			continue
		}
		ids := make([]string, 0, len(stack))
		for _, occ := range stack {
			ids = append(ids, occ.HandleID())
		}
		raw[layer.String()] = ids
	}

	resp := gin.H{
		"cell":   gin.H{"x": cell.X, "z": cell.Z},
		"layers": layers,
		"raw":    raw,
	}
	if bp, ok := rs.grid.ActiveBlueprintAt(cell); ok {
		resp["active_blueprint"] = bp.BlueprintID()
	}

	c.JSON(http.StatusOK, resp)
}

func (rs *RestServer) handleCanPlace(c *gin.Context) {
	cell, ok := parseCell(c)
	if !ok {
		return
	}
	layer, err := grid.ParseLayer(c.Query("layer"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("недействительный слой: %v", err)})
		return
	}

	if err := rs.grid.CanPlace(cell, layer); err != nil {
		c.JSON(http.StatusOK, gin.H{"can_place": false, "reason": err.Error()})
		return
	}
	if layer.RequiresFoundation() && !rs.grid.DependencyHolds(cell, layer) {
		c.JSON(http.StatusOK, gin.H{"can_place": false, "reason": grid.ErrMissingDependency.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"can_place": true})
}

func (rs *RestServer) handleEntity(c *gin.Context) {
	p, ok := rs.entities.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "сущность не найдена"})
		return
	}

	resp := gin.H{
		"id":         p.HandleID(),
		"lifecycle":  p.Lifecycle().String(),
		"refinement": p.Refinement().String(),
		"grabbable":  p.CanBeGrabbed(),
	}
	if holder := p.Holder(); holder != "" {
		resp["holder"] = string(holder)
	}
	if cell, layer, placed := p.Cell(); placed {
		resp["cell"] = gin.H{"x": cell.X, "z": cell.Z, "layer": layer.String()}
	}

	c.JSON(http.StatusOK, resp)
}

func (rs *RestServer) handleBlueprints(c *gin.Context) {
	var list []gin.H
	rs.pipeline.ForEachBlueprint(func(bp *craft.Blueprint) {
		list = append(list, rs.blueprintJSON(bp))
	})
	c.JSON(http.StatusOK, gin.H{"blueprints": list, "count": len(list)})
}

func (rs *RestServer) handleBlueprint(c *gin.Context) {
	bp, ok := rs.pipeline.BlueprintByID(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "чертёж не найден"})
		return
	}
	c.JSON(http.StatusOK, rs.blueprintJSON(bp))
}

func (rs *RestServer) blueprintJSON(bp *craft.Blueprint) gin.H {
	cell, layer := bp.Cell()

	processed := gin.H{}
	for mat, n := range bp.ProcessedCounts() {
		processed[string(mat)] = n
	}

	out := gin.H{
		"id":             bp.BlueprintID(),
		"recipe":         bp.Recipe().ID,
		"cell":           gin.H{"x": cell.X, "z": cell.Z, "layer": layer.String()},
		"required_phase": int32(bp.RequiredPhase()),
		"processed":      processed,
		"completed":      bp.IsCompleted(),
		"active":         bp.IsActiveInCurrentPhase(),
	}
	if id := bp.ResultID(); id != "" {
		out["result_id"] = id
	}
	return out
}

func (rs *RestServer) handleKeyframe(c *gin.Context) {
	snap, err := rs.replica.Snapshot()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("X-Mirror-Seq", strconv.FormatUint(rs.replica.LastSeq(), 10))
	c.Data(http.StatusOK, "application/gzip", snap)
}
