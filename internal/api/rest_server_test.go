package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/basecraft/internal/craft"
	"github.com/annel0/basecraft/internal/entity"
	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/mirror"
	"github.com/annel0/basecraft/internal/phase"
	"github.com/annel0/basecraft/internal/vec"
)

type apiFixture struct {
	server   *RestServer
	grid     *grid.Grid
	entities *entity.Manager
	machine  *entity.Machine
	pipeline *craft.Pipeline
	phases   *phase.Counter
	replica  *mirror.Mirror
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	cat := craft.NewCatalog()
	require.NoError(t, cat.Register(&craft.Recipe{
		ID: "foundation_test",
		Requirements: []craft.Requirement{
			{Material: "concrete", Count: 2, Tool: "trowel"},
		},
		Layer: grid.LayerFoundation,
	}))

	g := grid.New(grid.Config{Width: 8, Height: 8, CellSize: 1.0}, nil)
	mngr := entity.NewManager(nil)
	machine := entity.NewMachine(g, nil, nil)
	phases := phase.NewCounter(0)
	pl := craft.NewPipeline(g, cat, mngr, machine, phases, nil, nil)
	machine.SetAcceptor(pl)
	replica := mirror.NewMirror()

	server := NewRestServer(Config{
		Grid: g, Entities: mngr, Pipeline: pl, Phases: phases, Replica: replica,
	})
	return &apiFixture{server: server, grid: g, entities: mngr, machine: machine,
		pipeline: pl, phases: phases, replica: replica}
}

func (f *apiFixture) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	f.server.Router().ServeHTTP(w, req)

	var body map[string]interface{}
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestRestServer_Health(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestRestServer_PhaseAndStats(t *testing.T) {
	f := newAPIFixture(t)
	f.phases.Set(2)

	w, body := f.get(t, "/api/phase")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, body["phase"])

	w, body = f.get(t, "/api/stats")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["entities"])
	assert.EqualValues(t, 0, body["placed"])
}

func TestRestServer_Geometry(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.get(t, "/api/grid/geometry")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 8, body["width"])
	assert.EqualValues(t, 1.0, body["cell_size"])
}

func TestRestServer_Cell(t *testing.T) {
	f := newAPIFixture(t)
	cell := vec.Vec2{X: 1, Z: 1}

	p, err := f.entities.CreateComponent("foundation_concrete", grid.LayerFoundation, vec.Vec2Float{})
	require.NoError(t, err)
	require.NoError(t, f.machine.Grab(p, "p1"))
	require.NoError(t, f.machine.Place(p, cell))

	w, body := f.get(t, "/api/grid/cell?x=1&z=1")
	assert.Equal(t, http.StatusOK, w.Code)
	layers := body["layers"].(map[string]interface{})
	foundation := layers["foundation"].(map[string]interface{})
	assert.Equal(t, p.HandleID(), foundation["entity_id"])
	assert.Equal(t, false, foundation["refined"])

	// Недостающие параметры и выход за границы
	w, _ = f.get(t, "/api/grid/cell?x=1")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = f.get(t, "/api/grid/cell?x=100&z=100")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRestServer_CanPlace(t *testing.T) {
	f := newAPIFixture(t)

	w, body := f.get(t, "/api/grid/canplace?x=2&z=2&layer=foundation")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["can_place"])

	// Стена без укрепленного фундамента
	w, body = f.get(t, "/api/grid/canplace?x=2&z=2&layer=wall")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, body["can_place"])
	assert.NotEmpty(t, body["reason"])

	w, _ = f.get(t, "/api/grid/canplace?x=2&z=2&layer=roof")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRestServer_EntityAndBlueprints(t *testing.T) {
	f := newAPIFixture(t)
	cell := vec.Vec2{X: 3, Z: 3}

	bp, err := f.pipeline.CreateBlueprint(cell, "foundation_test", 0)
	require.NoError(t, err)

	w, body := f.get(t, "/api/blueprints")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, body = f.get(t, "/api/blueprints/"+bp.BlueprintID())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "foundation_test", body["recipe"])
	assert.Equal(t, true, body["active"])
	assert.Equal(t, false, body["completed"])

	w, _ = f.get(t, "/api/blueprints/no-such")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.get(t, "/api/entities/no-such")
	assert.Equal(t, http.StatusNotFound, w.Code)

	p, err := f.entities.CreateTool("trowel", entity.EffectProcess, vec.Vec2Float{})
	require.NoError(t, err)
	w, body = f.get(t, "/api/entities/"+p.HandleID())
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "free", body["lifecycle"])
	assert.Equal(t, true, body["grabbable"])
}

func TestRestServer_Keyframe(t *testing.T) {
	f := newAPIFixture(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/mirror/keyframe", nil)
	f.server.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/gzip", w.Header().Get("Content-Type"))
	assert.Equal(t, "0", w.Header().Get("X-Mirror-Seq"))

	// Снимок восстановим в свежую реплику
	dst := mirror.NewMirror()
	require.NoError(t, dst.Restore(w.Body.Bytes()))
}
