package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, dir string) *WorldStore {
	t.Helper()
	ws, err := NewWorldStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestWorldStore_SaveLoadRoundtrip(t *testing.T) {
	dir := t.TempDir()
	ws := openTestStore(t, dir)

	snap := &WorldSnapshot{
		Phase: 2,
		Placements: []PlacementRecord{
			{EntityID: "f1", Template: "foundation_concrete", X: 0, Z: 0, Layer: 0, Refinement: "refined", Kind: "placed"},
			{EntityID: "s1", Template: "material_steel", X: 0, Z: 0, Layer: 1, Refinement: "raw", Kind: "raw", StackIndex: 0},
		},
		Blueprints: []*ProgressRecord{sampleRecord("bp-1")},
	}
	require.NoError(t, ws.SaveSnapshot(snap))

	loaded, err := ws.LoadSnapshot()
	require.NoError(t, err)
	assert.EqualValues(t, 2, loaded.Phase)
	require.Len(t, loaded.Placements, 2)
	require.Len(t, loaded.Blueprints, 1)
	assert.Equal(t, "wall_reinforced", loaded.Blueprints[0].RecipeID)
	assert.Equal(t, 1, loaded.Blueprints[0].Processed["steel"])

	byID := map[string]PlacementRecord{}
	for _, p := range loaded.Placements {
		byID[p.EntityID] = p
	}
	assert.Equal(t, "refined", byID["f1"].Refinement)
	assert.Equal(t, "raw", byID["s1"].Kind)
}

func TestWorldStore_LoadPreservesStackOrder(t *testing.T) {
	ws := openTestStore(t, t.TempDir())

	// ID подобраны так, что лексикографический порядок ключей BadgerDB
	// обратен порядку в стопке.
	snap := &WorldSnapshot{
		Placements: []PlacementRecord{
			{EntityID: "zzz", Template: "material_concrete", X: 3, Z: 4, Layer: 0, Refinement: "raw", Kind: "raw", StackIndex: 0},
			{EntityID: "mmm", Template: "material_concrete", X: 3, Z: 4, Layer: 0, Refinement: "raw", Kind: "raw", StackIndex: 1},
			{EntityID: "aaa", Template: "material_concrete", X: 3, Z: 4, Layer: 0, Refinement: "raw", Kind: "raw", StackIndex: 2},
		},
	}
	require.NoError(t, ws.SaveSnapshot(snap))

	loaded, err := ws.LoadSnapshot()
	require.NoError(t, err)
	require.Len(t, loaded.Placements, 3)

	order := make([]int, 0, 3)
	ids := make([]string, 0, 3)
	for _, p := range loaded.Placements {
		order = append(order, p.StackIndex)
		ids = append(ids, p.EntityID)
	}
	assert.Equal(t, []int{0, 1, 2}, order, "Порядок стопки восстанавливается по StackIndex")
	assert.Equal(t, []string{"zzz", "mmm", "aaa"}, ids)
}

func TestWorldStore_LoadOrdersPlacedBeforeRaw(t *testing.T) {
	ws := openTestStore(t, t.TempDir())

	snap := &WorldSnapshot{
		Placements: []PlacementRecord{
			{EntityID: "b-raw", Template: "material_steel", X: 1, Z: 1, Layer: 1, Refinement: "raw", Kind: "raw", StackIndex: 0},
			{EntityID: "a-fnd", Template: "foundation_concrete", X: 1, Z: 1, Layer: 0, Refinement: "refined", Kind: "placed"},
		},
	}
	require.NoError(t, ws.SaveSnapshot(snap))

	loaded, err := ws.LoadSnapshot()
	require.NoError(t, err)
	require.Len(t, loaded.Placements, 2)
	assert.Equal(t, "placed", loaded.Placements[0].Kind, "Занятые слои идут раньше стопок сырья")
	assert.Equal(t, "raw", loaded.Placements[1].Kind)
}

func TestWorldStore_SnapshotReplacesPrevious(t *testing.T) {
	ws := openTestStore(t, t.TempDir())

	require.NoError(t, ws.SaveSnapshot(&WorldSnapshot{
		Phase: 0,
		Placements: []PlacementRecord{
			{EntityID: "old", Template: "foundation_concrete", Kind: "placed"},
		},
	}))
	require.NoError(t, ws.SaveSnapshot(&WorldSnapshot{
		Phase: 1,
		Placements: []PlacementRecord{
			{EntityID: "new", Template: "wall_steel", Kind: "placed"},
		},
	}))

	loaded, err := ws.LoadSnapshot()
	require.NoError(t, err)
	require.Len(t, loaded.Placements, 1, "Снимок — источник истины, старые записи уходят")
	assert.Equal(t, "new", loaded.Placements[0].EntityID)
	assert.EqualValues(t, 1, loaded.Phase)
}

func TestWorldStore_EmptyLoad(t *testing.T) {
	ws := openTestStore(t, t.TempDir())

	snap, err := ws.LoadSnapshot()
	require.NoError(t, err)
	assert.Empty(t, snap.Placements, "Пустое хранилище дает пустой снимок")
	assert.Empty(t, snap.Blueprints)
	assert.Zero(t, snap.Phase)

	assert.NoError(t, ws.RunGC(), "Сборка мусора пустого хранилища не ошибка")
}

func TestWorldStore_ClosedRejectsOperations(t *testing.T) {
	ws := openTestStore(t, t.TempDir())
	require.NoError(t, ws.Close())

	assert.Error(t, ws.SaveSnapshot(&WorldSnapshot{}))
	_, err := ws.LoadSnapshot()
	assert.Error(t, err)
	assert.NoError(t, ws.Close(), "Повторное закрытие — no-op")
}
