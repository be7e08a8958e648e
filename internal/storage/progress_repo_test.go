package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(id string) *ProgressRecord {
	return &ProgressRecord{
		BlueprintID:   id,
		RecipeID:      "wall_reinforced",
		X:             2,
		Z:             3,
		Layer:         1,
		RequiredPhase: 1,
		Processed:     map[string]int{"steel": 1},
	}
}

func TestMemoryProgressRepo_SaveLoad(t *testing.T) {
	repo := NewMemoryProgressRepo()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, sampleRecord("bp-1")))

	rec, found, err := repo.Load(ctx, "bp-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "wall_reinforced", rec.RecipeID)
	assert.Equal(t, 1, rec.Processed["steel"])

	_, found, err = repo.Load(ctx, "no-such")
	require.NoError(t, err)
	assert.False(t, found, "Отсутствующая запись — не ошибка")
}

func TestMemoryProgressRepo_CloneIsolation(t *testing.T) {
	repo := NewMemoryProgressRepo()
	ctx := context.Background()

	src := sampleRecord("bp-1")
	require.NoError(t, repo.Save(ctx, src))

	// Мутация исходника после сохранения не видна хранилищу
	src.Processed["steel"] = 99
	rec, _, err := repo.Load(ctx, "bp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Processed["steel"], "Хранилище не разделяет карту с вызывающим")

	// И наоборот
	rec.Processed["steel"] = 77
	rec2, _, err := repo.Load(ctx, "bp-1")
	require.NoError(t, err)
	assert.Equal(t, 1, rec2.Processed["steel"])
}

func TestMemoryProgressRepo_Validation(t *testing.T) {
	repo := NewMemoryProgressRepo()
	ctx := context.Background()

	assert.Error(t, repo.Save(ctx, nil))
	assert.Error(t, repo.Save(ctx, &ProgressRecord{}))
	_, _, err := repo.Load(ctx, "")
	assert.Error(t, err)
	assert.Error(t, repo.Delete(ctx, "no-such"))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, repo.Save(cancelled, sampleRecord("bp-1")), context.Canceled)
}

func TestMemoryProgressRepo_BatchSaveLoadAll(t *testing.T) {
	repo := NewMemoryProgressRepo()
	ctx := context.Background()

	records := []*ProgressRecord{sampleRecord("bp-1"), sampleRecord("bp-2"), sampleRecord("bp-3")}
	require.NoError(t, repo.BatchSave(ctx, records))
	assert.Equal(t, 3, repo.Count())

	// Batch с недействительной записью отклоняется целиком
	assert.Error(t, repo.BatchSave(ctx, []*ProgressRecord{sampleRecord("bp-4"), nil}))
	assert.Equal(t, 3, repo.Count(), "Частичная запись batch'а не происходит")

	all, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, repo.Delete(ctx, "bp-2"))
	assert.Equal(t, 2, repo.Count())

	repo.Clear()
	assert.Zero(t, repo.Count())
}
