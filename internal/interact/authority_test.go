package interact

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/basecraft/internal/entity"
	"github.com/annel0/basecraft/internal/grid"
	"github.com/annel0/basecraft/internal/vec"
)

func startAuthority(t *testing.T, f *resolverFixture) *Authority {
	t.Helper()
	a := NewAuthority(f.resolver, f.entities, 64)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go a.Run(ctx)
	return a
}

func TestAuthority_ConcurrentGrab_SingleWinner(t *testing.T) {
	f := newResolverFixture(t)
	a := startAuthority(t, f)

	_, err := f.entities.CreateTool("welder", entity.EffectProcess, vec.Vec2Float{X: 1, Z: 1})
	require.NoError(t, err)

	const contenders = 8
	results := make([]Result, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := a.Submit(context.Background(), Request{
				Kind:   RequestGrab,
				Holder: entity.HolderID("p" + strconv.Itoa(i)),
				Pos:    vec.Vec2Float{X: 1.2, Z: 1.2},
			})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, res := range results {
		if res.OK {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "Гонка за одну сущность дает ровно одного победителя")
}

func TestAuthority_GrabPlaceRoundtrip(t *testing.T) {
	f := newResolverFixture(t)
	a := startAuthority(t, f)
	ctx := context.Background()

	p, err := f.entities.CreateComponent("foundation_concrete", grid.LayerFoundation, vec.Vec2Float{X: 2.5, Z: 2.5})
	require.NoError(t, err)

	res, err := a.Submit(ctx, Request{Kind: RequestGrab, Holder: "p1", Pos: vec.Vec2Float{X: 2.5, Z: 2.5}})
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, p.HandleID(), res.EntityID)

	// Размещение в выведенную из позиции и поворота ячейку
	res, err = a.Submit(ctx, Request{
		Kind: RequestPlace, Holder: "p1", EntityID: p.HandleID(),
		Pos: vec.Vec2Float{X: 2.5, Z: 2.5}, YawDeg: 0,
	})
	require.NoError(t, err)
	require.True(t, res.OK)
	assert.Equal(t, entity.StatePlaced, p.Lifecycle())

	cell, _, placed := p.Cell()
	require.True(t, placed)
	assert.Equal(t, vec.Vec2{X: 2, Z: 3}, cell, "Целевая ячейка — точка удержания перед игроком")
}

func TestAuthority_Drop_ChecksOwnership(t *testing.T) {
	f := newResolverFixture(t)
	a := startAuthority(t, f)
	ctx := context.Background()

	p, err := f.entities.CreateTool("welder", entity.EffectProcess, vec.Vec2Float{})
	require.NoError(t, err)
	require.NoError(t, f.machine.Grab(p, "p1"))

	// Чужой держатель не может выпустить сущность
	res, err := a.Submit(ctx, Request{Kind: RequestDrop, Holder: "p2", EntityID: p.HandleID()})
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.ErrorIs(t, res.Err, entity.ErrIllegalTransition)
	assert.Equal(t, entity.StateHeld, p.Lifecycle())

	res, err = a.Submit(ctx, Request{Kind: RequestDrop, Holder: "p1", EntityID: p.HandleID()})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, entity.StateFree, p.Lifecycle())
}

func TestAuthority_Disconnect_ReleasesHeld(t *testing.T) {
	f := newResolverFixture(t)
	a := startAuthority(t, f)
	ctx := context.Background()

	var held []*entity.Placeable
	for i := 0; i < 3; i++ {
		p, err := f.entities.CreateTool("welder", entity.EffectProcess, vec.Vec2Float{})
		require.NoError(t, err)
		require.NoError(t, f.machine.Grab(p, "p1"))
		held = append(held, p)
	}
	other, err := f.entities.CreateTool("trowel", entity.EffectProcess, vec.Vec2Float{})
	require.NoError(t, err)
	require.NoError(t, f.machine.Grab(other, "p2"))

	res, err := a.Submit(ctx, Request{Kind: RequestDisconnect, Holder: "p1"})
	require.NoError(t, err)
	require.True(t, res.OK)

	for _, p := range held {
		assert.Equal(t, entity.StateFree, p.Lifecycle(), "Обрыв выпускает все сущности держателя")
	}
	assert.Equal(t, entity.StateHeld, other.Lifecycle(), "Чужие сущности не затрагиваются")
}

func TestAuthority_Submit_ContextCancelled(t *testing.T) {
	f := newResolverFixture(t)
	a := NewAuthority(f.resolver, f.entities, 1)
	// Run не запущен: очередь никогда не читается

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Первый запрос помещается в буфер и ждет ответа, второй — места
	// в очереди; оба завершаются отменой контекста.
	_, err := a.Submit(ctx, Request{Kind: RequestGrab, Holder: "p1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, err = a.Submit(ctx, Request{Kind: RequestGrab, Holder: "p1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
