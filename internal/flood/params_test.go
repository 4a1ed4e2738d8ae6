package flood

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParamsClip(t *testing.T) {
	p := Params{FPS: 100, ConfWater: 2, IOUWater: -1, ConfRisk: 1.5, IOURisk: -0.5, SendMaskEvery: -3, ImgszWater: 16, ImgszRisk: 16}.Clip()

	assert.Equal(t, 30, p.FPS)
	assert.Equal(t, 1.0, p.ConfWater)
	assert.Equal(t, 0.0, p.IOUWater)
	assert.Equal(t, 1.0, p.ConfRisk)
	assert.Equal(t, 0.0, p.IOURisk)
	assert.Equal(t, 0, p.SendMaskEvery)
	assert.Equal(t, 64, p.ImgszWater)
	assert.Equal(t, 64, p.ImgszRisk)
}

func TestParamStoreUpdateFiltersWhitelist(t *testing.T) {
	store := NewParamStore(DefaultParams())

	updated := store.Update(map[string]any{
		"fps":           float64(20),
		"conf_water":    0.9,
		"not_a_field":   123,
		"send_mask_every": "not-a-number",
	})

	assert.ElementsMatch(t, []string{"fps", "conf_water"}, updated)

	snap := store.Snapshot()
	assert.Equal(t, 20, snap.FPS)
	assert.Equal(t, 0.9, snap.ConfWater)
	assert.Equal(t, DefaultParams().SendMaskEvery, snap.SendMaskEvery)
}

func TestParamStoreSnapshotNeverPartial(t *testing.T) {
	store := NewParamStore(DefaultParams())

	var wg sync.WaitGroup
	seen := make(chan Params, 2000)

	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			store.Update(map[string]any{"fps": float64(5), "conf_water": 0.1})
			store.Update(map[string]any{"fps": float64(25), "conf_water": 0.9})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			seen <- store.Snapshot()
		}
	}()
	wg.Wait()
	close(seen)

	for p := range seen {
		valid := (p.FPS == 5 && p.ConfWater == 0.1) ||
			(p.FPS == 25 && p.ConfWater == 0.9) ||
			(p.FPS == DefaultParams().FPS && p.ConfWater == DefaultParams().ConfWater)
		assert.True(t, valid, "observed a torn snapshot: %+v", p)
	}
}
