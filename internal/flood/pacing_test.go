package flood

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/technosupport/ts-vms/internal/frameio"
)

func TestApplyMaskCacheGating(t *testing.T) {
	t.Run("send_mask_every zero clears cache and never sends", func(t *testing.T) {
		loop := &PacingLoop{cachedMask: "stale"}
		result := &TickResult{}
		loop.applyMaskCache(result, Params{SendMaskEvery: 0})
		assert.Empty(t, result.Water.MaskPNGB64)
		assert.Empty(t, loop.cachedMask)
	})

	t.Run("fresh mask updates cache and is sent", func(t *testing.T) {
		loop := &PacingLoop{tickIdx: 4}
		result := &TickResult{Water: WaterResult{MaskPNGB64: "fresh"}}
		loop.applyMaskCache(result, Params{SendMaskEvery: 2})
		assert.Equal(t, "fresh", result.Water.MaskPNGB64)
		assert.Equal(t, "fresh", loop.cachedMask)
	})

	t.Run("fresh mask on an ungated tick updates cache but is not sent", func(t *testing.T) {
		loop := &PacingLoop{tickIdx: 5}
		result := &TickResult{Water: WaterResult{MaskPNGB64: "fresh"}}
		loop.applyMaskCache(result, Params{SendMaskEvery: 2})
		assert.Empty(t, result.Water.MaskPNGB64)
		assert.Equal(t, "fresh", loop.cachedMask)
	})

	t.Run("cached mask attaches only on gated ticks", func(t *testing.T) {
		loop := &PacingLoop{tickIdx: 4, cachedMask: "cached"}
		result := &TickResult{}
		loop.applyMaskCache(result, Params{SendMaskEvery: 2})
		assert.Equal(t, "cached", result.Water.MaskPNGB64)

		loop2 := &PacingLoop{tickIdx: 5, cachedMask: "cached"}
		result2 := &TickResult{}
		loop2.applyMaskCache(result2, Params{SendMaskEvery: 2})
		assert.Empty(t, result2.Water.MaskPNGB64)
	})
}

// fakeDecoder emits n empty frames then reports ok=false (EOF, no error).
type fakeDecoder struct {
	n       int
	emitted int
	fps     float64
}

func (f *fakeDecoder) NextFrame(ctx context.Context) (frame frameio.Frame, ok bool) {
	if f.emitted >= f.n {
		return frameio.Frame{}, false
	}
	idx := f.emitted
	f.emitted++
	return frameio.Frame{Img: gocv.NewMat(), Index: idx, VideoSec: float64(idx) / f.fps}, true
}
func (f *fakeDecoder) NominalFPS() float64 { return f.fps }
func (f *fakeDecoder) Err() error          { return nil }
func (f *fakeDecoder) Close() error        { return nil }

type fakeInferer struct{}

func (fakeInferer) Infer(frame gocv.Mat, params Params, needMask bool) (TickResult, error) {
	return TickResult{}, nil
}

func TestPacingLoopTickIdxMonotonic(t *testing.T) {
	dec := &fakeDecoder{n: 5, fps: 10}
	sess := &Session{ID: "s1", SourceType: SourceVideo}

	var seen []int
	send := func(v any) error {
		if m, ok := v.(map[string]any); ok {
			if tick, ok := m["tick"].(TickResult); ok {
				seen = append(seen, tick.TickIdx)
			}
		}
		return nil
	}

	loop := &PacingLoop{
		Session:  sess,
		Decoder:  dec,
		Infer:    fakeInferer{},
		Params:   NewParamStore(DefaultParams()),
		Send:     send,
		StopFlag: make(chan struct{}),
		IsHLS:    true, // avoid real wall-clock sleeps in the test
	}

	status := loop.Run(context.Background())
	require.Equal(t, StatusDone, status)
	require.Len(t, seen, 5)
	for i, idx := range seen {
		assert.Equal(t, i, idx)
	}
}
