package inference

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"gocv.io/x/gocv"
)

func TestWaterPctEmptyMaskIsZero(t *testing.T) {
	mask := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8U)
	defer mask.Close()
	assert.Equal(t, 0.0, waterPct(mask))
}

func TestWaterPctFullMaskIsHundred(t *testing.T) {
	mask := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8U)
	defer mask.Close()
	mask.SetTo(gocv.NewScalar(255, 0, 0, 0))
	assert.InDelta(t, 100.0, waterPct(mask), 0.001)
}

func TestWaterPctHalfMask(t *testing.T) {
	mask := gocv.NewMatWithSize(10, 10, gocv.MatTypeCV8U)
	defer mask.Close()
	top := mask.Region(image.Rect(0, 0, 10, 5))
	top.SetTo(gocv.NewScalar(255, 0, 0, 0))
	top.Close()
	assert.InDelta(t, 50.0, waterPct(mask), 0.001)
}

func TestMaskToPolygonsOnEmptyMaskReturnsNone(t *testing.T) {
	mask := gocv.NewMatWithSize(100, 100, gocv.MatTypeCV8U)
	defer mask.Close()
	assert.Empty(t, maskToPolygons(mask))
}

func TestMaskToPolygonsNormalisesToUnitSquare(t *testing.T) {
	const size = 100
	mask := gocv.NewMatWithSize(size, size, gocv.MatTypeCV8U)
	defer mask.Close()
	square := mask.Region(image.Rect(10, 10, 90, 90))
	square.SetTo(gocv.NewScalar(255, 0, 0, 0))
	square.Close()

	polys := maskToPolygons(mask)
	if assert.Len(t, polys, 1) {
		for _, pt := range polys[0].Outer {
			assert.GreaterOrEqual(t, pt[0], 0.0)
			assert.LessOrEqual(t, pt[0], 1.0)
			assert.GreaterOrEqual(t, pt[1], 0.0)
			assert.LessOrEqual(t, pt[1], 1.0)
		}
	}
}
