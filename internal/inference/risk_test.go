package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassIndexToLevel(t *testing.T) {
	assert.Equal(t, 0, classIndexToLevel(0, 5))
	assert.Equal(t, 5, classIndexToLevel(4, 5))
	assert.Equal(t, 3, classIndexToLevel(2, 5)) // 2*5/4 = 2.5 -> rounds to 3
}

func TestLevelForDetectionKnownClassName(t *testing.T) {
	d := rawDetection{ClassName: "high", ClassIndex: 1}
	assert.Equal(t, 5, levelForDetection(d, 10))
}

func TestLevelForDetectionUnknownClassNameFallsBackToIndex(t *testing.T) {
	d := rawDetection{ClassName: "submerged_car", ClassIndex: 4}
	assert.Equal(t, classIndexToLevel(4, 5), levelForDetection(d, 5))
}

func TestBuildDetectionSetMaxLevel(t *testing.T) {
	dets := []rawDetection{
		{ClassName: "low", Box: [4]float64{0, 0, 0.1, 0.1}},
		{ClassName: "critical", Box: [4]float64{0.2, 0.2, 0.3, 0.3}},
		{ClassName: "medium", Box: [4]float64{0.4, 0.4, 0.5, 0.5}},
	}
	set, max := buildDetectionSet(dets, 5)
	assert.Equal(t, 5, max)
	assert.Equal(t, 5, set.LevelMax)
	assert.Equal(t, []int{1, 5, 3}, set.Levels)
	assert.Len(t, set.BoxesNorm, 3)
}

func TestFrameLevelIsMaxOrZero(t *testing.T) {
	assert.Equal(t, 0, frameLevel())
	assert.Equal(t, 0, frameLevel(0, 0))
	assert.Equal(t, 4, frameLevel(1, 4, 2))
}
