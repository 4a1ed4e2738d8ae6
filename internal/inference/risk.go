package inference

import "github.com/technosupport/ts-vms/internal/flood"

// riskClassLevels maps a detection class name directly to a risk level
// (spec §4.4.2); class names outside this set fall back to a linear
// mapping of their class index into [0,5].
var riskClassLevels = map[string]int{
	"low":       1,
	"medium":    3,
	"high":      5,
	"very_high": 5,
	"critical":  5,
}

// classIndexToLevel linearly maps a class index idx in [0, numClasses-1]
// into the integer range [0,5], rounding to nearest.
func classIndexToLevel(idx, numClasses int) int {
	if numClasses < 2 {
		return 0
	}
	scaled := float64(idx) * 5.0 / float64(numClasses-1)
	return int(scaled + 0.5)
}

// rawDetection is one candidate box from the risk model's detection head,
// before level assignment.
type rawDetection struct {
	ClassName  string
	ClassIndex int
	Box        [4]float64 // x1,y1,x2,y2 normalised
}

// levelForDetection resolves a single box's risk level per spec §4.4.2.
func levelForDetection(d rawDetection, numClasses int) int {
	if lv, ok := riskClassLevels[d.ClassName]; ok {
		return lv
	}
	return classIndexToLevel(d.ClassIndex, numClasses)
}

// buildDetectionSet converts decoded boxes into the wire DetectionSet,
// returning the per-frame maximum level alongside it.
func buildDetectionSet(dets []rawDetection, numClasses int) (flood.DetectionSet, int) {
	set := flood.DetectionSet{}
	maxLevel := 0
	for _, d := range dets {
		lv := levelForDetection(d, numClasses)
		set.Levels = append(set.Levels, lv)
		set.BoxesNorm = append(set.BoxesNorm, [5]float64{d.Box[0], d.Box[1], d.Box[2], d.Box[3], float64(lv)})
		if lv > maxLevel {
			maxLevel = lv
		}
	}
	set.LevelMax = maxLevel
	return set, maxLevel
}

// classificationLevel maps a top-1 class index into [0,5] (spec §4.4.2.a).
func classificationLevel(top1 int, numClasses int) int {
	return classIndexToLevel(top1, numClasses)
}

// frameLevel is the maximum of whichever sub-levels are present; 0 if none.
func frameLevel(levels ...int) int {
	max := 0
	for _, lv := range levels {
		if lv > max {
			max = lv
		}
	}
	return max
}
