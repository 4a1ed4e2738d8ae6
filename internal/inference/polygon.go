package inference

import (
	"image"

	"gocv.io/x/gocv"
	"github.com/technosupport/ts-vms/internal/flood"
)

const (
	minAreaPx  = 64
	epsilonPx  = 2.0
	maxMaskDim = 640
)

// maskToPolygons extracts the external contours of mask (a single-channel
// 0/255 image) and their immediate hole children, discards rings whose
// pixel area is below minAreaPx, simplifies each ring with epsilonPx, and
// normalises coordinates by the mask's own dimensions (spec §3, §4.4.3).
func maskToPolygons(mask gocv.Mat) []flood.Polygon {
	h, w := mask.Rows(), mask.Cols()
	if h == 0 || w == 0 {
		return nil
	}

	hierarchy := gocv.NewMat()
	defer hierarchy.Close()

	contours := gocv.FindContoursWithParams(mask, &hierarchy, gocv.RetrievalCComp, gocv.ChainApproxSimple)
	defer contours.Close()

	n := contours.Size()
	if n == 0 {
		return nil
	}
	// hierarchy is a 1xNx4 Mat: [next, prev, child, parent] per contour.
	flat := hierarchy.Reshape(1, n)

	var polys []flood.Polygon
	for i := 0; i < n; i++ {
		parent := flat.GetIntAt(i, 3)
		if parent != -1 {
			continue // not an outer ring
		}
		cnt := contours.At(i)
		if gocv.ContourArea(cnt) < minAreaPx {
			continue
		}
		outer := simplifyRing(cnt, w, h)
		if len(outer) < 3 {
			continue
		}

		var holes [][][2]float64
		for j := 0; j < n; j++ {
			if flat.GetIntAt(j, 3) != i {
				continue
			}
			hole := contours.At(j)
			if gocv.ContourArea(hole) < minAreaPx {
				continue
			}
			ring := simplifyRing(hole, w, h)
			if len(ring) >= 3 {
				holes = append(holes, ring)
			}
		}

		polys = append(polys, flood.Polygon{Outer: outer, Holes: holes})
	}
	return polys
}

func simplifyRing(cnt gocv.PointVector, w, h int) [][2]float64 {
	simplified := gocv.ApproxPolyDP(cnt, epsilonPx, true)
	defer simplified.Close()

	pts := simplified.ToPoints()
	ring := make([][2]float64, 0, len(pts))
	for _, p := range pts {
		ring = append(ring, [2]float64{float64(p.X) / float64(w), float64(p.Y) / float64(h)})
	}
	return ring
}

// waterPct returns the percentage of pixels classified as water.
func waterPct(mask gocv.Mat) float64 {
	total := mask.Rows() * mask.Cols()
	if total == 0 {
		return 0
	}
	nonZero := gocv.CountNonZero(mask)
	return float64(nonZero) / float64(total) * 100.0
}

// encodeMaskPNG downsamples mask (nearest-neighbour) so its longest side is
// at most maxMaskDim, PNG-encodes it at a light compression level, and
// returns the raw bytes (base64-encoding is the caller's concern).
func encodeMaskPNG(mask gocv.Mat) ([]byte, error) {
	h, w := mask.Rows(), mask.Cols()
	longest := w
	if h > longest {
		longest = h
	}

	resized := mask
	owns := false
	if longest > maxMaskDim {
		scale := float64(maxMaskDim) / float64(longest)
		dst := gocv.NewMat()
		gocv.Resize(mask, &dst, image.Pt(int(float64(w)*scale), int(float64(h)*scale)), 0, 0, gocv.InterpolationNearestNeighbor)
		resized = dst
		owns = true
	}
	if owns {
		defer resized.Close()
	}

	buf, err := gocv.IMEncodeWithParams(gocv.PNGFileExt, resized, []int{gocv.IMWritePngCompression, 3})
	if err != nil {
		return nil, err
	}
	defer buf.Close()
	return buf.GetBytes(), nil
}
