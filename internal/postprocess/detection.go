// Package postprocess turns raw detection-head tensors into a final list of
// boxes: anchor decoding, confidence sort, greedy IoU suppression, and the
// compact wire and serial encodings of the result.
package postprocess

import (
	"cmp"
	"slices"
)

// Detection is one candidate box. Coordinates are centre-format and
// normalised by the input size.
type Detection struct {
	X, Y, W, H float32
	Class      int
	Conf       float32
}

// SortByConfidence orders dets by descending confidence. Equal confidences
// keep their decode order.
func SortByConfidence(dets []Detection) {
	slices.SortStableFunc(dets, func(a, b Detection) int {
		return cmp.Compare(b.Conf, a.Conf)
	})
}

// IoU returns the intersection over union of two centre-format boxes. A pair
// whose union has no area yields 0.
func IoU(a, b Detection) float32 {
	ax1, ay1, ax2, ay2 := a.X-a.W/2, a.Y-a.H/2, a.X+a.W/2, a.Y+a.H/2
	bx1, by1, bx2, by2 := b.X-b.W/2, b.Y-b.H/2, b.X+b.W/2, b.Y+b.H/2

	iw := min(ax2, bx2) - max(ax1, bx1)
	ih := min(ay2, by2) - max(ay1, by1)
	if iw <= 0 || ih <= 0 {
		return 0
	}
	inter := iw * ih
	union := a.W*a.H + b.W*b.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NMS performs greedy class-agnostic suppression over candidates that are
// already sorted by descending confidence.
//
// A candidate is accepted when its IoU with every previously accepted box is
// below threshold. Scanning stops once maxCount boxes are accepted. The input
// is not modified; the result is a fresh slice.
func NMS(sorted []Detection, threshold float32, maxCount int) []Detection {
	kept := make([]Detection, 0, min(len(sorted), max(maxCount, 0)))
	for _, cand := range sorted {
		if len(kept) >= maxCount {
			break
		}
		suppressed := false
		for _, k := range kept {
			if IoU(cand, k) >= threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, cand)
		}
	}
	return kept
}
