package postprocess

import (
	"fmt"
	"strings"
)

// COCONames lists the 80 COCO class labels in model output order.
var COCONames = [...]string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}

// ClassName returns the COCO label of class id, or "?" when out of range.
func ClassName(id int) string {
	if id < 0 || id >= len(COCONames) {
		return "?"
	}
	return COCONames[id]
}

// Summary renders detections as "name pct% (x,y) | ..." with centres in
// input pixels.
func Summary(dets []Detection, inputSize int) string {
	parts := make([]string, len(dets))
	for i, d := range dets {
		parts[i] = fmt.Sprintf("%s %d%% (%d,%d)", ClassName(d.Class), int(d.Conf*100),
			int(d.X*float32(inputSize)), int(d.Y*float32(inputSize)))
	}
	return strings.Join(parts, " | ")
}
