package postprocess

import (
	"fmt"
	"math"

	"github.com/born-ml/yolo/internal/config"
	"github.com/born-ml/yolo/internal/tensor"
)

// Params configures Decode.
type Params struct {
	InputSize  int
	NumClasses int
	Threshold  float32
	MaxCount   int
	Strides    [config.NumScales]float32
	Anchors    [config.NumScales][config.NumAnchors][2]float32
}

// ParamsFromConfig copies the decode-relevant fields of cfg.
func ParamsFromConfig(cfg config.Config) Params {
	return Params{
		InputSize:  cfg.InputSize,
		NumClasses: cfg.NumClasses,
		Threshold:  cfg.ConfThreshold,
		MaxCount:   cfg.MaxDetections,
		Strides:    cfg.Strides,
		Anchors:    cfg.Anchors,
	}
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// Decode converts the three detection-head outputs into candidates.
//
// Each head is [1, NumAnchors*(5+NumClasses), gh, gw]; anchor a owns the
// channel block starting at a*(5+NumClasses), ordered tx, ty, tw, th,
// objectness, then class logits. For grid cell (row, col) of head s:
//
//	cx   = (2*sigmoid(tx) - 0.5 + col) * stride[s]
//	cy   = (2*sigmoid(ty) - 0.5 + row) * stride[s]
//	w    = (2*sigmoid(tw))^2 * anchor[s][a].w
//	h    = (2*sigmoid(th))^2 * anchor[s][a].h
//	conf = sigmoid(obj) * max_c sigmoid(cls_c)
//
// Candidates with conf >= Threshold are emitted, normalised by InputSize, in
// head, anchor, row, column order. Decoding stops at MaxCount candidates.
func Decode(heads []tensor.View, p Params) ([]Detection, error) {
	if len(heads) != config.NumScales {
		return nil, fmt.Errorf("decode: expected %d heads, got %d", config.NumScales, len(heads))
	}
	per := 5 + p.NumClasses
	for s, h := range heads {
		if h.Shape.N != 1 || h.Shape.C != config.NumAnchors*per {
			return nil, fmt.Errorf("decode: head %d shape %v, expected [1,%d,H,W]", s, h.Shape, config.NumAnchors*per)
		}
		if len(h.Data) < h.Shape.NumElements() {
			return nil, fmt.Errorf("decode: head %d buffer too short", s)
		}
		if grid := float32(h.Shape.H) * p.Strides[s]; grid != float32(p.InputSize) || h.Shape.W != h.Shape.H {
			return nil, fmt.Errorf("decode: head %d grid %dx%d at stride %v does not cover input %d",
				s, h.Shape.H, h.Shape.W, p.Strides[s], p.InputSize)
		}
	}

	inv := 1 / float32(p.InputSize)
	dets := make([]Detection, 0, min(p.MaxCount, 1024))
	for s, head := range heads {
		stride := p.Strides[s]
		for a := 0; a < config.NumAnchors; a++ {
			base := a * per
			tx, ty := head.Channel(0, base), head.Channel(0, base+1)
			tw, th := head.Channel(0, base+2), head.Channel(0, base+3)
			obj := head.Channel(0, base+4)
			aw, ah := p.Anchors[s][a][0], p.Anchors[s][a][1]

			for row := 0; row < head.Shape.H; row++ {
				for col := 0; col < head.Shape.W; col++ {
					if len(dets) >= p.MaxCount {
						return dets, nil
					}
					i := row*head.Shape.W + col

					best, bestCls := float32(math.Inf(-1)), 0
					for c := 0; c < p.NumClasses; c++ {
						if v := head.Channel(0, base+5+c)[i]; v > best {
							best, bestCls = v, c
						}
					}
					conf := sigmoid(obj[i]) * sigmoid(best)
					if conf < p.Threshold {
						continue
					}

					sw, sh := 2*sigmoid(tw[i]), 2*sigmoid(th[i])
					dets = append(dets, Detection{
						X:     (2*sigmoid(tx[i]) - 0.5 + float32(col)) * stride * inv,
						Y:     (2*sigmoid(ty[i]) - 0.5 + float32(row)) * stride * inv,
						W:     sw * sw * aw * inv,
						H:     sh * sh * ah * inv,
						Class: bestCls,
						Conf:  conf,
					})
				}
			}
		}
	}
	return dets, nil
}

// Run decodes, sorts and suppresses in one step.
func Run(heads []tensor.View, p Params, iouThreshold float32) ([]Detection, int, error) {
	cands, err := Decode(heads, p)
	if err != nil {
		return nil, 0, err
	}
	SortByConfidence(cands)
	return NMS(cands, iouThreshold, p.MaxCount), len(cands), nil
}
