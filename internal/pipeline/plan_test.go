package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/yolo/internal/tensor"
)

func TestNewPlan_Shapes(t *testing.T) {
	p, err := NewPlan(640, 80)
	require.NoError(t, err)
	require.Len(t, p.Stages, NumStages)

	want := map[int]tensor.Shape{
		0:  tensor.NCHW(1, 16, 320, 320),
		1:  tensor.NCHW(1, 32, 160, 160),
		2:  tensor.NCHW(1, 32, 160, 160),
		4:  tensor.NCHW(1, 64, 80, 80),
		6:  tensor.NCHW(1, 128, 40, 40),
		9:  tensor.NCHW(1, 256, 20, 20),
		10: tensor.NCHW(1, 128, 20, 20),
		11: tensor.NCHW(1, 128, 40, 40),
		12: tensor.NCHW(1, 256, 40, 40),
		15: tensor.NCHW(1, 64, 80, 80),
		16: tensor.NCHW(1, 128, 80, 80),
		17: tensor.NCHW(1, 64, 80, 80),
		19: tensor.NCHW(1, 128, 40, 40),
		22: tensor.NCHW(1, 256, 20, 20),
		23: tensor.NCHW(1, 256, 20, 20),
	}
	for i, s := range want {
		assert.Equal(t, s, p.Stages[i].Out[0], "stage %d", i)
	}

	heads := p.HeadShapes()
	assert.Equal(t, tensor.NCHW(1, 255, 80, 80), heads[0])
	assert.Equal(t, tensor.NCHW(1, 255, 40, 40), heads[1])
	assert.Equal(t, tensor.NCHW(1, 255, 20, 20), heads[2])
	assert.Equal(t, tensor.NCHW(1, 3, 640, 640), p.Stages[0].In[0])
}

func TestNewPlan_ReleaseLists(t *testing.T) {
	p, err := NewPlan(640, 80)
	require.NoError(t, err)

	want := [NumStages][]int{
		1: {0}, 2: {1}, 3: {2}, 4: {3},
		6:  {5},
		8:  {7},
		9:  {8},
		10: {9},
		12: {11, 6},
		13: {12},
		14: {13},
		16: {15, 4},
		17: {16},
		19: {18, 14},
		20: {19},
		22: {21, 10},
		23: {22},
		24: {17, 20, 23},
	}
	for i, st := range p.Stages {
		assert.Equal(t, want[i], st.Release, "stage %s", st.Name)
	}
}

func TestPlan_EveryOutputReleasedOnce(t *testing.T) {
	p, err := NewPlan(64, 3)
	require.NoError(t, err)

	released := map[int]int{}
	for _, st := range p.Stages {
		for _, j := range st.Release {
			assert.Less(t, j, st.Index)
			released[j]++
		}
	}
	for i := 0; i < NumStages-1; i++ {
		assert.Equal(t, 1, released[i], "stage %d", i)
	}
}

func TestPlan_LiveAfter(t *testing.T) {
	p, err := NewPlan(640, 80)
	require.NoError(t, err)

	assert.Equal(t, []int{4, 6, 9}, p.LiveAfter(9))
	assert.Equal(t, []int{4, 10, 14, 15}, p.LiveAfter(15))
	assert.Equal(t, []int{17, 20, 23}, p.LiveAfter(23))
	assert.Empty(t, p.LiveAfter(24))
}

func TestNewPlan_Invalid(t *testing.T) {
	_, err := NewPlan(100, 80)
	assert.ErrorIs(t, err, ErrInvalidPlan)
	_, err = NewPlan(0, 80)
	assert.ErrorIs(t, err, ErrInvalidPlan)
	_, err = NewPlan(64, 0)
	assert.ErrorIs(t, err, ErrInvalidPlan)
}

func TestPlan_Convolutions(t *testing.T) {
	p, err := NewPlan(640, 80)
	require.NoError(t, err)

	layers := p.Convolutions()
	assert.Len(t, layers, 60)
	assert.Len(t, p.TensorNames(), 120)

	byName := map[string]ConvLayer{}
	for _, l := range layers {
		byName[l.Name] = l
	}
	assert.Equal(t, []int{16, 3, 6, 6}, byName["model.0.conv"].Spec.WeightShape())
	assert.Equal(t, []int{32, 32, 3, 3}, byName["model.4.m.1.cv2.conv"].Spec.WeightShape())
	assert.Equal(t, []int{256, 512, 1, 1}, byName["model.9.cv2.conv"].Spec.WeightShape())
	assert.Equal(t, []int{255, 256, 1, 1}, byName["model.24.m.2"].Spec.WeightShape())
	assert.Contains(t, p.TensorNames(), "model.6.m.2.cv1.conv.bias")
}

func TestTopology_IsCopy(t *testing.T) {
	top := Topology()
	top[12].Inputs[0] = 99
	assert.Equal(t, []int{11, 6}, Topology()[12].Inputs)
	assert.Equal(t, "model.13", StageName(13))
	assert.Equal(t, "sppf", OpSPPF.String())
	assert.False(t, OpConcat.HasWeights())
}
