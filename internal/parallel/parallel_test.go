package parallel

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFor_VisitsEveryIndexOnce(t *testing.T) {
	for _, cfg := range []Config{Sequential(), Threads(4), Threads(0), {Workers: 3, MinItems: 1000}} {
		hits := make([]int32, 257)
		For(len(hits), func(i int) {
			atomic.AddInt32(&hits[i], 1)
		}, cfg)

		for i, h := range hits {
			assert.Equal(t, int32(1), h, "index %d with %+v", i, cfg)
		}
	}
}

func TestConfig_Enabled(t *testing.T) {
	assert.False(t, Sequential().Enabled(1000))
	assert.True(t, Threads(4).Enabled(16))
	assert.False(t, Threads(4).Enabled(1))
	assert.False(t, Config{Workers: 8, MinItems: 64}.Enabled(63))
}

func TestForPlanes(t *testing.T) {
	batch, channels := 2, 7
	var seen [2][7]atomic.Bool

	ForPlanes(batch, channels, func(n, c int) {
		seen[n][c].Store(true)
	}, Threads(3))

	for n := 0; n < batch; n++ {
		for c := 0; c < channels; c++ {
			assert.True(t, seen[n][c].Load(), "plane (%d,%d)", n, c)
		}
	}
}

func BenchmarkFor(b *testing.B) {
	n := 10000
	work := func(_ int) {
		var s int64
		for j := 0; j < 100; j++ {
			s += int64(j)
		}
		_ = s
	}

	b.Run("sequential", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			For(n, work, Sequential())
		}
	})
	b.Run("threads", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			For(n, work, Threads(0))
		}
	})
}
