package simulator

import (
	"math"
	"math/rand"
	"sync"
)

// Generator keeps the state of one simulated reading and moves it by a bounded
// random step on every Next.
type Generator struct {
	mu    sync.Mutex
	rnd   *rand.Rand
	value float64
	step  float64
	min   float64
	max   float64
}

func NewGenerator(seed int64, start, step, min, max float64) *Generator {
	if max < min {
		min, max = max, min
	}
	return &Generator{
		rnd:   rand.New(rand.NewSource(seed)), //nolint:gosec // simulated telemetry
		value: clamp(start, min, max),
		step:  math.Abs(step),
		min:   min,
		max:   max,
	}
}

// Next advances the walk and returns the new value rounded to two decimals.
func (g *Generator) Next() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	delta := (g.rnd.Float64()*2 - 1) * g.step
	g.value = clamp(g.value+delta, g.min, g.max)
	return math.Round(g.value*100) / 100
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
