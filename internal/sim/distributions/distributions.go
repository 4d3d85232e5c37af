// Package distributions provides the named spatial distributions used to place
// spawned items and players, e.g. "gaussian_mixture 2 1" or "edge_bias".
package distributions

import (
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"

	"griduniverse/internal/sim/geom"
)

const Default = "random"

type weightFunc func(rng *rand.Rand, rows, cols int, args []string) []float64

var weighted = map[string]weightFunc{
	"sinusoidal":          sinusoidal,
	"standing_wave":       standingWave,
	"horizontal_gradient": func(rng *rand.Rand, rows, cols int, _ []string) []float64 { return gradient(rng, rows, cols, true) },
	"vertical_gradient":   func(rng *rand.Rand, rows, cols int, _ []string) []float64 { return gradient(rng, rows, cols, false) },
	"edge_bias":           func(_ *rand.Rand, rows, cols int, _ []string) []float64 { return banded(rows, cols, [4]float64{2, 4, 8, 16}) },
	"center_bias":         func(_ *rand.Rand, rows, cols int, _ []string) []float64 { return banded(rows, cols, [4]float64{16, 8, 4, 2}) },
}

// Names lists every known distribution.
func Names() []string {
	out := []string{Default, "gaussian_mixture"}
	for k := range weighted {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func Known(name string) bool {
	if name == Default || name == "gaussian_mixture" {
		return true
	}
	_, ok := weighted[name]
	return ok
}

// Sampler draws positions for one configured distribution on a fixed grid.
// It is not safe for concurrent use.
type Sampler struct {
	Name string
	Args []string
	rows int
	cols int

	// gaussian_mixture picks its mean once and reuses it.
	mean *[2]int
}

// Parse builds a sampler from "name arg1 arg2". Unknown names fall back to the
// uniform distribution; ok reports whether the name was recognised.
func Parse(spec string, rows, cols int) (s *Sampler, ok bool) {
	fields := strings.Fields(spec)
	name := Default
	var args []string
	if len(fields) > 0 {
		name, args = fields[0], fields[1:]
	}
	ok = Known(name)
	if !ok {
		name, args = Default, nil
	}
	return &Sampler{Name: name, Args: args, rows: rows, cols: cols}, ok
}

func (s *Sampler) Sample(rng *rand.Rand) geom.Pos {
	if s.rows <= 0 || s.cols <= 0 {
		return geom.Pos{}
	}
	switch s.Name {
	case "gaussian_mixture":
		return s.gaussian(rng)
	case Default:
		return geom.P(rng.Intn(s.rows), rng.Intn(s.cols))
	}
	f, ok := weighted[s.Name]
	if !ok {
		return geom.P(rng.Intn(s.rows), rng.Intn(s.cols))
	}
	idx := choose(rng, f(rng, s.rows, s.cols, s.Args))
	return geom.P(idx/s.cols, idx%s.cols)
}

func (s *Sampler) gaussian(rng *rand.Rand) geom.Pos {
	k := intArg(s.Args, 0, 2)
	sd := float64(intArg(s.Args, 1, 1))
	if k < 1 {
		k = 1
	}
	if s.mean == nil {
		means := make([][2]int, k)
		for i := range means {
			means[i] = [2]int{rng.Intn(s.rows), rng.Intn(s.cols)}
		}
		m := means[rng.Intn(k)]
		s.mean = &m
	}
	for {
		r := int(math.Round(rng.NormFloat64()*sd + float64(s.mean[0])))
		c := int(math.Round(rng.NormFloat64()*sd + float64(s.mean[1])))
		if r >= 0 && r < s.rows && c >= 0 && c < s.cols {
			return geom.P(r, c)
		}
	}
}

func intArg(args []string, i, def int) int {
	if i >= len(args) {
		return def
	}
	v, err := strconv.Atoi(args[i])
	if err != nil {
		return def
	}
	return v
}

// choose picks an index with probability proportional to its weight.
func choose(rng *rand.Rand, w []float64) int {
	total := 0.0
	for _, v := range w {
		total += v
	}
	if total <= 0 {
		return rng.Intn(len(w))
	}
	x := rng.Float64() * total
	for i, v := range w {
		x -= v
		if x < 0 {
			return i
		}
	}
	return len(w) - 1
}

func sinusoidal(_ *rand.Rand, rows, cols int, args []string) []float64 {
	freq := float64(intArg(args, 0, 10))
	w := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x := 0.0
			if cols > 1 {
				x = float64(c) / float64(cols-1)
			}
			w[r*cols+c] = 0.5 + 0.5*math.Sin(freq*x)
		}
	}
	return w
}

func standingWave(_ *rand.Rand, rows, cols int, args []string) []float64 {
	a := float64(intArg(args, 0, 1))
	const d = 1.0
	const period = 20.0
	omega := 2 * math.Pi / period
	k := omega * omega / 9.81
	w := make([]float64, rows*cols)
	for i := range w {
		x := float64(i)
		a1 := math.Sqrt(a*a + a*a + 2*a*a*math.Cos(2*k*x+d))
		a2 := a*math.Cos(k*x) + a*math.Cos(k*x+d)
		a3 := a*math.Sin(k*x) - a*math.Sin(k*x+d)
		w[i] = a1 * math.Cos(omega*x-math.Atan2(a3, a2))
	}
	return normalize(w)
}

// gradient differentiates random noise along one axis, like a central
// difference with one-sided edges.
func gradient(rng *rand.Rand, rows, cols int, alongRows bool) []float64 {
	cells := rows * cols
	noise := make([]float64, cells)
	for i := range noise {
		noise[i] = float64(cells) * rng.Float64()
	}
	at := func(r, c int) float64 { return noise[r*cols+c] }
	w := make([]float64, cells)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			var g float64
			if alongRows {
				g = diff(r, rows, func(i int) float64 { return at(i, c) })
			} else {
				g = diff(c, cols, func(i int) float64 { return at(r, i) })
			}
			w[r*cols+c] = g
		}
	}
	return normalize(w)
}

func diff(i, n int, v func(int) float64) float64 {
	switch {
	case n < 2:
		return 0
	case i == 0:
		return v(1) - v(0)
	case i == n-1:
		return v(n-1) - v(n-2)
	}
	return (v(i+1) - v(i-1)) / 2
}

// banded weights the outer three rings of the grid; weights[0] is the
// interior and weights[3] the outermost ring.
func banded(rows, cols int, weights [4]float64) []float64 {
	w := make([]float64, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			v := weights[0]
			if c == 2 || r == 2 || c == cols-3 || r == rows-3 {
				v = weights[1]
			}
			if c == 1 || r == 1 || c == cols-2 || r == rows-2 {
				v = weights[2]
			}
			if c == 0 || r == 0 || c == cols-1 || r == rows-1 {
				v = weights[3]
			}
			w[r*cols+c] = v
		}
	}
	return w
}

// normalize rescales into [0,1].
func normalize(w []float64) []float64 {
	if len(w) == 0 {
		return w
	}
	lo, hi := w[0], w[0]
	for _, v := range w {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if hi == lo {
		for i := range w {
			w[i] = 1
		}
		return w
	}
	for i, v := range w {
		w[i] = (v - lo) / (hi - lo)
	}
	return w
}
