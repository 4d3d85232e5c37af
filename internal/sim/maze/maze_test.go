package maze

import (
	"math/rand"
	"testing"

	"griduniverse/internal/sim/geom"
)

func wallSet(walls []geom.Pos) map[geom.Pos]bool {
	m := make(map[geom.Pos]bool, len(walls))
	for _, w := range walls {
		m[w] = true
	}
	return m
}

func TestGenerate_HalfWallAndConnected(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		rows, cols := 25, 25
		walls := Generate(rand.New(rand.NewSource(seed)), rows, cols)
		frac := float64(len(walls)) / float64(rows*cols)
		if frac < 0.45 || frac > 0.6 {
			t.Fatalf("seed=%d wall fraction=%.3f", seed, frac)
		}
		set := wallSet(walls)
		for _, w := range walls {
			n := 0
			for _, nb := range geom.Neighbors4(w, rows, cols) {
				if set[nb] {
					n++
				}
			}
			if n == 0 {
				t.Fatalf("seed=%d wall %v has no wall neighbour", seed, w)
			}
		}

		// Every open cell reachable from every other.
		var open []geom.Pos
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				if !set[geom.P(r, c)] {
					open = append(open, geom.P(r, c))
				}
			}
		}
		seen := map[geom.Pos]bool{open[0]: true}
		queue := []geom.Pos{open[0]}
		for len(queue) > 0 {
			p := queue[0]
			queue = queue[1:]
			for _, nb := range geom.Neighbors4(p, rows, cols) {
				if !set[nb] && !seen[nb] {
					seen[nb] = true
					queue = append(queue, nb)
				}
			}
		}
		if len(seen) != len(open) {
			t.Fatalf("seed=%d reachable=%d open=%d", seed, len(seen), len(open))
		}
	}
}

func TestPrune_DensityMonotonic(t *testing.T) {
	base := Generate(rand.New(rand.NewSource(7)), 31, 31)
	prev := len(base) + 1
	for _, d := range []float64{1, 0.8, 0.6, 0.4, 0.2} {
		got := Prune(rand.New(rand.NewSource(7)), base, d, 1)
		if len(got) > prev {
			t.Fatalf("density=%.1f walls=%d > previous %d", d, len(got), prev)
		}
		want := float64(len(base)) * d
		if diff := float64(len(got)) - want; diff > 0.1*float64(len(base)) || diff < -0.1*float64(len(base)) {
			t.Fatalf("density=%.1f walls=%d want about %.0f", d, len(got), want)
		}
		prev = len(got)
	}
}

func TestPrune_SmallGridsStopAtLoops(t *testing.T) {
	for _, size := range []int{3, 11} {
		base := Generate(rand.New(rand.NewSource(7)), size, size)
		prev := len(base)
		for _, d := range []float64{0.8, 0.4, 0.1, 0} {
			got := Prune(rand.New(rand.NewSource(7)), base, d, 1)
			if len(got) > prev {
				t.Fatalf("%dx%d density=%.1f walls=%d > previous %d", size, size, d, len(got), prev)
			}
			prev = len(got)
		}
		floor := Prune(rand.New(rand.NewSource(7)), base, 0, 1)
		if again := Prune(rand.New(rand.NewSource(7)), floor, 0, 1); len(again) != len(floor) {
			t.Fatalf("%dx%d: floor of %d walls is not stable, pruned to %d", size, size, len(floor), len(again))
		}
		if size == 3 && len(floor) != len(base) {
			t.Fatalf("3x3 is a single ring, nothing is terminal: %d -> %d", len(base), len(floor))
		}
	}
}

func TestPrune_Contiguity(t *testing.T) {
	base := Generate(rand.New(rand.NewSource(3)), 21, 21)
	got := Prune(rand.New(rand.NewSource(3)), base, 1, 0.5)
	want := len(base) - len(base)/2
	if d := len(got) - want; d > 1 || d < -1 {
		t.Fatalf("contiguity 0.5: walls=%d want about %d", len(got), want)
	}
	set := wallSet(base)
	for _, w := range got {
		if !set[w] {
			t.Fatalf("pruning invented wall %v", w)
		}
	}
}

func TestLabyrinth_ZeroDensity(t *testing.T) {
	if got := Labyrinth(rand.New(rand.NewSource(1)), 25, 25, 0, 1); len(got) != 0 {
		t.Fatalf("expected no walls, got %d", len(got))
	}
}

func TestLabyrinth_Deterministic(t *testing.T) {
	a := Labyrinth(rand.New(rand.NewSource(42)), 15, 15, 0.7, 0.9)
	b := Labyrinth(rand.New(rand.NewSource(42)), 15, 15, 0.7, 0.9)
	if len(a) != len(b) {
		t.Fatalf("len mismatch %d != %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("wall %d differs: %v vs %v", i, a[i], b[i])
		}
	}
}
