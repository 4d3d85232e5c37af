// Package maze builds wall layouts: a random perfect maze pruned down to a
// target density and contiguity.
package maze

import (
	"math"
	"math/rand"

	"github.com/zyedidia/generic/mapset"

	"griduniverse/internal/sim/geom"
)

// Labyrinth returns the wall positions for a rows x cols grid.
// density 1 keeps the full maze (about half the cells); contiguity 1 keeps
// every wall that survived the density pass.
func Labyrinth(rng *rand.Rand, rows, cols int, density, contiguity float64) []geom.Pos {
	if density <= 0 {
		return nil
	}
	return Prune(rng, Generate(rng, rows, cols), density, contiguity)
}

// Generate carves a perfect maze with randomized depth-first search over a
// half-resolution cell graph. Cell (x, y) maps to grid (2y+1, 2x+1); every
// other cell starts as wall and carving opens the cell between two linked
// cells.
func Generate(rng *rand.Rand, rows, cols int) []geom.Pos {
	c := (cols - 1) / 2
	r := (rows - 1) / 2
	if c <= 0 || r <= 0 {
		return nil
	}
	h, w := 2*r+1, 2*c+1
	wall := make([]bool, h*w)
	for i := range wall {
		wall[i] = true
	}
	for y := 0; y < r; y++ {
		for x := 0; x < c; x++ {
			wall[(2*y+1)*w+2*x+1] = false
		}
	}

	visited := make([]bool, r*c)
	type cell struct{ x, y int }
	start := cell{x: rng.Intn(c), y: rng.Intn(r)}
	visited[start.y*c+start.x] = true
	stack := []cell{start}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		next := []cell{{cur.x - 1, cur.y}, {cur.x, cur.y + 1}, {cur.x + 1, cur.y}, {cur.x, cur.y - 1}}
		rng.Shuffle(len(next), func(i, j int) { next[i], next[j] = next[j], next[i] })
		for _, n := range next {
			if n.x < 0 || n.x >= c || n.y < 0 || n.y >= r || visited[n.y*c+n.x] {
				continue
			}
			wall[(cur.y+n.y+1)*w+cur.x+n.x+1] = false
			visited[n.y*c+n.x] = true
			stack = append(stack, n)
		}
	}

	var out []geom.Pos
	for row := 0; row < h && row < rows; row++ {
		for col := 0; col < w && col < cols; col++ {
			if wall[row*w+col] {
				out = append(out, geom.P(row, col))
			}
		}
	}
	return out
}

// Prune removes walls in two passes. The first strips terminal walls, least
// connected first, until round(n*(1-density)) are gone or nothing terminal is
// left. The second drops a uniform random round(n*(1-contiguity)) of the rest.
// Walls on a closed loop are never terminal, so small grids bottom out at
// their outer ring above the requested density.
func Prune(rng *rand.Rand, walls []geom.Pos, density, contiguity float64) []geom.Pos {
	walls = append([]geom.Pos(nil), walls...)

	target := int(math.Round(float64(len(walls)) * (1 - density)))
	pruned := 0
	for pruned < target {
		drop := classifyTerminals(walls, target-pruned)
		if drop.Size() == 0 {
			break
		}
		walls = without(walls, drop)
		pruned += drop.Size()
	}

	n := int(math.Round(float64(len(walls)) * (1 - contiguity)))
	if n <= 0 {
		return walls
	}
	drop := mapset.New[int]()
	for _, i := range rng.Perm(len(walls))[:n] {
		drop.Put(i)
	}
	return without(walls, drop)
}

func without(walls []geom.Pos, drop mapset.Set[int]) []geom.Pos {
	out := walls[:0:0]
	for i, w := range walls {
		if !drop.Has(i) {
			out = append(out, w)
		}
	}
	return out
}

// classifyTerminals groups wall indexes into levels. Level 0 holds walls with
// at most one wall neighbour; a two-neighbour wall joins level k+1 when it
// touches level k. Up to limit indexes are returned, lowest level first.
func classifyTerminals(walls []geom.Pos, limit int) mapset.Set[int] {
	index := make(map[geom.Pos]int, len(walls))
	for i, w := range walls {
		index[w] = i
	}

	levels := [][]int{nil}
	member := []mapset.Set[int]{mapset.New[int]()}
	place := func(i int, adj []int) bool {
		for j := 0; j < len(levels); j++ {
			touches := false
			for _, a := range adj {
				if member[j].Has(a) {
					touches = true
					break
				}
			}
			if !touches {
				continue
			}
			if len(levels) < j+2 {
				levels = append(levels, nil)
				member = append(member, mapset.New[int]())
			}
			levels[j+1] = append(levels[j+1], i)
			member[j+1].Put(i)
			return true
		}
		return false
	}

	type pending struct {
		i   int
		adj []int
	}
	var unmatched []pending
	for i, w := range walls {
		var adj []int
		for _, d := range geom.Directions {
			if j, ok := index[w.Add(d.Delta())]; ok {
				adj = append(adj, j)
			}
		}
		switch len(adj) {
		case 0, 1:
			levels[0] = append(levels[0], i)
			member[0].Put(i)
		case 2:
			if !place(i, adj) {
				unmatched = append(unmatched, pending{i: i, adj: adj})
			}
		}
		if len(levels[0]) >= limit {
			break
		}
	}
	for _, p := range unmatched {
		place(p.i, p.adj)
	}

	out := mapset.New[int]()
	for _, lvl := range levels {
		for _, i := range lvl {
			if out.Size() >= limit {
				return out
			}
			out.Put(i)
		}
	}
	return out
}
