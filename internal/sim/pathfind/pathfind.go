// Package pathfind turns a wall layout into a 4-connected graph and searches
// it with A*.
package pathfind

import (
	"github.com/zyedidia/generic/heap"

	"griduniverse/internal/sim/geom"
)

// Maze is a row-major wall grid: true means wall.
type Maze struct {
	Rows  int
	Cols  int
	Walls []bool
}

func PositionsToMaze(walls []geom.Pos, rows, cols int) Maze {
	m := Maze{Rows: rows, Cols: cols, Walls: make([]bool, rows*cols)}
	for _, w := range walls {
		if w.InBounds(rows, cols) {
			m.Walls[w.Index(cols)] = true
		}
	}
	return m
}

func (m Maze) IsWall(p geom.Pos) bool {
	if !p.InBounds(m.Rows, m.Cols) {
		return true
	}
	return m.Walls[p.Index(m.Cols)]
}

type Edge struct {
	Dir geom.Direction
	To  geom.Pos
}

// Graph maps each open cell to its open orthogonal neighbours.
type Graph map[geom.Pos][]Edge

func BuildGraph(m Maze) Graph {
	g := make(Graph, len(m.Walls))
	for r := 0; r < m.Rows; r++ {
		for c := 0; c < m.Cols; c++ {
			p := geom.P(r, c)
			if m.IsWall(p) {
				continue
			}
			edges := make([]Edge, 0, 4)
			for _, d := range geom.Directions {
				n := p.Add(d.Delta())
				if !m.IsWall(n) {
					edges = append(edges, Edge{Dir: d, To: n})
				}
			}
			g[p] = edges
		}
	}
	return g
}

type Result struct {
	Cost int
	// Directions holds one compass letter (N, S, E, W) per step.
	Directions  string
	End         geom.Pos
	Approximate bool
}

// Steps decodes Directions into movement directions.
func (r Result) Steps() []geom.Direction {
	out := make([]geom.Direction, 0, len(r.Directions))
	for i := 0; i < len(r.Directions); i++ {
		if d, ok := geom.FromCompass(r.Directions[i]); ok {
			out = append(out, d)
		}
	}
	return out
}

type node struct {
	priority int
	cost     int
	seq      int
	path     string
	pos      geom.Pos
}

// FindPath runs A* from start to goal. When more than maxIterations nodes are
// expanded it returns the best frontier entry with Approximate set. It reports
// false when start or goal is a wall or goal is unreachable.
func FindPath(m Maze, g Graph, start, goal geom.Pos, maxIterations int) (Result, bool) {
	if m.IsWall(start) || m.IsWall(goal) {
		return Result{}, false
	}
	pq := heap.New(func(a, b node) bool {
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.seq < b.seq
	})
	seq := 0
	pq.Push(node{priority: geom.Manhattan(start, goal), pos: start})
	visited := make(map[geom.Pos]bool)

	iterations := 0
	for pq.Size() > 0 {
		iterations++
		if maxIterations > 0 && iterations > maxIterations {
			best, _ := pq.Pop()
			return Result{Cost: best.cost, Directions: best.path, End: best.pos, Approximate: true}, true
		}
		cur, _ := pq.Pop()
		if cur.pos == goal {
			return Result{Cost: cur.cost, Directions: cur.path, End: cur.pos}, true
		}
		if visited[cur.pos] {
			continue
		}
		visited[cur.pos] = true
		for _, e := range g[cur.pos] {
			if visited[e.To] {
				continue
			}
			seq++
			cost := cur.cost + 1
			pq.Push(node{
				priority: cost + geom.Manhattan(e.To, goal),
				cost:     cost,
				seq:      seq,
				path:     cur.path + string(e.Dir.Compass()),
				pos:      e.To,
			})
		}
	}
	return Result{}, false
}
