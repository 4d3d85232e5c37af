package pathfind

import (
	"math/rand"
	"testing"

	"griduniverse/internal/sim/geom"
	"griduniverse/internal/sim/maze"
)

func TestFindPath_OpenGridIsManhattan(t *testing.T) {
	m := PositionsToMaze(nil, 10, 10)
	g := BuildGraph(m)
	cases := [][2]geom.Pos{
		{geom.P(0, 0), geom.P(9, 9)},
		{geom.P(3, 7), geom.P(3, 1)},
		{geom.P(5, 5), geom.P(5, 5)},
	}
	for _, c := range cases {
		res, ok := FindPath(m, g, c[0], c[1], 10000)
		if !ok {
			t.Fatalf("no path %v -> %v", c[0], c[1])
		}
		if res.Cost != geom.Manhattan(c[0], c[1]) {
			t.Fatalf("cost=%d want %d", res.Cost, geom.Manhattan(c[0], c[1]))
		}
		if len(res.Directions) != res.Cost {
			t.Fatalf("directions %q len != cost %d", res.Directions, res.Cost)
		}
		if res.Approximate {
			t.Fatalf("unexpected approximate result")
		}
	}
}

func TestFindPath_FollowsDirections(t *testing.T) {
	walls := maze.Generate(rand.New(rand.NewSource(11)), 15, 15)
	m := PositionsToMaze(walls, 15, 15)
	g := BuildGraph(m)
	start, goal := geom.P(1, 1), geom.P(13, 13)
	res, ok := FindPath(m, g, start, goal, 100000)
	if !ok {
		t.Fatalf("expected path in perfect maze")
	}
	if len(res.Directions) != res.Cost {
		t.Fatalf("directions len %d != cost %d", len(res.Directions), res.Cost)
	}
	p := start
	for _, d := range res.Steps() {
		p = p.Add(d.Delta())
		if m.IsWall(p) {
			t.Fatalf("path walks into wall at %v", p)
		}
	}
	if p != goal {
		t.Fatalf("path ends at %v want %v", p, goal)
	}
}

func TestFindPath_WallEndpoints(t *testing.T) {
	m := PositionsToMaze([]geom.Pos{geom.P(2, 2)}, 5, 5)
	g := BuildGraph(m)
	if _, ok := FindPath(m, g, geom.P(2, 2), geom.P(0, 0), 100); ok {
		t.Fatalf("start on wall should fail")
	}
	if _, ok := FindPath(m, g, geom.P(0, 0), geom.P(2, 2), 100); ok {
		t.Fatalf("goal on wall should fail")
	}
}

func TestFindPath_Unreachable(t *testing.T) {
	// Column 2 is solid wall.
	var walls []geom.Pos
	for r := 0; r < 5; r++ {
		walls = append(walls, geom.P(r, 2))
	}
	m := PositionsToMaze(walls, 5, 5)
	if _, ok := FindPath(m, BuildGraph(m), geom.P(0, 0), geom.P(0, 4), 1000); ok {
		t.Fatalf("expected no path across a solid wall")
	}
}

func TestFindPath_IterationCap(t *testing.T) {
	m := PositionsToMaze(nil, 30, 30)
	g := BuildGraph(m)
	res, ok := FindPath(m, g, geom.P(0, 0), geom.P(29, 29), 5)
	if !ok {
		t.Fatalf("expected best-effort result")
	}
	if !res.Approximate {
		t.Fatalf("expected approximate result")
	}
	if res.Cost > 58 {
		t.Fatalf("approximate cost %d exceeds optimum", res.Cost)
	}
}
