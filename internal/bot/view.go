// Package bot contains automated players. A bot folds the state messages it
// receives into a View and asks its Policy for the next action.
package bot

import (
	"github.com/zyedidia/generic/mapset"

	"griduniverse/internal/protocol"
	"griduniverse/internal/sim/geom"
	"griduniverse/internal/sim/pathfind"
)

// pathIterations bounds each A* search; past it the route is approximate.
const pathIterations = 10000

// View is what a bot knows about the game. State messages leave walls and
// items out when they have not changed, so the last known lists are kept.
type View struct {
	PlayerID string
	Colors   []string
	Rows     int
	Cols     int

	Players       map[string]geom.Pos
	Walls         []geom.Pos
	Items         []protocol.ItemState
	RemainingTime float64

	// Wanted picks the items worth walking to. Nil means anything more
	// than half mature.
	Wanted func(protocol.ItemState) bool

	wallSet mapset.Set[geom.Pos]
	maze    pathfind.Maze
	graph   pathfind.Graph
}

func NewView(w protocol.WelcomeMsg) *View {
	return &View{
		PlayerID: w.PlayerID,
		Colors:   w.Colors,
		Rows:     w.Rows,
		Cols:     w.Columns,
		Players:  map[string]geom.Pos{},
		wallSet:  mapset.New[geom.Pos](),
	}
}

// Observe folds a state message into the view.
func (v *View) Observe(st protocol.StateMsg) {
	g := st.Grid
	if g.Rows > 0 {
		v.Rows, v.Cols = g.Rows, g.Columns
	}
	v.RemainingTime = st.RemainingTime
	v.Players = make(map[string]geom.Pos, len(g.Players))
	for _, p := range g.Players {
		v.Players[p.ID] = geom.P(p.Position[0], p.Position[1])
	}
	if g.Walls != nil {
		v.Walls = v.Walls[:0]
		v.wallSet = mapset.New[geom.Pos]()
		for _, w := range *g.Walls {
			p := geom.P(w.Position[0], w.Position[1])
			v.Walls = append(v.Walls, p)
			v.wallSet.Put(p)
		}
		v.graph = nil
	}
	if g.Items != nil {
		v.Items = append(v.Items[:0], *g.Items...)
	}
}

// Me returns the bot's own position.
func (v *View) Me() (geom.Pos, bool) {
	p, ok := v.Players[v.PlayerID]
	return p, ok
}

func (v *View) IsWall(p geom.Pos) bool { return v.wallSet.Has(p) }

// Targets lists the positions of wanted items.
func (v *View) Targets() []geom.Pos {
	want := v.Wanted
	if want == nil {
		want = func(it protocol.ItemState) bool { return it.Maturity > 0.5 }
	}
	var out []geom.Pos
	for _, it := range v.Items {
		if it.Position != nil && want(it) {
			out = append(out, geom.P(it.Position[0], it.Position[1]))
		}
	}
	return out
}

// Distance is the walking distance from a to b around walls and the first
// step to take. ok is false when b cannot be reached.
func (v *View) Distance(a, b geom.Pos) (dist int, first geom.Direction, ok bool) {
	if v.graph == nil {
		v.maze = pathfind.PositionsToMaze(v.Walls, v.Rows, v.Cols)
		v.graph = pathfind.BuildGraph(v.maze)
	}
	res, found := pathfind.FindPath(v.maze, v.graph, a, b, pathIterations)
	if !found {
		return 0, "", false
	}
	steps := res.Steps()
	if len(steps) > 0 {
		first = steps[0]
	}
	return res.Cost, first, true
}

// Expected is where the players would be if the bot moved d and nobody else
// moved. Moves into walls, players or off the grid fail.
func (v *View) Expected(d geom.Direction) map[string]geom.Pos {
	out := make(map[string]geom.Pos, len(v.Players))
	for id, p := range v.Players {
		out[id] = p
	}
	me, ok := v.Me()
	if !ok {
		return out
	}
	next := me.Add(d.Delta())
	if !next.InBounds(v.Rows, v.Cols) || v.IsWall(next) {
		return out
	}
	for id, p := range v.Players {
		if id != v.PlayerID && p == next {
			return out
		}
	}
	out[v.PlayerID] = next
	return out
}

// Spread is the mean pairwise Manhattan distance between players.
func Spread(positions map[string]geom.Pos) float64 {
	ps := make([]geom.Pos, 0, len(positions))
	for _, p := range positions {
		ps = append(ps, p)
	}
	var sum, n int
	for i := 0; i < len(ps); i++ {
		for j := i + 1; j < len(ps); j++ {
			sum += geom.Manhattan(ps[i], ps[j])
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}
