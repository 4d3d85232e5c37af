package bot

import (
	"fmt"
	"math/rand"
	"sort"

	"griduniverse/internal/protocol"
	"griduniverse/internal/sim/geom"
)

// Policy chooses a bot's next action.
type Policy interface {
	Next(v *View) protocol.Action
}

// New returns the named policy: random, food_seeking or advantage_seeking.
func New(name string, rng *rand.Rand) (Policy, error) {
	switch name {
	case "random":
		return &Random{Rand: rng}, nil
	case "food_seeking":
		return &FoodSeeking{Random: Random{Rand: rng}}, nil
	case "advantage_seeking":
		return &AdvantageSeeking{FoodSeeking: FoodSeeking{Random: Random{Rand: rng}}}, nil
	}
	return nil, fmt.Errorf("unknown bot policy %q", name)
}

func move(d geom.Direction) protocol.Action {
	return protocol.Action{Type: protocol.TypeMove, Move: string(d)}
}

// Random presses any key a player could: a move, planting food where it
// stands, or a color change.
type Random struct {
	Rand *rand.Rand
}

func (r *Random) Next(v *View) protocol.Action {
	n := len(geom.Directions) + 1 + len(v.Colors)
	k := r.Rand.Intn(n)
	switch {
	case k < len(geom.Directions):
		return move(geom.Directions[k])
	case k == len(geom.Directions):
		a := protocol.Action{Type: protocol.TypePlantFood}
		if me, ok := v.Me(); ok {
			a.Position = &[2]int{me.Row, me.Col}
		}
		return a
	default:
		return protocol.Action{Type: protocol.TypeChangeColor, Color: v.Colors[k-len(geom.Directions)-1]}
	}
}

func (r *Random) pick(moves []geom.Direction) protocol.Action {
	return move(moves[r.Rand.Intn(len(moves))])
}

// FoodSeeking walks to the nearest wanted item and sticks with it until it
// is gone. With nothing to chase it wanders without bumping into walls.
type FoodSeeking struct {
	Random
	target *geom.Pos
}

func (f *FoodSeeking) Next(v *View) protocol.Action {
	return f.next(v, f.nearest, f.wander)
}

func (f *FoodSeeking) next(v *View, choose func(*View) (geom.Pos, bool), idle func(*View) []geom.Direction) protocol.Action {
	me, ok := v.Me()
	if !ok {
		return f.Random.Next(v)
	}
	targets := v.Targets()
	if f.target == nil || !contains(targets, *f.target) {
		f.target = nil
		if t, ok := choose(v); ok {
			f.target = &t
		}
	}
	var moves []geom.Direction
	if f.target != nil {
		if dist, first, ok := v.Distance(me, *f.target); ok && dist > 0 {
			moves = []geom.Direction{first}
		}
	} else {
		moves = idle(v)
	}
	if len(moves) == 0 {
		return f.Random.Next(v)
	}
	return f.pick(moves)
}

func (f *FoodSeeking) nearest(v *View) (geom.Pos, bool) {
	me, _ := v.Me()
	best, found := 0, false
	var at geom.Pos
	for _, t := range v.Targets() {
		d, _, ok := v.Distance(me, t)
		if !ok || d == 0 {
			continue
		}
		if !found || d < best {
			best, at, found = d, t, true
		}
	}
	return at, found
}

func (f *FoodSeeking) wander(v *View) []geom.Direction {
	me, _ := v.Me()
	var out []geom.Direction
	for _, d := range geom.Directions {
		if v.Expected(d)[v.PlayerID] != me {
			out = append(out, d)
		}
	}
	return out
}

// AdvantageSeeking pairs every player with an item, closest pairs first, so
// it skips items another player will reach sooner. With nothing to chase it
// moves to spread the players out.
type AdvantageSeeking struct {
	FoodSeeking
}

func (a *AdvantageSeeking) Next(v *View) protocol.Action {
	return a.next(v, a.assigned, a.spreadOut)
}

type pairing struct {
	player string
	target geom.Pos
	dist   int
}

// Assignments matches players to targets greedily by walking distance.
func Assignments(v *View) map[string]geom.Pos {
	targets := v.Targets()
	var pairs []pairing
	for id, p := range v.Players {
		for _, t := range targets {
			if d, _, ok := v.Distance(p, t); ok {
				pairs = append(pairs, pairing{player: id, target: t, dist: d})
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].dist != pairs[j].dist {
			return pairs[i].dist < pairs[j].dist
		}
		if pairs[i].player != pairs[j].player {
			return pairs[i].player < pairs[j].player
		}
		return pairs[i].target.Less(pairs[j].target)
	})
	out := map[string]geom.Pos{}
	taken := map[geom.Pos]bool{}
	for _, p := range pairs {
		if _, done := out[p.player]; done || taken[p.target] {
			continue
		}
		out[p.player] = p.target
		taken[p.target] = true
	}
	return out
}

func (a *AdvantageSeeking) assigned(v *View) (geom.Pos, bool) {
	t, ok := Assignments(v)[v.PlayerID]
	return t, ok
}

func (a *AdvantageSeeking) spreadOut(v *View) []geom.Direction {
	cur := Spread(v.Players)
	var out []geom.Direction
	for _, d := range geom.Directions {
		if Spread(v.Expected(d)) > cur {
			out = append(out, d)
		}
	}
	return out
}

func contains(ps []geom.Pos, p geom.Pos) bool {
	for _, q := range ps {
		if q == p {
			return true
		}
	}
	return false
}
