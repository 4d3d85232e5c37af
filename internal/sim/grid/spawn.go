package grid

import (
	"fmt"
	"math"

	"griduniverse/internal/sim/distributions"
	"griduniverse/internal/sim/geom"
	"griduniverse/internal/sim/items"
	"griduniverse/internal/sim/maze"
)

// FindEmptyPosition samples the distribution until it hits a cell with no
// player, item or wall. After a bounded number of misses it falls back to a
// row-major scan.
func (g *Grid) FindEmptyPosition(s *distributions.Sampler) (geom.Pos, error) {
	tries := 4 * g.Rows * g.Columns
	if tries < 64 {
		tries = 64
	}
	if s != nil {
		for i := 0; i < tries; i++ {
			p := s.Sample(g.rng)
			if p.InBounds(g.Rows, g.Columns) && g.empty(p) {
				return p, nil
			}
		}
	}
	for r := 0; r < g.Rows; r++ {
		for c := 0; c < g.Columns; c++ {
			if p := geom.P(r, c); g.empty(p) {
				return p, nil
			}
		}
	}
	return geom.Pos{}, ErrNoEmptyCell
}

// pickType chooses a type by sampling each type's spawn rate in turn; the
// last hit in a pass wins and passes repeat until something hits.
func (g *Grid) pickType() *items.ItemType {
	types := g.cat.Types()
	anyRate := false
	for _, t := range types {
		if t.SpawnRate() > 0 {
			anyRate = true
			break
		}
	}
	if !anyRate {
		return g.cat.First()
	}
	for {
		var pick *items.ItemType
		for _, t := range types {
			if g.rng.Float64() < t.SpawnRate() {
				pick = t
			}
		}
		if pick != nil {
			return pick
		}
	}
}

// SpawnItem places a new item. An empty typeID picks a type at random and a
// nil pos uses the type's distribution.
func (g *Grid) SpawnItem(pos *geom.Pos, typeID string) (*items.Item, error) {
	var t *items.ItemType
	if typeID == "" {
		t = g.pickType()
	} else {
		var ok bool
		if t, ok = g.cat.Type(typeID); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownItemType, typeID)
		}
	}
	if t == nil {
		return nil, fmt.Errorf("%w: catalog is empty", ErrUnknownItemType)
	}
	var at geom.Pos
	if pos == nil {
		p, err := g.FindEmptyPosition(g.itemDist[t.ID()])
		if err != nil {
			return nil, err
		}
		at = p
	} else {
		at = *pos
	}
	it := items.New(t, g.nextID(), &at, g.now())
	g.items[at] = it
	g.ItemsUpdated = true
	g.log.WithField("item", t.ID()).Debugf("spawned item %d at %s", it.ID, at)
	return it, nil
}

// SpawnInitialItems places item_count items of every type.
func (g *Grid) SpawnInitialItems() error {
	for _, t := range g.cat.Types() {
		for i := 0; i < t.InitialCount(); i++ {
			if _, err := g.SpawnItem(nil, t.ID()); err != nil {
				return fmt.Errorf("spawn %s: %w", t.ID(), err)
			}
		}
	}
	return nil
}

// BuildLabyrinth generates walls once, when a density is configured and no
// walls are present yet.
func (g *Grid) BuildLabyrinth() int {
	d := g.cfg.Walls
	if d.Density <= 0 || len(g.walls) > 0 {
		return 0
	}
	for _, p := range maze.Labyrinth(g.rng, g.Rows, g.Columns, d.Density, d.Contiguity) {
		g.walls[p] = &Wall{Pos: p, Color: DefaultWallColor}
	}
	g.WallsUpdated = true
	return len(g.walls)
}

// Replenish moves every type's live count towards its drifting target.
// Seasonal growth inverts on odd rounds.
func (g *Grid) Replenish() {
	byType := map[string][]geom.Pos{}
	for _, pos := range sortedKeys(g.items) {
		id := g.items[pos].TypeID()
		byType[id] = append(byType[id], pos)
	}
	exp := 1.0
	if g.Round%2 == 1 {
		exp = -1
	}
	limit := float64(g.Rows * g.Columns)
	for _, t := range g.cat.Types() {
		seasonal := math.Pow(t.SeasonalGrowthRate(), exp)
		target := round5(g.targetCount[t.ID()] * t.SpawnRate() * seasonal)
		if math.IsNaN(target) {
			target = 0
		}
		target = math.Max(0, math.Min(target, limit))
		g.targetCount[t.ID()] = target

		live := byType[t.ID()]
		delta := int(math.Round(target)) - len(live)
		switch {
		case delta > 0:
			for i := 0; i < delta; i++ {
				if _, err := g.SpawnItem(nil, t.ID()); err != nil {
					g.log.WithError(err).Debugf("replenish %s stopped", t.ID())
					break
				}
			}
		case delta < 0 && t.LimitQuantity():
			for i := 0; i < -delta && len(live) > 0; i++ {
				k := g.rng.Intn(len(live))
				delete(g.items, live[k])
				live = append(live[:k], live[k+1:]...)
				g.ItemsUpdated = true
			}
		}
	}
}

func round5(x float64) float64 { return math.Round(x*1e5) / 1e5 }

// TriggerTransitions swaps items whose age reached their type's auto
// transition time. The successor keeps the id and starts a fresh clock; an
// empty successor removes the item.
func (g *Grid) TriggerTransitions() {
	now := g.now()
	for _, pos := range sortedKeys(g.items) {
		it := g.items[pos]
		t := it.Type()
		if !t.HasAutoTransition() || now.Sub(it.Created) < t.AutoTransitionAfter() {
			continue
		}
		g.ItemsUpdated = true
		next := t.AutoTransitionTarget()
		if next == "" {
			delete(g.items, pos)
			continue
		}
		nt, ok := g.cat.Type(next)
		if !ok {
			g.log.Warnf("auto transition target %q of %s is not an item type", next, t.ID())
			continue
		}
		g.items[pos] = items.New(nt, it.ID, &pos, now)
	}
}
