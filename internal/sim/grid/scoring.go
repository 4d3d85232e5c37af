package grid

import (
	"math"

	"griduniverse/internal/sim/items"
)

// publicGood is what every player receives when someone eats it.
func (g *Grid) publicGood(it *items.Item) float64 {
	m := it.Type().PublicGoodMultiplier()
	if m == 0 || g.cfg.MaxParticipants < 1 {
		return 0
	}
	return float64(it.Calories()) * m / float64(g.cfg.MaxParticipants)
}

// calories scales an item's calories for the baseline team.
func (g *Grid) calories(p *Player, it *items.Item) float64 {
	c := float64(it.Calories())
	if p.ColorIdx == 0 {
		c *= g.cfg.Payoffs.RelativeDeprivation
	}
	return c
}

// Consume lets every player eat the mature, non-interactive item under them.
// It returns the number of items eaten.
func (g *Grid) Consume() int {
	now := g.now()
	eaten := 0
	for _, p := range g.Players() {
		it, ok := g.items[p.Pos]
		if !ok || it.Interactive() || it.Calories() == 0 || !it.Mature(now) {
			continue
		}
		delete(g.items, p.Pos)
		g.ItemsConsumed++
		g.ItemsUpdated = true
		if it.Type().Respawn() {
			if _, err := g.SpawnItem(nil, it.TypeID()); err != nil {
				g.log.WithError(err).Debugf("respawn %s", it.TypeID())
			}
		} else {
			g.targetCount[it.TypeID()]--
		}

		p.Score += g.calories(p, it)
		if pg := g.publicGood(it); pg != 0 {
			for _, o := range g.players {
				o.Score += pg
			}
		}
		eaten++
	}
	return eaten
}

// ComputePayoffs converts scores into payoffs. Each player gets the grand
// total times its share within its group, times its group's share among all
// groups, times dollars_per_point. Shares use the power softmax.
func (g *Grid) ComputePayoffs() {
	players := g.Players()
	total := 0.0
	groups := make([][]*Player, len(g.colors))
	for _, p := range players {
		total += p.Score
		if p.ColorIdx >= 0 && p.ColorIdx < len(groups) {
			groups[p.ColorIdx] = append(groups[p.ColorIdx], p)
		}
	}

	groupScores := make([]float64, len(groups))
	for gi, members := range groups {
		if len(members) == 0 {
			continue
		}
		scores := make([]float64, len(members))
		for i, p := range members {
			scores[i] = p.Score
			groupScores[gi] += p.Score
		}
		intra := Softmax(scores, g.cfg.Payoffs.IntragroupCompetition)
		for i, p := range members {
			p.Payoff = total * intra[i]
		}
	}

	inter := Softmax(groupScores, g.cfg.Payoffs.IntergroupCompetition)
	for _, p := range players {
		share := 0.0
		if p.ColorIdx >= 0 && p.ColorIdx < len(inter) {
			share = inter[p.ColorIdx]
		}
		p.Payoff *= share * g.cfg.Payoffs.DollarsPerPoint
	}
}

// Softmax raises each value to temperature and normalizes the result to sum
// to 1. When everything is zero the distribution is uniform.
func Softmax(v []float64, temperature float64) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	sum := 0.0
	for i, x := range v {
		out[i] = math.Pow(math.Max(x, 0), temperature)
		sum += out[i]
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		for i := range out {
			out[i] = 1 / float64(len(v))
		}
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// ApplyTax takes the flat per-second tax, never below zero.
func (g *Grid) ApplyTax() {
	for _, p := range g.players {
		p.Score = math.Max(p.Score-g.cfg.Payoffs.Tax, 0)
	}
}

// ApplyFrequencyDependence rewards or penalizes players by how common their
// color is. The adjustment is zero at a 50% share.
func (g *Grid) ApplyFrequencyDependence() {
	beta := g.cfg.Payoffs.FrequencyDependence
	if beta == 0 || len(g.players) == 0 {
		return
	}
	abundance := map[int]int{}
	for _, p := range g.players {
		abundance[p.ColorIdx]++
	}
	n := float64(len(g.players))
	for _, p := range g.players {
		rel := float64(abundance[p.ColorIdx]) / n
		adj := Fermi(beta, rel, 0.5) * g.cfg.Payoffs.FrequencyDependentPayoffRate
		p.Score = math.Max(p.Score+adj, 0)
	}
}

// Fermi is the Fermi function from statistical physics, rescaled to (-1,1).
func Fermi(beta, p1, p2 float64) float64 {
	return 2.0 * ((1.0 / (1 + math.Exp(-beta*(p1-p2)))) - 0.5)
}

// SpreadContagion flips players to the strict-plurality color among
// themselves and their neighbours. All flips are decided before any is
// applied.
func (g *Grid) SpreadContagion() {
	d := g.cfg.Colors.Contagion
	if d <= 0 {
		return
	}
	type update struct {
		p     *Player
		color int
	}
	var updates []update
	for _, p := range g.Players() {
		nbrs := g.Neighbors(p, d)
		if len(nbrs) == 0 {
			continue
		}
		colors := make([]int, 0, len(nbrs)+1)
		for _, n := range nbrs {
			colors = append(colors, n.ColorIdx)
		}
		colors = append(colors, p.ColorIdx)

		counts := map[int]int{}
		for _, c := range colors {
			counts[c]++
		}
		plurality, best := colors[0], 0
		for _, c := range colors {
			if counts[c] > best {
				plurality, best = c, counts[c]
			}
		}
		if plurality == p.ColorIdx || float64(best) <= float64(len(colors))/2 {
			continue
		}
		if g.rank(plurality) <= g.rank(p.ColorIdx) {
			updates = append(updates, update{p: p, color: plurality})
		}
	}
	for _, u := range updates {
		u.p.ColorIdx = u.color
	}
}

func (g *Grid) rank(color int) int {
	if g.hierarchy == nil || color < 0 || color >= len(g.hierarchy) {
		return 1
	}
	return g.hierarchy[color]
}

// CheckRoundCompletion advances the round when its time is up and reports
// whether it did.
func (g *Grid) CheckRoundCompletion() bool {
	if g.start == nil || g.RemainingRoundTime() > 0 {
		return false
	}
	g.Round++
	if g.GameOver() {
		return true
	}
	next := g.now()
	lb := g.cfg.Leaderboard
	if lb.Individual || lb.Group {
		next = next.Add(secondsToDuration(lb.Time))
	}
	g.start = &next
	for _, p := range g.players {
		p.MotionTimestamp = 0
	}
	return true
}
