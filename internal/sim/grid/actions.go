package grid

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"griduniverse/internal/protocol"
	"griduniverse/internal/sim/geom"
	"griduniverse/internal/sim/items"
)

// Player actions. Each one validates everything first and returns an
// *ActionError without touching state when the action is not allowed.

func (g *Grid) player(id string) (*Player, error) {
	p, ok := g.players[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
	}
	return p, nil
}

type ColorChange struct {
	Changed  bool
	OldColor string
	NewColor string
}

// ChangeColor moves a player to another team. With costly colors the new
// color's cost is deducted.
func (g *Grid) ChangeColor(id, color string) (ColorChange, error) {
	p, err := g.player(id)
	if err != nil {
		return ColorChange{}, err
	}
	out := ColorChange{OldColor: g.colorName(p.ColorIdx), NewColor: color}
	if !g.cfg.Colors.MutableColors {
		return out, actionErr(protocol.ErrDisabled, "colors are not mutable in this game")
	}
	idx := g.colorIndex(color)
	if idx < 0 || idx >= g.numColors() {
		return out, actionErr(protocol.ErrInvalidTarget, fmt.Sprintf("unknown color %q", color))
	}
	if idx == p.ColorIdx {
		return out, nil
	}
	cost := 0.0
	if g.cfg.Colors.CostlyColors {
		cost = g.colorCosts[idx]
		if p.Score < cost {
			return out, actionErr(protocol.ErrNoResource, fmt.Sprintf("color %s costs %g", color, cost))
		}
	}
	p.Score -= cost
	p.ColorIdx = idx
	out.Changed = true
	return out, nil
}

type Donation struct {
	Recipients int
	Received   float64
}

// Donate moves amount from the donor to a player id, a "group:<idx>" or
// "all". With more than one recipient each share is floored to cents.
func (g *Grid) Donate(donorID, recipientID string, amount float64) (Donation, error) {
	donor, err := g.player(donorID)
	if err != nil {
		return Donation{}, err
	}
	if !g.DonationActive() {
		return Donation{}, actionErr(protocol.ErrDisabled, "donation is not active")
	}
	if amount <= 0 {
		return Donation{}, actionErr(protocol.ErrBadRequest, "donation amount must be positive")
	}

	var recipients []*Player
	d := g.cfg.Donation
	switch {
	case strings.HasPrefix(recipientID, "group:") && g.GroupDonationEnabled():
		idx, err := strconv.Atoi(strings.TrimPrefix(recipientID, "group:"))
		if err != nil {
			return Donation{}, actionErr(protocol.ErrBadRequest, fmt.Sprintf("bad group %q", recipientID))
		}
		recipients = g.PlayersWithColor(idx)
	case recipientID == "all" && d.Public:
		recipients = g.Players()
	case d.Individual:
		if r, ok := g.players[recipientID]; ok {
			recipients = append(recipients, r)
		}
	}
	if len(recipients) == 0 {
		return Donation{}, actionErr(protocol.ErrInvalidTarget, fmt.Sprintf("no recipients for %q", recipientID))
	}
	if donor.Score < amount {
		return Donation{}, actionErr(protocol.ErrNoResource, "not enough points to donate")
	}

	donor.Score -= amount
	received := amount * d.Multiplier
	if n := len(recipients); n > 1 {
		received = math.Floor(received/float64(n)*100) / 100
	}
	for _, r := range recipients {
		r.Score += received
	}
	return Donation{Recipients: len(recipients), Received: received}, nil
}

// Plant places a new item of the first catalog type, paying its planting
// cost.
func (g *Grid) Plant(id string, pos geom.Pos) (*items.Item, error) {
	p, err := g.player(id)
	if err != nil {
		return nil, err
	}
	t := g.cat.First()
	if t == nil {
		return nil, actionErr(protocol.ErrDisabled, "nothing to plant")
	}
	if !pos.InBounds(g.Rows, g.Columns) {
		return nil, actionErr(protocol.ErrBadRequest, fmt.Sprintf("position %s out of bounds", pos))
	}
	if g.HasWall(pos) || g.HasItem(pos) {
		return nil, actionErr(protocol.ErrBlocked, fmt.Sprintf("position %s is occupied", pos))
	}
	if p.Score < t.PlantingCost() {
		return nil, actionErr(protocol.ErrNoResource, "not enough points to plant")
	}
	p.Score -= t.PlantingCost()
	return g.SpawnItem(&pos, t.ID())
}

// BuildWall pays for a wall that appears once the player next moves.
func (g *Grid) BuildWall(id string, pos geom.Pos) error {
	p, err := g.player(id)
	if err != nil {
		return err
	}
	if !g.cfg.Walls.Build {
		return actionErr(protocol.ErrDisabled, "wall building is disabled")
	}
	if !pos.InBounds(g.Rows, g.Columns) {
		return actionErr(protocol.ErrBadRequest, fmt.Sprintf("position %s out of bounds", pos))
	}
	if p.Score < g.cfg.Walls.BuildingCost {
		return actionErr(protocol.ErrNoResource, "not enough points to build a wall")
	}
	p.Score -= g.cfg.Walls.BuildingCost
	p.PendingWall = &pos
	return nil
}

func (g *Grid) SetIdentityVisible(id string, visible bool) error {
	p, err := g.player(id)
	if err != nil {
		return err
	}
	p.IdentityVisible = visible
	return nil
}

func (g *Grid) checkReach(p *Player, pos geom.Pos) error {
	if !pos.InBounds(g.Rows, g.Columns) {
		return actionErr(protocol.ErrBadRequest, fmt.Sprintf("position %s out of bounds", pos))
	}
	if geom.Manhattan(p.Pos, pos) > 1 {
		return actionErr(protocol.ErrNotAdjacent, fmt.Sprintf("position %s is out of reach", pos))
	}
	return nil
}

// PickUp moves a portable item from pos into the player's empty hands.
func (g *Grid) PickUp(id string, pos geom.Pos) (*items.Item, error) {
	p, err := g.player(id)
	if err != nil {
		return nil, err
	}
	if err := g.checkReach(p, pos); err != nil {
		return nil, err
	}
	if p.CurrentItem != nil {
		return nil, actionErr(protocol.ErrHandsFull, "already carrying an item")
	}
	it, ok := g.items[pos]
	if !ok {
		return nil, actionErr(protocol.ErrInvalidTarget, fmt.Sprintf("no item at %s", pos))
	}
	if !it.Portable() {
		return nil, actionErr(protocol.ErrInvalidTarget, fmt.Sprintf("%s cannot be carried", it.Name()))
	}
	delete(g.items, pos)
	it.Pos = nil
	p.CurrentItem = it
	g.ItemsUpdated = true
	return it, nil
}

// Drop puts the carried item on an empty, wall-free cell.
func (g *Grid) Drop(id string, pos geom.Pos) error {
	p, err := g.player(id)
	if err != nil {
		return err
	}
	if err := g.checkReach(p, pos); err != nil {
		return err
	}
	if p.CurrentItem == nil {
		return actionErr(protocol.ErrHandsEmpty, "not carrying anything")
	}
	if g.HasItem(pos) || g.HasWall(pos) {
		return actionErr(protocol.ErrBlocked, fmt.Sprintf("position %s is occupied", pos))
	}
	it := p.CurrentItem
	it.At(pos)
	g.items[pos] = it
	p.CurrentItem = nil
	g.ItemsUpdated = true
	return nil
}

// ConsumeHeld eats one use of the carried item.
func (g *Grid) ConsumeHeld(id string) (float64, error) {
	p, err := g.player(id)
	if err != nil {
		return 0, err
	}
	it := p.CurrentItem
	if it == nil {
		return 0, consumeErr(protocol.ErrHandsEmpty, "not carrying anything")
	}
	if it.Calories() == 0 {
		return 0, consumeErr(protocol.ErrNotEdible, fmt.Sprintf("%s is not edible", it.Name()))
	}
	it.RemainingUses--
	if it.RemainingUses <= 0 {
		g.ItemsConsumed++
		p.CurrentItem = nil
	}
	cal := g.calories(p, it)
	p.Score += cal
	if pg := g.publicGood(it); pg != 0 {
		for _, o := range g.players {
			o.Score += pg
		}
	}
	return cal, nil
}

type TransitionResult struct {
	Rule         items.Rule
	Participants int
	Calories     int
	Consumed     []*items.Item
}

// Transition applies the rule for (carried item, item at pos). Calories are
// split between the player and every neighbour within distance 1.
func (g *Grid) Transition(id string, pos geom.Pos) (TransitionResult, error) {
	p, err := g.player(id)
	if err != nil {
		return TransitionResult{}, err
	}
	if err := g.checkReach(p, pos); err != nil {
		return TransitionResult{}, err
	}
	actor, target := p.CurrentItem, g.items[pos]
	rule, ok := g.cat.Transitions.Lookup(actor, target)
	if !ok {
		return TransitionResult{}, actionErr(protocol.ErrNoTransition, "nothing happens")
	}
	nbrs := g.Neighbors(p, 1)
	if rule.RequiredActors > 0 && len(nbrs)+1 < rule.RequiredActors {
		return TransitionResult{}, actionErr(protocol.ErrTooFewActors,
			fmt.Sprintf("needs %d players, have %d", rule.RequiredActors, len(nbrs)+1))
	}
	if rule.TargetEnd != "" && g.HasWall(pos) {
		return TransitionResult{}, actionErr(protocol.ErrBlocked, fmt.Sprintf("position %s is a wall", pos))
	}

	now := g.now()
	out := items.Apply(rule, actor, target, func(typeID string, onCell bool) *items.Item {
		t, _ := g.cat.Type(typeID)
		var at *geom.Pos
		if onCell {
			at = &pos
		}
		return items.New(t, g.nextID(), at, now)
	})

	consumed := out.Consumed(actor, target)
	g.ItemsConsumed += len(consumed)
	if out.ActorConsumed {
		p.CurrentItem = nil
		g.ItemsUpdated = true
	}
	if out.TargetConsumed {
		delete(g.items, pos)
		g.ItemsUpdated = true
	}
	if out.ActorChanged {
		p.CurrentItem = out.NewActor
		g.ItemsUpdated = true
	}
	if out.TargetChanged && out.NewTarget != nil {
		g.items[pos] = out.NewTarget
		g.ItemsUpdated = true
	}

	if out.Calories != 0 {
		each, rem := items.SplitCalories(out.Calories, len(nbrs)+1)
		for _, n := range nbrs {
			n.Score += float64(each)
		}
		p.Score += float64(each + rem)
	}
	return TransitionResult{Rule: rule, Participants: len(nbrs) + 1, Calories: out.Calories, Consumed: consumed}, nil
}
