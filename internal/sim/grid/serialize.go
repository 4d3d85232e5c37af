package grid

import (
	"fmt"
	"math"
	"time"

	"griduniverse/internal/protocol"
	"griduniverse/internal/sim/geom"
	"griduniverse/internal/sim/items"
)

// Timestamps travel as unix seconds with millisecond precision so that a
// decode/encode cycle reproduces the same bytes.
func toUnixSeconds(t time.Time) float64 { return float64(t.UnixMilli()) / 1e3 }

func fromUnixSeconds(s float64) time.Time { return time.UnixMilli(int64(math.Round(s * 1e3))) }

func secondsToDuration(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func posArray(p geom.Pos) [2]int { return [2]int{p.Row, p.Col} }

func (g *Grid) itemState(it *items.Item, now time.Time) *protocol.ItemState {
	if it == nil {
		return nil
	}
	s := &protocol.ItemState{
		ID:                it.ID,
		ItemID:            it.TypeID(),
		Maturity:          math.Round(it.Maturity(now)*10) / 10,
		CreationTimestamp: toUnixSeconds(it.Created),
		RemainingUses:     it.RemainingUses,
	}
	if it.Pos != nil {
		a := posArray(*it.Pos)
		s.Position = &a
	}
	return s
}

// ItemState is the wire form of an item, as sent in rejections.
func (g *Grid) ItemState(it *items.Item) *protocol.ItemState {
	return g.itemState(it, g.now())
}

func (g *Grid) playerState(p *Player, now time.Time) protocol.PlayerState {
	return protocol.PlayerState{
		ID:               p.ID,
		Position:         posArray(p.Pos),
		Score:            p.Score,
		Payoff:           p.Payoff,
		Color:            g.colorName(p.ColorIdx),
		MotionAuto:       p.MotionAuto,
		MotionDirection:  string(p.MotionDirection),
		MotionSpeedLimit: p.MotionSpeedLimit,
		MotionTimestamp:  p.MotionTimestamp,
		Name:             p.Name,
		IdentityVisible:  p.IdentityVisible,
		RecruiterID:      p.RecruiterID,
		CurrentItem:      g.itemState(p.CurrentItem, now),
	}
}

// Serialize renders the grid. Walls and items are left out (not emptied)
// unless requested.
func (g *Grid) Serialize(includeWalls, includeItems bool) protocol.GridState {
	now := g.now()
	st := protocol.GridState{
		Players:        make([]protocol.PlayerState, 0, len(g.players)),
		Round:          g.Round,
		DonationActive: g.DonationActive(),
		Rows:           g.Rows,
		Columns:        g.Columns,
	}
	for _, p := range g.Players() {
		st.Players = append(st.Players, g.playerState(p, now))
	}
	if includeWalls {
		walls := make([]protocol.WallState, 0, len(g.walls))
		for _, w := range g.Walls() {
			walls = append(walls, protocol.WallState{Position: posArray(w.Pos), Color: w.Color})
		}
		st.Walls = &walls
	}
	if includeItems {
		its := make([]protocol.ItemState, 0, len(g.items))
		for _, it := range g.Items() {
			its = append(its, *g.itemState(it, now))
		}
		st.Items = &its
	}
	return st
}

func (g *Grid) decodeItem(s protocol.ItemState) (*items.Item, error) {
	t, ok := g.cat.Type(s.ItemID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownItemType, s.ItemID)
	}
	it := items.New(t, s.ID, nil, fromUnixSeconds(s.CreationTimestamp))
	it.RemainingUses = s.RemainingUses
	if s.Position != nil {
		it.At(geom.P(s.Position[0], s.Position[1]))
	}
	if s.ID > g.nextItemID {
		g.nextItemID = s.ID
	}
	return it, nil
}

// LoadLayout seeds the grid from a hand-drawn layout. Layout players carry
// only an id, color and position, so their score and pacing come from the
// tuning.
func (g *Grid) LoadLayout(st protocol.GridState) error {
	if err := g.Deserialize(st); err != nil {
		return err
	}
	c := g.cfg
	for _, ps := range st.Players {
		p := g.players[ps.ID]
		if ps.Score == 0 {
			p.Score = c.Payoffs.InitialScore
		}
		if !ps.MotionAuto {
			p.MotionAuto = c.Motion.Auto
		}
		if !ps.IdentityVisible {
			p.IdentityVisible = !c.Colors.IdentitySignaling || c.Colors.IdentityStartsVisible
		}
		g.joined++
	}
	return nil
}

// Deserialize replaces players, and walls and items when present, with the
// given state. The grid dimensions must match.
func (g *Grid) Deserialize(st protocol.GridState) error {
	if st.Rows != g.Rows || st.Columns != g.Columns {
		return fmt.Errorf("state has wrong grid size (%dx%d, configured as %dx%d)", st.Rows, st.Columns, g.Rows, g.Columns)
	}

	players := make(map[string]*Player, len(st.Players))
	for _, ps := range st.Players {
		idx := g.colorIndex(ps.Color)
		if idx < 0 {
			return fmt.Errorf("player %s: unknown color %q", ps.ID, ps.Color)
		}
		speed := ps.MotionSpeedLimit
		if speed <= 0 {
			speed = g.cfg.Motion.SpeedLimit
		}
		p := &Player{
			ID:               ps.ID,
			Name:             ps.Name,
			Pos:              geom.P(ps.Position[0], ps.Position[1]),
			ColorIdx:         idx,
			Score:            ps.Score,
			Payoff:           ps.Payoff,
			MotionAuto:       ps.MotionAuto,
			MotionDirection:  geom.Direction(ps.MotionDirection),
			MotionSpeedLimit: speed,
			MotionTimestamp:  ps.MotionTimestamp,
			MotionCost:       g.cfg.Motion.Cost,
			TrembleRate:      g.cfg.Motion.TrembleRate,
			IdentityVisible:  ps.IdentityVisible,
			RecruiterID:      ps.RecruiterID,
		}
		if old, ok := g.players[ps.ID]; ok {
			p.Username, p.LastTimestamp, p.Connected, p.PendingWall = old.Username, old.LastTimestamp, old.Connected, old.PendingWall
		}
		if ps.CurrentItem != nil {
			it, err := g.decodeItem(*ps.CurrentItem)
			if err != nil {
				return fmt.Errorf("player %s: %w", ps.ID, err)
			}
			it.Pos = nil
			p.CurrentItem = it
		}
		players[p.ID] = p
	}

	var walls map[geom.Pos]*Wall
	if st.Walls != nil {
		walls = make(map[geom.Pos]*Wall, len(*st.Walls))
		for _, ws := range *st.Walls {
			pos := geom.P(ws.Position[0], ws.Position[1])
			walls[pos] = &Wall{Pos: pos, Color: ws.Color}
		}
	}
	var placed map[geom.Pos]*items.Item
	if st.Items != nil {
		placed = make(map[geom.Pos]*items.Item, len(*st.Items))
		for _, is := range *st.Items {
			if is.Position == nil {
				return fmt.Errorf("item %d has no position", is.ID)
			}
			it, err := g.decodeItem(is)
			if err != nil {
				return err
			}
			placed[*it.Pos] = it
		}
	}

	g.Round = st.Round
	g.players = players
	if walls != nil {
		g.walls = walls
		g.WallsUpdated = true
	}
	if placed != nil {
		g.items = placed
		g.ItemsUpdated = true
	}
	return nil
}

// ItemsChanged reports whether the placed items differ from a previously
// serialized list, by position, id or displayed maturity.
func (g *Grid) ItemsChanged(last []protocol.ItemState) bool {
	if len(last) != len(g.items) {
		return true
	}
	now := g.now()
	for _, s := range last {
		if s.Position == nil {
			return true
		}
		it, ok := g.items[geom.P(s.Position[0], s.Position[1])]
		if !ok || it.ID != s.ID {
			return true
		}
		if math.Round(it.Maturity(now)*10)/10 != s.Maturity {
			return true
		}
	}
	return false
}

// Snapshot is everything needed to resume a game, including the bookkeeping
// that the wire state leaves out.
type Snapshot struct {
	State         protocol.GridState
	Started       bool
	Elapsed       float64
	TargetCounts  map[string]float64
	ItemsConsumed int
	NextItemID    int64
	Joined        int
	Chat          []ChatEntry
}

func (g *Grid) Export() Snapshot {
	s := Snapshot{
		State:         g.Serialize(true, true),
		Started:       g.start != nil,
		Elapsed:       g.ElapsedRoundTime(),
		TargetCounts:  make(map[string]float64, len(g.targetCount)),
		ItemsConsumed: g.ItemsConsumed,
		NextItemID:    g.nextItemID,
		Joined:        g.joined,
		Chat:          g.ChatHistory(),
	}
	for k, v := range g.targetCount {
		s.TargetCounts[k] = v
	}
	return s
}

// Import restores a snapshot. Players come back disconnected; the round
// clock resumes at the recorded elapsed time.
func (g *Grid) Import(s Snapshot) error {
	g.walls = map[geom.Pos]*Wall{}
	g.items = map[geom.Pos]*items.Item{}
	g.players = map[string]*Player{}
	if err := g.Deserialize(s.State); err != nil {
		return err
	}
	for k, v := range s.TargetCounts {
		g.targetCount[k] = v
	}
	g.ItemsConsumed = s.ItemsConsumed
	if s.NextItemID > g.nextItemID {
		g.nextItemID = s.NextItemID
	}
	g.joined = s.Joined
	g.chat = append([]ChatEntry(nil), s.Chat...)
	g.start = nil
	if s.Started {
		st := g.now().Add(-secondsToDuration(s.Elapsed))
		g.start = &st
	}
	return nil
}
