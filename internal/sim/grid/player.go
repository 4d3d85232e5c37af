package grid

import (
	"fmt"
	"strings"

	"griduniverse/internal/protocol"
	"griduniverse/internal/sim/geom"
	"griduniverse/internal/sim/items"
)

type Player struct {
	ID       string
	Name     string
	Username string
	Pos      geom.Pos
	ColorIdx int
	Score    float64
	Payoff   float64

	MotionAuto       bool
	MotionDirection  geom.Direction
	MotionSpeedLimit float64
	// MotionTimestamp is the elapsed round time of the last move.
	MotionTimestamp float64
	// LastTimestamp is the client clock of the last move, when clients send one.
	LastTimestamp float64
	MotionCost    float64
	TrembleRate   float64

	IdentityVisible bool
	RecruiterID     string
	CurrentItem     *items.Item
	PendingWall     *geom.Pos

	Connected bool
}

type SpawnOptions struct {
	Name        string
	RecruiterID string
	// ColorIdx < 0 assigns colors round-robin in join order.
	ColorIdx int
}

// SpawnPlayer places a new player on an empty cell chosen by the player
// distribution. Spawning an id that already exists returns the existing
// player.
func (g *Grid) SpawnPlayer(id string, opts SpawnOptions) (*Player, error) {
	if p, ok := g.players[id]; ok {
		p.Connected = true
		return p, nil
	}
	pos, err := g.FindEmptyPosition(g.playerDist)
	if err != nil {
		return nil, err
	}
	idx := opts.ColorIdx
	if idx < 0 {
		idx = g.joined % g.numColors()
	}
	if idx >= g.numColors() {
		return nil, fmt.Errorf("color index %d out of range [0,%d)", idx, g.numColors())
	}
	g.joined++

	name := opts.Name
	username := strings.ToLower(id)
	if g.cfg.Colors.Pseudonyms {
		pn, pu := pseudonym(g.rng)
		if name == "" {
			name = pn
		}
		username = pu
	}
	if name == "" {
		name = id
	}

	c := g.cfg
	p := &Player{
		ID:               id,
		Name:             name,
		Username:         username,
		Pos:              pos,
		ColorIdx:         idx,
		Score:            c.Payoffs.InitialScore,
		MotionAuto:       c.Motion.Auto,
		MotionDirection:  geom.Right,
		MotionSpeedLimit: c.Motion.SpeedLimit,
		MotionCost:       c.Motion.Cost,
		TrembleRate:      c.Motion.TrembleRate,
		IdentityVisible:  !c.Colors.IdentitySignaling || c.Colors.IdentityStartsVisible,
		RecruiterID:      opts.RecruiterID,
		Connected:        true,
	}
	g.players[id] = p
	return p, nil
}

// SetConnected marks a player present or absent. Absent players stay on the
// grid and keep their score.
func (g *Grid) SetConnected(id string, connected bool) error {
	p, ok := g.players[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
	}
	p.Connected = connected
	return nil
}

// MoveResult describes an accepted move. Moved is false when movement is
// currently disabled and the request was ignored.
type MoveResult struct {
	Moved     bool
	Direction geom.Direction
	Wall      *Wall
}

// Move applies a move request for id. timestamp is the client clock in
// seconds; when nil the server's elapsed round time paces the player.
func (g *Grid) Move(id string, dir geom.Direction, timestamp *float64) (MoveResult, error) {
	p, ok := g.players[id]
	if !ok {
		return MoveResult{}, fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
	}
	return g.move(p, dir, p.TrembleRate, timestamp)
}

func (g *Grid) move(p *Player, dir geom.Direction, trembleRate float64, timestamp *float64) (MoveResult, error) {
	if !g.MovementEnabled() {
		return MoveResult{}, nil
	}
	if !dir.Valid() {
		return MoveResult{}, &IllegalMoveError{Code: protocol.ErrBadRequest, Reason: fmt.Sprintf("unknown direction %q", dir)}
	}
	if trembleRate > 0 && g.rng.Float64() < trembleRate {
		dir = tremble(g.rng.Intn, dir)
	}
	next := geom.Clamp(p.Pos.Add(dir.Delta()), g.Rows, g.Columns)

	waited := true
	if p.MotionSpeedLimit > 0 {
		wait := 1.0 / p.MotionSpeedLimit
		if timestamp == nil {
			waited = g.ElapsedRoundTime() > p.MotionTimestamp+wait
		} else {
			waited = *timestamp > p.LastTimestamp+wait
		}
	}
	if !waited {
		return MoveResult{}, &IllegalMoveError{Code: protocol.ErrWaitTime, Reason: "minimum wait time has not passed since last move"}
	}
	if p.Score < p.MotionCost {
		return MoveResult{}, &IllegalMoveError{Code: protocol.ErrNoResource, Reason: "not enough points to move right now"}
	}
	if !g.canOccupy(next, p) {
		return MoveResult{}, &IllegalMoveError{Code: protocol.ErrBlocked, Reason: fmt.Sprintf("position %s not open", next)}
	}

	p.Pos = next
	p.MotionDirection = dir
	p.MotionTimestamp = g.ElapsedRoundTime()
	if timestamp != nil {
		p.LastTimestamp = *timestamp
	}
	p.Score -= p.MotionCost

	res := MoveResult{Moved: true, Direction: dir}
	if p.PendingWall != nil {
		at := *p.PendingWall
		p.PendingWall = nil
		if !g.HasWall(at) {
			w := &Wall{Pos: at, Color: DefaultWallColor}
			g.walls[at] = w
			g.WallsUpdated = true
			res.Wall = w
		}
	}
	return res, nil
}

// AutoMove advances every auto-piloted player one step in its current
// direction. Blocked players simply stay put.
func (g *Grid) AutoMove() {
	for _, p := range g.Players() {
		if !p.MotionAuto {
			continue
		}
		_, _ = g.move(p, p.MotionDirection, 0, nil)
	}
}

func (g *Grid) canOccupy(pos geom.Pos, mover *Player) bool {
	if g.HasWall(pos) {
		return false
	}
	if g.cfg.PlayerOverlap {
		return true
	}
	for _, o := range g.players {
		if o != mover && o.Pos == pos {
			return false
		}
	}
	return true
}

// tremble picks one of the three other directions.
func tremble(intn func(int) int, dir geom.Direction) geom.Direction {
	others := make([]geom.Direction, 0, 3)
	for _, d := range geom.Directions {
		if d != dir {
			others = append(others, d)
		}
	}
	return others[intn(len(others))]
}
