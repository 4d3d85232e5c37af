// Package replay rebuilds a game's state at an arbitrary moment from its
// recorded events.
//
// Only four lookups are needed for any target time: the latest state that
// carried items, the latest that carried walls, the latest that carried
// players, and the discrete events (chat, rounds, donations, color changes)
// in between.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"griduniverse/internal/events"
	"griduniverse/internal/protocol"
	"griduniverse/internal/sim/grid"
)

var ErrNoEvents = errors.New("no events to replay")

type Engine struct {
	Store   events.Query
	NewGrid func() (*grid.Grid, error)
}

// EventsFor merges the indexed lookups for (after, target], without
// duplicates, oldest first.
func (e *Engine) EventsFor(ctx context.Context, after, target time.Time) ([]events.Event, error) {
	var out []events.Event
	seen := map[int64]bool{}
	add := func(ev events.Event) {
		if seen[ev.ID] {
			return
		}
		seen[ev.ID] = true
		out = append(out, ev)
	}

	for _, f := range []events.Field{events.FieldItems, events.FieldWalls, events.FieldPlayers} {
		ev, ok, err := e.Store.LatestState(ctx, f, after, target)
		if err != nil {
			return nil, fmt.Errorf("latest %s state: %w", f, err)
		}
		if ok {
			add(ev)
		}
	}
	typed, err := e.Store.ByTypes(ctx, events.Notable, after, target)
	if err != nil {
		return nil, fmt.Errorf("notable events: %w", err)
	}
	for _, ev := range typed {
		add(ev)
	}
	events.SortByTime(out)
	return out, nil
}

// RevertTo builds a fresh grid holding the state at target. Every replayed
// event is handed to publish, if set.
func (e *Engine) RevertTo(ctx context.Context, target time.Time, publish func(msg any)) (*grid.Grid, error) {
	c, err := e.NewCursor()
	if err != nil {
		return nil, err
	}
	n, err := c.Advance(ctx, target, publish)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNoEvents
	}
	return c.Grid, nil
}

// Cursor replays forward through time, applying only what changed since
// the previous position.
type Cursor struct {
	Engine *Engine
	Grid   *grid.Grid
	At     time.Time
	States int
}

func (e *Engine) NewCursor() (*Cursor, error) {
	g, err := e.NewGrid()
	if err != nil {
		return nil, fmt.Errorf("new grid: %w", err)
	}
	return &Cursor{Engine: e, Grid: g}, nil
}

// Advance applies the events in (At, to] and moves the cursor to to. It
// returns how many events were applied.
func (c *Cursor) Advance(ctx context.Context, to time.Time, publish func(msg any)) (int, error) {
	evs, err := c.Engine.EventsFor(ctx, c.At, to)
	if err != nil {
		return 0, err
	}
	for _, ev := range evs {
		if err := c.Apply(ev, publish); err != nil {
			return 0, fmt.Errorf("event %d: %w", ev.ID, err)
		}
	}
	c.At = to
	return len(evs), nil
}

// Apply replays one event onto the cursor's grid.
func (c *Cursor) Apply(ev events.Event, publish func(msg any)) error {
	if publish == nil {
		publish = func(any) {}
	}
	switch ev.Kind {
	case events.KindState:
		var st protocol.GridState
		if err := json.Unmarshal(ev.Details, &st); err != nil {
			return err
		}
		if err := c.Grid.Deserialize(st); err != nil {
			return err
		}
		c.States++
		publish(protocol.StateMsg{
			Type:          protocol.TypeState,
			Grid:          st,
			Count:         c.States,
			RemainingTime: c.Grid.RemainingRoundTime(),
			Round:         st.Round,
		})
	case events.KindEvent:
		publish(ev.Details)
		switch ev.Attrs().Type {
		case protocol.TypeNewRound:
			var m protocol.NewRoundMsg
			if err := json.Unmarshal(ev.Details, &m); err != nil {
				return err
			}
			c.Grid.Round = m.Round
		case protocol.TypeChat:
			var a protocol.Action
			if err := json.Unmarshal(ev.Details, &a); err != nil {
				return err
			}
			at := a.ServerTime
			if at == 0 {
				at = float64(ev.Time.UnixMilli()) / 1e3
			}
			c.Grid.AppendChat(grid.ChatEntry{PlayerID: a.PlayerID, Time: at, Contents: a.Contents})
		}
	}
	return nil
}

// UsableRange is the span worth replaying: from just after the first
// connect to the last move.
func UsableRange(evs []events.Event) (start, end time.Time, err error) {
	for _, ev := range evs {
		if ev.Kind != events.KindEvent {
			continue
		}
		switch ev.Attrs().Type {
		case protocol.TypeConnect:
			if start.IsZero() {
				start = ev.Time.Add(time.Second)
			}
		case protocol.TypeMove:
			if ev.Time.After(end) {
				end = ev.Time
			}
		}
	}
	if start.IsZero() || end.IsZero() {
		return start, end, ErrNoEvents
	}
	return start, end, nil
}

type PlayerMoves struct {
	PlayerID   string `json:"player_id"`
	TotalMoves int    `json:"total_moves"`
}

type RoundActions struct {
	RoundNumber int           `json:"round_number"`
	RoundData   []PlayerMoves `json:"round_data"`
}

type Report struct {
	AveragePayoff   float64        `json:"average_payoff"`
	AverageScore    float64        `json:"average_score"`
	NumberOfActions []RoundActions `json:"number_of_actions"`
	// AverageTimeToStart is seconds from created to each player's first
	// move, averaged over players that moved.
	AverageTimeToStart float64 `json:"average_time_to_start"`
}

// Analyze summarizes a finished game. created is when the game was set up;
// the first event's time is used when it is zero.
func Analyze(evs []events.Event, created time.Time) Report {
	sorted := append([]events.Event(nil), evs...)
	events.SortByTime(sorted)
	var r Report
	if len(sorted) == 0 {
		return r
	}
	if created.IsZero() {
		created = sorted[0].Time
	}

	var final *protocol.GridState
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Kind != events.KindState {
			continue
		}
		var st protocol.GridState
		if json.Unmarshal(sorted[i].Details, &st) == nil {
			final = &st
		}
		break
	}
	if final == nil {
		return r
	}
	if n := len(final.Players); n > 0 {
		for _, p := range final.Players {
			r.AveragePayoff += p.Payoff
			r.AverageScore += p.Score
		}
		r.AveragePayoff /= float64(n)
		r.AverageScore /= float64(n)
	}

	var round map[string]int
	firstMove := map[string]time.Time{}
	flush := func() {
		if len(round) == 0 {
			return
		}
		ra := RoundActions{RoundNumber: len(r.NumberOfActions) + 1}
		for id, n := range round {
			ra.RoundData = append(ra.RoundData, PlayerMoves{PlayerID: id, TotalMoves: n})
		}
		sort.Slice(ra.RoundData, func(i, j int) bool { return ra.RoundData[i].PlayerID < ra.RoundData[j].PlayerID })
		r.NumberOfActions = append(r.NumberOfActions, ra)
		round = nil
	}
	for _, ev := range sorted {
		if ev.Kind != events.KindEvent {
			continue
		}
		switch ev.Attrs().Type {
		case protocol.TypeNewRound:
			flush()
		case protocol.TypeMove:
			var a protocol.Action
			if json.Unmarshal(ev.Details, &a) != nil || a.PlayerID == "" {
				continue
			}
			if round == nil {
				round = map[string]int{}
			}
			round[a.PlayerID]++
			if _, ok := firstMove[a.PlayerID]; !ok {
				firstMove[a.PlayerID] = ev.Time
			}
		}
	}
	flush()

	if len(firstMove) > 0 {
		var sum time.Duration
		for _, t := range firstMove {
			sum += t.Sub(created)
		}
		r.AverageTimeToStart = (sum / time.Duration(len(firstMove))).Seconds()
	}
	return r
}
