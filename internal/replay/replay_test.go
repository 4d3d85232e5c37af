package replay

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"griduniverse/internal/events"
	"griduniverse/internal/persistence/indexdb"
	"griduniverse/internal/protocol"
	"griduniverse/internal/sim/game"
	"griduniverse/internal/sim/gametest"
	"griduniverse/internal/sim/grid"
)

const stones = `
item_defaults:
  n_uses: 1
  spawn_rate: 1
  seasonal_growth_rate: 1
items:
  - {item_id: stone, name: Stone, portable: true, item_count: 2}
`

func engineFor(h *gametest.Harness, store events.Query) *Engine {
	return &Engine{
		Store: store,
		NewGrid: func() (*grid.Grid, error) {
			return grid.New(h.G.Tuning(), h.G.Catalogs(), grid.Options{Clock: h.Clock.Now}), nil
		},
	}
}

// play runs a short game with moves, chat and a color change.
func play(h *gametest.Harness) {
	h.MustJoin("p1")
	h.MustJoin("p2")
	h.Advance(time.Second)
	h.Step(
		protocol.Action{Type: protocol.TypeMove, PlayerID: "p1", Move: "up"},
		protocol.Action{Type: protocol.TypeChat, PlayerID: "p2", Contents: "hello"},
	)
	h.Advance(time.Second)
	h.Step(
		protocol.Action{Type: protocol.TypeMove, PlayerID: "p2", Move: "left"},
		protocol.Action{Type: protocol.TypeChangeColor, PlayerID: "p1", Color: h.G.Grid().ColorNames()[1]},
	)
	h.Step(protocol.Action{Type: protocol.TypeChat, PlayerID: "p1", Contents: "bye"})
}

type view struct {
	Round   int
	Players map[string][2]int
	Colors  map[string]string
	Walls   []protocol.WallState
	Items   []protocol.ItemState
	Chat    []string
}

func viewOf(t *testing.T, g *grid.Grid) view {
	t.Helper()
	st := g.Serialize(true, true)
	v := view{Round: st.Round, Players: map[string][2]int{}, Colors: map[string]string{}, Walls: *st.Walls}
	for _, p := range st.Players {
		v.Players[p.ID] = p.Position
		v.Colors[p.ID] = p.Color
	}
	for _, it := range *st.Items {
		it.Maturity = 0
		v.Items = append(v.Items, it)
	}
	for _, c := range g.ChatHistory() {
		v.Chat = append(v.Chat, c.PlayerID+":"+c.Contents)
	}
	return v
}

func TestRevertTo_MatchesLiveGame(t *testing.T) {
	h := gametest.New(t, gametest.Options{Catalog: stones})
	play(h)

	var published []any
	g, err := engineFor(h, h.Store).RevertTo(context.Background(), h.Clock.Now(), func(m any) { published = append(published, m) })
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	want, got := viewOf(t, h.G.Grid()), viewOf(t, g)
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("replayed state differs\nlive:   %+v\nreplay: %+v", want, got)
	}
	if len(got.Chat) != 2 {
		t.Fatalf("chat=%v", got.Chat)
	}

	var states int
	for _, m := range published {
		if st, ok := m.(protocol.StateMsg); ok {
			states++
			if st.Count != states {
				t.Fatalf("state count=%d want %d", st.Count, states)
			}
		}
	}
	if states == 0 {
		t.Fatalf("no state published")
	}
}

func TestRevertTo_FromSQLiteIndex(t *testing.T) {
	idx, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "game.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	h := gametest.New(t, gametest.Options{Catalog: stones, Game: func(c *game.Config) {
		c.Sink = events.Tee{Primary: idx, Mirrors: []events.Sink{events.NewMemoryStore()}}
	}})
	play(h)
	if err := idx.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	g, err := engineFor(h, idx).RevertTo(context.Background(), h.Clock.Now(), nil)
	if err != nil {
		t.Fatalf("revert: %v", err)
	}
	want, got := viewOf(t, h.G.Grid()), viewOf(t, g)
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("replayed state differs\nlive:   %+v\nreplay: %+v", want, got)
	}
}

func TestRevertTo_BeforeAnythingHappened(t *testing.T) {
	h := gametest.New(t, gametest.Options{Catalog: stones})
	play(h)
	_, err := engineFor(h, h.Store).RevertTo(context.Background(), gametest.Epoch.Add(-time.Minute), nil)
	if !errors.Is(err, ErrNoEvents) {
		t.Fatalf("err=%v want ErrNoEvents", err)
	}
}

func TestCursor_AdvanceOnlyAppliesNewEvents(t *testing.T) {
	h := gametest.New(t, gametest.Options{Catalog: stones})
	play(h)
	c, err := engineFor(h, h.Store).NewCursor()
	if err != nil {
		t.Fatalf("cursor: %v", err)
	}
	ctx := context.Background()
	mid := gametest.Epoch.Add(1500 * time.Millisecond)
	if _, err := c.Advance(ctx, mid, nil); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if n := len(c.Grid.ChatHistory()); n != 1 {
		t.Fatalf("chat at mid=%d want 1", n)
	}
	if _, err := c.Advance(ctx, h.Clock.Now(), nil); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if n := len(c.Grid.ChatHistory()); n != 2 {
		t.Fatalf("chat at end=%d want 2", n)
	}
	n, err := c.Advance(ctx, h.Clock.Now(), nil)
	if err != nil || n != 0 {
		t.Fatalf("second advance to the same time applied %d events (err=%v)", n, err)
	}
}

func TestEventsFor_Dedups(t *testing.T) {
	store := events.NewMemoryStore()
	t0 := gametest.Epoch
	add := func(kind events.Kind, at time.Time, details string) {
		if _, err := store.Append(context.Background(), events.Event{Kind: kind, Time: at, Details: json.RawMessage(details)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	add(events.KindState, t0.Add(time.Second), `{"players":[],"walls":[],"items":[]}`)
	add(events.KindState, t0.Add(2*time.Second), `{"players":[]}`)
	add(events.KindEvent, t0.Add(3*time.Second), `{"type":"chat"}`)
	add(events.KindEvent, t0.Add(3*time.Second), `{"type":"move"}`)

	e := &Engine{Store: store}
	evs, err := e.EventsFor(context.Background(), t0, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	var ids []int64
	for _, ev := range evs {
		ids = append(ids, ev.ID)
	}
	if !reflect.DeepEqual(ids, []int64{1, 2, 3}) {
		t.Fatalf("ids=%v want [1 2 3]", ids)
	}
}

func TestUsableRange(t *testing.T) {
	h := gametest.New(t, gametest.Options{Catalog: stones})
	play(h)
	all, _ := h.Store.Range(context.Background(), time.Time{}, h.Clock.Now())
	start, end, err := UsableRange(all)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if !start.Equal(gametest.Epoch.Add(time.Second)) {
		t.Fatalf("start=%v", start)
	}
	moves := h.Recorded(protocol.TypeMove)
	if !end.Equal(moves[len(moves)-1].Time) {
		t.Fatalf("end=%v want last move", end)
	}

	if _, _, err := UsableRange(nil); !errors.Is(err, ErrNoEvents) {
		t.Fatalf("empty err=%v", err)
	}
}

func TestAnalyze(t *testing.T) {
	t0 := gametest.Epoch
	ev := func(kind events.Kind, sec int, details string) events.Event {
		return events.Event{Kind: kind, Time: t0.Add(time.Duration(sec) * time.Second), Details: json.RawMessage(details)}
	}
	evs := []events.Event{
		ev(events.KindEvent, 2, `{"type":"move","player_id":"a"}`),
		ev(events.KindEvent, 4, `{"type":"move","player_id":"b"}`),
		ev(events.KindEvent, 5, `{"type":"move","player_id":"a"}`),
		ev(events.KindEvent, 6, `{"type":"new_round","round":1}`),
		ev(events.KindEvent, 7, `{"type":"new_round","round":2}`),
		ev(events.KindEvent, 8, `{"type":"move","player_id":"b"}`),
		ev(events.KindState, 9, `{"players":[{"id":"a","score":2,"payoff":1},{"id":"b","score":4,"payoff":3}]}`),
	}
	r := Analyze(evs, t0)
	if r.AveragePayoff != 2 || r.AverageScore != 3 {
		t.Fatalf("averages=%v/%v", r.AveragePayoff, r.AverageScore)
	}
	want := []RoundActions{
		{RoundNumber: 1, RoundData: []PlayerMoves{{"a", 2}, {"b", 1}}},
		{RoundNumber: 2, RoundData: []PlayerMoves{{"b", 1}}},
	}
	if !reflect.DeepEqual(r.NumberOfActions, want) {
		t.Fatalf("actions=%+v", r.NumberOfActions)
	}
	if r.AverageTimeToStart != 3 {
		t.Fatalf("time to start=%v want 3", r.AverageTimeToStart)
	}
	if got := Analyze(nil, t0); !reflect.DeepEqual(got, Report{}) {
		t.Fatalf("empty report=%+v", got)
	}
}
