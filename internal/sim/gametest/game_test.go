package gametest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"griduniverse/internal/events"
	"griduniverse/internal/persistence/snapshot"
	"griduniverse/internal/protocol"
	"griduniverse/internal/sim/game"
	"griduniverse/internal/sim/geom"
	"griduniverse/internal/sim/grid"
	"griduniverse/internal/sim/tuning"
)

const catalog = `
item_defaults:
  n_uses: 1
  spawn_rate: 1
  seasonal_growth_rate: 1
items:
  - {item_id: food, name: Food, calories: 5, portable: true}
  - {item_id: stone, name: Stone, portable: true}
`

const stonesCatalog = `
item_defaults:
  n_uses: 1
  spawn_rate: 1
  seasonal_growth_rate: 1
items:
  - {item_id: stone, name: Stone, portable: true, item_count: 2}
`

func pos(r, c int) *[2]int { return &[2]int{r, c} }

func TestJoin_WelcomeStartsGameAndRecordsState(t *testing.T) {
	h := New(t, Options{Catalog: catalog})
	s := h.MustJoin("p1")

	var w protocol.WelcomeMsg
	s.Last(t, protocol.TypeWelcome, &w)
	if w.PlayerID != "p1" || w.GameID != "test-game" || w.Rows != 10 || w.Columns != 10 || len(w.Colors) != 3 {
		t.Fatalf("welcome=%+v", w)
	}
	if !h.G.Metrics().Started {
		t.Fatalf("game should start with min_players=1")
	}
	if got := len(h.Recorded(protocol.TypeConnect)); got != 1 {
		t.Fatalf("connect events=%d", got)
	}

	h.Step()
	states := h.States()
	if len(states) != 2 {
		t.Fatalf("state events=%d want 2", len(states))
	}
	first, second := states[0].Attrs(), states[1].Attrs()
	if !first.HasPlayers || !first.HasWalls || !first.HasItems {
		t.Fatalf("first state should carry everything: %+v", first)
	}
	if !second.HasPlayers || second.HasWalls || second.HasItems {
		t.Fatalf("unchanged walls/items should be left out: %+v", second)
	}
}

func TestJoin_WaitsForMinPlayers(t *testing.T) {
	h := New(t, Options{Catalog: catalog, Tuning: func(c *tuning.Tuning) { c.MinPlayers = 2 }})
	h.MustJoin("p1")
	h.Step()
	if h.G.Metrics().Started || len(h.States()) != 0 {
		t.Fatalf("game started with one player")
	}
	h.MustJoin("p2")
	if !h.G.Metrics().Started || len(h.States()) != 1 {
		t.Fatalf("game should start once two players joined")
	}
}

func TestJoin_GameFull(t *testing.T) {
	h := New(t, Options{Catalog: catalog, Tuning: func(c *tuning.Tuning) { c.MaxParticipants = 1 }})
	h.MustJoin("p1")
	if _, err := h.Join("p2"); !errors.Is(err, game.ErrGameFull) {
		t.Fatalf("err=%v want ErrGameFull", err)
	}
	if _, err := h.Join("p1"); err != nil {
		t.Fatalf("rejoin should be allowed: %v", err)
	}
}

func TestMove_DoubleMoveIsRejected(t *testing.T) {
	h := New(t, Options{Catalog: catalog})
	s := h.MustJoin("p1")
	h.Place("p1", geom.P(5, 5))
	h.Advance(200 * time.Millisecond)

	h.Step(protocol.Action{Type: protocol.TypeMove, PlayerID: "p1", Move: "up"})
	h.Step(protocol.Action{Type: protocol.TypeMove, PlayerID: "p1", Move: "up"})

	p, _ := h.G.Grid().Player("p1")
	if p.Pos != geom.P(4, 5) {
		t.Fatalf("pos=%v want [4,5]", p.Pos)
	}
	var rej protocol.RejectionMsg
	s.Last(t, protocol.TypeMoveRejection, &rej)
	if rej.PlayerID != "p1" || rej.Code != protocol.ErrWaitTime || rej.Position == nil || *rej.Position != [2]int{4, 5} {
		t.Fatalf("rejection=%+v", rej)
	}

	moves := h.Recorded(protocol.TypeMove)
	if len(moves) != 2 {
		t.Fatalf("move events=%d", len(moves))
	}
	var a protocol.Action
	if err := json.Unmarshal(moves[0].Details, &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.Actual != "up" || a.ServerTime == 0 {
		t.Fatalf("recorded move=%+v", a)
	}
	var rejected protocol.Action
	if err := json.Unmarshal(moves[1].Details, &rejected); err != nil || rejected.Actual != "" {
		t.Fatalf("rejected move should have no actual direction: %+v", rejected)
	}
}

func TestRounds_NewRoundThenStop(t *testing.T) {
	h := New(t, Options{Catalog: catalog, Tuning: func(c *tuning.Tuning) {
		c.TimePerRound = 1
		c.NumRounds = 2
	}})
	s := h.MustJoin("p1")

	h.Advance(time.Second)
	var nr protocol.NewRoundMsg
	s.Last(t, protocol.TypeNewRound, &nr)
	if nr.Round != 1 || h.G.Over() {
		t.Fatalf("round=%d over=%v", nr.Round, h.G.Over())
	}
	if got := len(h.Recorded(protocol.TypeNewRound)); got != 1 {
		t.Fatalf("new_round events=%d", got)
	}

	h.Advance(time.Second)
	if !h.G.Over() {
		t.Fatalf("game should be over after the last round")
	}
	if len(s.Of(protocol.TypeStop)) != 1 {
		t.Fatalf("expected one stop message")
	}
	if len(s.Of(protocol.TypeNewRound)) != 1 || len(h.Recorded(protocol.TypeNewRound)) != 1 {
		t.Fatalf("the final round must end with stop, not new_round")
	}

	states, sent := len(h.States()), len(s.Of(protocol.TypeState))
	h.Step()
	h.Broadcast()
	if len(h.States()) != states || len(s.Of(protocol.TypeState)) != sent {
		t.Fatalf("nothing should run after game over")
	}
	if _, err := h.Join("p2"); !errors.Is(err, game.ErrGameOver) {
		t.Fatalf("join after game over: %v", err)
	}
}

func TestBroadcast_WallsAndItemsOnlyWhenNeeded(t *testing.T) {
	h := New(t, Options{Catalog: stonesCatalog})
	s := h.MustJoin("p1")

	last := func() protocol.StateMsg {
		var st protocol.StateMsg
		s.Last(t, protocol.TypeState, &st)
		return st
	}

	h.Broadcast()
	st := last()
	if st.Grid.Walls == nil || st.Grid.Items == nil || len(*st.Grid.Items) != 2 || st.Count != 1 {
		t.Fatalf("first broadcast should be complete: %+v", st)
	}
	h.Broadcast()
	if st = last(); st.Grid.Walls != nil || st.Grid.Items != nil {
		t.Fatalf("second broadcast should omit walls and items")
	}

	h.MustJoin("p2")
	h.Broadcast()
	if st = last(); st.Grid.Walls == nil || st.Grid.Items == nil || len(st.Grid.Players) != 2 {
		t.Fatalf("player count change should resend everything")
	}

	for st.Count < 49 {
		h.Broadcast()
		st = last()
	}
	if st.Grid.Items != nil {
		t.Fatalf("broadcast %d should omit items", st.Count)
	}
	h.Broadcast()
	if st = last(); st.Count != 50 || st.Grid.Items == nil || st.Grid.Walls != nil {
		t.Fatalf("broadcast 50 should refresh items only: count=%d", st.Count)
	}
}

func TestBroadcast_ItemChangeResendsItems(t *testing.T) {
	h := New(t, Options{Catalog: stonesCatalog})
	s := h.MustJoin("p1")
	h.Broadcast()
	h.Broadcast()

	it := h.G.Grid().Items()[0]
	h.Place("p1", *it.Pos)
	h.Step(protocol.Action{Type: protocol.TypeItemPickUp, PlayerID: "p1", Position: pos(it.Pos.Row, it.Pos.Col)})
	h.Broadcast()

	var st protocol.StateMsg
	s.Last(t, protocol.TypeState, &st)
	if st.Grid.Items == nil || len(*st.Grid.Items) != 1 {
		t.Fatalf("items should be resent after pick up: %+v", st.Grid.Items)
	}
	if ev := h.States(); !ev[len(ev)-1].Attrs().HasItems {
		t.Fatalf("state event after pick up should carry items")
	}
}

func TestActionErrors_CarryContext(t *testing.T) {
	h := New(t, Options{Catalog: catalog})
	s := h.MustJoin("p1")
	h.Place("p1", geom.P(5, 5))
	at := geom.P(5, 6)
	if _, err := h.G.Grid().SpawnItem(&at, "stone"); err != nil {
		t.Fatalf("spawn: %v", err)
	}

	h.Step(protocol.Action{Type: protocol.TypeItemPickUp, PlayerID: "p1"})
	var rej protocol.RejectionMsg
	s.Last(t, protocol.TypeActionError, &rej)
	if rej.Code != protocol.ErrBadRequest {
		t.Fatalf("missing position: %+v", rej)
	}

	h.Step(protocol.Action{Type: protocol.TypeItemPickUp, PlayerID: "p1", Position: pos(5, 6)})
	h.Step(protocol.Action{Type: protocol.TypeItemPickUp, PlayerID: "p1", Position: pos(4, 5)})
	s.Last(t, protocol.TypeActionError, &rej)
	if rej.Code != protocol.ErrHandsFull || *rej.Position != [2]int{4, 5} {
		t.Fatalf("rejection=%+v", rej)
	}
	if rej.PlayerItem == nil || rej.PlayerItem.ItemID != "stone" || rej.Item != nil {
		t.Fatalf("rejection items: player=%+v item=%+v", rej.PlayerItem, rej.Item)
	}

	h.Step(protocol.Action{Type: protocol.TypeItemConsume, PlayerID: "p1"})
	s.Last(t, protocol.TypeConsumeError, &rej)
	if rej.Code != protocol.ErrNotEdible {
		t.Fatalf("consume stone: %+v", rej)
	}
}

func TestDispatch_UnknownPlayerAndType(t *testing.T) {
	h := New(t, Options{Catalog: catalog})
	h.MustJoin("p1")
	err := h.G.Dispatch(protocol.Action{Type: protocol.TypeMove, PlayerID: "ghost", Move: "up"})
	if !errors.Is(err, grid.ErrUnknownPlayer) {
		t.Fatalf("err=%v want ErrUnknownPlayer", err)
	}
	if err := h.G.Dispatch(protocol.Action{Type: "teleport", PlayerID: "p1"}); err == nil {
		t.Fatalf("unknown type should fail")
	}
	if got := len(h.Recorded(protocol.TypeMove)); got != 0 {
		t.Fatalf("failed dispatch recorded %d events", got)
	}
}

func TestChat_HistoryAndBroadcastFlag(t *testing.T) {
	h := New(t, Options{Catalog: catalog})
	s := h.MustJoin("p1")
	h.Step(protocol.Action{Type: protocol.TypeChat, PlayerID: "p1", Contents: "hello"})
	h.Step(protocol.Action{Type: protocol.TypeChat, PlayerID: "p1", Contents: "quiet", Broadcast: true})

	if n := len(s.Of(protocol.TypeChat)); n != 1 {
		t.Fatalf("published chats=%d want 1", n)
	}
	hist := h.G.Grid().ChatHistory()
	if len(hist) != 2 || hist[0].Contents != "hello" || hist[0].Time == 0 {
		t.Fatalf("history=%+v", hist)
	}
	if n := len(h.Recorded(protocol.TypeChat)); n != 2 {
		t.Fatalf("chat events=%d", n)
	}
}

func TestDonation_ProcessedAndRecorded(t *testing.T) {
	h := New(t, Options{Catalog: catalog, Tuning: func(c *tuning.Tuning) {
		c.Payoffs.InitialScore = 10
		c.Donation.Amount = 1
		c.Donation.Individual = true
	}})
	s := h.MustJoin("p1")
	h.MustJoin("p2")

	h.Step(protocol.Action{Type: protocol.TypeDonation, PlayerID: "p1", DonorID: "p1", RecipientID: "p2", Amount: 4})
	var d protocol.DonationProcessedMsg
	s.Last(t, protocol.TypeDonationProcessed, &d)
	if d.Received != 4 || d.RecipientID != "p2" {
		t.Fatalf("donation=%+v", d)
	}
	p1, _ := h.G.Grid().Player("p1")
	p2, _ := h.G.Grid().Player("p2")
	if p1.Score != 6 || p2.Score != 14 {
		t.Fatalf("scores p1=%v p2=%v", p1.Score, p2.Score)
	}
	if n := len(h.Recorded(protocol.TypeDonationProcessed)); n != 1 {
		t.Fatalf("donation events=%d", n)
	}

	h.Step(protocol.Action{Type: protocol.TypeDonation, PlayerID: "p1", RecipientID: "p2", Amount: 100})
	var rej protocol.RejectionMsg
	s.Last(t, protocol.TypeActionError, &rej)
	if rej.Code != protocol.ErrNoResource {
		t.Fatalf("rejection=%+v", rej)
	}
}

func TestChangeColor_PublishesAndRecords(t *testing.T) {
	h := New(t, Options{Catalog: catalog, Tuning: func(c *tuning.Tuning) { c.Colors.MutableColors = true }})
	s := h.MustJoin("p1")
	p, _ := h.G.Grid().Player("p1")
	colors := h.G.Grid().ColorNames()
	next := colors[(p.ColorIdx+1)%len(colors)]

	h.Step(protocol.Action{Type: protocol.TypeChangeColor, PlayerID: "p1", Color: colors[p.ColorIdx]})
	if len(s.Of(protocol.TypeColorChanged)) != 0 {
		t.Fatalf("same color should be a no-op")
	}
	h.Step(protocol.Action{Type: protocol.TypeChangeColor, PlayerID: "p1", Color: next})
	var cc protocol.ColorChangedMsg
	s.Last(t, protocol.TypeColorChanged, &cc)
	if cc.NewColor != next {
		t.Fatalf("color_changed=%+v", cc)
	}
	if n := len(h.Recorded(protocol.TypeColorChanged)); n != 1 {
		t.Fatalf("color events=%d", n)
	}
}

func TestLeave_DisconnectsButKeepsPlayer(t *testing.T) {
	h := New(t, Options{Catalog: catalog})
	s := h.MustJoin("p1")
	h.Leave(s)
	p, ok := h.G.Grid().Player("p1")
	if !ok || p.Connected {
		t.Fatalf("player should stay, disconnected: %+v", p)
	}
	if n := len(h.Recorded(protocol.TypeDisconnect)); n != 1 {
		t.Fatalf("disconnect events=%d", n)
	}
	if m := h.G.Metrics(); m.Clients != 0 || m.Players != 1 || m.Connected != 0 {
		t.Fatalf("metrics=%+v", m)
	}
}

func TestSpectator_GetsFullStateWithoutAvatar(t *testing.T) {
	h := New(t, Options{Catalog: stonesCatalog})
	h.MustJoin("p1")
	s := h.MustJoin(protocol.Spectator)

	var w protocol.WelcomeMsg
	s.Last(t, protocol.TypeWelcome, &w)
	if w.PlayerID != protocol.Spectator {
		t.Fatalf("welcome=%+v", w)
	}
	var st protocol.StateMsg
	s.Last(t, protocol.TypeState, &st)
	if st.Grid.Items == nil || len(*st.Grid.Items) != 2 || len(st.Grid.Players) != 1 {
		t.Fatalf("spectator state=%+v", st.Grid)
	}
	if h.G.Grid().NumPlayers() != 1 || h.G.Metrics().Spectators != 1 {
		t.Fatalf("spectator must not spawn")
	}
}

func TestReplayMode_OnlyConnections(t *testing.T) {
	h := New(t, Options{Catalog: catalog, Game: func(c *game.Config) { c.Replay = true }})
	s := h.MustJoin("p1")
	if s.ConnID == "p1" || h.G.Grid().NumPlayers() != 0 {
		t.Fatalf("replay joins should be spectators: conn=%s", s.ConnID)
	}
	if err := h.G.Dispatch(protocol.Action{Type: protocol.TypeChat, PlayerID: "p1", Contents: "x"}); err != nil {
		t.Fatalf("replay should ignore actions: %v", err)
	}
	if len(h.G.Grid().ChatHistory()) != 0 || h.Store.Len() != 0 {
		t.Fatalf("replay must not change or record anything")
	}
}

func TestSnapshot_EveryNTicksNeverBlocks(t *testing.T) {
	h := New(t, Options{Catalog: catalog, Tuning: func(c *tuning.Tuning) { c.SnapshotEveryTicks = 2 }})
	sink := make(chan snapshot.SnapshotV1, 1)
	h.G.SetSnapshotSink(sink)
	h.MustJoin("p1")
	for i := 0; i < 5; i++ {
		h.Step()
	}
	select {
	case snap := <-sink:
		if snap.Header.Tick != 2 || snap.Header.GameID != "test-game" || len(snap.Grid.State.Players) != 1 {
			t.Fatalf("snapshot header=%+v players=%d", snap.Header, len(snap.Grid.State.Players))
		}
	default:
		t.Fatalf("expected a snapshot")
	}
}

type brokenSink struct{}

func (brokenSink) Append(context.Context, events.Event) (int64, error) {
	return 0, errors.New("disk full")
}

func TestRecordFailures_AreCountedNotFatal(t *testing.T) {
	h := New(t, Options{Catalog: catalog, Game: func(c *game.Config) { c.Sink = brokenSink{} }})
	h.MustJoin("p1")
	h.Step()
	if m := h.G.Metrics(); m.EventsFailed == 0 || m.EventsRecorded != 0 || m.Tick != 2 {
		t.Fatalf("metrics=%+v", m)
	}
}

func TestRun_JoinSubmitAndShutdown(t *testing.T) {
	h := New(t, Options{Catalog: catalog})
	g := h.G
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()
	out := make(chan []byte, 64)
	resp, err := g.Join(callCtx, game.JoinRequest{PlayerID: "p1", Out: out})
	if err != nil || resp.Welcome.PlayerID != "p1" {
		t.Fatalf("join: %+v %v", resp, err)
	}
	if err := g.Submit(callCtx, protocol.Action{Type: protocol.TypeChat, PlayerID: "p1", Contents: "hi"}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	st, err := g.State(callCtx)
	if err != nil || len(st.Grid.Players) != 1 || st.Grid.Walls == nil {
		t.Fatalf("state: %+v %v", st, err)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not exit")
	}
	if err := g.Submit(context.Background(), protocol.Action{Type: protocol.TypeChat, PlayerID: "p1"}); !errors.Is(err, game.ErrGameOver) {
		t.Fatalf("submit after shutdown: %v", err)
	}
}
