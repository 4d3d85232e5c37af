package grid

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"griduniverse/internal/protocol"
	"griduniverse/internal/sim/catalogs"
	"griduniverse/internal/sim/geom"
	"griduniverse/internal/sim/tuning"
)

const testCatalog = `
item_defaults:
  n_uses: 1
  seasonal_growth_rate: 1
items:
  - {item_id: food, name: Food, calories: 5, portable: true}
  - {item_id: bush, name: Bush, n_uses: 6, interactive: true}
  - {item_id: berry, name: Berry, calories: 3, portable: true}
  - {item_id: empty_bush, name: Empty Bush, interactive: true}
  - {item_id: sprout, name: Sprout, interactive: true, auto_transition_time: 5, auto_transition_target: bud}
  - {item_id: bud, name: Bud, interactive: true, auto_transition_time: 5}
transitions:
  - {target_start: bush, actor_end: berry, target_end: bush, modify_uses: [0, -1], calories: 7}
  - {target_start: bush, actor_end: berry, target_end: empty_bush, modify_uses: [0, -1], last_use: true}
`

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestGrid(t *testing.T, mut func(*tuning.Tuning)) (*Grid, *fakeClock) {
	t.Helper()
	return newTestGridWithCatalog(t, testCatalog, mut)
}

func newTestGridWithCatalog(t *testing.T, doc string, mut func(*tuning.Tuning)) (*Grid, *fakeClock) {
	t.Helper()
	cats, err := catalogs.Parse([]byte(doc))
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	cfg := tuning.Defaults()
	cfg.Rows, cfg.Columns = 10, 10
	if mut != nil {
		mut(&cfg)
	}
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	g := New(cfg, cats, Options{Clock: clk.now, Rand: rand.New(rand.NewSource(7))})
	return g, clk
}

func mustSpawn(t *testing.T, g *Grid, id string, color int, pos geom.Pos) *Player {
	t.Helper()
	p, err := g.SpawnPlayer(id, SpawnOptions{ColorIdx: color})
	if err != nil {
		t.Fatalf("spawn %s: %v", id, err)
	}
	p.Pos = pos
	return p
}

func mustItem(t *testing.T, g *Grid, typeID string, pos geom.Pos) {
	t.Helper()
	if _, err := g.SpawnItem(&pos, typeID); err != nil {
		t.Fatalf("spawn item %s: %v", typeID, err)
	}
}

func TestConsume_MoveOntoFood(t *testing.T) {
	g, clk := newTestGrid(t, nil)
	a := mustSpawn(t, g, "a", 1, geom.P(0, 0))
	mustSpawn(t, g, "b", 2, geom.P(9, 9))
	mustItem(t, g, "food", geom.P(0, 1))
	g.Start()

	if n := g.Consume(); n != 0 {
		t.Fatalf("nobody stands on food yet, consumed=%d", n)
	}
	clk.advance(time.Second)
	if _, err := g.Move("a", geom.Right, nil); err != nil {
		t.Fatalf("move: %v", err)
	}
	if a.Pos != geom.P(0, 1) {
		t.Fatalf("pos=%v", a.Pos)
	}
	if n := g.Consume(); n != 1 {
		t.Fatalf("consumed=%d want 1", n)
	}
	if a.Score != 5 {
		t.Fatalf("score=%v want 5", a.Score)
	}
	if g.HasItem(geom.P(0, 1)) || g.ItemsConsumed != 1 || !g.ItemsUpdated {
		t.Fatalf("item not removed: consumed=%d updated=%v", g.ItemsConsumed, g.ItemsUpdated)
	}
}

func TestConsume_RelativeDeprivationAndPublicGood(t *testing.T) {
	doc := `
items:
  - {item_id: food, name: Food, calories: 6, n_uses: 1, public_good_multiplier: 1, respawn: true}
`
	g, _ := newTestGridWithCatalog(t, doc, func(c *tuning.Tuning) {
		c.Payoffs.RelativeDeprivation = 2
		c.MaxParticipants = 3
	})
	base := mustSpawn(t, g, "a", 0, geom.P(0, 0))
	other := mustSpawn(t, g, "b", 1, geom.P(5, 5))
	mustItem(t, g, "food", geom.P(0, 0))

	g.Consume()
	// 6*2 for the baseline team plus the public good 6*1/3 for everyone.
	if base.Score != 14 {
		t.Fatalf("eater score=%v want 14", base.Score)
	}
	if other.Score != 2 {
		t.Fatalf("bystander score=%v want 2", other.Score)
	}
	if got := len(g.Items()); got != 1 {
		t.Fatalf("respawn expected one item on grid, got %d", got)
	}
}

func TestMove_WaitTimeRejectsSecondMove(t *testing.T) {
	g, clk := newTestGrid(t, nil)
	mustSpawn(t, g, "a", 0, geom.P(5, 5))
	g.Start()
	clk.advance(time.Second)

	if _, err := g.Move("a", geom.Up, nil); err != nil {
		t.Fatalf("first move: %v", err)
	}
	_, err := g.Move("a", geom.Up, nil)
	var ill *IllegalMoveError
	if !errors.As(err, &ill) || ill.Code != protocol.ErrWaitTime {
		t.Fatalf("expected wait time rejection, got %v", err)
	}
	p, _ := g.Player("a")
	if p.Pos != geom.P(4, 5) {
		t.Fatalf("rejected move changed position: %v", p.Pos)
	}

	clk.advance(200 * time.Millisecond)
	if _, err := g.Move("a", geom.Up, nil); err != nil {
		t.Fatalf("move after wait: %v", err)
	}
}

func TestMove_ClientTimestamps(t *testing.T) {
	g, _ := newTestGrid(t, nil)
	mustSpawn(t, g, "a", 0, geom.P(5, 5))
	g.Start()

	ts := 10.0
	if _, err := g.Move("a", geom.Left, &ts); err != nil {
		t.Fatalf("move: %v", err)
	}
	ts = 10.05
	if _, err := g.Move("a", geom.Left, &ts); err == nil {
		t.Fatalf("expected rejection 50ms later")
	}
	ts = 10.2
	if _, err := g.Move("a", geom.Left, &ts); err != nil {
		t.Fatalf("move at 200ms: %v", err)
	}
}

func TestMove_BlockedCostAndEdges(t *testing.T) {
	g, clk := newTestGrid(t, func(c *tuning.Tuning) {
		c.Motion.Cost = 1
		c.Motion.SpeedLimit = 0
	})
	a := mustSpawn(t, g, "a", 0, geom.P(0, 0))
	mustSpawn(t, g, "b", 1, geom.P(0, 1))
	g.Start()
	clk.advance(time.Second)

	var ill *IllegalMoveError
	if _, err := g.Move("a", geom.Right, nil); !errors.As(err, &ill) || ill.Code != protocol.ErrNoResource {
		t.Fatalf("expected affordability rejection, got %v", err)
	}
	a.Score = 3
	if _, err := g.Move("a", geom.Right, nil); !errors.As(err, &ill) || ill.Code != protocol.ErrBlocked {
		t.Fatalf("expected blocked by player, got %v", err)
	}
	if a.Score != 3 {
		t.Fatalf("rejected move debited: %v", a.Score)
	}
	// Moving off the top edge clamps in place.
	if _, err := g.Move("a", geom.Up, nil); err != nil {
		t.Fatalf("edge move: %v", err)
	}
	if a.Pos != geom.P(0, 0) || a.Score != 2 {
		t.Fatalf("pos=%v score=%v", a.Pos, a.Score)
	}
	if _, err := g.Move("ghost", geom.Up, nil); !errors.Is(err, ErrUnknownPlayer) {
		t.Fatalf("expected unknown player, got %v", err)
	}
}

func TestMove_PendingWallIsBuilt(t *testing.T) {
	g, clk := newTestGrid(t, func(c *tuning.Tuning) {
		c.Walls.Build = true
		c.Walls.BuildingCost = 1
	})
	a := mustSpawn(t, g, "a", 0, geom.P(5, 5))
	a.Score = 1
	g.Start()
	clk.advance(time.Second)

	if err := g.BuildWall("a", geom.P(5, 5)); err != nil {
		t.Fatalf("build: %v", err)
	}
	if a.Score != 0 || a.PendingWall == nil {
		t.Fatalf("score=%v pending=%v", a.Score, a.PendingWall)
	}
	res, err := g.Move("a", geom.Down, nil)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if res.Wall == nil || res.Wall.Pos != geom.P(5, 5) || !g.HasWall(geom.P(5, 5)) {
		t.Fatalf("wall not built: %+v", res)
	}
	if err := g.BuildWall("a", geom.P(1, 1)); err == nil {
		t.Fatalf("expected affordability error")
	}
}

func TestMove_DisabledDuringDonationRounds(t *testing.T) {
	g, clk := newTestGrid(t, func(c *tuning.Tuning) {
		c.Donation.AlternateConsumption = true
		c.Donation.Amount = 1
		c.Donation.Public = true
		c.NumRounds = 3
	})
	a := mustSpawn(t, g, "a", 0, geom.P(5, 5))
	g.Start()
	g.Round = 1
	clk.advance(time.Second)

	res, err := g.Move("a", geom.Up, nil)
	if err != nil || res.Moved || a.Pos != geom.P(5, 5) {
		t.Fatalf("movement should be ignored: res=%+v err=%v", res, err)
	}
	if g.ConsumptionActive() || !g.DonationActive() {
		t.Fatalf("round 1 should be a donation round")
	}
}

func TestDonate_GroupShareFlooredToCents(t *testing.T) {
	g, _ := newTestGrid(t, func(c *tuning.Tuning) {
		c.Donation.Amount = 1
		c.Donation.Group = true
	})
	donor := mustSpawn(t, g, "d", 0, geom.P(0, 0))
	donor.Score = 20
	var members []*Player
	for i, id := range []string{"m1", "m2", "m3"} {
		members = append(members, mustSpawn(t, g, id, 1, geom.P(2, i)))
	}

	res, err := g.Donate("d", "group:1", 10)
	if err != nil {
		t.Fatalf("donate: %v", err)
	}
	if res.Received != 3.33 || res.Recipients != 3 {
		t.Fatalf("received=%v recipients=%d", res.Received, res.Recipients)
	}
	if donor.Score != 10 {
		t.Fatalf("donor score=%v want 10", donor.Score)
	}
	for _, m := range members {
		if m.Score != 3.33 {
			t.Fatalf("member %s score=%v", m.ID, m.Score)
		}
	}

	var ae *ActionError
	if _, err := g.Donate("d", "group:1", 50); !errors.As(err, &ae) || ae.Code != protocol.ErrNoResource {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if donor.Score != 10 {
		t.Fatalf("failed donation debited donor")
	}
	if _, err := g.Donate("d", "all", 1); !errors.As(err, &ae) {
		t.Fatalf("public donation is disabled, got %v", err)
	}
}

func TestDonate_SingleRecipientGetsMultiplied(t *testing.T) {
	g, _ := newTestGrid(t, func(c *tuning.Tuning) {
		c.Donation.Amount = 1
		c.Donation.Individual = true
		c.Donation.Multiplier = 1.5
	})
	d := mustSpawn(t, g, "d", 0, geom.P(0, 0))
	r := mustSpawn(t, g, "r", 1, geom.P(1, 1))
	d.Score = 4
	if _, err := g.Donate("d", "r", 4); err != nil {
		t.Fatalf("donate: %v", err)
	}
	if d.Score != 0 || r.Score != 6 {
		t.Fatalf("donor=%v recipient=%v", d.Score, r.Score)
	}
}

func TestComputePayoffs_EqualTeams(t *testing.T) {
	g, _ := newTestGrid(t, func(c *tuning.Tuning) { c.Colors.NumColors = 2 })
	ids := []string{"a", "b", "c", "d"}
	for i, id := range ids {
		p := mustSpawn(t, g, id, i%2, geom.P(0, i))
		p.Score = 10
	}
	g.ComputePayoffs()
	want := 40 * g.cfg.Payoffs.DollarsPerPoint / 4
	for _, p := range g.Players() {
		if math.Abs(p.Payoff-want) > 1e-12 {
			t.Fatalf("payoff %s=%v want %v", p.ID, p.Payoff, want)
		}
	}
}

func TestComputePayoffs_Competition(t *testing.T) {
	g, _ := newTestGrid(t, func(c *tuning.Tuning) {
		c.Colors.NumColors = 2
		c.Payoffs.IntergroupCompetition = 2
		c.Payoffs.DollarsPerPoint = 1
	})
	a := mustSpawn(t, g, "a", 0, geom.P(0, 0))
	b := mustSpawn(t, g, "b", 1, geom.P(0, 1))
	a.Score, b.Score = 2, 1
	g.ComputePayoffs()
	// Groups scoring 2:1 are paid 4:1 at temperature 2.
	if math.Abs(a.Payoff-3*0.8) > 1e-12 || math.Abs(b.Payoff-3*0.2) > 1e-12 {
		t.Fatalf("payoffs a=%v b=%v", a.Payoff, b.Payoff)
	}
}

func TestSoftmax_ZeroIsUniform(t *testing.T) {
	got := Softmax([]float64{0, 0, 0, 0}, 1)
	for _, v := range got {
		if v != 0.25 {
			t.Fatalf("softmax=%v", got)
		}
	}
	got = Softmax([]float64{1, 3}, 1)
	if got[0] != 0.25 || got[1] != 0.75 {
		t.Fatalf("softmax=%v", got)
	}
}

func TestSerialize_RoundTripIsByteEqual(t *testing.T) {
	g, clk := newTestGrid(t, func(c *tuning.Tuning) {
		c.Walls.Density = 0.6
		c.Colors.NumColors = 3
	})
	if n := g.BuildLabyrinth(); n == 0 {
		t.Fatalf("expected walls")
	}
	for _, typeID := range []string{"food", "bush", "berry"} {
		if _, err := g.SpawnItem(nil, typeID); err != nil {
			t.Fatalf("spawn: %v", err)
		}
	}
	a, err := g.SpawnPlayer("a", SpawnOptions{ColorIdx: -1})
	if err != nil {
		t.Fatalf("spawn a: %v", err)
	}
	if _, err := g.SpawnPlayer("b", SpawnOptions{ColorIdx: -1, Name: "Bo"}); err != nil {
		t.Fatalf("spawn b: %v", err)
	}
	a.Score, a.Payoff = 12.5, 0.25
	a.CurrentItem, _ = g.Catalog().NewItem("berry", 99, nil, clk.now())
	g.Start()
	clk.advance(3 * time.Second)

	first, err := json.Marshal(g.Serialize(true, true))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var st protocol.GridState
	if err := json.Unmarshal(first, &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	fresh, _ := newTestGrid(t, func(c *tuning.Tuning) {
		c.Walls.Density = 0.6
		c.Colors.NumColors = 3
	})
	fresh.now = clk.now
	if err := fresh.Deserialize(st); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	second, err := json.Marshal(fresh.Serialize(true, true))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Fatalf("round trip differs:\n%s\n%s", first, second)
	}
}

func TestSerialize_OmitsUnrequestedFields(t *testing.T) {
	g, _ := newTestGrid(t, nil)
	b, _ := json.Marshal(g.Serialize(false, false))
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	if _, ok := m["walls"]; ok {
		t.Fatalf("walls present: %s", b)
	}
	b, _ = json.Marshal(g.Serialize(true, true))
	m = nil
	_ = json.Unmarshal(b, &m)
	if w, ok := m["walls"].([]any); !ok || len(w) != 0 {
		t.Fatalf("expected empty walls list: %s", b)
	}
}

func TestDeserialize_WrongSize(t *testing.T) {
	g, _ := newTestGrid(t, nil)
	if err := g.Deserialize(protocol.GridState{Rows: 3, Columns: 3}); err == nil {
		t.Fatalf("expected size error")
	}
}

func TestSpreadContagion(t *testing.T) {
	g, _ := newTestGrid(t, func(c *tuning.Tuning) { c.Colors.Contagion = 1 })
	a := mustSpawn(t, g, "a", 0, geom.P(0, 0))
	b := mustSpawn(t, g, "b", 1, geom.P(0, 1))
	c := mustSpawn(t, g, "c", 1, geom.P(1, 0))
	far := mustSpawn(t, g, "far", 2, geom.P(8, 8))

	g.SpreadContagion()
	if a.ColorIdx != 1 {
		t.Fatalf("a should adopt the plurality color, got %d", a.ColorIdx)
	}
	if b.ColorIdx != 1 || c.ColorIdx != 1 || far.ColorIdx != 2 {
		t.Fatalf("b=%d c=%d far=%d", b.ColorIdx, c.ColorIdx, far.ColorIdx)
	}
}

func TestReplenish_SpawnsAndCulls(t *testing.T) {
	doc := `
items:
  - {item_id: food, name: Food, calories: 1, n_uses: 1, item_count: 4, spawn_rate: 1, seasonal_growth_rate: 1}
  - {item_id: rock, name: Rock, n_uses: 1, item_count: 1, spawn_rate: 1, seasonal_growth_rate: 1, limit_quantity: true}
`
	g, _ := newTestGridWithCatalog(t, doc, nil)
	for i := 0; i < 3; i++ {
		mustItem(t, g, "rock", geom.P(0, i))
	}
	g.Replenish()

	counts := map[string]int{}
	for _, it := range g.Items() {
		counts[it.TypeID()]++
	}
	if counts["food"] != 4 || counts["rock"] != 1 {
		t.Fatalf("counts=%v", counts)
	}
}

func TestReplenish_SeasonalGrowthAlternates(t *testing.T) {
	doc := `
items:
  - {item_id: food, name: Food, calories: 1, n_uses: 1, item_count: 4, spawn_rate: 1, seasonal_growth_rate: 2}
`
	g, _ := newTestGridWithCatalog(t, doc, nil)
	g.Replenish()
	if g.TargetCount("food") != 8 {
		t.Fatalf("even round target=%v want 8", g.TargetCount("food"))
	}
	g.Round = 1
	g.Replenish()
	if g.TargetCount("food") != 4 {
		t.Fatalf("odd round target=%v want 4", g.TargetCount("food"))
	}
}

func TestTriggerTransitions(t *testing.T) {
	g, clk := newTestGrid(t, nil)
	mustItem(t, g, "sprout", geom.P(3, 3))
	id := g.ItemAt(geom.P(3, 3)).ID

	clk.advance(4 * time.Second)
	g.TriggerTransitions()
	if g.ItemAt(geom.P(3, 3)).TypeID() != "sprout" {
		t.Fatalf("transitioned too early")
	}
	clk.advance(time.Second)
	g.TriggerTransitions()
	bud := g.ItemAt(geom.P(3, 3))
	if bud == nil || bud.TypeID() != "bud" || bud.ID != id {
		t.Fatalf("expected bud with id %d, got %+v", id, bud)
	}
	clk.advance(5 * time.Second)
	g.TriggerTransitions()
	if g.HasItem(geom.P(3, 3)) {
		t.Fatalf("bud has no successor and should vanish")
	}
}

func TestCheckRoundCompletion(t *testing.T) {
	g, clk := newTestGrid(t, func(c *tuning.Tuning) {
		c.NumRounds = 2
		c.TimePerRound = 10
		c.Leaderboard.Individual = true
		c.Leaderboard.Time = 3
	})
	a := mustSpawn(t, g, "a", 0, geom.P(0, 0))
	if g.CheckRoundCompletion() {
		t.Fatalf("not started yet")
	}
	g.Start()
	a.MotionTimestamp = 4
	clk.advance(10 * time.Second)
	if !g.CheckRoundCompletion() || g.Round != 1 || g.GameOver() {
		t.Fatalf("round=%d over=%v", g.Round, g.GameOver())
	}
	if a.MotionTimestamp != 0 {
		t.Fatalf("motion timestamps not reset")
	}
	if r := g.RemainingRoundTime(); r != 13 {
		t.Fatalf("remaining=%v want 13 with leaderboard pause", r)
	}
	clk.advance(13 * time.Second)
	if !g.CheckRoundCompletion() || !g.GameOver() {
		t.Fatalf("expected game over, round=%d", g.Round)
	}
}

func TestTransition_HarvestSplitsCalories(t *testing.T) {
	g, _ := newTestGrid(t, nil)
	a := mustSpawn(t, g, "a", 1, geom.P(4, 4))
	b := mustSpawn(t, g, "b", 1, geom.P(4, 3))
	mustItem(t, g, "bush", geom.P(4, 5))

	res, err := g.Transition("a", geom.P(4, 5))
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if res.Participants != 2 || a.Score != 4 || b.Score != 3 {
		t.Fatalf("participants=%d a=%v b=%v", res.Participants, a.Score, b.Score)
	}
	if a.CurrentItem == nil || a.CurrentItem.TypeID() != "berry" {
		t.Fatalf("expected berry in hand, got %+v", a.CurrentItem)
	}
	if bush := g.ItemAt(geom.P(4, 5)); bush == nil || bush.RemainingUses != 5 {
		t.Fatalf("bush=%+v", bush)
	}

	var ae *ActionError
	if _, err := g.Transition("a", geom.P(4, 5)); !errors.As(err, &ae) || ae.Code != protocol.ErrNoTransition {
		t.Fatalf("berry on bush has no rule, got %v", err)
	}
	if _, err := g.Transition("b", geom.P(9, 9)); !errors.As(err, &ae) || ae.Code != protocol.ErrNotAdjacent {
		t.Fatalf("expected adjacency error, got %v", err)
	}
}

func TestTransition_LastUseReplacesTarget(t *testing.T) {
	g, _ := newTestGrid(t, nil)
	mustSpawn(t, g, "a", 1, geom.P(4, 4))
	mustItem(t, g, "bush", geom.P(4, 5))
	g.ItemAt(geom.P(4, 5)).RemainingUses = 1

	res, err := g.Transition("a", geom.P(4, 5))
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !res.Rule.LastUse || len(res.Consumed) != 1 {
		t.Fatalf("res=%+v", res)
	}
	if it := g.ItemAt(geom.P(4, 5)); it == nil || it.TypeID() != "empty_bush" {
		t.Fatalf("expected empty bush, got %+v", it)
	}
}

func TestPickUpConsumeDrop(t *testing.T) {
	g, _ := newTestGrid(t, nil)
	a := mustSpawn(t, g, "a", 1, geom.P(2, 2))
	mustItem(t, g, "berry", geom.P(2, 3))
	mustItem(t, g, "food", geom.P(2, 1))

	var ae *ActionError
	if _, err := g.ConsumeHeld("a"); !errors.As(err, &ae) || ae.Kind != protocol.TypeConsumeError {
		t.Fatalf("expected consume_error, got %v", err)
	}
	if _, err := g.PickUp("a", geom.P(2, 3)); err != nil {
		t.Fatalf("pick up: %v", err)
	}
	if _, err := g.PickUp("a", geom.P(2, 1)); !errors.As(err, &ae) || ae.Code != protocol.ErrHandsFull {
		t.Fatalf("expected hands full, got %v", err)
	}
	if err := g.Drop("a", geom.P(2, 1)); !errors.As(err, &ae) || ae.Code != protocol.ErrBlocked {
		t.Fatalf("expected occupied cell, got %v", err)
	}
	if err := g.Drop("a", geom.P(3, 2)); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if it := g.ItemAt(geom.P(3, 2)); it == nil || it.Pos == nil || *it.Pos != geom.P(3, 2) {
		t.Fatalf("dropped item misplaced: %+v", it)
	}
	if _, err := g.PickUp("a", geom.P(3, 2)); err != nil {
		t.Fatalf("pick up again: %v", err)
	}
	cal, err := g.ConsumeHeld("a")
	if err != nil || cal != 3 || a.Score != 3 || a.CurrentItem != nil {
		t.Fatalf("cal=%v err=%v score=%v item=%+v", cal, err, a.Score, a.CurrentItem)
	}
}

func TestChangeColor(t *testing.T) {
	g, _ := newTestGrid(t, func(c *tuning.Tuning) {
		c.Colors.MutableColors = true
		c.Colors.CostlyColors = true
	})
	a := mustSpawn(t, g, "a", 0, geom.P(0, 0))
	var ae *ActionError
	if _, err := g.ChangeColor("a", "TEAL"); !errors.As(err, &ae) || ae.Code != protocol.ErrInvalidTarget {
		t.Fatalf("TEAL is outside num_colors, got %v", err)
	}
	cost := g.ColorCost(1)
	a.Score = cost
	res, err := g.ChangeColor("a", "YELLOW")
	if err != nil || !res.Changed || res.OldColor != "BLUE" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if a.ColorIdx != 1 || a.Score != 0 {
		t.Fatalf("color=%d score=%v", a.ColorIdx, a.Score)
	}
	if res, err := g.ChangeColor("a", "YELLOW"); err != nil || res.Changed {
		t.Fatalf("same color should be a no-op: %+v %v", res, err)
	}
}

func TestAvailableColors_ReplacePalette(t *testing.T) {
	doc := testCatalog + `
player_config:
  available_colors:
    GREEN: [0.1, 0.9, 0.1]
    BLACK: [0, 0, 0]
    WHITE: [1, 1, 1]
`
	g, _ := newTestGridWithCatalog(t, doc, func(c *tuning.Tuning) {
		c.Colors.NumColors = 2
		c.Colors.MutableColors = true
	})
	if got := g.ColorNames(); len(got) != 2 || got[0] != "GREEN" || got[1] != "BLACK" {
		t.Fatalf("names=%v", got)
	}
	a, err := g.SpawnPlayer("a", SpawnOptions{ColorIdx: -1})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if st := g.Serialize(false, false); st.Players[0].Color != "GREEN" {
		t.Fatalf("color=%s", st.Players[0].Color)
	}
	if _, err := g.ChangeColor("a", "BLUE"); err == nil {
		t.Fatalf("BLUE is not in the palette")
	}
	if res, err := g.ChangeColor("a", "BLACK"); err != nil || !res.Changed || a.ColorIdx != 1 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

func TestFindEmptyPosition_FullGrid(t *testing.T) {
	g, _ := newTestGrid(t, func(c *tuning.Tuning) { c.Rows, c.Columns = 2, 2 })
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			mustItem(t, g, "food", geom.P(r, c))
		}
	}
	if _, err := g.SpawnItem(nil, "food"); !errors.Is(err, ErrNoEmptyCell) {
		t.Fatalf("expected ErrNoEmptyCell, got %v", err)
	}
}

func TestSnapshot_ExportImport(t *testing.T) {
	g, clk := newTestGrid(t, nil)
	mustSpawn(t, g, "a", 0, geom.P(1, 1))
	mustItem(t, g, "food", geom.P(2, 2))
	g.AppendChat(ChatEntry{PlayerID: "a", Time: 1, Contents: "hi"})
	g.Start()
	clk.advance(30 * time.Second)

	snap := g.Export()
	fresh, _ := newTestGrid(t, nil)
	fresh.now = clk.now
	if err := fresh.Import(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if fresh.RemainingRoundTime() != 270 {
		t.Fatalf("remaining=%v", fresh.RemainingRoundTime())
	}
	if len(fresh.ChatHistory()) != 1 || fresh.NumPlayers() != 1 || !fresh.HasItem(geom.P(2, 2)) {
		t.Fatalf("state not restored")
	}
	it, err := fresh.SpawnItem(nil, "food")
	if err != nil || it.ID <= g.ItemAt(geom.P(2, 2)).ID {
		t.Fatalf("item ids must keep increasing: %+v %v", it, err)
	}
}
