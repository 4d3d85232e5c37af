// Package grid is the authoritative world state: players, items, walls and
// round bookkeeping. A Grid is not safe for concurrent use; the game actor
// owns it.
package grid

import (
	"math"
	"math/rand"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"griduniverse/internal/sim/catalogs"
	"griduniverse/internal/sim/distributions"
	"griduniverse/internal/sim/geom"
	"griduniverse/internal/sim/items"
	"griduniverse/internal/sim/tuning"
)

// Color is one team color.
type Color = catalogs.Color

var DefaultColors = []Color{
	{Name: "BLUE", RGB: [3]float64{0.50, 0.86, 1.00}},
	{Name: "YELLOW", RGB: [3]float64{1.00, 0.86, 0.50}},
	{Name: "ORANGE", RGB: [3]float64{0.91, 0.50, 0.02}},
	{Name: "RED", RGB: [3]float64{0.64, 0.11, 0.31}},
	{Name: "PURPLE", RGB: [3]float64{0.85, 0.60, 0.85}},
	{Name: "TEAL", RGB: [3]float64{0.77, 0.96, 0.90}},
}

// Wall is an impassable cell. Color defaults to grey.
type Wall struct {
	Pos   geom.Pos
	Color [3]float64
}

type ChatEntry struct {
	PlayerID string  `json:"player_id"`
	Time     float64 `json:"time"`
	Contents string  `json:"contents"`
}

type Options struct {
	Clock func() time.Time
	Rand  *rand.Rand
	Log   *log.Entry
}

type Grid struct {
	cfg    tuning.Tuning
	cat    *items.Catalog
	colors []Color
	now    func() time.Time
	rng    *rand.Rand
	log    *log.Entry

	playerDist *distributions.Sampler
	itemDist   map[string]*distributions.Sampler

	Rows    int
	Columns int
	Round   int

	// start is nil until the first round begins. It may sit in the future
	// while a leaderboard pause is showing.
	start *time.Time

	players map[string]*Player
	walls   map[geom.Pos]*Wall
	items   map[geom.Pos]*items.Item

	// targetCount is the live per-type goal used by replenishment. It starts
	// at the type's item_count and drifts with spawn and seasonal rates.
	targetCount map[string]float64
	nextItemID  int64
	joined      int

	ItemsConsumed int
	WallsUpdated  bool
	ItemsUpdated  bool

	chat []ChatEntry

	colorCosts []float64
	hierarchy  []int
}

func New(cfg tuning.Tuning, cats *catalogs.Catalogs, opts Options) *Grid {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(cfg.Seed))
	}
	if opts.Log == nil {
		opts.Log = log.WithField("component", "grid")
	}
	colors := DefaultColors
	if len(cats.Player.AvailableColors) > 0 {
		colors = cats.Player.AvailableColors
	}
	g := &Grid{
		cfg:         cfg,
		cat:         cats.Items,
		colors:      colors,
		now:         opts.Clock,
		rng:         opts.Rand,
		log:         opts.Log,
		itemDist:    map[string]*distributions.Sampler{},
		Rows:        cfg.Rows,
		Columns:     cfg.Columns,
		players:     map[string]*Player{},
		walls:       map[geom.Pos]*Wall{},
		items:       map[geom.Pos]*items.Item{},
		targetCount: map[string]float64{},
	}

	var ok bool
	g.playerDist, ok = distributions.Parse(cats.Player.ProbabilityDistribution, g.Rows, g.Columns)
	if !ok {
		g.log.Infof("unknown player probability distribution %q, using %s", cats.Player.ProbabilityDistribution, distributions.Default)
	}
	for _, t := range g.cat.Types() {
		s, ok := distributions.Parse(t.Distribution(), g.Rows, g.Columns)
		if !ok {
			g.log.Infof("unknown item probability distribution %q for %s, using %s", t.Distribution(), t.ID(), distributions.Default)
		}
		g.itemDist[t.ID()] = s
		g.targetCount[t.ID()] = float64(t.InitialCount())
	}

	n := g.numColors()
	g.colorCosts = make([]float64, n)
	for i := range g.colorCosts {
		g.colorCosts[i] = math.Pow(2, float64(i))
	}
	g.rng.Shuffle(n, func(i, j int) { g.colorCosts[i], g.colorCosts[j] = g.colorCosts[j], g.colorCosts[i] })
	if cfg.Colors.ContagionHierarchy {
		g.hierarchy = g.rng.Perm(n)
	}
	return g
}

func (g *Grid) Config() tuning.Tuning     { return g.cfg }
func (g *Grid) Catalog() *items.Catalog   { return g.cat }
func (g *Grid) Now() time.Time            { return g.now() }
func (g *Grid) ColorCost(idx int) float64 { return g.colorCosts[idx] }

func (g *Grid) numColors() int {
	n := g.cfg.Colors.NumColors
	if n > len(g.colors) {
		n = len(g.colors)
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ColorNames lists the colors players may hold in this game.
func (g *Grid) ColorNames() []string {
	out := make([]string, 0, g.numColors())
	for _, c := range g.colors[:g.numColors()] {
		out = append(out, c.Name)
	}
	return out
}

func (g *Grid) colorIndex(name string) int {
	for i, c := range g.colors {
		if c.Name == name {
			return i
		}
	}
	return -1
}

func (g *Grid) colorName(idx int) string {
	if idx < 0 || idx >= len(g.colors) {
		return ""
	}
	return g.colors[idx].Name
}

// Timing.

func (g *Grid) GameStarted() bool { return g.start != nil }
func (g *Grid) GameOver() bool    { return g.Round >= g.cfg.NumRounds }

// Start begins the first round if it has not begun yet.
func (g *Grid) Start() {
	if g.start == nil {
		now := g.now()
		g.start = &now
	}
}

// StartIfReady starts the game once enough players are connected. Players
// seeded by a layout or gone after leaving do not count.
func (g *Grid) StartIfReady(minPlayers int) bool {
	if g.start == nil {
		n := g.ConnectedCount()
		if n > 0 && n >= minPlayers {
			g.Start()
		}
	}
	return g.start != nil
}

func (g *Grid) ConnectedCount() int {
	n := 0
	for _, p := range g.players {
		if p.Connected {
			n++
		}
	}
	return n
}

// ElapsedRoundTime is seconds since the current round started.
func (g *Grid) ElapsedRoundTime() float64 {
	if g.start == nil {
		return 0
	}
	return g.now().Sub(*g.start).Seconds()
}

func (g *Grid) RemainingRoundTime() float64 {
	if g.start == nil {
		return 0
	}
	return math.Max(0, g.cfg.TimePerRound-g.ElapsedRoundTime())
}

// Derived flags.

func (g *Grid) GroupDonationEnabled() bool {
	return g.cfg.Donation.Group || g.cfg.Donation.Ingroup
}

func (g *Grid) DonationEnabled() bool {
	d := g.cfg.Donation
	return (g.GroupDonationEnabled() || d.Individual || d.Public) && d.Amount != 0
}

// IsEvenRound follows the 1-based round numbering shown to players.
func (g *Grid) IsEvenRound() bool { return g.Round%2 == 1 }

// DonationActive is limited to even rounds when consumption and donation
// alternate.
func (g *Grid) DonationActive() bool {
	if !g.DonationEnabled() {
		return false
	}
	if g.cfg.Donation.AlternateConsumption {
		return g.IsEvenRound()
	}
	return true
}

func (g *Grid) MovementEnabled() bool {
	return !(g.cfg.Donation.AlternateConsumption && g.DonationActive())
}

func (g *Grid) ConsumptionActive() bool {
	return !g.cfg.Donation.AlternateConsumption || !g.IsEvenRound()
}

func (g *Grid) IncludesMaturingItems() bool {
	for _, t := range g.cat.Types() {
		if t.MaturationThreshold() > 0 {
			return true
		}
	}
	return false
}

// Lookups.

func (g *Grid) Player(id string) (*Player, bool) {
	p, ok := g.players[id]
	return p, ok
}

func (g *Grid) NumPlayers() int { return len(g.players) }

// Players returns every player ordered by id.
func (g *Grid) Players() []*Player {
	out := make([]*Player, 0, len(g.players))
	for _, p := range g.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (g *Grid) PlayersWithColor(idx int) []*Player {
	var out []*Player
	for _, p := range g.Players() {
		if p.ColorIdx == idx {
			out = append(out, p)
		}
	}
	return out
}

// Neighbors returns the other players within Manhattan distance d of p.
func (g *Grid) Neighbors(p *Player, d int) []*Player {
	var out []*Player
	for _, o := range g.Players() {
		if o != p && geom.Manhattan(o.Pos, p.Pos) <= d {
			out = append(out, o)
		}
	}
	return out
}

func (g *Grid) ItemAt(pos geom.Pos) *items.Item { return g.items[pos] }

func (g *Grid) HasItem(pos geom.Pos) bool {
	_, ok := g.items[pos]
	return ok
}

func (g *Grid) HasWall(pos geom.Pos) bool {
	_, ok := g.walls[pos]
	return ok
}

func (g *Grid) HasPlayer(pos geom.Pos) bool {
	for _, p := range g.players {
		if p.Pos == pos {
			return true
		}
	}
	return false
}

// Items returns the placed items in row-major order.
func (g *Grid) Items() []*items.Item {
	out := make([]*items.Item, 0, len(g.items))
	for _, pos := range sortedKeys(g.items) {
		out = append(out, g.items[pos])
	}
	return out
}

// Walls returns the walls in row-major order.
func (g *Grid) Walls() []Wall {
	out := make([]Wall, 0, len(g.walls))
	for _, pos := range sortedKeys(g.walls) {
		out = append(out, *g.walls[pos])
	}
	return out
}

func (g *Grid) WallPositions() []geom.Pos { return sortedKeys(g.walls) }

func (g *Grid) TargetCount(typeID string) float64 { return g.targetCount[typeID] }

func (g *Grid) AppendChat(e ChatEntry) { g.chat = append(g.chat, e) }

func (g *Grid) ChatHistory() []ChatEntry { return append([]ChatEntry(nil), g.chat...) }

func (g *Grid) empty(pos geom.Pos) bool {
	return !g.HasPlayer(pos) && !g.HasItem(pos) && !g.HasWall(pos)
}

func (g *Grid) nextID() int64 {
	g.nextItemID++
	return g.nextItemID
}

func sortedKeys[V any](m map[geom.Pos]V) []geom.Pos {
	keys := make([]geom.Pos, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}
