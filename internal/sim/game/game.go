// Package game runs one Griduniverse session. A Game owns its Grid
// exclusively: connections, HTTP handlers and bots talk to it through
// channels and receive JSON messages on their own outbound channels.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"griduniverse/internal/events"
	"griduniverse/internal/persistence/snapshot"
	"griduniverse/internal/protocol"
	"griduniverse/internal/sim/catalogs"
	"griduniverse/internal/sim/grid"
	"griduniverse/internal/sim/tuning"
)

var (
	ErrGameOver = errors.New("game over")
	ErrGameFull = errors.New("game full")
)

type Config struct {
	ID       string
	Tuning   tuning.Tuning
	Catalogs *catalogs.Catalogs

	// Layout, when set, replaces the generated labyrinth and initial items.
	Layout *protocol.GridState
	// Resume restores a saved game. It wins over Layout.
	Resume *snapshot.SnapshotV1

	// Replay turns every connection into a spectator and ignores all
	// actions except connect and disconnect.
	Replay bool

	Sink  events.Sink
	Clock func() time.Time
	Rand  *rand.Rand
	Log   *log.Entry
}

type JoinRequest struct {
	PlayerID    string
	Name        string
	RecruiterID string
	Out         chan []byte
	Resp        chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
	// ConnID identifies the connection in a later LeaveRequest.
	ConnID string
	Err    error
}

type LeaveRequest struct {
	ConnID string
	Out    chan []byte
}

type stateReq struct {
	resp chan protocol.StateMsg
}

type execReq struct {
	fn   func(gr *grid.Grid, publish func(msg any))
	done chan struct{}
}

type client struct {
	out       chan []byte
	spectator bool
}

type Game struct {
	cfg  Config
	grid *grid.Grid
	sink events.Sink
	log  *log.Entry
	now  func() time.Time
	ctx  context.Context

	clients     map[string]*client
	spectatorN  int
	inbox       chan protocol.Action
	join        chan JoinRequest
	leave       chan LeaveRequest
	stateReq    chan stateReq
	exec        chan execReq
	stop        chan struct{}
	done        chan struct{}
	stopOnce    sync.Once
	snapshotOut chan<- snapshot.SnapshotV1

	tick        uint64
	over        bool
	lastSecond  time.Time
	stateLogged bool

	broadcasts      int
	lastPlayerCount int
	wallsSent       bool
	finalSent       bool
	lastItems       []protocol.ItemState

	recorded   uint64
	recordFail uint64
	metrics    atomic.Value
}

// New builds a game and its initial world. Nothing runs until Run or
// StepOnce is called.
func New(cfg Config) (*Game, error) {
	if cfg.Catalogs == nil {
		return nil, errors.New("game: catalogs required")
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.New(rand.NewSource(cfg.Tuning.Seed))
	}
	if cfg.Log == nil {
		cfg.Log = log.WithField("component", "game")
	}
	if cfg.Sink == nil {
		cfg.Sink = events.NewMemoryStore()
	}
	if cfg.Resume != nil {
		cfg.Tuning = cfg.Resume.Tuning
	} else if cfg.Layout != nil {
		cfg.Tuning.Rows, cfg.Tuning.Columns = cfg.Layout.Rows, cfg.Layout.Columns
	}
	if cfg.ID == "" && cfg.Resume != nil {
		cfg.ID = cfg.Resume.Header.GameID
	}
	l := cfg.Log.WithField("game", cfg.ID)

	g := &Game{
		cfg:      cfg,
		sink:     cfg.Sink,
		log:      l,
		now:      cfg.Clock,
		ctx:      context.Background(),
		clients:  map[string]*client{},
		inbox:    make(chan protocol.Action, 1024),
		join:     make(chan JoinRequest, 64),
		leave:    make(chan LeaveRequest, 64),
		stateReq: make(chan stateReq, 16),
		exec:     make(chan execReq, 16),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	g.grid = grid.New(cfg.Tuning, cfg.Catalogs, grid.Options{Clock: cfg.Clock, Rand: cfg.Rand, Log: l.WithField("component", "grid")})

	switch {
	case cfg.Resume != nil:
		if err := g.grid.Import(cfg.Resume.Grid); err != nil {
			return nil, fmt.Errorf("import snapshot: %w", err)
		}
		g.tick = cfg.Resume.Header.Tick
	case cfg.Layout != nil:
		if err := g.grid.LoadLayout(*cfg.Layout); err != nil {
			return nil, fmt.Errorf("load layout: %w", err)
		}
	case !cfg.Replay:
		g.grid.BuildLabyrinth()
		if err := g.grid.SpawnInitialItems(); err != nil {
			return nil, fmt.Errorf("spawn items: %w", err)
		}
	}
	g.over = g.grid.GameOver()
	g.publishMetrics(0)
	return g, nil
}

func (g *Game) ID() string            { return g.cfg.ID }
func (g *Game) Tuning() tuning.Tuning { return g.cfg.Tuning }
func (g *Game) Catalogs() *catalogs.Catalogs { return g.cfg.Catalogs }

// Grid exposes the world for tests and offline tools. It must not be used
// while Run is active.
func (g *Game) Grid() *grid.Grid { return g.grid }

func (g *Game) Inbox() chan<- protocol.Action { return g.inbox }
func (g *Game) Leave() chan<- LeaveRequest    { return g.leave }

// Done is closed once Run has returned.
func (g *Game) Done() <-chan struct{} { return g.done }

// SetSnapshotSink sets where periodic snapshots go. Sends never block; a
// full sink loses the snapshot.
func (g *Game) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { g.snapshotOut = ch }

func (g *Game) Run(ctx context.Context) error {
	defer close(g.done)
	g.ctx = ctx
	tickT := time.NewTicker(time.Duration(g.cfg.Tuning.TickIntervalMs) * time.Millisecond)
	defer tickT.Stop()
	stateT := time.NewTicker(time.Duration(g.cfg.Tuning.StateIntervalMs) * time.Millisecond)
	defer stateT.Stop()

	var pendingJoins []JoinRequest
	var pendingLeaves []LeaveRequest
	var pendingActions []protocol.Action

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-g.stop:
			return nil
		case req := <-g.join:
			pendingJoins = append(pendingJoins, req)
		case req := <-g.leave:
			pendingLeaves = append(pendingLeaves, req)
		case req := <-g.stateReq:
			select {
			case req.resp <- g.fullState():
			default:
			}
		case req := <-g.exec:
			req.fn(g.grid, g.publish)
			close(req.done)
		case a := <-g.inbox:
			pendingActions = append(pendingActions, a)
		case <-tickT.C:
			g.step(pendingJoins, pendingLeaves, pendingActions)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingActions = pendingActions[:0]
			if g.over {
				g.log.WithField("tick", g.tick).Info("game over")
				return nil
			}
		case <-stateT.C:
			g.BroadcastOnce()
		}
	}
}

func (g *Game) Stop() { g.stopOnce.Do(func() { close(g.stop) }) }

// StepOnce runs a single tick with the same ordering as Run. It is meant
// for tests and offline tools.
func (g *Game) StepOnce(joins []JoinRequest, leaves []LeaveRequest, actions []protocol.Action) uint64 {
	g.step(joins, leaves, actions)
	return g.tick
}

// Over reports whether the last round has finished.
func (g *Game) Over() bool { return g.over }

func (g *Game) Tick() uint64 { return g.tick }

// Join registers a connection and waits for the welcome.
func (g *Game) Join(ctx context.Context, req JoinRequest) (JoinResponse, error) {
	if req.Resp == nil {
		req.Resp = make(chan JoinResponse, 1)
	}
	if g.finished() {
		return JoinResponse{}, ErrGameOver
	}
	select {
	case g.join <- req:
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	case <-g.done:
		return JoinResponse{}, ErrGameOver
	}
	select {
	case resp := <-req.Resp:
		return resp, resp.Err
	case <-ctx.Done():
		return JoinResponse{}, ctx.Err()
	case <-g.done:
		return JoinResponse{}, ErrGameOver
	}
}

// Submit queues an action for the next tick.
func (g *Game) Submit(ctx context.Context, a protocol.Action) error {
	if g.finished() {
		return ErrGameOver
	}
	select {
	case g.inbox <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return ErrGameOver
	}
}

func (g *Game) finished() bool {
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}

// Disconnect queues a leave. It gives up quietly once the game is gone.
func (g *Game) Disconnect(ctx context.Context, req LeaveRequest) {
	select {
	case g.leave <- req:
	case <-ctx.Done():
	case <-g.done:
	}
}

// State returns a full serialization of the world as seen by the actor.
func (g *Game) State(ctx context.Context) (protocol.StateMsg, error) {
	req := stateReq{resp: make(chan protocol.StateMsg, 1)}
	select {
	case g.stateReq <- req:
	case <-ctx.Done():
		return protocol.StateMsg{}, ctx.Err()
	case <-g.done:
		return protocol.StateMsg{}, ErrGameOver
	}
	select {
	case st := <-req.resp:
		return st, nil
	case <-ctx.Done():
		return protocol.StateMsg{}, ctx.Err()
	}
}

// Exec runs fn on the game goroutine. Replay playback uses it to load
// recorded state into a live game.
func (g *Game) Exec(ctx context.Context, fn func(gr *grid.Grid, publish func(msg any))) error {
	req := execReq{fn: fn, done: make(chan struct{})}
	select {
	case g.exec <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return ErrGameOver
	}
	select {
	case <-req.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-g.done:
		return ErrGameOver
	}
}

func (g *Game) fullState() protocol.StateMsg {
	return protocol.StateMsg{
		Type:          protocol.TypeState,
		Grid:          g.grid.Serialize(true, true),
		Count:         g.broadcasts,
		RemainingTime: g.grid.RemainingRoundTime(),
		Round:         g.grid.Round,
	}
}

func (g *Game) welcome(playerID string) protocol.WelcomeMsg {
	c := g.cfg.Catalogs
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		PlayerID:        playerID,
		GameID:          g.cfg.ID,
		Rows:            g.grid.Rows,
		Columns:         g.grid.Columns,
		NumColors:       len(g.grid.ColorNames()),
		Colors:          g.grid.ColorNames(),
		Catalogs: protocol.CatalogDigests{
			ItemsDigest:       c.ItemsDigest,
			TransitionsDigest: c.TransitionsDigest,
			ItemCount:         len(c.Items.Types()),
		},
	}
}

func (g *Game) handleJoin(req JoinRequest) JoinResponse {
	if g.over {
		return JoinResponse{Err: ErrGameOver}
	}
	id := req.PlayerID
	if g.cfg.Replay {
		id = protocol.Spectator
	}
	if id == protocol.Spectator {
		g.spectatorN++
		connID := fmt.Sprintf("spectator-%d", g.spectatorN)
		g.clients[connID] = &client{out: req.Out, spectator: true}
		if g.cfg.Replay && !g.grid.GameStarted() {
			g.grid.Start()
		}
		if b, err := encode(g.fullState()); err == nil && req.Out != nil {
			sendLatest(req.Out, b)
		}
		return JoinResponse{Welcome: g.welcome(protocol.Spectator), ConnID: connID}
	}
	if id == "" {
		return JoinResponse{Err: errors.New("player id required")}
	}
	if _, ok := g.grid.Player(id); !ok && g.grid.NumPlayers() >= g.cfg.Tuning.MaxParticipants {
		return JoinResponse{Err: ErrGameFull}
	}
	if err := g.Dispatch(protocol.Action{Type: protocol.TypeConnect, PlayerID: id, Name: req.Name, RecruiterID: req.RecruiterID}); err != nil {
		return JoinResponse{Err: err}
	}
	g.clients[id] = &client{out: req.Out}
	return JoinResponse{Welcome: g.welcome(id), ConnID: id}
}

func (g *Game) answerJoin(req JoinRequest, resp JoinResponse) {
	if req.Resp == nil {
		return
	}
	select {
	case req.Resp <- resp:
	default:
		g.log.WithField("player", req.PlayerID).Warn("join response dropped")
	}
}

func (g *Game) handleLeave(req LeaveRequest) {
	c, ok := g.clients[req.ConnID]
	if !ok || (req.Out != nil && c.out != req.Out) {
		return
	}
	delete(g.clients, req.ConnID)
	if c.spectator {
		return
	}
	if err := g.Dispatch(protocol.Action{Type: protocol.TypeDisconnect, PlayerID: req.ConnID}); err != nil {
		g.log.WithError(err).Warn("disconnect")
	}
}

func (g *Game) step(joins []JoinRequest, leaves []LeaveRequest, actions []protocol.Action) {
	start := time.Now()
	defer func() { g.publishMetrics(time.Since(start)) }()
	if g.over {
		for _, req := range joins {
			g.answerJoin(req, JoinResponse{Err: ErrGameOver})
		}
		return
	}

	for _, req := range leaves {
		g.handleLeave(req)
	}
	for _, req := range joins {
		g.answerJoin(req, g.handleJoin(req))
	}
	for _, a := range actions {
		if err := g.Dispatch(a); err != nil {
			g.log.WithError(err).WithField("type", a.Type).Warn("dispatch")
		}
	}

	if g.cfg.Replay || !g.grid.StartIfReady(g.cfg.Tuning.MinPlayers) {
		return
	}
	now := g.now()
	if g.lastSecond.IsZero() {
		g.lastSecond = now
	}

	g.recordState()
	if g.cfg.Tuning.Motion.Auto {
		g.grid.AutoMove()
	}
	if g.grid.ConsumptionActive() {
		g.grid.Consume()
	}
	if g.cfg.Tuning.Colors.Contagion > 0 {
		g.grid.SpreadContagion()
	}
	if now.Sub(g.lastSecond) >= time.Second {
		g.lastSecond = now
		g.grid.Replenish()
		g.grid.TriggerTransitions()
		if g.cfg.Tuning.Payoffs.Tax > 0 {
			g.grid.ApplyTax()
		}
		g.grid.ApplyFrequencyDependence()
	}
	g.grid.ComputePayoffs()

	if g.grid.CheckRoundCompletion() {
		if g.grid.GameOver() {
			g.over = true
			g.BroadcastOnce()
			g.publish(protocol.StopMsg{Type: protocol.TypeStop})
		} else {
			msg := protocol.NewRoundMsg{Type: protocol.TypeNewRound, Round: g.grid.Round}
			g.publish(msg)
			g.record(events.KindEvent, events.OriginEnvironment, msg)
		}
	}

	g.tick++
	if n := g.cfg.Tuning.SnapshotEveryTicks; n > 0 && g.tick%uint64(n) == 0 {
		g.emitSnapshot()
	}
}

// recordState writes the per-tick state event. Walls and items ride along
// only when they changed, plus a periodic items refresh while maturity is
// still moving.
func (g *Game) recordState() {
	includeWalls := g.grid.WallsUpdated || !g.stateLogged
	includeItems := g.grid.ItemsUpdated || !g.stateLogged
	if g.tick%100 == 0 && g.grid.IncludesMaturingItems() {
		includeItems = true
	}
	st := g.grid.Serialize(includeWalls, includeItems)
	if g.record(events.KindState, events.OriginEnvironment, st) {
		g.stateLogged = true
		g.grid.WallsUpdated = false
		g.grid.ItemsUpdated = false
	}
}

func (g *Game) emitSnapshot() {
	if g.snapshotOut == nil {
		return
	}
	snap := snapshot.SnapshotV1{
		Header:      snapshot.Header{Version: snapshot.Version, GameID: g.cfg.ID, Tick: g.tick, Time: g.now()},
		Tuning:      g.cfg.Tuning,
		ItemsDigest: g.cfg.Catalogs.ItemsDigest,
		RulesDigest: g.cfg.Catalogs.TransitionsDigest,
		Grid:        g.grid.Export(),
	}
	select {
	case g.snapshotOut <- snap:
	default:
		g.log.WithField("tick", g.tick).Warn("snapshot sink full, dropping snapshot")
	}
}

// record appends an event to the sink. Failures are logged and the event is
// lost; the game keeps going.
func (g *Game) record(kind events.Kind, origin string, details any) bool {
	e, err := events.New(kind, origin, g.cfg.ID, g.now(), details)
	if err == nil {
		_, err = g.sink.Append(g.ctx, e)
	}
	if err != nil {
		g.recordFail++
		g.log.WithError(err).WithField("kind", kind).Warn("record event")
		return false
	}
	g.recorded++
	return true
}
