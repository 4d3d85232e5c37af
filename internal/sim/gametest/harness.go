// Package gametest drives a game.Game tick by tick with a fake clock, the
// way the server loop would, and collects what each connection receives.
package gametest

import (
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"griduniverse/internal/events"
	"griduniverse/internal/protocol"
	"griduniverse/internal/sim/catalogs"
	"griduniverse/internal/sim/game"
	"griduniverse/internal/sim/geom"
	"griduniverse/internal/sim/tuning"
)

// Epoch is where every harness clock starts.
var Epoch = time.Unix(1_700_000_000, 0)

type Clock struct{ t time.Time }

func (c *Clock) Now() time.Time          { return c.t }
func (c *Clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type Options struct {
	// Catalog is a game_config document. Empty loads configs/game_config.yaml.
	Catalog string
	Tuning  func(*tuning.Tuning)
	Game    func(*game.Config)
}

type Harness struct {
	T     *testing.T
	G     *game.Game
	Clock *Clock
	Store *events.MemoryStore

	sessions map[string]*Session
}

// Session is one connection. Msgs holds every message received so far.
type Session struct {
	ID     string
	ConnID string
	Out    chan []byte
	Msgs   []json.RawMessage
}

func New(t *testing.T, opts Options) *Harness {
	t.Helper()
	var (
		cats *catalogs.Catalogs
		err  error
	)
	if opts.Catalog == "" {
		cats, err = catalogs.Load(filepath.Join(FindRepoRoot(t), "configs", "game_config.yaml"))
	} else {
		cats, err = catalogs.Parse([]byte(opts.Catalog))
	}
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	tune := tuning.Defaults()
	tune.Rows, tune.Columns = 10, 10
	tune.Colors.Pseudonyms = false
	if opts.Tuning != nil {
		opts.Tuning(&tune)
	}

	clk := &Clock{t: Epoch}
	store := events.NewMemoryStore()
	cfg := game.Config{
		ID:       "test-game",
		Tuning:   tune,
		Catalogs: cats,
		Sink:     store,
		Clock:    clk.Now,
		Rand:     rand.New(rand.NewSource(42)),
	}
	if opts.Game != nil {
		opts.Game(&cfg)
	}
	g, err := game.New(cfg)
	if err != nil {
		t.Fatalf("game.New: %v", err)
	}
	return &Harness{T: t, G: g, Clock: clk, Store: store, sessions: map[string]*Session{}}
}

// Join connects a player (or "spectator") and runs the tick that admits it.
func (h *Harness) Join(id string) (*Session, error) {
	h.T.Helper()
	s := &Session{ID: id, Out: make(chan []byte, 512)}
	resp := make(chan game.JoinResponse, 1)
	h.G.StepOnce([]game.JoinRequest{{PlayerID: id, Name: id, Out: s.Out, Resp: resp}}, nil, nil)
	jr := <-resp
	if jr.Err != nil {
		h.drain()
		return nil, jr.Err
	}
	s.ConnID = jr.ConnID
	s.Msgs = []json.RawMessage{mustJSON(h.T, jr.Welcome)}
	h.sessions[jr.ConnID] = s
	h.drain()
	return s, nil
}

func (h *Harness) MustJoin(id string) *Session {
	h.T.Helper()
	s, err := h.Join(id)
	if err != nil {
		h.T.Fatalf("join %s: %v", id, err)
	}
	return s
}

func (h *Harness) Leave(s *Session) {
	h.T.Helper()
	h.G.StepOnce(nil, []game.LeaveRequest{{ConnID: s.ConnID, Out: s.Out}}, nil)
	delete(h.sessions, s.ConnID)
	h.drain()
}

// Step advances the clock by one tick interval and runs a tick with the
// given actions.
func (h *Harness) Step(actions ...protocol.Action) {
	h.T.Helper()
	h.Clock.Advance(time.Duration(h.G.Tuning().TickIntervalMs) * time.Millisecond)
	h.G.StepOnce(nil, nil, actions)
	h.drain()
}

// Advance moves the clock by d and then runs one tick.
func (h *Harness) Advance(d time.Duration) {
	h.T.Helper()
	h.Clock.Advance(d)
	h.G.StepOnce(nil, nil, nil)
	h.drain()
}

func (h *Harness) Broadcast() {
	h.G.BroadcastOnce()
	h.drain()
}

// Place moves a player onto a cell, bypassing the rules.
func (h *Harness) Place(id string, pos geom.Pos) {
	h.T.Helper()
	p, ok := h.G.Grid().Player(id)
	if !ok {
		h.T.Fatalf("unknown player %s", id)
	}
	p.Pos = pos
}

func (h *Harness) drain() {
	for _, s := range h.sessions {
		for {
			select {
			case b := <-s.Out:
				s.Msgs = append(s.Msgs, b)
				continue
			default:
			}
			break
		}
	}
}

// Of returns the messages of the given type, oldest first.
func (s *Session) Of(typ string) []json.RawMessage {
	var out []json.RawMessage
	for _, m := range s.Msgs {
		base, err := protocol.DecodeBase(m)
		if err == nil && base.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

// Last decodes the newest message of the given type into v.
func (s *Session) Last(t *testing.T, typ string, v any) {
	t.Helper()
	ms := s.Of(typ)
	if len(ms) == 0 {
		t.Fatalf("%s: no %s message", s.ID, typ)
	}
	if err := json.Unmarshal(ms[len(ms)-1], v); err != nil {
		t.Fatalf("decode %s: %v", typ, err)
	}
}

func (s *Session) Reset() { s.Msgs = nil }

// Recorded returns the stored events whose details have the given type.
func (h *Harness) Recorded(typ string) []events.Event {
	h.T.Helper()
	all, err := h.Store.Range(context.Background(), time.Time{}, h.Clock.Now().Add(time.Hour))
	if err != nil {
		h.T.Fatalf("range: %v", err)
	}
	var out []events.Event
	for _, e := range all {
		if e.Kind == events.KindEvent && e.Attrs().Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// States returns the stored state events.
func (h *Harness) States() []events.Event {
	h.T.Helper()
	all, err := h.Store.Range(context.Background(), time.Time{}, h.Clock.Now().Add(time.Hour))
	if err != nil {
		h.T.Fatalf("range: %v", err)
	}
	var out []events.Event
	for _, e := range all {
		if e.Kind == events.KindState {
			out = append(out, e)
		}
	}
	return out
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func FindRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not find repo root from %s", dir)
		}
		dir = parent
	}
}
