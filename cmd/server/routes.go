package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/matryer/way"
	log "github.com/sirupsen/logrus"

	"griduniverse/internal/events"
	"griduniverse/internal/persistence/indexdb"
	"griduniverse/internal/persistence/objmirror"
	"griduniverse/internal/protocol"
	"griduniverse/internal/replay"
	"griduniverse/internal/sim/catalogs"
	"griduniverse/internal/sim/game"
	"griduniverse/internal/sim/grid"
	"griduniverse/internal/transport/ws"
)

type server struct {
	game   *game.Game
	cats   *catalogs.Catalogs
	query  events.Query
	index  *indexdb.SQLiteIndex
	mirror *objmirror.Mirror
	log    *log.Entry

	enableAdmin bool
	router      *way.Router
}

func (s *server) routes() {
	s.router = way.NewRouter()
	s.router.HandleFunc("GET", "/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	s.router.HandleFunc("GET", "/metrics", s.handleMetrics)
	s.router.HandleFunc("GET", "/v1/ws", ws.NewServer(s.game, s.log.WithField("component", "ws")).Handler())
	s.router.HandleFunc("GET", "/v1/replay/:at", s.handleReplay)
	if s.enableAdmin {
		s.router.HandleFunc("GET", "/admin/v1/state", s.loopbackOnly(s.handleAdminState))
	} else {
		s.log.Info("admin endpoints disabled (GU_ENABLE_ADMIN_HTTP=false)")
	}
}

func (s *server) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	m := s.game.Metrics()
	id := s.game.ID()

	gauge := func(name, help string, v any) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s gauge\n", name)
		fmt.Fprintf(rw, "%s{game=%q} %v\n", name, id, v)
	}
	counter := func(name, help string, v any) {
		fmt.Fprintf(rw, "# HELP %s %s\n", name, help)
		fmt.Fprintf(rw, "# TYPE %s counter\n", name)
		fmt.Fprintf(rw, "%s{game=%q} %v\n", name, id, v)
	}

	gauge("griduniverse_tick", "Current game tick.", m.Tick)
	gauge("griduniverse_round", "Current round.", m.Round)
	gauge("griduniverse_started", "1 once the game has started.", boolInt(m.Started))
	gauge("griduniverse_over", "1 once the last round has ended.", boolInt(m.Over))
	gauge("griduniverse_remaining_seconds", "Seconds left in the round.", fmt.Sprintf("%.3f", m.RemainingTime))
	gauge("griduniverse_players", "Players on the grid.", m.Players)
	gauge("griduniverse_players_connected", "Players with a live connection.", m.Connected)
	gauge("griduniverse_items", "Items on the grid.", m.Items)
	gauge("griduniverse_walls", "Walls on the grid.", m.Walls)
	gauge("griduniverse_step_ms", "Last tick step duration in milliseconds.", fmt.Sprintf("%.3f", m.StepMS))

	fmt.Fprintf(rw, "# HELP griduniverse_clients Connected clients.\n")
	fmt.Fprintf(rw, "# TYPE griduniverse_clients gauge\n")
	fmt.Fprintf(rw, "griduniverse_clients{game=%q,kind=%q} %d\n", id, "player", m.Clients)
	fmt.Fprintf(rw, "griduniverse_clients{game=%q,kind=%q} %d\n", id, "spectator", m.Spectators)

	fmt.Fprintf(rw, "# HELP griduniverse_queue_depth Channel backlog depth.\n")
	fmt.Fprintf(rw, "# TYPE griduniverse_queue_depth gauge\n")
	fmt.Fprintf(rw, "griduniverse_queue_depth{game=%q,queue=%q} %d\n", id, "inbox", m.QueueDepths.Inbox)
	fmt.Fprintf(rw, "griduniverse_queue_depth{game=%q,queue=%q} %d\n", id, "join", m.QueueDepths.Join)
	fmt.Fprintf(rw, "griduniverse_queue_depth{game=%q,queue=%q} %d\n", id, "leave", m.QueueDepths.Leave)

	counter("griduniverse_items_consumed_total", "Items eaten.", m.ItemsConsumed)
	counter("griduniverse_broadcasts_total", "State broadcasts sent.", m.Broadcasts)
	counter("griduniverse_events_recorded_total", "Events written to the store.", m.EventsRecorded)
	counter("griduniverse_events_failed_total", "Events the store refused.", m.EventsFailed)

	if s.index != nil {
		st := s.index.Stats()
		gauge("griduniverse_index_queue_depth", "Pending sqlite index writes.", st.QueueDepth)
		counter("griduniverse_index_dropped_events_total", "Events dropped by a full index queue.", st.DropEventTotal)
		counter("griduniverse_index_dropped_snapshots_total", "Snapshot rows dropped by a full index queue.", st.DropSnapshotTotal)
	}
	if s.mirror != nil {
		ms := s.mirror.Stats()
		gauge("griduniverse_mirror_queue_depth", "Files waiting to be mirrored.", ms.QueueDepth)
		counter("griduniverse_mirror_uploaded_total", "Files mirrored to object storage.", ms.Uploaded)
		counter("griduniverse_mirror_failed_total", "Files that failed every upload attempt.", ms.Failed)
		counter("griduniverse_mirror_dropped_total", "Files dropped by a full mirror queue.", ms.Dropped)
		gauge("griduniverse_mirror_last_success_unix", "Unix time of the last successful upload.", ms.LastSuccessAt)
	}
}

type replayResponse struct {
	GameID string             `json:"game_id"`
	At     time.Time          `json:"at"`
	Events int                `json:"events"`
	Grid   protocol.GridState `json:"grid"`
	Chat   []grid.ChatEntry   `json:"chat"`
}

// handleReplay rebuilds the grid as it was at :at, given as unix seconds or
// RFC 3339.
func (s *server) handleReplay(rw http.ResponseWriter, r *http.Request) {
	at, err := parseTime(way.Param(r.Context(), "at"))
	if err != nil {
		http.Error(rw, err.Error(), http.StatusBadRequest)
		return
	}
	tune := s.game.Tuning()
	eng := &replay.Engine{
		Store: s.query,
		NewGrid: func() (*grid.Grid, error) {
			return grid.New(tune, s.cats, grid.Options{Clock: func() time.Time { return at }}), nil
		},
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	n := 0
	g, err := eng.RevertTo(ctx, at, func(any) { n++ })
	if errors.Is(err, replay.ErrNoEvents) {
		http.Error(rw, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.log.WithError(err).Warn("replay")
		http.Error(rw, "replay failed", http.StatusInternalServerError)
		return
	}
	writeJSON(rw, replayResponse{GameID: s.game.ID(), At: at, Events: n, Grid: g.Serialize(true, true), Chat: g.ChatHistory()})
}

func (s *server) handleAdminState(rw http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	resp := struct {
		GameID  string             `json:"game_id"`
		Metrics game.Metrics       `json:"metrics"`
		State   *protocol.StateMsg `json:"state,omitempty"`
	}{GameID: s.game.ID(), Metrics: s.game.Metrics()}
	if st, err := s.game.State(ctx); err == nil {
		resp.State = &st
	}
	writeJSON(rw, resp)
}

func (s *server) loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func parseTime(v string) (time.Time, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.UnixMilli(int64(secs * 1e3)), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad time %q: want unix seconds or RFC 3339", v)
	}
	return t, nil
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(rw).Encode(v)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
