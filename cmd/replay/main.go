package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/matryer/way"
	log "github.com/sirupsen/logrus"

	"griduniverse/internal/events"
	"griduniverse/internal/persistence/eventlog"
	"griduniverse/internal/persistence/indexdb"
	"griduniverse/internal/persistence/snapshot"
	"griduniverse/internal/replay"
	"griduniverse/internal/sim/catalogs"
	"griduniverse/internal/sim/game"
	"griduniverse/internal/sim/grid"
	"griduniverse/internal/sim/tuning"
	"griduniverse/internal/transport/ws"
)

func main() {
	var (
		dataDir    = flag.String("data", "./data", "runtime data directory")
		gameID     = flag.String("game", "game_1", "game id")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		fromLog    = flag.Bool("from_log", false, "read the JSONL event archive instead of the sqlite index")
		snapPath   = flag.String("snapshot", "", "print a summary of this snapshot and exit")

		at     = flag.String("at", "", "print the state at this time (unix seconds or RFC 3339)")
		report = flag.Bool("report", false, "print payoff and action statistics for the whole game")
		serve  = flag.String("serve", "", "listen address for a spectator replay (e.g. :8081)")
		speed  = flag.Float64("speed", 1, "playback speed for -serve")
	)
	flag.Parse()

	if *snapPath != "" {
		if err := printSnapshot(*snapPath); err != nil {
			fail("snapshot", err)
		}
		return
	}

	gameDir := filepath.Join(*dataDir, "games", *gameID)
	store, closeStore, err := openQuery(gameDir, *fromLog)
	if err != nil {
		fail("open events", err)
	}
	defer closeStore()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case *report:
		evs, err := store.Range(ctx, time.Time{}, farFuture)
		if err != nil {
			fail("read events", err)
		}
		printJSON(replay.Analyze(evs, time.Time{}))
	case *at != "":
		target, err := parseTime(*at)
		if err != nil {
			fail("at", err)
		}
		eng, err := newEngine(store, *configDir, *tuningPath, func() time.Time { return target })
		if err != nil {
			fail("config", err)
		}
		g, err := eng.RevertTo(ctx, target, nil)
		if err != nil {
			fail("replay", err)
		}
		printJSON(struct {
			Grid any `json:"grid"`
			Chat any `json:"chat"`
		}{g.Serialize(true, true), g.ChatHistory()})
	case *serve != "":
		if err := serveReplay(ctx, store, *serve, *gameID, *configDir, *tuningPath, *speed); err != nil {
			fail("serve", err)
		}
	default:
		fmt.Fprintln(os.Stderr, "one of -at, -report, -serve or -snapshot is required")
		os.Exit(2)
	}
}

var farFuture = time.Date(2200, 1, 1, 0, 0, 0, 0, time.UTC)

// openQuery opens the sqlite index or loads the JSONL archive into memory.
func openQuery(gameDir string, fromLog bool) (events.Query, func(), error) {
	if fromLog {
		evs, err := eventlog.ReadAll(filepath.Join(gameDir, "events"), "events")
		if err != nil {
			return nil, nil, err
		}
		mem := events.NewMemoryStore()
		for _, e := range evs {
			if _, err := mem.Append(context.Background(), e); err != nil {
				return nil, nil, err
			}
		}
		return mem, func() {}, nil
	}
	path := filepath.Join(gameDir, "index", "game.sqlite")
	if _, err := os.Stat(path); err != nil {
		return nil, nil, err
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return nil, nil, err
	}
	return idx, func() { _ = idx.Close() }, nil
}

func loadConfig(configDir, tuningPath string) (tuning.Tuning, *catalogs.Catalogs, error) {
	cats, err := catalogs.Load(filepath.Join(configDir, "game_config.yaml"))
	if err != nil {
		return tuning.Tuning{}, nil, err
	}
	if tuningPath == "" {
		tuningPath = filepath.Join(configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tuningPath)
	if errors.Is(err, os.ErrNotExist) {
		tune, err = tuning.Defaults(), nil
	}
	return tune, cats, err
}

func newEngine(store events.Query, configDir, tuningPath string, clock func() time.Time) (*replay.Engine, error) {
	tune, cats, err := loadConfig(configDir, tuningPath)
	if err != nil {
		return nil, err
	}
	return &replay.Engine{
		Store: store,
		NewGrid: func() (*grid.Grid, error) {
			return grid.New(tune, cats, grid.Options{Clock: clock}), nil
		},
	}, nil
}

// serveReplay runs a replay-mode game that spectators can watch over
// websocket while the recorded events are played back onto it.
func serveReplay(ctx context.Context, store events.Query, addr, gameID, configDir, tuningPath string, speed float64) error {
	if speed <= 0 {
		speed = 1
	}
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "replay")

	all, err := store.Range(ctx, time.Time{}, farFuture)
	if err != nil {
		return err
	}
	start, end, err := replay.UsableRange(all)
	if err != nil {
		return err
	}

	tune, cats, err := loadConfig(configDir, tuningPath)
	if err != nil {
		return err
	}
	// The replayed clock drives the grid so remaining round time matches
	// the recording.
	wall := time.Now()
	clock := func() time.Time {
		return start.Add(time.Duration(float64(time.Since(wall)) * speed))
	}
	g, err := game.New(game.Config{
		ID:       gameID + "-replay",
		Tuning:   tune,
		Catalogs: cats,
		Replay:   true,
		Clock:    clock,
		Log:      logger,
	})
	if err != nil {
		return err
	}
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = g.Run(runCtx) }()

	router := way.NewRouter()
	router.HandleFunc("GET", "/v1/ws", ws.NewServer(g, logger.WithField("component", "ws")).Handler())
	srv := &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("listen")
			stop()
		}
	}()
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()
	logger.WithFields(log.Fields{"addr": addr, "from": start, "to": end, "speed": speed}).Info("replaying")

	eng := &replay.Engine{Store: store}
	cur := &replay.Cursor{Engine: eng}
	step := time.NewTicker(time.Duration(tune.StateIntervalMs) * time.Millisecond)
	defer step.Stop()
	for {
		select {
		case <-runCtx.Done():
			return nil
		case <-step.C:
		}
		to := clock()
		if to.After(end) {
			to = end
		}
		evs, err := eng.EventsFor(runCtx, cur.At, to)
		if err != nil {
			return err
		}
		var applyErr error
		err = g.Exec(runCtx, func(gr *grid.Grid, publish func(msg any)) {
			cur.Grid = gr
			for _, ev := range evs {
				if applyErr = cur.Apply(ev, publish); applyErr != nil {
					return
				}
			}
		})
		if err != nil {
			return err
		}
		if applyErr != nil {
			return applyErr
		}
		cur.At = to
		if !to.Before(end) {
			logger.WithField("states", cur.States).Info("replay finished")
			<-runCtx.Done()
			return nil
		}
	}
}

func printSnapshot(path string) error {
	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		return err
	}
	st := snap.Grid.State
	walls, items := 0, 0
	if st.Walls != nil {
		walls = len(*st.Walls)
	}
	if st.Items != nil {
		items = len(*st.Items)
	}
	fmt.Printf("snapshot v%d game=%s tick=%d time=%s round=%d started=%v players=%d items=%d walls=%d chat=%d consumed=%d\n",
		snap.Header.Version, snap.Header.GameID, snap.Header.Tick, snap.Header.Time.Format(time.RFC3339),
		st.Round, snap.Grid.Started, len(st.Players), items, walls, len(snap.Grid.Chat), snap.Grid.ItemsConsumed)
	return nil
}

func parseTime(v string) (time.Time, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.UnixMilli(int64(secs * 1e3)), nil
	}
	return time.Parse(time.RFC3339, v)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
	os.Exit(1)
}
