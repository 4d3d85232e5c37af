package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"griduniverse/internal/persistence/indexdb"
	"griduniverse/internal/persistence/snapshot"
	"griduniverse/internal/protocol"
	"griduniverse/internal/sim/catalogs"
	"griduniverse/internal/sim/game"
	"griduniverse/internal/sim/grid"
	"griduniverse/internal/sim/layout"
	"griduniverse/internal/sim/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		gameID     = flag.String("game", "game_1", "game id")
		seed       = flag.Int64("seed", 0, "override the tuning seed (0 keeps it)")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		layoutPath = flag.String("layout", "", "path to a layout csv (default: the tuning layout setting)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite event index")

		snapPath   = flag.String("snapshot", "", "path to snapshot to load (optional)")
		loadLatest = flag.Bool("load_latest_snapshot", true, "load latest snapshot from data dir if present (when -snapshot is empty)")
	)
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger := log.WithField("component", "server")

	cats, err := catalogs.Load(filepath.Join(*configDir, "game_config.yaml"))
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if errors.Is(err, os.ErrNotExist) {
		logger.Infof("tuning not found (%s); using defaults", tp)
		tune, err = tuning.Defaults(), nil
	}
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	if *seed != 0 {
		tune.Seed = *seed
	}

	gameDir := filepath.Join(*dataDir, "games", *gameID)
	_ = os.MkdirAll(gameDir, 0o755)

	cfg := game.Config{ID: *gameID, Tuning: tune, Catalogs: cats, Log: log.WithField("component", "game")}

	snapshotToLoad := strings.TrimSpace(*snapPath)
	if snapshotToLoad == "" && *loadLatest {
		snapshotToLoad = snapshot.Latest(filepath.Join(gameDir, "snapshots"))
	}
	if snapshotToLoad != "" {
		snap, err := snapshot.ReadSnapshot(snapshotToLoad)
		if err != nil {
			logger.Fatalf("read snapshot: %v", err)
		}
		if snap.Header.GameID != "" && snap.Header.GameID != *gameID {
			logger.Fatalf("snapshot game id mismatch: flag=%s snap=%s", *gameID, snap.Header.GameID)
		}
		if snap.ItemsDigest != cats.ItemsDigest || snap.RulesDigest != cats.TransitionsDigest {
			logger.Fatalf("snapshot %s was taken with a different game_config.yaml", filepath.Base(snapshotToLoad))
		}
		cfg.Resume = &snap
		logger.Infof("resuming from snapshot=%s tick=%d", filepath.Base(snapshotToLoad), snap.Header.Tick)
	} else if lp := layoutFile(*layoutPath, tune.Layout); lp != "" {
		st, err := loadLayout(lp, tune, cats)
		if err != nil {
			logger.Fatalf("load layout: %v", err)
		}
		cfg.Layout = st
		logger.Infof("layout %s (%dx%d)", lp, st.Rows, st.Columns)
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := openStores(ctx, *dataDir, gameDir, *disableDB, logger)
	if err != nil {
		logger.Fatalf("open stores: %v", err)
	}
	defer st.Close()
	if st.index != nil {
		if err := st.index.UpsertCatalogs(ctx, cats, tune); err != nil {
			logger.WithError(err).Warn("index: upsert catalogs")
		}
	}
	cfg.Sink = st.sink()

	g, err := game.New(cfg)
	if err != nil {
		logger.Fatalf("game: %v", err)
	}

	snapCh := make(chan snapshot.SnapshotV1, 2)
	g.SetSnapshotSink(snapCh)
	go writeSnapshots(ctx, snapCh, filepath.Join(gameDir, "snapshots"), st, logger)

	go func() {
		if err := g.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.WithError(err).Warn("game stopped")
		}
	}()

	s := &server{
		game:        g,
		cats:        cats,
		query:       st.primary,
		index:       st.index,
		mirror:      st.mirror,
		log:         logger,
		enableAdmin: envBool("GU_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
	}
	s.routes()

	srv := &http.Server{
		Addr:              *addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Infof("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-g.Done()
}

func writeSnapshots(ctx context.Context, ch <-chan snapshot.SnapshotV1, dir string, st *stores, logger *log.Entry) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-ch:
			path := filepath.Join(dir, snapshot.FileName(snap.Header.Tick))
			if err := snapshot.WriteSnapshot(path, snap); err != nil {
				logger.WithError(err).Warn("snapshot write")
				continue
			}
			st.mirror.Enqueue(path)
			idx := st.index
			if idx == nil {
				continue
			}
			state := snap.Grid.State
			walls := 0
			if state.Walls != nil {
				walls = len(*state.Walls)
			}
			items := 0
			if state.Items != nil {
				items = len(*state.Items)
			}
			idx.RecordSnapshot(indexdb.SnapshotRow{
				Tick:    snap.Header.Tick,
				Path:    path,
				At:      snap.Header.Time,
				Round:   state.Round,
				Players: len(state.Players),
				Items:   items,
				Walls:   walls,
			})
		}
	}
}

// layoutFile picks the layout flag over the tuning setting.
func layoutFile(flagPath, tuned string) string {
	if p := strings.TrimSpace(flagPath); p != "" {
		return p
	}
	return strings.TrimSpace(tuned)
}

func loadLayout(path string, tune tuning.Tuning, cats *catalogs.Catalogs) (*protocol.GridState, error) {
	colors := grid.New(tune, cats, grid.Options{}).ColorNames()
	st, err := layout.LoadCSV(path, colors)
	if err != nil {
		return nil, err
	}
	if err := layout.FillUses(st, cats.Items); err != nil {
		return nil, err
	}
	return st, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
