package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"griduniverse/internal/events"
	"griduniverse/internal/persistence/eventlog"
	"griduniverse/internal/persistence/indexdb"
	"griduniverse/internal/persistence/objmirror"
	"griduniverse/internal/persistence/pgstore"
)

// stores is where a game's events go. Primary numbers the events and answers
// replay queries; the mirrors get copies.
type stores struct {
	primary events.Store
	index   *indexdb.SQLiteIndex
	log     *eventlog.Writer
	pg      *pgstore.Store
	mirror  *objmirror.Mirror
}

func (s *stores) sink() events.Sink {
	t := events.Tee{Primary: s.primary}
	if s.log != nil {
		t.Mirrors = append(t.Mirrors, s.log)
	}
	if s.pg != nil {
		t.Mirrors = append(t.Mirrors, s.pg)
	}
	return t
}

func (s *stores) Close() {
	if s.index != nil {
		_ = s.index.Close()
	}
	if s.log != nil {
		_ = s.log.Close()
	}
	if s.pg != nil {
		_ = s.pg.Close()
	}
	// After the log, whose close hands its last file to the mirror.
	s.mirror.Close()
}

// openStores opens the JSONL archive, the sqlite index unless disabled, and
// postgres when GU_PG_DSN is set. Without the index, events are kept in
// memory for replay. Finished archive files go to object storage when
// GU_MIRROR_ENDPOINT is set.
func openStores(ctx context.Context, dataDir, gameDir string, disableDB bool, logger *log.Entry) (*stores, error) {
	s := &stores{log: eventlog.NewWriter(filepath.Join(gameDir, "events"), "events")}
	m, err := openMirror(dataDir, logger)
	if err != nil {
		return nil, err
	}
	if m != nil {
		s.mirror = m
		s.log.OnClose = m.Enqueue
	}
	if disableDB {
		logger.Info("sqlite index disabled; replay reads from memory")
		s.primary = events.NewMemoryStore()
	} else {
		idx, err := indexdb.OpenSQLite(filepath.Join(gameDir, "index", "game.sqlite"))
		if err != nil {
			return nil, fmt.Errorf("open index: %w", err)
		}
		s.index, s.primary = idx, idx
	}

	if dsn := strings.TrimSpace(os.Getenv("GU_PG_DSN")); dsn != "" {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pg, err := pgstore.Open(pctx, dsn)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := pg.Migrate(pctx); err != nil {
			_ = pg.Close()
			s.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		s.pg = pg
		logger.Info("mirroring events to postgres")
	}
	return s, nil
}

func openMirror(dataDir string, logger *log.Entry) (*objmirror.Mirror, error) {
	endpoint := strings.TrimSpace(os.Getenv("GU_MIRROR_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}
	c, err := objmirror.NewClient(objmirror.ClientConfig{
		Endpoint:  endpoint,
		Bucket:    os.Getenv("GU_MIRROR_BUCKET"),
		AccessKey: os.Getenv("GU_MIRROR_ACCESS_KEY"),
		SecretKey: os.Getenv("GU_MIRROR_SECRET_KEY"),
		Region:    os.Getenv("GU_MIRROR_REGION"),
	})
	if err != nil {
		return nil, err
	}
	logger.WithField("endpoint", endpoint).Info("mirroring archives to object storage")
	return objmirror.New(c, objmirror.Options{
		Root:    dataDir,
		Prefix:  os.Getenv("GU_MIRROR_PREFIX"),
		Workers: envInt("GU_MIRROR_WORKERS", 2),
		Log:     logger.WithField("component", "objmirror"),
	}), nil
}

func envInt(key string, def int) int {
	v, err := strconv.Atoi(strings.TrimSpace(os.Getenv(key)))
	if err != nil {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
