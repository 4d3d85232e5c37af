// Package indexdb keeps a queryable SQLite index of game events next to the
// JSONL archive. Writes are asynchronous; queries flush pending writes first.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"griduniverse/internal/events"
	"griduniverse/internal/sim/catalogs"
	"griduniverse/internal/sim/tuning"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	lastID atomic.Int64

	dropEvents    atomic.Uint64
	dropSnapshots atomic.Uint64
}

type reqKind int

const (
	reqEvent reqKind = iota + 1
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	event    events.Event
	snapshot SnapshotRow
	done     chan struct{}
}

// SnapshotRow describes a snapshot file on disk.
type SnapshotRow struct {
	Tick    uint64
	Path    string
	At      time.Time
	Round   int
	Players int
	Items   int
	Walls   int
}

type Stats struct {
	QueueDepth        int
	QueueCapacity     int
	DropEventTotal    uint64
	DropSnapshotTotal uint64
}

var stateColumn = map[events.Field]string{
	events.FieldPlayers: "has_players",
	events.FieldWalls:   "has_walls",
	events.FieldItems:   "has_items",
}

func dsn(path string) string {
	q := url.Values{}
	for _, p := range []string{
		"journal_mode(WAL)",
		"synchronous(NORMAL)",
		"foreign_keys(ON)",
		"busy_timeout(5000)",
		"temp_store(MEMORY)",
	} {
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	// Pragmas go in the DSN so every pooled connection gets them. WAL lets
	// readers run while the writer holds its transaction.
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(0)

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	var maxID int64
	if err := db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM events`).Scan(&maxID); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		// Every tick produces a state event; a deep queue absorbs slow disks.
		ch: make(chan req, 262144),
	}
	s.lastID.Store(maxID)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY,
			time_ns INTEGER NOT NULL,
			kind TEXT NOT NULL,
			origin TEXT NOT NULL,
			game_id TEXT NOT NULL,
			type TEXT NOT NULL,
			has_players INTEGER NOT NULL,
			has_walls INTEGER NOT NULL,
			has_items INTEGER NOT NULL,
			details TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_events_time ON events(time_ns);`,
		`CREATE INDEX IF NOT EXISTS idx_events_type_time ON events(type, time_ns) WHERE kind = 'event';`,
		`CREATE INDEX IF NOT EXISTS idx_events_players ON events(time_ns) WHERE kind = 'state' AND has_players = 1;`,
		`CREATE INDEX IF NOT EXISTS idx_events_walls ON events(time_ns) WHERE kind = 'state' AND has_walls = 1;`,
		`CREATE INDEX IF NOT EXISTS idx_events_items ON events(time_ns) WHERE kind = 'state' AND has_items = 1;`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			tick INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			at_ns INTEGER NOT NULL,
			round INTEGER NOT NULL,
			players INTEGER NOT NULL,
			items INTEGER NOT NULL,
			walls INTEGER NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Append assigns the next id and queues the event. When the writer has
// fallen behind the event is dropped from the index; the JSONL archive
// remains the source of truth.
func (s *SQLiteIndex) Append(_ context.Context, e events.Event) (int64, error) {
	if s == nil || s.closed.Load() {
		return 0, nil
	}
	if e.ID == 0 {
		e.ID = s.lastID.Add(1)
	} else {
		for {
			cur := s.lastID.Load()
			if e.ID <= cur || s.lastID.CompareAndSwap(cur, e.ID) {
				break
			}
		}
	}
	select {
	case s.ch <- req{kind: reqEvent, event: e}:
	default:
		s.dropEvents.Add(1)
	}
	return e.ID, nil
}

func (s *SQLiteIndex) RecordSnapshot(row SnapshotRow) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: row}:
	default:
		s.dropSnapshots.Add(1)
	}
}

// Flush waits until everything queued so far is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropEventTotal:    s.dropEvents.Load(),
		DropSnapshotTotal: s.dropSnapshots.Load(),
	}
}

// UpsertCatalogs stores the catalogs and tuning a game runs with, so an
// index can be replayed against the exact configuration.
func (s *SQLiteIndex) UpsertCatalogs(ctx context.Context, cats *catalogs.Catalogs, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	type kv struct {
		name   string
		digest string
		json   []byte
	}
	var rows []kv
	if b, _ := json.Marshal(cats.Items.Specs()); len(b) > 0 {
		rows = append(rows, kv{name: "items", digest: cats.ItemsDigest, json: b})
	}
	if b, _ := json.Marshal(cats.Items.Transitions.Rules()); len(b) > 0 {
		rows = append(rows, kv{name: "transitions", digest: cats.TransitionsDigest, json: b})
	}
	if b, _ := json.Marshal(cats.Player); len(b) > 0 {
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "player_config", digest: hex.EncodeToString(sum[:]), json: b})
	}
	{
		b, _ := json.Marshal(tune)
		sum := sha256.Sum256(b)
		rows = append(rows, kv{name: "tuning", digest: hex.EncodeToString(sum[:]), json: b})
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range rows {
		if r.digest == "" {
			continue
		}
		if _, err := stmt.Exec(r.name, r.digest, string(r.json), now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// CatalogJSON returns a stored catalog by name.
func (s *SQLiteIndex) CatalogJSON(ctx context.Context, name string) (digest string, raw []byte, err error) {
	var js string
	err = s.db.QueryRowContext(ctx, `SELECT digest, json FROM catalogs WHERE name = ?`, name).Scan(&digest, &js)
	return digest, []byte(js), err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEvent, _ := s.db.Prepare(`INSERT OR REPLACE INTO events(id,time_ns,kind,origin,game_id,type,has_players,has_walls,has_items,details) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(tick,path,at_ns,round,players,items,walls) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		if insertEvent != nil {
			_ = insertEvent.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	// An idle writer must not sit on an open transaction forever.
	ticker := time.NewTicker(commitMaxWait)
	defer ticker.Stop()

	for {
		var (
			r  req
			ok bool
		)
		select {
		case r, ok = <-s.ch:
		case <-ticker.C:
			flushIfNeeded()
			continue
		}
		if !ok {
			break
		}
		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}

		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqEvent:
			e := r.event
			a := e.Attrs()
			if insertEvent != nil {
				if _, err := tx.Stmt(insertEvent).Exec(
					e.ID,
					e.Time.UnixNano(),
					string(e.Kind),
					e.Origin,
					e.GameID,
					a.Type,
					a.HasPlayers,
					a.HasWalls,
					a.HasItems,
					string(e.Details),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqSnapshot:
			sn := r.snapshot
			if insertSnapshot != nil {
				if _, err := tx.Stmt(insertSnapshot).Exec(
					int64(sn.Tick),
					sn.Path,
					sn.At.UnixNano(),
					sn.Round,
					sn.Players,
					sn.Items,
					sn.Walls,
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}

// nanos maps the zero time, and anything else int64 nanoseconds cannot
// hold, to the ends of the range.
func nanos(t time.Time) int64 {
	switch {
	case t.IsZero() || t.Year() < 1678:
		return math.MinInt64
	case t.Year() > 2261:
		return math.MaxInt64
	}
	return t.UnixNano()
}

const eventColumns = `id, time_ns, kind, origin, game_id, details`

func scanEvents(rows *sql.Rows) ([]events.Event, error) {
	defer rows.Close()
	var out []events.Event
	for rows.Next() {
		var (
			e       events.Event
			ns      int64
			kind    string
			details string
		)
		if err := rows.Scan(&e.ID, &ns, &kind, &e.Origin, &e.GameID, &details); err != nil {
			return nil, err
		}
		e.Time = time.Unix(0, ns).UTC()
		e.Kind = events.Kind(kind)
		e.Details = json.RawMessage(details)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) LatestState(ctx context.Context, field events.Field, after, before time.Time) (events.Event, bool, error) {
	col, ok := stateColumn[field]
	if !ok {
		return events.Event{}, false, fmt.Errorf("unknown state field %q", field)
	}
	if err := s.Flush(ctx); err != nil {
		return events.Event{}, false, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		WHERE kind = 'state' AND `+col+` = 1 AND time_ns > ? AND time_ns <= ?
		ORDER BY time_ns DESC, id DESC LIMIT 1`,
		nanos(after), nanos(before))
	if err != nil {
		return events.Event{}, false, err
	}
	evs, err := scanEvents(rows)
	if err != nil || len(evs) == 0 {
		return events.Event{}, false, err
	}
	return evs[0], true, nil
}

func (s *SQLiteIndex) ByTypes(ctx context.Context, types []string, after, before time.Time) ([]events.Event, error) {
	if len(types) == 0 {
		return nil, nil
	}
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	args := make([]any, 0, len(types)+2)
	for _, t := range types {
		args = append(args, t)
	}
	args = append(args, nanos(after), nanos(before))
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events
		WHERE kind = 'event' AND type IN (?`+strings.Repeat(",?", len(types)-1)+`)
		AND time_ns > ? AND time_ns <= ?
		ORDER BY time_ns, id`, args...)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

func (s *SQLiteIndex) Range(ctx context.Context, after, before time.Time) ([]events.Event, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM events WHERE time_ns > ? AND time_ns <= ? ORDER BY time_ns, id`,
		nanos(after), nanos(before))
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// LatestSnapshot returns the newest recorded snapshot taken at or before t.
func (s *SQLiteIndex) LatestSnapshot(ctx context.Context, t time.Time) (SnapshotRow, bool, error) {
	if err := s.Flush(ctx); err != nil {
		return SnapshotRow{}, false, err
	}
	var (
		row      SnapshotRow
		tick, ns int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT tick, path, at_ns, round, players, items, walls FROM snapshots WHERE at_ns <= ? ORDER BY at_ns DESC LIMIT 1`,
		nanos(t)).Scan(&tick, &row.Path, &ns, &row.Round, &row.Players, &row.Items, &row.Walls)
	if err == sql.ErrNoRows {
		return SnapshotRow{}, false, nil
	}
	if err != nil {
		return SnapshotRow{}, false, err
	}
	row.Tick = uint64(tick)
	row.At = time.Unix(0, ns).UTC()
	return row, true, nil
}
