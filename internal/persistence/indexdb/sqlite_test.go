package indexdb

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"griduniverse/internal/events"
	"griduniverse/internal/sim/catalogs"
	"griduniverse/internal/sim/tuning"
)

func openTemp(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "game.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx, path
}

func mustEvent(t *testing.T, kind events.Kind, at time.Time, details any) events.Event {
	t.Helper()
	e, err := events.New(kind, events.OriginEnvironment, "g1", at, details)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return e
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqEvent}

	if _, err := s.Append(context.Background(), events.Event{}); err != nil {
		t.Fatalf("append: %v", err)
	}
	s.RecordSnapshot(SnapshotRow{Tick: 2})

	st := s.Stats()
	if st.DropEventTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drops: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_Queries(t *testing.T) {
	ctx := context.Background()
	idx, _ := openTemp(t)
	t0 := time.Unix(1_700_000_000, 0)

	add := func(e events.Event) int64 {
		id, err := idx.Append(ctx, e)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		return id
	}
	full := add(mustEvent(t, events.KindState, t0.Add(time.Second), map[string]any{"players": []any{}, "walls": []any{}, "items": []any{}}))
	chat := add(mustEvent(t, events.KindEvent, t0.Add(2*time.Second), map[string]any{"type": "chat", "contents": "hello"}))
	add(mustEvent(t, events.KindEvent, t0.Add(3*time.Second), map[string]any{"type": "move"}))
	players := add(mustEvent(t, events.KindState, t0.Add(4*time.Second), map[string]any{"players": []any{}}))
	add(mustEvent(t, events.KindState, t0.Add(10*time.Second), map[string]any{"players": []any{}, "items": []any{}}))

	end := t0.Add(5 * time.Second)
	e, ok, err := idx.LatestState(ctx, events.FieldPlayers, t0, end)
	if err != nil || !ok || e.ID != players {
		t.Fatalf("latest players: id=%d ok=%v err=%v", e.ID, ok, err)
	}
	e, ok, err = idx.LatestState(ctx, events.FieldItems, t0, end)
	if err != nil || !ok || e.ID != full {
		t.Fatalf("latest items: id=%d ok=%v err=%v", e.ID, ok, err)
	}
	if !e.Time.Equal(t0.Add(time.Second)) || e.Kind != events.KindState || e.GameID != "g1" {
		t.Fatalf("decoded event: %+v", e)
	}

	got, err := idx.ByTypes(ctx, events.Notable, t0, end)
	if err != nil {
		t.Fatalf("by types: %v", err)
	}
	if len(got) != 1 || got[0].ID != chat || got[0].Attrs().Type != "chat" {
		t.Fatalf("by types=%+v", got)
	}

	all, err := idx.Range(ctx, time.Time{}, t0.Add(time.Hour))
	if err != nil || len(all) != 5 {
		t.Fatalf("range: n=%d err=%v", len(all), err)
	}
}

func TestSQLiteIndex_ReopenContinuesIDs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "game.sqlite")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	at := time.Unix(1_700_000_000, 0)
	for i := 0; i < 3; i++ {
		if _, err := idx.Append(ctx, mustEvent(t, events.KindEvent, at, map[string]string{"type": "chat"})); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()
	id, _ := idx.Append(ctx, mustEvent(t, events.KindEvent, at, map[string]string{"type": "chat"}))
	if id != 4 {
		t.Fatalf("id=%d want 4", id)
	}
}

func TestSQLiteIndex_SnapshotsAndCatalogs(t *testing.T) {
	ctx := context.Background()
	idx, _ := openTemp(t)
	t0 := time.Unix(1_700_000_000, 0)
	idx.RecordSnapshot(SnapshotRow{Tick: 100, Path: "/s/100.snap.zst", At: t0, Players: 2})
	idx.RecordSnapshot(SnapshotRow{Tick: 200, Path: "/s/200.snap.zst", At: t0.Add(time.Minute), Players: 3})

	row, ok, err := idx.LatestSnapshot(ctx, t0.Add(30*time.Second))
	if err != nil || !ok || row.Tick != 100 || row.Players != 2 {
		t.Fatalf("snapshot row=%+v ok=%v err=%v", row, ok, err)
	}
	if _, ok, _ := idx.LatestSnapshot(ctx, t0.Add(-time.Second)); ok {
		t.Fatalf("no snapshot expected before the first")
	}

	cats, err := catalogs.Parse([]byte("items:\n  - {item_id: food, name: Food, calories: 2}\n"))
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	if err := idx.UpsertCatalogs(ctx, cats, tuning.Defaults()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	digest, raw, err := idx.CatalogJSON(ctx, "items")
	if err != nil || digest != cats.ItemsDigest || len(raw) == 0 {
		t.Fatalf("items digest=%q raw=%s err=%v", digest, raw, err)
	}
}
