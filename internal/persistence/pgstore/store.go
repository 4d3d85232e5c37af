// Package pgstore is a Postgres-backed event store for deployments that
// share one database between game servers.
package pgstore

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"griduniverse/internal/events"
)

type eventRow struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	Time       time.Time `gorm:"not null;index:idx_gu_events_time"`
	Kind       string    `gorm:"not null"`
	Origin     string    `gorm:"not null"`
	GameID     string    `gorm:"not null;index"`
	Type       string    `gorm:"not null;index:idx_gu_events_type"`
	HasPlayers bool      `gorm:"not null"`
	HasWalls   bool      `gorm:"not null"`
	HasItems   bool      `gorm:"not null"`
	// Details is kept verbatim; jsonb would reorder keys.
	Details string `gorm:"type:text;not null"`
}

func (eventRow) TableName() string { return "gu_events" }

var stateColumn = map[events.Field]string{
	events.FieldPlayers: "has_players",
	events.FieldWalls:   "has_walls",
	events.FieldItems:   "has_items",
}

type Store struct {
	db *gorm.DB
}

func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// Open connects and creates the events table if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := OpenPostgres(dsn)
	if err != nil {
		return nil, err
	}
	s := New(db)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func New(db *gorm.DB) *Store { return &Store{db: db} }

func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&eventRow{}); err != nil {
		return fmt.Errorf("migrate gu_events: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) Append(ctx context.Context, e events.Event) (int64, error) {
	a := e.Attrs()
	row := eventRow{
		ID:         e.ID,
		Time:       e.Time,
		Kind:       string(e.Kind),
		Origin:     e.Origin,
		GameID:     e.GameID,
		Type:       a.Type,
		HasPlayers: a.HasPlayers,
		HasWalls:   a.HasWalls,
		HasItems:   a.HasItems,
		Details:    string(e.Details),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

func byTime(desc bool) clause.OrderBy {
	return clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "time"}, Desc: desc},
		{Column: clause.Column{Name: "id"}, Desc: desc},
	}}
}

func toEvent(r eventRow) events.Event {
	return events.Event{
		ID:      r.ID,
		Time:    r.Time,
		Kind:    events.Kind(r.Kind),
		Origin:  r.Origin,
		GameID:  r.GameID,
		Details: []byte(r.Details),
	}
}

func toEvents(rows []eventRow) []events.Event {
	out := make([]events.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, toEvent(r))
	}
	return out
}

func (s *Store) LatestState(ctx context.Context, field events.Field, after, before time.Time) (events.Event, bool, error) {
	col, ok := stateColumn[field]
	if !ok {
		return events.Event{}, false, fmt.Errorf("unknown state field %q", field)
	}
	var rows []eventRow
	err := s.db.WithContext(ctx).
		Where("kind = ? AND "+col+" AND time > ? AND time <= ?", string(events.KindState), after, before).
		Clauses(byTime(true)).
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 {
		return events.Event{}, false, err
	}
	return toEvent(rows[0]), true, nil
}

func (s *Store) ByTypes(ctx context.Context, types []string, after, before time.Time) ([]events.Event, error) {
	if len(types) == 0 {
		return nil, nil
	}
	var rows []eventRow
	err := s.db.WithContext(ctx).
		Where("kind = ? AND type IN ? AND time > ? AND time <= ?", string(events.KindEvent), types, after, before).
		Clauses(byTime(false)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toEvents(rows), nil
}

func (s *Store) Range(ctx context.Context, after, before time.Time) ([]events.Event, error) {
	var rows []eventRow
	err := s.db.WithContext(ctx).
		Where("time > ? AND time <= ?", after, before).
		Clauses(byTime(false)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return toEvents(rows), nil
}

// DeleteGame removes every event of one game.
func (s *Store) DeleteGame(ctx context.Context, gameID string) error {
	return s.db.WithContext(ctx).Where("game_id = ?", gameID).Delete(&eventRow{}).Error
}
