// Package items holds item types, item instances and the transition rules
// that combine them.
package items

import (
	"math"
	"time"

	"griduniverse/internal/sim/geom"
)

// Spec is the declarative definition of an item type as loaded from config.
type Spec struct {
	ID                      string  `yaml:"item_id" json:"item_id"`
	Name                    string  `yaml:"name" json:"name"`
	Calories                int     `yaml:"calories" json:"calories"`
	Interactive             bool    `yaml:"interactive" json:"interactive"`
	Portable                bool    `yaml:"portable" json:"portable"`
	Crossable               bool    `yaml:"crossable" json:"crossable"`
	Plantable               bool    `yaml:"plantable" json:"plantable"`
	PlantingCost            float64 `yaml:"planting_cost" json:"planting_cost"`
	MaturationSpeed         float64 `yaml:"maturation_speed" json:"maturation_speed"`
	MaturationThreshold     float64 `yaml:"maturation_threshold" json:"maturation_threshold"`
	NUses                   int     `yaml:"n_uses" json:"n_uses"`
	PublicGoodMultiplier    float64 `yaml:"public_good_multiplier" json:"public_good_multiplier"`
	SpawnRate               float64 `yaml:"spawn_rate" json:"spawn_rate"`
	SeasonalGrowthRate      float64 `yaml:"seasonal_growth_rate" json:"seasonal_growth_rate"`
	Respawn                 bool    `yaml:"respawn" json:"respawn"`
	LimitQuantity           bool    `yaml:"limit_quantity" json:"limit_quantity"`
	ItemCount               int     `yaml:"item_count" json:"item_count"`
	ProbabilityDistribution string  `yaml:"probability_distribution" json:"probability_distribution"`

	// AutoTransitionTime is in seconds; zero disables the auto transition.
	AutoTransitionTime   float64 `yaml:"auto_transition_time" json:"auto_transition_time,omitempty"`
	AutoTransitionTarget string  `yaml:"auto_transition_target" json:"auto_transition_target,omitempty"`
	Sprite               string  `yaml:"sprite" json:"sprite,omitempty"`
}

// ItemType is the immutable, shared part of every item of one kind. Fields are
// only reachable through accessors.
type ItemType struct {
	spec Spec
}

func NewType(s Spec) *ItemType { return &ItemType{spec: s} }

func (t *ItemType) ID() string                    { return t.spec.ID }
func (t *ItemType) Name() string                  { return t.spec.Name }
func (t *ItemType) Calories() int                 { return t.spec.Calories }
func (t *ItemType) Interactive() bool             { return t.spec.Interactive }
func (t *ItemType) Portable() bool                { return t.spec.Portable }
func (t *ItemType) Crossable() bool               { return t.spec.Crossable }
func (t *ItemType) Plantable() bool               { return t.spec.Plantable }
func (t *ItemType) PlantingCost() float64         { return t.spec.PlantingCost }
func (t *ItemType) MaturationSpeed() float64      { return t.spec.MaturationSpeed }
func (t *ItemType) MaturationThreshold() float64  { return t.spec.MaturationThreshold }
func (t *ItemType) NUses() int                    { return t.spec.NUses }
func (t *ItemType) PublicGoodMultiplier() float64 { return t.spec.PublicGoodMultiplier }
func (t *ItemType) SpawnRate() float64            { return t.spec.SpawnRate }
func (t *ItemType) SeasonalGrowthRate() float64   { return t.spec.SeasonalGrowthRate }
func (t *ItemType) Respawn() bool                 { return t.spec.Respawn }
func (t *ItemType) LimitQuantity() bool           { return t.spec.LimitQuantity }
func (t *ItemType) InitialCount() int             { return t.spec.ItemCount }
func (t *ItemType) Distribution() string          { return t.spec.ProbabilityDistribution }
func (t *ItemType) AutoTransitionTarget() string  { return t.spec.AutoTransitionTarget }
func (t *ItemType) Sprite() string                { return t.spec.Sprite }
func (t *ItemType) AutoTransitionAfter() time.Duration {
	return time.Duration(t.spec.AutoTransitionTime * float64(time.Second))
}

// HasAutoTransition reports whether items of this type change on their own.
func (t *ItemType) HasAutoTransition() bool { return t.spec.AutoTransitionTime > 0 }

// Spec returns a copy of the definition.
func (t *ItemType) Spec() Spec { return t.spec }

// Item is one placed or carried instance. Pos is nil while a player holds it.
type Item struct {
	typ           *ItemType
	ID            int64
	Pos           *geom.Pos
	Created       time.Time
	RemainingUses int
}

// New creates a fresh instance with the type's full use count.
func New(t *ItemType, id int64, pos *geom.Pos, now time.Time) *Item {
	return &Item{typ: t, ID: id, Pos: pos, Created: now, RemainingUses: t.NUses()}
}

func (it *Item) Type() *ItemType   { return it.typ }
func (it *Item) TypeID() string    { return it.typ.ID() }
func (it *Item) Name() string      { return it.typ.Name() }
func (it *Item) Calories() int     { return it.typ.Calories() }
func (it *Item) Interactive() bool { return it.typ.Interactive() }
func (it *Item) Portable() bool    { return it.typ.Portable() }

// Maturity is 1 - exp(-age*speed), clamped into [0,1].
func (it *Item) Maturity(now time.Time) float64 {
	age := now.Sub(it.Created).Seconds()
	if age < 0 {
		age = 0
	}
	m := 1 - math.Exp(-age*it.typ.MaturationSpeed())
	return math.Max(0, math.Min(1, m))
}

// Mature reports whether the item has reached its type's threshold.
func (it *Item) Mature(now time.Time) bool {
	return it.Maturity(now) >= it.typ.MaturationThreshold()
}

func (it *Item) At(p geom.Pos) {
	it.Pos = &p
}
