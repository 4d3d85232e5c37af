package items

import (
	"fmt"
	"time"

	"griduniverse/internal/sim/geom"
)

// Catalog is the loaded set of item types plus the transition table.
type Catalog struct {
	types       []*ItemType
	byID        map[string]*ItemType
	Transitions *Table
}

func NewCatalog(specs []Spec, rules []Rule) (*Catalog, error) {
	c := &Catalog{byID: make(map[string]*ItemType, len(specs))}
	for _, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("item type with empty item_id")
		}
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate item_id %q", s.ID)
		}
		t := NewType(s)
		c.types = append(c.types, t)
		c.byID[s.ID] = t
	}
	c.Transitions = NewTable(rules)
	return c, nil
}

// Specs returns the resolved specs in config order.
func (c *Catalog) Specs() []Spec {
	out := make([]Spec, 0, len(c.types))
	for _, t := range c.types {
		out = append(out, t.Spec())
	}
	return out
}

// Types returns the item types in config order.
func (c *Catalog) Types() []*ItemType {
	return append([]*ItemType(nil), c.types...)
}

func (c *Catalog) Type(id string) (*ItemType, bool) {
	t, ok := c.byID[id]
	return t, ok
}

// First is the default type, used e.g. for planting.
func (c *Catalog) First() *ItemType {
	if len(c.types) == 0 {
		return nil
	}
	return c.types[0]
}

// NewItem creates an instance of typeID; pos may be nil for a carried item.
func (c *Catalog) NewItem(typeID string, id int64, pos *geom.Pos, now time.Time) (*Item, error) {
	t, ok := c.byID[typeID]
	if !ok {
		return nil, fmt.Errorf("unknown item_id %q", typeID)
	}
	return New(t, id, pos, now), nil
}
