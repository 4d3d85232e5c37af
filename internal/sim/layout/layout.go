// Package layout turns a hand-drawn CSV grid into an initial game state.
//
//	w                 wall
//	p<id>[c<color>]   player, color counted from 1
//	<item>[|<uses>]   item of the given type
//	(empty)           vacant
package layout

import (
	"encoding/csv"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"griduniverse/internal/protocol"
	"griduniverse/internal/sim/items"
)

var playerToken = regexp.MustCompile(`^p(\d+)(?:c(\d+))?$`)

// ColorError reports a player cell whose color is outside the configured
// palette.
type ColorError struct {
	Cell     string
	Row, Col int
	Color    int
	Max      int
}

func (e *ColorError) Error() string {
	return fmt.Sprintf("invalid player color in %q at [%d, %d]: max color is %d, got %d", e.Cell, e.Row, e.Col, e.Max, e.Color)
}

// Parse converts a matrix of cell tokens. Rows may be ragged; the widest row
// sets the column count. Items get ids 1, 2, ... in row-major order and a
// remaining-uses of 0 unless one is given; see FillUses.
func Parse(matrix [][]string, colorNames []string) (*protocol.GridState, error) {
	st := &protocol.GridState{
		Players: []protocol.PlayerState{},
		Rows:    len(matrix),
	}
	walls := []protocol.WallState{}
	placed := []protocol.ItemState{}
	for _, row := range matrix {
		if len(row) > st.Columns {
			st.Columns = len(row)
		}
	}

	for r, row := range matrix {
		for c, raw := range row {
			cell := strings.TrimSpace(raw)
			pos := [2]int{r, c}
			switch {
			case cell == "":
			case cell == "w":
				walls = append(walls, protocol.WallState{Position: pos, Color: protocol.DefaultWallColor})
			case playerToken.MatchString(cell):
				m := playerToken.FindStringSubmatch(cell)
				ps := protocol.PlayerState{ID: m[1], Position: pos, MotionDirection: "right"}
				idx := 0
				if m[2] != "" {
					n, _ := strconv.Atoi(m[2])
					if n < 1 || n > len(colorNames) {
						return nil, &ColorError{Cell: cell, Row: r, Col: c, Color: n, Max: len(colorNames)}
					}
					idx = n - 1
				}
				if len(colorNames) == 0 {
					return nil, &ColorError{Cell: cell, Row: r, Col: c, Color: idx + 1, Max: 0}
				}
				ps.Color = colorNames[idx]
				st.Players = append(st.Players, ps)
			default:
				it, err := parseItem(cell)
				if err != nil {
					return nil, fmt.Errorf("cell [%d, %d]: %w", r, c, err)
				}
				it.ID = int64(len(placed) + 1)
				it.Position = &pos
				placed = append(placed, it)
			}
		}
	}
	st.Walls = &walls
	st.Items = &placed
	return st, nil
}

func parseItem(cell string) (protocol.ItemState, error) {
	parts := strings.Split(cell, "|")
	it := protocol.ItemState{ItemID: strings.TrimSpace(parts[0])}
	switch len(parts) {
	case 1:
	case 2:
		n, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || n < 1 {
			return it, fmt.Errorf("bad remaining uses in %q", cell)
		}
		it.RemainingUses = n
	default:
		return it, fmt.Errorf("bad item cell %q", cell)
	}
	return it, nil
}

// FillUses checks every item against the catalog and sets unspecified
// remaining uses to the type's n_uses.
func FillUses(st *protocol.GridState, cat *items.Catalog) error {
	if st.Items == nil {
		return nil
	}
	list := *st.Items
	for i := range list {
		t, ok := cat.Type(list[i].ItemID)
		if !ok {
			return fmt.Errorf("layout item %d at %v: unknown item_id %q", list[i].ID, *list[i].Position, list[i].ItemID)
		}
		if list[i].RemainingUses == 0 {
			list[i].RemainingUses = t.NUses()
		}
	}
	return nil
}

// LoadCSV reads and parses a layout file.
func LoadCSV(path string, colorNames []string) (*protocol.GridState, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	matrix, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	st, err := Parse(matrix, colorNames)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return st, nil
}
