package geom

import (
	"encoding/json"
	"fmt"
)

// Pos is a (row, col) cell on the grid. On the wire it is a two-element array.
type Pos struct {
	Row int
	Col int
}

func P(row, col int) Pos { return Pos{Row: row, Col: col} }

func (p Pos) Add(d Pos) Pos { return Pos{Row: p.Row + d.Row, Col: p.Col + d.Col} }

func (p Pos) InBounds(rows, cols int) bool {
	return p.Row >= 0 && p.Row < rows && p.Col >= 0 && p.Col < cols
}

func (p Pos) String() string { return fmt.Sprintf("[%d,%d]", p.Row, p.Col) }

// Index is the row-major cell index used for stable ordering.
func (p Pos) Index(cols int) int { return p.Row*cols + p.Col }

func (p Pos) Less(o Pos) bool {
	if p.Row != o.Row {
		return p.Row < o.Row
	}
	return p.Col < o.Col
}

func (p Pos) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{p.Row, p.Col})
}

func (p *Pos) UnmarshalJSON(b []byte) error {
	var a [2]int
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	p.Row, p.Col = a[0], a[1]
	return nil
}

func Manhattan(a, b Pos) int { return abs(a.Row-b.Row) + abs(a.Col-b.Col) }

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Clamp keeps p inside a rows x cols grid.
func Clamp(p Pos, rows, cols int) Pos {
	p.Row = clampInt(p.Row, 0, rows-1)
	p.Col = clampInt(p.Col, 0, cols-1)
	return p
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type Direction string

const (
	Up    Direction = "up"
	Down  Direction = "down"
	Left  Direction = "left"
	Right Direction = "right"
)

var Directions = []Direction{Up, Down, Left, Right}

func (d Direction) Valid() bool {
	switch d {
	case Up, Down, Left, Right:
		return true
	}
	return false
}

func (d Direction) Delta() Pos {
	switch d {
	case Up:
		return Pos{Row: -1}
	case Down:
		return Pos{Row: 1}
	case Left:
		return Pos{Col: -1}
	case Right:
		return Pos{Col: 1}
	}
	return Pos{}
}

// Compass is the single-letter label used in path strings.
func (d Direction) Compass() byte {
	switch d {
	case Up:
		return 'N'
	case Down:
		return 'S'
	case Left:
		return 'W'
	case Right:
		return 'E'
	}
	return '?'
}

func FromCompass(c byte) (Direction, bool) {
	switch c {
	case 'N':
		return Up, true
	case 'S':
		return Down, true
	case 'W':
		return Left, true
	case 'E':
		return Right, true
	}
	return "", false
}

// Neighbors4 returns the in-bounds orthogonal neighbours of p.
func Neighbors4(p Pos, rows, cols int) []Pos {
	out := make([]Pos, 0, 4)
	for _, d := range Directions {
		n := p.Add(d.Delta())
		if n.InBounds(rows, cols) {
			out = append(out, n)
		}
	}
	return out
}
