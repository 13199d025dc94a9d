package types

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxLayoutDim bounds each side of the viewport grid
const MaxLayoutDim = 4

// Layout is the viewport grid shape
type Layout struct {
	Rows int `json:"rows" yaml:"rows" validate:"min=1,max=4"`
	Cols int `json:"cols" yaml:"cols" validate:"min=1,max=4"`
}

// Common layouts offered by the toolbar
var (
	Layout1x1 = Layout{Rows: 1, Cols: 1}
	Layout1x2 = Layout{Rows: 1, Cols: 2}
	Layout2x2 = Layout{Rows: 2, Cols: 2}
)

// Count returns the number of viewports in the grid
func (l Layout) Count() int {
	return l.Rows * l.Cols
}

// Valid reports whether both sides are within 1..MaxLayoutDim
func (l Layout) Valid() bool {
	return l.Rows >= 1 && l.Cols >= 1 && l.Rows <= MaxLayoutDim && l.Cols <= MaxLayoutDim
}

// String returns the layout in RxC format
func (l Layout) String() string {
	return fmt.Sprintf("%dx%d", l.Rows, l.Cols)
}

// ParseLayout parses a layout written as RxC (for example "2x2").
func ParseLayout(s string) (Layout, error) {
	rows, cols, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return Layout{}, fmt.Errorf("layout %q: expected RxC", s)
	}
	r, err := strconv.Atoi(rows)
	if err != nil {
		return Layout{}, fmt.Errorf("layout %q: invalid rows: %w", s, err)
	}
	c, err := strconv.Atoi(cols)
	if err != nil {
		return Layout{}, fmt.Errorf("layout %q: invalid cols: %w", s, err)
	}
	l := Layout{Rows: r, Cols: c}
	if !l.Valid() {
		return Layout{}, fmt.Errorf("layout %q: sides must be between 1 and %d", s, MaxLayoutDim)
	}
	return l, nil
}
