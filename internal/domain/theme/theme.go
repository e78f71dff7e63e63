// Package theme classifies puzzles. Themes influence how much a single
// outcome is allowed to move ratings.
package theme

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknown is returned when a theme name is not part of the enumeration.
var ErrUnknown = errors.New("unknown theme")

// Theme identifies a puzzle category.
type Theme string

// Known themes.
const (
	Mix              Theme = "mix"
	MateIn1          Theme = "mateIn1"
	MateIn2          Theme = "mateIn2"
	MateIn3          Theme = "mateIn3"
	OneMove          Theme = "oneMove"
	Short            Theme = "short"
	Long             Theme = "long"
	Fork             Theme = "fork"
	Pin              Theme = "pin"
	Skewer           Theme = "skewer"
	DiscoveredAttack Theme = "discoveredAttack"
	HangingPiece     Theme = "hangingPiece"
	Sacrifice        Theme = "sacrifice"
	Promotion        Theme = "promotion"
	Endgame          Theme = "endgame"
	Middlegame       Theme = "middlegame"
	Opening          Theme = "opening"
)

type flags struct {
	hinting bool
	obvious bool
}

var known = map[Theme]flags{
	Mix:              {},
	MateIn1:          {hinting: true, obvious: true},
	MateIn2:          {hinting: true},
	MateIn3:          {hinting: true},
	OneMove:          {hinting: true, obvious: true},
	Short:            {},
	Long:             {},
	Fork:             {hinting: true},
	Pin:              {hinting: true},
	Skewer:           {hinting: true},
	DiscoveredAttack: {hinting: true},
	HangingPiece:     {hinting: true},
	Sacrifice:        {hinting: true},
	Promotion:        {hinting: true},
	Endgame:          {},
	Middlegame:       {},
	Opening:          {},
}

// Parse validates a theme name.
func Parse(name string) (Theme, error) {
	t := Theme(name)
	if _, ok := known[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknown, name)
	}
	return t, nil
}

// All returns every known theme sorted by name.
func All() []Theme {
	out := make([]Theme, 0, len(known))
	for t := range known {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsMix reports whether the theme is the unfiltered mix.
func (t Theme) IsMix() bool { return t == Mix }

// Hinting reports whether knowing the theme reveals the nature of the solution.
func (t Theme) Hinting() bool { return known[t].hinting }

// Obvious reports whether knowing the theme makes the solution nearly trivial.
func (t Theme) Obvious() bool { return known[t].obvious }

func (t Theme) String() string { return string(t) }
