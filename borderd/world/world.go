// Package world models the periodic snapshot of the game world that the
// presence engine consumes: which territories exist, which sub-areas they are
// made of, and which players are standing inside them.
package world

import (
	"context"

	"github.com/borderwatch/borderwatch/borderd/geo"
)

// Provider returns a fresh world snapshot. It is called once per tick.
type Provider interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// Area is one named polygon of a territory.
type Area struct {
	Name    string      `json:"name"`
	Polygon geo.Polygon `json:"polygon"`
}

// Contains reports whether p lies within the area, boundary included.
func (a Area) Contains(p geo.Point) bool {
	return a.Polygon.Contains(p)
}

// Territory is a claimed region of the world.
type Territory struct {
	Name string `json:"name"`
	// Owner is the affiliation (nation) holding the territory. Empty when
	// the territory is unaffiliated.
	Owner string `json:"owner"`
	Areas []Area `json:"areas"`
}

// Contains reports whether p lies inside any area of the territory.
func (t Territory) Contains(p geo.Point) bool {
	for _, a := range t.Areas {
		if a.Contains(p) {
			return true
		}
	}
	return false
}

// Occupant is a player observed inside a territory.
type Occupant struct {
	Name     string   `json:"name"`
	UUID     string   `json:"uuid,omitempty"`
	Position geo.Vec3 `json:"position"`
	Online   bool     `json:"online"`
}

// Snapshot is the state of the world at one instant.
type Snapshot struct {
	Territories map[string]Territory
	// Occupants maps territory name to the players inside it, in the order
	// the upstream reported them.
	Occupants map[string][]Occupant
}

// Territory returns the named territory.
func (s Snapshot) Territory(name string) (Territory, bool) {
	t, ok := s.Territories[name]
	return t, ok
}

// Areas returns the sub-areas of the named territory, or nil when the
// territory no longer exists.
func (s Snapshot) Areas(territory string) []Area {
	return s.Territories[territory].Areas
}

// Present reports whether the occupant is currently inside the territory.
func (s Snapshot) Present(territory, occupant string) bool {
	for _, o := range s.Occupants[territory] {
		if o.Name == occupant {
			return true
		}
	}
	return false
}

// NewSnapshot places every player into the territories containing their
// horizontal position. A player standing in overlapping territories is
// placed in each of them.
func NewSnapshot(territories []Territory, players []Occupant) Snapshot {
	s := Snapshot{
		Territories: make(map[string]Territory, len(territories)),
		Occupants:   make(map[string][]Occupant),
	}
	for _, t := range territories {
		s.Territories[t.Name] = t
	}
	for _, p := range players {
		pos := p.Position.Horizontal()
		for _, t := range territories {
			if t.Contains(pos) {
				s.Occupants[t.Name] = append(s.Occupants[t.Name], p)
			}
		}
	}
	return s
}
