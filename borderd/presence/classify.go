package presence

import (
	"github.com/borderwatch/borderwatch/borderd/geo"
	"github.com/borderwatch/borderwatch/borderd/world"
)

// Classify returns, in declaration order, the areas containing at least one
// journey sample. Elevation is not part of a sample, so containment only
// looks at (x, z). Samples on an area's edge or vertex count as inside.
func Classify(areas []world.Area, journey []geo.Point) []world.Area {
	touched := make([]world.Area, 0, len(areas))
	for _, area := range areas {
		for _, p := range journey {
			if area.Contains(p) {
				touched = append(touched, area)
				break
			}
		}
	}
	return touched
}
