package presence_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/borderwatch/borderwatch/borderd/geo"
	"github.com/borderwatch/borderwatch/borderd/presence"
	"github.com/borderwatch/borderwatch/borderd/world"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	west := world.Area{Name: "west", Polygon: square(0, 0, 10)}
	east := world.Area{Name: "east", Polygon: square(20, 0, 10)}
	north := world.Area{Name: "north", Polygon: square(0, -10, 10)}
	areas := []world.Area{west, east, north}

	names := func(as []world.Area) []string {
		out := make([]string, 0, len(as))
		for _, a := range as {
			out = append(out, a.Name)
		}
		return out
	}

	cases := []struct {
		name    string
		journey []geo.Point
		want    []string
	}{
		{name: "None", journey: []geo.Point{{X: 15, Z: 5}}, want: []string{}},
		{name: "Empty", journey: nil, want: []string{}},
		{name: "One", journey: []geo.Point{{X: 5, Z: 5}}, want: []string{"west"}},
		// Declaration order wins over journey order.
		{name: "Order", journey: []geo.Point{{X: 25, Z: 5}, {X: 5, Z: 5}}, want: []string{"west", "east"}},
		{name: "EdgeInclusive", journey: []geo.Point{{X: 10, Z: 5}}, want: []string{"west"}},
		{name: "VertexInclusive", journey: []geo.Point{{X: 20, Z: 0}}, want: []string{"east"}},
		{name: "SharedEdge", journey: []geo.Point{{X: 5, Z: 0}}, want: []string{"west", "north"}},
		{name: "IgnoresElevation", journey: []geo.Point{
			geo.Vec3{X: 25, Y: -40, Z: 5}.Horizontal(),
			geo.Vec3{X: 5, Y: 300, Z: 5}.Horizontal(),
		}, want: []string{"west", "east"}},
		{name: "Repeated", journey: []geo.Point{{X: 5, Z: 5}, {X: 6, Z: 6}, {X: 5, Z: 5}}, want: []string{"west"}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, c.want, names(presence.Classify(areas, c.journey)))
		})
	}
}
