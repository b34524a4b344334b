package geography

import (
	"encoding/json"
	"fmt"
)

// Polygon is a ring of [lon, lat] vertices as stored in the reference
// tables. The ring need not be explicitly closed.
type Polygon [][2]float64

// parsePolygon decodes the JSON vertex array stored in the polygon
// columns.
func parsePolygon(raw string) (Polygon, error) {
	var poly Polygon
	if err := json.Unmarshal([]byte(raw), &poly); err != nil {
		return nil, fmt.Errorf("malformed polygon: %w", err)
	}
	if len(poly) < 3 {
		return nil, fmt.Errorf("polygon has %d vertices, need at least 3", len(poly))
	}
	return poly, nil
}

// Contains reports whether the point (lon, lat) lies inside the
// polygon, by ray casting. Points exactly on an edge count as inside.
func (p Polygon) Contains(lon, lat float64) bool {
	inside := false
	n := len(p)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := p[i][0], p[i][1]
		xj, yj := p[j][0], p[j][1]

		intersects := (yi > lat) != (yj > lat) &&
			lon < (xj-xi)*(lat-yi)/(yj-yi)+xi
		if intersects {
			inside = !inside
		}
	}
	return inside
}

// Centroid returns the vertex average, a representative point that is
// good enough for tiering lookups against coarse catchment polygons.
func (p Polygon) Centroid() (lon, lat float64) {
	for _, v := range p {
		lon += v[0]
		lat += v[1]
	}
	n := float64(len(p))
	return lon / n, lat / n
}
