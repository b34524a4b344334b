// Package geography resolves a development site to its planning
// geography: LPA, NCA, their neighbour sets, and for watercourse work
// the containing waterbody and operational catchment. Neighbour sets
// are precomputed by the GIS pipeline; this module only does point-in-
// polygon lookups and table reads.
package geography

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
)

// Repository reads the geography tables from the reference database.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new geography repository.
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "geography").Logger(),
	}
}

// namedPolygon pairs an area name with its boundary.
type namedPolygon struct {
	Name    string
	Polygon Polygon
}

// LPAPolygon returns the boundary for a named LPA, or sql.ErrNoRows
// wrapped when the LPA is unknown.
func (r *Repository) LPAPolygon(name string) (Polygon, error) {
	return r.polygonByName("LPAAreas", "lpa_name", name)
}

// NCAPolygon returns the boundary for a named NCA.
func (r *Repository) NCAPolygon(name string) (Polygon, error) {
	return r.polygonByName("NCAAreas", "nca_name", name)
}

func (r *Repository) polygonByName(table, col, name string) (Polygon, error) {
	var raw string
	query := fmt.Sprintf("SELECT polygon FROM %s WHERE %s = ?", table, col)
	if err := r.db.QueryRow(query, name).Scan(&raw); err != nil {
		return nil, fmt.Errorf("failed to load polygon for %s %q: %w", col, name, err)
	}
	return parsePolygon(raw)
}

// LPAContaining returns the name of the LPA whose polygon contains the
// point, or "" when no polygon does.
func (r *Repository) LPAContaining(lon, lat float64) (string, error) {
	return r.areaContaining("LPAAreas", "lpa_name", lon, lat)
}

// NCAContaining returns the name of the NCA containing the point.
func (r *Repository) NCAContaining(lon, lat float64) (string, error) {
	return r.areaContaining("NCAAreas", "nca_name", lon, lat)
}

func (r *Repository) areaContaining(table, col string, lon, lat float64) (string, error) {
	rows, err := r.db.Query(fmt.Sprintf("SELECT %s, polygon FROM %s", col, table))
	if err != nil {
		return "", fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var name, raw string
		if err := rows.Scan(&name, &raw); err != nil {
			return "", fmt.Errorf("failed to scan %s row: %w", table, err)
		}
		poly, err := parsePolygon(raw)
		if err != nil {
			r.log.Warn().Err(err).Str("area", name).Msg("Skipping malformed polygon")
			continue
		}
		if poly.Contains(lon, lat) {
			return name, nil
		}
	}
	return "", rows.Err()
}

// LPANeighbours returns the precomputed neighbour set for an LPA.
func (r *Repository) LPANeighbours(name string) (map[string]bool, error) {
	return r.neighbours("LPANeighbours", "lpa_name", name)
}

// NCANeighbours returns the precomputed neighbour set for an NCA.
func (r *Repository) NCANeighbours(name string) (map[string]bool, error) {
	return r.neighbours("NCANeighbours", "nca_name", name)
}

func (r *Repository) neighbours(table, col, name string) (map[string]bool, error) {
	rows, err := r.db.Query(fmt.Sprintf("SELECT neighbour FROM %s WHERE %s = ?", table, col), name)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", table, err)
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var neighbour string
		if err := rows.Scan(&neighbour); err != nil {
			return nil, fmt.Errorf("failed to scan neighbour: %w", err)
		}
		out[neighbour] = true
	}
	return out, rows.Err()
}

// WaterbodyContaining finds the waterbody whose polygon contains the
// point, returning its id and operational catchment. Both empty when
// no waterbody polygon contains the point or polygons are absent.
func (r *Repository) WaterbodyContaining(lon, lat float64) (waterbodyID, catchmentID string, err error) {
	rows, err := r.db.Query(`SELECT waterbody_id, operational_catchment_id, COALESCE(polygon, '') FROM Waterbodies`)
	if err != nil {
		return "", "", fmt.Errorf("failed to query Waterbodies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, catchment, raw string
		if err := rows.Scan(&id, &catchment, &raw); err != nil {
			return "", "", fmt.Errorf("failed to scan waterbody: %w", err)
		}
		if raw == "" {
			continue
		}
		poly, err := parsePolygon(raw)
		if err != nil {
			r.log.Warn().Err(err).Str("waterbody", id).Msg("Skipping malformed waterbody polygon")
			continue
		}
		if poly.Contains(lon, lat) {
			return id, catchment, nil
		}
	}
	return "", "", rows.Err()
}
