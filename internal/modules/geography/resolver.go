package geography

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/wildcroft/bng-engine/internal/clients/postcodes"
	"github.com/wildcroft/bng-engine/internal/domain"
)

// SiteInput is the caller's site identifier: a postcode, a free-text
// address, or an explicit LPA/NCA pair. Exactly one shape is used, in
// that order of preference.
type SiteInput struct {
	Postcode string `json:"postcode,omitempty"`
	Address  string `json:"address,omitempty"`
	LPA      string `json:"lpa,omitempty"`
	NCA      string `json:"nca,omitempty"`
}

// Empty reports whether no identifier was supplied at all.
func (s SiteInput) Empty() bool {
	return s.Postcode == "" && s.Address == "" && s.LPA == "" && s.NCA == ""
}

// Geocoder turns postcodes and addresses into coordinates. The
// postcodes client satisfies this; tests substitute a fake.
type Geocoder interface {
	LookupPostcode(ctx context.Context, postcode string) (postcodes.Point, error)
	GeocodeAddress(ctx context.Context, address string) (postcodes.Point, error)
}

// Resolver produces Site Contexts from site inputs, caching neighbour
// sets and geocoding results between jobs.
type Resolver struct {
	repo     *Repository
	geocoder Geocoder
	log      zerolog.Logger

	neighbourCache *ttlCache[map[string]bool]
	geocodeCache   *ttlCache[postcodes.Point]
}

// NewResolver creates a geography resolver.
func NewResolver(repo *Repository, geocoder Geocoder, neighbourTTL, geocodeTTL time.Duration, log zerolog.Logger) *Resolver {
	return &Resolver{
		repo:           repo,
		geocoder:       geocoder,
		log:            log.With().Str("component", "geography_resolver").Logger(),
		neighbourCache: newTTLCache[map[string]bool](neighbourTTL),
		geocodeCache:   newTTLCache[postcodes.Point](geocodeTTL),
	}
}

// Resolve produces the Site Context for a site input. Partial results
// (one axis resolved, the other not) succeed with an empty neighbour
// set on the missing axis and a warning; a site that resolves on no
// axis at all is GeographyUnresolved.
func (r *Resolver) Resolve(ctx context.Context, input SiteInput) (domain.SiteContext, []string, error) {
	if input.Empty() {
		return domain.SiteContext{}, nil, domain.E(domain.KindGeographyUnresolved,
			"no site identifier: provide a postcode, address, or explicit LPA/NCA")
	}

	if input.LPA != "" || input.NCA != "" {
		return r.resolveExplicit(ctx, input)
	}
	return r.resolveByPoint(ctx, input)
}

// resolveExplicit skips geocoding: names are validated against the
// polygon tables and the representative point for watercourse lookups
// is the LPA polygon's centroid.
func (r *Resolver) resolveExplicit(ctx context.Context, input SiteInput) (domain.SiteContext, []string, error) {
	site := domain.SiteContext{
		LPAName:       input.LPA,
		NCAName:       input.NCA,
		LPANeighbours: map[string]bool{},
		NCANeighbours: map[string]bool{},
	}
	var warnings []string

	var lpaPoly Polygon
	if input.LPA != "" {
		poly, err := r.repo.LPAPolygon(input.LPA)
		if err != nil {
			return domain.SiteContext{}, nil, domain.E(domain.KindGeographyUnresolved,
				"unknown LPA %q", input.LPA)
		}
		lpaPoly = poly

		site.LPANeighbours, err = r.cachedNeighbours("lpa", input.LPA, r.repo.LPANeighbours)
		if err != nil {
			return domain.SiteContext{}, nil, err
		}
	} else {
		warnings = append(warnings, "no LPA supplied; LPA tiering axis disabled for this job")
	}

	if input.NCA != "" {
		if _, err := r.repo.NCAPolygon(input.NCA); err != nil {
			return domain.SiteContext{}, nil, domain.E(domain.KindGeographyUnresolved,
				"unknown NCA %q", input.NCA)
		}

		var err error
		site.NCANeighbours, err = r.cachedNeighbours("nca", input.NCA, r.repo.NCANeighbours)
		if err != nil {
			return domain.SiteContext{}, nil, err
		}
	} else {
		warnings = append(warnings, "no NCA supplied; NCA tiering axis disabled for this job")
	}

	if lpaPoly != nil {
		lon, lat := lpaPoly.Centroid()
		if err := r.attachWaterbody(&site, lon, lat); err != nil {
			return domain.SiteContext{}, nil, err
		}
	}

	return site, warnings, nil
}

// resolveByPoint geocodes the input then derives both axes from
// point-in-polygon lookups.
func (r *Resolver) resolveByPoint(ctx context.Context, input SiteInput) (domain.SiteContext, []string, error) {
	point, err := r.geocode(ctx, input)
	if err != nil {
		return domain.SiteContext{}, nil, domain.Wrap(domain.KindGeographyUnresolved, err,
			"site could not be geocoded")
	}

	lpa, err := r.repo.LPAContaining(point.Longitude, point.Latitude)
	if err != nil {
		return domain.SiteContext{}, nil, err
	}
	nca, err := r.repo.NCAContaining(point.Longitude, point.Latitude)
	if err != nil {
		return domain.SiteContext{}, nil, err
	}

	if lpa == "" && nca == "" {
		return domain.SiteContext{}, nil, domain.E(domain.KindGeographyUnresolved,
			"no LPA or NCA polygon contains the site location")
	}

	site := domain.SiteContext{
		LPAName:       lpa,
		NCAName:       nca,
		LPANeighbours: map[string]bool{},
		NCANeighbours: map[string]bool{},
	}
	var warnings []string

	if lpa != "" {
		site.LPANeighbours, err = r.cachedNeighbours("lpa", lpa, r.repo.LPANeighbours)
		if err != nil {
			return domain.SiteContext{}, nil, err
		}
	} else {
		warnings = append(warnings, "site location falls outside all LPA polygons; LPA axis disabled")
	}
	if nca != "" {
		site.NCANeighbours, err = r.cachedNeighbours("nca", nca, r.repo.NCANeighbours)
		if err != nil {
			return domain.SiteContext{}, nil, err
		}
	} else {
		warnings = append(warnings, "site location falls outside all NCA polygons; NCA axis disabled")
	}

	if err := r.attachWaterbody(&site, point.Longitude, point.Latitude); err != nil {
		return domain.SiteContext{}, nil, err
	}

	return site, warnings, nil
}

func (r *Resolver) geocode(ctx context.Context, input SiteInput) (postcodes.Point, error) {
	var key string
	if input.Postcode != "" {
		key = "pc:" + strings.ToUpper(strings.ReplaceAll(input.Postcode, " ", ""))
	} else {
		key = "addr:" + strings.ToLower(input.Address)
	}

	if point, ok := r.geocodeCache.get(key); ok {
		return point, nil
	}

	var point postcodes.Point
	var err error
	if input.Postcode != "" {
		point, err = r.geocoder.LookupPostcode(ctx, input.Postcode)
	} else {
		point, err = r.geocoder.GeocodeAddress(ctx, input.Address)
	}
	if err != nil {
		return postcodes.Point{}, err
	}

	r.geocodeCache.put(key, point)
	return point, nil
}

func (r *Resolver) cachedNeighbours(axis, name string, load func(string) (map[string]bool, error)) (map[string]bool, error) {
	key := axis + ":" + name
	if cached, ok := r.neighbourCache.get(key); ok {
		return cached, nil
	}

	neighbours, err := load(name)
	if err != nil {
		return nil, err
	}
	r.neighbourCache.put(key, neighbours)
	return neighbours, nil
}

func (r *Resolver) attachWaterbody(site *domain.SiteContext, lon, lat float64) error {
	waterbodyID, catchmentID, err := r.repo.WaterbodyContaining(lon, lat)
	if err != nil {
		return err
	}
	site.WaterbodyID = waterbodyID
	site.OperationalCatchmentID = catchmentID
	return nil
}
