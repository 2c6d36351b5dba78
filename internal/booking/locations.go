package booking

import (
	"context"
	"time"

	"github.com/wolfman30/oncare-patient-gateway/internal/apperr"
	"github.com/wolfman30/oncare-patient-gateway/internal/cache"
	"github.com/wolfman30/oncare-patient-gateway/internal/patientapi"
	"github.com/wolfman30/oncare-patient-gateway/internal/retry"
)

const locationsCacheKey = "locations"

// LocationLister lists care locations. *patientapi.Client satisfies it.
type LocationLister interface {
	ListLocations(ctx context.Context) ([]patientapi.Location, error)
}

// Directory serves the location list through a read-through cache.
type Directory struct {
	source LocationLister
	cache  cache.Cache
	ttl    time.Duration
	policy retry.Policy
}

// NewDirectory builds a Directory. A nil cache disables caching.
func NewDirectory(source LocationLister, c cache.Cache, ttl time.Duration, policy retry.Policy) *Directory {
	return &Directory{source: source, cache: c, ttl: ttl, policy: policy}
}

// List returns every location.
func (d *Directory) List(ctx context.Context) ([]patientapi.Location, error) {
	return cache.GetOrLoad(ctx, d.cache, locationsCacheKey, d.ttl, func(ctx context.Context) ([]patientapi.Location, error) {
		return retry.Value(ctx, d.policy, "locations", func(ctx context.Context) ([]patientapi.Location, error) {
			return d.source.ListLocations(ctx)
		})
	})
}

// Find resolves a location id.
func (d *Directory) Find(ctx context.Context, id patientapi.ID) (patientapi.Location, error) {
	locs, err := d.List(ctx)
	if err != nil {
		return patientapi.Location{}, err
	}
	for _, l := range locs {
		if l.ID == id {
			return l, nil
		}
	}
	return patientapi.Location{}, apperr.Validation("unknown location %q", id)
}
