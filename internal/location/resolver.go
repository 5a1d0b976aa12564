package location

import (
	"context"
	"fmt"
	"log"

	"github.com/nowwhat/placeagent/internal/geocode"
	"github.com/nowwhat/placeagent/internal/telemetry"
)

// Geocoder is the external resolution backend, tier 3 of the strategy.
type Geocoder interface {
	Reverse(ctx context.Context, latitude, longitude float64) (geocode.Address, error)
	Forward(ctx context.Context, query string) (geocode.Address, error)
}

// Resolver resolves raw location strings and coordinate pairs into canonical
// records. Repeated calls with equivalent input return the identical record:
// tier 1 serves exact repeats, tier 2 acceptance persists an alias so the
// repeat becomes a tier 1 hit, tier 3 inserts-if-absent on the normalized
// name.
type Resolver struct {
	store     Store
	index     *FuzzyIndex
	geocoder  Geocoder
	threshold float64
	logger    *log.Logger
	telemetry *telemetry.Telemetry
}

// NewResolver wires a resolver and seeds the fuzzy index from the store.
func NewResolver(ctx context.Context, store Store, geocoder Geocoder, threshold float64, logger *log.Logger, tel *telemetry.Telemetry) (*Resolver, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[LOCATION] ", log.LstdFlags)
	}
	if tel == nil {
		tel = telemetry.Nop()
	}
	index, err := NewFuzzyIndex()
	if err != nil {
		return nil, err
	}
	names, err := store.Names(ctx)
	if err != nil {
		return nil, fmt.Errorf("seeding fuzzy index: %w", err)
	}
	if err := index.Seed(names); err != nil {
		return nil, err
	}
	return &Resolver{
		store:     store,
		index:     index,
		geocoder:  geocoder,
		threshold: threshold,
		logger:    logger,
		telemetry: tel,
	}, nil
}

// Resolve runs the three tiers in strict priority order, short-circuiting on
// the first success.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Record, error) {
	norm := Normalize(raw)
	if norm == "" {
		return Record{}, fmt.Errorf("%w: empty input", ErrUnresolvable)
	}

	// Tier 1: exact dictionary lookup.
	if rec, ok, err := r.store.Get(ctx, norm); err != nil {
		return Record{}, err
	} else if ok {
		r.telemetry.Resolution("dictionary")
		return rec, nil
	}

	// Tier 2: fuzzy match, accepted only at or above the threshold.
	// Acceptance persists the alias so the next exact lookup hits tier 1.
	if name, score, ok := r.index.Best(norm); ok && score >= r.threshold {
		rec, found, err := r.store.Get(ctx, name)
		if err != nil {
			return Record{}, err
		}
		if found {
			if err := r.store.AddAlias(ctx, norm, rec.NormalizedName); err != nil {
				return Record{}, err
			}
			r.logger.Printf("fuzzy-matched %q to %q (score %.3f)", raw, rec.NormalizedName, score)
			r.telemetry.Resolution("fuzzy")
			return rec, nil
		}
	}

	// Tier 3: external geocoding.
	addr, err := r.geocoder.Forward(ctx, raw)
	if err != nil {
		r.telemetry.Resolution("failed")
		return Record{}, fmt.Errorf("%w: %q: %v", ErrUnresolvable, raw, err)
	}
	rec, err := r.persist(ctx, raw, norm, addr)
	if err != nil {
		return Record{}, err
	}
	r.telemetry.Resolution("geocode")
	return rec, nil
}

// ResolveCoordinates resolves a coordinate pair via reverse geocoding,
// reusing a stored record when the derived normalized name is known.
func (r *Resolver) ResolveCoordinates(ctx context.Context, latitude, longitude float64) (Record, error) {
	addr, err := r.geocoder.Reverse(ctx, latitude, longitude)
	if err != nil {
		r.telemetry.Resolution("failed")
		return Record{}, fmt.Errorf("%w: (%f, %f): %v", ErrUnresolvable, latitude, longitude, err)
	}
	merged := addr.Merged()
	norm := Normalize(merged.Joined())
	if norm == "" {
		r.telemetry.Resolution("failed")
		return Record{}, fmt.Errorf("%w: empty geocoding result for (%f, %f)", ErrUnresolvable, latitude, longitude)
	}
	if rec, ok, err := r.store.Get(ctx, norm); err != nil {
		return Record{}, err
	} else if ok {
		r.telemetry.Resolution("dictionary")
		return rec, nil
	}
	rec, err := r.persist(ctx, merged.Joined(), norm, addr)
	if err != nil {
		return Record{}, err
	}
	r.telemetry.Resolution("geocode")
	return rec, nil
}

func (r *Resolver) persist(ctx context.Context, raw, norm string, addr geocode.Address) (Record, error) {
	merged := addr.Merged()
	normalized := Normalize(merged.Joined())
	if normalized == "" {
		return Record{}, fmt.Errorf("%w: geocoder returned no administrative fields for %q", ErrUnresolvable, raw)
	}
	rec := Record{
		Name:           raw,
		NormalizedName: normalized,
		Depth1:         merged.Depth1,
		Depth2:         merged.Depth2,
		Depth3:         merged.Depth3,
		Depth4:         merged.Depth4,
		OldAddress:     addr.LotAddress,
		NewAddress:     addr.RoadAddress,
		Latitude:       addr.Latitude,
		Longitude:      addr.Longitude,
	}
	stored, err := r.store.InsertIfAbsent(ctx, rec)
	if err != nil {
		return Record{}, err
	}
	if err := r.index.Add(stored.NormalizedName); err != nil {
		return Record{}, err
	}
	// Remember the raw spelling so the next identical input is a tier 1 hit.
	if norm != stored.NormalizedName {
		if err := r.store.AddAlias(ctx, norm, stored.NormalizedName); err != nil {
			return Record{}, err
		}
	}
	return stored, nil
}
