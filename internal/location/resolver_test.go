package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/nowwhat/placeagent/internal/geocode"
)

type fakeGeocoder struct {
	mu       sync.Mutex
	forward  map[string]geocode.Address
	reverse  geocode.Address
	calls    int
	failWith error
}

func (g *fakeGeocoder) Forward(_ context.Context, query string) (geocode.Address, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failWith != nil {
		return geocode.Address{}, g.failWith
	}
	addr, ok := g.forward[query]
	if !ok {
		return geocode.Address{}, fmt.Errorf("%w: no match", geocode.ErrUnavailable)
	}
	return addr, nil
}

func (g *fakeGeocoder) Reverse(_ context.Context, _, _ float64) (geocode.Address, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.failWith != nil {
		return geocode.Address{}, g.failWith
	}
	return g.reverse, nil
}

func (g *fakeGeocoder) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func uijeongbu() geocode.Address {
	return geocode.Address{
		Road:        geocode.Depths{Depth1: "경기도", Depth2: "의정부시", Depth3: "가능동"},
		Lot:         geocode.Depths{Depth1: "경기도", Depth2: "의정부시", Depth3: "가능동"},
		RoadAddress: "경기도 의정부시 가능동",
		LotAddress:  "경기도 의정부시 가능동",
		Latitude:    37.7460,
		Longitude:   127.0325,
	}
}

func newTestResolver(t *testing.T, geocoder Geocoder, threshold float64) (*Resolver, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	r, err := NewResolver(context.Background(), store, geocoder, threshold, nil, nil)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r, store
}

func TestResolveIsIdempotent(t *testing.T) {
	g := &fakeGeocoder{forward: map[string]geocode.Address{"가능동": uijeongbu()}}
	r, _ := newTestResolver(t, g, 0.9)

	first, err := r.Resolve(context.Background(), "가능동")
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := r.Resolve(context.Background(), "가능동")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if first != second {
		t.Fatalf("repeated resolution must return the identical record:\n%+v\n%+v", first, second)
	}
	if g.callCount() != 1 {
		t.Fatalf("second resolution must hit the dictionary, geocoder called %d times", g.callCount())
	}
}

func TestResolveNormalizesEquivalentInputs(t *testing.T) {
	g := &fakeGeocoder{forward: map[string]geocode.Address{"  가능동  ": uijeongbu(), "가능동": uijeongbu()}}
	r, _ := newTestResolver(t, g, 0.9)

	first, err := r.Resolve(context.Background(), "가능동")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := r.Resolve(context.Background(), "  가능동  ")
	if err != nil {
		t.Fatalf("resolve with whitespace: %v", err)
	}
	if first != second {
		t.Fatalf("inputs normalizing identically must resolve to the same record")
	}
	if g.callCount() != 1 {
		t.Fatalf("whitespace variant must not reach the geocoder")
	}
}

func TestFuzzyBelowThresholdFallsThroughToGeocoding(t *testing.T) {
	g := &fakeGeocoder{forward: map[string]geocode.Address{
		"가능동": uijeongbu(),
		"갸능동": uijeongbu(),
	}}
	// Threshold above any non-exact similarity: tier 2 must reject and the
	// resolver must fall through to tier 3 instead of silently accepting a
	// low-confidence match.
	r, _ := newTestResolver(t, g, 0.999)

	if _, err := r.Resolve(context.Background(), "가능동"); err != nil {
		t.Fatalf("seed resolve: %v", err)
	}
	if _, err := r.Resolve(context.Background(), "갸능동"); err != nil {
		t.Fatalf("variant resolve: %v", err)
	}
	if g.callCount() != 2 {
		t.Fatalf("below-threshold match must reach the geocoder, calls=%d", g.callCount())
	}
}

func TestFuzzyAcceptancePersistsAlias(t *testing.T) {
	g := &fakeGeocoder{forward: map[string]geocode.Address{"가능동": uijeongbu()}}
	r, store := newTestResolver(t, g, 0.5)

	seeded, err := r.Resolve(context.Background(), "가능동")
	if err != nil {
		t.Fatalf("seed resolve: %v", err)
	}
	matched, err := r.Resolve(context.Background(), "갸능동")
	if err != nil {
		t.Fatalf("fuzzy resolve: %v", err)
	}
	if matched != seeded {
		t.Fatalf("fuzzy acceptance must return the matched record")
	}
	if g.callCount() != 1 {
		t.Fatalf("fuzzy acceptance must not reach the geocoder, calls=%d", g.callCount())
	}
	// The alias is persisted, so the repeat is a tier 1 dictionary hit.
	if rec, ok, _ := store.Get(context.Background(), Normalize("갸능동")); !ok || rec != seeded {
		t.Fatalf("expected alias lookup to hit the stored record")
	}
}

func TestResolveCoordinatesUsesLotDepth4Fallback(t *testing.T) {
	addr := geocode.Address{
		Road:        geocode.Depths{Depth1: "경기도", Depth2: "가평군", Depth3: "상면"},
		Lot:         geocode.Depths{Depth1: "경기도", Depth2: "가평군", Depth3: "상면", Depth4: "지포리"},
		RoadAddress: "경기도 가평군 상면",
		LotAddress:  "경기도 가평군 상면 지포리",
		Latitude:    37.8252,
		Longitude:   127.3522,
	}
	g := &fakeGeocoder{reverse: addr}
	r, _ := newTestResolver(t, g, 0.9)

	rec, err := r.ResolveCoordinates(context.Background(), 37.8252, 127.3522)
	if err != nil {
		t.Fatalf("resolve coordinates: %v", err)
	}
	if rec.Depth4 != "지포리" {
		t.Fatalf("road depth_4 is null, lot depth_4 must fill it; got %q", rec.Depth4)
	}
	if rec.Depth2 != "가평군" {
		t.Fatalf("unexpected depth_2 %q", rec.Depth2)
	}
}

func TestResolveAllTiersFailing(t *testing.T) {
	g := &fakeGeocoder{failWith: fmt.Errorf("%w: connection refused", geocode.ErrUnavailable)}
	r, _ := newTestResolver(t, g, 0.9)

	_, err := r.Resolve(context.Background(), "어딘가")
	if !errors.Is(err, ErrUnresolvable) {
		t.Fatalf("expected ErrUnresolvable, got %v", err)
	}
}

func TestInsertIfAbsentFillsOnlyNullFields(t *testing.T) {
	store := NewMemoryStore()
	base := Record{
		Name:           "상면",
		NormalizedName: "경기도 가평군 상면",
		Depth1:         "경기도",
		Depth2:         "가평군",
		Depth3:         "상면",
	}
	if _, err := store.InsertIfAbsent(context.Background(), base); err != nil {
		t.Fatalf("insert: %v", err)
	}
	update := base
	update.Depth3 = "다른값"
	update.Depth4 = "지포리"
	stored, err := store.InsertIfAbsent(context.Background(), update)
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if stored.Depth3 != "상면" {
		t.Fatalf("populated field must not be overwritten, got %q", stored.Depth3)
	}
	if stored.Depth4 != "지포리" {
		t.Fatalf("null field must be filled, got %q", stored.Depth4)
	}
}

func TestConcurrentInsertIfAbsentSingleRecord(t *testing.T) {
	store := NewMemoryStore()
	rec := Record{Name: "명동", NormalizedName: "서울특별시 중구 명동", Depth1: "서울특별시", Depth2: "중구", Depth3: "명동"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.InsertIfAbsent(context.Background(), rec)
		}()
	}
	wg.Wait()

	names, err := store.Names(context.Background())
	if err != nil {
		t.Fatalf("names: %v", err)
	}
	if len(names) != 1 {
		t.Fatalf("expected a single stored record, got %d", len(names))
	}
}
