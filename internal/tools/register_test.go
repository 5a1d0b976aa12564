package tools

import (
	"context"
	"testing"

	"github.com/nowwhat/placeagent/config"
	"github.com/nowwhat/placeagent/internal/capability"
	"github.com/nowwhat/placeagent/internal/geocode"
	"github.com/nowwhat/placeagent/internal/location"
)

type noopGeocoder struct{}

func (noopGeocoder) Forward(_ context.Context, _ string) (geocode.Address, error) {
	return geocode.Address{}, geocode.ErrUnavailable
}

func (noopGeocoder) Reverse(_ context.Context, _, _ float64) (geocode.Address, error) {
	return geocode.Address{}, geocode.ErrUnavailable
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	naver, err := NewNaverClient(config.NaverConfig{ClientID: "id", ClientSecret: "secret"}, 0)
	if err != nil {
		t.Fatalf("naver client: %v", err)
	}
	resolver, err := location.NewResolver(context.Background(), location.NewMemoryStore(), noopGeocoder{}, 0.9, nil, nil)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	return Deps{
		Naver:    naver,
		Fetcher:  NewContentFetcher(config.FetchConfig{}),
		Resolver: resolver,
		Analyzer: NewAnalyzer(nil, nil),
		Retries:  config.RetriesConfig{PlaceSearch: 2, BatchAnalysis: 2},
	}
}

func TestRegisterAllCapabilities(t *testing.T) {
	reg := capability.NewRegistry()
	if err := Register(reg, testDeps(t)); err != nil {
		t.Fatalf("register: %v", err)
	}
	want := []string{
		CapBatchAnalysis, CapContentCollection, CapCoordinateResolution,
		CapLinkCollection, CapPlaceSearch, CapTerminate,
	}
	descriptors := reg.Descriptors()
	if len(descriptors) != len(want) {
		t.Fatalf("expected %d capabilities, got %d", len(want), len(descriptors))
	}
	for i, name := range want {
		if descriptors[i].Name != name {
			t.Fatalf("descriptor %d is %q, want %q", i, descriptors[i].Name, name)
		}
	}
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := capability.NewRegistry()
	deps := testDeps(t)
	if err := Register(reg, deps); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg, deps); err == nil {
		t.Fatalf("duplicate registration must fail")
	}
}

func TestPlaceSearchRetryConfig(t *testing.T) {
	reg := capability.NewRegistry()
	if err := Register(reg, testDeps(t)); err != nil {
		t.Fatalf("register: %v", err)
	}
	desc, _, ok := reg.Lookup(CapPlaceSearch)
	if !ok {
		t.Fatalf("place-search not registered")
	}
	if desc.Attempts() != 2 {
		t.Fatalf("expected 2 attempts, got %d", desc.Attempts())
	}
	if !desc.Idempotent {
		t.Fatalf("place-search must be idempotent for result caching")
	}
}
