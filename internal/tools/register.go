package tools

import (
	"context"
	"fmt"

	"github.com/nowwhat/placeagent/config"
	"github.com/nowwhat/placeagent/internal/capability"
	"github.com/nowwhat/placeagent/internal/location"
)

// Capability names.
const (
	CapPlaceSearch          = "place-search"
	CapLinkCollection       = "link-collection"
	CapContentCollection    = "content-collection"
	CapCoordinateResolution = "coordinate-resolution"
	CapBatchAnalysis        = "batch-analysis"
	CapTerminate            = "terminate"
)

// Deps are the backends the concrete capabilities run on.
type Deps struct {
	Naver    *NaverClient
	Fetcher  *ContentFetcher
	Resolver *location.Resolver
	Analyzer *Analyzer
	Retries  config.RetriesConfig
}

// Register adds the six capabilities to the registry. Called once at
// process start; any error here must abort startup.
func Register(reg *capability.Registry, deps Deps) error {
	entries := []struct {
		desc    capability.Descriptor
		handler capability.Handler
	}{
		{
			desc: capability.Descriptor{
				Name:        CapPlaceSearch,
				Description: "Search for places matching one or more queries. Returns deduplicated place hits with addresses and coordinates.",
				InputSchema: capability.ObjectSchema(map[string]string{
					"queries": "array",
					"limit":   "integer",
				}, "queries"),
				OutputSchema: capability.ObjectSchema(map[string]string{
					"places": "array",
					"count":  "integer",
				}, "places"),
				Idempotent: true,
				MaxRetry:   deps.Retries.PlaceSearch,
			},
			handler: placeSearch(deps.Naver),
		},
		{
			desc: capability.Descriptor{
				Name:        CapLinkCollection,
				Description: "Collect blog post links about a place. Accepts up to three queries.",
				InputSchema: capability.ObjectSchema(map[string]string{
					"place":   "string",
					"queries": "array",
					"limit":   "integer",
				}, "place"),
				OutputSchema: capability.ObjectSchema(map[string]string{
					"place": "string",
					"links": "array",
					"count": "integer",
				}, "links"),
				Idempotent: true,
				MaxRetry:   deps.Retries.LinkCollection,
			},
			handler: linkCollection(deps.Naver),
		},
		{
			desc: capability.Descriptor{
				Name:        CapContentCollection,
				Description: "Fetch one URI and extract its readable text for a place.",
				InputSchema: capability.ObjectSchema(map[string]string{
					"uri":   "string",
					"place": "string",
				}, "uri"),
				OutputSchema: capability.ObjectSchema(map[string]string{
					"uri":     "string",
					"content": "string",
				}, "content"),
				Idempotent: true,
				MaxRetry:   deps.Retries.ContentCollection,
			},
			handler: contentCollection(deps.Fetcher),
		},
		{
			desc: capability.Descriptor{
				Name:        CapCoordinateResolution,
				Description: "Resolve a coordinate pair into a canonical administrative location record.",
				InputSchema: capability.ObjectSchema(map[string]string{
					"latitude":  "number",
					"longitude": "number",
				}, "latitude", "longitude"),
				OutputSchema: capability.ObjectSchema(map[string]string{
					"normalized_name": "string",
					"depth_1":         "string",
					"depth_2":         "string",
					"depth_3":         "string",
					"keyword":         "string",
				}, "normalized_name"),
				Idempotent: true,
				MaxRetry:   deps.Retries.CoordinateResolution,
			},
			handler: coordinateResolution(deps.Resolver),
		},
		{
			desc: capability.Descriptor{
				Name:        CapBatchAnalysis,
				Description: "Score the collected texts of multiple places for relevance to the query subject.",
				InputSchema: capability.ObjectSchema(map[string]string{
					"subject":  "string",
					"keywords": "array",
					"items":    "array",
				}, "items"),
				OutputSchema: capability.ObjectSchema(map[string]string{
					"results": "array",
					"count":   "integer",
				}, "results"),
				MaxRetry: deps.Retries.BatchAnalysis,
			},
			handler: batchAnalysis(deps.Analyzer),
		},
		{
			desc: capability.Descriptor{
				Name:        CapTerminate,
				Description: "End the session and return the final result payload.",
				InputSchema: capability.ObjectSchema(map[string]string{
					"result": "object",
				}),
				OutputSchema: capability.ObjectSchema(map[string]string{
					"acknowledged": "boolean",
				}),
			},
			handler: terminate(),
		},
	}

	for _, e := range entries {
		if err := reg.Register(e.desc, e.handler); err != nil {
			return fmt.Errorf("registering capabilities: %w", err)
		}
	}
	return nil
}

// terminate never fails; the loop intercepts the decision before dispatch,
// so this handler only exists to keep the capability listed and schema-
// checked like the others.
func terminate() capability.Handler {
	return func(_ context.Context, _ map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"acknowledged": true}, nil
	}
}
