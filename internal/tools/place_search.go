package tools

import (
	"context"
	"fmt"
)

// maxPlaceHits caps the deduped hits one place-search invocation returns.
const maxPlaceHits = 30

// placeSearch runs every requested query against local search and merges
// the hits. Duplicates collapse on link when present, otherwise on
// title|address. An empty result set is a success.
func placeSearch(client *NaverClient) func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		queries := stringSlice(args["queries"])
		if len(queries) == 0 {
			return nil, fmt.Errorf("queries is empty")
		}
		limit := intArg(args["limit"], 0)

		seen := make(map[string]bool)
		places := make([]map[string]interface{}, 0)
		for _, query := range queries {
			hits, err := client.SearchLocal(ctx, query, limit)
			if err != nil {
				return nil, fmt.Errorf("place search %q: %w", query, err)
			}
			for _, hit := range hits {
				key := hit.Link
				if key == "" {
					key = hit.Title + "|" + hit.Address
				}
				if seen[key] {
					continue
				}
				seen[key] = true
				places = append(places, map[string]interface{}{
					"title":        hit.Title,
					"category":     hit.Category,
					"address":      hit.Address,
					"road_address": hit.RoadAddress,
					"link":         hit.Link,
					"latitude":     hit.Latitude,
					"longitude":    hit.Longitude,
				})
				if len(places) >= maxPlaceHits {
					return map[string]interface{}{"places": places, "count": len(places)}, nil
				}
			}
		}
		return map[string]interface{}{"places": places, "count": len(places)}, nil
	}
}

func stringSlice(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}

func intArg(v interface{}, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return fallback
}
