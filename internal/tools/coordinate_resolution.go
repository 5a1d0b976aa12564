package tools

import (
	"context"
	"fmt"

	"github.com/nowwhat/placeagent/internal/location"
)

// coordinateResolution resolves a coordinate pair into a canonical location
// record through the resolver's tiered strategy.
func coordinateResolution(resolver *location.Resolver) func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		lat, ok := floatArg(args["latitude"])
		if !ok {
			return nil, fmt.Errorf("latitude is missing")
		}
		lon, ok := floatArg(args["longitude"])
		if !ok {
			return nil, fmt.Errorf("longitude is missing")
		}
		rec, err := resolver.ResolveCoordinates(ctx, lat, lon)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{
			"name":            rec.Name,
			"normalized_name": rec.NormalizedName,
			"depth_1":         rec.Depth1,
			"depth_2":         rec.Depth2,
			"depth_3":         rec.Depth3,
			"depth_4":         rec.Depth4,
			"old_address":     rec.OldAddress,
			"new_address":     rec.NewAddress,
			"latitude":        rec.Latitude,
			"longitude":       rec.Longitude,
			"keyword":         rec.Keyword(),
		}, nil
	}
}

func floatArg(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
