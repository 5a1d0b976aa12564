package agent

import (
	"sort"
	"time"
)

// sortedEntities returns the entity set in discovery order.
func sortedEntities(s *Session) []*Entity {
	out := make([]*Entity, 0, len(s.Entities))
	for _, e := range s.Entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DiscoveryIndex < out[j].DiscoveryIndex })
	return out
}

// Aggregate folds a terminated session into the response payload. Pure:
// it reads the session and builds a new value, nothing is mutated.
//
// When any analysis ran, entities that failed the relevance check are
// dropped. Ranking is by analysis score descending; earlier discovery wins
// ties, so unanalyzed sessions come back in discovery order.
func Aggregate(s *Session) map[string]interface{} {
	analyzed := false
	for _, e := range s.Entities {
		if e.Analysis != nil {
			analyzed = true
			break
		}
	}

	entities := sortedEntities(s)
	if analyzed {
		kept := entities[:0]
		for _, e := range entities {
			if e.Analysis != nil && !e.Analysis.Relevant {
				continue
			}
			kept = append(kept, e)
		}
		entities = kept
	}
	sort.SliceStable(entities, func(i, j int) bool {
		return score(entities[i]) > score(entities[j])
	})

	places := make([]map[string]interface{}, 0, len(entities))
	for _, e := range entities {
		place := map[string]interface{}{
			"title":    e.Title,
			"category": e.Category,
			"address":  e.Address,
		}
		if e.RoadAddress != "" {
			place["road_address"] = e.RoadAddress
		}
		if e.Latitude != 0 || e.Longitude != 0 {
			place["latitude"] = e.Latitude
			place["longitude"] = e.Longitude
		}
		if len(e.Links) > 0 {
			place["links"] = e.Links
		}
		if e.Analysis != nil {
			place["score"] = e.Analysis.Score
			if len(e.Analysis.Tags) > 0 {
				place["tags"] = e.Analysis.Tags
			}
			if e.Analysis.Summary != "" {
				place["summary"] = e.Analysis.Summary
			}
		}
		places = append(places, place)
	}

	out := map[string]interface{}{
		"session_id":         s.ID,
		"query":              s.Query,
		"termination_reason": s.TerminationReason,
		"call_count":         s.CallCount,
		"entity_count":       len(s.Entities),
		"elapsed":            time.Since(s.StartedAt).Round(time.Millisecond).String(),
		"places":             places,
		"tokens": map[string]interface{}{
			"prompt":     s.Tokens.Prompt,
			"completion": s.Tokens.Completion,
			"total":      s.Tokens.Total,
		},
	}
	if s.BudgetReason != "" {
		out["budget_reason"] = s.BudgetReason
	}
	if s.FinalResult != nil {
		out["result"] = s.FinalResult
	}
	return out
}

func score(e *Entity) float64 {
	if e.Analysis == nil {
		return 0
	}
	return e.Analysis.Score
}
