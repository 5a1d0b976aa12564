package agent

import (
	"testing"
)

func seedEntity(s *Session, title string, analysis *Analysis) *Entity {
	e := &Entity{
		Key:            entityKey(title, "addr"),
		DiscoveryIndex: len(s.Entities),
		Title:          title,
		Analysis:       analysis,
	}
	s.Entities[e.Key] = e
	return e
}

func placeTitles(result map[string]interface{}) []string {
	places := result["places"].([]map[string]interface{})
	titles := make([]string, len(places))
	for i, p := range places {
		titles[i] = p["title"].(string)
	}
	return titles
}

func TestAggregateSortsByScoreThenDiscovery(t *testing.T) {
	s := NewSession("cafes", "")
	seedEntity(s, "first", &Analysis{Relevant: true, Score: 0.5})
	seedEntity(s, "second", &Analysis{Relevant: true, Score: 0.9})
	seedEntity(s, "third", &Analysis{Relevant: true, Score: 0.5})
	s.terminate(ReasonExplicit, "")

	titles := placeTitles(Aggregate(s))
	want := []string{"second", "first", "third"}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("order %v, want %v", titles, want)
		}
	}
}

func TestAggregateFiltersIrrelevantWhenAnalyzed(t *testing.T) {
	s := NewSession("cafes", "")
	seedEntity(s, "keep", &Analysis{Relevant: true, Score: 0.8})
	seedEntity(s, "drop", &Analysis{Relevant: false, Score: 0.2})
	seedEntity(s, "unjudged", nil)
	s.terminate(ReasonExplicit, "")

	result := Aggregate(s)
	titles := placeTitles(result)
	if len(titles) != 2 {
		t.Fatalf("expected irrelevant entity dropped, got %v", titles)
	}
	for _, title := range titles {
		if title == "drop" {
			t.Fatalf("irrelevant entity survived: %v", titles)
		}
	}
	// The full discovery count is still reported.
	if result["entity_count"] != 3 {
		t.Fatalf("entity_count must count all discoveries, got %v", result["entity_count"])
	}
}

func TestAggregateKeepsAllWhenNothingAnalyzed(t *testing.T) {
	s := NewSession("cafes", "")
	seedEntity(s, "a", nil)
	seedEntity(s, "b", nil)
	s.terminate(ReasonBudgetExhausted, "max_calls")

	result := Aggregate(s)
	titles := placeTitles(result)
	if len(titles) != 2 || titles[0] != "a" || titles[1] != "b" {
		t.Fatalf("unanalyzed session must keep discovery order, got %v", titles)
	}
	if result["termination_reason"] != ReasonBudgetExhausted {
		t.Fatalf("missing termination reason")
	}
	if result["budget_reason"] != "max_calls" {
		t.Fatalf("missing budget reason")
	}
}

func TestMergePlacesDeduplicatesAndIndexes(t *testing.T) {
	s := NewSession("cafes", "")
	result := map[string]interface{}{"places": []interface{}{
		map[string]interface{}{"title": "Cafe A", "address": "addr 1", "category": "cafe"},
		map[string]interface{}{"title": "Cafe B", "address": "addr 2"},
		map[string]interface{}{"title": "Cafe A", "address": "addr 1", "link": "https://a"},
	}}
	added := s.mergeResult("place-search", nil, result)
	if added != 2 {
		t.Fatalf("expected 2 new entities, got %d", added)
	}
	a := s.findEntity("Cafe A")
	if a == nil || a.DiscoveryIndex != 0 {
		t.Fatalf("first discovery must keep index 0: %+v", a)
	}
	if len(a.Links) != 1 || a.Links[0] != "https://a" {
		t.Fatalf("duplicate hit must still contribute its link, got %v", a.Links)
	}
	if a.Category != "cafe" {
		t.Fatalf("category lost on merge: %q", a.Category)
	}
}

func TestMergeAnalysesAttachesVerdicts(t *testing.T) {
	s := NewSession("cafes", "")
	seedEntity(s, "Cafe A", nil)
	s.mergeResult("batch-analysis", nil, map[string]interface{}{"results": []interface{}{
		map[string]interface{}{
			"place": "Cafe A", "relevant": true, "score": 0.75,
			"tags": []interface{}{"quiet", "wifi"},
		},
	}})
	e := s.findEntity("Cafe A")
	if e.Analysis == nil || e.Analysis.Score != 0.75 || !e.Analysis.Relevant {
		t.Fatalf("analysis not merged: %+v", e.Analysis)
	}
	if len(e.Analysis.Tags) != 2 {
		t.Fatalf("tags not merged: %v", e.Analysis.Tags)
	}
}
