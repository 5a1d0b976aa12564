package agent

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nowwhat/placeagent/internal/budget"
)

// Termination reasons. A session terminates exactly once.
const (
	ReasonExplicit          = "explicit"
	ReasonBudgetExhausted   = "budget_exhausted"
	ReasonInvalidCapability = "invalid_capability"
	ReasonInvalidLoop       = "invalid_loop_detected"
)

// Exchange kinds recorded in the session history.
const (
	ExchangeDecision = "decision"
	ExchangeDispatch = "dispatch"
	ExchangeInvalid  = "invalid"
)

// Dispatch statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusTimeout = "timeout"
)

// Exchange is one append-only history record: an oracle decision, a
// capability dispatch, or an invalid request.
type Exchange struct {
	Kind       string                 `json:"kind"`
	Capability string                 `json:"capability,omitempty"`
	Arguments  map[string]interface{} `json:"arguments,omitempty"`
	Status     string                 `json:"status,omitempty"`
	Attempts   int                    `json:"attempts,omitempty"`
	Duration   time.Duration          `json:"duration,omitempty"`
	Error      string                 `json:"error,omitempty"`
	At         time.Time              `json:"at"`
}

// Analysis is the relevance verdict batch-analysis produced for one entity.
type Analysis struct {
	Relevant bool               `json:"relevant"`
	Score    float64            `json:"score"`
	Tags     []string           `json:"tags,omitempty"`
	Scores   map[string]float64 `json:"scores,omitempty"`
	Summary  string             `json:"summary,omitempty"`
}

// Entity accumulates everything discovered about one place. Fields only
// grow; nothing is removed once merged.
type Entity struct {
	Key            string    `json:"key"`
	DiscoveryIndex int       `json:"discovery_index"`
	Title          string    `json:"title"`
	Category       string    `json:"category,omitempty"`
	Address        string    `json:"address,omitempty"`
	RoadAddress    string    `json:"road_address,omitempty"`
	Latitude       float64   `json:"latitude,omitempty"`
	Longitude      float64   `json:"longitude,omitempty"`
	Links          []string  `json:"links,omitempty"`
	Contents       []string  `json:"contents,omitempty"`
	Analysis       *Analysis `json:"analysis,omitempty"`
}

// TokenUsage accumulates oracle token consumption across the session.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Session is the mutable state of one orchestration run. Only the loop
// mutates it; capabilities never see it.
type Session struct {
	ID                string
	Query             string
	Location          string
	History           []Exchange
	Entities          map[string]*Entity
	CallCount         int
	StartedAt         time.Time
	Terminated        bool
	TerminationReason string
	BudgetReason      string
	FinalResult       map[string]interface{}
	Tokens            TokenUsage
}

// NewSession starts a session for a query with an optional location hint.
func NewSession(query, location string) *Session {
	return &Session{
		ID:        uuid.NewString(),
		Query:     query,
		Location:  location,
		Entities:  make(map[string]*Entity),
		StartedAt: time.Now(),
	}
}

func (s *Session) usage() budget.Usage {
	return budget.Usage{
		CallCount:   s.CallCount,
		StartedAt:   s.StartedAt,
		EntityCount: len(s.Entities),
	}
}

// terminate flips the session into its terminal state. One-way: later calls
// are no-ops so the first reason sticks.
func (s *Session) terminate(reason, budgetReason string) {
	if s.Terminated {
		return
	}
	s.Terminated = true
	s.TerminationReason = reason
	s.BudgetReason = budgetReason
}

func (s *Session) recordDecision(d Decision) {
	s.History = append(s.History, Exchange{
		Kind:       ExchangeDecision,
		Capability: d.Capability,
		Arguments:  d.Arguments,
		At:         time.Now(),
	})
}

func (s *Session) recordInvalid(capability string, args map[string]interface{}, err error) {
	s.History = append(s.History, Exchange{
		Kind:       ExchangeInvalid,
		Capability: capability,
		Arguments:  args,
		Error:      err.Error(),
		At:         time.Now(),
	})
}

// recordDispatch appends a dispatch record and bumps the call counter; the
// counter tracks dispatch records exactly, including failures and timeouts.
func (s *Session) recordDispatch(capability string, args map[string]interface{}, status string, attempts int, duration time.Duration, err error) {
	rec := Exchange{
		Kind:       ExchangeDispatch,
		Capability: capability,
		Arguments:  args,
		Status:     status,
		Attempts:   attempts,
		Duration:   duration,
		At:         time.Now(),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	s.History = append(s.History, rec)
	s.CallCount++
}

// AddTokens accumulates oracle token usage onto the session.
func (s *Session) AddTokens(u TokenUsage) {
	s.Tokens.Prompt += u.Prompt
	s.Tokens.Completion += u.Completion
	s.Tokens.Total += u.Total
}

// entityKey derives the stable key a place is accumulated under.
func entityKey(title, address string) string {
	return strings.ToLower(strings.TrimSpace(title)) + "|" + strings.TrimSpace(address)
}

// findEntity resolves a capability's place reference, which may be the
// entity key or just the title.
func (s *Session) findEntity(ref string) *Entity {
	if e, ok := s.Entities[ref]; ok {
		return e
	}
	lower := strings.ToLower(strings.TrimSpace(ref))
	for _, e := range s.Entities {
		if strings.ToLower(e.Title) == lower {
			return e
		}
	}
	return nil
}

// mergeResult folds a successful capability result into the entity set.
// Returns the number of entities first seen in this result.
func (s *Session) mergeResult(capability string, args, result map[string]interface{}) int {
	switch capability {
	case "place-search":
		return s.mergePlaces(result)
	case "link-collection":
		if e := s.findEntity(asString(args["place"])); e != nil {
			e.Links = appendUnique(e.Links, asStringSlice(result["links"])...)
		}
	case "content-collection":
		if e := s.findEntity(asString(args["place"])); e != nil {
			if text := asString(result["content"]); text != "" {
				e.Contents = append(e.Contents, text)
			}
		}
	case "batch-analysis":
		s.mergeAnalyses(result)
	}
	return 0
}

func (s *Session) mergePlaces(result map[string]interface{}) int {
	added := 0
	for _, raw := range asSlice(result["places"]) {
		place, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		title := asString(place["title"])
		if title == "" {
			continue
		}
		key := entityKey(title, asString(place["address"]))
		e, ok := s.Entities[key]
		if !ok {
			e = &Entity{
				Key:            key,
				DiscoveryIndex: len(s.Entities),
				Title:          title,
			}
			s.Entities[key] = e
			added++
		}
		fillString(&e.Category, asString(place["category"]))
		fillString(&e.Address, asString(place["address"]))
		fillString(&e.RoadAddress, asString(place["road_address"]))
		if e.Latitude == 0 {
			e.Latitude = asFloat(place["latitude"])
		}
		if e.Longitude == 0 {
			e.Longitude = asFloat(place["longitude"])
		}
		if link := asString(place["link"]); link != "" {
			e.Links = appendUnique(e.Links, link)
		}
	}
	return added
}

func (s *Session) mergeAnalyses(result map[string]interface{}) {
	for _, raw := range asSlice(result["results"]) {
		verdict, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		e := s.findEntity(asString(verdict["place"]))
		if e == nil {
			continue
		}
		a := &Analysis{
			Relevant: asBool(verdict["relevant"]),
			Score:    asFloat(verdict["score"]),
			Tags:     asStringSlice(verdict["tags"]),
			Summary:  asString(verdict["summary"]),
		}
		if scores, ok := verdict["scores"].(map[string]interface{}); ok {
			a.Scores = make(map[string]float64, len(scores))
			for k, v := range scores {
				a.Scores[k] = asFloat(v)
			}
		}
		e.Analysis = a
	}
}

func fillString(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		if item == "" {
			continue
		}
		seen := false
		for _, have := range dst {
			if have == item {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, item)
		}
	}
	return dst
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asBool(v interface{}) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}

func asSlice(v interface{}) []interface{} {
	switch s := v.(type) {
	case []interface{}:
		return s
	case []map[string]interface{}:
		out := make([]interface{}, len(s))
		for i, m := range s {
			out[i] = m
		}
		return out
	}
	return nil
}

func asStringSlice(v interface{}) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			if str, ok := item.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
