package agent

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nowwhat/placeagent/internal/capability"
)

const decisionSystemPrompt = `You are the controller of a place discovery agent. On every turn you pick exactly one next step: either invoke one of the available capabilities, or terminate with a final result.

RULES:
1. Invoke capabilities to search for places, collect links and content about them, resolve coordinates and analyze relevance.
2. Arguments must conform to the capability's input schema.
3. Terminate once the collected places answer the query, or when nothing useful is left to do.
4. Do not repeat an invocation whose result is already in the history.

RESPONSE FORMAT:
Respond ONLY with valid JSON, one of:
{"capability": "<name>", "arguments": {...}}
{"terminate": true, "result": {...}}
Do not include any other text or explanation.

AVAILABLE CAPABILITIES:
%s`

const queryEvaluationPrompt = `You validate free-text place discovery queries before an agent runs.

Given the user query, respond ONLY with valid JSON:
{
  "valid": true/false,
  "inappropriate": true/false,
  "location": "location keyword extracted from the query, empty if none",
  "search_item": "what kind of place is being searched for",
  "rewritten": "the query rewritten for place search",
  "confidence": 0.0-1.0
}
Do not include any other text or explanation.

USER QUERY: %q`

// describeCapabilities renders the registered descriptors for the decision
// prompt.
func describeCapabilities(descriptors []capability.Descriptor) string {
	var b strings.Builder
	for _, d := range descriptors {
		schema, _ := json.Marshal(d.InputSchema)
		fmt.Fprintf(&b, "- %s: %s\n  input schema: %s\n", d.Name, d.Description, schema)
	}
	return b.String()
}

// decisionUserPrompt renders the session state the oracle decides over: the
// query, budget status, full exchange history and an entity summary.
func decisionUserPrompt(s *Session, maxCalls, maxEntities int, deadline time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "QUERY: %q\n", s.Query)
	if s.Location != "" {
		fmt.Fprintf(&b, "LOCATION HINT: %q\n", s.Location)
	}
	fmt.Fprintf(&b, "BUDGET: %d/%d calls used, %d/%d entities, %s until timeout\n",
		s.CallCount, maxCalls, len(s.Entities), maxEntities, time.Until(deadline).Round(time.Second))

	b.WriteString("\nHISTORY:\n")
	if len(s.History) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, ex := range s.History {
		switch ex.Kind {
		case ExchangeDispatch:
			fmt.Fprintf(&b, "- invoked %s status=%s", ex.Capability, ex.Status)
			if ex.Error != "" {
				fmt.Fprintf(&b, " error=%q", ex.Error)
			}
			b.WriteByte('\n')
		case ExchangeInvalid:
			fmt.Fprintf(&b, "- invalid request for %s: %s\n", ex.Capability, ex.Error)
		}
	}

	b.WriteString("\nENTITIES:\n")
	if len(s.Entities) == 0 {
		b.WriteString("(none yet)\n")
	}
	for _, e := range sortedEntities(s) {
		fmt.Fprintf(&b, "- %q (%s) links=%d contents=%d", e.Title, e.Category, len(e.Links), len(e.Contents))
		if e.Analysis != nil {
			fmt.Fprintf(&b, " analyzed score=%.2f relevant=%v", e.Analysis.Score, e.Analysis.Relevant)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// stripFences tolerates models wrapping the JSON answer in a code fence.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
