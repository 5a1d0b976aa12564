package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nowwhat/placeagent/internal/capability"
)

// Decision is one oracle verdict: invoke a capability or terminate with a
// final result.
type Decision struct {
	Capability string                 `json:"capability,omitempty"`
	Arguments  map[string]interface{} `json:"arguments,omitempty"`
	Terminate  bool                   `json:"terminate,omitempty"`
	Result     map[string]interface{} `json:"result,omitempty"`
}

// DecisionOracle chooses the next step for a session. Implementations see
// the full history and entity summary but never mutate the session.
type DecisionOracle interface {
	Decide(ctx context.Context, s *Session, maxCalls, maxEntities int, deadline time.Time) (Decision, TokenUsage, error)
}

// QueryEvaluation is the pre-loop verdict on a free-text query.
type QueryEvaluation struct {
	Valid         bool    `json:"valid"`
	Inappropriate bool    `json:"inappropriate"`
	Location      string  `json:"location"`
	SearchItem    string  `json:"search_item"`
	Rewritten     string  `json:"rewritten"`
	Confidence    float64 `json:"confidence"`
}

// LLMOracle backs decisions with a chat completion provider.
type LLMOracle struct {
	provider     ChatProvider
	systemPrompt string
}

// NewLLMOracle builds an oracle over the registered capability set. The
// capability listing is baked into the system prompt once; the registry is
// read-only after startup.
func NewLLMOracle(provider ChatProvider, descriptors []capability.Descriptor) *LLMOracle {
	return &LLMOracle{
		provider:     provider,
		systemPrompt: fmt.Sprintf(decisionSystemPrompt, describeCapabilities(descriptors)),
	}
}

func (o *LLMOracle) Decide(ctx context.Context, s *Session, maxCalls, maxEntities int, deadline time.Time) (Decision, TokenUsage, error) {
	messages := []ChatMessage{
		{Role: "system", Content: o.systemPrompt},
		{Role: "user", Content: decisionUserPrompt(s, maxCalls, maxEntities, deadline)},
	}
	content, usage, err := o.provider.Complete(ctx, messages)
	if err != nil {
		return Decision{}, usage, fmt.Errorf("oracle completion: %w", err)
	}
	var d Decision
	if err := json.Unmarshal([]byte(stripFences(content)), &d); err != nil {
		return Decision{}, usage, fmt.Errorf("failed to parse decision: %w", err)
	}
	if !d.Terminate && d.Capability == "" {
		return Decision{}, usage, fmt.Errorf("decision names no capability and does not terminate")
	}
	return d, usage, nil
}

// EvaluateQuery runs the pre-loop query validation pass: is the query
// answerable, which location does it name, and how should it be rewritten
// for search.
func (o *LLMOracle) EvaluateQuery(ctx context.Context, query string) (QueryEvaluation, TokenUsage, error) {
	messages := []ChatMessage{
		{Role: "user", Content: fmt.Sprintf(queryEvaluationPrompt, query)},
	}
	content, usage, err := o.provider.Complete(ctx, messages)
	if err != nil {
		return QueryEvaluation{}, usage, fmt.Errorf("query evaluation: %w", err)
	}
	var ev QueryEvaluation
	if err := json.Unmarshal([]byte(stripFences(content)), &ev); err != nil {
		return QueryEvaluation{}, usage, fmt.Errorf("failed to parse query evaluation: %w", err)
	}
	return ev, usage, nil
}
