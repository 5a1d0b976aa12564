package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/nowwhat/placeagent/internal/agent"
)

// ErrAnalysis indicates the analysis backend failed outright; the dispatch
// retry discipline applies.
var ErrAnalysis = fmt.Errorf("analysis failed")

const analysisPrompt = `You judge whether places match what a user is looking for.

SUBJECT: %q
KEYWORDS: %s

For each item below, decide whether the place is relevant to the subject,
score it between 0.0 and 1.0, and tag it with the matching keywords.

ITEMS:
%s

Respond ONLY with valid JSON:
{"results": [{"place": "<name>", "relevant": true/false, "score": 0.0-1.0, "tags": [...], "summary": "<one sentence>"}]}
Do not include any other text or explanation.`

// Analyzer scores collected texts against the query subject. The LLM is the
// primary backend; when it is unreachable a keyword heuristic produces a
// degraded verdict instead of failing the whole batch.
type Analyzer struct {
	provider agent.ChatProvider
	logger   *log.Logger
}

// NewAnalyzer wires an analyzer. provider may be nil, leaving only the
// heuristic.
func NewAnalyzer(provider agent.ChatProvider, logger *log.Logger) *Analyzer {
	if logger == nil {
		logger = log.New(log.Writer(), "[ANALYSIS] ", log.LstdFlags)
	}
	return &Analyzer{provider: provider, logger: logger}
}

type analysisItem struct {
	Place string
	Text  string
}

// Analyze returns one verdict per item, keyed by place name.
func (a *Analyzer) Analyze(ctx context.Context, subject string, keywords []string, items []analysisItem) ([]map[string]interface{}, error) {
	if a.provider != nil {
		results, err := a.analyzeLLM(ctx, subject, keywords, items)
		if err == nil {
			return results, nil
		}
		a.logger.Printf("falling back to keyword heuristic: %v", err)
	}
	return a.analyzeHeuristic(keywords, items), nil
}

func (a *Analyzer) analyzeLLM(ctx context.Context, subject string, keywords []string, items []analysisItem) ([]map[string]interface{}, error) {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- place: %q\n  text: %q\n", item.Place, item.Text)
	}
	prompt := fmt.Sprintf(analysisPrompt, subject, strings.Join(keywords, ", "), b.String())

	content, _, err := a.provider.Complete(ctx, []agent.ChatMessage{{Role: "user", Content: prompt}})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysis, err)
	}
	var parsed struct {
		Results []map[string]interface{} `json:"results"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(trimFences(content))), &parsed); err != nil {
		return nil, fmt.Errorf("%w: parsing verdicts: %v", ErrAnalysis, err)
	}
	if len(parsed.Results) == 0 {
		return nil, fmt.Errorf("%w: empty verdict set", ErrAnalysis)
	}
	return parsed.Results, nil
}

// analyzeHeuristic scores by keyword hit ratio. Degraded but deterministic.
func (a *Analyzer) analyzeHeuristic(keywords []string, items []analysisItem) []map[string]interface{} {
	results := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		text := strings.ToLower(item.Text + " " + item.Place)
		matched := make([]interface{}, 0, len(keywords))
		for _, kw := range keywords {
			if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
				matched = append(matched, kw)
			}
		}
		score := 0.0
		if len(keywords) > 0 {
			score = float64(len(matched)) / float64(len(keywords))
		}
		results = append(results, map[string]interface{}{
			"place":    item.Place,
			"relevant": len(matched) > 0,
			"score":    score,
			"tags":     matched,
			"summary":  "keyword match heuristic",
		})
	}
	return results
}

func trimFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

// batchAnalysis scores the collected texts of multiple places in one call.
func batchAnalysis(analyzer *Analyzer) func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
	return func(ctx context.Context, args map[string]interface{}) (map[string]interface{}, error) {
		subject, _ := args["subject"].(string)
		keywords := stringSlice(args["keywords"])
		rawItems, _ := args["items"].([]interface{})
		if len(rawItems) == 0 {
			return nil, fmt.Errorf("items is empty")
		}
		items := make([]analysisItem, 0, len(rawItems))
		for _, raw := range rawItems {
			m, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			place, _ := m["place"].(string)
			text, _ := m["text"].(string)
			if place == "" {
				continue
			}
			items = append(items, analysisItem{Place: place, Text: text})
		}
		if len(items) == 0 {
			return nil, fmt.Errorf("no usable items")
		}
		results, err := analyzer.Analyze(ctx, subject, keywords, items)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, len(results))
		for i, r := range results {
			out[i] = r
		}
		return map[string]interface{}{"results": out, "count": len(out)}, nil
	}
}
