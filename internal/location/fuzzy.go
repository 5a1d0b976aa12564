package location

import (
	"fmt"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/xrash/smetrics"
)

const fuzzyCandidates = 5

// FuzzyIndex holds the known normalized names in a mem-only bleve index for
// candidate retrieval, with Jaro-Winkler similarity deciding acceptance
// against the configured threshold.
type FuzzyIndex struct {
	mu    sync.RWMutex
	index bleve.Index
	names []string
}

// NewFuzzyIndex builds an empty index.
func NewFuzzyIndex() (*FuzzyIndex, error) {
	idx, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("creating fuzzy index: %w", err)
	}
	return &FuzzyIndex{index: idx}, nil
}

// Seed loads an initial set of names, typically the store's contents at
// startup.
func (f *FuzzyIndex) Seed(names []string) error {
	for _, name := range names {
		if err := f.Add(name); err != nil {
			return err
		}
	}
	return nil
}

// Add registers a normalized name.
func (f *FuzzyIndex) Add(name string) error {
	if name == "" {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.index.Index(name, map[string]string{"name": name}); err != nil {
		return fmt.Errorf("indexing %q: %w", name, err)
	}
	f.names = append(f.names, name)
	return nil
}

// Best returns the known name most similar to the input together with its
// Jaro-Winkler score. The bleve fuzzy query narrows the candidate set; when
// it yields nothing (edit distance beyond its bound) the full name list is
// scanned so the similarity threshold alone decides acceptance.
func (f *FuzzyIndex) Best(input string) (string, float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if len(f.names) == 0 {
		return "", 0, false
	}

	candidates := f.search(input)
	if len(candidates) == 0 {
		candidates = f.names
	}

	best := ""
	bestScore := 0.0
	for _, name := range candidates {
		score := smetrics.JaroWinkler(input, name, 0.7, 4)
		if score > bestScore {
			best, bestScore = name, score
		}
	}
	if best == "" {
		return "", 0, false
	}
	return best, bestScore, true
}

func (f *FuzzyIndex) search(input string) []string {
	q := bleve.NewFuzzyQuery(input)
	q.SetFuzziness(2)
	req := bleve.NewSearchRequestOptions(q, fuzzyCandidates, 0, false)
	res, err := f.index.Search(req)
	if err != nil {
		return nil
	}
	out := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		out = append(out, hit.ID)
	}
	return out
}
