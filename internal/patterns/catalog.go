package patterns

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/StamperDavid/prospect-intel/internal/distill"
	"github.com/StamperDavid/prospect-intel/internal/scrape"
)

// DefaultIndustry is the catalog key used when a job names no industry or an
// unknown one.
const DefaultIndustry = "default"

// Catalog maps industry IDs to their configured pattern sets. It is read-only
// after construction, so lookups need no locking.
type Catalog struct {
	sets map[string]distill.PatternSet
}

// NewCatalog builds a catalog from explicit pattern sets. Industries absent
// from the map fall back to the default set when present.
func NewCatalog(sets map[string]distill.PatternSet) *Catalog {
	if sets == nil {
		sets = map[string]distill.PatternSet{}
	}
	return &Catalog{sets: sets}
}

// DefaultCatalog returns the built-in generic prospecting patterns.
func DefaultCatalog() *Catalog {
	return NewCatalog(map[string]distill.PatternSet{
		DefaultIndustry: {
			Signals: []scrape.HighValueSignal{
				{
					ID:         "sig-hiring",
					Label:      "Actively hiring",
					Keywords:   []string{"hiring", "join our team", "open positions", "careers"},
					Platform:   "any",
					Priority:   scrape.SignalPriorityHigh,
					ScoreBoost: 25,
				},
				{
					ID:           "sig-funding",
					Label:        "Recent funding",
					Keywords:     []string{"funding round", "series a", "series b", "raised"},
					RegexPattern: `(?i)raised \$[0-9]+(\.[0-9]+)?\s?(million|m|billion|b)`,
					Platform:     "any",
					Priority:     scrape.SignalPriorityCritical,
					ScoreBoost:   40,
				},
				{
					ID:         "sig-expansion",
					Label:      "Location expansion",
					Keywords:   []string{"new location", "now open", "grand opening", "second location"},
					Platform:   "any",
					Priority:   scrape.SignalPriorityMedium,
					ScoreBoost: 15,
				},
				{
					ID:         "sig-pricing",
					Label:      "Pricing published",
					Keywords:   []string{"pricing", "request a quote", "get a demo"},
					Platform:   "any",
					Priority:   scrape.SignalPriorityLow,
					ScoreBoost: 5,
				},
			},
		},
	})
}

// LoadCatalog reads a JSON file mapping industry IDs to pattern sets.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern catalog: %w", err)
	}
	var sets map[string]distill.PatternSet
	if err := json.Unmarshal(data, &sets); err != nil {
		return nil, fmt.Errorf("parse pattern catalog: %w", err)
	}
	for industry, set := range sets {
		for _, signal := range set.Signals {
			if signal.ID == "" {
				return nil, fmt.Errorf("pattern catalog: industry %q has a signal without an id", industry)
			}
			if !signal.Priority.Valid() {
				return nil, fmt.Errorf("pattern catalog: signal %q has invalid priority %q", signal.ID, signal.Priority)
			}
		}
	}
	return NewCatalog(sets), nil
}

// PatternsFor returns the pattern set for industryID, falling back to the
// default set. An empty set is returned for industries the catalog does not
// know at all.
func (c *Catalog) PatternsFor(_ context.Context, industryID string) (distill.PatternSet, error) {
	if set, ok := c.sets[industryID]; ok {
		return set, nil
	}
	if set, ok := c.sets[DefaultIndustry]; ok {
		return set, nil
	}
	return distill.PatternSet{}, nil
}

// Industries lists the configured industry IDs.
func (c *Catalog) Industries() []string {
	out := make([]string, 0, len(c.sets))
	for industry := range c.sets {
		out = append(out, industry)
	}
	return out
}
