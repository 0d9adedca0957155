// Package screener narrows the symbol universe to a bounded candidate list
// for keyword and market-wide screening.
package screener

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/auspex/internal/common"
	"github.com/ternarybob/auspex/internal/interfaces"
	"github.com/ternarybob/auspex/internal/models"
	"gopkg.in/yaml.v3"
)

// universeFile is the YAML shape for a custom universe definition.
type universeFile struct {
	// Sectors maps a keyword to the symbols it covers.
	Sectors map[string][]string `yaml:"sectors"`
}

// Screener resolves screening criteria against a symbol universe.
type Screener struct {
	sectors map[string][]string
	all     []string
	logger  arbor.ILogger
}

var _ interfaces.ScreenerService = (*Screener)(nil)

// NewScreener builds a screener from configuration. When no universe file is
// configured the built-in default universe is used.
func NewScreener(config *common.ScreenerConfig, logger arbor.ILogger) (*Screener, error) {
	sectors := defaultUniverse()

	if config != nil && config.UniverseFile != "" {
		data, err := os.ReadFile(config.UniverseFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read universe file: %w", err)
		}
		var file universeFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("failed to parse universe file: %w", err)
		}
		if len(file.Sectors) == 0 {
			return nil, fmt.Errorf("universe file %s defines no sectors", config.UniverseFile)
		}
		sectors = normalizeSectors(file.Sectors)
		logger.Info().
			Str("file", config.UniverseFile).
			Int("sectors", len(sectors)).
			Msg("Loaded custom symbol universe")
	}

	return &Screener{
		sectors: sectors,
		all:     flatten(sectors),
		logger:  logger,
	}, nil
}

// Screen returns up to maxCandidates symbols matching the criteria. An empty
// keyword screens the whole universe. An unknown keyword yields an empty
// list, not an error.
func (s *Screener) Screen(ctx context.Context, criteria interfaces.ScreenCriteria, maxCandidates int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrDataUnavailable, err)
	}
	if maxCandidates <= 0 {
		return nil, fmt.Errorf("%w: max candidates must be positive", models.ErrInvalidParams)
	}

	keyword := strings.ToLower(strings.TrimSpace(criteria.Keyword))

	var pool []string
	if keyword == "" {
		pool = s.all
	} else {
		for sector, symbols := range s.sectors {
			if strings.Contains(sector, keyword) || strings.Contains(keyword, sector) {
				pool = append(pool, symbols...)
			}
		}
		sort.Strings(pool)
		pool = dedupe(pool)
	}

	if len(pool) > maxCandidates {
		pool = pool[:maxCandidates]
	}

	s.logger.Debug().
		Str("keyword", keyword).
		Int("candidates", len(pool)).
		Msg("Screen resolved candidates")

	out := make([]string, len(pool))
	copy(out, pool)
	return out, nil
}

// defaultUniverse covers large-cap US symbols grouped by sector keyword.
func defaultUniverse() map[string][]string {
	return map[string][]string{
		"technology":    {"AAPL", "MSFT", "NVDA", "GOOGL", "META", "AVGO", "ORCL", "CRM", "AMD", "ADBE"},
		"semiconductor": {"NVDA", "AMD", "AVGO", "TSM", "INTC", "QCOM", "MU", "ASML"},
		"finance":       {"JPM", "BAC", "WFC", "GS", "MS", "V", "MA", "AXP"},
		"healthcare":    {"LLY", "UNH", "JNJ", "ABBV", "MRK", "PFE", "TMO"},
		"energy":        {"XOM", "CVX", "COP", "SLB", "EOG"},
		"consumer":      {"AMZN", "TSLA", "WMT", "HD", "COST", "MCD", "NKE"},
		"industrial":    {"CAT", "GE", "HON", "UNP", "BA", "DE"},
		"utilities":     {"NEE", "DUK", "SO", "D"},
	}
}

func normalizeSectors(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for sector, symbols := range in {
		key := strings.ToLower(strings.TrimSpace(sector))
		cleaned := make([]string, 0, len(symbols))
		for _, sym := range symbols {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym != "" {
				cleaned = append(cleaned, sym)
			}
		}
		if key != "" && len(cleaned) > 0 {
			out[key] = cleaned
		}
	}
	return out
}

// flatten produces the full universe sorted and deduplicated, so market-wide
// screening is deterministic.
func flatten(sectors map[string][]string) []string {
	var all []string
	for _, symbols := range sectors {
		all = append(all, symbols...)
	}
	sort.Strings(all)
	return dedupe(all)
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	var prev string
	for _, s := range sorted {
		if s != prev {
			out = append(out, s)
			prev = s
		}
	}
	return out
}
