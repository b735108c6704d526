// Package matcher decides whether a scraped product observation refers to an
// existing catalog product. Matching is a composite 0-100 score over name
// similarity, brand, and size, with an exact-identifier short-circuit.
package matcher

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/mygrocart/price-indexer/internal/domain"
	"github.com/mygrocart/price-indexer/internal/store/schema"
)

const (
	// ScoreExact is the score assigned on an exact identifier match
	ScoreExact = 100.0

	// DefaultThreshold is the minimum composite score that counts as a match
	DefaultThreshold = 70.0

	// maxNameScore is the name-similarity component ceiling; brand and size
	// bonuses make up the rest of the 100-point scale
	maxNameScore  = 70.0
	maxBrandBonus = 20.0
	maxSizeBonus  = 10.0
)

// Config holds matcher tuning
type Config struct {
	// Threshold is the minimum score to accept a match; 0 means DefaultThreshold
	Threshold float64
}

// Matcher scores scraped observations against catalog candidates
type Matcher struct {
	threshold float64
}

// New creates a Matcher
func New(cfg Config) *Matcher {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{threshold: threshold}
}

// Threshold returns the configured acceptance threshold
func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// Score computes the composite 0-100 similarity between an observation and a
// catalog candidate. Identical non-synthetic identifiers short-circuit to 100.
func (m *Matcher) Score(raw domain.RawProduct, candidate *schema.Product) float64 {
	if raw.Identifier != "" && raw.Identifier == candidate.Identifier &&
		!domain.IsSyntheticIdentifier(raw.Identifier) {
		return ScoreExact
	}

	score := nameSimilarity(raw.Name, candidate.Name) * maxNameScore

	if raw.Brand != nil && candidate.Brand != nil {
		score += brandSimilarity(*raw.Brand, *candidate.Brand) * maxBrandBonus
	}
	if raw.Size != nil && candidate.Size != nil &&
		canonicalSize(*raw.Size) == canonicalSize(*candidate.Size) {
		score += maxSizeBonus
	}

	if score > 100 {
		score = 100
	}
	return score
}

// Match picks the best candidate at or above the threshold. Ties are broken by
// candidate completeness, then by earliest creation time, so richer and
// longer-lived catalog entries absorb new observations. Returns nil when no
// candidate qualifies.
func (m *Matcher) Match(raw domain.RawProduct, candidates []*schema.Product) (*schema.Product, float64) {
	var best *schema.Product
	bestScore := 0.0

	for _, candidate := range candidates {
		score := m.Score(raw, candidate)
		if score < m.threshold {
			continue
		}
		if score == ScoreExact {
			return candidate, score
		}
		if best == nil || score > bestScore || (score == bestScore && preferCandidate(candidate, best)) {
			best = candidate
			bestScore = score
		}
	}
	return best, bestScore
}

// preferCandidate reports whether next should replace current at an equal score
func preferCandidate(next, current *schema.Product) bool {
	if next.Completeness() != current.Completeness() {
		return next.Completeness() > current.Completeness()
	}
	return next.CreatedAt.Before(current.CreatedAt)
}

// nameSimilarity blends token overlap with edit distance, both in [0, 1].
// Token overlap tolerates reordering ("Milk Whole" vs "Whole Milk"); edit
// distance tolerates small spelling drift between sources.
func nameSimilarity(a, b string) float64 {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}

	// edit distance runs over token-sorted strings so word reordering
	// between sources is free and only spelling drift costs
	overlap := tokenOverlap(tokenize(na), tokenize(nb))
	edit := editSimilarity(sortTokens(na), sortTokens(nb))

	return 0.6*overlap + 0.4*edit
}

func sortTokens(normalized string) string {
	tokens := strings.Fields(normalized)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// tokenOverlap is the share of tokens common to both names, weighted by token
// length so filler words count less than distinctive ones
func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setB := make(map[string]bool, len(b))
	for _, tok := range b {
		setB[tok] = true
	}

	var shared, total int
	for _, tok := range a {
		total += len(tok)
		if setB[tok] {
			shared += len(tok)
		}
	}
	for _, tok := range b {
		total += len(tok)
	}
	setA := make(map[string]bool, len(a))
	for _, tok := range a {
		setA[tok] = true
	}
	for _, tok := range b {
		if setA[tok] {
			shared += len(tok)
		}
	}

	if total == 0 {
		return 0
	}
	return float64(shared) / float64(total)
}

func editSimilarity(a, b string) float64 {
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1 - float64(distance)/float64(longest)
}

// brandSimilarity is 1 on exact match and 0.5 when one brand contains the
// other (store-brand prefixes like "GV" vs "Great Value" do not qualify)
func brandSimilarity(a, b string) float64 {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.5
	}
	return 0
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastSpace = false
		default:
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func tokenize(normalized string) []string {
	return strings.Fields(normalized)
}

// sizeSynonyms maps spelled-out units onto their abbreviated forms
var sizeSynonyms = map[string]string{
	"ounce": "oz", "ounces": "oz",
	"pound": "lb", "pounds": "lb", "lbs": "lb",
	"gallon": "gal", "gallons": "gal",
	"liter": "l", "liters": "l", "litre": "l", "litres": "l",
	"count": "ct",
	"pack":  "pk",
	"each":  "ea",
	"fl":    "fl",
}

// canonicalSize reduces size strings to a comparable form: "18 Ounces",
// "18oz", and "18 oz" all canonicalize to "18 oz"
func canonicalSize(s string) string {
	norm := normalize(s)

	// split digit/letter boundaries so "18oz" tokenizes as "18 oz"
	var b strings.Builder
	b.Grow(len(norm) + 4)
	for i, r := range norm {
		if i > 0 && isDigit(rune(norm[i-1])) && isLetter(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}

	tokens := strings.Fields(b.String())
	for i, tok := range tokens {
		if canonical, ok := sizeSynonyms[tok]; ok {
			tokens[i] = canonical
		}
	}
	return strings.Join(tokens, " ")
}

func isDigit(r rune) bool  { return r >= '0' && r <= '9' }
func isLetter(r rune) bool { return r >= 'a' && r <= 'z' }
