package extractor

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// currencyPattern matches embedded dollar amounts like "$2.09" or "$1,299.00"
	currencyPattern = regexp.MustCompile(`\$\s*\d[\d,]*(?:\.\d{1,2})?`)

	// sizePattern matches quantity-unit fragments with abbreviated and
	// spelled-out unit names across weight, volume, and count units
	sizePattern = regexp.MustCompile(`(?i)\b\d+(?:\.\d+)?\s*-?\s*(?:fl\s*\.?\s*oz|oz|ounces?|lbs?|pounds?|grams?|kg|g\b|ml|liters?|litres?|l\b|gallons?|gal|quarts?|qt|pints?|pt|count|ct|pack|pk|each|ea)\b\.?`)

	multiSpacePattern = regexp.MustCompile(`\s+`)
)

// CleanName applies the extractor's name-cleaning contract: strip embedded
// currency fragments, collapse accessibility-text duplication, and normalize
// punctuation/whitespace. Cleaning is idempotent: CleanName(CleanName(s)) ==
// CleanName(s). Currency stripping runs first; a price fragment stuck between
// the duplicated halves otherwise breaks them into unequal lengths.
func CleanName(name string) string {
	s := currencyPattern.ReplaceAllString(name, " ")
	s = multiSpacePattern.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)

	s = collapseHalfDuplicate(s)
	s = collapseWordDuplicate(s)

	s = strings.Trim(s, " ,.")
	s = multiSpacePattern.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// collapseHalfDuplicate collapses a name whose second half repeats the first
// half, either exactly or as a truncated prefix-continuation of it
// (e.g. "Soup, 10 ozSoup, 10 oz" or "Soup, 10 ozSoup, 10")
func collapseHalfDuplicate(s string) string {
	trimmed := strings.TrimRight(s, " ,.")
	for i := (len(trimmed) + 1) / 2; i < len(trimmed); i++ {
		first := strings.TrimRight(trimmed[:i], " ,.")
		second := strings.TrimLeft(trimmed[i:], " ,.")
		if len(second) < 4 {
			break
		}
		if strings.EqualFold(first, second) || strings.HasPrefix(strings.ToLower(first), strings.ToLower(second)) {
			return first
		}
	}
	return s
}

// collapseWordDuplicate collapses a name whose word sequence splits into two
// identical halves. Only applied above 6 words to avoid false positives on
// short legitimately-repetitive names.
func collapseWordDuplicate(s string) string {
	words := strings.Fields(s)
	if len(words) <= 6 || len(words)%2 != 0 {
		return s
	}
	half := len(words) / 2
	for i := 0; i < half; i++ {
		if !strings.EqualFold(words[i], words[half+i]) {
			return s
		}
	}
	return strings.Join(words[:half], " ")
}

// NormalizePrice reduces any price representation to a plain non-negative
// decimal. Unparsable input yields nil rather than an error: a missing price
// is not fatal, the product simply cannot produce a price row yet.
func NormalizePrice(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSpace(s)

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return nil
	}
	return &v
}

// DeriveBrand extracts a brand heuristically from a cleaned name: the leading
// fragment before the first comma, when it is 1-3 words
func DeriveBrand(cleanedName string) *string {
	idx := strings.Index(cleanedName, ",")
	if idx <= 0 {
		return nil
	}
	fragment := strings.TrimSpace(cleanedName[:idx])
	words := strings.Fields(fragment)
	if len(words) == 0 || len(words) > 3 {
		return nil
	}
	return &fragment
}

// DeriveSize extracts the first quantity-unit fragment from a cleaned name
func DeriveSize(cleanedName string) *string {
	match := sizePattern.FindString(cleanedName)
	if match == "" {
		return nil
	}
	match = strings.TrimSpace(strings.TrimSuffix(match, "."))
	return &match
}
