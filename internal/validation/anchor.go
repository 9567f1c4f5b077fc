package validation

import (
	"fmt"
	"strings"
)

// MatchAnchor locates search within fileText, first verbatim and then,
// failing that, via whitespace-tolerant fuzzy recovery. It reports
// whether search can be located in fileText, the possibly-rewritten
// search string to use in its place, and, on outright failure, a
// best-effort "similar content at line N" excerpt.
func MatchAnchor(fileText, search string) (matched bool, rewrittenSearch string, excerpt string) {
	if strings.Contains(fileText, search) {
		return true, search, ""
	}

	if ok, rewritten := fuzzyRecover(fileText, search); ok {
		return true, rewritten, ""
	}

	return false, search, similarContentExcerpt(fileText, search)
}

// normalizeForm trims each line, drops empty lines, and collapses
// interior whitespace runs to a single space.
func normalizeForm(s string) string {
	lines := strings.Split(s, "\n")
	var kept []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		kept = append(kept, collapseWhitespace(trimmed))
	}
	return strings.Join(kept, "\n")
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// meaningfulLines returns lines of length > 5 that aren't solely braces
// or whitespace.
func meaningfulLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) <= 5 {
			continue
		}
		if isOnlyBraces(trimmed) {
			continue
		}
		out = append(out, line)
	}
	return out
}

func isOnlyBraces(s string) bool {
	for _, r := range s {
		switch r {
		case '{', '}', '(', ')', '[', ']', ' ', '\t':
		default:
			return false
		}
	}
	return true
}

// fuzzyRecover scans fileText for a window matching search's normalized
// form: whitespace-collapsed and blank-line-stripped, so reformatting
// alone doesn't fail a patch anchor.
func fuzzyRecover(fileText, search string) (bool, string) {
	meaningful := meaningfulLines(search)
	if len(meaningful) == 0 {
		return false, ""
	}
	firstMeaningful := meaningful[0]
	normalizedSearch := normalizeForm(search)
	searchLineCount := len(strings.Split(strings.TrimRight(search, "\n"), "\n"))

	fileLines := strings.Split(fileText, "\n")

	for idx, line := range fileLines {
		if line == firstMeaningful || jaccardBigram(line, firstMeaningful) > 0.9 {
			for windowSize := searchLineCount; windowSize <= searchLineCount+5; windowSize++ {
				for startOffset := 0; startOffset <= 3; startOffset++ {
					start := idx - startOffset
					if start < 0 {
						continue
					}
					end := start + windowSize
					if end > len(fileLines) {
						continue
					}
					candidate := strings.Join(fileLines[start:end], "\n")
					if normalizeForm(candidate) == normalizedSearch {
						return true, candidate
					}
				}
			}
		}
	}
	return false, ""
}

// similarContentExcerpt finds the first file line with bigram similarity
// >= 0.6 to the first long (>10 char) search line.
func similarContentExcerpt(fileText, search string) string {
	var longLine string
	for _, line := range strings.Split(search, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) > 10 {
			longLine = trimmed
			break
		}
	}
	if longLine == "" {
		return ""
	}

	for i, line := range strings.Split(fileText, "\n") {
		if jaccardBigram(line, longLine) >= 0.6 {
			return fmt.Sprintf("similar content at line %d", i+1)
		}
	}
	return ""
}

// jaccardBigram computes Jaccard similarity over character bigram sets
// of a and b, in [0, 1].
func jaccardBigram(a, b string) float64 {
	setA := bigramSet(a)
	setB := bigramSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for bg := range setA {
		if _, ok := setB[bg]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func bigramSet(s string) map[string]struct{} {
	runes := []rune(s)
	if len(runes) < 2 {
		if len(runes) == 1 {
			return map[string]struct{}{string(runes): {}}
		}
		return map[string]struct{}{}
	}
	out := make(map[string]struct{}, len(runes)-1)
	for i := 0; i < len(runes)-1; i++ {
		out[string(runes[i:i+2])] = struct{}{}
	}
	return out
}
