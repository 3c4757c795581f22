package reasoning

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// negationMarkers flag a chunk as contradicting rather than supporting
// whatever other chunk shares its claim key — a deliberately cheap heuristic,
// not a natural-language-inference model.
var negationMarkers = []string{" not ", " no ", " never ", " isn't ", " aren't ", " wasn't ",
	" doesn't ", " don't ", " didn't ", " won't ", " can't ", " cannot ", " no longer "}

// claimKey derives a stable key for a chunk of text so repeated or
// contradicted claims land on the same reasoning node. It lowercases,
// drops the negation markers, collapses whitespace, and hashes the first
// sentence — the part of a turn most likely to carry the claim being made.
func claimKey(text string) string {
	sentence := " " + strings.ToLower(firstSentence(text)) + " "
	for _, marker := range negationMarkers {
		sentence = strings.ReplaceAll(sentence, marker, " ")
	}
	norm := strings.Join(strings.Fields(sentence), " ")
	h := fnv.New64a()
	_, _ = h.Write([]byte(norm))
	return strconv.FormatUint(h.Sum64(), 36)
}

// polarity returns -1 when the chunk's first sentence contains a negation
// marker, +1 otherwise.
func polarity(text string) int {
	sentence := " " + strings.ToLower(firstSentence(text)) + " "
	for _, marker := range negationMarkers {
		if strings.Contains(sentence, marker) {
			return -1
		}
	}
	return 1
}

func firstSentence(text string) string {
	text = strings.TrimSpace(text)
	if i := strings.IndexAny(text, ".!?\n"); i >= 0 && i < 240 {
		return text[:i]
	}
	if len(text) > 240 {
		return text[:240]
	}
	return text
}
