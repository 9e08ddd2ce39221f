package consolidate

import (
	"sort"
	"strings"
	"unicode"
)

const (
	summaryMaxLen = 400
	maxTags       = 5
	minTagLen     = 4
)

// stopwords are excluded from tag extraction. Kept small; the goal is
// readable topic tags, not linguistic precision.
var stopwords = map[string]struct{}{
	"about": {}, "after": {}, "again": {}, "because": {}, "been": {},
	"before": {}, "being": {}, "between": {}, "could": {}, "does": {},
	"doing": {}, "from": {}, "have": {}, "having": {}, "here": {},
	"into": {}, "just": {}, "like": {}, "more": {}, "most": {},
	"only": {}, "other": {}, "over": {}, "same": {}, "should": {},
	"some": {}, "such": {}, "than": {}, "that": {}, "their": {},
	"them": {}, "then": {}, "there": {}, "these": {}, "they": {},
	"this": {}, "those": {}, "through": {}, "under": {}, "very": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "while": {},
	"will": {}, "with": {}, "would": {}, "your": {},
}

// extractSummary builds an extractive summary from the canonical
// member's content: leading sentences up to summaryMaxLen, never cut
// mid-sentence unless the first sentence alone overflows.
func extractSummary(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= summaryMaxLen {
		return content
	}

	var b strings.Builder
	for _, sentence := range splitSentences(content) {
		if b.Len() > 0 && b.Len()+len(sentence)+1 > summaryMaxLen {
			break
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(sentence)
		if b.Len() >= summaryMaxLen {
			break
		}
	}
	out := b.String()
	if len(out) > summaryMaxLen {
		out = strings.TrimSpace(out[:summaryMaxLen])
	}
	return out
}

// splitSentences is a rough sentence splitter on terminal punctuation
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			s := strings.TrimSpace(text[start : i+1])
			if s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// extractTags returns the most frequent content words across the
// cluster, ordered by frequency then alphabetically for determinism
func extractTags(contents []string) []string {
	freq := make(map[string]int)
	for _, content := range contents {
		seen := make(map[string]struct{})
		for _, word := range tokenize(content) {
			if _, dup := seen[word]; dup {
				continue // Count each word once per record
			}
			seen[word] = struct{}{}
			freq[word]++
		}
	}

	words := make([]string, 0, len(freq))
	for w := range freq {
		words = append(words, w)
	}
	sort.Slice(words, func(i, j int) bool {
		if freq[words[i]] != freq[words[j]] {
			return freq[words[i]] > freq[words[j]]
		}
		return words[i] < words[j]
	})

	if len(words) > maxTags {
		words = words[:maxTags]
	}
	return words
}

// tokenize lowercases and keeps alphanumeric runs long enough to be
// meaningful tags
func tokenize(text string) []string {
	var tokens []string
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		if len(f) < minTagLen {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}
