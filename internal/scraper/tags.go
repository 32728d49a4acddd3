package scraper

import (
	"regexp"
	"sort"
)

// tagRules map a tag to the keyword pattern that triggers it. Matching is
// whole-word and case-insensitive over title plus content.
var tagRules = []struct {
	tag string
	re  *regexp.Regexp
}{
	{"regulatory", regexp.MustCompile(`(?i)\b(fda|ema|mhra|pmda|pdufa|nda|bla|maa|approval|clearance|complete response letter|advisory committee|breakthrough therapy|fast track|orphan drug|priority review)\b|510\(k\)`)},
	{"clinical", regexp.MustCompile(`(?i)\b(phase (?:1|2|3|4|i{1,3}|iv)[ab]?|clinical trial|enrollment|topline|endpoint|readout|interim analysis|first patient dosed|data safety monitoring)\b`)},
	{"ma", regexp.MustCompile(`(?i)\b(acquisition|acquire[sd]?|merger|merge[sd]?|buyout|takeover|tender offer|licensing deal|collaboration agreement)\b`)},
	{"financial", regexp.MustCompile(`(?i)\b(ipo|public offering|private placement|earnings|quarterly results|guidance|dilution)\b`)},
	{"partnership", regexp.MustCompile(`(?i)\b(partnership|strategic alliance|co-development|joint venture)\b`)},
}

// ExtractTags returns the sorted set of topic tags triggered by the text.
func ExtractTags(texts ...string) []string {
	seen := make(map[string]bool)
	for _, rule := range tagRules {
		for _, text := range texts {
			if rule.re.MatchString(text) {
				seen[rule.tag] = true
				break
			}
		}
	}
	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
