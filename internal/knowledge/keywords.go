package knowledge

import (
	"regexp"
	"sort"
	"strings"
)

// wordRe matches the tokens the index is built from. Only ASCII words of
// three letters or more participate in keyword matching.
var wordRe = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)

// stopWords are common English words excluded from keyword extraction.
var stopWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`
		a an the and or but in on at to for
		of with by from as is was are were been
		be have has had do does did will would
		could should may might must shall can need
		this that these those it its i you he
		she we they me him her us them my your
		his our their what which who whom when where
		why how all each every both few more most
		other some such no nor not only own same
		so than too very just also now here there`) {
		stopWords[w] = struct{}{}
	}
}

// ExtractKeywords returns the topN most frequent non-stop-word tokens of
// text, lowercased. Ties keep first-occurrence order, so extraction is
// deterministic.
func ExtractKeywords(text string, topN int) []string {
	words := wordRe.FindAllString(strings.ToLower(text), -1)

	counts := make(map[string]int)
	var order []string
	for _, w := range words {
		if _, stop := stopWords[w]; stop {
			continue
		}
		if counts[w] == 0 {
			order = append(order, w)
		}
		counts[w]++
	}

	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > topN {
		order = order[:topN]
	}
	return order
}

// keywordSet builds a membership set from a keyword list.
func keywordSet(keywords []string) map[string]struct{} {
	set := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		set[k] = struct{}{}
	}
	return set
}

// overlapScore counts how many query keywords appear in the chunk set.
func overlapScore(query []string, chunk map[string]struct{}) int {
	n := 0
	for _, k := range query {
		if _, ok := chunk[k]; ok {
			n++
		}
	}
	return n
}
