package retrieval

import (
	"math"
	"regexp"
	"strings"
)

// Okapi BM25 with the usual parameters.
const (
	bm25K1      = 1.2
	bm25B       = 0.75
	bm25Epsilon = 0.25
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

func tokenize(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

// lexicalIndex ranks chunk texts by BM25. Immutable after construction.
type lexicalIndex struct {
	termFreqs []map[string]int
	lengths   []int
	avgLength float64
	idf       map[string]float64
}

func newLexicalIndex(texts []string) *lexicalIndex {
	idx := &lexicalIndex{
		termFreqs: make([]map[string]int, len(texts)),
		lengths:   make([]int, len(texts)),
		idf:       make(map[string]float64),
	}
	docFreq := make(map[string]int)
	total := 0
	for i, text := range texts {
		tokens := tokenize(text)
		idx.lengths[i] = len(tokens)
		total += len(tokens)
		tf := make(map[string]int, len(tokens))
		for _, tok := range tokens {
			if tf[tok] == 0 {
				docFreq[tok]++
			}
			tf[tok]++
		}
		idx.termFreqs[i] = tf
	}
	if len(texts) > 0 {
		idx.avgLength = float64(total) / float64(len(texts))
	}
	n := float64(len(texts))
	for term, df := range docFreq {
		v := math.Log(1 + (n-float64(df)+0.5)/(float64(df)+0.5))
		if v < 0 {
			v = bm25Epsilon
		}
		idx.idf[term] = v
	}
	return idx
}

// scores returns one BM25 score per indexed text.
func (idx *lexicalIndex) scores(query string) []float64 {
	out := make([]float64, len(idx.termFreqs))
	terms := tokenize(query)
	if len(terms) == 0 || idx.avgLength == 0 {
		return out
	}
	for i, tf := range idx.termFreqs {
		norm := bm25K1 * (1 - bm25B + bm25B*float64(idx.lengths[i])/idx.avgLength)
		var score float64
		for _, term := range terms {
			f := float64(tf[term])
			if f == 0 {
				continue
			}
			score += idx.idf[term] * f * (bm25K1 + 1) / (f + norm)
		}
		out[i] = score
	}
	return out
}
