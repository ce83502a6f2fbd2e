package feedback

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"jobinsights/internal/domain"
)

type sparseVec = map[int]float64

// tfidfIndex is immutable once built; the store rebuilds it lazily after
// each append.
type tfidfIndex struct {
	vocab map[string]int
	idf   []float64
	docs  []sparseVec
	items []domain.Correction
}

func tokenize(s string) []string {
	s = strings.ToLower(s)
	var tokens []string
	var cur strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			cur.WriteRune(r)
		} else {
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func correctionText(c domain.Correction) string {
	return c.ActivityName + " " + c.ErrorSnippet + " " + c.ExceptionType
}

func buildTFIDFIndex(items []domain.Correction) *tfidfIndex {
	if len(items) == 0 {
		return &tfidfIndex{vocab: make(map[string]int)}
	}
	// Snapshot so later appends never alias the indexed slice.
	items = append([]domain.Correction(nil), items...)

	vocab := make(map[string]int)
	tokenized := make([][]string, len(items))
	for i, item := range items {
		tokenized[i] = tokenize(correctionText(item))
		for _, tok := range tokenized[i] {
			if _, ok := vocab[tok]; !ok {
				vocab[tok] = len(vocab)
			}
		}
	}

	df := make([]int, len(vocab))
	docs := make([]sparseVec, len(items))
	for i, tokens := range tokenized {
		tf := make(map[int]int)
		for _, tok := range tokens {
			tf[vocab[tok]]++
		}
		vec := make(sparseVec, len(tf))
		for idx, count := range tf {
			vec[idx] = float64(count)
			df[idx]++
		}
		docs[i] = vec
	}

	n := float64(len(items))
	idf := make([]float64, len(vocab))
	for i, d := range df {
		if d > 0 {
			idf[i] = math.Log(n/float64(d)) + 1.0
		}
	}
	for _, vec := range docs {
		for idx := range vec {
			vec[idx] *= idf[idx]
		}
	}

	return &tfidfIndex{vocab: vocab, idf: idf, docs: docs, items: items}
}

func (idx *tfidfIndex) queryVec(query string) sparseVec {
	tf := make(map[int]int)
	for _, tok := range tokenize(query) {
		if i, ok := idx.vocab[tok]; ok {
			tf[i]++
		}
	}
	vec := make(sparseVec, len(tf))
	for i, count := range tf {
		vec[i] = float64(count) * idx.idf[i]
	}
	return vec
}

// topK returns the k most similar corrections. Equal scores prefer the
// more recent correction.
func (idx *tfidfIndex) topK(query string, k int) []domain.Correction {
	if len(idx.items) == 0 || k <= 0 {
		return nil
	}
	qvec := idx.queryVec(query)
	if len(qvec) == 0 {
		return nil
	}

	type scored struct {
		index int
		score float64
	}
	var results []scored
	for i, dvec := range idx.docs {
		if sim := cosineSim(qvec, dvec); sim > 0 {
			results = append(results, scored{i, sim})
		}
	}
	sort.SliceStable(results, func(a, b int) bool {
		if results[a].score != results[b].score {
			return results[a].score > results[b].score
		}
		return results[a].index > results[b].index
	})
	if len(results) > k {
		results = results[:k]
	}
	out := make([]domain.Correction, len(results))
	for i, r := range results {
		out[i] = idx.items[r.index]
	}
	return out
}

func cosineSim(a, b sparseVec) float64 {
	var dot, normA, normB float64
	for i, va := range a {
		if vb, ok := b[i]; ok {
			dot += va * vb
		}
		normA += va * va
	}
	for _, vb := range b {
		normB += vb * vb
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
