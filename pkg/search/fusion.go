package search

import (
	"sort"

	"github.com/harun/recall/pkg/memory"
)

// Result sources.
const (
	SourceKeyword  = "keyword"
	SourceSemantic = "semantic"
	SourceHybrid   = "hybrid"
)

// Result is one fused search hit. Document never carries the backend "score"
// field; the fused score is in Score.
type Result struct {
	ID       string          `json:"id"`
	Score    float64         `json:"score"`
	Source   string          `json:"source"`
	Document memory.Document `json:"document"`
}

// candidate is a branch hit after score extraction and filtering.
type candidate struct {
	id     string
	hasID  bool
	score  float64
	source string
	doc    memory.Document
}

// branch is one ranked list entering fusion.
type branch struct {
	candidates []candidate
	weight     float64
}

// scoreFunc computes a candidate's weighted contribution from its 1-based
// rank within its branch.
type scoreFunc func(c candidate, rank int, weight float64) float64

func weightedSum(c candidate, _ int, weight float64) float64 {
	return c.score * weight
}

func reciprocalRank(k int) scoreFunc {
	return func(_ candidate, rank int, weight float64) float64 {
		return (1.0 / float64(rank+k)) * weight
	}
}

// fuse combines branches with score. Candidates sharing an identity across
// branches have their contributions summed and become SourceHybrid;
// candidates without an identity are dropped. Within one branch only the
// first occurrence of an identity counts. The result is sorted by score
// descending, then identity ascending.
func fuse(branches []branch, score scoreFunc) []Result {
	merged := make(map[string]*Result)
	for _, b := range branches {
		seen := make(map[string]struct{}, len(b.candidates))
		for i, c := range b.candidates {
			rank := i + 1
			if !c.hasID {
				continue
			}
			if _, dup := seen[c.id]; dup {
				continue
			}
			seen[c.id] = struct{}{}

			contribution := score(c, rank, b.weight)
			if r, ok := merged[c.id]; ok {
				r.Score += contribution
				if r.Source != c.source {
					r.Source = SourceHybrid
				}
				continue
			}
			merged[c.id] = &Result{
				ID:       c.id,
				Score:    contribution,
				Source:   c.source,
				Document: c.doc,
			}
		}
	}

	results := make([]Result, 0, len(merged))
	for _, r := range merged {
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	return results
}

// toCandidates extracts scores, applies the minimum score filter and strips
// the "score" field. A document without a numeric score gets defaultScore.
func toCandidates(docs []memory.Document, source string, defaultScore, minScore float64) []candidate {
	out := make([]candidate, 0, len(docs))
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		score, ok := doc.Float(memory.FieldScore)
		if !ok {
			score = defaultScore
		}
		if score < minScore {
			continue
		}
		clean := doc.Clone()
		delete(clean, memory.FieldScore)
		id, hasID := doc.Identity()
		out = append(out, candidate{
			id:     id,
			hasID:  hasID,
			score:  score,
			source: source,
			doc:    clean,
		})
	}
	return out
}
