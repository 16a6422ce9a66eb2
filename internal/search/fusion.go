package search

import (
	"cmp"
	"slices"

	"github.com/hyperjump/kotae/internal/keyword"
	"github.com/hyperjump/kotae/internal/vector"
)

// FusedResult holds a chunk ID and its fused keyword/semantic scores.
type FusedResult struct {
	ChunkID       string
	Score         float64
	KeywordScore  float64
	SemanticScore float64
}

// KeywordScores converts keyword hits to a chunk ID -> raw score map.
func KeywordScores(results []*keyword.KeywordResult) map[string]float64 {
	scores := make(map[string]float64, len(results))
	for _, r := range results {
		scores[r.ID] = r.Score
	}
	return scores
}

// SemanticScores converts vector hits to a chunk ID -> raw similarity map.
func SemanticScores(results []*vector.VectorResult) map[string]float64 {
	scores := make(map[string]float64, len(results))
	for _, r := range results {
		scores[r.ID] = r.Score
	}
	return scores
}

// NormalizeMinMax rescales scores to [0,1]. A single distinct value maps to 1 so that
// a lone hit is not erased.
func NormalizeMinMax(scores map[string]float64) map[string]float64 {
	normalized := make(map[string]float64, len(scores))
	if len(scores) == 0 {
		return normalized
	}
	first := true
	var lo, hi float64
	for _, s := range scores {
		if first {
			lo, hi = s, s
			first = false
			continue
		}
		lo = min(lo, s)
		hi = max(hi, s)
	}
	for id, s := range scores {
		if hi == lo {
			normalized[id] = 1
			continue
		}
		normalized[id] = (s - lo) / (hi - lo)
	}
	return normalized
}

// Fuse merges keyword and semantic score maps with weights. Results are ordered by
// fused score descending, ties broken by ascending chunk ID.
func Fuse(keywordScores, semanticScores map[string]float64, keywordWeight, semanticWeight float64) []*FusedResult {
	scoreMap := make(map[string]*FusedResult, len(keywordScores)+len(semanticScores))
	for id, score := range keywordScores {
		scoreMap[id] = &FusedResult{ChunkID: id, KeywordScore: score}
	}
	for id, score := range semanticScores {
		if result, exists := scoreMap[id]; exists {
			result.SemanticScore = score
		} else {
			scoreMap[id] = &FusedResult{ChunkID: id, SemanticScore: score}
		}
	}
	results := make([]*FusedResult, 0, len(scoreMap))
	for _, result := range scoreMap {
		result.Score = keywordWeight*result.KeywordScore + semanticWeight*result.SemanticScore
		results = append(results, result)
	}
	slices.SortFunc(results, func(a, b *FusedResult) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	})
	return results
}
