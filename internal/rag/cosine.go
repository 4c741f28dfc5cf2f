package rag

import (
	"math"
	"sort"
)

// CosineDistance returns 1 - cos(a, b). Vectors of different length or with a
// zero norm are maximally distant from everything (distance 1).
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/(math.Sqrt(na)*math.Sqrt(nb)))
}

// RankMatches sorts matches by ascending distance, keeping the incoming order
// for ties, and truncates the result to n.
func RankMatches(matches []Match, n int) []Match {
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	if n >= 0 && len(matches) > n {
		matches = matches[:n]
	}
	return matches
}
