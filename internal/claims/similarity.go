package claims

import (
	"math"
	"strings"

	"github.com/scourhq/scour/internal/research"
)

// Similarity thresholds for structural claim matching.
const (
	jaccardThreshold = 0.8
	relativeVariance = 0.05
)

// similar reports whether two normalized values assert the same fact:
// strings match above a Jaccard word overlap of 0.8, numbers within 5%
// relative variance, lists above a 0.8 Jaccard set overlap; anything else
// falls back to exact serialized equality. Values of different kinds never
// match.
func similar(a, b research.Value) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case research.KindText:
		return jaccardWords(a.Str(), b.Str()) > jaccardThreshold
	case research.KindNumber:
		return numbersClose(a.Num(), b.Num())
	case research.KindList:
		return jaccardSets(a.Items(), b.Items()) > jaccardThreshold
	default:
		return a.Key() == b.Key()
	}
}

func jaccardWords(a, b string) float64 {
	return jaccardSets(strings.Fields(a), strings.Fields(b))
}

func jaccardSets(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	setA := make(map[string]struct{}, len(a))
	for _, w := range a {
		setA[w] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, w := range b {
		setB[w] = struct{}{}
	}
	intersection := 0
	for w := range setA {
		if _, ok := setB[w]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 1.0
	}
	return float64(intersection) / float64(union)
}

func numbersClose(a, b float64) bool {
	if a == b {
		return true
	}
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger == 0 {
		return true
	}
	return math.Abs(a-b)/larger <= relativeVariance
}
