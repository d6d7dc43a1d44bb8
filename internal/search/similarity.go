package search

import (
	"fmt"
	"math"
)

// Metric selects the distance function used to rank candidates. Every
// metric is expressed as a similarity: higher always means closer.
type Metric string

const (
	MetricCosine     Metric = "cosine"
	MetricEuclidean  Metric = "euclidean"
	MetricDotProduct Metric = "dot_product"
)

// ParseMetric validates a metric name, defaulting to cosine for "".
func ParseMetric(name string) (Metric, error) {
	switch Metric(name) {
	case MetricCosine, MetricEuclidean, MetricDotProduct:
		return Metric(name), nil
	case "":
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown similarity metric %q", name)
	}
}

// Similarity computes the score for two equal-length vectors under m.
func Similarity(m Metric, a, b []float32) float64 {
	switch m {
	case MetricEuclidean:
		return euclideanSimilarity(a, b)
	case MetricDotProduct:
		return dotProduct(a, b)
	default:
		return cosineSimilarity(a, b)
	}
}

// cosineSimilarity returns dot(a,b) / (|a|*|b|), or 0 for zero vectors.
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := 0; i < len(a); i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// dotProduct returns the raw inner product.
func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := 0; i < len(a); i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// euclideanSimilarity maps euclidean distance through 1/(1+d) so that
// higher means closer, uniform with the other metrics.
func euclideanSimilarity(a, b []float32) float64 {
	var sum float64
	for i := 0; i < len(a); i++ {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return 1 / (1 + math.Sqrt(sum))
}
