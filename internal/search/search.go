package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/skarde/vectorloom/internal/store"
	"go.uber.org/zap"
)

// CandidateSource supplies the rows of one model's vector space. The store
// implements it; the engine computes exact distances over the result.
type CandidateSource interface {
	CandidatesByModel(ctx context.Context, modelName string) ([]store.EmbeddingRecord, error)
}

// Query describes one similarity search.
type Query struct {
	Embedding []float32 `json:"query_embedding"`
	ModelName string    `json:"model_name"`
	Limit     int       `json:"limit"`
	Threshold float64   `json:"threshold"`
	Metric    Metric    `json:"metric"`
}

// Match is one ranked search hit.
type Match struct {
	ID         int64   `json:"id"`
	URI        string  `json:"uri"`
	Text       string  `json:"text"`
	ModelName  string  `json:"model_name"`
	Similarity float64 `json:"similarity"`
}

// Engine ranks stored embeddings against a query vector.
type Engine struct {
	source CandidateSource
	logger *zap.Logger
}

// NewEngine creates a search engine over the given candidate source.
func NewEngine(source CandidateSource, logger *zap.Logger) *Engine {
	return &Engine{source: source, logger: logger}
}

const defaultSearchLimit = 10

// Search returns candidates for q.ModelName scored under q.Metric, filtered
// to similarity >= q.Threshold, sorted descending with ties broken by lowest
// id, truncated to q.Limit. A model with no rows yields an empty result.
func (e *Engine) Search(ctx context.Context, q Query) ([]Match, error) {
	if q.ModelName == "" {
		return nil, fmt.Errorf("search: model name is required")
	}
	if len(q.Embedding) == 0 {
		return nil, fmt.Errorf("search: query embedding is empty")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	candidates, err := e.source.CandidatesByModel(ctx, q.ModelName)
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		// Rows from a different vector shape cannot be compared.
		if len(c.Embedding) != len(q.Embedding) {
			e.logger.Warn("skipping dimension-mismatched row",
				zap.Int64("id", c.ID), zap.String("model", q.ModelName),
				zap.Int("got", len(c.Embedding)), zap.Int("want", len(q.Embedding)))
			continue
		}
		score := Similarity(q.Metric, q.Embedding, c.Embedding)
		if score < q.Threshold {
			continue
		}
		matches = append(matches, Match{
			ID:         c.ID,
			URI:        c.URI,
			Text:       c.Text,
			ModelName:  c.ModelName,
			Similarity: score,
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}
