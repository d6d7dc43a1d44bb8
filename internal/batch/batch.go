package batch

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/skarde/vectorloom/internal/provider"
	"go.uber.org/zap"
)

// Embedder is the slice of the provider facade the orchestrator needs.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text, model string) (*provider.EmbeddingResult, error)
}

// Saver is the slice of the embedding store the orchestrator needs.
type Saver interface {
	SaveEmbedding(ctx context.Context, uri, text, modelName string, embedding []float32) (int64, error)
}

// Item is one embedding-creation input.
type Item struct {
	URI   string `json:"uri"`
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

// ItemResult is the per-item outcome, positionally matching the input.
type ItemResult struct {
	Success   bool   `json:"success"`
	ID        int64  `json:"id,omitempty"`
	URI       string `json:"uri"`
	ModelName string `json:"model_name,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Result is the assembled batch outcome. Counts are derived from the
// results, so Total == Successful + Failed holds by construction.
type Result struct {
	BatchID    string       `json:"batch_id"`
	Results    []ItemResult `json:"results"`
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
}

// Orchestrator fans a list of items out over the provider and store with
// bounded concurrency, isolating per-item failure.
type Orchestrator struct {
	embedder Embedder
	saver    Saver
	pool     chan struct{} // semaphore-based pool
	logger   *zap.Logger
}

// New creates an orchestrator with the given fan-out width.
func New(embedder Embedder, saver Saver, width int, logger *zap.Logger) *Orchestrator {
	if width <= 0 {
		width = 4
	}
	return &Orchestrator{
		embedder: embedder,
		saver:    saver,
		pool:     make(chan struct{}, width),
		logger:   logger,
	}
}

// Run processes items independently and assembles results in input order.
// Items sharing a URI are chained so the last batch entry for a URI is also
// the last write, keeping upsert semantics deterministic under concurrency.
func (o *Orchestrator) Run(ctx context.Context, items []Item, defaultModel string) *Result {
	batchID := uuid.New().String()
	results := make([]ItemResult, len(items))

	var wg sync.WaitGroup
	prev := make(map[string]chan struct{}, len(items))

	for i, item := range items {
		wait := prev[item.URI]
		done := make(chan struct{})
		prev[item.URI] = done

		wg.Add(1)
		go func(idx int, it Item, wait <-chan struct{}, done chan<- struct{}) {
			defer wg.Done()
			defer close(done)

			// Wait for the previous same-URI item before taking a slot,
			// otherwise a short pool can deadlock behind the chain.
			if wait != nil {
				<-wait
			}

			o.pool <- struct{}{}        // acquire slot
			defer func() { <-o.pool }() // release slot

			results[idx] = o.processItem(ctx, it, defaultModel)
		}(i, item, wait, done)
	}
	wg.Wait()

	res := &Result{BatchID: batchID, Results: results, Total: len(results)}
	for _, r := range results {
		if r.Success {
			res.Successful++
		} else {
			res.Failed++
		}
	}

	o.logger.Info("batch completed",
		zap.String("batch", batchID),
		zap.Int("total", res.Total),
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed))
	return res
}

// processItem validates locally, then generates and saves one embedding.
// Validation failures never reach the provider.
func (o *Orchestrator) processItem(ctx context.Context, item Item, defaultModel string) ItemResult {
	if item.URI == "" {
		return ItemResult{URI: item.URI, Error: "uri is required"}
	}
	if item.Text == "" {
		return ItemResult{URI: item.URI, Error: "text is required"}
	}

	model := item.Model
	if model == "" {
		model = defaultModel
	}

	emb, err := o.embedder.GenerateEmbedding(ctx, item.Text, model)
	if err != nil {
		return ItemResult{URI: item.URI, Error: fmt.Sprintf("generate embedding: %v", err)}
	}

	id, err := o.saver.SaveEmbedding(ctx, item.URI, item.Text, emb.Model, emb.Embedding)
	if err != nil {
		return ItemResult{URI: item.URI, Error: fmt.Sprintf("save embedding: %v", err)}
	}

	return ItemResult{
		Success:   true,
		ID:        id,
		URI:       item.URI,
		ModelName: emb.Model,
	}
}
