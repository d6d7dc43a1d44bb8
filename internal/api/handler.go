package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/skarde/vectorloom/internal/batch"
	"github.com/skarde/vectorloom/internal/connection"
	"github.com/skarde/vectorloom/internal/provider"
	"github.com/skarde/vectorloom/internal/search"
	"github.com/skarde/vectorloom/internal/store"
	"go.uber.org/zap"
)

// EmbeddingStore is the slice of the store the handlers need.
type EmbeddingStore interface {
	SaveEmbedding(ctx context.Context, uri, text, modelName string, embedding []float32) (int64, error)
	FindEmbeddingByURI(ctx context.Context, uri, modelName string) (*store.EmbeddingRecord, error)
	ListEmbeddings(ctx context.Context, filter store.EmbeddingFilter) (*store.EmbeddingPage, error)
	DeleteEmbedding(ctx context.Context, id int64) (bool, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	svc          *connection.Service
	facade       *provider.Facade
	embeddings   EmbeddingStore
	engine       *search.Engine
	orchestrator *batch.Orchestrator
	logger       *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(
	svc *connection.Service,
	facade *provider.Facade,
	embeddings EmbeddingStore,
	engine *search.Engine,
	orchestrator *batch.Orchestrator,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		svc:          svc,
		facade:       facade,
		embeddings:   embeddings,
		engine:       engine,
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		// Embedding routes
		r.Post("/embeddings", h.createEmbedding)
		r.Get("/embeddings", h.listEmbeddings)
		r.Get("/embeddings/lookup", h.lookupEmbedding)
		r.Delete("/embeddings/{id}", h.deleteEmbedding)
		r.Post("/embeddings/batch", h.createEmbeddingBatch)
		r.Post("/search", h.searchEmbeddings)

		// Connection routes
		r.Get("/connections", h.listConnections)
		r.Post("/connections", h.createConnection)
		r.Get("/connections/active", h.activeConnection)
		r.Post("/connections/test", h.testConnection)
		r.Get("/connections/{id}", h.getConnection)
		r.Put("/connections/{id}", h.updateConnection)
		r.Delete("/connections/{id}", h.deleteConnection)
		r.Post("/connections/{id}/activate", h.activateConnection)

		// Provider routes
		r.Get("/providers", h.listProviders)
		r.Get("/models", h.listModels)
		r.Get("/models/{name}", h.getModel)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps typed core errors to HTTP status codes.
func statusFor(err error) int {
	var perr *provider.Error
	if errors.As(err, &perr) {
		switch perr.Kind {
		case provider.KindAuth:
			return http.StatusUnauthorized
		case provider.KindRateLimit:
			return http.StatusTooManyRequests
		case provider.KindModel:
			return http.StatusBadRequest
		default:
			return http.StatusBadGateway
		}
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "vectorloom",
	})
}

// --- Embeddings ---

type createEmbeddingRequest struct {
	URI   string `json:"uri"`
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

func (h *Handler) createEmbedding(w http.ResponseWriter, r *http.Request) {
	var req createEmbeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.URI == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "uri and text are required")
		return
	}

	result, err := h.svc.GenerateEmbedding(r.Context(), req.Text, req.Model)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	id, err := h.embeddings.SaveEmbedding(r.Context(), req.URI, req.Text, result.Model, result.Embedding)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":         id,
		"uri":        req.URI,
		"model_name": result.Model,
		"dimension":  len(result.Embedding),
	})
}

func (h *Handler) listEmbeddings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	result, err := h.embeddings.ListEmbeddings(r.Context(), store.EmbeddingFilter{
		URI:       q.Get("uri"),
		ModelName: q.Get("model"),
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) lookupEmbedding(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.Query().Get("uri")
	model := r.URL.Query().Get("model")
	if uri == "" || model == "" {
		writeError(w, http.StatusBadRequest, "uri and model are required")
		return
	}
	record, err := h.embeddings.FindEmbeddingByURI(r.Context(), uri, model)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "embedding not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Handler) deleteEmbedding(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	deleted, err := h.embeddings.DeleteEmbedding(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "embedding not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type batchRequest struct {
	Items []batch.Item `json:"items"`
	Model string       `json:"model,omitempty"`
}

func (h *Handler) createEmbeddingBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Items) == 0 {
		writeError(w, http.StatusBadRequest, "items are required")
		return
	}
	result := h.orchestrator.Run(r.Context(), req.Items, req.Model)
	writeJSON(w, http.StatusOK, result)
}

type searchRequest struct {
	Text      string    `json:"text,omitempty"`
	Embedding []float32 `json:"query_embedding,omitempty"`
	Model     string    `json:"model"`
	Limit     int       `json:"limit,omitempty"`
	Threshold float64   `json:"threshold,omitempty"`
	Metric    string    `json:"metric,omitempty"`
}

// searchEmbeddings accepts either a raw query vector or text to embed
// through the active provider first.
func (h *Handler) searchEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	metric, err := search.ParseMetric(req.Metric)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	embedding := req.Embedding
	model := req.Model
	if len(embedding) == 0 {
		if req.Text == "" {
			writeError(w, http.StatusBadRequest, "text or query_embedding is required")
			return
		}
		result, err := h.svc.GenerateEmbedding(r.Context(), req.Text, req.Model)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		embedding = result.Embedding
		model = result.Model
	}
	if model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}

	matches, err := h.engine.Search(r.Context(), search.Query{
		Embedding: embedding,
		ModelName: model,
		Limit:     req.Limit,
		Threshold: req.Threshold,
		Metric:    metric,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": matches,
		"count":   len(matches),
	})
}

// --- Connections ---

func (h *Handler) listConnections(w http.ResponseWriter, r *http.Request) {
	connections, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if connections == nil {
		connections = []*store.Connection{}
	}
	writeJSON(w, http.StatusOK, connections)
}

func (h *Handler) createConnection(w http.ResponseWriter, r *http.Request) {
	var in store.ConnectionInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.Name == "" || in.Type == "" || in.BaseURL == "" {
		writeError(w, http.StatusBadRequest, "name, type and base_url are required")
		return
	}
	conn, err := h.svc.Create(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, conn)
}

func (h *Handler) getConnection(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	conn, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if conn == nil {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (h *Handler) updateConnection(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var patch store.ConnectionPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	conn, err := h.svc.Update(r.Context(), id, patch)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (h *Handler) deleteConnection(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	deleted, err := h.svc.Delete(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (h *Handler) activateConnection(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	conn, err := h.svc.Activate(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "connection not found")
		return
	}
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

func (h *Handler) activeConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.svc.GetActive(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if conn == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"active": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"active": conn})
}

func (h *Handler) testConnection(w http.ResponseWriter, r *http.Request) {
	var req connection.TestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	writeJSON(w, http.StatusOK, h.svc.TestConnection(r.Context(), req))
}

// --- Providers ---

func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"current":   h.facade.CurrentProvider(),
		"providers": h.facade.Providers(),
	})
}

func (h *Handler) listModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.facade.ListModels(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if models == nil {
		models = []provider.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, models)
}

func (h *Handler) getModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info := h.facade.GetModelInfo(r.Context(), name)
	if info == nil {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}
	writeJSON(w, http.StatusOK, info)
}
