package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// EmbeddingRecord is one stored (uri, model) embedding row.
type EmbeddingRecord struct {
	ID        int64     `json:"id"`
	URI       string    `json:"uri"`
	ModelName string    `json:"model_name"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EmbeddingFilter narrows and pages List results. URI matches by prefix,
// ModelName by equality; empty fields are ignored.
type EmbeddingFilter struct {
	URI       string
	ModelName string
	Page      int
	Limit     int
}

// EmbeddingPage is one page of List results.
type EmbeddingPage struct {
	Embeddings []EmbeddingRecord `json:"embeddings"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
	TotalPages int               `json:"total_pages"`
}

// maxPageLimit is the hard ceiling on page size regardless of the request.
const maxPageLimit = 100

// SaveEmbedding upserts one embedding keyed by (uri, model_name) in a single
// statement, so concurrent saves to the same key cannot interleave. Repeat
// saves keep the original id; last write wins.
func (s *Store) SaveEmbedding(ctx context.Context, uri, text, modelName string, embedding []float32) (int64, error) {
	if len(embedding) == 0 {
		return 0, storageErr("save embedding", "embedding vector is empty", nil)
	}

	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO embeddings (uri, model_name, text, embedding)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (uri, model_name)
		 DO UPDATE SET text = EXCLUDED.text, embedding = EXCLUDED.embedding, updated_at = NOW()
		 RETURNING id`,
		uri, modelName, text, embedding,
	).Scan(&id)
	if err != nil {
		return 0, storageErr("save embedding", "upsert failed", err)
	}

	s.logger.Debug("embedding saved",
		zap.Int64("id", id), zap.String("uri", uri), zap.String("model", modelName))
	return id, nil
}

// FindEmbeddingByURI returns the row for (uri, model_name), or nil.
func (s *Store) FindEmbeddingByURI(ctx context.Context, uri, modelName string) (*EmbeddingRecord, error) {
	row := s.db.QueryRow(ctx,
		`SELECT id, uri, model_name, text, embedding, created_at, updated_at
		 FROM embeddings WHERE uri=$1 AND model_name=$2`,
		uri, modelName)

	var r EmbeddingRecord
	err := row.Scan(&r.ID, &r.URI, &r.ModelName, &r.Text, &r.Embedding, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("find embedding", "query failed", err)
	}
	return &r, nil
}

// ListEmbeddings returns a filtered, paginated slice of rows ordered by id.
func (s *Store) ListEmbeddings(ctx context.Context, filter EmbeddingFilter) (*EmbeddingPage, error) {
	page := filter.Page
	if page < 1 {
		page = 1
	}
	limit := filter.Limit
	if limit < 1 || limit > maxPageLimit {
		limit = maxPageLimit
	}

	where := ` WHERE ($1 = '' OR uri LIKE $1 || '%') AND ($2 = '' OR model_name = $2)`

	var total int64
	if err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM embeddings`+where, filter.URI, filter.ModelName,
	).Scan(&total); err != nil {
		return nil, storageErr("list embeddings", "count failed", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT id, uri, model_name, text, embedding, created_at, updated_at
		 FROM embeddings`+where+` ORDER BY id LIMIT $3 OFFSET $4`,
		filter.URI, filter.ModelName, limit, (page-1)*limit)
	if err != nil {
		return nil, storageErr("list embeddings", "query failed", err)
	}
	defer rows.Close()

	embeddings := make([]EmbeddingRecord, 0, limit)
	for rows.Next() {
		var r EmbeddingRecord
		if err := rows.Scan(&r.ID, &r.URI, &r.ModelName, &r.Text, &r.Embedding, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, storageErr("list embeddings", "scan failed", err)
		}
		embeddings = append(embeddings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list embeddings", "iterate failed", err)
	}

	totalPages := int((total + int64(limit) - 1) / int64(limit))
	return &EmbeddingPage{
		Embeddings: embeddings,
		Page:       page,
		Limit:      limit,
		TotalPages: totalPages,
	}, nil
}

// DeleteEmbedding removes one row by id. Returns false, not an error, when
// the id does not exist.
func (s *Store) DeleteEmbedding(ctx context.Context, id int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM embeddings WHERE id=$1`, id)
	if err != nil {
		return false, storageErr("delete embedding", "delete failed", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CandidatesByModel returns every row for one model's vector space. The
// search engine computes exact distances over this candidate set.
func (s *Store) CandidatesByModel(ctx context.Context, modelName string) ([]EmbeddingRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, uri, model_name, text, embedding, created_at, updated_at
		 FROM embeddings WHERE model_name=$1 ORDER BY id`,
		modelName)
	if err != nil {
		return nil, storageErr("search candidates", "query failed", err)
	}
	defer rows.Close()

	var records []EmbeddingRecord
	for rows.Next() {
		var r EmbeddingRecord
		if err := rows.Scan(&r.ID, &r.URI, &r.ModelName, &r.Text, &r.Embedding, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, storageErr("search candidates", "scan failed", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
