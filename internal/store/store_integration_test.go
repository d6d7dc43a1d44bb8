package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

// startPostgres starts a PostgreSQL testcontainer, returns DSN + cleanup func.
func startPostgres(ctx context.Context) (string, func(), error) {
	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("loom_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		return "", nil, fmt.Errorf("start postgres: %w", err)
	}
	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return "", nil, fmt.Errorf("pg connection string: %w", err)
	}
	cleanup := func() { container.Terminate(ctx) }
	return dsn, cleanup, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed store test in short mode")
	}
	ctx := context.Background()

	dsn, cleanup, err := startPostgres(ctx)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(cleanup)

	st, err := New(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("connect store: %v", err)
	}
	t.Cleanup(st.Close)

	if err := st.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return st
}

func TestEmbeddingStoreIntegration(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	t.Run("upsert keeps id and applies last write", func(t *testing.T) {
		id1, err := st.SaveEmbedding(ctx, "doc-1", "first", "m1", []float32{1, 2, 3})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		id2, err := st.SaveEmbedding(ctx, "doc-1", "second", "m1", []float32{4, 5, 6})
		if err != nil {
			t.Fatalf("resave: %v", err)
		}
		if id1 != id2 {
			t.Errorf("upsert changed id: %d then %d", id1, id2)
		}

		rec, err := st.FindEmbeddingByURI(ctx, "doc-1", "m1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if rec == nil || rec.Text != "second" {
			t.Fatalf("expected last write, got %+v", rec)
		}
		if len(rec.Embedding) != 3 || rec.Embedding[0] != 4 {
			t.Errorf("expected updated vector, got %v", rec.Embedding)
		}

		// Same uri under another model is an independent row.
		id3, err := st.SaveEmbedding(ctx, "doc-1", "other space", "m2", []float32{9})
		if err != nil {
			t.Fatalf("save m2: %v", err)
		}
		if id3 == id1 {
			t.Error("distinct (uri, model) pairs must not share a row")
		}
	})

	t.Run("empty vector is rejected", func(t *testing.T) {
		if _, err := st.SaveEmbedding(ctx, "doc-x", "text", "m1", nil); err == nil {
			t.Fatal("expected error for empty vector")
		}
	})

	t.Run("find missing yields nil", func(t *testing.T) {
		rec, err := st.FindEmbeddingByURI(ctx, "nope", "m1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if rec != nil {
			t.Errorf("expected nil, got %+v", rec)
		}
	})

	t.Run("list filters and clamps", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			uri := fmt.Sprintf("corpus/item-%d", i)
			if _, err := st.SaveEmbedding(ctx, uri, "t", "m-list", []float32{float32(i)}); err != nil {
				t.Fatalf("seed %s: %v", uri, err)
			}
		}

		page, err := st.ListEmbeddings(ctx, EmbeddingFilter{URI: "corpus/", ModelName: "m-list", Limit: 500})
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if page.Limit != 100 {
			t.Errorf("limit not clamped: got %d, want 100", page.Limit)
		}
		if len(page.Embeddings) != 5 || page.TotalPages != 1 {
			t.Errorf("got %d rows / %d pages, want 5 / 1", len(page.Embeddings), page.TotalPages)
		}

		page, err = st.ListEmbeddings(ctx, EmbeddingFilter{URI: "corpus/", ModelName: "m-list", Page: 2, Limit: 2})
		if err != nil {
			t.Fatalf("list page 2: %v", err)
		}
		if len(page.Embeddings) != 2 || page.TotalPages != 3 {
			t.Errorf("page 2: got %d rows / %d pages, want 2 / 3", len(page.Embeddings), page.TotalPages)
		}
		if page.Embeddings[0].URI != "corpus/item-2" {
			t.Errorf("page 2 starts at %q, want corpus/item-2", page.Embeddings[0].URI)
		}

		// No prefix match.
		page, err = st.ListEmbeddings(ctx, EmbeddingFilter{URI: "elsewhere/", ModelName: "m-list"})
		if err != nil {
			t.Fatalf("list no-match: %v", err)
		}
		if len(page.Embeddings) != 0 {
			t.Errorf("expected no rows, got %d", len(page.Embeddings))
		}
	})

	t.Run("delete reports existence", func(t *testing.T) {
		id, err := st.SaveEmbedding(ctx, "doc-del", "bye", "m1", []float32{1})
		if err != nil {
			t.Fatalf("save: %v", err)
		}
		deleted, err := st.DeleteEmbedding(ctx, id)
		if err != nil || !deleted {
			t.Fatalf("delete: %v deleted=%v", err, deleted)
		}
		deleted, err = st.DeleteEmbedding(ctx, id)
		if err != nil {
			t.Fatalf("repeat delete: %v", err)
		}
		if deleted {
			t.Error("repeat delete must report false")
		}
	})

	t.Run("candidates ordered by id", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			if _, err := st.SaveEmbedding(ctx, fmt.Sprintf("cand-%d", i), "t", "m-cand", []float32{1}); err != nil {
				t.Fatalf("seed: %v", err)
			}
		}
		rows, err := st.CandidatesByModel(ctx, "m-cand")
		if err != nil {
			t.Fatalf("candidates: %v", err)
		}
		if len(rows) != 3 {
			t.Fatalf("got %d candidates, want 3", len(rows))
		}
		for i := 1; i < len(rows); i++ {
			if rows[i].ID <= rows[i-1].ID {
				t.Fatalf("candidates out of id order: %v", rows)
			}
		}
	})
}

func TestConnectionStoreIntegration(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	// 64 hex chars, 32-byte AES key.
	t.Setenv("LOOM_ENCRYPT_KEY", "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")

	create := func(name string) *Connection {
		t.Helper()
		conn, err := st.CreateConnection(ctx, ConnectionInput{
			Name:    name,
			Type:    "ollama",
			BaseURL: "http://localhost:11434",
		})
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		return conn
	}

	t.Run("credential roundtrip", func(t *testing.T) {
		conn, err := st.CreateConnection(ctx, ConnectionInput{
			Name:    "remote",
			Type:    "openai-compatible",
			BaseURL: "https://api.example.com/v1",
			APIKey:  "sk-roundtrip",
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		key, err := st.ConnectionCredential(ctx, conn.ID)
		if err != nil {
			t.Fatalf("credential: %v", err)
		}
		if key != "sk-roundtrip" {
			t.Errorf("got %q, want the stored key", key)
		}
		if _, err := st.ConnectionCredential(ctx, 9999); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing id: got %v, want ErrNotFound", err)
		}
	})

	t.Run("base url is validated", func(t *testing.T) {
		_, err := st.CreateConnection(ctx, ConnectionInput{Name: "bad", Type: "ollama", BaseURL: "not a url"})
		if err == nil {
			t.Fatal("expected error for malformed base url")
		}
	})

	t.Run("at most one active", func(t *testing.T) {
		a, b, c := create("a"), create("b"), create("c")

		if err := st.SetActiveConnection(ctx, b.ID); err != nil {
			t.Fatalf("activate b: %v", err)
		}
		if err := st.SetActiveConnection(ctx, c.ID); err != nil {
			t.Fatalf("activate c: %v", err)
		}

		active, err := st.GetActiveConnection(ctx)
		if err != nil {
			t.Fatalf("get active: %v", err)
		}
		if active == nil || active.ID != c.ID {
			t.Fatalf("expected c active, got %+v", active)
		}

		all, err := st.ListConnections(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		activeCount := 0
		for _, conn := range all {
			if conn.IsActive {
				activeCount++
			}
		}
		if activeCount != 1 {
			t.Errorf("got %d active connections, want 1", activeCount)
		}

		if err := st.SetActiveConnection(ctx, 9999); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing id: got %v, want ErrNotFound", err)
		}
		// A failed activation must not disturb the current active row.
		active, _ = st.GetActiveConnection(ctx)
		if active == nil || active.ID != c.ID {
			t.Errorf("failed activation changed active row: %+v", active)
		}
		_ = a
	})

	t.Run("partial patch", func(t *testing.T) {
		conn := create("patch-me")

		name := "patched"
		updated, err := st.UpdateConnection(ctx, conn.ID, ConnectionPatch{Name: &name})
		if err != nil {
			t.Fatalf("update: %v", err)
		}
		if updated.Name != "patched" {
			t.Errorf("got name %q", updated.Name)
		}
		if updated.Type != conn.Type || updated.BaseURL != conn.BaseURL {
			t.Errorf("unpatched fields changed: %+v", updated)
		}

		key := "sk-new"
		if _, err := st.UpdateConnection(ctx, conn.ID, ConnectionPatch{APIKey: &key}); err != nil {
			t.Fatalf("patch key: %v", err)
		}
		got, err := st.ConnectionCredential(ctx, conn.ID)
		if err != nil || got != "sk-new" {
			t.Errorf("credential after patch: %q, %v", got, err)
		}

		if _, err := st.UpdateConnection(ctx, 9999, ConnectionPatch{Name: &name}); !errors.Is(err, ErrNotFound) {
			t.Errorf("missing id: got %v, want ErrNotFound", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		conn := create("doomed")
		deleted, err := st.DeleteConnection(ctx, conn.ID)
		if err != nil || !deleted {
			t.Fatalf("delete: %v deleted=%v", err, deleted)
		}
		got, err := st.GetConnection(ctx, conn.ID)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil after delete, got %+v", got)
		}
		deleted, _ = st.DeleteConnection(ctx, conn.ID)
		if deleted {
			t.Error("repeat delete must report false")
		}
	})
}
