package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Connection is a persisted provider configuration. The API key is held
// encrypted in the database and is never part of a read projection; use
// ConnectionCredential to obtain it for adapter construction.
type Connection struct {
	ID           int64             `json:"id"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	BaseURL      string            `json:"base_url"`
	DefaultModel string            `json:"default_model"`
	Metadata     map[string]string `json:"metadata"`
	IsActive     bool              `json:"is_active"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ConnectionInput carries the writable connection fields, including the
// write-only API key.
type ConnectionInput struct {
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	BaseURL      string            `json:"base_url"`
	APIKey       string            `json:"api_key"`
	DefaultModel string            `json:"default_model"`
	Metadata     map[string]string `json:"metadata"`
}

// ConnectionPatch is a partial update; nil fields keep their prior value.
// APIKey only overwrites when provided.
type ConnectionPatch struct {
	Name         *string            `json:"name"`
	Type         *string            `json:"type"`
	BaseURL      *string            `json:"base_url"`
	APIKey       *string            `json:"api_key"`
	DefaultModel *string            `json:"default_model"`
	Metadata     *map[string]string `json:"metadata"`
}

// encryptKey returns the 32-byte AES key from the LOOM_ENCRYPT_KEY env var.
func encryptKey() ([]byte, error) {
	keyHex := os.Getenv("LOOM_ENCRYPT_KEY")
	if keyHex == "" {
		return nil, fmt.Errorf("LOOM_ENCRYPT_KEY not set")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode LOOM_ENCRYPT_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("LOOM_ENCRYPT_KEY must be 64 hex chars (32 bytes), got %d bytes", len(key))
	}
	return key, nil
}

// encrypt uses AES-256-GCM to encrypt plaintext.
func encrypt(plaintext string) ([]byte, error) {
	key, err := encryptKey()
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, []byte(plaintext), nil), nil
}

// decrypt uses AES-256-GCM to decrypt ciphertext.
func decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) == 0 {
		return "", nil
	}
	key, err := encryptKey()
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

// validateBaseURL checks the base URL shape. Type-tag validation lives in
// the connection service so the store stays free of provider imports.
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid base_url %q: scheme and host required", raw)
	}
	return nil
}

const connectionCols = `id, name, type, base_url, default_model, metadata, is_active, created_at, updated_at`

func scanConnection(row pgx.Row) (*Connection, error) {
	var c Connection
	var metaJSON []byte
	err := row.Scan(&c.ID, &c.Name, &c.Type, &c.BaseURL, &c.DefaultModel,
		&metaJSON, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal(metaJSON, &c.Metadata)
	return &c, nil
}

// CreateConnection inserts a new connection with an encrypted API key.
func (s *Store) CreateConnection(ctx context.Context, in ConnectionInput) (*Connection, error) {
	if err := validateBaseURL(in.BaseURL); err != nil {
		return nil, storageErr("create connection", err.Error(), nil)
	}
	encKey, err := encrypt(in.APIKey)
	if err != nil {
		return nil, storageErr("create connection", "encrypt api_key", err)
	}
	metaJSON, _ := json.Marshal(in.Metadata)

	row := s.db.QueryRow(ctx,
		`INSERT INTO connections (name, type, base_url, api_key_enc, default_model, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+connectionCols,
		in.Name, in.Type, in.BaseURL, encKey, in.DefaultModel, metaJSON,
	)
	c, err := scanConnection(row)
	if err != nil {
		return nil, storageErr("create connection", "insert failed", err)
	}
	s.logger.Info("connection created", zap.Int64("id", c.ID), zap.String("type", c.Type))
	return c, nil
}

// UpdateConnection applies a partial patch; unspecified fields keep their
// prior value and the API key only changes when the patch carries one.
func (s *Store) UpdateConnection(ctx context.Context, id int64, patch ConnectionPatch) (*Connection, error) {
	if patch.BaseURL != nil {
		if err := validateBaseURL(*patch.BaseURL); err != nil {
			return nil, storageErr("update connection", err.Error(), nil)
		}
	}

	var encKey []byte
	if patch.APIKey != nil {
		enc, err := encrypt(*patch.APIKey)
		if err != nil {
			return nil, storageErr("update connection", "encrypt api_key", err)
		}
		encKey = enc
	}
	var metaJSON []byte
	if patch.Metadata != nil {
		metaJSON, _ = json.Marshal(*patch.Metadata)
	}

	row := s.db.QueryRow(ctx,
		`UPDATE connections SET
		   name          = COALESCE($2, name),
		   type          = COALESCE($3, type),
		   base_url      = COALESCE($4, base_url),
		   api_key_enc   = COALESCE($5, api_key_enc),
		   default_model = COALESCE($6, default_model),
		   metadata      = COALESCE($7, metadata),
		   updated_at    = NOW()
		 WHERE id=$1
		 RETURNING `+connectionCols,
		id, patch.Name, patch.Type, patch.BaseURL, encKey, patch.DefaultModel, metaJSON,
	)
	c, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storageErr("update connection", "update failed", err)
	}
	return c, nil
}

// DeleteConnection removes one connection. Deleting the active connection
// leaves no connection active. Returns false when the id does not exist.
func (s *Store) DeleteConnection(ctx context.Context, id int64) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM connections WHERE id=$1`, id)
	if err != nil {
		return false, storageErr("delete connection", "delete failed", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetConnection returns one connection by id, or nil when missing.
func (s *Store) GetConnection(ctx context.Context, id int64) (*Connection, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+connectionCols+` FROM connections WHERE id=$1`, id)
	c, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get connection", "query failed", err)
	}
	return c, nil
}

// ListConnections returns all connections ordered by creation time.
func (s *Store) ListConnections(ctx context.Context) ([]*Connection, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+connectionCols+` FROM connections ORDER BY created_at`)
	if err != nil {
		return nil, storageErr("list connections", "query failed", err)
	}
	defer rows.Close()

	var connections []*Connection
	for rows.Next() {
		c, err := scanConnection(rows)
		if err != nil {
			return nil, storageErr("list connections", "scan failed", err)
		}
		connections = append(connections, c)
	}
	return connections, rows.Err()
}

// GetActiveConnection returns the single active connection, or nil when none.
func (s *Store) GetActiveConnection(ctx context.Context) (*Connection, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+connectionCols+` FROM connections WHERE is_active=true`)
	c, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get active connection", "query failed", err)
	}
	return c, nil
}

// SetActiveConnection activates one connection and deactivates all others in
// a single transaction, so two concurrent activations cannot both win.
// Returns ErrNotFound when the id does not exist.
func (s *Store) SetActiveConnection(ctx context.Context, id int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return storageErr("set active connection", "begin tx", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE connections SET is_active=false, updated_at=NOW() WHERE is_active=true`); err != nil {
		return storageErr("set active connection", "clear active", err)
	}
	tag, err := tx.Exec(ctx,
		`UPDATE connections SET is_active=true, updated_at=NOW() WHERE id=$1`, id)
	if err != nil {
		return storageErr("set active connection", "set active", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return storageErr("set active connection", "commit", err)
	}

	s.logger.Info("connection activated", zap.Int64("id", id))
	return nil
}

// ConnectionCredential returns the decrypted API key for one connection.
// It is the only read path that exposes the credential.
func (s *Store) ConnectionCredential(ctx context.Context, id int64) (string, error) {
	var encKey []byte
	err := s.db.QueryRow(ctx,
		`SELECT api_key_enc FROM connections WHERE id=$1`, id).Scan(&encKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", storageErr("connection credential", "query failed", err)
	}
	key, err := decrypt(encKey)
	if err != nil {
		return "", storageErr("connection credential", "decrypt api_key", err)
	}
	return key, nil
}
