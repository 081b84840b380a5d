package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresConfig holds connection details for PostgreSQL
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	// DSN, when set, takes precedence over the individual fields
	DSN string
}

// ConnString returns the connection string for the configuration
func (c PostgresConfig) ConnString() string {
	if c.DSN != "" {
		return c.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   c.Host + ":" + c.Port,
		Path:   "/" + c.DBName,
	}
	return u.String()
}

// PostgresCache stores the catalog embedding matrix in a pgvector table
type PostgresCache struct {
	pool   *pgxpool.Pool
	name   string
	logger *slog.Logger
}

// NewPostgresCache connects to PostgreSQL, ensures the schema exists and
// returns a cache for the named catalog.
func NewPostgresCache(ctx context.Context, config PostgresConfig, name string, logger *slog.Logger) (*PostgresCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = "default"
	}

	pool, err := pgxpool.New(ctx, config.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := InitSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresCache{pool: pool, name: name, logger: logger}, nil
}

// Close closes the database connection
func (c *PostgresCache) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

func (c *PostgresCache) Location() string {
	return "postgres:catalog_embeddings/" + c.name
}

// Load reads the matrix ordered by row position
func (c *PostgresCache) Load(ctx context.Context) ([][]float32, bool, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT position, embedding
		FROM catalog_embeddings
		WHERE cache_name = $1
		ORDER BY position`,
		c.name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to query catalog embeddings: %w", err)
	}
	defer rows.Close()

	var vectors [][]float32
	for rows.Next() {
		var position int
		var vec pgvector.Vector
		if err := rows.Scan(&position, &vec); err != nil {
			return nil, false, fmt.Errorf("failed to scan catalog embedding: %w", err)
		}
		if position != len(vectors) {
			return nil, false, fmt.Errorf("catalog embeddings have a gap at position %d", len(vectors))
		}
		vectors = append(vectors, vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to read catalog embeddings: %w", err)
	}

	if len(vectors) == 0 {
		return nil, false, nil
	}
	return vectors, true, nil
}

// Save replaces the stored matrix in a single transaction
func (c *PostgresCache) Save(ctx context.Context, vectors [][]float32) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM catalog_embeddings WHERE cache_name = $1`, c.name); err != nil {
		return fmt.Errorf("failed to clear catalog embeddings: %w", err)
	}

	batch := &pgx.Batch{}
	for i, v := range vectors {
		batch.Queue(
			`INSERT INTO catalog_embeddings (cache_name, position, embedding) VALUES ($1, $2, $3)`,
			c.name, i, pgvector.NewVector(v))
	}

	br := tx.SendBatch(ctx, batch)
	for i := range vectors {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to store catalog embedding %d: %w", i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to store catalog embeddings: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit catalog embeddings: %w", err)
	}

	c.logger.Info("stored catalog embeddings", "cache", c.name, "rows", len(vectors))
	return nil
}

// InitSchema creates the vector extension and cache table if they don't exist
func InitSchema(ctx context.Context, pool *pgxpool.Pool) error {
	var exists bool
	err := pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check for vector extension: %w", err)
	}

	if !exists {
		if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("failed to create vector extension: %w", err)
		}
	}

	_, err = pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS catalog_embeddings (
            cache_name VARCHAR(255) NOT NULL,
            position INTEGER NOT NULL,
            embedding vector NOT NULL,
            created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
            PRIMARY KEY (cache_name, position)
        );
    `)
	if err != nil {
		return fmt.Errorf("failed to create database schema: %w", err)
	}

	return nil
}
