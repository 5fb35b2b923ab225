package persist

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/matchvision/player-gallery/internal/config"
	"github.com/matchvision/player-gallery/internal/gallery"
)

// PostgresStore persists the gallery to Postgres with pgvector. The full
// profile document lives in a jsonb column; the fused embedding is mirrored
// into a vector column so similarity queries can run in SQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	dim  int
	log  *zap.Logger
}

// NewPostgresStore connects a pool and runs migrations.
func NewPostgresStore(ctx context.Context, cfg *config.DatabaseConfig, dim int, log *zap.Logger) (*PostgresStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("DATABASE_URL not set")
	}
	if log == nil {
		log = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &PostgresStore{pool: pool, dim: dim, log: log}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS profiles (
			id         VARCHAR(255) PRIMARY KEY,
			name       VARCHAR(255) NOT NULL,
			embedding  vector(%d),
			data       JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.dim)
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create profiles table: %w", err)
	}
	return nil
}

// Save replaces the stored snapshot with the given profile map in one
// transaction, so readers never see a half-written gallery.
func (s *PostgresStore) Save(ctx context.Context, profiles map[string]*gallery.Profile) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM profiles"); err != nil {
		return fmt.Errorf("failed to clear profiles: %w", err)
	}

	for id, p := range profiles {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal profile %s: %w", id, err)
		}
		var vec any
		if len(p.Embedding) == s.dim {
			vec = pgvector.NewVector(p.Embedding)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO profiles (id, name, embedding, data, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
		`, id, p.Name, vec, data)
		if err != nil {
			return fmt.Errorf("failed to insert profile %s: %w", id, err)
		}
	}

	return tx.Commit(ctx)
}

// Load reads every stored profile. A profile whose document fails to decode
// is skipped with a warning rather than failing the whole load.
func (s *PostgresStore) Load(ctx context.Context) (map[string]*gallery.Profile, error) {
	rows, err := s.pool.Query(ctx, "SELECT id, data FROM profiles")
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	profiles := make(map[string]*gallery.Profile)
	for rows.Next() {
		var id string
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		var p gallery.Profile
		if err := json.Unmarshal(data, &p); err != nil {
			s.log.Warn("skipping undecodable profile row",
				zap.String("id", id), zap.Error(err))
			continue
		}
		profiles[id] = &p
	}
	return profiles, rows.Err()
}

// SimilarProfiles returns the ids of the profiles whose fused embedding is
// closest to the query by cosine distance.
func (s *PostgresStore) SimilarProfiles(ctx context.Context, embedding []float32, limit int) ([]string, []float64, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := pgvector.NewVector(embedding)
	rows, err := s.pool.Query(ctx, `
		SELECT id, embedding <=> $1 AS distance
		FROM profiles
		WHERE embedding IS NOT NULL
		ORDER BY distance
		LIMIT $2
	`, vec, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query similar profiles: %w", err)
	}
	defer rows.Close()

	var ids []string
	var distances []float64
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			return nil, nil, fmt.Errorf("failed to scan similarity row: %w", err)
		}
		ids = append(ids, id)
		distances = append(distances, distance)
	}
	return ids, distances, rows.Err()
}

// Get fetches a single profile, ErrNotFound-equivalent via (nil, false).
func (s *PostgresStore) Get(ctx context.Context, id string) (*gallery.Profile, bool, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, "SELECT data FROM profiles WHERE id = $1", id).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch profile: %w", err)
	}
	var p gallery.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, false, fmt.Errorf("failed to decode profile %s: %w", id, err)
	}
	return &p, true, nil
}
