// Package store persists run records and cross-run plan/argument memories in
// Postgres. Similarity search uses pgvector cosine distance.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/sentrakit/agentcore/config"
	"github.com/sentrakit/agentcore/internal/registry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	DB       *sql.DB
	embedder registry.Embedder
	memCfg   config.MemoryConfig
	logger   *log.Logger
}

// New opens the database, runs pending migrations and returns the store.
func New(ctx context.Context, cfg config.PostgresConfig, memCfg config.MemoryConfig, embedder registry.Embedder) (*Store, error) {
	dsn := cfg.DSN()
	if dsn == "" {
		return nil, fmt.Errorf("postgres is not configured")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(dsn); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{
		DB:       db,
		embedder: embedder,
		memCfg:   memCfg,
		logger:   log.New(log.Writer(), "[STORE] ", log.LstdFlags),
	}, nil
}

// Migrate applies the embedded migrations.
func Migrate(dsn string) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	defer m.Close()
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func encodeVectorLiteral(vec []float32) (string, error) {
	if len(vec) == 0 {
		return "", fmt.Errorf("vector must not be empty")
	}
	var builder strings.Builder
	builder.WriteByte('[')
	for i, f := range vec {
		if i > 0 {
			builder.WriteByte(',')
		}
		builder.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	builder.WriteByte(']')
	return builder.String(), nil
}

func (s *Store) embedOne(ctx context.Context, text string) (string, error) {
	if s.embedder == nil {
		return "", fmt.Errorf("no embedder configured")
	}
	vecs, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("embed: %w", err)
	}
	if len(vecs) == 0 {
		return "", fmt.Errorf("embedder returned no vectors")
	}
	return encodeVectorLiteral(vecs[0])
}
