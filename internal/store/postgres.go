package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/continuumhq/continuum/internal/domain"
)

// PostgresGraphStore persists graphs as JSONB documents, one row per
// conversation. Graphs written by older builds are migrated on load.
type PostgresGraphStore struct {
	db *pgxpool.Pool
}

var _ domain.GraphStore = (*PostgresGraphStore)(nil)

func NewPostgresGraphStore(db *pgxpool.Pool) *PostgresGraphStore {
	return &PostgresGraphStore{db: db}
}

// EnsureSchema creates the backing table if it does not exist.
func (s *PostgresGraphStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS commitment_graphs (
			conversation_id TEXT PRIMARY KEY,
			graph           JSONB NOT NULL,
			updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("ensure commitment_graphs schema: %w", err)
	}
	return nil
}

func (s *PostgresGraphStore) Get(ctx context.Context, conversationID string) (*domain.CommitmentGraph, error) {
	var raw []byte
	err := s.db.QueryRow(ctx,
		`SELECT graph FROM commitment_graphs WHERE conversation_id = $1`,
		conversationID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var g domain.CommitmentGraph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode graph %s: %w", conversationID, err)
	}
	return domain.MigrateGraph(&g), nil
}

func (s *PostgresGraphStore) Put(ctx context.Context, graph *domain.CommitmentGraph) error {
	raw, err := json.Marshal(graph)
	if err != nil {
		return fmt.Errorf("encode graph %s: %w", graph.ConversationID, err)
	}
	_, err = s.db.Exec(ctx,
		`INSERT INTO commitment_graphs (conversation_id, graph, updated_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (conversation_id) DO UPDATE
		 SET graph = EXCLUDED.graph, updated_at = now()`,
		graph.ConversationID, raw,
	)
	return err
}

func (s *PostgresGraphStore) Delete(ctx context.Context, conversationID string) error {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM commitment_graphs WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
