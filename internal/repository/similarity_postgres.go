package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"story-engine/internal/consistency"
)

const (
	upsertPassageQuery = `
        INSERT INTO story_passages (id, collection_id, document, metadata, created_at)
        VALUES ($1, $2, $3, $4, NOW())
        ON CONFLICT (id) DO UPDATE
        SET document = EXCLUDED.document, metadata = EXCLUDED.metadata
    `
	// Расстояние 1 - similarity() из pg_trgm: 0 - совпадение, 1 - ничего общего.
	queryPassagesQuery = `
        SELECT document, metadata, (1 - similarity(document, $2))::float8 AS distance
        FROM story_passages
        WHERE collection_id = $1 AND metadata @> $3::jsonb
        ORDER BY distance ASC, created_at DESC
        LIMIT $4
    `
	deleteCollectionQuery = `DELETE FROM story_passages WHERE collection_id = $1`
)

type passageRow struct {
	Document string         `db:"document"`
	Metadata map[string]any `db:"metadata"`
	Distance float64        `db:"distance"`
}

// PostgresSimilarityIndex - индекс фрагментов на триграммах pg_trgm.
type PostgresSimilarityIndex struct {
	db     DBTX
	logger *zap.Logger
}

var _ consistency.SimilarityIndex = (*PostgresSimilarityIndex)(nil)

// NewPostgresSimilarityIndex создаёт индекс.
func NewPostgresSimilarityIndex(db DBTX, logger *zap.Logger) *PostgresSimilarityIndex {
	return &PostgresSimilarityIndex{
		db:     db,
		logger: logger.Named("SimilarityIndex"),
	}
}

// Upsert добавляет фрагменты одним батчем.
func (r *PostgresSimilarityIndex) Upsert(ctx context.Context, collectionID string, passages []consistency.Passage) error {
	if len(passages) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, p := range passages {
		meta, err := json.Marshal(p.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode passage metadata: %w", err)
		}
		batch.Queue(upsertPassageQuery, p.ID, collectionID, p.Text, meta)
	}
	results := r.db.SendBatch(ctx, batch)
	defer results.Close()
	for range passages {
		if _, err := results.Exec(); err != nil {
			r.logger.Error("Error upserting passage", zap.String("collection_id", collectionID), zap.Error(err))
			return fmt.Errorf("failed to upsert passages into %s: %w", collectionID, err)
		}
	}
	return nil
}

// Query возвращает до k ближайших фрагментов коллекции, метаданные которых содержат filter.
func (r *PostgresSimilarityIndex) Query(ctx context.Context, collectionID, text string, k int, filter map[string]any) ([]consistency.Match, error) {
	if k <= 0 {
		k = consistency.DefaultResultsPerQuery
	}
	if filter == nil {
		filter = map[string]any{}
	}
	rawFilter, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata filter: %w", err)
	}
	var rows []passageRow
	if err := pgxscan.Select(ctx, r.db, &rows, queryPassagesQuery, collectionID, text, string(rawFilter), k); err != nil {
		return nil, fmt.Errorf("failed to query passages in %s: %w", collectionID, err)
	}
	matches := make([]consistency.Match, 0, len(rows))
	for _, row := range rows {
		matches = append(matches, consistency.Match{
			Document: row.Document,
			Metadata: row.Metadata,
			Distance: row.Distance,
		})
	}
	return matches, nil
}

// DeleteCollection удаляет все фрагменты коллекции.
func (r *PostgresSimilarityIndex) DeleteCollection(ctx context.Context, collectionID string) error {
	if _, err := r.db.Exec(ctx, deleteCollectionQuery, collectionID); err != nil {
		return fmt.Errorf("failed to delete collection %s: %w", collectionID, err)
	}
	return nil
}
