package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jinford/gift-rec/pkg/models"
)

// InteractionRepository は行動イベントログの永続化アダプターです
// イベントは追記専用で、更新・削除は行いません
type InteractionRepository struct {
	pool *pgxpool.Pool
}

// NewInteractionRepository は新しいInteractionRepositoryを作成します
func NewInteractionRepository(pool *pgxpool.Pool) *InteractionRepository {
	return &InteractionRepository{pool: pool}
}

// Insert は行動イベントを追記します
func (r *InteractionRepository) Insert(ctx context.Context, interaction *models.Interaction) error {
	if interaction.ID == uuid.Nil {
		interaction.ID = uuid.New()
	}
	if interaction.CreatedAt.IsZero() {
		interaction.CreatedAt = time.Now()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO interactions (id, user_id, product_id, query, type, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		interaction.ID,
		interaction.UserID,
		interaction.ProductID,
		interaction.Query,
		string(interaction.Type),
		interaction.Metadata,
		interaction.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: insert interaction: %v", ErrStorage, err)
	}
	return nil
}

// ListRecentByUser は指定日時以降のユーザー行動を新しい順に取得します
func (r *InteractionRepository) ListRecentByUser(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]*models.Interaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, product_id, query, type, metadata, created_at
		FROM interactions
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3`,
		userID, since, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list interactions: %v", ErrStorage, err)
	}
	defer rows.Close()

	interactions := make([]*models.Interaction, 0)
	for rows.Next() {
		var in models.Interaction
		var typeStr string
		if err := rows.Scan(&in.ID, &in.UserID, &in.ProductID, &in.Query, &typeStr, &in.Metadata, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan interaction: %v", ErrStorage, err)
		}
		in.Type = models.InteractionType(typeStr)
		interactions = append(interactions, &in)
	}
	return interactions, rows.Err()
}
