package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/jinford/gift-rec/pkg/embedding"
)

// UserVector はユーザーIDと嗜好ベクトルの組
type UserVector struct {
	UserID uuid.UUID
	Vector []float32
}

// ProfileRepository はユーザー嗜好ベクトルの永続化アダプターです
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository は新しいProfileRepositoryを作成します
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// GetVector はユーザーの嗜好ベクトルを取得します
// プロファイル未作成またはベクトル未計算の場合は (nil, nil) を返します
func (r *ProfileRepository) GetVector(ctx context.Context, userID uuid.UUID) ([]float32, error) {
	var text *string
	err := r.pool.QueryRow(ctx,
		`SELECT embedding::text FROM user_profiles WHERE user_id = $1`, userID,
	).Scan(&text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get profile vector: %v", ErrStorage, err)
	}

	if text == nil {
		return nil, nil
	}

	vector, err := embedding.ParseVector(*text)
	if err != nil {
		return nil, fmt.Errorf("%w: parse profile vector: %v", ErrStorage, err)
	}
	return vector, nil
}

// UpsertVector はユーザーの嗜好ベクトルを保存します
// プロファイルは初回の書き込みで遅延作成されます
func (r *ProfileRepository) UpsertVector(ctx context.Context, userID uuid.UUID, vector []float32) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO user_profiles (user_id, embedding, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id)
		DO UPDATE SET embedding = EXCLUDED.embedding, updated_at = now()`,
		userID, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("%w: upsert profile vector: %v", ErrStorage, err)
	}
	return nil
}

// ListOtherVectors は指定ユーザー以外の嗜好ベクトルを取得します
// 類似ユーザー探索に使用します
func (r *ProfileRepository) ListOtherVectors(ctx context.Context, excludeUserID uuid.UUID, limit int) ([]*UserVector, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, embedding::text
		FROM user_profiles
		WHERE user_id <> $1 AND embedding IS NOT NULL
		LIMIT $2`,
		excludeUserID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list profile vectors: %v", ErrStorage, err)
	}
	defer rows.Close()

	vectors := make([]*UserVector, 0)
	for rows.Next() {
		var uv UserVector
		var text string
		if err := rows.Scan(&uv.UserID, &text); err != nil {
			return nil, fmt.Errorf("%w: scan profile vector: %v", ErrStorage, err)
		}
		vec, err := embedding.ParseVector(text)
		if err != nil {
			return nil, fmt.Errorf("%w: parse profile vector: %v", ErrStorage, err)
		}
		uv.Vector = vec
		vectors = append(vectors, &uv)
	}
	return vectors, rows.Err()
}
