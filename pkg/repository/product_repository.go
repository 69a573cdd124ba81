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
	"github.com/jinford/gift-rec/pkg/models"
)

// SearchFilter はベクトル検索の絞り込み条件
type SearchFilter struct {
	Threshold float64
	Limit     int
	Category  *string
	PriceMin  *float64
	PriceMax  *float64
}

// ProductRepository は商品テーブルとそのEmbeddingの永続化アダプターです
// 近似最近傍検索（HNSW）とキーワード・ベクトルのハイブリッド検索を提供します
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository は新しいProductRepositoryを作成します
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// FindSimilar はクエリベクトルに近い商品を検索します
// カテゴリ・価格帯のフィルタは指定された組み合わせのみ条件に加えます
func (r *ProductRepository) FindSimilar(ctx context.Context, vector []float32, filter SearchFilter) ([]*models.SearchResult, error) {
	query := `
		SELECT id, title, description, category, price, 1 - (embedding <=> $1) AS score
		FROM products
		WHERE embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) >= $2`
	args := []any{pgvector.NewVector(vector), filter.Threshold}

	if filter.Category != nil {
		args = append(args, *filter.Category)
		query += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if filter.PriceMin != nil {
		args = append(args, *filter.PriceMin)
		query += fmt.Sprintf(" AND price >= $%d", len(args))
	}
	if filter.PriceMax != nil {
		args = append(args, *filter.PriceMax)
		query += fmt.Sprintf(" AND price <= $%d", len(args))
	}

	args = append(args, filter.Limit)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: similarity search: %v", ErrStorage, err)
	}
	defer rows.Close()

	return scanSearchResults(rows)
}

// HybridSearch はキーワード関連度とベクトル類似度を
// それぞれの重みでスケールして合成したスコアで検索します
// 重みは正規化しない独立したスケール係数です
func (r *ProductRepository) HybridSearch(ctx context.Context, queryText string, vector []float32, keywordWeight, semanticWeight float64, limit int) ([]*models.SearchResult, error) {
	query := `
		SELECT id, title, description, category, price,
		       ts_rank(to_tsvector('simple', title || ' ' || coalesce(description, '')),
		               plainto_tsquery('simple', $1)) * $3
		     + (1 - (embedding <=> $2)) * $4 AS score
		FROM products
		WHERE embedding IS NOT NULL
		ORDER BY score DESC
		LIMIT $5`

	rows, err := r.pool.Query(ctx, query, queryText, pgvector.NewVector(vector), keywordWeight, semanticWeight, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: hybrid search: %v", ErrStorage, err)
	}
	defer rows.Close()

	return scanSearchResults(rows)
}

// ListMissingEmbeddings はEmbedding未生成の商品を取得します
func (r *ProductRepository) ListMissingEmbeddings(ctx context.Context, limit int) ([]*models.Product, error) {
	query := `
		SELECT id, title, description, category, tags, price, embedding IS NOT NULL AS has_vector, created_at, updated_at
		FROM products
		WHERE embedding IS NULL
		ORDER BY created_at
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list missing embeddings: %v", ErrStorage, err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// GetByIDs は指定したIDの商品を取得します
func (r *ProductRepository) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Product, error) {
	query := `
		SELECT id, title, description, category, tags, price, embedding IS NOT NULL AS has_vector, created_at, updated_at
		FROM products
		WHERE id = ANY($1)`

	rows, err := r.pool.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: get products by ids: %v", ErrStorage, err)
	}
	defer rows.Close()

	return scanProducts(rows)
}

// GetEmbedding は商品の保存済みベクトルをテキスト形式で取得してパースします
// ベクトルが存在しない場合は (nil, nil) を返します
func (r *ProductRepository) GetEmbedding(ctx context.Context, id uuid.UUID) ([]float32, error) {
	var text *string
	err := r.pool.QueryRow(ctx,
		`SELECT embedding::text FROM products WHERE id = $1`, id,
	).Scan(&text)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get embedding: %v", ErrStorage, err)
	}

	if text == nil {
		return nil, nil
	}

	vector, err := embedding.ParseVector(*text)
	if err != nil {
		return nil, fmt.Errorf("%w: parse stored embedding: %v", ErrStorage, err)
	}
	return vector, nil
}

// GetEmbeddingsByIDs は複数商品のベクトルをまとめて取得します
// ベクトル未生成の商品は結果に含まれません
func (r *ProductRepository) GetEmbeddingsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]float32, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, embedding::text FROM products WHERE id = ANY($1) AND embedding IS NOT NULL`, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: get embeddings by ids: %v", ErrStorage, err)
	}
	defer rows.Close()

	vectors := make(map[uuid.UUID][]float32)
	for rows.Next() {
		var id uuid.UUID
		var text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("%w: scan embedding row: %v", ErrStorage, err)
		}
		vector, err := embedding.ParseVector(text)
		if err != nil {
			return nil, fmt.Errorf("%w: parse stored embedding: %v", ErrStorage, err)
		}
		vectors[id] = vector
	}
	return vectors, rows.Err()
}

// StoreEmbedding は商品のベクトルを保存します
func (r *ProductRepository) StoreEmbedding(ctx context.Context, id uuid.UUID, vector []float32) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE products SET embedding = $2, updated_at = now() WHERE id = $1`,
		id, pgvector.NewVector(vector))
	if err != nil {
		return fmt.Errorf("%w: store embedding: %v", ErrStorage, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %s", ErrNotFound, id)
	}
	return nil
}

// SetSearchEffort は近似検索の探索パラメータ（hnsw.ef_search）を設定します
// 値が大きいほど再現率が上がり、レイテンシが増えます
func (r *ProductRepository) SetSearchEffort(ctx context.Context, ef int) error {
	if ef < 1 {
		return fmt.Errorf("search effort must be positive: %d", ef)
	}
	// SETはプレースホルダを受け付けないため整数のみ埋め込む
	_, err := r.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", ef))
	if err != nil {
		return fmt.Errorf("%w: set search effort: %v", ErrStorage, err)
	}
	return nil
}

func scanSearchResults(rows pgx.Rows) ([]*models.SearchResult, error) {
	results := make([]*models.SearchResult, 0)
	for rows.Next() {
		var sr models.SearchResult
		if err := rows.Scan(&sr.ProductID, &sr.Title, &sr.Description, &sr.Category, &sr.Price, &sr.Score); err != nil {
			return nil, fmt.Errorf("%w: scan search result: %v", ErrStorage, err)
		}
		results = append(results, &sr)
	}
	return results, rows.Err()
}

func scanProducts(rows pgx.Rows) ([]*models.Product, error) {
	products := make([]*models.Product, 0)
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Category, &p.Tags, &p.Price, &p.HasVector, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan product: %v", ErrStorage, err)
		}
		products = append(products, &p)
	}
	return products, rows.Err()
}
