package search

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/jinford/gift-rec/pkg/embedding"
	"github.com/jinford/gift-rec/pkg/models"
	"github.com/jinford/gift-rec/pkg/repository"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 50

	// selfMatchOverfetch はFindSimilarToEntityで自分自身のヒットを
	// 許容するための追加取得件数（チューニング可能）
	selfMatchOverfetch = 1
)

// Options はベクトル検索のオプション
type Options struct {
	Threshold float64
	Count     int
	Category  *string
	PriceMin  *float64
	PriceMax  *float64
}

// HybridOptions はハイブリッド検索のオプション
// 2つの重みは合計1である必要はなく、独立したスケール係数として扱います
type HybridOptions struct {
	KeywordWeight  float64
	SemanticWeight float64
	Count          int
}

// Repository は検索コアが必要とするデータストア操作
type Repository interface {
	FindSimilar(ctx context.Context, vector []float32, filter repository.SearchFilter) ([]*models.SearchResult, error)
	HybridSearch(ctx context.Context, queryText string, vector []float32, keywordWeight, semanticWeight float64, limit int) ([]*models.SearchResult, error)
	GetEmbedding(ctx context.Context, id uuid.UUID) ([]float32, error)
}

// ProfileReader はユーザー嗜好ベクトルの読み出し
type ProfileReader interface {
	GetVector(ctx context.Context, userID uuid.UUID) ([]float32, error)
}

// Embedder はテキストのEmbedding生成
type Embedder interface {
	Embed(ctx context.Context, text string) (*embedding.Result, error)
	Dimension() int
}

// Searcher はベクトル検索コアです
// 近似最近傍検索・ハイブリッド検索・パーソナライズ検索を提供します
type Searcher struct {
	repo     Repository
	profiles ProfileReader
	embedder Embedder

	// defaultThreshold は通常検索の類似度しきい値
	defaultThreshold float64

	// personalizationOffset はパーソナライズ検索でしきい値から引く値
	// パーソナライズは意図的に広めに候補を取る
	personalizationOffset float64

	logger *slog.Logger
}

// NewSearcher は新しいSearcherを作成します
func NewSearcher(repo Repository, profiles ProfileReader, embedder Embedder, defaultThreshold, personalizationOffset float64) *Searcher {
	if repo == nil {
		panic("search.NewSearcher: repo is nil")
	}
	if embedder == nil {
		panic("search.NewSearcher: embedder is nil")
	}

	return &Searcher{
		repo:                  repo,
		profiles:              profiles,
		embedder:              embedder,
		defaultThreshold:      defaultThreshold,
		personalizationOffset: personalizationOffset,
		logger:                slog.Default(),
	}
}

// SetLogger はカスタムロガーを設定します（nil の場合は無視）
func (s *Searcher) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// FindSimilar はクエリベクトルに近い商品を検索します
// ベクトルの検証に失敗した場合はクエリを発行せずにErrInvalidEmbeddingを返します
func (s *Searcher) FindSimilar(ctx context.Context, vector []float32, opts Options) ([]*models.SearchResult, error) {
	if !embedding.Validate(vector, s.embedder.Dimension()) {
		return nil, fmt.Errorf("%w: expected %d finite dimensions", embedding.ErrInvalidEmbedding, s.embedder.Dimension())
	}

	return s.repo.FindSimilar(ctx, vector, repository.SearchFilter{
		Threshold: opts.Threshold,
		Limit:     normalizeLimit(opts.Count),
		Category:  opts.Category,
		PriceMin:  opts.PriceMin,
		PriceMax:  opts.PriceMax,
	})
}

// FindSimilarByText はテキストをEmbeddingしてから類似検索します
func (s *Searcher) FindSimilarByText(ctx context.Context, text string, opts Options) ([]*models.SearchResult, error) {
	result, err := s.embedder.Embed(ctx, embedding.NormalizeQuery(text))
	if err != nil {
		return nil, err
	}
	return s.FindSimilar(ctx, result.Vector, opts)
}

// FindSimilarToEntity は指定商品に類似した商品を検索します
// 商品自身が検索結果に含まれるため1件多く取得してから除外します
// ベクトル未生成の商品はエラーではなく空の結果を返します
func (s *Searcher) FindSimilarToEntity(ctx context.Context, id uuid.UUID, opts Options) ([]*models.SearchResult, error) {
	vector, err := s.repo.GetEmbedding(ctx, id)
	if err != nil {
		return nil, err
	}
	if vector == nil {
		return []*models.SearchResult{}, nil
	}

	if !embedding.Validate(vector, s.embedder.Dimension()) {
		return nil, fmt.Errorf("%w: expected %d finite dimensions", embedding.ErrInvalidEmbedding, s.embedder.Dimension())
	}

	// 正規化はここで済ませ、自己ヒット分の追加取得が上限で丸められないよう
	// リポジトリを直接呼ぶ（count == maxSearchLimitでも取得はcount+1件）
	count := normalizeLimit(opts.Count)
	results, err := s.repo.FindSimilar(ctx, vector, repository.SearchFilter{
		Threshold: opts.Threshold,
		Limit:     count + selfMatchOverfetch,
		Category:  opts.Category,
		PriceMin:  opts.PriceMin,
		PriceMax:  opts.PriceMax,
	})
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.SearchResult, 0, count)
	for _, r := range results {
		if r.ProductID == id {
			continue
		}
		filtered = append(filtered, r)
		if len(filtered) >= count {
			break
		}
	}
	return filtered, nil
}

// HybridSearch はキーワード関連度とベクトル類似度を合成して検索します
func (s *Searcher) HybridSearch(ctx context.Context, text string, vector []float32, opts HybridOptions) ([]*models.SearchResult, error) {
	if !embedding.Validate(vector, s.embedder.Dimension()) {
		return nil, fmt.Errorf("%w: expected %d finite dimensions", embedding.ErrInvalidEmbedding, s.embedder.Dimension())
	}

	return s.repo.HybridSearch(ctx, text, vector, opts.KeywordWeight, opts.SemanticWeight, normalizeLimit(opts.Count))
}

// PersonalizedForUser はユーザーの嗜好ベクトルに基づく推薦候補を検索します
// 嗜好ベクトルが存在しない場合はエラーではなく空の結果を返します
func (s *Searcher) PersonalizedForUser(ctx context.Context, userID uuid.UUID, count int) ([]*models.SearchResult, error) {
	if s.profiles == nil {
		return []*models.SearchResult{}, nil
	}

	vector, err := s.profiles.GetVector(ctx, userID)
	if err != nil {
		return nil, err
	}
	if vector == nil {
		return []*models.SearchResult{}, nil
	}

	threshold := s.defaultThreshold - s.personalizationOffset
	if threshold < 0 {
		threshold = 0
	}

	return s.FindSimilar(ctx, vector, Options{
		Threshold: threshold,
		Count:     count,
	})
}

func normalizeLimit(count int) int {
	if count <= 0 {
		return defaultSearchLimit
	}
	if count > maxSearchLimit {
		return maxSearchLimit
	}
	return count
}
