package search

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/gift-rec/pkg/embedding"
	"github.com/jinford/gift-rec/pkg/models"
	"github.com/jinford/gift-rec/pkg/repository"
)

// fakeRepo は検索コアテスト用のデータストア
type fakeRepo struct {
	results    []*models.SearchResult
	embeddings map[uuid.UUID][]float32

	lastFilter   repository.SearchFilter
	lastKeyword  float64
	lastSemantic float64
	lastLimit    int
	findCalls    int
}

func (f *fakeRepo) FindSimilar(ctx context.Context, vector []float32, filter repository.SearchFilter) ([]*models.SearchResult, error) {
	f.findCalls++
	f.lastFilter = filter
	return f.results, nil
}

func (f *fakeRepo) HybridSearch(ctx context.Context, queryText string, vector []float32, keywordWeight, semanticWeight float64, limit int) ([]*models.SearchResult, error) {
	f.lastKeyword = keywordWeight
	f.lastSemantic = semanticWeight
	f.lastLimit = limit
	return f.results, nil
}

func (f *fakeRepo) GetEmbedding(ctx context.Context, id uuid.UUID) ([]float32, error) {
	return f.embeddings[id], nil
}

// fakeProfiles はユーザー嗜好ベクトルのスタブ
type fakeProfiles struct {
	vectors map[uuid.UUID][]float32
}

func (f *fakeProfiles) GetVector(ctx context.Context, userID uuid.UUID) ([]float32, error) {
	return f.vectors[userID], nil
}

// fakeEmbedder は固定ベクトルを返すEmbedder
type fakeEmbedder struct {
	vector   []float32
	lastText string
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) (*embedding.Result, error) {
	f.lastText = text
	return &embedding.Result{Vector: f.vector, Tokens: 1}, nil
}

func (f *fakeEmbedder) Dimension() int { return len(f.vector) }

func newTestSearcher(repo *fakeRepo, profiles ProfileReader, embedder *fakeEmbedder) *Searcher {
	return NewSearcher(repo, profiles, embedder, 0.5, 0.2)
}

func TestFindSimilar(t *testing.T) {
	t.Run("エラー処理: 不正なベクトルはクエリを発行しない", func(t *testing.T) {
		repo := &fakeRepo{}
		s := newTestSearcher(repo, nil, &fakeEmbedder{vector: []float32{1, 0, 0}})

		_, err := s.FindSimilar(context.Background(), []float32{1, 0}, Options{})
		assert.ErrorIs(t, err, embedding.ErrInvalidEmbedding)
		assert.Zero(t, repo.findCalls)
	})

	t.Run("正常: 件数の正規化", func(t *testing.T) {
		tests := []struct {
			name  string
			count int
			want  int
		}{
			{name: "0はデフォルト値", count: 0, want: defaultSearchLimit},
			{name: "上限超過は上限に丸める", count: 100, want: maxSearchLimit},
			{name: "範囲内はそのまま", count: 7, want: 7},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				repo := &fakeRepo{}
				s := newTestSearcher(repo, nil, &fakeEmbedder{vector: []float32{1, 0}})

				_, err := s.FindSimilar(context.Background(), []float32{1, 0}, Options{Count: tt.count})
				require.NoError(t, err)
				assert.Equal(t, tt.want, repo.lastFilter.Limit)
			})
		}
	})
}

func TestFindSimilarByText(t *testing.T) {
	repo := &fakeRepo{}
	embedder := &fakeEmbedder{vector: []float32{1, 0}}
	s := newTestSearcher(repo, nil, embedder)

	_, err := s.FindSimilarByText(context.Background(), "  Mother's Day  ", Options{Threshold: 0.6})
	require.NoError(t, err)

	// クエリは正規化してからEmbeddingする
	assert.Equal(t, "mother's day", embedder.lastText)
	assert.Equal(t, 0.6, repo.lastFilter.Threshold)
}

func TestFindSimilarToEntity(t *testing.T) {
	productID := uuid.New()
	otherID := uuid.New()

	t.Run("正常: 自分自身を結果から除外する", func(t *testing.T) {
		repo := &fakeRepo{
			embeddings: map[uuid.UUID][]float32{productID: {1, 0}},
			results: []*models.SearchResult{
				{ProductID: productID, Score: 1.0},
				{ProductID: otherID, Score: 0.9},
			},
		}
		s := newTestSearcher(repo, nil, &fakeEmbedder{vector: []float32{1, 0}})

		results, err := s.FindSimilarToEntity(context.Background(), productID, Options{Count: 5})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, otherID, results[0].ProductID)

		// 自己ヒットの分だけ1件多く取得している
		assert.Equal(t, 5+selfMatchOverfetch, repo.lastFilter.Limit)
	})

	t.Run("正常: ベクトル未生成の商品は空の結果", func(t *testing.T) {
		repo := &fakeRepo{embeddings: map[uuid.UUID][]float32{}}
		s := newTestSearcher(repo, nil, &fakeEmbedder{vector: []float32{1, 0}})

		results, err := s.FindSimilarToEntity(context.Background(), productID, Options{})
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.Zero(t, repo.findCalls)
	})

	t.Run("正常: 上限件数の指定でも追加取得分は丸められない", func(t *testing.T) {
		results := []*models.SearchResult{{ProductID: productID, Score: 1.0}}
		for i := 0; i < maxSearchLimit; i++ {
			results = append(results, &models.SearchResult{ProductID: uuid.New(), Score: 0.9})
		}
		repo := &fakeRepo{
			embeddings: map[uuid.UUID][]float32{productID: {1, 0}},
			results:    results,
		}
		s := newTestSearcher(repo, nil, &fakeEmbedder{vector: []float32{1, 0}})

		got, err := s.FindSimilarToEntity(context.Background(), productID, Options{Count: maxSearchLimit})
		require.NoError(t, err)
		assert.Len(t, got, maxSearchLimit)
		assert.Equal(t, maxSearchLimit+selfMatchOverfetch, repo.lastFilter.Limit)
	})

	t.Run("正常: 指定件数に切り詰める", func(t *testing.T) {
		repo := &fakeRepo{
			embeddings: map[uuid.UUID][]float32{productID: {1, 0}},
			results: []*models.SearchResult{
				{ProductID: uuid.New(), Score: 0.9},
				{ProductID: uuid.New(), Score: 0.8},
				{ProductID: uuid.New(), Score: 0.7},
			},
		}
		s := newTestSearcher(repo, nil, &fakeEmbedder{vector: []float32{1, 0}})

		results, err := s.FindSimilarToEntity(context.Background(), productID, Options{Count: 2})
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})
}

func TestHybridSearch(t *testing.T) {
	repo := &fakeRepo{}
	s := newTestSearcher(repo, nil, &fakeEmbedder{vector: []float32{1, 0}})

	_, err := s.HybridSearch(context.Background(), "query", []float32{1, 0}, HybridOptions{
		KeywordWeight:  0.3,
		SemanticWeight: 0.7,
		Count:          15,
	})
	require.NoError(t, err)
	assert.Equal(t, 0.3, repo.lastKeyword)
	assert.Equal(t, 0.7, repo.lastSemantic)
	assert.Equal(t, 15, repo.lastLimit)
}

func TestPersonalizedForUser(t *testing.T) {
	userID := uuid.New()

	t.Run("正常: 嗜好ベクトルが無ければ空の結果", func(t *testing.T) {
		repo := &fakeRepo{}
		s := newTestSearcher(repo, &fakeProfiles{vectors: map[uuid.UUID][]float32{}}, &fakeEmbedder{vector: []float32{1, 0}})

		results, err := s.PersonalizedForUser(context.Background(), userID, 10)
		require.NoError(t, err)
		assert.Empty(t, results)
		assert.Zero(t, repo.findCalls)
	})

	t.Run("正常: しきい値をオフセット分下げて検索する", func(t *testing.T) {
		repo := &fakeRepo{}
		profiles := &fakeProfiles{vectors: map[uuid.UUID][]float32{userID: {1, 0}}}
		s := newTestSearcher(repo, profiles, &fakeEmbedder{vector: []float32{1, 0}})

		_, err := s.PersonalizedForUser(context.Background(), userID, 10)
		require.NoError(t, err)
		assert.InDelta(t, 0.3, repo.lastFilter.Threshold, 1e-9)
	})

	t.Run("正常: しきい値は0未満にならない", func(t *testing.T) {
		repo := &fakeRepo{}
		profiles := &fakeProfiles{vectors: map[uuid.UUID][]float32{userID: {1, 0}}}
		s := NewSearcher(repo, profiles, &fakeEmbedder{vector: []float32{1, 0}}, 0.1, 0.2)

		_, err := s.PersonalizedForUser(context.Background(), userID, 10)
		require.NoError(t, err)
		assert.Equal(t, 0.0, repo.lastFilter.Threshold)
	})

	t.Run("正常: プロファイルリーダー未設定でも動作する", func(t *testing.T) {
		s := newTestSearcher(&fakeRepo{}, nil, &fakeEmbedder{vector: []float32{1, 0}})
		results, err := s.PersonalizedForUser(context.Background(), userID, 10)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}
