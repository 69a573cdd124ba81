package benchmark

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/gift-rec/pkg/embedding"
	"github.com/jinford/gift-rec/pkg/models"
	"github.com/jinford/gift-rec/pkg/repository"
	"github.com/jinford/gift-rec/pkg/search"
)

// benchSearcher はベンチマーク対象検索のスタブ
type benchSearcher struct {
	searchErr error
}

func (b *benchSearcher) FindSimilarByText(ctx context.Context, text string, opts search.Options) ([]*models.SearchResult, error) {
	if b.searchErr != nil {
		return nil, b.searchErr
	}
	return []*models.SearchResult{{ProductID: uuid.New(), Score: 0.9}}, nil
}

func (b *benchSearcher) FindSimilarToEntity(ctx context.Context, id uuid.UUID, opts search.Options) ([]*models.SearchResult, error) {
	return nil, nil
}

func (b *benchSearcher) HybridSearch(ctx context.Context, text string, vector []float32, opts search.HybridOptions) ([]*models.SearchResult, error) {
	return nil, nil
}

// benchEmbedder はEmbeddingのスタブ
type benchEmbedder struct{}

func (b *benchEmbedder) Embed(ctx context.Context, text string) (*embedding.Result, error) {
	return &embedding.Result{Vector: []float32{1, 0}, Tokens: 2}, nil
}

func (b *benchEmbedder) EmbedBatch(ctx context.Context, texts []string) (*embedding.BatchResult, error) {
	return &embedding.BatchResult{Vectors: [][]float32{{1, 0}}, TotalTokens: 2}, nil
}

// benchStore は探索パラメータごとに異なる結果を返すスタブ
type benchStore struct {
	resultsByEf map[int][]*models.SearchResult
	currentEf   int
	efHistory   []int
}

func (b *benchStore) SetSearchEffort(ctx context.Context, ef int) error {
	b.currentEf = ef
	b.efHistory = append(b.efHistory, ef)
	return nil
}

func (b *benchStore) FindSimilar(ctx context.Context, vector []float32, filter repository.SearchFilter) ([]*models.SearchResult, error) {
	return b.resultsByEf[b.currentEf], nil
}

func TestRun(t *testing.T) {
	t.Run("正常: 基本3操作の統計を返す", func(t *testing.T) {
		h := NewHarness(&benchSearcher{}, &benchEmbedder{}, nil)

		stats, err := h.Run(context.Background(), Options{Iterations: 5})
		require.NoError(t, err)
		require.Len(t, stats, 3)

		names := make([]string, 0, len(stats))
		for _, s := range stats {
			names = append(names, s.Operation)
			assert.Equal(t, 5, s.Iterations)
			assert.Zero(t, s.Errors)
			assert.GreaterOrEqual(t, s.Max, s.Min)
			assert.Greater(t, s.Throughput, 0.0)
		}
		assert.Equal(t, []string{"similarity_search", "hybrid_search", "embedding"}, names)
	})

	t.Run("正常: 商品ID指定で類似商品検索も計測する", func(t *testing.T) {
		h := NewHarness(&benchSearcher{}, &benchEmbedder{}, nil)

		stats, err := h.Run(context.Background(), Options{
			Iterations:      3,
			SampleProductID: uuid.New(),
		})
		require.NoError(t, err)
		require.Len(t, stats, 4)
		assert.Equal(t, "similar_to_entity", stats[3].Operation)
	})

	t.Run("正常: 失敗した反復はエラーとして計上する", func(t *testing.T) {
		h := NewHarness(&benchSearcher{searchErr: errors.New("db down")}, &benchEmbedder{}, nil)

		stats, err := h.Run(context.Background(), Options{Iterations: 4})
		require.NoError(t, err)
		assert.Equal(t, 4, stats[0].Errors)
	})
}

func TestSweepSearchEffort(t *testing.T) {
	truthA := uuid.New()
	truthB := uuid.New()

	store := &benchStore{resultsByEf: map[int][]*models.SearchResult{
		groundTruthEffort: {
			{ProductID: truthA, Score: 0.9},
			{ProductID: truthB, Score: 0.8},
		},
		20: {
			{ProductID: truthA, Score: 0.9},
		},
		320: {
			{ProductID: truthA, Score: 0.9},
			{ProductID: truthB, Score: 0.8},
		},
	}}

	h := NewHarness(&benchSearcher{}, &benchEmbedder{}, store)

	points, err := h.SweepSearchEffort(context.Background(), []float32{1, 0}, []int{20, 320}, 2, 10)
	require.NoError(t, err)
	require.Len(t, points, 2)

	// グラウンドトゥルース取得が最初に行われる
	assert.Equal(t, groundTruthEffort, store.efHistory[0])

	// ef=20は正解2件中1件ヒットで再現率0.5
	assert.Equal(t, 20, points[0].Effort)
	assert.InDelta(t, 0.5, points[0].Recall, 1e-9)

	assert.Equal(t, 320, points[1].Effort)
	assert.InDelta(t, 1.0, points[1].Recall, 1e-9)
}

func TestSweepSearchEffort_NoStore(t *testing.T) {
	h := NewHarness(&benchSearcher{}, &benchEmbedder{}, nil)
	_, err := h.SweepSearchEffort(context.Background(), []float32{1, 0}, []int{20}, 1, 10)
	assert.Error(t, err)
}

func TestPercentile(t *testing.T) {
	sorted := make([]time.Duration, 10)
	for i := range sorted {
		sorted[i] = time.Duration(i+1) * time.Millisecond
	}

	tests := []struct {
		name string
		q    float64
		want time.Duration
	}{
		{name: "正常: p50", q: 0.50, want: 6 * time.Millisecond},
		{name: "正常: p95", q: 0.95, want: 10 * time.Millisecond},
		{name: "正常: p99", q: 0.99, want: 10 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, percentile(sorted, tt.q))
		})
	}

	t.Run("正常: 空のスライスは0", func(t *testing.T) {
		assert.Equal(t, time.Duration(0), percentile(nil, 0.5))
	})
}

func TestRecommendations(t *testing.T) {
	tests := []struct {
		name    string
		stats   []*Stats
		points  []*EffortPoint
		contain string
	}{
		{
			name:    "正常: p95超過で警告",
			stats:   []*Stats{{Operation: "similarity_search", P95: time.Second, Throughput: 10}},
			contain: "p95レイテンシ",
		},
		{
			name:    "正常: 低スループットで警告",
			stats:   []*Stats{{Operation: "similarity_search", P95: time.Millisecond, Throughput: 1.0}},
			contain: "スループット",
		},
		{
			name:    "正常: エラーありで警告",
			stats:   []*Stats{{Operation: "embedding", P95: time.Millisecond, Throughput: 10, Errors: 2}},
			contain: "失敗",
		},
		{
			name:    "正常: 再現率不足で警告",
			points:  []*EffortPoint{{Effort: 20, Recall: 0.7}},
			contain: "再現率",
		},
		{
			name:    "正常: すべて目標範囲内",
			stats:   []*Stats{{Operation: "similarity_search", P95: time.Millisecond, Throughput: 100}},
			points:  []*EffortPoint{{Effort: 80, Recall: 0.95}},
			contain: "目標範囲内",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			advice := Recommendations(tt.stats, tt.points)
			require.NotEmpty(t, advice)

			found := false
			for _, line := range advice {
				if strings.Contains(line, tt.contain) {
					found = true
				}
			}
			assert.True(t, found, "advice %v should contain %q", advice, tt.contain)
		})
	}
}
