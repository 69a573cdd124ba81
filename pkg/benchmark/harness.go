package benchmark

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/gift-rec/pkg/embedding"
	"github.com/jinford/gift-rec/pkg/models"
	"github.com/jinford/gift-rec/pkg/repository"
	"github.com/jinford/gift-rec/pkg/search"
)

const (
	// DefaultIterations は各操作の計測回数
	DefaultIterations = 20

	// groundTruthEffort は再現率計算の正解を得るための探索パラメータ
	// 十分大きな値での検索結果をグラウンドトゥルースとみなす
	groundTruthEffort = 1000
)

// SearchCore はベンチマーク対象の検索操作
type SearchCore interface {
	FindSimilarByText(ctx context.Context, text string, opts search.Options) ([]*models.SearchResult, error)
	FindSimilarToEntity(ctx context.Context, id uuid.UUID, opts search.Options) ([]*models.SearchResult, error)
	HybridSearch(ctx context.Context, text string, vector []float32, opts search.HybridOptions) ([]*models.SearchResult, error)
}

// Embedder はベンチマーク対象のEmbedding操作
type Embedder interface {
	Embed(ctx context.Context, text string) (*embedding.Result, error)
	EmbedBatch(ctx context.Context, texts []string) (*embedding.BatchResult, error)
}

// EffortStore は探索パラメータの変更と直接のベクトル検索
type EffortStore interface {
	SetSearchEffort(ctx context.Context, ef int) error
	FindSimilar(ctx context.Context, vector []float32, filter repository.SearchFilter) ([]*models.SearchResult, error)
}

// Options はベンチマーク実行のオプション
type Options struct {
	Iterations      int
	Count           int
	SampleQuery     string
	SampleProductID uuid.UUID
	BatchTexts      []string
}

// Stats は1操作の計測結果
type Stats struct {
	Operation  string
	Iterations int
	Errors     int
	Min        time.Duration
	Max        time.Duration
	P50        time.Duration
	P95        time.Duration
	P99        time.Duration

	// Throughput は1秒あたりの実行回数
	Throughput float64
}

// EffortPoint は探索パラメータスイープの1点（レイテンシ対再現率）
type EffortPoint struct {
	Effort     int
	AvgLatency time.Duration
	P95        time.Duration
	Recall     float64
}

// Harness はコア操作に制御された負荷をかけ、
// レイテンシ・スループット・再現率の統計を計測します
type Harness struct {
	searcher SearchCore
	embedder Embedder
	store    EffortStore
	logger   *slog.Logger
}

// NewHarness は新しいHarnessを作成します
func NewHarness(searcher SearchCore, embedder Embedder, store EffortStore) *Harness {
	return &Harness{
		searcher: searcher,
		embedder: embedder,
		store:    store,
		logger:   slog.Default(),
	}
}

// SetLogger はカスタムロガーを設定します（nil の場合は無視）
func (h *Harness) SetLogger(logger *slog.Logger) {
	if logger != nil {
		h.logger = logger
	}
}

// Run は各コア操作をN回ずつ実行して統計を返します
func (h *Harness) Run(ctx context.Context, opts Options) ([]*Stats, error) {
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultIterations
	}
	if opts.Count <= 0 {
		opts.Count = 10
	}
	if opts.SampleQuery == "" {
		opts.SampleQuery = "母の日のプレゼント"
	}

	queryResult, err := h.embedder.Embed(ctx, opts.SampleQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to embed sample query: %w", err)
	}

	operations := []struct {
		name string
		run  func(context.Context) error
	}{
		{
			name: "similarity_search",
			run: func(ctx context.Context) error {
				_, err := h.searcher.FindSimilarByText(ctx, opts.SampleQuery, search.Options{Count: opts.Count})
				return err
			},
		},
		{
			name: "hybrid_search",
			run: func(ctx context.Context) error {
				_, err := h.searcher.HybridSearch(ctx, opts.SampleQuery, queryResult.Vector, search.HybridOptions{
					KeywordWeight:  0.3,
					SemanticWeight: 0.7,
					Count:          opts.Count,
				})
				return err
			},
		},
		{
			name: "embedding",
			run: func(ctx context.Context) error {
				_, err := h.embedder.Embed(ctx, opts.SampleQuery)
				return err
			},
		},
	}

	if len(opts.BatchTexts) > 0 {
		operations = append(operations, struct {
			name string
			run  func(context.Context) error
		}{
			name: "batch_embedding",
			run: func(ctx context.Context) error {
				_, err := h.embedder.EmbedBatch(ctx, opts.BatchTexts)
				return err
			},
		})
	}

	if opts.SampleProductID != uuid.Nil {
		operations = append(operations, struct {
			name string
			run  func(context.Context) error
		}{
			name: "similar_to_entity",
			run: func(ctx context.Context) error {
				_, err := h.searcher.FindSimilarToEntity(ctx, opts.SampleProductID, search.Options{Count: opts.Count})
				return err
			},
		})
	}

	stats := make([]*Stats, 0, len(operations))
	for _, op := range operations {
		s, err := h.measure(ctx, op.name, opts.Iterations, op.run)
		if err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, nil
}

// measure は1操作をN回実行してレイテンシ統計を計算します
func (h *Harness) measure(ctx context.Context, name string, iterations int, run func(context.Context) error) (*Stats, error) {
	latencies := make([]time.Duration, 0, iterations)
	errCount := 0

	total := time.Now()
	for i := 0; i < iterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		if err := run(ctx); err != nil {
			errCount++
			h.logger.Warn("benchmark iteration failed",
				slog.String("operation", name),
				slog.Int("iteration", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		latencies = append(latencies, time.Since(start))
	}
	elapsed := time.Since(total)

	s := &Stats{
		Operation:  name,
		Iterations: iterations,
		Errors:     errCount,
	}
	if len(latencies) == 0 {
		return s, nil
	}

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	s.Min = latencies[0]
	s.Max = latencies[len(latencies)-1]
	s.P50 = percentile(latencies, 0.50)
	s.P95 = percentile(latencies, 0.95)
	s.P99 = percentile(latencies, 0.99)
	if elapsed > 0 {
		s.Throughput = float64(len(latencies)) / elapsed.Seconds()
	}
	return s, nil
}

// SweepSearchEffort は探索パラメータ（hnsw.ef_search）を振りながら
// レイテンシと再現率の曲線を計測します
// 非常に大きなefでの結果をグラウンドトゥルースとして再現率を計算します
func (h *Harness) SweepSearchEffort(ctx context.Context, queryVector []float32, efValues []int, iterations, count int) ([]*EffortPoint, error) {
	if h.store == nil {
		return nil, fmt.Errorf("effort store not configured")
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	if count <= 0 {
		count = 10
	}

	filter := repository.SearchFilter{Limit: count}

	// グラウンドトゥルースの取得
	if err := h.store.SetSearchEffort(ctx, groundTruthEffort); err != nil {
		return nil, err
	}
	truthResults, err := h.store.FindSimilar(ctx, queryVector, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to collect ground truth: %w", err)
	}
	truth := make(map[uuid.UUID]struct{}, len(truthResults))
	for _, r := range truthResults {
		truth[r.ProductID] = struct{}{}
	}

	points := make([]*EffortPoint, 0, len(efValues))
	for _, ef := range efValues {
		if err := h.store.SetSearchEffort(ctx, ef); err != nil {
			return nil, err
		}

		latencies := make([]time.Duration, 0, iterations)
		var lastResults []*models.SearchResult
		for i := 0; i < iterations; i++ {
			start := time.Now()
			results, err := h.store.FindSimilar(ctx, queryVector, filter)
			if err != nil {
				return nil, fmt.Errorf("sweep query failed at ef=%d: %w", ef, err)
			}
			latencies = append(latencies, time.Since(start))
			lastResults = results
		}

		recall := 0.0
		if len(truth) > 0 {
			hits := 0
			for _, r := range lastResults {
				if _, ok := truth[r.ProductID]; ok {
					hits++
				}
			}
			recall = float64(hits) / float64(len(truth))
		}

		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}

		points = append(points, &EffortPoint{
			Effort:     ef,
			AvgLatency: sum / time.Duration(len(latencies)),
			P95:        percentile(latencies, 0.95),
			Recall:     recall,
		})
	}

	return points, nil
}

// percentile はソート済みレイテンシ列から分位点を返します
func percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
