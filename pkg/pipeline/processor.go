package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/gift-rec/pkg/embedding"
	"github.com/jinford/gift-rec/pkg/models"
)

const (
	// DefaultBatchSize は1バッチあたりの商品数
	DefaultBatchSize = 100

	// DefaultConcurrency は同時に動くワーカー数
	DefaultConcurrency = 3

	// DefaultInterBatchDelay はバッチ間の待機時間（レート制限対策）
	DefaultInterBatchDelay = 100 * time.Millisecond

	// maxCatalogLimit はデータストアから一度に取得する商品数の上限
	maxCatalogLimit = 10000
)

// ProductStore はパイプラインが必要とするデータストア操作
type ProductStore interface {
	ListMissingEmbeddings(ctx context.Context, limit int) ([]*models.Product, error)
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Product, error)
	StoreEmbedding(ctx context.Context, id uuid.UUID, vector []float32) error
}

// Embedder はバッチEmbeddingの生成
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) (*embedding.BatchResult, error)
	Model() string
}

// Options はバッチ処理のオプション
type Options struct {
	BatchSize       int
	Concurrency     int
	InterBatchDelay time.Duration
	OnProgress      func(Progress)
	OnError         func(ItemError)
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultConcurrency
	}
	if o.InterBatchDelay <= 0 {
		o.InterBatchDelay = DefaultInterBatchDelay
	}
	return o
}

// ItemError はバッチ処理中の個別アイテムの失敗を表します
type ItemError struct {
	ItemID uuid.UUID
	Err    error
	Batch  int
}

// Progress はバッチ完了ごとに通知される進捗情報
type Progress struct {
	TotalItems         int
	Processed          int
	Succeeded          int
	Failed             int
	CurrentBatch       int
	TotalBatches       int
	TokensUsed         int
	Cost               float64
	Percent            float64
	EstimatedRemaining time.Duration
}

// Report はバッチ処理全体の結果
// ジョブ状態は永続化しないため、耐久性が必要な場合は呼び出し側で保存します
type Report struct {
	TotalItems int
	Succeeded  int
	Failed     int
	TokensUsed int
	Cost       float64
	Errors     []ItemError
	Duration   time.Duration
}

// Processor はカタログの一括（再）Embeddingを実行します
// 固定数のワーカーが共有キューからバッチを1つずつ取り出して処理するため、
// 同時に進行するプロバイダー呼び出しは正確にConcurrency個に抑えられます
type Processor struct {
	store    ProductStore
	embedder Embedder
	logger   *slog.Logger

	// countTokens はコスト見積もり用のトークンカウンター（テスト差し替え用）
	countTokens func(text string) int
}

// NewProcessor は新しいProcessorを作成します
func NewProcessor(store ProductStore, embedder Embedder) *Processor {
	if store == nil {
		panic("pipeline.NewProcessor: store is nil")
	}
	if embedder == nil {
		panic("pipeline.NewProcessor: embedder is nil")
	}
	return &Processor{
		store:    store,
		embedder: embedder,
		logger:   slog.Default(),
		countTokens: func(text string) int {
			return embedding.CountTokens(text, embedder.Model())
		},
	}
}

// SetLogger はカスタムロガーを設定します（nil の場合は無視）
func (p *Processor) SetLogger(logger *slog.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// ProcessAll はEmbedding未生成の商品をすべて処理します
func (p *Processor) ProcessAll(ctx context.Context, opts Options) (*Report, error) {
	products, err := p.store.ListMissingEmbeddings(ctx, maxCatalogLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to list products missing embeddings: %w", err)
	}
	return p.run(ctx, products, opts)
}

// ProcessByIDs は指定したIDの商品を処理します
func (p *Processor) ProcessByIDs(ctx context.Context, ids []uuid.UUID, opts Options) (*Report, error) {
	products, err := p.store.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}
	return p.run(ctx, products, opts)
}

// jobState はワーカー間で共有する集計カウンター
type jobState struct {
	mu          sync.Mutex
	processed   int
	succeeded   int
	failed      int
	tokensUsed  int
	batchesDone int
	errors      []ItemError
	startedAt   time.Time
}

func (p *Processor) run(ctx context.Context, products []*models.Product, opts Options) (*Report, error) {
	opts = opts.withDefaults()

	if len(products) == 0 {
		return &Report{Errors: []ItemError{}}, nil
	}

	// 固定サイズのバッチに分割する
	batches := make([][]*models.Product, 0, (len(products)+opts.BatchSize-1)/opts.BatchSize)
	for start := 0; start < len(products); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(products) {
			end = len(products)
		}
		batches = append(batches, products[start:end])
	}

	state := &jobState{
		errors:    make([]ItemError, 0),
		startedAt: time.Now(),
	}

	// 共有キュー: ワーカーはアトミックに次のバッチ番号を取得する
	// （claimは単一の不可分操作なので二重処理も取りこぼしも起きない）
	var nextBatch int64

	var wg sync.WaitGroup
	for w := 0; w < opts.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				// キャンセルされたワーカーは新しいバッチを取らない
				// （処理中のプロバイダー呼び出しは自然に完了させる）
				if ctx.Err() != nil {
					return
				}

				idx := int(atomic.AddInt64(&nextBatch, 1)) - 1
				if idx >= len(batches) {
					return
				}

				p.processBatch(ctx, batches[idx], idx, opts, state, len(products), len(batches))

				select {
				case <-ctx.Done():
					return
				case <-time.After(opts.InterBatchDelay):
				}
			}
		}()
	}
	wg.Wait()

	state.mu.Lock()
	defer state.mu.Unlock()

	report := &Report{
		TotalItems: len(products),
		Succeeded:  state.succeeded,
		Failed:     state.failed,
		TokensUsed: state.tokensUsed,
		Cost:       embedding.Cost(state.tokensUsed, p.embedder.Model()),
		Errors:     state.errors,
		Duration:   time.Since(state.startedAt),
	}

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// processBatch は1バッチを処理します
// Embedding呼び出し自体の失敗はバッチ全アイテムの失敗として記録し、
// 個別アイテムの保存失敗は他のアイテムの処理を妨げません（二段階の部分失敗分離）
func (p *Processor) processBatch(ctx context.Context, batch []*models.Product, batchIdx int, opts Options, state *jobState, totalItems, totalBatches int) {
	texts := make([]string, len(batch))
	for i, product := range batch {
		texts[i] = product.SearchableText()
	}

	result, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		p.logger.Error("batch embedding failed",
			slog.Int("batch", batchIdx),
			slog.Int("items", len(batch)),
			slog.String("error", err.Error()),
		)
		state.mu.Lock()
		for _, product := range batch {
			itemErr := ItemError{ItemID: product.ID, Err: err, Batch: batchIdx}
			state.errors = append(state.errors, itemErr)
			state.failed++
			state.processed++
			if opts.OnError != nil {
				opts.OnError(itemErr)
			}
		}
		p.finishBatch(state, opts, totalItems, totalBatches)
		state.mu.Unlock()
		return
	}

	// 各ベクトルの保存は独立して完了させる
	succeeded := 0
	var itemErrors []ItemError
	for i, product := range batch {
		if i >= len(result.Vectors) {
			itemErrors = append(itemErrors, ItemError{
				ItemID: product.ID,
				Err:    fmt.Errorf("no embedding returned for item"),
				Batch:  batchIdx,
			})
			continue
		}
		if err := p.store.StoreEmbedding(ctx, product.ID, result.Vectors[i]); err != nil {
			itemErrors = append(itemErrors, ItemError{ItemID: product.ID, Err: err, Batch: batchIdx})
			continue
		}
		succeeded++
	}

	state.mu.Lock()
	state.succeeded += succeeded
	state.failed += len(itemErrors)
	state.processed += len(batch)
	state.tokensUsed += result.TotalTokens
	state.errors = append(state.errors, itemErrors...)
	if opts.OnError != nil {
		for _, itemErr := range itemErrors {
			opts.OnError(itemErr)
		}
	}
	p.finishBatch(state, opts, totalItems, totalBatches)
	state.mu.Unlock()
}

// finishBatch はバッチ完了を集計し進捗を通知します（state.muを保持して呼ぶこと）
func (p *Processor) finishBatch(state *jobState, opts Options, totalItems, totalBatches int) {
	state.batchesDone++

	if opts.OnProgress == nil {
		return
	}

	percent := float64(state.processed) / float64(totalItems) * 100

	// 観測スループット（items/ms）から残り時間を見積もる
	// スループットが未観測の場合は0（ゼロ除算にしない）
	var remaining time.Duration
	elapsed := time.Since(state.startedAt)
	if state.processed > 0 && elapsed > 0 {
		perItem := elapsed / time.Duration(state.processed)
		remaining = perItem * time.Duration(totalItems-state.processed)
	}

	opts.OnProgress(Progress{
		TotalItems:         totalItems,
		Processed:          state.processed,
		Succeeded:          state.succeeded,
		Failed:             state.failed,
		CurrentBatch:       state.batchesDone,
		TotalBatches:       totalBatches,
		TokensUsed:         state.tokensUsed,
		Cost:               embedding.Cost(state.tokensUsed, p.embedder.Model()),
		Percent:            percent,
		EstimatedRemaining: remaining,
	})
}
