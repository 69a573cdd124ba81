package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/gift-rec/pkg/embedding"
	"github.com/jinford/gift-rec/pkg/models"
)

// mockProductStore はパイプラインテスト用のデータストア
type mockProductStore struct {
	mu       sync.Mutex
	products []*models.Product
	stored   map[uuid.UUID][]float32

	// storeErr はnilでない場合、該当IDの保存を失敗させる
	storeErr func(id uuid.UUID) error
}

func newMockProductStore(products []*models.Product) *mockProductStore {
	return &mockProductStore{
		products: products,
		stored:   make(map[uuid.UUID][]float32),
	}
}

func (m *mockProductStore) ListMissingEmbeddings(ctx context.Context, limit int) ([]*models.Product, error) {
	return m.products, nil
}

func (m *mockProductStore) GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Product, error) {
	byID := make(map[uuid.UUID]*models.Product, len(m.products))
	for _, p := range m.products {
		byID[p.ID] = p
	}
	result := make([]*models.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			result = append(result, p)
		}
	}
	return result, nil
}

func (m *mockProductStore) StoreEmbedding(ctx context.Context, id uuid.UUID, vector []float32) error {
	if m.storeErr != nil {
		if err := m.storeErr(id); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[id] = vector
	return nil
}

// mockBatchEmbedder は同時実行数を計測するEmbedder
type mockBatchEmbedder struct {
	delay       time.Duration
	failPattern func(call int) bool

	calls       int32
	inFlight    int32
	maxInFlight int32
}

func (m *mockBatchEmbedder) EmbedBatch(ctx context.Context, texts []string) (*embedding.BatchResult, error) {
	call := int(atomic.AddInt32(&m.calls, 1)) - 1

	current := atomic.AddInt32(&m.inFlight, 1)
	for {
		max := atomic.LoadInt32(&m.maxInFlight)
		if current <= max || atomic.CompareAndSwapInt32(&m.maxInFlight, max, current) {
			break
		}
	}
	defer atomic.AddInt32(&m.inFlight, -1)

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if m.failPattern != nil && m.failPattern(call) {
		return nil, errors.New("simulated provider error")
	}

	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0}
	}
	return &embedding.BatchResult{
		Vectors:     vectors,
		Model:       "test-model",
		TotalTokens: len(texts) * 10,
	}, nil
}

func (m *mockBatchEmbedder) Model() string { return "test-model" }

func makeProducts(n int) []*models.Product {
	products := make([]*models.Product, n)
	for i := range products {
		products[i] = &models.Product{ID: uuid.New(), Title: "ギフト商品"}
	}
	return products
}

func TestProcessAll_PartialFailure(t *testing.T) {
	products := makeProducts(3)
	store := newMockProductStore(products)
	failedID := products[1].ID
	store.storeErr = func(id uuid.UUID) error {
		if id == failedID {
			return errors.New("storage unavailable")
		}
		return nil
	}

	p := NewProcessor(store, &mockBatchEmbedder{})
	report, err := p.ProcessAll(context.Background(), Options{BatchSize: 3, Concurrency: 1, InterBatchDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", report.Succeeded)
	}
	if report.Failed != 1 {
		t.Errorf("Failed = %d, want 1", report.Failed)
	}
	if len(report.Errors) != 1 {
		t.Fatalf("len(Errors) = %d, want 1", len(report.Errors))
	}
	if report.Errors[0].ItemID != failedID {
		t.Errorf("failed item = %s, want %s", report.Errors[0].ItemID, failedID)
	}

	// 失敗アイテムが他のアイテムの保存を妨げていない
	if len(store.stored) != 2 {
		t.Errorf("stored count = %d, want 2", len(store.stored))
	}
}

func TestProcessAll_WholeBatchFailure(t *testing.T) {
	products := makeProducts(4)
	store := newMockProductStore(products)
	embedder := &mockBatchEmbedder{
		failPattern: func(call int) bool { return call == 0 },
	}

	p := NewProcessor(store, embedder)
	report, err := p.ProcessAll(context.Background(), Options{BatchSize: 2, Concurrency: 1, InterBatchDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// 最初のバッチ（2件）は全滅し、2番目のバッチ（2件）は成功する
	if report.Failed != 2 {
		t.Errorf("Failed = %d, want 2", report.Failed)
	}
	if report.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", report.Succeeded)
	}
	if len(report.Errors) != 2 {
		t.Errorf("len(Errors) = %d, want 2", len(report.Errors))
	}
}

func TestProcessAll_ConcurrencyCap(t *testing.T) {
	products := makeProducts(10)
	store := newMockProductStore(products)
	embedder := &mockBatchEmbedder{delay: 10 * time.Millisecond}

	var progressCalls int32
	p := NewProcessor(store, embedder)
	report, err := p.ProcessAll(context.Background(), Options{
		BatchSize:       1,
		Concurrency:     2,
		InterBatchDelay: time.Millisecond,
		OnProgress: func(progress Progress) {
			atomic.AddInt32(&progressCalls, 1)
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if report.Succeeded != 10 {
		t.Errorf("Succeeded = %d, want 10", report.Succeeded)
	}
	if max := atomic.LoadInt32(&embedder.maxInFlight); max > 2 {
		t.Errorf("max in-flight = %d, want <= 2", max)
	}
	if got := atomic.LoadInt32(&progressCalls); got != 10 {
		t.Errorf("progress calls = %d, want 10", got)
	}
}

func TestProcessAll_Empty(t *testing.T) {
	p := NewProcessor(newMockProductStore(nil), &mockBatchEmbedder{})
	report, err := p.ProcessAll(context.Background(), Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.TotalItems != 0 || report.Succeeded != 0 || report.Failed != 0 {
		t.Errorf("report = %+v, want zero report", report)
	}
}

func TestProcessAll_Cancellation(t *testing.T) {
	products := makeProducts(20)
	store := newMockProductStore(products)
	embedder := &mockBatchEmbedder{delay: 20 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	p := NewProcessor(store, embedder)
	report, err := p.ProcessAll(ctx, Options{BatchSize: 1, Concurrency: 1, InterBatchDelay: time.Millisecond})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	// キャンセル時点までの進捗はレポートに残る
	if report == nil {
		t.Fatal("report should not be nil on cancellation")
	}
	if report.Succeeded >= 20 {
		t.Errorf("Succeeded = %d, want partial progress", report.Succeeded)
	}
}

func TestEstimateCost(t *testing.T) {
	products := make([]*models.Product, 20)
	for i := range products {
		products[i] = &models.Product{ID: uuid.New(), Title: strings.Repeat("a", 40)}
	}
	store := newMockProductStore(products)

	ids := make([]uuid.UUID, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}

	p := NewProcessor(store, &mockBatchEmbedder{})
	if p.countTokens == nil {
		t.Fatal("countTokens is not wired by NewProcessor")
	}
	// トークナイザはBPE定義の取得が必要なため、テストでは決定的なカウンターに差し替える
	p.countTokens = func(text string) int { return len(text) / 4 }

	estimate, err := p.EstimateCost(context.Background(), ids)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if estimate.Items != 20 {
		t.Errorf("Items = %d, want 20", estimate.Items)
	}
	// 40文字/4 = 10トークン × 20件
	if estimate.EstimatedTokens != 200 {
		t.Errorf("EstimatedTokens = %d, want 200", estimate.EstimatedTokens)
	}
	if estimate.EstimatedDuration != 1*time.Second {
		t.Errorf("EstimatedDuration = %s, want 1s", estimate.EstimatedDuration)
	}
}

func TestEstimateCost_SampledTokenCounts(t *testing.T) {
	products := make([]*models.Product, 30)
	for i := range products {
		products[i] = &models.Product{ID: uuid.New(), Title: "ギフトセット"}
	}
	store := newMockProductStore(products)

	ids := make([]uuid.UUID, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}

	// 外挿はサンプルの実測トークン数（文字数比ではない）に基づく
	counted := 0
	p := NewProcessor(store, &mockBatchEmbedder{})
	p.countTokens = func(text string) int {
		counted++
		return 7
	}

	estimate, err := p.EstimateCost(context.Background(), ids)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if counted != 10 {
		t.Errorf("counted %d samples, want 10", counted)
	}
	// 7トークン × 30件
	if estimate.EstimatedTokens != 210 {
		t.Errorf("EstimatedTokens = %d, want 210", estimate.EstimatedTokens)
	}
}

func TestEstimateCost_Empty(t *testing.T) {
	p := NewProcessor(newMockProductStore(nil), &mockBatchEmbedder{})
	estimate, err := p.EstimateCost(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if estimate.Items != 0 || estimate.EstimatedTokens != 0 {
		t.Errorf("estimate = %+v, want zero estimate", estimate)
	}
}
