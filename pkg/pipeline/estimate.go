package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/gift-rec/pkg/embedding"
)

const (
	// estimateSampleSize はコスト見積もりに使うサンプル数
	estimateSampleSize = 10

	// estimatedMSPerItem は1アイテムあたりの処理時間の見積もり
	estimatedMSPerItem = 50
)

// Estimate はバッチ処理のコスト・所要時間の見積もり
// 予約ではなく推定であり、クォータは消費しません
type Estimate struct {
	Items             int
	EstimatedTokens   int
	EstimatedCost     float64
	EstimatedDuration time.Duration
}

// EstimateCost は代表サンプルからバッチ処理全体のコストを見積もります
// 最大10件をサンプリングしてトークナイザで実際のトークン数を測り、全体に外挿します
func (p *Processor) EstimateCost(ctx context.Context, ids []uuid.UUID) (*Estimate, error) {
	if len(ids) == 0 {
		return &Estimate{}, nil
	}

	sampleIDs := ids
	if len(sampleIDs) > estimateSampleSize {
		sampleIDs = sampleIDs[:estimateSampleSize]
	}

	samples, err := p.store.GetByIDs(ctx, sampleIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load sample products: %w", err)
	}
	if len(samples) == 0 {
		return &Estimate{Items: len(ids)}, nil
	}

	totalTokens := 0
	for _, product := range samples {
		totalTokens += p.countTokens(product.SearchableText())
	}
	avgTokens := totalTokens / len(samples)

	tokens := len(ids) * avgTokens

	return &Estimate{
		Items:             len(ids),
		EstimatedTokens:   tokens,
		EstimatedCost:     embedding.Cost(tokens, p.embedder.Model()),
		EstimatedDuration: time.Duration(len(ids)) * estimatedMSPerItem * time.Millisecond,
	}, nil
}
