package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/gift-rec/pkg/pipeline"
)

// EmbedRunAction はカタログの一括Embedding生成コマンドのアクション
func EmbedRunAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	opts := pipeline.Options{
		BatchSize:       appCtx.Config.Batch.BatchSize,
		Concurrency:     appCtx.Config.Batch.Concurrency,
		InterBatchDelay: time.Duration(appCtx.Config.Batch.InterBatchDelayMS) * time.Millisecond,
		OnProgress: func(p pipeline.Progress) {
			fmt.Printf("バッチ %d/%d 完了: %d/%d件 (%.1f%%) 成功=%d 失敗=%d トークン=%d 残り≈%s\n",
				p.CurrentBatch, p.TotalBatches, p.Processed, p.TotalItems,
				p.Percent, p.Succeeded, p.Failed, p.TokensUsed,
				p.EstimatedRemaining.Round(time.Second))
		},
	}

	var report *pipeline.Report
	if ids := cmd.StringSlice("id"); len(ids) > 0 {
		parsed := make([]uuid.UUID, 0, len(ids))
		for _, idStr := range ids {
			id, err := uuid.Parse(idStr)
			if err != nil {
				return fmt.Errorf("不正な商品ID %q: %w", idStr, err)
			}
			parsed = append(parsed, id)
		}
		report, err = appCtx.Pipeline.ProcessByIDs(ctx, parsed, opts)
	} else {
		report, err = appCtx.Pipeline.ProcessAll(ctx, opts)
	}
	if err != nil {
		return fmt.Errorf("バッチ処理に失敗: %w", err)
	}

	fmt.Printf("完了: %d件中 成功=%d 失敗=%d コスト=$%.4f 所要時間=%s\n",
		report.TotalItems, report.Succeeded, report.Failed, report.Cost,
		report.Duration.Round(time.Millisecond))
	for _, itemErr := range report.Errors {
		fmt.Printf("  失敗: %s (バッチ%d): %v\n", itemErr.ItemID, itemErr.Batch, itemErr.Err)
	}
	return nil
}

// EmbedEstimateAction はバッチ処理のコスト見積もりコマンドのアクション
func EmbedEstimateAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	// 未処理の商品を見積もり対象にする
	products, err := appCtx.Products.ListMissingEmbeddings(ctx, 10000)
	if err != nil {
		return fmt.Errorf("対象商品の取得に失敗: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}

	estimate, err := appCtx.Pipeline.EstimateCost(ctx, ids)
	if err != nil {
		return fmt.Errorf("コスト見積もりに失敗: %w", err)
	}

	fmt.Printf("対象: %d件 推定トークン: %d 推定コスト: $%.4f 推定所要時間: %s\n",
		estimate.Items, estimate.EstimatedTokens, estimate.EstimatedCost,
		estimate.EstimatedDuration.Round(time.Second))
	return nil
}
