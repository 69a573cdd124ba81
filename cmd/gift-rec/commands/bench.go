package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/gift-rec/pkg/benchmark"
)

// BenchAction はベンチマーク実行コマンドのアクション
func BenchAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	harness := benchmark.NewHarness(appCtx.Searcher, appCtx.Embedder, appCtx.Products)

	opts := benchmark.Options{
		Iterations:  cmd.Int("iterations"),
		Count:       cmd.Int("count"),
		SampleQuery: cmd.String("query"),
	}
	if idStr := cmd.String("product"); idStr != "" {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return fmt.Errorf("不正な商品ID: %w", err)
		}
		opts.SampleProductID = id
	}

	stats, err := harness.Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("ベンチマークの実行に失敗: %w", err)
	}

	for _, s := range stats {
		fmt.Printf("%-20s p50=%-10s p95=%-10s p99=%-10s min=%-10s max=%-10s %.1f ops/sec\n",
			s.Operation,
			s.P50.Round(time.Microsecond), s.P95.Round(time.Microsecond), s.P99.Round(time.Microsecond),
			s.Min.Round(time.Microsecond), s.Max.Round(time.Microsecond),
			s.Throughput)
	}

	var points []*benchmark.EffortPoint
	if cmd.Bool("sweep") {
		result, err := appCtx.Embedder.Embed(ctx, opts.SampleQuery)
		if err != nil {
			return fmt.Errorf("スイープ用クエリのEmbedding生成に失敗: %w", err)
		}

		points, err = harness.SweepSearchEffort(ctx, result.Vector, []int{20, 40, 80, 160, 320}, opts.Iterations, opts.Count)
		if err != nil {
			return fmt.Errorf("探索パラメータのスイープに失敗: %w", err)
		}

		fmt.Println("\nef_search  avg        p95        recall")
		for _, p := range points {
			fmt.Printf("%-10d %-10s %-10s %.3f\n",
				p.Effort, p.AvgLatency.Round(time.Microsecond), p.P95.Round(time.Microsecond), p.Recall)
		}
	}

	fmt.Println("\n推奨事項:")
	for _, line := range benchmark.Recommendations(stats, points) {
		fmt.Printf("  - %s\n", line)
	}
	return nil
}
