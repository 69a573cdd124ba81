package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jinford/gift-rec/pkg/search"
)

// SearchAction はテキストによる類似検索コマンドのアクション
func SearchAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")
	query := cmd.String("query")
	count := cmd.Int("count")
	threshold := cmd.Float("threshold")
	hybrid := cmd.Bool("hybrid")

	if query == "" {
		return fmt.Errorf("--query は必須です")
	}

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if hybrid {
		result, err := appCtx.Embedder.Embed(ctx, query)
		if err != nil {
			return fmt.Errorf("クエリのEmbedding生成に失敗: %w", err)
		}

		results, err := appCtx.Searcher.HybridSearch(ctx, query, result.Vector, search.HybridOptions{
			KeywordWeight:  cmd.Float("keyword-weight"),
			SemanticWeight: cmd.Float("semantic-weight"),
			Count:          count,
		})
		if err != nil {
			return fmt.Errorf("ハイブリッド検索に失敗: %w", err)
		}
		return printJSON(results)
	}

	results, err := appCtx.Searcher.FindSimilarByText(ctx, query, search.Options{
		Threshold: threshold,
		Count:     count,
	})
	if err != nil {
		return fmt.Errorf("類似検索に失敗: %w", err)
	}
	return printJSON(results)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
