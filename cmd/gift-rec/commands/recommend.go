package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/gift-rec/pkg/recommend"
)

// RecommendAction はギフト推薦コマンドのアクション
func RecommendAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	req := recommend.Request{
		Query:        cmd.String("query"),
		Occasion:     cmd.String("occasion"),
		Relationship: cmd.String("relationship"),
		Interests:    cmd.StringSlice("interest"),
		RecipientAge: cmd.Int("age"),
		Limit:        cmd.Int("count"),
		Personalize:  cmd.Bool("personalize"),
		Diversify:    cmd.Bool("diversify"),
		Explain:      cmd.Bool("explain"),
	}

	if userIDStr := cmd.String("user"); userIDStr != "" {
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			return fmt.Errorf("不正なユーザーID: %w", err)
		}
		req.UserID = &userID
	}

	for _, idStr := range cmd.StringSlice("exclude") {
		id, err := uuid.Parse(idStr)
		if err != nil {
			return fmt.Errorf("不正な除外ID %q: %w", idStr, err)
		}
		req.ExcludeIDs = append(req.ExcludeIDs, id)
	}

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	recommendations, err := appCtx.Engine.Recommend(ctx, req)
	if err != nil {
		return fmt.Errorf("推薦の生成に失敗: %w", err)
	}

	if len(recommendations) == 0 {
		fmt.Println("条件に合う商品が見つかりませんでした")
		return nil
	}

	return printJSON(recommendations)
}
