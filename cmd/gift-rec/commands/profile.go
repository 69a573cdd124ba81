package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

// ProfileShowAction はユーザー嗜好プロファイル表示コマンドのアクション
func ProfileShowAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	userID, err := uuid.Parse(cmd.String("user"))
	if err != nil {
		return fmt.Errorf("不正なユーザーID: %w", err)
	}

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	profile, err := appCtx.Aggregator.GetProfile(ctx, userID)
	if err != nil {
		return fmt.Errorf("プロファイルの取得に失敗: %w", err)
	}

	return printJSON(profile)
}

// ProfileRebuildAction は嗜好ベクトル再計算コマンドのアクション
func ProfileRebuildAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	userID, err := uuid.Parse(cmd.String("user"))
	if err != nil {
		return fmt.Errorf("不正なユーザーID: %w", err)
	}

	// 共通コンテキストの初期化
	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	if err := appCtx.Aggregator.UpdatePreferences(ctx, userID); err != nil {
		return fmt.Errorf("嗜好ベクトルの再計算に失敗: %w", err)
	}

	fmt.Println("嗜好ベクトルを再計算しました")
	return nil
}
