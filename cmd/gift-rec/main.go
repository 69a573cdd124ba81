package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jinford/gift-rec/cmd/gift-rec/commands"
	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 構造化ログの設定
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	app := &cli.Command{
		Name:  "gift-rec",
		Usage: "ギフト商品向けベクトル検索・推薦エンジン",
		Commands: []*cli.Command{
			{
				Name:  "search",
				Usage: "テキストクエリで類似商品を検索",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "query",
						Usage:    "検索クエリ",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "count",
						Usage: "取得件数",
						Value: 10,
					},
					&cli.FloatFlag{
						Name:  "threshold",
						Usage: "類似度の下限（0〜1）",
						Value: 0.5,
					},
					&cli.BoolFlag{
						Name:  "hybrid",
						Usage: "キーワード検索とベクトル検索を併用",
					},
					&cli.FloatFlag{
						Name:  "keyword-weight",
						Usage: "ハイブリッド検索のキーワード重み",
						Value: 0.3,
					},
					&cli.FloatFlag{
						Name:  "semantic-weight",
						Usage: "ハイブリッド検索のベクトル重み",
						Value: 0.7,
					},
				},
				Action: commands.SearchAction,
			},
			{
				Name:  "recommend",
				Usage: "ギフト推薦を生成",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:  "query",
						Usage: "自由記述のリクエスト文",
					},
					&cli.StringFlag{
						Name:  "user",
						Usage: "ユーザーID（パーソナライズに使用）",
					},
					&cli.StringFlag{
						Name:  "occasion",
						Usage: "ギフトの機会（誕生日、母の日など）",
					},
					&cli.StringFlag{
						Name:  "relationship",
						Usage: "贈る相手との関係（母、友人など）",
					},
					&cli.StringSliceFlag{
						Name:  "interest",
						Usage: "相手の興味・関心（複数指定可）",
					},
					&cli.IntFlag{
						Name:  "age",
						Usage: "相手の年齢",
					},
					&cli.StringSliceFlag{
						Name:  "exclude",
						Usage: "除外する商品ID（複数指定可）",
					},
					&cli.IntFlag{
						Name:  "count",
						Usage: "推薦件数",
						Value: 10,
					},
					&cli.BoolFlag{
						Name:  "personalize",
						Usage: "ユーザーの嗜好プロファイルを反映",
						Value: true,
					},
					&cli.BoolFlag{
						Name:  "diversify",
						Usage: "MMRによる多様性の再ランキングを有効化",
						Value: true,
					},
					&cli.BoolFlag{
						Name:  "explain",
						Usage: "推薦理由を付与",
					},
				},
				Action: commands.RecommendAction,
			},
			{
				Name:  "embed",
				Usage: "Embedding生成コマンド",
				Commands: []*cli.Command{
					{
						Name:  "run",
						Usage: "未処理商品のEmbeddingを一括生成",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringSliceFlag{
								Name:  "id",
								Usage: "対象を商品IDで指定（省略時は未処理の全商品）",
							},
						},
						Action: commands.EmbedRunAction,
					},
					{
						Name:  "estimate",
						Usage: "一括生成のコストを見積もり",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
						},
						Action: commands.EmbedEstimateAction,
					},
				},
			},
			{
				Name:  "profile",
				Usage: "嗜好プロファイル管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "show",
						Usage: "ユーザーの嗜好プロファイルを表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "user",
								Usage:    "ユーザーID",
								Required: true,
							},
						},
						Action: commands.ProfileShowAction,
					},
					{
						Name:  "rebuild",
						Usage: "嗜好ベクトルを再計算",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:     "user",
								Usage:    "ユーザーID",
								Required: true,
							},
						},
						Action: commands.ProfileRebuildAction,
					},
				},
			},
			{
				Name:  "bench",
				Usage: "検索・Embeddingのベンチマークを実行",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.IntFlag{
						Name:  "iterations",
						Usage: "計測の繰り返し回数",
						Value: 20,
					},
					&cli.IntFlag{
						Name:  "count",
						Usage: "1回あたりの取得件数",
						Value: 10,
					},
					&cli.StringFlag{
						Name:  "query",
						Usage: "計測に使うサンプルクエリ",
						Value: "母の日のプレゼント",
					},
					&cli.StringFlag{
						Name:  "product",
						Usage: "類似商品検索の計測に使う商品ID",
					},
					&cli.BoolFlag{
						Name:  "sweep",
						Usage: "hnsw.ef_searchのスイープ計測を実行",
					},
				},
				Action: commands.BenchAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
