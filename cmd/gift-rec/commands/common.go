package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/jinford/gift-rec/internal/platform/logger"
	"github.com/jinford/gift-rec/pkg/config"
	"github.com/jinford/gift-rec/pkg/db"
	"github.com/jinford/gift-rec/pkg/embedding"
	"github.com/jinford/gift-rec/pkg/pipeline"
	"github.com/jinford/gift-rec/pkg/preference"
	"github.com/jinford/gift-rec/pkg/recommend"
	"github.com/jinford/gift-rec/pkg/repository"
	"github.com/jinford/gift-rec/pkg/search"
)

// AppContext はコマンド実行に必要な依存をまとめた合成ルートです
// DIフレームワークは使わず、コンストラクタ注入で明示的に配線します
type AppContext struct {
	Config   *config.Config
	Database *db.DB

	Embedder *embedding.Client

	Products     *repository.ProductRepository
	Interactions *repository.InteractionRepository
	Profiles     *repository.ProfileRepository

	Searcher   *search.Searcher
	Aggregator *preference.Aggregator
	Engine     *recommend.Engine
	Pipeline   *pipeline.Processor
}

// NewAppContext は設定を読み込み、DBに接続してAppContextを作成します
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(cfg.Log.Level, cfg.Log.Format)

	database, err := db.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	embedder, err := embedding.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.EmbeddingModel, cfg.OpenAI.EmbeddingDimension)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("Embeddingクライアントの初期化に失敗: %w", err)
	}
	embedder.SetLogger(appLogger)

	products := repository.NewProductRepository(database.Pool)
	interactions := repository.NewInteractionRepository(database.Pool)
	profiles := repository.NewProfileRepository(database.Pool)

	searcher := search.NewSearcher(products, profiles, embedder,
		cfg.Engine.SimilarityThreshold, cfg.Engine.PersonalizationOffset)
	searcher.SetLogger(appLogger)

	cache := preference.NewMemoryCache(time.Duration(cfg.Engine.ProfileCacheTTLMinutes) * time.Minute)
	aggregator := preference.NewAggregator(interactions, products, profiles, embedder, cache, cfg.Engine.HalfLifeDays)
	aggregator.SetLogger(appLogger)

	engine := recommend.NewEngine(searcher, aggregator, products, embedder, recommend.NewRandomSource(), recommend.Config{
		SimilarityThreshold: cfg.Engine.SimilarityThreshold,
		PreferenceWeight:    0.4,
		DiversityThreshold:  cfg.Engine.DiversityThreshold,
		ExplorationFactor:   cfg.Engine.ExplorationFactor,
	})
	engine.SetLogger(appLogger)

	processor := pipeline.NewProcessor(products, embedder)
	processor.SetLogger(appLogger)

	return &AppContext{
		Config:       cfg,
		Database:     database,
		Embedder:     embedder,
		Products:     products,
		Interactions: interactions,
		Profiles:     profiles,
		Searcher:     searcher,
		Aggregator:   aggregator,
		Engine:       engine,
		Pipeline:     processor,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップします
func (ac *AppContext) Close() {
	if ac.Database != nil {
		ac.Database.Close()
	}
}
