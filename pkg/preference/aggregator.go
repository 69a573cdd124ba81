package preference

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/gift-rec/pkg/embedding"
	"github.com/jinford/gift-rec/pkg/models"
	"github.com/jinford/gift-rec/pkg/repository"
	"github.com/jinford/gift-rec/pkg/search"
)

const (
	// DefaultHalfLifeDays は行動の重みが半減するまでの日数
	DefaultHalfLifeDays = 30

	// interactionWindowDays は嗜好計算に使う行動履歴の期間
	interactionWindowDays = 90

	// maxInteractions は嗜好計算に使う行動の最大件数
	maxInteractions = 500

	// topCategoryCount はプロファイルに含める上位カテゴリ数
	topCategoryCount = 5

	// searchBlendWeight は検索クエリを既存の嗜好に混ぜる比率
	// new = normalize(0.8*old + 0.2*query) の固定指数移動平均
	searchBlendWeight = 0.2

	// similarUserScanLimit は類似ユーザー探索で走査する候補数の上限
	similarUserScanLimit = 1000
)

// interactionTypeWeights は行動種別ごとの重み
var interactionTypeWeights = map[models.InteractionType]float64{
	models.InteractionView:      1.0,
	models.InteractionClick:     2.0,
	models.InteractionSearch:    1.5,
	models.InteractionSave:      3.0,
	models.InteractionAddToCart: 5.0,
	models.InteractionPurchase:  10.0,
}

// DecayWeight は経過時間に応じた指数減衰の重みを返します
// timeDecay(ageDays) = 2^(-ageDays / halfLifeDays)
// 半減期で重みがちょうど半分になり、古い信号も完全には0にならない
func DecayWeight(age time.Duration, halfLifeDays float64) float64 {
	if halfLifeDays <= 0 {
		halfLifeDays = DefaultHalfLifeDays
	}
	ageDays := age.Hours() / 24
	return math.Pow(2, -ageDays/halfLifeDays)
}

// InteractionStore は行動ログの読み書き
type InteractionStore interface {
	Insert(ctx context.Context, interaction *models.Interaction) error
	ListRecentByUser(ctx context.Context, userID uuid.UUID, since time.Time, limit int) ([]*models.Interaction, error)
}

// ProductReader は商品とそのベクトルの読み出し
type ProductReader interface {
	GetByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Product, error)
	GetEmbeddingsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]float32, error)
}

// ProfileStore はユーザー嗜好ベクトルの読み書き
type ProfileStore interface {
	GetVector(ctx context.Context, userID uuid.UUID) ([]float32, error)
	UpsertVector(ctx context.Context, userID uuid.UUID, vector []float32) error
	ListOtherVectors(ctx context.Context, excludeUserID uuid.UUID, limit int) ([]*repository.UserVector, error)
}

// Embedder はテキストのEmbedding生成
type Embedder interface {
	Embed(ctx context.Context, text string) (*embedding.Result, error)
}

// SimilarUser は類似ユーザー探索の結果
type SimilarUser struct {
	UserID     uuid.UUID `json:"userID"`
	Similarity float64   `json:"similarity"`
}

// Aggregator はユーザーの行動履歴を時間減衰付きで集約し、
// 単一の正規化された嗜好ベクトルへ変換します
type Aggregator struct {
	interactions InteractionStore
	products     ProductReader
	profiles     ProfileStore
	embedder     Embedder
	cache        Cache

	halfLifeDays float64
	now          func() time.Time
	logger       *slog.Logger
}

// NewAggregator は新しいAggregatorを作成します
func NewAggregator(interactions InteractionStore, products ProductReader, profiles ProfileStore, embedder Embedder, cache Cache, halfLifeDays float64) *Aggregator {
	if interactions == nil {
		panic("preference.NewAggregator: interactions is nil")
	}
	if profiles == nil {
		panic("preference.NewAggregator: profiles is nil")
	}
	if halfLifeDays <= 0 {
		halfLifeDays = DefaultHalfLifeDays
	}
	if cache == nil {
		cache = NewMemoryCache(DefaultCacheTTL)
	}

	return &Aggregator{
		interactions: interactions,
		products:     products,
		profiles:     profiles,
		embedder:     embedder,
		cache:        cache,
		halfLifeDays: halfLifeDays,
		now:          time.Now,
		logger:       slog.Default(),
	}
}

// SetLogger はカスタムロガーを設定します（nil の場合は無視）
func (a *Aggregator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		a.logger = logger
	}
}

// RecordInteraction は行動イベントを記録し、キャッシュを無効化します
// 行動記録はリクエスト経路を壊してはならないため、
// ストアの失敗はログに残して呼び出し側へは返しません
func (a *Aggregator) RecordInteraction(ctx context.Context, interaction *models.Interaction) {
	if err := a.interactions.Insert(ctx, interaction); err != nil {
		a.logger.Error("failed to record interaction",
			slog.String("userID", interaction.UserID.String()),
			slog.String("type", string(interaction.Type)),
			slog.String("error", err.Error()),
		)
		return
	}
	a.cache.Invalidate(interaction.UserID)
}

// UpdatePreferences は行動履歴から嗜好ベクトルを再計算して保存します
// 各行動の重みは 行動種別の重み × 時間減衰 で、
// 重み付き平均をL2正規化してから永続化します
// ベクトルを持つ行動が1件もない場合はエラーにせずログを残して終了します
func (a *Aggregator) UpdatePreferences(ctx context.Context, userID uuid.UUID) error {
	now := a.now()
	since := now.AddDate(0, 0, -interactionWindowDays)

	interactions, err := a.interactions.ListRecentByUser(ctx, userID, since, maxInteractions)
	if err != nil {
		return fmt.Errorf("failed to load interactions: %w", err)
	}

	productIDs := interactionProductIDs(interactions)
	if len(productIDs) == 0 {
		a.logger.Info("no qualifying interactions for preference update",
			slog.String("userID", userID.String()))
		return nil
	}

	vectors, err := a.products.GetEmbeddingsByIDs(ctx, productIDs)
	if err != nil {
		return fmt.Errorf("failed to load product embeddings: %w", err)
	}

	var sum []float64
	var totalWeight float64
	for _, interaction := range interactions {
		if interaction.ProductID == nil {
			continue
		}
		vector, ok := vectors[*interaction.ProductID]
		if !ok {
			// ベクトル未生成の商品に対する行動は対象外
			continue
		}

		weight := typeWeight(interaction.Type) * DecayWeight(now.Sub(interaction.CreatedAt), a.halfLifeDays)
		if sum == nil {
			sum = make([]float64, len(vector))
		}
		for i, v := range vector {
			sum[i] += weight * float64(v)
		}
		totalWeight += weight
	}

	if totalWeight == 0 {
		a.logger.Info("no embedded interactions for preference update",
			slog.String("userID", userID.String()))
		return nil
	}

	mean := make([]float32, len(sum))
	for i, v := range sum {
		mean[i] = float32(v / totalWeight)
	}
	normalized := search.Normalize(mean)

	if err := a.profiles.UpsertVector(ctx, userID, normalized); err != nil {
		return fmt.Errorf("failed to persist preference vector: %w", err)
	}

	a.cache.Invalidate(userID)
	return nil
}

// GetProfile は嗜好プロファイルのサマリを取得します（キャッシュ優先）
// キャッシュミス時は再計算してキャッシュに格納します
func (a *Aggregator) GetProfile(ctx context.Context, userID uuid.UUID) (*models.UserPreferenceProfile, error) {
	if profile, ok := a.cache.Get(userID); ok {
		return profile, nil
	}

	profile, err := a.buildProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	a.cache.Set(userID, profile)
	return profile, nil
}

func (a *Aggregator) buildProfile(ctx context.Context, userID uuid.UUID) (*models.UserPreferenceProfile, error) {
	now := a.now()

	vector, err := a.profiles.GetVector(ctx, userID)
	if err != nil {
		return nil, err
	}

	since := now.AddDate(0, 0, -interactionWindowDays)
	interactions, err := a.interactions.ListRecentByUser(ctx, userID, since, maxInteractions)
	if err != nil {
		return nil, fmt.Errorf("failed to load interactions: %w", err)
	}

	profile := &models.UserPreferenceProfile{
		UserID:           userID,
		Vector:           vector,
		InteractionCount: len(interactions),
		UpdatedAt:        now,
	}

	productIDs := interactionProductIDs(interactions)
	if len(productIDs) == 0 {
		return profile, nil
	}

	products, err := a.products.GetByIDs(ctx, productIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load interacted products: %w", err)
	}
	byID := make(map[uuid.UUID]*models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	// カテゴリの重み付きスコアと意図的行動の価格帯を集計する
	categoryScores := make(map[string]float64)
	var priceCount int
	var priceSum, priceMin, priceMax float64
	for _, interaction := range interactions {
		if interaction.ProductID == nil {
			continue
		}
		product, ok := byID[*interaction.ProductID]
		if !ok {
			continue
		}

		weight := typeWeight(interaction.Type) * DecayWeight(now.Sub(interaction.CreatedAt), a.halfLifeDays)
		if product.Category != nil && *product.Category != "" {
			categoryScores[*product.Category] += weight
		}

		if interaction.IsIntentful() {
			if priceCount == 0 || product.Price < priceMin {
				priceMin = product.Price
			}
			if priceCount == 0 || product.Price > priceMax {
				priceMax = product.Price
			}
			priceSum += product.Price
			priceCount++
		}
	}

	profile.TopCategories = topCategories(categoryScores, topCategoryCount)
	if priceCount > 0 {
		profile.PriceRange = &models.PriceRange{
			Min: priceMin,
			Max: priceMax,
			Avg: priceSum / float64(priceCount),
		}
	}

	return profile, nil
}

// LearnFromSearch は検索クエリから嗜好を学習します
// 嗜好ベクトルがまだ無い場合はクエリのベクトルがそのまま初期嗜好になり、
// 既にある場合は new = normalize(0.8*old + 0.2*query) で混合します
// あわせてsearch行動も記録します
func (a *Aggregator) LearnFromSearch(ctx context.Context, userID uuid.UUID, query string) error {
	if a.embedder == nil {
		return fmt.Errorf("embedder not configured")
	}

	result, err := a.embedder.Embed(ctx, embedding.NormalizeQuery(query))
	if err != nil {
		return fmt.Errorf("failed to embed search query: %w", err)
	}

	old, err := a.profiles.GetVector(ctx, userID)
	if err != nil {
		return err
	}

	var updated []float32
	if old == nil {
		updated = search.Normalize(result.Vector)
	} else {
		if len(old) != len(result.Vector) {
			return fmt.Errorf("%w: profile %d vs query %d", embedding.ErrDimensionMismatch, len(old), len(result.Vector))
		}
		blended := make([]float32, len(old))
		for i := range old {
			blended[i] = float32((1-searchBlendWeight)*float64(old[i]) + searchBlendWeight*float64(result.Vector[i]))
		}
		updated = search.Normalize(blended)
	}

	if err := a.profiles.UpsertVector(ctx, userID, updated); err != nil {
		return fmt.Errorf("failed to persist preference vector: %w", err)
	}

	q := query
	a.RecordInteraction(ctx, &models.Interaction{
		UserID:    userID,
		Query:     &q,
		Type:      models.InteractionSearch,
		CreatedAt: a.now(),
	})

	a.cache.Invalidate(userID)
	return nil
}

// FindSimilarUsers は嗜好ベクトルが近い他のユーザーを探します
// 自分の嗜好ベクトルがまだ無い場合はエラーではなく空の結果を返します
func (a *Aggregator) FindSimilarUsers(ctx context.Context, userID uuid.UUID, threshold float64, count int) ([]*SimilarUser, error) {
	own, err := a.profiles.GetVector(ctx, userID)
	if err != nil {
		return nil, err
	}
	if own == nil {
		return []*SimilarUser{}, nil
	}

	others, err := a.profiles.ListOtherVectors(ctx, userID, similarUserScanLimit)
	if err != nil {
		return nil, err
	}

	similar := make([]*SimilarUser, 0, count)
	for _, other := range others {
		sim, err := search.CosineSimilarity(own, other.Vector)
		if err != nil {
			a.logger.Warn("skipping user with incompatible vector",
				slog.String("userID", other.UserID.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		if sim >= threshold {
			similar = append(similar, &SimilarUser{UserID: other.UserID, Similarity: sim})
		}
	}

	sort.Slice(similar, func(i, j int) bool {
		return similar[i].Similarity > similar[j].Similarity
	})
	if count > 0 && len(similar) > count {
		similar = similar[:count]
	}
	return similar, nil
}

func typeWeight(t models.InteractionType) float64 {
	if w, ok := interactionTypeWeights[t]; ok {
		return w
	}
	return 1.0
}

func interactionProductIDs(interactions []*models.Interaction) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	ids := make([]uuid.UUID, 0, len(interactions))
	for _, interaction := range interactions {
		if interaction.ProductID == nil {
			continue
		}
		if _, ok := seen[*interaction.ProductID]; ok {
			continue
		}
		seen[*interaction.ProductID] = struct{}{}
		ids = append(ids, *interaction.ProductID)
	}
	return ids
}

func topCategories(scores map[string]float64, n int) []models.CategoryWeight {
	categories := make([]models.CategoryWeight, 0, len(scores))
	for category, weight := range scores {
		categories = append(categories, models.CategoryWeight{Category: category, Weight: weight})
	}
	sort.Slice(categories, func(i, j int) bool {
		if categories[i].Weight == categories[j].Weight {
			return categories[i].Category < categories[j].Category
		}
		return categories[i].Weight > categories[j].Weight
	})
	if len(categories) > n {
		categories = categories[:n]
	}
	return categories
}
