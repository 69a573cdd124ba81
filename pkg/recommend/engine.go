package recommend

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jinford/gift-rec/pkg/embedding"
	"github.com/jinford/gift-rec/pkg/models"
	"github.com/jinford/gift-rec/pkg/search"
)

const (
	defaultLimit = 10

	// candidatePoolMultiplier は最終件数に対する候補プールの倍率
	candidatePoolMultiplier = 3

	// maxHistoryTurns はコンテキストに含める会話履歴の件数
	maxHistoryTurns = 3

	// categoryBonus は上位カテゴリ一致時の嗜好スコア加点
	categoryBonus = 0.1

	// priceBonus は観測価格帯（0.8倍〜1.2倍）一致時の嗜好スコア加点
	priceBonus = 0.05

	// interestBonus は説明文中の興味キーワード1件あたりの加点
	interestBonus = 0.1

	// learnTimeout は検索学習（fire-and-forget）のタイムアウト
	learnTimeout = 10 * time.Second
)

// Searcher は候補取得に使う検索コア
type Searcher interface {
	FindSimilar(ctx context.Context, vector []float32, opts search.Options) ([]*models.SearchResult, error)
	PersonalizedForUser(ctx context.Context, userID uuid.UUID, count int) ([]*models.SearchResult, error)
}

// PreferenceService は嗜好プロファイルの取得と検索学習
type PreferenceService interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*models.UserPreferenceProfile, error)
	LearnFromSearch(ctx context.Context, userID uuid.UUID, query string) error
}

// VectorReader は候補商品のベクトルの一括読み出し
type VectorReader interface {
	GetEmbeddingsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID][]float32, error)
}

// Embedder はコンテキストテキストのEmbedding生成
type Embedder interface {
	Embed(ctx context.Context, text string) (*embedding.Result, error)
}

// Config は推薦エンジンのチューニング設定
type Config struct {
	SimilarityThreshold float64

	// PreferenceWeight はプロファイルが存在する場合の嗜好スコアの重み
	// コンテキストスコアの重みは 1 - PreferenceWeight で自動的に決まる
	PreferenceWeight float64

	DiversityThreshold float64
	ExplorationFactor  float64
}

// DefaultConfig はデフォルトのエンジン設定
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: 0.5,
		PreferenceWeight:    0.4,
		DiversityThreshold:  0.3,
		ExplorationFactor:   0.1,
	}
}

// Request は推薦リクエスト
type Request struct {
	Query        string
	UserID       *uuid.UUID
	Occasion     string
	Relationship string
	Interests    []string
	RecipientAge int
	History      []string
	ExcludeIDs   []uuid.UUID
	Limit        int

	Personalize bool
	Diversify   bool
	Explain     bool

	// DiversityThreshold / ExplorationFactor はConfigの値を上書きします
	DiversityThreshold *float64
	ExplorationFactor  *float64
}

// Engine はギフト推薦のオーケストレーターです
// 候補取得（コンテキスト検索＋嗜好検索）・スコアリング・MMR多様化・
// 説明付与を1リクエスト1パスで行います
type Engine struct {
	searcher Searcher
	prefs    PreferenceService
	vectors  VectorReader
	embedder Embedder
	random   Source
	cfg      Config
	logger   *slog.Logger
}

// NewEngine は新しいEngineを作成します
func NewEngine(searcher Searcher, prefs PreferenceService, vectors VectorReader, embedder Embedder, random Source, cfg Config) *Engine {
	if searcher == nil {
		panic("recommend.NewEngine: searcher is nil")
	}
	if embedder == nil {
		panic("recommend.NewEngine: embedder is nil")
	}
	if random == nil {
		random = NewRandomSource()
	}

	return &Engine{
		searcher: searcher,
		prefs:    prefs,
		vectors:  vectors,
		embedder: embedder,
		random:   random,
		cfg:      cfg,
		logger:   slog.Default(),
	}
}

// SetLogger はカスタムロガーを設定します（nil の場合は無視）
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Recommend は推薦リクエストを処理します
// 候補取得〜スコアリングの失敗は呼び出し側へ伝播し、
// 検索学習（最終ステップ）の失敗はログに残すだけで結果には影響しません
func (e *Engine) Recommend(ctx context.Context, req Request) ([]*models.Recommendation, error) {
	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	// 1. 嗜好プロファイル（パーソナライズ指定かつユーザーIDがある場合のみ）
	var profile *models.UserPreferenceProfile
	if req.Personalize && req.UserID != nil && e.prefs != nil {
		var err error
		profile, err = e.prefs.GetProfile(ctx, *req.UserID)
		if err != nil {
			return nil, fmt.Errorf("failed to load preference profile: %w", err)
		}
	}

	// 2. コンテキストベクトル（全フィールド欠落ならnilのまま進める）
	contextVector, err := e.buildContextVector(ctx, req)
	if err != nil {
		return nil, err
	}

	// 3. 候補取得（最大2ソースのfan-out/fan-in）
	candidates, err := e.gatherCandidates(ctx, req, profile, contextVector, limit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return []*models.Recommendation{}, nil
	}

	// 4. スコアリング
	if err := e.scoreCandidates(ctx, candidates, req, profile, contextVector); err != nil {
		return nil, err
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CombinedScore > candidates[j].CombinedScore
	})

	// 5. MMR多様化（指定時のみ）、6. 件数制限
	var recommendations []*models.Recommendation
	if req.Diversify {
		mmr := &MMR{
			DiversityThreshold: valueOr(req.DiversityThreshold, e.cfg.DiversityThreshold),
			ExplorationFactor:  valueOr(req.ExplorationFactor, e.cfg.ExplorationFactor),
			Rand:               e.random,
		}
		recommendations = mmr.Rerank(candidates, limit)
	} else {
		if len(candidates) > limit {
			candidates = candidates[:limit]
		}
		recommendations = make([]*models.Recommendation, 0, len(candidates))
		for _, c := range candidates {
			recommendations = append(recommendations, &models.Recommendation{RecommendationCandidate: *c})
		}
	}

	// 6. 説明付与
	if req.Explain {
		for _, rec := range recommendations {
			rec.Explanation = buildExplanation(rec, req, profile)
		}
	}

	// 7. 検索学習（fire-and-forget: レスポンスは待たない）
	if req.UserID != nil && req.Query != "" && e.prefs != nil {
		userID := *req.UserID
		query := req.Query
		learnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), learnTimeout)
		go func() {
			defer cancel()
			if err := e.prefs.LearnFromSearch(learnCtx, userID, query); err != nil {
				e.logger.Warn("failed to learn from search",
					slog.String("userID", userID.String()),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	return recommendations, nil
}

// buildContextVector はリクエストの文脈情報からコンテキストベクトルを構築します
// 欠けているフィールドは詰めずにスキップし、すべて欠けている場合はnilを返します
func (e *Engine) buildContextVector(ctx context.Context, req Request) ([]float32, error) {
	parts := make([]string, 0, 6)

	if q := strings.TrimSpace(req.Query); q != "" {
		parts = append(parts, q)
	}
	if req.Occasion != "" {
		parts = append(parts, fmt.Sprintf("%sのギフト", req.Occasion))
	}
	if req.Relationship != "" {
		parts = append(parts, fmt.Sprintf("%sへの贈り物", req.Relationship))
	}
	if len(req.Interests) > 0 {
		parts = append(parts, "興味: "+strings.Join(req.Interests, " "))
	}
	if req.RecipientAge > 0 {
		parts = append(parts, fmt.Sprintf("%d歳向け", req.RecipientAge))
	}
	history := req.History
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	parts = append(parts, history...)

	if len(parts) == 0 {
		return nil, nil
	}

	result, err := e.embedder.Embed(ctx, strings.Join(parts, " "))
	if err != nil {
		return nil, fmt.Errorf("failed to embed recommendation context: %w", err)
	}
	return result.Vector, nil
}

// gatherCandidates はコンテキスト検索と嗜好検索の2ソースから候補を集めます
// 両方の取得が完了（または前提条件が無くスキップ）してから結合し、
// IDで重複排除して除外指定を取り除きます
func (e *Engine) gatherCandidates(ctx context.Context, req Request, profile *models.UserPreferenceProfile, contextVector []float32, limit int) ([]*models.RecommendationCandidate, error) {
	poolSize := limit * candidatePoolMultiplier

	var contextResults, preferenceResults []*models.SearchResult

	g, gctx := errgroup.WithContext(ctx)

	if contextVector != nil {
		g.Go(func() error {
			results, err := e.searcher.FindSimilar(gctx, contextVector, search.Options{
				Threshold: e.cfg.SimilarityThreshold,
				Count:     poolSize,
			})
			if err != nil {
				return fmt.Errorf("context candidate search: %w", err)
			}
			contextResults = results
			return nil
		})
	}

	if profile != nil && profile.HasVector() && req.UserID != nil {
		g.Go(func() error {
			results, err := e.searcher.PersonalizedForUser(gctx, *req.UserID, poolSize)
			if err != nil {
				return fmt.Errorf("preference candidate search: %w", err)
			}
			preferenceResults = results
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	excluded := make(map[uuid.UUID]struct{}, len(req.ExcludeIDs))
	for _, id := range req.ExcludeIDs {
		excluded[id] = struct{}{}
	}

	seen := make(map[uuid.UUID]struct{})
	candidates := make([]*models.RecommendationCandidate, 0, len(contextResults)+len(preferenceResults))
	for _, result := range append(contextResults, preferenceResults...) {
		if _, ok := excluded[result.ProductID]; ok {
			continue
		}
		if _, ok := seen[result.ProductID]; ok {
			continue
		}
		seen[result.ProductID] = struct{}{}
		candidates = append(candidates, &models.RecommendationCandidate{
			ProductID:   result.ProductID,
			Title:       result.Title,
			Description: result.Description,
			Category:    result.Category,
			Price:       result.Price,
			Similarity:  result.Score,
		})
	}

	return candidates, nil
}

// scoreCandidates は各候補の嗜好スコア・コンテキストスコア・合成スコアを計算します
// 合成スコアの嗜好重みはプロファイルが存在する場合のみ有効で、
// コンテキスト重みは 1 - 嗜好重み として自動的に正規化されます
func (e *Engine) scoreCandidates(ctx context.Context, candidates []*models.RecommendationCandidate, req Request, profile *models.UserPreferenceProfile, contextVector []float32) error {
	var productVectors map[uuid.UUID][]float32
	if e.vectors != nil {
		ids := make([]uuid.UUID, 0, len(candidates))
		for _, c := range candidates {
			ids = append(ids, c.ProductID)
		}
		var err error
		productVectors, err = e.vectors.GetEmbeddingsByIDs(ctx, ids)
		if err != nil {
			return fmt.Errorf("failed to load candidate vectors: %w", err)
		}
	}

	hasProfile := profile != nil && profile.HasVector()
	preferenceWeight := 0.0
	if hasProfile {
		preferenceWeight = e.cfg.PreferenceWeight
	}

	for _, candidate := range candidates {
		productVector := productVectors[candidate.ProductID]

		candidate.PreferenceScore = e.preferenceScore(candidate, profile, productVector)
		candidate.ContextScore = e.contextScore(candidate, req, contextVector, productVector)
		candidate.CombinedScore = preferenceWeight*candidate.PreferenceScore + (1-preferenceWeight)*candidate.ContextScore
	}

	return nil
}

// preferenceScore は嗜好ベクトルとのコサイン類似度に
// カテゴリ一致（+0.1）と価格帯一致（+0.05）の加点をした値を返します（上限1.0）
func (e *Engine) preferenceScore(candidate *models.RecommendationCandidate, profile *models.UserPreferenceProfile, productVector []float32) float64 {
	if profile == nil || !profile.HasVector() || productVector == nil {
		return 0
	}

	score, err := search.CosineSimilarity(profile.Vector, productVector)
	if err != nil {
		return 0
	}

	if candidate.Category != nil && hasCategory(profile.TopCategories, *candidate.Category) {
		score += categoryBonus
	}

	if profile.PriceRange != nil &&
		candidate.Price >= profile.PriceRange.Min*0.8 &&
		candidate.Price <= profile.PriceRange.Max*1.2 {
		score += priceBonus
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// contextScore はコンテキストベクトルとの類似度を基礎に、
// 説明文に含まれる興味キーワード1件につき+0.1の加点をした値を返します（上限1.0）
func (e *Engine) contextScore(candidate *models.RecommendationCandidate, req Request, contextVector, productVector []float32) float64 {
	score := candidate.Similarity
	if contextVector != nil && productVector != nil {
		if sim, err := search.CosineSimilarity(contextVector, productVector); err == nil {
			score = sim
		}
	}

	if candidate.Description != nil && len(req.Interests) > 0 {
		description := strings.ToLower(*candidate.Description)
		for _, interest := range req.Interests {
			if interest == "" {
				continue
			}
			if strings.Contains(description, strings.ToLower(interest)) {
				score += interestBonus
			}
		}
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func hasCategory(categories []models.CategoryWeight, category string) bool {
	for _, c := range categories {
		if c.Category == category {
			return true
		}
	}
	return false
}

func valueOr(v *float64, fallback float64) float64 {
	if v != nil {
		return *v
	}
	return fallback
}
