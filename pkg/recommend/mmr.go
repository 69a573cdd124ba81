package recommend

import (
	"math"
	"sort"

	"github.com/jinford/gift-rec/pkg/models"
)

// ProxySimilarityFunc は多様化に使う候補間の類似度関数
type ProxySimilarityFunc func(a, b *models.RecommendationCandidate) float64

// MMR はMaximal Marginal Relevanceによる多様化再ランキングです
//
//	MMR = argmax[ lambda*relevance - (1-lambda)*max(sim(i, s)) + explorationBonus ]
//
// lambda = 1 - diversityThreshold - explorationFactor で、
// 関連度と既選択結果への冗長性のバランスを取ります
// explorationBonusは候補ごと・反復ごとに独立に引く一様乱数なので、
// スコアが拮抗した候補の順序は実行ごとに変わり得ます（仕様上の非決定性）
type MMR struct {
	DiversityThreshold float64
	ExplorationFactor  float64

	// Proxy は候補間の類似度関数（省略時はカテゴリ＋価格比の近似）
	Proxy ProxySimilarityFunc

	// Rand は探索ボーナスの乱数源（省略時はZeroSource）
	Rand Source
}

// Rerank は候補リストを多様化しながら上位k件を選択します
// 最高スコアの候補は必ず先頭に残します
func (m *MMR) Rerank(candidates []*models.RecommendationCandidate, k int) []*models.Recommendation {
	if len(candidates) == 0 || k <= 0 {
		return []*models.Recommendation{}
	}
	if k > len(candidates) {
		k = len(candidates)
	}

	proxy := m.Proxy
	if proxy == nil {
		proxy = ProxySimilarity
	}
	random := m.Rand
	if random == nil {
		random = ZeroSource{}
	}

	lambda := 1 - m.DiversityThreshold - m.ExplorationFactor
	if lambda < 0 {
		lambda = 0
	}
	if lambda > 1 {
		lambda = 1
	}

	pool := make([]*models.RecommendationCandidate, len(candidates))
	copy(pool, candidates)
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].CombinedScore > pool[j].CombinedScore
	})

	// 最高スコアの候補は無条件で先頭に選ぶ
	selected := make([]*models.Recommendation, 0, k)
	selected = append(selected, &models.Recommendation{
		RecommendationCandidate: *pool[0],
		DiversityScore:          pool[0].CombinedScore,
	})
	pool = pool[1:]

	for len(selected) < k && len(pool) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)

		for i, candidate := range pool {
			maxSim := 0.0
			for _, s := range selected {
				sim := proxy(&s.RecommendationCandidate, candidate)
				if sim > maxSim {
					maxSim = sim
				}
			}

			bonus := 0.0
			if m.ExplorationFactor > 0 {
				bonus = random.Float64() * m.ExplorationFactor
			}

			score := lambda*candidate.CombinedScore - (1-lambda)*maxSim + bonus
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		if bestIdx < 0 {
			break
		}

		picked := pool[bestIdx]
		selected = append(selected, &models.Recommendation{
			RecommendationCandidate: *picked,
			DiversityScore:          bestScore,
		})
		pool = append(pool[:bestIdx], pool[bestIdx+1:]...)
	}

	return selected
}

// ProxySimilarity はカテゴリ一致と価格比から候補間の類似度を近似します
// Embeddingのコサイン類似度ではなく軽量な近似を使うのは意図的な
// 性能と品質のトレードオフです（真のコサインへの差し替えはProxyで可能）
func ProxySimilarity(a, b *models.RecommendationCandidate) float64 {
	sim := 0.0

	if a.Category != nil && b.Category != nil && *a.Category == *b.Category {
		sim += 0.5
	}

	if a.Price > 0 && b.Price > 0 {
		ratio := a.Price / b.Price
		if ratio > 1 {
			ratio = 1 / ratio
		}
		sim += ratio * 0.3
	}

	return sim
}
