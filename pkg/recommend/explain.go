package recommend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jinford/gift-rec/pkg/models"
)

const (
	// minConfidence は説明に付与する確信度の下限
	minConfidence = 0.5

	// fallbackReason は有効な要因が1つも無い場合の汎用的な理由
	fallbackReason = "人気の定番ギフトです"
)

// buildExplanation は推薦結果の説明を組み立てます
// 重み付き要因を集めて降順に並べ、最大の要因の説明を主要理由にします
// 確信度は max(嗜好スコア, コンテキストスコア, 0.5) で、0.5未満は報告しません
func buildExplanation(rec *models.Recommendation, req Request, profile *models.UserPreferenceProfile) *models.Explanation {
	factors := make([]models.ExplanationFactor, 0, 5)

	if profile != nil && rec.Category != nil && hasCategory(profile.TopCategories, *rec.Category) {
		factors = append(factors, models.ExplanationFactor{
			Name:        "category_match",
			Weight:      0.35,
			Description: fmt.Sprintf("よく選んでいるカテゴリ「%s」の商品です", *rec.Category),
		})
	}

	if profile != nil && profile.PriceRange != nil &&
		rec.Price >= profile.PriceRange.Min*0.8 &&
		rec.Price <= profile.PriceRange.Max*1.2 {
		factors = append(factors, models.ExplanationFactor{
			Name:        "price_match",
			Weight:      0.2,
			Description: "普段選んでいる価格帯に合っています",
		})
	}

	if req.Query != "" && rec.ContextScore > 0 {
		factors = append(factors, models.ExplanationFactor{
			Name:        "context_match",
			Weight:      rec.ContextScore * 0.5,
			Description: fmt.Sprintf("「%s」との関連度が高い商品です", req.Query),
		})
	}

	if req.Occasion != "" {
		factors = append(factors, models.ExplanationFactor{
			Name:        "occasion_match",
			Weight:      0.25,
			Description: fmt.Sprintf("%sの贈り物にふさわしい商品です", req.Occasion),
		})
	}

	if matched := matchedInterests(rec, req.Interests); len(matched) > 0 {
		factors = append(factors, models.ExplanationFactor{
			Name:        "interest_match",
			Weight:      0.3,
			Description: fmt.Sprintf("相手の興味（%s）に合っています", strings.Join(matched, "、")),
		})
	}

	sort.SliceStable(factors, func(i, j int) bool {
		return factors[i].Weight > factors[j].Weight
	})

	primary := fallbackReason
	if len(factors) > 0 {
		primary = factors[0].Description
	}

	confidence := rec.PreferenceScore
	if rec.ContextScore > confidence {
		confidence = rec.ContextScore
	}
	if confidence < minConfidence {
		confidence = minConfidence
	}

	return &models.Explanation{
		PrimaryReason: primary,
		Factors:       factors,
		Confidence:    confidence,
	}
}

func matchedInterests(rec *models.Recommendation, interests []string) []string {
	if rec.Description == nil || len(interests) == 0 {
		return nil
	}
	description := strings.ToLower(*rec.Description)
	matched := make([]string, 0, len(interests))
	for _, interest := range interests {
		if interest == "" {
			continue
		}
		if strings.Contains(description, strings.ToLower(interest)) {
			matched = append(matched, interest)
		}
	}
	return matched
}
