package models

import (
	"time"

	"github.com/google/uuid"
)

// CategoryWeight は重み付きカテゴリスコア
type CategoryWeight struct {
	Category string  `json:"category"`
	Weight   float64 `json:"weight"`
}

// PriceRange は観測された価格帯
type PriceRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// UserPreferenceProfile はユーザーの嗜好プロファイルを表します
// 行動履歴から再計算されるサマリであり、キャッシュ対象です
type UserPreferenceProfile struct {
	UserID           uuid.UUID        `json:"userID"`
	Vector           []float32        `json:"-"`
	InteractionCount int              `json:"interactionCount"`
	TopCategories    []CategoryWeight `json:"topCategories,omitempty"`
	PriceRange       *PriceRange      `json:"priceRange,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// HasVector は嗜好ベクトルが計算済みかどうかを返します
func (p *UserPreferenceProfile) HasVector() bool {
	return len(p.Vector) > 0
}
