package models

import "github.com/google/uuid"

// RecommendationCandidate は候補取得段階の商品とスコアを表します
type RecommendationCandidate struct {
	ProductID   uuid.UUID `json:"productID"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Price       float64   `json:"price"`

	// Similarity は取得元検索での生の類似度
	Similarity float64 `json:"similarity"`

	// スコアリング後に設定される値
	PreferenceScore float64 `json:"preferenceScore"`
	ContextScore    float64 `json:"contextScore"`
	CombinedScore   float64 `json:"combinedScore"`
}

// ExplanationFactor は推薦理由を構成する重み付き要因
type ExplanationFactor struct {
	Name        string  `json:"name"`
	Weight      float64 `json:"weight"`
	Description string  `json:"description"`
}

// Explanation は推薦結果に付与される説明
type Explanation struct {
	PrimaryReason string              `json:"primaryReason"`
	Factors       []ExplanationFactor `json:"factors,omitempty"`
	Confidence    float64             `json:"confidence"`
}

// Recommendation は最終的な推薦結果を表します
type Recommendation struct {
	RecommendationCandidate

	// DiversityScore はMMR選択時のスコア（多様化を行わない場合は0）
	DiversityScore float64      `json:"diversityScore"`
	Explanation    *Explanation `json:"explanation,omitempty"`
}
