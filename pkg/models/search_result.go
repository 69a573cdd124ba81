package models

import "github.com/google/uuid"

// SearchResult はベクトル検索の結果を表します
// スコアはコサイン類似度（-1〜1）またはハイブリッド検索の合成スコアです
type SearchResult struct {
	ProductID   uuid.UUID `json:"productID"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Price       float64   `json:"price"`
	Score       float64   `json:"score"`
}
