package models

import (
	"time"

	"github.com/google/uuid"
)

// InteractionType はユーザー行動の種別
type InteractionType string

const (
	InteractionView      InteractionType = "view"
	InteractionClick     InteractionType = "click"
	InteractionAddToCart InteractionType = "add_to_cart"
	InteractionPurchase  InteractionType = "purchase"
	InteractionSave      InteractionType = "save"
	InteractionSearch    InteractionType = "search"
)

// Interaction はユーザーの行動イベントを表します
// 追記専用であり、一度記録されたイベントは変更されません
type Interaction struct {
	ID        uuid.UUID         `json:"id"`
	UserID    uuid.UUID         `json:"userID"`
	ProductID *uuid.UUID        `json:"productID,omitempty"`
	Query     *string           `json:"query,omitempty"`
	Type      InteractionType   `json:"type"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// IsIntentful は購買意図の強い行動かどうかを返します
// 価格帯の推定にはこれらの行動のみを使用します
func (i *Interaction) IsIntentful() bool {
	switch i.Type {
	case InteractionPurchase, InteractionAddToCart, InteractionSave:
		return true
	default:
		return false
	}
}
