package models

import (
	"time"

	"github.com/google/uuid"
)

// Product はギフト候補となる商品を表します
// 商品のライフサイクル（CRUD）はAPI層が管理し、
// このコアはEmbedding対象テキストの構築とベクトルの読み書きのみを行います
type Product struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description *string   `json:"description,omitempty"`
	Category    *string   `json:"category,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Price       float64   `json:"price"`
	HasVector   bool      `json:"hasVector"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// SearchableText はEmbedding入力となるテキストを構築します
// タイトル・説明（500文字まで）・カテゴリ・タグ（先頭5件）を連結します
func (p *Product) SearchableText() string {
	text := p.Title

	if p.Description != nil && *p.Description != "" {
		desc := *p.Description
		// マルチバイト文字を壊さないよう文字数（ルーン数）で切り詰める
		if runes := []rune(desc); len(runes) > 500 {
			desc = string(runes[:500])
		}
		text += " " + desc
	}

	if p.Category != nil && *p.Category != "" {
		text += " " + *p.Category
	}

	tags := p.Tags
	if len(tags) > 5 {
		tags = tags[:5]
	}
	for _, tag := range tags {
		text += " " + tag
	}

	return text
}
