package embedding

import "github.com/pkoukk/tiktoken-go"

// DefaultModel は価格表に存在しないモデルのフォールバック先
const DefaultModel = "text-embedding-3-small"

// modelPricing はモデルごとの100万トークンあたりの価格（USD）
var modelPricing = map[string]float64{
	"text-embedding-3-small": 0.02,
	"text-embedding-3-large": 0.13,
	"text-embedding-ada-002": 0.10,
}

// Cost はトークン数からAPI利用コスト（USD）を計算します
// 未知のモデルはデフォルトモデルの価格にフォールバックします
func Cost(tokens int, model string) float64 {
	price, ok := modelPricing[model]
	if !ok {
		price = modelPricing[DefaultModel]
	}
	return float64(tokens) / 1_000_000 * price
}

// CountTokens はテキストのトークン数を数えます
// トークナイザが利用できない場合は4文字≒1トークンの近似値を返します
func CountTokens(text, model string) int {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return len(text) / 4
		}
	}
	return len(enc.Encode(text, nil, nil))
}
