package embedding

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeParseRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
	}{
		{
			name:   "正常: 正の値のみ",
			vector: []float32{0.1, 0.2, 0.3},
		},
		{
			name:   "正常: 負の値を含む",
			vector: []float32{-0.5, 0.0, 1.25, -3.75},
		},
		{
			name:   "正常: 非常に小さい値",
			vector: []float32{1e-7, -1e-7},
		},
		{
			name:   "正常: 空のベクトル",
			vector: []float32{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := SerializeVector(tt.vector)
			parsed, err := ParseVector(text)
			require.NoError(t, err)
			assert.Equal(t, tt.vector, parsed)
		})
	}
}

func TestParseVector(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []float32
		wantErr bool
	}{
		{
			name:  "正常: 標準形式",
			input: "[0.1,0.2,0.3]",
			want:  []float32{0.1, 0.2, 0.3},
		},
		{
			name:  "正常: 要素間の空白を許容",
			input: "[ 0.1 , -0.2 , 0.3 ]",
			want:  []float32{0.1, -0.2, 0.3},
		},
		{
			name:  "正常: 前後の空白を許容",
			input: "  [1,2]  ",
			want:  []float32{1, 2},
		},
		{
			name:  "正常: 空のベクトル",
			input: "[]",
			want:  []float32{},
		},
		{
			name:    "エラー処理: 括弧なし",
			input:   "0.1,0.2",
			wantErr: true,
		},
		{
			name:    "エラー処理: 数値でない要素",
			input:   "[0.1,abc]",
			wantErr: true,
		},
		{
			name:    "エラー処理: 空文字列",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVector(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		vector      []float32
		expectedDim int
		want        bool
	}{
		{
			name:        "正常: 次元一致の有限値",
			vector:      []float32{0.1, 0.2, 0.3},
			expectedDim: 3,
			want:        true,
		},
		{
			name:        "異常: 次元不一致",
			vector:      []float32{0.1, 0.2},
			expectedDim: 3,
			want:        false,
		},
		{
			name:        "異常: NaNを含む",
			vector:      []float32{0.1, float32(math.NaN())},
			expectedDim: 2,
			want:        false,
		},
		{
			name:        "異常: 無限大を含む",
			vector:      []float32{float32(math.Inf(1)), 0.2},
			expectedDim: 2,
			want:        false,
		},
		{
			name:        "異常: nilベクトル",
			vector:      nil,
			expectedDim: 3,
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Validate(tt.vector, tt.expectedDim))
		})
	}
}

func TestCost(t *testing.T) {
	tests := []struct {
		name   string
		tokens int
		model  string
		want   float64
	}{
		{
			name:   "正常: text-embedding-3-small",
			tokens: 1_000_000,
			model:  "text-embedding-3-small",
			want:   0.02,
		},
		{
			name:   "正常: text-embedding-3-large",
			tokens: 500_000,
			model:  "text-embedding-3-large",
			want:   0.065,
		},
		{
			name:   "正常: 未知のモデルはデフォルト価格にフォールバック",
			tokens: 1_000_000,
			model:  "unknown-model",
			want:   0.02,
		},
		{
			name:   "正常: 0トークン",
			tokens: 0,
			model:  "text-embedding-3-small",
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Cost(tt.tokens, tt.model), 1e-9)
		})
	}
}
