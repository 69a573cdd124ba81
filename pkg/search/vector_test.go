package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/gift-rec/pkg/embedding"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name    string
		a       []float32
		b       []float32
		want    float64
		wantErr error
	}{
		{
			name: "正常: 同一ベクトルは1",
			a:    []float32{0.3, 0.4, 0.5},
			b:    []float32{0.3, 0.4, 0.5},
			want: 1.0,
		},
		{
			name: "正常: 逆向きベクトルは-1",
			a:    []float32{1, 2, 3},
			b:    []float32{-1, -2, -3},
			want: -1.0,
		},
		{
			name: "正常: 直交ベクトルは0",
			a:    []float32{1, 0},
			b:    []float32{0, 1},
			want: 0,
		},
		{
			name: "正常: ゼロベクトルはNaNではなく0",
			a:    []float32{0, 0, 0},
			b:    []float32{1, 2, 3},
			want: 0,
		},
		{
			name:    "エラー処理: 次元不一致",
			a:       []float32{1, 2},
			b:       []float32{1, 2, 3},
			wantErr: embedding.ErrDimensionMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CosineSimilarity(tt.a, tt.b)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
			assert.False(t, math.IsNaN(got))
		})
	}
}

func TestNormalize(t *testing.T) {
	t.Run("正常: L2ノルムが1になる", func(t *testing.T) {
		out := Normalize([]float32{3, 4})
		assert.InDelta(t, 0.6, float64(out[0]), 1e-6)
		assert.InDelta(t, 0.8, float64(out[1]), 1e-6)

		var norm float64
		for _, v := range out {
			norm += float64(v) * float64(v)
		}
		assert.InDelta(t, 1.0, norm, 1e-6)
	})

	t.Run("正常: ゼロベクトルはコピーを返す", func(t *testing.T) {
		in := []float32{0, 0, 0}
		out := Normalize(in)
		assert.Equal(t, in, out)
	})

	t.Run("正常: 入力を変更しない", func(t *testing.T) {
		in := []float32{3, 4}
		Normalize(in)
		assert.Equal(t, []float32{3, 4}, in)
	})
}
