package search

import (
	"fmt"
	"math"

	"github.com/jinford/gift-rec/pkg/embedding"
)

// CosineSimilarity は2つのベクトルのコサイン類似度を計算します
// 次元が一致しない場合はErrDimensionMismatchを返します
// どちらかのベクトルの大きさが0の場合はNaNではなく0を返します
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", embedding.ErrDimensionMismatch, len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// Normalize はベクトルをL2正規化した新しいベクトルを返します
// 大きさ0のベクトルはそのままコピーを返します
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}

	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}

	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
