package embedding

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Validate はベクトルが期待する次元数の有限値列であるかを検証します
func Validate(vector []float32, expectedDim int) bool {
	if len(vector) != expectedDim {
		return false
	}
	for _, v := range vector {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

// SerializeVector はベクトルをデータストア用のテキスト形式 [v0,v1,...] に変換します
func SerializeVector(vector []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range vector {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// ParseVector はテキスト形式のベクトルをパースします
// 前後および要素間の空白は許容します
func ParseVector(text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "[") || !strings.HasSuffix(text, "]") {
		return nil, fmt.Errorf("invalid vector literal: missing brackets")
	}

	inner := strings.TrimSpace(text[1 : len(text)-1])
	if inner == "" {
		return []float32{}, nil
	}

	parts := strings.Split(inner, ",")
	vector := make([]float32, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector element %d: %w", i, err)
		}
		vector[i] = float32(v)
	}

	return vector, nil
}
