package recommend

import (
	"math/rand"
	"sync"
	"time"
)

// Source はMMRの探索ボーナスに使う乱数源
// 注入可能にしてあるため、テストでは決定的な実装に差し替えられます
type Source interface {
	// Float64 は [0,1) の一様乱数を返す
	Float64() float64
}

// randSource はmath/randベースのデフォルト実装
type randSource struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewRandomSource は新しい乱数源を作成します
func NewRandomSource() Source {
	return &randSource{r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *randSource) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Float64()
}

// ZeroSource は常に0を返す乱数源
// 探索ボーナスを無効化してMMRを完全に再現可能にします
type ZeroSource struct{}

func (ZeroSource) Float64() float64 { return 0 }
