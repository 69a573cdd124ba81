package benchmark

import (
	"fmt"
	"time"
)

const (
	// targetP95 は検索操作のp95レイテンシ目標
	targetP95 = 500 * time.Millisecond

	// targetRecall は近似検索の再現率目標
	targetRecall = 0.9

	// minThroughput は検索操作のスループット下限（ops/sec）
	minThroughput = 5.0
)

// Recommendations は計測結果から固定しきい値のルール表で
// チューニングの推奨事項を生成します（モデルではなく単純なルール）
func Recommendations(stats []*Stats, points []*EffortPoint) []string {
	advice := make([]string, 0)

	for _, s := range stats {
		if s.P95 > targetP95 {
			advice = append(advice, fmt.Sprintf(
				"%s: p95レイテンシ(%s)が目標(%s)を超えています。ef_searchを下げるかインデックス構成を見直してください",
				s.Operation, s.P95, targetP95))
		}
		if s.Throughput > 0 && s.Throughput < minThroughput {
			advice = append(advice, fmt.Sprintf(
				"%s: スループット(%.1f ops/sec)が低すぎます。接続プールサイズと同時実行数を確認してください",
				s.Operation, s.Throughput))
		}
		if s.Errors > 0 {
			advice = append(advice, fmt.Sprintf(
				"%s: %d回の実行が失敗しました。ログでエラー内容を確認してください",
				s.Operation, s.Errors))
		}
	}

	for _, p := range points {
		if p.Recall < targetRecall {
			advice = append(advice, fmt.Sprintf(
				"ef_search=%d: 再現率(%.2f)が目標(%.2f)を下回っています。ef_searchを上げてください",
				p.Effort, p.Recall, targetRecall))
		}
	}

	if len(advice) == 0 {
		advice = append(advice, "すべての計測値が目標範囲内です")
	}
	return advice
}
