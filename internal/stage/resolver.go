// Package stage 实现阶段状态机：总评值 S 映射到三档人设阶段，
// 并带一条滞回降级规则——本周期 PS 低于上一周期 PS 时阶段降一档，
// 每个周期最多降一档，不会跨档。
package stage

import (
	"math"

	"stagechat/internal/model"
)

// ShouldEvaluate 报告当前轮数是否命中评估周期。
// PS 只在每 interval 轮（5、10、15…）计算一次；其余轮数不做任何计算，
// 评估状态原样保留。interval<=0 按默认 5 处理。
func ShouldEvaluate(roundCount, interval int) bool {
	if interval <= 0 {
		interval = 5
	}
	return roundCount >= interval && roundCount%interval == 0
}

// FromScore 返回仅由 S 决定的阶段：S<3 为 1，S<6 为 2，其余为 3。
// 边界取高档：S=3 属阶段 2，S=6 属阶段 3。
func FromScore(s float64) int {
	switch {
	case s < 3:
		return 1
	case s < 6:
		return 2
	default:
		return 3
	}
}

// Resolve 在一个命中的评估周期内，用新的四维分值推进状态机，
// 返回整组更新后的评估状态（调用方必须把它作为一条记录原子持久化）。
//
// 降级规则只回看紧邻的上一个周期：ps_new < previous 即判定回落，
// 阶段取 max(1, stage_from_s-1)。刻意不看更长的趋势——单次回落立刻
// 受罚，但每周期最多降一档，限制人设硬化的速度。
func Resolve(prev model.EvaluationState, dims [4]float64) model.EvaluationState {
	s := (dims[0] + dims[1] + dims[2] + dims[3]) / 4
	psNew := round2(s)
	stageFromS := FromScore(s)

	// 历史平移：上一周期的 PS 变成 previous，本周期的成为 last。
	previousPS := prev.LastStagePS

	next := model.EvaluationState{
		DimensionScores: dims,
		AggregateScore:  psNew,
		PreviousStagePS: previousPS,
		LastStagePS:     &psNew,
		EffectiveStage:  stageFromS,
		StageDowngraded: false,
	}
	if previousPS != nil && psNew < *previousPS {
		next.EffectiveStage = maxInt(1, stageFromS-1)
		next.StageDowngraded = true
	}
	return next
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
