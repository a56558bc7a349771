// Package evaluation 实现关系评估代理：把最近的对话窗口交给评分模型，
// 按固定量规解析出四维分值。评分请求必须是全新的无状态会话，
// 绝不续接角色扮演的上下文，评估与聊天互不污染。
package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ScoringClient 是评分模型的最小接口：一次无状态调用，返回原始文本。
type ScoringClient interface {
	Score(ctx context.Context, systemPrompt, userMessage string) (string, error)
}

// Scores 是一次成功评估的四维结果，已截断到 [0,10] 并取整。
type Scores struct {
	EmotionalIntimacy                int `json:"emotional_intimacy"`
	PossessivenessJealousy           int `json:"possessiveness_jealousy"`
	TestingTrustBuilding             int `json:"testing_trust_building"`
	SexualAttractionPhysicalIntimacy int `json:"sexual_attraction_physical_intimacy"`
}

// Values 按 DimensionKeys 的固定顺序返回分值。
func (s Scores) Values() [4]float64 {
	return [4]float64{
		float64(s.EmotionalIntimacy),
		float64(s.PossessivenessJealousy),
		float64(s.TestingTrustBuilding),
		float64(s.SexualAttractionPhysicalIntimacy),
	}
}

// Mean 返回总评值 S：四维的无权重算术平均。
func (s Scores) Mean() float64 {
	v := s.Values()
	return (v[0] + v[1] + v[2] + v[3]) / 4
}

// ParseError 表示评分模型的输出不符合量规要求。
// 调用方应重试，而不是用默认值顶替缺失的维度。
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "invalid evaluation output: " + e.Reason
}

// ErrExhausted 表示重试额度用尽后评估仍然失败。
// 区别于单次的 ParseError：这一评估周期已永久失败，
// 调用方应回退到上一次的存量分值（若有）。
var ErrExhausted = errors.New("evaluation failed after all retries")

// Evaluator 对评分模型发起评估并严格解析结果。
type Evaluator struct {
	maxRetries int
}

// New 创建 Evaluator。maxRetries 是总尝试次数（含第一次），默认 3。
func New(maxRetries int) *Evaluator {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Evaluator{maxRetries: maxRetries}
}

// Evaluate 发起至多 maxRetries 次评分调用，第一次成功即返回。
// 全部失败时返回包着最后一次原因的 ErrExhausted。
func (e *Evaluator) Evaluate(ctx context.Context, client ScoringClient, characterName, dialogue string) (Scores, error) {
	userMsg := UserMessage(characterName, dialogue)
	var lastErr error
	for i := 0; i < e.maxRetries; i++ {
		raw, err := client.Score(ctx, RubricPrompt(), userMsg)
		if err != nil {
			lastErr = err
			continue
		}
		scores, err := ParseScores(raw)
		if err != nil {
			lastErr = err
			continue
		}
		return scores, nil
	}
	return Scores{}, fmt.Errorf("%w: %v", ErrExhausted, lastErr)
}

// ParseScores 严格解析评分模型的回复：
//   - 允许（且仅允许）整体包一层 markdown 代码围栏，先剥掉；
//   - 必须是合法 JSON 对象；
//   - 四个维度键必须齐全且为数字，缺一即失败；
//   - 数值截断到 [0,10] 并四舍五入为整数。
func ParseScores(raw string) (Scores, error) {
	raw = stripCodeFence(strings.TrimSpace(raw))

	var data map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return Scores{}, &ParseError{Reason: "not a JSON object"}
	}

	var vals [4]int
	for i, key := range DimensionKeys {
		rawVal, ok := data[key]
		if !ok {
			return Scores{}, &ParseError{Reason: "missing dimension " + key}
		}
		var f float64
		if err := json.Unmarshal(rawVal, &f); err != nil {
			return Scores{}, &ParseError{Reason: "dimension " + key + " is not numeric"}
		}
		vals[i] = clampScore(f)
	}

	return Scores{
		EmotionalIntimacy:                vals[0],
		PossessivenessJealousy:           vals[1],
		TestingTrustBuilding:             vals[2],
		SexualAttractionPhysicalIntimacy: vals[3],
	}, nil
}

func clampScore(v float64) int {
	n := int(math.Round(v))
	if n < 0 {
		return 0
	}
	if n > 10 {
		return 10
	}
	return n
}

// stripCodeFence 剥掉可选的 ``` 围栏（含 ```json 这类带语言标记的）。
func stripCodeFence(raw string) string {
	if !strings.HasPrefix(raw, "```") {
		return raw
	}
	lines := strings.Split(raw, "\n")
	if strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
