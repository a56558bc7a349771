package stage

import (
	"fmt"
	"strings"
)

// 三阶段人设文件的分隔符：角色 .txt 内依次是 阶段1 / 阶段2 / 阶段3。
const (
	StageDelimiter2 = "--- 阶段2 ---"
	StageDelimiter3 = "--- 阶段3 ---"
)

// SFWInstruction 是内容安全覆盖指令，独立于阶段本身，
// 在 SFW 覆盖生效时直接前置到发往模型的消息上。
const SFWInstruction = "[Keep your reply SFW; avoid explicit sexual or adult content.] "

// PersonaDocument 是解析后的三档人设。只有 Stage1 保证非空；
// Stage2/Stage3 为空表示该档回退到 Stage1。
type PersonaDocument struct {
	Stage1 string
	Stage2 string
	Stage3 string
}

// ParseStaged 解析三阶段人设文本。没有阶段2分隔符时整篇算阶段1；
// 有阶段2没阶段3时剩余部分全归阶段2。
func ParseStaged(content string) PersonaDocument {
	content = strings.TrimSpace(content)
	if !strings.Contains(content, StageDelimiter2) {
		return PersonaDocument{Stage1: content}
	}
	parts := strings.SplitN(content, StageDelimiter2, 2)
	doc := PersonaDocument{Stage1: strings.TrimSpace(parts[0])}
	rest := strings.TrimSpace(parts[1])
	if !strings.Contains(rest, StageDelimiter3) {
		doc.Stage2 = rest
		return doc
	}
	parts = strings.SplitN(rest, StageDelimiter3, 2)
	doc.Stage2 = strings.TrimSpace(parts[0])
	doc.Stage3 = strings.TrimSpace(parts[1])
	return doc
}

// Tier 返回指定阶段实际生效的人设文本：
// 阶段 2/3 为空时回退到阶段 1。纯查表，无副作用。
func (d PersonaDocument) Tier(stage int) string {
	switch stage {
	case 2:
		if d.Stage2 != "" {
			return d.Stage2
		}
	case 3:
		if d.Stage3 != "" {
			return d.Stage3
		}
	}
	return d.Stage1
}

// Preamble 生成发往聊天模型的阶段披露前缀。阶段 2/3 且对应档
// 文本非空时，把该档人设整体内联进前缀；否则只披露当前 S 值。
func Preamble(s float64, stage int, doc PersonaDocument) string {
	switch stage {
	case 2:
		if doc.Stage2 != "" {
			return fmt.Sprintf("[当前总评值 S=%.1f，阶段2。请按以下人设回复：\n\n%s\n]\n\n", s, doc.Stage2)
		}
		return fmt.Sprintf("[当前总评值 S=%.1f。]\n\n", s)
	case 3:
		if doc.Stage3 != "" {
			return fmt.Sprintf("[当前总评值 S=%.1f，阶段3。请按以下人设回复：\n\n%s\n]\n\n", s, doc.Stage3)
		}
		return fmt.Sprintf("[当前总评值 S=%.1f。]\n\n", s)
	default:
		return fmt.Sprintf("[当前总评值 S=%.1f，阶段1。]\n\n", s)
	}
}

// NeedSFWOverride 报告是否触发全局内容安全覆盖：
// 首列维度分低于 7 即触发，与阶段无关。新会话的初始全 0 分
// 也会触发，直到首次评估把分数抬上去。
func NeedSFWOverride(dims [4]float64) bool {
	return dims[0] < 7
}
