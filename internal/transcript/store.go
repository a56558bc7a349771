// Package transcript 提供每会话只追加的对话转写日志。
//
// 契约（append-first）：任何一轮对话先写转写，再更新会话状态，
// 保证从转写算出的轮数永远不落后于已存的评估状态。
package transcript

import (
	"context"
	"strings"

	"stagechat/internal/model"
)

// Store 是转写日志的存储抽象。同一会话内记录顺序即追加顺序；
// 转写只追加、不改写，删除只发生在整个会话被删除时。
type Store interface {
	// Append 追加一条消息轮次，成功返回即已落盘。
	Append(ctx context.Context, sessionID string, turn model.Turn) error
	// AppendSystem 在会话创建/续接时写入一条 system 头记录（不算轮次）。
	AppendSystem(ctx context.Context, sessionID, content, modelName string, resumed bool) error
	// List 按时间序返回全部消息轮次，role 已归一化为 user/assistant。
	List(ctx context.Context, sessionID string) ([]model.Turn, error)
	// Delete 删除该会话的整个转写日志。
	Delete(ctx context.Context, sessionID string) error
}

// RoundCount 返回已完成的轮数。一轮 = 一条用户消息 + 一条角色回复，
// 因此轮数即角色侧消息条数（与 min(user, assistant) 等价，
// 因为消息严格按 用户→角色 交替追加）。
func RoundCount(turns []model.Turn) int {
	n := 0
	for _, t := range turns {
		if t.Role == model.RoleAssistant {
			n++
		}
	}
	return n
}

// LastNRounds 返回最近 n 轮消息；不足 n 轮时返回全部。纯读取。
func LastNRounds(turns []model.Turn, n int) []model.Turn {
	if n <= 0 {
		return turns
	}
	need := n * 2
	if len(turns) > need {
		return turns[len(turns)-need:]
	}
	return turns
}

// RenderDialogue 把轮次渲染成给评估模型看的纯文本台本，
// 说话人标签归一化为 用户 / 角色。空转写返回占位文案。
func RenderDialogue(turns []model.Turn) string {
	if len(turns) == 0 {
		return "（暂无对话）"
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		who := "角色"
		if t.Role == model.RoleUser {
			who = "用户"
		}
		lines = append(lines, who+": "+t.Text)
	}
	return strings.Join(lines, "\n\n")
}
