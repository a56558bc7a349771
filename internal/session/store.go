package session

import (
	"context"
	"errors"

	"stagechat/internal/model"
)

var ErrNotFound = errors.New("session not found")

// Store 是会话状态的持久化抽象：每个 session 一条记录，整条读写。
// Save 返回成功即已落盘（durable），评估状态的整组字段必须随同一次
// Save 原子更新，不允许部分写入。
type Store interface {
	Get(ctx context.Context, id string) (*model.SessionState, error)
	Save(ctx context.Context, state *model.SessionState) error
	Delete(ctx context.Context, id string) error
	// List 返回全部会话摘要，按 UpdatedAt 倒序。
	List(ctx context.Context) ([]model.SessionSummary, error)
	// Current / SetCurrent 记录“上次使用的会话”，重启后续聊。
	Current(ctx context.Context) (string, error)
	SetCurrent(ctx context.Context, id string) error
}
