package model

import "time"

// Role 只取两个值：用户侧与角色侧。日志里出现的其他 role 一律归一化。
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn 表示对话中的一个轮次（一条消息）。
type Turn struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	TS   time.Time `json:"ts"`
}

// EvaluationState 是阶段状态机的记忆，随 Session 持久化。
//
// 不变式：EffectiveStage 只能由 stage.Resolve 推导写入，
// 其值始终由 LastStagePS / PreviousStagePS 决定，不存在其他写入路径。
type EvaluationState struct {
	// DimensionScores 是最近一次成功评估的四个维度分（0-10），
	// 顺序固定为 evaluation.DimensionKeys。新会话初始为全 0。
	DimensionScores [4]float64 `json:"evaluation_dimensions"`
	// AggregateScore 即 S：四维的算术平均，保留两位小数。
	AggregateScore float64 `json:"evaluation_s"`
	// PreviousStagePS 是上上次评估周期记录的 PS；第二次评估前为 nil。
	PreviousStagePS *float64 `json:"previous_stage_ps"`
	// LastStagePS 是最近一次评估周期记录的 PS；首次评估前为 nil，
	// 因此它同时充当“是否已有过成功评估”的标记。
	LastStagePS *float64 `json:"last_stage_ps"`
	// EffectiveStage 是实际用于选择人设的阶段，取值 {1,2,3}。
	EffectiveStage int `json:"effective_stage"`
	// StageDowngraded 表示最近一次评估是否触发了降级。
	StageDowngraded bool `json:"stage_downgraded"`
}

// Evaluated 报告该会话是否已经有过至少一次成功评估。
func (e *EvaluationState) Evaluated() bool {
	return e.LastStagePS != nil
}

// NewEvaluationState 返回新会话的初始评估状态。
func NewEvaluationState() EvaluationState {
	return EvaluationState{EffectiveStage: 1}
}

// SessionState 保存一个会话的全部可变状态，按 SessionID 持久化为单条记录。
// 会话之间互不共享状态；删除会话即删除该记录与其转写日志。
type SessionState struct {
	SessionID string `json:"session_id"`
	// Name 是用户给会话起的显示名，可为空。
	Name string `json:"name,omitempty"`
	// PromptFile 是 systemprompt 目录下的角色文件名（含 .txt）。
	// 为空表示使用默认人设（旧会话兼容）。
	PromptFile string `json:"prompt_file,omitempty"`
	// PreviousResponseID 是远端模型侧的对话续接句柄；为空表示下一次
	// chat 调用需要以阶段1人设作为 system 指令重新开始。
	PreviousResponseID string `json:"previous_response_id,omitempty"`
	Model              string `json:"model,omitempty"`
	// DisplayImage 取 "prompt"（用角色原图）或 "generated"（用生成图）。
	DisplayImage string `json:"display_image,omitempty"`

	Evaluation EvaluationState `json:"evaluation"`

	UpdatedAt time.Time `json:"updated_at"`
}

// EvaluationSnapshot 是暴露给 UI 层的评估快照，读取幂等。
type EvaluationSnapshot struct {
	SessionID string `json:"session_id"`
	// Scores 按维度名给出最近一次评估的分值；尚无评估时为 nil。
	Scores          map[string]float64 `json:"scores"`
	EvaluationS     float64            `json:"evaluation_s"`
	PreviousStagePS *float64           `json:"previous_stage_ps"`
	NewStagePS      *float64           `json:"new_stage_ps"`
	StageDowngraded bool               `json:"stage_downgraded"`
	EffectiveStage  int                `json:"effective_stage"`
}

// ChatReply 是提交用户消息后的完整结果。
type ChatReply struct {
	Reply               string             `json:"reply"`
	DisplayImageUpdated bool               `json:"display_image_updated"`
	Snapshot            EvaluationSnapshot `json:"snapshot"`
}

// SessionSummary 是会话列表项。
type SessionSummary struct {
	SessionID  string    `json:"session_id"`
	Name       string    `json:"name,omitempty"`
	PromptFile string    `json:"prompt_file,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}
