// Package orchestrator 是对话驱动器：把转写日志、阶段状态机、
// 评估代理、人设库和远端模型客户端串成一条消息处理流水线。
//
// 写入顺序是固定契约：先追加转写（durable），再更新评估状态。
// 评估失败永远不打断聊天，只按回退规则降级处理。
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"stagechat/internal/evaluation"
	"stagechat/internal/illustrator"
	"stagechat/internal/llm"
	"stagechat/internal/logger"
	"stagechat/internal/model"
	"stagechat/internal/session"
	"stagechat/internal/stage"
	"stagechat/internal/transcript"
)

// ErrEvaluationUnavailable 表示评估周期失败且没有任何存量分值可回退。
var ErrEvaluationUnavailable = errors.New("evaluation unavailable")

// ModelClient 聚合一次请求所需的全部远端模型能力。
// *llm.Client 是生产实现；测试用假实现注入。
type ModelClient interface {
	Chat(ctx context.Context, req llm.ChatRequest) (llm.ChatResult, error)
	Score(ctx context.Context, systemPrompt, userMessage string) (string, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
	DescribeImage(ctx context.Context, systemPrompt, question, imageDataURL string) (string, error)
}

// Illustrator 是配图副任务的注入点；nil 表示关闭配图。
type Illustrator interface {
	Trigger(replyCount int) bool
	Illustrate(ctx context.Context, client illustrator.ImageClient, sessionID string) bool
}

// Config 是驱动器的调参项。
type Config struct {
	// EvalIntervalRounds 是评估周期（每 N 轮评一次），默认 5。
	EvalIntervalRounds int
	// EvalWindowRounds 是每次评估回看的轮数，默认 5。
	EvalWindowRounds int
	// ModelName 记录在会话状态里，便于 UI 展示。
	ModelName string
}

// Orchestrator 驱动单条消息的完整生命周期。
// 自身无可变状态，所有会话状态都经 session.Store 读写，可并发使用。
type Orchestrator struct {
	cfg         Config
	sessions    session.Store
	transcripts transcript.Store
	library     *stage.Library
	evaluator   *evaluation.Evaluator
	illus       Illustrator
	log         *logger.Logger
	now         func() time.Time
}

func New(cfg Config, sessions session.Store, transcripts transcript.Store,
	library *stage.Library, evaluator *evaluation.Evaluator, illus Illustrator,
	log *logger.Logger) *Orchestrator {
	if cfg.EvalIntervalRounds <= 0 {
		cfg.EvalIntervalRounds = 5
	}
	if cfg.EvalWindowRounds <= 0 {
		cfg.EvalWindowRounds = 5
	}
	return &Orchestrator{
		cfg:         cfg,
		sessions:    sessions,
		transcripts: transcripts,
		library:     library,
		evaluator:   evaluator,
		illus:       illus,
		log:         log,
		now:         time.Now,
	}
}

// SetClock 注入测试用时钟。
func (o *Orchestrator) SetClock(now func() time.Time) { o.now = now }

// NewSession 创建一个全新会话：评估状态归零、阶段回到 1、
// 没有续接句柄。promptFile 不存在时回退到默认人设。
func (o *Orchestrator) NewSession(ctx context.Context, promptFile string) (*model.SessionState, error) {
	if promptFile != "" && !o.library.Exists(promptFile) {
		o.log.Warn("prompt file not found, using default persona", "prompt_file", promptFile)
		promptFile = ""
	}
	doc, err := o.library.Load(promptFile)
	if err != nil {
		return nil, err
	}

	state := &model.SessionState{
		SessionID:    uuid.NewString(),
		PromptFile:   promptFile,
		Model:        o.cfg.ModelName,
		DisplayImage: "prompt",
		Evaluation:   model.NewEvaluationState(),
		UpdatedAt:    o.now(),
	}

	// 转写先落盘，再写会话状态（append-first 契约）。
	if err := o.transcripts.AppendSystem(ctx, state.SessionID, doc.Stage1, o.cfg.ModelName, false); err != nil {
		return nil, err
	}
	if err := o.sessions.Save(ctx, state); err != nil {
		return nil, err
	}
	if err := o.sessions.SetCurrent(ctx, state.SessionID); err != nil {
		o.log.Warn("set current session failed", "session_id", state.SessionID, "error", err)
	}
	return state, nil
}

// ProcessMessage 处理一条用户消息：
//
//  1. 追加用户轮次（先于一切状态变更落盘）；
//  2. 已完成的轮数（角色回复数）命中评估周期时跑一次评估并推进
//     阶段状态机，失败只告警。第 5 轮在第 5 条回复落盘后才算完成，
//     因此评估发生在第 6 条用户消息处理时，并决定这条消息的前缀；
//  3. 按当前生效阶段组装前缀与 SFW 覆盖，发起聊天调用；
//  4. 追加角色轮次、保存续接句柄；
//  5. 命中配图周期时生成展示图（失败不影响回复）。
//
// 聊天调用失败时用户轮次已落盘，但不追加角色轮次、不改会话状态。
func (o *Orchestrator) ProcessMessage(ctx context.Context, client ModelClient, sessionID, userText string, nsfwAllowed bool) (*model.ChatReply, error) {
	state, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if err := o.transcripts.Append(ctx, sessionID, model.Turn{
		Role: model.RoleUser, Text: userText, TS: o.now(),
	}); err != nil {
		return nil, err
	}

	turns, err := o.transcripts.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	round := transcript.RoundCount(turns)

	if stage.ShouldEvaluate(round, o.cfg.EvalIntervalRounds) {
		if err := o.runEvaluation(ctx, client, state, turns); err != nil {
			// 评估失败不阻断聊天：沿用上一次的存量状态继续。
			o.log.Warn("evaluation cycle failed, keeping previous state",
				"session_id", sessionID, "round", round, "error", err)
		}
	}

	message := userText
	doc, docErr := o.library.Load(state.PromptFile)
	if docErr == nil {
		eval := state.Evaluation
		message = stage.Preamble(eval.AggregateScore, eval.EffectiveStage, doc) + message
		if stage.NeedSFWOverride(eval.DimensionScores) {
			nsfwAllowed = false
		}
	} else {
		o.log.Warn("load persona failed, sending message without stage preamble",
			"session_id", sessionID, "error", docErr)
	}
	if !nsfwAllowed {
		message = stage.SFWInstruction + message
	}

	req := llm.ChatRequest{Message: message}
	if state.PreviousResponseID != "" {
		req.PreviousResponseID = state.PreviousResponseID
	} else if docErr == nil {
		req.SystemPrompt = doc.Stage1
	}

	result, err := client.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := o.transcripts.Append(ctx, sessionID, model.Turn{
		Role: model.RoleAssistant, Text: result.Text, TS: o.now(),
	}); err != nil {
		return nil, err
	}

	state.PreviousResponseID = result.ResponseID
	state.Model = o.cfg.ModelName
	state.UpdatedAt = o.now()
	if err := o.sessions.Save(ctx, state); err != nil {
		return nil, err
	}

	displayUpdated := false
	replyCount := round + 1
	if o.illus != nil && o.illus.Trigger(replyCount) {
		displayUpdated = o.illus.Illustrate(ctx, client, sessionID)
	}

	return &model.ChatReply{
		Reply:               result.Text,
		DisplayImageUpdated: displayUpdated,
		Snapshot:            snapshotFrom(state),
	}, nil
}

// Evaluate 是显式评估入口，与 ProcessMessage 共用同一条周期规则：
//
//   - 轮数不命中周期：不发任何模型调用，原样返回存量快照；
//   - 命中且成功：推进状态机、持久化、返回新快照；
//   - 命中但重试耗尽：有存量分值则回退返回旧快照，
//     否则返回 ErrEvaluationUnavailable；两种情况状态都不动。
func (o *Orchestrator) Evaluate(ctx context.Context, client ModelClient, sessionID string) (*model.EvaluationSnapshot, error) {
	state, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	turns, err := o.transcripts.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	round := transcript.RoundCount(turns)

	if !stage.ShouldEvaluate(round, o.cfg.EvalIntervalRounds) {
		snap := snapshotFrom(state)
		return &snap, nil
	}

	if err := o.runEvaluation(ctx, client, state, turns); err != nil {
		if state.Evaluation.Evaluated() {
			o.log.Warn("evaluation failed, falling back to stored scores",
				"session_id", sessionID, "error", err)
			snap := snapshotFrom(state)
			return &snap, nil
		}
		return nil, ErrEvaluationUnavailable
	}

	snap := snapshotFrom(state)
	return &snap, nil
}

// Snapshot 返回当前存量评估快照，纯读取。
func (o *Orchestrator) Snapshot(ctx context.Context, sessionID string) (*model.EvaluationSnapshot, error) {
	state, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	snap := snapshotFrom(state)
	return &snap, nil
}

// runEvaluation 跑一个完整评估周期：取最近窗口、评分、推进状态机、
// 整组持久化。任何一步失败都不落任何写入，state 保持原值。
func (o *Orchestrator) runEvaluation(ctx context.Context, client ModelClient, state *model.SessionState, turns []model.Turn) error {
	// 台本只取完整轮次：刚追加、尚未被回复的用户消息不参与评估。
	if n := len(turns); n > 0 && turns[n-1].Role == model.RoleUser {
		turns = turns[:n-1]
	}
	window := transcript.LastNRounds(turns, o.cfg.EvalWindowRounds)
	dialogue := transcript.RenderDialogue(window)

	scores, err := o.evaluator.Evaluate(ctx, client, stage.CharacterName(state.PromptFile), dialogue)
	if err != nil {
		return err
	}

	next := stage.Resolve(state.Evaluation, scores.Values())
	prevStage := state.Evaluation.EffectiveStage
	state.Evaluation = next
	state.UpdatedAt = o.now()
	if err := o.sessions.Save(ctx, state); err != nil {
		return err
	}

	if next.StageDowngraded || next.EffectiveStage != prevStage {
		o.log.Info("stage transition",
			"session_id", state.SessionID,
			"s", next.AggregateScore,
			"stage", next.EffectiveStage,
			"downgraded", next.StageDowngraded)
	}
	return nil
}

// snapshotFrom 把持久化的评估状态映射成 UI 快照。
// 尚未有过成功评估时 Scores 为 nil，而不是一组误导性的全 0。
func snapshotFrom(state *model.SessionState) model.EvaluationSnapshot {
	snap := model.EvaluationSnapshot{
		SessionID:       state.SessionID,
		EvaluationS:     state.Evaluation.AggregateScore,
		PreviousStagePS: state.Evaluation.PreviousStagePS,
		NewStagePS:      state.Evaluation.LastStagePS,
		StageDowngraded: state.Evaluation.StageDowngraded,
		EffectiveStage:  state.Evaluation.EffectiveStage,
	}
	if state.Evaluation.Evaluated() {
		snap.Scores = make(map[string]float64, len(evaluation.DimensionKeys))
		for i, key := range evaluation.DimensionKeys {
			snap.Scores[key] = state.Evaluation.DimensionScores[i]
		}
	}
	return snap
}
