// Package illustrator 实现“按当前对话氛围配图”的副任务：
// 每 N 条角色回复，用最近三轮对话微调风格提示词生成一张展示图。
// 它是外围协作者：失败只回退展示图来源，绝不触碰评估状态机。
package illustrator

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"stagechat/internal/logger"
	"stagechat/internal/model"
	"stagechat/internal/session"
	"stagechat/internal/stage"
	"stagechat/internal/transcript"
)

// ImageClient 是配图所需的远端模型能力。
type ImageClient interface {
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
	DescribeImage(ctx context.Context, systemPrompt, question, imageDataURL string) (string, error)
}

const (
	// sfwPrefix 强制生成图保持 SFW，独立于聊天侧的内容开关。
	sfwPrefix = "SFW only. Safe for work. No nudity, no explicit sexual content. Keep the image tasteful and suitable for all audiences. "

	describeSystemPrompt = "You are an expert at describing a person's appearance so another AI can draw the same person. " +
		"Output only a concise description in English: face shape, eyes, hair color and style, skin tone, " +
		"body type, distinctive features. No preamble, no scene description."
	describeQuestion = "Describe this person's appearance in detail so that another AI can draw the exact same character in a different scene."
)

// DisplayImagePath 返回会话生成图的存放路径。
func DisplayImagePath(logDir, sessionID string) string {
	return filepath.Join(logDir, sessionID+"_display.png")
}

// Illustrator 持有配图副任务的依赖与参数。
type Illustrator struct {
	sessions      session.Store
	transcripts   transcript.Store
	library       *stage.Library
	log           *logger.Logger
	logDir        string
	stylePrompt   string
	everyNReplies int
}

func New(sessions session.Store, transcripts transcript.Store, library *stage.Library,
	log *logger.Logger, logDir, stylePrompt string, everyNReplies int) *Illustrator {
	if everyNReplies <= 0 {
		everyNReplies = 3
	}
	return &Illustrator{
		sessions:      sessions,
		transcripts:   transcripts,
		library:       library,
		log:           log,
		logDir:        logDir,
		stylePrompt:   stylePrompt,
		everyNReplies: everyNReplies,
	}
}

// Trigger 报告第 replyCount 条角色回复是否触发配图。
func (i *Illustrator) Trigger(replyCount int) bool {
	return replyCount >= i.everyNReplies && replyCount%i.everyNReplies == 0
}

// Illustrate 根据最近三轮对话生成展示图并落盘，成功返回 true。
// 任何一步失败都把展示图回退为角色原图并返回 false，不向上传播错误。
func (i *Illustrator) Illustrate(ctx context.Context, client ImageClient, sessionID string) bool {
	if err := i.illustrate(ctx, client, sessionID); err != nil {
		i.log.Warn("illustration failed", "session_id", sessionID, "error", err)
		i.fallbackToPrompt(ctx, sessionID)
		return false
	}
	return true
}

func (i *Illustrator) illustrate(ctx context.Context, client ImageClient, sessionID string) error {
	turns, err := i.transcripts.List(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list transcript: %w", err)
	}
	recent := transcript.LastNRounds(turns, 3)
	if len(recent) < 6 {
		return fmt.Errorf("not enough dialogue for illustration")
	}
	conversation := renderForPrompt(recent)
	if conversation == "" {
		return fmt.Errorf("empty dialogue window")
	}

	state, err := i.sessions.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	// 角色立绘存在时先做一次外貌描述，让生成图保持同一人。
	personDesc := i.describeCharacter(ctx, client, state)

	var sb strings.Builder
	sb.WriteString(sfwPrefix)
	if personDesc != "" {
		sb.WriteString("The character in the image MUST look exactly like this person (same face, hair, body): ")
		sb.WriteString(personDesc)
		sb.WriteString(".\n\n")
	}
	sb.WriteString(i.stylePrompt)
	sb.WriteString("\n\nAdapt the mood or small details (expression, pose nuance) based on this conversation, keep the style above: ")
	sb.WriteString(conversation)

	img, err := client.GenerateImage(ctx, sb.String())
	if err != nil {
		return fmt.Errorf("generate image: %w", err)
	}
	if len(img) < 100 {
		return fmt.Errorf("image too small (%d bytes)", len(img))
	}

	if err := os.MkdirAll(i.logDir, 0o755); err != nil {
		return fmt.Errorf("mkdir log dir: %w", err)
	}
	if err := os.WriteFile(DisplayImagePath(i.logDir, sessionID), img, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}

	state.DisplayImage = "generated"
	if err := i.sessions.Save(ctx, state); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// describeCharacter 尝试用角色立绘生成外貌描述；没有立绘或失败返回空串。
func (i *Illustrator) describeCharacter(ctx context.Context, client ImageClient, state *model.SessionState) string {
	if state.PromptFile == "" {
		return ""
	}
	path, mime, ok := i.library.CharacterImage(stage.CharacterName(state.PromptFile))
	if !ok {
		return ""
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	dataURL := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(raw)
	desc, err := client.DescribeImage(ctx, describeSystemPrompt, describeQuestion, dataURL)
	if err != nil {
		i.log.Warn("describe character failed", "session_id", state.SessionID, "error", err)
		return ""
	}
	desc = strings.TrimSpace(desc)
	if len(desc) <= 20 {
		return ""
	}
	return desc
}

func (i *Illustrator) fallbackToPrompt(ctx context.Context, sessionID string) {
	state, err := i.sessions.Get(ctx, sessionID)
	if err != nil {
		return
	}
	state.DisplayImage = "prompt"
	if err := i.sessions.Save(ctx, state); err != nil {
		i.log.Warn("fallback display image save failed", "session_id", sessionID, "error", err)
	}
}

// renderForPrompt 把轮次压成生成图用的短台本，每条消息截到 200 字符。
func renderForPrompt(turns []model.Turn) string {
	var lines []string
	for _, t := range turns {
		text := strings.TrimSpace(t.Text)
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) > 200 {
			text = string(runes[:200])
		}
		who := "角色"
		if t.Role == model.RoleUser {
			who = "用户"
		}
		lines = append(lines, who+": "+text)
	}
	return strings.Join(lines, "\n")
}
