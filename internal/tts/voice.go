package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"stagechat/internal/logger"
)

// Options 配置实时语音客户端；零值字段用默认。
type Options struct {
	URL        string
	Voice      string
	SampleRate int
	Timeout    time.Duration
}

// Client 通过 WebSocket 调 xAI 实时语音接口做一次性文本合成。
// 每次合成建一条连接，说完即关，不维持长会话。
type Client struct {
	opts Options
	log  *logger.Logger
}

func NewClient(opts Options, log *logger.Logger) *Client {
	if opts.URL == "" {
		opts.URL = "wss://api.x.ai/v1/realtime"
	}
	if opts.Voice == "" {
		opts.Voice = "Ara"
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = 24000
	}
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}
	return &Client{opts: opts, log: log}
}

// event 是实时接口事件信封的最小解码形态，只取用得到的字段。
type event struct {
	Type  string `json:"type"`
	Delta string `json:"delta,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Synthesize 合成一段语音，返回 WAV 字节。
// 流程：session.update（设定音色、关掉轮次检测）→ 等 session.updated →
// conversation.item.create（文本）→ response.create → 聚合
// response.output_audio.delta 直到 done。
func (c *Client) Synthesize(ctx context.Context, apiKey, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text")
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, c.opts.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial realtime: status=%d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial realtime: %w", err)
	}
	defer conn.Close()

	deadline, ok := ctx.Deadline()
	if ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}

	sessionUpdate := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"voice":          c.opts.Voice,
			"instructions":   "You are a text-to-speech engine. Read the user's text aloud verbatim, naturally and expressively. Do not add, change or respond to anything.",
			"turn_detection": nil,
		},
	}
	if err := conn.WriteJSON(sessionUpdate); err != nil {
		return nil, fmt.Errorf("send session.update: %w", err)
	}
	if err := c.waitFor(conn, "session.updated"); err != nil {
		return nil, err
	}

	itemCreate := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
	if err := conn.WriteJSON(itemCreate); err != nil {
		return nil, fmt.Errorf("send conversation.item.create: %w", err)
	}
	if err := conn.WriteJSON(map[string]any{"type": "response.create"}); err != nil {
		return nil, fmt.Errorf("send response.create: %w", err)
	}

	var pcm []byte
	for {
		var ev event
		if err := conn.ReadJSON(&ev); err != nil {
			return nil, fmt.Errorf("read realtime event: %w", err)
		}
		switch ev.Type {
		case "response.output_audio.delta", "response.audio.delta":
			chunk, err := base64.StdEncoding.DecodeString(ev.Delta)
			if err != nil {
				return nil, fmt.Errorf("decode audio delta: %w", err)
			}
			pcm = append(pcm, chunk...)
		case "response.output_audio.done", "response.audio.done", "response.done":
			if len(pcm) == 0 {
				return nil, fmt.Errorf("no audio in response")
			}
			return PCMToWAV(pcm, c.opts.SampleRate), nil
		case "error":
			msg := "unknown error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return nil, fmt.Errorf("realtime error: %s", msg)
		default:
			// session.created、response.created 等中间事件直接跳过。
		}
	}
}

// waitFor 丢弃事件直到遇到期望类型；遇到 error 事件立即失败。
func (c *Client) waitFor(conn *websocket.Conn, eventType string) error {
	for {
		var ev event
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("wait for %s: %w", eventType, err)
		}
		switch ev.Type {
		case eventType:
			return nil
		case "error":
			msg := "unknown error"
			if ev.Error != nil {
				msg = ev.Error.Message
			}
			return fmt.Errorf("realtime error while waiting for %s: %s", eventType, msg)
		}
	}
}
