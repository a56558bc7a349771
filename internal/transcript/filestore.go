package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"stagechat/internal/model"
)

// record 是 JSONL 里的一行。type=message 的行构成转写；
// type=system 的行只做审计，List 时跳过。
type record struct {
	Type       string    `json:"type"`
	Role       string    `json:"role,omitempty"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	Model      string    `json:"model,omitempty"`
	SessionID  string    `json:"session_id,omitempty"`
	Resumed    bool      `json:"resumed,omitempty"`
	ResponseID string    `json:"response_id,omitempty"`
}

// FileStore 把每个会话的转写存成 <dir>/<session_id>.jsonl，一行一条 JSON。
type FileStore struct {
	dir string
	now func() time.Time
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir, now: time.Now}
}

func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".jsonl")
}

// Append 追加一条消息轮次。O_APPEND 写入单行，落盘即可见。
func (s *FileStore) Append(_ context.Context, sessionID string, turn model.Turn) error {
	ts := turn.TS
	if ts.IsZero() {
		ts = s.now()
	}
	return s.appendRecord(sessionID, record{
		Type:      "message",
		Role:      turn.Role,
		Content:   turn.Text,
		Timestamp: ts,
	})
}

// AppendSystem 写入 system 头记录，标记会话创建或续接。
func (s *FileStore) AppendSystem(_ context.Context, sessionID, content, modelName string, resumed bool) error {
	return s.appendRecord(sessionID, record{
		Type:      "system",
		Content:   content,
		Timestamp: s.now(),
		Model:     modelName,
		SessionID: sessionID,
		Resumed:   resumed,
	})
}

func (s *FileStore) appendRecord(sessionID string, rec record) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir log dir: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	f, err := os.OpenFile(s.path(sessionID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return f.Sync()
}

// List 读取全部消息轮次。文件不存在视为空转写；
// 坏行跳过而不是报错，保持与只追加日志的宽容读取约定一致。
func (s *FileStore) List(_ context.Context, sessionID string) ([]model.Turn, error) {
	f, err := os.Open(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var turns []model.Turn
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Type != "message" || rec.Role == "" {
			continue
		}
		role := model.RoleAssistant
		if rec.Role == model.RoleUser {
			role = model.RoleUser
		}
		turns = append(turns, model.Turn{Role: role, Text: rec.Content, TS: rec.Timestamp})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	return turns, nil
}

// Delete 删除该会话的转写文件；文件本就不存在不算错误。
func (s *FileStore) Delete(_ context.Context, sessionID string) error {
	err := os.Remove(s.path(sessionID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove transcript: %w", err)
	}
	return nil
}
