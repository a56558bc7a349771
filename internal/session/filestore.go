package session

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"stagechat/internal/model"
)

const (
	stateSuffix     = ".state.json"
	lastSessionFile = "last_session.txt"
)

// FileStore 把每个会话状态存成 <dir>/<session_id>.state.json。
// 写入走 临时文件 + rename，保证单条记录的原子替换。
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+stateSuffix)
}

func (s *FileStore) Get(_ context.Context, id string) (*model.SessionState, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var state model.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	return &state, nil
}

func (s *FileStore) Save(_ context.Context, state *model.SessionState) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp, err := os.CreateTemp(s.dir, state.SessionID+".state.*")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Rename(tmpName, s.path(state.SessionID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("remove state: %w", err)
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]model.SessionSummary, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state dir: %w", err)
	}
	var out []model.SessionSummary
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, stateSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, stateSuffix)
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		var state model.SessionState
		if err := json.Unmarshal(data, &state); err != nil {
			continue
		}
		out = append(out, model.SessionSummary{
			SessionID:  id,
			Name:       state.Name,
			PromptFile: state.PromptFile,
			UpdatedAt:  state.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *FileStore) Current(_ context.Context) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, lastSessionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read last session: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileStore) SetCurrent(_ context.Context, id string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, lastSessionFile), []byte(id), 0o644); err != nil {
		return fmt.Errorf("write last session: %w", err)
	}
	return nil
}
