package transcript

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"stagechat/internal/model"
)

func TestFileStoreAppendAndList(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	turns := []model.Turn{
		{Role: model.RoleUser, Text: "你好", TS: ts},
		{Role: model.RoleAssistant, Text: "你好呀", TS: ts.Add(time.Second)},
		{Role: model.RoleUser, Text: "今天天气不错", TS: ts.Add(2 * time.Second)},
	}
	for _, turn := range turns {
		if err := store.Append(ctx, "sess-1", turn); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := store.List(ctx, "sess-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i := range turns {
		if got[i].Role != turns[i].Role || got[i].Text != turns[i].Text {
			t.Errorf("turn %d = %+v, want %+v", i, got[i], turns[i])
		}
	}
}

func TestFileStoreSystemRecordsAreNotTurns(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	if err := store.AppendSystem(ctx, "sess-1", "人设文本", "test-model", false); err != nil {
		t.Fatalf("AppendSystem: %v", err)
	}
	if err := store.Append(ctx, "sess-1", model.Turn{Role: model.RoleUser, Text: "hi"}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := store.List(ctx, "sess-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len = %d, want 1 (system record excluded)", len(got))
	}
	if RoundCount(got) != 0 {
		t.Errorf("RoundCount = %d, want 0", RoundCount(got))
	}
}

func TestFileStoreSkipsCorruptLines(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	if err := store.Append(ctx, "sess-1", model.Turn{Role: model.RoleUser, Text: "first"}); err != nil {
		t.Fatal(err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "sess-1.jsonl"), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("{not valid json\n")
	f.Close()
	if err := store.Append(ctx, "sess-1", model.Turn{Role: model.RoleAssistant, Text: "second"}); err != nil {
		t.Fatal(err)
	}

	got, err := store.List(ctx, "sess-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len = %d, want 2 (corrupt line skipped)", len(got))
	}
}

func TestFileStoreListMissingFile(t *testing.T) {
	store := NewFileStore(t.TempDir())
	got, err := store.List(context.Background(), "nope")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}

func TestFileStoreDelete(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	ctx := context.Background()

	if err := store.Append(ctx, "sess-1", model.Turn{Role: model.RoleUser, Text: "hi"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sess-1.jsonl")); !os.IsNotExist(err) {
		t.Error("transcript file should be gone")
	}
	// 重复删除不报错。
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestRoundCount(t *testing.T) {
	turns := []model.Turn{
		{Role: model.RoleUser}, {Role: model.RoleAssistant},
		{Role: model.RoleUser}, {Role: model.RoleAssistant},
		{Role: model.RoleUser},
	}
	if got := RoundCount(turns); got != 2 {
		t.Errorf("RoundCount = %d, want 2", got)
	}
	if got := RoundCount(nil); got != 0 {
		t.Errorf("RoundCount(nil) = %d, want 0", got)
	}
}

func TestLastNRounds(t *testing.T) {
	var turns []model.Turn
	for i := 0; i < 7; i++ {
		turns = append(turns, model.Turn{Role: model.RoleUser, Text: "u"})
		turns = append(turns, model.Turn{Role: model.RoleAssistant, Text: "a"})
	}
	if got := LastNRounds(turns, 5); len(got) != 10 {
		t.Errorf("len = %d, want 10", len(got))
	}
	if got := LastNRounds(turns[:4], 5); len(got) != 4 {
		t.Errorf("short transcript: len = %d, want all 4", len(got))
	}
}

func TestRenderDialogue(t *testing.T) {
	got := RenderDialogue([]model.Turn{
		{Role: model.RoleUser, Text: "你好"},
		{Role: model.RoleAssistant, Text: "你好呀"},
	})
	if !strings.Contains(got, "用户: 你好") || !strings.Contains(got, "角色: 你好呀") {
		t.Errorf("dialogue = %q", got)
	}
	if RenderDialogue(nil) != "（暂无对话）" {
		t.Errorf("empty dialogue = %q", RenderDialogue(nil))
	}
}
