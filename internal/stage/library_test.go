package stage

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestLibrary(t *testing.T) (*Library, string) {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"小岚.txt":   samplePersona,
		"阿澈.txt":   "你是阿澈。",
		"notes.md": "不是角色文件",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return NewLibrary(dir, filepath.Join(dir, "小岚.txt")), dir
}

func TestLibraryList(t *testing.T) {
	lib, _ := newTestLibrary(t)
	files, err := lib.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %+v, want 2 (.md excluded)", files)
	}
	for _, f := range files {
		if f.Name+".txt" != f.ID {
			t.Errorf("entry = %+v", f)
		}
	}
}

func TestLibraryListMissingDir(t *testing.T) {
	lib := NewLibrary(filepath.Join(t.TempDir(), "nope"), "")
	files, err := lib.List()
	if err != nil || files != nil {
		t.Errorf("List = (%v, %v), want empty without error", files, err)
	}
}

func TestLibraryLoad(t *testing.T) {
	lib, _ := newTestLibrary(t)
	doc, err := lib.Load("小岚.txt")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if doc.Stage2 == "" || doc.Stage3 == "" {
		t.Errorf("doc = %+v, want all tiers parsed", doc)
	}

	// 空文件名回退默认人设。
	doc, err = lib.Load("")
	if err != nil {
		t.Fatalf("Load default: %v", err)
	}
	if doc.Stage1 == "" {
		t.Error("default persona must load")
	}
}

func TestLibraryLoadRejectsTraversal(t *testing.T) {
	lib, _ := newTestLibrary(t)
	for _, name := range []string{"../etc/passwd.txt", "a/b.txt", "..\\x.txt", "nodottxt"} {
		if _, err := lib.Load(name); err == nil {
			t.Errorf("Load(%q) succeeded, want rejection", name)
		}
	}
}

func TestLibraryExists(t *testing.T) {
	lib, _ := newTestLibrary(t)
	if !lib.Exists("小岚.txt") {
		t.Error("existing file reported missing")
	}
	if lib.Exists("幽灵.txt") || lib.Exists("../小岚.txt") {
		t.Error("missing or invalid file reported present")
	}
}

func TestCharacterImage(t *testing.T) {
	lib, dir := newTestLibrary(t)
	if err := os.WriteFile(filepath.Join(dir, "小岚.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}

	path, mime, ok := lib.CharacterImage("小岚")
	if !ok || mime != "image/png" || filepath.Base(path) != "小岚.png" {
		t.Errorf("got (%q, %q, %v)", path, mime, ok)
	}
	if _, _, ok := lib.CharacterImage("阿澈"); ok {
		t.Error("character without portrait must report absent")
	}
	if _, _, ok := lib.CharacterImage("../escape"); ok {
		t.Error("traversal basename must be rejected")
	}
}

func TestCharacterName(t *testing.T) {
	if got := CharacterName("小岚.txt"); got != "小岚" {
		t.Errorf("got %q", got)
	}
	if got := CharacterName(""); got != "角色" {
		t.Errorf("fallback = %q", got)
	}
}
