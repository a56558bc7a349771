package stage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PromptFile 是角色列表项：ID 为文件名（含 .txt），Name 为去后缀的角色名。
type PromptFile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Library 管理人设目录：角色 .txt（三阶段分隔）与同名立绘图。
type Library struct {
	dir           string
	defaultPrompt string
}

// NewLibrary 创建人设库。defaultPrompt 是未选角色时的兜底文件路径。
func NewLibrary(dir, defaultPrompt string) *Library {
	return &Library{dir: dir, defaultPrompt: defaultPrompt}
}

// List 列出目录下全部角色文件，按文件名排序。目录不存在返回空表。
func (l *Library) List() ([]PromptFile, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read prompts dir: %w", err)
	}
	var files []PromptFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".txt") {
			continue
		}
		files = append(files, PromptFile{ID: name, Name: strings.TrimSuffix(name, ".txt")})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

// Load 读取并解析指定角色文件；promptFile 为空时读默认人设。
// 文件名做路径穿越校验，拒绝任何带分隔符的输入。
func (l *Library) Load(promptFile string) (PersonaDocument, error) {
	path := l.defaultPrompt
	if promptFile != "" {
		if !ValidPromptFile(promptFile) {
			return PersonaDocument{}, fmt.Errorf("invalid prompt file %q", promptFile)
		}
		path = filepath.Join(l.dir, promptFile)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return PersonaDocument{}, fmt.Errorf("read persona: %w", err)
	}
	return ParseStaged(string(data)), nil
}

// Exists 报告角色文件是否存在于人设目录。
func (l *Library) Exists(promptFile string) bool {
	if !ValidPromptFile(promptFile) {
		return false
	}
	_, err := os.Stat(filepath.Join(l.dir, promptFile))
	return err == nil
}

// CharacterImage 按角色名（去 .txt 的文件名）找同名立绘，
// 返回路径与 MIME 类型。依次尝试 .png/.jpg/.jpeg/.gif。
func (l *Library) CharacterImage(basename string) (path, mime string, ok bool) {
	basename = strings.TrimSpace(basename)
	if basename == "" || strings.Contains(basename, "..") ||
		strings.ContainsAny(basename, `/\`) || strings.HasPrefix(basename, ".") {
		return "", "", false
	}
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif"} {
		p := filepath.Join(l.dir, basename+ext)
		if _, err := os.Stat(p); err == nil {
			switch ext {
			case ".png":
				return p, "image/png", true
			case ".gif":
				return p, "image/gif", true
			default:
				return p, "image/jpeg", true
			}
		}
	}
	return "", "", false
}

// CharacterName 把角色文件名转成显示名；空文件名返回兜底名。
func CharacterName(promptFile string) string {
	if promptFile == "" {
		return "角色"
	}
	return strings.TrimSuffix(promptFile, ".txt")
}

// ValidPromptFile 校验角色文件名：必须以 .txt 结尾且不含路径成分。
func ValidPromptFile(name string) bool {
	if name == "" || !strings.HasSuffix(name, ".txt") {
		return false
	}
	base := strings.TrimSuffix(name, ".txt")
	if base == "" || strings.Contains(base, "..") || strings.ContainsAny(base, `/\`) {
		return false
	}
	return true
}
