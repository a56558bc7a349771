package stage

import (
	"strings"
	"testing"
)

const samplePersona = `你是小岚，一个安静的图书管理员。

--- 阶段2 ---
你是小岚，开始对用户敞开心扉。

--- 阶段3 ---
你是小岚，与用户已是恋人。`

func TestParseStagedFullDocument(t *testing.T) {
	doc := ParseStaged(samplePersona)
	if !strings.Contains(doc.Stage1, "图书管理员") {
		t.Errorf("stage1 = %q", doc.Stage1)
	}
	if !strings.Contains(doc.Stage2, "敞开心扉") {
		t.Errorf("stage2 = %q", doc.Stage2)
	}
	if !strings.Contains(doc.Stage3, "恋人") {
		t.Errorf("stage3 = %q", doc.Stage3)
	}
}

func TestParseStagedWithoutDelimiters(t *testing.T) {
	doc := ParseStaged("整篇都是阶段1。")
	if doc.Stage1 != "整篇都是阶段1。" {
		t.Errorf("stage1 = %q", doc.Stage1)
	}
	if doc.Stage2 != "" || doc.Stage3 != "" {
		t.Error("stage2/stage3 should be empty without delimiters")
	}
}

func TestParseStagedTwoTiersOnly(t *testing.T) {
	doc := ParseStaged("第一档\n--- 阶段2 ---\n第二档")
	if doc.Stage1 != "第一档" || doc.Stage2 != "第二档" {
		t.Errorf("got %+v", doc)
	}
	if doc.Stage3 != "" {
		t.Errorf("stage3 = %q, want empty", doc.Stage3)
	}
}

func TestTierFallback(t *testing.T) {
	doc := PersonaDocument{Stage1: "base"}
	for _, stage := range []int{1, 2, 3} {
		if got := doc.Tier(stage); got != "base" {
			t.Errorf("Tier(%d) = %q, want fallback to stage1", stage, got)
		}
	}

	full := ParseStaged(samplePersona)
	if full.Tier(2) != full.Stage2 {
		t.Error("Tier(2) should return stage2 text when present")
	}
	if full.Tier(3) != full.Stage3 {
		t.Error("Tier(3) should return stage3 text when present")
	}
}

func TestPreamble(t *testing.T) {
	doc := ParseStaged(samplePersona)

	p1 := Preamble(1.5, 1, doc)
	if !strings.Contains(p1, "S=1.5") || !strings.Contains(p1, "阶段1") {
		t.Errorf("stage1 preamble = %q", p1)
	}
	if strings.Contains(p1, doc.Stage2) {
		t.Error("stage1 preamble must not inline tier text")
	}

	p2 := Preamble(4.25, 2, doc)
	if !strings.Contains(p2, "S=4.2") || !strings.Contains(p2, "阶段2") {
		t.Errorf("stage2 preamble = %q", p2)
	}
	if !strings.Contains(p2, doc.Stage2) {
		t.Error("stage2 preamble must inline the stage2 persona")
	}

	p3 := Preamble(7, 3, doc)
	if !strings.Contains(p3, doc.Stage3) {
		t.Error("stage3 preamble must inline the stage3 persona")
	}
}

func TestPreambleMissingTierDisclosesScoreOnly(t *testing.T) {
	doc := PersonaDocument{Stage1: "base"}
	p := Preamble(6.5, 3, doc)
	if !strings.Contains(p, "S=6.5") {
		t.Errorf("preamble = %q", p)
	}
	if strings.Contains(p, "阶段3") {
		t.Errorf("missing tier should fall back to score-only disclosure, got %q", p)
	}
}

func TestNeedSFWOverride(t *testing.T) {
	cases := []struct {
		dims [4]float64
		want bool
	}{
		{[4]float64{0, 0, 0, 0}, true}, // 新会话初始分也触发
		{[4]float64{6.9, 10, 10, 10}, true},
		{[4]float64{7, 0, 0, 0}, false}, // 只看首列维度
		{[4]float64{10, 10, 10, 10}, false},
	}
	for _, c := range cases {
		if got := NeedSFWOverride(c.dims); got != c.want {
			t.Errorf("NeedSFWOverride(%v) = %v, want %v", c.dims, got, c.want)
		}
	}
}
